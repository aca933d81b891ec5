package compiler

import (
	"errors"
	"fmt"
)

// ErrInvalidStrategy 表示无法识别的优化策略
var ErrInvalidStrategy = errors.New("invalid optimization strategy")

// Strategy 是系统调用分发结构的优化策略
type Strategy int

// 优化策略
const (
	// StrategyLinear 生成按频率排序的线性比较链，适合系统调用很少的策略
	StrategyLinear Strategy = iota
	// StrategyBST 生成按频率加权的二叉搜索树，适合系统调用很多且没有明显热点的策略
	StrategyBST
)

var strategyString = []string{
	"linear",
	"bst",
}

func (s Strategy) String() string {
	i := int(s)
	if i >= 0 && i < len(strategyString) {
		return strategyString[i]
	}
	return fmt.Sprintf("Strategy(%d)", i)
}

// Valid 报告策略是否已定义
func (s Strategy) Valid() bool {
	return s >= 0 && int(s) < len(strategyString)
}

// ParseStrategy 根据显示名称解析策略
func ParseStrategy(s string) (Strategy, error) {
	for i, name := range strategyString {
		if name == s {
			return Strategy(i), nil
		}
	}
	return 0, fmt.Errorf("compiler: %w: %q", ErrInvalidStrategy, s)
}

// MarshalText 实现 encoding.TextMarshaler
func (s Strategy) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("compiler: %w: %d", ErrInvalidStrategy, int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (s *Strategy) UnmarshalText(text []byte) error {
	v, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Set 实现 flag.Value
func (s *Strategy) Set(v string) error {
	return s.UnmarshalText([]byte(v))
}
