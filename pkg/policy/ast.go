// Package policy 定义了 seccomp 策略的语法树，以及 YAML 格式策略文件的解析器。
//
// 编译器只依赖这里的结构化语法树（File / FilterStatement / FilterClause / Atom），
// 与策略文件的具体语法无关。
package policy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zqzqsb/seccompiler/pkg/seccomp"
)

// Syscall 标识一个系统调用
type Syscall struct {
	Name   string
	Number uint32
}

// Atom 是一个参数比较：args[ArgIndex] <Op> Value
type Atom struct {
	ArgIndex int
	Op       seccomp.Op
	Value    uint64
}

func (a Atom) String() string {
	return fmt.Sprintf("arg%d %v %#x", a.ArgIndex, a.Op, a.Value)
}

// Eval 计算比较结果
func (a Atom) Eval(args []uint64) bool {
	var arg uint64
	if a.ArgIndex < len(args) {
		arg = args[a.ArgIndex]
	}
	return a.Op.Eval(arg, a.Value)
}

// FilterClause 是一条规则：表达式为真时采取 Action
//
// Expression 是析取范式，外层为或，内层为与
type FilterClause struct {
	Expression [][]Atom
	Action     seccomp.Action
}

// Matches 报告表达式在给定参数下是否为真
func (c FilterClause) Matches(args []uint64) bool {
	for _, conjunction := range c.Expression {
		matched := true
		for _, atom := range conjunction {
			if !atom.Eval(args) {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

func (c FilterClause) String() string {
	disjunctions := make([]string, 0, len(c.Expression))
	for _, conjunction := range c.Expression {
		atoms := make([]string, 0, len(conjunction))
		for _, atom := range conjunction {
			atoms = append(atoms, atom.String())
		}
		disjunctions = append(disjunctions, strings.Join(atoms, " && "))
	}
	return fmt.Sprintf("%s -> %v", strings.Join(disjunctions, " || "), c.Action)
}

// FilterStatement 是一个系统调用的全部规则
//
// Filters 非空，最后一条规则的动作是兜底动作，它的表达式不参与求值
type FilterStatement struct {
	Syscall   Syscall
	Frequency uint64
	Filters   []FilterClause
}

var (
	// ErrNoFilters 表示语句没有任何规则，连兜底动作都没有
	ErrNoFilters = errors.New("statement has no filters")
	// ErrAllowFallback 表示兜底动作为 ALLOW 的语句前面还有非 ALLOW 的规则。
	// 兜底为 ALLOW 的语句编译为无条件允许，这些规则会被丢掉。
	ErrAllowFallback = errors.New("allow fallback after a non-allow rule")
)

// Validate 检查语句能否被编译
func (s *FilterStatement) Validate() error {
	if len(s.Filters) == 0 {
		return fmt.Errorf("%s: %w", s.Syscall.Name, ErrNoFilters)
	}
	if s.Fallback() != seccomp.ActionAllow {
		return nil
	}
	for i, clause := range s.Filters[:len(s.Filters)-1] {
		if clause.Action != seccomp.ActionAllow {
			return fmt.Errorf("%s: rule %d (%v): %w", s.Syscall.Name, i, clause.Action, ErrAllowFallback)
		}
	}
	return nil
}

// Fallback 返回兜底动作，即最后一条规则的动作。
// 没有规则的语句无效，此时返回 KILL_PROCESS。
func (s *FilterStatement) Fallback() seccomp.Action {
	if len(s.Filters) == 0 {
		return seccomp.ActionKillProcess
	}
	return s.Filters[len(s.Filters)-1].Action
}

// Evaluate 按声明顺序直接求值各条规则，返回采取的动作
func (s *FilterStatement) Evaluate(args ...uint64) seccomp.Action {
	if len(s.Filters) == 0 {
		return s.Fallback()
	}
	for _, clause := range s.Filters[:len(s.Filters)-1] {
		if clause.Matches(args) {
			return clause.Action
		}
	}
	return s.Fallback()
}

// File 是解析完成的策略
type File struct {
	FilterStatements []FilterStatement
	DefaultAction    seccomp.Action
	Arch             *seccomp.Arch
}

// Evaluate 直接求值策略，得到系统调用 nr 以 args 调用时应采取的动作。
// 它不经过编译，用作编译结果的对照。
func Evaluate(f *File, nr uint32, args ...uint64) seccomp.Action {
	masked := make([]uint64, len(args))
	for i, arg := range args {
		masked[i] = arg
		if f.Arch != nil {
			masked[i] &= f.Arch.Mask()
		}
	}
	for i := range f.FilterStatements {
		stmt := &f.FilterStatements[i]
		if stmt.Syscall.Number == nr {
			return stmt.Evaluate(masked...)
		}
	}
	return f.DefaultAction
}
