package seccomp

import "fmt"

// Op 是系统调用参数与立即数之间的比较运算符
type Op uint8

// 比较运算符定义，所有比较均为无符号 64 位比较
const (
	OpEqual          Op = iota // arg == value
	OpNotEqual                 // arg != value
	OpLess                     // arg < value
	OpLessOrEqual              // arg <= value
	OpGreater                  // arg > value
	OpGreaterOrEqual           // arg >= value
	OpBitsSet                  // arg & value != 0
	OpIn                       // arg & ^value == 0，即参数的所有位都在掩码内
)

var opString = []string{"==", "!=", "<", "<=", ">", ">=", "&", "in"}

func (o Op) String() string {
	i := int(o)
	if i >= 0 && i < len(opString) {
		return opString[i]
	}
	return fmt.Sprintf("Op(%d)", i)
}

// ParseOp 解析运算符的文本形式
func ParseOp(s string) (Op, error) {
	for i, v := range opString {
		if v == s {
			return Op(i), nil
		}
	}
	return 0, fmt.Errorf("unknown operator %q", s)
}

// Eval 直接计算比较结果，作为编译结果的对照
func (o Op) Eval(arg, value uint64) bool {
	switch o {
	case OpEqual:
		return arg == value
	case OpNotEqual:
		return arg != value
	case OpLess:
		return arg < value
	case OpLessOrEqual:
		return arg <= value
	case OpGreater:
		return arg > value
	case OpGreaterOrEqual:
		return arg >= value
	case OpBitsSet:
		return arg&value != 0
	case OpIn:
		return arg&^value == 0
	}
	return false
}
