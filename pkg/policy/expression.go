package policy

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/zqzqsb/seccompiler/pkg/seccomp"
)

// ErrInvalidExpression 表示无法解析的参数表达式
var ErrInvalidExpression = errors.New("invalid expression")

// parseConjunction 解析形如 "arg0 == 1 && arg1 & 0x4" 的合取式
func parseConjunction(s string, arch *seccomp.Arch) ([]Atom, error) {
	parts := strings.Split(s, "&&")
	atoms := make([]Atom, 0, len(parts))
	for _, part := range parts {
		atom, err := parseAtom(strings.TrimSpace(part), arch)
		if err != nil {
			return nil, err
		}
		atoms = append(atoms, atom)
	}
	return atoms, nil
}

// parseAtom 解析 "argN OP VALUE"，VALUE 可以用 | 连接多个值
func parseAtom(s string, arch *seccomp.Arch) (Atom, error) {
	fields := strings.Fields(s)
	if len(fields) < 3 {
		return Atom{}, fmt.Errorf("%w: %q", ErrInvalidExpression, s)
	}

	index, ok := strings.CutPrefix(fields[0], "arg")
	if !ok {
		return Atom{}, fmt.Errorf("%w: %q: expected argN", ErrInvalidExpression, s)
	}
	n, err := strconv.Atoi(index)
	if err != nil || n < 0 || n >= seccomp.MaxArgs {
		return Atom{}, fmt.Errorf("%w: %q: argument index out of range", ErrInvalidExpression, s)
	}

	op, err := seccomp.ParseOp(fields[1])
	if err != nil {
		return Atom{}, fmt.Errorf("%w: %q: %v", ErrInvalidExpression, s, err)
	}

	var value uint64
	for _, v := range strings.Split(strings.Join(fields[2:], ""), "|") {
		x, err := parseValue(v, arch)
		if err != nil {
			return Atom{}, fmt.Errorf("%w: %q: %v", ErrInvalidExpression, s, err)
		}
		value |= x
	}
	return Atom{ArgIndex: n, Op: op, Value: value}, nil
}

// parseValue 解析十进制、十六进制、八进制或负数，负数按补码截断到架构位宽
func parseValue(s string, arch *seccomp.Arch) (uint64, error) {
	if s == "" {
		return 0, errors.New("empty value")
	}
	mask := arch.Mask()
	if strings.HasPrefix(s, "-") {
		v, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			return 0, err
		}
		if arch.Bits == 32 && v < -(1<<31) {
			return 0, fmt.Errorf("value %s out of range for %v", s, arch)
		}
		return uint64(v) & mask, nil
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, err
	}
	if v&^mask != 0 {
		return 0, fmt.Errorf("value %s out of range for %v", s, arch)
	}
	return v, nil
}
