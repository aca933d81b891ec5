package dag

import (
	"errors"
	"fmt"

	"golang.org/x/net/bpf"

	"github.com/zqzqsb/seccompiler/pkg/seccomp"
)

// ErrArgumentIndex 表示参数下标超出 0..5
var ErrArgumentIndex = errors.New("argument index out of range")

// Lower 将 root 可达的所有 ArgCompare 节点改写为 WordCompare 节点，返回新的根。
//
// BPF 只能比较 32 位的累加器，而系统调用参数是 64 位的，
// 因此每个 64 位比较被拆成对高、低 32 位字的比较，
// 对任意 64 位输入都与原比较结果完全一致。
// 32 位架构上参数的高 32 位恒为 0，高位比较在编译期直接求值。
func Lower(d *DAG, arch *seccomp.Arch, root Handle) (Handle, error) {
	l := &lowering{
		dag:  d,
		arch: arch,
		memo: make(map[Handle]Handle),
	}
	return l.lower(root)
}

type lowering struct {
	dag  *DAG
	arch *seccomp.Arch
	memo map[Handle]Handle
}

func (l *lowering) lower(h Handle) (Handle, error) {
	if h == NoNode {
		return NoNode, nil
	}
	if r, ok := l.memo[h]; ok {
		return r, nil
	}
	n := l.dag.nodes[h]
	if n.Kind == KindAction {
		l.memo[h] = h
		return h, nil
	}

	t, err := l.lower(n.True)
	if err != nil {
		return NoNode, err
	}
	f, err := l.lower(n.False)
	if err != nil {
		return NoNode, err
	}

	var r Handle
	switch n.Kind {
	case KindArgCompare:
		if r, err = l.compare(n, t, f); err != nil {
			return NoNode, err
		}
	default:
		r = h
		if t != n.True || f != n.False {
			n.True, n.False = t, f
			r = l.dag.add(n)
		}
	}
	l.memo[h] = r
	return r, nil
}

func (l *lowering) compare(n Node, t, f Handle) (Handle, error) {
	if n.Arg < 0 || n.Arg >= seccomp.MaxArgs {
		return NoNode, fmt.Errorf("dag: %w: arg%d", ErrArgumentIndex, n.Arg)
	}
	c := wideCompare{l: l, arg: n.Arg, lo: uint32(n.Value), hi: uint32(n.Value >> 32)}

	switch n.Op {
	case seccomp.OpEqual:
		return c.equal(t, f), nil
	case seccomp.OpNotEqual:
		return c.equal(f, t), nil
	case seccomp.OpGreater:
		return c.greater(bpf.JumpGreaterThan, t, f), nil
	case seccomp.OpGreaterOrEqual:
		return c.greater(bpf.JumpGreaterOrEqual, t, f), nil
	case seccomp.OpLess:
		// a < v 等价于 !(a >= v)
		return c.greater(bpf.JumpGreaterOrEqual, f, t), nil
	case seccomp.OpLessOrEqual:
		return c.greater(bpf.JumpGreaterThan, f, t), nil
	case seccomp.OpBitsSet:
		return c.bitsSet(t, f), nil
	case seccomp.OpIn:
		return c.in(t, f), nil
	}
	return NoNode, fmt.Errorf("dag: unsupported operator %v", n.Op)
}

// wideCompare 生成一个 64 位比较对应的 32 位字比较
type wideCompare struct {
	l      *lowering
	arg    int
	lo, hi uint32
}

// word 创建一个字比较节点；32 位架构上的高位字恒为 0，直接求值
func (c wideCompare) word(high bool, cond bpf.JumpTest, k uint32, t, f Handle) Handle {
	if t == f {
		return t
	}
	if high && c.l.arch.Bits == 32 {
		if evalCond(cond, 0, k) {
			return t
		}
		return f
	}
	offset := seccomp.ArgLow(c.arg)
	if high {
		offset = seccomp.ArgHigh(c.arg)
	}
	return c.l.dag.WordCompare(offset, cond, k, t, f)
}

func (c wideCompare) equal(t, f Handle) Handle {
	lo := c.word(false, bpf.JumpEqual, c.lo, t, f)
	return c.word(true, bpf.JumpEqual, c.hi, lo, f)
}

// greater 处理 > 与 >=：高位大于则成立，高位相等时比较低位
func (c wideCompare) greater(cond bpf.JumpTest, t, f Handle) Handle {
	lo := c.word(false, cond, c.lo, t, f)
	eq := c.word(true, bpf.JumpEqual, c.hi, lo, f)
	return c.word(true, bpf.JumpGreaterThan, c.hi, t, eq)
}

func (c wideCompare) bitsSet(t, f Handle) Handle {
	next := f
	if c.lo != 0 {
		next = c.word(false, bpf.JumpBitsSet, c.lo, t, next)
	}
	if c.hi != 0 {
		next = c.word(true, bpf.JumpBitsSet, c.hi, t, next)
	}
	return next
}

// in 检查参数没有掩码之外的位
func (c wideCompare) in(t, f Handle) Handle {
	lo, hi := ^c.lo, ^c.hi
	next := t
	if lo != 0 {
		next = c.word(false, bpf.JumpBitsSet, lo, f, next)
	}
	if hi != 0 {
		next = c.word(true, bpf.JumpBitsSet, hi, f, next)
	}
	return next
}

func evalCond(cond bpf.JumpTest, a, k uint32) bool {
	switch cond {
	case bpf.JumpEqual:
		return a == k
	case bpf.JumpNotEqual:
		return a != k
	case bpf.JumpGreaterThan:
		return a > k
	case bpf.JumpGreaterOrEqual:
		return a >= k
	case bpf.JumpLessThan:
		return a < k
	case bpf.JumpLessOrEqual:
		return a <= k
	case bpf.JumpBitsSet:
		return a&k != 0
	case bpf.JumpBitsNotSet:
		return a&k == 0
	}
	return false
}
