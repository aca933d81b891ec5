package dag

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"

	"github.com/zqzqsb/seccompiler/pkg/seccomp"
)

// MaxInstructions 是内核接受的最大指令数 (BPF_MAXINSNS)
const MaxInstructions = unix.BPF_MAXINSNS

// maxCondJump 是条件跳转的最大偏移（jt/jf 只有 8 位）
const maxCondJump = math.MaxUint8

// 代码生成的错误
var (
	ErrJumpOutOfRange  = errors.New("jump offset out of range")
	ErrProgramTooLarge = errors.New("program too large")
	ErrNotLowered      = errors.New("argument comparison was not lowered")
)

// Flatten 将 root 可达的子图展开为一段线性的 BPF 指令序列。
//
// 指令从后往前生成：一个节点总是在它的所有后继之后生成，
// 因此所有跳转都是向前的。被多个父节点引用的节点（尤其是动作节点）
// 按 Handle 去重，只生成一次。
// 条件跳转的偏移超过 255 时插入一条无条件跳转作为跳板。
func Flatten(d *DAG, root Handle) ([]bpf.Instruction, error) {
	fl := &flattener{
		dag: d,
		end: make(map[Handle]int),
	}
	if err := fl.visit(root); err != nil {
		return nil, err
	}
	if len(fl.rev) > MaxInstructions {
		return nil, fmt.Errorf("dag: %w: %d instructions, limit is %d", ErrProgramTooLarge, len(fl.rev), MaxInstructions)
	}

	prog := make([]bpf.Instruction, len(fl.rev))
	for i, ins := range fl.rev {
		prog[len(fl.rev)-1-i] = ins
	}
	return prog, nil
}

// flattener 中的位置均为距程序末尾的位置：最后一条指令的位置为 1
type flattener struct {
	dag *DAG
	rev []bpf.Instruction
	end map[Handle]int // 节点第一条指令的位置
}

func (fl *flattener) visit(h Handle) error {
	if h == NoNode {
		return errors.New("dag: dangling edge")
	}
	if _, ok := fl.end[h]; ok {
		return nil
	}

	n := fl.dag.nodes[h]
	switch n.Kind {
	case KindAction:
		fl.emit(bpf.RetConstant{Val: uint32(n.Action)})

	case KindArgCompare:
		return fmt.Errorf("dag: %w: arg%d %v %#x", ErrNotLowered, n.Arg, n.Op, n.Value)

	case KindArchGuard:
		// 架构不匹配的分支先生成，使后续的分发逻辑紧跟在校验之后
		if err := fl.visit(n.False); err != nil {
			return err
		}
		if err := fl.visit(n.True); err != nil {
			return err
		}
		if err := fl.archGuard(n); err != nil {
			return err
		}

	default:
		// 先生成为真分支，使为假分支紧跟在当前节点之后
		if err := fl.visit(n.True); err != nil {
			return err
		}
		if err := fl.visit(n.False); err != nil {
			return err
		}
		if err := fl.compare(n); err != nil {
			return err
		}
	}
	fl.end[h] = len(fl.rev)
	return nil
}

func (fl *flattener) compare(n Node) error {
	t, f := fl.end[n.True], fl.end[n.False]
	switch n.Kind {
	case KindWordCompare:
		if err := fl.jumpIf(n.Cond, n.K, t, f); err != nil {
			return err
		}
		fl.emit(bpf.LoadAbsolute{Off: n.Offset, Size: 4})
		return nil
	case KindSyscallEqual:
		// 分发节点假定累加器中已经是系统调用号
		return fl.jumpIf(bpf.JumpEqual, n.K, t, f)
	case KindSyscallRange:
		return fl.jumpIf(bpf.JumpGreaterOrEqual, n.K, t, f)
	}
	return fmt.Errorf("dag: unexpected node kind %v", n.Kind)
}

// archGuard 生成：
//
//	ld [arch]
//	jeq #ID, 0, mismatch
//	ld [nr]
//	ja next  (next 不紧随其后时)
func (fl *flattener) archGuard(n Node) error {
	next := fl.end[n.True]
	if next != len(fl.rev) {
		var err error
		if next, err = fl.trampoline(next); err != nil {
			return err
		}
	}
	fl.emit(bpf.LoadAbsolute{Off: seccomp.OffsetNr, Size: 4})
	if err := fl.jumpIf(bpf.JumpEqual, n.K, len(fl.rev), fl.end[n.False]); err != nil {
		return err
	}
	fl.emit(bpf.LoadAbsolute{Off: seccomp.OffsetArch, Size: 4})
	return nil
}

// jumpIf 生成条件跳转，t 与 f 为目标指令的位置
func (fl *flattener) jumpIf(cond bpf.JumpTest, k uint32, t, f int) error {
	for {
		p := len(fl.rev) + 1
		var err error
		switch {
		case p-t-1 > maxCondJump:
			t, err = fl.trampoline(t)
		case p-f-1 > maxCondJump:
			f, err = fl.trampoline(f)
		default:
			fl.emit(bpf.JumpIf{
				Cond:      cond,
				Val:       k,
				SkipTrue:  uint8(p - t - 1),
				SkipFalse: uint8(p - f - 1),
			})
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// trampoline 生成一条跳到 target 的无条件跳转，返回它的位置
func (fl *flattener) trampoline(target int) (int, error) {
	p := len(fl.rev) + 1
	skip := p - target - 1
	if skip < 0 || uint64(skip) > math.MaxUint32 {
		return 0, fmt.Errorf("dag: %w: %d", ErrJumpOutOfRange, skip)
	}
	fl.emit(bpf.Jump{Skip: uint32(skip)})
	return p, nil
}

func (fl *flattener) emit(ins bpf.Instruction) {
	fl.rev = append(fl.rev, ins)
}
