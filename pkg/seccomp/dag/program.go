package dag

import (
	"fmt"
	"strings"

	"golang.org/x/net/bpf"

	"github.com/zqzqsb/seccompiler/pkg/seccomp"
)

// Program 是编译完成的过滤器程序：面向某一架构、跳转全部解析完毕的指令序列
type Program struct {
	Arch         *seccomp.Arch
	Instructions []bpf.Instruction
}

// NewProgram 创建程序
func NewProgram(arch *seccomp.Arch, instructions []bpf.Instruction) *Program {
	return &Program{Arch: arch, Instructions: instructions}
}

// Len 返回指令数量
func (p *Program) Len() int {
	return len(p.Instructions)
}

// Assemble 将程序汇编为原始 BPF 指令
func (p *Program) Assemble() ([]bpf.RawInstruction, error) {
	raw, err := bpf.Assemble(p.Instructions)
	if err != nil {
		return nil, fmt.Errorf("dag: assemble: %w", err)
	}
	return raw, nil
}

// Filter 将程序转换为内核可读的 seccomp.Filter
func (p *Program) Filter() (seccomp.Filter, error) {
	raw, err := p.Assemble()
	if err != nil {
		return nil, err
	}
	return seccomp.NewFilter(raw), nil
}

// Simulate 在 BPF 虚拟机中执行程序，返回最终采取的动作
func (p *Program) Simulate(arch *seccomp.Arch, nr uint32, args ...uint64) (seccomp.Action, error) {
	return Simulate(p.Instructions, arch, nr, args...)
}

// String 返回程序的反汇编
func (p *Program) String() string {
	var b strings.Builder
	for i, ins := range p.Instructions {
		fmt.Fprintf(&b, "%04d: %v\n", i, ins)
	}
	return b.String()
}

// Simulate 以 (arch, nr, args) 构造 seccomp_data，在 x/net/bpf 虚拟机中执行 instructions。
// 32 位架构上参数按内核的零扩展规则截断为 32 位。
func Simulate(instructions []bpf.Instruction, arch *seccomp.Arch, nr uint32, args ...uint64) (seccomp.Action, error) {
	if len(args) > seccomp.MaxArgs {
		return 0, fmt.Errorf("dag: simulate: %d arguments, at most %d", len(args), seccomp.MaxArgs)
	}
	data := seccomp.Data{Nr: nr, Arch: arch.ID}
	for i, arg := range args {
		data.Args[i] = arg & arch.Mask()
	}

	vm, err := bpf.NewVM(instructions)
	if err != nil {
		return 0, fmt.Errorf("dag: simulate: %w", err)
	}
	ret, err := vm.Run(data.VMBytes())
	if err != nil {
		return 0, fmt.Errorf("dag: simulate: %w", err)
	}
	return seccomp.Action(uint32(ret)), nil
}
