// Package libseccomp 基于 go-seccomp-bpf 构建只按系统调用名称过滤的简单过滤器。
//
// 它不支持参数过滤，也只能面向当前系统架构，
// 主要用作编译器的独立参照：两者对同一个无条件策略的结果应当一致。
package libseccomp

import (
	"errors"
	"fmt"

	libseccomp "github.com/elastic/go-seccomp-bpf"
	"golang.org/x/net/bpf"

	"github.com/zqzqsb/seccompiler/pkg/policy"
	"github.com/zqzqsb/seccompiler/pkg/seccomp"
)

var (
	// ErrConditional 表示策略中含有参数过滤，无法用 Builder 表示
	ErrConditional = errors.New("policy has argument filters")
	// ErrNoGroups 表示没有任何系统调用，go-seccomp-bpf 不接受空策略
	ErrNoGroups = errors.New("no syscall groups")
	// ErrMultipleGroups 表示有多个非空的组。
	// go-seccomp-bpf 在每个组的末尾都返回默认动作，第一个组之后的组永远不会被执行。
	ErrMultipleGroups = errors.New("more than one syscall group")
)

// Group 是采取同一动作的一组系统调用
type Group struct {
	Action seccomp.Action
	Names  []string
}

// Builder 用于构建 seccomp 过滤器
// 采用 Builder 模式，提供简单的接口来创建按名称过滤的规则
type Builder struct {
	Groups  []Group        // 按顺序排列的系统调用组
	Default seccomp.Action // 默认动作（当系统调用不在上述组中时）
}

// FromPolicy 将只包含无条件语句的策略转换为 Builder
//
// 同一动作的系统调用按首次出现的顺序合并为一组。
// 结果有多个组时不能直接 Build，需要先用 Split 拆成单组的 Builder。
func FromPolicy(f *policy.File) (*Builder, error) {
	b := &Builder{Default: f.DefaultAction}
	index := make(map[seccomp.Action]int)
	for _, stmt := range f.FilterStatements {
		if len(stmt.Filters) != 1 {
			return nil, fmt.Errorf("libseccomp: %s: %w", stmt.Syscall.Name, ErrConditional)
		}
		action := stmt.Fallback()
		i, ok := index[action]
		if !ok {
			i = len(b.Groups)
			index[action] = i
			b.Groups = append(b.Groups, Group{Action: action})
		}
		b.Groups[i].Names = append(b.Groups[i].Names, stmt.Syscall.Name)
	}
	return b, nil
}

// Split 将每个非空的组拆成一个单独的 Builder，默认动作不变
func (b *Builder) Split() []*Builder {
	var out []*Builder
	for _, g := range b.Groups {
		if len(g.Names) == 0 {
			continue
		}
		out = append(out, &Builder{Groups: []Group{g}, Default: b.Default})
	}
	return out
}

// Instructions 将 Builder 中的配置编译为 BPF 指令
//
// 只支持一个非空的组，见 ErrMultipleGroups
func (b *Builder) Instructions() ([]bpf.Instruction, error) {
	def, err := ToSeccompAction(b.Default)
	if err != nil {
		return nil, err
	}
	p := libseccomp.Policy{DefaultAction: def}
	for _, g := range b.Groups {
		if len(g.Names) == 0 {
			continue
		}
		action, err := ToSeccompAction(g.Action)
		if err != nil {
			return nil, err
		}
		p.Syscalls = append(p.Syscalls, libseccomp.SyscallGroup{
			Action: action,
			Names:  g.Names,
		})
	}
	switch {
	case len(p.Syscalls) == 0:
		return nil, fmt.Errorf("libseccomp: %w", ErrNoGroups)
	case len(p.Syscalls) > 1:
		return nil, fmt.Errorf("libseccomp: %w: %d", ErrMultipleGroups, len(p.Syscalls))
	}
	return p.Assemble()
}

// Build 构建过滤器
//
// 过程：
// 1. 创建过滤策略并编译为 BPF 程序
// 2. 汇编为内核可读格式
func (b *Builder) Build() (seccomp.Filter, error) {
	program, err := b.Instructions()
	if err != nil {
		return nil, err
	}
	raw, err := bpf.Assemble(program)
	if err != nil {
		return nil, err
	}
	return seccomp.NewFilter(raw), nil
}
