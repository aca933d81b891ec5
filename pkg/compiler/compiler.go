// Package compiler 将 seccomp 策略编译为 BPF 过滤器程序。
//
// 编译流程：
//  1. 解析策略文件，得到每个系统调用的规则
//  2. 每条规则编译为参数比较的决策 DAG（CompileFilterStatement）
//  3. 按优化策略生成系统调用号的分发结构（线性链或加权二叉搜索树）
//  4. 在最前面插入架构校验，展开为一段线性的 BPF 程序
//
// 编译是纯函数式的：每次调用使用自己的节点池，不同的调用之间没有共享状态，
// 可以并行编译多个架构。编译失败时不会返回部分结果。
package compiler

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/zqzqsb/seccompiler/pkg/policy"
	"github.com/zqzqsb/seccompiler/pkg/seccomp"
	"github.com/zqzqsb/seccompiler/pkg/seccomp/dag"
)

// PolicyParser 解析策略文件
type PolicyParser interface {
	ParseFile(path string) (*policy.File, error)
}

// Options 是编译选项
type Options struct {
	// Strategy 是分发结构的优化策略
	Strategy Strategy
	// KillAction 是架构不匹配时的动作，CompileFile 也把它交给解析器作为 kill 动作
	KillAction seccomp.Action
	// IncludeDepthLimit 是 include 的最大嵌套深度，0 表示默认值 10
	IncludeDepthLimit int
	// Parser 为空时使用 YAML 解析器
	Parser PolicyParser
	// Logger 为空时使用 logrus 的标准 logger
	Logger logrus.FieldLogger
}

// validate 检查选项并填充默认值，在任何编译工作之前进行
func (o Options) validate() (Options, error) {
	if !o.Strategy.Valid() {
		return o, fmt.Errorf("compiler: %w: %d", ErrInvalidStrategy, int(o.Strategy))
	}
	if !o.KillAction.Valid() {
		return o, fmt.Errorf("compiler: kill action: %w: %#x", seccomp.ErrUnknownAction, uint32(o.KillAction))
	}
	if o.IncludeDepthLimit < 0 {
		return o, errors.New("compiler: include depth limit must not be negative")
	}
	if o.IncludeDepthLimit == 0 {
		o.IncludeDepthLimit = policy.DefaultIncludeDepthLimit
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	return o, nil
}

// PolicyCompiler 为一个固定的目标架构编译策略
type PolicyCompiler struct {
	arch *seccomp.Arch
}

// NewPolicyCompiler 创建编译器
func NewPolicyCompiler(arch *seccomp.Arch) *PolicyCompiler {
	return &PolicyCompiler{arch: arch}
}

// Arch 返回目标架构
func (c *PolicyCompiler) Arch() *seccomp.Arch {
	return c.arch
}

// CompileFile 解析并编译策略文件
//
// 解析器返回的错误原样返回
func (c *PolicyCompiler) CompileFile(path string, opts Options) (*dag.Program, error) {
	opts, err := opts.validate()
	if err != nil {
		return nil, err
	}
	parser := opts.Parser
	if parser == nil {
		parser = policy.NewParser(c.arch, opts.KillAction, opts.IncludeDepthLimit)
	}
	file, err := parser.ParseFile(path)
	if err != nil {
		return nil, err
	}
	return c.compile(file, opts)
}

// Compile 编译已经解析好的策略
func (c *PolicyCompiler) Compile(file *policy.File, opts Options) (*dag.Program, error) {
	opts, err := opts.validate()
	if err != nil {
		return nil, err
	}
	return c.compile(file, opts)
}

func (c *PolicyCompiler) compile(file *policy.File, opts Options) (*dag.Program, error) {
	log := opts.Logger.WithFields(logrus.Fields{
		"arch":     c.arch.Name,
		"strategy": opts.Strategy,
	})

	d := dag.New()
	entries := make([]SyscallPolicyEntry, 0, len(file.FilterStatements))
	seen := make(map[uint32]string, len(file.FilterStatements))
	for i := range file.FilterStatements {
		stmt := &file.FilterStatements[i]
		if prev, ok := seen[stmt.Syscall.Number]; ok {
			return nil, fmt.Errorf("compiler: %w: %s and %s are both syscall %d",
				policy.ErrDuplicateSyscall, prev, stmt.Syscall.Name, stmt.Syscall.Number)
		}
		seen[stmt.Syscall.Number] = stmt.Syscall.Name

		entry, err := CompileFilterStatement(d, c.arch, stmt)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	reject := d.Action(file.DefaultAction)
	root := reject
	if len(entries) > 0 {
		accept := d.Action(seccomp.ActionAllow)
		switch opts.Strategy {
		case StrategyBST:
			root = CompileEntriesBST(d, entries, accept, reject)
		default:
			root = CompileEntriesLinear(d, entries, accept, reject)
		}
	}
	root = d.ArchGuard(c.arch.ID, root, d.Action(opts.KillAction))

	instructions, err := dag.Flatten(d, root)
	if err != nil {
		return nil, fmt.Errorf("compiler: %w", err)
	}
	log.WithFields(logrus.Fields{
		"entries":      len(entries),
		"nodes":        d.Len(),
		"instructions": len(instructions),
	}).Debug("policy compiled")

	return dag.NewProgram(c.arch, instructions), nil
}
