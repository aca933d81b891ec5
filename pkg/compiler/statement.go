package compiler

import (
	"fmt"

	"github.com/zqzqsb/seccompiler/pkg/policy"
	"github.com/zqzqsb/seccompiler/pkg/seccomp"
	"github.com/zqzqsb/seccompiler/pkg/seccomp/dag"
)

// CompileFilterStatement 将一个系统调用的规则编译为决策 DAG
//
// 最后一条规则的动作是兜底动作，解析器在没有 default 时用 kill 动作填充它。
// 兜底动作为 ALLOW 时不生成 DAG，条目表示无条件允许，
// 因此这种语句前面只能有 ALLOW 规则（见 policy.FilterStatement.Validate）。
// 否则从最后一条规则往前构建：正在构建的链的为假分支从兜底动作开始，
// 每条规则的链接在前面，它为假时落到后面的链上。
// 同一条规则内，每个合取式的原子沿为真分支串联，最后一个原子为真时采取规则的动作；
// 合取式之间沿为假分支串联，构成析取。求值顺序与声明顺序一致。
// 构建完成后参数比较被降低为 32 位字比较。
func CompileFilterStatement(d *dag.DAG, arch *seccomp.Arch, stmt *policy.FilterStatement) (SyscallPolicyEntry, error) {
	if err := stmt.Validate(); err != nil {
		return SyscallPolicyEntry{}, fmt.Errorf("compiler: %w", err)
	}
	entry := SyscallPolicyEntry{
		Name:      stmt.Syscall.Name,
		Number:    stmt.Syscall.Number,
		Frequency: stmt.Frequency,
		Filter:    dag.NoNode,
		dag:       d,
	}

	fallback := stmt.Fallback()
	if fallback == seccomp.ActionAllow {
		return entry, nil
	}

	root, err := dag.Lower(d, arch, buildFilter(d, stmt, fallback))
	if err != nil {
		return SyscallPolicyEntry{}, fmt.Errorf("compiler: syscall %s: %w", stmt.Syscall.Name, err)
	}
	entry.Filter = root
	return entry, nil
}

// buildFilter 构建参数比较（尚未降低）的决策 DAG，返回根节点
func buildFilter(d *dag.DAG, stmt *policy.FilterStatement, fallback seccomp.Action) dag.Handle {
	falseNode := d.Action(fallback)
	for i := len(stmt.Filters) - 2; i >= 0; i-- {
		clause := stmt.Filters[i]
		action := d.Action(clause.Action)
		for j := len(clause.Expression) - 1; j >= 0; j-- {
			conjunction := clause.Expression[j]
			trueNode := action
			for k := len(conjunction) - 1; k >= 0; k-- {
				atom := conjunction[k]
				trueNode = d.ArgCompare(atom.ArgIndex, atom.Op, atom.Value, trueNode, falseNode)
			}
			falseNode = trueNode
		}
	}
	return falseNode
}
