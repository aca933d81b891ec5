package compiler

import (
	"fmt"

	"github.com/zqzqsb/seccompiler/pkg/seccomp"
	"github.com/zqzqsb/seccompiler/pkg/seccomp/dag"
)

// SyscallPolicyEntry 是一个系统调用编译后的记录
//
// Filter 为 dag.NoNode 时表示无条件允许
type SyscallPolicyEntry struct {
	Name      string
	Number    uint32
	Frequency uint64
	Filter    dag.Handle

	dag *dag.DAG // Filter 所在的节点池
}

// HasFilter 报告条目是否有参数过滤
func (e *SyscallPolicyEntry) HasFilter() bool {
	return e.Filter != dag.NoNode
}

// Simulate 单独执行条目的过滤逻辑，没有过滤的条目总是返回 ALLOW
func (e *SyscallPolicyEntry) Simulate(arch *seccomp.Arch, nr uint32, args ...uint64) (seccomp.Action, error) {
	if !e.HasFilter() {
		return seccomp.ActionAllow, nil
	}
	prog, err := dag.Flatten(e.dag, e.Filter)
	if err != nil {
		return 0, err
	}
	return dag.Simulate(prog, arch, nr, args...)
}

func (e *SyscallPolicyEntry) String() string {
	filter := "none"
	if e.HasFilter() {
		filter = fmt.Sprintf("%d nodes", e.dag.Reachable(e.Filter))
	}
	return fmt.Sprintf("SyscallPolicyEntry<name: %s, number: %d, frequency: %d, filter: %s>",
		e.Name, e.Number, e.Frequency, filter)
}

// accumulate 返回频率的前缀和，结果的第 i 项为 entries[0..i] 的频率之和
func accumulate(entries []SyscallPolicyEntry) []uint64 {
	sums := make([]uint64, len(entries))
	var total uint64
	for i, e := range entries {
		total += e.Frequency
		sums[i] = total
	}
	return sums
}
