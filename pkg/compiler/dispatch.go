package compiler

import (
	"math"
	"slices"
	"sort"

	"github.com/zqzqsb/seccompiler/pkg/seccomp/dag"
)

// dispatchContext 是构建分发结构时共享的只读上下文
type dispatchContext struct {
	dag    *dag.DAG
	accept dag.Handle // 共享的 ALLOW 节点
	reject dag.Handle // 共享的拒绝节点
}

// target 返回系统调用号匹配后的去向
func (c dispatchContext) target(e *SyscallPolicyEntry) dag.Handle {
	if e.HasFilter() {
		return e.Filter
	}
	return c.accept
}

// CompileEntriesLinear 生成线性比较链
//
// 条目按频率降序排列，链从最不常用的系统调用开始向前构建，
// 最终最常用的系统调用最先比较。链的末尾是拒绝节点。
// entries 不会被修改。
func CompileEntriesLinear(d *dag.DAG, entries []SyscallPolicyEntry, accept, reject dag.Handle) dag.Handle {
	ctx := dispatchContext{dag: d, accept: accept, reject: reject}
	sorted := slices.Clone(entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Frequency > sorted[j].Frequency
	})

	next := ctx.reject
	for i := len(sorted) - 1; i >= 0; i-- {
		next = d.SyscallEqual(sorted[i].Number, ctx.target(&sorted[i]), next)
	}
	return next
}

// CompileEntriesBST 生成按频率加权的二叉搜索树
//
// 搜索仍然按系统调用号进行，但每次选择的分割点使左右子树的频率之和尽量接近，
// 这样常用的系统调用经过的内部节点更少。
// entries 不会被修改。
func CompileEntriesBST(d *dag.DAG, entries []SyscallPolicyEntry, accept, reject dag.Handle) dag.Handle {
	if len(entries) == 0 {
		return reject
	}
	sorted := slices.Clone(entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Number < sorted[j].Number
	})

	b := &bstBuilder{
		dispatchContext: dispatchContext{dag: d, accept: accept, reject: reject},
		entries:         sorted,
		accumulated:     accumulate(sorted),
	}
	// seccomp_data.nr 是 32 位的
	return b.build(0, len(sorted), 0, math.MaxUint32)
}

type bstBuilder struct {
	dispatchContext
	entries     []SyscallPolicyEntry
	accumulated []uint64
}

// build 为 entries[lo:hi] 构建子树，它们的系统调用号都在 [lower, upper] 内
func (b *bstBuilder) build(lo, hi int, lower, upper uint32) dag.Handle {
	if hi-lo == 1 {
		e := &b.entries[lo]
		if lower == upper {
			return b.target(e)
		}
		// 区间内还有其他需要拒绝的系统调用号，生成相等比较的叶子
		return b.dag.SyscallEqual(e.Number, b.target(e), b.reject)
	}

	mid := bestSplit(b.accumulated, lo, hi)
	split := b.entries[mid].Number

	// 子树只剩一个条目且区间恰好只包含它时，直接跳到条目的动作
	var right, left dag.Handle
	if split == upper {
		right = b.target(&b.entries[mid])
	} else {
		right = b.build(mid, hi, split, upper)
	}
	if lower == split-1 {
		left = b.target(&b.entries[mid-1])
	} else {
		left = b.build(lo, mid, lower, split-1)
	}

	return b.dag.SyscallRange(split, right, left)
}

// bestSplit 在 (lo, hi) 中选择分割点 i，使 entries[lo:i] 与 entries[i+1:hi]
// 的频率之和的差最小，差相同时取最小的 i
func bestSplit(accumulated []uint64, lo, hi int) int {
	var base uint64
	if lo > 0 {
		base = accumulated[lo-1]
	}
	total := accumulated[hi-1]

	best, bestDiff := -1, uint64(0)
	for i := lo + 1; i < hi; i++ {
		left := accumulated[i-1] - base
		right := total - accumulated[i]
		diff := left - right
		if right > left {
			diff = right - left
		}
		if best < 0 || diff < bestDiff {
			best, bestDiff = i, diff
		}
	}
	return best
}
