package compiler

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zqzqsb/seccompiler/pkg/seccomp"
	"github.com/zqzqsb/seccompiler/pkg/seccomp/dag"
)

func entriesOf(d *dag.DAG, numbers []uint32, freqs []uint64) []SyscallPolicyEntry {
	entries := make([]SyscallPolicyEntry, len(numbers))
	for i, nr := range numbers {
		entries[i] = SyscallPolicyEntry{Number: nr, Frequency: freqs[i], Filter: dag.NoNode, dag: d}
	}
	return entries
}

func TestAccumulate(t *testing.T) {
	entries := entriesOf(nil, []uint32{1, 2, 3, 4}, []uint64{3, 0, 5, 1})
	assert.Equal(t, []uint64{3, 3, 8, 9}, accumulate(entries))
	assert.Empty(t, accumulate(nil))
}

func TestBestSplit(t *testing.T) {
	tests := []struct {
		name   string
		freqs  []uint64
		lo, hi int
		want   int
	}{
		{name: "balanced three", freqs: []uint64{1, 1, 1}, hi: 3, want: 1},
		{name: "tie resolves to lowest index", freqs: []uint64{1, 1, 1, 1}, hi: 4, want: 1},
		{name: "heavy first", freqs: []uint64{10, 1, 1, 1}, hi: 4, want: 1},
		{name: "heavy last", freqs: []uint64{1, 1, 1, 10}, hi: 4, want: 3},
		{name: "heavy middle", freqs: []uint64{1, 1, 20, 1, 1}, hi: 5, want: 2},
		{name: "all zero", freqs: []uint64{0, 0, 0}, hi: 3, want: 1},
		{name: "two entries", freqs: []uint64{5, 1}, hi: 2, want: 1},
		{name: "sub range", freqs: []uint64{5, 5, 1, 1, 1}, lo: 2, hi: 5, want: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			numbers := make([]uint32, len(tt.freqs))
			for i := range numbers {
				numbers[i] = uint32(i)
			}
			got := bestSplit(accumulate(entriesOf(nil, numbers, tt.freqs)), tt.lo, tt.hi)
			assert.Equal(t, tt.want, got)
		})
	}
}

// walkBST 检查以 h 为根的子树：区间 [lower, upper] 内恰好是 entries，
// 每个内部节点都选择了最优的分割点，返回可到达的条目数
func walkBST(t *testing.T, d *dag.DAG, h dag.Handle, entries []SyscallPolicyEntry, lower, upper uint32, accept, reject dag.Handle) int {
	t.Helper()
	require.NotEmpty(t, entries)
	for _, e := range entries {
		require.True(t, e.Number >= lower && e.Number <= upper, "entry %d outside [%d, %d]", e.Number, lower, upper)
	}

	n := d.Node(h)
	switch n.Kind {
	case dag.KindSyscallRange:
		require.GreaterOrEqual(t, len(entries), 2)
		i := bestSplit(accumulate(entries), 0, len(entries))
		assert.Equal(t, entries[i].Number, n.K, "split over [%d, %d]", lower, upper)
		return walkBST(t, d, n.True, entries[i:], n.K, upper, accept, reject) +
			walkBST(t, d, n.False, entries[:i], lower, n.K-1, accept, reject)
	case dag.KindSyscallEqual:
		require.Len(t, entries, 1)
		assert.Equal(t, entries[0].Number, n.K)
		assert.Equal(t, accept, n.True)
		assert.Equal(t, reject, n.False)
		assert.NotEqual(t, lower, upper, "tight bounds need no leaf")
		return 1
	default:
		require.Len(t, entries, 1)
		assert.Equal(t, accept, h)
		assert.Equal(t, lower, upper)
		return 1
	}
}

func TestBSTStructure(t *testing.T) {
	tests := []struct {
		name    string
		numbers []uint32
		freqs   []uint64
	}{
		{name: "single", numbers: []uint32{42}, freqs: []uint64{1}},
		{name: "adjacent", numbers: []uint32{0, 1}, freqs: []uint64{1, 1}},
		{name: "dense", numbers: []uint32{0, 1, 2, 3, 4, 5, 6, 7}, freqs: []uint64{1, 9, 1, 1, 4, 1, 1, 30}},
		{name: "sparse", numbers: []uint32{3, 17, 60, 61, 231, 302}, freqs: []uint64{100, 50, 0, 0, 7, 1}},
		{name: "domain edges", numbers: []uint32{0, 5, math.MaxUint32 - 1, math.MaxUint32}, freqs: []uint64{2, 1, 1, 2}},
		{name: "unsorted input", numbers: []uint32{9, 1, 5, 3, 7}, freqs: []uint64{1, 2, 3, 4, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := dag.New()
			accept := d.Action(seccomp.ActionAllow)
			reject := d.Action(seccomp.ActionKillProcess)
			entries := entriesOf(d, tt.numbers, tt.freqs)
			input := append([]SyscallPolicyEntry(nil), entries...)

			root := CompileEntriesBST(d, entries, accept, reject)

			assert.Equal(t, input, entries, "entries must not be modified")
			sorted := entriesOf(d, tt.numbers, tt.freqs)
			for i := 1; i < len(sorted); i++ {
				for j := i; j > 0 && sorted[j].Number < sorted[j-1].Number; j-- {
					sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
				}
			}
			leaves := walkBST(t, d, root, sorted, 0, math.MaxUint32, accept, reject)
			assert.Equal(t, len(entries), leaves)
		})
	}
}

func TestBSTTightBounds(t *testing.T) {
	d := dag.New()
	accept := d.Action(seccomp.ActionAllow)
	reject := d.Action(seccomp.ActionKillProcess)

	// [0, 1]：左侧区间 [0, 0] 只包含 0，直接跳到动作
	root := CompileEntriesBST(d, entriesOf(d, []uint32{0, 1}, []uint64{1, 1}), accept, reject)
	n := d.Node(root)
	require.Equal(t, dag.KindSyscallRange, n.Kind)
	assert.Equal(t, uint32(1), n.K)
	assert.Equal(t, accept, n.False)
	assert.Equal(t, dag.KindSyscallEqual, d.Node(n.True).Kind)

	// 右侧区间 [MaxUint32, MaxUint32] 只包含 MaxUint32
	root = CompileEntriesBST(d, entriesOf(d, []uint32{5, math.MaxUint32}, []uint64{1, 1}), accept, reject)
	n = d.Node(root)
	assert.Equal(t, uint32(math.MaxUint32), n.K)
	assert.Equal(t, accept, n.True)
	assert.Equal(t, dag.KindSyscallEqual, d.Node(n.False).Kind)
}

func TestBSTEmpty(t *testing.T) {
	d := dag.New()
	accept := d.Action(seccomp.ActionAllow)
	reject := d.Action(seccomp.ActionKillProcess)
	assert.Equal(t, reject, CompileEntriesBST(d, nil, accept, reject))
	assert.Equal(t, reject, CompileEntriesLinear(d, nil, accept, reject))
}

func TestLinearOrder(t *testing.T) {
	d := dag.New()
	accept := d.Action(seccomp.ActionAllow)
	reject := d.Action(seccomp.ActionKillProcess)
	filtered := d.Action(seccomp.ActionTrap)

	entries := entriesOf(d, []uint32{10, 20, 30, 40}, []uint64{5, 10, 10, 1})
	entries[3].Filter = filtered
	input := append([]SyscallPolicyEntry(nil), entries...)

	h := CompileEntriesLinear(d, entries, accept, reject)
	assert.Equal(t, input, entries, "entries must not be modified")

	// 频率降序，频率相同时保持原有顺序
	var order []uint32
	for {
		n := d.Node(h)
		if n.Kind != dag.KindSyscallEqual {
			break
		}
		order = append(order, n.K)
		if n.K == 40 {
			assert.Equal(t, filtered, n.True)
		} else {
			assert.Equal(t, accept, n.True)
		}
		h = n.False
	}
	assert.Equal(t, []uint32{20, 30, 10, 40}, order)
	assert.Equal(t, reject, h)
}
