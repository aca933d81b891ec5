package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zqzqsb/seccompiler/pkg/policy"
	"github.com/zqzqsb/seccompiler/pkg/seccomp"
	"github.com/zqzqsb/seccompiler/pkg/seccomp/dag"
)

func atom(arg int, op seccomp.Op, value uint64) policy.Atom {
	return policy.Atom{ArgIndex: arg, Op: op, Value: value}
}

func TestCompileFilterStatementDefaultAllow(t *testing.T) {
	arch := mustArch(t, "amd64")
	stmt := &policy.FilterStatement{
		Syscall:   policy.Syscall{Name: "lseek", Number: 8},
		Frequency: 3,
		Filters: []policy.FilterClause{
			{Expression: [][]policy.Atom{{atom(1, seccomp.OpEqual, 7)}}, Action: seccomp.ActionAllow},
			{Action: seccomp.ActionAllow},
		},
	}
	d := dag.New()
	entry, err := CompileFilterStatement(d, arch, stmt)
	require.NoError(t, err)

	assert.False(t, entry.HasFilter())
	assert.Equal(t, 0, d.Len(), "no node is created for an unconditional allow")
	assert.Equal(t, "lseek", entry.Name)
	assert.Equal(t, uint32(8), entry.Number)
	assert.Equal(t, uint64(3), entry.Frequency)

	for _, args := range [][]uint64{nil, {0, 7}, {1, 2, 3, 4, 5, 6}} {
		got, err := entry.Simulate(arch, 8, args...)
		require.NoError(t, err)
		assert.Equal(t, seccomp.ActionAllow, got)
	}
	assert.Contains(t, entry.String(), "filter: none")
}

func TestCompileFilterStatement(t *testing.T) {
	arch := mustArch(t, "amd64")
	stmt := &policy.FilterStatement{
		Syscall:   policy.Syscall{Name: "openat", Number: 257},
		Frequency: 1,
		Filters: []policy.FilterClause{
			{
				Expression: [][]policy.Atom{
					{atom(0, seccomp.OpEqual, 1), atom(2, seccomp.OpIn, 0x3)},
					{atom(1, seccomp.OpGreaterOrEqual, 1<<33)},
				},
				Action: seccomp.ActionAllow,
			},
			{
				Expression: [][]policy.Atom{{atom(2, seccomp.OpBitsSet, 0x40)}},
				Action:     seccomp.ActionErrno | 2,
			},
			{Action: seccomp.ActionLog},
		},
	}
	d := dag.New()
	entry, err := CompileFilterStatement(d, arch, stmt)
	require.NoError(t, err)
	require.True(t, entry.HasFilter())
	assert.Contains(t, entry.String(), "nodes")

	tests := []struct {
		args []uint64
		want seccomp.Action
	}{
		{[]uint64{1, 0, 0x3}, seccomp.ActionAllow},
		{[]uint64{1, 0, 0x4}, seccomp.ActionLog},
		{[]uint64{1, 0, 0x43}, seccomp.ActionErrno | 2},
		{[]uint64{1, 0, 0x44}, seccomp.ActionErrno | 2},
		{[]uint64{0, 1 << 33, 0}, seccomp.ActionAllow},
		{[]uint64{0, 1<<33 - 1, 0}, seccomp.ActionLog},
		{[]uint64{0, 1<<33 - 1, 0x40}, seccomp.ActionErrno | 2},
		{[]uint64{1<<32 | 1, 0, 0}, seccomp.ActionLog},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stmt.Evaluate(tt.args...), "policy evaluation %#x", tt.args)
		got, err := entry.Simulate(arch, 257, tt.args...)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "args %#x", tt.args)
	}

	// 降低之后不再有 64 位参数比较
	seen := map[dag.Handle]bool{}
	var walk func(h dag.Handle)
	walk = func(h dag.Handle) {
		if seen[h] {
			return
		}
		seen[h] = true
		n := d.Node(h)
		assert.NotEqual(t, dag.KindArgCompare, n.Kind)
		if n.Kind != dag.KindAction {
			walk(n.True)
			walk(n.False)
		}
	}
	walk(entry.Filter)
}

// 兜底动作不是 ALLOW 且没有其他规则时，条目直接指向兜底动作
func TestCompileFilterStatementFallbackOnly(t *testing.T) {
	arch := mustArch(t, "amd64")
	d := dag.New()
	entry, err := CompileFilterStatement(d, arch, &policy.FilterStatement{
		Syscall: policy.Syscall{Name: "ptrace", Number: 101},
		Filters: []policy.FilterClause{{Action: seccomp.ActionErrno | 1}},
	})
	require.NoError(t, err)
	require.True(t, entry.HasFilter())
	assert.Equal(t, d.Action(seccomp.ActionErrno|1), entry.Filter)
}

func TestCompileFilterStatementInvalid(t *testing.T) {
	arch := mustArch(t, "amd64")
	cond := [][]policy.Atom{{atom(2, seccomp.OpBitsSet, 0x4)}}
	tests := []struct {
		name    string
		filters []policy.FilterClause
		want    error
	}{
		{name: "no filters", want: policy.ErrNoFilters},
		{
			name: "kill before allow fallback",
			filters: []policy.FilterClause{
				{Expression: cond, Action: seccomp.ActionKillProcess},
				{Action: seccomp.ActionAllow},
			},
			want: policy.ErrAllowFallback,
		},
		{
			name: "errno after allow rule",
			filters: []policy.FilterClause{
				{Expression: cond, Action: seccomp.ActionAllow},
				{Expression: cond, Action: seccomp.ActionErrno | 1},
				{Action: seccomp.ActionAllow},
			},
			want: policy.ErrAllowFallback,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := dag.New()
			_, err := CompileFilterStatement(d, arch, &policy.FilterStatement{
				Syscall: policy.Syscall{Name: "mprotect", Number: 10},
				Filters: tt.filters,
			})
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 0, d.Len())
		})
	}

	// 规则全是 ALLOW 时仍然是无条件允许
	entry, err := CompileFilterStatement(dag.New(), arch, &policy.FilterStatement{
		Syscall: policy.Syscall{Name: "mprotect", Number: 10},
		Filters: []policy.FilterClause{
			{Expression: cond, Action: seccomp.ActionAllow},
			{Action: seccomp.ActionAllow},
		},
	})
	require.NoError(t, err)
	assert.False(t, entry.HasFilter())
}

// 合取式中的原子按声明顺序求值
func TestCompileFilterStatementOrder(t *testing.T) {
	arch := mustArch(t, "amd64")
	stmt := &policy.FilterStatement{
		Syscall: policy.Syscall{Name: "write", Number: 1},
		Filters: []policy.FilterClause{
			{
				Expression: [][]policy.Atom{
					{atom(0, seccomp.OpEqual, 1), atom(1, seccomp.OpEqual, 2)},
					{atom(2, seccomp.OpEqual, 3)},
				},
				Action: seccomp.ActionAllow,
			},
			{Action: seccomp.ActionKillProcess},
		},
	}
	d := dag.New()
	allow := d.Action(seccomp.ActionAllow)
	kill := d.Action(seccomp.ActionKillProcess)

	root := buildFilter(d, stmt, stmt.Fallback())
	n := d.Node(root)
	require.Equal(t, dag.KindArgCompare, n.Kind)
	assert.Equal(t, 0, n.Arg)
	second := d.Node(n.True)
	assert.Equal(t, 1, second.Arg)
	assert.Equal(t, allow, second.True)
	third := d.Node(n.False)
	assert.Equal(t, 2, third.Arg)
	assert.Equal(t, third.Kind, d.Node(second.False).Kind)
	assert.Equal(t, n.False, second.False)
	assert.Equal(t, allow, third.True)
	assert.Equal(t, kill, third.False)

	entry, err := CompileFilterStatement(d, arch, stmt)
	require.NoError(t, err)
	got, err := entry.Simulate(arch, 1, 0, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, seccomp.ActionAllow, got)
}
