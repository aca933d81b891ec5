package seccomp

import (
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAction(t *testing.T) {
	tests := []struct {
		in      string
		want    Action
		wantErr bool
	}{
		{in: "allow", want: ActionAllow},
		{in: "ALLOW", want: ActionAllow},
		{in: "log", want: ActionLog},
		{in: "trap", want: ActionTrap},
		{in: "user-notif", want: ActionUserNotif},
		{in: "user_notif", want: ActionUserNotif},
		{in: "kill", want: ActionKillProcess},
		{in: "kill-process", want: ActionKillProcess},
		{in: "kill-thread", want: ActionKillThread},
		{in: "errno 1", want: ActionErrno | 1},
		{in: "errno EPERM", want: ActionErrno.WithReturnCode(uint16(syscall.EPERM))},
		{in: "errno enoent", want: ActionErrno.WithReturnCode(uint16(syscall.ENOENT))},
		{in: "return 0x16", want: ActionErrno | 0x16},
		{in: "trace 7", want: ActionTrace | 7},
		{in: "", wantErr: true},
		{in: "deny", wantErr: true},
		{in: "errno", wantErr: true},
		{in: "errno ENOTANERRNO", wantErr: true},
		{in: "errno 70000", wantErr: true},
		{in: "trace", wantErr: true},
		{in: "allow 1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAction(tt.in)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrUnknownAction), "error = %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestActionString(t *testing.T) {
	tests := []struct {
		action Action
		want   string
	}{
		{ActionAllow, "ALLOW"},
		{ActionKillProcess, "KILL_PROCESS"},
		{ActionKillThread, "KILL_THREAD"},
		{ActionLog, "LOG"},
		{ActionTrap, "TRAP"},
		{ActionTrace, "TRACE"},
		{ActionTrace | 3, "TRACE(3)"},
		{ActionErrno.WithReturnCode(uint16(syscall.EPERM)), "ERRNO(EPERM)"},
		{Action(0x12340000), "ACTION(0x12340000)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.action.String())
	}
}

func TestActionText(t *testing.T) {
	for _, a := range []Action{
		ActionAllow,
		ActionKillProcess,
		ActionKillThread,
		ActionUserNotif,
		ActionErrno | 13,
		ActionTrace | 2,
	} {
		text, err := a.MarshalText()
		require.NoError(t, err)

		var got Action
		require.NoError(t, got.UnmarshalText(text), "text %q", text)
		assert.Equal(t, a, got, "text %q", text)
	}

	_, err := Action(0x12340000).MarshalText()
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestActionParts(t *testing.T) {
	a := ActionErrno.WithReturnCode(0x1234)
	assert.Equal(t, ActionErrno, a.Action())
	assert.Equal(t, uint16(0x1234), a.ReturnCode())
	assert.True(t, a.Valid())
	assert.False(t, Action(0x00010000).Valid())
}

func TestOp(t *testing.T) {
	for i, s := range opString {
		op, err := ParseOp(s)
		require.NoError(t, err)
		assert.Equal(t, Op(i), op)
		assert.Equal(t, s, op.String())
	}
	_, err := ParseOp("=~")
	assert.Error(t, err)

	tests := []struct {
		op    Op
		arg   uint64
		value uint64
		want  bool
	}{
		{OpEqual, 1, 1, true},
		{OpNotEqual, 1, 1, false},
		{OpLess, 1<<32 - 1, 1 << 32, true},
		{OpLessOrEqual, 1 << 32, 1 << 32, true},
		{OpGreater, 1 << 63, 1<<63 - 1, true},
		{OpGreaterOrEqual, 0, 1, false},
		{OpBitsSet, 0x10, 0x11, true},
		{OpBitsSet, 0x10, 0x01, false},
		{OpIn, 0x3, 0x7, true},
		{OpIn, 0x8, 0x7, false},
		{OpIn, 0, 0, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.op.Eval(tt.arg, tt.value), "%#x %v %#x", tt.arg, tt.op, tt.value)
	}
}
