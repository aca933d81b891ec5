package seccomp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Action 是 seccomp 过滤器的返回值
// - 高 16 位为动作（SECCOMP_RET_ACTION_FULL）
// - 低 16 位为附加数据（SECCOMP_RET_DATA），如 errno 或 trace 消息
type Action uint32

// Action 常量定义，取值与内核 SECCOMP_RET_* 一致
const (
	ActionKillThread  Action = unix.SECCOMP_RET_KILL_THREAD  // 终止线程
	ActionKillProcess Action = unix.SECCOMP_RET_KILL_PROCESS // 终止进程
	ActionTrap        Action = unix.SECCOMP_RET_TRAP         // 发送 SIGSYS
	ActionErrno       Action = unix.SECCOMP_RET_ERRNO        // 返回错误码
	ActionUserNotif   Action = unix.SECCOMP_RET_USER_NOTIF   // 通知用户态监督进程
	ActionTrace       Action = unix.SECCOMP_RET_TRACE        // 通知 tracer（如 ptrace）
	ActionLog         Action = unix.SECCOMP_RET_LOG          // 记录日志后允许
	ActionAllow       Action = unix.SECCOMP_RET_ALLOW        // 允许系统调用
)

// ErrUnknownAction 表示无法识别的动作描述
var ErrUnknownAction = errors.New("unknown action")

var actionNames = map[Action]string{
	ActionKillThread:  "KILL_THREAD",
	ActionKillProcess: "KILL_PROCESS",
	ActionTrap:        "TRAP",
	ActionErrno:       "ERRNO",
	ActionUserNotif:   "USER_NOTIF",
	ActionTrace:       "TRACE",
	ActionLog:         "LOG",
	ActionAllow:       "ALLOW",
}

// Action 获取基本动作（不包含附加数据）
func (a Action) Action() Action {
	return a & unix.SECCOMP_RET_ACTION_FULL
}

// ReturnCode 获取动作的附加数据
func (a Action) ReturnCode() uint16 {
	return uint16(a & unix.SECCOMP_RET_DATA)
}

// WithReturnCode 设置动作的附加数据
func (a Action) WithReturnCode(code uint16) Action {
	return a.Action() | Action(code)
}

// Valid 报告动作是否为内核已知的动作
func (a Action) Valid() bool {
	_, ok := actionNames[a.Action()]
	return ok
}

// String 返回动作的可读名称，如 ALLOW、KILL_PROCESS、ERRNO(EPERM)
func (a Action) String() string {
	name, ok := actionNames[a.Action()]
	if !ok {
		return fmt.Sprintf("ACTION(%#x)", uint32(a))
	}
	switch a.Action() {
	case ActionErrno:
		if n := unix.ErrnoName(syscall.Errno(a.ReturnCode())); n != "" {
			return fmt.Sprintf("%s(%s)", name, n)
		}
		return fmt.Sprintf("%s(%d)", name, a.ReturnCode())
	case ActionTrace, ActionTrap:
		if a.ReturnCode() != 0 {
			return fmt.Sprintf("%s(%d)", name, a.ReturnCode())
		}
	}
	return name
}

// ParseAction 解析策略中的动作描述
//
// 支持的格式：
//   - allow, log, trap, user-notif
//   - kill（等同 kill-process）, kill-process, kill-thread
//   - errno N / errno ENAME（也接受 return N）
//   - trace N
func ParseAction(s string) (Action, error) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	if len(fields) == 0 {
		return 0, fmt.Errorf("%w: empty", ErrUnknownAction)
	}
	keyword := strings.ReplaceAll(fields[0], "_", "-")
	var base Action
	switch keyword {
	case "allow":
		base = ActionAllow
	case "log":
		base = ActionLog
	case "trap":
		base = ActionTrap
	case "user-notif":
		base = ActionUserNotif
	case "kill", "kill-process":
		base = ActionKillProcess
	case "kill-thread":
		base = ActionKillThread
	case "errno", "return":
		if len(fields) != 2 {
			return 0, fmt.Errorf("%w: %q needs an errno value", ErrUnknownAction, s)
		}
		code, err := parseErrno(fields[1])
		if err != nil {
			return 0, fmt.Errorf("%w: %q: %v", ErrUnknownAction, s, err)
		}
		return ActionErrno.WithReturnCode(code), nil
	case "trace":
		if len(fields) != 2 {
			return 0, fmt.Errorf("%w: %q needs a trace message", ErrUnknownAction, s)
		}
		code, err := strconv.ParseUint(fields[1], 0, 16)
		if err != nil {
			return 0, fmt.Errorf("%w: %q: %v", ErrUnknownAction, s, err)
		}
		return ActionTrace.WithReturnCode(uint16(code)), nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
	if len(fields) != 1 {
		return 0, fmt.Errorf("%w: %q takes no argument", ErrUnknownAction, s)
	}
	return base, nil
}

// MarshalText 实现 encoding.TextMarshaler
func (a Action) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("%w: %#x", ErrUnknownAction, uint32(a))
	}
	switch a.Action() {
	case ActionErrno:
		return []byte(fmt.Sprintf("errno %d", a.ReturnCode())), nil
	case ActionTrace:
		return []byte(fmt.Sprintf("trace %d", a.ReturnCode())), nil
	}
	return []byte(strings.ReplaceAll(strings.ToLower(a.String()), "_", "-")), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler，用于配置文件解析
func (a *Action) UnmarshalText(text []byte) error {
	v, err := ParseAction(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Set 实现 flag.Value
func (a *Action) Set(s string) error {
	return a.UnmarshalText([]byte(s))
}

var (
	errnoOnce   sync.Once
	errnoByName map[string]uint16
)

// parseErrno 接受数字或 errno 名称（如 EPERM）
func parseErrno(s string) (uint16, error) {
	if n, err := strconv.ParseUint(s, 0, 16); err == nil {
		return uint16(n), nil
	}
	errnoOnce.Do(func() {
		errnoByName = make(map[string]uint16)
		for e := 1; e < 4096; e++ {
			if name := unix.ErrnoName(syscall.Errno(e)); name != "" {
				errnoByName[strings.ToLower(name)] = uint16(e)
			}
		}
	})
	if code, ok := errnoByName[strings.ToLower(s)]; ok {
		return code, nil
	}
	return 0, fmt.Errorf("unknown errno %q", s)
}
