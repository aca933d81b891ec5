package libseccomp

import (
	"fmt"
	"syscall"

	libseccomp "github.com/elastic/go-seccomp-bpf"

	"github.com/zqzqsb/seccompiler/pkg/seccomp"
)

// ToSeccompAction 将 seccomp.Action 转换为 go-seccomp-bpf 的动作类型
//
// 转换对应关系：
//   - ALLOW        -> libseccomp.ActionAllow
//   - ERRNO(EPERM) -> libseccomp.ActionErrno
//   - TRACE        -> libseccomp.ActionTrace
//   - TRAP         -> libseccomp.ActionTrap
//   - LOG          -> libseccomp.ActionLog
//   - KILL_THREAD  -> libseccomp.ActionKillThread
//   - KILL_PROCESS -> libseccomp.ActionKillProcess
//
// go-seccomp-bpf 不支持设置 SECCOMP_RET_DATA，带其他附加数据的动作无法转换
func ToSeccompAction(a seccomp.Action) (libseccomp.Action, error) {
	switch a.Action() {
	case seccomp.ActionAllow:
		return libseccomp.ActionAllow, nil
	case seccomp.ActionKillProcess:
		return libseccomp.ActionKillProcess, nil
	case seccomp.ActionKillThread:
		return libseccomp.ActionKillThread, nil
	case seccomp.ActionLog:
		return libseccomp.ActionLog, nil
	case seccomp.ActionErrno:
		// go-seccomp-bpf 的 ERRNO 固定返回 EPERM
		if a.ReturnCode() == uint16(syscall.EPERM) {
			return libseccomp.ActionErrno, nil
		}
	case seccomp.ActionTrace:
		if a.ReturnCode() == 0 {
			return libseccomp.ActionTrace, nil
		}
	case seccomp.ActionTrap:
		if a.ReturnCode() == 0 {
			return libseccomp.ActionTrap, nil
		}
	}
	return 0, fmt.Errorf("libseccomp: action %v is not supported", a)
}
