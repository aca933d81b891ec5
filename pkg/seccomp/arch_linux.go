package seccomp

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/elastic/go-seccomp-bpf/arch"
	"golang.org/x/sys/unix"
)

// ErrUnknownArch 表示不支持的目标架构
var ErrUnknownArch = errors.New("unsupported architecture")

// Arch 描述过滤器的目标架构
type Arch struct {
	Name string // GOARCH 风格的名称，如 amd64
	ID   uint32 // AUDIT_ARCH_* 值，seccomp_data.arch 中的内容
	Bits int    // 系统调用参数的有效位宽

	numbers map[uint32]string
	names   map[string]uint32
}

type archSpec struct {
	id   uint32
	bits int
}

var archSpecs = map[string]archSpec{
	"amd64": {unix.AUDIT_ARCH_X86_64, 64},
	"386":   {unix.AUDIT_ARCH_I386, 32},
	"arm64": {unix.AUDIT_ARCH_AARCH64, 64},
	"arm":   {unix.AUDIT_ARCH_ARM, 32},
}

var archAliases = map[string]string{
	"x86_64":  "amd64",
	"x86-64":  "amd64",
	"i386":    "386",
	"i686":    "386",
	"x86":     "386",
	"aarch64": "arm64",
}

// LookupArch 根据名称查找架构信息，空字符串表示当前系统架构
//
// 系统调用号映射表来自 go-seccomp-bpf 的 arch 包
func LookupArch(name string) (*Arch, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = runtime.GOARCH
	}
	if alias, ok := archAliases[name]; ok {
		name = alias
	}
	spec, ok := archSpecs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownArch, name)
	}
	info, err := arch.GetInfo(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrUnknownArch, name, err)
	}

	a := &Arch{
		Name:    name,
		ID:      spec.id,
		Bits:    spec.bits,
		numbers: make(map[uint32]string, len(info.SyscallNumbers)),
		names:   make(map[string]uint32, len(info.SyscallNumbers)),
	}
	for nr, sc := range info.SyscallNumbers {
		a.numbers[uint32(nr)] = sc
		a.names[sc] = uint32(nr)
	}
	return a, nil
}

// HostArch 返回当前系统架构
func HostArch() (*Arch, error) {
	return LookupArch("")
}

// SupportedArches 返回所有支持的架构名称（已排序）
func SupportedArches() []string {
	names := make([]string, 0, len(archSpecs))
	for name := range archSpecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (a *Arch) String() string {
	return a.Name
}

// SyscallNumber 将系统调用名称转换为该架构上的系统调用号
func (a *Arch) SyscallNumber(name string) (uint32, bool) {
	nr, ok := a.names[name]
	return nr, ok
}

// SyscallName 将系统调用号转换为名称
func (a *Arch) SyscallName(nr uint32) (string, bool) {
	name, ok := a.numbers[nr]
	return name, ok
}

// Mask 返回参数有效位的掩码，32 位架构上参数的高 32 位恒为 0
func (a *Arch) Mask() uint64 {
	if a.Bits == 32 {
		return 0xffffffff
	}
	return ^uint64(0)
}
