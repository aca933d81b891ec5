// Package seccomp 提供了 seccomp 过滤器编译所需的基础词汇。
// seccomp (secure computing mode) 是 Linux 内核提供的安全机制，
// 用于限制进程可以使用的系统调用。
//
// 本包定义了过滤器的返回动作（Action）、目标架构（Arch）、
// 比较运算符（Op）、seccomp_data 内存布局（Data）
// 以及内核可以直接加载的指令格式（Filter）。
package seccomp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"syscall"

	"golang.org/x/net/bpf"
)

// Filter 是 BPF (Berkeley Packet Filter) 格式的 seccomp 过滤器。
// 每个 SockFilter 结构体表示一条 BPF 指令，包含：
// - Code: 操作码，定义指令的行为（加载、存储、跳转等）
// - Jt/Jf: 条件跳转的目标（true/false）
// - K: 立即数值或内存地址
type Filter []syscall.SockFilter

// NewFilter 将汇编后的原始 BPF 指令转换为内核使用的 SockFilter 格式
func NewFilter(raw []bpf.RawInstruction) Filter {
	filter := make(Filter, 0, len(raw))
	for _, instruction := range raw {
		filter = append(filter, syscall.SockFilter{
			Code: instruction.Op,
			Jt:   instruction.Jt,
			Jf:   instruction.Jf,
			K:    instruction.K,
		})
	}
	return filter
}

// SockFprog 将 Filter 转换为内核可以理解的 SockFprog 格式。
// 这个方法在调用 prctl(PR_SET_SECCOMP, SECCOMP_MODE_FILTER, prog) 时使用。
//
// 注意：Filter 指针必须指向连续的内存区域，因此我们需要获取切片底层数组的指针。
func (f Filter) SockFprog() *syscall.SockFprog {
	b := []syscall.SockFilter(f)
	if len(b) == 0 {
		return nil
	}
	return &syscall.SockFprog{
		Len:    uint16(len(b)),
		Filter: &b[0],
	}
}

// Bytes 返回过滤器的二进制形式（每条指令 8 字节的 struct sock_filter）。
// 支持的架构均为小端序，因此按小端序编码，可直接写入文件供加载器使用。
func (f Filter) Bytes() []byte {
	var buf bytes.Buffer
	buf.Grow(len(f) * 8)
	// SockFilter 是定长结构体，binary.Write 不会失败
	binary.Write(&buf, binary.LittleEndian, []syscall.SockFilter(f))
	return buf.Bytes()
}

// ReadFilter 解析 Bytes 输出的二进制过滤器
func ReadFilter(b []byte) (Filter, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("seccomp: filter length %d is not a multiple of 8", len(b))
	}
	f := make(Filter, len(b)/8)
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, []syscall.SockFilter(f)); err != nil {
		return nil, fmt.Errorf("seccomp: read filter: %w", err)
	}
	return f, nil
}

// RawInstructions 将过滤器还原为 x/net/bpf 的原始指令，便于反汇编
func (f Filter) RawInstructions() []bpf.RawInstruction {
	raw := make([]bpf.RawInstruction, 0, len(f))
	for _, ins := range f {
		raw = append(raw, bpf.RawInstruction{Op: ins.Code, Jt: ins.Jt, Jf: ins.Jf, K: ins.K})
	}
	return raw
}
