package seccomp

import "encoding/binary"

// seccomp_data 中各字段的偏移
const (
	OffsetNr   = 0  // int nr
	OffsetArch = 4  // __u32 arch
	OffsetIP   = 8  // __u64 instruction_pointer
	OffsetArgs = 16 // __u64 args[6]

	// DataSize 是 struct seccomp_data 的大小
	DataSize = 64

	// MaxArgs 是系统调用参数的个数
	MaxArgs = 6
)

// Data 对应内核传给过滤器的 struct seccomp_data
type Data struct {
	Nr                 uint32
	Arch               uint32
	InstructionPointer uint64
	Args               [MaxArgs]uint64
}

// ArgLow 返回第 i 个参数低 32 位的偏移（小端序架构）
func ArgLow(i int) uint32 {
	return uint32(OffsetArgs + 8*i)
}

// ArgHigh 返回第 i 个参数高 32 位的偏移（小端序架构）
func ArgHigh(i int) uint32 {
	return ArgLow(i) + 4
}

// VMBytes 将 Data 编码为 x/net/bpf 虚拟机使用的输入。
//
// 内核以本机字节序按 32 位字读取 seccomp_data，而 x/net/bpf 的
// LoadAbsolute 总是按大端序解码，因此这里把每个 32 位字以大端序
// 写到它在小端序布局中的偏移上，使两者读到的值一致。
func (d *Data) VMBytes() []byte {
	b := make([]byte, DataSize)
	put := func(off uint32, v uint32) {
		binary.BigEndian.PutUint32(b[off:], v)
	}
	put(OffsetNr, d.Nr)
	put(OffsetArch, d.Arch)
	put(OffsetIP, uint32(d.InstructionPointer))
	put(OffsetIP+4, uint32(d.InstructionPointer>>32))
	for i, arg := range d.Args {
		put(ArgLow(i), uint32(arg))
		put(ArgHigh(i), uint32(arg>>32))
	}
	return b
}
