// Package dag 实现了 seccomp 过滤器的中间表示及其后端。
//
// 过滤器在编译期间表示为一个有向无环图：所有节点存放在 DAG（节点池）中，
// 节点之间通过 Handle 引用。动作节点（ALLOW、KILL 等）在同一个 DAG 中
// 只创建一次，被许多父节点共享，展开（Flatten）时按 Handle 去重，只生成一次。
//
// 编译流程：
//  1. 构建 ArgCompare（64 位参数比较）和分发节点
//  2. Lower：把 ArgCompare 改写为按 32 位字比较的 WordCompare
//  3. Flatten：把 DAG 展开为一段只向前跳转的 BPF 指令序列
package dag

import (
	"fmt"

	"golang.org/x/net/bpf"

	"github.com/zqzqsb/seccompiler/pkg/seccomp"
)

// Handle 引用 DAG 中的一个节点
type Handle int32

// NoNode 表示空引用
const NoNode Handle = -1

// Kind 是节点的类型
type Kind uint8

// 节点类型定义
const (
	KindAction       Kind = iota // 终止节点，返回一个 seccomp 动作
	KindArgCompare               // 64 位参数比较，Lower 之前存在
	KindWordCompare              // 对 seccomp_data 中一个 32 位字的比较
	KindSyscallEqual             // nr == K
	KindSyscallRange             // nr >= K
	KindArchGuard                // arch == K，否则跳到 False
)

var kindString = []string{"action", "arg", "word", "syscall-eq", "syscall-ge", "arch"}

func (k Kind) String() string {
	i := int(k)
	if i >= 0 && i < len(kindString) {
		return kindString[i]
	}
	return fmt.Sprintf("Kind(%d)", i)
}

// Node 是 DAG 中的一个节点，字段含义取决于 Kind
type Node struct {
	Kind Kind

	// KindAction
	Action seccomp.Action

	// KindArgCompare
	Arg   int
	Op    seccomp.Op
	Value uint64

	// KindWordCompare
	Offset uint32
	Cond   bpf.JumpTest

	// KindWordCompare / KindSyscallEqual / KindSyscallRange / KindArchGuard 的立即数
	K uint32

	// 条件为真 / 为假时的后继节点，KindAction 没有后继
	True, False Handle
}

// DAG 是节点池，拥有所有节点
//
// 节点只能引用比自己先创建的节点，因此图中不可能出现环。
type DAG struct {
	nodes   []Node
	actions map[seccomp.Action]Handle
}

// New 创建一个空的 DAG
func New() *DAG {
	return &DAG{actions: make(map[seccomp.Action]Handle)}
}

// Len 返回节点数量
func (d *DAG) Len() int {
	return len(d.nodes)
}

// Node 返回节点的副本
func (d *DAG) Node(h Handle) Node {
	return d.nodes[h]
}

func (d *DAG) add(n Node) Handle {
	if n.Kind != KindAction {
		d.check(n.True)
		d.check(n.False)
	}
	d.nodes = append(d.nodes, n)
	return Handle(len(d.nodes) - 1)
}

func (d *DAG) check(h Handle) {
	if h < 0 || int(h) >= len(d.nodes) {
		panic(fmt.Sprintf("dag: invalid handle %d", h))
	}
}

// Action 返回动作节点，同一个动作在一个 DAG 中只有一个节点
func (d *DAG) Action(a seccomp.Action) Handle {
	if h, ok := d.actions[a]; ok {
		return h
	}
	h := d.add(Node{Kind: KindAction, Action: a, True: NoNode, False: NoNode})
	d.actions[a] = h
	return h
}

// ArgCompare 创建 64 位参数比较节点：args[arg] <op> value
func (d *DAG) ArgCompare(arg int, op seccomp.Op, value uint64, t, f Handle) Handle {
	return d.add(Node{Kind: KindArgCompare, Arg: arg, Op: op, Value: value, True: t, False: f})
}

// WordCompare 创建 32 位字比较节点：data[offset] <cond> k
func (d *DAG) WordCompare(offset uint32, cond bpf.JumpTest, k uint32, t, f Handle) Handle {
	return d.add(Node{Kind: KindWordCompare, Offset: offset, Cond: cond, K: k, True: t, False: f})
}

// SyscallEqual 创建系统调用号相等比较节点
func (d *DAG) SyscallEqual(nr uint32, t, f Handle) Handle {
	return d.add(Node{Kind: KindSyscallEqual, K: nr, True: t, False: f})
}

// SyscallRange 创建系统调用号范围比较节点，nr >= K 时走 t
func (d *DAG) SyscallRange(nr uint32, t, f Handle) Handle {
	return d.add(Node{Kind: KindSyscallRange, K: nr, True: t, False: f})
}

// ArchGuard 创建架构校验节点：架构匹配时继续执行 next，否则跳到 mismatch
func (d *DAG) ArchGuard(id uint32, next, mismatch Handle) Handle {
	return d.add(Node{Kind: KindArchGuard, K: id, True: next, False: mismatch})
}

// Reachable 返回从 root 可达的节点数量
func (d *DAG) Reachable(root Handle) int {
	seen := make(map[Handle]bool)
	var walk func(h Handle)
	walk = func(h Handle) {
		if h == NoNode || seen[h] {
			return
		}
		seen[h] = true
		n := d.nodes[h]
		if n.Kind != KindAction {
			walk(n.True)
			walk(n.False)
		}
	}
	walk(root)
	return len(seen)
}
