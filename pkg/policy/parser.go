package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zqzqsb/seccompiler/pkg/seccomp"
)

// DefaultIncludeDepthLimit 是 include 的默认最大嵌套深度
const DefaultIncludeDepthLimit = 10

// 解析错误
var (
	ErrIncludeDepth     = errors.New("include depth limit exceeded")
	ErrUnknownSyscall   = errors.New("unknown syscall")
	ErrDuplicateSyscall = errors.New("duplicate syscall")
)

// document 是策略文件的 YAML 结构
type document struct {
	Default   string        `yaml:"default"`
	Frequency string        `yaml:"frequency"`
	Include   []string      `yaml:"include"`
	Syscalls  []syscallSpec `yaml:"syscalls"`
}

type syscallSpec struct {
	Name      string     `yaml:"name"`
	Names     []string   `yaml:"names"`
	Frequency *uint64    `yaml:"frequency"`
	Action    string     `yaml:"action"`
	Rules     []ruleSpec `yaml:"rules"`
	Default   string     `yaml:"default"`
}

type ruleSpec struct {
	Match  []string `yaml:"match"`
	Action string   `yaml:"action"`
}

// Parser 解析 YAML 格式的策略文件
//
// Parser 本身不保存解析状态，可以重复使用
type Parser struct {
	arch              *seccomp.Arch
	killAction        seccomp.Action
	includeDepthLimit int
}

// NewParser 创建解析器
//   - killAction: 策略中 kill 动作以及未声明兜底动作时使用的动作
//   - includeDepthLimit: include 的最大嵌套深度
func NewParser(arch *seccomp.Arch, killAction seccomp.Action, includeDepthLimit int) *Parser {
	return &Parser{
		arch:              arch,
		killAction:        killAction,
		includeDepthLimit: includeDepthLimit,
	}
}

// parseState 是一次解析调用的状态
type parseState struct {
	*Parser
	file      *File
	explicit  []bool // 对应语句是否显式声明了 frequency
	seen      map[uint32]string
	frequency map[string]uint64
}

// ParseFile 解析策略文件及其 include 的文件
func (p *Parser) ParseFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	return p.Parse(path, data)
}

// Parse 解析内存中的策略，name 用于错误信息和解析相对路径
func (p *Parser) Parse(name string, data []byte) (*File, error) {
	st := &parseState{
		Parser:    p,
		file:      &File{Arch: p.arch, DefaultAction: p.killAction},
		seen:      make(map[uint32]string),
		frequency: make(map[string]uint64),
	}
	if err := st.parse(name, data, 0); err != nil {
		return nil, err
	}

	// 显式的 frequency 优先，其次是频率文件，默认为 1
	for i := range st.file.FilterStatements {
		stmt := &st.file.FilterStatements[i]
		if st.explicit[i] {
			continue
		}
		if freq, ok := st.frequency[stmt.Syscall.Name]; ok {
			stmt.Frequency = freq
		}
	}
	return st.file, nil
}

func (st *parseState) parse(name string, data []byte, depth int) error {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("policy: %s: %w", name, err)
	}
	dir := filepath.Dir(name)

	if doc.Default != "" {
		if depth > 0 {
			return fmt.Errorf("policy: %s: default action is only allowed in the top-level file", name)
		}
		action, err := st.action(doc.Default)
		if err != nil {
			return fmt.Errorf("policy: %s: %w", name, err)
		}
		st.file.DefaultAction = action
	}

	if doc.Frequency != "" {
		if err := st.loadFrequency(resolve(dir, doc.Frequency)); err != nil {
			return fmt.Errorf("policy: %s: %w", name, err)
		}
	}

	for _, inc := range doc.Include {
		if depth+1 > st.includeDepthLimit {
			return fmt.Errorf("policy: %s: %w: including %q at depth %d, limit is %d",
				name, ErrIncludeDepth, inc, depth+1, st.includeDepthLimit)
		}
		path := resolve(dir, inc)
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("policy: %s: %w", name, err)
		}
		if err := st.parse(path, b, depth+1); err != nil {
			return err
		}
	}

	for i, spec := range doc.Syscalls {
		if err := st.statements(spec); err != nil {
			return fmt.Errorf("policy: %s: syscalls[%d]: %w", name, i, err)
		}
	}
	return nil
}

// statements 将一个 syscalls 条目展开为每个系统调用一条语句
func (st *parseState) statements(spec syscallSpec) error {
	names := spec.Names
	if spec.Name != "" {
		names = append([]string{spec.Name}, names...)
	}
	if len(names) == 0 {
		return errors.New("no syscall name")
	}

	filters, err := st.filters(spec)
	if err != nil {
		return err
	}

	for _, name := range names {
		nr, ok := st.arch.SyscallNumber(name)
		if !ok {
			return fmt.Errorf("%w: %q on %v", ErrUnknownSyscall, name, st.arch)
		}
		if prev, ok := st.seen[nr]; ok {
			return fmt.Errorf("%w: %q (number %d, already declared as %q)", ErrDuplicateSyscall, name, nr, prev)
		}
		st.seen[nr] = name

		stmt := FilterStatement{
			Syscall:   Syscall{Name: name, Number: nr},
			Frequency: 1,
			Filters:   filters,
		}
		if spec.Frequency != nil {
			stmt.Frequency = *spec.Frequency
		}
		st.file.FilterStatements = append(st.file.FilterStatements, stmt)
		st.explicit = append(st.explicit, spec.Frequency != nil)
	}
	return nil
}

func (st *parseState) filters(spec syscallSpec) ([]FilterClause, error) {
	switch {
	case spec.Action != "" && (len(spec.Rules) > 0 || spec.Default != ""):
		return nil, errors.New("action cannot be combined with rules or default")
	case spec.Action != "":
		action, err := st.action(spec.Action)
		if err != nil {
			return nil, err
		}
		return []FilterClause{{Action: action}}, nil
	case len(spec.Rules) == 0:
		return nil, errors.New("either action or rules is required")
	}

	filters := make([]FilterClause, 0, len(spec.Rules)+1)
	for i, rule := range spec.Rules {
		if len(rule.Match) == 0 {
			return nil, fmt.Errorf("rules[%d]: empty match", i)
		}
		action, err := st.action(rule.Action)
		if err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
		clause := FilterClause{Action: action}
		for _, m := range rule.Match {
			atoms, err := parseConjunction(m, st.arch)
			if err != nil {
				return nil, fmt.Errorf("rules[%d]: %w", i, err)
			}
			clause.Expression = append(clause.Expression, atoms)
		}
		filters = append(filters, clause)
	}

	fallback := st.killAction
	if spec.Default != "" {
		action, err := st.action(spec.Default)
		if err != nil {
			return nil, err
		}
		fallback = action
	}
	if fallback == seccomp.ActionAllow {
		// 规则全是 allow 时等同于无条件允许
		for i, clause := range filters {
			if clause.Action != seccomp.ActionAllow {
				return nil, fmt.Errorf("rules[%d]: %v: %w", i, clause.Action, ErrAllowFallback)
			}
		}
		return []FilterClause{{Action: seccomp.ActionAllow}}, nil
	}
	return append(filters, FilterClause{Action: fallback}), nil
}

// action 解析动作，kill 表示配置的 kill 动作
func (st *parseState) action(s string) (seccomp.Action, error) {
	if strings.EqualFold(strings.TrimSpace(s), "kill") {
		return st.killAction, nil
	}
	return seccomp.ParseAction(s)
}

func (st *parseState) loadFrequency(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var freq map[string]uint64
	if err := yaml.Unmarshal(b, &freq); err != nil {
		return fmt.Errorf("frequency file %s: %w", path, err)
	}
	// 频率文件可能来自其他架构，不存在的系统调用直接忽略
	for name, n := range freq {
		st.frequency[name] = n
	}
	return nil
}

func resolve(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}
