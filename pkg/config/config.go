// Package config 定义了编译器的 TOML 配置文件
package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"github.com/zqzqsb/seccompiler/pkg/compiler"
	"github.com/zqzqsb/seccompiler/pkg/policy"
	"github.com/zqzqsb/seccompiler/pkg/seccomp"
)

// Config 是 seccompiler.toml 的结构
type Config struct {
	Arches            []string          `toml:"arches"`
	Strategy          compiler.Strategy `toml:"strategy"`
	KillAction        seccomp.Action    `toml:"kill_action"`
	IncludeDepthLimit int               `toml:"include_depth_limit"`
	Output            string            `toml:"output"`
	LogLevel          string            `toml:"log_level"`
}

// DefaultConfig 返回默认配置：当前架构、二叉搜索树、违规时终止进程
func DefaultConfig() Config {
	return Config{
		Arches:            []string{""},
		Strategy:          compiler.StrategyBST,
		KillAction:        seccomp.ActionKillProcess,
		IncludeDepthLimit: policy.DefaultIncludeDepthLimit,
		LogLevel:          "info",
	}
}

// LoadConfig 从 TOML 文件加载配置，并和默认配置合并
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return cfg, fmt.Errorf("config: %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate 检查配置
func (c Config) Validate() error {
	if !c.Strategy.Valid() {
		return fmt.Errorf("%w: %d", compiler.ErrInvalidStrategy, int(c.Strategy))
	}
	if !c.KillAction.Valid() {
		return fmt.Errorf("kill_action: %w: %#x", seccomp.ErrUnknownAction, uint32(c.KillAction))
	}
	if c.IncludeDepthLimit < 0 {
		return fmt.Errorf("include_depth_limit must not be negative: %d", c.IncludeDepthLimit)
	}
	if len(c.Arches) == 0 {
		return fmt.Errorf("no target architecture")
	}
	if _, err := c.Targets(); err != nil {
		return err
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

// Targets 返回目标架构，空字符串表示当前架构，重复的架构只保留一个
func (c Config) Targets() ([]*seccomp.Arch, error) {
	arches := make([]*seccomp.Arch, 0, len(c.Arches))
	seen := make(map[string]bool)
	for _, name := range c.Arches {
		arch, err := seccomp.LookupArch(name)
		if err != nil {
			return nil, err
		}
		if seen[arch.Name] {
			continue
		}
		seen[arch.Name] = true
		arches = append(arches, arch)
	}
	return arches, nil
}

// Options 返回对应的编译选项
func (c Config) Options(logger logrus.FieldLogger) compiler.Options {
	return compiler.Options{
		Strategy:          c.Strategy,
		KillAction:        c.KillAction,
		IncludeDepthLimit: c.IncludeDepthLimit,
		Logger:            logger,
	}
}

func (c Config) String() string {
	return fmt.Sprintf("Config{Arches: [%s], Strategy: %v, KillAction: %v, IncludeDepthLimit: %d, Output: %s}",
		strings.Join(c.Arches, ", "), c.Strategy, c.KillAction, c.IncludeDepthLimit, c.Output)
}
