// Command seccompiler 将 seccomp 策略编译为 BPF 过滤器
//
// 用法：
//
//	seccompiler compile [flags] <policy> [output]
//	seccompiler simulate [flags] <policy> <syscall> [args...]
//	seccompiler dump [flags] <policy|filter>
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"github.com/zqzqsb/seccompiler/pkg/compiler"
	"github.com/zqzqsb/seccompiler/pkg/config"
	"github.com/zqzqsb/seccompiler/pkg/seccomp"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(&compileCmd{}, "")
	subcommands.Register(&simulateCmd{}, "")
	subcommands.Register(&dumpCmd{}, "")

	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}

// commonFlags 是各个子命令共用的参数，命令行参数覆盖配置文件
type commonFlags struct {
	configPath   string
	arches       string
	strategy     string
	killAction   string
	includeDepth int
	logLevel     string
}

func (c *commonFlags) register(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "config", "", "path to seccompiler.toml")
	f.StringVar(&c.arches, "arch", "", "comma separated target architectures (default: host)")
	f.StringVar(&c.strategy, "strategy", "", "dispatch strategy: linear or bst")
	f.StringVar(&c.killAction, "kill-action", "", "action on violation, e.g. kill-process, kill-thread, trap, errno EPERM")
	f.IntVar(&c.includeDepth, "include-depth", -1, "maximum include nesting depth")
	f.StringVar(&c.logLevel, "log-level", "", "log level")
}

// load 读取配置文件并应用命令行参数，同时设置日志
func (c *commonFlags) load() (config.Config, error) {
	cfg := config.DefaultConfig()
	if c.configPath != "" {
		var err error
		if cfg, err = config.LoadConfig(c.configPath); err != nil {
			return cfg, err
		}
	}
	if c.arches != "" {
		cfg.Arches = strings.Split(c.arches, ",")
	}
	if c.strategy != "" {
		if err := cfg.Strategy.Set(c.strategy); err != nil {
			return cfg, err
		}
	}
	if c.killAction != "" {
		if err := cfg.KillAction.Set(c.killAction); err != nil {
			return cfg, err
		}
	}
	if c.includeDepth >= 0 {
		cfg.IncludeDepthLimit = c.includeDepth
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return cfg, err
	}
	logrus.SetOutput(os.Stderr)
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.WithField("config", cfg).Debug("configuration loaded")
	return cfg, nil
}

// compilers 为每个目标架构创建编译器
func compilers(cfg config.Config) ([]*compiler.PolicyCompiler, error) {
	arches, err := cfg.Targets()
	if err != nil {
		return nil, err
	}
	cs := make([]*compiler.PolicyCompiler, 0, len(arches))
	for _, arch := range arches {
		cs = append(cs, compiler.NewPolicyCompiler(arch))
	}
	return cs, nil
}

func failure(format string, args ...interface{}) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, "seccompiler: "+format+"\n", args...)
	return subcommands.ExitFailure
}

// hostArch 返回当前架构，仅用于帮助信息
func hostArch() string {
	arch, err := seccomp.HostArch()
	if err != nil {
		return "unknown"
	}
	return arch.Name
}
