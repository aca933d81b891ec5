package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/zqzqsb/seccompiler/pkg/seccomp"
)

type compileCmd struct {
	commonFlags
}

func (*compileCmd) Name() string     { return "compile" }
func (*compileCmd) Synopsis() string { return "compile a policy into a binary BPF filter" }
func (*compileCmd) Usage() string {
	return fmt.Sprintf(`compile [flags] <policy> [output]:
  Compile the policy for every target architecture (host: %s).
  With several targets, output is a directory receiving <arch>.bpf.
`, hostArch())
}

func (c *compileCmd) SetFlags(f *flag.FlagSet) {
	c.register(f)
}

func (c *compileCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() < 1 || f.NArg() > 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	cfg, err := c.load()
	if err != nil {
		return failure("%v", err)
	}
	policyPath := f.Arg(0)
	output := cfg.Output
	if f.NArg() == 2 {
		output = f.Arg(1)
	}
	if output == "" {
		return failure("no output path")
	}

	cs, err := compilers(cfg)
	if err != nil {
		return failure("%v", err)
	}

	// 各架构的编译互不相关，并行进行；任何一个失败都不写出结果
	filters := make([]seccomp.Filter, len(cs))
	g, _ := errgroup.WithContext(ctx)
	for i, pc := range cs {
		i, pc := i, pc
		g.Go(func() error {
			log := logrus.WithField("arch", pc.Arch().Name)
			prog, err := pc.CompileFile(policyPath, cfg.Options(log))
			if err != nil {
				return fmt.Errorf("%s: %w", pc.Arch().Name, err)
			}
			if filters[i], err = prog.Filter(); err != nil {
				return fmt.Errorf("%s: %w", pc.Arch().Name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return failure("%v", err)
	}

	if len(cs) == 1 {
		if err := writeFilter(output, filters[0]); err != nil {
			return failure("%v", err)
		}
		return subcommands.ExitSuccess
	}
	if err := os.MkdirAll(output, 0o755); err != nil {
		return failure("%v", err)
	}
	for i, pc := range cs {
		if err := writeFilter(filepath.Join(output, pc.Arch().Name+".bpf"), filters[i]); err != nil {
			return failure("%v", err)
		}
	}
	return subcommands.ExitSuccess
}

func writeFilter(path string, filter seccomp.Filter) error {
	if err := os.WriteFile(path, filter.Bytes(), 0o644); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"path":         path,
		"instructions": len(filter),
	}).Info("filter written")
	return nil
}
