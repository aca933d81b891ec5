package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/bpf"

	"github.com/zqzqsb/seccompiler/pkg/seccomp"
)

type dumpCmd struct {
	commonFlags
	binary bool
}

func (*dumpCmd) Name() string     { return "dump" }
func (*dumpCmd) Synopsis() string { return "disassemble a policy or a compiled filter" }
func (*dumpCmd) Usage() string {
	return `dump [flags] <policy|filter>:
  Print the BPF program compiled from a policy, or with -binary the
  program stored in a filter file written by compile.
`
}

func (c *dumpCmd) SetFlags(f *flag.FlagSet) {
	c.register(f)
	f.BoolVar(&c.binary, "binary", false, "the argument is a compiled filter")
}

func (c *dumpCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	cfg, err := c.load()
	if err != nil {
		return failure("%v", err)
	}

	if c.binary {
		b, err := os.ReadFile(f.Arg(0))
		if err != nil {
			return failure("%v", err)
		}
		filter, err := seccomp.ReadFilter(b)
		if err != nil {
			return failure("%v", err)
		}
		insns, ok := bpf.Disassemble(filter.RawInstructions())
		if !ok {
			logrus.Warn("filter contains instructions that could not be decoded")
		}
		for i, ins := range insns {
			fmt.Printf("%04d: %v\n", i, ins)
		}
		return subcommands.ExitSuccess
	}

	cs, err := compilers(cfg)
	if err != nil {
		return failure("%v", err)
	}
	for _, pc := range cs {
		prog, err := pc.CompileFile(f.Arg(0), cfg.Options(logrus.WithField("arch", pc.Arch().Name)))
		if err != nil {
			return failure("%v", err)
		}
		fmt.Printf("# %s: %d instructions\n%s", pc.Arch().Name, prog.Len(), prog)
	}
	return subcommands.ExitSuccess
}
