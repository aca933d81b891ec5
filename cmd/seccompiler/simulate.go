package main

import (
	"context"
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"github.com/zqzqsb/seccompiler/pkg/policy"
	"github.com/zqzqsb/seccompiler/pkg/seccomp"
)

type simulateCmd struct {
	commonFlags
	check bool
}

func (*simulateCmd) Name() string     { return "simulate" }
func (*simulateCmd) Synopsis() string { return "run a compiled policy against one syscall" }
func (*simulateCmd) Usage() string {
	return `simulate [flags] <policy> <syscall> [args...]:
  Compile the policy and run it in the BPF VM. <syscall> is a name or a number,
  args are integers (decimal, 0x hex, 0 octal or negative).
`
}

func (c *simulateCmd) SetFlags(f *flag.FlagSet) {
	c.register(f)
	f.BoolVar(&c.check, "check", false, "also evaluate the policy directly and compare")
}

func (c *simulateCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() < 2 || f.NArg() > 2+seccomp.MaxArgs {
		f.Usage()
		return subcommands.ExitUsageError
	}
	cfg, err := c.load()
	if err != nil {
		return failure("%v", err)
	}
	cs, err := compilers(cfg)
	if err != nil {
		return failure("%v", err)
	}

	args := make([]uint64, 0, f.NArg()-2)
	for _, s := range f.Args()[2:] {
		v, err := parseInt(s)
		if err != nil {
			return failure("argument %q: %v", s, err)
		}
		args = append(args, v)
	}

	for _, pc := range cs {
		arch := pc.Arch()
		nr, err := syscallNumber(arch, f.Arg(1))
		if err != nil {
			return failure("%v", err)
		}
		opts := cfg.Options(logrus.WithField("arch", arch.Name))
		prog, err := pc.CompileFile(f.Arg(0), opts)
		if err != nil {
			return failure("%v", err)
		}
		action, err := prog.Simulate(arch, nr, args...)
		if err != nil {
			return failure("%v", err)
		}
		fmt.Printf("%s\t%s(%d)\t%v\n", arch.Name, f.Arg(1), nr, action)

		if c.check {
			file, err := policy.NewParser(arch, opts.KillAction, opts.IncludeDepthLimit).ParseFile(f.Arg(0))
			if err != nil {
				return failure("%v", err)
			}
			if want := policy.Evaluate(file, nr, args...); want != action {
				return failure("%s: compiled filter returned %v, policy evaluates to %v", arch.Name, action, want)
			}
		}
	}
	return subcommands.ExitSuccess
}

func syscallNumber(arch *seccomp.Arch, s string) (uint32, error) {
	if nr, ok := arch.SyscallNumber(s); ok {
		return nr, nil
	}
	nr, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q on %v", policy.ErrUnknownSyscall, s, arch)
	}
	return uint32(nr), nil
}

func parseInt(s string) (uint64, error) {
	if strings.HasPrefix(s, "-") {
		v, err := strconv.ParseInt(s, 0, 64)
		return uint64(v), err
	}
	return strconv.ParseUint(s, 0, 64)
}
