// Command tockctl is the reference board's command-line entry point: it
// assembles a board/sim.Board, loads a single greeting process, and either
// runs the kernel loop or reports introspection data:
// a subcommands.Commander built from a handful of small Command
// implementations.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	log "github.com/sirupsen/logrus"

	"github.com/talismancer/tockgo/board/sim"
	"github.com/talismancer/tockgo/pkg/kernel"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&runCmd{}, "")
	subcommands.Register(&driversCmd{}, "")
	subcommands.Register(&describeProcessCmd{}, "")

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}

func newBoard() (*sim.Board, error) {
	return sim.New(sim.DefaultConfig(os.Stdout))
}

// runCmd starts the reference board with a single greeting process loaded
// and drives its kernel loop until interrupted.
type runCmd struct {
	iterations int
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "run the reference board's kernel loop" }
func (*runCmd) Usage() string {
	return "run [-iterations N]: start the board and drive its scheduler\n"
}
func (c *runCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.iterations, "iterations", 0, "stop after N main-loop iterations (0 = run forever)")
}

func (c *runCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	b, err := newBoard()
	if err != nil {
		fmt.Fprintln(os.Stderr, "tockctl: building board:", err)
		return subcommands.ExitFailure
	}
	defer b.Close()

	if _, ok := b.StartProcess("hello", sim.EchoProgram{Message: "hello from tockgo\n"}, 4096); !ok {
		fmt.Fprintln(os.Stderr, "tockctl: no free process slot")
		return subcommands.ExitFailure
	}

	if c.iterations > 0 {
		for i := 0; i < c.iterations; i++ {
			b.RunOnce()
		}
		return subcommands.ExitSuccess
	}
	b.Run()
	return subcommands.ExitSuccess
}

// driversCmd lists the driver numbers the reference board registers.
type driversCmd struct{}

func (*driversCmd) Name() string             { return "drivers" }
func (*driversCmd) Synopsis() string         { return "list registered syscall driver numbers" }
func (*driversCmd) Usage() string            { return "drivers: list the board's registered capsules\n" }
func (*driversCmd) SetFlags(*flag.FlagSet)   {}

func (*driversCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	b, err := newBoard()
	if err != nil {
		fmt.Fprintln(os.Stderr, "tockctl: building board:", err)
		return subcommands.ExitFailure
	}
	defer b.Close()
	if _, ok := b.Kernel.Drivers().Lookup(0x1); ok {
		fmt.Println("0x1  console")
	}
	return subcommands.ExitSuccess
}

// describeProcessCmd runs a board for a handful of iterations and dumps
// the introspection counters for its loaded processes, the CLI-facing use
// of pkg/kernel's Info type.
type describeProcessCmd struct {
	iterations int
}

func (*describeProcessCmd) Name() string     { return "describe-process" }
func (*describeProcessCmd) Synopsis() string { return "dump debug counters for loaded processes" }
func (*describeProcessCmd) Usage() string {
	return "describe-process [-iterations N]: run briefly then report process debug counters\n"
}
func (c *describeProcessCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.iterations, "iterations", 50, "main-loop iterations to run before reporting")
}

func (c *describeProcessCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	b, err := newBoard()
	if err != nil {
		fmt.Fprintln(os.Stderr, "tockctl: building board:", err)
		return subcommands.ExitFailure
	}
	defer b.Close()

	id, ok := b.StartProcess("hello", sim.EchoProgram{Message: "hello from tockgo\n"}, 4096)
	if !ok {
		fmt.Fprintln(os.Stderr, "tockctl: no free process slot")
		return subcommands.ExitFailure
	}
	for i := 0; i < c.iterations; i++ {
		b.RunOnce()
	}

	describe(b.Info, id)
	return subcommands.ExitSuccess
}

func describe(info kernel.Info, id kernel.ProcessID) {
	used, total := info.NumberAppGrantUses(id)
	fmt.Printf("process:            %s\n", info.ProcessName(id))
	fmt.Printf("syscalls:           %d\n", info.NumberAppSyscalls(id))
	fmt.Printf("dropped upcalls:    %d\n", info.NumberAppDroppedUpcalls(id))
	fmt.Printf("restarts:           %d\n", info.NumberAppRestarts(id))
	fmt.Printf("timeslice expires:  %d\n", info.NumberAppTimesliceExpirations(id))
	fmt.Printf("grants used/total:  %d/%d\n", used, total)
}
