// Package sim assembles the reference board: a hostchip.Chip, a kernel.Kernel,
// the console capsule, and a round-robin scheduler, the way a real Tock
// board's main.rs wires its chip and capsules together before handing
// control to the kernel loop.
package sim

import (
	"io"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/talismancer/tockgo/pkg/drivers/console"
	"github.com/talismancer/tockgo/pkg/hostchip"
	"github.com/talismancer/tockgo/pkg/kernel"
	"github.com/talismancer/tockgo/pkg/kernel/scheduler"
)

// Config controls how a Board is assembled.
type Config struct {
	ProcessSlots    int
	ConsoleOut      io.Writer
	ChipArenaBytes  int
	MPURegionCount  int
	WatchdogTimeout time.Duration
	FaultPolicy     kernel.FaultPolicy
	Logger          *log.Logger
}

// DefaultConfig returns sane defaults for a small board: 8 process slots, a
// 1MiB MPU arena with 8 regions, console output to the given writer, a
// 5-second watchdog, and a stop-on-fault policy.
func DefaultConfig(consoleOut io.Writer) Config {
	return Config{
		ProcessSlots:    8,
		ConsoleOut:      consoleOut,
		ChipArenaBytes:  1 << 20,
		MPURegionCount:  8,
		WatchdogTimeout: 5 * time.Second,
		FaultPolicy:     kernel.StopFaultPolicy{},
	}
}

// Board is the assembled reference platform: its kernel, chip and
// scheduler, ready to run processes. The board holds the capability set it
// minted at assembly; nothing outside this package (and the Kernel itself)
// ever sees it.
type Board struct {
	Kernel    *kernel.Kernel
	Chip      *hostchip.Chip
	Scheduler *scheduler.RoundRobin
	Console   *console.Console
	Info      kernel.Info
	caps      kernel.BoardCapabilities
	logger    *log.Logger
}

// New assembles a Board from cfg.
func New(cfg Config) (*Board, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}

	chip, err := hostchip.New(hostchip.Config{
		ArenaSize:       cfg.ChipArenaBytes,
		MPURegionCount:  cfg.MPURegionCount,
		WatchdogTimeout: cfg.WatchdogTimeout,
	})
	if err != nil {
		return nil, err
	}

	caps := kernel.NewBoardCapabilities()
	drivers := kernel.NewDriverTable()
	k := kernel.New(cfg.ProcessSlots, drivers, cfg.FaultPolicy)
	k.SetLogger(logger)

	cons := console.New(k, cfg.ConsoleOut, caps.MemoryAllocation)
	drivers.Register(console.DriverNum, cons)

	return &Board{
		Kernel:    k,
		Chip:      chip,
		Scheduler: scheduler.NewRoundRobin(),
		Console:   cons,
		Info:      kernel.NewInfo(k),
		caps:      caps,
		logger:    logger,
	}, nil
}

// StartProcess loads program into the board's process table, named name,
// with ramSize bytes of simulated RAM, and registers it with the
// scheduler. It returns the process's handle.
func (b *Board) StartProcess(name string, program kernel.Program, ramSize int) (kernel.ProcessID, bool) {
	id, ok := b.Kernel.StartProcess(b.caps.ProcessManagement, func(id kernel.ProcessID) kernel.Process {
		return kernel.NewStandardProcess(b.Kernel, id, name, program, ramSize)
	})
	if !ok {
		return kernel.ProcessID{}, false
	}
	if proc, ok := b.Kernel.Process(id); ok {
		proc.Start()
	}
	b.Scheduler.Register(id)
	return id, true
}

// Run drives the board's kernel loop forever.
func (b *Board) Run() {
	b.logger.Info("board sim starting kernel loop")
	b.Kernel.Run(b.caps.MainLoop, b.Chip, b.Scheduler)
}

// RunOnce drives exactly one main loop iteration with the sleep path
// skipped, for tests and the tockctl CLI's step mode.
func (b *Board) RunOnce() {
	b.Kernel.RunOnce(b.caps.MainLoop, b.Chip, b.Scheduler, true)
}

// Close releases the board's backing resources.
func (b *Board) Close() error {
	return b.Chip.Close()
}
