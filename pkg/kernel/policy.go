package kernel

import (
	log "github.com/sirupsen/logrus"

	"github.com/talismancer/tockgo/pkg/arch"
)

// SyscallFilter is consulted before Subscribe, Command and Allow syscalls
// are dispatched. Returning a non-nil error (ideally an
// errorcode.ErrorCode) rejects the syscall; the process receives the error
// and keeps the rest of its timeslice. Yield, Exit and Memop are never
// filtered.
type SyscallFilter interface {
	Filter(proc Process, sc arch.Syscall) error
}

// ContextSwitchCallback is invoked immediately before every context switch
// into a process, while the kernel still owns the CPU. Implementations must
// not block.
type ContextSwitchCallback interface {
	ContextSwitch(proc Process)
}

// FaultPolicy decides what the kernel should do about a process that just
// faulted. Implementations may inspect the process (for instance its
// restart count) and may log but must not block.
type FaultPolicy interface {
	Action(proc Process) FaultAction
}

// PanicFaultPolicy brings the whole board down on any fault. Useful while
// debugging a single application, since the fault is visible the instant it
// happens.
type PanicFaultPolicy struct{}

func (PanicFaultPolicy) Action(Process) FaultAction { return FaultPanic }

// StopFaultPolicy stops a faulting process and never schedules it again.
type StopFaultPolicy struct{}

func (StopFaultPolicy) Action(Process) FaultAction { return FaultStop }

// StopWithDebugFaultPolicy behaves like StopFaultPolicy but logs the fault
// first.
type StopWithDebugFaultPolicy struct {
	Logger *log.Logger
}

func (p StopWithDebugFaultPolicy) Action(proc Process) FaultAction {
	logger := p.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	logger.WithField("process", proc.Name()).Warn("process faulted and was stopped")
	return FaultStop
}

// RestartFaultPolicy always restarts a faulting process.
type RestartFaultPolicy struct{}

func (RestartFaultPolicy) Action(Process) FaultAction { return FaultRestart }

// ThresholdRestartFaultPolicy restarts a faulting process up to Threshold
// times, then stops it permanently.
type ThresholdRestartFaultPolicy struct {
	Threshold int
}

func (p ThresholdRestartFaultPolicy) Action(proc Process) FaultAction {
	if proc.RestartCount() < p.Threshold {
		return FaultRestart
	}
	return FaultStop
}

// ThresholdRestartThenPanicFaultPolicy restarts a faulting process up to
// Threshold times, then brings the whole board down.
type ThresholdRestartThenPanicFaultPolicy struct {
	Threshold int
}

func (p ThresholdRestartThenPanicFaultPolicy) Action(proc Process) FaultAction {
	if proc.RestartCount() < p.Threshold {
		return FaultRestart
	}
	return FaultPanic
}
