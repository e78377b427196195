package kernel

import "github.com/talismancer/tockgo/pkg/platform"

// StoppedExecutingReason is why the kernel last took control back from a
// running process, reported to the scheduler's Result method so it can
// account for how much of the process's timeslice was actually used.
type StoppedExecutingReason int

const (
	// StoppedNoWorkLeft: the process yielded with an empty task queue (or
	// otherwise has nothing to run).
	StoppedNoWorkLeft StoppedExecutingReason = iota
	// StoppedFaulted: the process faulted and the fault policy ran.
	StoppedFaulted
	// StoppedStopped: the process was stopped externally.
	StoppedStopped
	// StoppedTimesliceExpired: the process used up its whole timeslice.
	StoppedTimesliceExpired
	// StoppedKernelPreemption: the scheduler revoked the rest of the
	// timeslice, usually because kernel work became pending.
	StoppedKernelPreemption
)

// SchedulingDecision is what Scheduler.Next hands back to the main loop:
// either a process to run next, with an optional timeslice in
// microseconds, or an instruction to try sleeping the kernel thread because
// no process is currently ready.
type SchedulingDecision struct {
	TrySleep    bool
	Next        ProcessID
	TimesliceUS *uint32
}

// Scheduler picks which ready process runs next and is told how that
// process's last run ended. Implementations must not block: every method
// runs on the kernel's single dispatch thread. Policies that only care
// about process selection embed SchedulerDefaults for the kernel-work
// methods.
type Scheduler interface {
	// Next returns the next process to run, with an optional timeslice,
	// or TrySleep. It must only offer a ready process.
	Next(k *Kernel) SchedulingDecision

	// Result is called after every execution episode with its outcome.
	Result(reason StoppedExecutingReason, executionTimeUS *uint32)

	// DoKernelWorkNow reports whether interrupt bottom halves and
	// deferred calls should run before the next process is scheduled.
	DoKernelWorkNow(chip platform.Chip) bool

	// ExecuteKernelWork services the chip's pending interrupts and
	// deferred calls.
	ExecuteKernelWork(chip platform.Chip)

	// ContinueProcess reports whether the process may keep its timeslice
	// despite control having returned to the kernel mid-episode.
	ContinueProcess(id ProcessID, chip platform.Chip) bool
}

// SchedulerDefaults provides the default kernel-work behavior shared by
// every policy that does not override it: service interrupts and deferred
// calls as soon as they are pending, and preempt a process whenever either
// is pending.
type SchedulerDefaults struct{}

func (SchedulerDefaults) DoKernelWorkNow(chip platform.Chip) bool {
	return chip.HasPendingInterrupts() || chip.HasPendingDeferredCalls()
}

func (SchedulerDefaults) ExecuteKernelWork(chip platform.Chip) {
	for chip.HasPendingInterrupts() {
		chip.ServicePendingInterrupts()
	}
	// Deferred calls run only while no fresh interrupt needs the top
	// half serviced first.
	for !chip.HasPendingInterrupts() && chip.HasPendingDeferredCalls() {
		chip.ServicePendingDeferredCalls()
	}
}

func (SchedulerDefaults) ContinueProcess(_ ProcessID, chip platform.Chip) bool {
	return !chip.HasPendingInterrupts() && !chip.HasPendingDeferredCalls()
}
