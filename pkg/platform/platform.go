// Package platform defines the board-support boundary: the set of
// interfaces a concrete chip implementation must satisfy for the kernel
// package's main loop to drive it. The separation follows gvisor's
// pkg/sentry/platform: the kernel's view of what a platform must do lives
// apart from any one platform's implementation; here the platform is a
// simulated embedded chip rather than a process-isolation backend, but the
// boundary is the same.
package platform

import "time"

// Chip is a board's view of its own hardware: the interrupt and
// deferred-call surfaces the kernel main loop drains between process
// timeslices, plus the ability to sleep when there is nothing to do.
type Chip interface {
	// HasPendingInterrupts reports whether any peripheral has raised an
	// interrupt the kernel has not yet serviced.
	HasPendingInterrupts() bool

	// ServicePendingInterrupts runs pending interrupt handlers; an
	// implementation may run only some of them per call (hostchip runs
	// one). Called repeatedly by the main loop until HasPendingInterrupts
	// reports false.
	ServicePendingInterrupts()

	// HasPendingDeferredCalls reports whether any capsule has scheduled
	// deferred (bottom-half) work still waiting to run.
	HasPendingDeferredCalls() bool

	// ServicePendingDeferredCalls runs pending deferred-call handlers; an
	// implementation may run only some of them per call (hostchip runs
	// one). The main loop calls it repeatedly while deferred calls remain
	// and no interrupt is pending.
	ServicePendingDeferredCalls()

	// Sleep blocks the main loop until the next interrupt arrives, the
	// way a real chip would enter a low-power wait-for-interrupt state.
	Sleep()

	// QuantumUS reports how many simulated microseconds of process
	// execution time the most recent SwitchTo call consumed, used to
	// account against the scheduler's timeslice.
	QuantumUS() uint32

	MPU() MPU
	SchedulerTimer() SchedulerTimer
	WatchDog() WatchDog
}

// MPU models a memory protection unit: the mechanism that would, on real
// hardware, fence a process's memory accesses to its assigned regions. A
// hosted kernel has no hardware MPU, so this interface exists to preserve
// Tock's region-allocation protocol; pkg/hostchip's backend backs its
// regions with mprotect'd pages. The kernel allocates no MPU regions for
// processes: StandardProcess enforces bounds with plain slice arithmetic.
type MPU interface {
	// NumberTotalRegions reports how many hardware regions this MPU
	// provides.
	NumberTotalRegions() int

	// AllocateRegion reserves a region at least minSize bytes large, at
	// least minAlign-byte aligned, somewhere within [regionStart,
	// regionStart+regionSize). It returns the region's actual base and
	// size, or ok=false if no region is available.
	AllocateRegion(regionStart, regionSize, minSize, minAlign int) (base, size int, ok bool)

	// FreeRegion releases a region previously returned by
	// AllocateRegion.
	FreeRegion(base, size int)

	// EnableAppMPU turns on enforcement of the current process's region
	// configuration just before the kernel context-switches into it.
	EnableAppMPU()

	// DisableAppMPU turns enforcement back off. The kernel calls this on
	// every return from userspace, before running any handler code.
	DisableAppMPU()
}

// SchedulerTimer is the hardware timer the scheduler arms to interrupt a
// process's timeslice, following Tock's
// kernel::platform::scheduler_timer::SchedulerTimer contract.
type SchedulerTimer interface {
	// Start arms the timer to fire after d.
	Start(d time.Duration)

	// SetTimer is like Start but measured directly in microseconds, the
	// unit the scheduler's SchedulingDecision carries.
	SetTimer(us uint32)

	// Arm enables the previously configured timer.
	Arm()

	// Disarm prevents the currently configured timer from firing
	// without resetting its remaining duration.
	Disarm()

	// Reset disarms the timer and clears any configured duration.
	Reset()

	// Expired reports whether the armed timer has already fired.
	Expired() bool

	// RemainingUS reports how many microseconds are left before the
	// armed timer fires, or 0 if it has already expired.
	RemainingUS() uint32
}

// WatchDog is the hardware watchdog a board kicks once per main-loop
// iteration; if the loop stalls for long enough that nothing kicks it, a
// real chip would reset itself. The host simulation logs instead of
// resetting the process.
type WatchDog interface {
	SetUp()
	Tickle()
	Suspend()
	Resume()
}
