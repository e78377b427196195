package kernel

import (
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/talismancer/tockgo/pkg/arch"
	"github.com/talismancer/tockgo/pkg/errorcode"
	"github.com/talismancer/tockgo/pkg/platform"
)

// minQuantaThresholdUS is the smallest remaining timeslice, in simulated
// microseconds, worth re-entering a process for. A process with this much or
// less left is reported expired instead of being context-switched back in.
const minQuantaThresholdUS = 500

// Kernel is the scheduling and syscall-dispatch orchestrator: it owns the
// process table, drives the main loop, and is the only thing that talks to
// both a Scheduler and a FaultPolicy. Like gvisor's
// pkg/sentry/kernel.Kernel, it is the single struct every syscall-adjacent
// subsystem is constructed around.
type Kernel struct {
	mu        sync.Mutex
	processes []Process
	nextGen   uint64
	work      int64
	driverTbl *DriverTable
	fault     FaultPolicy
	filter    SyscallFilter
	hook      ContextSwitchCallback
	logger    *log.Logger

	grantCount         int
	grantsFinalized    bool
	grantIndexByDriver map[uintptr]int
}

// New creates an empty Kernel. capacity is the size of its process slot
// table.
func New(capacity int, driverTbl *DriverTable, fault FaultPolicy) *Kernel {
	if driverTbl == nil {
		driverTbl = NewDriverTable()
	}
	if fault == nil {
		fault = StopFaultPolicy{}
	}
	return &Kernel{
		processes:          make([]Process, capacity),
		driverTbl:          driverTbl,
		fault:              fault,
		logger:             log.StandardLogger(),
		grantIndexByDriver: make(map[uintptr]int),
	}
}

// SetLogger overrides the logger used for kernel-level diagnostics.
func (k *Kernel) SetLogger(l *log.Logger) { k.logger = l }

// SetSyscallFilter installs f as the policy consulted before dispatching
// Subscribe, Command and Allow syscalls. A nil filter allows everything.
func (k *Kernel) SetSyscallFilter(f SyscallFilter) { k.filter = f }

// SetContextSwitchCallback installs h to be invoked immediately before every
// context switch into a process.
func (k *Kernel) SetContextSwitchCallback(h ContextSwitchCallback) { k.hook = h }

// adjustWork tracks the kernel's outstanding-work count: the number of
// Running processes plus the number of tasks queued across all processes.
// The main loop reads it, rather than scanning every slot, to decide
// whether it is safe to let the chip sleep.
func (k *Kernel) adjustWork(delta int64) { atomic.AddInt64(&k.work, delta) }

// ProcessesBlocked reports whether no process can currently make progress
// without an external event: none are Running and no tasks are queued.
func (k *Kernel) ProcessesBlocked() bool { return atomic.LoadInt64(&k.work) == 0 }

// declareGrant hands out the next unique grant index, or aborts if a
// process has already been loaded: the grant index space must be fixed
// before any process's grant-pointer table is sized.
func (k *Kernel) declareGrant(driverNum uintptr) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.grantsFinalized {
		k.logger.Panic("grant region requested after processes were loaded")
	}
	idx := k.grantCount
	k.grantCount++
	k.grantIndexByDriver[driverNum] = idx
	return idx
}

// grantIndexForDriver resolves the grant index declared for driverNum.
func (k *Kernel) grantIndexForDriver(driverNum uintptr) (int, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	idx, ok := k.grantIndexByDriver[driverNum]
	return idx, ok
}

// GrantsFinalized reports whether the first process has been loaded, after
// which no further grants may be declared.
func (k *Kernel) GrantsFinalized() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.grantsFinalized
}

// StartProcess installs the process newProc builds into the first free slot
// of the process table and returns its handle, or ok=false if the table is
// full. Loading the first process finalizes the grant index space.
func (k *Kernel) StartProcess(_ ProcessManagementCapability, newProc func(id ProcessID) Process) (ProcessID, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.grantsFinalized = true
	for i, p := range k.processes {
		if p == nil {
			k.nextGen++
			id := ProcessID{kernel: k, slot: i, generation: k.nextGen}
			proc := newProc(id)
			k.processes[i] = proc
			return id, true
		}
	}
	return ProcessID{}, false
}

// bumpGeneration mints a fresh handle for slot, invalidating every handle
// from the process's previous incarnation.
func (k *Kernel) bumpGeneration(slot int) ProcessID {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.nextGen++
	return ProcessID{kernel: k, slot: slot, generation: k.nextGen}
}

func (k *Kernel) handleValid(id ProcessID) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if id.slot < 0 || id.slot >= len(k.processes) {
		return false
	}
	p := k.processes[id.slot]
	return p != nil && p.ProcessID().generation == id.generation
}

// Process resolves id to its live Process, or ok=false if the handle no
// longer names a live slot.
func (k *Kernel) Process(id ProcessID) (Process, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if id.slot < 0 || id.slot >= len(k.processes) {
		return nil, false
	}
	p := k.processes[id.slot]
	if p == nil || p.ProcessID().generation != id.generation {
		return nil, false
	}
	return p, true
}

// ProcessMapOr runs fn against the process id names if it is still live,
// returning its result, or returns deflt if the handle is stale.
func ProcessMapOr[T any](k *Kernel, id ProcessID, deflt T, fn func(Process) T) T {
	p, ok := k.Process(id)
	if !ok {
		return deflt
	}
	return fn(p)
}

// Drivers returns the kernel's driver table, so a board can register
// capsules against it before starting the main loop.
func (k *Kernel) Drivers() *DriverTable { return k.driverTbl }

// ProcessEach calls fn once for every occupied process slot, in slot
// order. fn must not call back into the Kernel.
func (k *Kernel) ProcessEach(fn func(Process)) {
	k.mu.Lock()
	procs := make([]Process, 0, len(k.processes))
	for _, p := range k.processes {
		if p != nil {
			procs = append(procs, p)
		}
	}
	k.mu.Unlock()
	for _, p := range procs {
		fn(p)
	}
}

// ScheduleIPC enqueues an IPC-delivery task for target, notifying it that
// from has a message waiting. A failed enqueue (queue full, target
// terminated or faulted) bumps the target's dropped-upcall counter and is
// otherwise swallowed; a stale target handle is ignored without touching
// any counter. The IPC subsystem's bookkeeping must never let one process's
// behavior surface as an error in an unrelated one.
func (k *Kernel) ScheduleIPC(target, from ProcessID) {
	proc, ok := k.Process(target)
	if !ok {
		return
	}
	if err := proc.EnqueueTask(Task{IsIPC: true, IPCFrom: from}); err != nil {
		proc.NoteUpcallDropped()
	}
}

// Run drives the kernel loop forever: repeatedly asking the scheduler what
// to do next, running a process's timeslice through doProcess, and
// servicing chip-level interrupt work between timeslices, the shape of
// Tock's Kernel::kernel_loop.
func (k *Kernel) Run(cap MainLoopCapability, chip platform.Chip, sched Scheduler) {
	for {
		k.kernelLoopOperation(chip, sched, false)
	}
}

// RunOnce drives exactly one iteration of the loop body Run otherwise
// repeats forever; exported so tests and the `tockctl run` subcommand can
// step the kernel deterministically. noSleep skips the sleep path so a
// stepped kernel never blocks waiting for simulated hardware.
func (k *Kernel) RunOnce(cap MainLoopCapability, chip platform.Chip, sched Scheduler, noSleep bool) {
	k.kernelLoopOperation(chip, sched, noSleep)
}

func (k *Kernel) kernelLoopOperation(chip platform.Chip, sched Scheduler, noSleep bool) {
	chip.WatchDog().Tickle()

	if sched.DoKernelWorkNow(chip) {
		sched.ExecuteKernelWork(chip)
		return
	}

	decision := sched.Next(k)
	if decision.TrySleep {
		if noSleep {
			return
		}
		// Re-check for work that raced in after the scheduler decided;
		// only a genuinely idle chip may be put to sleep. The watchdog
		// is suspended across the sleep so an idle board is not
		// mistaken for a stalled one.
		if !chip.HasPendingInterrupts() && !chip.HasPendingDeferredCalls() {
			wd := chip.WatchDog()
			wd.Suspend()
			chip.Sleep()
			wd.Resume()
		}
		return
	}

	proc, ok := k.Process(decision.Next)
	if !ok {
		sched.Result(StoppedNoWorkLeft, nil)
		return
	}
	reason, timeUsedUS := k.doProcess(chip, sched, proc, decision.Next, decision.TimesliceUS)
	sched.Result(reason, timeUsedUS)
}

// doProcess runs one scheduling episode of proc, up to timesliceUS
// microseconds of chip-reported execution time, and returns why the episode
// ended plus how much of the timeslice was used. On every exit path the app
// MPU is disabled and the scheduler timer is disarmed and reset.
func (k *Kernel) doProcess(chip platform.Chip, sched Scheduler, proc Process, pid ProcessID, timesliceUS *uint32) (StoppedExecutingReason, *uint32) {
	switch proc.GetState() {
	case Faulted, Terminated:
		k.logger.WithField("process", proc.Name()).Panic("scheduler selected a dead process")
	}

	timer := chip.SchedulerTimer()
	mpu := chip.MPU()
	var used uint32
	var remaining uint32
	if timesliceUS != nil {
		remaining = *timesliceUS
	}
	defer func() {
		if timer != nil {
			timer.Reset()
		}
		if mpu != nil {
			mpu.DisableAppMPU()
		}
	}()

	for {
		if timesliceUS != nil && remaining <= minQuantaThresholdUS {
			proc.DebugTimesliceExpired()
			elapsed := *timesliceUS
			return StoppedTimesliceExpired, &elapsed
		}
		if !sched.ContinueProcess(pid, chip) {
			return StoppedKernelPreemption, &used
		}

		switch proc.GetState() {
		case Running:
			// Deliver a task to a process parked in yield-wait before
			// switching in, so its goroutine is unblocked and moving
			// toward its next trap.
			proc.ResolvePendingYield()

			if k.hook != nil {
				k.hook.ContextSwitch(proc)
			}
			if mpu != nil {
				mpu.EnableAppMPU()
			}
			if timer != nil && timesliceUS != nil {
				timer.SetTimer(remaining)
				timer.Arm()
			}
			reason, ok := proc.SwitchTo()
			if timer != nil {
				timer.Disarm()
			}
			if mpu != nil {
				mpu.DisableAppMPU()
			}
			if !ok {
				return StoppedNoWorkLeft, &used
			}

			q := chip.QuantumUS()
			used += q
			if timesliceUS != nil {
				if q >= remaining {
					remaining = 0
				} else {
					remaining -= q
				}
			}

			switch reason {
			case SwitchFault:
				k.handleFault(proc)
				return StoppedFaulted, &used
			case SwitchInterrupted:
				// An unrelated interrupt needs servicing; the next
				// iteration's ContinueProcess check will preempt.
				continue
			case SwitchSyscallFired:
				sc, valid := proc.DebugSyscallLast()
				if valid {
					k.handleSyscall(proc, sc)
				}
			}

		case Yielded, Unstarted:
			proc.ResolvePendingYield()
			if proc.GetState() == Running {
				continue
			}
			task, ok := proc.DequeueTask()
			if !ok {
				return StoppedNoWorkLeft, &used
			}
			if !task.IsIPC && task.Call.Source.FromKernel {
				// The queued entry-point call: make the process
				// runnable so the next iteration switches into it.
				proc.Start()
				continue
			}
			proc.ExecuteTask(task)

		case StoppedRunning, StoppedYielded:
			return StoppedStopped, &used

		case Faulted, Terminated:
			return StoppedNoWorkLeft, &used
		}
	}
}

func (k *Kernel) handleFault(proc Process) {
	action := k.fault.Action(proc)
	switch action {
	case FaultPanic:
		k.logger.WithField("process", proc.Name()).Panic("process faulted, fault policy requests board panic")
	case FaultRestart:
		proc.TryRestart(nil)
	case FaultStop:
		proc.Stop()
	}
}

// handleSyscall dispatches a trapped syscall to the class-specific handler
// and delivers its return value. Yield, Exit and Memop bypass the syscall
// filter; everything else is subject to it.
func (k *Kernel) handleSyscall(proc Process, sc arch.Syscall) {
	switch sc.Class {
	case arch.ClassYield, arch.ClassExit, arch.ClassMemop:
	default:
		if k.filter != nil {
			if err := k.filter.Filter(proc, sc); err != nil {
				proc.SetSyscallReturnValue(arch.Failure(filterErrno(err)))
				return
			}
		}
	}

	switch sc.Class {
	case arch.ClassYield:
		k.handleYield(proc, sc)
	case arch.ClassSubscribe:
		proc.SetSyscallReturnValue(k.handleSubscribe(proc, sc))
	case arch.ClassCommand:
		proc.SetSyscallReturnValue(k.handleCommand(proc, sc))
	case arch.ClassReadWriteAllow:
		proc.SetSyscallReturnValue(k.handleReadWriteAllow(proc, sc, false))
	case arch.ClassUserspaceReadableAllow:
		proc.SetSyscallReturnValue(k.handleReadWriteAllow(proc, sc, true))
	case arch.ClassReadOnlyAllow:
		proc.SetSyscallReturnValue(k.handleReadOnlyAllow(proc, sc))
	case arch.ClassMemop:
		proc.SetSyscallReturnValue(k.handleMemop(proc, sc))
	case arch.ClassExit:
		k.handleExit(proc, sc)
	}
}

func filterErrno(err error) errorcode.ErrorCode {
	if ec, ok := err.(errorcode.ErrorCode); ok {
		return ec
	}
	return errorcode.NOSUPPORT
}

// handleYield implements both yield flavors. The byte written through
// YieldAddress tells the caller whether an upcall ran; writes to an invalid
// address are silently skipped. Yield identifiers above wait are reserved
// and behave as a no-op that preserves the process's registers.
func (k *Kernel) handleYield(proc Process, sc arch.Syscall) {
	if sc.YieldWhich > arch.YieldWait {
		proc.SetSyscallReturnValue(arch.Success())
		return
	}
	task, has := proc.DequeueTask()
	if !has && sc.YieldWhich == arch.YieldNoWait {
		proc.WriteYieldFlag(sc.YieldAddress, 0)
		proc.SetSyscallReturnValue(arch.Success())
		return
	}
	proc.WriteYieldFlag(sc.YieldAddress, 1)
	if has {
		proc.ExecuteTask(task)
		proc.SetSyscallReturnValue(arch.Success())
		return
	}
	// Wait-flavor with nothing queued: park until a task arrives.
	proc.SetYieldedState()
	proc.MarkYieldPending()
}

func (k *Kernel) handleCommand(proc Process, sc arch.Syscall) arch.SyscallReturn {
	driver, ok := k.driverTbl.Lookup(sc.DriverNum)
	if !ok {
		return arch.Failure(errorcode.NODEVICE)
	}
	return driver.Command(int(sc.SubdriverNum), sc.Arg0, sc.Arg1, proc.ProcessID()).Into()
}

// handleSubscribe swaps the caller's upcall record with the one stored in
// the driver's grant for this process and returns the previous record. The
// grant's backing storage is allocated lazily: a swap that fails for want
// of memory asks the driver to allocate its grant, then retries exactly
// once.
func (k *Kernel) handleSubscribe(proc Process, sc arch.Syscall) arch.SyscallReturn {
	id := UpcallID{DriverNum: sc.DriverNum, SubscribeNum: sc.SubdriverNum}
	if sc.UpcallPtr != 0 && !proc.InExecutableMemory(sc.UpcallPtr) {
		return arch.SubscribeFailure(errorcode.INVAL, sc.UpcallPtr, sc.AppData)
	}
	driver, ok := k.driverTbl.Lookup(sc.DriverNum)
	if !ok {
		return arch.SubscribeFailure(errorcode.NODEVICE, sc.UpcallPtr, sc.AppData)
	}
	grantNum, ok := k.grantIndexForDriver(sc.DriverNum)
	if !ok {
		return arch.SubscribeFailure(errorcode.NOMEM, sc.UpcallPtr, sc.AppData)
	}

	oldFn, oldData, err := proc.SwapUpcall(grantNum, id, sc.UpcallPtr, sc.AppData)
	if err == ErrOutOfMemory {
		if aerr := driver.AllocateGrant(proc.ProcessID()); aerr != nil {
			return arch.SubscribeFailure(errorcode.NOMEM, sc.UpcallPtr, sc.AppData)
		}
		oldFn, oldData, err = proc.SwapUpcall(grantNum, id, sc.UpcallPtr, sc.AppData)
	}
	if err != nil {
		return arch.SubscribeFailure(asErrorCode(err), sc.UpcallPtr, sc.AppData)
	}
	// The previous callback must never fire after this swap returns.
	proc.RemovePendingUpcalls(id)
	return arch.SubscribeSuccess(uint32(oldFn), uint32(oldData))
}

func (k *Kernel) handleReadWriteAllow(proc Process, sc arch.Syscall, userspaceReadable bool) arch.SyscallReturn {
	driver, ok := k.driverTbl.Lookup(sc.DriverNum)
	if !ok {
		return arch.AllowReadWriteFailure(errorcode.NODEVICE, sc.AllowAddress, sc.AllowSize)
	}
	grantNum, ok := k.grantIndexForDriver(sc.DriverNum)
	if !ok {
		return arch.AllowReadWriteFailure(errorcode.NOMEM, sc.AllowAddress, sc.AllowSize)
	}
	buf, ec := proc.BuildReadWriteProcessBuffer(sc.AllowAddress, int(sc.AllowSize))
	if ec != 0 {
		return arch.AllowReadWriteFailure(ec, sc.AllowAddress, sc.AllowSize)
	}

	old, err := proc.SwapReadWriteBuffer(grantNum, sc.SubdriverNum, userspaceReadable, buf)
	if err == ErrOutOfMemory {
		if aerr := driver.AllocateGrant(proc.ProcessID()); aerr != nil {
			return arch.AllowReadWriteFailure(errorcode.NOMEM, sc.AllowAddress, sc.AllowSize)
		}
		old, err = proc.SwapReadWriteBuffer(grantNum, sc.SubdriverNum, userspaceReadable, buf)
	}
	if err != nil {
		return arch.AllowReadWriteFailure(asErrorCode(err), sc.AllowAddress, sc.AllowSize)
	}
	if userspaceReadable {
		if d, ok := driver.(UserspaceReadableDriver); ok {
			d.AllowUserspaceReadable(proc.ProcessID(), sc.SubdriverNum, buf)
		}
	}
	return arch.AllowReadWriteSuccessReturn(old.Address(), uintptr(old.Len()))
}

func (k *Kernel) handleReadOnlyAllow(proc Process, sc arch.Syscall) arch.SyscallReturn {
	driver, ok := k.driverTbl.Lookup(sc.DriverNum)
	if !ok {
		return arch.AllowReadOnlyFailure(errorcode.NODEVICE, sc.AllowAddress, sc.AllowSize)
	}
	grantNum, ok := k.grantIndexForDriver(sc.DriverNum)
	if !ok {
		return arch.AllowReadOnlyFailure(errorcode.NOMEM, sc.AllowAddress, sc.AllowSize)
	}
	buf, ec := proc.BuildReadOnlyProcessBuffer(sc.AllowAddress, int(sc.AllowSize))
	if ec != 0 {
		return arch.AllowReadOnlyFailure(ec, sc.AllowAddress, sc.AllowSize)
	}

	old, err := proc.SwapReadOnlyBuffer(grantNum, sc.SubdriverNum, buf)
	if err == ErrOutOfMemory {
		if aerr := driver.AllocateGrant(proc.ProcessID()); aerr != nil {
			return arch.AllowReadOnlyFailure(errorcode.NOMEM, sc.AllowAddress, sc.AllowSize)
		}
		old, err = proc.SwapReadOnlyBuffer(grantNum, sc.SubdriverNum, buf)
	}
	if err != nil {
		return arch.AllowReadOnlyFailure(asErrorCode(err), sc.AllowAddress, sc.AllowSize)
	}
	return arch.AllowReadOnlySuccessReturn(old.Address(), uintptr(old.Len()))
}

// handleExit implements the exit syscall's two defined variants: terminate
// and try-restart. Unknown variants fail NOSUPPORT and the process keeps
// running.
func (k *Kernel) handleExit(proc Process, sc arch.Syscall) {
	cc := uint32(sc.CompletionCode)
	switch sc.ExitWhich {
	case 0:
		proc.Terminate(&cc)
	case 1:
		proc.TryRestart(&cc)
	default:
		proc.SetSyscallReturnValue(arch.Failure(errorcode.NOSUPPORT))
	}
}

// handleMemop implements the twelve memop operands, mirroring the original
// implementation's memop::memop dispatch exactly, operand for operand.
func (k *Kernel) handleMemop(proc Process, sc arch.Syscall) arch.SyscallReturn {
	addrs := proc.GetAddresses()
	switch sc.Operand {
	case 0: // BRK
		if _, err := proc.Brk(sc.Arg0); err != nil {
			return arch.Failure(errorcode.NOMEM)
		}
		return arch.Success()
	case 1: // SBRK
		prev, err := proc.Sbrk(int(int32(sc.Arg0)))
		if err != nil {
			return arch.Failure(errorcode.NOMEM)
		}
		return arch.SuccessU32(uint32(prev))
	case 2:
		return arch.SuccessU32(uint32(addrs.SRAMStart))
	case 3:
		return arch.SuccessU32(uint32(addrs.SRAMEnd))
	case 4:
		return arch.SuccessU32(uint32(addrs.FlashStart))
	case 5:
		return arch.SuccessU32(uint32(addrs.FlashEnd))
	case 6:
		return arch.SuccessU32(uint32(addrs.SRAMGrantStart))
	case 7:
		return arch.SuccessU32(uint32(proc.NumberWriteableFlashRegions()))
	case 8:
		region := proc.WriteableFlashRegion(int(sc.Arg0))
		if region.Size == 0 {
			return arch.Failure(errorcode.FAIL)
		}
		return arch.SuccessU32(uint32(addrs.FlashStart) + region.Offset)
	case 9:
		region := proc.WriteableFlashRegion(int(sc.Arg0))
		if region.Size == 0 {
			return arch.Failure(errorcode.FAIL)
		}
		return arch.SuccessU32(uint32(addrs.FlashStart) + region.Offset + region.Size)
	case 10:
		proc.UpdateStackStartPointer(sc.Arg0)
		return arch.Success()
	case 11:
		proc.UpdateHeapStartPointer(sc.Arg0)
		return arch.Success()
	default:
		return arch.Failure(errorcode.NOSUPPORT)
	}
}
