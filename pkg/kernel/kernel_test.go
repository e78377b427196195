package kernel

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/talismancer/tockgo/pkg/arch"
	"github.com/talismancer/tockgo/pkg/errorcode"
	"github.com/talismancer/tockgo/pkg/platform"
)

// fakeChip is the smallest platform.Chip that exercises the main loop
// without any real hardware.
type fakeChip struct {
	quantum   uint32
	pending   bool
	slept     bool
	mpu       *fakeMPU
	timer     *fakeTimer
}

func (c *fakeChip) HasPendingInterrupts() bool    { return c.pending }
func (c *fakeChip) ServicePendingInterrupts()     { c.pending = false }
func (c *fakeChip) HasPendingDeferredCalls() bool { return false }
func (c *fakeChip) ServicePendingDeferredCalls()  {}
func (c *fakeChip) Sleep()                        { c.slept = true }
func (c *fakeChip) QuantumUS() uint32             { return c.quantum }
func (c *fakeChip) MPU() platform.MPU {
	if c.mpu == nil {
		return nil
	}
	return c.mpu
}
func (c *fakeChip) SchedulerTimer() platform.SchedulerTimer {
	if c.timer == nil {
		return nil
	}
	return c.timer
}
func (c *fakeChip) WatchDog() platform.WatchDog { return noopWatchDog{} }

// fakeMPU records app-MPU enable/disable transitions.
type fakeMPU struct {
	enabled bool
}

func (m *fakeMPU) NumberTotalRegions() int { return 8 }
func (m *fakeMPU) AllocateRegion(regionStart, regionSize, minSize, minAlign int) (int, int, bool) {
	return regionStart, minSize, true
}
func (m *fakeMPU) FreeRegion(base, size int) {}
func (m *fakeMPU) EnableAppMPU()             { m.enabled = true }
func (m *fakeMPU) DisableAppMPU()            { m.enabled = false }

// fakeTimer records arm/disarm/reset transitions.
type fakeTimer struct {
	armed  bool
	setUS  uint32
	resets int
}

func (t *fakeTimer) Start(d time.Duration) { t.setUS = uint32(d / time.Microsecond) }
func (t *fakeTimer) SetTimer(us uint32)    { t.setUS = us }
func (t *fakeTimer) Arm()                  { t.armed = true }
func (t *fakeTimer) Disarm()               { t.armed = false }
func (t *fakeTimer) Reset()                { t.armed = false; t.setUS = 0; t.resets++ }
func (t *fakeTimer) Expired() bool         { return false }
func (t *fakeTimer) RemainingUS() uint32   { return t.setUS }

// noopWatchDog satisfies platform.WatchDog without any real timeout
// tracking; these tests care about dispatch, not watchdog behavior.
type noopWatchDog struct{}

func (noopWatchDog) SetUp()   {}
func (noopWatchDog) Tickle()  {}
func (noopWatchDog) Suspend() {}
func (noopWatchDog) Resume()  {}

// echoDriver replies success to command 0, success_u32(arg0) to command 1,
// and NOSUPPORT otherwise. Its grant backs the subscribe/allow swap tests.
type echoDriver struct {
	grant Grant[struct{}]
}

func newEchoDriver(k *Kernel, driverNum uintptr) *echoDriver {
	return &echoDriver{
		grant: CreateGrant(k, driverNum, func() struct{} { return struct{}{} }, MemoryAllocationCapability{}),
	}
}

func (d *echoDriver) Command(commandNum int, arg0, arg1 uintptr, caller ProcessID) CommandReturn {
	switch commandNum {
	case 0:
		return CommandSuccess()
	case 1:
		return CommandSuccessU32(uint32(arg0))
	default:
		return CommandFailure(errorcode.NOSUPPORT)
	}
}

func (d *echoDriver) AllocateGrant(caller ProcessID) error {
	proc, ok := caller.Resolve()
	if !ok {
		return ErrNoSuchApp
	}
	return d.grant.Enter(proc, func(*struct{}) {})
}

// fifoScheduler always offers the single process it was constructed with,
// recording each episode's outcome.
type fifoScheduler struct {
	SchedulerDefaults

	pid         ProcessID
	timesliceUS *uint32
	lastReason  StoppedExecutingReason
	lastElapsed *uint32
	results     int
}

func (s *fifoScheduler) Next(k *Kernel) SchedulingDecision {
	if k.ProcessesBlocked() {
		return SchedulingDecision{TrySleep: true}
	}
	if !ProcessMapOr(k, s.pid, false, func(p Process) bool { return p.Ready() }) {
		return SchedulingDecision{TrySleep: true}
	}
	return SchedulingDecision{Next: s.pid, TimesliceUS: s.timesliceUS}
}

func (s *fifoScheduler) Result(reason StoppedExecutingReason, executionTimeUS *uint32) {
	s.lastReason = reason
	s.lastElapsed = executionTimeUS
	s.results++
}

func defaultTimeslice() *uint32 {
	ts := uint32(10000)
	return &ts
}

func startProcess(t *testing.T, k *Kernel, name string, program Program) (Process, ProcessID) {
	t.Helper()
	id, ok := k.StartProcess(ProcessManagementCapability{}, func(id ProcessID) Process {
		return NewStandardProcess(k, id, name, program, 4096)
	})
	if !ok {
		t.Fatal("StartProcess: no free slot")
	}
	proc, _ := k.Process(id)
	proc.Start()
	return proc, id
}

type commandProgram struct {
	result chan arch.SyscallReturn
}

func (p *commandProgram) Run(rt *Runtime) {
	ret := rt.Command(5, 1, 42, 0)
	p.result <- ret
	for {
		rt.Yield(true)
	}
}

func TestKernelCommandDispatch(t *testing.T) {
	drivers := NewDriverTable()
	k := New(4, drivers, StopFaultPolicy{})
	drivers.Register(5, newEchoDriver(k, 5))

	prog := &commandProgram{result: make(chan arch.SyscallReturn, 1)}
	_, pid := startProcess(t, k, "test", prog)

	sched := &fifoScheduler{pid: pid, timesliceUS: defaultTimeslice()}
	chip := &fakeChip{quantum: 100}

	select {
	case ret := <-waitForResultWithRunOnce(k, chip, sched, prog.result):
		if !ret.IsSuccess() {
			t.Fatalf("command returned failure: %+v", ret)
		}
		a0, a1, _, _ := ret.Encode()
		if a0 != 129 /* variantSuccessU32 */ {
			t.Fatalf("unexpected return variant tag %d", a0)
		}
		if a1 != 42 {
			t.Fatalf("got u32 %d, want 42", a1)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for command result")
	}
}

// waitForResultWithRunOnce drives the kernel's main loop until result
// produces a value or a reasonable iteration cap is hit.
func waitForResultWithRunOnce(k *Kernel, chip platform.Chip, sched Scheduler, result chan arch.SyscallReturn) chan arch.SyscallReturn {
	out := make(chan arch.SyscallReturn, 1)
	go func() {
		for i := 0; i < 1000; i++ {
			select {
			case v := <-result:
				out <- v
				return
			default:
				k.RunOnce(MainLoopCapability{}, chip, sched, true)
			}
		}
	}()
	return out
}

type yieldProgram struct{ started chan struct{} }

func (p *yieldProgram) Run(rt *Runtime) {
	close(p.started)
	rt.Yield(true)
}

func TestKernelYieldWithNoTaskParksProcess(t *testing.T) {
	k := New(2, nil, StopFaultPolicy{})

	started := make(chan struct{})
	prog := &yieldProgram{started: started}
	proc, pid := startProcess(t, k, "yielder", prog)

	sched := &fifoScheduler{pid: pid, timesliceUS: defaultTimeslice()}
	chip := &fakeChip{quantum: 100}

	for i := 0; i < 5; i++ {
		k.RunOnce(MainLoopCapability{}, chip, sched, true)
	}
	select {
	case <-started:
	default:
		t.Fatal("program never started")
	}
	if got := proc.GetState(); got != Yielded {
		t.Fatalf("state = %v, want Yielded", got)
	}
	if !k.ProcessesBlocked() {
		t.Fatal("expected kernel to report no outstanding work while parked on yield")
	}
}

type yieldNoWaitProgram struct {
	flagAddr uintptr
	done     chan struct{}
}

func (p *yieldNoWaitProgram) Run(rt *Runtime) {
	rt.WriteMemory(p.flagAddr, []byte{0xFF})
	rt.YieldNoWait(p.flagAddr)
	close(p.done)
	for {
		rt.Yield(true)
	}
}

func TestYieldNoWaitWithEmptyQueueWritesZeroFlag(t *testing.T) {
	k := New(2, nil, StopFaultPolicy{})

	prog := &yieldNoWaitProgram{flagAddr: 0x200, done: make(chan struct{})}
	proc, pid := startProcess(t, k, "nowait", prog)

	sched := &fifoScheduler{pid: pid, timesliceUS: defaultTimeslice()}
	chip := &fakeChip{quantum: 100}
	for i := 0; i < 20; i++ {
		k.RunOnce(MainLoopCapability{}, chip, sched, true)
		select {
		case <-prog.done:
			sp := proc.(*StandardProcess)
			sp.mu.Lock()
			got := sp.memory[prog.flagAddr]
			sp.mu.Unlock()
			if got != 0 {
				t.Fatalf("yield flag = %d, want 0", got)
			}
			return
		default:
		}
	}
	t.Fatal("yield-no-wait never returned to the program")
}

// blockingProgram exists for handler-level tests that never switch into the
// process's goroutine.
type blockingProgram struct{}

func (blockingProgram) Run(rt *Runtime) { rt.Yield(true) }

func TestSubscribeSwapReturnsPreviousUpcall(t *testing.T) {
	drivers := NewDriverTable()
	k := New(2, drivers, nil)
	drv := newEchoDriver(k, 5)
	drivers.Register(5, drv)

	proc, _ := startProcess(t, k, "sub", blockingProgram{})
	addrs := proc.GetAddresses()
	fp1 := addrs.FlashStart + 0x100
	fp2 := addrs.FlashStart + 0x200

	// First subscribe: the grant is unallocated, so the swap runs the
	// lazy-allocation retry and returns the null previous record.
	ret := k.handleSubscribe(proc, arch.Syscall{
		Class: arch.ClassSubscribe, DriverNum: 5, SubdriverNum: 0, UpcallPtr: fp1, AppData: 7,
	})
	a0, a1, a2, _ := ret.Encode()
	if a0 != 130 /* SuccessU32U32 */ || a1 != 0 || a2 != 0 {
		t.Fatalf("first subscribe = (%d, %d, %d), want (130, 0, 0)", a0, a1, a2)
	}

	// Queue an upcall for the old registration; the second subscribe
	// must purge it.
	id := UpcallID{DriverNum: 5, SubscribeNum: 0}
	proc.EnqueueTask(Task{Call: FunctionCall{Source: FunctionCallSource{Upcall: id}, PC: fp1}})

	ret = k.handleSubscribe(proc, arch.Syscall{
		Class: arch.ClassSubscribe, DriverNum: 5, SubdriverNum: 0, UpcallPtr: fp2, AppData: 9,
	})
	a0, a1, a2, _ = ret.Encode()
	if a0 != 130 || a1 != uint32(fp1) || a2 != 7 {
		t.Fatalf("second subscribe = (%d, %#x, %d), want (130, %#x, 7)", a0, a1, a2, fp1)
	}
	if n := proc.PendingTasks(); n != 0 {
		t.Fatalf("stale upcall tasks remaining = %d, want 0", n)
	}

	// Null pointer unsubscribes and returns the live registration.
	ret = k.handleSubscribe(proc, arch.Syscall{
		Class: arch.ClassSubscribe, DriverNum: 5, SubdriverNum: 0, UpcallPtr: 0, AppData: 0,
	})
	a0, a1, a2, _ = ret.Encode()
	if a0 != 130 || a1 != uint32(fp2) || a2 != 9 {
		t.Fatalf("unsubscribe = (%d, %#x, %d), want (130, %#x, 9)", a0, a1, a2, fp2)
	}
}

func TestSubscribeRejectsFnPtrOutsideFlash(t *testing.T) {
	drivers := NewDriverTable()
	k := New(2, drivers, nil)
	drivers.Register(5, newEchoDriver(k, 5))
	proc, _ := startProcess(t, k, "sub", blockingProgram{})

	ret := k.handleSubscribe(proc, arch.Syscall{
		Class: arch.ClassSubscribe, DriverNum: 5, SubdriverNum: 0, UpcallPtr: 0x1234, AppData: 0,
	})
	a0, a1, _, _ := ret.Encode()
	if a0 != 2 /* FailureU32U32 */ || a1 != uint32(errorcode.INVAL) {
		t.Fatalf("subscribe with bad fn ptr = (%d, %d), want (2, INVAL)", a0, a1)
	}
}

func TestAllowSwapReturnsPreviousBuffer(t *testing.T) {
	drivers := NewDriverTable()
	k := New(2, drivers, nil)
	drivers.Register(5, newEchoDriver(k, 5))
	proc, _ := startProcess(t, k, "allow", blockingProgram{})
	sp := proc.(*StandardProcess)
	sp.WriteMemory(0x100, []byte("abcd"))

	ret := k.handleReadOnlyAllow(proc, arch.Syscall{
		Class: arch.ClassReadOnlyAllow, DriverNum: 5, SubdriverNum: 1, AllowAddress: 0x100, AllowSize: 4,
	})
	a0, a1, a2, _ := ret.Encode()
	if a0 != 130 || a1 != 0 || a2 != 0 {
		t.Fatalf("first allow = (%d, %#x, %d), want the null previous buffer", a0, a1, a2)
	}

	ret = k.handleReadOnlyAllow(proc, arch.Syscall{
		Class: arch.ClassReadOnlyAllow, DriverNum: 5, SubdriverNum: 1, AllowAddress: 0x180, AllowSize: 8,
	})
	a0, a1, a2, _ = ret.Encode()
	if a0 != 130 || a1 != 0x100 || a2 != 4 {
		t.Fatalf("second allow = (%d, %#x, %d), want (130, 0x100, 4)", a0, a1, a2)
	}

	// The driver-visible buffer is now the second one, and the first
	// one still reads its original contents.
	buf, ok := proc.GetReadOnlyBuffer(5, 1)
	if !ok || buf.Address() != 0x180 {
		t.Fatalf("stored buffer at %#x, want 0x180", buf.Address())
	}
	first, ec := proc.BuildReadOnlyProcessBuffer(0x100, 4)
	if data, err := first.Bytes(); ec != 0 || err != nil || string(data) != "abcd" {
		t.Fatalf("first buffer reads %q, want %q", data, "abcd")
	}
}

func TestZeroLengthAllowAlwaysSucceeds(t *testing.T) {
	drivers := NewDriverTable()
	k := New(2, drivers, nil)
	drivers.Register(5, newEchoDriver(k, 5))
	proc, _ := startProcess(t, k, "allow0", blockingProgram{})

	ret := k.handleReadWriteAllow(proc, arch.Syscall{
		Class: arch.ClassReadWriteAllow, DriverNum: 5, SubdriverNum: 0, AllowAddress: 0, AllowSize: 0,
	}, false)
	if !ret.IsSuccess() {
		t.Fatal("zero-length allow with a null pointer must succeed")
	}
	buf, ok := proc.GetReadWriteBuffer(5, 0)
	if !ok || buf.Len() != 0 {
		t.Fatalf("expected an empty stored buffer, got len %d", buf.Len())
	}
	if data, err := buf.Bytes(); err != nil || len(data) != 0 {
		t.Fatalf("empty view not enterable: %v", err)
	}
}

func TestBrkIntoGrantRegionFailsNOMEM(t *testing.T) {
	drivers := NewDriverTable()
	k := New(2, drivers, nil)
	drv := newEchoDriver(k, 5)
	drivers.Register(5, drv)
	proc, pid := startProcess(t, k, "brk", blockingProgram{})

	if err := drv.AllocateGrant(pid); err != nil {
		t.Fatalf("AllocateGrant: %v", err)
	}
	grantStart := proc.GetAddresses().SRAMGrantStart
	if grantStart >= 4096 {
		t.Fatalf("grant allocation did not move the grant start down, got %#x", grantStart)
	}

	ret := k.handleMemop(proc, arch.Syscall{Class: arch.ClassMemop, Operand: 0, Arg0: grantStart + 1})
	a0, a1, _, _ := ret.Encode()
	if a0 != 0 || a1 != uint32(errorcode.NOMEM) {
		t.Fatalf("brk into grant region = (%d, %d), want (0, NOMEM)", a0, a1)
	}
	if got := proc.GetAddresses().SRAMAppBreak; got != 0 {
		t.Fatalf("failed brk moved the break to %#x", got)
	}

	ret = k.handleMemop(proc, arch.Syscall{Class: arch.ClassMemop, Operand: 0, Arg0: grantStart})
	if !ret.IsSuccess() {
		t.Fatal("brk exactly at the grant start should succeed")
	}
}

type tightLoopProgram struct{}

func (tightLoopProgram) Run(rt *Runtime) {
	for {
		rt.Command(5, 1, 0, 0)
	}
}

func TestTimesliceExpiryReportsWholeSliceAndCounts(t *testing.T) {
	drivers := NewDriverTable()
	k := New(2, drivers, StopFaultPolicy{})
	drivers.Register(5, newEchoDriver(k, 5))

	proc, pid := startProcess(t, k, "spin", tightLoopProgram{})
	sched := &fifoScheduler{pid: pid, timesliceUS: defaultTimeslice()}
	chip := &fakeChip{quantum: 5000, timer: &fakeTimer{}, mpu: &fakeMPU{}}

	k.RunOnce(MainLoopCapability{}, chip, sched, true)

	if sched.lastReason != StoppedTimesliceExpired {
		t.Fatalf("episode reason = %v, want StoppedTimesliceExpired", sched.lastReason)
	}
	if sched.lastElapsed == nil || *sched.lastElapsed != 10000 {
		t.Fatalf("elapsed = %v, want the whole 10000us timeslice", sched.lastElapsed)
	}
	if got := proc.DebugTimesliceExpirationCount(); got != 1 {
		t.Fatalf("timeslice expiration count = %d, want 1", got)
	}
	// Invariant: the episode left the app MPU disabled and the
	// scheduler timer disarmed and reset.
	if chip.mpu.enabled {
		t.Fatal("app MPU left enabled after the episode")
	}
	if chip.timer.armed || chip.timer.resets == 0 {
		t.Fatal("scheduler timer not disarmed and reset after the episode")
	}
}

type faultingProgram struct{}

func (faultingProgram) Run(rt *Runtime) { panic("bad instruction") }

func TestFaultThenRestartBumpsGenerationAndQueuesEntry(t *testing.T) {
	k := New(2, nil, ThresholdRestartFaultPolicy{Threshold: 3})
	proc, pid := startProcess(t, k, "crasher", faultingProgram{})

	sched := &fifoScheduler{pid: pid, timesliceUS: defaultTimeslice()}
	chip := &fakeChip{quantum: 100}
	for i := 0; i < 10 && proc.RestartCount() == 0; i++ {
		k.RunOnce(MainLoopCapability{}, chip, sched, true)
	}

	if got := proc.RestartCount(); got != 1 {
		t.Fatalf("restart count = %d, want 1", got)
	}
	if got := proc.GetState(); got != Unstarted {
		t.Fatalf("state after restart = %v, want Unstarted", got)
	}
	if !proc.HasTasks() {
		t.Fatal("restart did not queue the entry-point call")
	}
	if _, ok := k.Process(pid); ok {
		t.Fatal("pre-restart handle still resolves; restart must bump the generation")
	}
}

type exitProgram struct{ code uint32 }

func (p exitProgram) Run(rt *Runtime) { rt.Exit(p.code) }

func TestExitTerminateRecordsCompletionCode(t *testing.T) {
	k := New(2, nil, StopFaultPolicy{})
	proc, pid := startProcess(t, k, "exiter", exitProgram{code: 42})

	sched := &fifoScheduler{pid: pid, timesliceUS: defaultTimeslice()}
	chip := &fakeChip{quantum: 100}
	for i := 0; i < 10 && proc.GetState() != Terminated; i++ {
		k.RunOnce(MainLoopCapability{}, chip, sched, true)
	}

	if got := proc.GetState(); got != Terminated {
		t.Fatalf("state = %v, want Terminated", got)
	}
	cc, ok := proc.CompletionCode()
	if !ok || cc == nil || *cc != 42 {
		t.Fatalf("completion code = %v, want 42", cc)
	}
}

// exitRestartProgram exit-restarts its first incarnation and parks its
// second, so the test can observe exactly one restart.
type exitRestartProgram struct{ runs *int32 }

func (p exitRestartProgram) Run(rt *Runtime) {
	if atomic.AddInt32(p.runs, 1) == 1 {
		rt.ExitRestart(7)
	}
	for {
		rt.Yield(true)
	}
}

func TestExitRestartResetsProcess(t *testing.T) {
	k := New(2, nil, StopFaultPolicy{})
	var runs int32
	proc, pid := startProcess(t, k, "restarter", exitRestartProgram{runs: &runs})

	sched := &fifoScheduler{pid: pid, timesliceUS: defaultTimeslice()}
	chip := &fakeChip{quantum: 100}
	for i := 0; i < 10 && proc.RestartCount() == 0; i++ {
		k.RunOnce(MainLoopCapability{}, chip, sched, true)
	}

	if got := proc.RestartCount(); got != 1 {
		t.Fatalf("restart count = %d, want 1", got)
	}
	// The same episode picks the restarted process back up, runs its
	// entry point, and parks the second incarnation on its yield.
	if got := proc.GetState(); got != Yielded {
		t.Fatalf("state = %v, want the second incarnation parked in Yielded", got)
	}
	if _, ok := k.Process(pid); ok {
		t.Fatal("pre-restart handle still resolves; restart must bump the generation")
	}
}

func TestGrantDeclarationAfterFirstProcessPanics(t *testing.T) {
	k := New(2, nil, nil)
	startProcess(t, k, "first", blockingProgram{})
	if !k.GrantsFinalized() {
		t.Fatal("loading a process must finalize the grant index space")
	}

	defer func() {
		if recover() == nil {
			t.Fatal("grant declaration after finalization must abort")
		}
	}()
	CreateGrant(k, 9, func() struct{} { return struct{}{} }, MemoryAllocationCapability{})
}

// raceSleepScheduler returns TrySleep while making an interrupt pending
// mid-decision, the race the pre-sleep re-check must win.
type raceSleepScheduler struct {
	SchedulerDefaults
	chip *fakeChip
}

func (s *raceSleepScheduler) Next(k *Kernel) SchedulingDecision {
	s.chip.pending = true
	return SchedulingDecision{TrySleep: true}
}
func (s *raceSleepScheduler) Result(StoppedExecutingReason, *uint32) {}

func TestSleepRaceWithPendingInterrupt(t *testing.T) {
	k := New(2, nil, nil)
	chip := &fakeChip{}
	sched := &raceSleepScheduler{chip: chip}

	k.RunOnce(MainLoopCapability{}, chip, sched, false)
	if chip.slept {
		t.Fatal("kernel slept with an interrupt pending")
	}
	// The next iteration services the interrupt instead of scheduling.
	k.RunOnce(MainLoopCapability{}, chip, sched, false)
	if chip.pending {
		t.Fatal("pending interrupt was not serviced on the following iteration")
	}
}

func TestWorkCounterTracksRunningAndTasks(t *testing.T) {
	k := New(2, nil, nil)
	proc, _ := startProcess(t, k, "work", blockingProgram{})

	// One Running process.
	if k.ProcessesBlocked() {
		t.Fatal("a Running process must count as work")
	}
	proc.EnqueueTask(Task{Call: FunctionCall{Source: FunctionCallSource{Upcall: UpcallID{DriverNum: 1}}}})
	proc.Stop() // Running -> StoppedRunning: only the queued task remains
	if k.ProcessesBlocked() {
		t.Fatal("a queued task must count as work")
	}
	proc.DequeueTask()
	if !k.ProcessesBlocked() {
		t.Fatal("no running process and no tasks must mean no work")
	}
}

// denyFilter rejects every filterable syscall.
type denyFilter struct{}

func (denyFilter) Filter(Process, arch.Syscall) error { return errorcode.NOSUPPORT }

type filteredCommandProgram struct {
	result chan arch.SyscallReturn
}

func (p *filteredCommandProgram) Run(rt *Runtime) {
	p.result <- rt.Command(5, 1, 0, 0)
	for {
		rt.Yield(true)
	}
}

func TestSyscallFilterDeniesCommand(t *testing.T) {
	drivers := NewDriverTable()
	k := New(2, drivers, nil)
	drivers.Register(5, newEchoDriver(k, 5))
	k.SetSyscallFilter(denyFilter{})

	prog := &filteredCommandProgram{result: make(chan arch.SyscallReturn, 1)}
	_, pid := startProcess(t, k, "filtered", prog)

	sched := &fifoScheduler{pid: pid, timesliceUS: defaultTimeslice()}
	chip := &fakeChip{quantum: 100}

	select {
	case ret := <-waitForResultWithRunOnce(k, chip, sched, prog.result):
		a0, a1, _, _ := ret.Encode()
		if a0 != 0 || a1 != uint32(errorcode.NOSUPPORT) {
			t.Fatalf("filtered command = (%d, %d), want (0, NOSUPPORT)", a0, a1)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for filtered command result")
	}
}

func TestUpcallScheduleThroughSavedRecord(t *testing.T) {
	drivers := NewDriverTable()
	k := New(2, drivers, nil)
	drv := newEchoDriver(k, 5)
	drivers.Register(5, drv)
	proc, _ := startProcess(t, k, "up", blockingProgram{})

	fp := proc.GetAddresses().FlashStart + 0x40
	k.handleSubscribe(proc, arch.Syscall{
		Class: arch.ClassSubscribe, DriverNum: 5, SubdriverNum: 2, UpcallPtr: fp, AppData: 3,
	})

	up, ok := proc.SavedUpcall(5, 2)
	if !ok || up.FnPtr != fp || up.AppData != 3 {
		t.Fatalf("saved upcall = %+v, want fn %#x appdata 3", up, fp)
	}
	if err := up.Schedule(proc, 1, 2, 3); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if n := proc.PendingTasks(); n != 1 {
		t.Fatalf("pending tasks = %d, want 1", n)
	}

	// An unsubscribed slot schedules as a silent no-op.
	null := Upcall{ProcessID: proc.ProcessID(), ID: UpcallID{DriverNum: 5, SubscribeNum: 9}}
	if err := null.Schedule(proc, 0, 0, 0); err != nil {
		t.Fatalf("null upcall schedule: %v", err)
	}
	if n := proc.PendingTasks(); n != 1 {
		t.Fatalf("null upcall enqueued a task: %d pending", n)
	}
}
