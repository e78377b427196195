package kernel

import (
	"sync"

	"github.com/talismancer/tockgo/pkg/arch"
	"github.com/talismancer/tockgo/pkg/errorcode"
)

const (
	defaultMaxTasks   = 64
	defaultGrantBytes = 64

	// Virtual flash window every simulated process "executes" from.
	// Subscribe validates upcall function pointers against this range
	// the way real hardware validates them against the app's flash
	// region.
	flashBase = uintptr(0x0004_0000)
	flashSize = uintptr(0x0001_0000)
)

// StandardProcess is the reference Process implementation: a simulated
// process backed by a goroutine running a Program, a byte slice standing in
// for its RAM, and a lazily-allocated grant table. It is this repository's
// analogue of Tock's ProcessStandard, generalized
// from "a process loaded from flash into MPU-protected memory" to "a
// process that is a Go goroutine talking to the kernel over a channel
// handoff", since a hosted Go kernel has no flash image or MPU hardware to
// load one into.
type StandardProcess struct {
	mu sync.Mutex

	id      ProcessID
	name    string
	kernel  *Kernel
	program Program
	rt      *Runtime
	started bool

	state          State
	restartCount   int
	completionCode *uint32

	tasks    []Task
	maxTasks int

	addresses Addresses
	memory    []byte
	appBreak  int

	// grantStart is the byte offset where the grant region begins; it
	// only ever moves down as grants are allocated from the high end of
	// RAM.
	grantStart     int
	grants         map[int]*grantRegion
	driverGrantNum map[uintptr]int

	writeableRegions []WritableFlashRegion

	syscallCount             int
	droppedUpcallCount       int
	timesliceExpirationCount int
	lastSyscall              arch.Syscall
	lastSyscallValid         bool

	yieldPending    bool
	upcallCallbacks map[UpcallID]func(r0, r1, r2 uintptr)
	ipcCallback     func(from ProcessID)
}

// NewStandardProcess creates a process named name, backed by ramSize bytes
// of simulated RAM, that will run program once the kernel first schedules
// it.
func NewStandardProcess(k *Kernel, id ProcessID, name string, program Program, ramSize int) *StandardProcess {
	p := &StandardProcess{
		id:              id,
		name:            name,
		kernel:          k,
		program:         program,
		state:           Unstarted,
		maxTasks:        defaultMaxTasks,
		memory:          make([]byte, ramSize),
		grantStart:      ramSize,
		grants:          make(map[int]*grantRegion),
		driverGrantNum:  make(map[uintptr]int),
		upcallCallbacks: make(map[UpcallID]func(r0, r1, r2 uintptr)),
	}
	p.rt = newRuntime(p)
	p.addresses = Addresses{
		FlashStart:     flashBase,
		FlashEnd:       flashBase + flashSize,
		SRAMStart:      0,
		SRAMAppBreak:   0,
		SRAMGrantStart: uintptr(ramSize),
		SRAMEnd:        uintptr(ramSize),
	}
	return p
}

func (p *StandardProcess) ProcessID() ProcessID { return p.id }
func (p *StandardProcess) Name() string         { return p.name }

func (p *StandardProcess) adjustWork(delta int64) {
	if p.kernel != nil {
		p.kernel.adjustWork(delta)
	}
}

func (p *StandardProcess) EnqueueTask(t Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Terminated || p.state == Faulted {
		return ErrNoSuchApp
	}
	if len(p.tasks) >= p.maxTasks {
		return ErrOutOfMemory
	}
	p.tasks = append(p.tasks, t)
	p.adjustWork(1)
	if p.state == Yielded {
		p.setStateLocked(Running)
	}
	return nil
}

func (p *StandardProcess) HasTasks() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks) > 0
}

func (p *StandardProcess) PendingTasks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}

func (p *StandardProcess) DequeueTask() (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.tasks) == 0 {
		return Task{}, false
	}
	t := p.tasks[0]
	p.tasks = p.tasks[1:]
	p.adjustWork(-1)
	return t, true
}

func (p *StandardProcess) RemovePendingUpcalls(id UpcallID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.tasks[:0]
	removed := 0
	for _, t := range p.tasks {
		if !t.IsIPC && !t.Call.Source.FromKernel && t.Call.Source.Upcall == id {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	p.tasks = kept
	p.adjustWork(-int64(removed))
}

func (p *StandardProcess) GetState() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// setStateLocked updates p.state and the kernel work counter. Caller must
// hold p.mu.
func (p *StandardProcess) setStateLocked(s State) {
	wasRunning := p.state == Running
	isRunning := s == Running
	p.state = s
	if wasRunning && !isRunning {
		p.adjustWork(-1)
	} else if !wasRunning && isRunning {
		p.adjustWork(1)
	}
}

func (p *StandardProcess) SetYieldedState() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Running {
		p.setStateLocked(Yielded)
	}
}

func (p *StandardProcess) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case Running:
		p.setStateLocked(StoppedRunning)
	case Yielded:
		p.setStateLocked(StoppedYielded)
	}
}

func (p *StandardProcess) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case StoppedRunning:
		p.setStateLocked(Running)
	case StoppedYielded:
		p.setStateLocked(Yielded)
	}
}

func (p *StandardProcess) SetFaultState() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setStateLocked(Faulted)
}

func (p *StandardProcess) RestartCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restartCount
}

func (p *StandardProcess) CompletionCode() (*uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Terminated {
		return nil, false
	}
	return p.completionCode, true
}

func (p *StandardProcess) Terminate(completionCode *uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.adjustWork(-int64(len(p.tasks)))
	p.tasks = nil
	p.grants = make(map[int]*grantRegion)
	p.driverGrantNum = make(map[uintptr]int)
	p.completionCode = completionCode
	p.setStateLocked(Terminated)
}

// TryRestart resets the process in place for a fresh run: the task queue,
// grants, break and upcall registrations are all discarded, the restart
// counter is bumped, and a new generation is minted so every handle to the
// previous incarnation stops resolving. The process lands in Unstarted with
// its entry-point call queued, ready for the scheduler to pick up.
func (p *StandardProcess) TryRestart(completionCode *uint32) {
	p.mu.Lock()
	p.adjustWork(-int64(len(p.tasks)))
	p.tasks = nil
	p.grants = make(map[int]*grantRegion)
	p.driverGrantNum = make(map[uintptr]int)
	p.grantStart = len(p.memory)
	p.addresses.SRAMGrantStart = uintptr(len(p.memory))
	p.completionCode = completionCode
	p.restartCount++
	p.appBreak = 0
	p.started = false
	p.yieldPending = false
	p.upcallCallbacks = make(map[UpcallID]func(r0, r1, r2 uintptr))
	// The previous incarnation's goroutine, if any, stays parked on the
	// old runtime's channels and is abandoned; the new incarnation gets
	// fresh ones.
	p.rt = newRuntime(p)
	if p.kernel != nil {
		p.id = p.kernel.bumpGeneration(p.id.slot)
	}
	p.setStateLocked(Unstarted)
	p.mu.Unlock()

	p.EnqueueTask(Task{Call: FunctionCall{
		Source: FunctionCallSource{FromKernel: true},
		PC:     p.addresses.FlashStart,
	}})
}

// Start transitions a freshly created (or restarted) process out of
// Unstarted into Running, the way a board's process loader marks a process
// schedulable once its image is in place.
func (p *StandardProcess) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Unstarted {
		p.setStateLocked(Running)
	}
}

// Ready reports whether the scheduler may select this process: it is
// Running, or it has queued tasks to deliver while Yielded or Unstarted.
func (p *StandardProcess) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case Running:
		return true
	case Yielded, Unstarted:
		return len(p.tasks) > 0
	default:
		return false
	}
}

func (p *StandardProcess) Brk(newBreak uintptr) (uintptr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Terminated || p.state == Faulted {
		return 0, ErrInactiveApp
	}
	nb := int(newBreak)
	if nb < 0 || nb > p.grantStart {
		return 0, ErrOutOfMemory
	}
	p.appBreak = nb
	return newBreak, nil
}

func (p *StandardProcess) Sbrk(increment int) (uintptr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Terminated || p.state == Faulted {
		return 0, ErrInactiveApp
	}
	old := p.appBreak
	nb := old + increment
	if nb < 0 || nb > p.grantStart {
		return 0, ErrOutOfMemory
	}
	p.appBreak = nb
	return uintptr(old), nil
}

func (p *StandardProcess) NumberWriteableFlashRegions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.writeableRegions)
}

func (p *StandardProcess) WriteableFlashRegion(index int) WritableFlashRegion {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.writeableRegions) {
		return WritableFlashRegion{}
	}
	return p.writeableRegions[index]
}

func (p *StandardProcess) UpdateStackStartPointer(addr uintptr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := addr
	p.addresses.StackTop = &a
}

func (p *StandardProcess) UpdateHeapStartPointer(addr uintptr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := addr
	p.addresses.HeapStart = &a
}

// InExecutableMemory reports whether addr falls in the process's flash
// window, the only memory a subscribe function pointer may point into.
func (p *StandardProcess) InExecutableMemory(addr uintptr) bool {
	return addr >= p.addresses.FlashStart && addr < p.addresses.FlashEnd
}

// WriteYieldFlag stores the yield-result byte at addr, silently skipping
// addresses outside the process's accessible memory.
func (p *StandardProcess) WriteYieldFlag(addr uintptr, v byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.appAccessibleLocked(addr, 1) {
		return
	}
	p.memory[addr] = v
}

// WriteMemory copies data into the process's simulated RAM starting at
// addr. This has no equivalent syscall: a Program running on its own
// goroutine has no pointer into the []byte this package uses to stand in
// for a process's address space, so Runtime exposes this as the bridge a
// Program uses to place the bytes it is about to Allow somewhere the
// kernel's buffer bounds-check can see. A real hardware process has no
// such gap, since its stack and globals already live in the memory the
// MPU protects.
func (p *StandardProcess) WriteMemory(addr uintptr, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.appAccessibleLocked(addr, len(data)) {
		return ErrAddressOutOfBounds
	}
	copy(p.memory[addr:], data)
	return nil
}

// appAccessibleLocked reports whether [addr, addr+size) lies in the
// process-accessible part of RAM, below the grant region. Caller must hold
// p.mu.
func (p *StandardProcess) appAccessibleLocked(addr uintptr, size int) bool {
	start := int(addr)
	return start >= 0 && size >= 0 && start+size <= p.grantStart
}

func (p *StandardProcess) BuildReadWriteProcessBuffer(addr uintptr, size int) (ReadWriteProcessBuffer, errorcode.ErrorCode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if size == 0 {
		return NewReadWriteProcessBuffer(p, addr, nil), 0
	}
	if !p.appAccessibleLocked(addr, size) {
		return ReadWriteProcessBuffer{}, errorcode.INVAL
	}
	return NewReadWriteProcessBuffer(p, addr, p.memory[addr:int(addr)+size]), 0
}

func (p *StandardProcess) BuildReadOnlyProcessBuffer(addr uintptr, size int) (ReadOnlyProcessBuffer, errorcode.ErrorCode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if size == 0 {
		return NewReadOnlyProcessBuffer(p, addr, nil), 0
	}
	if !p.appAccessibleLocked(addr, size) {
		return ReadOnlyProcessBuffer{}, errorcode.INVAL
	}
	return NewReadOnlyProcessBuffer(p, addr, p.memory[addr:int(addr)+size]), 0
}

// grantLocked returns the allocated grant region for grantNum, or
// ErrOutOfMemory if its backing storage has not been allocated yet. Caller
// must hold p.mu.
func (p *StandardProcess) grantLocked(grantNum int) (*grantRegion, error) {
	if p.state == Terminated || p.state == Faulted {
		return nil, ErrInactiveApp
	}
	g, ok := p.grants[grantNum]
	if !ok || !g.allocated {
		return nil, ErrOutOfMemory
	}
	return g, nil
}

func (p *StandardProcess) SwapReadWriteBuffer(grantNum int, bufferNum uintptr, userspaceReadable bool, buf ReadWriteProcessBuffer) (ReadWriteProcessBuffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, err := p.grantLocked(grantNum)
	if err != nil {
		return ReadWriteProcessBuffer{}, err
	}
	table := g.rwBuffers
	if userspaceReadable {
		table = g.urBuffers
	}
	old := table[bufferNum]
	table[bufferNum] = buf
	return old, nil
}

func (p *StandardProcess) SwapReadOnlyBuffer(grantNum int, bufferNum uintptr, buf ReadOnlyProcessBuffer) (ReadOnlyProcessBuffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, err := p.grantLocked(grantNum)
	if err != nil {
		return ReadOnlyProcessBuffer{}, err
	}
	old := g.roBuffers[bufferNum]
	g.roBuffers[bufferNum] = buf
	return old, nil
}

func (p *StandardProcess) GetReadWriteBuffer(driverNum, bufferNum uintptr) (ReadWriteProcessBuffer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	grantNum, ok := p.driverGrantNum[driverNum]
	if !ok {
		return ReadWriteProcessBuffer{}, false
	}
	g, err := p.grantLocked(grantNum)
	if err != nil {
		return ReadWriteProcessBuffer{}, false
	}
	buf, ok := g.rwBuffers[bufferNum]
	return buf, ok
}

func (p *StandardProcess) GetReadOnlyBuffer(driverNum, bufferNum uintptr) (ReadOnlyProcessBuffer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	grantNum, ok := p.driverGrantNum[driverNum]
	if !ok {
		return ReadOnlyProcessBuffer{}, false
	}
	g, err := p.grantLocked(grantNum)
	if err != nil {
		return ReadOnlyProcessBuffer{}, false
	}
	buf, ok := g.roBuffers[bufferNum]
	return buf, ok
}

func (p *StandardProcess) SwapUpcall(grantNum int, id UpcallID, fnPtr, appData uintptr) (uintptr, uintptr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, err := p.grantLocked(grantNum)
	if err != nil {
		return 0, 0, err
	}
	old := g.upcalls[id.SubscribeNum]
	g.upcalls[id.SubscribeNum] = upcallEntry{fnPtr: fnPtr, appData: appData}
	return old.fnPtr, old.appData, nil
}

// SavedUpcall returns the upcall record subscribe last stored for
// (driverNum, subscribeNum), the record a capsule schedules completions
// through. ok is false while the driver's grant is unallocated.
func (p *StandardProcess) SavedUpcall(driverNum, subscribeNum uintptr) (Upcall, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	grantNum, ok := p.driverGrantNum[driverNum]
	if !ok {
		return Upcall{}, false
	}
	g, err := p.grantLocked(grantNum)
	if err != nil {
		return Upcall{}, false
	}
	entry := g.upcalls[subscribeNum]
	return Upcall{
		ProcessID: p.id,
		ID:        UpcallID{DriverNum: driverNum, SubscribeNum: subscribeNum},
		FnPtr:     entry.fnPtr,
		AppData:   entry.appData,
	}, true
}

// AllocateGrant carves the grant's backing storage from the high end of
// RAM, refusing if the region would grow down into the app's break.
func (p *StandardProcess) AllocateGrant(grantNum int, driverNum uintptr, size, align int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.grants[grantNum]; ok {
		return true
	}
	cost := size
	if cost < defaultGrantBytes {
		cost = defaultGrantBytes
	}
	if align > 0 {
		cost += align
	}
	newStart := p.grantStart - cost
	if newStart < p.appBreak {
		return false
	}
	p.grantStart = newStart
	p.addresses.SRAMGrantStart = uintptr(newStart)
	p.grants[grantNum] = newGrantRegion()
	p.driverGrantNum[driverNum] = grantNum
	return true
}

func (p *StandardProcess) GrantIsAllocated(grantNum int) (bool, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Terminated || p.state == Faulted {
		return false, false
	}
	g, ok := p.grants[grantNum]
	return ok && g.allocated, true
}

func (p *StandardProcess) EnterGrant(grantNum int, init func() any) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, err := p.grantLocked(grantNum)
	if err != nil {
		return nil, err
	}
	if g.inUse {
		return nil, ErrAlreadyInUse
	}
	if g.value == nil {
		g.value = init()
	}
	g.inUse = true
	return g.value, nil
}

func (p *StandardProcess) LeaveGrant(grantNum int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if g, ok := p.grants[grantNum]; ok {
		g.inUse = false
	}
}

func (p *StandardProcess) GrantAllocatedCount() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Terminated || p.state == Faulted {
		return 0, false
	}
	n := 0
	for _, g := range p.grants {
		if g.allocated {
			n++
		}
	}
	return n, true
}

func (p *StandardProcess) LookupGrantFromDriverNum(driverNum uintptr) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.driverGrantNum[driverNum]
	if !ok {
		return 0, ErrKernelError
	}
	return n, nil
}

func (p *StandardProcess) SetSyscallReturnValue(ret arch.SyscallReturn) {
	p.rt.toApp <- resumeMsg{ret: ret}
}

// SetUpcallCallback registers (or, with cb == nil, clears) the Go closure
// that ExecuteTask invokes when a task for this UpcallID is dequeued. This
// stands in for the function pointer a hardware process would have the
// kernel jump to: the kernel-visible FnPtr/AppData record itself lives in
// the driver's grant and is managed by SwapUpcall.
func (p *StandardProcess) SetUpcallCallback(id UpcallID, cb func(r0, r1, r2 uintptr)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cb == nil {
		delete(p.upcallCallbacks, id)
		return
	}
	p.upcallCallbacks[id] = cb
}

// HasUpcallCallback reports whether the process currently has a Go closure
// registered for id.
func (p *StandardProcess) HasUpcallCallback(id UpcallID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.upcallCallbacks[id]
	return ok
}

func (p *StandardProcess) SetIPCCallback(cb func(from ProcessID)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ipcCallback = cb
}

// ExecuteTask runs a dequeued task's registered callback synchronously on
// the calling (kernel) goroutine. A task with no registered callback -- the
// upcall was unsubscribed after being scheduled -- is silently dropped.
func (p *StandardProcess) ExecuteTask(t Task) {
	if t.IsIPC {
		p.mu.Lock()
		cb := p.ipcCallback
		p.mu.Unlock()
		if cb != nil {
			cb(t.IPCFrom)
		}
		return
	}
	p.mu.Lock()
	cb := p.upcallCallbacks[t.Call.Source.Upcall]
	p.mu.Unlock()
	if cb != nil {
		cb(t.Call.Argument0, t.Call.Argument1, t.Call.Argument2)
	}
}

// MarkYieldPending records that this process is parked inside a
// yield-and-wait syscall with no task yet to deliver.
func (p *StandardProcess) MarkYieldPending() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.yieldPending = true
}

// ResolvePendingYield completes a previously parked yield-and-wait once a
// task has arrived: it runs the task and then unblocks the parked yield
// call, letting the process continue. It is a no-op if no yield is pending
// or no task has arrived yet.
func (p *StandardProcess) ResolvePendingYield() {
	p.mu.Lock()
	pending := p.yieldPending
	p.mu.Unlock()
	if !pending {
		return
	}
	task, ok := p.DequeueTask()
	if !ok {
		return
	}
	p.mu.Lock()
	p.yieldPending = false
	if p.state == Yielded {
		p.setStateLocked(Running)
	}
	p.mu.Unlock()
	p.ExecuteTask(task)
	p.SetSyscallReturnValue(arch.Success())
}

// SwitchTo resumes (or starts) the process's goroutine and blocks until it
// traps on a syscall or faults.
func (p *StandardProcess) SwitchTo() (ContextSwitchReason, bool) {
	p.mu.Lock()
	if p.state != Running {
		p.mu.Unlock()
		return SwitchFault, false
	}
	started := p.started
	p.started = true
	rt := p.rt
	p.mu.Unlock()

	if !started {
		go p.runProgram(rt)
	}

	msg := <-rt.fromApp
	if msg.fault {
		p.SetFaultState()
		return SwitchFault, true
	}
	p.DebugSyscallCalled(msg.syscall)
	return SwitchSyscallFired, true
}

func (p *StandardProcess) runProgram(rt *Runtime) {
	defer func() {
		if r := recover(); r != nil {
			rt.fromApp <- trapMsg{fault: true}
		}
	}()
	p.program.Run(rt)
	// Falling off the end of the program is a clean exit-terminate.
	rt.fromApp <- trapMsg{syscall: arch.Syscall{Class: arch.ClassExit}}
}

func (p *StandardProcess) GetAddresses() Addresses {
	p.mu.Lock()
	defer p.mu.Unlock()
	addr := p.addresses
	addr.SRAMAppBreak = uintptr(p.appBreak)
	return addr
}

func (p *StandardProcess) DebugSyscallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.syscallCount
}

func (p *StandardProcess) DebugDroppedUpcallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.droppedUpcallCount
}

func (p *StandardProcess) DebugTimesliceExpirationCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timesliceExpirationCount
}

func (p *StandardProcess) DebugTimesliceExpired() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timesliceExpirationCount++
}

func (p *StandardProcess) DebugSyscallCalled(sc arch.Syscall) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.syscallCount++
	p.lastSyscall = sc
	p.lastSyscallValid = true
}

func (p *StandardProcess) DebugSyscallLast() (arch.Syscall, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSyscall, p.lastSyscallValid
}

// NoteUpcallDropped is called by the kernel's Upcall.Schedule path when an
// upcall could not be enqueued, tracked here rather than in upcall.go so
// the counter stays next to the rest of this process's debug state.
func (p *StandardProcess) NoteUpcallDropped() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.droppedUpcallCount++
}
