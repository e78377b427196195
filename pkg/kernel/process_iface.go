package kernel

import (
	"github.com/talismancer/tockgo/pkg/arch"
	"github.com/talismancer/tockgo/pkg/errorcode"
)

// Process is the interface the scheduler and the syscall handler schedule
// and dispatch against. A board's Process implementation (this repository
// ships StandardProcess) owns the actual memory, grant regions and MPU
// configuration; the kernel package only ever talks to processes through
// this boundary, so a scheduler never depends on any concrete process
// type.
type Process interface {
	ProcessID() ProcessID
	Name() string

	// Task queue.
	EnqueueTask(Task) error
	HasTasks() bool
	DequeueTask() (Task, bool)
	PendingTasks() int
	RemovePendingUpcalls(UpcallID)

	// State machine.
	GetState() State
	Start()
	SetYieldedState()
	Stop()
	Resume()
	SetFaultState()
	RestartCount() int
	CompletionCode() (*uint32, bool)
	Terminate(completionCode *uint32)
	TryRestart(completionCode *uint32)
	Ready() bool

	// memop.
	Brk(newBreak uintptr) (uintptr, error)
	Sbrk(increment int) (uintptr, error)
	NumberWriteableFlashRegions() int
	WriteableFlashRegion(index int) WritableFlashRegion
	UpdateStackStartPointer(uintptr)
	UpdateHeapStartPointer(uintptr)

	// allow. The Swap* methods store the new buffer in the named grant
	// and return the one it replaced; they fail with ErrOutOfMemory
	// while the grant's backing storage is unallocated, which is the
	// syscall handler's cue to run the lazy-allocation retry.
	BuildReadWriteProcessBuffer(addr uintptr, size int) (ReadWriteProcessBuffer, errorcode.ErrorCode)
	BuildReadOnlyProcessBuffer(addr uintptr, size int) (ReadOnlyProcessBuffer, errorcode.ErrorCode)
	SwapReadWriteBuffer(grantNum int, bufferNum uintptr, userspaceReadable bool, buf ReadWriteProcessBuffer) (ReadWriteProcessBuffer, error)
	SwapReadOnlyBuffer(grantNum int, bufferNum uintptr, buf ReadOnlyProcessBuffer) (ReadOnlyProcessBuffer, error)
	GetReadWriteBuffer(driverNum, bufferNum uintptr) (ReadWriteProcessBuffer, bool)
	GetReadOnlyBuffer(driverNum, bufferNum uintptr) (ReadOnlyProcessBuffer, bool)

	// grants.
	AllocateGrant(grantNum int, driverNum uintptr, size, align int) bool
	GrantIsAllocated(grantNum int) (bool, bool)
	EnterGrant(grantNum int, init func() any) (any, error)
	LeaveGrant(grantNum int)
	GrantAllocatedCount() (int, bool)
	LookupGrantFromDriverNum(driverNum uintptr) (int, error)

	// upcall records stored in grant memory.
	SwapUpcall(grantNum int, id UpcallID, fnPtr, appData uintptr) (oldFn, oldData uintptr, err error)
	SavedUpcall(driverNum, subscribeNum uintptr) (Upcall, bool)

	// memory validation.
	InExecutableMemory(addr uintptr) bool
	WriteYieldFlag(addr uintptr, v byte)

	// architecture boundary.
	SetSyscallReturnValue(arch.SyscallReturn)
	SwitchTo() (ContextSwitchReason, bool)

	// upcall / task execution.
	SetUpcallCallback(UpcallID, func(r0, r1, r2 uintptr))
	HasUpcallCallback(UpcallID) bool
	SetIPCCallback(func(from ProcessID))
	ExecuteTask(Task)
	MarkYieldPending()
	ResolvePendingYield()

	GetAddresses() Addresses

	// debug counters.
	DebugSyscallCount() int
	DebugDroppedUpcallCount() int
	DebugTimesliceExpirationCount() int
	DebugTimesliceExpired()
	DebugSyscallCalled(arch.Syscall)
	DebugSyscallLast() (arch.Syscall, bool)
	NoteUpcallDropped()
}

// ContextSwitchReason is why SwitchTo returned control to the kernel.
type ContextSwitchReason int

const (
	SwitchSyscallFired ContextSwitchReason = iota
	SwitchFault
	SwitchInterrupted
)
