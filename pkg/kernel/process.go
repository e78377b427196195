// Package kernel implements the scheduling and system-call dispatch core of
// the embedded kernel: the process slot table, the main loop, the six-class
// syscall handler, the grant and upcall protocols, and the pluggable
// scheduler and fault-policy interfaces that a board assembles around them.
package kernel

import "github.com/talismancer/tockgo/pkg/errorcode"

// ProcessID is an opaque, Copy-able handle to a process slot. Holding a
// ProcessID does not guarantee the process it names is still the process
// occupying that slot — the process may have been stopped, terminated, or
// restarted into a different generation. Code that holds a ProcessID across
// a yield point must always re-validate it through Kernel.Process before
// acting on it.
type ProcessID struct {
	kernel     *Kernel
	slot       int
	generation uint64
}

// Slot returns the process-table index this handle names, and whether the
// handle is still valid (its generation matches the slot's current
// occupant).
func (id ProcessID) Slot() (int, bool) {
	if id.kernel == nil {
		return 0, false
	}
	return id.slot, id.kernel.handleValid(id)
}

// ID returns a stable numeric identifier for this process, suitable for use
// across a driver or debug interface. Unlike Slot, this remains the same
// for the lifetime of the value even if the process is later invalidated.
func (id ProcessID) ID() uint64 { return id.generation }

// Resolve looks the handle back up in its owning Kernel, the way a capsule
// turns the ProcessID its Command method is handed back into something it
// can call process methods on. Returns ok=false if the handle is stale.
func (id ProcessID) Resolve() (Process, bool) {
	if id.kernel == nil {
		return nil, false
	}
	return id.kernel.Process(id)
}

// State is one of the execution states a process can be in. The kernel work
// counter treats Running as the only state requiring further scheduling.
type State int

const (
	Unstarted State = iota
	Running
	Yielded
	StoppedRunning
	StoppedYielded
	Faulted
	Terminated
)

func (s State) String() string {
	switch s {
	case Unstarted:
		return "Unstarted"
	case Running:
		return "Running"
	case Yielded:
		return "Yielded"
	case StoppedRunning:
		return "StoppedRunning"
	case StoppedYielded:
		return "StoppedYielded"
	case Faulted:
		return "Faulted"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// FaultAction is the action a FaultPolicy selects in response to a process
// fault.
type FaultAction int

const (
	FaultPanic FaultAction = iota
	FaultRestart
	FaultStop
)

// ProcessError is the internal error vocabulary process operations use.
// Handler code converts a ProcessError to an errorcode.ErrorCode at the
// syscall boundary with AsErrorCode.
type ProcessError int

const (
	ErrNoSuchApp ProcessError = iota
	ErrOutOfMemory
	ErrAddressOutOfBounds
	ErrInactiveApp
	ErrKernelError
	ErrAlreadyInUse
)

func (e ProcessError) Error() string {
	switch e {
	case ErrNoSuchApp:
		return "no such process"
	case ErrOutOfMemory:
		return "process out of memory"
	case ErrAddressOutOfBounds:
		return "address out of bounds"
	case ErrInactiveApp:
		return "process inactive"
	case ErrKernelError:
		return "kernel error"
	case ErrAlreadyInUse:
		return "already in use"
	default:
		return "unknown process error"
	}
}

// AsErrorCode maps a ProcessError onto the errno a syscall return should
// carry.
func (e ProcessError) AsErrorCode() errorcode.ErrorCode {
	switch e {
	case ErrOutOfMemory:
		return errorcode.NOMEM
	case ErrAddressOutOfBounds:
		return errorcode.INVAL
	case ErrNoSuchApp:
		return errorcode.INVAL
	case ErrInactiveApp:
		return errorcode.FAIL
	case ErrKernelError:
		return errorcode.FAIL
	case ErrAlreadyInUse:
		return errorcode.FAIL
	default:
		return errorcode.FAIL
	}
}

// Addresses collects the memory addresses of a process's flash and RAM
// regions, used for the memop address-query operands and debug output.
type Addresses struct {
	FlashStart            uintptr
	FlashNonProtectedStart uintptr
	FlashEnd              uintptr

	SRAMStart      uintptr
	SRAMAppBreak   uintptr
	SRAMGrantStart uintptr
	SRAMEnd        uintptr

	HeapStart  *uintptr
	StackTop   *uintptr
}

// WritableFlashRegion is one entry of the TBF-header-declared writeable
// flash regions a process may request the offset/size of via memop.
type WritableFlashRegion struct {
	Offset uint32
	Size   uint32
}
