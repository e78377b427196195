package kernel

import "github.com/talismancer/tockgo/pkg/errorcode"

// Grant is a typed handle to a per-process, per-driver region of kernel
// memory, lazily allocated the first time a process is entered for it. T is
// the capsule-defined state stored in the region; Go's lack of raw pointers
// into arbitrary memory means the grant's "memory" is simply a *T stored in
// the process's grant table, guarded the same way a Rust RefCell would be:
// only one borrow (Enter) may be outstanding per process at a time.
type Grant[T any] struct {
	driverNum uintptr
	grantNum  int
	zero      func() T
}

// CreateGrant declares a grant slot for driverNum on k, assigning it the
// next kernel-unique grant index. zero produces the region's initial value
// the first time a process is allocated into it. Declaring a grant after
// the first process has been loaded aborts the board: the grant index
// space must be fixed before any process's grant table is sized.
func CreateGrant[T any](k *Kernel, driverNum uintptr, zero func() T, _ MemoryAllocationCapability) Grant[T] {
	return Grant[T]{driverNum: driverNum, grantNum: k.declareGrant(driverNum), zero: zero}
}

// Index returns the kernel-unique grant index assigned at declaration.
func (g Grant[T]) Index() int { return g.grantNum }

// Enter runs fn with exclusive access to this grant's region for proc,
// lazily allocating the region if proc has never been entered for it
// before. It returns the error EnterGrant would have returned, or the
// ErrAlreadyInUse sentinel if another borrow of the same grant in the same
// process is already active — grants, like the rest of the process
// interface, allow only one logical borrow in flight per process.
func (g Grant[T]) Enter(proc Process, fn func(*T)) error {
	if ok, known := proc.GrantIsAllocated(g.grantNum); !known {
		return ErrInactiveApp
	} else if !ok {
		if !proc.AllocateGrant(g.grantNum, g.driverNum, 0, 0) {
			return ErrOutOfMemory
		}
	}
	raw, err := proc.EnterGrant(g.grantNum, func() any {
		v := g.zero()
		return &v
	})
	if err != nil {
		return err
	}
	defer proc.LeaveGrant(g.grantNum)
	state, ok := raw.(*T)
	if !ok {
		return ErrKernelError
	}
	fn(state)
	return nil
}

// upcallEntry is one subscribe record held in grant memory: the function
// pointer and application data the process last registered.
type upcallEntry struct {
	fnPtr   uintptr
	appData uintptr
}

// grantRegion is the per-process storage cell backing one grant slot in
// StandardProcess's grant table: the lazily-initialized capsule value, the
// single-borrow guard, and the subscribe/allow tables the syscall handler
// swaps records through.
type grantRegion struct {
	allocated bool
	value     any
	inUse     bool

	upcalls   map[uintptr]upcallEntry
	rwBuffers map[uintptr]ReadWriteProcessBuffer
	roBuffers map[uintptr]ReadOnlyProcessBuffer
	urBuffers map[uintptr]ReadWriteProcessBuffer
}

func newGrantRegion() *grantRegion {
	return &grantRegion{
		allocated: true,
		upcalls:   make(map[uintptr]upcallEntry),
		rwBuffers: make(map[uintptr]ReadWriteProcessBuffer),
		roBuffers: make(map[uintptr]ReadOnlyProcessBuffer),
		urBuffers: make(map[uintptr]ReadWriteProcessBuffer),
	}
}

// asErrorCode is a convenience used by handlers that need the wire errno
// rather than the process.go sentinel.
func asErrorCode(err error) errorcode.ErrorCode {
	if err == nil {
		return 0
	}
	if pe, ok := err.(ProcessError); ok {
		return pe.AsErrorCode()
	}
	return errorcode.FAIL
}
