package kernel

import (
	"github.com/talismancer/tockgo/pkg/arch"
	"github.com/talismancer/tockgo/pkg/errorcode"
)

// CommandReturn is the subset of arch.SyscallReturn a SyscallDriver's
// Command method is allowed to construct; it exists so a capsule cannot
// accidentally fabricate an Allow/Subscribe-shaped return value. Build one
// with the CommandReturn constructor functions below.
type CommandReturn struct {
	inner arch.SyscallReturn
}

func CommandSuccess() CommandReturn                            { return CommandReturn{arch.Success()} }
func CommandSuccessU32(v uint32) CommandReturn                 { return CommandReturn{arch.SuccessU32(v)} }
func CommandSuccessU32U32(a, b uint32) CommandReturn            { return CommandReturn{arch.SuccessU32U32(a, b)} }
func CommandSuccessU32U32U32(a, b, c uint32) CommandReturn      { return CommandReturn{arch.SuccessU32U32U32(a, b, c)} }
func CommandSuccessU64(v uint64) CommandReturn                 { return CommandReturn{arch.SuccessU64(v)} }
func CommandFailure(e errorcode.ErrorCode) CommandReturn       { return CommandReturn{arch.Failure(e)} }
func CommandFailureU32(e errorcode.ErrorCode, v uint32) CommandReturn {
	return CommandReturn{arch.FailureU32(e, v)}
}

// Into converts a CommandReturn into the general-purpose SyscallReturn the
// dispatcher encodes into the process's return registers.
func (c CommandReturn) Into() arch.SyscallReturn { return c.inner }

// SyscallDriver is the interface a capsule implements to be addressable
// over the Command/Subscribe/Allow syscall classes under a driver number.
// The kernel never calls these methods on a nil/missing driver:
// DriverTable.Lookup reports an unknown driver number with ok=false and the
// syscall handler fails the call with NODEVICE.
type SyscallDriver interface {
	// Command handles a Command syscall. commandNum 0 is reserved by
	// convention to mean "is this driver present" and must always
	// succeed if the driver exists.
	Command(commandNum int, arg0, arg1 uintptr, caller ProcessID) CommandReturn

	// AllocateGrant is called once, lazily, the first time the kernel
	// needs to hand this driver's per-process grant region to a
	// process that has not had one allocated yet.
	AllocateGrant(caller ProcessID) error
}

// UserspaceReadableDriver is the optional extension a SyscallDriver
// implements to be notified of userspace-readable allows: buffers shared
// without the usual kernel-exclusivity guarantee, which the process keeps
// reading while the driver holds them.
type UserspaceReadableDriver interface {
	AllowUserspaceReadable(caller ProcessID, bufferNum uintptr, buf ReadWriteProcessBuffer)
}

// DriverTable maps driver numbers to SyscallDriver implementations.
type DriverTable struct {
	drivers map[uintptr]SyscallDriver
}

// NewDriverTable builds an empty driver table.
func NewDriverTable() *DriverTable {
	return &DriverTable{drivers: make(map[uintptr]SyscallDriver)}
}

// Register adds driver under driverNum, the way a board's main wires every
// capsule it statically allocates into the syscall surface.
func (t *DriverTable) Register(driverNum uintptr, driver SyscallDriver) {
	t.drivers[driverNum] = driver
}

// Lookup returns the driver registered under driverNum, or ok=false if no
// driver claims that number.
func (t *DriverTable) Lookup(driverNum uintptr) (SyscallDriver, bool) {
	d, ok := t.drivers[driverNum]
	return d, ok
}
