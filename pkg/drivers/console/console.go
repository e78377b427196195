// Package console implements the reference SyscallDriver every board in
// this repository registers: a console backed by an io.Writer and flushed
// after every write command, modeled on Tock's console capsule (driver
// number 0x1). Userspace writes through it; the read command is rejected
// with NOSUPPORT because no stdin is wired up.
package console

import (
	"bufio"
	"io"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/talismancer/tockgo/pkg/errorcode"
	"github.com/talismancer/tockgo/pkg/kernel"
)

// DriverNum is the syscall driver number userspace uses to reach the
// console, matching Tock's own capsules::console::DRIVER_NUM assignment.
const DriverNum = 0x1

const (
	cmdExists    = 0
	cmdWrite     = 1
	cmdRead      = 2
	cmdAbortRead = 3

	bufferWrite = 1

	upcallWrite = 1
)

type grantState struct {
	writeInProgress bool
}

// Console is the console capsule: every subscribing process gets its own
// lazily-allocated grantState tracking whether a write is in flight, the
// way a real capsule's per-process grant tracks in-progress operations
// instead of a single shared field.
type Console struct {
	mu     sync.Mutex
	out    *bufio.Writer
	logger *log.Logger
	grant  kernel.Grant[grantState]
}

// New builds a console capsule that writes to out, declaring its grant
// region on k. Like every grant declaration, this must happen before the
// board loads its first process.
func New(k *kernel.Kernel, out io.Writer, cap kernel.MemoryAllocationCapability) *Console {
	if out == nil {
		out = io.Discard
	}
	return &Console{
		out:    bufio.NewWriter(out),
		logger: log.StandardLogger(),
		grant:  kernel.CreateGrant(k, DriverNum, func() grantState { return grantState{} }, cap),
	}
}

// AllocateGrant implements kernel.SyscallDriver: entering the grant forces
// its backing storage to be carved from the caller's RAM, which is all the
// syscall handler's lazy-allocation retry needs.
func (c *Console) AllocateGrant(caller kernel.ProcessID) error {
	proc, ok := caller.Resolve()
	if !ok {
		return kernel.ErrNoSuchApp
	}
	return c.grant.Enter(proc, func(*grantState) {})
}

// Command implements kernel.SyscallDriver.
func (c *Console) Command(commandNum int, arg0, arg1 uintptr, caller kernel.ProcessID) kernel.CommandReturn {
	switch commandNum {
	case cmdExists:
		return kernel.CommandSuccess()
	case cmdWrite:
		return c.write(caller, arg0)
	case cmdRead:
		// The host console has no interactive stdin wired up; reject
		// rather than hang the calling process.
		return kernel.CommandFailure(errorcode.NOSUPPORT)
	case cmdAbortRead:
		return kernel.CommandSuccess()
	default:
		return kernel.CommandFailure(errorcode.NOSUPPORT)
	}
}

// write drains up to length bytes of the buffer the process most recently
// shared via ReadOnlyAllow(DriverNum, bufferWrite, ...) to the console's
// output, then schedules the completion upcall stored in the grant.
func (c *Console) write(caller kernel.ProcessID, length uintptr) kernel.CommandReturn {
	proc, ok := caller.Resolve()
	if !ok {
		return kernel.CommandFailure(errorcode.FAIL)
	}
	buf, ok := proc.GetReadOnlyBuffer(DriverNum, bufferWrite)
	if !ok {
		return kernel.CommandFailure(errorcode.INVAL)
	}
	n := int(length)
	if n > buf.Len() {
		n = buf.Len()
	}

	var entered bool
	err := c.grant.Enter(proc, func(s *grantState) {
		if s.writeInProgress {
			return
		}
		s.writeInProgress = true
		entered = true
	})
	if err != nil {
		return kernel.CommandFailure(errorcode.FAIL)
	}
	if !entered {
		return kernel.CommandFailure(errorcode.BUSY)
	}

	data, rerr := buf.Bytes()
	if rerr == nil && n > 0 {
		c.mu.Lock()
		c.out.Write(data[:n])
		c.out.Flush()
		c.mu.Unlock()
	}

	c.grant.Enter(proc, func(s *grantState) { s.writeInProgress = false })

	if up, ok := proc.SavedUpcall(DriverNum, upcallWrite); ok {
		if schedErr := up.Schedule(proc, uintptr(n), 0, 0); schedErr != nil {
			c.logger.WithField("process", proc.Name()).Debug("console write completion upcall dropped")
		}
	}
	return kernel.CommandSuccessU32(uint32(n))
}
