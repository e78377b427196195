package kernel

import "github.com/talismancer/tockgo/pkg/errorcode"

// ReadOnlyProcessBuffer is a bounds-checked, read-only view into a region of
// a process's accessible memory, created by a ReadOnlyAllow syscall. It
// replaces Tock's interior-mutability-based ReadableProcessSlice with an
// explicit, re-validated byte-slice view:
// Go has no raw pointers into another goroutine's memory to protect, so the
// safety property instead rests on re-checking process liveness on every
// access.
type ReadOnlyProcessBuffer struct {
	proc Process
	addr uintptr
	data []byte
}

// NewReadOnlyProcessBuffer wraps data, a slice drawn from proc's accessible
// memory at addr, as a read-only process buffer. proc must be the process
// that owns the underlying memory. A zero-length buffer carries its addr
// but exposes no bytes.
func NewReadOnlyProcessBuffer(proc Process, addr uintptr, data []byte) ReadOnlyProcessBuffer {
	return ReadOnlyProcessBuffer{proc: proc, addr: addr, data: data}
}

// Address returns the process-relative address the buffer was allowed at.
func (b ReadOnlyProcessBuffer) Address() uintptr { return b.addr }

// Len returns the buffer's length in bytes.
func (b ReadOnlyProcessBuffer) Len() int { return len(b.data) }

// Bytes returns the buffer's contents if the owning process is still alive,
// or ErrorCode FAIL if it has since terminated. A zero-length buffer is
// always enterable, whatever its address.
func (b ReadOnlyProcessBuffer) Bytes() ([]byte, error) {
	if len(b.data) == 0 {
		return nil, nil
	}
	if b.proc == nil || b.proc.GetState() == Terminated || b.proc.GetState() == Faulted {
		return nil, errorcode.FAIL
	}
	return b.data, nil
}

// ReadWriteProcessBuffer is the mutable counterpart of ReadOnlyProcessBuffer,
// created by a ReadWriteAllow syscall.
type ReadWriteProcessBuffer struct {
	proc Process
	addr uintptr
	data []byte
}

// NewReadWriteProcessBuffer wraps data as a read-write process buffer.
func NewReadWriteProcessBuffer(proc Process, addr uintptr, data []byte) ReadWriteProcessBuffer {
	return ReadWriteProcessBuffer{proc: proc, addr: addr, data: data}
}

// Address returns the process-relative address the buffer was allowed at.
func (b ReadWriteProcessBuffer) Address() uintptr { return b.addr }

// Len returns the buffer's length in bytes.
func (b ReadWriteProcessBuffer) Len() int { return len(b.data) }

// Bytes returns the buffer's contents for reading or writing if the owning
// process is still alive.
func (b ReadWriteProcessBuffer) Bytes() ([]byte, error) {
	if len(b.data) == 0 {
		return nil, nil
	}
	if b.proc == nil || b.proc.GetState() == Terminated || b.proc.GetState() == Faulted {
		return nil, errorcode.FAIL
	}
	return b.data, nil
}
