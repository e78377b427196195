// Package errorcode defines the kernel's errno taxonomy, the common failure
// vocabulary shared by the syscall ABI, grants and process buffers.
package errorcode

import "fmt"

// ErrorCode is the kernel's internal errno type. Its numeric values are the
// wire representation placed in the argument0 register of a Failure-class
// SyscallReturn, so the ordering below is part of the ABI and must not
// change.
type ErrorCode uint32

const (
	FAIL ErrorCode = iota + 1
	BUSY
	ALREADY
	OFF
	RESERVE
	INVAL
	SIZE
	CANCEL
	NOMEM
	NOSUPPORT
	NODEVICE
	UNINSTALLED
	NOACK
)

var names = map[ErrorCode]string{
	FAIL:        "FAIL",
	BUSY:        "BUSY",
	ALREADY:     "ALREADY",
	OFF:         "OFF",
	RESERVE:     "RESERVE",
	INVAL:       "INVAL",
	SIZE:        "SIZE",
	CANCEL:      "CANCEL",
	NOMEM:       "NOMEM",
	NOSUPPORT:   "NOSUPPORT",
	NODEVICE:    "NODEVICE",
	UNINSTALLED: "UNINSTALLED",
	NOACK:       "NOACK",
}

// Error implements the error interface so ErrorCode can be returned and
// compared anywhere Go code expects an error.
func (e ErrorCode) Error() string {
	if n, ok := names[e]; ok {
		return n
	}
	return fmt.Sprintf("errorcode(%d)", uint32(e))
}

// IntoStatusCode converts a (possibly nil) ErrorCode-typed error into the
// single-word status code userspace sees from a command that returns
// `Result<(), ErrorCode>`-shaped status: 0 for success, the errno value
// otherwise.
func IntoStatusCode(err error) uint32 {
	if err == nil {
		return 0
	}
	if ec, ok := err.(ErrorCode); ok {
		return uint32(ec)
	}
	return uint32(FAIL)
}
