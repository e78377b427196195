// Package arch implements the architecture-independent half of the syscall
// ABI: decoding the four general-purpose registers a process traps into the
// kernel with into a typed Syscall, and encoding a SyscallReturn back into
// four registers. Register contents are exposed through typed getters
// (Int, Uint32, Pointer) rather than raw casts scattered through syscall
// handlers, in the style of gvisor's pkg/sentry/arch.SyscallArguments.
package arch

import "github.com/talismancer/tockgo/pkg/errorcode"

// Register is one general-purpose argument or return-value slot in the
// four-register calling convention TRD104 specifies for 32-bit platforms.
type Register uintptr

// Pointer interprets the register as a process-relative address.
func (r Register) Pointer() uintptr { return uintptr(r) }

// Uint32 interprets the register as an unsigned 32-bit value.
func (r Register) Uint32() uint32 { return uint32(r) }

// Int interprets the register as a machine-word signed integer.
func (r Register) Int() int { return int(int32(r)) }

// SyscallClass identifies which of the eight syscall ABI entry points a
// process trapped through. The numeric values are fixed by TRD104 and are
// carried directly in the trap instruction on some architectures, so they
// must not be renumbered.
type SyscallClass uint8

const (
	ClassYield SyscallClass = iota
	ClassSubscribe
	ClassCommand
	ClassReadWriteAllow
	ClassReadOnlyAllow
	ClassMemop
	ClassExit
	ClassUserspaceReadableAllow
)

func (c SyscallClass) String() string {
	switch c {
	case ClassYield:
		return "Yield"
	case ClassSubscribe:
		return "Subscribe"
	case ClassCommand:
		return "Command"
	case ClassReadWriteAllow:
		return "ReadWriteAllow"
	case ClassReadOnlyAllow:
		return "ReadOnlyAllow"
	case ClassMemop:
		return "Memop"
	case ClassExit:
		return "Exit"
	case ClassUserspaceReadableAllow:
		return "UserspaceReadableAllow"
	default:
		return "Unknown"
	}
}

// YieldMode distinguishes the two flavors of the Yield syscall.
type YieldMode uintptr

const (
	YieldNoWait YieldMode = 0
	YieldWait   YieldMode = 1
)

// Syscall is the decoded, typed form of a trap into the kernel. Only the
// fields relevant to Class are meaningful; this mirrors the Rust Syscall
// enum's per-variant fields without Go sum types.
type Syscall struct {
	Class SyscallClass

	// Yield
	YieldWhich   YieldMode
	YieldAddress uintptr

	// Subscribe / Command / ReadWriteAllow / ReadOnlyAllow / UserspaceReadableAllow
	DriverNum    uintptr
	SubdriverNum uintptr

	// Subscribe
	UpcallPtr uintptr
	AppData  uintptr

	// Command
	Arg0 uintptr
	Arg1 uintptr

	// ReadWriteAllow / ReadOnlyAllow / UserspaceReadableAllow
	AllowAddress uintptr
	AllowSize    uintptr

	// Memop
	Operand uintptr

	// Exit
	ExitWhich      uintptr
	CompletionCode uintptr
}

// DecodeSyscall turns the raw (syscall_number, r0, r1, r2, r3) tuple a
// process traps in with into a typed Syscall. The second return value is
// false if syscallNumber does not name a known SyscallClass.
func DecodeSyscall(syscallNumber uint8, r0, r1, r2, r3 uintptr) (Syscall, bool) {
	class := SyscallClass(syscallNumber)
	switch class {
	case ClassYield:
		return Syscall{Class: class, YieldWhich: YieldMode(r0), YieldAddress: r1}, true
	case ClassSubscribe:
		return Syscall{Class: class, DriverNum: r0, SubdriverNum: r1, UpcallPtr: r2, AppData: r3}, true
	case ClassCommand:
		return Syscall{Class: class, DriverNum: r0, SubdriverNum: r1, Arg0: r2, Arg1: r3}, true
	case ClassReadWriteAllow, ClassReadOnlyAllow, ClassUserspaceReadableAllow:
		return Syscall{Class: class, DriverNum: r0, SubdriverNum: r1, AllowAddress: r2, AllowSize: r3}, true
	case ClassMemop:
		return Syscall{Class: class, Operand: r0, Arg0: r1}, true
	case ClassExit:
		return Syscall{Class: class, ExitWhich: r0, CompletionCode: r1}, true
	default:
		return Syscall{}, false
	}
}

// returnVariant is the register-0 tag TRD104 assigns to each SyscallReturn
// shape. Values are part of the wire ABI.
type returnVariant uint32

const (
	variantFailure         returnVariant = 0
	variantFailureU32      returnVariant = 1
	variantFailureU32U32   returnVariant = 2
	variantFailureU64      returnVariant = 3
	variantSuccess         returnVariant = 128
	variantSuccessU32      returnVariant = 129
	variantSuccessU32U32   returnVariant = 130
	variantSuccessU64      returnVariant = 131
	variantSuccessU32U32U32 returnVariant = 132
	variantSuccessU64U32   returnVariant = 133
)

// SyscallReturn is every shape a syscall handler may hand back to the
// scheduler for encoding into the process's return registers. Construct one
// with the matching constructor function rather than the zero value; the
// zero value is Failure(0), which is not a meaningful ErrorCode.
type SyscallReturn struct {
	variant returnVariant
	err     errorcode.ErrorCode
	u32a    uint32
	u32b    uint32
	u32c    uint32
	u64a    uint64
}

func Failure(e errorcode.ErrorCode) SyscallReturn {
	return SyscallReturn{variant: variantFailure, err: e}
}

func FailureU32(e errorcode.ErrorCode, data0 uint32) SyscallReturn {
	return SyscallReturn{variant: variantFailureU32, err: e, u32a: data0}
}

func FailureU32U32(e errorcode.ErrorCode, data0, data1 uint32) SyscallReturn {
	return SyscallReturn{variant: variantFailureU32U32, err: e, u32a: data0, u32b: data1}
}

func FailureU64(e errorcode.ErrorCode, data0 uint64) SyscallReturn {
	return SyscallReturn{variant: variantFailureU64, err: e, u64a: data0}
}

func Success() SyscallReturn {
	return SyscallReturn{variant: variantSuccess}
}

func SuccessU32(data0 uint32) SyscallReturn {
	return SyscallReturn{variant: variantSuccessU32, u32a: data0}
}

func SuccessU32U32(data0, data1 uint32) SyscallReturn {
	return SyscallReturn{variant: variantSuccessU32U32, u32a: data0, u32b: data1}
}

func SuccessU32U32U32(data0, data1, data2 uint32) SyscallReturn {
	return SyscallReturn{variant: variantSuccessU32U32U32, u32a: data0, u32b: data1, u32c: data2}
}

func SuccessU64(data0 uint64) SyscallReturn {
	return SyscallReturn{variant: variantSuccessU64, u64a: data0}
}

func SuccessU64U32(data0 uint64, data1 uint32) SyscallReturn {
	return SyscallReturn{variant: variantSuccessU64U32, u64a: data0, u32a: data1}
}

// SubscribeSuccess builds the SuccessU32U32 shape subscribe returns on
// success: the previous upcall's function pointer and application data, so
// a capsule's caller can restore it later.
func SubscribeSuccess(prevUpcallPtr, prevAppData uint32) SyscallReturn {
	return SuccessU32U32(prevUpcallPtr, prevAppData)
}

// SubscribeFailure builds the FailureU32U32 shape subscribe returns when
// registration is rejected: the error plus the upcall pointer/application
// data the caller supplied, unregistered.
func SubscribeFailure(e errorcode.ErrorCode, upcallPtr, appData uintptr) SyscallReturn {
	return FailureU32U32(e, uint32(upcallPtr), uint32(appData))
}

// AllowReadWriteSuccessReturn builds the SuccessU32U32 shape a read-write
// allow returns on success: the previously shared buffer's address and
// size.
func AllowReadWriteSuccessReturn(addr, size uintptr) SyscallReturn {
	return SuccessU32U32(uint32(addr), uint32(size))
}

// AllowReadWriteFailure builds the FailureU32U32 shape a read-write allow
// returns when the buffer cannot be shared.
func AllowReadWriteFailure(e errorcode.ErrorCode, addr, size uintptr) SyscallReturn {
	return FailureU32U32(e, uint32(addr), uint32(size))
}

// AllowReadOnlySuccessReturn builds the SuccessU32U32 shape a read-only
// allow returns on success.
func AllowReadOnlySuccessReturn(addr, size uintptr) SyscallReturn {
	return SuccessU32U32(uint32(addr), uint32(size))
}

// AllowReadOnlyFailure builds the FailureU32U32 shape a read-only allow
// returns when the buffer cannot be shared.
func AllowReadOnlyFailure(e errorcode.ErrorCode, addr, size uintptr) SyscallReturn {
	return FailureU32U32(e, uint32(addr), uint32(size))
}

// IsSuccess reports whether sr represents any success variant.
func (sr SyscallReturn) IsSuccess() bool {
	return sr.variant >= variantSuccess
}

// DecodeSyscallReturn reconstructs a SyscallReturn from the four return
// registers, the userspace half of the return ABI. ok is false if a0 does
// not carry a known variant tag. Decoding an encoded return is the
// identity on its tag and payload.
func DecodeSyscallReturn(a0, a1, a2, a3 uint32) (SyscallReturn, bool) {
	switch returnVariant(a0) {
	case variantFailure:
		return Failure(errorcode.ErrorCode(a1)), true
	case variantFailureU32:
		return FailureU32(errorcode.ErrorCode(a1), a2), true
	case variantFailureU32U32:
		return FailureU32U32(errorcode.ErrorCode(a1), a2, a3), true
	case variantFailureU64:
		return FailureU64(errorcode.ErrorCode(a1), uint64(a3)<<32|uint64(a2)), true
	case variantSuccess:
		return Success(), true
	case variantSuccessU32:
		return SuccessU32(a1), true
	case variantSuccessU32U32:
		return SuccessU32U32(a1, a2), true
	case variantSuccessU64:
		return SuccessU64(uint64(a2)<<32 | uint64(a1)), true
	case variantSuccessU32U32U32:
		return SuccessU32U32U32(a1, a2, a3), true
	case variantSuccessU64U32:
		return SuccessU64U32(uint64(a2)<<32|uint64(a1), a3), true
	default:
		return SyscallReturn{}, false
	}
}

// u64ToBEu32s splits a 64-bit value into its big-endian most- and
// least-significant 32-bit halves, matching the Rust reference's
// u64_to_be_u32s helper used when packing a 64-bit return across two
// registers.
func u64ToBEu32s(v uint64) (msb, lsb uint32) {
	return uint32(v >> 32), uint32(v)
}

// Encode packs sr into the four return registers following TRD104.
func (sr SyscallReturn) Encode() (a0, a1, a2, a3 uint32) {
	switch sr.variant {
	case variantFailure:
		return uint32(variantFailure), uint32(sr.err), 0, 0
	case variantFailureU32:
		return uint32(variantFailureU32), uint32(sr.err), sr.u32a, 0
	case variantFailureU32U32:
		return uint32(variantFailureU32U32), uint32(sr.err), sr.u32a, sr.u32b
	case variantFailureU64:
		msb, lsb := u64ToBEu32s(sr.u64a)
		return uint32(variantFailureU64), uint32(sr.err), lsb, msb
	case variantSuccess:
		return uint32(variantSuccess), 0, 0, 0
	case variantSuccessU32:
		return uint32(variantSuccessU32), sr.u32a, 0, 0
	case variantSuccessU32U32:
		return uint32(variantSuccessU32U32), sr.u32a, sr.u32b, 0
	case variantSuccessU32U32U32:
		return uint32(variantSuccessU32U32U32), sr.u32a, sr.u32b, sr.u32c
	case variantSuccessU64:
		msb, lsb := u64ToBEu32s(sr.u64a)
		return uint32(variantSuccessU64), lsb, msb, 0
	case variantSuccessU64U32:
		msb, lsb := u64ToBEu32s(sr.u64a)
		return uint32(variantSuccessU64U32), lsb, msb, sr.u32a
	default:
		return uint32(variantFailure), uint32(errorcode.FAIL), 0, 0
	}
}
