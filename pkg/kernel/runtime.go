package kernel

import (
	"github.com/talismancer/tockgo/pkg/arch"
)

// Program is the entry point of a simulated userspace application. It is
// handed a Runtime and runs until it returns (the process exits cleanly,
// equivalent to the exit-terminate syscall) or panics (treated as a fault).
// Program.Run executes on its own goroutine but never runs concurrently
// with the kernel's dispatch goroutine: Runtime's methods block the app
// goroutine until the kernel replies, which is how this package reproduces
// the single-logical-thread-of-control guarantee without real
// architecture-level context switching.
type Program interface {
	Run(rt *Runtime)
}

// resumeMsg is the syscall return value the kernel hands back to a parked
// app goroutine.
type resumeMsg struct {
	ret arch.SyscallReturn
}

// trapMsg is what the app goroutine hands to the kernel when it traps:
// a syscall or a fault.
type trapMsg struct {
	syscall arch.Syscall
	fault   bool
}

// noFlagAddress is the address Runtime passes for yield calls that do not
// want a result flag written; it is outside every process's memory, so the
// kernel's validate-and-ignore rule skips the write.
const noFlagAddress = ^uintptr(0)

// Runtime is the only way a Program interacts with the kernel: every method
// raises the matching syscall class and parks the app goroutine until the
// kernel replies.
type Runtime struct {
	toApp   chan resumeMsg
	fromApp chan trapMsg
	proc    *StandardProcess
}

func newRuntime(proc *StandardProcess) *Runtime {
	return &Runtime{
		toApp:   make(chan resumeMsg),
		fromApp: make(chan trapMsg),
		proc:    proc,
	}
}

func (rt *Runtime) trap(sc arch.Syscall) arch.SyscallReturn {
	rt.fromApp <- trapMsg{syscall: sc}
	msg := <-rt.toApp
	return msg.ret
}

// Yield blocks the calling process until the kernel schedules it again,
// either because an upcall became ready (wait=true) or immediately
// (wait=false, used to drain pending upcalls without sleeping).
func (rt *Runtime) Yield(wait bool) {
	which := arch.YieldNoWait
	if wait {
		which = arch.YieldWait
	}
	rt.trap(arch.Syscall{Class: arch.ClassYield, YieldWhich: which, YieldAddress: noFlagAddress})
}

// YieldNoWait drains at most one pending upcall without blocking and has
// the kernel record whether one ran in the byte at flagAddr.
func (rt *Runtime) YieldNoWait(flagAddr uintptr) {
	rt.trap(arch.Syscall{Class: arch.ClassYield, YieldWhich: arch.YieldNoWait, YieldAddress: flagAddr})
}

// fnPtrFor fabricates a flash address for a subscription's callback, the
// stand-in for the real function pointer a hardware process would pass.
func (rt *Runtime) fnPtrFor(subscribeNum uintptr) uintptr {
	return rt.proc.addresses.FlashStart + 0x20 + subscribeNum*8
}

// Subscribe registers cb as the callback to run when driverNum/subscribeNum
// next fires, and returns the previous registration's ABI-level
// success/failure indication. Passing a nil cb unsubscribes.
func (rt *Runtime) Subscribe(driverNum, subscribeNum uintptr, cb func(r0, r1, r2 uintptr)) arch.SyscallReturn {
	rt.proc.SetUpcallCallback(UpcallID{DriverNum: driverNum, SubscribeNum: subscribeNum}, cb)
	var fnPtr uintptr
	if cb != nil {
		fnPtr = rt.fnPtrFor(subscribeNum)
	}
	return rt.trap(arch.Syscall{
		Class: arch.ClassSubscribe, DriverNum: driverNum, SubdriverNum: subscribeNum,
		UpcallPtr: fnPtr, AppData: 0,
	})
}

// Command issues a driver command.
func (rt *Runtime) Command(driverNum, commandNum, arg0, arg1 uintptr) arch.SyscallReturn {
	return rt.trap(arch.Syscall{
		Class: arch.ClassCommand, DriverNum: driverNum, SubdriverNum: commandNum,
		Arg0: arg0, Arg1: arg1,
	})
}

// AllowReadWrite shares a mutable buffer with a driver.
func (rt *Runtime) AllowReadWrite(driverNum, bufferNum, addr, size uintptr) arch.SyscallReturn {
	return rt.trap(arch.Syscall{
		Class: arch.ClassReadWriteAllow, DriverNum: driverNum, SubdriverNum: bufferNum,
		AllowAddress: addr, AllowSize: size,
	})
}

// AllowReadOnly shares an immutable buffer with a driver.
func (rt *Runtime) AllowReadOnly(driverNum, bufferNum, addr, size uintptr) arch.SyscallReturn {
	return rt.trap(arch.Syscall{
		Class: arch.ClassReadOnlyAllow, DriverNum: driverNum, SubdriverNum: bufferNum,
		AllowAddress: addr, AllowSize: size,
	})
}

// AllowUserspaceReadable shares a mutable buffer with a driver while the
// process keeps reading it.
func (rt *Runtime) AllowUserspaceReadable(driverNum, bufferNum, addr, size uintptr) arch.SyscallReturn {
	return rt.trap(arch.Syscall{
		Class: arch.ClassUserspaceReadableAllow, DriverNum: driverNum, SubdriverNum: bufferNum,
		AllowAddress: addr, AllowSize: size,
	})
}

// WriteMemory places data into the process's simulated RAM at addr so a
// later AllowReadOnly/AllowReadWrite call over the same range hands the
// kernel real bytes to read. See StandardProcess.WriteMemory for why this
// exists and has no syscall-class counterpart.
func (rt *Runtime) WriteMemory(addr uintptr, data []byte) error {
	return rt.proc.WriteMemory(addr, data)
}

// Memop issues a memop operand.
func (rt *Runtime) Memop(operand, arg0 uintptr) arch.SyscallReturn {
	return rt.trap(arch.Syscall{Class: arch.ClassMemop, Operand: operand, Arg0: arg0})
}

// Exit terminates the process with a completion code. It never returns:
// the kernel tears the process down without resuming it.
func (rt *Runtime) Exit(completionCode uint32) {
	rt.fromApp <- trapMsg{syscall: arch.Syscall{
		Class: arch.ClassExit, ExitWhich: 0, CompletionCode: uintptr(completionCode),
	}}
	select {}
}

// ExitRestart asks the kernel to restart the process with a fresh
// incarnation. It never returns in the calling incarnation.
func (rt *Runtime) ExitRestart(completionCode uint32) {
	rt.fromApp <- trapMsg{syscall: arch.Syscall{
		Class: arch.ClassExit, ExitWhich: 1, CompletionCode: uintptr(completionCode),
	}}
	select {}
}
