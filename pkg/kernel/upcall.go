package kernel

// UpcallID names a single upcall slot: the driver that owns it and the
// subscribe_num a process used to register it.
type UpcallID struct {
	DriverNum    uintptr
	SubscribeNum uintptr
}

// FunctionCallSource distinguishes a function call the kernel injects
// directly (the app entry point) from one that arrived via a capsule's
// upcall.
type FunctionCallSource struct {
	FromKernel bool
	Upcall     UpcallID
}

// FunctionCall describes a function a process should run the next time it
// is scheduled: either its `_start` entry point or a capsule upcall with its
// four argument registers.
type FunctionCall struct {
	Source    FunctionCallSource
	Argument0 uintptr
	Argument1 uintptr
	Argument2 uintptr
	Argument3 uintptr
	PC        uintptr
}

// Task is a unit of work enqueued for a process: either a function call or
// an IPC notification.
type Task struct {
	IsIPC      bool
	Call       FunctionCall
	IPCFrom    ProcessID
}

// UpcallError is returned by Upcall.Schedule when an upcall cannot be
// delivered.
type UpcallError int

const (
	UpcallQueueFull UpcallError = iota
	UpcallKernelError
)

func (e UpcallError) Error() string {
	if e == UpcallQueueFull {
		return "upcall queue full"
	}
	return "upcall kernel error"
}

// Upcall is a registered callback: the process it is installed in, its id,
// and the function pointer/application-data pair subscribe last set. A
// null function pointer (FnPtr == 0) means "not currently registered" and
// Schedule on it is a silent no-op success, matching how an un-subscribed
// upcall is handled.
type Upcall struct {
	ProcessID ProcessID
	ID        UpcallID
	FnPtr     uintptr
	AppData   uintptr
}

// Schedule enqueues a FunctionCall for the Upcall's owning process with the
// given return-value registers. If the upcall's function pointer is null
// this is a silent success: capsules are allowed to schedule upcalls that
// have not been subscribed to, and the kernel simply drops them.
func (u Upcall) Schedule(proc Process, r0, r1, r2 uintptr) error {
	if u.FnPtr == 0 {
		return nil
	}
	call := FunctionCall{
		Source:    FunctionCallSource{FromKernel: false, Upcall: u.ID},
		Argument0: r0,
		Argument1: r1,
		Argument2: r2,
		Argument3: u.AppData,
		PC:        u.FnPtr,
	}
	if err := proc.EnqueueTask(Task{Call: call}); err != nil {
		proc.NoteUpcallDropped()
		if err == ErrNoSuchApp {
			return UpcallKernelError
		}
		return UpcallQueueFull
	}
	return nil
}
