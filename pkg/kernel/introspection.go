package kernel

// Info exposes read-only inspection of kernel and process state for board
// debug tooling (tockctl's describe-process subcommand). Tock gates the
// equivalent KernelInfo queries behind a capability type so arbitrary
// capsules cannot use them; here the gate is that only code handed a
// *Kernel by the board's main can build one.
type Info struct {
	kernel *Kernel
}

// NewInfo wraps k for inspection. Call from board assembly code only; a
// capsule should never be given an *Info.
func NewInfo(k *Kernel) Info { return Info{kernel: k} }

// NumberLoadedProcesses counts occupied process slots regardless of state.
func (i Info) NumberLoadedProcesses() int {
	n := 0
	i.kernel.ProcessEach(func(Process) { n++ })
	return n
}

// NumberActiveProcesses counts processes in Running or Yielded.
func (i Info) NumberActiveProcesses() int {
	n := 0
	i.kernel.ProcessEach(func(p Process) {
		switch p.GetState() {
		case Running, Yielded:
			n++
		}
	})
	return n
}

// NumberInactiveProcesses counts everything NumberActiveProcesses does not.
func (i Info) NumberInactiveProcesses() int {
	return i.NumberLoadedProcesses() - i.NumberActiveProcesses()
}

// ProcessName returns the name of the process pid names, or "unknown" if
// the handle is stale.
func (i Info) ProcessName(pid ProcessID) string {
	return ProcessMapOr(i.kernel, pid, "unknown", func(p Process) string { return p.Name() })
}

func (i Info) NumberAppSyscalls(pid ProcessID) int {
	return ProcessMapOr(i.kernel, pid, 0, func(p Process) int { return p.DebugSyscallCount() })
}

func (i Info) NumberAppDroppedUpcalls(pid ProcessID) int {
	return ProcessMapOr(i.kernel, pid, 0, func(p Process) int { return p.DebugDroppedUpcallCount() })
}

func (i Info) NumberAppRestarts(pid ProcessID) int {
	return ProcessMapOr(i.kernel, pid, 0, func(p Process) int { return p.RestartCount() })
}

func (i Info) NumberAppTimesliceExpirations(pid ProcessID) int {
	return ProcessMapOr(i.kernel, pid, 0, func(p Process) int { return p.DebugTimesliceExpirationCount() })
}

// NumberAppGrantUses returns (grants this process has allocated, grants
// declared kernel-wide).
func (i Info) NumberAppGrantUses(pid ProcessID) (used, total int) {
	i.kernel.mu.Lock()
	total = i.kernel.grantCount
	i.kernel.mu.Unlock()
	used = ProcessMapOr(i.kernel, pid, 0, func(p Process) int {
		n, _ := p.GrantAllocatedCount()
		return n
	})
	return used, total
}

// TimesliceExpirations sums DebugTimesliceExpirationCount across every
// loaded process.
func (i Info) TimesliceExpirations() int {
	n := 0
	i.kernel.ProcessEach(func(p Process) { n += p.DebugTimesliceExpirationCount() })
	return n
}
