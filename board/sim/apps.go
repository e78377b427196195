package sim

import (
	"github.com/talismancer/tockgo/pkg/drivers/console"
	"github.com/talismancer/tockgo/pkg/kernel"
)

// EchoProgram is a reference userspace program: it writes a fixed greeting
// to the console once, then yields forever, the equivalent of the "hello"
// example TBF every Tock board ships to exercise a fresh port.
type EchoProgram struct {
	Message string
}

// Run implements kernel.Program.
func (e EchoProgram) Run(rt *kernel.Runtime) {
	msg := []byte(e.Message)
	const bufAddr = 0
	rt.WriteMemory(bufAddr, msg)
	rt.AllowReadOnly(console.DriverNum, 1, bufAddr, uintptr(len(msg)))
	rt.Subscribe(console.DriverNum, 1, func(r0, r1, r2 uintptr) {})
	rt.Command(console.DriverNum, 1, uintptr(len(msg)), 0)
	for {
		rt.Yield(true)
	}
}
