// Package scheduler implements kernel.Scheduler: the policies that decide
// which process to run next and how to account for the time it used. It is
// a separate package from kernel so that a board can pick a scheduling
// policy without the kernel package needing to know any of them by name,
// the same boundary Tock draws around
// kernel::scheduler::{round_robin, cooperative}.
package scheduler

import (
	"container/ring"
	"sync"

	"github.com/talismancer/tockgo/pkg/kernel"
)

// DefaultTimesliceUS is how long a process may run before RoundRobin
// preempts it, matching Tock's RoundRobinSched::DEFAULT_TIMESLICE_US.
const DefaultTimesliceUS = 10000

// RoundRobin cycles through every registered process in order, granting
// each a fresh DefaultTimesliceUS timeslice unless it was interrupted
// mid-slice, in which case it is rescheduled with whatever time remained.
type RoundRobin struct {
	kernel.SchedulerDefaults

	mu              sync.Mutex
	ring            *ring.Ring // each Value is a kernel.ProcessID
	timeRemainingUS uint32
	lastRescheduled bool
}

// NewRoundRobin builds a RoundRobin scheduler with no processes registered
// yet; call Register for each process a board starts.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{timeRemainingUS: DefaultTimesliceUS}
}

// Register adds id to the scheduling rotation.
func (s *RoundRobin) Register(id kernel.ProcessID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := ring.New(1)
	r.Value = id
	if s.ring == nil {
		s.ring = r
		return
	}
	s.ring.Prev().Link(r)
}

func (s *RoundRobin) Next(k *kernel.Kernel) kernel.SchedulingDecision {
	s.mu.Lock()
	defer s.mu.Unlock()

	if k.ProcessesBlocked() || s.ring == nil {
		return kernel.SchedulingDecision{TrySleep: true}
	}

	n := s.ring.Len()
	var next kernel.ProcessID
	found := false
	for i := 0; i < n; i++ {
		id := s.ring.Value.(kernel.ProcessID)
		if kernel.ProcessMapOr(k, id, false, func(p kernel.Process) bool { return p.Ready() }) {
			next = id
			found = true
			break
		}
		s.ring = s.ring.Move(1)
	}
	if !found {
		return kernel.SchedulingDecision{TrySleep: true}
	}

	// The granted quantum is never zero: a preempted process either has
	// real time left or is handed a fresh timeslice.
	var timeslice uint32
	if s.lastRescheduled && s.timeRemainingUS > 0 {
		timeslice = s.timeRemainingUS
	} else {
		s.timeRemainingUS = DefaultTimesliceUS
		timeslice = DefaultTimesliceUS
	}
	ts := timeslice
	return kernel.SchedulingDecision{Next: next, TimesliceUS: &ts}
}

// Result keeps the preempted process at the head of the ring with its
// unused time when the kernel revoked the timeslice; every other outcome,
// including expiry, rotates it to the tail.
func (s *RoundRobin) Result(reason kernel.StoppedExecutingReason, executionTimeUS *uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reschedule := false
	if reason == kernel.StoppedKernelPreemption && executionTimeUS != nil {
		if s.timeRemainingUS > *executionTimeUS {
			s.timeRemainingUS -= *executionTimeUS
			reschedule = true
		}
	}
	s.lastRescheduled = reschedule
	if !reschedule && s.ring != nil {
		s.ring = s.ring.Move(1)
	}
}
