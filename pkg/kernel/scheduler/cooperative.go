package scheduler

import (
	"container/ring"
	"sync"

	"github.com/talismancer/tockgo/pkg/kernel"
)

// Cooperative cycles through every registered process in order without
// ever assigning a timeslice: a process keeps running until it yields,
// stops, faults or exits. Preemption by a hardware interrupt is still
// honored; the original process resumes afterward rather than losing its
// turn.
type Cooperative struct {
	kernel.SchedulerDefaults

	mu   sync.Mutex
	ring *ring.Ring
}

// NewCooperative builds a Cooperative scheduler with no processes
// registered yet.
func NewCooperative() *Cooperative {
	return &Cooperative{}
}

func (s *Cooperative) Register(id kernel.ProcessID) {
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

func (s *Cooperative) Next(k *kernel.Kernel) kernel.SchedulingDecision {
	s.mu.Lock()
	defer s.mu.Unlock()

	if k.ProcessesBlocked() || s.ring == nil {
		return kernel.SchedulingDecision{TrySleep: true}
	}

	n := s.ring.Len()
	for i := 0; i < n; i++ {
		id := s.ring.Value.(kernel.ProcessID)
		if kernel.ProcessMapOr(k, id, false, func(p kernel.Process) bool { return p.Ready() }) {
			return kernel.SchedulingDecision{Next: id}
		}
		s.ring = s.ring.Move(1)
	}
	return kernel.SchedulingDecision{TrySleep: true}
}

func (s *Cooperative) Result(reason kernel.StoppedExecutingReason, _ *uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if reason == kernel.StoppedKernelPreemption {
		return
	}
	if s.ring != nil {
		s.ring = s.ring.Move(1)
	}
}
