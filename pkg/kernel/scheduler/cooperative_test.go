package scheduler

import (
	"testing"

	"github.com/talismancer/tockgo/pkg/kernel"
)

func TestCooperativeTrySleepsWithNoProcesses(t *testing.T) {
	s := NewCooperative()
	k := kernel.New(2, nil, nil)
	decision := s.Next(k)
	if !decision.TrySleep {
		t.Fatal("expected TrySleep with nothing registered")
	}
}

func TestCooperativeOffersProcessWithoutTimeslice(t *testing.T) {
	k := kernel.New(2, nil, nil)
	id := startTestProcess(t, k, "p0")

	s := NewCooperative()
	s.Register(id)

	decision := s.Next(k)
	if decision.TrySleep {
		t.Fatal("expected a process to be offered")
	}
	if decision.Next != id {
		t.Fatalf("got process %v, want %v", decision.Next, id)
	}
	if decision.TimesliceUS != nil {
		t.Fatal("cooperative scheduling must not assign a timeslice")
	}
}

func TestCooperativeKeepsSameProcessOnKernelPreemption(t *testing.T) {
	k := kernel.New(2, nil, nil)
	first := startTestProcess(t, k, "p0")
	second := startTestProcess(t, k, "p1")

	s := NewCooperative()
	s.Register(first)
	s.Register(second)

	decision := s.Next(k)
	if decision.Next != first {
		t.Fatalf("expected first process offered first, got %v", decision.Next)
	}
	s.Result(kernel.StoppedKernelPreemption, nil)

	decision = s.Next(k)
	if decision.Next != first {
		t.Fatalf("expected the same process to resume after a preemption, got %v", decision.Next)
	}
}

func TestCooperativeAdvancesRingOnNonPreemptingStop(t *testing.T) {
	k := kernel.New(2, nil, nil)
	first := startTestProcess(t, k, "p0")
	second := startTestProcess(t, k, "p1")

	s := NewCooperative()
	s.Register(first)
	s.Register(second)

	s.Next(k)
	s.Result(kernel.StoppedNoWorkLeft, nil)

	decision := s.Next(k)
	if decision.Next != second {
		t.Fatalf("expected rotation to the second process, got %v", decision.Next)
	}
}
