package hostchip

import (
	"sync"
	"time"
)

// SchedulerTimer simulates the hardware timer a real board arms to
// interrupt a process's timeslice, backed by a wall-clock deadline that is
// compared against time.Now on every query; nothing fires asynchronously.
// The timer's only job here is "did the timeslice run out".
type SchedulerTimer struct {
	mu       sync.Mutex
	timer    *time.Timer
	deadline time.Time
	armed    bool
}

// NewSchedulerTimer returns a disarmed timer.
func NewSchedulerTimer() *SchedulerTimer {
	return &SchedulerTimer{}
}

func (s *SchedulerTimer) Start(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadline = time.Now().Add(d)
	s.armed = true
}

func (s *SchedulerTimer) SetTimer(us uint32) {
	s.Start(time.Duration(us) * time.Microsecond)
}

func (s *SchedulerTimer) Arm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = true
}

func (s *SchedulerTimer) Disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = false
}

func (s *SchedulerTimer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = false
	s.deadline = time.Time{}
}

func (s *SchedulerTimer) Expired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed && !time.Now().Before(s.deadline)
}

func (s *SchedulerTimer) RemainingUS() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.armed {
		return 0
	}
	remaining := time.Until(s.deadline)
	if remaining <= 0 {
		return 0
	}
	return uint32(remaining / time.Microsecond)
}
