// Package hostchip is the reference platform.Chip backend: it simulates a
// board's interrupt controller, deferred-call queue, MPU, scheduler timer
// and watchdog entirely in the host process, the way gvisor's
// pkg/sentry/platform backends stand in for hardware virtualization
// primitives behind one platform-shaped interface.
package hostchip

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/talismancer/tockgo/pkg/platform"
)

// defaultQuantumUS is how many simulated microseconds of execution time the
// chip reports for a single SwitchTo call when the caller has not measured
// anything more precise; real time elapsed while blocked on a channel
// handoff is not a meaningful measure of "how much CPU the process used".
const defaultQuantumUS = 100

// Chip is the host-simulation platform.Chip. Peripherals that want to raise
// an interrupt or schedule a deferred call from their own goroutine (a
// simulated UART's read-ready event, a timer firing in the background) call
// RaiseInterrupt / ScheduleDeferredCall; the main loop only ever touches the
// queues from the kernel goroutine.
type Chip struct {
	mu             sync.Mutex
	interrupts     []func()
	deferredCalls  []func()
	busAccess      *semaphore.Weighted
	sleepLimiter   *rate.Limiter
	quantumUS      uint32

	mpu      *MPU
	timer    *SchedulerTimer
	watchdog *WatchDog
}

// Config bundles the construction parameters for a Chip.
type Config struct {
	ArenaSize       int
	MPURegionCount  int
	WatchdogTimeout time.Duration
}

// New builds a Chip with its MPU arena mapped and its watchdog armed.
func New(cfg Config) (*Chip, error) {
	mpu, err := NewMPU(cfg.ArenaSize, cfg.MPURegionCount)
	if err != nil {
		return nil, err
	}
	c := &Chip{
		busAccess:    semaphore.NewWeighted(1),
		sleepLimiter: rate.NewLimiter(rate.Limit(1000), 1),
		quantumUS:    defaultQuantumUS,
		mpu:          mpu,
		timer:        NewSchedulerTimer(),
		watchdog:     NewWatchDog(cfg.WatchdogTimeout, nil),
	}
	c.watchdog.SetUp()
	return c, nil
}

// RaiseInterrupt enqueues fn to run the next time the main loop drains its
// interrupt queue. Acquiring busAccess serializes concurrent peripheral
// goroutines the way a single shared interrupt-pending register would.
func (c *Chip) RaiseInterrupt(fn func()) {
	_ = c.busAccess.Acquire(context.Background(), 1)
	defer c.busAccess.Release(1)
	c.mu.Lock()
	c.interrupts = append(c.interrupts, fn)
	c.mu.Unlock()
}

// ScheduleDeferredCall enqueues fn to run the next time the main loop
// drains its deferred-call queue.
func (c *Chip) ScheduleDeferredCall(fn func()) {
	_ = c.busAccess.Acquire(context.Background(), 1)
	defer c.busAccess.Release(1)
	c.mu.Lock()
	c.deferredCalls = append(c.deferredCalls, fn)
	c.mu.Unlock()
}

func (c *Chip) HasPendingInterrupts() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.interrupts) > 0
}

func (c *Chip) ServicePendingInterrupts() {
	c.mu.Lock()
	if len(c.interrupts) == 0 {
		c.mu.Unlock()
		return
	}
	fn := c.interrupts[0]
	c.interrupts = c.interrupts[1:]
	c.mu.Unlock()
	fn()
}

func (c *Chip) HasPendingDeferredCalls() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.deferredCalls) > 0
}

func (c *Chip) ServicePendingDeferredCalls() {
	c.mu.Lock()
	if len(c.deferredCalls) == 0 {
		c.mu.Unlock()
		return
	}
	fn := c.deferredCalls[0]
	c.deferredCalls = c.deferredCalls[1:]
	c.mu.Unlock()
	fn()
}

// Sleep returns at once if an interrupt is already pending; otherwise it
// blocks until the sleep limiter's budget replenishes, so an idle kernel
// loop does not spin the host CPU while it waits for simulated hardware.
// An interrupt raised during that wait does not cut it short.
func (c *Chip) Sleep() {
	if c.HasPendingInterrupts() {
		return
	}
	_ = c.sleepLimiter.Wait(context.Background())
}

func (c *Chip) QuantumUS() uint32 { return c.quantumUS }

func (c *Chip) MPU() platform.MPU                     { return c.mpu }
func (c *Chip) SchedulerTimer() platform.SchedulerTimer { return c.timer }
func (c *Chip) WatchDog() platform.WatchDog           { return c.watchdog }

// Close releases the Chip's backing resources (the MPU's mmap'd arena, the
// watchdog's monitor goroutine).
func (c *Chip) Close() error {
	c.watchdog.Close()
	return c.mpu.Close()
}
