package hostchip

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// WatchDog simulates a hardware watchdog with a background goroutine
// instead of a real reset line: if Tickle is not called within the timeout,
// it logs a fatal-looking warning rather than resetting the host process,
// since a hosted kernel cannot reset the machine it runs on.
type WatchDog struct {
	mu        sync.Mutex
	timeout   time.Duration
	lastTickle time.Time
	suspended bool
	logger    *log.Logger
	stop      chan struct{}
}

// NewWatchDog builds a watchdog that expects Tickle at least once every
// timeout.
func NewWatchDog(timeout time.Duration, logger *log.Logger) *WatchDog {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &WatchDog{
		timeout: timeout,
		logger:  logger,
		stop:    make(chan struct{}),
	}
}

// SetUp arms the watchdog. A non-positive timeout means the board opted
// out of watchdog monitoring, so no goroutine is started.
func (w *WatchDog) SetUp() {
	if w.timeout <= 0 {
		return
	}
	w.mu.Lock()
	w.lastTickle = time.Now()
	w.mu.Unlock()
	go w.monitor()
}

func (w *WatchDog) monitor() {
	ticker := time.NewTicker(w.timeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.mu.Lock()
			suspended := w.suspended
			overdue := time.Since(w.lastTickle) > w.timeout
			w.mu.Unlock()
			if !suspended && overdue {
				w.logger.Warn("watchdog not tickled within timeout, board main loop appears stalled")
			}
		}
	}
}

func (w *WatchDog) Tickle() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastTickle = time.Now()
}

func (w *WatchDog) Suspend() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.suspended = true
}

func (w *WatchDog) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.suspended = false
	w.lastTickle = time.Now()
}

// Close stops the watchdog's monitor goroutine.
func (w *WatchDog) Close() { close(w.stop) }
