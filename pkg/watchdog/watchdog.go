package watchdog

import (
	"sync"
	"time"
)

// DefaultTimeout is how long the device may go without sending anything before we declare it hung
const DefaultTimeout = 10 * time.Second

// Watchdog expires if Reset is not called at least once per timeout
type Watchdog struct {
	lock     sync.Mutex
	timeout  time.Duration
	deadline time.Time
	now      func() time.Time
}

func New(timeout time.Duration) *Watchdog {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	w := &Watchdog{
		timeout: timeout,
		now:     time.Now,
	}
	w.deadline = w.now().Add(timeout)
	return w
}

func (w *Watchdog) Timeout() time.Duration {
	return w.timeout
}

// Reset pushes the deadline out to one timeout from now
func (w *Watchdog) Reset() {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.deadline = w.now().Add(w.timeout)
}

// Expired returns true if the deadline has passed
func (w *Watchdog) Expired() bool {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.now().After(w.deadline)
}

// Remaining returns the time left before expiry (negative once expired)
func (w *Watchdog) Remaining() time.Duration {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.deadline.Sub(w.now())
}
