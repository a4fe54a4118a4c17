package bridge

import (
	"sync"
	"time"
)

// debouncer runs fire once, delay after the first of any number of Trigger
// calls. Calls made while a run is already scheduled are absorbed; fire reads
// live state, so the run reflects everything that happened before it.
type debouncer struct {
	delay time.Duration
	fire  func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func newDebouncer(delay time.Duration, fire func()) *debouncer {
	return &debouncer{delay: delay, fire: fire}
}

func (d *debouncer) Trigger() {
	d.schedule(d.delay)
}

func (d *debouncer) schedule(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || d.timer != nil {
		return
	}
	d.timer = time.AfterFunc(delay, d.run)
}

func (d *debouncer) run() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()
	d.fire()
}

// Stop cancels any scheduled run and ignores later triggers.
func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
