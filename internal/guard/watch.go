package guard

import (
	"sync"
	"time"
)

// debouncer runs fn once activity has been quiet for delay.
type debouncer struct {
	delay time.Duration
	fn    func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fn)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}

// Observer schedules a re-highlight when a mutation removed a live marker or
// its icon. Repeated notifications inside the delay collapse into one heal.
type Observer struct {
	debounce debouncer
}

func NewObserver(delay time.Duration, heal func()) *Observer {
	return &Observer{debounce: debouncer{delay: delay, fn: heal}}
}

// Notify inspects missing, the ids Missing reported after a mutation, and
// schedules a heal when it is non-empty.
func (o *Observer) Notify(missing []string) bool {
	if len(missing) == 0 {
		return false
	}
	o.debounce.trigger()
	return true
}

func (o *Observer) Stop() {
	o.debounce.stop()
}

// DriftWatcher calls check after edits have been quiet for the configured
// period.
type DriftWatcher struct {
	debounce debouncer
}

func NewDriftWatcher(quiet time.Duration, check func()) *DriftWatcher {
	return &DriftWatcher{debounce: debouncer{delay: quiet, fn: check}}
}

func (w *DriftWatcher) Touch() {
	w.debounce.trigger()
}

func (w *DriftWatcher) Stop() {
	w.debounce.stop()
}
