package store

import (
	"sync"
	"time"
)

// AtomicWriteJSON writes v to path via a temp file + rename, the serialization
// point every reader relies on (spec §4.4/§4.6, testable property 8: at no point
// does the target file exist in a partial-content state).
func AtomicWriteJSON(path string, v any) error {
	return atomicWriteJSON(path, v)
}

// Debouncer coalesces repeated writes to the same logical key into one write per
// quiet window, shared by the session store and the cron-job store (spec §4.4
// "Same debounce+atomic-rename discipline").
type Debouncer struct {
	mu      sync.Mutex
	timers  map[string]*debounced
	closing bool
}

// NewDebouncer constructs an empty Debouncer.
func NewDebouncer() *Debouncer {
	return &Debouncer{timers: make(map[string]*debounced)}
}

// Enqueue schedules write to run after delay, replacing any not-yet-fired write
// already queued under key. If the Debouncer has been closed, write runs inline.
func (d *Debouncer) Enqueue(key string, delay time.Duration, write func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		write()
		return
	}
	t, ok := d.timers[key]
	if !ok {
		t = &debounced{}
		d.timers[key] = t
	}
	t.mu.Lock()
	t.pending = write
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(delay, func() {
		t.mu.Lock()
		fn := t.pending
		t.pending = nil
		t.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
	t.mu.Unlock()
}

// Cancel stops and discards any pending write under key.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[key]; ok {
		t.mu.Lock()
		if t.timer != nil {
			t.timer.Stop()
		}
		t.pending = nil
		t.mu.Unlock()
		delete(d.timers, key)
	}
}

// Flush forces every pending write to run immediately and marks the Debouncer
// closed: subsequent Enqueue calls write inline instead of scheduling.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	pending := make([]func(), 0, len(d.timers))
	for _, t := range d.timers {
		t.mu.Lock()
		if t.timer != nil {
			t.timer.Stop()
		}
		if t.pending != nil {
			pending = append(pending, t.pending)
			t.pending = nil
		}
		t.mu.Unlock()
	}
	d.closing = true
	d.mu.Unlock()

	for _, fn := range pending {
		fn()
	}
}
