package watch

import (
	"sync"
	"time"
)

// Debouncer delivers the last notification of each path once the path has
// been quiet for the delay. Callbacks never run concurrently.
type Debouncer struct {
	mu      sync.Mutex
	fire    sync.Mutex
	delay   time.Duration
	fn      func(Notification)
	pending map[string]*pendingCall
	seq     uint64 // detects stale timer callbacks
	stopped bool
}

type pendingCall struct {
	n     Notification
	seq   uint64
	timer *time.Timer
}

// NewDebouncer creates a debouncer calling fn.
func NewDebouncer(delay time.Duration, fn func(Notification)) *Debouncer {
	return &Debouncer{delay: delay, fn: fn, pending: make(map[string]*pendingCall)}
}

// Push records n and restarts the quiet period of its path.
func (d *Debouncer) Push(n Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	d.seq++
	seq := d.seq
	if p, ok := d.pending[n.Path]; ok {
		p.timer.Stop()
	}
	p := &pendingCall{n: n, seq: seq}
	p.timer = time.AfterFunc(d.delay, func() { d.deliver(n.Path, seq) })
	d.pending[n.Path] = p
}

func (d *Debouncer) deliver(path string, seq uint64) {
	d.mu.Lock()
	p, ok := d.pending[path]
	if !ok || p.seq != seq || d.stopped {
		d.mu.Unlock()
		return
	}
	delete(d.pending, path)
	d.mu.Unlock()

	d.fire.Lock()
	defer d.fire.Unlock()
	d.fn(p.n)
}

// Flush delivers every pending notification now.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	calls := make([]Notification, 0, len(d.pending))
	for path, p := range d.pending {
		p.timer.Stop()
		calls = append(calls, p.n)
		delete(d.pending, path)
	}
	d.seq++
	d.mu.Unlock()

	d.fire.Lock()
	defer d.fire.Unlock()
	for _, n := range calls {
		d.fn(n)
	}
}

// Pending returns the number of paths waiting for their quiet period.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Stop cancels every pending notification. Later pushes are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for path, p := range d.pending {
		p.timer.Stop()
		delete(d.pending, path)
	}
	d.seq++
	d.stopped = true
}
