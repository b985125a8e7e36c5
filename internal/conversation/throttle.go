package conversation

import (
	"log/slog"
	"sync"
	"time"

	"codechat/internal/logging"
)

// Throttle coalesces rapid content updates into at most one applied update
// per sink key per interval. Only the newest pending content survives;
// intermediate renders are deliberately dropped to bound update volume.
type Throttle struct {
	interval time.Duration
	apply    func(key, content string) error
	log      *slog.Logger

	mu      sync.Mutex
	entries map[string]*throttleEntry
}

type throttleEntry struct {
	lastApplied time.Time
	pending     string
	hasPending  bool
	timer       *time.Timer
	dropped     bool

	// inFlight is non-nil while a delivery for this key is inside apply.
	// Drop waits on it so no update lands after Drop returns.
	inFlight chan struct{}
}

// NewThrottle creates a throttle that delivers through apply. Apply errors
// are logged and suppressed; throttled updates are best-effort.
func NewThrottle(interval time.Duration, apply func(key, content string) error) *Throttle {
	return &Throttle{
		interval: interval,
		apply:    apply,
		log:      logging.WithComponent("throttle"),
		entries:  make(map[string]*throttleEntry),
	}
}

// Push requests that the sink eventually reflect content for key. If the
// interval since the last applied update has elapsed, content is applied
// immediately; otherwise it replaces any queued content and a single flush
// is scheduled for the interval boundary.
func (t *Throttle) Push(key, content string) {
	t.mu.Lock()
	entry, ok := t.entries[key]
	if !ok {
		entry = &throttleEntry{}
		t.entries[key] = entry
	}

	now := time.Now()
	if entry.inFlight == nil && now.Sub(entry.lastApplied) >= t.interval {
		entry.lastApplied = now
		done := make(chan struct{})
		entry.inFlight = done
		// Schedule the boundary flush now so the key is collected even if
		// nothing else is pushed.
		if entry.timer == nil {
			entry.timer = time.AfterFunc(t.interval, func() { t.flush(key) })
		}
		t.mu.Unlock()

		t.deliver(key, content)

		t.mu.Lock()
		entry.inFlight = nil
		close(done)
		if !entry.dropped && !entry.hasPending && entry.timer == nil {
			delete(t.entries, key)
		}
		t.mu.Unlock()
		return
	}

	entry.pending = content
	entry.hasPending = true
	if entry.timer == nil {
		delay := t.interval - now.Sub(entry.lastApplied)
		entry.timer = time.AfterFunc(delay, func() { t.flush(key) })
	}
	t.mu.Unlock()
}

// Drop discards any pending content for key and forgets its state. A
// delivery already inside apply cannot be recalled, so Drop waits it out:
// once Drop returns, no further renders land on the key's message. Used
// when a run settles or is aborted.
func (t *Throttle) Drop(key string) {
	t.mu.Lock()
	entry, ok := t.entries[key]
	if !ok {
		t.mu.Unlock()
		return
	}
	if entry.timer != nil {
		entry.timer.Stop()
		entry.timer = nil
	}
	entry.pending = ""
	entry.hasPending = false
	entry.dropped = true
	delete(t.entries, key)
	inFlight := entry.inFlight
	t.mu.Unlock()

	if inFlight != nil {
		<-inFlight
	}
}

// flush applies the newest pending content at the interval boundary.
func (t *Throttle) flush(key string) {
	t.mu.Lock()
	entry, ok := t.entries[key]
	if !ok {
		t.mu.Unlock()
		return
	}
	entry.timer = nil
	if !entry.hasPending {
		// Nothing queued since scheduling: the key is idle, collect it.
		if entry.inFlight == nil {
			delete(t.entries, key)
		}
		t.mu.Unlock()
		return
	}
	if entry.inFlight != nil {
		// A delivery is still inside apply; try again next boundary.
		entry.timer = time.AfterFunc(t.interval, func() { t.flush(key) })
		t.mu.Unlock()
		return
	}
	content := entry.pending
	entry.pending = ""
	entry.hasPending = false
	entry.lastApplied = time.Now()
	done := make(chan struct{})
	entry.inFlight = done
	t.mu.Unlock()

	t.deliver(key, content)

	t.mu.Lock()
	entry.inFlight = nil
	close(done)
	if !entry.dropped && !entry.hasPending && entry.timer == nil {
		delete(t.entries, key)
	}
	t.mu.Unlock()
}

func (t *Throttle) deliver(key, content string) {
	if err := t.apply(key, content); err != nil {
		t.log.Warn("Throttled update failed",
			slog.String("key", key),
			slog.Any("error", err),
		)
	}
}
