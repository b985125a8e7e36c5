package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// pendingRetry snapshots everything needed to re-run a prompt with elevated
// permissions after the CLI denied tool calls.
type pendingRetry struct {
	Prompt      string
	ProjectPath string
	ChannelID   string
	SessionID   string
	CreatedAt   time.Time
}

// retryStore holds pending retry offers keyed by opaque id. Entries expire
// after ttl so abandoned offers do not accumulate for the life of the
// process.
type retryStore struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]*pendingRetry
}

func newRetryStore(ttl time.Duration) *retryStore {
	return &retryStore{
		ttl:     ttl,
		entries: make(map[string]*pendingRetry),
	}
}

// Offer stores a retry snapshot and returns its fresh opaque id.
func (r *retryStore) Offer(entry *pendingRetry) string {
	id := uuid.New().String()
	entry.CreatedAt = time.Now()
	r.mu.Lock()
	r.entries[id] = entry
	r.mu.Unlock()
	return id
}

// Take removes and returns the entry for id. A consumed or unknown id
// returns false: confirming twice reports expiration, never a double run.
func (r *retryStore) Take(id string) (*pendingRetry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	delete(r.entries, id)
	if r.ttl > 0 && time.Since(entry.CreatedAt) > r.ttl {
		return nil, false
	}
	return entry, true
}

// Remove deletes the entry for id without executing. Returns whether the
// id was live.
func (r *retryStore) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	return true
}

// sweep drops entries older than ttl and returns how many were removed.
func (r *retryStore) sweep() int {
	if r.ttl <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-r.ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, entry := range r.entries {
		if entry.CreatedAt.Before(cutoff) {
			delete(r.entries, id)
			removed++
		}
	}
	return removed
}
