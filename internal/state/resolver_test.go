package state

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"codechat/internal/claude"
)

type fakeHistory struct {
	sessions map[string][]claude.SessionInfo
	err      error
	calls    int
}

func (f *fakeHistory) ListSessions(projectPath string) ([]claude.SessionInfo, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.sessions[projectPath], nil
}

func newTestResolver(t *testing.T, history claude.HistoryReader) (*Resolver, *Store) {
	t.Helper()
	s, err := Load(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	return NewResolver(s, history), s
}

func TestResolveExplicitIDWins(t *testing.T) {
	history := &fakeHistory{sessions: map[string][]claude.SessionInfo{
		"/repo/a": {{ID: "from-history", LastModified: time.Now()}},
	}}
	r, s := newTestResolver(t, history)
	_ = s.SetProjectSession("/repo/a", "from-map")

	if got := r.Resolve("/repo/a", "explicit"); got != "explicit" {
		t.Errorf("Resolve = %q, want explicit", got)
	}
	if history.calls != 0 {
		t.Error("history should not be consulted when an explicit id is given")
	}
}

func TestResolveProjectMapBeatsHistory(t *testing.T) {
	history := &fakeHistory{sessions: map[string][]claude.SessionInfo{
		"/repo/a": {{ID: "from-history", LastModified: time.Now()}},
	}}
	r, s := newTestResolver(t, history)
	_ = s.SetProjectSession("/repo/a", "from-map")

	if got := r.Resolve("/repo/a", ""); got != "from-map" {
		t.Errorf("Resolve = %q, want from-map", got)
	}
}

func TestResolveHistoryFallbackWritesBack(t *testing.T) {
	history := &fakeHistory{sessions: map[string][]claude.SessionInfo{
		"/repo/a": {
			{ID: "newest", LastModified: time.Now()},
			{ID: "older", LastModified: time.Now().Add(-time.Hour)},
		},
	}}
	r, s := newTestResolver(t, history)

	if got := r.Resolve("/repo/a", ""); got != "newest" {
		t.Fatalf("Resolve = %q, want newest", got)
	}

	// Write-back: next resolution takes the fast path.
	if id, ok := s.ProjectSession("/repo/a"); !ok || id != "newest" {
		t.Errorf("write-back missing: ProjectSession = (%q, %v)", id, ok)
	}
	if got := r.Resolve("/repo/a", ""); got != "newest" {
		t.Errorf("second Resolve = %q, want newest", got)
	}
	if history.calls != 1 {
		t.Errorf("history calls = %d, want 1 (second resolve uses the map)", history.calls)
	}
}

func TestResolveFreshSession(t *testing.T) {
	r, _ := newTestResolver(t, &fakeHistory{})
	if got := r.Resolve("/repo/new", ""); got != "" {
		t.Errorf("Resolve = %q, want empty for fresh project", got)
	}
}

func TestResolveHistoryErrorMeansFresh(t *testing.T) {
	r, _ := newTestResolver(t, &fakeHistory{err: errors.New("disk gone")})
	if got := r.Resolve("/repo/a", ""); got != "" {
		t.Errorf("Resolve = %q, want empty when history fails", got)
	}
}

func TestResolveNilHistory(t *testing.T) {
	r, _ := newTestResolver(t, nil)
	if got := r.Resolve("/repo/a", ""); got != "" {
		t.Errorf("Resolve = %q, want empty with no history reader", got)
	}
}
