package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func tempStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	return s, path
}

func TestLoadMissingFile(t *testing.T) {
	s, _ := tempStore(t)
	if cs := s.Channel("c1"); cs != (ChannelState{}) {
		t.Errorf("Channel on empty store = %+v, want zero value", cs)
	}
	if _, ok := s.ProjectSession("/repo/a"); ok {
		t.Error("ProjectSession on empty store should report absent")
	}
}

func TestUpdateChannelWritesThrough(t *testing.T) {
	s, path := tempStore(t)

	err := s.UpdateChannel("c1", func(cs *ChannelState) {
		cs.ProjectPath = "/repo/a"
		cs.SessionID = "s1"
	})
	if err != nil {
		t.Fatalf("UpdateChannel returned error: %v", err)
	}

	// Reload from disk and verify the mutation survived.
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	cs := reloaded.Channel("c1")
	if cs.ProjectPath != "/repo/a" || cs.SessionID != "s1" {
		t.Errorf("reloaded channel = %+v, want /repo/a + s1", cs)
	}
}

func TestProjectSessionRoundTrip(t *testing.T) {
	s, path := tempStore(t)

	if err := s.SetProjectSession("/repo/a", "s9"); err != nil {
		t.Fatalf("SetProjectSession returned error: %v", err)
	}

	id, ok := s.ProjectSession("/repo/a")
	if !ok || id != "s9" {
		t.Errorf("ProjectSession = (%q, %v), want (s9, true)", id, ok)
	}

	if err := s.ClearProjectSession("/repo/a"); err != nil {
		t.Fatalf("ClearProjectSession returned error: %v", err)
	}
	if _, ok := s.ProjectSession("/repo/a"); ok {
		t.Error("ProjectSession should be absent after clear")
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if _, ok := reloaded.ProjectSession("/repo/a"); ok {
		t.Error("cleared project session leaked back after reload")
	}
}

func TestPersistedDocumentShape(t *testing.T) {
	s, path := tempStore(t)
	_ = s.UpdateChannel("c1", func(cs *ChannelState) { cs.ProjectPath = "/repo/a" })
	_ = s.SetProjectSession("/repo/a", "s1")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read state file: %v", err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("state file is not valid JSON: %v", err)
	}
	for _, key := range []string{"channels", "projectSessions"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("state document missing top-level %q mapping", key)
		}
	}
}

func TestPersistFailureKeepsMemoryState(t *testing.T) {
	// Point the store at a path whose parent is a file, so writes fail.
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := Load(filepath.Join(blocker, "state.json"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if err := s.SetProjectSession("/repo/a", "s1"); err == nil {
		t.Fatal("expected persistence error, got nil")
	}

	// The in-memory mutation must survive the failed write.
	if id, ok := s.ProjectSession("/repo/a"); !ok || id != "s1" {
		t.Errorf("ProjectSession = (%q, %v), want (s1, true)", id, ok)
	}
}
