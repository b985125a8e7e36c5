package claude

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestListSessionsNewestFirst(t *testing.T) {
	root := t.TempDir()
	projectPath := "/repo/a"
	dir := filepath.Join(root, mungeProjectPath(projectPath))
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	files := []struct {
		name string
		mod  time.Time
	}{
		{"old-session.jsonl", now.Add(-2 * time.Hour)},
		{"new-session.jsonl", now.Add(-1 * time.Minute)},
		{"mid-session.jsonl", now.Add(-1 * time.Hour)},
		{"notes.txt", now}, // ignored: not a transcript
	}
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if err := os.WriteFile(path, []byte("{}\n"), 0644); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(path, f.mod, f.mod); err != nil {
			t.Fatal(err)
		}
	}

	h := &FileHistory{Root: root}
	sessions, err := h.ListSessions(projectPath)
	if err != nil {
		t.Fatalf("ListSessions returned error: %v", err)
	}

	wantOrder := []string{"new-session", "mid-session", "old-session"}
	if len(sessions) != len(wantOrder) {
		t.Fatalf("sessions = %d, want %d", len(sessions), len(wantOrder))
	}
	for i, want := range wantOrder {
		if sessions[i].ID != want {
			t.Errorf("sessions[%d] = %q, want %q", i, sessions[i].ID, want)
		}
	}
}

func TestListSessionsMissingProject(t *testing.T) {
	h := &FileHistory{Root: t.TempDir()}
	sessions, err := h.ListSessions("/never/seen")
	if err != nil {
		t.Fatalf("ListSessions returned error: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("sessions = %d, want 0 for unknown project", len(sessions))
	}
}

func TestMungeProjectPath(t *testing.T) {
	tests := []struct {
		input  string
		expect string
	}{
		{"/repo/a", "-repo-a"},
		{"/home/user/my.project", "-home-user-my-project"},
		{"/srv/app_name", "-srv-app-name"},
	}
	for _, tt := range tests {
		if got := mungeProjectPath(tt.input); got != tt.expect {
			t.Errorf("mungeProjectPath(%q) = %q, want %q", tt.input, got, tt.expect)
		}
	}
}
