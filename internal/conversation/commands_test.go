package conversation

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"codechat/internal/memory"
	"codechat/internal/state"
)

func TestHelpCommand(t *testing.T) {
	adapter := &fakeAdapter{}
	c, _, _ := newTestController(t, adapter)

	c.HandleMessage(context.Background(), "c1", "/help")
	if !strings.Contains(adapter.lastSent(), "/use <name>") {
		t.Errorf("help reply = %q, want command listing", adapter.lastSent())
	}
}

func TestProjectsCommandMarksActive(t *testing.T) {
	adapter := &fakeAdapter{}
	c, store, _ := newTestController(t, adapter)
	ctx := context.Background()

	_ = store.UpdateChannel("c1", func(cs *state.ChannelState) { cs.ProjectPath = "/repo/b" })
	c.HandleMessage(ctx, "c1", "/projects")

	got := adapter.lastSent()
	if !strings.Contains(got, "▶ web") {
		t.Errorf("projects reply = %q, want active project marked", got)
	}
	if !strings.Contains(got, "api — /repo/a") {
		t.Errorf("projects reply = %q, want all projects listed", got)
	}
}

func TestUseCommandBindsProject(t *testing.T) {
	adapter := &fakeAdapter{}
	c, store, executor := newTestController(t, adapter)
	ctx := context.Background()

	c.HandleMessage(ctx, "c1", "/use api")

	if cs := store.Channel("c1"); cs.ProjectPath != "/repo/a" {
		t.Errorf("ProjectPath = %q, want /repo/a", cs.ProjectPath)
	}
	if executor.callCount() != 0 {
		t.Error("/use with no pending prompt must not start a run")
	}

	c.HandleMessage(ctx, "c1", "/use")
	if !strings.Contains(adapter.lastSent(), "Usage:") {
		t.Errorf("bare /use reply = %q, want usage hint", adapter.lastSent())
	}
}

func TestUseCommandWithBotMention(t *testing.T) {
	adapter := &fakeAdapter{}
	c, store, _ := newTestController(t, adapter)

	c.HandleMessage(context.Background(), "c1", "/use@somebot api")
	if cs := store.Channel("c1"); cs.ProjectPath != "/repo/a" {
		t.Errorf("ProjectPath = %q, want mention suffix stripped", cs.ProjectPath)
	}
}

func TestNewCommandClearsSession(t *testing.T) {
	adapter := &fakeAdapter{}
	c, store, _ := newTestController(t, adapter)
	ctx := context.Background()

	_ = store.UpdateChannel("c1", func(cs *state.ChannelState) {
		cs.ProjectPath = "/repo/a"
		cs.SessionID = "s1"
	})
	_ = store.SetProjectSession("/repo/a", "s1")

	c.HandleMessage(ctx, "c1", "/new")

	if cs := store.Channel("c1"); cs.SessionID != "" {
		t.Errorf("SessionID = %q, want cleared", cs.SessionID)
	}
	if _, ok := store.ProjectSession("/repo/a"); ok {
		t.Error("project session survived /new, want cleared")
	}
	if cs := store.Channel("c1"); cs.ProjectPath != "/repo/a" {
		t.Error("/new must keep the project binding")
	}
}

func TestSessionCommand(t *testing.T) {
	adapter := &fakeAdapter{}
	c, store, _ := newTestController(t, adapter)
	ctx := context.Background()

	c.HandleMessage(ctx, "c1", "/session")
	if !strings.Contains(adapter.lastSent(), "No project is bound") {
		t.Errorf("reply = %q, want unbound notice", adapter.lastSent())
	}

	_ = store.UpdateChannel("c1", func(cs *state.ChannelState) {
		cs.ProjectPath = "/repo/a"
		cs.SessionID = "s9"
	})
	c.HandleMessage(ctx, "c1", "/session")
	if got := adapter.lastSent(); !strings.Contains(got, "s9") || !strings.Contains(got, "/repo/a") {
		t.Errorf("reply = %q, want project and session shown", got)
	}
}

func TestUnknownCommand(t *testing.T) {
	adapter := &fakeAdapter{}
	c, _, _ := newTestController(t, adapter)

	c.HandleMessage(context.Background(), "c1", "/frobnicate")
	if !strings.Contains(adapter.lastSent(), "Unknown command") {
		t.Errorf("reply = %q, want unknown-command notice", adapter.lastSent())
	}
}

func TestHistoryCommandTruncatesPromptOnRuneBoundary(t *testing.T) {
	adapter := &fakeAdapter{}
	hist, err := memory.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = hist.Close() })
	st, err := state.Load(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	c := NewController(&Config{
		Adapter:  adapter,
		Store:    st,
		Resolver: state.NewResolver(st, nil),
		History:  hist,
	})

	// Offset by one byte so the 60-byte cut lands inside a two-byte rune.
	if err := hist.SaveRun(&memory.Run{
		ID:          "r1",
		ChannelID:   "c1",
		ProjectPath: "/repo/a",
		Prompt:      "x" + strings.Repeat("é", 80),
		Status:      memory.StatusCompleted,
	}); err != nil {
		t.Fatal(err)
	}

	c.HandleMessage(context.Background(), "c1", "/history")
	got := adapter.lastSent()
	if !utf8.ValidString(got) {
		t.Errorf("history reply contains invalid UTF-8: %q", got)
	}
	if !strings.Contains(got, "…") {
		t.Error("long prompt was not truncated")
	}
}

func TestHistoryCommandWithoutStore(t *testing.T) {
	adapter := &fakeAdapter{}
	c, _, _ := newTestController(t, adapter)

	c.HandleMessage(context.Background(), "c1", "/history")
	if !strings.Contains(adapter.lastSent(), "not enabled") {
		t.Errorf("reply = %q, want history-disabled notice", adapter.lastSent())
	}
}
