package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
version: "1.0"
telegram:
  bot_token: "123:abc"
  allowed_ids: [42]
projects:
  - name: api
    path: /repo/api
  - name: web
    path: /repo/web
conversation:
  update_interval: 2s
  retry_ttl: 5m
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Telegram.BotToken != "123:abc" {
		t.Errorf("BotToken = %q", cfg.Telegram.BotToken)
	}
	if got := cfg.Conversation.UpdateIntervalDuration(); got != 2*time.Second {
		t.Errorf("UpdateIntervalDuration = %v, want 2s", got)
	}
	if got := cfg.Conversation.RetryTTLDuration(); got != 5*time.Minute {
		t.Errorf("RetryTTLDuration = %v, want 5m", got)
	}
	if cfg.Claude.Command != "claude" {
		t.Errorf("Claude.Command = %q, want default claude", cfg.Claude.Command)
	}
	if proj := cfg.GetProjectByName("api"); proj == nil || proj.Path != "/repo/api" {
		t.Errorf("GetProjectByName(api) = %+v", proj)
	}
	if proj := cfg.GetProjectByPath("/repo/web"); proj == nil || proj.Name != "web" {
		t.Errorf("GetProjectByPath(/repo/web) = %+v", proj)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
telegram:
  bot_token: "123:abc"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got := cfg.Conversation.UpdateIntervalDuration(); got != time.Second {
		t.Errorf("UpdateIntervalDuration = %v, want 1s default", got)
	}
	if got := cfg.Conversation.RetryTTLDuration(); got != 10*time.Minute {
		t.Errorf("RetryTTLDuration = %v, want 10m default", got)
	}
	if cfg.Storage.Path == "" {
		t.Error("Storage.Path default missing")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "missing bot token",
			content: `version: "1.0"`,
		},
		{
			name: "project without name",
			content: `
telegram:
  bot_token: "t"
projects:
  - path: /repo/a
`,
		},
		{
			name: "relative project path",
			content: `
telegram:
  bot_token: "t"
projects:
  - name: a
    path: repo/a
`,
		},
		{
			name: "duplicate project name",
			content: `
telegram:
  bot_token: "t"
projects:
  - name: a
    path: /repo/a
  - name: a
    path: /repo/b
`,
		},
		{
			name: "brief enabled without chat",
			content: `
telegram:
  bot_token: "t"
brief:
  enabled: true
`,
		},
		{
			name: "bad update interval",
			content: `
telegram:
  bot_token: "t"
conversation:
  update_interval: soonish
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			if _, err := Load(path); err == nil {
				t.Error("Load succeeded, want validation error")
			}
		})
	}
}
