// Package config loads and validates codechat configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"codechat/internal/logging"
)

// Config represents the main configuration.
type Config struct {
	Version      string              `yaml:"version"`
	Telegram     *TelegramConfig     `yaml:"telegram"`
	Claude       *ClaudeConfig       `yaml:"claude"`
	Storage      *StorageConfig      `yaml:"storage"`
	Logging      *logging.Config     `yaml:"logging"`
	Conversation *ConversationConfig `yaml:"conversation"`
	Brief        *BriefConfig        `yaml:"brief"`
	Projects     []*ProjectConfig    `yaml:"projects"`
}

// TelegramConfig holds bot credentials and access control.
type TelegramConfig struct {
	BotToken   string  `yaml:"bot_token"`
	AllowedIDs []int64 `yaml:"allowed_ids"`
}

// ClaudeConfig holds CLI invocation settings.
type ClaudeConfig struct {
	Command string `yaml:"command"`
}

// StorageConfig holds the data directory for persisted state and run history.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// ConversationConfig tunes the controller's timing behavior. Durations are
// Go duration strings ("1s", "10m").
type ConversationConfig struct {
	UpdateInterval string `yaml:"update_interval"` // min gap between message edits
	RetryTTL       string `yaml:"retry_ttl"`       // lifetime of pending retry offers
}

// UpdateIntervalDuration parses the update interval, falling back to one
// second.
func (c *ConversationConfig) UpdateIntervalDuration() time.Duration {
	return parseDurationOr(c.UpdateInterval, time.Second)
}

// RetryTTLDuration parses the retry TTL, falling back to ten minutes.
func (c *ConversationConfig) RetryTTLDuration() time.Duration {
	return parseDurationOr(c.RetryTTL, 10*time.Minute)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// BriefConfig holds daily brief settings.
type BriefConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // cron expression
	ChatID   string `yaml:"chat_id"`
}

// ProjectConfig holds one selectable project.
type ProjectConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Version: "1.0",
		Claude: &ClaudeConfig{
			Command: "claude",
		},
		Storage: &StorageConfig{
			Path: filepath.Join(homeDir, ".codechat"),
		},
		Logging: logging.DefaultConfig(),
		Conversation: &ConversationConfig{
			UpdateInterval: "1s",
			RetryTTL:       "10m",
		},
		Brief: &BriefConfig{
			Schedule: "0 9 * * *",
		},
	}
}

// Load reads configuration from a YAML file, applying defaults for missing
// sections.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills sections the YAML explicitly nulled out.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.Claude == nil {
		c.Claude = defaults.Claude
	}
	if c.Claude.Command == "" {
		c.Claude.Command = defaults.Claude.Command
	}
	if c.Storage == nil {
		c.Storage = defaults.Storage
	}
	if c.Storage.Path == "" {
		c.Storage.Path = defaults.Storage.Path
	}
	if c.Logging == nil {
		c.Logging = defaults.Logging
	}
	if c.Conversation == nil {
		c.Conversation = defaults.Conversation
	}
	if c.Conversation.UpdateInterval == "" {
		c.Conversation.UpdateInterval = defaults.Conversation.UpdateInterval
	}
	if c.Conversation.RetryTTL == "" {
		c.Conversation.RetryTTL = defaults.Conversation.RetryTTL
	}
	if c.Brief == nil {
		c.Brief = defaults.Brief
	}
	if c.Brief.Schedule == "" {
		c.Brief.Schedule = defaults.Brief.Schedule
	}
}

// Validate checks the configuration for basic correctness.
func (c *Config) Validate() error {
	if c.Telegram == nil || c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required")
	}

	seen := make(map[string]bool)
	for _, proj := range c.Projects {
		if proj.Name == "" {
			return fmt.Errorf("project with path %q has no name", proj.Path)
		}
		if proj.Path == "" {
			return fmt.Errorf("project %q has no path", proj.Name)
		}
		if !strings.HasPrefix(proj.Path, "/") {
			return fmt.Errorf("project %q path must be absolute, got %q", proj.Name, proj.Path)
		}
		if seen[proj.Name] {
			return fmt.Errorf("duplicate project name %q", proj.Name)
		}
		seen[proj.Name] = true
	}

	if _, err := time.ParseDuration(c.Conversation.UpdateInterval); err != nil {
		return fmt.Errorf("invalid conversation.update_interval %q: %w", c.Conversation.UpdateInterval, err)
	}
	if _, err := time.ParseDuration(c.Conversation.RetryTTL); err != nil {
		return fmt.Errorf("invalid conversation.retry_ttl %q: %w", c.Conversation.RetryTTL, err)
	}

	if c.Brief != nil && c.Brief.Enabled && c.Brief.ChatID == "" {
		return fmt.Errorf("brief.chat_id is required when brief is enabled")
	}

	return nil
}

// GetProjectByName returns the project with the given name, or nil.
func (c *Config) GetProjectByName(name string) *ProjectConfig {
	for _, proj := range c.Projects {
		if proj.Name == name {
			return proj
		}
	}
	return nil
}

// GetProjectByPath returns the project with the given path, or nil.
func (c *Config) GetProjectByPath(path string) *ProjectConfig {
	for _, proj := range c.Projects {
		if proj.Path == path {
			return proj
		}
	}
	return nil
}

// StateFilePath returns the location of the JSON session-state file.
func (c *Config) StateFilePath() string {
	return filepath.Join(c.Storage.Path, "state.json")
}
