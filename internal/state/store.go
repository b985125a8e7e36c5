// Package state persists channel and project session bindings across
// process restarts.
package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"codechat/internal/logging"
)

// ChannelState is the durable per-channel conversation state.
type ChannelState struct {
	ProjectPath   string `json:"projectPath,omitempty"`
	SessionID     string `json:"sessionId,omitempty"`
	PendingPrompt string `json:"pendingPrompt,omitempty"`
}

// persistedState is the on-disk document: one JSON file, rewritten fully on
// each mutation and read once at startup.
type persistedState struct {
	Channels        map[string]ChannelState `json:"channels"`
	ProjectSessions map[string]string       `json:"projectSessions"`
}

// Store holds channel states and the project→last-session map, backed by a
// single JSON file. Writes are best-effort: a failed Persist leaves the
// in-memory state authoritative until the next successful write.
type Store struct {
	path string
	log  *slog.Logger

	mu              sync.Mutex
	channels        map[string]ChannelState
	projectSessions map[string]string
}

// Load reads the state file at path, creating an empty store if the file
// does not exist yet.
func Load(path string) (*Store, error) {
	s := &Store{
		path:            path,
		log:             logging.WithComponent("state"),
		channels:        make(map[string]ChannelState),
		projectSessions: make(map[string]string),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var doc persistedState
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	if doc.Channels != nil {
		s.channels = doc.Channels
	}
	if doc.ProjectSessions != nil {
		s.projectSessions = doc.ProjectSessions
	}
	return s, nil
}

// Channel returns the state for a channel, zero-valued if none exists.
func (s *Store) Channel(channelID string) ChannelState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels[channelID]
}

// UpdateChannel applies fn to the channel's state and writes through to
// disk. The returned error is the persistence outcome; the in-memory
// mutation always succeeds, so callers may ignore it.
func (s *Store) UpdateChannel(channelID string, fn func(*ChannelState)) error {
	s.mu.Lock()
	cs := s.channels[channelID]
	fn(&cs)
	s.channels[channelID] = cs
	s.mu.Unlock()
	return s.Persist()
}

// ProjectSession returns the most recently used session id for a project.
func (s *Store) ProjectSession(projectPath string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.projectSessions[projectPath]
	return id, ok
}

// SetProjectSession records the latest session id for a project and writes
// through to disk.
func (s *Store) SetProjectSession(projectPath, sessionID string) error {
	s.mu.Lock()
	s.projectSessions[projectPath] = sessionID
	s.mu.Unlock()
	return s.Persist()
}

// ClearProjectSession removes a project's session mapping, used when the
// user explicitly starts a new session.
func (s *Store) ClearProjectSession(projectPath string) error {
	s.mu.Lock()
	delete(s.projectSessions, projectPath)
	s.mu.Unlock()
	return s.Persist()
}

// Persist rewrites the full state file. Failures are logged here as well so
// call sites that ignore the error still leave a trace.
func (s *Store) Persist() error {
	s.mu.Lock()
	doc := persistedState{
		Channels:        make(map[string]ChannelState, len(s.channels)),
		ProjectSessions: make(map[string]string, len(s.projectSessions)),
	}
	for id, cs := range s.channels {
		doc.Channels[id] = cs
	}
	for path, id := range s.projectSessions {
		doc.ProjectSessions[path] = id
	}
	s.mu.Unlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		s.log.Warn("Failed to marshal state", slog.Any("error", err))
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			s.log.Warn("Failed to create state directory", slog.Any("error", err))
			return fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	if err := os.WriteFile(s.path, data, 0644); err != nil {
		s.log.Warn("Failed to write state file", slog.Any("error", err))
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}
