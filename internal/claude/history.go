package claude

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// SessionInfo describes one past session found in the CLI's own history.
type SessionInfo struct {
	ID           string
	LastModified time.Time
}

// HistoryReader lists past sessions for a project, newest first.
type HistoryReader interface {
	ListSessions(projectPath string) ([]SessionInfo, error)
}

// FileHistory reads session history from the CLI's on-disk project
// directories (~/.claude/projects). Each session is one JSONL transcript
// named by its session id.
type FileHistory struct {
	// Root overrides the history root, used in tests. Empty means
	// ~/.claude/projects.
	Root string
}

// ListSessions returns the project's sessions sorted newest first by file
// modification time. A missing project directory yields an empty list.
func (h *FileHistory) ListSessions(projectPath string) ([]SessionInfo, error) {
	root := h.Root
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		root = filepath.Join(home, ".claude", "projects")
	}

	dir := filepath.Join(root, mungeProjectPath(projectPath))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var sessions []SessionInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		sessions = append(sessions, SessionInfo{
			ID:           strings.TrimSuffix(entry.Name(), ".jsonl"),
			LastModified: info.ModTime(),
		})
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastModified.After(sessions[j].LastModified)
	})
	return sessions, nil
}

// mungeProjectPath converts a filesystem path to the CLI's directory naming
// scheme, where separators and dots become dashes.
func mungeProjectPath(path string) string {
	munged := strings.ReplaceAll(path, "/", "-")
	munged = strings.ReplaceAll(munged, ".", "-")
	munged = strings.ReplaceAll(munged, "_", "-")
	return munged
}
