package state

import (
	"log/slog"

	"codechat/internal/claude"
	"codechat/internal/logging"
)

// Resolver decides which session a run should resume.
type Resolver struct {
	store   *Store
	history claude.HistoryReader
	log     *slog.Logger
}

// NewResolver creates a resolver over the store and the CLI's own session
// history.
func NewResolver(store *Store, history claude.HistoryReader) *Resolver {
	return &Resolver{
		store:   store,
		history: history,
		log:     logging.WithComponent("resolver"),
	}
}

// Resolve picks the session to resume for a project. Priority: the explicit
// id from the caller, then the project's recorded last session, then the
// newest entry in the CLI's session history. An empty result means start a
// fresh session, which is the expected outcome on first use of a project.
//
// When the history lookup wins, the choice is written back into the project
// session map so future resolutions take the fast path.
func (r *Resolver) Resolve(projectPath, explicitSessionID string) string {
	if explicitSessionID != "" {
		return explicitSessionID
	}

	if id, ok := r.store.ProjectSession(projectPath); ok && id != "" {
		return id
	}

	if r.history != nil {
		sessions, err := r.history.ListSessions(projectPath)
		if err != nil {
			r.log.Warn("Session history lookup failed",
				slog.String("project", projectPath),
				slog.Any("error", err),
			)
			return ""
		}
		if len(sessions) > 0 {
			id := sessions[0].ID
			// Best-effort write-back; resolution still succeeds if persistence fails.
			_ = r.store.SetProjectSession(projectPath, id)
			return id
		}
	}

	return ""
}
