// Package conversation ties session resolution, CLI execution, and chat
// rendering together into one controller per bot instance.
package conversation

import (
	"context"
	"errors"

	"codechat/internal/claude"
)

// Adapter is the chat-platform boundary the controller renders through.
// Every call is a fallible, best-effort side effect: the controller logs
// failures and keeps going.
type Adapter interface {
	// SendMessage posts a new message and returns a reference usable with
	// UpdateMessage.
	SendMessage(ctx context.Context, channelID, text string) (messageRef string, err error)

	// UpdateMessage replaces the text of a previously sent message.
	UpdateMessage(ctx context.Context, channelID, messageRef, text string) error

	// SendProjectSelection presents the configured projects as choices.
	// Selecting one arrives back as a "use:<name>" callback.
	SendProjectSelection(ctx context.Context, channelID string, projects []ProjectOption) error

	// SendRetryPrompt offers to re-run with elevated permissions after the
	// CLI reported permission denials. Accept/cancel arrive back as
	// "retry:<id>" / "retry_cancel:<id>" callbacks.
	SendRetryPrompt(ctx context.Context, channelID, retryID string, deniedTools []string) error
}

// ProjectOption is one selectable project.
type ProjectOption struct {
	Name string
	Path string
}

// ErrRetryExpired reports a retry id that is unknown or already consumed.
var ErrRetryExpired = errors.New("retry request expired")

// runHandle abstracts one in-flight CLI run for cancellation and settling.
// *claude.Run satisfies it; tests substitute fakes.
type runHandle interface {
	Abort()
	Wait() (*claude.Outcome, error)
}

// executeFunc spawns a run. Swapped out in tests.
type executeFunc func(claude.Options) runHandle

// activeExecution tracks the one in-flight run a channel may have.
type activeExecution struct {
	abort      func() // nil until the run handle exists
	messageRef string
	aborted    bool
}
