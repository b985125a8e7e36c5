// Package brief generates a daily digest of recorded runs.
package brief

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"codechat/internal/logging"
	"codechat/internal/memory"
)

// Sender is the outbound side of the digest, implemented by the chat
// adapter's messenger.
type Sender interface {
	SendMessage(ctx context.Context, channelID, text string) (string, error)
}

// Brief assembles and delivers the daily run digest.
type Brief struct {
	store  *memory.Store
	sender Sender
	chatID string
	log    *slog.Logger
}

// New creates a daily brief bound to one chat.
func New(store *memory.Store, sender Sender, chatID string) *Brief {
	return &Brief{
		store:  store,
		sender: sender,
		chatID: chatID,
		log:    logging.WithComponent("brief"),
	}
}

// Run builds the digest for the last 24 hours and sends it. Failures are
// logged; the next scheduled run tries again.
func (b *Brief) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	runs, err := b.store.RunsSince(time.Now().Add(-24 * time.Hour))
	if err != nil {
		b.log.Warn("Failed to load runs for brief", slog.Any("error", err))
		return
	}

	if _, err := b.sender.SendMessage(ctx, b.chatID, Format(runs)); err != nil {
		b.log.Warn("Failed to send brief", slog.Any("error", err))
	}
}

// Format renders the digest text for a set of runs.
func Format(runs []*memory.Run) string {
	if len(runs) == 0 {
		return "☀️ Daily brief: no runs in the last 24 hours."
	}

	var completed, failed, aborted int
	var cost float64
	projects := make(map[string]int)
	for _, run := range runs {
		switch run.Status {
		case memory.StatusCompleted:
			completed++
		case memory.StatusFailed:
			failed++
		case memory.StatusAborted:
			aborted++
		}
		cost += run.CostUSD
		projects[run.ProjectPath]++
	}

	var b strings.Builder
	b.WriteString("☀️ Daily brief\n\n")
	b.WriteString(fmt.Sprintf("Runs: %d (✅ %d  ❌ %d  🛑 %d)\n", len(runs), completed, failed, aborted))
	b.WriteString(fmt.Sprintf("Cost: $%.2f\n", cost))
	if len(projects) > 0 {
		b.WriteString("\nBy project:\n")
		for path, count := range projects {
			b.WriteString(fmt.Sprintf("• %s — %d\n", path, count))
		}
	}
	return b.String()
}
