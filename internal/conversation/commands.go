package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"codechat/internal/memory"
	"codechat/internal/state"
)

const helpText = `Commands:
/projects — list configured projects
/use <name> — bind this chat to a project
/session — show the current project and session
/new — start a fresh session for the current project
/stop — cancel the running execution
/history — show recent runs

Anything else is sent to Claude as a prompt.`

// handleCommand dispatches one slash command.
func (c *Controller) handleCommand(ctx context.Context, channelID, text string) {
	fields := strings.Fields(text)
	cmd := fields[0]
	// Strip bot mention suffix (/use@botname).
	if idx := strings.IndexByte(cmd, '@'); idx > 0 {
		cmd = cmd[:idx]
	}

	switch cmd {
	case "/start", "/help":
		c.sendText(ctx, channelID, helpText)

	case "/projects":
		c.cmdProjects(ctx, channelID)

	case "/use":
		if len(fields) < 2 {
			c.sendText(ctx, channelID, "Usage: /use <project-name>")
			return
		}
		c.selectProject(ctx, channelID, fields[1])

	case "/session":
		c.cmdSession(ctx, channelID)

	case "/new":
		c.cmdNewSession(ctx, channelID)

	case "/stop":
		c.HandleStop(ctx, channelID)

	case "/history":
		c.cmdHistory(ctx, channelID)

	default:
		c.sendText(ctx, channelID, fmt.Sprintf("Unknown command %s. Try /help.", cmd))
	}
}

func (c *Controller) cmdProjects(ctx context.Context, channelID string) {
	if len(c.projects) == 0 {
		c.sendText(ctx, channelID, "No projects are configured.")
		return
	}

	active := c.store.Channel(channelID).ProjectPath
	var b strings.Builder
	b.WriteString("Projects:\n")
	for _, proj := range c.projects {
		marker := "  "
		if proj.Path == active {
			marker = "▶ "
		}
		b.WriteString(fmt.Sprintf("%s%s — %s\n", marker, proj.Name, proj.Path))
	}
	c.sendText(ctx, channelID, b.String())
}

func (c *Controller) cmdSession(ctx context.Context, channelID string) {
	cs := c.store.Channel(channelID)
	if cs.ProjectPath == "" {
		c.sendText(ctx, channelID, "No project is bound. Use /use <name> or just send a prompt.")
		return
	}
	session := cs.SessionID
	if session == "" {
		if id, ok := c.store.ProjectSession(cs.ProjectPath); ok {
			session = id
		}
	}
	if session == "" {
		session = "(none — next prompt starts fresh)"
	}
	c.sendText(ctx, channelID, fmt.Sprintf("Project: %s\nSession: %s", cs.ProjectPath, session))
}

// cmdNewSession clears the channel's session so the next prompt starts a
// fresh conversation.
func (c *Controller) cmdNewSession(ctx context.Context, channelID string) {
	cs := c.store.Channel(channelID)
	if err := c.store.UpdateChannel(channelID, func(cs *state.ChannelState) {
		cs.SessionID = ""
	}); err != nil {
		c.log.Warn("Failed to persist session reset", slog.Any("error", err))
	}
	if cs.ProjectPath != "" {
		if err := c.store.ClearProjectSession(cs.ProjectPath); err != nil {
			c.log.Warn("Failed to clear project session", slog.Any("error", err))
		}
	}
	c.sendText(ctx, channelID, "🆕 Session cleared. The next prompt starts a fresh conversation.")
}

func (c *Controller) cmdHistory(ctx context.Context, channelID string) {
	if c.history == nil {
		c.sendText(ctx, channelID, "Run history is not enabled.")
		return
	}
	runs, err := c.history.RecentRuns(channelID, 5)
	if err != nil {
		c.log.Warn("Failed to load run history", slog.Any("error", err))
		c.sendText(ctx, channelID, "Could not load run history.")
		return
	}
	if len(runs) == 0 {
		c.sendText(ctx, channelID, "No runs recorded yet.")
		return
	}

	var b strings.Builder
	b.WriteString("Recent runs:\n")
	for _, run := range runs {
		icon := "✅"
		switch run.Status {
		case memory.StatusFailed:
			icon = "❌"
		case memory.StatusAborted:
			icon = "🛑"
		}
		prompt := run.Prompt
		if len(prompt) > 60 {
			cut := 60
			for cut > 0 && !utf8.RuneStart(prompt[cut]) {
				cut--
			}
			prompt = prompt[:cut] + "…"
		}
		b.WriteString(fmt.Sprintf("%s %s — %s ($%.2f)\n",
			icon, run.CreatedAt.Format(time.DateTime), prompt, run.CostUSD))
	}
	c.sendText(ctx, channelID, b.String())
}
