package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"codechat/internal/claude"
	"codechat/internal/logging"
	"codechat/internal/memory"
	"codechat/internal/state"
)

const (
	// maxRenderLen keeps rendered output under Telegram's message limit
	// with headroom for decorations.
	maxRenderLen = 3900

	// sweepInterval is how often expired retry offers are collected.
	sweepInterval = time.Minute
)

// Config wires a Controller's collaborators.
type Config struct {
	Adapter       Adapter
	Store         *state.Store
	Resolver      *state.Resolver
	History       *memory.Store // optional run history
	Projects      []ProjectOption
	ClaudeCommand string

	// UpdateInterval is the minimum gap between message edits per run.
	// Defaults to one second.
	UpdateInterval time.Duration

	// RetryTTL bounds the lifetime of pending retry offers. Defaults to
	// ten minutes.
	RetryTTL time.Duration
}

// Controller owns all per-channel conversation state: bindings, the active
// execution registry, and pending retries. All mutation funnels through its
// methods; the maps are guarded by one mutex since handlers run on adapter
// goroutines.
type Controller struct {
	adapter   Adapter
	store     *state.Store
	resolver  *state.Resolver
	history   *memory.Store
	projects  []ProjectOption
	claudeCmd string
	log       *slog.Logger

	throttle *Throttle
	retries  *retryStore
	execute  executeFunc

	mu     sync.Mutex
	active map[string]*activeExecution

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewController creates a controller from its collaborators.
func NewController(cfg *Config) *Controller {
	interval := cfg.UpdateInterval
	if interval <= 0 {
		interval = time.Second
	}
	ttl := cfg.RetryTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	c := &Controller{
		adapter:   cfg.Adapter,
		store:     cfg.Store,
		resolver:  cfg.Resolver,
		history:   cfg.History,
		projects:  cfg.Projects,
		claudeCmd: cfg.ClaudeCommand,
		log:       logging.WithComponent("conversation"),
		retries:   newRetryStore(ttl),
		active:    make(map[string]*activeExecution),
		stopCh:    make(chan struct{}),
	}
	c.execute = func(opts claude.Options) runHandle { return claude.Execute(opts) }
	c.throttle = NewThrottle(interval, c.applyUpdate)
	return c
}

// Start launches background maintenance. Stop waits for in-flight work.
func (c *Controller) Start() {
	c.wg.Add(1)
	go c.sweepLoop()
}

// Stop shuts down background maintenance and waits for runs to settle.
func (c *Controller) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

// sweepLoop expires abandoned retry offers.
func (c *Controller) sweepLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if removed := c.retries.sweep(); removed > 0 {
				c.log.Debug("Expired retry offers", slog.Int("count", removed))
			}
		}
	}
}

// HandleMessage processes one inbound chat message: slash commands are
// dispatched, everything else is treated as a prompt.
func (c *Controller) HandleMessage(ctx context.Context, channelID, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if strings.HasPrefix(text, "/") {
		c.handleCommand(ctx, channelID, text)
		return
	}
	c.HandlePrompt(ctx, channelID, text)
}

// HandlePrompt runs a prompt for a channel, asking for a project first when
// none is bound.
func (c *Controller) HandlePrompt(ctx context.Context, channelID, prompt string) {
	if c.busy(channelID) {
		c.sendText(ctx, channelID, "⚠️ A run is already in progress. Use /stop to cancel it first.")
		return
	}

	cs := c.store.Channel(channelID)
	if cs.ProjectPath == "" {
		// Stash the prompt and ask which project to use; the callback
		// resumes as if the prompt had just arrived.
		if err := c.store.UpdateChannel(channelID, func(cs *state.ChannelState) {
			cs.PendingPrompt = prompt
		}); err != nil {
			c.log.Warn("Failed to persist pending prompt", slog.Any("error", err))
		}
		if len(c.projects) == 0 {
			c.sendText(ctx, channelID, "No projects are configured. Add projects to the config file first.")
			return
		}
		if err := c.adapter.SendProjectSelection(ctx, channelID, c.projects); err != nil {
			c.log.Warn("Failed to send project selection", slog.Any("error", err))
		}
		return
	}

	sessionID := c.resolver.Resolve(cs.ProjectPath, cs.SessionID)
	c.startRun(ctx, channelID, cs.ProjectPath, prompt, sessionID, claude.PermissionDefault)
}

// HandleCallback processes a button press from the adapter.
func (c *Controller) HandleCallback(ctx context.Context, channelID, data string) {
	switch {
	case strings.HasPrefix(data, "use:"):
		c.selectProject(ctx, channelID, strings.TrimPrefix(data, "use:"))
	case strings.HasPrefix(data, "retry:"):
		_ = c.ConfirmRetry(ctx, channelID, strings.TrimPrefix(data, "retry:"))
	case strings.HasPrefix(data, "retry_cancel:"):
		c.CancelRetry(ctx, channelID, strings.TrimPrefix(data, "retry_cancel:"))
	default:
		c.log.Debug("Unknown callback", slog.String("data", data))
	}
}

// HandleStop cancels the channel's active run, if any. Repeated stops are
// no-ops: only the first renders a cancellation message.
func (c *Controller) HandleStop(ctx context.Context, channelID string) {
	c.mu.Lock()
	exec := c.active[channelID]
	if exec == nil {
		c.mu.Unlock()
		c.sendText(ctx, channelID, "Nothing is running.")
		return
	}
	if exec.aborted {
		c.mu.Unlock()
		return
	}
	exec.aborted = true
	abort := exec.abort
	messageRef := exec.messageRef
	c.mu.Unlock()

	// abort is nil only in the window before the run handle exists; the
	// registration path re-checks the aborted flag and aborts then.
	if abort != nil {
		abort()
	}

	c.throttle.Drop(updateKey(channelID, messageRef))
	if messageRef != "" {
		if err := c.adapter.UpdateMessage(ctx, channelID, messageRef, "🛑 Stopped."); err != nil {
			c.log.Warn("Failed to render cancellation", slog.Any("error", err))
			c.sendText(ctx, channelID, "🛑 Stopped.")
		}
	} else {
		c.sendText(ctx, channelID, "🛑 Stopped.")
	}
}

// ConfirmRetry re-runs a denied prompt with elevated permissions. Unknown
// or consumed ids report expiration instead of retrying silently.
func (c *Controller) ConfirmRetry(ctx context.Context, channelID, id string) error {
	entry, ok := c.retries.Take(id)
	if !ok {
		c.sendText(ctx, channelID, "⌛ This retry request has expired.")
		return ErrRetryExpired
	}
	if c.busy(entry.ChannelID) {
		c.sendText(ctx, channelID, "⚠️ A run is already in progress. Use /stop to cancel it first.")
		return nil
	}
	c.startRun(ctx, entry.ChannelID, entry.ProjectPath, entry.Prompt, entry.SessionID, claude.PermissionAccept)
	return nil
}

// CancelRetry discards a pending retry offer without executing anything.
func (c *Controller) CancelRetry(ctx context.Context, channelID, id string) {
	if !c.retries.Remove(id) {
		c.sendText(ctx, channelID, "⌛ This retry request has expired.")
		return
	}
	c.sendText(ctx, channelID, "Retry cancelled.")
}

// selectProject binds a project to the channel and resumes any stashed
// prompt.
func (c *Controller) selectProject(ctx context.Context, channelID, name string) {
	var selected *ProjectOption
	for i := range c.projects {
		if c.projects[i].Name == name {
			selected = &c.projects[i]
			break
		}
	}
	if selected == nil {
		c.sendText(ctx, channelID, fmt.Sprintf("❌ Project %q not found. Use /projects to list them.", name))
		return
	}

	cs := c.store.Channel(channelID)
	pending := cs.PendingPrompt
	if err := c.store.UpdateChannel(channelID, func(cs *state.ChannelState) {
		cs.ProjectPath = selected.Path
		cs.SessionID = ""
		cs.PendingPrompt = ""
	}); err != nil {
		c.log.Warn("Failed to persist project selection", slog.Any("error", err))
	}

	c.sendText(ctx, channelID, fmt.Sprintf("📁 Project set to %s (%s)", selected.Name, selected.Path))

	if pending != "" {
		sessionID := c.resolver.Resolve(selected.Path, "")
		c.startRun(ctx, channelID, selected.Path, pending, sessionID, claude.PermissionDefault)
	}
}

// busy reports whether the channel has an active execution.
func (c *Controller) busy(channelID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active[channelID] != nil
}

// startRun spawns one CLI run for a channel and streams its progress into a
// single throttled message.
func (c *Controller) startRun(ctx context.Context, channelID, projectPath, prompt, sessionID string, mode claude.PermissionMode) {
	// Register before any side effects: a concurrent prompt losing this
	// race is rejected without an orphaned progress message, and a
	// concurrent stop has something to cancel even while the subprocess
	// is still coming up.
	exec := &activeExecution{}
	c.mu.Lock()
	if c.active[channelID] != nil {
		c.mu.Unlock()
		c.sendText(ctx, channelID, "⚠️ A run is already in progress. Use /stop to cancel it first.")
		return
	}
	c.active[channelID] = exec
	c.mu.Unlock()

	messageRef, err := c.adapter.SendMessage(ctx, channelID, "⏳ Working on it...")
	if err != nil {
		c.log.Warn("Failed to send progress message", slog.Any("error", err))
		messageRef = ""
	}

	c.mu.Lock()
	exec.messageRef = messageRef
	abortedBeforeSpawn := exec.aborted
	if abortedBeforeSpawn {
		delete(c.active, channelID)
	}
	c.mu.Unlock()
	if abortedBeforeSpawn {
		// Stopped while the progress message was in flight; nothing spawned.
		if messageRef != "" {
			_ = c.adapter.UpdateMessage(ctx, channelID, messageRef, "🛑 Stopped.")
		}
		return
	}

	key := updateKey(channelID, messageRef)
	var progress strings.Builder
	onChunk := func(chunk *claude.StreamChunk) {
		if chunk.Type != claude.ChunkTypeAssistant || chunk.Message == nil {
			return
		}
		grew := false
		for _, block := range chunk.Message.Content {
			if block.Type == "text" && block.Text != "" {
				progress.WriteString(block.Text)
				grew = true
			}
		}
		if grew && messageRef != "" {
			c.throttle.Push(key, renderProgress(progress.String()))
		}
	}

	run := c.execute(claude.Options{
		Command:    c.claudeCmd,
		ProjectDir: projectPath,
		Prompt:     prompt,
		SessionID:  sessionID,
		Mode:       mode,
		OnChunk:    onChunk,
	})

	c.mu.Lock()
	exec.abort = run.Abort
	abortedEarly := exec.aborted
	c.mu.Unlock()
	if abortedEarly {
		run.Abort()
	}

	c.log.Info("Run started",
		slog.String("channel_id", channelID),
		slog.String("project", projectPath),
		slog.String("session_id", sessionID),
		slog.String("mode", string(mode)),
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		outcome, err := run.Wait()
		c.finishRun(channelID, exec, projectPath, prompt, sessionID, outcome, err)
	}()
}

// finishRun settles one run: exactly one terminal rendering per run, then
// state persistence and the optional retry offer.
func (c *Controller) finishRun(channelID string, exec *activeExecution, projectPath, prompt, resolvedSession string, outcome *claude.Outcome, err error) {
	c.throttle.Drop(updateKey(channelID, exec.messageRef))

	c.mu.Lock()
	delete(c.active, channelID)
	aborted := exec.aborted
	c.mu.Unlock()

	ctx := context.Background()

	if aborted || (outcome == nil && err == nil) {
		// The stop handler already rendered; late activity is a no-op.
		c.recordRun(channelID, projectPath, resolvedSession, prompt, memory.StatusAborted, nil)
		return
	}

	if err != nil {
		c.log.Warn("Run failed",
			slog.String("channel_id", channelID),
			slog.Any("error", err),
		)
		c.renderFinal(ctx, channelID, exec.messageRef, "❌ Execution failed. Check the logs and try again.")
		c.recordRun(channelID, projectPath, resolvedSession, prompt, memory.StatusFailed, nil)
		return
	}

	sessionID := resolvedSession
	if outcome.Result != nil && outcome.Result.SessionID != "" {
		sessionID = outcome.Result.SessionID
	}

	c.renderFinal(ctx, channelID, exec.messageRef, renderOutcome(outcome))

	if persistErr := c.store.UpdateChannel(channelID, func(cs *state.ChannelState) {
		cs.ProjectPath = projectPath
		cs.SessionID = sessionID
		cs.PendingPrompt = ""
	}); persistErr != nil {
		c.log.Warn("Failed to persist channel state", slog.Any("error", persistErr))
	}
	if sessionID != "" {
		if persistErr := c.store.SetProjectSession(projectPath, sessionID); persistErr != nil {
			c.log.Warn("Failed to persist project session", slog.Any("error", persistErr))
		}
	}

	c.recordRun(channelID, projectPath, sessionID, prompt, memory.StatusCompleted, outcome.Result)

	if outcome.Result != nil && len(outcome.Result.PermissionDenials) > 0 {
		c.offerRetry(ctx, channelID, projectPath, prompt, sessionID, outcome.Result.PermissionDenials)
	}
}

// offerRetry stores a retry snapshot and presents the accept/cancel choice.
func (c *Controller) offerRetry(ctx context.Context, channelID, projectPath, prompt, sessionID string, denials []claude.Denial) {
	id := c.retries.Offer(&pendingRetry{
		Prompt:      prompt,
		ProjectPath: projectPath,
		ChannelID:   channelID,
		SessionID:   sessionID,
	})

	tools := make([]string, 0, len(denials))
	for _, d := range denials {
		tools = append(tools, d.ToolName)
	}

	if err := c.adapter.SendRetryPrompt(ctx, channelID, id, tools); err != nil {
		c.log.Warn("Failed to send retry prompt", slog.Any("error", err))
	}
}

// renderFinal updates the progress message with the terminal content,
// falling back to a fresh send when the edit fails.
func (c *Controller) renderFinal(ctx context.Context, channelID, messageRef, text string) {
	if messageRef != "" {
		err := c.adapter.UpdateMessage(ctx, channelID, messageRef, text)
		if err == nil {
			return
		}
		c.log.Warn("Failed to update final message, falling back to send", slog.Any("error", err))
	}
	c.sendText(ctx, channelID, text)
}

// recordRun writes one run into the history store, when configured.
func (c *Controller) recordRun(channelID, projectPath, sessionID, prompt, status string, result *claude.StreamChunk) {
	if c.history == nil {
		return
	}
	run := &memory.Run{
		ID:          uuid.New().String(),
		ChannelID:   channelID,
		ProjectPath: projectPath,
		SessionID:   sessionID,
		Prompt:      prompt,
		Status:      status,
	}
	if result != nil {
		run.CostUSD = result.TotalCostUSD
		run.DurationMS = result.DurationMS
		run.NumTurns = result.NumTurns
	}
	if err := c.history.SaveRun(run); err != nil {
		c.log.Warn("Failed to record run", slog.Any("error", err))
	}
}

// applyUpdate is the throttle's sink: it edits the in-flight message.
func (c *Controller) applyUpdate(key, content string) error {
	channelID, messageRef, ok := splitUpdateKey(key)
	if !ok || messageRef == "" {
		return nil
	}
	return c.adapter.UpdateMessage(context.Background(), channelID, messageRef, content)
}

// sendText posts a plain reply, logging delivery failures.
func (c *Controller) sendText(ctx context.Context, channelID, text string) {
	if _, err := c.adapter.SendMessage(ctx, channelID, text); err != nil {
		c.log.Warn("Failed to send message",
			slog.String("channel_id", channelID),
			slog.Any("error", err),
		)
	}
}

func updateKey(channelID, messageRef string) string {
	return channelID + "|" + messageRef
}

func splitUpdateKey(key string) (channelID, messageRef string, ok bool) {
	idx := strings.IndexByte(key, '|')
	if idx < 0 {
		return "", "", false
	}
	return key[:idx], key[idx+1:], true
}

// renderProgress shows the newest slice of accumulated output while a run
// streams.
func renderProgress(output string) string {
	return "⏳ " + tail(output, maxRenderLen)
}

// renderOutcome formats the terminal content for a successful run.
func renderOutcome(outcome *claude.Outcome) string {
	text := strings.TrimSpace(outcome.Output)
	if text == "" && outcome.Result != nil {
		text = strings.TrimSpace(outcome.Result.Result)
	}
	if text == "" {
		text = "✅ Done (no output)."
	} else {
		text = tail(text, maxRenderLen)
	}

	if len(outcome.FileChanges) > 0 {
		var b strings.Builder
		b.WriteString(text)
		b.WriteString("\n\n📝 Changed files:\n")
		for _, fc := range outcome.FileChanges {
			b.WriteString(fmt.Sprintf("• %s (%s)\n", fc.Path, fc.Tool))
		}
		text = b.String()
	}
	return text
}

// tail returns the last max bytes of s, marking truncation. The cut is
// advanced to the next rune boundary so the result stays valid UTF-8.
func tail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := len(s) - max
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return "…" + s[cut:]
}
