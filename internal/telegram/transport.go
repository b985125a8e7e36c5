package telegram

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"codechat/internal/logging"
)

// UpdateHandler receives inbound traffic from the polling transport.
// The conversation controller implements it.
type UpdateHandler interface {
	HandleMessage(ctx context.Context, channelID, text string)
	HandleCallback(ctx context.Context, channelID, data string)
}

// Transport long-polls the Bot API and routes updates to the handler.
type Transport struct {
	client     *Client
	handler    UpdateHandler
	allowedIDs map[int64]bool
	log        *slog.Logger

	mu     sync.Mutex
	offset int64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewTransport creates a polling transport. An empty allowedIDs list means
// every chat is accepted.
func NewTransport(client *Client, handler UpdateHandler, allowedIDs []int64) *Transport {
	allowed := make(map[int64]bool, len(allowedIDs))
	for _, id := range allowedIDs {
		allowed[id] = true
	}
	return &Transport{
		client:     client,
		handler:    handler,
		allowedIDs: allowed,
		log:        logging.WithComponent("telegram"),
		stopCh:     make(chan struct{}),
	}
}

// StartPolling starts polling for updates in a goroutine.
func (t *Transport) StartPolling(ctx context.Context) {
	t.wg.Add(1)
	go t.pollLoop(ctx)
}

// Stop gracefully stops the polling loop.
func (t *Transport) Stop() {
	close(t.stopCh)
	t.wg.Wait()
}

// pollLoop continuously polls for updates.
func (t *Transport) pollLoop(ctx context.Context) {
	defer t.wg.Done()

	t.log.Debug("Starting poll loop")
	for {
		select {
		case <-ctx.Done():
			t.log.Debug("Poll loop stopped")
			return
		case <-t.stopCh:
			t.log.Debug("Poll loop stopped")
			return
		default:
			t.fetchAndProcess(ctx)
		}
	}
}

// fetchAndProcess fetches updates and processes them.
func (t *Transport) fetchAndProcess(ctx context.Context) {
	// Long polling with a 30 second timeout.
	t.mu.Lock()
	offset := t.offset
	t.mu.Unlock()

	updates, err := t.client.GetUpdates(ctx, offset, 30)
	if err != nil {
		// Don't spam logs on context cancellation.
		if ctx.Err() == nil {
			t.log.Warn("Error fetching updates", slog.Any("error", err))
		}
		time.Sleep(time.Second)
		return
	}

	for _, update := range updates {
		t.processUpdate(ctx, update)
		t.mu.Lock()
		if update.UpdateID >= t.offset {
			t.offset = update.UpdateID + 1
		}
		t.mu.Unlock()
	}
}

// processUpdate routes a single update to the handler.
func (t *Transport) processUpdate(ctx context.Context, update *Update) {
	if update.CallbackQuery != nil {
		t.processCallback(ctx, update.CallbackQuery)
		return
	}

	msg := update.Message
	if msg == nil || msg.Chat == nil || msg.Text == "" {
		return
	}

	chatID := msg.Chat.ID
	if !t.allowed(chatID, msg.From) {
		t.log.Warn("Rejected message from unauthorized chat", slog.Int64("chat_id", chatID))
		return
	}

	t.handler.HandleMessage(ctx, strconv.FormatInt(chatID, 10), msg.Text)
}

func (t *Transport) processCallback(ctx context.Context, callback *CallbackQuery) {
	if callback.Message == nil || callback.Message.Chat == nil {
		return
	}

	chatID := callback.Message.Chat.ID
	if !t.allowed(chatID, callback.From) {
		t.log.Warn("Rejected callback from unauthorized chat", slog.Int64("chat_id", chatID))
		return
	}

	// Answer first to clear the button's loading state.
	if err := t.client.AnswerCallback(ctx, callback.ID, ""); err != nil {
		t.log.Debug("Failed to answer callback", slog.Any("error", err))
	}

	t.handler.HandleCallback(ctx, strconv.FormatInt(chatID, 10), callback.Data)
}

// allowed checks the chat and sender against the access list.
func (t *Transport) allowed(chatID int64, from *User) bool {
	if len(t.allowedIDs) == 0 {
		return true
	}
	if t.allowedIDs[chatID] {
		return true
	}
	return from != nil && t.allowedIDs[from.ID]
}
