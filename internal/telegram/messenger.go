package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"codechat/internal/conversation"
)

// Messenger implements conversation.Adapter over the Telegram Bot API.
// All messages are sent as plain text; Telegram markdown is too fragile for
// arbitrary CLI output.
type Messenger struct {
	client *Client
}

// NewMessenger creates a Messenger over the given client.
func NewMessenger(client *Client) *Messenger {
	return &Messenger{client: client}
}

// SendMessage posts a new message and returns its id as the messageRef.
func (m *Messenger) SendMessage(ctx context.Context, channelID, text string) (string, error) {
	resp, err := m.client.SendMessage(ctx, channelID, truncate(text), "")
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}
	if resp == nil || resp.Result == nil {
		return "", fmt.Errorf("empty response from sendMessage")
	}
	return strconv.FormatInt(resp.Result.MessageID, 10), nil
}

// UpdateMessage edits a previously sent message in place.
func (m *Messenger) UpdateMessage(ctx context.Context, channelID, messageRef, text string) error {
	messageID, err := strconv.ParseInt(messageRef, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid message ref %q: %w", messageRef, err)
	}
	if err := m.client.EditMessage(ctx, channelID, messageID, truncate(text), ""); err != nil {
		return fmt.Errorf("failed to edit message: %w", err)
	}
	return nil
}

// SendProjectSelection presents the configured projects as an inline
// keyboard, one button per project.
func (m *Messenger) SendProjectSelection(ctx context.Context, channelID string, projects []conversation.ProjectOption) error {
	keyboard := make([][]InlineKeyboardButton, 0, len(projects))
	for _, proj := range projects {
		keyboard = append(keyboard, []InlineKeyboardButton{{
			Text:         proj.Name,
			CallbackData: "use:" + proj.Name,
		}})
	}

	_, err := m.client.SendMessageWithKeyboard(ctx, channelID,
		"Which project should I work in?", "", keyboard)
	if err != nil {
		return fmt.Errorf("failed to send project selection: %w", err)
	}
	return nil
}

// SendRetryPrompt offers an elevated-permission re-run after denials.
func (m *Messenger) SendRetryPrompt(ctx context.Context, channelID, retryID string, deniedTools []string) error {
	text := "⚠️ Claude was blocked from using: " + strings.Join(deniedTools, ", ") +
		"\n\nRetry with edits allowed?"

	keyboard := [][]InlineKeyboardButton{{
		{Text: "✅ Retry", CallbackData: "retry:" + retryID},
		{Text: "❌ Cancel", CallbackData: "retry_cancel:" + retryID},
	}}

	_, err := m.client.SendMessageWithKeyboard(ctx, channelID, text, "", keyboard)
	if err != nil {
		return fmt.Errorf("failed to send retry prompt: %w", err)
	}
	return nil
}

// truncate clips text to Telegram's message limit. The cut is moved back to
// a rune boundary; the Bot API rejects invalid UTF-8.
func truncate(text string) string {
	if len(text) <= MaxMessageLen {
		return text
	}
	cut := MaxMessageLen - len("…")
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "…"
}
