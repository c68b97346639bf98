// Package channel talks to the external command channel (the Telegram Bot
// API). Polling uses a context-aware long poll so the controller can abort
// an in-flight request when it yields polling rights.
package channel

import (
	"context"
	"errors"
)

// ErrConflict is returned when the API reports that another poller is
// active (HTTP 409). Callers back off instead of treating it as a generic
// failure.
var ErrConflict = errors.New("another poller is active")

// Update is one inbound item from the command channel. Text is empty for
// update kinds the supervisor does not handle; the ID still advances the
// poll cursor.
type Update struct {
	ID     int
	ChatID int64
	Text   string
}

// SendOptions control message delivery.
type SendOptions struct {
	Markdown bool
	Silent   bool
}

// Client is the send/receive interface to the command channel.
type Client interface {
	// PollUpdates issues a long poll starting at the given cursor offset.
	PollUpdates(ctx context.Context, offset int) ([]Update, error)
	// SendMessage delivers text to a chat, chunking as needed.
	SendMessage(chatID int64, text string, opts SendOptions) error
}

// NextOffset computes the poll cursor following a batch of updates.
func NextOffset(offset int, updates []Update) int {
	for _, u := range updates {
		if u.ID >= offset {
			offset = u.ID + 1
		}
	}
	return offset
}
