// Package queue holds commands awaiting a companion process. The queue is
// bounded and TTL-scoped: stale entries are purged before every enqueue and
// before every hand-off write, and the oldest entry is evicted first when
// the queue is at capacity.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/afero"
)

// Item is one queued command. ChatID is kept as a string because the
// hand-off file is consumed by the companion, which treats chat ids as
// opaque.
type Item struct {
	ChatID    string    `json:"chatId"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Queue is a bounded FIFO of commands awaiting hand-off.
type Queue struct {
	fs      afero.Fs
	maxSize int
	ttl     time.Duration
	items   []Item
	now     func() time.Time
}

func New(fs afero.Fs, maxSize int, ttl time.Duration) *Queue {
	// A queue that cannot hold a single command is a misconfiguration, not
	// a reason to panic on the eviction path.
	if maxSize < 1 {
		maxSize = 1
	}
	return &Queue{fs: fs, maxSize: maxSize, ttl: ttl, now: time.Now}
}

// Enqueue appends a command, purging expired entries first and evicting the
// oldest entry when at capacity.
func (q *Queue) Enqueue(chatID, text string) {
	q.purgeExpired()
	if len(q.items) >= q.maxSize {
		q.items = q.items[1:]
	}
	q.items = append(q.items, Item{ChatID: chatID, Text: text, Timestamp: q.now()})
}

// Len reports the current queue depth.
func (q *Queue) Len() int {
	return len(q.items)
}

// Items returns a copy of the current entries, oldest first.
func (q *Queue) Items() []Item {
	out := make([]Item, len(q.items))
	copy(out, q.items)
	return out
}

// Clear drops all entries. Called by the owner once a hand-off is confirmed,
// or when a companion start attempt fails and its commands are discarded.
func (q *Queue) Clear() {
	q.items = q.items[:0]
}

// DrainToFile serializes the live (non-expired) queue to the hand-off file
// for the companion to replay on its own startup. The in-memory queue is not
// cleared; clearing is tied to a confirmed hand-off by the caller.
func (q *Queue) DrainToFile(path string) error {
	q.purgeExpired()
	items := q.items
	if items == nil {
		items = []Item{}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize command queue: %w", err)
	}
	if err := afero.WriteFile(q.fs, path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write hand-off file: %w", err)
	}
	return nil
}

// purgeExpired drops entries whose age exceeds the TTL. An expired command
// is never replayed.
func (q *Queue) purgeExpired() {
	cutoff := q.now().Add(-q.ttl)
	kept := q.items[:0]
	for _, item := range q.items {
		if item.Timestamp.After(cutoff) {
			kept = append(kept, item)
		}
	}
	q.items = kept
}
