package queue

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func newTestQueue(maxSize int, ttl time.Duration) (*Queue, *time.Time) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	q := New(afero.NewMemMapFs(), maxSize, ttl)
	q.now = func() time.Time { return now }
	return q, &now
}

func TestEnqueue_CapacityEvictsOldest(t *testing.T) {
	q, _ := newTestQueue(3, time.Hour)

	for i := 0; i < 5; i++ {
		q.Enqueue("chat", fmt.Sprintf("cmd-%d", i))
	}

	if q.Len() != 3 {
		t.Fatalf("expected queue length 3, got %d", q.Len())
	}
	items := q.Items()
	if items[0].Text != "cmd-2" || items[2].Text != "cmd-4" {
		t.Errorf("expected oldest entries evicted first, got %v", items)
	}
}

func TestEnqueue_NeverExceedsMax(t *testing.T) {
	q, _ := newTestQueue(4, time.Hour)

	for i := 0; i < 100; i++ {
		q.Enqueue("chat", "cmd")
		if q.Len() > 4 {
			t.Fatalf("queue exceeded max size at enqueue %d: %d", i, q.Len())
		}
	}
}

func TestEnqueue_PurgesExpiredFirst(t *testing.T) {
	q, now := newTestQueue(10, 10*time.Minute)

	q.Enqueue("chat", "old")
	*now = now.Add(11 * time.Minute)
	q.Enqueue("chat", "fresh")

	if q.Len() != 1 {
		t.Fatalf("expected expired entry purged, got length %d", q.Len())
	}
	if q.Items()[0].Text != "fresh" {
		t.Errorf("expected only the fresh entry, got %v", q.Items())
	}
}

func TestDrainToFile_ExcludesExpired(t *testing.T) {
	fs := afero.NewMemMapFs()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	q := New(fs, 10, 10*time.Minute)
	q.now = func() time.Time { return now }

	q.Enqueue("chat-1", "stale")
	now = now.Add(11 * time.Minute)
	q.Enqueue("chat-2", "live")

	if err := q.DrainToFile("/run/queue.json"); err != nil {
		t.Fatalf("DrainToFile failed: %v", err)
	}

	data, err := afero.ReadFile(fs, "/run/queue.json")
	if err != nil {
		t.Fatalf("hand-off file not written: %v", err)
	}

	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		t.Fatalf("hand-off file not valid JSON: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 live entry in hand-off, got %d", len(items))
	}
	if items[0].ChatID != "chat-2" || items[0].Text != "live" {
		t.Errorf("unexpected hand-off entry %+v", items[0])
	}
}

func TestDrainToFile_KeepsInMemoryQueue(t *testing.T) {
	q, _ := newTestQueue(10, time.Hour)
	q.Enqueue("chat", "cmd")

	if err := q.DrainToFile("/run/queue.json"); err != nil {
		t.Fatalf("DrainToFile failed: %v", err)
	}
	if q.Len() != 1 {
		t.Error("drain must not clear the in-memory queue")
	}

	q.Clear()
	if q.Len() != 0 {
		t.Error("Clear should empty the queue")
	}
}

func TestDrainToFile_EmptyQueueWritesEmptyArray(t *testing.T) {
	fs := afero.NewMemMapFs()
	q := New(fs, 10, time.Hour)

	if err := q.DrainToFile("/run/queue.json"); err != nil {
		t.Fatalf("DrainToFile failed: %v", err)
	}

	data, _ := afero.ReadFile(fs, "/run/queue.json")
	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		t.Fatalf("expected valid JSON array, got %q", data)
	}
	if len(items) != 0 {
		t.Errorf("expected empty array, got %v", items)
	}
}

func TestNew_NonPositiveCapacityClamped(t *testing.T) {
	for _, maxSize := range []int{0, -3} {
		q := New(afero.NewMemMapFs(), maxSize, time.Minute)

		// Must evict, not panic, once the clamped capacity is reached.
		q.Enqueue("1", "first")
		q.Enqueue("1", "second")

		if q.Len() != 1 {
			t.Fatalf("maxSize %d: expected clamped capacity of 1, got %d", maxSize, q.Len())
		}
		if got := q.Items()[0].Text; got != "second" {
			t.Errorf("maxSize %d: expected oldest evicted, kept %q", maxSize, got)
		}
	}
}
