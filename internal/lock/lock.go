// Package lock implements the file-based mutex that grants polling rights.
// At most one live process may hold the lock; records naming a dead PID are
// stale and reclaimable by any contender. The exclusive-create of the lock
// file is the only arbitration point.
package lock

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// Record is the persisted lock content.
type Record struct {
	Owner     string    `json:"owner"`
	Pid       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// Coordinator acquires and releases the polling lock for one process. It is
// shared between the controller's run loop and companion start goroutines,
// so held and the lock-file operations are guarded by a mutex.
type Coordinator struct {
	fs    afero.Fs
	path  string
	owner string
	pid   int
	alive func(pid int) bool

	mu   sync.Mutex
	held bool
}

func NewCoordinator(fs afero.Fs, path, owner string, pid int, alive func(int) bool) *Coordinator {
	return &Coordinator{fs: fs, path: path, owner: owner, pid: pid, alive: alive}
}

// Acquire attempts to take the lock. It returns false when another live
// process holds it. Stale records (dead PID) and corrupt lock files are
// reclaimed: the file is deleted and acquisition retried once, so two fresh
// contenders racing through reclaim are still arbitrated by the final
// exclusive create.
func (c *Coordinator) Acquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.held {
		return true
	}
	return c.tryAcquire(true)
}

// tryAcquire requires c.mu.
func (c *Coordinator) tryAcquire(allowReclaim bool) bool {
	f, err := c.fs.OpenFile(c.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err == nil {
		rec := Record{Owner: c.owner, Pid: c.pid, StartedAt: time.Now()}
		data, _ := json.Marshal(rec)
		if _, werr := f.Write(data); werr != nil {
			slog.Warn("Failed to write lock record", "path", c.path, "error", werr)
		}
		f.Close()
		c.held = true
		slog.Debug("Acquired polling lock", "path", c.path, "pid", c.pid)
		return true
	}

	if !allowReclaim {
		return false
	}

	rec, rerr := c.read()
	if rerr != nil {
		// Unreadable or corrupt lock file: treat as absent.
		slog.Warn("Reclaiming corrupt lock file", "path", c.path, "error", rerr)
		c.fs.Remove(c.path)
		return c.tryAcquire(false)
	}

	if c.alive(rec.Pid) {
		slog.Debug("Polling lock held by live process", "path", c.path, "owner", rec.Owner, "pid", rec.Pid)
		return false
	}

	slog.Info("Reclaiming stale polling lock", "path", c.path, "dead_pid", rec.Pid)
	c.fs.Remove(c.path)
	return c.tryAcquire(false)
}

// Release deletes the lock file if this process holds it. Idempotent.
func (c *Coordinator) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.held {
		return
	}
	c.held = false
	if err := c.fs.Remove(c.path); err != nil {
		slog.Warn("Failed to remove lock file", "path", c.path, "error", err)
		return
	}
	slog.Debug("Released polling lock", "path", c.path, "pid", c.pid)
}

// Held reports whether this coordinator currently holds the lock.
func (c *Coordinator) Held() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.held
}

// HeldElsewhere reports whether some other live process holds the lock, and
// by which PID. Used by the standalone reconciliation loop to yield politely
// to an external poller.
func (c *Coordinator) HeldElsewhere() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, err := c.read()
	if err != nil {
		return 0, false
	}
	if rec.Pid == c.pid || !c.alive(rec.Pid) {
		return 0, false
	}
	return rec.Pid, true
}

func (c *Coordinator) read() (Record, error) {
	var rec Record
	data, err := afero.ReadFile(c.fs, c.path)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, err
	}
	return rec, nil
}
