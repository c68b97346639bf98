// Package companion spawns and tracks the heavier companion worker process.
// The supervisor only waits for the companion to report healthy through its
// PID file; everything after that is the companion's business.
package companion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/singleflight"

	"go.olrik.dev/sentinel/internal/lock"
	"go.olrik.dev/sentinel/internal/proc"
)

var (
	// ErrStartupTimeout means the companion never wrote a live PID file
	// within the startup window.
	ErrStartupTimeout = errors.New("companion did not become healthy before timeout")
	// ErrPrematureExit means the spawned process died before reporting
	// healthy.
	ErrPrematureExit = errors.New("companion exited during startup")
)

// Supervisor starts the companion process on demand. Concurrent start
// requests within one process are coalesced into a single attempt sharing
// one outcome.
type Supervisor struct {
	registry     *proc.Registry
	launcher     proc.Launcher
	lock         *lock.Coordinator
	pidPath      string
	startTimeout time.Duration
	pollInterval time.Duration

	group singleflight.Group
}

func NewSupervisor(registry *proc.Registry, launcher proc.Launcher, lockc *lock.Coordinator, pidPath string, startTimeout, pollInterval time.Duration) *Supervisor {
	return &Supervisor{
		registry:     registry,
		launcher:     launcher,
		lock:         lockc,
		pidPath:      pidPath,
		startTimeout: startTimeout,
		pollInterval: pollInterval,
	}
}

// EnsureRunning returns the PID of a healthy companion, spawning one when
// none is alive. Callers that arrive during an in-flight start share its
// outcome instead of triggering duplicate spawns.
func (s *Supervisor) EnsureRunning(ctx context.Context, reason string) (int, error) {
	v, err, _ := s.group.Do("start", func() (interface{}, error) {
		return s.start(ctx, reason)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (s *Supervisor) start(ctx context.Context, reason string) (int, error) {
	if pid := s.registry.ReadAlivePid(s.pidPath); pid != 0 {
		return pid, nil
	}

	// The companion runs its own channel listener and acquires its own
	// polling rights; give ours up before it starts.
	if s.lock != nil {
		s.lock.Release()
	}

	slog.Info("Starting companion process", "reason", reason)
	handle, err := s.launcher.Spawn()
	if err != nil {
		return 0, fmt.Errorf("companion spawn failed: %w", err)
	}
	slog.Debug("Companion spawned, waiting for health", "pid", handle.Pid(), "timeout", s.startTimeout)

	return s.awaitHealthy(ctx, handle)
}

// awaitHealthy waits for the companion's PID file to name a live process.
// It prefers filesystem notifications on the PID-file directory and falls
// back to interval polling; either way the wait is bounded by a hard
// timeout, distinct from the indefinite long poll.
func (s *Supervisor) awaitHealthy(ctx context.Context, handle proc.Handle) (int, error) {
	var events chan fsnotify.Event
	if watcher, err := fsnotify.NewWatcher(); err == nil {
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(s.pidPath)); err == nil {
			events = watcher.Events
		}
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(s.startTimeout)
	defer deadline.Stop()

	for {
		if pid := s.registry.ReadAlivePid(s.pidPath); pid != 0 {
			slog.Info("Companion is healthy", "pid", pid)
			return pid, nil
		}
		if !handle.IsAlive() {
			return 0, fmt.Errorf("%w (spawned pid %d)", ErrPrematureExit, handle.Pid())
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-deadline.C:
			return 0, fmt.Errorf("%w after %s", ErrStartupTimeout, s.startTimeout)
		case <-ticker.C:
		case <-events:
		}
	}
}

// Stop sends SIGTERM to a running companion. The caller owns the mode
// transition and user notification.
func (s *Supervisor) Stop(pid int) error {
	if pid <= 0 || !s.registry.IsAlive(pid) {
		return errors.New("companion is not running")
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal companion %d: %w", pid, err)
	}
	slog.Info("Sent stop signal to companion", "pid", pid)
	return nil
}
