// Package sentinel implements the supervisor's mode controller: a two-mode
// state machine that guarantees exactly one live process services the
// command channel while the companion worker starts, crashes, or is stopped.
//
// All mutable state is owned by the run loop. The poller goroutine operates
// in lock-step with it: every poll result waits for a directive (next
// cursor, backoff delay) before the next request, so state transitions never
// race an in-flight decision.
package sentinel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/afero"

	"go.olrik.dev/sentinel/internal/channel"
	"go.olrik.dev/sentinel/internal/companion"
	"go.olrik.dev/sentinel/internal/db"
	"go.olrik.dev/sentinel/internal/lock"
	"go.olrik.dev/sentinel/internal/proc"
	"go.olrik.dev/sentinel/internal/queue"
)

// Mode is the supervisor's operating mode.
type Mode string

const (
	// ModeStandalone: no companion is running; the sentinel polls the
	// command channel itself.
	ModeStandalone Mode = "standalone"
	// ModeCompanion: a live companion owns the command channel; the
	// sentinel only watches its health.
	ModeCompanion Mode = "companion"
)

// Config carries the controller's paths and tunables.
type Config struct {
	ChatID           int64
	ProjectName      string
	CompanionPIDPath string
	HeartbeatPath    string
	QueuePath        string
	HealthInterval   time.Duration
	BackoffBase      time.Duration
	BackoffMax       time.Duration
}

// Sentinel is the mode controller. All fields below deps are owned by the
// run loop and must not be touched from other goroutines.
type Sentinel struct {
	cfg        Config
	fs         afero.Fs
	registry   *proc.Registry
	lock       *lock.Coordinator
	queue      *queue.Queue
	client     channel.Client
	companions *companion.Supervisor
	journal    *db.DB

	mode                  Mode
	startedAt             time.Time
	companionPid          int
	commandsProcessed     int
	consecutivePollErrors int

	polling    bool
	pollCancel context.CancelFunc
	offset     int
	backoff    *pollBackoff

	starting   bool
	stopping   bool
	pollc      chan pollResult
	companionc chan startResult
	stopc      chan int

	stopPollInterval time.Duration
	now              func() time.Time
}

type pollResult struct {
	updates []channel.Update
	err     error
	ack     chan pollDirective
}

type pollDirective struct {
	offset int
	delay  time.Duration
}

type startResult struct {
	pid    int
	err    error
	reason string
}

func New(cfg Config, fs afero.Fs, registry *proc.Registry, lockc *lock.Coordinator, q *queue.Queue, client channel.Client, companions *companion.Supervisor, journal *db.DB) *Sentinel {
	return &Sentinel{
		cfg:        cfg,
		fs:         fs,
		registry:   registry,
		lock:       lockc,
		queue:      q,
		client:     client,
		companions: companions,
		journal:    journal,
		mode:       ModeStandalone,
		backoff:    newPollBackoff(cfg.BackoffBase, cfg.BackoffMax),
		pollc:      make(chan pollResult),
		companionc: make(chan startResult, 1),
		stopc:      make(chan int, 1),

		stopPollInterval: 200 * time.Millisecond,
		now:              time.Now,
	}
}

// Run drives the controller until ctx is cancelled.
func (s *Sentinel) Run(ctx context.Context) error {
	s.init()

	ticker := time.NewTicker(s.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case r := <-s.pollc:
			s.handlePollResult(r)
		case r := <-s.companionc:
			s.handleStartResult(r)
		case pid := <-s.stopc:
			s.finishManualStop(pid)
		case <-ticker.C:
			s.reconcile()
			s.writeHeartbeat()
		}
	}
}

// init determines the starting mode by probing for a live companion, takes
// polling rights when standalone, and announces the sentinel quietly.
func (s *Sentinel) init() {
	s.startedAt = s.now()

	if pid := s.registry.ReadAlivePid(s.cfg.CompanionPIDPath); pid != 0 {
		s.mode = ModeCompanion
		s.companionPid = pid
		slog.Info("Companion already running, starting in companion mode", "pid", pid)
	} else {
		s.mode = ModeStandalone
		slog.Info("No companion found, starting in standalone mode")
		s.startPolling()
	}

	s.journal.LogSentinelEvent("start", fmt.Sprintf("mode: %s, pid: %d", s.mode, os.Getpid()))
	s.notify(fmt.Sprintf("%s sentinel online (%s mode)", s.cfg.ProjectName, s.mode), true)
	s.writeHeartbeat()
}

func (s *Sentinel) shutdown() {
	slog.Info("Sentinel shutting down",
		"mode", s.mode,
		"commands_processed", s.commandsProcessed)
	s.stopPolling()
	s.removeHeartbeat()
	s.journal.LogSentinelEvent("stop", fmt.Sprintf("mode: %s", s.mode))
}

// startPolling acquires polling rights and launches the poll loop. When the
// lock is held by another live process the sentinel yields cooperatively;
// the next health cycle re-evaluates.
func (s *Sentinel) startPolling() {
	if s.polling {
		return
	}
	if !s.lock.Acquire() {
		holder, _ := s.lock.HeldElsewhere()
		slog.Info("Polling rights held by another process, yielding", "holder_pid", holder)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.pollCancel = cancel
	s.polling = true
	s.backoff.Reset()
	go s.pollLoop(ctx, s.offset)
	slog.Info("Polling command channel")
}

// stopPolling aborts any in-flight long poll and releases polling rights.
func (s *Sentinel) stopPolling() {
	if !s.polling {
		return
	}
	s.pollCancel()
	s.pollCancel = nil
	s.polling = false
	s.lock.Release()
	slog.Info("Stopped polling command channel")
}

// pollLoop issues long polls in lock-step with the run loop: each result is
// handed over, and the next request waits for the loop's directive.
func (s *Sentinel) pollLoop(ctx context.Context, offset int) {
	ack := make(chan pollDirective, 1)
	for {
		updates, err := s.client.PollUpdates(ctx, offset)
		if ctx.Err() != nil {
			return
		}

		select {
		case s.pollc <- pollResult{updates: updates, err: err, ack: ack}:
		case <-ctx.Done():
			return
		}

		select {
		case d := <-ack:
			offset = d.offset
			if d.delay > 0 {
				select {
				case <-time.After(d.delay):
				case <-ctx.Done():
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sentinel) handlePollResult(r pollResult) {
	if !s.polling {
		// Result from a poller that raced its own cancellation; it will
		// observe ctx.Done while waiting for the directive.
		return
	}

	if r.err != nil {
		s.consecutivePollErrors++
		delay := s.backoff.Next()
		if errors.Is(r.err, channel.ErrConflict) {
			slog.Warn("Another poller is active, backing off", "delay", delay)
		} else {
			slog.Warn("Poll failed",
				"error", r.err,
				"consecutive_errors", s.consecutivePollErrors,
				"delay", delay)
		}
		r.ack <- pollDirective{offset: s.offset, delay: delay}
		return
	}

	s.consecutivePollErrors = 0
	s.backoff.Reset()
	s.offset = channel.NextOffset(s.offset, r.updates)
	for _, u := range r.updates {
		s.handleUpdate(u)
	}
	r.ack <- pollDirective{offset: s.offset}
}

// handleUpdate filters and dispatches one inbound message. Messages from
// unrecognized chats are silently ignored, not errors.
func (s *Sentinel) handleUpdate(u channel.Update) {
	if u.Text == "" {
		return
	}
	if u.ChatID != s.cfg.ChatID {
		slog.Debug("Ignoring message from unauthorized chat", "chat_id", u.ChatID)
		return
	}
	s.commandsProcessed++
	s.dispatch(u)
}

// reconcile is the periodic health pass: crash detection in companion mode,
// external-companion and external-poller detection in standalone mode.
func (s *Sentinel) reconcile() {
	if s.stopping {
		// A deliberate stop is in flight; don't re-adopt the dying
		// companion or report it as crashed.
		return
	}
	switch s.mode {
	case ModeCompanion:
		if pid := s.registry.ReadAlivePid(s.cfg.CompanionPIDPath); pid != 0 {
			// A restarted companion may have a new PID; follow the file.
			s.companionPid = pid
			return
		}
		if s.starting {
			return
		}
		crashed := s.companionPid
		slog.Warn("Companion process is gone, reverting to standalone", "last_pid", crashed)
		s.journal.LogCompanionEvent("crash", fmt.Sprintf("pid %d no longer alive", crashed))
		s.mode = ModeStandalone
		s.companionPid = 0
		s.notify(fmt.Sprintf("🔴 %s companion died (pid %d). Sentinel resumed command handling.", s.cfg.ProjectName, crashed), false)
		s.startPolling()

	case ModeStandalone:
		if pid := s.registry.ReadAlivePid(s.cfg.CompanionPIDPath); pid != 0 {
			slog.Info("Detected externally started companion", "pid", pid)
			s.onCompanionHealthy(pid)
			return
		}
		if s.polling {
			return
		}
		if holder, held := s.lock.HeldElsewhere(); held {
			slog.Debug("External poller still active, staying quiet", "holder_pid", holder)
			return
		}
		s.startPolling()
	}
}

// triggerCompanionStart launches an asynchronous companion start unless one
// is already in flight or a live companion exists with nothing to hand off.
func (s *Sentinel) triggerCompanionStart(reason string) {
	if s.starting {
		return
	}
	s.starting = true
	go func() {
		pid, err := s.companions.EnsureRunning(context.Background(), reason)
		s.companionc <- startResult{pid: pid, err: err, reason: reason}
	}()
}

func (s *Sentinel) handleStartResult(r startResult) {
	s.starting = false

	if r.err != nil {
		slog.Error("Companion start failed", "reason", r.reason, "error", r.err)
		s.journal.LogCompanionEvent("start_failed", r.err.Error())
		dropped := s.queue.Len()
		s.queue.Clear()
		s.notify(fmt.Sprintf("⚠️ Failed to start %s companion: %v (%d queued commands discarded)", s.cfg.ProjectName, r.err, dropped), false)
		// EnsureRunning gave up our polling rights before spawning; the
		// start failed, so take them back. If another process grabbed the
		// lock in the meantime, stop polling instead of competing.
		if s.mode == ModeStandalone {
			if s.polling {
				if !s.lock.Acquire() {
					s.stopPolling()
				}
			} else {
				s.startPolling()
			}
		}
		s.writeHeartbeat()
		return
	}

	s.onCompanionHealthy(r.pid)
}

// onCompanionHealthy hands off the queued commands and yields the channel to
// the companion.
func (s *Sentinel) onCompanionHealthy(pid int) {
	if err := s.queue.DrainToFile(s.cfg.QueuePath); err != nil {
		slog.Warn("Failed to write hand-off file", "error", err)
	} else {
		s.queue.Clear()
	}

	if s.mode != ModeCompanion {
		slog.Info("Switching to companion mode", "pid", pid)
		s.journal.LogSentinelEvent("mode_change", fmt.Sprintf("standalone -> companion (pid %d)", pid))
	}
	s.mode = ModeCompanion
	s.companionPid = pid
	s.stopPolling()
	s.writeHeartbeat()
}

// notify sends a best-effort message to the authorized chat.
func (s *Sentinel) notify(text string, silent bool) {
	if err := s.client.SendMessage(s.cfg.ChatID, text, channel.SendOptions{Silent: silent}); err != nil {
		slog.Warn("Failed to send notification", "error", err)
	}
}

func (s *Sentinel) reply(text string) {
	s.notify(text, false)
}

// notifyMarkdown sends a formatted reply; the channel client falls back to
// plain text when formatting is rejected.
func (s *Sentinel) notifyMarkdown(text string) {
	if err := s.client.SendMessage(s.cfg.ChatID, text, channel.SendOptions{Markdown: true}); err != nil {
		slog.Warn("Failed to send notification", "error", err)
	}
}

func chatIDString(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}
