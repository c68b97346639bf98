package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/afero"

	"go.olrik.dev/sentinel/internal/channel"
	"go.olrik.dev/sentinel/internal/companion"
	"go.olrik.dev/sentinel/internal/core"
	"go.olrik.dev/sentinel/internal/db"
	"go.olrik.dev/sentinel/internal/lock"
	"go.olrik.dev/sentinel/internal/proc"
	"go.olrik.dev/sentinel/internal/queue"
	"go.olrik.dev/sentinel/internal/sentinel"
)

// runSentinel starts the supervisor in the foreground and blocks until
// SIGINT or SIGTERM.
func runSentinel(settings *core.Settings) error {
	if err := os.MkdirAll(settings.RuntimeDir, 0o755); err != nil {
		return fmt.Errorf("failed to create runtime directory: %w", err)
	}
	core.SetupLogging(settings, true)

	if err := settings.ValidateCredentials(); err != nil {
		return err
	}
	if len(settings.CompanionCommand) == 0 {
		return fmt.Errorf("no companion command configured (set SENTINEL_COMPANION_COMMAND)")
	}

	fs := afero.NewOsFs()
	registry := proc.NewRegistry(fs)

	// At most one sentinel per runtime dir. A dead instance's stale PID
	// file does not count.
	if pid := registry.ReadAlivePid(settings.PIDFilePath()); pid != 0 {
		return fmt.Errorf("another sentinel instance is already running (pid %d)", pid)
	}
	registry.WritePIDFile(settings.PIDFilePath(), os.Getpid())
	defer registry.RemovePIDFile(settings.PIDFilePath())

	client, err := channel.NewTelegram(settings.Token, settings.PollTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to command channel: %w", err)
	}

	journal, err := db.Open(settings.EventDBPath())
	if err != nil {
		slog.Warn("Event journal disabled", "error", err)
		journal = nil
	}
	defer journal.Close()

	lockc := lock.NewCoordinator(fs, settings.LockPath(), "sentinel-"+settings.ProjectName, os.Getpid(), registry.IsAlive)
	q := queue.New(fs, settings.QueueMaxSize, settings.QueueTTL)
	launcher := &proc.ExecLauncher{
		Command: settings.CompanionCommand,
		LogPath: filepath.Join(settings.RuntimeDir, "companion.log"),
	}
	supervisor := companion.NewSupervisor(registry, launcher, lockc, settings.CompanionPIDPath(), settings.CompanionStartTimeout, settings.CompanionPollInterval)

	s := sentinel.New(sentinel.Config{
		ChatID:           settings.ChatID,
		ProjectName:      settings.ProjectName,
		CompanionPIDPath: settings.CompanionPIDPath(),
		HeartbeatPath:    settings.HeartbeatPath(),
		QueuePath:        settings.QueuePath(),
		HealthInterval:   settings.HealthInterval,
		BackoffBase:      settings.BackoffBase,
		BackoffMax:       settings.BackoffMax,
	}, fs, registry, lockc, q, client, supervisor, journal)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A crash must not strand the channel silently: tell the chat, then die.
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Sentinel crashed", "panic", r)
			client.SendMessage(settings.ChatID, fmt.Sprintf("🚨 %s sentinel crashed: %v", settings.ProjectName, r), channel.SendOptions{})
			registry.RemovePIDFile(settings.PIDFilePath())
			journal.LogSentinelEvent("crash", fmt.Sprintf("%v", r))
			os.Exit(1)
		}
	}()

	slog.Info("Sentinel starting",
		"version", core.Version,
		"project", settings.ProjectName,
		"pid", os.Getpid())
	return s.Run(ctx)
}
