package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	BaseDirName       = ".config/sentinel"
	PIDFileName       = "sentinel.pid"
	CompanionPIDName  = "companion.pid"
	LockFileName      = "poll.lock"
	HeartbeatFileName = "heartbeat.json"
	QueueFileName     = "queue.json"
	LogFileName       = "sentinel.log"
	EventDBName       = "sentinel.db"
)

// Settings holds the full sentinel configuration, loaded once at startup.
// Environment variables (SENTINEL_*) take precedence over the TOML config
// file in the runtime dir, which takes precedence over defaults.
type Settings struct {
	Token       string
	ChatID      int64
	ProjectName string
	Debug       bool
	RuntimeDir  string

	CompanionCommand       []string
	CompanionStartTimeout  time.Duration
	CompanionPollInterval  time.Duration

	QueueMaxSize int
	QueueTTL     time.Duration

	PollTimeout    time.Duration
	HealthInterval time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
}

// Load reads configuration from environment and the runtime-dir config file.
// An empty runtimeDir selects ~/.config/sentinel.
func Load(runtimeDir string) (*Settings, error) {
	if runtimeDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine home directory: %w", err)
		}
		runtimeDir = filepath.Join(home, BaseDirName)
	}

	v := viper.New()
	v.AddConfigPath(runtimeDir)
	v.SetConfigName("config")
	v.SetConfigType("toml")

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", 0)
	v.SetDefault("project.name", "sentinel")
	v.SetDefault("debug", false)
	v.SetDefault("companion.command", "")
	v.SetDefault("companion.start_timeout", "30s")
	v.SetDefault("companion.poll_interval", "250ms")
	v.SetDefault("queue.max_size", 20)
	v.SetDefault("queue.ttl", "10m")
	v.SetDefault("poll.timeout", "25s")
	v.SetDefault("health.interval", "30s")
	v.SetDefault("backoff.base", "1s")
	v.SetDefault("backoff.max", "5m")

	// Environment variables override the config file. Sections map with
	// . replaced by _, e.g. telegram.chat_id -> SENTINEL_TELEGRAM_CHAT_ID.
	v.SetEnvPrefix("sentinel")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine; env and defaults still apply.
	}

	s := &Settings{
		Token:                 v.GetString("telegram.token"),
		ChatID:                v.GetInt64("telegram.chat_id"),
		ProjectName:           v.GetString("project.name"),
		Debug:                 v.GetBool("debug"),
		RuntimeDir:            runtimeDir,
		CompanionCommand:      splitCommand(v.GetString("companion.command")),
		CompanionStartTimeout: v.GetDuration("companion.start_timeout"),
		CompanionPollInterval: v.GetDuration("companion.poll_interval"),
		QueueMaxSize:          v.GetInt("queue.max_size"),
		QueueTTL:              v.GetDuration("queue.ttl"),
		PollTimeout:           v.GetDuration("poll.timeout"),
		HealthInterval:        v.GetDuration("health.interval"),
		BackoffBase:           v.GetDuration("backoff.base"),
		BackoffMax:            v.GetDuration("backoff.max"),
	}

	return s, nil
}

// ValidateCredentials checks the settings required to talk to the command
// channel. Missing credentials are a fatal startup error for the supervisor
// itself, but not for --status or --stop.
func (s *Settings) ValidateCredentials() error {
	if s.Token == "" {
		return errors.New("missing Telegram bot token (set SENTINEL_TELEGRAM_TOKEN)")
	}
	if s.ChatID == 0 {
		return errors.New("missing authorized chat id (set SENTINEL_TELEGRAM_CHAT_ID)")
	}
	return nil
}

func (s *Settings) PIDFilePath() string       { return filepath.Join(s.RuntimeDir, PIDFileName) }
func (s *Settings) CompanionPIDPath() string  { return filepath.Join(s.RuntimeDir, CompanionPIDName) }
func (s *Settings) LockPath() string          { return filepath.Join(s.RuntimeDir, LockFileName) }
func (s *Settings) HeartbeatPath() string     { return filepath.Join(s.RuntimeDir, HeartbeatFileName) }
func (s *Settings) QueuePath() string         { return filepath.Join(s.RuntimeDir, QueueFileName) }
func (s *Settings) LogPath() string           { return filepath.Join(s.RuntimeDir, LogFileName) }
func (s *Settings) EventDBPath() string       { return filepath.Join(s.RuntimeDir, EventDBName) }

// splitCommand splits a configured command line on whitespace. Arguments with
// embedded spaces are not supported; companion commands are expected to be
// simple "binary subcommand" invocations.
func splitCommand(command string) []string {
	return strings.Fields(command)
}
