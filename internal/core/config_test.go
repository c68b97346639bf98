package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	s, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if s.ProjectName != "sentinel" {
		t.Errorf("expected default project name 'sentinel', got %q", s.ProjectName)
	}
	if s.QueueMaxSize != 20 {
		t.Errorf("expected default queue max size 20, got %d", s.QueueMaxSize)
	}
	if s.QueueTTL != 10*time.Minute {
		t.Errorf("expected default queue TTL 10m, got %v", s.QueueTTL)
	}
	if s.PollTimeout != 25*time.Second {
		t.Errorf("expected default poll timeout 25s, got %v", s.PollTimeout)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	config := `
debug = true

[project]
name = "myproject"

[telegram]
token = "file-token"
chat_id = 42

[queue]
max_size = 5
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(config), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	s, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if s.ProjectName != "myproject" {
		t.Errorf("expected project name from file, got %q", s.ProjectName)
	}
	if s.Token != "file-token" {
		t.Errorf("expected token from file, got %q", s.Token)
	}
	if s.ChatID != 42 {
		t.Errorf("expected chat id 42, got %d", s.ChatID)
	}
	if s.QueueMaxSize != 5 {
		t.Errorf("expected queue max size 5, got %d", s.QueueMaxSize)
	}
	if !s.Debug {
		t.Error("expected debug true from file")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	config := `
[telegram]
token = "file-token"
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(config), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	t.Setenv("SENTINEL_TELEGRAM_TOKEN", "env-token")
	t.Setenv("SENTINEL_TELEGRAM_CHAT_ID", "99")

	s, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if s.Token != "env-token" {
		t.Errorf("expected env token to win over file, got %q", s.Token)
	}
	if s.ChatID != 99 {
		t.Errorf("expected chat id 99 from env, got %d", s.ChatID)
	}
}

func TestValidateCredentials(t *testing.T) {
	s := &Settings{}
	if err := s.ValidateCredentials(); err == nil {
		t.Error("expected error for missing token")
	}

	s.Token = "token"
	if err := s.ValidateCredentials(); err == nil {
		t.Error("expected error for missing chat id")
	}

	s.ChatID = 1
	if err := s.ValidateCredentials(); err != nil {
		t.Errorf("expected no error with credentials present, got %v", err)
	}
}

func TestSettings_Paths(t *testing.T) {
	s := &Settings{RuntimeDir: "/run/sentinel"}

	if got := s.PIDFilePath(); got != "/run/sentinel/sentinel.pid" {
		t.Errorf("unexpected pid file path %q", got)
	}
	if got := s.LockPath(); got != "/run/sentinel/poll.lock" {
		t.Errorf("unexpected lock path %q", got)
	}
	if got := s.HeartbeatPath(); got != "/run/sentinel/heartbeat.json" {
		t.Errorf("unexpected heartbeat path %q", got)
	}
}

func TestSplitCommand(t *testing.T) {
	if got := splitCommand(""); len(got) != 0 {
		t.Errorf("expected empty slice for empty command, got %v", got)
	}
	got := splitCommand("companion start --project demo")
	if len(got) != 4 || got[0] != "companion" || got[3] != "demo" {
		t.Errorf("unexpected split result %v", got)
	}
}
