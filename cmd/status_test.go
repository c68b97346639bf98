package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.olrik.dev/sentinel/internal/core"
	"go.olrik.dev/sentinel/internal/db"
	"go.olrik.dev/sentinel/internal/sentinel"
)

func writeHeartbeatFile(t *testing.T, dir string, hb sentinel.Heartbeat) *core.Settings {
	t.Helper()
	data, err := json.Marshal(hb)
	if err != nil {
		t.Fatalf("failed to marshal heartbeat: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, core.HeartbeatFileName), data, 0o644); err != nil {
		t.Fatalf("failed to write heartbeat: %v", err)
	}
	return &core.Settings{RuntimeDir: dir}
}

func TestRunStatus_NoHeartbeat(t *testing.T) {
	settings := &core.Settings{RuntimeDir: t.TempDir()}

	var buf bytes.Buffer
	if err := runStatus(&buf, settings, "text"); err != nil {
		t.Fatalf("runStatus failed: %v", err)
	}
	if !strings.Contains(buf.String(), "not running") {
		t.Errorf("expected not-running message, got %q", buf.String())
	}
}

func TestRunStatus_Text(t *testing.T) {
	settings := writeHeartbeatFile(t, t.TempDir(), sentinel.Heartbeat{
		Pid:               os.Getpid(),
		StartedAt:         time.Now().Add(-time.Hour),
		Mode:              "companion",
		CompanionPid:      700,
		LastCheck:         time.Now(),
		CommandsQueued:    2,
		CommandsProcessed: 9,
	})

	var buf bytes.Buffer
	if err := runStatus(&buf, settings, "text"); err != nil {
		t.Fatalf("runStatus failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"Sentinel: running", "Mode: companion", "Companion: pid 700", "Commands queued: 2", "Commands processed: 9"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestRunStatus_StaleHeartbeat(t *testing.T) {
	settings := writeHeartbeatFile(t, t.TempDir(), sentinel.Heartbeat{
		// PID that cannot be a live process.
		Pid:  1 << 22,
		Mode: "standalone",
	})

	var buf bytes.Buffer
	if err := runStatus(&buf, settings, "text"); err != nil {
		t.Fatalf("runStatus failed: %v", err)
	}
	if !strings.Contains(buf.String(), "stale") {
		t.Errorf("expected stale marker, got %q", buf.String())
	}
}

func TestRunStatus_JSON(t *testing.T) {
	settings := writeHeartbeatFile(t, t.TempDir(), sentinel.Heartbeat{
		Pid:  os.Getpid(),
		Mode: "standalone",
	})

	var buf bytes.Buffer
	if err := runStatus(&buf, settings, "json"); err != nil {
		t.Fatalf("runStatus failed: %v", err)
	}

	var hb sentinel.Heartbeat
	if err := json.Unmarshal(buf.Bytes(), &hb); err != nil {
		t.Fatalf("status --format json produced invalid JSON: %v\n%s", err, buf.String())
	}
	if hb.Mode != "standalone" {
		t.Errorf("mode = %q, want standalone", hb.Mode)
	}
}

func TestRunStatus_UnknownFormat(t *testing.T) {
	settings := writeHeartbeatFile(t, t.TempDir(), sentinel.Heartbeat{Pid: os.Getpid()})

	var buf bytes.Buffer
	if err := runStatus(&buf, settings, "yaml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestRootCommand_StopAndStatusConflict(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--stop", "--status", "--runtime-dir", t.TempDir()})
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))

	if err := cmd.Execute(); err == nil {
		t.Error("expected error for --stop with --status")
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := NewRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(buf.String(), "sentinel") {
		t.Errorf("unexpected version output %q", buf.String())
	}
}

func TestRunStatus_TextIncludesRecentEvents(t *testing.T) {
	dir := t.TempDir()
	settings := writeHeartbeatFile(t, dir, sentinel.Heartbeat{
		Pid:  os.Getpid(),
		Mode: "standalone",
	})

	journal, err := db.Open(settings.EventDBPath())
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}
	if err := journal.LogSentinelEvent("mode_change", "standalone -> companion (pid 700)"); err != nil {
		t.Fatalf("failed to log event: %v", err)
	}
	journal.Close()

	var buf bytes.Buffer
	if err := runStatus(&buf, settings, "text"); err != nil {
		t.Fatalf("runStatus failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "Recent events:") || !strings.Contains(out, "mode_change") {
		t.Errorf("expected recent events in status output:\n%s", out)
	}
}
