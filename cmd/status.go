package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/afero"

	"go.olrik.dev/sentinel/internal/core"
	"go.olrik.dev/sentinel/internal/db"
	"go.olrik.dev/sentinel/internal/proc"
	"go.olrik.dev/sentinel/internal/sentinel"
)

// runStatus prints the heartbeat of a running sentinel.
func runStatus(w io.Writer, settings *core.Settings, format string) error {
	fs := afero.NewOsFs()
	registry := proc.NewRegistry(fs)

	hb, err := sentinel.ReadHeartbeat(fs, settings.HeartbeatPath())
	if err != nil {
		fmt.Fprintln(w, "Sentinel is not running (no heartbeat found).")
		return nil
	}

	switch format {
	case "json":
		data, err := json.MarshalIndent(hb, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(data))
	case "text":
		fmt.Fprint(w, formatHeartbeat(hb, registry.IsAlive(hb.Pid)))
		printRecentEvents(w, settings)
	default:
		return fmt.Errorf("unknown format %q (expected text or json)", format)
	}
	return nil
}

func formatHeartbeat(hb *sentinel.Heartbeat, alive bool) string {
	state := "running"
	if !alive {
		state = "stale (process not found)"
	}

	out := fmt.Sprintf("Sentinel: %s (pid %d)\n", state, hb.Pid)
	out += fmt.Sprintf("Mode: %s\n", hb.Mode)
	out += fmt.Sprintf("Started: %s (up %s)\n", hb.StartedAt.Format(time.RFC3339), time.Since(hb.StartedAt).Round(time.Second))
	if hb.CompanionPid != 0 {
		out += fmt.Sprintf("Companion: pid %d\n", hb.CompanionPid)
	} else {
		out += "Companion: not running\n"
	}
	out += fmt.Sprintf("Last health check: %s\n", hb.LastCheck.Format(time.RFC3339))
	out += fmt.Sprintf("Commands queued: %d\n", hb.CommandsQueued)
	out += fmt.Sprintf("Commands processed: %d\n", hb.CommandsProcessed)
	return out
}

// printRecentEvents appends the tail of the event journal. Best effort: a
// missing or unreadable journal just means no events section.
func printRecentEvents(w io.Writer, settings *core.Settings) {
	journal, err := db.Open(settings.EventDBPath())
	if err != nil {
		return
	}
	defer journal.Close()

	events, err := journal.RecentSentinelEvents(5)
	if err != nil || len(events) == 0 {
		return
	}
	fmt.Fprintln(w, "Recent events:")
	for _, e := range events {
		fmt.Fprintf(w, "  %s  %s", e.Timestamp.Format(time.DateTime), e.EventType)
		if e.Details != "" {
			fmt.Fprintf(w, " (%s)", e.Details)
		}
		fmt.Fprintln(w)
	}
}
