package sentinel

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/afero"
)

// Heartbeat is the sentinel's externally readable status snapshot, refreshed
// every health cycle and removed on clean shutdown. The key names are part
// of the on-disk format shared with the companion.
type Heartbeat struct {
	Pid               int       `json:"pid"`
	StartedAt         time.Time `json:"startedAt"`
	Mode              string    `json:"mode"`
	CompanionPid      int       `json:"companionPid"`
	LastCheck         time.Time `json:"lastCheck"`
	CommandsQueued    int       `json:"commandsQueued"`
	CommandsProcessed int       `json:"commandsProcessed"`
}

func (s *Sentinel) writeHeartbeat() {
	hb := Heartbeat{
		Pid:               os.Getpid(),
		StartedAt:         s.startedAt,
		Mode:              string(s.mode),
		CompanionPid:      s.companionPid,
		LastCheck:         s.now(),
		CommandsQueued:    s.queue.Len(),
		CommandsProcessed: s.commandsProcessed,
	}
	data, err := json.MarshalIndent(hb, "", "  ")
	if err != nil {
		slog.Warn("Failed to encode heartbeat", "error", err)
		return
	}
	if err := afero.WriteFile(s.fs, s.cfg.HeartbeatPath, data, 0o644); err != nil {
		slog.Warn("Failed to write heartbeat", "error", err)
	}
}

func (s *Sentinel) removeHeartbeat() {
	if err := s.fs.Remove(s.cfg.HeartbeatPath); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove heartbeat", "error", err)
	}
}

// ReadHeartbeat loads the heartbeat file written by a running sentinel.
func ReadHeartbeat(fs afero.Fs, path string) (*Heartbeat, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	var hb Heartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		return nil, fmt.Errorf("corrupt heartbeat file: %w", err)
	}
	return &hb, nil
}
