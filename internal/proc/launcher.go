package proc

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// Handle tracks a process for the duration of a start attempt. Once the
// companion's own PID file reports healthy, the PID file becomes the source
// of truth and the handle is discarded.
type Handle interface {
	Pid() int
	IsAlive() bool
}

// Launcher spawns the companion as a detached process. It is an interface so
// the companion lifecycle can be simulated in tests.
type Launcher interface {
	Spawn() (Handle, error)
}

// ExecLauncher launches a command detached from the sentinel: its own session
// (setsid), stdin from /dev/null, output appended to a log file.
type ExecLauncher struct {
	Command []string
	Dir     string
	LogPath string
}

func (l *ExecLauncher) Spawn() (Handle, error) {
	if len(l.Command) == 0 {
		return nil, errors.New("no companion command configured (set SENTINEL_COMPANION_COMMAND)")
	}

	cmd := exec.Command(l.Command[0], l.Command[1:]...)
	cmd.Dir = l.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if l.LogPath != "" {
		logFile, err := os.OpenFile(l.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err == nil {
			cmd.Stdout = logFile
			cmd.Stderr = logFile
			defer logFile.Close()
		}
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to spawn companion: %w", err)
	}

	h := &execHandle{pid: cmd.Process.Pid, done: make(chan struct{})}
	// Reap the child so a premature exit is observable and never leaves a
	// zombie that would still answer a liveness probe.
	go func() {
		cmd.Wait()
		close(h.done)
	}()

	return h, nil
}

type execHandle struct {
	pid  int
	done chan struct{}
}

func (h *execHandle) Pid() int { return h.pid }

func (h *execHandle) IsAlive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}
