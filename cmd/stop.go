package cmd

import (
	"fmt"
	"io"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"go.olrik.dev/sentinel/internal/core"
	"go.olrik.dev/sentinel/internal/proc"
)

// runStop signals a running sentinel and waits for it to exit. An instance
// that ignores SIGTERM for too long gets SIGKILL. Stopping when nothing is
// running is a no-op, not an error.
func runStop(w io.Writer, settings *core.Settings) error {
	registry := proc.NewRegistry(afero.NewOsFs())

	pid := registry.ReadAlivePid(settings.PIDFilePath())
	if pid == 0 {
		fmt.Fprintln(w, "No sentinel instance is running.")
		return nil
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal sentinel %d: %w", pid, err)
	}
	fmt.Fprintf(w, "Stopping sentinel (pid %d)...\n", pid)

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if !registry.IsAlive(pid) {
			fmt.Fprintln(w, "Sentinel stopped.")
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	fmt.Fprintln(w, "Sentinel did not stop in time, sending SIGKILL.")
	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill sentinel %d: %w", pid, err)
	}
	registry.RemovePIDFile(settings.PIDFilePath())
	return nil
}
