// Package proc provides process liveness probing, PID-file primitives and
// the launcher abstraction used to spawn the companion process.
package proc

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/spf13/afero"
)

// Registry probes process liveness and reads/writes PID files. All file I/O
// goes through afero so tests can run against an in-memory filesystem.
type Registry struct {
	fs    afero.Fs
	alive func(pid int) bool
}

func NewRegistry(fs afero.Fs) *Registry {
	return &Registry{fs: fs, alive: pidExists}
}

// NewRegistryWithProbe builds a registry with a custom liveness probe.
// Used by tests to simulate processes dying without spawning real ones.
func NewRegistryWithProbe(fs afero.Fs, alive func(pid int) bool) *Registry {
	return &Registry{fs: fs, alive: alive}
}

func pidExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}

// IsAlive reports whether pid refers to a live process. Any probe error
// counts as dead; the caller never distinguishes "gone" from "inaccessible".
func (r *Registry) IsAlive(pid int) bool {
	return r.alive(pid)
}

// ReadAlivePid reads a PID file and returns the PID it names, or 0 when the
// file is missing, unparsable, or the process is no longer alive.
func (r *Registry) ReadAlivePid(path string) int {
	data, err := afero.ReadFile(r.fs, path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		slog.Debug("Ignoring unparsable PID file", "path", path)
		return 0
	}
	if !r.alive(pid) {
		return 0
	}
	return pid
}

// WritePIDFile writes pid to path. PID-file I/O is best effort; failures are
// logged and swallowed so callers never treat them as fatal.
func (r *Registry) WritePIDFile(path string, pid int) {
	if err := afero.WriteFile(r.fs, path, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		slog.Warn("Failed to write PID file", "path", path, "error", err)
	}
}

// RemovePIDFile removes path, ignoring a file that is already gone.
func (r *Registry) RemovePIDFile(path string) {
	if err := r.fs.Remove(path); err != nil {
		if exists, _ := afero.Exists(r.fs, path); exists {
			slog.Warn("Failed to remove PID file", "path", path, "error", err)
		}
	}
}
