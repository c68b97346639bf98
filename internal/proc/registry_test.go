package proc

import (
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func TestIsAlive_SelfAndInvalid(t *testing.T) {
	r := NewRegistry(afero.NewMemMapFs())

	if !r.IsAlive(os.Getpid()) {
		t.Error("expected current process to be alive")
	}
	if r.IsAlive(0) {
		t.Error("expected PID 0 to be dead")
	}
	if r.IsAlive(-1) {
		t.Error("expected negative PID to be dead")
	}
}

func TestIsAlive_DeadProcess(t *testing.T) {
	// Start and immediately kill a process to get a dead PID
	cmd := exec.Command("sleep", "60")
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start process: %v", err)
	}
	pid := cmd.Process.Pid
	cmd.Process.Kill()
	cmd.Wait()

	r := NewRegistry(afero.NewMemMapFs())
	if r.IsAlive(pid) {
		t.Error("expected killed process to be dead")
	}
}

func TestReadAlivePid(t *testing.T) {
	fs := afero.NewMemMapFs()
	alive := map[int]bool{100: true, 200: false}
	r := NewRegistryWithProbe(fs, func(pid int) bool { return alive[pid] })

	// Missing file
	if pid := r.ReadAlivePid("/run/missing.pid"); pid != 0 {
		t.Errorf("expected 0 for missing file, got %d", pid)
	}

	// Unparsable content
	afero.WriteFile(fs, "/run/garbage.pid", []byte("not-a-pid"), 0o644)
	if pid := r.ReadAlivePid("/run/garbage.pid"); pid != 0 {
		t.Errorf("expected 0 for garbage file, got %d", pid)
	}

	// Dead PID
	r.WritePIDFile("/run/dead.pid", 200)
	if pid := r.ReadAlivePid("/run/dead.pid"); pid != 0 {
		t.Errorf("expected 0 for dead PID, got %d", pid)
	}

	// Live PID, with surrounding whitespace tolerated
	afero.WriteFile(fs, "/run/live.pid", []byte(" 100\n"), 0o644)
	if pid := r.ReadAlivePid("/run/live.pid"); pid != 100 {
		t.Errorf("expected 100, got %d", pid)
	}
}

func TestWriteRemovePIDFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := NewRegistryWithProbe(fs, func(int) bool { return true })

	r.WritePIDFile("/run/sentinel.pid", 1234)
	if pid := r.ReadAlivePid("/run/sentinel.pid"); pid != 1234 {
		t.Errorf("expected 1234, got %d", pid)
	}

	r.RemovePIDFile("/run/sentinel.pid")
	if pid := r.ReadAlivePid("/run/sentinel.pid"); pid != 0 {
		t.Errorf("expected 0 after removal, got %d", pid)
	}

	// Removing again is a no-op
	r.RemovePIDFile("/run/sentinel.pid")
}

func TestExecLauncher_SpawnAndExit(t *testing.T) {
	l := &ExecLauncher{Command: []string{"sleep", "30"}}
	h, err := l.Spawn()
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	if h.Pid() <= 0 {
		t.Fatalf("expected positive PID, got %d", h.Pid())
	}
	if !h.IsAlive() {
		t.Error("expected spawned process to be alive")
	}

	proc, err := os.FindProcess(h.Pid())
	if err != nil {
		t.Fatalf("FindProcess failed: %v", err)
	}
	proc.Kill()

	// The reaper goroutine flips IsAlive once the child is waited on.
	deadline := time.After(5 * time.Second)
	for h.IsAlive() {
		select {
		case <-deadline:
			t.Fatal("process still reported alive after kill")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestExecLauncher_NoCommand(t *testing.T) {
	l := &ExecLauncher{}
	if _, err := l.Spawn(); err == nil {
		t.Error("expected error for empty command")
	}
}

func TestExecLauncher_BadBinary(t *testing.T) {
	l := &ExecLauncher{Command: []string{"/nonexistent/binary"}}
	if _, err := l.Spawn(); err == nil {
		t.Error("expected error for nonexistent binary")
	}
}
