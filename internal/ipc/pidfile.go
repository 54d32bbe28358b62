package ipc

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultPIDFilePath is the well-known PID file written next to the socket,
// used as a startup hint only — the live Ping probe is authoritative.
const DefaultPIDFilePath = "./shortlinker.pid"

// ErrInstanceRunning is returned by EnsureSingleInstance when a live server
// already owns the control-channel endpoint.
var ErrInstanceRunning = errors.New("ipc: another instance is already running")

// EnsureSingleInstance enforces the one-process-per-host rule: it probes
// the control channel with a Ping and, if a live instance answers, returns
// ErrInstanceRunning without touching the existing socket or PID file. If
// nothing answers, it returns nil without reading or removing any leftover
// PID file, and the caller may proceed to bind (Listen removes the stale
// socket itself).
func EnsureSingleInstance(socketPath, pidPath string, timeout time.Duration) error {
	alive, err := Probe(socketPath, timeout)
	if err != nil {
		return fmt.Errorf("ipc: probe existing instance: %w", err)
	}
	if alive {
		if pid, ok := ReadPIDFile(pidPath); ok {
			return fmt.Errorf("%w (pid %d)", ErrInstanceRunning, pid)
		}
		return ErrInstanceRunning
	}
	return nil
}

// WritePIDFile records this process's PID as ASCII at path.
func WritePIDFile(path string) error {
	if path == "" {
		path = DefaultPIDFilePath
	}
	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(path, []byte(pid), 0o644); err != nil {
		return fmt.Errorf("ipc: write pid file %s: %w", path, err)
	}
	return nil
}

// RemovePIDFile deletes the PID file; a missing file is not an error.
func RemovePIDFile(path string) error {
	if path == "" {
		path = DefaultPIDFilePath
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ipc: remove pid file %s: %w", path, err)
	}
	return nil
}

// ReadPIDFile parses the PID recorded at path, reporting ok=false when the
// file is absent or does not hold a number.
func ReadPIDFile(path string) (int, bool) {
	if path == "" {
		path = DefaultPIDFilePath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}
