// Package lock guards the credential-store directory so only one gateway
// process drives a given WhatsApp session at a time.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// HeldError is returned when another process holds the gateway lock.
type HeldError struct {
	PID  int
	Path string
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("gateway lock held by PID %d (%s)", e.PID, e.Path)
}

// Lock represents an acquired gateway lock file.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes an exclusive lock on the credential-store directory.
// Returns HeldError if another process already holds it.
func Acquire(authDir string) (*Lock, error) {
	lockPath := filepath.Join(authDir, "LOCK")

	if err := os.MkdirAll(authDir, 0700); err != nil {
		return nil, fmt.Errorf("create auth dir: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		data, _ := os.ReadFile(lockPath)
		pid := parsePID(string(data))
		_ = f.Close()
		return nil, &HeldError{PID: pid, Path: lockPath}
	}

	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, 0); err != nil {
		_ = f.Close()
		return nil, err
	}
	content := fmt.Sprintf("pid=%d\ntime=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &Lock{file: f, path: lockPath}, nil
}

// Release releases the lock. Safe to call on nil receiver, and idempotent.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove the lock file before closing to avoid stale files.
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

// ClearStale removes a lock artifact left behind by a crashed process.
// Best effort: errors are swallowed, and a lock owned by a live process
// is left alone.
func ClearStale(authDir string) {
	lockPath := filepath.Join(authDir, "LOCK")
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return
	}
	if pid := parsePID(string(data)); pid > 0 && processAlive(pid) {
		return
	}
	_ = os.Remove(lockPath)
}

func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

func parsePID(content string) int {
	for _, line := range strings.Split(content, "\n") {
		if after, ok := strings.CutPrefix(line, "pid="); ok {
			pid, _ := strconv.Atoi(after)
			return pid
		}
	}
	return 0
}
