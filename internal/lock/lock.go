// Package lock implements the process-wide single-instance guard of spec
// §4.10/§6.4: a serialized ProcessLock record written atomically to a single
// file, staleness defined as "the OS reports no process with this pid", and
// an fsnotify watch on the lock file's directory that reports when the lock
// file is removed externally. A stale lock is detected and removed only by
// Acquire.
package lock

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/domain"
)

// Lock guards a single lock file path. Acquire and Release serialize on an
// internal mutex, and the released flag makes Release idempotent.
type Lock struct {
	path   string
	logger *zap.Logger

	mu       sync.Mutex
	held     bool
	released bool
}

// New returns a Lock for the file at path.
func New(path string, logger *zap.Logger) *Lock {
	return &Lock{path: path, logger: logger}
}

// Acquire cleans up a stale lock file if present, then atomically creates a
// new one recording holder. Returns a *domain.Error of
// KindInstanceAlreadyRunning, carrying the live holder's metadata, if
// another instance currently holds the lock.
func (l *Lock) Acquire(holder domain.ProcessLock) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.cleanupStaleLocked(); err != nil {
		return err
	}

	payload, err := json.Marshal(holder)
	if err != nil {
		return domain.NewIOError("marshal lock record", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return domain.NewIOError("create lock directory", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			existing, readErr := l.readLocked()
			if readErr != nil {
				return domain.NewIOError("read existing lock file", readErr)
			}
			return domain.NewInstanceAlreadyRunningError(existing)
		}
		return domain.NewIOError("create lock file", err)
	}
	defer f.Close()

	if _, err := f.Write(payload); err != nil {
		return domain.NewIOError("write lock file", err)
	}

	l.held = true
	l.released = false
	l.logger.Info("acquired instance lock",
		zap.String("path", l.path), zap.Int("pid", holder.PID), zap.Int("port", holder.Port))
	return nil
}

// Release deletes the lock file. Safe to call more than once; only the
// first call after a successful Acquire does any I/O.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released || !l.held {
		return nil
	}
	l.released = true
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return domain.NewIOError("remove lock file", err)
	}
	l.logger.Info("released instance lock", zap.String("path", l.path))
	return nil
}

// cleanupStaleLocked removes the lock file if the recorded pid no longer
// exists. Must be called with l.mu held.
func (l *Lock) cleanupStaleLocked() error {
	existing, err := l.readLocked()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return domain.NewIOError("read lock file", err)
	}
	if isStale(existing.PID) {
		l.logger.Warn("removing stale instance lock",
			zap.String("path", l.path), zap.Int("stale_pid", existing.PID))
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return domain.NewIOError("remove stale lock file", err)
		}
	}
	return nil
}

func (l *Lock) readLocked() (domain.ProcessLock, error) {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return domain.ProcessLock{}, err
	}
	var rec domain.ProcessLock
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.ProcessLock{}, domain.NewIOError("parse lock file", err)
	}
	return rec, nil
}

// isStale reports whether pid is unknown to the OS, per spec §6.4's
// staleness definition. Sending signal 0 does not deliver a signal; it only
// checks deliverability.
func isStale(pid int) bool {
	if pid <= 0 {
		return true
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return true
	}
	err = proc.Signal(syscall.Signal(0))
	return err != nil
}

// Watch runs until ctx is cancelled, invoking onRemoved whenever the lock
// file is removed out from under this process (e.g. an operator manually
// clearing a stuck lock). It is best-effort observability, not part of the
// acquire/release contract.
func (l *Lock) Watch(ctx context.Context, onRemoved func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return domain.NewIOError("create lock file watcher", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		return domain.NewIOError("watch lock directory", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != l.path {
				continue
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				l.logger.Warn("lock file removed externally", zap.String("path", l.path))
				if onRemoved != nil {
					onRemoved()
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Error("lock file watcher error", zap.Error(err))
		}
	}
}
