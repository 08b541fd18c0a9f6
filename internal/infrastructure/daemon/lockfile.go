package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned when a live process already holds the lock.
var ErrLocked = errors.New("server is already running")

// Lockfile guarantees a single server per root or shm prefix. It is created
// exclusively and holds the owner's PID; a lock whose owner has exited is
// reclaimed.
type Lockfile struct {
	path   string
	file   *os.File
	locked bool
}

// NewLockfile creates a lock handle at path.
func NewLockfile(path string) *Lockfile {
	return &Lockfile{path: path}
}

// TryAcquire takes the lock or returns ErrLocked.
func (l *Lockfile) TryAcquire() error {
	if l.locked {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lockfile directory: %w", err)
	}

	file, err := l.create()
	if errors.Is(err, os.ErrExist) {
		stale, reason := l.checkStale()
		if !stale {
			return fmt.Errorf("%w: %s", ErrLocked, reason)
		}
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale lockfile (%s): %w", reason, err)
		}
		file, err = l.create()
	}
	if err != nil {
		return fmt.Errorf("failed to create lockfile: %w", err)
	}

	l.file = file
	l.locked = true
	if _, err := file.WriteString(strconv.Itoa(os.Getpid()) + "\n"); err != nil {
		l.Release()
		return fmt.Errorf("failed to write lockfile: %w", err)
	}
	return nil
}

func (l *Lockfile) create() (*os.File, error) {
	return os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
}

// checkStale reports whether the recorded owner is gone.
func (l *Lockfile) checkStale() (bool, string) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return true, "cannot read lockfile"
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return true, "invalid PID in lockfile"
	}
	if !processAlive(pid) {
		return true, fmt.Sprintf("process %d is gone", pid)
	}
	return false, fmt.Sprintf("process with PID %d holds %s", pid, l.path)
}

// processAlive checks pid with signal 0. EPERM means the process exists but
// belongs to someone else.
func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Release releases the lock
func (l *Lockfile) Release() error {
	if !l.locked {
		return nil
	}

	var errs []error
	if l.file != nil {
		errs = append(errs, l.file.Close())
		l.file = nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("failed to remove lockfile: %w", err))
	}
	l.locked = false
	return errors.Join(errs...)
}

// Locked returns true if the lock is held
func (l *Lockfile) Locked() bool {
	return l.locked
}

// Path returns the lockfile path
func (l *Lockfile) Path() string {
	return l.path
}
