//go:build unix

package singleinstance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// Lock holds an exclusive flock on a lock file. The kernel drops it when
// the process exits.
type Lock struct {
	file *os.File
}

// TryLock takes an exclusive, non-blocking flock on the file at name,
// creating it if needed.
func TryLock(name string) (*Lock, error) {
	if name == "" {
		return nil, errors.New("lock path is required")
	}
	file, err := os.OpenFile(name, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file %q: %w", name, err)
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrAlreadyRunning
		}
		return nil, fmt.Errorf("flock %q: %w", name, err)
	}
	if err := file.Truncate(0); err == nil {
		_, _ = file.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	}
	return &Lock{file: file}, nil
}

// Release unlocks and closes the lock file. Safe on a nil receiver and
// idempotent. The file itself is left in place.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	unlockErr := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	return errors.Join(unlockErr, closeErr)
}

// DefaultName returns the per-user lock file path.
func DefaultName() string {
	return filepath.Join(os.TempDir(), lockPrefix+sanitizeUsername(currentUsername())+".lock")
}
