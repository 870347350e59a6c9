//go:build windows

package singleinstance

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows"
)

// Lock owns a named mutex in the session namespace. The kernel drops it
// when the process exits, so a crashed overlay never blocks the next one.
type Lock struct {
	handle windows.Handle
}

// TryLock creates and owns the mutex name. Another owner in the same
// login session yields ErrAlreadyRunning.
func TryLock(name string) (*Lock, error) {
	if name == "" {
		return nil, errors.New("mutex name is required")
	}
	ptr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, fmt.Errorf("mutex name %q: %w", name, err)
	}
	handle, err := windows.CreateMutex(nil, true, ptr)
	switch {
	case err == nil:
		return &Lock{handle: handle}, nil
	case errors.Is(err, windows.ERROR_ALREADY_EXISTS):
		closeHandle(handle)
		return nil, ErrAlreadyRunning
	default:
		closeHandle(handle)
		return nil, fmt.Errorf("create mutex %q: %w", name, err)
	}
}

func closeHandle(h windows.Handle) {
	if h != 0 {
		_ = windows.CloseHandle(h)
	}
}

// Release closes the mutex. Safe on a nil receiver and idempotent.
func (l *Lock) Release() error {
	if l == nil || l.handle == 0 {
		return nil
	}
	h := l.handle
	l.handle = 0
	return windows.CloseHandle(h)
}

// DefaultName returns the mutex name for the current user. The overlay
// belongs to one desktop session, so the Local namespace is enough: fast
// user switching gives every signed-in user their own overlay.
func DefaultName() string {
	return `Local\` + lockPrefix + sanitizeUsername(currentUsername())
}
