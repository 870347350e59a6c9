// Package singleinstance keeps one overlay core running per user.
package singleinstance

import (
	"errors"
	"os"
	"os/user"
	"regexp"
	"strings"
)

// ErrAlreadyRunning is returned by TryLock when another instance holds the lock.
var ErrAlreadyRunning = errors.New("another instance is already running")

const lockPrefix = "perfhud-"

var invalidUsernameRune = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// sanitizeUsername makes a username safe for mutex and file names.
func sanitizeUsername(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return invalidUsernameRune.ReplaceAllString(value, "_")
}

func currentUsername() string {
	for _, key := range []string{"USERNAME", "USER"} {
		if name := strings.TrimSpace(os.Getenv(key)); name != "" {
			return name
		}
	}
	if current, err := user.Current(); err == nil {
		return current.Username
	}
	return ""
}
