package testutil

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// LogBuffer collects log output. The bus loop, the hub and store writers
// log from their own goroutines, so reads and writes are locked.
type LogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// String returns everything logged so far.
func (b *LogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Contains reports whether any logged line contains fragment.
func (b *LogBuffer) Contains(fragment string) bool {
	return strings.Contains(b.String(), fragment)
}

// CaptureLogBuffer points the default slog logger at a fresh LogBuffer for
// the rest of the test and restores the previous logger in t.Cleanup.
func CaptureLogBuffer(t testing.TB, level slog.Level) *LogBuffer {
	t.Helper()
	previous := slog.Default()
	logBuf := &LogBuffer{}
	slog.SetDefault(slog.New(slog.NewTextHandler(logBuf, &slog.HandlerOptions{Level: level})))
	t.Cleanup(func() { slog.SetDefault(previous) })
	return logBuf
}
