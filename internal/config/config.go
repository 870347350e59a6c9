package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.yaml.in/yaml/v3"
)

const (
	maxConfigFileBytes int64 = 1 << 20 // 1MB
	maxRenameRetry           = 10
	// Windows file lock releases (antivirus/indexing) typically settle quickly.
	renameRetryBaseDelay = 10 * time.Millisecond

	appDirName = "perfhud"

	DefaultListenAddr       = "127.0.0.1:47654"
	DefaultDatabase         = "perfhud"
	DefaultCollection       = "overlay_settings"
	DefaultRemoteTimeoutMS  = 5000
	DefaultToastTTLMS       = 5000
	DefaultToastMaxRetained = 5
	DefaultToastMaxVisible  = 3
)

// defaultConfigDirFn is a test seam for validateConfigPath.
var defaultConfigDirFn = defaultConfigDir
var userHomeDirFn = os.UserHomeDir

var defaultPathWarningState struct {
	mu       sync.Mutex
	messages []string
}

func recordDefaultPathWarning(message string) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return
	}
	defaultPathWarningState.mu.Lock()
	defaultPathWarningState.messages = append(defaultPathWarningState.messages, trimmed)
	defaultPathWarningState.mu.Unlock()
}

// ConsumeDefaultPathWarnings returns and clears path-resolution warnings
// accumulated during DefaultPath() calls.
func ConsumeDefaultPathWarnings() []string {
	defaultPathWarningState.mu.Lock()
	defer defaultPathWarningState.mu.Unlock()
	if len(defaultPathWarningState.messages) == 0 {
		return nil
	}
	out := make([]string, len(defaultPathWarningState.messages))
	copy(out, defaultPathWarningState.messages)
	defaultPathWarningState.messages = nil
	return out
}

// Config is the overlay core's runtime configuration. Display settings are
// not here: they belong to the user profile and live in the store.
type Config struct {
	// UserID selects the remote profile record. Empty disables the remote
	// store; settings then come from the local cache or defaults.
	UserID   string       `yaml:"user_id" json:"user_id"`
	LogLevel string       `yaml:"log_level" json:"log_level"`
	Remote   RemoteConfig `yaml:"remote" json:"remote"`
	// CachePath is the SQLite cache file. Empty means cache.db next to the
	// config file.
	CachePath string       `yaml:"cache_path,omitempty" json:"cache_path,omitempty"`
	Bridge    BridgeConfig `yaml:"bridge" json:"bridge"`
	Toast     ToastConfig  `yaml:"toast" json:"toast"`
}

// RemoteConfig locates the remote profile store. An empty MongoURI disables it.
type RemoteConfig struct {
	MongoURI   string `yaml:"mongo_uri" json:"mongo_uri"`
	Database   string `yaml:"database" json:"database"`
	Collection string `yaml:"collection" json:"collection"`
	TimeoutMS  int    `yaml:"timeout_ms" json:"timeout_ms"`
}

// Enabled reports whether a remote store is configured.
func (r RemoteConfig) Enabled() bool { return strings.TrimSpace(r.MongoURI) != "" }

// Timeout returns TimeoutMS as a duration.
func (r RemoteConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutMS) * time.Millisecond
}

// BridgeConfig configures the host endpoint.
type BridgeConfig struct {
	// ListenAddr must be a loopback address. The host process dials it.
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
}

// ToastConfig bounds the notification queue.
type ToastConfig struct {
	TTLMS       int `yaml:"ttl_ms" json:"ttl_ms"`
	MaxRetained int `yaml:"max_retained" json:"max_retained"`
	MaxVisible  int `yaml:"max_visible" json:"max_visible"`
}

// TTL returns TTLMS as a duration.
func (t ToastConfig) TTL() time.Duration {
	return time.Duration(t.TTLMS) * time.Millisecond
}

// DefaultConfig returns default values.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Remote: RemoteConfig{
			Database:   DefaultDatabase,
			Collection: DefaultCollection,
			TimeoutMS:  DefaultRemoteTimeoutMS,
		},
		Bridge: BridgeConfig{ListenAddr: DefaultListenAddr},
		Toast: ToastConfig{
			TTLMS:       DefaultToastTTLMS,
			MaxRetained: DefaultToastMaxRetained,
			MaxVisible:  DefaultToastMaxVisible,
		},
	}
}

// DefaultPath resolves the config file path, preferring LOCALAPPDATA over
// APPDATA, falling back to ~/.config when both are unset, and then to
// os.TempDir() if the home directory cannot be resolved.
func DefaultPath() string {
	base := strings.TrimSpace(os.Getenv("LOCALAPPDATA"))
	if base == "" {
		base = strings.TrimSpace(os.Getenv("APPDATA"))
	}
	if base == "" {
		home, err := userHomeDirFn()
		if err != nil {
			slog.Warn("[WARN-CONFIG] using temp dir as config path fallback", "error", err)
			recordDefaultPathWarning(
				"Config path fallback: failed to resolve LOCALAPPDATA/APPDATA/home directory. Using temp directory; settings persistence may be limited.",
			)
			base = os.TempDir()
		} else {
			base = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(base, appDirName, "config.yaml")
}

// ResolvedCachePath returns the cache file for a config loaded from
// configPath.
func (c Config) ResolvedCachePath(configPath string) string {
	if p := strings.TrimSpace(c.CachePath); p != "" {
		return p
	}
	return filepath.Join(filepath.Dir(configPath), "cache.db")
}

// SlogLevel parses LogLevel. Load and Save have already normalised it, so
// the fallback only covers hand-built values.
func (c Config) SlogLevel() slog.Level {
	level, err := parseLogLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

// Load reads the config file. A missing or empty file yields defaults.
// Invalid individual values are replaced by defaults with a warning; only
// unreadable or unparsable files are errors.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, errors.New("config path required")
	}

	raw, err := readLimitedFile(path, maxConfigFileBytes)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		slog.Warn("[WARN-CONFIG] failed to parse config, using defaults", "path", path, "error", err)
		return DefaultConfig(), err
	}
	applyDefaultsAndValidate(&cfg)
	return cfg, nil
}

// EnsureFile writes the default config if missing and returns the loaded
// config.
func EnsureFile(path string) (Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		if _, err := Save(path, cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// Save normalises cfg and atomically writes it to path. Returns the config
// that was actually written.
func Save(path string, cfg Config) (Config, error) {
	normalizedPath, err := validateConfigPath(path)
	if err != nil {
		return cfg, err
	}
	applyDefaultsAndValidate(&cfg)

	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return cfg, fmt.Errorf("save config: marshal: %w", err)
	}
	if err := atomicWrite(normalizedPath, raw); err != nil {
		return cfg, err
	}
	slog.Debug("[DEBUG-CONFIG] config saved", "path", path)
	return cfg, nil
}

// applyDefaultsAndValidate repairs cfg in place. It never fails: every bad
// value is logged and replaced by its default.
func applyDefaultsAndValidate(cfg *Config) {
	defaults := DefaultConfig()

	cfg.UserID = strings.TrimSpace(cfg.UserID)

	if _, err := parseLogLevel(cfg.LogLevel); err != nil {
		if strings.TrimSpace(cfg.LogLevel) != "" {
			slog.Warn("[WARN-CONFIG] invalid log_level, using default", "value", cfg.LogLevel)
		}
		cfg.LogLevel = defaults.LogLevel
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	cfg.Remote.MongoURI = strings.TrimSpace(cfg.Remote.MongoURI)
	if strings.TrimSpace(cfg.Remote.Database) == "" {
		cfg.Remote.Database = defaults.Remote.Database
	}
	if strings.TrimSpace(cfg.Remote.Collection) == "" {
		cfg.Remote.Collection = defaults.Remote.Collection
	}
	if cfg.Remote.TimeoutMS <= 0 {
		if cfg.Remote.TimeoutMS < 0 {
			slog.Warn("[WARN-CONFIG] invalid remote.timeout_ms, using default", "value", cfg.Remote.TimeoutMS)
		}
		cfg.Remote.TimeoutMS = defaults.Remote.TimeoutMS
	}

	validateListenAddr(cfg)
	validateToast(cfg)
}

func parseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}

// validateListenAddr keeps the host endpoint on loopback.
func validateListenAddr(cfg *Config) {
	addr := strings.TrimSpace(cfg.Bridge.ListenAddr)
	if addr == "" {
		cfg.Bridge.ListenAddr = DefaultListenAddr
		return
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		slog.Warn("[WARN-CONFIG] invalid bridge.listen_addr, using default", "value", addr, "error", err)
		cfg.Bridge.ListenAddr = DefaultListenAddr
		return
	}
	if host != "localhost" {
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			slog.Warn("[WARN-CONFIG] bridge.listen_addr must be loopback, using default", "value", addr)
			cfg.Bridge.ListenAddr = DefaultListenAddr
			return
		}
	}
	cfg.Bridge.ListenAddr = addr
}

func validateToast(cfg *Config) {
	defaults := DefaultConfig().Toast
	if cfg.Toast.TTLMS <= 0 {
		cfg.Toast.TTLMS = defaults.TTLMS
	}
	if cfg.Toast.MaxRetained <= 0 {
		cfg.Toast.MaxRetained = defaults.MaxRetained
	}
	if cfg.Toast.MaxVisible <= 0 {
		cfg.Toast.MaxVisible = defaults.MaxVisible
	}
	if cfg.Toast.MaxVisible > cfg.Toast.MaxRetained {
		slog.Warn("[WARN-CONFIG] toast.max_visible exceeds max_retained, clamping",
			"maxVisible", cfg.Toast.MaxVisible, "maxRetained", cfg.Toast.MaxRetained)
		cfg.Toast.MaxVisible = cfg.Toast.MaxRetained
	}
}

// atomicWrite writes config data using temp-file + rename to avoid partial
// writes and retries rename on Windows to tolerate transient file locks.
func atomicWrite(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("save config: mkdir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".config.yaml.tmp.*")
	if err != nil {
		return fmt.Errorf("save config: create temp: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpFile != nil {
			if closeErr := tmpFile.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
				slog.Warn("[WARN-CONFIG] failed to close temp file", "path", tmpPath, "error", closeErr)
			}
		}
		if err != nil {
			if removeErr := os.Remove(tmpPath); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
				slog.Warn("[WARN-CONFIG] failed to remove temp file", "path", tmpPath, "error", removeErr)
			}
		}
	}()

	if err = tmpFile.Chmod(0o600); err != nil {
		return fmt.Errorf("save config: chmod temp: %w", err)
	}
	if _, err = tmpFile.Write(data); err != nil {
		return fmt.Errorf("save config: write: %w", err)
	}
	if err = tmpFile.Sync(); err != nil {
		return fmt.Errorf("save config: sync: %w", err)
	}
	err = tmpFile.Close()
	tmpFile = nil
	if err != nil {
		return fmt.Errorf("save config: close: %w", err)
	}

	if err = renameFileWithRetry(tmpPath, path); err != nil {
		return fmt.Errorf("save config: rename: %w", err)
	}
	return nil
}

// validateConfigPath normalizes path and keeps config writes inside the
// default config directory.
func validateConfigPath(path string) (string, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return "", errors.New("config path required")
	}
	absolutePath, err := filepath.Abs(trimmedPath)
	if err != nil {
		return "", fmt.Errorf("save config: resolve path: %w", err)
	}

	expectedDir, err := defaultConfigDirFn()
	if err != nil {
		return "", fmt.Errorf("save config: resolve config dir: %w", err)
	}
	absoluteExpectedDir, err := filepath.Abs(expectedDir)
	if err != nil {
		return "", fmt.Errorf("save config: resolve config dir: %w", err)
	}
	if !pathWithinDir(absolutePath, absoluteExpectedDir) {
		return "", fmt.Errorf("save config: path outside config directory: %q", absolutePath)
	}
	return absolutePath, nil
}

func defaultConfigDir() (string, error) {
	return filepath.Dir(DefaultPath()), nil
}

// pathWithinDir blocks directory traversal by ensuring path is under dir.
// It also rejects Windows cross-drive escapes because filepath.Rel returns
// an absolute path when roots differ.
func pathWithinDir(path string, dir string) bool {
	relativePath, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	if relativePath == "." {
		return true
	}
	if relativePath == ".." || strings.HasPrefix(relativePath, ".."+string(os.PathSeparator)) {
		return false
	}
	return !filepath.IsAbs(relativePath)
}

func readLimitedFile(path string, maxBytes int64) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	limited := io.LimitReader(file, maxBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > maxBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", maxBytes)
	}
	return raw, nil
}

func renameFileWithRetry(sourcePath string, targetPath string) error {
	var lastErr error
	for attempt := range maxRenameRetry {
		err := os.Rename(sourcePath, targetPath)
		if err == nil {
			return nil
		}
		lastErr = err
		if runtime.GOOS != "windows" {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * renameRetryBaseDelay)
	}
	return lastErr
}
