package config

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"perfhud/internal/testutil"
)

func newConfigPathForSaveTest(t *testing.T, elems ...string) string {
	t.Helper()
	localAppData := t.TempDir()
	t.Setenv("LOCALAPPDATA", localAppData)
	t.Setenv("APPDATA", "")

	return filepath.Join(filepath.Dir(DefaultPath()), filepath.Join(elems...))
}

func writeConfig(t *testing.T, raw string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestPathWithinDir(t *testing.T) {
	baseDir := t.TempDir()
	configDir := filepath.Join(baseDir, "config")

	tests := []struct {
		name string
		path string
		dir  string
		want bool
	}{
		{name: "same path", path: configDir, dir: configDir, want: true},
		{name: "subdirectory path", path: filepath.Join(configDir, "sub", "config.yaml"), dir: configDir, want: true},
		{name: "traversal path", path: filepath.Join(configDir, "..", "outside.yaml"), dir: configDir, want: false},
		{name: "different path", path: filepath.Join(baseDir, "other", "config.yaml"), dir: configDir, want: false},
	}
	if runtime.GOOS == "windows" {
		tests = append(tests, struct {
			name string
			path string
			dir  string
			want bool
		}{name: "different drive", path: `D:\outside\config.yaml`, dir: `C:\inside`, want: false})
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pathWithinDir(tt.path, tt.dir); got != tt.want {
				t.Fatalf("pathWithinDir(%q, %q) = %v, want %v", tt.path, tt.dir, got, tt.want)
			}
		})
	}
}

func TestDefaultPathUsesLocalAppDataWhenAvailable(t *testing.T) {
	t.Setenv("LOCALAPPDATA", `C:\Users\tester\AppData\Local`)
	t.Setenv("APPDATA", "")

	want := filepath.Join(`C:\Users\tester\AppData\Local`, "perfhud", "config.yaml")
	if path := DefaultPath(); path != want {
		t.Fatalf("DefaultPath() = %q, want %q", path, want)
	}
}

func TestDefaultPathFallsBackToAppData(t *testing.T) {
	t.Setenv("LOCALAPPDATA", "")
	t.Setenv("APPDATA", `C:\Users\tester\AppData\Roaming`)

	want := filepath.Join(`C:\Users\tester\AppData\Roaming`, "perfhud", "config.yaml")
	if path := DefaultPath(); path != want {
		t.Fatalf("DefaultPath() = %q, want %q", path, want)
	}
}

func TestDefaultPathFallsBackToTempDirWhenHomeDirUnavailable(t *testing.T) {
	originalUserHomeDirFn := userHomeDirFn
	t.Cleanup(func() {
		userHomeDirFn = originalUserHomeDirFn
	})
	ConsumeDefaultPathWarnings()
	t.Cleanup(func() {
		ConsumeDefaultPathWarnings()
	})
	logBuf := testutil.CaptureLogBuffer(t, slog.LevelWarn)

	userHomeDirFn = func() (string, error) {
		return "", errors.New("simulated home dir resolution failure")
	}
	t.Setenv("LOCALAPPDATA", "")
	t.Setenv("APPDATA", "")

	want := filepath.Join(os.TempDir(), "perfhud", "config.yaml")
	if path := DefaultPath(); path != want {
		t.Fatalf("DefaultPath() = %q, want %q", path, want)
	}
	if !strings.Contains(logBuf.String(), "using temp dir as config path fallback") {
		t.Fatalf("log output = %q, want temp-dir fallback warning", logBuf.String())
	}
	warnings := ConsumeDefaultPathWarnings()
	if len(warnings) == 0 || !strings.Contains(warnings[0], "Config path fallback") {
		t.Fatalf("warnings = %v, want fallback message", warnings)
	}
}

func TestLoadMissingAndEmptyFileReturnDefaults(t *testing.T) {
	want := DefaultConfig()

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load(missing) error = %v", err)
	}
	if cfg != want {
		t.Fatalf("Load(missing) = %+v, want defaults", cfg)
	}

	cfg, err = Load(writeConfig(t, "\n  \n"))
	if err != nil {
		t.Fatalf("Load(empty) error = %v", err)
	}
	if cfg != want {
		t.Fatalf("Load(empty) = %+v, want defaults", cfg)
	}

	if _, err := Load(""); err == nil {
		t.Fatal("Load(\"\") expected error")
	}
}

func TestLoadReadsAllFields(t *testing.T) {
	path := writeConfig(t, `
user_id: " user-42 "
log_level: DEBUG
remote:
  mongo_uri: mongodb://127.0.0.1:27017
  database: profiles
  collection: hud
  timeout_ms: 2500
cache_path: /tmp/perfhud-cache.db
bridge:
  listen_addr: 127.0.0.1:0
toast:
  ttl_ms: 4000
  max_retained: 8
  max_visible: 4
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := Config{
		UserID:   "user-42",
		LogLevel: "debug",
		Remote: RemoteConfig{
			MongoURI:   "mongodb://127.0.0.1:27017",
			Database:   "profiles",
			Collection: "hud",
			TimeoutMS:  2500,
		},
		CachePath: "/tmp/perfhud-cache.db",
		Bridge:    BridgeConfig{ListenAddr: "127.0.0.1:0"},
		Toast:     ToastConfig{TTLMS: 4000, MaxRetained: 8, MaxVisible: 4},
	}
	if cfg != want {
		t.Fatalf("Load() = %+v, want %+v", cfg, want)
	}
	if !cfg.Remote.Enabled() || cfg.Remote.Timeout() != 2500*time.Millisecond {
		t.Fatalf("remote enabled/timeout = %v/%s", cfg.Remote.Enabled(), cfg.Remote.Timeout())
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Fatalf("SlogLevel() = %s, want DEBUG", cfg.SlogLevel())
	}
	if cfg.Toast.TTL() != 4*time.Second {
		t.Fatalf("Toast.TTL() = %s", cfg.Toast.TTL())
	}
}

func TestLoadRepairsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		check func(t *testing.T, cfg Config)
	}{
		{
			name: "log level",
			raw:  "log_level: chatty\n",
			check: func(t *testing.T, cfg Config) {
				if cfg.LogLevel != "info" {
					t.Fatalf("LogLevel = %q, want info", cfg.LogLevel)
				}
			},
		},
		{
			name: "negative timeout",
			raw:  "remote:\n  timeout_ms: -5\n",
			check: func(t *testing.T, cfg Config) {
				if cfg.Remote.TimeoutMS != DefaultRemoteTimeoutMS {
					t.Fatalf("TimeoutMS = %d", cfg.Remote.TimeoutMS)
				}
			},
		},
		{
			name: "blank database and collection",
			raw:  "remote:\n  database: \" \"\n  collection: \"\"\n",
			check: func(t *testing.T, cfg Config) {
				if cfg.Remote.Database != DefaultDatabase || cfg.Remote.Collection != DefaultCollection {
					t.Fatalf("remote = %+v", cfg.Remote)
				}
			},
		},
		{
			name: "non-loopback listen addr",
			raw:  "bridge:\n  listen_addr: 0.0.0.0:47654\n",
			check: func(t *testing.T, cfg Config) {
				if cfg.Bridge.ListenAddr != DefaultListenAddr {
					t.Fatalf("ListenAddr = %q", cfg.Bridge.ListenAddr)
				}
			},
		},
		{
			name: "malformed listen addr",
			raw:  "bridge:\n  listen_addr: nonsense\n",
			check: func(t *testing.T, cfg Config) {
				if cfg.Bridge.ListenAddr != DefaultListenAddr {
					t.Fatalf("ListenAddr = %q", cfg.Bridge.ListenAddr)
				}
			},
		},
		{
			name: "localhost listen addr kept",
			raw:  "bridge:\n  listen_addr: localhost:9000\n",
			check: func(t *testing.T, cfg Config) {
				if cfg.Bridge.ListenAddr != "localhost:9000" {
					t.Fatalf("ListenAddr = %q", cfg.Bridge.ListenAddr)
				}
			},
		},
		{
			name: "visible above retained",
			raw:  "toast:\n  max_retained: 2\n  max_visible: 6\n  ttl_ms: 0\n",
			check: func(t *testing.T, cfg Config) {
				if cfg.Toast.MaxVisible != 2 || cfg.Toast.TTLMS != DefaultToastTTLMS {
					t.Fatalf("toast = %+v", cfg.Toast)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testutil.CaptureLogBuffer(t, slog.LevelWarn)
			cfg, err := Load(writeConfig(t, tt.raw))
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestLoadIgnoresUnknownFields(t *testing.T) {
	cfg, err := Load(writeConfig(t, "user_id: u1\nshell: cmd.exe\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.UserID != "u1" {
		t.Fatalf("UserID = %q", cfg.UserID)
	}
}

func TestLoadReturnsDefaultsOnParseError(t *testing.T) {
	cfg, err := Load(writeConfig(t, "toast: ["))
	if err == nil {
		t.Fatal("Load() expected parse error")
	}
	if cfg != DefaultConfig() {
		t.Fatalf("Load() = %+v, want defaults", cfg)
	}
}

func TestReadLimitedFileRejectsTooLargeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.yaml")
	if err := os.WriteFile(path, bytes.Repeat([]byte("a"), 11), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := readLimitedFile(path, 10); err == nil {
		t.Fatal("readLimitedFile() expected size error")
	}
	if _, err := readLimitedFile(path, 11); err != nil {
		t.Fatalf("readLimitedFile() at exact limit error = %v", err)
	}
}

func TestResolvedCachePath(t *testing.T) {
	cfgPath := filepath.Join("base", "perfhud", "config.yaml")
	if got := (Config{}).ResolvedCachePath(cfgPath); got != filepath.Join("base", "perfhud", "cache.db") {
		t.Fatalf("ResolvedCachePath() = %q", got)
	}
	if got := (Config{CachePath: "/x/y.db"}).ResolvedCachePath(cfgPath); got != "/x/y.db" {
		t.Fatalf("ResolvedCachePath() = %q", got)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := newConfigPathForSaveTest(t, "config.yaml")
	cfg := DefaultConfig()
	cfg.UserID = "user-7"
	cfg.Remote.MongoURI = "mongodb://localhost"

	saved, err := Save(path, cfg)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded != saved {
		t.Fatalf("Load() = %+v, want %+v", loaded, saved)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp.") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestSaveRejectsPathOutsideConfigDir(t *testing.T) {
	newConfigPathForSaveTest(t, "config.yaml")
	outside := filepath.Join(t.TempDir(), "config.yaml")
	if _, err := Save(outside, DefaultConfig()); err == nil {
		t.Fatal("Save() expected error for path outside config dir")
	}
	if _, err := Save(" ", DefaultConfig()); err == nil {
		t.Fatal("Save() expected error for blank path")
	}
}

func TestValidateConfigPathReturnsErrorWhenDefaultConfigDirResolutionFails(t *testing.T) {
	original := defaultConfigDirFn
	t.Cleanup(func() { defaultConfigDirFn = original })
	defaultConfigDirFn = func() (string, error) {
		return "", errors.New("simulated failure")
	}

	if _, err := validateConfigPath(filepath.Join(t.TempDir(), "config.yaml")); err == nil {
		t.Fatal("validateConfigPath() expected error")
	}
}

func TestEnsureFileCreatesConfigFile(t *testing.T) {
	path := newConfigPathForSaveTest(t, "config.yaml")

	if _, err := EnsureFile(path); err != nil {
		t.Fatalf("EnsureFile() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat config: %v", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o077 != 0 {
		t.Fatalf("config file permissions = %o, want owner-only", info.Mode().Perm())
	}
}

func TestEnsureFileUsesExistingConfigFile(t *testing.T) {
	path := newConfigPathForSaveTest(t, "config.yaml")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("user_id: keep-me\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := EnsureFile(path)
	if err != nil {
		t.Fatalf("EnsureFile() error = %v", err)
	}
	if cfg.UserID != "keep-me" {
		t.Fatalf("UserID = %q", cfg.UserID)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != "user_id: keep-me\n" {
		t.Fatalf("existing config was rewritten: %q", raw)
	}
}

func TestWatchReloadsOnSave(t *testing.T) {
	path := newConfigPathForSaveTest(t, "config.yaml")
	if _, err := EnsureFile(path); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	var (
		mu     sync.Mutex
		latest *Config
	)
	err := Watch(ctx, path, func(cfg Config) {
		mu.Lock()
		latest = &cfg
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	cfg := DefaultConfig()
	cfg.LogLevel = "debug"
	if _, err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	testutil.WaitFor(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return latest != nil && latest.LogLevel == "debug"
	})
}

func TestWatchRejectsMissingDirectory(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope", "config.yaml")
	if err := Watch(context.Background(), missing, func(Config) {}); err == nil {
		t.Fatal("Watch() expected error for missing directory")
	}
}
