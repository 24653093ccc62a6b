package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ex-mimic/internal/archive"
	"ex-mimic/internal/driver"
	"ex-mimic/internal/mimic"
)

func writeConfigFile(t *testing.T, path string, contents string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatalf("create config dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    slog.Level
		wantErr bool
	}{
		{name: "debug", input: "debug", want: slog.LevelDebug},
		{name: "info", input: "info", want: slog.LevelInfo},
		{name: "warn", input: "warn", want: slog.LevelWarn},
		{name: "warning", input: "WARNING", want: slog.LevelWarn},
		{name: "error", input: " error ", want: slog.LevelError},
		{name: "invalid", input: "trace", wantErr: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got, err := parseLogLevel(testCase.input)
			if testCase.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != testCase.want {
				t.Fatalf("level = %v, want %v", got, testCase.want)
			}
		})
	}
}

const fullConfig = `
log_level: warn
kernel:
  module_hook_timeout: 7s
  shutdown_timeout: 15s
  handler_timeout: 2s
  subscription_buffer: 64
  subscription_workers: 5
drivers:
  - name: tg-main
    type: telegram
    config:
      app_id: 123456
      app_hash_env: TG_APP_HASH
      session_file: state/telegram/session.json
  - name: tg-spare
    type: telegram
    enabled: false
    config:
      app_id: 1
echo:
  owner_id: "777"
  cap: 100
  snapshot_interval: 6h
  word_delay: 50ms
  max_typing_delay: 2s
  max_continuations: 10
  proc:
    min: 2
    max: 5
    out_of: 30
  mutators: [append_emote, misgendering]
  restore_on_start: true
  snapshot_on_shutdown: true
  message_workers: 8
  message_timeout: 1m
archive:
  type: s3
  s3:
    bucket: mimic-snapshots
    prefix: /prod/
    region: eu-west-1
    endpoint: http://localhost:9000
    path_style: true
    access_key_env: S3_KEY
    secret_key_env: S3_SECRET
admin:
  listen: 127.0.0.1:8080
`

func TestLoadConfigReadsEverySection(t *testing.T) {
	t.Setenv(envConfigFile, "")
	configPath := filepath.Join(t.TempDir(), "mimic.yaml")
	writeConfigFile(t, configPath, fullConfig)

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatalf("load config failed: %v", err)
	}
	if resolved != configPath {
		t.Fatalf("resolved = %q, want %q", resolved, configPath)
	}

	if cfg.logLevel != slog.LevelWarn {
		t.Fatalf("log level = %v, want %v", cfg.logLevel, slog.LevelWarn)
	}
	if cfg.moduleHookTimeout != 7*time.Second || cfg.shutdownTimeout != 15*time.Second || cfg.handlerTimeout != 2*time.Second {
		t.Fatalf("kernel timeouts = %s %s %s", cfg.moduleHookTimeout, cfg.shutdownTimeout, cfg.handlerTimeout)
	}
	if cfg.subscriptionBuffer != 64 || cfg.subscriptionWorkers != 5 {
		t.Fatalf("subscription = %d/%d, want 64/5", cfg.subscriptionBuffer, cfg.subscriptionWorkers)
	}

	if len(cfg.drivers) != 2 {
		t.Fatalf("drivers = %d, want 2", len(cfg.drivers))
	}
	if !cfg.drivers[0].Enabled || cfg.drivers[1].Enabled {
		t.Fatalf("driver enabled flags = %v %v", cfg.drivers[0].Enabled, cfg.drivers[1].Enabled)
	}
	if !strings.Contains(string(cfg.drivers[0].Config), "app_hash_env: TG_APP_HASH") {
		t.Fatalf("driver config = %q", cfg.drivers[0].Config)
	}

	echoCfg := cfg.echo
	if echoCfg.mimic.Owner != "777" {
		t.Fatalf("owner = %q, want 777", echoCfg.mimic.Owner)
	}
	if echoCfg.mimic.Scope.Eviction.Cap != 100 || echoCfg.mimic.Scope.Eviction.WindowStart != 45 {
		t.Fatalf("eviction = %+v, want cap 100 window 45", echoCfg.mimic.Scope.Eviction)
	}
	if echoCfg.mimic.SnapshotInterval != 6*time.Hour || echoCfg.mimic.WordDelay != 50*time.Millisecond {
		t.Fatalf("intervals = %s %s", echoCfg.mimic.SnapshotInterval, echoCfg.mimic.WordDelay)
	}
	if echoCfg.mimic.Scope.Proc.Min != 2 || echoCfg.mimic.Scope.Proc.Max != 5 || echoCfg.mimic.Scope.Proc.OutOf != 30 {
		t.Fatalf("proc = %+v", echoCfg.mimic.Scope.Proc)
	}
	if len(echoCfg.mimic.Scope.Mutators) != 2 || echoCfg.mimic.Scope.Mutators[1] != mimic.Misgendering {
		t.Fatalf("mutators = %v", echoCfg.mimic.Scope.Mutators)
	}
	if !echoCfg.restoreOnStart || !echoCfg.snapshotOnShutdown {
		t.Fatal("archive lifecycle flags not set")
	}
	if echoCfg.messageWorkers != 8 || echoCfg.messageTimeout != time.Minute {
		t.Fatalf("message handling = %d/%s", echoCfg.messageWorkers, echoCfg.messageTimeout)
	}

	if cfg.archive.Type != archive.BackendS3 {
		t.Fatalf("archive type = %q", cfg.archive.Type)
	}
	if cfg.archive.S3.Bucket != "mimic-snapshots" || !cfg.archive.S3.PathStyle || cfg.archive.S3.SecretKeyEnv != "S3_SECRET" {
		t.Fatalf("s3 config = %+v", cfg.archive.S3)
	}
	if cfg.admin.listen != "127.0.0.1:8080" {
		t.Fatalf("admin listen = %q", cfg.admin.listen)
	}

	registry, err := driver.NewBuiltinRegistry()
	if err != nil {
		t.Fatalf("NewBuiltinRegistry failed: %v", err)
	}
	if err := validateDrivers(cfg, registry); err != nil {
		t.Fatalf("validateDrivers failed: %v", err)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv(envConfigFile, "")
	configPath := filepath.Join(t.TempDir(), "mimic.yaml")
	writeConfigFile(t, configPath, "")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		t.Fatalf("load config failed: %v", err)
	}
	if cfg.logLevel != slog.LevelInfo {
		t.Fatalf("log level = %v", cfg.logLevel)
	}
	if cfg.echo.mimic.Owner != mimic.DefaultOwner {
		t.Fatalf("owner = %q, want %q", cfg.echo.mimic.Owner, mimic.DefaultOwner)
	}
	if cfg.archive.Type != archive.BackendNone || cfg.admin.listen != "" {
		t.Fatalf("archive/admin = %q/%q, want disabled", cfg.archive.Type, cfg.admin.listen)
	}
	if cfg.echo.messageWorkers != defaultMessageWorkers {
		t.Fatalf("message workers = %d", cfg.echo.messageWorkers)
	}
}

func TestLoadConfigRejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "unknown field", content: "echo:\n  shout: true\n", wantErr: "shout"},
		{name: "bad level", content: "log_level: loud\n", wantErr: "log_level"},
		{name: "zero cap", content: "echo:\n  cap: 0\n", wantErr: "echo.cap: must be > 0"},
		{name: "window beyond cap", content: "echo:\n  cap: 10\n  eviction_window_start: 11\n", wantErr: "echo.eviction_window_start"},
		{name: "bad interval", content: "echo:\n  snapshot_interval: soon\n", wantErr: "echo.snapshot_interval"},
		{name: "negative word delay", content: "echo:\n  word_delay: -1s\n", wantErr: "echo.word_delay: must be >= 0"},
		{name: "invalid proc", content: "echo:\n  proc: {min: 3, max: 1, out_of: 10}\n", wantErr: "echo.proc"},
		{name: "unknown mutator", content: "echo:\n  mutators: [shouting]\n", wantErr: "echo.mutators[0]"},
		{name: "zero workers", content: "kernel:\n  subscription_workers: 0\n", wantErr: "kernel.subscription_workers"},
		{name: "driver without config", content: "drivers:\n  - name: tg\n    type: telegram\n", wantErr: "drivers[0].config: required"},
		{name: "badger without dir", content: "archive:\n  type: badger\n", wantErr: "archive.badger.dir"},
		{name: "s3 without bucket", content: "archive:\n  type: s3\n  s3: {region: us-east-1}\n", wantErr: "archive.s3.bucket"},
		{name: "unknown backend", content: "archive:\n  type: ftp\n", wantErr: "archive.type"},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			cfg := defaultAppConfig()
			err := applyConfig(&cfg, []byte(testCase.content))
			if err == nil {
				t.Fatalf("expected error containing %q", testCase.wantErr)
			}
			if !strings.Contains(err.Error(), testCase.wantErr) {
				t.Fatalf("error = %v, want substring %q", err, testCase.wantErr)
			}
		})
	}
}

func TestValidateDrivers(t *testing.T) {
	registry, err := driver.NewBuiltinRegistry()
	if err != nil {
		t.Fatalf("NewBuiltinRegistry failed: %v", err)
	}

	tests := []struct {
		name    string
		drivers []driver.Definition
		wantErr string
	}{
		{name: "none enabled", drivers: []driver.Definition{{Name: "tg", Type: "telegram"}}, wantErr: "at least one enabled driver"},
		{name: "missing name", drivers: []driver.Definition{{Type: "telegram", Enabled: true}}, wantErr: "drivers[0].name"},
		{
			name: "duplicate name",
			drivers: []driver.Definition{
				{Name: "tg", Type: "telegram", Enabled: true},
				{Name: "tg", Type: "telegram"},
			},
			wantErr: "duplicate name",
		},
		{name: "unknown type", drivers: []driver.Definition{{Name: "dc", Type: "discord", Enabled: true}}, wantErr: "drivers[dc].type"},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			cfg := defaultAppConfig()
			cfg.drivers = testCase.drivers
			err := validateDrivers(cfg, registry)
			if err == nil || !strings.Contains(err.Error(), testCase.wantErr) {
				t.Fatalf("error = %v, want substring %q", err, testCase.wantErr)
			}
		})
	}
}

func TestResolveConfigFilePath(t *testing.T) {
	t.Run("environment wins over flag", func(t *testing.T) {
		t.Setenv(envConfigFile, "/etc/mimic/env.yaml")

		got, err := resolveConfigFilePath("/tmp/flag.yaml")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "/etc/mimic/env.yaml" {
			t.Fatalf("path = %q, want env path", got)
		}
	})

	t.Run("flag used without environment", func(t *testing.T) {
		t.Setenv(envConfigFile, "")

		got, err := resolveConfigFilePath("/tmp/flag.yaml")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "/tmp/flag.yaml" {
			t.Fatalf("path = %q, want flag path", got)
		}
	})

	t.Run("default paths searched in order", func(t *testing.T) {
		t.Setenv(envConfigFile, "")
		t.Chdir(t.TempDir())

		if _, err := resolveConfigFilePath(""); err == nil || !strings.Contains(err.Error(), "config file not found") {
			t.Fatalf("error = %v, want not found", err)
		}

		writeConfigFile(t, alternateConfigFilePath, "")
		got, err := resolveConfigFilePath("")
		if err != nil || got != alternateConfigFilePath {
			t.Fatalf("path = %q err = %v, want %q", got, err, alternateConfigFilePath)
		}

		writeConfigFile(t, defaultConfigFilePath, "")
		got, err = resolveConfigFilePath("")
		if err != nil || got != defaultConfigFilePath {
			t.Fatalf("path = %q err = %v, want %q", got, err, defaultConfigFilePath)
		}
	})
}
