package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ex-mimic/internal/archive"
	"ex-mimic/internal/driver"
	"ex-mimic/internal/mimic"
)

const (
	envConfigFile             = "MIMIC_CONFIG_FILE"
	defaultConfigFilePath     = "config/mimic.yaml"
	alternateConfigFilePath   = "bin/config/mimic.yaml"
	defaultModuleHookTimeout  = 3 * time.Second
	defaultShutdownTimeout    = 10 * time.Second
	defaultHandlerTimeout     = 3 * time.Second
	defaultSubscriptionBuffer = 256
	defaultSubscriptionWorker = 2
	defaultMessageWorkers     = 4
	defaultMessageTimeout     = 10 * time.Minute
)

type appConfig struct {
	logLevel slog.Level

	moduleHookTimeout   time.Duration
	shutdownTimeout     time.Duration
	handlerTimeout      time.Duration
	subscriptionBuffer  int
	subscriptionWorkers int

	drivers []driver.Definition
	echo    echoConfig
	archive archive.Config
	admin   adminConfig
}

type echoConfig struct {
	mimic              mimic.Config
	restoreOnStart     bool
	snapshotOnShutdown bool
	messageWorkers     int
	messageTimeout     time.Duration
}

type adminConfig struct {
	listen string
}

type fileConfig struct {
	LogLevel string            `yaml:"log_level"`
	Kernel   fileKernelConfig  `yaml:"kernel"`
	Drivers  []fileDriverEntry `yaml:"drivers"`
	Echo     fileEchoConfig    `yaml:"echo"`
	Archive  fileArchiveConfig `yaml:"archive"`
	Admin    fileAdminConfig   `yaml:"admin"`
}

type fileKernelConfig struct {
	ModuleHookTimeout   string `yaml:"module_hook_timeout"`
	ShutdownTimeout     string `yaml:"shutdown_timeout"`
	HandlerTimeout      string `yaml:"handler_timeout"`
	SubscriptionBuffer  *int   `yaml:"subscription_buffer"`
	SubscriptionWorkers *int   `yaml:"subscription_workers"`
}

type fileDriverEntry struct {
	Name    string    `yaml:"name"`
	Type    string    `yaml:"type"`
	Enabled *bool     `yaml:"enabled"`
	Config  yaml.Node `yaml:"config"`
}

type fileEchoConfig struct {
	OwnerID             string    `yaml:"owner_id"`
	Cap                 *int      `yaml:"cap"`
	EvictionWindowStart *int      `yaml:"eviction_window_start"`
	SnapshotInterval    string    `yaml:"snapshot_interval"`
	WordDelay           string    `yaml:"word_delay"`
	MaxTypingDelay      string    `yaml:"max_typing_delay"`
	MaxContinuations    *int      `yaml:"max_continuations"`
	Proc                *fileProc `yaml:"proc"`
	Mutators            *[]string `yaml:"mutators"`
	IgnoreMarkers       []string  `yaml:"ignore_markers"`
	RestoreOnStart      bool      `yaml:"restore_on_start"`
	SnapshotOnShutdown  bool      `yaml:"snapshot_on_shutdown"`
	Workers             *int      `yaml:"message_workers"`
	MessageTimeout      string    `yaml:"message_timeout"`
}

type fileProc struct {
	Min   int `yaml:"min"`
	Max   int `yaml:"max"`
	OutOf int `yaml:"out_of"`
}

type fileArchiveConfig struct {
	Type   string           `yaml:"type"`
	Badger fileBadgerConfig `yaml:"badger"`
	S3     fileS3Config     `yaml:"s3"`
}

type fileBadgerConfig struct {
	Dir      string `yaml:"dir"`
	InMemory bool   `yaml:"in_memory"`
	Retain   int    `yaml:"retain"`
}

type fileS3Config struct {
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	PathStyle    bool   `yaml:"path_style"`
	AccessKeyEnv string `yaml:"access_key_env"`
	SecretKeyEnv string `yaml:"secret_key_env"`
}

type fileAdminConfig struct {
	Listen string `yaml:"listen"`
}

func loadConfig(explicitPath string) (appConfig, string, error) {
	configFile, err := resolveConfigFilePath(explicitPath)
	if err != nil {
		return appConfig{}, "", err
	}

	cfg := defaultAppConfig()
	if err := applyConfigFile(&cfg, configFile); err != nil {
		return appConfig{}, "", err
	}

	return cfg, configFile, nil
}

// resolveConfigFilePath prefers the environment, then the flag, then the default paths.
func resolveConfigFilePath(explicitPath string) (string, error) {
	if configFile := strings.TrimSpace(os.Getenv(envConfigFile)); configFile != "" {
		return configFile, nil
	}
	if configFile := strings.TrimSpace(explicitPath); configFile != "" {
		return configFile, nil
	}

	candidates := []string{defaultConfigFilePath, alternateConfigFilePath}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", fmt.Errorf("config file %s is a directory", candidate)
			}
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}

	return "", fmt.Errorf(
		"config file not found; create %s or %s, pass --config, or set %s",
		defaultConfigFilePath,
		alternateConfigFilePath,
		envConfigFile,
	)
}

func defaultAppConfig() appConfig {
	return appConfig{
		logLevel: slog.LevelInfo,

		moduleHookTimeout:   defaultModuleHookTimeout,
		shutdownTimeout:     defaultShutdownTimeout,
		handlerTimeout:      defaultHandlerTimeout,
		subscriptionBuffer:  defaultSubscriptionBuffer,
		subscriptionWorkers: defaultSubscriptionWorker,

		echo: echoConfig{
			mimic:          mimic.DefaultConfig(),
			messageWorkers: defaultMessageWorkers,
			messageTimeout: defaultMessageTimeout,
		},
		archive: archive.Config{Type: archive.BackendNone},
	}
}

func applyConfigFile(cfg *appConfig, path string) error {
	if cfg == nil {
		return fmt.Errorf("apply config file: nil config")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := applyConfig(cfg, data); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}

	return nil
}

func applyConfig(cfg *appConfig, data []byte) error {
	var parsed fileConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&parsed); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse yaml: %w", err)
	}

	if rawLevel := strings.TrimSpace(parsed.LogLevel); rawLevel != "" {
		level, err := parseLogLevel(rawLevel)
		if err != nil {
			return fmt.Errorf("log_level: %w", err)
		}
		cfg.logLevel = level
	}
	if err := applyKernelConfig(cfg, parsed.Kernel); err != nil {
		return err
	}
	if err := applyDriverConfig(cfg, parsed.Drivers); err != nil {
		return err
	}
	if err := applyEchoConfig(&cfg.echo, parsed.Echo); err != nil {
		return err
	}
	if err := applyArchiveConfig(&cfg.archive, parsed.Archive); err != nil {
		return err
	}
	cfg.admin.listen = strings.TrimSpace(parsed.Admin.Listen)

	return nil
}

func applyKernelConfig(cfg *appConfig, parsed fileKernelConfig) error {
	durations := []struct {
		path   string
		raw    string
		target *time.Duration
	}{
		{path: "kernel.module_hook_timeout", raw: parsed.ModuleHookTimeout, target: &cfg.moduleHookTimeout},
		{path: "kernel.shutdown_timeout", raw: parsed.ShutdownTimeout, target: &cfg.shutdownTimeout},
		{path: "kernel.handler_timeout", raw: parsed.HandlerTimeout, target: &cfg.handlerTimeout},
	}
	for _, duration := range durations {
		if err := parsePositiveDuration(duration.path, duration.raw, duration.target); err != nil {
			return err
		}
	}
	if err := parsePositiveInt("kernel.subscription_buffer", parsed.SubscriptionBuffer, &cfg.subscriptionBuffer); err != nil {
		return err
	}

	return parsePositiveInt("kernel.subscription_workers", parsed.SubscriptionWorkers, &cfg.subscriptionWorkers)
}

func applyDriverConfig(cfg *appConfig, entries []fileDriverEntry) error {
	cfg.drivers = make([]driver.Definition, 0, len(entries))
	for index, entry := range entries {
		if entry.Config.Kind == 0 {
			return fmt.Errorf("drivers[%d].config: required", index)
		}
		raw, err := yaml.Marshal(&entry.Config)
		if err != nil {
			return fmt.Errorf("drivers[%d].config: %w", index, err)
		}
		enabled := true
		if entry.Enabled != nil {
			enabled = *entry.Enabled
		}
		cfg.drivers = append(cfg.drivers, driver.Definition{
			Name:    strings.TrimSpace(entry.Name),
			Type:    strings.TrimSpace(entry.Type),
			Enabled: enabled,
			Config:  raw,
		})
	}

	return nil
}

func applyEchoConfig(cfg *echoConfig, parsed fileEchoConfig) error {
	config := &cfg.mimic
	if owner := strings.TrimSpace(parsed.OwnerID); owner != "" {
		config.Owner = mimic.UserID(owner)
	}
	if err := parsePositiveInt("echo.cap", parsed.Cap, &config.Scope.Eviction.Cap); err != nil {
		return err
	}
	if parsed.Cap != nil && parsed.EvictionWindowStart == nil {
		// keep the default window proportion
		config.Scope.Eviction.WindowStart = *parsed.Cap * mimic.DefaultWindowStart / mimic.DefaultCap
	}
	if parsed.EvictionWindowStart != nil {
		config.Scope.Eviction.WindowStart = *parsed.EvictionWindowStart
	}
	if err := config.Scope.Eviction.Validate(); err != nil {
		return fmt.Errorf("echo.eviction_window_start: %w", err)
	}

	if err := parsePositiveDuration("echo.snapshot_interval", parsed.SnapshotInterval, &config.SnapshotInterval); err != nil {
		return err
	}
	if err := parseDuration("echo.word_delay", parsed.WordDelay, &config.WordDelay); err != nil {
		return err
	}
	if err := parseDuration("echo.max_typing_delay", parsed.MaxTypingDelay, &config.MaxTypingDelay); err != nil {
		return err
	}
	if err := parsePositiveInt("echo.max_continuations", parsed.MaxContinuations, &config.MaxContinuations); err != nil {
		return err
	}

	if parsed.Proc != nil {
		proc := mimic.Proc{Min: parsed.Proc.Min, Max: parsed.Proc.Max, OutOf: parsed.Proc.OutOf}
		if err := proc.Validate(); err != nil {
			return fmt.Errorf("echo.proc: %w", err)
		}
		config.Scope.Proc = proc
	}
	if parsed.Mutators != nil {
		kinds := make([]mimic.MutatorKind, 0, len(*parsed.Mutators))
		for index, name := range *parsed.Mutators {
			kind, err := mimic.ParseMutatorKind(name)
			if err != nil {
				return fmt.Errorf("echo.mutators[%d]: %w", index, err)
			}
			kinds = append(kinds, kind)
		}
		config.Scope.Mutators = kinds
	}
	if len(parsed.IgnoreMarkers) != 0 {
		config.IgnoreMarkers = append([]string(nil), parsed.IgnoreMarkers...)
	}

	cfg.restoreOnStart = parsed.RestoreOnStart
	cfg.snapshotOnShutdown = parsed.SnapshotOnShutdown
	if err := parsePositiveInt("echo.message_workers", parsed.Workers, &cfg.messageWorkers); err != nil {
		return err
	}
	if err := parsePositiveDuration("echo.message_timeout", parsed.MessageTimeout, &cfg.messageTimeout); err != nil {
		return err
	}

	if err := config.Validate(); err != nil {
		return fmt.Errorf("echo: %w", err)
	}

	return nil
}

func applyArchiveConfig(cfg *archive.Config, parsed fileArchiveConfig) error {
	backend := strings.ToLower(strings.TrimSpace(parsed.Type))
	switch backend {
	case "", archive.BackendNone:
		*cfg = archive.Config{Type: archive.BackendNone}
		return nil
	case archive.BackendBadger:
		if !parsed.Badger.InMemory && strings.TrimSpace(parsed.Badger.Dir) == "" {
			return fmt.Errorf("archive.badger.dir: required unless in_memory is set")
		}
		if parsed.Badger.Retain < 0 {
			return fmt.Errorf("archive.badger.retain: must be >= 0")
		}
	case archive.BackendS3:
		if strings.TrimSpace(parsed.S3.Bucket) == "" {
			return fmt.Errorf("archive.s3.bucket: required")
		}
		if strings.TrimSpace(parsed.S3.Region) == "" {
			return fmt.Errorf("archive.s3.region: required")
		}
	default:
		return fmt.Errorf("archive.type: unsupported backend %q", parsed.Type)
	}

	*cfg = archive.Config{
		Type: backend,
		Badger: archive.BadgerOptions{
			Dir:      strings.TrimSpace(parsed.Badger.Dir),
			InMemory: parsed.Badger.InMemory,
			Retain:   parsed.Badger.Retain,
		},
		S3: archive.S3Config{
			Bucket:       strings.TrimSpace(parsed.S3.Bucket),
			Prefix:       strings.TrimSpace(parsed.S3.Prefix),
			Region:       strings.TrimSpace(parsed.S3.Region),
			Endpoint:     strings.TrimSpace(parsed.S3.Endpoint),
			PathStyle:    parsed.S3.PathStyle,
			AccessKeyEnv: strings.TrimSpace(parsed.S3.AccessKeyEnv),
			SecretKeyEnv: strings.TrimSpace(parsed.S3.SecretKeyEnv),
		},
	}

	return nil
}

// validateDrivers checks the driver list against the registry. Only run needs drivers.
func validateDrivers(cfg appConfig, registry *driver.Registry) error {
	if registry == nil {
		return fmt.Errorf("nil driver registry")
	}

	seen := make(map[string]struct{}, len(cfg.drivers))
	enabled := 0
	for index, definition := range cfg.drivers {
		if definition.Name == "" {
			return fmt.Errorf("drivers[%d].name: required", index)
		}
		if definition.Type == "" {
			return fmt.Errorf("drivers[%s].type: required", definition.Name)
		}
		if _, exists := seen[definition.Name]; exists {
			return fmt.Errorf("drivers[%s]: duplicate name", definition.Name)
		}
		seen[definition.Name] = struct{}{}
		if !definition.Enabled {
			continue
		}
		if _, err := registry.PlatformForType(definition.Type); err != nil {
			return fmt.Errorf("drivers[%s].type: %w", definition.Name, err)
		}
		enabled++
	}
	if enabled == 0 {
		return fmt.Errorf("at least one enabled driver is required")
	}

	return nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", raw)
	}
}

func parseDuration(path, raw string, target *time.Duration) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if value < 0 {
		return fmt.Errorf("%s: must be >= 0", path)
	}
	*target = value

	return nil
}

func parsePositiveDuration(path, raw string, target *time.Duration) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if value <= 0 {
		return fmt.Errorf("%s: must be > 0", path)
	}
	*target = value

	return nil
}

func parsePositiveInt(path string, raw *int, target *int) error {
	if raw == nil {
		return nil
	}
	if *raw <= 0 {
		return fmt.Errorf("%s: must be > 0", path)
	}
	*target = *raw

	return nil
}
