package telegram

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gotd/td/session"
	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"gopkg.in/yaml.v3"

	"ex-mimic/pkg/otogi"
)

const (
	defaultRuntimeSessionFile    = ".cache/telegram/session.json"
	defaultRuntimePublishTimeout = 2 * time.Second
	defaultRuntimeAuthTimeout    = 3 * time.Minute
	defaultRuntimeUpdateBuffer   = 256
)

// runtimeConfig is the YAML node under drivers[].config for a telegram driver.
type runtimeConfig struct {
	AppID          int    `yaml:"app_id"`
	AppHash        string `yaml:"app_hash"`
	AppHashEnv     string `yaml:"app_hash_env"`
	PublishTimeout string `yaml:"publish_timeout"`
	UpdateBuffer   int    `yaml:"update_buffer"`
	SentLogLimit   int    `yaml:"sent_log_limit"`
	AuthTimeout    string `yaml:"auth_timeout"`
	Code           string `yaml:"code"`
	Phone          string `yaml:"phone"`
	Password       string `yaml:"password"`
	SessionFile    string `yaml:"session_file"`
}

type parsedRuntimeConfig struct {
	appID          int
	appHash        string
	publishTimeout time.Duration
	updateBuffer   int
	sentLogLimit   int
	authTimeout    time.Duration
	code           string
	phone          string
	password       string
	sessionFile    string
}

// BuildRuntimeFromConfig wires one gotd userbot session into a driver and its dispatcher.
//
// The returned dispatcher also serves as the reaction catalog of this driver.
func BuildRuntimeFromConfig(
	name string,
	logger *slog.Logger,
	rawConfig []byte,
) (otogi.EventSource, otogi.Driver, *SinkDispatcher, error) {
	cfg, err := parseRuntimeConfig(rawConfig, os.Getenv)
	if err != nil {
		return otogi.EventSource{}, nil, nil, fmt.Errorf("parse telegram runtime config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("driver", name)
	source := otogi.EventSource{Platform: DriverPlatform, ID: name}

	sessionStorage, err := newGotdSessionStorage(cfg.sessionFile)
	if err != nil {
		return otogi.EventSource{}, nil, nil, fmt.Errorf("new gotd session storage: %w", err)
	}
	updates := NewGotdUpdateChannel(cfg.updateBuffer)
	client := gotdtelegram.NewClient(cfg.appID, cfg.appHash, gotdtelegram.Options{
		UpdateHandler:  updates,
		SessionStorage: sessionStorage,
	})

	peers := NewPeerCache()
	sent := NewSentLog(cfg.sentLogLimit)
	reportError := func(ctx context.Context, err error) {
		logger.ErrorContext(ctx, "telegram driver async error", "error", err)
	}

	updateSource, err := NewGotdUserbotSource(
		gotdAuthenticatedSession{
			client: client,
			authenticate: func(ctx context.Context) error {
				return authenticateGotdClient(ctx, logger, client, cfg)
			},
		},
		updates,
		NewDefaultGotdUpdateMapper(WithPeerCache(peers), WithSentLog(sent)),
		reportError,
	)
	if err != nil {
		return otogi.EventSource{}, nil, nil, fmt.Errorf("new gotd userbot source: %w", err)
	}

	driver, err := NewDriver(
		updateSource,
		NewDefaultDecoder(),
		WithName(name),
		WithPublishTimeout(cfg.publishTimeout),
		WithErrorHandler(reportError),
	)
	if err != nil {
		return otogi.EventSource{}, nil, nil, fmt.Errorf("new telegram driver: %w", err)
	}

	dispatcher, err := NewOutboundDispatcher(
		client,
		peers,
		sent,
		WithOutboundTimeout(cfg.publishTimeout),
		WithOutboundLogger(logger),
		WithSource(source),
	)
	if err != nil {
		return otogi.EventSource{}, nil, nil, fmt.Errorf("new telegram sink dispatcher: %w", err)
	}

	return source, driver, dispatcher, nil
}

func parseRuntimeConfig(raw []byte, getenv func(string) string) (parsedRuntimeConfig, error) {
	if len(raw) == 0 {
		return parsedRuntimeConfig{}, fmt.Errorf("missing config")
	}

	var parsed runtimeConfig
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return parsedRuntimeConfig{}, fmt.Errorf("unmarshal: %w", err)
	}

	cfg := parsedRuntimeConfig{
		appID:          parsed.AppID,
		appHash:        strings.TrimSpace(parsed.AppHash),
		publishTimeout: defaultRuntimePublishTimeout,
		updateBuffer:   parsed.UpdateBuffer,
		sentLogLimit:   parsed.SentLogLimit,
		authTimeout:    defaultRuntimeAuthTimeout,
		code:           strings.TrimSpace(parsed.Code),
		phone:          strings.TrimSpace(parsed.Phone),
		password:       strings.TrimSpace(parsed.Password),
		sessionFile:    strings.TrimSpace(parsed.SessionFile),
	}
	if cfg.appHash == "" && parsed.AppHashEnv != "" {
		cfg.appHash = strings.TrimSpace(getenv(parsed.AppHashEnv))
	}
	if cfg.updateBuffer <= 0 {
		cfg.updateBuffer = defaultRuntimeUpdateBuffer
	}
	if cfg.sessionFile == "" {
		cfg.sessionFile = defaultRuntimeSessionFile
	}

	var err error
	if cfg.publishTimeout, err = parsePositiveDuration("publish_timeout", parsed.PublishTimeout, cfg.publishTimeout); err != nil {
		return parsedRuntimeConfig{}, err
	}
	if cfg.authTimeout, err = parsePositiveDuration("auth_timeout", parsed.AuthTimeout, cfg.authTimeout); err != nil {
		return parsedRuntimeConfig{}, err
	}

	if cfg.appID <= 0 {
		return parsedRuntimeConfig{}, fmt.Errorf("app_id: must be > 0")
	}
	if cfg.appHash == "" {
		return parsedRuntimeConfig{}, fmt.Errorf("app_hash: required (directly or via app_hash_env)")
	}

	return cfg, nil
}

func parsePositiveDuration(field string, raw string, fallback time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%s: must be > 0", field)
	}

	return value, nil
}

func newGotdSessionStorage(path string) (*session.FileStorage, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve session file path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o700); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	return &session.FileStorage{Path: absPath}, nil
}

// gotdAuthenticatedSession runs fn only after the client session is authorized.
type gotdAuthenticatedSession struct {
	client       *gotdtelegram.Client
	authenticate func(ctx context.Context) error
}

func (s gotdAuthenticatedSession) Run(ctx context.Context, fn func(runCtx context.Context) error) error {
	if err := s.client.Run(ctx, func(runCtx context.Context) error {
		if err := s.authenticate(runCtx); err != nil {
			return fmt.Errorf("authenticate: %w", err)
		}
		return fn(runCtx)
	}); err != nil {
		return fmt.Errorf("run gotd session: %w", err)
	}

	return nil
}

func authenticateGotdClient(
	ctx context.Context,
	logger *slog.Logger,
	client *gotdtelegram.Client,
	cfg parsedRuntimeConfig,
) error {
	authCtx, cancel := context.WithTimeout(ctx, cfg.authTimeout)
	defer cancel()

	status, err := client.Auth().Status(authCtx)
	if err != nil {
		return fmt.Errorf("check auth status: %w", err)
	}
	if status.Authorized {
		logger.InfoContext(ctx, "telegram session restored", "session_file", cfg.sessionFile)
		return nil
	}
	if cfg.phone == "" {
		return fmt.Errorf("phone is required for first login")
	}

	codeAuthenticator := auth.CodeAuthenticatorFunc(func(context.Context, *tg.AuthSentCode) (string, error) {
		return telegramAuthCode(cfg.code)
	})
	var authenticator auth.UserAuthenticator = auth.CodeOnly(cfg.phone, codeAuthenticator)
	if cfg.password != "" {
		authenticator = auth.Constant(cfg.phone, cfg.password, codeAuthenticator)
	}

	if err := client.Auth().IfNecessary(authCtx, auth.NewFlow(authenticator, auth.SendCodeOptions{})); err != nil {
		return fmt.Errorf("authenticate user: %w", err)
	}
	logger.InfoContext(ctx, "telegram authorized with user flow", "session_file", cfg.sessionFile)

	return nil
}

// telegramAuthCode prefers the configured code and falls back to an interactive prompt.
func telegramAuthCode(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}

	info, err := os.Stdin.Stat()
	if err != nil {
		return "", fmt.Errorf("stat stdin: %w", err)
	}
	if info.Mode()&os.ModeCharDevice == 0 {
		return "", fmt.Errorf("code is empty and stdin is not interactive")
	}

	fmt.Fprint(os.Stdout, "Enter Telegram login code: ")
	code, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read login code: %w", err)
	}
	if code = strings.TrimSpace(code); code == "" {
		return "", fmt.Errorf("empty login code")
	}

	return code, nil
}
