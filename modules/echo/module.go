// Package echo is the bot module that feeds chat messages into the mimic
// coordinator and delivers its emissions, reactions and command replies.
package echo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ex-mimic/internal/archive"
	"ex-mimic/internal/mimic"
	"ex-mimic/pkg/otogi"
)

const (
	defaultMessageWorkers = 4
	// one emission sequence may run many typing pauses back to back
	defaultMessageTimeout = 10 * time.Minute
	defaultCommandTimeout = 30 * time.Second
	defaultArchiveTimeout = 30 * time.Second
)

// Option mutates echo module configuration.
type Option func(*Module)

// WithLogger injects a logger directly, bypassing service lookup.
func WithLogger(logger *slog.Logger) Option {
	return func(module *Module) {
		if logger != nil {
			module.logger = logger
			module.loggerInjected = true
		}
	}
}

// WithArchive enables auto-snapshot persistence and the ~snapshot/~restore commands.
func WithArchive(store archive.Store) Option {
	return func(module *Module) {
		module.archive = store
	}
}

// WithRestoreOnStart loads the newest archived snapshot during OnStart.
func WithRestoreOnStart(enabled bool) Option {
	return func(module *Module) {
		module.restoreOnStart = enabled
	}
}

// WithSnapshotOnShutdown archives the state during OnShutdown.
func WithSnapshotOnShutdown(enabled bool) Option {
	return func(module *Module) {
		module.snapshotOnShutdown = enabled
	}
}

// WithMessageWorkers sets how many messages are observed concurrently.
func WithMessageWorkers(workers int) Option {
	return func(module *Module) {
		if workers > 0 {
			module.messageWorkers = workers
		}
	}
}

// WithMessageTimeout bounds one observed message including its emission sequence.
func WithMessageTimeout(timeout time.Duration) Option {
	return func(module *Module) {
		if timeout > 0 {
			module.messageTimeout = timeout
		}
	}
}

// WithVersion sets the version string reported by /info.
func WithVersion(version string) Option {
	return func(module *Module) {
		if version != "" {
			module.version = version
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(module *Module) {
		module.clock = now
	}
}

// Module observes messages in group conversations and answers echo commands.
type Module struct {
	coordinator *mimic.Coordinator
	archive     archive.Store

	logger         *slog.Logger
	loggerInjected bool
	dispatcher     otogi.SinkDispatcher
	reactions      otogi.ReactionCatalog
	recent         *recentMessages
	clock          func() time.Time
	version        string

	restoreOnStart     bool
	snapshotOnShutdown bool
	messageWorkers     int
	messageTimeout     time.Duration
}

// New creates an echo module around coordinator.
func New(coordinator *mimic.Coordinator, options ...Option) (*Module, error) {
	if coordinator == nil {
		return nil, fmt.Errorf("new echo module: nil coordinator")
	}

	module := &Module{
		coordinator:    coordinator,
		logger:         slog.Default(),
		clock:          time.Now,
		version:        "dev",
		messageWorkers: defaultMessageWorkers,
		messageTimeout: defaultMessageTimeout,
	}
	for _, option := range options {
		option(module)
	}
	module.recent = newRecentMessages(defaultRecentEntries, defaultRecentTTL, module.clock)

	return module, nil
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "echo"
}

// Spec declares the message observer, the command handler and every echo command.
func (m *Module) Spec() otogi.ModuleSpec {
	commands := commandSpecs()
	names := make([]string, 0, len(commands))
	for _, command := range commands {
		names = append(names, command.Name)
	}

	return otogi.ModuleSpec{
		Handlers: []otogi.ModuleHandler{
			{
				Capability: otogi.Capability{
					Name:        "echo-message-observer",
					Description: "stores eligible messages and emits remembered ones back",
					Interest: otogi.InterestSet{
						Kinds:          []otogi.EventKind{otogi.EventKindMessageCreated},
						RequireMessage: true,
					},
					RequiredServices: []string{otogi.ServiceSinkDispatcher},
				},
				Subscription: otogi.SubscriptionSpec{
					Name:           "echo-messages",
					Workers:        m.messageWorkers,
					HandlerTimeout: m.messageTimeout,
					Backpressure:   otogi.BackpressureDropNewest,
				},
				Handler: m.handleMessage,
			},
			{
				Capability: otogi.Capability{
					Name:        "echo-command-handler",
					Description: "answers echo administration commands",
					Interest: otogi.InterestSet{
						Kinds: []otogi.EventKind{
							otogi.EventKindCommandReceived,
							otogi.EventKindSystemCommandReceived,
						},
						RequireCommand: true,
						CommandNames:   names,
					},
					RequiredServices: []string{otogi.ServiceSinkDispatcher},
				},
				Subscription: otogi.SubscriptionSpec{
					Name:           "echo-commands",
					HandlerTimeout: defaultCommandTimeout,
					Backpressure:   otogi.BackpressureDropNewest,
				},
				Handler: m.handleCommand,
			},
		},
		Commands: commands,
	}
}

// OnRegister resolves the dispatcher, the logger and the optional reaction catalog.
func (m *Module) OnRegister(_ context.Context, runtime otogi.ModuleRuntime) error {
	if !m.loggerInjected {
		logger, err := otogi.ResolveAs[*slog.Logger](runtime.Services(), otogi.ServiceLogger)
		switch {
		case err == nil:
			m.logger = logger
		case errors.Is(err, otogi.ErrServiceNotFound):
		default:
			return fmt.Errorf("echo resolve logger: %w", err)
		}
	}
	m.logger = m.logger.With("module", m.Name())

	dispatcher, err := otogi.ResolveAs[otogi.SinkDispatcher](runtime.Services(), otogi.ServiceSinkDispatcher)
	if err != nil {
		return fmt.Errorf("echo resolve sink dispatcher: %w", err)
	}
	m.dispatcher = dispatcher

	reactions, err := otogi.ResolveAs[otogi.ReactionCatalog](runtime.Services(), otogi.ServiceReactionCatalog)
	switch {
	case err == nil:
		m.reactions = reactions
	case errors.Is(err, otogi.ErrServiceNotFound):
	default:
		return fmt.Errorf("echo resolve reaction catalog: %w", err)
	}

	return nil
}

// OnStart optionally restores the newest archived snapshot.
func (m *Module) OnStart(ctx context.Context) error {
	if m.archive != nil && m.restoreOnStart {
		record, blob, err := m.archive.Latest(ctx)
		switch {
		case errors.Is(err, archive.ErrNotFound):
			m.logger.InfoContext(ctx, "echo archive empty, starting fresh")
		case err != nil:
			return fmt.Errorf("echo load latest snapshot: %w", err)
		default:
			if err := m.coordinator.Restore(blob); err != nil {
				return fmt.Errorf("echo restore snapshot %s: %w", record.ID, err)
			}
			m.logger.InfoContext(ctx, "echo state restored", "record", record.ID, "created_at", record.CreatedAt)
		}
	}

	stats := m.coordinator.Stats()
	m.logger.InfoContext(ctx, "echo module started",
		"scopes", stats.Scopes,
		"utterances", stats.Utterances,
		"archive", m.archive != nil,
	)

	return nil
}

// OnShutdown optionally archives the final state.
func (m *Module) OnShutdown(ctx context.Context) error {
	if m.archive == nil || !m.snapshotOnShutdown {
		return nil
	}

	blob, err := m.coordinator.Snapshot()
	if err != nil {
		return fmt.Errorf("echo shutdown snapshot: %w", err)
	}
	record, err := m.archive.Put(ctx, blob)
	if err != nil {
		return fmt.Errorf("echo shutdown archive: %w", err)
	}
	m.logger.InfoContext(ctx, "echo state archived on shutdown", "record", record.ID, "size", record.Size)

	return nil
}

// persistSnapshot stores a blob produced by the lazy auto-snapshot.
func (m *Module) persistSnapshot(ctx context.Context, blob []byte) {
	if m.archive == nil {
		m.logger.DebugContext(ctx, "echo auto-snapshot taken without archive", "size", len(blob))
		return
	}

	archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultArchiveTimeout)
	defer cancel()
	record, err := m.archive.Put(archiveCtx, blob)
	if err != nil {
		m.logger.ErrorContext(ctx, "echo auto-snapshot archive failed", "error", err)
		return
	}
	m.logger.InfoContext(ctx, "echo auto-snapshot archived", "record", record.ID, "size", record.Size)
}

var (
	_ otogi.Module          = (*Module)(nil)
	_ otogi.ModuleRegistrar = (*Module)(nil)
)
