package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"ex-mimic/internal/adminhttp"
	"ex-mimic/internal/archive"
	"ex-mimic/internal/driver"
	"ex-mimic/internal/kernel"
	"ex-mimic/internal/mimic"
	"ex-mimic/modules/echo"
	"ex-mimic/modules/help"
	"ex-mimic/pkg/otogi"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// app is the fully wired runtime of one mimic process.
type app struct {
	logger      *slog.Logger
	kernel      *kernel.Kernel
	coordinator *mimic.Coordinator
	archive     archive.Store
	admin       *adminhttp.Server
}

func newLogger(cfg appConfig) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel}))
}

func runBot(ctx context.Context, configPath string) error {
	registry, err := driver.NewBuiltinRegistry()
	if err != nil {
		return fmt.Errorf("new builtin driver registry: %w", err)
	}
	cfg, configFile, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := validateDrivers(cfg, registry); err != nil {
		return fmt.Errorf("validate config file %s: %w", configFile, err)
	}

	logger := newLogger(cfg)
	application, err := buildApp(ctx, logger, cfg, registry)
	if err != nil {
		return err
	}
	defer application.close()

	logger.InfoContext(ctx, "mimic starting",
		"version", version,
		"config", configFile,
		"archive", cfg.archive.Type,
		"admin", cfg.admin.listen,
	)

	return application.run(ctx)
}

func buildApp(ctx context.Context, logger *slog.Logger, cfg appConfig, registry *driver.Registry) (*app, error) {
	kernelRuntime := buildKernelRuntime(logger, cfg)

	runtimes, err := registry.BuildEnabled(ctx, cfg.drivers, logger)
	if err != nil {
		return nil, fmt.Errorf("build drivers: %w", err)
	}
	dispatcher, err := driver.NewCompositeSinkDispatcher(runtimes)
	if err != nil {
		return nil, fmt.Errorf("build sink dispatcher: %w", err)
	}
	for _, runtime := range runtimes {
		if err := kernelRuntime.RegisterDriver(runtime.Driver); err != nil {
			return nil, fmt.Errorf("register driver %s: %w", runtime.Driver.Name(), err)
		}
	}
	if err := registerRuntimeServices(kernelRuntime, dispatcher); err != nil {
		return nil, err
	}

	store, err := archive.Open(cfg.archive, logger, os.Getenv)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	application := &app{logger: logger, kernel: kernelRuntime, archive: store}

	coordinator, err := mimic.NewCoordinator(cfg.echo.mimic)
	if err != nil {
		application.close()
		return nil, fmt.Errorf("new coordinator: %w", err)
	}
	application.coordinator = coordinator

	if err := registerRuntimeModules(ctx, kernelRuntime, coordinator, store, cfg.echo); err != nil {
		application.close()
		return nil, err
	}

	if cfg.admin.listen != "" {
		options := []adminhttp.Option{adminhttp.WithLogger(logger)}
		if store != nil {
			options = append(options, adminhttp.WithArchive(store))
		}
		application.admin, err = adminhttp.New(cfg.admin.listen, coordinator, options...)
		if err != nil {
			application.close()
			return nil, fmt.Errorf("new admin server: %w", err)
		}
	}

	return application, nil
}

// run blocks until ctx ends or the kernel or admin server fails.
func (a *app) run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		// the admin surface has nothing to serve once the kernel is gone
		defer cancel()
		if err := a.kernel.Run(groupCtx); err != nil {
			return fmt.Errorf("run kernel: %w", err)
		}
		return nil
	})
	if a.admin != nil {
		group.Go(func() error {
			return a.admin.Run(groupCtx)
		})
	}

	return group.Wait()
}

func (a *app) close() {
	if a.archive == nil {
		return
	}
	if err := a.archive.Close(); err != nil {
		a.logger.Error("close archive failed", "error", err)
	}
}

func buildKernelRuntime(logger *slog.Logger, cfg appConfig) *kernel.Kernel {
	return kernel.New(
		kernel.WithLogger(logger),
		kernel.WithModuleHookTimeout(cfg.moduleHookTimeout),
		kernel.WithShutdownTimeout(cfg.shutdownTimeout),
		kernel.WithDefaultHandlerTimeout(cfg.handlerTimeout),
		kernel.WithDefaultSubscriptionBuffer(cfg.subscriptionBuffer),
		kernel.WithDefaultSubscriptionWorkers(cfg.subscriptionWorkers),
	)
}

func registerRuntimeServices(kernelRuntime *kernel.Kernel, dispatcher *driver.CompositeSinkDispatcher) error {
	if dispatcher == nil {
		return fmt.Errorf("register sink dispatcher service: nil dispatcher")
	}
	if err := kernelRuntime.RegisterService(otogi.ServiceSinkDispatcher, dispatcher); err != nil {
		return fmt.Errorf("register sink dispatcher service: %w", err)
	}
	if err := kernelRuntime.RegisterService(otogi.ServiceReactionCatalog, dispatcher); err != nil {
		return fmt.Errorf("register reaction catalog service: %w", err)
	}

	return nil
}

func registerRuntimeModules(
	ctx context.Context,
	kernelRuntime *kernel.Kernel,
	coordinator *mimic.Coordinator,
	store archive.Store,
	cfg echoConfig,
) error {
	options := []echo.Option{
		echo.WithRestoreOnStart(cfg.restoreOnStart),
		echo.WithSnapshotOnShutdown(cfg.snapshotOnShutdown),
		echo.WithMessageWorkers(cfg.messageWorkers),
		echo.WithMessageTimeout(cfg.messageTimeout),
		echo.WithVersion(version),
	}
	if store != nil {
		options = append(options, echo.WithArchive(store))
	}
	echoModule, err := echo.New(coordinator, options...)
	if err != nil {
		return fmt.Errorf("new echo module: %w", err)
	}
	if err := kernelRuntime.RegisterModule(ctx, echoModule); err != nil {
		return fmt.Errorf("register echo module: %w", err)
	}
	if err := kernelRuntime.RegisterModule(ctx, help.New()); err != nil {
		return fmt.Errorf("register help module: %w", err)
	}

	return nil
}
