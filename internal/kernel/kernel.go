package kernel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"ex-mimic/pkg/otogi"
)

// Kernel orchestrates modules, drivers and the event bus.
type Kernel struct {
	cfg config

	bus      *EventBus
	services *ServiceRegistry

	mu       sync.RWMutex
	modules  []*moduleRecord
	commands map[string]commandRegistration
	drivers  []otogi.Driver

	runMu   sync.Mutex
	running bool
}

// New creates a kernel and registers its built-in command catalog service.
func New(options ...Option) *Kernel {
	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	k := &Kernel{
		cfg:      cfg,
		bus:      NewEventBus(cfg.subscriptionBuffer, cfg.subscriptionWorker, cfg.handlerTimeout, cfg.onAsyncError),
		services: NewServiceRegistry(),
		commands: make(map[string]commandRegistration),
	}
	if err := k.services.Register(otogi.ServiceCommandCatalog, &commandCatalog{kernel: k}); err != nil {
		cfg.onAsyncError(context.Background(), "register command catalog service", err)
	}
	if err := k.services.Register(otogi.ServiceLogger, cfg.logger); err != nil {
		cfg.onAsyncError(context.Background(), "register logger service", err)
	}

	return k
}

// EventBus exposes the kernel event bus to integration code.
func (k *Kernel) EventBus() otogi.EventBus {
	return k.bus
}

// Services exposes the kernel service registry.
func (k *Kernel) Services() otogi.ServiceRegistry {
	return k.services
}

// RegisterService registers a runtime service singleton.
func (k *Kernel) RegisterService(name string, service any) error {
	if err := k.services.Register(name, service); err != nil {
		return fmt.Errorf("register service %s: %w", name, err)
	}

	return nil
}

// RegisterModule validates a module spec, claims its commands, runs OnRegister
// and subscribes its declared handlers. A failure at any step rolls back.
func (k *Kernel) RegisterModule(ctx context.Context, module otogi.Module) error {
	if module == nil {
		return fmt.Errorf("register module: nil module")
	}
	name := module.Name()
	if name == "" {
		return fmt.Errorf("register module: empty module name")
	}
	spec := module.Spec()
	if err := validateModuleSpec(spec); err != nil {
		return fmt.Errorf("register module %s: %w", name, err)
	}

	record := &moduleRecord{name: name, module: module, capabilities: spec.Capabilities()}
	if err := k.checkRequiredServices(record.capabilities); err != nil {
		return fmt.Errorf("register module %s: %w", name, err)
	}

	k.mu.Lock()
	if slices.ContainsFunc(k.modules, func(existing *moduleRecord) bool { return existing.name == name }) {
		k.mu.Unlock()
		return fmt.Errorf("register module %s: %w", name, otogi.ErrModuleAlreadyRegistered)
	}
	k.modules = append(k.modules, record)
	k.mu.Unlock()

	if err := k.registerModuleCommands(name, spec.Commands); err != nil {
		k.rollbackModule(ctx, record)
		return fmt.Errorf("register module %s: %w", name, err)
	}

	hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
	defer cancel()

	runtime := &moduleRuntime{record: record, services: k.services, bus: k.bus}
	if registrar, ok := module.(otogi.ModuleRegistrar); ok {
		if err := runSafely("module "+name+" OnRegister", func() error {
			return registrar.OnRegister(hookCtx, runtime)
		}); err != nil {
			k.rollbackModule(ctx, record)
			return fmt.Errorf("register module %s: %w", name, err)
		}
	}

	for index, declared := range spec.Handlers {
		subscription := declared.Subscription
		if subscription.Name == "" {
			subscription.Name = fmt.Sprintf("%s-handler-%d", name, index+1)
		}
		if _, err := runtime.Subscribe(hookCtx, declared.Capability.Interest, subscription, declared.Handler); err != nil {
			k.rollbackModule(ctx, record)
			return fmt.Errorf("register module %s capability %s: %w", name, declared.Capability.Name, err)
		}
	}

	return nil
}

// RegisterDriver registers a platform driver.
func (k *Kernel) RegisterDriver(driver otogi.Driver) error {
	if driver == nil {
		return fmt.Errorf("register driver: nil driver")
	}
	name := driver.Name()
	if name == "" {
		return fmt.Errorf("register driver: empty name")
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if slices.ContainsFunc(k.drivers, func(existing otogi.Driver) bool { return existing.Name() == name }) {
		return fmt.Errorf("register driver %s: %w", name, otogi.ErrDriverAlreadyRegistered)
	}
	k.drivers = append(k.drivers, driver)

	return nil
}

// Run starts modules and drivers and blocks until ctx ends or a driver fails.
//
// Shutdown always runs, even after the parent context is canceled.
func (k *Kernel) Run(ctx context.Context) error {
	k.runMu.Lock()
	if k.running {
		k.runMu.Unlock()
		return fmt.Errorf("kernel run: already running")
	}
	k.running = true
	k.runMu.Unlock()
	defer func() {
		k.runMu.Lock()
		k.running = false
		k.runMu.Unlock()
	}()

	if err := k.startModules(ctx); err != nil {
		return errors.Join(err, k.shutdownAll(ctx))
	}

	runErr := k.runDrivers(ctx)
	if isContextCancellation(runErr) {
		runErr = nil
	}

	return errors.Join(runErr, k.shutdownAll(ctx))
}

func (k *Kernel) startModules(ctx context.Context) error {
	for _, record := range k.moduleSnapshot() {
		hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
		err := runSafely("module "+record.name+" OnStart", func() error {
			return record.module.OnStart(hookCtx)
		})
		cancel()
		if err != nil {
			return fmt.Errorf("start module %s: %w", record.name, err)
		}
	}

	return nil
}

// runDrivers runs every driver until ctx ends; the first fatal error cancels the rest.
func (k *Kernel) runDrivers(ctx context.Context) error {
	k.mu.RLock()
	drivers := slices.Clone(k.drivers)
	k.mu.RUnlock()

	group, groupCtx := errgroup.WithContext(ctx)
	sink := k.newDriverEventSink()
	for _, driver := range drivers {
		group.Go(func() error {
			err := runSafely("driver "+driver.Name()+" Start", func() error {
				return driver.Start(groupCtx, sink)
			})
			if err != nil && !isContextCancellation(err) {
				return fmt.Errorf("run driver %s: %w", driver.Name(), err)
			}
			return nil
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}

	return ctx.Err()
}

// shutdownAll tears down drivers, modules and the bus within the shutdown timeout.
func (k *Kernel) shutdownAll(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.shutdownTimeout)
	defer cancel()

	k.mu.RLock()
	drivers := slices.Clone(k.drivers)
	k.mu.RUnlock()

	var shutdownErr error
	for _, driver := range slices.Backward(drivers) {
		err := runSafely("driver "+driver.Name()+" Shutdown", func() error {
			return driver.Shutdown(shutdownCtx)
		})
		shutdownErr = errors.Join(shutdownErr, err)
	}
	for _, record := range slices.Backward(k.moduleSnapshot()) {
		if err := record.closeSubscriptions(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown module %s subscriptions: %w", record.name, err))
		}
		hookCtx, hookCancel := context.WithTimeout(shutdownCtx, k.cfg.moduleHookTimeout)
		err := runSafely("module "+record.name+" OnShutdown", func() error {
			return record.module.OnShutdown(hookCtx)
		})
		hookCancel()
		shutdownErr = errors.Join(shutdownErr, err)
	}
	shutdownErr = errors.Join(shutdownErr, k.bus.Close(shutdownCtx))

	if shutdownErr != nil {
		return fmt.Errorf("kernel shutdown: %w", shutdownErr)
	}

	return nil
}

func (k *Kernel) moduleSnapshot() []*moduleRecord {
	k.mu.RLock()
	defer k.mu.RUnlock()

	return slices.Clone(k.modules)
}

// rollbackModule removes a partially registered module.
func (k *Kernel) rollbackModule(ctx context.Context, record *moduleRecord) {
	rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.moduleHookTimeout)
	defer cancel()

	if err := record.closeSubscriptions(rollbackCtx); err != nil {
		k.cfg.onAsyncError(rollbackCtx, "rollback module "+record.name, err)
	}
	k.unregisterModuleCommands(record.name)

	k.mu.Lock()
	defer k.mu.Unlock()
	k.modules = slices.DeleteFunc(k.modules, func(existing *moduleRecord) bool { return existing == record })
}

func (k *Kernel) checkRequiredServices(capabilities []otogi.Capability) error {
	for _, capability := range capabilities {
		for _, serviceName := range capability.RequiredServices {
			if _, err := k.services.Resolve(serviceName); err != nil {
				return fmt.Errorf("capability %s requires service %s: %w", capability.Name, serviceName, err)
			}
		}
	}

	return nil
}

// validateModuleSpec rejects duplicate capability, subscription and command declarations.
func validateModuleSpec(spec otogi.ModuleSpec) error {
	capabilities := make(map[string]struct{})
	subscriptions := make(map[string]struct{})
	commands := make(map[string]struct{})

	claim := func(seen map[string]struct{}, key string) bool {
		if _, exists := seen[key]; exists {
			return false
		}
		seen[key] = struct{}{}
		return true
	}

	for index, handler := range spec.Handlers {
		switch {
		case handler.Capability.Name == "":
			return fmt.Errorf("module handler %d: empty capability name", index)
		case handler.Handler == nil:
			return fmt.Errorf("module handler %s: nil handler", handler.Capability.Name)
		case !claim(capabilities, handler.Capability.Name):
			return fmt.Errorf("module handler %d: duplicate capability name %s", index, handler.Capability.Name)
		case handler.Subscription.Name != "" && !claim(subscriptions, handler.Subscription.Name):
			return fmt.Errorf("module handler %s: duplicate subscription name %s", handler.Capability.Name, handler.Subscription.Name)
		}
	}
	for index, capability := range spec.AdditionalCapabilities {
		if capability.Name == "" {
			return fmt.Errorf("additional capability %d: empty capability name", index)
		}
		if !claim(capabilities, capability.Name) {
			return fmt.Errorf("additional capability %d: duplicate capability name %s", index, capability.Name)
		}
	}
	for index, command := range spec.Commands {
		if err := command.Validate(); err != nil {
			return fmt.Errorf("module command %d: %w", index, err)
		}
		if key := commandKey(command.Prefix, command.Name); !claim(commands, key) {
			return fmt.Errorf("module command %d: duplicate command %s", index, key)
		}
	}

	return nil
}

func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
