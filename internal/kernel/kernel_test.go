package kernel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"ex-mimic/pkg/otogi"
)

func TestRegisterModuleRequiredServices(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		registerArchive bool
		wantErr         bool
	}{
		{name: "missing required service fails", wantErr: true},
		{name: "present required service succeeds", registerArchive: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			k := New()
			t.Cleanup(func() { _ = k.EventBus().Close(context.Background()) })
			if testCase.registerArchive {
				if err := k.RegisterService("archive", struct{}{}); err != nil {
					t.Fatalf("register service failed: %v", err)
				}
			}

			module := &stubModule{
				name: "needs-archive",
				spec: otogi.ModuleSpec{
					AdditionalCapabilities: []otogi.Capability{
						{Name: "snapshots", RequiredServices: []string{"archive", otogi.ServiceLogger}},
					},
				},
			}
			err := k.RegisterModule(context.Background(), module)
			if testCase.wantErr != (err != nil) {
				t.Fatalf("register module error = %v, wantErr %v", err, testCase.wantErr)
			}
		})
	}
}

func TestKernelRunCallsLifecycleHooks(t *testing.T) {
	t.Parallel()

	k := New()
	module := &stubModule{name: "lifecycle"}
	if err := k.RegisterModule(context.Background(), module); err != nil {
		t.Fatalf("register module failed: %v", err)
	}
	driver := &stubDriver{name: "stub-driver"}
	if err := k.RegisterDriver(driver); err != nil {
		t.Fatalf("register driver failed: %v", err)
	}
	if err := k.RegisterDriver(&stubDriver{name: "stub-driver"}); !errors.Is(err, otogi.ErrDriverAlreadyRegistered) {
		t.Fatalf("duplicate driver error = %v, want ErrDriverAlreadyRegistered", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- k.Run(ctx) }()

	eventually(t, 2*time.Second, func() bool { return driver.started.Load() == 1 })
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("kernel run failed: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("kernel run did not exit")
	}

	for name, count := range map[string]int32{
		"OnRegister": module.registered.Load(),
		"OnStart":    module.started.Load(),
		"OnShutdown": module.shutdown.Load(),
		"Shutdown":   driver.stopped.Load(),
	} {
		if count != 1 {
			t.Fatalf("%s calls = %d, want 1", name, count)
		}
	}
}

func TestKernelRunReturnsFatalDriverError(t *testing.T) {
	t.Parallel()

	k := New()
	fatal := errors.New("session revoked")
	if err := k.RegisterDriver(&stubDriver{name: "broken", startErr: fatal}); err != nil {
		t.Fatalf("register driver failed: %v", err)
	}
	healthy := &stubDriver{name: "healthy"}
	if err := k.RegisterDriver(healthy); err != nil {
		t.Fatalf("register driver failed: %v", err)
	}

	err := k.Run(context.Background())
	if !errors.Is(err, fatal) {
		t.Fatalf("run error = %v, want %v", err, fatal)
	}
	if healthy.stopped.Load() != 1 {
		t.Fatalf("healthy driver Shutdown calls = %d, want 1", healthy.stopped.Load())
	}
}

func TestKernelRunStopsOnModuleStartFailure(t *testing.T) {
	t.Parallel()

	k := New()
	module := &stubModule{
		name:    "fails",
		onStart: func(context.Context) error { return errors.New("no corpus") },
	}
	if err := k.RegisterModule(context.Background(), module); err != nil {
		t.Fatalf("register module failed: %v", err)
	}

	err := k.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "start module fails") {
		t.Fatalf("run error = %v, want start failure", err)
	}
	if module.shutdown.Load() != 1 {
		t.Fatalf("OnShutdown calls = %d, want 1", module.shutdown.Load())
	}
}

func TestRegisterModuleBindsDeclarativeHandlers(t *testing.T) {
	t.Parallel()

	k := New()
	t.Cleanup(func() { _ = k.EventBus().Close(context.Background()) })

	handled := make(chan *otogi.Event, 1)
	module := &stubModule{
		name: "declarative",
		spec: otogi.ModuleSpec{
			Handlers: []otogi.ModuleHandler{{
				Capability: otogi.Capability{
					Name:     "observe",
					Interest: otogi.InterestSet{Kinds: []otogi.EventKind{otogi.EventKindMessageCreated}},
				},
				Subscription: otogi.SubscriptionSpec{Buffer: 1, Workers: 1},
				Handler: func(_ context.Context, event *otogi.Event) error {
					handled <- event
					return nil
				},
			}},
		},
	}
	if err := k.RegisterModule(context.Background(), module); err != nil {
		t.Fatalf("register module failed: %v", err)
	}
	if err := k.RegisterModule(context.Background(), &stubModule{name: "declarative"}); !errors.Is(err, otogi.ErrModuleAlreadyRegistered) {
		t.Fatalf("duplicate module error = %v, want ErrModuleAlreadyRegistered", err)
	}

	if err := k.EventBus().Publish(context.Background(), newTestEvent("e1", otogi.EventKindMessageCreated)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if got := waitEvent(t, handled); got.ID != "e1" {
		t.Fatalf("handled event id = %s, want e1", got.ID)
	}
}

func TestRegisterModuleImperativeSubscriptionCapabilityGate(t *testing.T) {
	t.Parallel()

	commandInterest := otogi.InterestSet{
		Kinds:          []otogi.EventKind{otogi.EventKindSystemCommandReceived},
		RequireCommand: true,
		CommandNames:   []string{"proc"},
	}
	tests := []struct {
		name    string
		spec    otogi.ModuleSpec
		wantErr bool
	}{
		{name: "missing capability fails", wantErr: true},
		{
			name: "covering capability allows subscribe",
			spec: otogi.ModuleSpec{AdditionalCapabilities: []otogi.Capability{
				{Name: "system-commands", Interest: otogi.InterestSet{
					Kinds: []otogi.EventKind{otogi.EventKindSystemCommandReceived},
				}},
			}},
		},
		{
			name: "narrower capability rejects subscribe",
			spec: otogi.ModuleSpec{AdditionalCapabilities: []otogi.Capability{
				{Name: "sleep-only", Interest: otogi.InterestSet{
					Kinds:        []otogi.EventKind{otogi.EventKindSystemCommandReceived},
					CommandNames: []string{"sleep"},
				}},
			}},
			wantErr: true,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			k := New()
			t.Cleanup(func() { _ = k.EventBus().Close(context.Background()) })

			module := &stubModule{
				name: "imperative",
				spec: testCase.spec,
				onRegister: func(ctx context.Context, runtime otogi.ModuleRuntime) error {
					_, err := runtime.Subscribe(ctx, commandInterest, otogi.SubscriptionSpec{Name: "proc"},
						func(context.Context, *otogi.Event) error { return nil })
					if err != nil {
						return fmt.Errorf("subscribe proc: %w", err)
					}
					return nil
				},
			}
			err := k.RegisterModule(context.Background(), module)
			if testCase.wantErr != (err != nil) {
				t.Fatalf("register module error = %v, wantErr %v", err, testCase.wantErr)
			}
			if testCase.wantErr && !errors.Is(err, otogi.ErrInvalidSubscription) {
				t.Fatalf("register module error = %v, want ErrInvalidSubscription", err)
			}
		})
	}
}

func TestRegisterModuleSpecValidation(t *testing.T) {
	t.Parallel()

	noop := func(context.Context, *otogi.Event) error { return nil }
	proc := otogi.CommandSpec{Prefix: otogi.CommandPrefixSystem, Name: "proc", MaxArgs: 3}
	tests := []struct {
		name    string
		spec    otogi.ModuleSpec
		wantErr string
	}{
		{
			name:    "empty capability name",
			spec:    otogi.ModuleSpec{Handlers: []otogi.ModuleHandler{{Handler: noop}}},
			wantErr: "empty capability name",
		},
		{
			name: "nil handler",
			spec: otogi.ModuleSpec{Handlers: []otogi.ModuleHandler{{
				Capability: otogi.Capability{Name: "observe"},
			}}},
			wantErr: "nil handler",
		},
		{
			name: "duplicate capability",
			spec: otogi.ModuleSpec{
				Handlers:               []otogi.ModuleHandler{{Capability: otogi.Capability{Name: "observe"}, Handler: noop}},
				AdditionalCapabilities: []otogi.Capability{{Name: "observe"}},
			},
			wantErr: "duplicate capability name",
		},
		{
			name:    "duplicate command",
			spec:    otogi.ModuleSpec{Commands: []otogi.CommandSpec{proc, proc}},
			wantErr: "duplicate command ~proc",
		},
		{
			name:    "invalid command",
			spec:    otogi.ModuleSpec{Commands: []otogi.CommandSpec{{Prefix: "!", Name: "proc"}}},
			wantErr: "module command 0",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			k := New()
			t.Cleanup(func() { _ = k.EventBus().Close(context.Background()) })

			err := k.RegisterModule(context.Background(), &stubModule{name: "invalid", spec: testCase.spec})
			if err == nil || !strings.Contains(err.Error(), testCase.wantErr) {
				t.Fatalf("register module error = %v, want containing %q", err, testCase.wantErr)
			}
		})
	}
}

func TestRegisterModuleRollsBackCommandsOnFailure(t *testing.T) {
	t.Parallel()

	k := New()
	t.Cleanup(func() { _ = k.EventBus().Close(context.Background()) })

	sleep := otogi.CommandSpec{Prefix: otogi.CommandPrefixSystem, Name: "sleep"}
	failing := &stubModule{
		name:       "failing",
		spec:       otogi.ModuleSpec{Commands: []otogi.CommandSpec{sleep}},
		onRegister: func(context.Context, otogi.ModuleRuntime) error { return errors.New("boom") },
	}
	if err := k.RegisterModule(context.Background(), failing); err == nil {
		t.Fatal("expected registration failure")
	}
	if _, ok := k.lookupCommand(otogi.CommandPrefixSystem, "sleep"); ok {
		t.Fatal("command survived rollback")
	}

	if err := k.RegisterModule(context.Background(), &stubModule{
		name: "replacement",
		spec: otogi.ModuleSpec{Commands: []otogi.CommandSpec{sleep}},
	}); err != nil {
		t.Fatalf("register replacement failed: %v", err)
	}
	err := k.RegisterModule(context.Background(), &stubModule{
		name: "conflict",
		spec: otogi.ModuleSpec{Commands: []otogi.CommandSpec{sleep}},
	})
	if err == nil || !strings.Contains(err.Error(), "already registered by module replacement") {
		t.Fatalf("conflict error = %v", err)
	}
}

func TestKernelProvidesCommandCatalogService(t *testing.T) {
	t.Parallel()

	k := New()
	t.Cleanup(func() { _ = k.EventBus().Close(context.Background()) })

	module := &stubModule{
		name: "echo",
		spec: otogi.ModuleSpec{Commands: []otogi.CommandSpec{
			{Prefix: otogi.CommandPrefixSystem, Name: "Sleep"},
			{Prefix: otogi.CommandPrefixOrdinary, Name: "help"},
			{Prefix: otogi.CommandPrefixSystem, Name: "dev", Args: []string{"user"}, MinArgs: 1, MaxArgs: 1},
		}},
	}
	if err := k.RegisterModule(context.Background(), module); err != nil {
		t.Fatalf("register module failed: %v", err)
	}

	catalog, err := otogi.ResolveAs[otogi.CommandCatalog](k.Services(), otogi.ServiceCommandCatalog)
	if err != nil {
		t.Fatalf("resolve catalog failed: %v", err)
	}
	commands, err := catalog.ListCommands(context.Background())
	if err != nil {
		t.Fatalf("list commands failed: %v", err)
	}

	var usages []string
	for _, command := range commands {
		if command.ModuleName != "echo" {
			t.Fatalf("module name = %q, want echo", command.ModuleName)
		}
		usages = append(usages, command.Usage())
	}
	want := []string{"/help", "~dev <user>", "~sleep"}
	if strings.Join(usages, ",") != strings.Join(want, ",") {
		t.Fatalf("usages = %v, want %v", usages, want)
	}
}
