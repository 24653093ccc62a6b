package driver

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"ex-mimic/pkg/otogi"
)

type stubDriver struct {
	name string
}

func (d stubDriver) Name() string { return d.name }
func (stubDriver) Start(context.Context, otogi.EventSink) error { return nil }
func (stubDriver) Shutdown(context.Context) error { return nil }

type stubSinkDispatcher struct {
	id        string
	sent      []otogi.SendMessageRequest
	typing    int
	reactions []string
}

func (d *stubSinkDispatcher) SendMessage(_ context.Context, request otogi.SendMessageRequest) (*otogi.OutboundMessage, error) {
	d.sent = append(d.sent, request)
	return &otogi.OutboundMessage{ID: d.id + "-1", Target: request.Target}, nil
}

func (*stubSinkDispatcher) SetReaction(context.Context, otogi.SetReactionRequest) error { return nil }

func (d *stubSinkDispatcher) SendTyping(context.Context, otogi.SendTypingRequest) error {
	d.typing++
	return nil
}

func (d *stubSinkDispatcher) ListReactions(context.Context, otogi.OutboundTarget) ([]string, error) {
	return d.reactions, nil
}

func stubRegistry(t *testing.T) *Registry {
	t.Helper()

	registry, err := NewRegistry([]Descriptor{{
		Type:     "stub",
		Platform: otogi.PlatformTelegram,
		Builder: func(_ context.Context, definition Definition, _ *slog.Logger) (Runtime, error) {
			if string(definition.Config) == "fail" {
				return Runtime{}, errors.New("boom")
			}
			dispatcher := &stubSinkDispatcher{id: definition.Name}
			return Runtime{Driver: stubDriver{name: definition.Name}, SinkDispatcher: dispatcher, ReactionCatalog: dispatcher}, nil
		},
	}})
	if err != nil {
		t.Fatalf("new registry failed: %v", err)
	}

	return registry
}

func TestRegistryBuildEnabled(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		definitions []Definition
		wantIDs     []string
		wantErr     bool
	}{
		{
			name: "skips disabled and fills source",
			definitions: []Definition{
				{Name: "a", Type: "stub", Enabled: true},
				{Name: "b", Type: "stub", Enabled: false},
			},
			wantIDs: []string{"a"},
		},
		{
			name:        "duplicate name",
			definitions: []Definition{{Name: "a", Type: "stub", Enabled: true}, {Name: "a", Type: "stub", Enabled: true}},
			wantErr:     true,
		},
		{
			name:        "unknown type",
			definitions: []Definition{{Name: "a", Type: "irc", Enabled: true}},
			wantErr:     true,
		},
		{
			name:        "builder failure",
			definitions: []Definition{{Name: "a", Type: "stub", Enabled: true, Config: []byte("fail")}},
			wantErr:     true,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			runtimes, err := stubRegistry(t).BuildEnabled(context.Background(), testCase.definitions, slog.Default())
			if testCase.wantErr {
				if err == nil {
					t.Fatal("expected build error")
				}
				return
			}
			if err != nil {
				t.Fatalf("build failed: %v", err)
			}
			if len(runtimes) != len(testCase.wantIDs) {
				t.Fatalf("runtimes = %d, want %d", len(runtimes), len(testCase.wantIDs))
			}
			for index, runtime := range runtimes {
				want := otogi.EventSource{Platform: otogi.PlatformTelegram, ID: testCase.wantIDs[index]}
				if runtime.Source != want {
					t.Fatalf("source = %+v, want %+v", runtime.Source, want)
				}
			}
		})
	}
}

func TestCompositeSinkDispatcherRoutesBySource(t *testing.T) {
	t.Parallel()

	first := &stubSinkDispatcher{id: "a", reactions: []string{"👍"}}
	second := &stubSinkDispatcher{id: "b"}
	composite, err := NewCompositeSinkDispatcher([]Runtime{
		{Source: otogi.EventSource{Platform: otogi.PlatformTelegram, ID: "a"}, SinkDispatcher: first, ReactionCatalog: first},
		{Source: otogi.EventSource{Platform: otogi.PlatformTelegram, ID: "b"}, SinkDispatcher: second},
	})
	if err != nil {
		t.Fatalf("new composite failed: %v", err)
	}

	target := otogi.OutboundTarget{
		Conversation: otogi.Conversation{ID: "9", Type: otogi.ConversationTypeGroup},
		Source:       otogi.EventSource{Platform: otogi.PlatformTelegram, ID: "b"},
	}
	message, err := composite.SendMessage(context.Background(), otogi.SendMessageRequest{Target: target, Text: "hi"})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if message.ID != "b-1" || len(second.sent) != 1 || len(first.sent) != 0 {
		t.Fatalf("routed to wrong driver: id=%s first=%d second=%d", message.ID, len(first.sent), len(second.sent))
	}

	reactions, err := composite.ListReactions(context.Background(), target)
	if err != nil || reactions != nil {
		t.Fatalf("reactions without catalog = (%v, %v), want (nil, nil)", reactions, err)
	}

	target.Source.ID = "a"
	reactions, err = composite.ListReactions(context.Background(), target)
	if err != nil || len(reactions) != 1 {
		t.Fatalf("reactions = (%v, %v), want [👍]", reactions, err)
	}

	target.Source.ID = ""
	if err := composite.SendTyping(context.Background(), otogi.SendTypingRequest{Target: target}); !errors.Is(err, otogi.ErrInvalidOutboundRequest) {
		t.Fatalf("ambiguous error = %v, want ErrInvalidOutboundRequest", err)
	}

	target.Source.ID = "zzz"
	if err := composite.SendTyping(context.Background(), otogi.SendTypingRequest{Target: target}); !errors.Is(err, otogi.ErrOutboundUnsupported) {
		t.Fatalf("unknown source error = %v, want ErrOutboundUnsupported", err)
	}
}

func TestCompositeSinkDispatcherSingleDriverFallback(t *testing.T) {
	t.Parallel()

	only := &stubSinkDispatcher{id: "a"}
	composite, err := NewCompositeSinkDispatcher([]Runtime{
		{Source: otogi.EventSource{Platform: otogi.PlatformTelegram, ID: "a"}, SinkDispatcher: only},
	})
	if err != nil {
		t.Fatalf("new composite failed: %v", err)
	}
	target := otogi.OutboundTarget{Conversation: otogi.Conversation{ID: "9", Type: otogi.ConversationTypeGroup}}
	if err := composite.SendTyping(context.Background(), otogi.SendTypingRequest{Target: target}); err != nil {
		t.Fatalf("send typing failed: %v", err)
	}
	if only.typing != 1 {
		t.Fatalf("typing = %d, want 1", only.typing)
	}

	if _, err := NewCompositeSinkDispatcher([]Runtime{
		{Source: otogi.EventSource{ID: "a"}, SinkDispatcher: only},
		{Source: otogi.EventSource{ID: "a"}, SinkDispatcher: only},
	}); err == nil {
		t.Fatal("expected duplicate source error")
	}
}
