package kernel

import (
	"context"
	"strings"
	"testing"
	"time"

	"ex-mimic/pkg/otogi"
)

func newCommandTestSink(t *testing.T, services otogi.ServiceRegistry, specs ...otogi.CommandSpec) (*commandDerivingSink, <-chan *otogi.Event) {
	t.Helper()

	bus := NewEventBus(8, 1, time.Second, nil)
	t.Cleanup(func() {
		_ = bus.Close(context.Background())
	})

	received := make(chan *otogi.Event, 4)
	_, err := bus.Subscribe(context.Background(), otogi.InterestSet{}, otogi.SubscriptionSpec{Name: "all", Buffer: 4},
		func(_ context.Context, event *otogi.Event) error {
			received <- event
			return nil
		})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	sink := &commandDerivingSink{
		base: bus,
		lookup: func(prefix otogi.CommandPrefix, name string) (otogi.CommandSpec, bool) {
			for _, spec := range specs {
				if spec.Prefix == prefix && spec.Name == name {
					return spec, true
				}
			}
			return otogi.CommandSpec{}, false
		},
		services: services,
	}

	return sink, received
}

func TestCommandDerivingSinkPublishesSourceAndDerivedEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		text     string
		spec     otogi.CommandSpec
		wantKind otogi.EventKind
		wantID   string
		wantArgs string
	}{
		{
			name:     "system command",
			text:     "~proc@mimic 1 4 18",
			spec:     otogi.CommandSpec{Prefix: otogi.CommandPrefixSystem, Name: "proc", Args: []string{"min", "max", "out_of"}, MinArgs: 3, MaxArgs: 3},
			wantKind: otogi.EventKindSystemCommandReceived,
			wantID:   "evt-1#system-command",
			wantArgs: "1 4 18",
		},
		{
			name:     "ordinary command",
			text:     "/help",
			spec:     otogi.CommandSpec{Prefix: otogi.CommandPrefixOrdinary, Name: "help"},
			wantKind: otogi.EventKindCommandReceived,
			wantID:   "evt-1#command",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			sink, received := newCommandTestSink(t, NewServiceRegistry(), testCase.spec)
			source := newMessageEvent("evt-1", "msg-1", testCase.text)
			if err := sink.Publish(context.Background(), source); err != nil {
				t.Fatalf("publish failed: %v", err)
			}

			if first := waitEvent(t, received); first.Kind != otogi.EventKindMessageCreated {
				t.Fatalf("first kind = %s, want %s", first.Kind, otogi.EventKindMessageCreated)
			}
			derived := waitEvent(t, received)
			if derived.Kind != testCase.wantKind || derived.ID != testCase.wantID {
				t.Fatalf("derived = %s %s, want %s %s", derived.Kind, derived.ID, testCase.wantKind, testCase.wantID)
			}
			if got := derived.Command.Value(); got != testCase.wantArgs {
				t.Fatalf("command value = %q, want %q", got, testCase.wantArgs)
			}
			if derived.Command.SourceEventID != source.ID {
				t.Fatalf("source event id = %q, want %q", derived.Command.SourceEventID, source.ID)
			}
			if derived.Message == source.Message {
				t.Fatal("derived event shares the source message")
			}
		})
	}
}

func TestCommandDerivingSinkUnregisteredCommandPublishesOnlySource(t *testing.T) {
	t.Parallel()

	sink, received := newCommandTestSink(t, NewServiceRegistry())
	if err := sink.Publish(context.Background(), newMessageEvent("evt-1", "msg-1", "/unscule please")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if first := waitEvent(t, received); first.ID != "evt-1" {
		t.Fatalf("first id = %s, want evt-1", first.ID)
	}
	select {
	case extra := <-received:
		t.Fatalf("unexpected derived event %s", extra.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCommandDerivingSinkBindingErrorReplies(t *testing.T) {
	t.Parallel()

	services := NewServiceRegistry()
	dispatcher := &captureDispatcher{}
	if err := services.Register(otogi.ServiceSinkDispatcher, dispatcher); err != nil {
		t.Fatalf("register dispatcher failed: %v", err)
	}
	spec := otogi.CommandSpec{Prefix: otogi.CommandPrefixSystem, Name: "dev", Args: []string{"user"}, MinArgs: 1, MaxArgs: 1}
	sink, received := newCommandTestSink(t, services, spec)

	if err := sink.Publish(context.Background(), newMessageEvent("evt-1", "msg-9", "~dev")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	waitEvent(t, received)
	select {
	case extra := <-received:
		t.Fatalf("unexpected derived event %s", extra.ID)
	case <-time.After(50 * time.Millisecond):
	}

	requests := dispatcher.requests()
	if len(requests) != 1 {
		t.Fatalf("replies = %d, want 1", len(requests))
	}
	reply := requests[0]
	if reply.ReplyToMessageID != "msg-9" {
		t.Fatalf("reply to = %q, want msg-9", reply.ReplyToMessageID)
	}
	if !strings.Contains(reply.Text, "want at least 1") || !strings.HasSuffix(reply.Text, "usage: ~dev <user>") {
		t.Fatalf("reply text = %q", reply.Text)
	}
	if reply.Target.Conversation.ID != "chat-1" || reply.Target.Source.ID != "tg-main" {
		t.Fatalf("reply target = %+v", reply.Target)
	}
}

func TestCommandDerivingSinkReportsMissingDispatcher(t *testing.T) {
	t.Parallel()

	sink, received := newCommandTestSink(t, NewServiceRegistry(),
		otogi.CommandSpec{Prefix: otogi.CommandPrefixSystem, Name: "sleep"})
	reported := make(chan string, 1)
	sink.report = func(_ context.Context, scope string, _ error) {
		reported <- scope
	}

	if err := sink.Publish(context.Background(), newMessageEvent("evt-1", "msg-1", "~sleep now")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	waitEvent(t, received)

	select {
	case scope := <-reported:
		if scope != "command error reply resolve dispatcher" {
			t.Fatalf("scope = %q", scope)
		}
	default:
		t.Fatal("missing dispatcher was not reported")
	}
}
