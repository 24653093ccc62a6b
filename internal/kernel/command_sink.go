package kernel

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"ex-mimic/pkg/otogi"
)

// newDriverEventSink wraps the bus so drivers publishing messages also yield command events.
func (k *Kernel) newDriverEventSink() otogi.EventSink {
	return &commandDerivingSink{
		base:     k.bus,
		lookup:   k.lookupCommand,
		services: k.services,
		report:   k.cfg.onAsyncError,
	}
}

// commandDerivingSink publishes source events and the command events bound from them.
//
// Unregistered commands pass through as plain messages. Registered commands that
// fail to bind get a usage reply instead of a derived event.
type commandDerivingSink struct {
	base     otogi.EventSink
	lookup   func(prefix otogi.CommandPrefix, name string) (otogi.CommandSpec, bool)
	services otogi.ServiceRegistry
	report   func(context.Context, string, error)
}

// Publish forwards one source event and derives at most one command event from it.
func (s *commandDerivingSink) Publish(ctx context.Context, event *otogi.Event) error {
	if event == nil {
		return fmt.Errorf("publish command deriving sink: nil event")
	}
	if err := s.base.Publish(ctx, event); err != nil {
		return fmt.Errorf("publish source event %s: %w", event.Kind, err)
	}
	if event.Kind != otogi.EventKindMessageCreated || event.Message == nil {
		return nil
	}

	candidate, matched, parseErr := otogi.ParseCommandCandidate(event.Message.Text)
	if !matched {
		return nil
	}
	spec, registered := s.lookup(candidate.Prefix, candidate.Name)
	if !registered {
		return nil
	}
	if parseErr != nil {
		s.replyCommandError(ctx, event, spec, parseErr)
		return nil
	}

	invocation, err := otogi.BindCommand(candidate, spec, event)
	if err != nil {
		s.replyCommandError(ctx, event, spec, err)
		return nil
	}
	if err := s.base.Publish(ctx, derivedCommandEvent(event, invocation)); err != nil {
		return fmt.Errorf("publish derived command %s: %w", invocation.Name, err)
	}

	return nil
}

func (s *commandDerivingSink) replyCommandError(
	ctx context.Context,
	source *otogi.Event,
	spec otogi.CommandSpec,
	cause error,
) {
	dispatcher, err := otogi.ResolveAs[otogi.SinkDispatcher](s.services, otogi.ServiceSinkDispatcher)
	if err != nil {
		s.reportAsync(ctx, "command error reply resolve dispatcher", err)
		return
	}
	target, err := otogi.OutboundTargetFromEvent(source)
	if err != nil {
		s.reportAsync(ctx, "command error reply derive target", err)
		return
	}

	_, err = dispatcher.SendMessage(ctx, otogi.SendMessageRequest{
		Target:           target,
		Text:             fmt.Sprintf("%s\nusage: %s", cause, spec.Usage()),
		ReplyToMessageID: source.Message.ID,
	})
	if err != nil {
		s.reportAsync(ctx, "command error reply send", err)
	}
}

func (s *commandDerivingSink) reportAsync(ctx context.Context, scope string, err error) {
	if s.report != nil {
		s.report(ctx, scope, err)
	}
}

func derivedCommandEvent(source *otogi.Event, invocation otogi.CommandInvocation) *otogi.Event {
	kind := invocation.Prefix.EventKind()
	suffix := "#command"
	if kind == otogi.EventKindSystemCommandReceived {
		suffix = "#system-command"
	}

	message := *source.Message
	message.Entities = slices.Clone(source.Message.Entities)
	invocation.Args = slices.Clone(invocation.Args)
	invocation.Options = slices.Clone(invocation.Options)

	return &otogi.Event{
		ID:           source.ID + suffix,
		Kind:         kind,
		OccurredAt:   source.OccurredAt,
		Platform:     source.Platform,
		Source:       source.Source,
		Conversation: source.Conversation,
		Actor:        source.Actor,
		Message:      &message,
		Command:      &invocation,
		Metadata:     maps.Clone(source.Metadata),
	}
}
