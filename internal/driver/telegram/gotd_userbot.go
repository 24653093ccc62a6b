package telegram

import (
	"context"
	"fmt"
)

// GotdSession runs fn inside one connected gotd client lifecycle.
type GotdSession interface {
	Run(ctx context.Context, fn func(runCtx context.Context) error) error
}

// GotdRawUpdateStream exposes raw gotd updates for an active session.
type GotdRawUpdateStream interface {
	Updates(ctx context.Context) (<-chan any, error)
}

// GotdUpdateMapper maps raw gotd values into adapter updates.
//
// The accepted flag is false for values the adapter intentionally ignores.
type GotdUpdateMapper interface {
	Map(ctx context.Context, raw any) (Update, bool, error)
}

// GotdUserbotSource is an UpdateSource backed by a gotd session.
type GotdUserbotSource struct {
	session GotdSession
	stream  GotdRawUpdateStream
	mapper  GotdUpdateMapper
	onError func(context.Context, error)
}

// NewGotdUserbotSource creates a gotd backed source. onError receives mapping
// failures, which are skipped rather than ending the session.
func NewGotdUserbotSource(
	session GotdSession,
	stream GotdRawUpdateStream,
	mapper GotdUpdateMapper,
	onError func(context.Context, error),
) (*GotdUserbotSource, error) {
	switch {
	case session == nil:
		return nil, fmt.Errorf("new gotd userbot source: nil session")
	case stream == nil:
		return nil, fmt.Errorf("new gotd userbot source: nil stream")
	case mapper == nil:
		return nil, fmt.Errorf("new gotd userbot source: nil mapper")
	}
	if onError == nil {
		onError = func(context.Context, error) {}
	}

	return &GotdUserbotSource{session: session, stream: stream, mapper: mapper, onError: onError}, nil
}

// Consume runs the session and forwards every accepted update to handler.
func (s *GotdUserbotSource) Consume(ctx context.Context, handler UpdateHandler) error {
	if handler == nil {
		return fmt.Errorf("consume gotd updates: nil handler")
	}

	err := s.session.Run(ctx, func(runCtx context.Context) error {
		updates, err := s.stream.Updates(runCtx)
		if err != nil {
			return fmt.Errorf("open gotd update stream: %w", err)
		}

		for {
			select {
			case <-runCtx.Done():
				return nil
			case raw, ok := <-updates:
				if !ok {
					return nil
				}
				mapped, accepted, err := s.mapSafely(runCtx, raw)
				if err != nil {
					s.onError(runCtx, err)
					continue
				}
				if !accepted {
					continue
				}
				if err := handler(runCtx, mapped); err != nil {
					return fmt.Errorf("handle gotd update %s: %w", mapped.ID, err)
				}
			}
		}
	})
	if err != nil {
		return fmt.Errorf("consume gotd updates: %w", err)
	}

	return nil
}

func (s *GotdUserbotSource) mapSafely(ctx context.Context, raw any) (mapped Update, accepted bool, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("map gotd update panic: %v", recovered)
		}
	}()

	mapped, accepted, err = s.mapper.Map(ctx, raw)
	if err != nil {
		return Update{}, false, fmt.Errorf("map gotd update: %w", err)
	}

	return mapped, accepted, nil
}
