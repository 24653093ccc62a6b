package kernel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"ex-mimic/pkg/otogi"
)

// EventBus is the kernel asynchronous pub/sub implementation.
//
// Every subscription owns a bounded queue drained by its own workers, so a slow
// module only ever delays itself.
type EventBus struct {
	mu            sync.RWMutex
	nextID        atomic.Int64
	closed        bool
	subscriptions map[int64]*busSubscription

	defaults     otogi.SubscriptionSpec
	onAsyncError func(context.Context, string, error)
}

// NewEventBus creates an asynchronous event bus with bounded queues.
func NewEventBus(
	defaultBuffer int,
	defaultWorkers int,
	defaultHandlerTimeout time.Duration,
	onAsyncError func(context.Context, string, error),
) *EventBus {
	return &EventBus{
		subscriptions: make(map[int64]*busSubscription),
		defaults: otogi.SubscriptionSpec{
			Buffer:         defaultBuffer,
			Workers:        defaultWorkers,
			HandlerTimeout: defaultHandlerTimeout,
			Backpressure:   otogi.BackpressureDropNewest,
		},
		onAsyncError: onAsyncError,
	}
}

// Publish validates event and fans it out to every matching subscriber.
//
// Drops caused by backpressure are reported asynchronously and do not fail the publish.
func (b *EventBus) Publish(ctx context.Context, event *otogi.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("publish event %s: bus closed", event.Kind)
	}
	subs := make([]*busSubscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		if sub.interest.Matches(event) {
			subs = append(subs, sub)
		}
	}
	b.mu.RUnlock()

	var publishErr error
	for _, sub := range subs {
		err := sub.enqueue(ctx, event)
		switch {
		case err == nil:
		case errors.Is(err, otogi.ErrEventDropped), errors.Is(err, otogi.ErrSubscriptionClosed):
			b.reportAsyncError(ctx, sub.spec.Name, err)
		default:
			publishErr = errors.Join(publishErr, err)
		}
	}
	if publishErr != nil {
		return fmt.Errorf("publish event %s: %w", event.Kind, publishErr)
	}

	return nil
}

// Subscribe registers a bounded asynchronous consumer and starts its workers.
func (b *EventBus) Subscribe(
	ctx context.Context,
	interest otogi.InterestSet,
	spec otogi.SubscriptionSpec,
	handler otogi.EventHandler,
) (otogi.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", spec.Name, err)
	}
	if handler == nil {
		return nil, fmt.Errorf("subscribe %s: nil handler", spec.Name)
	}

	id := b.nextID.Add(1)
	spec = b.withDefaults(spec, id)
	if !validBackpressure(spec.Backpressure) {
		return nil, fmt.Errorf("subscribe %s: backpressure %q: %w", spec.Name, spec.Backpressure, otogi.ErrInvalidSubscription)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("subscribe %s: bus closed", spec.Name)
	}
	sub := newBusSubscription(id, interest, spec, handler, b)
	b.subscriptions[id] = sub

	return sub, nil
}

// Close stops all subscriptions and rejects further publishes and subscribes.
func (b *EventBus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subscriptions
	b.subscriptions = make(map[int64]*busSubscription)
	b.mu.Unlock()

	var closeErr error
	for _, sub := range subs {
		closeErr = errors.Join(closeErr, sub.shutdown(ctx))
	}
	if closeErr != nil {
		return fmt.Errorf("close event bus: %w", closeErr)
	}

	return nil
}

func (b *EventBus) withDefaults(spec otogi.SubscriptionSpec, id int64) otogi.SubscriptionSpec {
	if spec.Name == "" {
		spec.Name = fmt.Sprintf("subscription-%d", id)
	}
	if spec.Buffer <= 0 {
		spec.Buffer = b.defaults.Buffer
	}
	if spec.Workers <= 0 {
		spec.Workers = b.defaults.Workers
	}
	if spec.HandlerTimeout <= 0 {
		spec.HandlerTimeout = b.defaults.HandlerTimeout
	}
	if spec.Backpressure == "" {
		spec.Backpressure = b.defaults.Backpressure
	}

	return spec
}

func validBackpressure(policy otogi.BackpressurePolicy) bool {
	switch policy {
	case otogi.BackpressureDropNewest, otogi.BackpressureDropOldest, otogi.BackpressureBlock:
		return true
	default:
		return false
	}
}

func (b *EventBus) unsubscribe(ctx context.Context, id int64) error {
	b.mu.Lock()
	sub, found := b.subscriptions[id]
	delete(b.subscriptions, id)
	b.mu.Unlock()

	if !found {
		return nil
	}
	if err := sub.shutdown(ctx); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", sub.spec.Name, err)
	}

	return nil
}

func (b *EventBus) reportAsyncError(ctx context.Context, scope string, err error) {
	if b.onAsyncError != nil {
		b.onAsyncError(ctx, scope, err)
	}
}

// busSubscription owns the queue and workers of one subscriber.
// Workers stop on context cancellation; the queue channel is never closed.
type busSubscription struct {
	id       int64
	interest otogi.InterestSet
	spec     otogi.SubscriptionSpec
	handler  otogi.EventHandler
	queue    chan *otogi.Event
	ctx      context.Context
	cancel   context.CancelFunc
	workers  sync.WaitGroup
	closed   atomic.Bool
	bus      *EventBus
}

func newBusSubscription(
	id int64,
	interest otogi.InterestSet,
	spec otogi.SubscriptionSpec,
	handler otogi.EventHandler,
	bus *EventBus,
) *busSubscription {
	interest.Kinds = slices.Clone(interest.Kinds)
	interest.CommandNames = slices.Clone(interest.CommandNames)

	ctx, cancel := context.WithCancel(context.Background())
	sub := &busSubscription{
		id:       id,
		interest: interest,
		spec:     spec,
		handler:  handler,
		queue:    make(chan *otogi.Event, spec.Buffer),
		ctx:      ctx,
		cancel:   cancel,
		bus:      bus,
	}
	for worker := range spec.Workers {
		sub.workers.Go(func() { sub.runWorker(worker) })
	}

	return sub
}

// Name returns the stable subscription name.
func (s *busSubscription) Name() string {
	return s.spec.Name
}

// Close unregisters this subscription from its bus.
func (s *busSubscription) Close(ctx context.Context) error {
	return s.bus.unsubscribe(ctx, s.id)
}

func (s *busSubscription) enqueue(ctx context.Context, event *otogi.Event) error {
	if s.closed.Load() {
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, otogi.ErrSubscriptionClosed)
	}

	select {
	case s.queue <- event:
		return nil
	default:
	}

	switch s.spec.Backpressure {
	case otogi.BackpressureDropOldest:
		select {
		case <-s.queue:
		default:
		}
		select {
		case s.queue <- event:
			return nil
		default:
		}
	case otogi.BackpressureBlock:
		select {
		case s.queue <- event:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("enqueue %s: %w", s.spec.Name, ctx.Err())
		case <-s.ctx.Done():
			return fmt.Errorf("enqueue %s: %w", s.spec.Name, otogi.ErrSubscriptionClosed)
		}
	}

	return fmt.Errorf("enqueue %s: %w", s.spec.Name, otogi.ErrEventDropped)
}

func (s *busSubscription) runWorker(worker int) {
	scope := fmt.Sprintf("subscription %s worker %d", s.spec.Name, worker)
	for {
		select {
		case <-s.ctx.Done():
			return
		case event := <-s.queue:
			if err := s.handle(scope, event); err != nil {
				s.bus.reportAsyncError(s.ctx, s.spec.Name, err)
			}
		}
	}
}

func (s *busSubscription) handle(scope string, event *otogi.Event) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.spec.HandlerTimeout)
	defer cancel()

	if err := runSafely(scope, func() error { return s.handler(ctx, event) }); err != nil {
		return fmt.Errorf("handle event %s: %w", event.ID, err)
	}

	return nil
}

// shutdown cancels workers and waits for them or for ctx.
func (s *busSubscription) shutdown(ctx context.Context) error {
	if s.closed.CompareAndSwap(false, true) {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown subscription %s: %w", s.spec.Name, ctx.Err())
	}
}
