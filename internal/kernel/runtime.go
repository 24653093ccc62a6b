package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ex-mimic/pkg/otogi"
)

// moduleRecord tracks one registered module and the subscriptions it owns.
type moduleRecord struct {
	name         string
	module       otogi.Module
	capabilities []otogi.Capability

	subMu         sync.Mutex
	subscriptions []otogi.Subscription
}

func (m *moduleRecord) track(subscription otogi.Subscription) {
	m.subMu.Lock()
	m.subscriptions = append(m.subscriptions, subscription)
	m.subMu.Unlock()
}

// closeSubscriptions closes and forgets every tracked subscription.
func (m *moduleRecord) closeSubscriptions(ctx context.Context) error {
	m.subMu.Lock()
	subscriptions := m.subscriptions
	m.subscriptions = nil
	m.subMu.Unlock()

	var closeErr error
	for _, subscription := range subscriptions {
		if err := subscription.Close(ctx); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close subscription %s: %w", subscription.Name(), err))
		}
	}

	return closeErr
}

// moduleRuntime is the kernel side of otogi.ModuleRuntime handed to one module.
type moduleRuntime struct {
	record   *moduleRecord
	services otogi.ServiceRegistry
	bus      otogi.EventBus
}

// Services returns the shared kernel service registry.
func (r *moduleRuntime) Services() otogi.ServiceRegistry {
	return r.services
}

// Subscribe registers a module-owned subscription after capability checks.
func (r *moduleRuntime) Subscribe(
	ctx context.Context,
	interest otogi.InterestSet,
	spec otogi.SubscriptionSpec,
	handler otogi.EventHandler,
) (otogi.Subscription, error) {
	name := r.record.name
	if spec.Name == "" {
		spec.Name = name + "-subscription"
	}
	if err := subscriptionAllowed(r.record.capabilities, interest); err != nil {
		return nil, fmt.Errorf("module %s subscribe %s: %w", name, spec.Name, err)
	}

	subscription, err := r.bus.Subscribe(ctx, interest, spec, handler)
	if err != nil {
		return nil, fmt.Errorf("module %s subscribe %s: %w", name, spec.Name, err)
	}
	r.record.track(subscription)

	return subscription, nil
}

// subscriptionAllowed requires at least one declared capability covering interest.
func subscriptionAllowed(capabilities []otogi.Capability, interest otogi.InterestSet) error {
	if len(capabilities) == 0 {
		return fmt.Errorf("%w: module declares no capabilities", otogi.ErrInvalidSubscription)
	}
	for _, capability := range capabilities {
		if capability.Interest.Allows(interest) {
			return nil
		}
	}

	return fmt.Errorf("%w: interest not covered by declared capabilities", otogi.ErrInvalidSubscription)
}
