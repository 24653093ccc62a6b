package driver

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"ex-mimic/pkg/otogi"
)

// Definition is one configured driver entry.
type Definition struct {
	// Name is the driver instance id, used as EventSource.ID.
	Name string
	// Type selects the builder, for example "telegram".
	Type    string
	Enabled bool
	// Config is the driver specific YAML node, re-encoded as bytes.
	Config []byte
}

// Runtime is one built driver together with its outbound side.
type Runtime struct {
	Source          otogi.EventSource
	Driver          otogi.Driver
	SinkDispatcher  otogi.SinkDispatcher
	ReactionCatalog otogi.ReactionCatalog
}

// BuilderFunc builds one runtime from its definition.
type BuilderFunc func(ctx context.Context, definition Definition, logger *slog.Logger) (Runtime, error)

// Descriptor binds a driver type to its platform and builder.
type Descriptor struct {
	Type     string
	Platform otogi.Platform
	Builder  BuilderFunc
}

// Registry maps driver types to builders.
type Registry struct {
	entries map[string]Descriptor
}

// NewRegistry creates an immutable registry from descriptors.
func NewRegistry(descriptors []Descriptor) (*Registry, error) {
	entries := make(map[string]Descriptor, len(descriptors))
	for _, descriptor := range descriptors {
		switch {
		case descriptor.Type == "":
			return nil, fmt.Errorf("new registry: empty descriptor type")
		case descriptor.Platform == "":
			return nil, fmt.Errorf("new registry type %s: empty platform", descriptor.Type)
		case descriptor.Builder == nil:
			return nil, fmt.Errorf("new registry type %s: nil builder", descriptor.Type)
		}
		if _, exists := entries[descriptor.Type]; exists {
			return nil, fmt.Errorf("new registry type %s: duplicate", descriptor.Type)
		}
		entries[descriptor.Type] = descriptor
	}

	return &Registry{entries: entries}, nil
}

// Types returns the registered driver types, sorted.
func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}
	types := make([]string, 0, len(r.entries))
	for driverType := range r.entries {
		types = append(types, driverType)
	}
	slices.Sort(types)

	return types
}

// PlatformForType resolves a registered driver type to its platform.
func (r *Registry) PlatformForType(driverType string) (otogi.Platform, error) {
	if r == nil {
		return "", fmt.Errorf("resolve platform: nil registry")
	}
	entry, exists := r.entries[driverType]
	if !exists {
		return "", fmt.Errorf("unsupported driver type %s", driverType)
	}

	return entry.Platform, nil
}

// BuildEnabled builds every enabled definition, in order.
func (r *Registry) BuildEnabled(ctx context.Context, definitions []Definition, logger *slog.Logger) ([]Runtime, error) {
	if r == nil {
		return nil, fmt.Errorf("build drivers: nil registry")
	}

	runtimes := make([]Runtime, 0, len(definitions))
	seen := make(map[string]struct{}, len(definitions))
	for _, definition := range definitions {
		if !definition.Enabled {
			continue
		}
		if definition.Name == "" {
			return nil, fmt.Errorf("build driver: empty name")
		}
		if _, exists := seen[definition.Name]; exists {
			return nil, fmt.Errorf("build driver %s: duplicate name", definition.Name)
		}
		seen[definition.Name] = struct{}{}

		entry, exists := r.entries[definition.Type]
		if !exists {
			return nil, fmt.Errorf("build driver %s: unsupported type %q", definition.Name, definition.Type)
		}
		runtime, err := entry.Builder(ctx, definition, logger)
		if err != nil {
			return nil, fmt.Errorf("build driver %s type %s: %w", definition.Name, definition.Type, err)
		}
		if runtime.Driver == nil {
			return nil, fmt.Errorf("build driver %s type %s: nil driver", definition.Name, definition.Type)
		}
		if runtime.Source.Platform == "" {
			runtime.Source.Platform = entry.Platform
		}
		if runtime.Source.ID == "" {
			runtime.Source.ID = definition.Name
		}

		runtimes = append(runtimes, runtime)
	}

	return runtimes, nil
}

type outboundRoute struct {
	dispatcher otogi.SinkDispatcher
	reactions  otogi.ReactionCatalog
}

// CompositeSinkDispatcher routes outbound operations to the driver that produced the target.
//
// Targets without a source id are accepted only when exactly one driver is configured.
// It implements both otogi.SinkDispatcher and otogi.ReactionCatalog.
type CompositeSinkDispatcher struct {
	routes map[string]outboundRoute
}

// NewCompositeSinkDispatcher indexes the outbound side of each runtime by source id.
func NewCompositeSinkDispatcher(runtimes []Runtime) (*CompositeSinkDispatcher, error) {
	routes := make(map[string]outboundRoute, len(runtimes))
	for _, runtime := range runtimes {
		if runtime.SinkDispatcher == nil {
			continue
		}
		if runtime.Source.ID == "" {
			return nil, fmt.Errorf("new composite sink dispatcher: missing source id")
		}
		if _, exists := routes[runtime.Source.ID]; exists {
			return nil, fmt.Errorf("new composite sink dispatcher: duplicate source id %s", runtime.Source.ID)
		}
		routes[runtime.Source.ID] = outboundRoute{dispatcher: runtime.SinkDispatcher, reactions: runtime.ReactionCatalog}
	}

	return &CompositeSinkDispatcher{routes: routes}, nil
}

// SendMessage routes to the target's driver.
func (d *CompositeSinkDispatcher) SendMessage(
	ctx context.Context,
	request otogi.SendMessageRequest,
) (*otogi.OutboundMessage, error) {
	route, err := d.resolve(request.Target)
	if err != nil {
		return nil, fmt.Errorf("route send message: %w", err)
	}

	return route.dispatcher.SendMessage(ctx, request)
}

// SetReaction routes to the target's driver.
func (d *CompositeSinkDispatcher) SetReaction(ctx context.Context, request otogi.SetReactionRequest) error {
	route, err := d.resolve(request.Target)
	if err != nil {
		return fmt.Errorf("route set reaction: %w", err)
	}

	return route.dispatcher.SetReaction(ctx, request)
}

// SendTyping routes to the target's driver.
func (d *CompositeSinkDispatcher) SendTyping(ctx context.Context, request otogi.SendTypingRequest) error {
	route, err := d.resolve(request.Target)
	if err != nil {
		return fmt.Errorf("route send typing: %w", err)
	}

	return route.dispatcher.SendTyping(ctx, request)
}

// ListReactions routes to the target's driver; drivers without a catalog report no reactions.
func (d *CompositeSinkDispatcher) ListReactions(ctx context.Context, target otogi.OutboundTarget) ([]string, error) {
	route, err := d.resolve(target)
	if err != nil {
		return nil, fmt.Errorf("route list reactions: %w", err)
	}
	if route.reactions == nil {
		return nil, nil
	}

	return route.reactions.ListReactions(ctx, target)
}

func (d *CompositeSinkDispatcher) resolve(target otogi.OutboundTarget) (outboundRoute, error) {
	if d == nil || len(d.routes) == 0 {
		return outboundRoute{}, fmt.Errorf("%w: no drivers with outbound support", otogi.ErrOutboundUnsupported)
	}
	if target.Source.ID != "" {
		route, ok := d.routes[target.Source.ID]
		if !ok {
			return outboundRoute{}, fmt.Errorf("%w: unknown source %s", otogi.ErrOutboundUnsupported, target.Source.ID)
		}
		return route, nil
	}
	if len(d.routes) == 1 {
		for _, route := range d.routes {
			return route, nil
		}
	}

	return outboundRoute{}, fmt.Errorf("%w: target without source is ambiguous across %d drivers",
		otogi.ErrInvalidOutboundRequest, len(d.routes))
}
