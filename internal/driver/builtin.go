package driver

import (
	"context"
	"fmt"
	"log/slog"

	"ex-mimic/internal/driver/telegram"
)

// NewBuiltinRegistry returns the registry of drivers compiled into this binary.
func NewBuiltinRegistry() (*Registry, error) {
	return NewRegistry([]Descriptor{
		{
			Type:     telegram.DriverType,
			Platform: telegram.DriverPlatform,
			Builder: func(_ context.Context, definition Definition, logger *slog.Logger) (Runtime, error) {
				source, driver, dispatcher, err := telegram.BuildRuntimeFromConfig(definition.Name, logger, definition.Config)
				if err != nil {
					return Runtime{}, fmt.Errorf("build telegram runtime: %w", err)
				}

				return Runtime{
					Source:          source,
					Driver:          driver,
					SinkDispatcher:  dispatcher,
					ReactionCatalog: dispatcher,
				}, nil
			},
		},
	})
}
