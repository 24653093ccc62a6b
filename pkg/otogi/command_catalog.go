package otogi

import (
	"context"
)

// ServiceCommandCatalog is the canonical service registry key for command discovery.
const ServiceCommandCatalog = "otogi.command_catalog"

// RegisteredCommand describes one runtime command registration entry.
type RegisteredCommand struct {
	// ModuleName identifies which module registered this command.
	ModuleName string
	// Command is the registered command specification.
	Command CommandSpec
}

// Usage renders the command header as users type it, e.g. `~proc <min> <max> <out_of>`.
func (c RegisteredCommand) Usage() string {
	return c.Command.Usage()
}

// CommandCatalog provides read access to registered command specifications.
//
// Implementations must be concurrency-safe and return a copy.
type CommandCatalog interface {
	// ListCommands returns all currently registered command entries sorted by prefix and name.
	ListCommands(ctx context.Context) ([]RegisteredCommand, error)
}
