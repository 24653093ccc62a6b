package kernel

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"ex-mimic/pkg/otogi"
)

type commandRegistration struct {
	moduleName string
	spec       otogi.CommandSpec
}

// registerModuleCommands claims every command of one module or none of them.
func (k *Kernel) registerModuleCommands(moduleName string, commands []otogi.CommandSpec) error {
	if len(commands) == 0 {
		return nil
	}

	normalized := make([]otogi.CommandSpec, 0, len(commands))
	for index, command := range commands {
		if err := command.Validate(); err != nil {
			return fmt.Errorf("register command[%d] for module %s: %w", index, moduleName, err)
		}
		normalized = append(normalized, cloneCommandSpec(command))
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	for _, command := range normalized {
		key := commandKey(command.Prefix, command.Name)
		if existing, exists := k.commands[key]; exists {
			return fmt.Errorf(
				"register command %s for module %s: already registered by module %s",
				key, moduleName, existing.moduleName,
			)
		}
	}
	for _, command := range normalized {
		k.commands[commandKey(command.Prefix, command.Name)] = commandRegistration{
			moduleName: moduleName,
			spec:       command,
		}
	}

	return nil
}

func (k *Kernel) unregisterModuleCommands(moduleName string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for key, registration := range k.commands {
		if registration.moduleName == moduleName {
			delete(k.commands, key)
		}
	}
}

func (k *Kernel) lookupCommand(prefix otogi.CommandPrefix, name string) (otogi.CommandSpec, bool) {
	k.mu.RLock()
	registration, exists := k.commands[commandKey(prefix, name)]
	k.mu.RUnlock()
	if !exists {
		return otogi.CommandSpec{}, false
	}

	return cloneCommandSpec(registration.spec), true
}

// commandCatalog exposes kernel command registrations as a service.
type commandCatalog struct {
	kernel *Kernel
}

// ListCommands returns registered commands ordered by prefix, name and module.
func (c *commandCatalog) ListCommands(ctx context.Context) ([]otogi.RegisteredCommand, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}

	c.kernel.mu.RLock()
	commands := make([]otogi.RegisteredCommand, 0, len(c.kernel.commands))
	for _, registration := range c.kernel.commands {
		commands = append(commands, otogi.RegisteredCommand{
			ModuleName: registration.moduleName,
			Command:    cloneCommandSpec(registration.spec),
		})
	}
	c.kernel.mu.RUnlock()

	slices.SortFunc(commands, func(a, b otogi.RegisteredCommand) int {
		return cmp.Or(
			cmp.Compare(a.Command.Prefix, b.Command.Prefix),
			cmp.Compare(a.Command.Name, b.Command.Name),
			cmp.Compare(a.ModuleName, b.ModuleName),
		)
	})

	return commands, nil
}

func commandKey(prefix otogi.CommandPrefix, name string) string {
	return string(prefix) + normalizeCommandName(name)
}

func normalizeCommandName(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func cloneCommandSpec(spec otogi.CommandSpec) otogi.CommandSpec {
	cloned := spec
	cloned.Name = normalizeCommandName(spec.Name)
	cloned.Args = slices.Clone(spec.Args)
	cloned.Options = slices.Clone(spec.Options)
	for index := range cloned.Options {
		cloned.Options[index].Name = normalizeCommandName(cloned.Options[index].Name)
	}

	return cloned
}

var _ otogi.CommandCatalog = (*commandCatalog)(nil)
