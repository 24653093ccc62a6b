package help

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"ex-mimic/pkg/otogi"
)

const helpCommandName = "help"

// Module answers /help with the usage of every registered command.
type Module struct {
	dispatcher     otogi.SinkDispatcher
	commandCatalog otogi.CommandCatalog
}

// New creates a help module.
func New() *Module {
	return &Module{}
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "help"
}

// Spec declares interest in ordinary help command events.
func (m *Module) Spec() otogi.ModuleSpec {
	return otogi.ModuleSpec{
		Handlers: []otogi.ModuleHandler{
			{
				Capability: otogi.Capability{
					Name:        "help-command-handler",
					Description: "renders registered command usage for /help",
					Interest: otogi.InterestSet{
						Kinds:          []otogi.EventKind{otogi.EventKindCommandReceived},
						RequireMessage: true,
						RequireCommand: true,
						CommandNames:   []string{helpCommandName},
					},
					RequiredServices: []string{
						otogi.ServiceSinkDispatcher,
						otogi.ServiceCommandCatalog,
					},
				},
				Subscription: otogi.NewDefaultSubscriptionSpec("help-commands"),
				Handler:      m.handleCommand,
			},
		},
		Commands: []otogi.CommandSpec{
			{
				Prefix:      otogi.CommandPrefixOrdinary,
				Name:        helpCommandName,
				Description: "show all available commands",
				Args:        []string{"command"},
				MaxArgs:     1,
			},
		},
	}
}

// OnRegister resolves the dispatcher and the command catalog.
func (m *Module) OnRegister(_ context.Context, runtime otogi.ModuleRuntime) error {
	dispatcher, err := otogi.ResolveAs[otogi.SinkDispatcher](runtime.Services(), otogi.ServiceSinkDispatcher)
	if err != nil {
		return fmt.Errorf("help resolve sink dispatcher: %w", err)
	}
	commandCatalog, err := otogi.ResolveAs[otogi.CommandCatalog](runtime.Services(), otogi.ServiceCommandCatalog)
	if err != nil {
		return fmt.Errorf("help resolve command catalog: %w", err)
	}

	m.dispatcher = dispatcher
	m.commandCatalog = commandCatalog

	return nil
}

// OnStart starts the module lifecycle.
func (m *Module) OnStart(_ context.Context) error {
	return nil
}

// OnShutdown stops the module lifecycle.
func (m *Module) OnShutdown(_ context.Context) error {
	return nil
}

func (m *Module) handleCommand(ctx context.Context, event *otogi.Event) error {
	if event == nil || event.Command == nil || event.Message == nil {
		return nil
	}
	if event.Kind != otogi.EventKindCommandReceived || event.Command.Name != helpCommandName {
		return nil
	}
	if m.dispatcher == nil {
		return fmt.Errorf("help handle command: sink dispatcher not configured")
	}
	if m.commandCatalog == nil {
		return fmt.Errorf("help handle command: command catalog not configured")
	}

	commands, err := m.commandCatalog.ListCommands(ctx)
	if err != nil {
		return fmt.Errorf("help list commands: %w", err)
	}
	body := renderHelp(commands, event.Command.Value())

	target, err := otogi.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("help derive outbound target: %w", err)
	}
	_, err = m.dispatcher.SendMessage(ctx, otogi.SendMessageRequest{
		Target:           target,
		Text:             body,
		ReplyToMessageID: event.Message.ID,
	})
	if err != nil {
		return fmt.Errorf("help send help message: %w", err)
	}

	return nil
}

// renderHelp lists every command grouped by prefix, or only the commands
// whose name matches filter.
func renderHelp(commands []otogi.RegisteredCommand, filter string) string {
	filter = strings.ToLower(strings.TrimLeft(strings.TrimSpace(filter), "/~"))
	if filter != "" {
		commands = slices.DeleteFunc(slices.Clone(commands), func(command otogi.RegisteredCommand) bool {
			return strings.ToLower(command.Command.Name) != filter
		})
		if len(commands) == 0 {
			return fmt.Sprintf("unknown command %q", filter)
		}
	}
	if len(commands) == 0 {
		return "Available commands:\n(none)"
	}

	sorted := slices.Clone(commands)
	slices.SortStableFunc(sorted, func(left, right otogi.RegisteredCommand) int {
		if left.Command.Prefix != right.Command.Prefix {
			// ordinary commands first
			if left.Command.Prefix == otogi.CommandPrefixOrdinary {
				return -1
			}
			return 1
		}
		if byName := strings.Compare(left.Command.Name, right.Command.Name); byName != 0 {
			return byName
		}
		return strings.Compare(left.ModuleName, right.ModuleName)
	})

	var builder strings.Builder
	builder.WriteString("Available commands:")
	var section otogi.CommandPrefix
	for _, command := range sorted {
		if command.Command.Prefix != section {
			section = command.Command.Prefix
			builder.WriteString("\n\n")
			builder.WriteString(sectionTitle(section))
		}
		builder.WriteString("\n")
		builder.WriteString(command.Usage())
		if description := strings.TrimSpace(command.Command.Description); description != "" {
			builder.WriteString(" - ")
			builder.WriteString(description)
		}
		moduleName := strings.TrimSpace(command.ModuleName)
		if moduleName == "" {
			moduleName = "unknown"
		}
		builder.WriteString(" (" + moduleName + ")")
		for _, option := range command.Command.Options {
			builder.WriteString("\n  " + renderOption(option))
		}
	}

	return builder.String()
}

func sectionTitle(prefix otogi.CommandPrefix) string {
	if prefix == otogi.CommandPrefixSystem {
		return "Moderation:"
	}
	return "Everyone:"
}

func renderOption(option otogi.CommandOptionSpec) string {
	descriptor := "--" + strings.ToLower(strings.TrimSpace(option.Name))
	if option.HasValue {
		descriptor += " <value>"
	}
	if description := strings.TrimSpace(option.Description); description != "" {
		descriptor += "  " + description
	}
	return descriptor
}

var (
	_ otogi.Module          = (*Module)(nil)
	_ otogi.ModuleRegistrar = (*Module)(nil)
)
