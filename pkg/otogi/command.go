package otogi

import (
	"fmt"
	"strings"
)

// CommandPrefix identifies the prefix introducing one command invocation.
type CommandPrefix string

const (
	// CommandPrefixOrdinary identifies ordinary command syntax.
	CommandPrefixOrdinary CommandPrefix = "/"
	// CommandPrefixSystem identifies privileged command syntax.
	CommandPrefixSystem CommandPrefix = "~"
)

// Validate checks whether one command prefix is supported.
func (p CommandPrefix) Validate() error {
	switch p {
	case CommandPrefixOrdinary, CommandPrefixSystem:
		return nil
	default:
		return fmt.Errorf("validate command prefix: unsupported prefix %q", p)
	}
}

// EventKind returns the derived event kind published for commands with this prefix.
func (p CommandPrefix) EventKind() EventKind {
	if p == CommandPrefixSystem {
		return EventKindSystemCommandReceived
	}

	return EventKindCommandReceived
}

// CommandCandidate is a parsed command-looking message before binding.
type CommandCandidate struct {
	// Prefix is the leading command prefix.
	Prefix CommandPrefix
	// Name is the normalized command name without prefix and mention suffix.
	Name string
	// Mention is the optional suffix from `<name>@<mention>`.
	Mention string
	// RawInput is the original message text.
	RawInput string
	// Tokens holds whitespace-separated tokens after the header.
	Tokens []string
}

// CommandOption is one parsed flag in a bound invocation.
type CommandOption struct {
	Name     string
	Value    string
	HasValue bool
}

// CommandInvocation carries one validated command event payload.
type CommandInvocation struct {
	// Name is the normalized command name.
	Name string
	// Prefix is the prefix the command was typed with.
	Prefix CommandPrefix
	// Mention is the optional suffix from `<name>@<mention>`.
	Mention string
	// Args are the positional tokens in order.
	Args []string
	// Options are the flags declared by the bound spec.
	Options []CommandOption
	// SourceEventID identifies the inbound message event that produced this command.
	SourceEventID string
	// RawInput stores the original message text.
	RawInput string
}

// Value joins positional arguments with single spaces.
func (c *CommandInvocation) Value() string {
	if c == nil {
		return ""
	}

	return strings.Join(c.Args, " ")
}

// Option returns one parsed flag by name.
func (c *CommandInvocation) Option(name string) (CommandOption, bool) {
	if c == nil {
		return CommandOption{}, false
	}
	name = normalizeCommandName(name)
	for _, option := range c.Options {
		if option.Name == name {
			return option, true
		}
	}

	return CommandOption{}, false
}

// Validate checks command invocation contract fields.
func (c *CommandInvocation) Validate() error {
	if c == nil {
		return fmt.Errorf("validate command invocation: nil invocation")
	}
	if normalizeCommandName(c.Name) == "" {
		return fmt.Errorf("validate command invocation: missing name")
	}
	if err := c.Prefix.Validate(); err != nil {
		return fmt.Errorf("validate command invocation: %w", err)
	}
	if c.SourceEventID == "" {
		return fmt.Errorf("validate command invocation: missing source_event_id")
	}

	return nil
}

// CommandOptionSpec declares one `--name` flag.
type CommandOptionSpec struct {
	Name        string
	HasValue    bool
	Description string
}

// CommandSpec declares one module command registration.
type CommandSpec struct {
	// Prefix identifies which command prefix triggers this command.
	Prefix CommandPrefix
	// Name is the command name without prefix and mention suffix.
	Name string
	// Description is shown by help.
	Description string
	// Args names positional arguments for usage text.
	Args []string
	// MinArgs is the number of positional arguments that must be present.
	MinArgs int
	// MaxArgs caps positional arguments; negative means unbounded.
	MaxArgs int
	// Options declares supported flags.
	Options []CommandOptionSpec
}

// Validate checks command specification coherence.
func (s CommandSpec) Validate() error {
	if err := s.Prefix.Validate(); err != nil {
		return fmt.Errorf("validate command spec %q: %w", s.Name, err)
	}
	name := normalizeCommandName(s.Name)
	if name == "" {
		return fmt.Errorf("validate command spec: missing name")
	}
	if strings.ContainsAny(name, " \t\r\n@") {
		return fmt.Errorf("validate command spec %q: invalid name", s.Name)
	}
	if s.MinArgs < 0 {
		return fmt.Errorf("validate command spec %s: negative min args", s.Name)
	}
	if s.MaxArgs >= 0 && s.MaxArgs < s.MinArgs {
		return fmt.Errorf("validate command spec %s: max args below min args", s.Name)
	}

	seen := make(map[string]struct{}, len(s.Options))
	for index, option := range s.Options {
		optionName := normalizeCommandName(option.Name)
		if optionName == "" || strings.ContainsAny(optionName, " \t\r\n=") {
			return fmt.Errorf("validate command spec %s option[%d]: invalid name %q", s.Name, index, option.Name)
		}
		if _, exists := seen[optionName]; exists {
			return fmt.Errorf("validate command spec %s: duplicate option %q", s.Name, option.Name)
		}
		seen[optionName] = struct{}{}
	}

	return nil
}

// Usage renders the invocation header with argument placeholders.
func (s CommandSpec) Usage() string {
	var builder strings.Builder
	builder.WriteString(string(s.Prefix))
	builder.WriteString(normalizeCommandName(s.Name))
	for index, arg := range s.Args {
		builder.WriteByte(' ')
		if index < s.MinArgs {
			builder.WriteString("<" + arg + ">")
		} else {
			builder.WriteString("[" + arg + "]")
		}
	}
	for _, option := range s.Options {
		builder.WriteString(" [--" + normalizeCommandName(option.Name))
		if option.HasValue {
			builder.WriteString(" <value>")
		}
		builder.WriteByte(']')
	}

	return builder.String()
}

// ParseCommandCandidate parses one message text into a command candidate.
//
// matched is false when text does not start with a command prefix. When
// matched is true err reports syntax problems such as a missing name.
func ParseCommandCandidate(text string) (candidate CommandCandidate, matched bool, err error) {
	candidate.RawInput = text

	fields := strings.Fields(text)
	if len(fields) == 0 {
		return candidate, false, nil
	}
	header := fields[0]
	switch {
	case strings.HasPrefix(header, string(CommandPrefixOrdinary)):
		candidate.Prefix = CommandPrefixOrdinary
	case strings.HasPrefix(header, string(CommandPrefixSystem)):
		candidate.Prefix = CommandPrefixSystem
	default:
		return candidate, false, nil
	}

	name, mention, _ := strings.Cut(header[len(candidate.Prefix):], "@")
	candidate.Name = normalizeCommandName(name)
	candidate.Mention = mention
	candidate.Tokens = fields[1:]
	if candidate.Name == "" {
		return candidate, true, fmt.Errorf("parse command candidate: missing command name")
	}

	return candidate, true, nil
}

// BindCommand validates one parsed candidate against one command spec.
func BindCommand(candidate CommandCandidate, spec CommandSpec, sourceEvent *Event) (CommandInvocation, error) {
	if sourceEvent == nil {
		return CommandInvocation{}, fmt.Errorf("bind command: nil source event")
	}
	if err := spec.Validate(); err != nil {
		return CommandInvocation{}, fmt.Errorf("bind command %s: %w", spec.Name, err)
	}
	if candidate.Prefix != spec.Prefix || candidate.Name != normalizeCommandName(spec.Name) {
		return CommandInvocation{}, fmt.Errorf(
			"bind command %s: candidate %s%s does not match",
			spec.Name, candidate.Prefix, candidate.Name,
		)
	}

	options := make(map[string]CommandOptionSpec, len(spec.Options))
	for _, option := range spec.Options {
		options[normalizeCommandName(option.Name)] = option
	}

	invocation := CommandInvocation{
		Name:          candidate.Name,
		Prefix:        candidate.Prefix,
		Mention:       candidate.Mention,
		SourceEventID: sourceEvent.ID,
		RawInput:      candidate.RawInput,
	}
	for index := 0; index < len(candidate.Tokens); index++ {
		token := candidate.Tokens[index]
		if !strings.HasPrefix(token, "--") || len(token) == 2 {
			invocation.Args = append(invocation.Args, token)
			continue
		}

		name := normalizeCommandName(token[2:])
		optionSpec, ok := options[name]
		if !ok {
			return CommandInvocation{}, fmt.Errorf("bind command %s: unknown option --%s", spec.Name, name)
		}
		option := CommandOption{Name: name}
		if optionSpec.HasValue {
			if index+1 >= len(candidate.Tokens) || strings.HasPrefix(candidate.Tokens[index+1], "--") {
				return CommandInvocation{}, fmt.Errorf("bind command %s: option --%s requires a value", spec.Name, name)
			}
			index++
			option.Value = candidate.Tokens[index]
			option.HasValue = true
		}
		invocation.Options = append(invocation.Options, option)
	}

	if len(invocation.Args) < spec.MinArgs {
		return CommandInvocation{}, fmt.Errorf(
			"bind command %s: want at least %d arguments, got %d",
			spec.Name, spec.MinArgs, len(invocation.Args),
		)
	}
	if spec.MaxArgs >= 0 && len(invocation.Args) > spec.MaxArgs {
		return CommandInvocation{}, fmt.Errorf(
			"bind command %s: want at most %d arguments, got %d",
			spec.Name, spec.MaxArgs, len(invocation.Args),
		)
	}

	return invocation, nil
}

func normalizeCommandName(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
