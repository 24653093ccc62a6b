package otogi

import "slices"

// Capability describes what a module can process and what resources it requires.
type Capability struct {
	Name             string
	Description      string
	Interest         InterestSet
	RequiredServices []string
}

// InterestSet describes event selection criteria for capability negotiation.
type InterestSet struct {
	// Kinds limits delivery to the listed event kinds. Empty accepts every kind.
	Kinds []EventKind
	// RequireMessage drops events that carry no message payload.
	RequireMessage bool
	// RequireCommand drops events that carry no command payload.
	RequireCommand bool
	// CommandNames limits command events to the listed names.
	CommandNames []string
}

// Matches reports whether an event satisfies the declared interest set.
func (i InterestSet) Matches(event *Event) bool {
	if event == nil {
		return false
	}
	if len(i.Kinds) > 0 && !slices.Contains(i.Kinds, event.Kind) {
		return false
	}
	if i.RequireMessage && event.Message == nil {
		return false
	}
	if i.RequireCommand && event.Command == nil {
		return false
	}
	if len(i.CommandNames) > 0 {
		if event.Command == nil {
			return false
		}
		if !slices.Contains(i.CommandNames, normalizeCommandName(event.Command.Name)) {
			return false
		}
	}

	return true
}

// Allows reports whether this interest set is at least as broad as filter.
//
// A module may only subscribe with filters its declared capabilities allow.
func (i InterestSet) Allows(filter InterestSet) bool {
	if len(i.Kinds) > 0 {
		if len(filter.Kinds) == 0 {
			return false
		}
		for _, kind := range filter.Kinds {
			if !slices.Contains(i.Kinds, kind) {
				return false
			}
		}
	}
	if i.RequireMessage && !filter.RequireMessage {
		return false
	}
	if i.RequireCommand && !filter.RequireCommand {
		return false
	}
	if len(i.CommandNames) > 0 {
		if len(filter.CommandNames) == 0 {
			return false
		}
		for _, name := range filter.CommandNames {
			if !slices.Contains(i.CommandNames, normalizeCommandName(name)) {
				return false
			}
		}
	}

	return true
}
