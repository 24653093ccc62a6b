package mimic

import (
	"time"
)

// ScopeID identifies one community (a group or channel conversation).
type ScopeID string

// ScopeState is the mutable state of one community.
type ScopeState struct {
	ID              ScopeID
	Corpus          *Corpus
	Asleep          bool
	AllowedMutators []MutatorKind
	Proc            Proc
}

// ScopeDefaults configures lazily created scopes.
type ScopeDefaults struct {
	Eviction EvictionPolicy
	Proc     Proc
	Mutators []MutatorKind
}

// DefaultScopeDefaults returns the production scope configuration.
func DefaultScopeDefaults() ScopeDefaults {
	return ScopeDefaults{
		Eviction: DefaultEvictionPolicy(),
		Proc:     DefaultProc(),
		Mutators: DefaultMutators(),
	}
}

// NewScopeState creates an empty scope with Current drawn from [Min, Max).
func NewScopeState(rng Rand, id ScopeID, defaults ScopeDefaults) *ScopeState {
	scope := &ScopeState{
		ID:              id,
		Corpus:          NewCorpus(defaults.Eviction),
		AllowedMutators: append([]MutatorKind(nil), defaults.Mutators...),
		Proc:            defaults.Proc,
	}
	ResampleProc(rng, &scope.Proc)

	return scope
}

// MutationScope returns the mutation context of this scope.
func (s *ScopeState) MutationScope(emotes []string) MutationScope {
	return MutationScope{Corpus: s.Corpus, Emotes: emotes, Allowed: s.AllowedMutators}
}

// GlobalState is every scope plus the access registry.
type GlobalState struct {
	Scopes       map[ScopeID]*ScopeState
	Access       *Registry
	LastSnapshot time.Time
}

// NewGlobalState creates an empty state owned by owner.
func NewGlobalState(owner UserID) *GlobalState {
	return &GlobalState{
		Scopes: make(map[ScopeID]*ScopeState),
		Access: NewRegistry(owner),
	}
}

// Scope returns the scope for id, creating it with defaults when absent.
func (g *GlobalState) Scope(rng Rand, id ScopeID, defaults ScopeDefaults) *ScopeState {
	scope, ok := g.Scopes[id]
	if !ok {
		scope = NewScopeState(rng, id, defaults)
		g.Scopes[id] = scope
	}

	return scope
}

// Utterances returns the total stored utterance count across scopes.
func (g *GlobalState) Utterances() int {
	total := 0
	for _, scope := range g.Scopes {
		total += scope.Corpus.Len()
	}

	return total
}
