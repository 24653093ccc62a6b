package mimic

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyCorpus indicates an emission was requested for a scope with no stored utterances.
	ErrEmptyCorpus = errors.New("mimic: empty corpus")
	// ErrInvalidProcConfig indicates proc parameters that cannot produce a valid emission rate.
	ErrInvalidProcConfig = errors.New("mimic: invalid proc config")
	// ErrDeserialization indicates a snapshot blob matched neither the current nor the legacy schema.
	ErrDeserialization = errors.New("mimic: snapshot deserialization failed")
	// ErrUnknownMutator indicates a mutator name outside the closed set.
	ErrUnknownMutator = errors.New("mimic: unknown mutator")
	// ErrUnknownScope indicates an administrative operation on a scope that was never observed.
	ErrUnknownScope = errors.New("mimic: unknown scope")
)

// DeserializationError carries the decode failure of both schema attempts.
type DeserializationError struct {
	Current error
	Legacy  error
}

// Error returns both schema failures.
func (e *DeserializationError) Error() string {
	return fmt.Sprintf("%v: current schema: %v; legacy schema: %v", ErrDeserialization, e.Current, e.Legacy)
}

// Is matches ErrDeserialization.
func (e *DeserializationError) Is(target error) bool {
	return target == ErrDeserialization
}

// Unwrap exposes both causes.
func (e *DeserializationError) Unwrap() []error {
	return []error{e.Current, e.Legacy}
}

// TransportError reports a failed outbound step inside an emission sequence.
//
// A transport failure aborts only the step that produced it.
type TransportError struct {
	Scope ScopeID
	Step  int
	Err   error
}

// Error returns one operator-readable failure summary.
func (e *TransportError) Error() string {
	return fmt.Sprintf("mimic: emit scope %s step %d: %v", e.Scope, e.Step, e.Err)
}

// Unwrap returns the transport cause.
func (e *TransportError) Unwrap() error {
	return e.Err
}
