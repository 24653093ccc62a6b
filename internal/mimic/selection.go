package mimic

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultMaxContinuations caps the number of emissions in one sequence.
	DefaultMaxContinuations = 50
	// DefaultWordDelay is the simulated typing time per word.
	DefaultWordDelay = 100 * time.Millisecond
	// DefaultMaxTypingDelay caps one simulated typing pause.
	DefaultMaxTypingDelay = 8 * time.Second
	// ContinuationMarker is appended to an emission that will be followed by another.
	ContinuationMarker = " ..."
)

var (
	continueRatio = Ratio{Num: 1, Den: 4}
	// reactRatio gates the first random reaction; later ones use continueRatio.
	reactRatio = Ratio{Num: 1, Den: 8}
)

// Proc is the per-scope emission rate configuration.
//
// The chance of a rolled emission is Current/OutOf, with Current drawn from [Min, Max).
type Proc struct {
	Min     int `json:"min"`
	Max     int `json:"max"`
	OutOf   int `json:"out_of"`
	Current int `json:"current"`
}

// DefaultProc returns the min 1, max 4, out of 18 configuration with Current unset.
func DefaultProc() Proc {
	return Proc{Min: 1, Max: 4, OutOf: 18}
}

// Validate rejects configurations that cannot produce a rate.
func (p Proc) Validate() error {
	if p.OutOf <= 0 {
		return fmt.Errorf("%w: out_of must be > 0, got %d", ErrInvalidProcConfig, p.OutOf)
	}
	if p.Min < 0 || p.Max < 0 {
		return fmt.Errorf("%w: min and max must be >= 0", ErrInvalidProcConfig)
	}
	if p.Min > p.Max {
		return fmt.Errorf("%w: min %d > max %d", ErrInvalidProcConfig, p.Min, p.Max)
	}

	return nil
}

// Decision is the outcome of one emission roll.
type Decision struct {
	Emit   bool
	Forced bool
}

// ShouldEmit rolls Current/OutOf, or emits unconditionally when forced.
func ShouldEmit(rng Rand, proc Proc, forced bool) Decision {
	if forced {
		return Decision{Emit: true, Forced: true}
	}
	if proc.OutOf <= 0 {
		return Decision{}
	}

	return Decision{Emit: rng.IntN(proc.OutOf) < proc.Current}
}

// Continue reports whether an emission sequence goes on for another step.
func Continue(rng Rand) bool {
	return continueRatio.Roll(rng)
}

// ResampleProc draws Current uniformly from [Min, Max); Min == Max pins it to Min.
func ResampleProc(rng Rand, proc *Proc) {
	if proc.Max <= proc.Min {
		proc.Current = proc.Min
		return
	}
	proc.Current = proc.Min + rng.IntN(proc.Max-proc.Min)
}

// TypingDelay returns perWord times the word count of text, capped at limit.
func TypingDelay(text string, perWord, limit time.Duration) time.Duration {
	delay := time.Duration(len(strings.Fields(text))) * perWord
	if limit > 0 && delay > limit {
		return limit
	}

	return delay
}
