package mimic

import (
	"fmt"
	"strings"
)

const (
	// DefaultCap is the per-scope utterance limit.
	DefaultCap = 2222
	// DefaultWindowStart is the lowest index eligible for eviction.
	DefaultWindowStart = 1000
	// MaxContentBytes bounds admitted content length (exclusive).
	MaxContentBytes = 2000
	// MaxContentWords bounds admitted word count (exclusive).
	MaxContentWords = 30
)

// Utterance is one stored message. It is never modified after admission.
type Utterance struct {
	AuthorID UserID
	Content  string
}

// EvictionPolicy is an approximate random eviction over the tail window [WindowStart, Cap].
//
// Older entries below WindowStart are never evicted by admission.
type EvictionPolicy struct {
	Cap         int
	WindowStart int
}

// DefaultEvictionPolicy returns the [1000, 2222] window.
func DefaultEvictionPolicy() EvictionPolicy {
	return EvictionPolicy{Cap: DefaultCap, WindowStart: DefaultWindowStart}
}

// Validate checks policy coherence.
func (p EvictionPolicy) Validate() error {
	if p.Cap <= 0 {
		return fmt.Errorf("eviction policy: cap must be > 0, got %d", p.Cap)
	}
	if p.WindowStart < 0 || p.WindowStart > p.Cap {
		return fmt.Errorf("eviction policy: window start must be in [0, %d], got %d", p.Cap, p.WindowStart)
	}

	return nil
}

// AdmissionContext carries the facts about the originating message that the
// corpus cannot derive from the utterance itself.
type AdmissionContext struct {
	Subscribed  bool
	Permitted   bool
	HasMentions bool
}

// AdmissionResult reports whether and why an utterance was stored.
type AdmissionResult int

const (
	// Admitted means the utterance was appended.
	Admitted AdmissionResult = iota
	RejectedEmpty
	RejectedTooLong
	RejectedTooManyWords
	RejectedMentions
	RejectedNotSubscribed
	RejectedNotPermitted
)

// String returns a stable log token.
func (r AdmissionResult) String() string {
	switch r {
	case Admitted:
		return "admitted"
	case RejectedEmpty:
		return "empty"
	case RejectedTooLong:
		return "too_long"
	case RejectedTooManyWords:
		return "too_many_words"
	case RejectedMentions:
		return "mentions"
	case RejectedNotSubscribed:
		return "not_subscribed"
	case RejectedNotPermitted:
		return "not_permitted"
	default:
		return "unknown"
	}
}

// Corpus is the ordered utterance store of one scope.
type Corpus struct {
	policy     EvictionPolicy
	utterances []Utterance
}

// NewCorpus creates an empty corpus governed by policy.
func NewCorpus(policy EvictionPolicy, utterances ...Utterance) *Corpus {
	return &Corpus{policy: policy, utterances: utterances}
}

// Len returns the number of stored utterances.
func (c *Corpus) Len() int { return len(c.utterances) }

// Policy returns the eviction policy.
func (c *Corpus) Policy() EvictionPolicy { return c.policy }

// Utterances returns a copy of the stored utterances in order.
func (c *Corpus) Utterances() []Utterance {
	return append([]Utterance(nil), c.utterances...)
}

// Admit appends u when every admission rule holds.
//
// evicted is the pre-removal index of the last evicted element, or -1. A corpus
// restored above Cap is brought back down to Cap by the same window draw.
func (c *Corpus) Admit(rng Rand, u Utterance, admission AdmissionContext) (result AdmissionResult, evicted int) {
	if result := checkAdmission(u.Content, admission); result != Admitted {
		return result, -1
	}

	c.utterances = append(c.utterances, u)
	evicted = -1
	for len(c.utterances) > c.policy.Cap {
		evicted = c.policy.WindowStart + rng.IntN(c.policy.Cap-c.policy.WindowStart+1)
		last := len(c.utterances) - 1
		c.utterances[evicted] = c.utterances[last]
		c.utterances[last] = Utterance{}
		c.utterances = c.utterances[:last]
	}

	return Admitted, evicted
}

func checkAdmission(content string, admission AdmissionContext) AdmissionResult {
	switch {
	case content == "":
		return RejectedEmpty
	case len(content) >= MaxContentBytes:
		return RejectedTooLong
	case len(strings.Fields(content)) >= MaxContentWords:
		return RejectedTooManyWords
	case admission.HasMentions:
		return RejectedMentions
	case !admission.Permitted:
		return RejectedNotPermitted
	case !admission.Subscribed:
		return RejectedNotSubscribed
	default:
		return Admitted
	}
}

// PickRandom returns a uniformly drawn utterance; false iff the corpus is empty.
func (c *Corpus) PickRandom(rng Rand) (Utterance, bool) {
	return pick(rng, c.utterances)
}

// FindByContent returns every utterance whose content contains substr.
func (c *Corpus) FindByContent(substr string) []Utterance {
	return c.filter(func(u Utterance) bool { return strings.Contains(u.Content, substr) })
}

// FindByAuthor returns every utterance by author.
func (c *Corpus) FindByAuthor(author UserID) []Utterance {
	return c.filter(func(u Utterance) bool { return u.AuthorID == author })
}

// DeleteByContent removes every utterance whose content contains substr.
func (c *Corpus) DeleteByContent(substr string) int {
	return c.deleteWhere(func(u Utterance) bool { return strings.Contains(u.Content, substr) })
}

// DeleteByAuthor removes every utterance by author.
func (c *Corpus) DeleteByAuthor(author UserID) int {
	return c.deleteWhere(func(u Utterance) bool { return u.AuthorID == author })
}

func (c *Corpus) filter(match func(Utterance) bool) []Utterance {
	var matches []Utterance
	for _, u := range c.utterances {
		if match(u) {
			matches = append(matches, u)
		}
	}

	return matches
}

func (c *Corpus) deleteWhere(match func(Utterance) bool) int {
	before := len(c.utterances)
	kept := c.utterances[:0]
	for _, u := range c.utterances {
		if !match(u) {
			kept = append(kept, u)
		}
	}
	clear(c.utterances[len(kept):])
	c.utterances = kept

	return before - len(kept)
}
