package mimic

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// MutatorKind is the closed set of text transformations.
type MutatorKind uint8

const (
	// AppendEmote appends a reaction symbol of the scope.
	AppendEmote MutatorKind = iota + 1
	// MessageSplicer joins the input with another stored utterance.
	MessageSplicer
	// Misgendering swaps pronouns within their paradigm.
	Misgendering
)

var mutatorNames = map[MutatorKind]string{
	AppendEmote:    "append_emote",
	MessageSplicer: "message_splicer",
	Misgendering:   "misgendering",
}

// String returns the persisted mutator name.
func (k MutatorKind) String() string {
	if name, ok := mutatorNames[k]; ok {
		return name
	}

	return fmt.Sprintf("mutator(%d)", uint8(k))
}

// ParseMutatorKind resolves a persisted mutator name.
func ParseMutatorKind(name string) (MutatorKind, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for kind, candidate := range mutatorNames {
		if candidate == normalized {
			return kind, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownMutator, name)
}

// DefaultMutators returns every mutator kind in declaration order.
func DefaultMutators() []MutatorKind {
	return []MutatorKind{AppendEmote, MessageSplicer, Misgendering}
}

// MutationScope is the per-scope context a mutator may read.
type MutationScope struct {
	Corpus  *Corpus
	Emotes  []string
	Allowed []MutatorKind
}

// Pipeline applies at most one mutator per emission.
type Pipeline struct {
	Gates map[MutatorKind]Ratio
	// OtherPronoun is the replacement probability for non-chosen pronoun occurrences.
	OtherPronoun Ratio
}

// DefaultPipeline returns the production gates: 1/16, 1/16, 1/9 and 3/4.
func DefaultPipeline() Pipeline {
	return Pipeline{
		Gates: map[MutatorKind]Ratio{
			AppendEmote:    {Num: 1, Den: 16},
			MessageSplicer: {Num: 1, Den: 16},
			Misgendering:   {Num: 1, Den: 9},
		},
		OtherPronoun: Ratio{Num: 3, Den: 4},
	}
}

// Apply tries the allowed mutators in random order; the first success wins.
func (p Pipeline) Apply(rng Rand, scope MutationScope, text string) (string, MutatorKind, bool) {
	order := append([]MutatorKind(nil), scope.Allowed...)
	rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	for _, kind := range order {
		if mutated, ok := p.attempt(rng, kind, scope, text); ok {
			return mutated, kind, true
		}
	}

	return text, 0, false
}

func (p Pipeline) attempt(rng Rand, kind MutatorKind, scope MutationScope, text string) (string, bool) {
	switch kind {
	case AppendEmote:
		return p.appendEmote(rng, scope.Emotes, text)
	case MessageSplicer:
		return p.splice(rng, scope.Corpus, text)
	case Misgendering:
		return p.misgender(rng, text)
	default:
		return "", false
	}
}

func (p Pipeline) appendEmote(rng Rand, emotes []string, text string) (string, bool) {
	if len(emotes) == 0 || !p.Gates[AppendEmote].Roll(rng) {
		return "", false
	}
	emote, _ := pick(rng, emotes)

	return text + " " + emote, true
}

func (p Pipeline) splice(rng Rand, corpus *Corpus, text string) (string, bool) {
	if corpus == nil || corpus.Len() == 0 || !p.Gates[MessageSplicer].Roll(rng) {
		return "", false
	}
	other, _ := corpus.PickRandom(rng)

	longer, shorter := strings.Fields(text), strings.Fields(other.Content)
	if len(shorter) > len(longer) {
		longer, shorter = shorter, longer
	}
	if len(longer) == 0 {
		return "", false
	}

	split := 1 + rng.IntN(len(longer))
	shorterSplit := split * len(shorter) / len(longer)
	hybrid := append(append([]string(nil), longer[:split]...), shorter[shorterSplit:]...)

	return strings.Join(hybrid, " "), true
}

var pronounParadigms = [][]string{
	{"he", "she", "it", "they"},
	{"him", "her", "it", "them"},
	{"his", "her", "its", "their"},
}

// pronounParadigm maps a folded pronoun to the first paradigm listing it.
var pronounParadigm = func() map[string]int {
	index := make(map[string]int)
	for paradigm, words := range pronounParadigms {
		for _, word := range words {
			if _, seen := index[word]; !seen {
				index[word] = paradigm
			}
		}
	}

	return index
}()

type pronounOccurrence struct {
	token    int
	paradigm int
}

func (p Pipeline) misgender(rng Rand, text string) (string, bool) {
	tokens := strings.Fields(text)
	fold := cases.Fold()

	var occurrences []pronounOccurrence
	for index, token := range tokens {
		_, core, _ := splitPunctuation(token)
		if paradigm, ok := pronounParadigm[fold.String(core)]; ok {
			occurrences = append(occurrences, pronounOccurrence{token: index, paradigm: paradigm})
		}
	}
	if len(occurrences) == 0 || !p.Gates[Misgendering].Roll(rng) {
		return "", false
	}

	chosen := rng.IntN(len(occurrences))
	for index, occurrence := range occurrences {
		if index != chosen && !p.OtherPronoun.Roll(rng) {
			continue
		}
		replacement, _ := pick(rng, pronounParadigms[occurrence.paradigm])
		tokens[occurrence.token] = replacePronoun(tokens[occurrence.token], replacement)
	}

	return strings.Join(tokens, " "), true
}

// splitPunctuation separates leading and trailing non-letters from a token.
func splitPunctuation(token string) (lead, core, trail string) {
	start := strings.IndexFunc(token, unicode.IsLetter)
	if start < 0 {
		return token, "", ""
	}
	end := strings.LastIndexFunc(token, unicode.IsLetter)
	_, size := utf8.DecodeRuneInString(token[end:])

	return token[:start], token[start : end+size], token[end+size:]
}

func replacePronoun(token, replacement string) string {
	lead, core, trail := splitPunctuation(token)
	switch {
	case core == strings.ToUpper(core) && utf8.RuneCountInString(core) > 1:
		replacement = cases.Upper(language.Und).String(replacement)
	case startsUpper(core):
		replacement = cases.Title(language.Und).String(replacement)
	}

	return lead + replacement + trail
}

func startsUpper(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsUpper(r)
}
