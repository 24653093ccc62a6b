package mimic

import (
	"errors"
	"slices"
	"strings"
	"testing"
)

func alwaysPipeline() Pipeline {
	return Pipeline{
		Gates: map[MutatorKind]Ratio{
			AppendEmote:    {Num: 1, Den: 1},
			MessageSplicer: {Num: 1, Den: 1},
			Misgendering:   {Num: 1, Den: 1},
		},
		OtherPronoun: Ratio{Num: 3, Den: 4},
	}
}

func TestPipelineApplyDeterministic(t *testing.T) {
	t.Parallel()

	corpus := NewCorpus(DefaultEvictionPolicy(), Utterance{AuthorID: "1", Content: "a b c d e f"})
	tests := []struct {
		name     string
		allowed  []MutatorKind
		emotes   []string
		text     string
		want     string
		wantKind MutatorKind
		wantOK   bool
	}{
		{
			name:     "append emote",
			allowed:  []MutatorKind{AppendEmote},
			emotes:   []string{"🔥", "👍"},
			text:     "nice",
			want:     "nice 🔥",
			wantKind: AppendEmote,
			wantOK:   true,
		},
		{
			name:    "append emote without emotes",
			allowed: []MutatorKind{AppendEmote},
			text:    "nice",
			want:    "nice",
		},
		{
			name:     "splice shorter input into longer utterance",
			allowed:  []MutatorKind{MessageSplicer},
			text:     "x y",
			want:     "a x y",
			wantKind: MessageSplicer,
			wantOK:   true,
		},
		{
			name:     "misgender keeps capitalization and punctuation",
			allowed:  []MutatorKind{Misgendering},
			text:     "She said it!",
			want:     "He said he!",
			wantKind: Misgendering,
			wantOK:   true,
		},
		{
			name:    "misgender without pronouns",
			allowed: []MutatorKind{Misgendering},
			text:    "nothing to see",
			want:    "nothing to see",
		},
		{
			name:    "nothing allowed",
			allowed: nil,
			text:    "she",
			want:    "she",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			scope := MutationScope{Corpus: corpus, Emotes: testCase.emotes, Allowed: testCase.allowed}
			got, kind, ok := alwaysPipeline().Apply(zeroRand{}, scope, testCase.text)
			if got != testCase.want || kind != testCase.wantKind || ok != testCase.wantOK {
				t.Fatalf("Apply() = (%q, %v, %v), want (%q, %v, %v)",
					got, kind, ok, testCase.want, testCase.wantKind, testCase.wantOK)
			}
		})
	}
}

func TestSpliceEmptyCorpusIsNotApplicable(t *testing.T) {
	t.Parallel()

	scope := MutationScope{Corpus: NewCorpus(DefaultEvictionPolicy()), Allowed: []MutatorKind{MessageSplicer}}
	if _, _, ok := alwaysPipeline().Apply(zeroRand{}, scope, "hello"); ok {
		t.Fatal("Apply() with empty corpus = true, want false")
	}
}

func TestMisgenderingSinglePronounAlwaysReplaced(t *testing.T) {
	t.Parallel()

	object := pronounParadigms[1]
	rng := NewRand(3)
	scope := MutationScope{Allowed: []MutatorKind{Misgendering}}
	changed := false
	for range 500 {
		got, kind, ok := alwaysPipeline().Apply(rng, scope, "tell him now")
		if !ok || kind != Misgendering {
			t.Fatalf("Apply() = (%q, %v, %v), want misgendering success", got, kind, ok)
		}
		tokens := strings.Fields(got)
		if len(tokens) != 3 || tokens[0] != "tell" || tokens[2] != "now" {
			t.Fatalf("Apply() = %q, want only the pronoun replaced", got)
		}
		if !slices.Contains(object, tokens[1]) {
			t.Fatalf("replacement %q not in object paradigm %v", tokens[1], object)
		}
		if tokens[1] != "him" {
			changed = true
		}
	}
	if !changed {
		t.Fatal("pronoun never changed across 500 successful attempts")
	}
}

func TestMisgenderingGateFailureLeavesText(t *testing.T) {
	t.Parallel()

	scope := MutationScope{Allowed: DefaultMutators(), Emotes: []string{"🔥"}, Corpus: NewCorpus(DefaultEvictionPolicy(), Utterance{Content: "x"})}
	got, _, ok := DefaultPipeline().Apply(maxRand{}, scope, "she is here")
	if ok || got != "she is here" {
		t.Fatalf("Apply() = (%q, %v), want unchanged", got, ok)
	}
}

func TestPronounParadigmAmbiguity(t *testing.T) {
	t.Parallel()

	tests := map[string]int{"her": 1, "it": 0, "its": 2, "they": 0, "them": 1}
	for word, want := range tests {
		if got := pronounParadigm[word]; got != want {
			t.Fatalf("paradigm(%s) = %d, want %d", word, got, want)
		}
	}
}

func TestParseMutatorKind(t *testing.T) {
	t.Parallel()

	for _, kind := range DefaultMutators() {
		got, err := ParseMutatorKind(strings.ToUpper(kind.String()))
		if err != nil || got != kind {
			t.Fatalf("ParseMutatorKind(%s) = (%v, %v), want %v", kind, got, err, kind)
		}
	}
	if _, err := ParseMutatorKind("uwuify"); !errors.Is(err, ErrUnknownMutator) {
		t.Fatalf("ParseMutatorKind(uwuify) error = %v, want ErrUnknownMutator", err)
	}
}
