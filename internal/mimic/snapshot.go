package mimic

import (
	"bytes"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// SnapshotVersion is the current schema version.
const SnapshotVersion = 2

// UtteranceRecord is the persisted form of one utterance.
type UtteranceRecord struct {
	AuthorID string `msgpack:"author_id" json:"author_id"`
	Content  string `msgpack:"content" json:"content"`
}

// ScopeRecord is the persisted form of one scope in the current schema.
type ScopeRecord struct {
	Messages []UtteranceRecord `msgpack:"messages" json:"messages"`
	Asleep   bool              `msgpack:"asleep" json:"asleep"`
	// AllowedMutators is a pointer so that an absent field is distinguishable from an empty set.
	AllowedMutators *[]string `msgpack:"allowed_mutators" json:"allowed_mutators"`
	MinProc         int       `msgpack:"min_proc" json:"min_proc"`
	MaxProc         int       `msgpack:"max_proc" json:"max_proc"`
	ProcOutOf       int       `msgpack:"proc_out_of" json:"proc_out_of"`
	Proc            int       `msgpack:"proc" json:"proc"`
}

// SnapshotDocument is the current schema.
type SnapshotDocument struct {
	Version      int           `msgpack:"version" json:"version"`
	GuildsKeys   []string      `msgpack:"guilds_keys" json:"guilds_keys"`
	GuildsValues []ScopeRecord `msgpack:"guilds_values" json:"guilds_values"`
	Whitelist    []string      `msgpack:"whitelist" json:"whitelist"`
	Blacklist    []string      `msgpack:"blacklist" json:"blacklist"`
	Modlist      []string      `msgpack:"modlist" json:"modlist"`
	LastSnapshot int64         `msgpack:"last_snapshot" json:"last_snapshot"`
}

// LegacyScopeRecord is a scope written before mutators were configurable.
type LegacyScopeRecord struct {
	Messages  []UtteranceRecord `msgpack:"messages"`
	Asleep    bool              `msgpack:"asleep"`
	MinProc   int               `msgpack:"min_proc"`
	MaxProc   int               `msgpack:"max_proc"`
	ProcOutOf int               `msgpack:"proc_out_of"`
	Proc      int               `msgpack:"proc"`
}

// LegacySnapshotDocument is the schema written before version 2.
type LegacySnapshotDocument struct {
	Version      int                 `msgpack:"version,omitempty"`
	GuildsKeys   []string            `msgpack:"guilds_keys"`
	GuildsValues []LegacyScopeRecord `msgpack:"guilds_values"`
	Whitelist    []string            `msgpack:"whitelist"`
	Blacklist    []string            `msgpack:"blacklist"`
	Modlist      []string            `msgpack:"modlist"`
	LastSnapshot int64               `msgpack:"last_snapshot,omitempty"`
}

// MigrateLegacy upgrades a legacy document, granting every scope the default mutators.
// A legacy proc that cannot produce a rate is replaced by DefaultProc.
func MigrateLegacy(legacy LegacySnapshotDocument) SnapshotDocument {
	document := SnapshotDocument{
		Version:      SnapshotVersion,
		GuildsKeys:   slices.Clone(legacy.GuildsKeys),
		GuildsValues: make([]ScopeRecord, 0, len(legacy.GuildsValues)),
		Whitelist:    slices.Clone(legacy.Whitelist),
		Blacklist:    slices.Clone(legacy.Blacklist),
		Modlist:      slices.Clone(legacy.Modlist),
		LastSnapshot: legacy.LastSnapshot,
	}
	for _, scope := range legacy.GuildsValues {
		names := mutatorNamesOf(DefaultMutators())
		proc := Proc{Min: scope.MinProc, Max: scope.MaxProc, OutOf: scope.ProcOutOf, Current: scope.Proc}
		if proc.Validate() != nil {
			proc = DefaultProc()
			proc.Current = proc.Min
		}
		document.GuildsValues = append(document.GuildsValues, ScopeRecord{
			Messages:        slices.Clone(scope.Messages),
			Asleep:          scope.Asleep,
			AllowedMutators: &names,
			MinProc:         proc.Min,
			MaxProc:         proc.Max,
			ProcOutOf:       proc.OutOf,
			Proc:            proc.Current,
		})
	}

	return document
}

// Codec converts GlobalState to and from snapshot bytes.
type Codec struct {
	// Owner is installed into the registry of decoded states.
	Owner UserID
	// Eviction governs the corpora of decoded scopes.
	Eviction EvictionPolicy
}

// Encode writes state in the current schema with sorted keys and identity sets.
func (c Codec) Encode(state *GlobalState) ([]byte, error) {
	document := SnapshotDocument{
		Version:      SnapshotVersion,
		Whitelist:    userIDStrings(state.Access.Whitelist()),
		Blacklist:    userIDStrings(state.Access.Blacklist()),
		Modlist:      userIDStrings(state.Access.Moderators()),
		GuildsKeys:   make([]string, 0, len(state.Scopes)),
		GuildsValues: make([]ScopeRecord, 0, len(state.Scopes)),
	}
	if !state.LastSnapshot.IsZero() {
		document.LastSnapshot = state.LastSnapshot.Unix()
	}

	for _, id := range slices.Sorted(maps.Keys(state.Scopes)) {
		scope := state.Scopes[id]
		names := mutatorNamesOf(scope.AllowedMutators)
		record := ScopeRecord{
			Messages:        make([]UtteranceRecord, 0, scope.Corpus.Len()),
			Asleep:          scope.Asleep,
			AllowedMutators: &names,
			MinProc:         scope.Proc.Min,
			MaxProc:         scope.Proc.Max,
			ProcOutOf:       scope.Proc.OutOf,
			Proc:            scope.Proc.Current,
		}
		for _, u := range scope.Corpus.utterances {
			record.Messages = append(record.Messages, UtteranceRecord{AuthorID: string(u.AuthorID), Content: u.Content})
		}
		document.GuildsKeys = append(document.GuildsKeys, string(id))
		document.GuildsValues = append(document.GuildsValues, record)
	}

	data, err := EncodeDocument(document)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	return data, nil
}

// Decode reads either schema. State is built only when every field is valid.
func (c Codec) Decode(data []byte) (*GlobalState, error) {
	current, currentErr := decodeCurrent(data)
	if currentErr == nil {
		state, err := c.toState(current)
		if err == nil {
			return state, nil
		}
		currentErr = err
	}

	legacy, legacyErr := decodeLegacy(data)
	if legacyErr == nil {
		state, err := c.toState(MigrateLegacy(legacy))
		if err == nil {
			return state, nil
		}
		legacyErr = err
	}

	return nil, &DeserializationError{Current: currentErr, Legacy: legacyErr}
}

// DecodeDocument reads either schema and reports whether the legacy schema matched.
func DecodeDocument(data []byte) (document SnapshotDocument, legacy bool, err error) {
	current, currentErr := decodeCurrent(data)
	if currentErr == nil {
		return current, false, nil
	}
	old, legacyErr := decodeLegacy(data)
	if legacyErr == nil {
		return MigrateLegacy(old), true, nil
	}

	return SnapshotDocument{}, false, &DeserializationError{Current: currentErr, Legacy: legacyErr}
}

// EncodeDocument writes one current-schema document.
func EncodeDocument(document SnapshotDocument) ([]byte, error) {
	var buffer bytes.Buffer
	if err := msgpack.NewEncoder(&buffer).Encode(&document); err != nil {
		return nil, err
	}

	return buffer.Bytes(), nil
}

func decodeCurrent(data []byte) (SnapshotDocument, error) {
	var document SnapshotDocument
	if err := decodeStrict(data, &document); err != nil {
		return SnapshotDocument{}, err
	}
	if document.Version != SnapshotVersion {
		return SnapshotDocument{}, fmt.Errorf("version %d, want %d", document.Version, SnapshotVersion)
	}
	for index, scope := range document.GuildsValues {
		if scope.AllowedMutators == nil {
			return SnapshotDocument{}, fmt.Errorf("guilds_values[%d]: missing allowed_mutators", index)
		}
	}

	return document, nil
}

func decodeLegacy(data []byte) (LegacySnapshotDocument, error) {
	var document LegacySnapshotDocument
	if err := decodeStrict(data, &document); err != nil {
		return LegacySnapshotDocument{}, err
	}
	if document.Version != 0 && document.Version != 1 {
		return LegacySnapshotDocument{}, fmt.Errorf("version %d is not a legacy version", document.Version)
	}

	return document, nil
}

func decodeStrict(data []byte, target any) error {
	if len(data) == 0 {
		return fmt.Errorf("empty input")
	}
	reader := bytes.NewReader(data)
	decoder := msgpack.NewDecoder(reader)
	decoder.DisallowUnknownFields(true)
	if err := decoder.Decode(target); err != nil {
		return err
	}
	if reader.Len() != 0 {
		return fmt.Errorf("%d trailing bytes", reader.Len())
	}

	return nil
}

func (c Codec) toState(document SnapshotDocument) (*GlobalState, error) {
	if len(document.GuildsKeys) != len(document.GuildsValues) {
		return nil, fmt.Errorf("guilds_keys has %d entries, guilds_values has %d",
			len(document.GuildsKeys), len(document.GuildsValues))
	}

	state := NewGlobalState(c.Owner)
	state.Access.whitelist = idSet(userIDs(document.Whitelist))
	state.Access.blacklist = idSet(userIDs(document.Blacklist))
	state.Access.moderators = idSet(userIDs(document.Modlist))
	if document.LastSnapshot != 0 {
		state.LastSnapshot = time.Unix(document.LastSnapshot, 0)
	}

	for index, key := range document.GuildsKeys {
		id := ScopeID(key)
		if _, exists := state.Scopes[id]; exists {
			return nil, fmt.Errorf("duplicate scope %q", key)
		}
		record := document.GuildsValues[index]

		proc := Proc{Min: record.MinProc, Max: record.MaxProc, OutOf: record.ProcOutOf, Current: record.Proc}
		if err := proc.Validate(); err != nil {
			return nil, fmt.Errorf("scope %q: %w", key, err)
		}

		allowed := make([]MutatorKind, 0, len(*record.AllowedMutators))
		for _, name := range *record.AllowedMutators {
			kind, err := ParseMutatorKind(name)
			if err != nil {
				return nil, fmt.Errorf("scope %q: %w", key, err)
			}
			allowed = append(allowed, kind)
		}

		utterances := make([]Utterance, 0, len(record.Messages))
		for _, message := range record.Messages {
			utterances = append(utterances, Utterance{AuthorID: UserID(message.AuthorID), Content: message.Content})
		}

		state.Scopes[id] = &ScopeState{
			ID:              id,
			Corpus:          NewCorpus(c.Eviction, utterances...),
			Asleep:          record.Asleep,
			AllowedMutators: allowed,
			Proc:            proc,
		}
	}

	return state, nil
}

func mutatorNamesOf(kinds []MutatorKind) []string {
	names := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		names = append(names, kind.String())
	}

	return names
}

func userIDStrings(ids []UserID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, string(id))
	}

	return out
}

func userIDs(values []string) []UserID {
	out := make([]UserID, 0, len(values))
	for _, value := range values {
		out = append(out, UserID(value))
	}

	return out
}
