package mimic

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// DefaultSnapshotInterval is the lazy auto-snapshot threshold.
const DefaultSnapshotInterval = 12 * time.Hour

// DefaultIgnoreMarkers opt a message out of storage and emission.
var DefaultIgnoreMarkers = []string{"/unscule", "::SCL_"}

// Config configures a Coordinator.
type Config struct {
	Owner            UserID
	Scope            ScopeDefaults
	SnapshotInterval time.Duration
	WordDelay        time.Duration
	MaxTypingDelay   time.Duration
	MaxContinuations int
	// IgnoreMarkers drop any message containing one of them.
	IgnoreMarkers []string
	// CommandPrefixes drop any message starting with one of them.
	CommandPrefixes []string
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{
		Owner:            DefaultOwner,
		Scope:            DefaultScopeDefaults(),
		SnapshotInterval: DefaultSnapshotInterval,
		WordDelay:        DefaultWordDelay,
		MaxTypingDelay:   DefaultMaxTypingDelay,
		MaxContinuations: DefaultMaxContinuations,
		IgnoreMarkers:    slices.Clone(DefaultIgnoreMarkers),
		CommandPrefixes:  []string{"/", "~"},
	}
}

// Validate checks configuration coherence.
func (c Config) Validate() error {
	if c.Owner == "" {
		return fmt.Errorf("owner: must not be empty")
	}
	if err := c.Scope.Eviction.Validate(); err != nil {
		return err
	}
	if err := c.Scope.Proc.Validate(); err != nil {
		return fmt.Errorf("default proc: %w", err)
	}
	if c.SnapshotInterval <= 0 {
		return fmt.Errorf("snapshot interval: must be > 0")
	}
	if c.WordDelay < 0 || c.MaxTypingDelay < 0 {
		return fmt.Errorf("typing delay: must be >= 0")
	}
	if c.MaxContinuations <= 0 {
		return fmt.Errorf("max continuations: must be > 0")
	}

	return nil
}

// Inbound is one message observed in a scope.
type Inbound struct {
	ScopeID      ScopeID
	AuthorID     UserID
	AuthorIsBot  bool
	Text         string
	Mentions     []UserID
	MentionsSelf bool
	ReplyToSelf  bool
	MessageID    string
	// Emotes is the reaction symbol set of the scope.
	Emotes []string
}

// Emission is one outbound message produced by an emission sequence.
type Emission struct {
	ScopeID   ScopeID
	Step      int
	Text      string
	ReplyToID string
	Mutator   MutatorKind
	Mutated   bool
}

// Emitter delivers emissions to the chat transport.
type Emitter interface {
	// Emit sends one message and returns its platform id.
	Emit(ctx context.Context, emission Emission) (string, error)
	// IsLatest reports whether messageID is still the most recent message of scope.
	IsLatest(ctx context.Context, scope ScopeID, messageID string) bool
}

// Typist is implemented by emitters that can show a typing indicator.
type Typist interface {
	Typing(ctx context.Context, scope ScopeID) error
}

// Reactor is implemented by emitters that can react to the inbound message.
type Reactor interface {
	React(ctx context.Context, scope ScopeID, messageID string, emoji string) error
}

// Observation reports what one Observe call did.
type Observation struct {
	Ignored   bool
	Asleep    bool
	Admission AdmissionResult
	Evicted   int
	Decision  Decision
	Reactions []string
	Emitted   []Emission
	// Errors holds transport failures and ErrEmptyCorpus; none of them is fatal.
	Errors []error
	// Snapshot is set when the lazy auto-snapshot fired during this observation.
	Snapshot []byte
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithRand overrides the randomness source.
func WithRand(rng Rand) Option {
	return func(c *Coordinator) { c.rng = rng }
}

// WithClock overrides wall-clock time.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithSleeper overrides how typing delays are waited out.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Coordinator) { c.sleep = sleep }
}

// WithPipeline overrides mutator gates.
func WithPipeline(pipeline Pipeline) Option {
	return func(c *Coordinator) { c.pipeline = pipeline }
}

// Coordinator owns the global state and serializes every access to it.
//
// The lock is held only for state reads and writes; typing delays and
// outbound calls run unlocked.
type Coordinator struct {
	mu       sync.Mutex
	state    *GlobalState
	rng      Rand
	codec    Codec
	config   Config
	pipeline Pipeline
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	started  time.Time
}

// NewCoordinator creates a coordinator with empty state.
func NewCoordinator(config Config, options ...Option) (*Coordinator, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("new coordinator: %w", err)
	}

	c := &Coordinator{
		config:   config,
		codec:    Codec{Owner: config.Owner, Eviction: config.Scope.Eviction},
		pipeline: DefaultPipeline(),
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, option := range options {
		option(c)
	}
	if c.rng == nil {
		c.rng = NewRand(uint64(c.now().UnixNano()))
	}
	c.started = c.now()
	c.state = NewGlobalState(config.Owner)
	// the first auto-snapshot is due one interval after startup
	c.state.LastSnapshot = c.started

	return c, nil
}

// Codec returns the codec bound to this coordinator's owner and eviction policy.
func (c *Coordinator) Codec() Codec { return c.codec }

// Observe runs admission, random reactions and the emission sequence for one message.
//
// The returned error is non-nil only when ctx ends during the sequence.
func (c *Coordinator) Observe(ctx context.Context, in Inbound, emitter Emitter) (Observation, error) {
	observation := Observation{Evicted: -1}
	if c.ignored(in) {
		observation.Ignored = true
		return observation, nil
	}

	c.mu.Lock()
	if c.snapshotDueLocked(c.now()) {
		data, err := c.snapshotLocked()
		if err != nil {
			observation.Errors = append(observation.Errors, err)
		} else {
			observation.Snapshot = data
		}
	}

	scope := c.state.Scope(c.rng, in.ScopeID, c.config.Scope)
	if scope.Asleep {
		c.mu.Unlock()
		observation.Asleep = true
		return observation, nil
	}

	observation.Reactions = c.rollReactionsLocked(in.Emotes)
	observation.Decision = ShouldEmit(c.rng, scope.Proc, in.MentionsSelf || in.ReplyToSelf)
	if observation.Decision.Emit && !observation.Decision.Forced {
		ResampleProc(c.rng, &scope.Proc)
	}

	access := c.state.Access
	observation.Admission, observation.Evicted = scope.Corpus.Admit(
		c.rng,
		Utterance{AuthorID: in.AuthorID, Content: in.Text},
		AdmissionContext{
			Subscribed:  access.IsSubscribed(in.AuthorID),
			Permitted:   access.IsPermitted(in.AuthorID),
			HasMentions: len(in.Mentions) > 0 || in.MentionsSelf,
		},
	)
	c.mu.Unlock()

	if reactor, ok := emitter.(Reactor); ok && in.MessageID != "" {
		for _, emoji := range observation.Reactions {
			if err := reactor.React(ctx, in.ScopeID, in.MessageID, emoji); err != nil {
				observation.Errors = append(observation.Errors, &TransportError{Scope: in.ScopeID, Err: err})
			}
		}
	}

	if !observation.Decision.Emit {
		return observation, nil
	}

	return c.emitSequence(ctx, in, emitter, observation)
}

func (c *Coordinator) emitSequence(ctx context.Context, in Inbound, emitter Emitter, observation Observation) (Observation, error) {
	previousID := ""
	for step := 0; step < c.config.MaxContinuations; step++ {
		emission, keepGoing, err := c.nextEmission(in, step)
		if err != nil {
			observation.Errors = append(observation.Errors, err)
			return observation, nil
		}

		if typist, ok := emitter.(Typist); ok {
			if err := typist.Typing(ctx, in.ScopeID); err != nil {
				observation.Errors = append(observation.Errors, &TransportError{Scope: in.ScopeID, Step: step, Err: err})
			}
		}
		if err := c.sleep(ctx, TypingDelay(emission.Text, c.config.WordDelay, c.config.MaxTypingDelay)); err != nil {
			return observation, fmt.Errorf("emit scope %s: %w", in.ScopeID, err)
		}

		if previousID != "" && !emitter.IsLatest(ctx, in.ScopeID, previousID) {
			emission.ReplyToID = previousID
		}
		messageID, err := emitter.Emit(ctx, emission)
		if err != nil {
			observation.Errors = append(observation.Errors, &TransportError{Scope: in.ScopeID, Step: step, Err: err})
		} else {
			previousID = messageID
			observation.Emitted = append(observation.Emitted, emission)
		}

		if !keepGoing {
			break
		}
	}

	return observation, nil
}

// nextEmission picks and mutates one utterance under the lock.
func (c *Coordinator) nextEmission(in Inbound, step int) (Emission, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	scope, ok := c.state.Scopes[in.ScopeID]
	if !ok || scope.Asleep {
		return Emission{}, false, fmt.Errorf("%w: scope %s", ErrEmptyCorpus, in.ScopeID)
	}
	utterance, ok := scope.Corpus.PickRandom(c.rng)
	if !ok {
		return Emission{}, false, fmt.Errorf("%w: scope %s", ErrEmptyCorpus, in.ScopeID)
	}

	text, kind, mutated := c.pipeline.Apply(c.rng, scope.MutationScope(in.Emotes), utterance.Content)
	keepGoing := Continue(c.rng) && step+1 < c.config.MaxContinuations
	if keepGoing {
		text += ContinuationMarker
	}

	return Emission{
		ScopeID: in.ScopeID,
		Step:    step,
		Text:    text,
		Mutator: kind,
		Mutated: mutated,
	}, keepGoing, nil
}

func (c *Coordinator) rollReactionsLocked(emotes []string) []string {
	if len(emotes) == 0 || !reactRatio.Roll(c.rng) {
		return nil
	}

	var reactions []string
	for range c.config.MaxContinuations {
		emoji, _ := pick(c.rng, emotes)
		reactions = append(reactions, emoji)
		if !continueRatio.Roll(c.rng) {
			break
		}
	}

	return reactions
}

func (c *Coordinator) ignored(in Inbound) bool {
	if in.AuthorIsBot {
		return true
	}
	for _, marker := range c.config.IgnoreMarkers {
		if marker != "" && strings.Contains(in.Text, marker) {
			return true
		}
	}
	trimmed := strings.TrimSpace(in.Text)
	for _, prefix := range c.config.CommandPrefixes {
		if prefix != "" && strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}

	return false
}

// SnapshotDue reports whether the auto-snapshot interval has elapsed at now.
func (c *Coordinator) SnapshotDue(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.snapshotDueLocked(now)
}

func (c *Coordinator) snapshotDueLocked(now time.Time) bool {
	return now.Sub(c.state.LastSnapshot) >= c.config.SnapshotInterval
}

// Snapshot encodes the whole state and stamps the snapshot time.
func (c *Coordinator) Snapshot() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.snapshotLocked()
}

func (c *Coordinator) snapshotLocked() ([]byte, error) {
	previous := c.state.LastSnapshot
	c.state.LastSnapshot = c.now()
	data, err := c.codec.Encode(c.state)
	if err != nil {
		c.state.LastSnapshot = previous
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	return data, nil
}

// Restore replaces the whole state with a decoded snapshot.
//
// On error the current state is left untouched.
func (c *Coordinator) Restore(data []byte) error {
	state, err := c.codec.Decode(data)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if state.LastSnapshot.IsZero() {
		state.LastSnapshot = c.now()
	}
	c.state = state

	return nil
}

// ConfigureProc sets the proc bounds of scope and redraws Current.
func (c *Coordinator) ConfigureProc(scope ScopeID, minProc, maxProc, outOf int) (Proc, error) {
	proc := Proc{Min: minProc, Max: maxProc, OutOf: outOf}
	if err := proc.Validate(); err != nil {
		return Proc{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	state := c.state.Scope(c.rng, scope, c.config.Scope)
	ResampleProc(c.rng, &proc)
	state.Proc = proc

	return proc, nil
}

// ToggleSleep flips the asleep flag and returns the new value.
func (c *Coordinator) ToggleSleep(scope ScopeID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := c.state.Scope(c.rng, scope, c.config.Scope)
	state.Asleep = !state.Asleep

	return state.Asleep
}

// SetMutators replaces the allowed mutator set of scope.
func (c *Coordinator) SetMutators(scope ScopeID, kinds []MutatorKind) {
	deduped := make([]MutatorKind, 0, len(kinds))
	for _, kind := range kinds {
		if !slices.Contains(deduped, kind) {
			deduped = append(deduped, kind)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Scope(c.rng, scope, c.config.Scope).AllowedMutators = deduped
}

// ToggleModerator flips moderator membership of id.
func (c *Coordinator) ToggleModerator(id UserID) ToggleResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state.Access.ToggleModerator(id)
}

// ToggleWhitelist flips subscription of id.
func (c *Coordinator) ToggleWhitelist(id UserID) ToggleResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state.Access.ToggleWhitelist(id)
}

// ToggleBlacklist flips blacklist membership of id.
func (c *Coordinator) ToggleBlacklist(id UserID) ToggleResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state.Access.ToggleBlacklist(id)
}

// Role is the permission level of one identity.
type Role int

const (
	// RoleBlocked is a blacklisted non-owner.
	RoleBlocked Role = iota
	RoleUser
	RoleModerator
	RoleOwner
)

// RoleOf returns the highest role id holds.
func (c *Coordinator) RoleOf(id UserID) Role {
	c.mu.Lock()
	defer c.mu.Unlock()

	access := c.state.Access
	switch {
	case access.IsOwner(id):
		return RoleOwner
	case access.IsModerator(id):
		return RoleModerator
	case access.IsPermitted(id):
		return RoleUser
	default:
		return RoleBlocked
	}
}

// FindContent returns utterances of scope containing substr.
func (c *Coordinator) FindContent(scope ScopeID, substr string) []Utterance {
	if substr == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.state.Scopes[scope]
	if !ok {
		return nil
	}

	return state.Corpus.FindByContent(substr)
}

// DeleteContent removes utterances of scope containing substr.
func (c *Coordinator) DeleteContent(scope ScopeID, substr string) int {
	if substr == "" {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.state.Scopes[scope]
	if !ok {
		return 0
	}

	return state.Corpus.DeleteByContent(substr)
}

// DeleteAuthor removes every utterance of author in scope.
func (c *Coordinator) DeleteAuthor(scope ScopeID, author UserID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.state.Scopes[scope]
	if !ok {
		return 0
	}

	return state.Corpus.DeleteByAuthor(author)
}

// ScopeInfo is a read-only view of one scope.
type ScopeInfo struct {
	ID              ScopeID       `json:"id"`
	Utterances      int           `json:"utterances"`
	Asleep          bool          `json:"asleep"`
	AllowedMutators []MutatorKind `json:"-"`
	Mutators        []string      `json:"mutators"`
	Proc            Proc          `json:"proc"`
}

func scopeInfoOf(scope *ScopeState) ScopeInfo {
	return ScopeInfo{
		ID:              scope.ID,
		Utterances:      scope.Corpus.Len(),
		Asleep:          scope.Asleep,
		AllowedMutators: slices.Clone(scope.AllowedMutators),
		Mutators:        mutatorNamesOf(scope.AllowedMutators),
		Proc:            scope.Proc,
	}
}

// ScopeInfo returns the view of scope.
func (c *Coordinator) ScopeInfo(scope ScopeID) (ScopeInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.state.Scopes[scope]
	if !ok {
		return ScopeInfo{}, fmt.Errorf("%w: %s", ErrUnknownScope, scope)
	}

	return scopeInfoOf(state), nil
}

// Scopes returns the views of every scope sorted by id.
func (c *Coordinator) Scopes() []ScopeInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	infos := make([]ScopeInfo, 0, len(c.state.Scopes))
	for _, scope := range c.state.Scopes {
		infos = append(infos, scopeInfoOf(scope))
	}
	slices.SortFunc(infos, func(a, b ScopeInfo) int { return strings.Compare(string(a.ID), string(b.ID)) })

	return infos
}

// Stats summarizes the whole state.
type Stats struct {
	Uptime            time.Duration `json:"uptime"`
	SinceLastSnapshot time.Duration `json:"since_last_snapshot"`
	Scopes            int           `json:"scopes"`
	Utterances        int           `json:"utterances"`
	Whitelisted       int           `json:"whitelisted"`
	Blacklisted       int           `json:"blacklisted"`
	Moderators        int           `json:"moderators"`
}

// Stats returns the summary at the coordinator's clock.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	return Stats{
		Uptime:            now.Sub(c.started),
		SinceLastSnapshot: now.Sub(c.state.LastSnapshot),
		Scopes:            len(c.state.Scopes),
		Utterances:        c.state.Utterances(),
		Whitelisted:       len(c.state.Access.whitelist),
		Blacklisted:       len(c.state.Access.blacklist),
		Moderators:        len(c.state.Access.moderators),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
