// Package provider owns one application session's catalog: it moves through
// Idle → Loading → Ready|Failed exactly once, serves the filtered view of
// the catalog and keeps the user's category preferences in sync with
// storage.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"eventscope/internal/cache"
	"eventscope/internal/catalog"
	"eventscope/internal/events"
	"eventscope/internal/fetch"
	"eventscope/internal/idgen"
	appLog "eventscope/internal/log"
	"eventscope/internal/metrics"
	"eventscope/internal/model"
	"eventscope/internal/prefs"
)

// ErrClosed is returned by operations on a torn-down session.
var ErrClosed = errors.New("provider: session closed")

// State is the session's load state.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Settled reports whether s is terminal.
func (s State) Settled() bool {
	return s == StateReady || s == StateFailed
}

var stateNames = []string{"idle", "loading", "ready", "failed"}

// Source says where a Ready snapshot came from.
type Source string

const (
	SourceNone    Source = ""
	SourceCache   Source = "cache"
	SourceNetwork Source = "network"
)

// User-facing status lines, one per settled outcome.
const (
	MessageFromCache = "Loaded events from cache."
	MessageFetched   = "Fetched and cached new events."
	MessageFailed    = "Failed to load events. Please try again later."
)

// Recorder receives session metrics. *metrics.Metrics implements it.
type Recorder interface {
	SessionStarted()
	SetState(state string, all []string)
	ObserveFetch(outcome string, d time.Duration)
	PreferenceToggled(persisted bool)
}

type nopRecorder struct{}

func (nopRecorder) SessionStarted()                    {}
func (nopRecorder) SetState(string, []string)          {}
func (nopRecorder) ObserveFetch(string, time.Duration) {}
func (nopRecorder) PreferenceToggled(bool)             {}

// Update is delivered to subscribers after every state or preference change.
type Update struct {
	State       State
	Source      Source
	Preferences model.UserPreferences
}

// Provider is one application session. Create one per session with New;
// there is no package-level instance.
type Provider struct {
	id      string
	cache   *cache.Manager
	store   *prefs.Store
	fetcher fetch.Fetcher
	pub     events.Publisher
	rec     Recorder

	mu          sync.Mutex
	state       State
	source      Source
	snapshot    *model.CatalogSnapshot
	err         error
	preferences model.UserPreferences
	started     bool
	closed      bool
	done        chan struct{}
	doneClosed  bool
	subs        map[int]chan Update
	nextSub     int
}

type Option func(*Provider)

// WithPublisher publishes session events, e.g. to NATS.
func WithPublisher(pub events.Publisher) Option {
	return func(p *Provider) {
		if pub != nil {
			p.pub = pub
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(p *Provider) {
		if r != nil {
			p.rec = r
		}
	}
}

// WithSessionID overrides the generated session ID.
func WithSessionID(id string) Option {
	return func(p *Provider) {
		if id != "" {
			p.id = id
		}
	}
}

// New starts a session in the Idle state with the persisted preferences
// already loaded. Nothing is fetched until Load.
func New(ctx context.Context, c *cache.Manager, store *prefs.Store, f fetch.Fetcher, opts ...Option) (*Provider, error) {
	if c == nil || store == nil || f == nil {
		return nil, errors.New("provider: cache, preference store and fetcher are required")
	}
	p := &Provider{
		cache:   c,
		store:   store,
		fetcher: f,
		pub:     &events.NoopPublisher{},
		rec:     nopRecorder{},
		state:   StateIdle,
		done:    make(chan struct{}),
		subs:    make(map[int]chan Update),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.id == "" {
		id, err := idgen.NewSessionID()
		if err != nil {
			return nil, err
		}
		p.id = id
	}

	p.preferences = store.Load(ctx)
	p.rec.SessionStarted()
	p.rec.SetState(StateIdle.String(), stateNames)
	appLog.Debug("session created", "session", p.id, "preferred", len(p.preferences.PreferredCategories))
	return p, nil
}

// SessionID identifies this session in logs and published events.
func (p *Provider) SessionID() string { return p.id }

// Load performs the single Idle → Loading transition and settles the
// session from the cache or, on a miss, from one fetch. Calls after the
// first wait for and return the same outcome without fetching again. The
// returned error is the fetch failure, ErrClosed, or ctx's error when ctx
// ends while waiting on another caller's load.
func (p *Provider) Load(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.started {
		done := p.done
		p.mu.Unlock()
		select {
		case <-done:
			return p.settledErr()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.started = true
	p.setStateLocked(StateLoading)
	p.mu.Unlock()

	appLog.Info("catalog load start", "session", p.id)

	if entry, ok := p.cache.Read(ctx); ok {
		return p.settle(ctx, entry.Data, SourceCache, nil)
	}

	start := time.Now()
	snapshot, err := p.fetcher.FetchCatalog(ctx)
	dur := time.Since(start)

	switch {
	case err != nil && fetch.IsMalformed(err):
		p.rec.ObserveFetch(metrics.OutcomeMalformed, dur)
	case err != nil:
		p.rec.ObserveFetch(metrics.OutcomeNetwork, dur)
	case snapshot == nil:
		err = &fetch.Error{Kind: fetch.KindMalformed, Err: errors.New("fetcher returned no snapshot")}
		p.rec.ObserveFetch(metrics.OutcomeMalformed, dur)
	default:
		p.rec.ObserveFetch(metrics.OutcomeSuccess, dur)
	}

	if err != nil {
		return p.settle(ctx, nil, SourceNone, err)
	}
	return p.settle(ctx, snapshot, SourceNetwork, nil)
}

// settle records the outcome of Load. A session closed in the meantime
// keeps its state and nothing is written or announced.
func (p *Provider) settle(ctx context.Context, snapshot *model.CatalogSnapshot, src Source, loadErr error) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		if src == SourceNetwork {
			p.rec.ObserveFetch(metrics.OutcomeDiscarded, 0)
		}
		appLog.Info("catalog load finished after teardown; discarding", "session", p.id, "source", string(src))
		return ErrClosed
	}

	if src == SourceNetwork {
		// Cache before Ready so a later session sees what this one shows.
		if err := p.cache.Write(ctx, snapshot); err != nil {
			appLog.Warn("cache write failed; continuing without cache", err, "session", p.id)
		}
	}

	p.snapshot = snapshot
	p.source = src
	p.err = loadErr
	next := StateReady
	if loadErr != nil {
		next = StateFailed
	}
	p.setStateLocked(next)
	p.closeDoneLocked()
	p.mu.Unlock()

	if loadErr != nil {
		appLog.Error("catalog load failed", loadErr, "session", p.id)
		kind := ""
		var fe *fetch.Error
		if errors.As(loadErr, &fe) {
			kind = string(fe.Kind)
		}
		p.publish(ctx, events.TopicCatalogFailed, events.CatalogFailed{
			SessionID: p.id,
			Kind:      kind,
			Error:     loadErr.Error(),
		})
		return loadErr
	}

	if mm := snapshot.CountMismatches(); len(mm) > 0 {
		appLog.Warn("catalog counts disagree with groups", nil, "session", p.id, "categories", len(mm))
	}
	appLog.Info("catalog ready", "session", p.id, "source", string(src), "events", snapshot.TotalEvents())
	p.publish(ctx, events.TopicCatalogReady, events.CatalogReady{
		SessionID:        p.id,
		Source:           string(src),
		Categories:       len(snapshot.CategoryGroups),
		Events:           snapshot.TotalEvents(),
		CountsConsistent: snapshot.CountsConsistent(),
	})
	return nil
}

func (p *Provider) settledErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.state.Settled() {
		// done was closed by Close before the load settled.
		return ErrClosed
	}
	return p.err
}

func (p *Provider) setStateLocked(s State) {
	p.state = s
	p.rec.SetState(s.String(), stateNames)
	p.notifyLocked()
}

func (p *Provider) closeDoneLocked() {
	if !p.doneClosed {
		close(p.done)
		p.doneClosed = true
	}
}

// State returns the current load state.
func (p *Provider) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Snapshot returns the catalog once Ready, nil otherwise. Callers must
// treat it as read-only.
func (p *Provider) Snapshot() *model.CatalogSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot
}

// Err returns the retained failure once Failed.
func (p *Provider) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Source returns where the Ready snapshot came from.
func (p *Provider) Source() Source {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.source
}

// Message returns the status line for the settled outcome, or "" while
// the session has not settled.
func (p *Provider) Message() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.state == StateFailed:
		return MessageFailed
	case p.state == StateReady && p.source == SourceCache:
		return MessageFromCache
	case p.state == StateReady:
		return MessageFetched
	}
	return ""
}

// Preferences returns a copy of the in-memory preferences.
func (p *Provider) Preferences() model.UserPreferences {
	p.mu.Lock()
	defer p.mu.Unlock()
	return clonePrefs(p.preferences)
}

// AdoptPreferences replaces the in-memory preferences with prefs taken
// from a session this one supersedes. Nothing is saved: the previous
// session persisted them already. Subscribers are notified.
func (p *Provider) AdoptPreferences(prefs model.UserPreferences) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.preferences = clonePrefs(prefs)
	p.notifyLocked()
	return nil
}

// Filtered recomputes the filtered view from the current snapshot and
// preferences. Before Ready it is empty.
func (p *Provider) Filtered() map[model.Category][]model.Event {
	p.mu.Lock()
	snapshot, cur := p.snapshot, p.preferences
	p.mu.Unlock()
	return catalog.Filter(snapshot, cur)
}

// Categories returns the filter bar rows for the current snapshot.
func (p *Provider) Categories() []catalog.CategoryRow {
	p.mu.Lock()
	snapshot, cur := p.snapshot, p.preferences
	p.mu.Unlock()
	return catalog.Rows(snapshot, cur)
}

// ErrUnknownCategory is returned by Toggle for categories outside the
// closed enumeration.
var ErrUnknownCategory = errors.New("provider: unknown category")

// Toggle flips c in the preferences and persists the result before
// returning. The in-memory change stands even when saving fails; the
// save error (wrapping prefs.ErrSaveFailed) is returned for display.
// Toggle works in every state and never triggers a fetch.
func (p *Provider) Toggle(ctx context.Context, c model.Category) (model.UserPreferences, error) {
	if !c.Valid() {
		return p.Preferences(), fmt.Errorf("%w: %q", ErrUnknownCategory, c)
	}

	p.mu.Lock()
	if p.closed {
		cur := clonePrefs(p.preferences)
		p.mu.Unlock()
		return cur, ErrClosed
	}
	next := prefs.Toggle(p.preferences, c)
	p.preferences = next
	// Saved under the lock so storage sees toggles in the same order as memory.
	saveErr := p.store.Save(ctx, next)
	p.notifyLocked()
	p.mu.Unlock()

	p.rec.PreferenceToggled(saveErr == nil)
	if saveErr != nil {
		appLog.Warn("preferences not saved", saveErr, "session", p.id, "category", string(c))
	} else {
		appLog.Debug("preferences saved", "session", p.id, "category", string(c), "preferred", len(next.PreferredCategories))
	}
	p.publish(ctx, events.TopicPreferencesChanged, events.PreferencesChanged{
		SessionID:           p.id,
		Toggled:             c,
		PreferredCategories: clonePrefs(next).PreferredCategories,
		Persisted:           saveErr == nil,
	})
	return clonePrefs(next), saveErr
}

// Subscribe returns a channel of Updates and a cancel function. Updates
// are dropped for subscribers that fall behind.
func (p *Provider) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 16)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch
	p.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if sub, ok := p.subs[id]; ok {
				delete(p.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

func (p *Provider) notifyLocked() {
	u := Update{State: p.state, Source: p.source, Preferences: clonePrefs(p.preferences)}
	for _, ch := range p.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

// Close tears the session down. A load still in flight is discarded when
// it completes. Subscriber channels are closed. Close is idempotent.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for id, ch := range p.subs {
		delete(p.subs, id)
		close(ch)
	}
	p.closeDoneLocked()
	appLog.Debug("session closed", "session", p.id, "state", p.state.String())
	return nil
}

func (p *Provider) publish(ctx context.Context, topic string, event any) {
	if err := p.pub.Publish(ctx, topic, event); err != nil {
		appLog.Warn("event publish failed", err, "session", p.id, "topic", topic)
	}
}

func clonePrefs(in model.UserPreferences) model.UserPreferences {
	out := model.UserPreferences{PreferredCategories: make([]model.Category, len(in.PreferredCategories))}
	copy(out.PreferredCategories, in.PreferredCategories)
	return out
}
