// Package cache keeps the last fetched catalog in a single durable slot with
// a fixed time-to-live. Expiry is lazy: staleness is checked on Read and a
// stale entry is deleted there; nothing runs in the background.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"eventscope/internal/kv"
	appLog "eventscope/internal/log"
	"eventscope/internal/model"
)

const (
	// TTL is the maximum age of a usable entry.
	TTL = 12 * time.Hour

	// SchemaVersion is written into every entry. Entries carrying another
	// non-zero version are discarded on read.
	SchemaVersion = 1
)

// Observer receives cache outcomes, e.g. for metrics.
type Observer interface {
	CacheHit()
	CacheMiss(reason string)
	CacheEvicted(reason string)
}

type nopObserver struct{}

func (nopObserver) CacheHit()           {}
func (nopObserver) CacheMiss(string)    {}
func (nopObserver) CacheEvicted(string) {}

// Miss reasons reported to the Observer.
const (
	ReasonAbsent      = "absent"
	ReasonExpired     = "expired"
	ReasonCorrupt     = "corrupt"
	ReasonVersion     = "version"
	ReasonUnavailable = "unavailable"
)

// Manager wraps the kv slot that holds the cached catalog.
type Manager struct {
	kv       kv.Store
	key      string
	now      func() time.Time
	observer Observer
}

type Option func(*Manager)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

func NewManager(s kv.Store, opts ...Option) *Manager {
	m := &Manager{
		kv:       s,
		key:      kv.KeyEventsCache,
		now:      time.Now,
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Read returns the cached entry if one exists and is no older than TTL.
// Expired, undecodable or foreign-version entries are removed and reported
// as absent. Storage failures are reported as absent too, which degrades
// the caller to always fetching.
func (m *Manager) Read(ctx context.Context) (model.CacheEntry, bool) {
	raw, ok, err := m.kv.Get(ctx, m.key)
	if err != nil {
		appLog.Warn("cache read failed; treating as absent", err, "key", m.key)
		m.observer.CacheMiss(ReasonUnavailable)
		return model.CacheEntry{}, false
	}
	if !ok {
		m.observer.CacheMiss(ReasonAbsent)
		return model.CacheEntry{}, false
	}

	var entry model.CacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil || entry.Data == nil {
		if err == nil {
			err = errors.New("cache entry has no data")
		}
		appLog.Warn("cache entry undecodable; discarding", err, "key", m.key)
		m.evict(ctx, ReasonCorrupt)
		return model.CacheEntry{}, false
	}
	if entry.Version != 0 && entry.Version != SchemaVersion {
		appLog.Info("cache entry has foreign schema version; discarding", "version", entry.Version, "want", SchemaVersion)
		m.evict(ctx, ReasonVersion)
		return model.CacheEntry{}, false
	}

	age := m.now().Sub(time.UnixMilli(entry.Timestamp))
	if age > TTL {
		appLog.Info("cache entry expired; discarding", "age", age.Round(time.Second), "ttl", TTL)
		m.evict(ctx, ReasonExpired)
		return model.CacheEntry{}, false
	}

	m.observer.CacheHit()
	return entry, true
}

func (m *Manager) evict(ctx context.Context, reason string) {
	m.observer.CacheMiss(reason)
	m.observer.CacheEvicted(reason)
	if err := m.kv.Remove(ctx, m.key); err != nil {
		appLog.Warn("cache eviction failed", err, "key", m.key, "reason", reason)
	}
}

// Write stores (snapshot, now) as one value, replacing any prior entry.
func (m *Manager) Write(ctx context.Context, snapshot *model.CatalogSnapshot) error {
	if snapshot == nil {
		return errors.New("cache: nil snapshot")
	}
	entry := model.CacheEntry{
		Data:      snapshot,
		Timestamp: m.now().UnixMilli(),
		Version:   SchemaVersion,
	}
	data, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("cache: marshal entry: %w", err)
	}
	if err := m.kv.Set(ctx, m.key, string(data)); err != nil {
		return fmt.Errorf("cache: write: %w", err)
	}
	return nil
}

// Clear removes any stored entry unconditionally.
func (m *Manager) Clear(ctx context.Context) error {
	if err := m.kv.Remove(ctx, m.key); err != nil {
		return fmt.Errorf("cache: clear: %w", err)
	}
	return nil
}

// Status describes the slot without modifying it.
type Status struct {
	Present    bool
	CapturedAt time.Time
	Age        time.Duration
	Fresh      bool
	ExpiresIn  time.Duration
	Version    int
	Events     int
}

// Status inspects the slot without evicting anything.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	raw, ok, err := m.kv.Get(ctx, m.key)
	if err != nil {
		return Status{}, err
	}
	if !ok {
		return Status{}, nil
	}
	var entry model.CacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return Status{Present: true}, fmt.Errorf("cache: decode entry: %w", err)
	}
	captured := time.UnixMilli(entry.Timestamp)
	age := m.now().Sub(captured)
	st := Status{
		Present:    true,
		CapturedAt: captured,
		Age:        age,
		Fresh:      age <= TTL && (entry.Version == 0 || entry.Version == SchemaVersion),
		Version:    entry.Version,
		Events:     entry.Data.TotalEvents(),
	}
	if st.Fresh {
		st.ExpiresIn = TTL - age
	}
	return st, nil
}
