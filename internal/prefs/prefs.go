// Package prefs persists the user's preferred categories.
package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"eventscope/internal/kv"
	appLog "eventscope/internal/log"
	"eventscope/internal/model"
)

// ErrSaveFailed is returned by Save when the preference could not be
// persisted. The in-memory selection is still valid; callers surface this
// as a warning.
var ErrSaveFailed = errors.New("preferences not saved")

// Store reads and writes the single preference slot.
type Store struct {
	kv  kv.Store
	key string
}

func NewStore(s kv.Store) *Store {
	return &Store{kv: s, key: kv.KeyUserPreferences}
}

// Default returns the "show everything" preference set.
func Default() model.UserPreferences {
	return model.UserPreferences{PreferredCategories: []model.Category{}}
}

// Load returns the persisted preferences, or Default() when nothing usable
// is stored. It never fails.
func (s *Store) Load(ctx context.Context) model.UserPreferences {
	raw, ok, err := s.kv.Get(ctx, s.key)
	if err != nil {
		appLog.Warn("preferences read failed; using defaults", err, "key", s.key)
		return Default()
	}
	if !ok {
		return Default()
	}

	var stored model.UserPreferences
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		appLog.Warn("preferences undecodable; using defaults", err, "key", s.key)
		return Default()
	}

	out := Default()
	for _, c := range stored.PreferredCategories {
		if !c.Valid() {
			appLog.Debug("dropping unknown preferred category", "category", c)
			continue
		}
		if slices.Contains(out.PreferredCategories, c) {
			continue
		}
		out.PreferredCategories = append(out.PreferredCategories, c)
	}
	return out
}

// Save overwrites the stored preferences with p.
func (s *Store) Save(ctx context.Context, p model.UserPreferences) error {
	if p.PreferredCategories == nil {
		p.PreferredCategories = []model.Category{}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	if err := s.kv.Set(ctx, s.key, string(data)); err != nil {
		return fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	return nil
}

// Toggle returns a new preference set with c removed if present, appended
// otherwise. p is not modified.
func Toggle(p model.UserPreferences, c model.Category) model.UserPreferences {
	out := make([]model.Category, 0, len(p.PreferredCategories)+1)
	found := false
	for _, existing := range p.PreferredCategories {
		if existing == c {
			found = true
			continue
		}
		out = append(out, existing)
	}
	if !found {
		out = append(out, c)
	}
	return model.UserPreferences{PreferredCategories: out}
}
