// Package catalog derives the views the front ends show from a catalog
// snapshot and the user's preferences. Every function here is pure: inputs
// are never modified and each call returns freshly allocated containers.
package catalog

import (
	"math/rand/v2"
	"slices"

	"eventscope/internal/model"
)

// Filter narrows the snapshot's category groups to the preferred categories.
//
// With no preferences the result holds every group of the snapshot. With
// preferences it holds exactly the preferred categories present in the
// snapshot; preferred categories the snapshot lacks are omitted. Event order
// within a group is the API's order. A nil snapshot yields an empty map.
func Filter(snapshot *model.CatalogSnapshot, prefs model.UserPreferences) map[model.Category][]model.Event {
	if snapshot == nil {
		return map[model.Category][]model.Event{}
	}
	if prefs.IsEmpty() {
		out := make(map[model.Category][]model.Event, len(snapshot.CategoryGroups))
		for c, evs := range snapshot.CategoryGroups {
			out[c] = clip(evs)
		}
		return out
	}
	out := make(map[model.Category][]model.Event, len(prefs.PreferredCategories))
	for _, c := range prefs.PreferredCategories {
		if evs, ok := snapshot.CategoryGroups[c]; ok {
			out[c] = clip(evs)
		}
	}
	return out
}

// clip shares the backing array but caps it, so a caller appending to a
// filtered group cannot write into the snapshot.
func clip(evs []model.Event) []model.Event {
	return evs[:len(evs):len(evs)]
}

// Categories lists the keys of category_counts: known categories in
// canonical order, then any other keys the API sent, sorted.
func Categories(snapshot *model.CatalogSnapshot) []model.Category {
	if snapshot == nil {
		return nil
	}
	return orderedKeys(snapshot.CategoryCounts)
}

// OrderedGroupKeys lists the keys of a group map in the same order as
// Categories.
func OrderedGroupKeys(groups map[model.Category][]model.Event) []model.Category {
	return orderedKeys(groups)
}

func orderedKeys[V any](m map[model.Category]V) []model.Category {
	out := make([]model.Category, 0, len(m))
	for _, c := range model.AllCategories() {
		if _, ok := m[c]; ok {
			out = append(out, c)
		}
	}
	var extra []model.Category
	for c := range m {
		if !c.Valid() {
			extra = append(extra, c)
		}
	}
	slices.Sort(extra)
	return append(out, extra...)
}

// CategoryRow is one entry of the category filter bar.
type CategoryRow struct {
	Category model.Category `json:"category"`
	Count    int            `json:"count"`
	Selected bool           `json:"selected"`
}

// Rows builds the filter bar: one row per category_counts key with the
// advertised count and whether the user prefers it.
func Rows(snapshot *model.CatalogSnapshot, prefs model.UserPreferences) []CategoryRow {
	cats := Categories(snapshot)
	rows := make([]CategoryRow, 0, len(cats))
	for _, c := range cats {
		rows = append(rows, CategoryRow{
			Category: c,
			Count:    snapshot.CategoryCounts[c],
			Selected: prefs.Has(c),
		})
	}
	return rows
}

// FeaturedEvent pairs a highlighted event with its category.
type FeaturedEvent struct {
	Category model.Category `json:"category"`
	Event    model.Event    `json:"event"`
}

// Featured picks one random event from each of the first n categories of
// the snapshot's groups. Empty groups contribute nothing and are not
// replaced by later categories. A nil rnd uses the global source.
func Featured(snapshot *model.CatalogSnapshot, n int, rnd *rand.Rand) []FeaturedEvent {
	if snapshot == nil || n <= 0 {
		return nil
	}
	intN := rand.IntN
	if rnd != nil {
		intN = rnd.IntN
	}

	keys := OrderedGroupKeys(snapshot.CategoryGroups)
	if len(keys) > n {
		keys = keys[:n]
	}
	var out []FeaturedEvent
	for _, c := range keys {
		evs := snapshot.CategoryGroups[c]
		if len(evs) == 0 {
			continue
		}
		out = append(out, FeaturedEvent{Category: c, Event: evs[intN(len(evs))]})
	}
	return out
}
