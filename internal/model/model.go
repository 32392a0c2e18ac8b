package model

import (
	"fmt"
	"slices"
	"strings"
)

// Category is a grouping key assigned by the event API. The client never
// re-categorizes; it only groups and filters by the keys it receives.
type Category string

const (
	CategoryBusiness    Category = "business"
	CategoryCommunity   Category = "community"
	CategoryEvents      Category = "events"
	CategoryExhibit     Category = "exhibit"
	CategoryFestivals   Category = "festivals"
	CategoryFood        Category = "food"
	CategoryPerformance Category = "performance"
	CategorySport       Category = "sport"
)

var allCategories = []Category{
	CategoryBusiness,
	CategoryCommunity,
	CategoryEvents,
	CategoryExhibit,
	CategoryFestivals,
	CategoryFood,
	CategoryPerformance,
	CategorySport,
}

// AllCategories returns the closed category enumeration in canonical order.
func AllCategories() []Category {
	return slices.Clone(allCategories)
}

// Valid reports whether c is part of the closed enumeration.
func (c Category) Valid() bool {
	return slices.Contains(allCategories, c)
}

// ParseCategory validates user input such as a CLI argument.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q (want one of %s)", s, joinCategories(allCategories))
	}
	return c, nil
}

func joinCategories(cs []Category) string {
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = string(c)
	}
	return strings.Join(parts, ", ")
}

// Event is one published happening as returned by the event API.
// Events are treated as immutable once decoded.
type Event struct {
	EventID        string `json:"event_id"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	ImageURL       string `json:"image_url"`
	ImageAlt       string `json:"image_alt"`
	DateTime       string `json:"date_time"` // single date or a textual range, e.g. "1 Feb-2 Feb"
	Location       string `json:"location"`
	Price          string `json:"price,omitempty"`
	TicketLink     string `json:"ticket_link"`
	Source         string `json:"source"`
	SourceCategory string `json:"source_category"`
	ScrapedAt      string `json:"scraped_at"`
}

// APIInfo is the metadata block of a catalog response.
type APIInfo struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	ScrapedAt string   `json:"scraped_at"`
	Sources   []string `json:"sources"`
}

// Statistics is informational only; nothing in the client depends on it.
type Statistics struct {
	TotalEvents          int `json:"total_events"`
	SydneyComCount       int `json:"sydney_com_count"`
	VisitNSWCount        int `json:"visit_nsw_count"`
	CategoriesWithEvents int `json:"categories_with_events"`
}

// CatalogSnapshot is one complete fetch result. It is replaced as a whole;
// partial snapshots are never merged.
type CatalogSnapshot struct {
	Success        *bool                `json:"success,omitempty"`
	APIInfo        APIInfo              `json:"api_info"`
	Statistics     *Statistics          `json:"statistics,omitempty"`
	CategoryCounts map[Category]int     `json:"category_counts"`
	CategoryGroups map[Category][]Event `json:"category_groups"`
}

// CountMismatch describes a category whose advertised count disagrees with
// the length of its event group.
type CountMismatch struct {
	Category Category
	Count    int
	Events   int
}

// CountMismatches checks category_counts[c] == len(category_groups[c]) for
// every category present in either map. The snapshot is not corrected.
func (s *CatalogSnapshot) CountMismatches() []CountMismatch {
	if s == nil {
		return nil
	}
	seen := make(map[Category]struct{}, len(s.CategoryCounts)+len(s.CategoryGroups))
	for c := range s.CategoryCounts {
		seen[c] = struct{}{}
	}
	for c := range s.CategoryGroups {
		seen[c] = struct{}{}
	}

	keys := make([]Category, 0, len(seen))
	for c := range seen {
		keys = append(keys, c)
	}
	slices.Sort(keys)

	var out []CountMismatch
	for _, c := range keys {
		count, events := s.CategoryCounts[c], len(s.CategoryGroups[c])
		if count != events {
			out = append(out, CountMismatch{Category: c, Count: count, Events: events})
		}
	}
	return out
}

// CountsConsistent reports whether the snapshot satisfies the count invariant.
func (s *CatalogSnapshot) CountsConsistent() bool {
	return len(s.CountMismatches()) == 0
}

// TotalEvents sums the lengths of all category groups.
func (s *CatalogSnapshot) TotalEvents() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, evs := range s.CategoryGroups {
		n += len(evs)
	}
	return n
}

// CacheEntry is the persisted form of the cached catalog.
type CacheEntry struct {
	Data *CatalogSnapshot `json:"data"`
	// Timestamp is the capture time in epoch milliseconds.
	Timestamp int64 `json:"timestamp"`
	// Version is the cache schema version. Zero means an entry written
	// before versioning existed.
	Version int `json:"version,omitempty"`
}

// UserPreferences is the persisted category selection. An empty list means
// "no filter".
type UserPreferences struct {
	PreferredCategories []Category `json:"preferredCategories"`
}

// Has reports whether c is currently preferred.
func (p UserPreferences) Has(c Category) bool {
	return slices.Contains(p.PreferredCategories, c)
}

// IsEmpty reports whether no category is preferred.
func (p UserPreferences) IsEmpty() bool {
	return len(p.PreferredCategories) == 0
}
