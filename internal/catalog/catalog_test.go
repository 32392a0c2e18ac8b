package catalog

import (
	"math/rand/v2"
	"reflect"
	"slices"
	"testing"

	"eventscope/internal/model"
)

func ev(id string) model.Event { return model.Event{EventID: id, Title: "event " + id} }

func fixture() *model.CatalogSnapshot {
	return &model.CatalogSnapshot{
		CategoryCounts: map[model.Category]int{
			model.CategoryFood:     2,
			model.CategorySport:    1,
			model.CategoryBusiness: 1,
			"markets":              1,
		},
		CategoryGroups: map[model.Category][]model.Event{
			model.CategoryFood:     {ev("f1"), ev("f2")},
			model.CategorySport:    {ev("s1")},
			model.CategoryBusiness: {ev("b1")},
			"markets":              {ev("m1")},
		},
	}
}

func prefsOf(cs ...model.Category) model.UserPreferences {
	return model.UserPreferences{PreferredCategories: cs}
}

func TestFilter_EmptyPreferencesIsIdentity(t *testing.T) {
	snap := fixture()
	got := Filter(snap, model.UserPreferences{})
	if !reflect.DeepEqual(got, snap.CategoryGroups) {
		t.Fatalf("Filter with no prefs = %v, want all groups", got)
	}

	got[model.CategoryFood] = nil
	if len(snap.CategoryGroups[model.CategoryFood]) != 2 {
		t.Error("result map aliases the snapshot map")
	}
}

func TestFilter_Subset(t *testing.T) {
	snap := fixture()
	for _, tc := range []struct {
		name  string
		prefs model.UserPreferences
		want  []model.Category
	}{
		{"Single", prefsOf(model.CategoryFood), []model.Category{model.CategoryFood}},
		{"Two", prefsOf(model.CategoryFood, model.CategorySport), []model.Category{model.CategoryFood, model.CategorySport}},
		{"AbsentKeyOmitted", prefsOf(model.CategoryFestivals, model.CategorySport), []model.Category{model.CategorySport}},
		{"AllAbsent", prefsOf(model.CategoryExhibit), nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := Filter(snap, tc.prefs)
			if len(got) != len(tc.want) {
				t.Fatalf("got keys %v, want %v", OrderedGroupKeys(got), tc.want)
			}
			for _, c := range tc.want {
				if !slices.Equal(got[c], snap.CategoryGroups[c]) {
					t.Errorf("group %q = %v, want %v", c, got[c], snap.CategoryGroups[c])
				}
			}
			for c := range got {
				if !tc.prefs.Has(c) {
					t.Errorf("unpreferred category %q in result", c)
				}
			}
		})
	}
}

func TestFilter_DoesNotMutateInputs(t *testing.T) {
	snap := fixture()
	before := fixture()
	p := prefsOf(model.CategorySport, model.CategoryFood)

	out := Filter(snap, p)
	out[model.CategoryFood] = append(out[model.CategoryFood], ev("f3"))
	delete(out, model.CategorySport)

	if !reflect.DeepEqual(snap, before) {
		t.Errorf("snapshot changed: %+v", snap)
	}
	if !slices.Equal(p.PreferredCategories, []model.Category{model.CategorySport, model.CategoryFood}) {
		t.Errorf("prefs changed: %v", p.PreferredCategories)
	}
}

func TestFilter_NewMapEveryCall(t *testing.T) {
	snap := fixture()
	a := Filter(snap, model.UserPreferences{})
	b := Filter(snap, model.UserPreferences{})
	delete(a, model.CategoryFood)
	if _, ok := b[model.CategoryFood]; !ok {
		t.Error("calls share a result map")
	}
}

func TestFilter_NilSnapshot(t *testing.T) {
	got := Filter(nil, prefsOf(model.CategoryFood))
	if got == nil || len(got) != 0 {
		t.Errorf("Filter(nil) = %v, want empty map", got)
	}
}

func TestFilter_MismatchedCountsDoNotMatter(t *testing.T) {
	snap := &model.CatalogSnapshot{
		CategoryCounts: map[model.Category]int{model.CategoryFood: 5},
		CategoryGroups: map[model.Category][]model.Event{model.CategoryFood: {ev("f1")}},
	}
	if got := Filter(snap, prefsOf(model.CategoryFood)); len(got[model.CategoryFood]) != 1 {
		t.Errorf("Filter = %v", got)
	}
	rows := Rows(snap, model.UserPreferences{})
	if len(rows) != 1 || rows[0].Count != 5 {
		t.Errorf("Rows should show the advertised count, got %+v", rows)
	}
}

func TestCategories_Order(t *testing.T) {
	snap := fixture()
	snap.CategoryCounts["attractions"] = 0
	got := Categories(snap)
	want := []model.Category{model.CategoryBusiness, model.CategoryFood, model.CategorySport, "attractions", "markets"}
	if !slices.Equal(got, want) {
		t.Errorf("Categories = %v, want %v", got, want)
	}
}

func TestRows(t *testing.T) {
	rows := Rows(fixture(), prefsOf(model.CategorySport))
	want := []CategoryRow{
		{Category: model.CategoryBusiness, Count: 1},
		{Category: model.CategoryFood, Count: 2},
		{Category: model.CategorySport, Count: 1, Selected: true},
		{Category: "markets", Count: 1},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("Rows = %+v, want %+v", rows, want)
	}
}

func TestFeatured(t *testing.T) {
	snap := fixture()
	snap.CategoryGroups[model.CategoryCommunity] = nil

	rnd := rand.New(rand.NewPCG(1, 2))
	got := Featured(snap, 3, rnd)

	// first three keys in order: business, community (empty, skipped), food
	if len(got) != 2 {
		t.Fatalf("Featured = %+v, want 2 entries", got)
	}
	if got[0].Category != model.CategoryBusiness || got[0].Event.EventID != "b1" {
		t.Errorf("first featured = %+v", got[0])
	}
	if got[1].Category != model.CategoryFood || !slices.Contains([]string{"f1", "f2"}, got[1].Event.EventID) {
		t.Errorf("second featured = %+v", got[1])
	}
}

func TestFeatured_Bounds(t *testing.T) {
	if got := Featured(nil, 4, nil); got != nil {
		t.Errorf("Featured(nil) = %v", got)
	}
	if got := Featured(fixture(), 0, nil); got != nil {
		t.Errorf("Featured(n=0) = %v", got)
	}
	if got := Featured(fixture(), 10, nil); len(got) != 4 {
		t.Errorf("Featured(n=10) returned %d entries, want 4", len(got))
	}
}
