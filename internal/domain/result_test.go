package domain

import "testing"

func TestHierarchyCountryID(t *testing.T) {
	h := Hierarchy{"region_id": 1, "country_id": 85633793}
	id, ok := h.CountryID()
	if !ok || id != 85633793 {
		t.Errorf("CountryID() = %d, %v, want 85633793, true", id, ok)
	}

	if _, ok := (Hierarchy{"region_id": 1}).CountryID(); ok {
		t.Error("CountryID() should be false without country_id")
	}
}

func TestResultHelpers(t *testing.T) {
	r := Result{
		Placetype: "region",
		Hierarchy: []Hierarchy{
			{"region_id": 2},
			{"region_id": 2, "country_id": 85633793},
		},
	}

	if r.IsCountry() {
		t.Error("region result should not be a country")
	}
	if !r.HasCountryID() {
		t.Error("HasCountryID() should be true")
	}

	empty := Result{Placetype: "country"}
	if !empty.IsCountry() {
		t.Error("country result should be a country")
	}
	if empty.HasCountryID() {
		t.Error("HasCountryID() should be false with no hierarchy")
	}
}

func TestFirstCountryID(t *testing.T) {
	tests := []struct {
		name    string
		results []Result
		wantID  int64
		wantOK  bool
	}{
		{
			name:   "no results",
			wantOK: false,
		},
		{
			name: "no country id anywhere",
			results: []Result{
				{Hierarchy: []Hierarchy{{"region_id": 1}}},
				{Hierarchy: nil},
			},
			wantOK: false,
		},
		{
			name: "first result, inner order",
			results: []Result{
				{Hierarchy: []Hierarchy{{"region_id": 1}, {"country_id": 10}}},
				{Hierarchy: []Hierarchy{{"country_id": 20}}},
			},
			wantID: 10,
			wantOK: true,
		},
		{
			name: "conflicting ids, first wins",
			results: []Result{
				{Hierarchy: []Hierarchy{{"macroregion_id": 3}}},
				{Hierarchy: []Hierarchy{{"country_id": 30}, {"country_id": 31}}},
				{Hierarchy: []Hierarchy{{"country_id": 40}}},
			},
			wantID: 30,
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := FirstCountryID(tt.results)
			if id != tt.wantID || ok != tt.wantOK {
				t.Errorf("FirstCountryID() = %d, %v, want %d, %v", id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}

func TestAnyCountry(t *testing.T) {
	if AnyCountry(nil) {
		t.Error("AnyCountry(nil) should be false")
	}
	results := []Result{{Placetype: "region"}, {Placetype: "country"}}
	if !AnyCountry(results) {
		t.Error("AnyCountry() should find the country result")
	}
	if AnyCountryID(results) {
		t.Error("AnyCountryID() should be false without hierarchy")
	}
}
