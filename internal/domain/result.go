package domain

// PlacetypeCountry is the placetype of country polygons.
const PlacetypeCountry = "country"

// hierarchyCountryKey is the hierarchy key carrying the country id.
const hierarchyCountryKey = "country_id"

// Hierarchy links a polygon to its containing administrative units,
// keyed by "<placetype>_id".
type Hierarchy map[string]int64

// CountryID returns the country id of the hierarchy entry, if any.
func (h Hierarchy) CountryID() (int64, bool) {
	id, ok := h[hierarchyCountryKey]
	return id, ok
}

// Result is the batch one layer returns for a search or a lookup by id.
type Result struct {
	ID        int64       `json:"id"`
	Name      string      `json:"name"`
	Placetype string      `json:"placetype"`
	Layer     Layer       `json:"layer"`
	Hierarchy []Hierarchy `json:"hierarchy"`
}

// IsCountry returns true if the result is a country polygon.
func (r *Result) IsCountry() bool {
	return r.Placetype == PlacetypeCountry
}

// HasCountryID returns true if any hierarchy entry carries a country id.
func (r *Result) HasCountryID() bool {
	for _, h := range r.Hierarchy {
		if _, ok := h.CountryID(); ok {
			return true
		}
	}
	return false
}

// FirstCountryID scans results and their hierarchies in order and returns
// the first country id found. Conflicting ids in later entries are ignored.
func FirstCountryID(results []Result) (int64, bool) {
	for i := range results {
		for _, h := range results[i].Hierarchy {
			if id, ok := h.CountryID(); ok {
				return id, true
			}
		}
	}
	return 0, false
}

// AnyCountry returns true if any result has the country placetype.
func AnyCountry(results []Result) bool {
	for i := range results {
		if results[i].IsCountry() {
			return true
		}
	}
	return false
}

// AnyCountryID returns true if any result carries a hierarchy country id.
func AnyCountryID(results []Result) bool {
	for i := range results {
		if results[i].HasCountryID() {
			return true
		}
	}
	return false
}
