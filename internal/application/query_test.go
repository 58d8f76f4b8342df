package application

import (
	"testing"

	"github.com/jobrunner/pipservice/internal/domain"
)

func searchReply(layer domain.Layer, result *domain.Result) domain.Message {
	return domain.NewResultsMessage(domain.NewSearchMessage("q", domain.Coordinate{}), layer, result)
}

func TestQueryAccept(t *testing.T) {
	q := newQuery("q", domain.Coordinate{}, []domain.Layer{"region", "macroregion"}, nil)

	if !q.accept(searchReply("region", regionResult(1))) {
		t.Fatal("first region reply should be accepted")
	}
	if q.accept(searchReply("region", regionResult(1))) {
		t.Error("duplicate region reply should be rejected")
	}
	if q.accept(searchReply("country", nil)) {
		t.Error("reply of a layer that was not searched should be rejected")
	}
	if q.LayersCompleted() != 1 {
		t.Errorf("LayersCompleted() = %d, want 1", q.LayersCompleted())
	}
	if len(q.Results) != 1 {
		t.Errorf("len(Results) = %d, want 1", len(q.Results))
	}

	if !q.accept(searchReply("macroregion", nil)) {
		t.Fatal("empty macroregion reply should be accepted")
	}
	if len(q.Results) != 1 {
		t.Errorf("empty reply should not append, len(Results) = %d", len(q.Results))
	}
	if len(q.Pending()) != 0 {
		t.Errorf("Pending() = %v, want empty", q.Pending())
	}
}

func TestQueryAcceptWithoutRequestEcho(t *testing.T) {
	q := newQuery("q", domain.Coordinate{}, []domain.Layer{"region"}, nil)

	msg := domain.Message{Type: domain.MessageResults, QueryID: "q", Layer: "region"}
	if !q.accept(msg) {
		t.Error("reply without request echo should count as a search reply")
	}
}

func TestQueryNext(t *testing.T) {
	tests := []struct {
		name             string
		results          []*domain.Result
		polygonDone      bool
		byIDDone         bool
		countryAvailable bool
		wantAction       action
		wantID           int64
	}{
		{
			name:             "no results triggers polygon fallback",
			countryAvailable: true,
			wantAction:       actionCountryPolygon,
		},
		{
			name:       "no results without country worker delivers",
			wantAction: actionDeliver,
		},
		{
			name:             "country id triggers lookup by id",
			results:          []*domain.Result{regionResult(10, domain.Hierarchy{"region_id": 10, "country_id": 85633793})},
			countryAvailable: true,
			wantAction:       actionCountryByID,
			wantID:           85633793,
		},
		{
			name:       "country id without country worker delivers",
			results:    []*domain.Result{regionResult(10, domain.Hierarchy{"country_id": 85633793})},
			wantAction: actionDeliver,
		},
		{
			name: "country result skips both fallbacks",
			results: []*domain.Result{
				{ID: 1, Placetype: domain.PlacetypeCountry, Layer: "region", Hierarchy: []domain.Hierarchy{{"country_id": 1}}},
			},
			countryAvailable: true,
			wantAction:       actionDeliver,
		},
		{
			name:             "no country id delivers",
			results:          []*domain.Result{regionResult(10, domain.Hierarchy{"region_id": 10})},
			countryAvailable: true,
			wantAction:       actionDeliver,
		},
		{
			name:             "polygon fallback runs once",
			polygonDone:      true,
			countryAvailable: true,
			wantAction:       actionDeliver,
		},
		{
			name:             "lookup by id runs once",
			results:          []*domain.Result{regionResult(10, domain.Hierarchy{"country_id": 85633793})},
			byIDDone:         true,
			countryAvailable: true,
			wantAction:       actionDeliver,
		},
		{
			name: "polygon match naming a country triggers lookup by id",
			results: []*domain.Result{
				{ID: 7, Placetype: "dependency", Layer: domain.LayerCountry, Hierarchy: []domain.Hierarchy{{"country_id": 85633793}}},
			},
			polygonDone:      true,
			countryAvailable: true,
			wantAction:       actionCountryByID,
			wantID:           85633793,
		},
		{
			name: "polygon match typed country delivers",
			results: []*domain.Result{
				{ID: 85633793, Placetype: domain.PlacetypeCountry, Layer: domain.LayerCountry, Hierarchy: []domain.Hierarchy{{"country_id": 85633793}}},
			},
			polygonDone:      true,
			countryAvailable: true,
			wantAction:       actionDeliver,
		},
		{
			name: "first country id wins",
			results: []*domain.Result{
				regionResult(10, domain.Hierarchy{"region_id": 10}, domain.Hierarchy{"country_id": 1}),
				regionResult(11, domain.Hierarchy{"country_id": 2}),
			},
			countryAvailable: true,
			wantAction:       actionCountryByID,
			wantID:           1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newQuery("q", domain.Coordinate{}, nil, nil)
			for _, r := range tt.results {
				q.Results = append(q.Results, *r)
			}
			q.countryPolygonDone = tt.polygonDone
			q.countryFallbackDone = tt.byIDDone

			got, id := q.next(tt.countryAvailable)
			if got != tt.wantAction {
				t.Errorf("next() action = %v, want %v", got, tt.wantAction)
			}
			if id != tt.wantID {
				t.Errorf("next() id = %d, want %d", id, tt.wantID)
			}
		})
	}
}

func TestQueryNextWaitsForPending(t *testing.T) {
	q := newQuery("q", domain.Coordinate{}, []domain.Layer{"region"}, nil)

	if got, _ := q.next(true); got != actionWait {
		t.Errorf("next() = %v, want actionWait", got)
	}
}

func TestQueryBeginFallback(t *testing.T) {
	tests := []struct {
		request     domain.MessageType
		wantState   QueryState
		wantPolygon bool
		wantByID    bool
	}{
		{domain.MessageSearch, StateAwaitingCountryPolygon, true, false},
		{domain.MessageLookupByID, StateAwaitingCountryByID, false, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.request), func(t *testing.T) {
			q := newQuery("q", domain.Coordinate{}, nil, nil)
			q.beginFallback(tt.request)

			if q.State() != tt.wantState {
				t.Errorf("State() = %v, want %v", q.State(), tt.wantState)
			}
			if q.CountryPolygonDone() != tt.wantPolygon {
				t.Errorf("CountryPolygonDone() = %v, want %v", q.CountryPolygonDone(), tt.wantPolygon)
			}
			if q.CountryFallbackDone() != tt.wantByID {
				t.Errorf("CountryFallbackDone() = %v, want %v", q.CountryFallbackDone(), tt.wantByID)
			}

			reply := domain.NewResultsMessage(domain.Message{Type: tt.request, QueryID: "q"}, domain.LayerCountry, nil)
			if !q.accept(reply) {
				t.Error("fallback reply should be accepted")
			}
			if q.LayersCompleted() != 1 {
				t.Errorf("LayersCompleted() = %d, want 1", q.LayersCompleted())
			}
		})
	}
}

func TestQueryStateString(t *testing.T) {
	tests := []struct {
		state QueryState
		want  string
	}{
		{StateAwaitingLayers, "awaiting_layers"},
		{StateAwaitingCountryPolygon, "awaiting_country_polygon"},
		{StateAwaitingCountryByID, "awaiting_country_by_id"},
		{StateDone, "done"},
		{QueryState(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
