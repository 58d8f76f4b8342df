package application

import (
	"time"

	"github.com/jobrunner/pipservice/internal/domain"
	"github.com/jobrunner/pipservice/internal/ports/input"
)

// QueryState is the fan-in state of a lookup.
type QueryState int

// Query states. AwaitingLayers is initial, Done is terminal.
const (
	StateAwaitingLayers QueryState = iota
	StateAwaitingCountryPolygon
	StateAwaitingCountryByID
	StateDone
)

// String returns the string representation of the state.
func (s QueryState) String() string {
	switch s {
	case StateAwaitingLayers:
		return "awaiting_layers"
	case StateAwaitingCountryPolygon:
		return "awaiting_country_polygon"
	case StateAwaitingCountryByID:
		return "awaiting_country_by_id"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Fallback kinds, used as metric labels.
const (
	FallbackCountryPolygon = "country_polygon"
	FallbackCountryByID    = "country_by_id"
)

// reply identifies one awaited worker reply.
type reply struct {
	layer   domain.Layer
	request domain.MessageType
}

// action is what the coordinator does next with a query.
type action int

const (
	actionWait action = iota
	actionCountryPolygon
	actionCountryByID
	actionDeliver
)

// Query is the aggregation record of one lookup. It is owned by the
// coordinator goroutine and never shared.
type Query struct {
	ID           string
	Coordinate   domain.Coordinate
	SearchLayers []domain.Layer // excludes country, fixed for the query's life
	Results      []domain.Result

	pending             map[reply]bool
	layersCompleted     int
	countryPolygonDone  bool
	countryFallbackDone bool // set by the by-id lookup only
	state               QueryState
	callback            input.LookupCallback
	startedAt           time.Time
	timer               *time.Timer
}

func newQuery(id string, coord domain.Coordinate, searchLayers []domain.Layer, callback input.LookupCallback) *Query {
	q := &Query{
		ID:           id,
		Coordinate:   coord,
		SearchLayers: searchLayers,
		Results:      []domain.Result{},
		pending:      make(map[reply]bool, len(searchLayers)),
		state:        StateAwaitingLayers,
		callback:     callback,
		startedAt:    time.Now(),
	}
	for _, layer := range searchLayers {
		q.pending[reply{layer: layer, request: domain.MessageSearch}] = true
	}
	return q
}

// State returns the current fan-in state.
func (q *Query) State() QueryState {
	return q.state
}

// LayersCompleted returns the number of replies folded into the query.
func (q *Query) LayersCompleted() int {
	return q.layersCompleted
}

// CountryPolygonDone returns true once the country polygons were searched.
func (q *Query) CountryPolygonDone() bool {
	return q.countryPolygonDone
}

// CountryFallbackDone returns true once the country was looked up by id.
func (q *Query) CountryFallbackDone() bool {
	return q.countryFallbackDone
}

// Pending returns the layers whose replies are still awaited.
func (q *Query) Pending() []domain.Layer {
	layers := make([]domain.Layer, 0, len(q.pending))
	for r := range q.pending {
		layers = append(layers, r.layer)
	}
	return layers
}

// accept folds a results message into the query. It returns false for a
// reply the query is not waiting for, such as a duplicate.
func (q *Query) accept(msg domain.Message) bool {
	request := msg.Request
	if request == "" {
		request = domain.MessageSearch
	}

	key := reply{layer: msg.Layer, request: request}
	if !q.pending[key] {
		return false
	}
	delete(q.pending, key)

	if msg.Result != nil {
		q.Results = append(q.Results, *msg.Result)
	}
	q.layersCompleted++
	return true
}

// next applies the fallback policy once every awaited reply arrived.
// countryAvailable reports whether a loaded country worker exists.
//
// Each fallback runs at most once. A polygon match that is not itself a
// country but names one in its hierarchy is followed by the by-id lookup.
func (q *Query) next(countryAvailable bool) (action, int64) {
	if len(q.pending) > 0 {
		return actionWait, 0
	}

	if !countryAvailable {
		return actionDeliver, 0
	}

	if len(q.Results) == 0 {
		if q.countryPolygonDone {
			return actionDeliver, 0
		}
		return actionCountryPolygon, 0
	}

	if q.countryFallbackDone || domain.AnyCountry(q.Results) {
		return actionDeliver, 0
	}

	if id, ok := domain.FirstCountryID(q.Results); ok {
		return actionCountryByID, id
	}

	return actionDeliver, 0
}

// beginFallback marks a country fallback as dispatched.
func (q *Query) beginFallback(request domain.MessageType) {
	q.pending[reply{layer: domain.LayerCountry, request: request}] = true

	if request == domain.MessageLookupByID {
		q.countryFallbackDone = true
		q.state = StateAwaitingCountryByID
	} else {
		q.countryPolygonDone = true
		q.state = StateAwaitingCountryPolygon
	}
}

// finish marks the query as delivered.
func (q *Query) finish() {
	q.state = StateDone
	if q.timer != nil {
		q.timer.Stop()
	}
}
