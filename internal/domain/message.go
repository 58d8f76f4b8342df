package domain

// MessageType identifies a worker protocol message.
type MessageType string

// Protocol message types. Load, Search and LookupByID flow to a worker;
// Loaded and Results flow back.
const (
	MessageLoad       MessageType = "load"
	MessageLoaded     MessageType = "loaded"
	MessageSearch     MessageType = "search"
	MessageLookupByID MessageType = "lookupById"
	MessageResults    MessageType = "results"
)

// Message is the envelope exchanged with layer workers.
type Message struct {
	Type       MessageType `json:"type"`
	QueryID    string      `json:"id,omitempty"`
	Layer      Layer       `json:"layer,omitempty"`
	Request    MessageType `json:"request,omitempty"` // request a results message answers
	Directory  string      `json:"directory,omitempty"`
	Coordinate *Coordinate `json:"coords,omitempty"`
	CountryID  int64       `json:"countryId,omitempty"`
	Result     *Result     `json:"results,omitempty"` // nil means no match
	Error      string      `json:"error,omitempty"`   // set on a failed load
}

// NewResultsMessage builds the reply to a search or lookup-by-id request.
func NewResultsMessage(req Message, layer Layer, result *Result) Message {
	return Message{
		Type:    MessageResults,
		QueryID: req.QueryID,
		Layer:   layer,
		Request: req.Type,
		Result:  result,
	}
}

// NewLoadMessage builds the load request for a layer.
func NewLoadMessage(layer Layer, directory string) Message {
	return Message{Type: MessageLoad, Layer: layer, Directory: directory}
}

// NewSearchMessage builds a point search request.
func NewSearchMessage(queryID string, coord Coordinate) Message {
	return Message{Type: MessageSearch, QueryID: queryID, Coordinate: &coord}
}

// NewLookupByIDMessage builds a lookup-by-id request.
func NewLookupByIDMessage(queryID string, countryID int64) Message {
	return Message{Type: MessageLookupByID, QueryID: queryID, CountryID: countryID}
}
