package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jobrunner/pipservice/internal/application"
	"github.com/jobrunner/pipservice/internal/domain"
)

// LookupResponse is the body of a lookup answer.
type LookupResponse struct {
	Coordinate domain.Coordinate `json:"coordinate"`
	Results    []domain.Result   `json:"results"`
	Count      int               `json:"count"`
	Partial    bool              `json:"partial,omitempty"`
	TookMS     int64             `json:"took_ms"`
}

// handleLookup answers GET /api/v1/lookup?lat=&lon=&layers=.
func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	coord, layers, err := parseLookupParams(r)
	if err != nil {
		s.handleLookupError(w, err)
		return
	}

	start := time.Now()
	results, err := s.lookups.LookupSync(r.Context(), coord, layers...)
	if results == nil {
		results = []domain.Result{}
	}

	resp := LookupResponse{
		Coordinate: coord,
		Results:    results,
		Count:      len(results),
		TookMS:     time.Since(start).Milliseconds(),
	}

	if errors.Is(err, domain.ErrLookupTimeout) {
		resp.Partial = true
		s.logger.Warn("lookup timed out", "coordinate", coord.String(), "partial_results", len(results))
		s.writeJSON(w, http.StatusGatewayTimeout, resp)
		return
	}
	if err != nil {
		s.handleLookupError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// parseLookupParams parses lat, lon and the optional comma separated
// layers filter. An absent or empty filter selects every layer.
func parseLookupParams(r *http.Request) (domain.Coordinate, []domain.Layer, error) {
	q := r.URL.Query()

	lat, err := parseFloatParam(q.Get("lat"), "lat")
	if err != nil {
		return domain.Coordinate{}, nil, err
	}
	lon, err := parseFloatParam(q.Get("lon"), "lon")
	if err != nil {
		return domain.Coordinate{}, nil, err
	}

	coord := domain.NewCoordinate(lat, lon)
	if err := coord.Validate(); err != nil {
		return domain.Coordinate{}, nil, err
	}

	var layers []domain.Layer
	if raw := q.Get("layers"); raw != "" {
		for _, l := range strings.Split(raw, ",") {
			if l = strings.TrimSpace(l); l != "" {
				layers = append(layers, l)
			}
		}
	}

	return coord, layers, nil
}

func parseFloatParam(raw, name string) (float64, error) {
	if raw == "" {
		return 0, &domain.ValidationError{
			Field:      name,
			Constraint: "required",
			Message:    name + " parameter is required",
		}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &domain.ValidationError{
			Field:      name,
			Value:      raw,
			Constraint: "number",
			Message:    "invalid " + name + " parameter",
		}
	}
	return v, nil
}

// handleLookupError maps lookup errors to HTTP status codes.
func (s *Server) handleLookupError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &validationErr):
		s.writeError(w, http.StatusBadRequest, validationErr.Message)
	case errors.Is(err, domain.ErrWorkerNotReady), errors.Is(err, domain.ErrTerminated):
		w.Header().Set("Retry-After", "5")
		s.writeError(w, http.StatusServiceUnavailable, "Layer workers not ready")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, http.StatusServiceUnavailable, "Lookup canceled")
	default:
		s.logger.Error("lookup error", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Lookup failed")
	}
}

// handleLayers lists the configured layers and their worker status.
func (s *Server) handleLayers(w http.ResponseWriter, r *http.Request) {
	layers := s.health.GetLayerHealth(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"layers": layers,
		"count":  len(layers),
	})
}

// handleHealth returns detailed health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	details := s.health.GetHealthDetails(r.Context())

	status := http.StatusOK
	if !details.Healthy {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, map[string]interface{}{
		"status":            boolToStatus(details.Healthy),
		"ready":             details.Ready,
		"workers_total":     details.WorkersTotal,
		"workers_ready":     details.WorkersReady,
		"queries_in_flight": details.QueriesInFlight,
		"components":        details.Components,
	})
}

// handleLiveness returns liveness status.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsHealthy(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

// handleReadiness returns readiness status.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsReady(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
}

// handleSync handles the sync trigger endpoint.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.sync == nil {
		s.writeError(w, http.StatusNotFound, "Sync service not available")
		return
	}

	result, err := s.sync.TriggerSync(r.Context())
	if err != nil {
		if errors.Is(err, application.ErrRateLimited) {
			w.Header().Set("Retry-After", "30")
			s.writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Try again in 30 seconds.")
			return
		}
		s.logger.Error("sync failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Sync failed")
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleOpenAPI returns the OpenAPI specification.
func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	spec, err := getOpenAPIJSON()
	if err != nil {
		s.logger.Error("failed to get OpenAPI spec", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load OpenAPI specification")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(spec)
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func boolToStatus(b bool) string {
	if b {
		return "ok"
	}
	return "unhealthy"
}
