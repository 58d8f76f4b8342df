package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"net/http"
	"strings"
)

// corsPolicy holds the allowed origins split into exact origins and
// wildcard host suffixes such as ".example.com".
type corsPolicy struct {
	exact    map[string]bool
	suffixes []string
}

func newCORSPolicy(patterns []string) *corsPolicy {
	p := &corsPolicy{exact: make(map[string]bool, len(patterns))}
	for _, pattern := range patterns {
		if strings.HasPrefix(pattern, "*.") {
			p.suffixes = append(p.suffixes, pattern[1:])
			continue
		}
		p.exact[pattern] = true
	}
	return p
}

// allows checks if the given origin matches any allowed pattern.
func (p *corsPolicy) allows(origin string) bool {
	if p.exact[origin] {
		return true
	}
	host := extractHost(origin)
	for _, suffix := range p.suffixes {
		// "*.example.com" matches "sub.example.com" but not "example.com"
		if strings.HasSuffix(host, suffix) && len(host) > len(suffix) {
			return true
		}
	}
	return false
}

// corsMiddleware sets CORS headers for allowed origins and answers
// preflight requests.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" && s.cors.allows(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Accept, Content-Type")
			h.Set("Access-Control-Max-Age", "86400")
			h.Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractHost extracts the host from an origin URL.
// Example: "https://example.com:8080" returns "example.com".
func extractHost(origin string) string {
	host := origin
	if idx := strings.Index(host, "://"); idx != -1 {
		host = host[idx+3:]
	}
	if idx := strings.IndexAny(host, ":/"); idx != -1 {
		host = host[:idx]
	}
	return host
}
