package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"rsvp/internal/config"
)

const apiKeyHeaderDefault = "x-api-key"

// HTTPAuth validates the API key header against the configured clients.
type HTTPAuth struct {
	cfg             config.APIConfig
	clientsByAPIKey map[string]config.APIClientKey
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	m := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		m[k.Key] = k
	}
	return &HTTPAuth{cfg: cfg, clientsByAPIKey: m}
}

func (a *HTTPAuth) headerName() string {
	h := strings.ToLower(strings.TrimSpace(a.cfg.Auth.HeaderAPIKey))
	if h == "" {
		h = apiKeyHeaderDefault
	}
	return h
}

// Wrap enforces auth on everything except the health endpoint.
func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.cfg.Auth.Enabled || r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := strings.TrimSpace(r.Header.Get(a.headerName()))
		if apiKey == "" {
			writeError(w, http.StatusUnauthorized, "missing api key")
			return
		}

		client, ok := a.clientsByAPIKey[apiKey]
		if !ok || subtle.ConstantTimeCompare([]byte(client.Key), []byte(apiKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ClientName resolves the client label behind a request, for limiter keys.
func (a *HTTPAuth) ClientName(r *http.Request) string {
	apiKey := strings.TrimSpace(r.Header.Get(a.headerName()))
	if client, ok := a.clientsByAPIKey[apiKey]; ok && client.Name != "" {
		return client.Name
	}
	return "unknown"
}
