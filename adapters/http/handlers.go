// Package authhttp provides plain net/http handlers for operating the gate.
package authhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/PaulFidika/spinauth/jwks"
)

// KeyCache is implemented by *jwks.Resolver.
type KeyCache interface {
	Cached(ctx context.Context, environmentID string) (*jwks.Entry, bool)
}

// MetricsHandler exposes the collectors registered with g.
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ReadyHandler answers 200 once keys for environmentID are cached and still
// within maxStale of their TTL, 503 otherwise.
func ReadyHandler(keys KeyCache, environmentID string, maxStale time.Duration) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]any{"status": "ok", "environment_id": environmentID}
		e, ok := keys.Cached(r.Context(), environmentID)
		switch {
		case environmentID == "":
			status = http.StatusServiceUnavailable
			body["status"] = "environment id not configured"
		case !ok:
			status = http.StatusServiceUnavailable
			body["status"] = "signing keys not loaded"
		case !e.Usable(time.Now(), maxStale):
			status = http.StatusServiceUnavailable
			body["status"] = "signing keys expired"
		default:
			body["keys"] = e.Keys.Len()
			body["fetched_at"] = e.FetchedAt.UTC().Format(time.RFC3339)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	})
}

// JWKSHandler serves the JWKS document currently cached for environmentID,
// for checking what the gate is verifying against.
func JWKSHandler(keys KeyCache, environmentID string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e, ok := keys.Cached(r.Context(), environmentID)
		if !ok || len(e.Raw) == 0 {
			http.Error(w, "signing keys not loaded", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(e.Raw)
	})
}
