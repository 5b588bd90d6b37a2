package api

import (
	"github.com/gorilla/mux"

	"github.com/Hammad-tech/wellness/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes.
func (h *Handler) SetupRoutes(limiter *ratelimit.Limiter) *mux.Router {
	r := mux.NewRouter()

	r.Use(RequestLogMiddleware(h.logger))

	// Token endpoint (rate limited).
	limited := r.PathPrefix("").Subrouter()
	limited.Use(RateLimitMiddleware(limiter))
	limited.HandleFunc("/get-token", h.GetToken).Methods("GET")

	// Health endpoint (not rate limited - used by orchestration probes).
	r.HandleFunc("/healthz", h.Healthz).Methods("GET")

	return r
}
