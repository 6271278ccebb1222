package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

type healthCheck struct {
	name string
	ping func(ctx context.Context) error
}

// healthHandler answers 200 when every dependency responds, 503 otherwise.
func healthHandler(checks []healthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for _, c := range checks {
			if err := c.ping(ctx); err != nil {
				log.Warn().Err(err).Str("dependency", c.name).Msg("health check failed")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(c.name + " unavailable"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
