package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/onnwee/imgclassify/internal/circuitbreaker"
	"github.com/onnwee/imgclassify/internal/logger"
)

// Health returns a simple JSON payload to indicate the API is alive.
func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Pinger reports whether the model server is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// breakerStater is implemented by model clients that sit behind a circuit breaker.
type breakerStater interface {
	BreakerState() circuitbreaker.State
}

// Ready reports 200 when the model server answers its ping and 503 otherwise.
// A model client whose breaker is open is not ready either, since classify
// requests would fail fast until it closes.
// GET /ready
func Ready(p Pinger, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		body := map[string]string{"status": "ready", "model": "ok"}
		status := http.StatusOK
		if err := p.Ping(ctx); err != nil {
			logger.WarnContext(r.Context(), "Readiness check failed", "error", err)
			body["status"], body["model"] = "unavailable", "unreachable"
			status = http.StatusServiceUnavailable
		}
		if b, ok := p.(breakerStater); ok {
			state := b.BreakerState()
			body["model_breaker"] = state.String()
			if state == circuitbreaker.StateOpen {
				body["status"] = "unavailable"
				status = http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
