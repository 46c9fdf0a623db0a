package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/errors"

	"github.com/pressgate/pressgate/internal/credential"
	"github.com/pressgate/pressgate/internal/ratelimit"
)

// UsageResponse reports the masked per-credential counters and the
// remaining global request budget.
type UsageResponse struct {
	Credentials []credential.Usage `json:"credentials"`
	Global      GlobalBudget       `json:"global"`
	Timestamp   string             `json:"timestamp"`
}

// GlobalBudget describes the state of the global token bucket.
type GlobalBudget struct {
	Remaining float64 `json:"remaining"`
	WaitMS    int64   `json:"wait_ms"`
}

// UsageHandler serves the live usage snapshot. Credentials appear masked
// only; the raw values never leave the pool.
type UsageHandler struct {
	pool        *credential.Pool
	coordinator *ratelimit.Coordinator
}

// NewUsageHandler wires the handler to the pool and coordinator instances.
func NewUsageHandler(pool *credential.Pool, coordinator *ratelimit.Coordinator) *UsageHandler {
	return &UsageHandler{pool: pool, coordinator: coordinator}
}

func (h *UsageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.pool == nil {
		envelope := errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "credential pool not initialized")
		respondWithError(w, r, envelope)
		return
	}

	response := UsageResponse{
		Credentials: h.pool.UsageSnapshot(),
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	if h.coordinator != nil {
		response.Global = GlobalBudget{
			Remaining: h.coordinator.GlobalRemaining(),
			WaitMS:    h.coordinator.GlobalWait().Milliseconds(),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}
