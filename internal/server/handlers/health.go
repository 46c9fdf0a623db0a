package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/fulmenhq/gofulmen/errors"

	"github.com/pressgate/pressgate/internal/metrics"
)

// HealthResponse is the aggregate health body served at /health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProbeResponse is the body of the individual liveness/readiness/startup
// probes.
type ProbeResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthChecker is implemented by components that can report their health.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// CheckerFunc adapts a plain function to the HealthChecker interface.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) CheckHealth(ctx context.Context) error {
	return f(ctx)
}

// probeSpec fixes the name, check timeout, and readiness gating of one
// probe endpoint. All four endpoints share the same execution path.
type probeSpec struct {
	name         string
	timeout      time.Duration
	requireReady bool
}

var (
	aggregateProbe = probeSpec{name: "", timeout: 5 * time.Second}
	liveProbe      = probeSpec{name: "live", timeout: 2 * time.Second}
	readyProbe     = probeSpec{name: "ready", timeout: 5 * time.Second, requireReady: true}
	startupProbe   = probeSpec{name: "startup", timeout: 3 * time.Second, requireReady: true}
)

// HealthManager runs registered checkers and gates the readiness and
// startup probes on initialization completion.
type HealthManager struct {
	checkers map[string]HealthChecker
	version  string
	started  time.Time
	grace    time.Duration
	ready    atomic.Bool
}

// NewHealthManager creates a manager with no checkers registered.
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		checkers: make(map[string]HealthChecker),
		version:  version,
		started:  time.Now(),
	}
}

// RegisterChecker adds a named component check. Not safe to call once the
// server is accepting probe traffic.
func (hm *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	hm.checkers[name] = checker
}

// SetStartupGrace sets the window after process start during which failing
// dependency checks report "starting" instead of "unhealthy", so the
// aggregate status does not flap while slow dependencies come up.
func (hm *HealthManager) SetStartupGrace(grace time.Duration) {
	hm.grace = grace
}

// MarkReady flips the startup and readiness gates once initialization has
// completed. Until then both probes answer 503.
func (hm *HealthManager) MarkReady() {
	hm.ready.Store(true)
}

// Ready reports whether MarkReady has been called.
func (hm *HealthManager) Ready() bool {
	return hm.ready.Load()
}

func (hm *HealthManager) inStartupGrace() bool {
	return hm.grace > 0 && time.Since(hm.started) < hm.grace
}

// runChecks executes every registered checker, recording a metric per
// check. A cancelled context marks the remaining checks as timed out.
func (hm *HealthManager) runChecks(ctx context.Context) map[string]string {
	results := make(map[string]string, len(hm.checkers))

	for name, checker := range hm.checkers {
		if ctx.Err() != nil {
			results[name] = "timeout"
			continue
		}

		start := time.Now()
		err := checker.CheckHealth(ctx)
		metrics.RecordHealthCheck(name, err == nil, time.Since(start))

		switch {
		case err == nil:
			results[name] = "healthy"
		case hm.inStartupGrace():
			results[name] = "starting"
		default:
			results[name] = "unhealthy"
		}
	}

	return results
}

// aggregate folds per-check results into one status: any unhealthy check is
// fatal, anything short of healthy degrades.
func aggregate(results map[string]string) string {
	status := "healthy"
	for _, result := range results {
		switch result {
		case "unhealthy":
			return "unhealthy"
		case "healthy":
		default:
			status = "degraded"
		}
	}
	return status
}

// serveProbe is the shared execution path of all four health endpoints.
func (hm *HealthManager) serveProbe(w http.ResponseWriter, r *http.Request, spec probeSpec) {
	if spec.requireReady && !hm.ready.Load() {
		respondWithError(w, r, healthFailure(spec.name, "starting", nil,
			"initialization has not completed"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), spec.timeout)
	defer cancel()

	results := hm.runChecks(ctx)
	status := aggregate(results)
	if status == "unhealthy" {
		respondWithError(w, r, healthFailure(spec.name, status, results,
			"health check failed"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if spec.name == "" {
		_ = json.NewEncoder(w).Encode(HealthResponse{
			Status:    status,
			Version:   hm.version,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    results,
		})
		return
	}
	_ = json.NewEncoder(w).Encode(ProbeResponse{Status: status, Timestamp: time.Now().UTC()})
}

// HealthHandler serves the aggregate health report.
func (hm *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	hm.serveProbe(w, r, aggregateProbe)
}

// LivenessHandler reports whether the process is running at all.
func (hm *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	hm.serveProbe(w, r, liveProbe)
}

// ReadinessHandler reports whether the gateway can serve traffic.
func (hm *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	hm.serveProbe(w, r, readyProbe)
}

// StartupHandler reports whether initialization has completed.
func (hm *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	hm.serveProbe(w, r, startupProbe)
}

// healthFailure builds the 503 envelope for a failed probe, carrying the
// probe name, aggregate status, and the names of the failing checks.
func healthFailure(probe, status string, results map[string]string, message string) *errors.ErrorEnvelope {
	envelope := errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", message)

	details := map[string]interface{}{"status": status}
	contextData := map[string]interface{}{"status": status}
	if probe != "" {
		details["probe"] = probe
		contextData["probe"] = probe
	}
	if len(results) > 0 {
		details["checks"] = results
		var failing []string
		for name, result := range results {
			if result != "healthy" {
				failing = append(failing, name)
			}
		}
		if len(failing) > 0 {
			contextData["unhealthy_checks"] = failing
		}
	}

	envelope = envelope.WithDetails(details)
	envelope, _ = envelope.WithContext(contextData)
	return envelope
}

// The server wires routes against the process-wide manager; serve
// initializes it before the router starts accepting traffic.
var globalHealthManager *HealthManager

// InitHealthManager creates the process-wide health manager.
func InitHealthManager(version string) {
	globalHealthManager = NewHealthManager(version)
}

// GetHealthManager returns the process-wide health manager, nil before
// InitHealthManager.
func GetHealthManager() *HealthManager {
	return globalHealthManager
}

func globalProbe(w http.ResponseWriter, r *http.Request, spec probeSpec) {
	if globalHealthManager == nil {
		name := spec.name
		if name == "" {
			name = "aggregate"
		}
		respondWithError(w, r, healthFailure(name, "unknown", nil,
			"health manager not initialized"))
		return
	}
	globalHealthManager.serveProbe(w, r, spec)
}

// HealthHandler serves /health against the process-wide manager.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	globalProbe(w, r, aggregateProbe)
}

// LivenessHandler serves /health/live against the process-wide manager.
func LivenessHandler(w http.ResponseWriter, r *http.Request) {
	globalProbe(w, r, liveProbe)
}

// ReadinessHandler serves /health/ready against the process-wide manager.
func ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	globalProbe(w, r, readyProbe)
}

// StartupHandler serves /health/startup against the process-wide manager.
func StartupHandler(w http.ResponseWriter, r *http.Request) {
	globalProbe(w, r, startupProbe)
}
