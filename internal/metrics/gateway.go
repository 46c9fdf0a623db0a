package metrics

import (
	"strconv"
	"time"

	"github.com/pressgate/pressgate/internal/observability"
)

// Gateway metrics following Prometheus conventions
var (
	// Proxy traffic metrics
	GatewayRequestsTotal       = "gateway_requests_total"
	GatewayUpstreamLatency     = "gateway_upstream_latency_ms"
	GatewayUpstreamErrorsTotal = "gateway_upstream_errors_total"

	// Credential pool metrics
	CredentialSelectionsTotal = "credential_selections_total"
	CredentialErrorsTotal     = "credential_errors_total"

	// Rate limiting metrics
	RateLimitDeniedTotal = "rate_limit_denied_total"

	// Health check metrics
	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"

	// Server lifecycle metrics
	ServerStartTime = "app_server_start_time_seconds"
)

// RecordGatewayRequest records one proxied request with the upstream status
// and whether the response was streamed.
func RecordGatewayRequest(statusCode int, streaming bool) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			GatewayRequestsTotal,
			1,
			map[string]string{
				"status":    strconv.Itoa(statusCode),
				"streaming": strconv.FormatBool(streaming),
			},
		)
	}
}

// RecordUpstreamLatency records the upstream round-trip time
func RecordUpstreamLatency(duration time.Duration, streaming bool) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Histogram(
			GatewayUpstreamLatency,
			duration,
			map[string]string{
				"streaming": strconv.FormatBool(streaming),
			},
		)
	}
}

// RecordUpstreamError records a non-2xx upstream response or transport failure
func RecordUpstreamError(kind string, statusCode int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			GatewayUpstreamErrorsTotal,
			1,
			map[string]string{
				"kind":   kind,
				"status": strconv.Itoa(statusCode),
			},
		)
	}
}

// RecordCredentialSelection records a pool pick. The credential label is the
// masked form, never the raw secret; cardinality is bounded by the pool size.
func RecordCredentialSelection(maskedCredential string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			CredentialSelectionsTotal,
			1,
			map[string]string{
				"credential": maskedCredential,
			},
		)
	}
}

// RecordCredentialError records an upstream failure attributed to a credential
func RecordCredentialError(maskedCredential string, errorCode string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			CredentialErrorsTotal,
			1,
			map[string]string{
				"credential": maskedCredential,
				"error_code": errorCode,
			},
		)
	}
}

// RecordRateLimitDenied records a denial by scope (global, credential, shared)
func RecordRateLimitDenied(scope string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			RateLimitDeniedTotal,
			1,
			map[string]string{
				"scope": scope,
			},
		)
	}
}

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			HealthCheckTotal,
			1,
			map[string]string{
				"check":  checkName,
				"status": status,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			HealthCheckDuration,
			duration,
			map[string]string{
				"check": checkName,
			},
		)
	}
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerStartTime,
			float64(timestamp),
			nil,
		)
	}
}
