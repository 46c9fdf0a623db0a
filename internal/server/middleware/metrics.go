package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pressgate/pressgate/internal/observability"
)

// capturingWriter records the status and body size of a response as it is
// written.
type capturingWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (cw *capturingWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *capturingWriter) Write(b []byte) (int, error) {
	n, err := cw.ResponseWriter.Write(b)
	cw.bytes += int64(n)
	return n, err
}

// Flush forwards to the underlying writer so streamed upstream responses
// are not buffered by the metrics wrapper.
func (cw *capturingWriter) Flush() {
	if flusher, ok := cw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// endpointLabel keeps metric label cardinality bounded: the chi route
// pattern when available, else a fixed pattern per known path family. The
// proxied upstream path must never become a label value.
func endpointLabel(r *http.Request) string {
	if pattern := chi.RouteContext(r.Context()).RoutePattern(); pattern != "" {
		return pattern
	}

	path := r.URL.Path
	switch {
	case path == "/gateway" || strings.HasPrefix(path, "/gateway/"):
		return "/gateway/*"
	case strings.HasPrefix(path, "/health"):
		return "/health/*"
	case path == "/version" || path == "/metrics" || path == "/usage" || path == "/":
		return path
	default:
		return "/unknown"
	}
}

// RequestMetrics emits per-request telemetry (count, duration, sizes,
// errors) and writes the request completion log line.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		telemetry := observability.TelemetrySystem
		if telemetry == nil {
			next.ServeHTTP(w, r)
			return
		}

		var requestSize int64
		if header := r.Header.Get("Content-Length"); header != "" {
			if size, err := strconv.ParseInt(header, 10, 64); err == nil {
				requestSize = size
			}
		}

		start := time.Now()
		captured := &capturingWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(captured, r)
		duration := time.Since(start)

		endpoint := endpointLabel(r)
		status := strconv.Itoa(captured.status)
		labels := map[string]string{
			"method":   r.Method,
			"endpoint": endpoint,
			"status":   status,
		}
		sizeLabels := map[string]string{
			"method":   r.Method,
			"endpoint": endpoint,
		}

		_ = telemetry.Counter("http_requests_total", 1, labels)
		_ = telemetry.Histogram("http_request_duration_ms", duration, labels)
		_ = telemetry.Gauge("http_request_size_bytes", float64(requestSize), sizeLabels)
		_ = telemetry.Gauge("http_response_size_bytes", float64(captured.bytes), sizeLabels)

		if captured.status >= 400 {
			errorType := "client_error"
			if captured.status >= 500 {
				errorType = "server_error"
			}
			_ = telemetry.Counter("http_errors_total", 1, map[string]string{
				"method":     r.Method,
				"endpoint":   endpoint,
				"status":     status,
				"error_type": errorType,
			})
		}

		// The request id stays in the log line, not in metric labels.
		if observability.ServerLogger != nil {
			observability.ServerLogger.Info("HTTP request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("endpoint", endpoint),
				zap.Int("status", captured.status),
				zap.Duration("duration", duration),
				zap.Int64("request_size", requestSize),
				zap.Int64("response_size", captured.bytes),
				zap.String("requestID", GetRequestID(r.Context())),
			)
		}
	})
}
