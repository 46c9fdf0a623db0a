// Package errors defines the gateway's error taxonomy on top of gofulmen
// error envelopes and renders envelopes as JSON HTTP responses.
package errors

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pressgate/pressgate/internal/metrics"
	"github.com/pressgate/pressgate/internal/observability"
	"github.com/pressgate/pressgate/internal/server/middleware"
)

// Envelope codes of the gateway taxonomy. UPSTREAM_ERROR is special: its
// HTTP status is the upstream's own, carried in the envelope context.
const (
	codeCredentialRequired  = "CREDENTIAL_REQUIRED"
	codeRateLimited         = "RATE_LIMITED"
	codeNotFound            = "NOT_FOUND"
	codeMethodNotAllowed    = "METHOD_NOT_ALLOWED"
	codeUpstreamError       = "UPSTREAM_ERROR"
	codeUpstreamUnreachable = "UPSTREAM_UNREACHABLE"
	codeInternal            = "INTERNAL_ERROR"
	codeDatabase            = "DATABASE_ERROR"
	codeConfigInvalid       = "CONFIG_INVALID"
	codeServiceUnavailable  = "SERVICE_UNAVAILABLE"
)

var statusByCode = map[string]int{
	"INVALID_INPUT":         http.StatusBadRequest,
	"VALIDATION_FAILED":     http.StatusBadRequest,
	codeCredentialRequired:  http.StatusUnauthorized,
	codeNotFound:            http.StatusNotFound,
	codeMethodNotAllowed:    http.StatusMethodNotAllowed,
	codeRateLimited:         http.StatusTooManyRequests,
	codeUpstreamError:       http.StatusBadGateway,
	codeServiceUnavailable:  http.StatusServiceUnavailable,
	codeUpstreamUnreachable: http.StatusInternalServerError,
}

// NewCredentialRequiredError signals that no upstream credential was
// available: the pool is empty and the caller supplied none.
func NewCredentialRequiredError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(codeCredentialRequired, message)
}

// NewRateLimitedError signals a denial by the rate limiter. The retry hint
// rides in the envelope context so the JSON body and the Retry-After header
// always advertise the same wait.
func NewRateLimitedError(message string, retryAfter time.Duration) *errors.ErrorEnvelope {
	envelope := errors.NewErrorEnvelope(codeRateLimited, message)
	// Context validation only accepts plain ints, not int64.
	if updated, err := envelope.WithContext(map[string]interface{}{
		"retry_after_ms": int(retryAfter.Milliseconds()),
	}); err == nil {
		envelope = updated
	}
	return envelope
}

func NewNotFoundError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(codeNotFound, message)
}

func NewMethodNotAllowedError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(codeMethodNotAllowed, message)
}

// NewUpstreamError mirrors a non-2xx upstream response, passing the
// upstream's status through to the caller unchanged.
func NewUpstreamError(statusCode int, message string) *errors.ErrorEnvelope {
	return NewUpstreamErrorWithCode(statusCode, message, "")
}

// NewUpstreamErrorWithCode additionally records the upstream's own error
// code when the response body exposed one.
func NewUpstreamErrorWithCode(statusCode int, message, upstreamCode string) *errors.ErrorEnvelope {
	fields := map[string]interface{}{"upstream_status": statusCode}
	if upstreamCode != "" {
		fields["upstream_code"] = upstreamCode
	}
	envelope := errors.NewErrorEnvelope(codeUpstreamError, message)
	envelope, _ = envelope.WithContext(fields)
	return envelope
}

// NewUpstreamUnreachableError signals a transport failure before any
// upstream response arrived: connect refused, DNS failure, or timeout.
func NewUpstreamUnreachableError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(codeUpstreamUnreachable, message)
}

func NewInternalError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(codeInternal, message)
}

func NewDatabaseError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(codeDatabase, message)
}

func NewServiceUnavailableError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(codeServiceUnavailable, message)
}

func NewConfigInvalidError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(codeConfigInvalid, message)
}

// wrap builds an envelope around an underlying error, stamping correlation
// and trace ids from the request context.
func wrap(ctx context.Context, code string, err error, message string) *errors.ErrorEnvelope {
	correlation := correlationFrom(ctx)
	envelope := errors.NewErrorEnvelope(code, message).
		WithCorrelationID(correlation).
		WithTraceID(correlation) // correlation doubles as trace id until tracing lands
	if err != nil {
		if updated, ctxErr := envelope.WithContext(map[string]interface{}{
			"wrapped_error": err.Error(),
		}); ctxErr == nil {
			envelope = updated
		}
	}
	return envelope
}

func WrapInternal(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, codeInternal, err, message)
}

func WrapDatabaseError(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, codeDatabase, err, message)
}

func WrapConfigInvalid(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, codeConfigInvalid, err, message)
}

func WrapUpstreamUnreachable(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, codeUpstreamUnreachable, err, message)
}

// correlationFrom resolves a correlation id: the request id when the request
// passed through the middleware chain, a fresh UUID otherwise.
func correlationFrom(ctx context.Context) string {
	if ctx != nil {
		if id := middleware.GetRequestID(ctx); id != "" {
			return id
		}
	}
	return uuid.New().String()
}

// EnsureEnvelope coerces any error into an ErrorEnvelope so every response
// path renders the same JSON shape.
func EnsureEnvelope(err error) *errors.ErrorEnvelope {
	switch typed := err.(type) {
	case nil:
		envelope := errors.NewErrorEnvelope(codeInternal, "unexpected nil error")
		envelope, _ = envelope.WithSeverity(errors.SeverityCritical)
		return envelope
	case *errors.ErrorEnvelope:
		if typed != nil {
			return typed
		}
	}

	envelope := errors.NewErrorEnvelope(codeInternal, "unexpected error")
	envelope, _ = envelope.WithContext(map[string]interface{}{"wrapped_error": err.Error()})
	envelope, _ = envelope.WithSeverity(errors.SeverityHigh)
	return envelope
}

// EnsureCorrelationID fills in a missing correlation id from the context.
func EnsureCorrelationID(envelope *errors.ErrorEnvelope, ctx context.Context) *errors.ErrorEnvelope {
	if envelope == nil || envelope.CorrelationID != "" {
		return envelope
	}

	id := ""
	if ctx != nil {
		id = middleware.GetRequestID(ctx)
	}
	if id == "" {
		id = "fallback-" + errors.GenerateCorrelationID()
	}
	return envelope.WithCorrelationID(id)
}

// HTTPStatusFromEnvelope resolves the response status for an envelope.
// Upstream errors reply with the upstream's own status.
func HTTPStatusFromEnvelope(envelope *errors.ErrorEnvelope) int {
	if envelope == nil {
		return http.StatusInternalServerError
	}
	if envelope.Code == codeUpstreamError {
		if status, ok := envelope.Context["upstream_status"].(int); ok && status >= 100 {
			return status
		}
	}
	return HTTPStatusFromCode(envelope.Code)
}

// HTTPStatusFromCode maps a taxonomy code to its HTTP status. Unknown codes
// fall back to 500.
func HTTPStatusFromCode(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// ResponseDetails merges envelope details and context into the API-safe
// details map, details winning on key collisions.
func ResponseDetails(envelope *errors.ErrorEnvelope) map[string]interface{} {
	if envelope == nil || len(envelope.Details)+len(envelope.Context) == 0 {
		return nil
	}

	merged := make(map[string]interface{}, len(envelope.Details)+len(envelope.Context))
	for key, value := range envelope.Context {
		merged[key] = value
	}
	for key, value := range envelope.Details {
		merged[key] = value
	}
	return merged
}

// HTTPErrorDetail is the inner error object of a failure response.
type HTTPErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// HTTPErrorResponse is the wire shape of every gateway failure.
type HTTPErrorResponse struct {
	Error HTTPErrorDetail `json:"error"`
}

// RespondWithError normalizes any error and writes the JSON failure body.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	RespondWithEnvelope(w, r, EnsureEnvelope(err))
}

// RespondWithEnvelope writes the envelope as a JSON failure response, logs
// it, and emits error metrics. Rate-limited responses also advertise the
// wait through the Retry-After header.
func RespondWithEnvelope(w http.ResponseWriter, r *http.Request, envelope *errors.ErrorEnvelope) {
	if w == nil {
		return
	}

	var ctx context.Context
	if r != nil {
		ctx = r.Context()
	}
	envelope = EnsureCorrelationID(envelope, ctx)
	status := HTTPStatusFromEnvelope(envelope)

	logEnvelope(envelope, status)
	metrics.RecordError(envelope.Code, status)
	if r != nil {
		metrics.RecordErrorByEndpoint(r.URL.Path, envelope.Code)
	}

	w.Header().Set("Content-Type", "application/json")
	if hint := retryAfterSeconds(envelope); hint != "" {
		w.Header().Set("Retry-After", hint)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{Error: HTTPErrorDetail{
		Code:      envelope.Code,
		Message:   envelope.Message,
		Details:   ResponseDetails(envelope),
		RequestID: envelope.CorrelationID,
	}})
}

// retryAfterSeconds renders the retry hint as whole seconds, rounded up so
// retrying after the advertised delay always succeeds.
func retryAfterSeconds(envelope *errors.ErrorEnvelope) string {
	if envelope == nil || envelope.Code != codeRateLimited {
		return ""
	}
	ms, ok := envelope.Context["retry_after_ms"].(int)
	if !ok || ms <= 0 {
		return ""
	}
	return strconv.Itoa((ms + 999) / 1000)
}

// logEnvelope maps envelope severity onto log level: critical and high log
// as errors, medium as warnings, the rest as info.
func logEnvelope(envelope *errors.ErrorEnvelope, status int) {
	logger := observability.ServerLogger
	if logger == nil || envelope == nil {
		return
	}

	fields := make([]zap.Field, 0, 4+len(envelope.Context))
	fields = append(fields,
		zap.String("error_code", envelope.Code),
		zap.Int("http_status", status))
	if envelope.Severity != "" {
		fields = append(fields, zap.String("severity", string(envelope.Severity)))
	}
	for key, value := range envelope.Context {
		fields = append(fields, zap.Any(key, value))
	}
	if envelope.CorrelationID != "" {
		fields = append(fields, zap.String("request_id", envelope.CorrelationID))
	}

	switch envelope.Severity {
	case errors.SeverityCritical, errors.SeverityHigh:
		logger.Error(envelope.Message, fields...)
	case errors.SeverityMedium:
		logger.Warn(envelope.Message, fields...)
	default:
		logger.Info(envelope.Message, fields...)
	}
}
