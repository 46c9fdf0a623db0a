package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pressgate/pressgate/internal/credential"
	apperrors "github.com/pressgate/pressgate/internal/errors"
	"github.com/pressgate/pressgate/internal/metrics"
	"github.com/pressgate/pressgate/internal/observability"
)

// maxErrorBodyBytes bounds how much of an upstream error body is read for
// the excerpt surfaced to the caller.
const maxErrorBodyBytes = 64 * 1024

// proxy dispatches the upstream exchange and classifies the outcome.
func (h *Handler) proxy(w http.ResponseWriter, r *http.Request, credValue string, streaming bool) {
	ctx := r.Context()
	var cancel context.CancelFunc
	var headerTimer *time.Timer
	if h.cfg.Timeout > 0 {
		if streaming {
			// The deadline covers connection and response headers only: a
			// streamed body may legitimately outlive any fixed deadline, so
			// once headers arrive the client connection lifetime governs.
			ctx, cancel = context.WithCancel(ctx)
			headerTimer = time.AfterFunc(h.cfg.Timeout, cancel)
		} else {
			ctx, cancel = context.WithTimeout(ctx, h.cfg.Timeout)
		}
		defer cancel()
	}

	upReq, err := h.buildUpstreamRequest(ctx, r, credValue)
	if err != nil {
		metrics.RecordGatewayRequest(http.StatusInternalServerError, streaming)
		apperrors.RespondWithEnvelope(w, r, apperrors.NewInternalError(
			"failed to build upstream request"))
		return
	}

	start := time.Now()
	resp, err := h.client.Do(upReq)
	if headerTimer != nil {
		headerTimer.Stop()
	}
	if err != nil {
		h.respondUnreachable(w, r, credValue, streaming, err)
		return
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup
	metrics.RecordUpstreamLatency(time.Since(start), streaming)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		h.respondUpstreamError(w, r, credValue, streaming, resp)
		return
	}

	metrics.RecordGatewayRequest(resp.StatusCode, streaming)
	h.relay(w, resp, streaming)
}

// buildUpstreamRequest maps the inbound path after the gateway prefix onto
// the upstream base URL, merges the query string, and injects the
// credential as a query parameter. Inbound credential surfaces (key
// parameter, header, cookie) never reach the upstream: only Content-Type
// and Accept are forwarded.
func (h *Handler) buildUpstreamRequest(ctx context.Context, r *http.Request, credValue string) (*http.Request, error) {
	rest := strings.TrimPrefix(r.URL.Path, h.cfg.PathPrefix)
	if rest != "" && !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}

	target := *h.base
	target.Path = strings.TrimRight(h.base.Path, "/") + rest
	if target.Path == "" {
		target.Path = "/"
	}

	query := r.URL.Query()
	query.Set(h.cfg.KeyParam, credValue)
	target.RawQuery = query.Encode()

	upReq, err := http.NewRequestWithContext(ctx, r.Method, target.String(), r.Body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	upReq.ContentLength = r.ContentLength

	if contentType := r.Header.Get("Content-Type"); contentType != "" {
		upReq.Header.Set("Content-Type", contentType)
	} else if r.Method == http.MethodPost || r.Method == http.MethodPut {
		upReq.Header.Set("Content-Type", "application/json")
	}
	if accept := r.Header.Get("Accept"); accept != "" {
		upReq.Header.Set("Accept", accept)
	}

	return upReq, nil
}

// respondUnreachable handles transport-level failures: no upstream response
// arrived. Recorded against the credential, surfaced as a generic 500, and
// never retried against a different credential.
func (h *Handler) respondUnreachable(w http.ResponseWriter, r *http.Request, credValue string, streaming bool, err error) {
	message := "upstream request failed"
	kind := "transport"
	if isTimeout(err) {
		message = "upstream request timed out"
		kind = "timeout"
	}

	detail := sanitizeTransportError(err)
	h.pool.RecordError(credValue, detail, "")

	masked := credential.Mask(credValue)
	metrics.RecordUpstreamError(kind, 0)
	metrics.RecordCredentialError(masked, "UPSTREAM_UNREACHABLE")
	if observability.ServerLogger != nil {
		observability.ServerLogger.Warn("Upstream dispatch failed",
			zap.String("credential", masked),
			zap.String("kind", kind),
			zap.String("error", detail))
	}

	metrics.RecordGatewayRequest(http.StatusInternalServerError, streaming)
	apperrors.RespondWithEnvelope(w, r, apperrors.NewUpstreamUnreachableError(message))
}

// upstreamErrorBody matches the error shape of Gemini-style APIs. The
// numeric code field is ignored; status carries the stable string code.
type upstreamErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// respondUpstreamError mirrors a non-2xx upstream response: the upstream
// status passes through, the body is parsed for a message (falling back to
// the raw text), and the failure is recorded against the credential.
func (h *Handler) respondUpstreamError(w http.ResponseWriter, r *http.Request, credValue string, streaming bool, resp *http.Response) {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	message := strings.TrimSpace(string(body))
	upstreamCode := ""
	var parsed upstreamErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		message = parsed.Error.Message
		upstreamCode = parsed.Error.Status
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	h.pool.RecordError(credValue, message, upstreamCode)

	masked := credential.Mask(credValue)
	metrics.RecordUpstreamError("status", resp.StatusCode)
	metrics.RecordCredentialError(masked, "UPSTREAM_ERROR")
	if observability.ServerLogger != nil {
		observability.ServerLogger.Warn("Upstream returned an error",
			zap.String("credential", masked),
			zap.Int("status", resp.StatusCode),
			zap.String("upstream_code", upstreamCode))
	}

	metrics.RecordGatewayRequest(resp.StatusCode, streaming)
	apperrors.RespondWithEnvelope(w, r,
		apperrors.NewUpstreamErrorWithCode(resp.StatusCode, message, upstreamCode))
}

// hopHeaders are connection-scoped (RFC 7230 section 6.1) and never
// forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// relay copies a 2xx upstream response to the caller. Gateway CORS headers
// set by the middleware stay on top: upstream CORS headers are dropped so
// the two sets never conflict.
func (h *Handler) relay(w http.ResponseWriter, resp *http.Response, streaming bool) {
	copyUpstreamHeaders(w.Header(), resp.Header)

	if streaming {
		w.Header().Del("Content-Length")
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
	}

	w.WriteHeader(resp.StatusCode)

	if streaming {
		streamCopy(w, resp.Body)
		return
	}
	_, _ = io.Copy(w, resp.Body)
}

func copyUpstreamHeaders(dst, src http.Header) {
	for key, values := range src {
		canonical := http.CanonicalHeaderKey(key)
		if isHopHeader(canonical) || strings.HasPrefix(canonical, "Access-Control-") {
			continue
		}
		dst[canonical] = append([]string(nil), values...)
	}
}

func isHopHeader(canonical string) bool {
	for _, header := range hopHeaders {
		if canonical == header {
			return true
		}
	}
	return false
}

// streamCopy forwards the body chunk by chunk, flushing after every read so
// server-sent events reach the caller as the upstream emits them.
func streamCopy(w http.ResponseWriter, body io.Reader) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			return
		}
	}
}

// isTimeout classifies a dispatch failure as a timeout. The streaming
// header timer cancels rather than deadlines, so cancellation counts too.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// sanitizeTransportError strips the request URL from transport errors: the
// URL carries the credential as a query parameter and must never reach the
// logs or the journal.
func sanitizeTransportError(err error) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return urlErr.Err.Error()
	}
	return err.Error()
}
