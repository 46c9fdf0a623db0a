// Package gateway implements the proxying request handler that fronts the
// upstream AI service. Each request resolves a credential, passes the
// rate-limit gates, and is forwarded upstream with the credential injected;
// upstream failures are classified and recorded against the credential used.
package gateway

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pressgate/pressgate/internal/credential"
	apperrors "github.com/pressgate/pressgate/internal/errors"
	"github.com/pressgate/pressgate/internal/metrics"
	"github.com/pressgate/pressgate/internal/ratelimit"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com"

// Config describes the upstream service and the inbound credential
// surfaces. Zero values fall back to the Gemini-style defaults of the stock
// configuration.
type Config struct {
	// BaseURL is the upstream origin; the inbound path after PathPrefix is
	// appended to its path.
	BaseURL string

	// Timeout bounds one upstream exchange. Streaming responses are exempt
	// once response headers have arrived.
	Timeout time.Duration

	// KeyParam is the query parameter the upstream expects the credential
	// in. The credential is never placed in a path segment, which keeps log
	// redaction a pure query-string concern.
	KeyParam string

	// CredentialHeader and CredentialCookie are the inbound surfaces a
	// caller may supply its own credential through. Header wins when both
	// are present.
	CredentialHeader string
	CredentialCookie string

	// StreamMarkers are path fragments that mark a request as streaming, in
	// addition to the alt=sse query flag.
	StreamMarkers []string

	// PathPrefix is the inbound mount point stripped before the path maps
	// onto the upstream.
	PathPrefix string
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	if c.KeyParam == "" {
		c.KeyParam = "key"
	}
	if c.CredentialHeader == "" {
		c.CredentialHeader = "X-Api-Key"
	}
	if c.CredentialCookie == "" {
		c.CredentialCookie = "pressgate_key"
	}
	if len(c.StreamMarkers) == 0 {
		c.StreamMarkers = []string{"streamGenerateContent", ":stream"}
	}
	if c.PathPrefix == "" {
		c.PathPrefix = "/gateway"
	}
	return c
}

// Handler is the per-request orchestrator. Invocations are independent and
// share only the pool and the coordinator, both safe for concurrent use.
type Handler struct {
	cfg         Config
	base        *url.URL
	pool        *credential.Pool
	coordinator *ratelimit.Coordinator
	client      *http.Client
}

// Option configures a Handler.
type Option func(*Handler)

// WithHTTPClient overrides the upstream HTTP client, primarily for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(h *Handler) {
		if client != nil {
			h.client = client
		}
	}
}

// New creates a gateway handler for the given upstream.
func New(cfg Config, pool *credential.Pool, coordinator *ratelimit.Coordinator, opts ...Option) (*Handler, error) {
	cfg = cfg.withDefaults()

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base url: %w", err)
	}

	h := &Handler{
		cfg:         cfg,
		base:        base,
		pool:        pool,
		coordinator: coordinator,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.client == nil {
		// No Client.Timeout: it would cut streamed bodies short. Deadlines
		// ride on the per-request context instead.
		h.client = &http.Client{}
	}
	return h, nil
}

var proxyMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodDelete: true,
}

// ServeHTTP runs the proxy state machine: resolve credential, global gate,
// select, per-credential gate, dispatch, classify. OPTIONS preflights are
// answered by the CORS middleware before a request reaches this handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	streaming := h.isStreaming(r)

	if !proxyMethods[r.Method] {
		metrics.RecordGatewayRequest(http.StatusMethodNotAllowed, streaming)
		apperrors.RespondWithEnvelope(w, r, apperrors.NewMethodNotAllowedError(
			"method "+r.Method+" is not supported by the gateway"))
		return
	}

	callerCred := h.callerCredential(r)
	if callerCred == "" && h.pool.IsEmpty() {
		metrics.RecordGatewayRequest(http.StatusUnauthorized, streaming)
		apperrors.RespondWithEnvelope(w, r, apperrors.NewCredentialRequiredError(
			"no upstream credential available; configure upstream.api_keys or supply one per request"))
		return
	}

	// The global ceiling is checked before a credential is selected so a
	// denial neither advances rotation nor stamps usage.
	if decision := h.coordinator.AllowGlobal(r.Context()); !decision.Permitted {
		metrics.RecordGatewayRequest(http.StatusTooManyRequests, streaming)
		apperrors.RespondWithEnvelope(w, r, apperrors.NewRateLimitedError(
			"global rate limit exceeded", decision.Wait))
		return
	}

	cred := h.selectCredential(callerCred)
	if cred == nil {
		metrics.RecordGatewayRequest(http.StatusUnauthorized, streaming)
		apperrors.RespondWithEnvelope(w, r, apperrors.NewCredentialRequiredError(
			"no upstream credential available"))
		return
	}
	metrics.RecordCredentialSelection(credential.Mask(cred.Value))

	if decision := h.coordinator.AllowCredential(cred.Value); !decision.Permitted {
		metrics.RecordGatewayRequest(http.StatusTooManyRequests, streaming)
		apperrors.RespondWithEnvelope(w, r, apperrors.NewRateLimitedError(
			"credential rate limit exceeded", decision.Wait))
		return
	}

	h.proxy(w, r, cred.Value, streaming)
}

// callerCredential extracts a per-request credential from the configured
// header or cookie.
func (h *Handler) callerCredential(r *http.Request) string {
	if value := strings.TrimSpace(r.Header.Get(h.cfg.CredentialHeader)); value != "" {
		return value
	}
	if cookie, err := r.Cookie(h.cfg.CredentialCookie); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

// selectCredential pins the caller-supplied credential when present,
// otherwise picks from the pool by the configured policy.
func (h *Handler) selectCredential(callerCred string) *credential.Credential {
	if callerCred != "" {
		return h.pool.Take(callerCred)
	}
	return h.pool.Select()
}

// isStreaming reports whether the request targets a streaming operation: a
// configured path marker or an explicit alt=sse query flag.
func (h *Handler) isStreaming(r *http.Request) bool {
	for _, marker := range h.cfg.StreamMarkers {
		if marker != "" && strings.Contains(r.URL.Path, marker) {
			return true
		}
	}
	return strings.EqualFold(r.URL.Query().Get("alt"), "sse")
}
