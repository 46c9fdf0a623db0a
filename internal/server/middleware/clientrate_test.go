package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientRateLimit_DisabledByDefault(t *testing.T) {
	handler := ClientRateLimit(ClientRateOptions{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodGet, "/gateway/v1beta/models", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestClientRateLimit_RejectsBurstOverflow(t *testing.T) {
	handler := ClientRateLimit(ClientRateOptions{RequestsPerSecond: 1, Burst: 2})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/gateway/v1beta/models", nil)
		req.RemoteAddr = "203.0.113.7:51000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		statuses = append(statuses, rec.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, statuses)
}

func TestClientRateLimit_DeniedResponseShape(t *testing.T) {
	handler := ClientRateLimit(ClientRateOptions{RequestsPerSecond: 1, Burst: 1})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	first := httptest.NewRequest(http.MethodGet, "/gateway/v1beta/models", nil)
	first.RemoteAddr = "203.0.113.8:51000"
	handler.ServeHTTP(httptest.NewRecorder(), first)

	second := httptest.NewRequest(http.MethodGet, "/gateway/v1beta/models", nil)
	second.RemoteAddr = "203.0.113.8:51000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, second)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "RATE_LIMITED", body.Error.Code)
}

func TestClientRateLimit_ClientsAreIndependent(t *testing.T) {
	handler := ClientRateLimit(ClientRateOptions{RequestsPerSecond: 1, Burst: 1})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	first := httptest.NewRequest(http.MethodGet, "/gateway/v1beta/models", nil)
	first.RemoteAddr = "203.0.113.9:51000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, first)
	require.Equal(t, http.StatusOK, rec.Code)

	// Exhausting one client's budget leaves another untouched.
	second := httptest.NewRequest(http.MethodGet, "/gateway/v1beta/models", nil)
	second.RemoteAddr = "203.0.113.9:51000"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, second)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	other := httptest.NewRequest(http.MethodGet, "/gateway/v1beta/models", nil)
	other.RemoteAddr = "198.51.100.23:44000"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	require.Equal(t, http.StatusOK, rec.Code)
}
