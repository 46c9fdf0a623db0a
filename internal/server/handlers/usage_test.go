package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pressgate/pressgate/internal/credential"
	"github.com/pressgate/pressgate/internal/ratelimit"
)

func TestUsageHandlerReportsSnapshotAndBudget(t *testing.T) {
	pool := credential.NewPool()
	pool.AddCredentials("alpha-key-12345,beta-key-678901")
	pool.Next()

	// A frozen clock keeps the budget exact; lazy refill would otherwise
	// drift the remaining count between Allow and the snapshot.
	now := time.Now()
	coordinator := ratelimit.NewCoordinator(ratelimit.CoordinatorConfig{
		Global:        ratelimit.Config{TokensPerInterval: 10, Interval: time.Minute, MaxTokens: 10},
		PerCredential: ratelimit.Config{TokensPerInterval: 10, Interval: time.Minute, MaxTokens: 10},
	}, ratelimit.WithCoordinatorClock(func() time.Time { return now }))
	coordinator.Allow(context.Background(), "alpha-key-12345")

	handler := NewUsageHandler(pool, coordinator)

	req := httptest.NewRequest(http.MethodGet, "/usage", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	if strings.Contains(rec.Body.String(), "alpha-key-12345") {
		t.Fatal("response leaked a raw credential")
	}

	var resp UsageResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if len(resp.Credentials) != 2 {
		t.Fatalf("expected 2 credentials, got %d", len(resp.Credentials))
	}

	if resp.Credentials[0].Credential != "alph...2345" {
		t.Fatalf("expected masked credential, got %s", resp.Credentials[0].Credential)
	}

	if resp.Credentials[0].UsageCount != 1 {
		t.Fatalf("expected usage count 1, got %d", resp.Credentials[0].UsageCount)
	}

	if resp.Global.Remaining != 9 {
		t.Fatalf("expected 9 remaining global tokens, got %v", resp.Global.Remaining)
	}
}

func TestUsageHandlerWithoutPool(t *testing.T) {
	handler := NewUsageHandler(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/usage", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
}
