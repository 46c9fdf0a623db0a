package integration

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pressgate/pressgate/internal/config"
	"github.com/pressgate/pressgate/internal/observability"
	"github.com/pressgate/pressgate/internal/server"
	"github.com/pressgate/pressgate/internal/server/handlers"
)

// permissionDenied reports whether err is the sandbox refusing a socket,
// normalized across platforms.
func permissionDenied(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "permission denied") || strings.Contains(msg, "not permitted")
}

// startTelemetry boots the Prometheus exporter on a random port and tears
// down the global telemetry state afterwards. Skips when the environment
// forbids loopback binds.
func startTelemetry(t *testing.T) {
	t.Helper()

	if err := observability.InitMetrics("test", 0, "test"); err != nil {
		if permissionDenied(err) {
			t.Skipf("skipping metrics tests, sandbox refused bind: %v", err)
		}
		require.NoError(t, err)
	}

	t.Cleanup(func() {
		if observability.PrometheusExporter != nil {
			_ = observability.PrometheusExporter.Stop()
			observability.PrometheusExporter = nil
		}
		observability.TelemetrySystem = nil
	})
}

// startServer runs the full server stack on an IPv4 loopback listener with
// extra routes added for the test. Gateway and usage handlers stay nil;
// these tests exercise the shared server plumbing.
func startServer(t *testing.T, routes map[string]http.HandlerFunc) (*httptest.Server, *http.Client) {
	t.Helper()

	observability.InitCLILogger("test", false)
	observability.InitServerLogger("test", "info")
	handlers.InitHealthManager("test")

	srv := server.New(config.ServerConfig{Host: "127.0.0.1", Port: 0}, nil, nil)
	if mux, ok := srv.Handler().(*chi.Mux); ok {
		for path, handler := range routes {
			mux.Get(path, handler)
		}
	}

	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if permissionDenied(err) {
			t.Skipf("skipping metrics server setup: %v", err)
		}
		require.NoError(t, err)
	}

	ts := &httptest.Server{
		Listener: listener,
		Config:   &http.Server{Handler: srv.Handler()},
	}
	ts.Start()
	t.Cleanup(ts.Close)
	return ts, ts.Client()
}

func fetch(t *testing.T, client *http.Client, url string) (int, http.Header, string) {
	t.Helper()

	resp, err := client.Get(url)
	require.NoError(t, err)
	body, readErr := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, readErr)
	return resp.StatusCode, resp.Header, string(body)
}

func TestMetricsUnderConcurrentLoad(t *testing.T) {
	startTelemetry(t)

	paths := []string{"/fast", "/slow", "/error", "/health"}
	ts, client := startServer(t, map[string]http.HandlerFunc{
		"/fast": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("fast response"))
		},
		"/slow": func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(50 * time.Millisecond)
			_, _ = w.Write([]byte("slow response"))
		},
		"/error": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("error response"))
		},
	})

	const requests = 50
	const workers = 10

	work := make(chan int, requests)
	for i := 0; i < requests; i++ {
		work <- i
	}
	close(work)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for n := range work {
				resp, err := client.Get(ts.URL + paths[n%len(paths)])
				if err == nil {
					require.NoError(t, resp.Body.Close())
				}
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	status, _, body := fetch(t, client, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "test_http_requests_total")
	assert.Contains(t, body, "test_http_request_duration_ms")
	assert.Less(t, elapsed, 5*time.Second)
	t.Logf("%d requests in %v (%.2f req/s)", requests, elapsed, float64(requests)/elapsed.Seconds())
}

func TestMetricsPrometheusExposition(t *testing.T) {
	startTelemetry(t)

	ts, client := startServer(t, map[string]http.HandlerFunc{
		"/format-test": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"message": "format test"}`))
		},
	})

	status, _, _ := fetch(t, client, ts.URL+"/format-test")
	assert.Equal(t, http.StatusOK, status)

	_, header, body := fetch(t, client, ts.URL+"/metrics")
	assert.Contains(t, header.Get("Content-Type"), "text/plain; version=0.0.4")

	// At least one non-comment line must look like `name{labels} value`.
	sampleLines := 0
	for _, line := range strings.Split(strings.TrimSpace(body), "\n") {
		if strings.HasPrefix(line, "#") || strings.TrimSpace(line) == "" {
			continue
		}
		sampleLines++
		if strings.Contains(line, "{") {
			assert.GreaterOrEqual(t, len(strings.Fields(line)), 2,
				"labeled sample should carry a value: %s", line)
		}
	}
	assert.Greater(t, sampleLines, 0, "exposition should contain samples")
}

func TestMetricsWithoutTelemetry(t *testing.T) {
	originalExporter := observability.PrometheusExporter
	originalTelemetry := observability.TelemetrySystem
	observability.PrometheusExporter = nil
	observability.TelemetrySystem = nil
	t.Cleanup(func() {
		observability.PrometheusExporter = originalExporter
		observability.TelemetrySystem = originalTelemetry
	})
	t.Setenv("PRESSGATE_METRICS_ENABLED", "false")

	ts, client := startServer(t, map[string]http.HandlerFunc{
		"/test": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("test"))
		},
	})

	status, _, _ := fetch(t, client, ts.URL+"/test")
	assert.Equal(t, http.StatusOK, status)

	status, _, _ = fetch(t, client, ts.URL+"/metrics")
	assert.Equal(t, http.StatusServiceUnavailable, status)
}
