package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"golang.org/x/time/rate"
)

// ClientRateOptions controls the inbound per-client guard. This is separate
// from the upstream rate coordinator: it protects the gateway itself from a
// single noisy caller, while the coordinator protects the upstream quota.
type ClientRateOptions struct {
	RequestsPerSecond float64
	Burst             int
	IdleTTL           time.Duration
}

func (o ClientRateOptions) withDefaults() ClientRateOptions {
	if o.Burst <= 0 {
		o.Burst = int(o.RequestsPerSecond)
		if o.Burst <= 0 {
			o.Burst = 1
		}
	}
	if o.IdleTTL <= 0 {
		o.IdleTTL = 10 * time.Minute
	}
	return o
}

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ClientRateLimit rejects clients exceeding the configured request rate with
// 429. A non-positive rate disables the guard entirely. Idle client entries
// are swept opportunistically so the map stays bounded.
func ClientRateLimit(opts ClientRateOptions) func(http.Handler) http.Handler {
	if opts.RequestsPerSecond <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	opts = opts.withDefaults()

	var (
		mu        sync.Mutex
		clients   = make(map[string]*clientEntry)
		nextSweep = time.Now().Add(opts.IdleTTL)
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)

			mu.Lock()
			now := time.Now()
			if now.After(nextSweep) {
				for key, entry := range clients {
					if now.Sub(entry.lastSeen) > opts.IdleTTL {
						delete(clients, key)
					}
				}
				nextSweep = now.Add(opts.IdleTTL)
			}

			entry, ok := clients[ip]
			if !ok {
				entry = &clientEntry{
					limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
				}
				clients[ip] = entry
			}
			entry.lastSeen = now
			allowed := entry.limiter.Allow()
			mu.Unlock()

			if !allowed {
				envelope := errors.NewErrorEnvelope("RATE_LIMITED", "client request rate exceeded").
					WithCorrelationID(GetRequestID(r.Context()))
				w.Header().Set("Retry-After", "1")
				writeErrorResponse(w, envelope, http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP trusts RemoteAddr; the RealIP middleware runs earlier in the
// chain and has already folded in X-Forwarded-For.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
