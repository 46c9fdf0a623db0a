package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pressgate/pressgate/internal/credential"
	"github.com/pressgate/pressgate/internal/metrics"
	"github.com/pressgate/pressgate/internal/observability"
)

// GlobalBucketID is the fixed bucket id for the system-wide ceiling.
const GlobalBucketID = "global"

// Decision scopes.
const (
	ScopeGlobal     = "global"
	ScopeCredential = "credential"
	ScopeShared     = "shared"
)

// Decision is the outcome of a coordinator check. Wait is a hint for the
// caller: how long until the denying bucket would permit one token.
type Decision struct {
	Permitted bool
	Wait      time.Duration
	Scope     string
}

// CoordinatorConfig configures the two composed limiters. The
// per-credential gate is advisory unless EnforcePerCredential is set; the
// default preserves the deliberate hard-global/soft-per-credential policy.
type CoordinatorConfig struct {
	Global               Config
	PerCredential        Config
	EnforcePerCredential bool
}

// Coordinator composes the global and per-credential limiters and applies
// both gates before an outbound call proceeds. Instances are explicitly
// constructed and injected; there is no package-level coordinator.
type Coordinator struct {
	global  *Limiter
	perCred *Limiter
	enforce bool
	shared  SharedCounter
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithSharedCounter attaches a cross-instance global ceiling, consulted
// after the in-memory global bucket permits.
func WithSharedCounter(counter SharedCounter) CoordinatorOption {
	return func(c *Coordinator) {
		c.shared = counter
	}
}

// WithCoordinatorClock overrides the time source of both limiters.
func WithCoordinatorClock(clock func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		if clock != nil {
			c.global.clock = clock
			c.perCred.clock = clock
		}
	}
}

// NewCoordinator creates a coordinator from the given config.
func NewCoordinator(cfg CoordinatorConfig, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		global:  NewLimiter(cfg.Global),
		perCred: NewLimiter(cfg.PerCredential),
		enforce: cfg.EnforcePerCredential,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Allow applies both gates in order: the global ceiling, then the
// per-credential bucket for the given credential. A global denial is final
// and the caller must reject without consulting the per-credential bucket.
func (c *Coordinator) Allow(ctx context.Context, credentialValue string) Decision {
	if decision := c.AllowGlobal(ctx); !decision.Permitted {
		return decision
	}
	return c.AllowCredential(credentialValue)
}

// AllowGlobal checks the instance-wide ceiling and, when configured, the
// shared cross-instance counter. The handler calls this before a credential
// is selected, so a denial never consumes a pool rotation.
func (c *Coordinator) AllowGlobal(ctx context.Context) Decision {
	if !c.global.TryConsume(GlobalBucketID, 1) {
		wait := c.global.WaitTime(GlobalBucketID, 1)
		metrics.RecordRateLimitDenied(ScopeGlobal)
		return Decision{Permitted: false, Wait: wait, Scope: ScopeGlobal}
	}

	if c.shared != nil {
		allowed, wait, err := c.shared.Take(ctx, 1)
		if err != nil {
			// Shared-counter failures fail open; the in-memory gate already passed.
			if observability.ServerLogger != nil {
				observability.ServerLogger.Warn("Shared rate-limit counter unavailable",
					zap.Error(err))
			}
		} else if !allowed {
			metrics.RecordRateLimitDenied(ScopeShared)
			return Decision{Permitted: false, Wait: wait, Scope: ScopeShared}
		}
	}

	return Decision{Permitted: true}
}

// AllowCredential checks the per-credential bucket (keyed by credential
// hash, never the raw secret). A denial is logged and counted but does not
// block unless enforcement is configured, deferring to the upstream's own
// per-key quota enforcement.
func (c *Coordinator) AllowCredential(credentialValue string) Decision {
	bucketID := credential.Hash(credentialValue)
	if !c.perCred.TryConsume(bucketID, 1) {
		wait := c.perCred.WaitTime(bucketID, 1)
		metrics.RecordRateLimitDenied(ScopeCredential)
		if observability.ServerLogger != nil {
			observability.ServerLogger.Warn("Per-credential rate limit exceeded",
				zap.String("credential", credential.Mask(credentialValue)),
				zap.Duration("wait", wait),
				zap.Bool("enforced", c.enforce))
		}
		if c.enforce {
			return Decision{Permitted: false, Wait: wait, Scope: ScopeCredential}
		}
	}

	return Decision{Permitted: true}
}

// GlobalRemaining reports the global bucket's current token count.
func (c *Coordinator) GlobalRemaining() float64 {
	return c.global.Remaining(GlobalBucketID)
}

// GlobalWait reports how long until the global bucket frees one token.
func (c *Coordinator) GlobalWait() time.Duration {
	return c.global.WaitTime(GlobalBucketID, 1)
}

// CredentialRemaining reports the per-credential bucket's token count.
func (c *Coordinator) CredentialRemaining(credentialValue string) float64 {
	return c.perCred.Remaining(credential.Hash(credentialValue))
}

// ResetAll clears both limiters.
func (c *Coordinator) ResetAll() {
	c.global.ResetAll()
	c.perCred.ResetAll()
}
