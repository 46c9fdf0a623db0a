// Package credential maintains the pool of upstream API credentials: a
// deduplicated, insertion-ordered set with per-credential usage and error
// bookkeeping and rotation-based selection.
package credential

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

// SelectionPolicy controls how Select picks the next credential.
type SelectionPolicy string

const (
	PolicyRoundRobin SelectionPolicy = "round_robin"
	PolicyLeastUsed  SelectionPolicy = "least_used"
)

// ParsePolicy validates and normalizes a selection policy string.
func ParsePolicy(value string) (SelectionPolicy, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(PolicyRoundRobin):
		return PolicyRoundRobin, nil
	case string(PolicyLeastUsed):
		return PolicyLeastUsed, nil
	default:
		return "", fmt.Errorf("unsupported selection policy: %s", value)
	}
}

// ErrorRecord captures the most recent error observed for a credential.
type ErrorRecord struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
	Code    string    `json:"code,omitempty"`
}

// Credential is a point-in-time copy of one pool entry. Value holds the raw
// secret and must never be logged; use Mask for any output.
type Credential struct {
	Value      string
	UsageCount int64
	LastUsed   time.Time
	ErrorCount int64
	LastError  *ErrorRecord
}

// Usage is one row of a masked usage snapshot. It never carries the raw
// secret; Credential is the masked form and Hash the stable bucket key.
type Usage struct {
	Credential string       `json:"credential"`
	Hash       string       `json:"hash"`
	UsageCount int64        `json:"usage_count"`
	ErrorCount int64        `json:"error_count"`
	LastUsed   *time.Time   `json:"last_used,omitempty"`
	LastError  *ErrorRecord `json:"last_error,omitempty"`
}

type record struct {
	usageCount int64
	lastUsed   time.Time
	errorCount int64
	lastError  *ErrorRecord
}

// Pool owns the ordered credential set and its usage records. Selection and
// the matching usage stamp happen under one lock acquisition, so concurrent
// callers never observe a selected credential without its stamp.
type Pool struct {
	mu      sync.Mutex
	order   []string
	records map[string]*record
	cursor  int
	policy  SelectionPolicy
	clock   func() time.Time
}

// Option configures a Pool.
type Option func(*Pool)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(p *Pool) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithPolicy sets the selection policy used by Select.
func WithPolicy(policy SelectionPolicy) Option {
	return func(p *Pool) {
		if policy != "" {
			p.policy = policy
		}
	}
}

// NewPool creates an empty pool with round-robin selection.
func NewPool(opts ...Option) *Pool {
	p := &Pool{
		records: make(map[string]*record),
		policy:  PolicyRoundRobin,
		clock:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AddCredentials parses a comma-separated credential list, trims entries,
// drops empties, deduplicates against the pool, and returns how many new
// credentials were added. The pool grows and never shrinks.
func (p *Pool) AddCredentials(raw string) int {
	return p.AddList(strings.Split(raw, ","))
}

// AddList adds each value in the slice, applying the same trim/dedup rules
// as AddCredentials.
func (p *Pool) AddList(values []string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	added := 0
	for _, value := range values {
		if p.add(strings.TrimSpace(value)) {
			added++
		}
	}
	return added
}

// add inserts a single trimmed value. Caller must hold p.mu.
func (p *Pool) add(value string) bool {
	if value == "" {
		return false
	}
	if _, ok := p.records[value]; ok {
		return false
	}
	p.order = append(p.order, value)
	p.records[value] = &record{}
	return true
}

// Next returns the credential at the rotation cursor and advances the
// cursor, or nil when the pool is empty. Usage is stamped before the
// credential leaves the lock.
func (p *Pool) Next() *Credential {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.order) == 0 {
		return nil
	}

	value := p.order[p.cursor%len(p.order)]
	p.cursor = (p.cursor + 1) % len(p.order)
	return p.stamp(value)
}

// LeastUsed returns the credential with the lowest usage count, ties broken
// by insertion order, or nil when the pool is empty.
func (p *Pool) LeastUsed() *Credential {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.order) == 0 {
		return nil
	}

	best := p.order[0]
	for _, value := range p.order[1:] {
		if p.records[value].usageCount < p.records[best].usageCount {
			best = value
		}
	}
	return p.stamp(best)
}

// Select picks a credential according to the configured policy.
func (p *Pool) Select() *Credential {
	if p.policy == PolicyLeastUsed {
		return p.LeastUsed()
	}
	return p.Next()
}

// Take stamps usage for one specific credential, adding it to the pool
// first if unseen. Used for caller-supplied per-request credentials, which
// join the pool for the process lifetime.
func (p *Pool) Take(value string) *Credential {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.add(value)
	return p.stamp(value)
}

// stamp updates the usage record for value and returns a copy. Caller must
// hold p.mu.
func (p *Pool) stamp(value string) *Credential {
	rec := p.records[value]
	rec.usageCount++
	rec.lastUsed = p.clock()
	return p.snapshot(value, rec)
}

func (p *Pool) snapshot(value string, rec *record) *Credential {
	cred := &Credential{
		Value:      value,
		UsageCount: rec.usageCount,
		LastUsed:   rec.lastUsed,
		ErrorCount: rec.errorCount,
	}
	if rec.lastError != nil {
		lastErr := *rec.lastError
		cred.LastError = &lastErr
	}
	return cred
}

// RecordError increments the error count for the credential and overwrites
// its last-error record. Unknown credentials are ignored. Errors never
// quarantine or remove a credential; it stays eligible for selection.
func (p *Pool) RecordError(value, message, code string) {
	value = strings.TrimSpace(value)

	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.records[value]
	if !ok {
		return
	}
	rec.errorCount++
	rec.lastError = &ErrorRecord{At: p.clock(), Message: message, Code: code}
}

// UsageSnapshot returns masked per-credential stats in insertion order.
// Raw secrets never leave the pool boundary through this call.
func (p *Pool) UsageSnapshot() []Usage {
	p.mu.Lock()
	defer p.mu.Unlock()

	snapshot := make([]Usage, 0, len(p.order))
	for _, value := range p.order {
		rec := p.records[value]
		usage := Usage{
			Credential: Mask(value),
			Hash:       Hash(value),
			UsageCount: rec.usageCount,
			ErrorCount: rec.errorCount,
		}
		if !rec.lastUsed.IsZero() {
			lastUsed := rec.lastUsed
			usage.LastUsed = &lastUsed
		}
		if rec.lastError != nil {
			lastErr := *rec.lastError
			usage.LastError = &lastErr
		}
		snapshot = append(snapshot, usage)
	}
	return snapshot
}

// Size returns the number of credentials in the pool.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}

// IsEmpty reports whether the pool has no credentials.
func (p *Pool) IsEmpty() bool {
	return p.Size() == 0
}

// Mask obscures a credential for logs and snapshots, keeping the first and
// last four characters. Short values are fully obscured. All credential
// masking goes through this function.
func Mask(value string) string {
	value = strings.TrimSpace(value)
	if len(value) < 12 {
		return "****"
	}
	return value[:4] + "..." + value[len(value)-4:]
}

// Hash derives a stable non-reversible identifier for a credential, used
// as its rate-limit bucket key and journal key.
func Hash(value string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(value)))
	return hex.EncodeToString(sum[:8])
}
