package ratelimit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/inference-gate/llm-gateway/internal/identity"
)

// DenyReason says which dimension of a window was exhausted.
type DenyReason string

const (
	DenyRequests DenyReason = "requests"
	DenyTokens   DenyReason = "tokens"
)

// Decision is the outcome of a limit check. When denied, the first violated
// window (minute checked first, as the tightest) is reported along with its
// Retry-After. When allowed, Remaining carries the worst-case budget across
// all windows, for client-visible headers.
type Decision struct {
	Allowed    bool
	Reason     DenyReason
	Window     Window
	Limit      int64
	Used       int64
	RetryAfter int

	RemainingRequests int64
	RemainingTokens   int64
}

// Limiter is the admission engine: it decides allow/deny across the three
// rolling windows against the policy's limit table. Token cost is recorded
// after the fact by the usage recorder; the limiter only charges request
// counts at admission.
type Limiter struct {
	store  Store
	policy *Policy
	now    func() time.Time
}

func NewLimiter(store Store, policy *Policy) *Limiter {
	return &Limiter{
		store:  store,
		policy: policy,
		now:    time.Now,
	}
}

// Policy returns the active limit table.
func (l *Limiter) Policy() *Policy {
	return l.policy
}

func counterKey(id identity.Identity, w Window) string {
	return fmt.Sprintf("%s:%s", id.Key(), w)
}

// readCounter fetches the counter for one window, applying a logical reset
// when the window has run out. The reset is not persisted until the next
// write, avoiding spurious writes on read-only checks.
func (l *Limiter) readCounter(ctx context.Context, id identity.Identity, w Window) (*Counter, error) {
	counter, err := l.store.Get(ctx, counterKey(id, w))
	if err != nil {
		return nil, err
	}

	now := l.now()
	if counter == nil || IsExpired(counter.StartedAt, w.Duration(), now) {
		return &Counter{StartedAt: now}, nil
	}

	return counter, nil
}

// Check decides whether a request from id may proceed. Checking is read-only
// and happens before the upstream call; a request can be admitted on
// request-count grounds and later found to have exceeded the token budget.
// That overshoot is accepted rather than pre-estimating tokens.
//
// Store failures fail open: availability of the proxied service is
// prioritized over perfect quota enforcement.
func (l *Limiter) Check(ctx context.Context, id identity.Identity) Decision {
	limits := l.policy.LimitsFor(id)
	now := l.now()

	remainingRequests := int64(-1)
	remainingTokens := int64(-1)

	for _, w := range Windows() {
		counter, err := l.readCounter(ctx, id, w)
		if err != nil {
			log.Printf("rate limit store unavailable for %s, failing open: %v", id, err)
			return Decision{Allowed: true, RemainingRequests: -1, RemainingTokens: -1}
		}

		requestLimit := limits.EffectiveRequests(w)
		tokenLimit := limits.EffectiveTokens(w)

		if counter.Requests >= requestLimit {
			return Decision{
				Allowed:    false,
				Reason:     DenyRequests,
				Window:     w,
				Limit:      requestLimit,
				Used:       counter.Requests,
				RetryAfter: retryAfter(counter, w, now),
			}
		}
		if counter.Tokens >= tokenLimit {
			return Decision{
				Allowed:    false,
				Reason:     DenyTokens,
				Window:     w,
				Limit:      tokenLimit,
				Used:       counter.Tokens,
				RetryAfter: retryAfter(counter, w, now),
			}
		}

		// Remaining counts the request being admitted, so the budget a
		// client sees in headers is what is left after this call.
		if r := requestLimit - counter.Requests - 1; remainingRequests < 0 || r < remainingRequests {
			remainingRequests = r
		}
		if r := tokenLimit - counter.Tokens; remainingTokens < 0 || r < remainingTokens {
			remainingTokens = r
		}
	}

	return Decision{
		Allowed:           true,
		RemainingRequests: remainingRequests,
		RemainingTokens:   remainingTokens,
	}
}

func retryAfter(counter *Counter, w Window, now time.Time) int {
	seconds := RemainingSeconds(counter.StartedAt, w.Duration(), now)
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

// RecordRequest charges one request against every window. Called after an
// allowed Check, before the upstream call, so request cost is paid even when
// the upstream call later fails or is aborted. Write failures are logged and
// dropped; they never surface to the request path.
func (l *Limiter) RecordRequest(ctx context.Context, id identity.Identity) {
	now := l.now()

	for _, w := range Windows() {
		key := counterKey(id, w)

		counter, err := l.store.Get(ctx, key)
		if err != nil {
			log.Printf("failed to read counter %s: %v", key, err)
			continue
		}

		if counter == nil || IsExpired(counter.StartedAt, w.Duration(), now) {
			counter = &Counter{Requests: 1, StartedAt: now}
		} else {
			counter.Requests++
		}

		if err := l.store.Put(ctx, key, counter, CounterTTL(counter.StartedAt, w.Duration(), now)); err != nil {
			log.Printf("failed to write counter %s: %v", key, err)
		}
	}
}

// AddTokens accumulates effective token cost into every window's counter.
// A fresh window preserves the request count at zero but takes the full token
// cost. Invoked by the usage recorder once true cost is known.
func (l *Limiter) AddTokens(ctx context.Context, id identity.Identity, tokens int64) error {
	if tokens <= 0 {
		return nil
	}

	now := l.now()
	var firstErr error

	for _, w := range Windows() {
		key := counterKey(id, w)

		counter, err := l.store.Get(ctx, key)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		if counter == nil || IsExpired(counter.StartedAt, w.Duration(), now) {
			var requests int64
			if counter != nil {
				requests = counter.Requests
			}
			counter = &Counter{Tokens: tokens, Requests: requests, StartedAt: now}
		} else {
			counter.Tokens += tokens
		}

		if err := l.store.Put(ctx, key, counter, CounterTTL(counter.StartedAt, w.Duration(), now)); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

// WindowStatus is a read-only snapshot of one window's consumption, for the
// status endpoint.
type WindowStatus struct {
	Window       Window `json:"window"`
	Requests     int64  `json:"requests"`
	RequestLimit int64  `json:"request_limit"`
	Tokens       int64  `json:"tokens"`
	TokenLimit   int64  `json:"token_limit"`
	ResetsIn     int    `json:"resets_in"`
}

// Usage reports current consumption across all windows without charging
// anything.
func (l *Limiter) Usage(ctx context.Context, id identity.Identity) ([]WindowStatus, error) {
	limits := l.policy.LimitsFor(id)
	now := l.now()

	statuses := make([]WindowStatus, 0, len(Windows()))
	for _, w := range Windows() {
		counter, err := l.readCounter(ctx, id, w)
		if err != nil {
			return nil, err
		}

		statuses = append(statuses, WindowStatus{
			Window:       w,
			Requests:     counter.Requests,
			RequestLimit: limits.EffectiveRequests(w),
			Tokens:       counter.Tokens,
			TokenLimit:   limits.EffectiveTokens(w),
			ResetsIn:     RemainingSeconds(counter.StartedAt, w.Duration(), now),
		})
	}

	return statuses, nil
}

// CounterTTL returns the physical expiry for a counter write: at least 60
// seconds, and extended past the logical window end by a 60 second buffer so
// a late read never misses a live counter to store-level eviction.
func CounterTTL(startedAt time.Time, duration time.Duration, now time.Time) time.Duration {
	ttl := time.Duration(RemainingSeconds(startedAt, duration, now)+60) * time.Second
	if ttl < 60*time.Second {
		ttl = 60 * time.Second
	}
	return ttl
}
