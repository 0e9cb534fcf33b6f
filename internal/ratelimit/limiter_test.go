package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/inference-gate/llm-gateway/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingStore errors on every call, simulating a backend outage.
type failingStore struct{}

func (failingStore) Get(ctx context.Context, key string) (*Counter, error) {
	return nil, errors.New("store unavailable")
}

func (failingStore) Put(ctx context.Context, key string, counter *Counter, ttl time.Duration) error {
	return errors.New("store unavailable")
}

func testPolicy(perMinute int64, burst float64) *Policy {
	return &Policy{
		Anonymous: Limits{
			Tokens:          PerWindow{PerMinute: 100000, PerHour: 300000, PerDay: 500000},
			Requests:        PerWindow{PerMinute: perMinute, PerHour: 100, PerDay: 1000},
			BurstMultiplier: burst,
		},
		Tiers: map[identity.Tier]Limits{
			identity.TierNew: {
				Tokens:          PerWindow{PerMinute: 20000, PerHour: 50000, PerDay: 100000},
				Requests:        PerWindow{PerMinute: 5, PerHour: 20, PerDay: 50},
				BurstMultiplier: 1,
			},
		},
		CostRules: []CostRule{{Contains: "opus", Factor: 5}},
	}
}

func TestEndToEndMinuteWindow(t *testing.T) {
	ctx := context.Background()
	limiter := NewLimiter(NewMemoryStore(), testPolicy(5, 1))
	id := identity.Anonymous("198.51.100.1")

	for i := 0; i < 5; i++ {
		decision := limiter.Check(ctx, id)
		require.True(t, decision.Allowed, "request %d should be allowed", i+1)
		assert.Equal(t, int64(4-i), decision.RemainingRequests)
		limiter.RecordRequest(ctx, id)
	}

	decision := limiter.Check(ctx, id)
	require.False(t, decision.Allowed)
	assert.Equal(t, DenyRequests, decision.Reason)
	assert.Equal(t, WindowMinute, decision.Window)
	assert.Equal(t, int64(5), decision.Limit)
	assert.Equal(t, int64(5), decision.Used)
	assert.Greater(t, decision.RetryAfter, 0)
	assert.LessOrEqual(t, decision.RetryAfter, 60)
}

func TestBurstMultiplierAdmitsExactlyTwiceTheLimit(t *testing.T) {
	ctx := context.Background()
	limiter := NewLimiter(NewMemoryStore(), testPolicy(5, 2))
	id := identity.Anonymous("198.51.100.2")

	for i := 0; i < 10; i++ {
		decision := limiter.Check(ctx, id)
		require.True(t, decision.Allowed, "request %d should be allowed", i+1)
		limiter.RecordRequest(ctx, id)
	}

	decision := limiter.Check(ctx, id)
	require.False(t, decision.Allowed)
	assert.Equal(t, DenyRequests, decision.Reason)
	assert.Equal(t, WindowMinute, decision.Window)
	assert.Equal(t, int64(10), decision.Limit)
}

func TestWindowIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	limiter := NewLimiter(store, testPolicy(2, 1))
	id := identity.Anonymous("198.51.100.3")

	limiter.RecordRequest(ctx, id)
	limiter.RecordRequest(ctx, id)

	decision := limiter.Check(ctx, id)
	require.False(t, decision.Allowed)
	assert.Equal(t, WindowMinute, decision.Window)

	// The denied attempt must not have incremented any counter.
	hour, err := store.Get(ctx, counterKey(id, WindowHour))
	require.NoError(t, err)
	require.NotNil(t, hour)
	assert.Equal(t, int64(2), hour.Requests)

	day, err := store.Get(ctx, counterKey(id, WindowDay))
	require.NoError(t, err)
	require.NotNil(t, day)
	assert.Equal(t, int64(2), day.Requests)
}

func TestWindowExpiryResetsCount(t *testing.T) {
	ctx := context.Background()
	limiter := NewLimiter(NewMemoryStore(), testPolicy(5, 1))
	id := identity.Anonymous("198.51.100.4")

	t0 := time.Now()
	limiter.now = func() time.Time { return t0 }

	for i := 0; i < 5; i++ {
		limiter.RecordRequest(ctx, id)
	}
	require.False(t, limiter.Check(ctx, id).Allowed)

	// One second past the minute boundary the window restarts at zero.
	limiter.now = func() time.Time { return t0.Add(61 * time.Second) }

	decision := limiter.Check(ctx, id)
	require.True(t, decision.Allowed)
	assert.Equal(t, int64(4), decision.RemainingRequests)
}

func TestTokenDenialReportsTokensReason(t *testing.T) {
	ctx := context.Background()
	limiter := NewLimiter(NewMemoryStore(), testPolicy(1000, 1))
	id := identity.Anonymous("198.51.100.5")

	require.NoError(t, limiter.AddTokens(ctx, id, 100000))

	decision := limiter.Check(ctx, id)
	require.False(t, decision.Allowed)
	assert.Equal(t, DenyTokens, decision.Reason)
	assert.Equal(t, WindowMinute, decision.Window)
	assert.Equal(t, int64(100000), decision.Used)
}

func TestFailOpenOnStoreOutage(t *testing.T) {
	ctx := context.Background()
	limiter := NewLimiter(failingStore{}, testPolicy(5, 1))
	id := identity.Anonymous("198.51.100.6")

	decision := limiter.Check(ctx, id)
	assert.True(t, decision.Allowed)

	// Recording against a dead store must not panic or propagate.
	limiter.RecordRequest(ctx, id)
}

func TestUnknownTierUsesNewLimits(t *testing.T) {
	ctx := context.Background()
	limiter := NewLimiter(NewMemoryStore(), testPolicy(50, 1))
	id := identity.User("u-unknown", identity.Tier("platinum"))

	for i := 0; i < 5; i++ {
		decision := limiter.Check(ctx, id)
		require.True(t, decision.Allowed)
		limiter.RecordRequest(ctx, id)
	}

	// The new tier allows 5 requests per minute, not the anonymous 50.
	decision := limiter.Check(ctx, id)
	require.False(t, decision.Allowed)
	assert.Equal(t, int64(5), decision.Limit)
}

func TestAddTokensPreservesRequestCountAcrossReset(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	limiter := NewLimiter(store, testPolicy(5, 1))
	id := identity.Anonymous("198.51.100.7")

	t0 := time.Now()
	limiter.now = func() time.Time { return t0 }
	limiter.RecordRequest(ctx, id)

	// Minute window expires; the hour counter is still live. A token commit
	// landing after expiry starts a fresh minute window keeping the stale
	// request count rather than inventing one.
	limiter.now = func() time.Time { return t0.Add(2 * time.Minute) }
	require.NoError(t, limiter.AddTokens(ctx, id, 500))

	minute, err := store.Get(ctx, counterKey(id, WindowMinute))
	require.NoError(t, err)
	require.NotNil(t, minute)
	assert.Equal(t, int64(500), minute.Tokens)

	hour, err := store.Get(ctx, counterKey(id, WindowHour))
	require.NoError(t, err)
	require.NotNil(t, hour)
	assert.Equal(t, int64(1), hour.Requests)
	assert.Equal(t, int64(500), hour.Tokens)
}

func TestAddTokensZeroIsNoop(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	limiter := NewLimiter(store, testPolicy(5, 1))
	id := identity.Anonymous("198.51.100.8")

	require.NoError(t, limiter.AddTokens(ctx, id, 0))
	require.NoError(t, limiter.AddTokens(ctx, id, -10))
	assert.Equal(t, 0, store.Len())
}

func TestLogicalResetNotPersistedByCheck(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	limiter := NewLimiter(store, testPolicy(5, 1))
	id := identity.Anonymous("198.51.100.9")

	decision := limiter.Check(ctx, id)
	require.True(t, decision.Allowed)

	// A read-only check against a fresh identity writes nothing.
	assert.Equal(t, 0, store.Len())
}
