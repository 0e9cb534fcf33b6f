package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeys(t *testing.T) {
	keys := ParseKeys("sk-one\n# staging key, disabled\n\n  sk-two  \nsk-three")
	assert.Equal(t, []string{"sk-one", "sk-two", "sk-three"}, keys)
}

func TestParseKeysEmpty(t *testing.T) {
	assert.Empty(t, ParseKeys(""))
	assert.Empty(t, ParseKeys("# nothing but comments\n"))
}

func TestPickKeyRotates(t *testing.T) {
	p := &Provider{Name: "x", BaseURL: "https://x", APIKeys: []string{"a", "b", "c"}}

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		key := p.PickKey()
		require.Contains(t, p.APIKeys, key)
		seen[key] = true
	}
	assert.Len(t, seen, 3)
}

func TestPickKeyEmpty(t *testing.T) {
	p := &Provider{Name: "x", BaseURL: "https://x"}
	assert.Empty(t, p.PickKey())
}

func TestRegistryAddAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(&Provider{Name: "openai", BaseURL: "https://api.openai.com/v1"}))
	require.NoError(t, r.Add(&Provider{Name: "nvidia", BaseURL: "https://integrate.api.nvidia.com/v1"}))

	assert.NotNil(t, r.Get("openai"))
	assert.Nil(t, r.Get("missing"))
	assert.Equal(t, []string{"openai", "nvidia"}, r.Names())
}

func TestRegistryRejectsIncomplete(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Add(&Provider{BaseURL: "https://x"}))
	assert.Error(t, r.Add(&Provider{Name: "x"}))
}

func TestModelCacheRoundTrip(t *testing.T) {
	cache := NewModelCache(time.Hour)

	assert.Nil(t, cache.Get("openai"))

	cache.Put("openai", []byte(`{"data":[{"id":"gpt-4o"}]}`))
	assert.NotNil(t, cache.Get("openai"))

	cache.Reset()
	assert.Nil(t, cache.Get("openai"))
}

func TestModelCacheExpiry(t *testing.T) {
	cache := NewModelCache(time.Hour)
	base := time.Now()
	cache.now = func() time.Time { return base }

	cache.Put("openai", []byte(`{}`))

	cache.now = func() time.Time { return base.Add(2 * time.Hour) }
	assert.Nil(t, cache.Get("openai"))
}

func TestProbeReachableOnFirstEndpoint(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	prober := NewProber(time.Second)
	result := prober.Probe(context.Background(), &Provider{
		Name: "test", BaseURL: srv.URL, APIKeys: []string{"sk-test"},
	})

	require.True(t, result.Reachable)
	assert.Equal(t, srv.URL+"/models", result.Endpoint)
	assert.Equal(t, "/models", gotPath)
	assert.Equal(t, "Bearer sk-test", gotAuth)
}

func TestProbeFallsBackPastServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/models" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	prober := NewProber(time.Second)
	result := prober.Probe(context.Background(), &Provider{Name: "test", BaseURL: srv.URL})

	// 401 proves the endpoint exists; 500 does not.
	require.True(t, result.Reachable)
	assert.Equal(t, srv.URL+"/v1/models", result.Endpoint)
}

func TestProbeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	prober := NewProber(time.Second)
	result := prober.Probe(context.Background(), &Provider{Name: "test", BaseURL: srv.URL})

	assert.False(t, result.Reachable)
}
