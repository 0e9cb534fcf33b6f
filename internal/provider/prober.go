package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultProbeTimeout bounds a reachability probe; a provider that cannot
// answer within it is treated as failed, not left pending.
const DefaultProbeTimeout = 10 * time.Second

// Prober verifies that a provider endpoint is reachable and speaks an
// OpenAI-compatible API, trying the known model-listing paths in order.
type Prober struct {
	client  *http.Client
	timeout time.Duration
}

func NewProber(timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Prober{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// ProbeResult reports the outcome of a reachability check.
type ProbeResult struct {
	Reachable bool   `json:"reachable"`
	Endpoint  string `json:"endpoint,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Probe tries /models, /v1/models and the bare base URL until one answers
// with a non-5xx status.
func (p *Prober) Probe(ctx context.Context, prov *Provider) ProbeResult {
	var lastErr error

	for _, suffix := range []string{"/models", "/v1/models", ""} {
		url := prov.BaseURL + suffix

		ok, err := p.probeOne(ctx, url, prov.PickKey())
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			return ProbeResult{Reachable: true, Endpoint: url}
		}
	}

	result := ProbeResult{Reachable: false}
	if lastErr != nil {
		result.Error = lastErr.Error()
	}
	return result
}

func (p *Prober) probeOne(ctx context.Context, url, apiKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", apiKey))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	// Auth errors still prove the endpoint is there; only server errors
	// count as unreachable.
	return resp.StatusCode < 500, nil
}
