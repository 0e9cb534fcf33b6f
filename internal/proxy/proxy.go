package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/inference-gate/llm-gateway/internal/circuitbreaker"
	"github.com/inference-gate/llm-gateway/internal/identity"
	"github.com/inference-gate/llm-gateway/internal/middleware"
	"github.com/inference-gate/llm-gateway/internal/provider"
	"github.com/inference-gate/llm-gateway/internal/usage"
)

const maxBodySize = 100 * 1024

// Forwarder proxies chat completion requests to upstream providers,
// observing token usage on the way back. The client-facing stream is passed
// through unmodified; accounting is a side channel.
type Forwarder struct {
	registry *provider.Registry
	recorder *usage.Recorder
	models   *provider.ModelCache
	client   *http.Client

	mu       sync.Mutex
	breakers map[string]*circuitbreaker.CircuitBreaker
}

func NewForwarder(registry *provider.Registry, recorder *usage.Recorder, models *provider.ModelCache) *Forwarder {
	return &Forwarder{
		registry: registry,
		recorder: recorder,
		models:   models,
		client: &http.Client{
			// No overall timeout: streamed completions run for minutes.
			// The transport still bounds connect and header latency.
			Transport: &http.Transport{
				MaxIdleConnsPerHost:   10,
				ResponseHeaderTimeout: 60 * time.Second,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		breakers: make(map[string]*circuitbreaker.CircuitBreaker),
	}
}

func (f *Forwarder) breaker(providerName string) *circuitbreaker.CircuitBreaker {
	f.mu.Lock()
	defer f.mu.Unlock()

	cb, ok := f.breakers[providerName]
	if !ok {
		cb = circuitbreaker.New(circuitbreaker.Config{})
		f.breakers[providerName] = cb
	}
	return cb
}

// BreakerStates reports the circuit state per provider that has seen
// traffic.
func (f *Forwarder) BreakerStates() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()

	states := make(map[string]string, len(f.breakers))
	for name, cb := range f.breakers {
		states[name] = cb.State().String()
	}
	return states
}

// ResetBreaker manually closes a provider's breaker. Reports false when the
// provider has no breaker yet.
func (f *Forwarder) ResetBreaker(providerName string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	cb, ok := f.breakers[providerName]
	if !ok {
		return false
	}
	cb.Reset()
	return true
}

// requestInfo is what the forwarder learns from the inbound body before
// sending it upstream.
type requestInfo struct {
	body         []byte
	model        string
	stream       bool
	firstMessage string
}

type chatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// parseRequest reads the body once, noting the model and stream flag and,
// for streamed requests, injecting stream_options so the upstream reports
// usage in its final chunk. Unparseable bodies are forwarded untouched.
func parseRequest(r *http.Request, defaultModel string) (*requestInfo, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, err
	}
	r.Body.Close()

	info := &requestInfo{body: body, model: defaultModel}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return info, nil
	}

	if raw, ok := payload["model"]; ok {
		var model string
		if json.Unmarshal(raw, &model) == nil && model != "" {
			info.model = model
		}
	}
	if raw, ok := payload["stream"]; ok {
		json.Unmarshal(raw, &info.stream)
	}
	if raw, ok := payload["messages"]; ok {
		var messages []chatMessage
		if json.Unmarshal(raw, &messages) == nil {
			info.firstMessage = firstUserMessage(messages)
		}
	}

	if info.stream {
		payload["stream_options"] = json.RawMessage(`{"include_usage":true}`)
		if rewritten, err := json.Marshal(payload); err == nil {
			info.body = rewritten
		}
	}

	return info, nil
}

// firstUserMessage returns the first meaningful message content, skipping
// injected system preambles. Logged with usage entries to make abuse
// triage possible.
func firstUserMessage(messages []chatMessage) string {
	for _, msg := range messages {
		var content string
		if json.Unmarshal(msg.Content, &content) != nil {
			continue
		}
		content = strings.Trim(content, " \t\r\n.")
		if len(content) <= 2 {
			continue
		}
		if strings.HasPrefix(content, "Today is:") || strings.HasPrefix(content, "[SYSTEM]:") {
			continue
		}
		return content
	}
	return ""
}

// ChatCompletions forwards a chat completion request to the named provider.
func (f *Forwarder) ChatCompletions(c *gin.Context, providerName string) {
	prov := f.registry.Get(providerName)
	if prov == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"message": fmt.Sprintf("Unknown provider: %s", providerName)}})
		return
	}

	cb := f.breaker(providerName)
	if err := cb.Allow(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": gin.H{"message": "Provider temporarily unavailable"}})
		return
	}

	info, err := parseRequest(c.Request, prov.Model)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "Failed to read request body"}})
		return
	}
	c.Header("X-Ratelimit-Model-Factor", strconv.FormatFloat(f.recorder.CostFactor(info.model), 'f', -1, 64))

	upstreamURL := prov.BaseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, upstreamURL, bytes.NewReader(info.body))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": "Failed to build upstream request"}})
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.Request.UserAgent())
	if key := prov.PickKey(); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		cb.RecordFailure()
		log.Printf("upstream %s unreachable: %v", providerName, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": gin.H{"message": "Upstream provider unreachable"}})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		cb.RecordFailure()
	} else {
		cb.RecordSuccess()
	}

	id := middleware.IdentityFrom(c)
	meta := usage.Meta{
		Provider:     providerName,
		Model:        info.model,
		Pathname:     c.Request.URL.Path,
		FirstMessage: info.firstMessage,
		ClientIP:     c.ClientIP(),
	}

	copyResponseHeaders(c, resp, providerName, id)

	contentType := resp.Header.Get("Content-Type")
	switch {
	case resp.StatusCode == http.StatusOK && strings.Contains(contentType, "text/event-stream"):
		f.streamThrough(c, resp, id, meta)
	case resp.StatusCode == http.StatusOK && strings.Contains(contentType, "application/json"):
		f.bufferThrough(c, resp, id, meta)
	default:
		c.Status(resp.StatusCode)
		io.Copy(c.Writer, resp.Body)
	}
}

func copyResponseHeaders(c *gin.Context, resp *http.Response, providerName string, id identity.Identity) {
	for key, values := range resp.Header {
		if strings.EqualFold(key, "Set-Cookie") || strings.EqualFold(key, "Content-Length") {
			continue
		}
		for _, v := range values {
			c.Writer.Header().Add(key, v)
		}
	}
	c.Header("X-Provider", providerName)
	c.Header("X-Tier", string(id.Tier))
}

// streamThrough relays an SSE body chunk by chunk, flushing eagerly, with a
// tracking reader observing usage. The commit runs on a background context:
// the request context is gone by the time the stream closes.
func (f *Forwarder) streamThrough(c *gin.Context, resp *http.Response, id identity.Identity, meta usage.Meta) {
	tracked := usage.NewTrackingReader(resp.Body, func(u usage.Usage) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		f.recorder.Commit(ctx, id, u, meta)
	})
	defer tracked.Close()

	c.Status(resp.StatusCode)

	buf := make([]byte, 32*1024)
	for {
		n, err := tracked.Read(buf)
		if n > 0 {
			if _, werr := c.Writer.Write(buf[:n]); werr != nil {
				return
			}
			c.Writer.Flush()
		}
		if err != nil {
			return
		}
	}
}

// bufferThrough relays a buffered JSON body and commits whatever usage it
// reports. Responses without parseable usage are free.
func (f *Forwarder) bufferThrough(c *gin.Context, resp *http.Response, id identity.Identity, meta usage.Meta) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": gin.H{"message": "Failed to read upstream response"}})
		return
	}

	if u, ok := usage.Extract(body); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		go func() {
			defer cancel()
			f.recorder.Commit(ctx, id, u, meta)
		}()
	}

	c.Data(resp.StatusCode, "application/json", body)
}

// Models serves a provider's model listing, caching it for the configured
// TTL. Cache replays never touch the usage counters.
func (f *Forwarder) Models(c *gin.Context, providerName string) {
	prov := f.registry.Get(providerName)
	if prov == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"message": fmt.Sprintf("Unknown provider: %s", providerName)}})
		return
	}

	if cached := f.models.Get(providerName); cached != nil {
		c.Header("X-Cache", "HIT")
		c.Data(http.StatusOK, "application/json", cached)
		return
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, prov.BaseURL+"/models", nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": "Failed to build upstream request"}})
		return
	}
	if key := prov.PickKey(); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": gin.H{"message": "Upstream provider unreachable"}})
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": gin.H{"message": "Failed to read upstream response"}})
		return
	}

	if resp.StatusCode == http.StatusOK {
		f.models.Put(providerName, body)
	}

	c.Data(resp.StatusCode, "application/json", body)
}
