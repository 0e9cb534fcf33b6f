package provider

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
)

// Provider is one configured upstream endpoint. APIKeys may hold several
// keys; requests rotate across them at random to spread upstream quota.
type Provider struct {
	Name    string
	BaseURL string
	APIKeys []string
	// Model pins the upstream model name; empty means the client's choice
	// is forwarded as-is.
	Model string
}

// PickKey returns a random API key, or empty when none are configured.
func (p *Provider) PickKey() string {
	if len(p.APIKeys) == 0 {
		return ""
	}
	return p.APIKeys[rand.Intn(len(p.APIKeys))]
}

// ParseKeys splits a line-separated key list, dropping blanks and
// #-comments. Providers configure multiple keys this way in env vars.
func ParseKeys(raw string) []string {
	var keys []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keys = append(keys, line)
	}
	return keys
}

// Registry is the static provider table loaded at process start.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*Provider
	order     []string
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]*Provider)}
}

func (r *Registry) Add(p *Provider) error {
	if p.Name == "" {
		return fmt.Errorf("provider name is required")
	}
	if p.BaseURL == "" {
		return fmt.Errorf("provider %s: base url is required", p.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[p.Name]; !exists {
		r.order = append(r.order, p.Name)
	}
	r.providers[p.Name] = p
	return nil
}

// Get returns the provider by name, or nil when unknown.
func (r *Registry) Get(name string) *Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[name]
}

// Names returns provider names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}
