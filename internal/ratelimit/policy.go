package ratelimit

import (
	"strings"

	"github.com/inference-gate/llm-gateway/internal/identity"
)

// PerWindow holds one limit dimension across all three windows.
type PerWindow struct {
	PerMinute int64 `json:"per_minute"`
	PerHour   int64 `json:"per_hour"`
	PerDay    int64 `json:"per_day"`
}

// For returns the limit for the given window.
func (p PerWindow) For(w Window) int64 {
	switch w {
	case WindowMinute:
		return p.PerMinute
	case WindowHour:
		return p.PerHour
	default:
		return p.PerDay
	}
}

// Limits is one row of the limit table: token and request budgets per window
// plus the burst allowance applied to the minute window only.
type Limits struct {
	Tokens          PerWindow `json:"tokens"`
	Requests        PerWindow `json:"requests"`
	BurstMultiplier float64   `json:"burst_multiplier"`
	APIKeys         int       `json:"api_keys"`
}

// EffectiveTokens returns the token limit for a window with the burst
// multiplier applied to the minute window.
func (l Limits) EffectiveTokens(w Window) int64 {
	if w == WindowMinute && l.BurstMultiplier > 1 {
		return int64(float64(l.Tokens.PerMinute) * l.BurstMultiplier)
	}
	return l.Tokens.For(w)
}

// EffectiveRequests returns the request limit for a window with the burst
// multiplier applied to the minute window.
func (l Limits) EffectiveRequests(w Window) int64 {
	if w == WindowMinute && l.BurstMultiplier > 1 {
		return int64(float64(l.Requests.PerMinute) * l.BurstMultiplier)
	}
	return l.Requests.For(w)
}

// CostRule maps a model-name substring to a token multiplier. Rules are
// evaluated in order; the first match wins.
type CostRule struct {
	Contains string  `json:"contains"`
	Factor   float64 `json:"factor"`
}

// Policy is the static limit table loaded at process start. It is never
// mutated at runtime; tuning goes through a reload-and-swap of the whole
// policy.
type Policy struct {
	Anonymous Limits                   `json:"anonymous"`
	Tiers     map[identity.Tier]Limits `json:"tiers"`
	CostRules []CostRule               `json:"cost_rules"`
}

// DefaultPolicy returns the production limit table.
func DefaultPolicy() *Policy {
	return &Policy{
		Anonymous: Limits{
			Tokens:          PerWindow{PerMinute: 100000, PerHour: 300000, PerDay: 500000},
			Requests:        PerWindow{PerMinute: 10, PerHour: 100, PerDay: 1000},
			BurstMultiplier: 2,
		},
		Tiers: map[identity.Tier]Limits{
			identity.TierNew: {
				Tokens:          PerWindow{PerMinute: 20000, PerHour: 50000, PerDay: 100000},
				Requests:        PerWindow{PerMinute: 5, PerHour: 20, PerDay: 50},
				BurstMultiplier: 1.2,
				APIKeys:         1,
			},
			identity.TierFree: {
				Tokens:          PerWindow{PerMinute: 150000, PerHour: 500000, PerDay: 1000000},
				Requests:        PerWindow{PerMinute: 20, PerHour: 200, PerDay: 2000},
				BurstMultiplier: 2,
				APIKeys:         1,
			},
			identity.TierSponsor: {
				Tokens:          PerWindow{PerMinute: 500000, PerHour: 2500000, PerDay: 10000000},
				Requests:        PerWindow{PerMinute: 50, PerHour: 500, PerDay: 5000},
				BurstMultiplier: 1.5,
				APIKeys:         5,
			},
			identity.TierPro: {
				Tokens:          PerWindow{PerMinute: 1000000, PerHour: 5000000, PerDay: 20000000},
				Requests:        PerWindow{PerMinute: 100, PerHour: 1000, PerDay: 10000},
				BurstMultiplier: 1.5,
				APIKeys:         10,
			},
			identity.TierAdmin: {
				Tokens:          PerWindow{PerMinute: 10000000, PerHour: 50000000, PerDay: 200000000},
				Requests:        PerWindow{PerMinute: 1000, PerHour: 10000, PerDay: 100000},
				BurstMultiplier: 1,
				APIKeys:         100,
			},
		},
		CostRules: []CostRule{
			{Contains: "opus", Factor: 5},
			{Contains: "sonnet", Factor: 3},
			{Contains: "gemini-3-pro", Factor: 2},
			{Contains: "model-router", Factor: 2},
		},
	}
}

// LimitsFor returns the limit row for an identity. Anonymous identities get
// the anonymous row. An unrecognized tier falls back to the most restrictive
// defined tier rather than failing open to unlimited.
func (p *Policy) LimitsFor(id identity.Identity) Limits {
	if id.IsAnonymous() {
		return p.Anonymous
	}
	if limits, ok := p.Tiers[id.Tier]; ok {
		return limits
	}
	return p.Tiers[identity.TierNew]
}

// CostFactor returns the per-model token multiplier, defaulting to 1 for
// unmatched models.
func (p *Policy) CostFactor(model string) float64 {
	if model == "" {
		return 1
	}
	for _, rule := range p.CostRules {
		if strings.Contains(model, rule.Contains) {
			return rule.Factor
		}
	}
	return 1
}
