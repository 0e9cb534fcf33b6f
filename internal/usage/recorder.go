package usage

import (
	"context"
	"log"
	"time"

	"github.com/inference-gate/llm-gateway/internal/identity"
	"github.com/inference-gate/llm-gateway/internal/models"
	"github.com/inference-gate/llm-gateway/internal/ratelimit"
)

// Sink receives usage log entries for durable storage. Appends are
// fire-and-forget; a sink must never block the caller.
type Sink interface {
	Append(entry *models.UsageLog)
}

// Meta carries the request context a commit is logged under.
type Meta struct {
	Provider     string
	Model        string
	Pathname     string
	FirstMessage string
	ClientIP     string
	Cached       bool
}

// Recorder commits true token cost to the rate-limit counters once a
// response has completed, and appends an audit entry to the usage log.
// Token cost is unknown until the upstream responds, so recording always
// happens after admission.
type Recorder struct {
	limiter *ratelimit.Limiter
	sink    Sink
}

func NewRecorder(limiter *ratelimit.Limiter, sink Sink) *Recorder {
	return &Recorder{limiter: limiter, sink: sink}
}

// CostFactor exposes the policy's per-model multiplier for response headers.
func (r *Recorder) CostFactor(model string) float64 {
	return r.limiter.Policy().CostFactor(model)
}

// Commit weights the raw token count by the model's cost factor and
// accumulates it into every window counter. Cached responses are skipped
// entirely: their cost was paid, or never incurred, by the cache-filling
// request. Failures are contained here; the response path never sees them.
func (r *Recorder) Commit(ctx context.Context, id identity.Identity, u Usage, meta Meta) {
	if meta.Cached {
		return
	}

	factor := r.limiter.Policy().CostFactor(meta.Model)
	effective := int64(float64(u.Total) * factor)
	if effective <= 0 {
		return
	}

	if err := r.limiter.AddTokens(ctx, id, effective); err != nil {
		log.Printf("failed to commit %d tokens for %s: %v", effective, id, err)
	}

	if r.sink == nil {
		return
	}

	entry := &models.UsageLog{
		Timestamp:        time.Now(),
		IPAddress:        meta.ClientIP,
		UserID:           id.UserID,
		Provider:         orUnknown(meta.Provider),
		Model:            orUnknown(meta.Model),
		TokensTotal:      u.Total,
		TokensPrompt:     u.Prompt,
		TokensCompletion: u.Completion,
		Pathname:         orUnknown(meta.Pathname),
		FirstMessage:     truncate(meta.FirstMessage, 500),
	}
	if !id.IsAnonymous() {
		entry.UserTier = string(id.Tier)
	}

	r.sink.Append(entry)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
