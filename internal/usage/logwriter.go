package usage

import (
	"context"
	"log"
	"time"

	"github.com/inference-gate/llm-gateway/internal/models"
	"github.com/inference-gate/llm-gateway/internal/repository"
)

const logBatchSize = 100

// LogWriter batches usage log entries into Postgres from a buffered channel,
// and rolls each batch up into the owning users' lifetime counters. Writes
// are best-effort: when the channel is full or an insert fails the entries
// are dropped and logged, never retried, so a degraded database can never
// delay or fail a response.
type LogWriter struct {
	repo     *repository.UsageLogRepository
	users    *repository.UserRepository
	entries  chan *models.UsageLog
	stopChan chan struct{}
	doneChan chan struct{}
}

func NewLogWriter(repo *repository.UsageLogRepository, users *repository.UserRepository, bufferSize int) *LogWriter {
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	return &LogWriter{
		repo:     repo,
		users:    users,
		entries:  make(chan *models.UsageLog, bufferSize),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start launches the background flusher.
func (w *LogWriter) Start() {
	go w.run()
}

// Stop flushes what is buffered and stops the flusher.
func (w *LogWriter) Stop() {
	close(w.stopChan)
	<-w.doneChan
}

// Append queues an entry without blocking. A full buffer drops the entry.
func (w *LogWriter) Append(entry *models.UsageLog) {
	select {
	case w.entries <- entry:
	default:
		log.Println("usage log buffer full, dropping entry")
	}
}

type userTotals struct {
	tokens   int64
	requests int64
}

// aggregateUserTotals sums a batch per authenticated user; anonymous entries
// have no user row to charge.
func aggregateUserTotals(entries []*models.UsageLog) map[string]userTotals {
	totals := make(map[string]userTotals)
	for _, entry := range entries {
		if entry.UserID == "" {
			continue
		}
		t := totals[entry.UserID]
		t.tokens += entry.TokensTotal
		t.requests++
		totals[entry.UserID] = t
	}
	return totals
}

func (w *LogWriter) run() {
	defer close(w.doneChan)

	batch := make([]*models.UsageLog, 0, logBatchSize)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := w.repo.CreateBatch(ctx, batch); err != nil {
			log.Printf("failed to insert %d usage logs: %v", len(batch), err)
		}
		if w.users != nil {
			for userID, totals := range aggregateUserTotals(batch) {
				if err := w.users.AddUsage(ctx, userID, totals.tokens, totals.requests); err != nil {
					log.Printf("failed to update totals for user %s: %v", userID, err)
				}
			}
		}
		cancel()
		batch = make([]*models.UsageLog, 0, logBatchSize)
	}

	for {
		select {
		case entry := <-w.entries:
			batch = append(batch, entry)
			if len(batch) >= logBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.stopChan:
			// Drain whatever is still queued before the final flush.
			for {
				select {
				case entry := <-w.entries:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}
