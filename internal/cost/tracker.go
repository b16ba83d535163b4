package cost

import (
	"context"
	"sync"
	"time"
)

type UsageRecord struct {
	ID               string    `json:"id"`
	Scope            string    `json:"scope"`
	CallerID         string    `json:"caller_id"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	CostUSD          float64   `json:"cost_usd"`
	LatencyMs        int64     `json:"latency_ms"`
	Timestamp        time.Time `json:"timestamp"`
}

type Tracker interface {
	Record(ctx context.Context, record UsageRecord) error
	CallerUsage(ctx context.Context, callerID string, since time.Time) ([]UsageRecord, error)
	CallerTotalCost(ctx context.Context, callerID string, since time.Time) (float64, error)
}

type InMemoryTracker struct {
	mu      sync.RWMutex
	records []UsageRecord
}

func NewInMemoryTracker() *InMemoryTracker {
	return &InMemoryTracker{records: make([]UsageRecord, 0)}
}

func (t *InMemoryTracker) Record(_ context.Context, record UsageRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.records = append(t.records, record)
	return nil
}

func (t *InMemoryTracker) CallerUsage(_ context.Context, callerID string, since time.Time) ([]UsageRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var result []UsageRecord
	for _, r := range t.records {
		if r.CallerID == callerID && !r.Timestamp.Before(since) {
			result = append(result, r)
		}
	}
	return result, nil
}

func (t *InMemoryTracker) CallerTotalCost(_ context.Context, callerID string, since time.Time) (float64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var total float64
	for _, r := range t.records {
		if r.CallerID == callerID && !r.Timestamp.Before(since) {
			total += r.CostUSD
		}
	}
	return total, nil
}

func (t *InMemoryTracker) Records() []UsageRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]UsageRecord, len(t.records))
	copy(result, t.records)
	return result
}
