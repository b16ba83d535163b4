package cost

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const createUsageTable = `
CREATE TABLE IF NOT EXISTS ai_usage_records (
	id                TEXT PRIMARY KEY,
	scope             TEXT NOT NULL,
	caller_id         TEXT NOT NULL,
	provider          TEXT NOT NULL,
	model             TEXT NOT NULL,
	prompt_tokens     INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	cost_usd          DOUBLE PRECISION NOT NULL,
	latency_ms        BIGINT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS ai_usage_records_caller_idx ON ai_usage_records (caller_id, created_at);
`

func OpenPostgres(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

type PostgresTracker struct {
	db *sql.DB
}

func NewPostgresTracker(db *sql.DB) *PostgresTracker {
	return &PostgresTracker{db: db}
}

func (t *PostgresTracker) Migrate(ctx context.Context) error {
	if _, err := t.db.ExecContext(ctx, createUsageTable); err != nil {
		return fmt.Errorf("create usage table: %w", err)
	}
	return nil
}

func (t *PostgresTracker) Record(ctx context.Context, record UsageRecord) error {
	query := `
		INSERT INTO ai_usage_records (id, scope, caller_id, provider, model, prompt_tokens, completion_tokens, cost_usd, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := t.db.ExecContext(ctx, query,
		record.ID,
		record.Scope,
		record.CallerID,
		record.Provider,
		record.Model,
		record.PromptTokens,
		record.CompletionTokens,
		record.CostUSD,
		record.LatencyMs,
		record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

func (t *PostgresTracker) CallerUsage(ctx context.Context, callerID string, since time.Time) ([]UsageRecord, error) {
	query := `
		SELECT id, scope, caller_id, provider, model, prompt_tokens, completion_tokens, cost_usd, latency_ms, created_at
		FROM ai_usage_records
		WHERE caller_id = $1 AND created_at >= $2
		ORDER BY created_at DESC
	`

	rows, err := t.db.QueryContext(ctx, query, callerID, since)
	if err != nil {
		return nil, fmt.Errorf("query usage records: %w", err)
	}
	defer rows.Close()

	var records []UsageRecord
	for rows.Next() {
		var r UsageRecord
		if err := rows.Scan(
			&r.ID,
			&r.Scope,
			&r.CallerID,
			&r.Provider,
			&r.Model,
			&r.PromptTokens,
			&r.CompletionTokens,
			&r.CostUSD,
			&r.LatencyMs,
			&r.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (t *PostgresTracker) CallerTotalCost(ctx context.Context, callerID string, since time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(cost_usd), 0)
		FROM ai_usage_records
		WHERE caller_id = $1 AND created_at >= $2
	`

	var total float64
	if err := t.db.QueryRowContext(ctx, query, callerID, since).Scan(&total); err != nil {
		return 0, fmt.Errorf("query total cost: %w", err)
	}
	return total, nil
}

func (t *PostgresTracker) Ping(ctx context.Context) error {
	return t.db.PingContext(ctx)
}
