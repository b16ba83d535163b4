package cost

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPostgresTracker_Record(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	ts := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ai_usage_records")).
		WithArgs("r1", "chat", "u1", "anthropic", "claude-3-5-haiku-20241022", 10, 20, 0.0001, int64(350), ts).
		WillReturnResult(sqlmock.NewResult(1, 1))

	tracker := NewPostgresTracker(db)
	err = tracker.Record(context.Background(), UsageRecord{
		ID:               "r1",
		Scope:            "chat",
		CallerID:         "u1",
		Provider:         "anthropic",
		Model:            "claude-3-5-haiku-20241022",
		PromptTokens:     10,
		CompletionTokens: 20,
		CostUSD:          0.0001,
		LatencyMs:        350,
		Timestamp:        ts,
	})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresTracker_RecordError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO ai_usage_records").WillReturnError(errors.New("connection reset"))

	if err := NewPostgresTracker(db).Record(context.Background(), UsageRecord{}); err == nil {
		t.Error("Record() should return error")
	}
}

func TestPostgresTracker_CallerUsage(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	since := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "scope", "caller_id", "provider", "model", "prompt_tokens", "completion_tokens", "cost_usd", "latency_ms", "created_at"}).
		AddRow("r2", "sentiment", "u1", "openai", "gpt-4o-mini", 40, 10, 0.00002, 120, since.Add(2*time.Hour)).
		AddRow("r1", "chat", "u1", "google", "gemini-1.5-flash", 30, 90, 0.00003, 800, since.Add(time.Hour))

	mock.ExpectQuery("SELECT (.+) FROM ai_usage_records WHERE caller_id").
		WithArgs("u1", since).
		WillReturnRows(rows)

	records, err := NewPostgresTracker(db).CallerUsage(context.Background(), "u1", since)
	if err != nil {
		t.Fatalf("CallerUsage() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].ID != "r2" || records[1].Provider != "google" {
		t.Errorf("records = %+v", records)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresTracker_CallerTotalCost(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	since := time.Now().Add(-24 * time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(SUM(cost_usd), 0)")).
		WithArgs("u1", since).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(1.25))

	total, err := NewPostgresTracker(db).CallerTotalCost(context.Background(), "u1", since)
	if err != nil {
		t.Fatalf("CallerTotalCost() error = %v", err)
	}
	if total != 1.25 {
		t.Errorf("total = %f, want 1.25", total)
	}
}

func TestPostgresTracker_Migrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS ai_usage_records").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := NewPostgresTracker(db).Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
}
