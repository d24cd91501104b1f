// Package usage keeps an append-only ledger of reasoning gateway token
// usage. It stores counts only, never prompt or answer text, so it holds
// no conversation state. Records are indexed by timestamp and purpose
// for aggregation queries.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Purposes recorded in the ledger.
const (
	PurposeAgent     = "agent"
	PurposeDiagnosis = "diagnosis"
	PurposeVoice     = "voice"
)

// Record represents a single gateway call's token usage.
type Record struct {
	ID           string
	Timestamp    time.Time
	RequestID    string
	Model        string
	Provider     string // "gemini", "ollama"
	Purpose      string // "agent", "diagnosis", "voice"
	InputTokens  int
	OutputTokens int
	ToolCalls    int
	Rounds       int
	Duration     time.Duration
	Outcome      string // "ok", "error"
}

// Summary holds aggregated token usage totals.
type Summary struct {
	TotalRecords      int   `json:"total_records"`
	TotalInputTokens  int64 `json:"total_input_tokens"`
	TotalOutputTokens int64 `json:"total_output_tokens"`
	TotalToolCalls    int64 `json:"total_tool_calls"`
	Failures          int   `json:"failures"`
}

// Store is an append-only SQLite store for usage records. All public
// methods are safe for concurrent use (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// Open creates a usage store at dbPath using the cgo SQLite driver.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open usage database: %w", err)
	}
	s, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an open database handle and creates the schema on
// first use. The store owns db from then on.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate usage schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS gateway_usage (
		id            TEXT PRIMARY KEY,
		timestamp     TEXT NOT NULL,
		request_id    TEXT NOT NULL,
		model         TEXT NOT NULL,
		provider      TEXT NOT NULL,
		purpose       TEXT NOT NULL,
		input_tokens  INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		tool_calls    INTEGER NOT NULL,
		rounds        INTEGER NOT NULL,
		duration_ms   INTEGER NOT NULL,
		outcome       TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_gateway_usage_timestamp ON gateway_usage(timestamp);
	CREATE INDEX IF NOT EXISTS idx_gateway_usage_purpose ON gateway_usage(purpose);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record persists a usage record. If rec.ID is empty, a UUIDv7 is
// generated. The context is used for cancellation only.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate usage record ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if rec.Outcome == "" {
		rec.Outcome = "ok"
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO gateway_usage
			(id, timestamp, request_id, model, provider, purpose,
			 input_tokens, output_tokens, tool_calls, rounds, duration_ms, outcome)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Timestamp.UTC().Format(time.RFC3339),
		rec.RequestID,
		rec.Model,
		rec.Provider,
		rec.Purpose,
		rec.InputTokens,
		rec.OutputTokens,
		rec.ToolCalls,
		rec.Rounds,
		rec.Duration.Milliseconds(),
		rec.Outcome,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// Summary returns aggregated totals for records within [start, end).
func (s *Store) Summary(ctx context.Context, start, end time.Time) (*Summary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(input_tokens), 0),
		        COALESCE(SUM(output_tokens), 0),
		        COALESCE(SUM(tool_calls), 0),
		        COALESCE(SUM(CASE WHEN outcome != 'ok' THEN 1 ELSE 0 END), 0)
		 FROM gateway_usage
		 WHERE timestamp >= ? AND timestamp < ?`,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)

	var sum Summary
	if err := row.Scan(&sum.TotalRecords, &sum.TotalInputTokens, &sum.TotalOutputTokens, &sum.TotalToolCalls, &sum.Failures); err != nil {
		return nil, fmt.Errorf("query usage summary: %w", err)
	}
	return &sum, nil
}

// SummaryByPurpose returns per-purpose totals for records within [start, end).
func (s *Store) SummaryByPurpose(ctx context.Context, start, end time.Time) (map[string]*Summary, error) {
	return s.summaryGroupedBy(ctx, "purpose", start, end)
}

// SummaryByModel returns per-model totals for records within [start, end).
func (s *Store) SummaryByModel(ctx context.Context, start, end time.Time) (map[string]*Summary, error) {
	return s.summaryGroupedBy(ctx, "model", start, end)
}

func (s *Store) summaryGroupedBy(ctx context.Context, column string, start, end time.Time) (map[string]*Summary, error) {
	// column is always a constant from our own methods.
	query := fmt.Sprintf(
		`SELECT %s, COUNT(*),
		        COALESCE(SUM(input_tokens), 0),
		        COALESCE(SUM(output_tokens), 0),
		        COALESCE(SUM(tool_calls), 0),
		        COALESCE(SUM(CASE WHEN outcome != 'ok' THEN 1 ELSE 0 END), 0)
		 FROM gateway_usage
		 WHERE timestamp >= ? AND timestamp < ?
		 GROUP BY %s`,
		column, column,
	)

	rows, err := s.db.QueryContext(ctx, query,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage by %s: %w", column, err)
	}
	defer rows.Close()

	result := make(map[string]*Summary)
	for rows.Next() {
		var key string
		var sum Summary
		if err := rows.Scan(&key, &sum.TotalRecords, &sum.TotalInputTokens, &sum.TotalOutputTokens, &sum.TotalToolCalls, &sum.Failures); err != nil {
			return nil, fmt.Errorf("scan usage by %s: %w", column, err)
		}
		result[key] = &sum
	}
	return result, rows.Err()
}
