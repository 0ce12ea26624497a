package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS reports (
	id TEXT PRIMARY KEY,
	case_name TEXT NOT NULL,
	status TEXT NOT NULL,
	policy_snapshot TEXT,
	attempts_used INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	request_payload TEXT,
	response_payload TEXT,
	assertions_result TEXT,
	metrics TEXT,
	error_message TEXT,
	created_at TEXT NOT NULL,
	started_at TEXT,
	finished_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_reports_case_name ON reports(case_name);
CREATE INDEX IF NOT EXISTS idx_reports_status ON reports(status);
`

// Store persists reports in SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) a report store at path. Use
// ":memory:" for an ephemeral store.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening report store: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to report store: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing report schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save upserts a report.
func (s *Store) Save(ctx context.Context, r *Report) error {
	policy, err := encodeJSON(r.PolicySnapshot)
	if err != nil {
		return err
	}
	request, err := encodeJSON(r.RequestPayload)
	if err != nil {
		return err
	}
	response, err := encodeJSON(r.ResponseBody)
	if err != nil {
		return err
	}
	assertions, err := encodeJSON(r.Assertions)
	if err != nil {
		return err
	}
	metricsJSON, err := encodeJSON(r.Metrics)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO reports (
	id, case_name, status, policy_snapshot, attempts_used, duration_ms,
	request_payload, response_payload, assertions_result, metrics,
	error_message, created_at, started_at, finished_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	status = excluded.status,
	policy_snapshot = excluded.policy_snapshot,
	attempts_used = excluded.attempts_used,
	duration_ms = excluded.duration_ms,
	request_payload = excluded.request_payload,
	response_payload = excluded.response_payload,
	assertions_result = excluded.assertions_result,
	metrics = excluded.metrics,
	error_message = excluded.error_message,
	started_at = excluded.started_at,
	finished_at = excluded.finished_at
`,
		r.ID, r.CaseName, string(r.Status), policy, r.AttemptsUsed, r.DurationMs,
		request, response, assertions, metricsJSON,
		nullString(r.ErrorMessage), r.CreatedAt.Format(time.RFC3339Nano),
		encodeTime(r.StartedAt), encodeTime(r.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("saving report %s: %w", r.ID, err)
	}
	return nil
}

// Get loads one report by ID.
func (s *Store) Get(ctx context.Context, id string) (*Report, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, case_name, status, policy_snapshot, attempts_used, duration_ms,
	request_payload, response_payload, assertions_result, metrics,
	error_message, created_at, started_at, finished_at
FROM reports WHERE id = ?`, id)
	return scanReport(row)
}

// ListByCase returns reports for a case, newest first.
func (s *Store) ListByCase(ctx context.Context, caseName string, limit int) ([]*Report, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, case_name, status, policy_snapshot, attempts_used, duration_ms,
	request_payload, response_payload, assertions_result, metrics,
	error_message, created_at, started_at, finished_at
FROM reports WHERE case_name = ? ORDER BY created_at DESC LIMIT ?`, caseName, limit)
	if err != nil {
		return nil, fmt.Errorf("listing reports for %s: %w", caseName, err)
	}
	defer rows.Close()

	var reports []*Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*Report, error) {
	var (
		r          Report
		status     string
		policy     sql.NullString
		request    sql.NullString
		response   sql.NullString
		assertions sql.NullString
		metricsRaw sql.NullString
		errMsg     sql.NullString
		createdAt  string
		startedAt  sql.NullString
		finishedAt sql.NullString
	)
	err := row.Scan(
		&r.ID, &r.CaseName, &status, &policy, &r.AttemptsUsed, &r.DurationMs,
		&request, &response, &assertions, &metricsRaw,
		&errMsg, &createdAt, &startedAt, &finishedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("report not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scanning report: %w", err)
	}

	r.Status = Status(status)
	r.ErrorMessage = errMsg.String
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	r.StartedAt = decodeTime(startedAt)
	r.FinishedAt = decodeTime(finishedAt)

	if err := decodeJSON(policy, &r.PolicySnapshot); err != nil {
		return nil, err
	}
	if err := decodeJSON(request, &r.RequestPayload); err != nil {
		return nil, err
	}
	if err := decodeJSON(response, &r.ResponseBody); err != nil {
		return nil, err
	}
	if err := decodeJSON(assertions, &r.Assertions); err != nil {
		return nil, err
	}
	if err := decodeJSON(metricsRaw, &r.Metrics); err != nil {
		return nil, err
	}
	return &r, nil
}

func encodeJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding report field: %w", err)
	}
	return string(encoded), nil
}

func decodeJSON[T any](raw sql.NullString, target *T) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw.String), target); err != nil {
		return fmt.Errorf("decoding report field: %w", err)
	}
	return nil
}

func encodeTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func decodeTime(raw sql.NullString) *time.Time {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw.String)
	if err != nil {
		return nil
	}
	return &parsed
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
