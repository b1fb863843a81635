package trace

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/hubenschmidt/lingofit-audio/gateway/internal/sqlstore"
)

//go:embed migrations
var migrationFS embed.FS

const maxRuns = 1000

// ErrNotFound is returned by GetRun for an unknown id.
var ErrNotFound = errors.New("trace run not found")

// Store persists generation traces.
type Store struct {
	db *sql.DB
}

// Open connects with driver ("pgx" or "sqlite") and migrates.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	db, err := sqlstore.Open(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("trace open: %w", err)
	}
	if err = sqlstore.Migrate(ctx, db, migrationFS, "migrations", driver, "trace_schema_version"); err != nil {
		db.Close()
		return nil, fmt.Errorf("trace migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun inserts a running run and prunes the oldest beyond maxRuns.
func (s *Store) CreateRun(ctx context.Context, r Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO generation_runs (id, owner_id, theme, mood, status, started_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.OwnerID, r.Theme, r.Mood, StatusRunning, r.StartedAt.UTC(),
	)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM generation_runs WHERE id NOT IN (SELECT id FROM generation_runs ORDER BY started_at DESC LIMIT $1)`,
		maxRuns,
	)
	return err
}

// FinishRun sets the run's final fields.
func (s *Store) FinishRun(ctx context.Context, r Run) error {
	var contentID sql.NullInt64
	if r.ContentID != nil {
		contentID = sql.NullInt64{Int64: *r.ContentID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE generation_runs SET content_id = $1, status = $2, step_code = $3, error_msg = $4, duration_ms = $5 WHERE id = $6`,
		contentID, r.Status, r.StepCode, r.Error, r.DurationMs, r.ID,
	)
	return err
}

// CreateSpan inserts a span.
func (s *Store) CreateSpan(ctx context.Context, sp Span) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO generation_spans (id, run_id, stage, started_at, duration_ms, status, detail, error_msg)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sp.ID, sp.RunID, sp.Stage, sp.StartedAt.UTC(), sp.DurationMs, sp.Status, sp.Detail, sp.Error,
	)
	return err
}

// ListRuns returns ownerID's runs newest first, with span counts.
func (s *Store) ListRuns(ctx context.Context, ownerID int64, limit, offset int) ([]Run, int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM generation_runs WHERE owner_id = $1`, ownerID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.owner_id, r.theme, r.mood, r.content_id, r.status, r.step_code, r.error_msg,
		       r.started_at, r.duration_ms, COUNT(sp.id) AS span_count
		FROM generation_runs r
		LEFT JOIN generation_spans sp ON sp.run_id = r.id
		WHERE r.owner_id = $1
		GROUP BY r.id, r.owner_id, r.theme, r.mood, r.content_id, r.status, r.step_code, r.error_msg,
		         r.started_at, r.duration_ms
		ORDER BY r.started_at DESC
		LIMIT $2 OFFSET $3
	`, ownerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, scanErr := scanRun(rows, true)
		if scanErr != nil {
			return nil, 0, scanErr
		}
		runs = append(runs, r)
	}
	return runs, total, rows.Err()
}

// GetRun returns one of ownerID's runs with its spans in start order. A run
// owned by someone else is reported as ErrNotFound.
func (s *Store) GetRun(ctx context.Context, ownerID int64, id string) (*Run, []Span, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, theme, mood, content_id, status, step_code, error_msg, started_at, duration_ms
		FROM generation_runs WHERE id = $1 AND owner_id = $2
	`, id, ownerID)
	r, err := scanRun(row, false)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, stage, started_at, duration_ms, status, detail, error_msg
		FROM generation_spans WHERE run_id = $1 ORDER BY started_at ASC, id ASC
	`, id)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	spans := []Span{}
	for rows.Next() {
		var sp Span
		if err = rows.Scan(&sp.ID, &sp.RunID, &sp.Stage, &sp.StartedAt, &sp.DurationMs, &sp.Status, &sp.Detail, &sp.Error); err != nil {
			return nil, nil, err
		}
		spans = append(spans, sp)
	}
	r.SpanCount = len(spans)
	return &r, spans, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner, withCount bool) (Run, error) {
	var r Run
	var contentID sql.NullInt64
	var startedAt time.Time
	dest := []any{&r.ID, &r.OwnerID, &r.Theme, &r.Mood, &contentID, &r.Status, &r.StepCode, &r.Error, &startedAt, &r.DurationMs}
	if withCount {
		dest = append(dest, &r.SpanCount)
	}
	if err := sc.Scan(dest...); err != nil {
		return Run{}, err
	}
	if contentID.Valid {
		r.ContentID = &contentID.Int64
	}
	r.StartedAt = startedAt
	return r, nil
}
