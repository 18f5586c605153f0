package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/catalog-image-sourcer/internal/progress"
)

const defaultRunTable = "sourcing_runs"

// ErrRunNotFound is returned by GetRun for unknown run IDs.
var ErrRunNotFound = errors.New("run not found")

// RunSummary is one row of the run table.
type RunSummary struct {
	RunID      uuid.UUID `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	LastUpdate time.Time `json:"last_update"`
	Events     int64     `json:"events"`
	Succeeded  int64     `json:"succeeded"`
	Failed     int64     `json:"failed"`
	Skipped    int64     `json:"skipped"`
	Errors     int64     `json:"errors"`
}

// RunStore keeps one row of counters per run. It implements progress.Sink,
// folding each batch into a single upsert per run.
type RunStore struct {
	db    Querier
	table string
}

var _ progress.Sink = (*RunStore)(nil)

// NewRunStore creates a store over db.
func NewRunStore(db Querier, table string) (*RunStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table, defaultRunTable)
	if err != nil {
		return nil, err
	}
	return &RunStore{db: db, table: name}, nil
}

// EnsureSchema creates the run table when it is missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id UUID PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	last_update TIMESTAMPTZ NOT NULL,
	events BIGINT NOT NULL DEFAULT 0,
	succeeded BIGINT NOT NULL DEFAULT 0,
	failed BIGINT NOT NULL DEFAULT 0,
	skipped BIGINT NOT NULL DEFAULT 0,
	errors BIGINT NOT NULL DEFAULT 0
)`, s.table)
	if _, err := s.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("create run table: %w", err)
	}
	return nil
}

type runDelta struct {
	first, last time.Time
	events      int64
	succeeded   int64
	failed      int64
	skipped     int64
	errors      int64
}

// Consume upserts the batch's per-run deltas.
func (s *RunStore) Consume(ctx context.Context, batch []progress.Event) error {
	deltas := make(map[uuid.UUID]*runDelta)
	order := make([]uuid.UUID, 0, 1)
	for _, evt := range batch {
		id := evt.RunUUID()
		d, ok := deltas[id]
		if !ok {
			d = &runDelta{first: evt.TS, last: evt.TS}
			deltas[id] = d
			order = append(order, id)
		}
		if evt.TS.Before(d.first) {
			d.first = evt.TS
		}
		if evt.TS.After(d.last) {
			d.last = evt.TS
		}
		d.events++
		switch evt.Phase {
		case progress.PhaseSuccess:
			d.succeeded++
		case progress.PhaseFailed:
			d.failed++
		case progress.PhaseSkipped:
			d.skipped++
		case progress.PhaseError:
			d.errors++
		}
	}
	slices.SortFunc(order, func(a, b uuid.UUID) int { return slices.Compare(a[:], b[:]) })

	query := fmt.Sprintf(`
INSERT INTO %[1]s (run_id, started_at, last_update, events, succeeded, failed, skipped, errors)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (run_id) DO UPDATE SET
	started_at = LEAST(%[1]s.started_at, EXCLUDED.started_at),
	last_update = GREATEST(%[1]s.last_update, EXCLUDED.last_update),
	events = %[1]s.events + EXCLUDED.events,
	succeeded = %[1]s.succeeded + EXCLUDED.succeeded,
	failed = %[1]s.failed + EXCLUDED.failed,
	skipped = %[1]s.skipped + EXCLUDED.skipped,
	errors = %[1]s.errors + EXCLUDED.errors`, s.table)

	for _, id := range order {
		d := deltas[id]
		if _, err := s.db.Exec(ctx, query,
			id, d.first, d.last, d.events, d.succeeded, d.failed, d.skipped, d.errors,
		); err != nil {
			return fmt.Errorf("upsert run %s: %w", id, err)
		}
	}
	return nil
}

// Close is a no-op; the pool is owned by the caller.
func (s *RunStore) Close(context.Context) error {
	return nil
}

const runColumns = "run_id, started_at, last_update, events, succeeded, failed, skipped, errors"

func scanRun(row pgx.Row) (RunSummary, error) {
	var r RunSummary
	err := row.Scan(&r.RunID, &r.StartedAt, &r.LastUpdate, &r.Events, &r.Succeeded, &r.Failed, &r.Skipped, &r.Errors)
	return r, err
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(ctx context.Context, limit, offset int) ([]RunSummary, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY started_at DESC LIMIT $1 OFFSET $2`, runColumns, s.table)
	rows, err := s.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]RunSummary, 0, limit)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// GetRun loads one run's counters.
func (s *RunStore) GetRun(ctx context.Context, id uuid.UUID) (RunSummary, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE run_id = $1`, runColumns, s.table)
	r, err := scanRun(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return RunSummary{}, ErrRunNotFound
	}
	if err != nil {
		return RunSummary{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return r, nil
}
