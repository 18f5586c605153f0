package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/catalog-image-sourcer/internal/sourcing"
)

const defaultOutcomeTable = "sourcing_outcomes"

// OutcomeStore writes one row per recorded outcome. It implements
// sourcing.Mirror.
type OutcomeStore struct {
	db    Execer
	table string
}

var _ sourcing.Mirror = (*OutcomeStore)(nil)

// NewOutcomeStore creates a store over db.
func NewOutcomeStore(db Execer, table string) (*OutcomeStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table, defaultOutcomeTable)
	if err != nil {
		return nil, err
	}
	return &OutcomeStore{db: db, table: name}, nil
}

// EnsureSchema creates the outcome table when it is missing.
func (s *OutcomeStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	run_id UUID NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL,
	sku TEXT NOT NULL,
	name TEXT NOT NULL,
	status TEXT NOT NULL,
	score INTEGER,
	source_url TEXT NOT NULL,
	saved_filename TEXT NOT NULL,
	local_path TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	message TEXT NOT NULL,
	media_id BIGINT,
	publication_status TEXT NOT NULL,
	duplicate TEXT NOT NULL
)`, s.table)
	if _, err := s.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("create outcome table: %w", err)
	}
	return nil
}

// Mirror inserts the outcome row.
func (s *OutcomeStore) Mirror(ctx context.Context, rec sourcing.MirrorRecord) error {
	if rec.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	o := rec.Outcome
	entry := sourcing.NewLedgerEntry(o)

	var score *int
	if o.HasScore {
		score = &o.Score
	}
	var mediaID *int64
	if entry.MediaID > 0 {
		mediaID = &entry.MediaID
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	recorded_at,
	sku,
	name,
	status,
	score,
	source_url,
	saved_filename,
	local_path,
	content_hash,
	message,
	media_id,
	publication_status,
	duplicate
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
)`, s.table)

	args := []any{
		rec.RunID,
		rec.RecordedAt,
		o.SKU,
		o.Name,
		string(o.Status),
		score,
		o.SourceURL,
		o.SavedFilename,
		rec.LocalPath,
		o.ContentHash,
		o.Message,
		mediaID,
		entry.PublicationStatus,
		entry.Duplicate,
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}
