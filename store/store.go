// Package store persists collection results and enrichment output in
// SQLite. Observations are append-only; enrichments are updated by job id.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/verdant-labs/verdant/collect"
	"github.com/verdant-labs/verdant/enrich"
	"github.com/verdant-labs/verdant/errors"
	"github.com/verdant-labs/verdant/manual"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Observation is one persisted collection result.
type Observation struct {
	ID           int64              `json:"id"`
	SourceID     string             `json:"source_id"`
	SourceType   collect.SourceType `json:"source_type"`
	CollectedAt  time.Time          `json:"collected_at"`
	PayloadKind  string             `json:"payload_kind"`
	Payload      json.RawMessage    `json:"payload"`
	QualityScore float64            `json:"quality_score"`
	SizeBytes    int64              `json:"size_bytes"`
	DurationMs   int64              `json:"duration_ms"`
}

// Store wraps the SQLite connection. Satisfies collect.Store and
// enrich.Store.
type Store struct {
	db  *sql.DB
	log *zap.SugaredLogger
}

// New creates a store on an open, migrated database.
func New(conn *sql.DB, log *zap.SugaredLogger) *Store {
	return &Store{db: conn, log: log.Named("store")}
}

// SaveObservation appends one collection result.
func (s *Store) SaveObservation(ctx context.Context, res *collect.CollectionResult) error {
	if res == nil {
		return errors.New("observation cannot be nil")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO observations (source_id, source_type, collected_at, payload_kind, payload, quality_score, size_bytes, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		res.SourceID,
		string(res.SourceType),
		res.Timestamp,
		res.PayloadKind,
		string(res.Payload),
		res.QualityScore,
		res.Metadata.SizeBytes,
		res.Metadata.Duration.Milliseconds(),
	)
	if err != nil {
		return errors.Wrapf(err, "save observation for %s", res.SourceType)
	}
	return nil
}

// ListObservations returns the most recent observations for a source type,
// newest first. A sourceType of "" returns all sources.
func (s *Store) ListObservations(ctx context.Context, sourceType collect.SourceType, limit int) ([]Observation, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, source_id, source_type, collected_at, payload_kind, payload, quality_score, size_bytes, duration_ms
		FROM observations`
	args := []any{}
	if sourceType != "" {
		query += " WHERE source_type = ?"
		args = append(args, string(sourceType))
	}
	query += " ORDER BY collected_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list observations")
	}
	defer rows.Close()

	var out []Observation
	for rows.Next() {
		var obs Observation
		var srcType, payload string
		if err := rows.Scan(&obs.ID, &obs.SourceID, &srcType, &obs.CollectedAt, &obs.PayloadKind, &payload, &obs.QualityScore, &obs.SizeBytes, &obs.DurationMs); err != nil {
			return nil, errors.Wrap(err, "scan observation")
		}
		obs.SourceType = collect.SourceType(srcType)
		obs.Payload = json.RawMessage(payload)
		out = append(out, obs)
	}
	return out, rows.Err()
}

// SaveEnrichment upserts enrichment output for a job id.
func (s *Store) SaveEnrichment(ctx context.Context, jobID string, data *enrich.EnrichedData) error {
	if jobID == "" {
		return errors.New("jobID cannot be empty")
	}
	if data == nil {
		return errors.New("enriched data cannot be nil")
	}
	blob, err := json.Marshal(data)
	if err != nil {
		return errors.Wrapf(err, "marshal enrichment for job %s", jobID)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO enrichments (job_id, data_type, enriched_data, overall_confidence, total_cost_usd)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			data_type = excluded.data_type,
			enriched_data = excluded.enriched_data,
			overall_confidence = excluded.overall_confidence,
			total_cost_usd = excluded.total_cost_usd,
			updated_at = CURRENT_TIMESTAMP`,
		jobID,
		data.DataType,
		string(blob),
		data.OverallConfidence,
		data.TotalCostUSD,
	)
	if err != nil {
		return errors.Wrapf(err, "save enrichment for job %s", jobID)
	}
	return nil
}

// GetEnrichment loads enrichment output by job id. Returns ErrNotFound when
// the job has no persisted result.
func (s *Store) GetEnrichment(ctx context.Context, jobID string) (*enrich.EnrichedData, error) {
	var blob string
	err := s.db.QueryRowContext(ctx,
		"SELECT enriched_data FROM enrichments WHERE job_id = ?", jobID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(ErrNotFound, "enrichment %s", jobID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get enrichment %s", jobID)
	}
	var data enrich.EnrichedData
	if err := json.Unmarshal([]byte(blob), &data); err != nil {
		return nil, errors.Wrapf(err, "unmarshal enrichment %s", jobID)
	}
	return &data, nil
}

// SaveEntry upserts a manual entry with its current validation and sync
// state. The full entry is kept as JSON; id, device, type, and timestamp are
// lifted into columns for querying.
func (s *Store) SaveEntry(ctx context.Context, e *manual.Entry) error {
	if e == nil {
		return errors.New("entry cannot be nil")
	}
	blob, err := json.Marshal(e)
	if err != nil {
		return errors.Wrapf(err, "marshal entry %s", e.ID)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO manual_entries (id, device_id, entry_type, occurred_at, entry)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			entry = excluded.entry,
			updated_at = CURRENT_TIMESTAMP`,
		e.ID,
		e.DeviceID,
		string(e.EntryType),
		e.Timestamp.UTC(),
		string(blob),
	)
	if err != nil {
		return errors.Wrapf(err, "save entry %s", e.ID)
	}
	return nil
}

// ListUnsyncedEntries returns entries still awaiting sync, oldest first, up
// to limit (0 = no limit). Permanently failed entries are included; callers
// decide whether to retry them.
func (s *Store) ListUnsyncedEntries(ctx context.Context, limit int) ([]*manual.Entry, error) {
	query := `SELECT entry FROM manual_entries
		WHERE json_extract(entry, '$.sync.needs_sync')
		ORDER BY occurred_at ASC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list unsynced entries")
	}
	defer rows.Close()

	var out []*manual.Entry
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, errors.Wrap(err, "scan entry")
		}
		var e manual.Entry
		if err := json.Unmarshal([]byte(blob), &e); err != nil {
			return nil, errors.Wrap(err, "unmarshal entry")
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
