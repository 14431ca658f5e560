// Package store persists telemetry samples and serves them back as
// per-actor evaluation windows.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/trustgate/internal/telemetry"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS telemetry_samples (
	sample_id            TEXT PRIMARY KEY,
	actor_id             TEXT NOT NULL,
	policy_checks        INTEGER NOT NULL,
	policy_passes        INTEGER NOT NULL,
	attestation_required INTEGER NOT NULL,
	attestation_provided INTEGER NOT NULL,
	histogram_json       TEXT NOT NULL,
	observed_at          INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_samples_actor_time ON telemetry_samples (actor_id, observed_at);
`

// #endregion schema

// #region store-struct
// SampleStore manages recorded telemetry samples in SQLite. Samples are
// immutable once appended.
type SampleStore struct {
	db  *sql.DB
	now func() time.Time
}

// #endregion store-struct

// #region constructor
// NewSampleStore opens a SQLite database and runs migrations.
func NewSampleStore(dbPath string) (*SampleStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SampleStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *SampleStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages.
func (s *SampleStore) DB() *sql.DB {
	return s.db
}

// #endregion close

// #region append
// Append validates and stores one sample, returning its generated ID. A zero
// timestamp is replaced with the current time.
func (s *SampleStore) Append(ctx context.Context, sample telemetry.Sample) (string, error) {
	ids, err := s.AppendBatch(ctx, []telemetry.Sample{sample})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// AppendBatch stores samples atomically. Any invalid sample rejects the batch.
func (s *SampleStore) AppendBatch(ctx context.Context, samples []telemetry.Sample) ([]string, error) {
	for _, sample := range samples {
		if err := telemetry.Validate(sample); err != nil {
			return nil, fmt.Errorf("append sample: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	ids := make([]string, 0, len(samples))
	for _, sample := range samples {
		hist, err := json.Marshal(sample.ActionHistogram)
		if err != nil {
			return nil, fmt.Errorf("marshal histogram: %w", err)
		}
		ts := sample.Timestamp
		if ts.IsZero() {
			ts = s.now()
		}
		id := uuid.New().String()
		_, err = tx.ExecContext(ctx,
			`INSERT INTO telemetry_samples (sample_id, actor_id, policy_checks, policy_passes, attestation_required, attestation_provided, histogram_json, observed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, sample.ActorID,
			sample.PolicyChecks, sample.PolicyPasses,
			sample.AttestationRequired, sample.AttestationProvided,
			string(hist), ts.UnixNano(),
		)
		if err != nil {
			return nil, fmt.Errorf("insert sample: %w", err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return ids, nil
}

// #endregion append

// #region windows
// Window returns the actor's samples observed at or after since, oldest
// first. A zero since returns the cumulative history.
func (s *SampleStore) Window(ctx context.Context, actorID string, since time.Time) ([]telemetry.Sample, error) {
	var from int64
	if !since.IsZero() {
		from = since.UnixNano()
	}
	return s.query(ctx,
		`SELECT actor_id, policy_checks, policy_passes, attestation_required, attestation_provided, histogram_json, observed_at
		 FROM telemetry_samples WHERE actor_id = ? AND observed_at >= ?
		 ORDER BY observed_at ASC, sample_id ASC`,
		actorID, from,
	)
}

// Between returns the actor's samples with from <= observed_at < to.
func (s *SampleStore) Between(ctx context.Context, actorID string, from, to time.Time) ([]telemetry.Sample, error) {
	return s.query(ctx,
		`SELECT actor_id, policy_checks, policy_passes, attestation_required, attestation_provided, histogram_json, observed_at
		 FROM telemetry_samples WHERE actor_id = ? AND observed_at >= ? AND observed_at < ?
		 ORDER BY observed_at ASC, sample_id ASC`,
		actorID, from.UnixNano(), to.UnixNano(),
	)
}

// Actors lists every actor with at least one sample, sorted.
func (s *SampleStore) Actors(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT actor_id FROM telemetry_samples ORDER BY actor_id`)
	if err != nil {
		return nil, fmt.Errorf("list actors: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("scan actor: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Prune deletes samples observed before cutoff and returns how many went.
func (s *SampleStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM telemetry_samples WHERE observed_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune samples: %w", err)
	}
	return res.RowsAffected()
}

// #endregion windows

// #region helpers
func (s *SampleStore) query(ctx context.Context, q string, args ...interface{}) ([]telemetry.Sample, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var out []telemetry.Sample
	for rows.Next() {
		var (
			sample   telemetry.Sample
			histJSON string
			observed int64
		)
		if err := rows.Scan(&sample.ActorID,
			&sample.PolicyChecks, &sample.PolicyPasses,
			&sample.AttestationRequired, &sample.AttestationProvided,
			&histJSON, &observed,
		); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		if err := json.Unmarshal([]byte(histJSON), &sample.ActionHistogram); err != nil {
			return nil, fmt.Errorf("unmarshal histogram: %w", err)
		}
		sample.Timestamp = time.Unix(0, observed).UTC()
		out = append(out, sample)
	}
	return out, rows.Err()
}

// #endregion helpers
