// Package audit provides gate.Sink implementations: SQL tables, JSONL
// lineage files, structured logs, Redis streams and an in-memory ring.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/trustgate/internal/gate"
)

// ErrNotFound is returned by Get when no decision has the requested ID.
var ErrNotFound = errors.New("decision not found")

// Dialect selects placeholder syntax.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS emit_decisions (
	decision_id   TEXT PRIMARY KEY,
	actor_id      TEXT NOT NULL,
	action_kind   TEXT,
	action_target TEXT,
	allowed       INTEGER NOT NULL,
	state         TEXT NOT NULL,
	trust         DOUBLE PRECISION NOT NULL,
	threshold     DOUBLE PRECISION NOT NULL,
	in_covenant   INTEGER NOT NULL,
	reason        TEXT,
	record_json   TEXT NOT NULL,
	record_hash   TEXT NOT NULL,
	decided_at    BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_emit_decisions_actor ON emit_decisions (actor_id, decided_at);
`

// #endregion schema

// #region sql-sink
// SQLSink persists decisions to the emit_decisions table. The full decision
// is kept in record_json with its digest in record_hash; the other columns
// exist for querying. Reads fail with ErrIntegrity on a digest mismatch.
type SQLSink struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLSink wraps an open database. Call Migrate before first use.
func NewSQLSink(db *sql.DB, dialect Dialect) *SQLSink {
	return &SQLSink{db: db, dialect: dialect}
}

// NewSQLiteSink opens a SQLite database and runs migrations.
func NewSQLiteSink(path string) (*SQLSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if path == ":memory:" {
		// each pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	s := NewSQLSink(db, DialectSQLite)
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresSink connects to Postgres using a lib/pq DSN and runs migrations.
func NewPostgresSink(ctx context.Context, dsn string) (*SQLSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := NewSQLSink(db, DialectPostgres)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the decision table if missing.
func (s *SQLSink) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Record inserts one decision.
func (s *SQLSink) Record(ctx context.Context, d gate.EmitDecision) error {
	record, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	hash, err := digestJSON(record)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO emit_decisions (decision_id, actor_id, action_kind, action_target, allowed, state, trust, threshold, in_covenant, reason, record_json, record_hash, decided_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		d.ID,
		d.ActorID,
		nullIfEmpty(d.Action.Kind),
		nullIfEmpty(d.Action.Target),
		boolToInt(d.Allowed),
		string(d.State),
		d.Trust,
		d.Threshold,
		boolToInt(d.InCovenant),
		nullIfEmpty(d.Reason),
		string(record),
		hash,
		d.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	ActorID string
	Since   time.Time
	Until   time.Time
	Limit   int
}

// List returns decisions oldest first.
func (s *SQLSink) List(ctx context.Context, f Filter) ([]gate.EmitDecision, error) {
	query := `SELECT decision_id, record_json, record_hash FROM emit_decisions WHERE 1=1`
	var args []interface{}
	if f.ActorID != "" {
		query += ` AND actor_id = ?`
		args = append(args, f.ActorID)
	}
	if !f.Since.IsZero() {
		query += ` AND decided_at >= ?`
		args = append(args, f.Since.UnixNano())
	}
	if !f.Until.IsZero() {
		query += ` AND decided_at < ?`
		args = append(args, f.Until.UnixNano())
	}
	query += ` ORDER BY decided_at ASC, decision_id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ` + strconv.Itoa(f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []gate.EmitDecision
	for rows.Next() {
		var id, raw, hash string
		if err := rows.Scan(&id, &raw, &hash); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		d, err := checkDigest(raw, hash)
		if err != nil {
			return nil, fmt.Errorf("decision %s: %w", id, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Get returns one decision by ID.
func (s *SQLSink) Get(ctx context.Context, id string) (gate.EmitDecision, error) {
	var raw, hash string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT record_json, record_hash FROM emit_decisions WHERE decision_id = ?`), id).Scan(&raw, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return gate.EmitDecision{}, fmt.Errorf("get decision %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return gate.EmitDecision{}, fmt.Errorf("get decision %s: %w", id, err)
	}
	d, err := checkDigest(raw, hash)
	if err != nil {
		return gate.EmitDecision{}, fmt.Errorf("get decision %s: %w", id, err)
	}
	return d, nil
}

// Close closes the underlying database connection.
func (s *SQLSink) Close() error {
	return s.db.Close()
}

// #endregion sql-sink

// #region helpers
// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQLSink) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers
