package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fleetexec/fleetexec/internal/logging"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_log (
	id         TEXT PRIMARY KEY,
	timestamp  TEXT NOT NULL,
	level      TEXT NOT NULL,
	action     TEXT NOT NULL,
	details    TEXT NOT NULL,
	user       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_log_action ON audit_log(action);
`

// Store persists audit records in SQLite.
type Store struct {
	db       *sql.DB
	minLevel int
	log      zerolog.Logger
}

// Options tunes the store.
type Options struct {
	// MinLevel drops records below this level. Defaults to INFO.
	MinLevel string

	// Retention removes records older than this on Sweep. Zero keeps
	// everything.
	Retention time.Duration
}

// Open creates or opens the audit database at path.
func Open(path string, opts Options) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	// SQLite allows one writer; the recorder serializes through this pool.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init audit schema: %w", err)
	}

	minLevel := LevelInfo
	if opts.MinLevel != "" {
		minLevel = opts.MinLevel
	}

	s := &Store{
		db:       db,
		minLevel: levelRank(minLevel),
		log:      logging.Component("audit"),
	}
	if opts.Retention > 0 {
		s.Sweep(opts.Retention)
	}
	return s, nil
}

// Record implements Recorder. Failures are logged and swallowed; auditing is
// fire-and-forget by contract.
func (s *Store) Record(level, action, details, user string) {
	if levelRank(level) < s.minLevel {
		return
	}

	_, err := s.db.Exec(
		`INSERT INTO audit_log (id, timestamp, level, action, details, user) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(),
		time.Now().UTC().Format(time.RFC3339Nano),
		level, action, logging.Redact(details), user,
	)
	if err != nil {
		s.log.Warn().Err(err).Str("action", action).Msg("audit record dropped")
	}
}

// Query returns the most recent records, newest first. A limit of 0 returns
// everything.
type Query struct {
	Action string
	Level  string
	Limit  int
}

// Records runs the query.
func (s *Store) Records(ctx context.Context, q Query) ([]Record, error) {
	sqlq := `SELECT id, timestamp, level, action, details, user FROM audit_log`
	var args []any
	var where []string
	if q.Action != "" {
		where = append(where, "action = ?")
		args = append(args, q.Action)
	}
	if q.Level != "" {
		where = append(where, "level = ?")
		args = append(args, q.Level)
	}
	for i, w := range where {
		if i == 0 {
			sqlq += " WHERE " + w
		} else {
			sqlq += " AND " + w
		}
	}
	sqlq += " ORDER BY timestamp DESC"
	if q.Limit > 0 {
		sqlq += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, sqlq, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var ts string
		if err := rows.Scan(&r.ID, &ts, &r.Level, &r.Action, &r.Details, &r.User); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		r.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		records = append(records, r)
	}
	return records, rows.Err()
}

// Sweep deletes records older than the retention window.
func (s *Store) Sweep(retention time.Duration) {
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339Nano)
	if _, err := s.db.Exec(`DELETE FROM audit_log WHERE timestamp < ?`, cutoff); err != nil {
		s.log.Warn().Err(err).Msg("audit sweep failed")
	}
}

// Clear removes every record.
func (s *Store) Clear() error {
	_, err := s.db.Exec(`DELETE FROM audit_log`)
	return err
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}
