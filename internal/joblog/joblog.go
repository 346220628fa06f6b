// Package joblog persists one row per conversion attempt to SQLite. History
// is observational: recording failures never alter a conversion outcome.
package joblog

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	_ "modernc.org/sqlite"

	"convertd/internal/convert"
)

// Store is the SQLite-backed conversion history.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the SQLite database at path and ensures
// the required table exists.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Basic health check + apply a few safe pragmas.
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversion_log (
  id           TEXT PRIMARY KEY,
  filename     TEXT NOT NULL,
  input_digest TEXT,
  input_bytes  INTEGER NOT NULL,
  output_bytes INTEGER NOT NULL,
  status       TEXT NOT NULL,
  error_kind   TEXT,
  started_at   TEXT NOT NULL,
  completed_at TEXT NOT NULL,
  duration_ms  INTEGER NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_conversion_log_started ON conversion_log(started_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap conversion_log: %w", err)
		}
	}
	return nil
}

// Record inserts one attempt row. Attempts that failed before a workspace was
// allocated carry no ID; a fresh one is minted so the row still has a key.
func (s *Store) Record(ctx context.Context, a convert.Attempt) error {
	id := a.ID
	if id == "" {
		id = uuid.NewString()
	}

	var errorKind any
	if a.ErrorKind != "" {
		errorKind = string(a.ErrorKind)
	}
	var digest any
	if a.InputDigest != "" {
		digest = a.InputDigest
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO conversion_log(
  id, filename, input_digest, input_bytes, output_bytes, status, error_kind,
  started_at, completed_at, duration_ms
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
		id, a.Filename, digest, a.InputBytes, a.OutputBytes, a.Status, errorKind,
		a.StartedAt.UTC().Format(time.RFC3339Nano),
		a.CompletedAt.UTC().Format(time.RFC3339Nano),
		a.CompletedAt.Sub(a.StartedAt).Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("record conversion attempt: %w", err)
	}
	return nil
}

// Recent returns up to limit attempts, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]convert.Attempt, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, filename, input_digest, input_bytes, output_bytes, status, error_kind,
       started_at, completed_at
FROM conversion_log
ORDER BY started_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query conversion log: %w", err)
	}
	defer rows.Close()

	var out []convert.Attempt
	for rows.Next() {
		var (
			a          convert.Attempt
			digest     sql.NullString
			errorKind  sql.NullString
			startedS   string
			completedS string
		)
		if err := rows.Scan(
			&a.ID, &a.Filename, &digest, &a.InputBytes, &a.OutputBytes, &a.Status, &errorKind,
			&startedS, &completedS,
		); err != nil {
			return nil, fmt.Errorf("scan conversion log row: %w", err)
		}
		if digest.Valid {
			a.InputDigest = digest.String
		}
		if errorKind.Valid {
			a.ErrorKind = convert.Kind(errorKind.String)
		}
		if t, err := time.Parse(time.RFC3339Nano, startedS); err == nil {
			a.StartedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, completedS); err == nil {
			a.CompletedAt = t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Digest returns the hex BLAKE3 digest of an input document. Wired into the
// orchestrator as its convert.DigestFunc.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
