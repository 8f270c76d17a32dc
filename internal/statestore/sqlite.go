package statestore

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/crm-migrate/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS mappings (
	kind       TEXT NOT NULL,
	source_id  TEXT NOT NULL,
	target_id  TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (kind, source_id)
);

CREATE INDEX IF NOT EXISTS idx_mappings_kind ON mappings(kind);
`

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	if _, err := db.Exec(sqliteMigration); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sqlite: migrate")
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, rec model.MappingRecord) error {
	// OR IGNORE keeps the first recorded target for a source.
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO mappings (kind, source_id, target_id) VALUES (?, ?, ?)`,
		string(rec.Kind), rec.SourceID, rec.TargetID,
	)
	return eris.Wrapf(err, "sqlite: put mapping %s/%s", rec.Kind, rec.SourceID)
}

func (s *SQLiteStore) Get(ctx context.Context, kind model.EntityKind, sourceID string) (string, bool, error) {
	var target string
	err := s.db.QueryRowContext(ctx,
		`SELECT target_id FROM mappings WHERE kind = ? AND source_id = ?`,
		string(kind), sourceID,
	).Scan(&target)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrapf(err, "sqlite: get mapping %s/%s", kind, sourceID)
	}
	return target, true, nil
}

func (s *SQLiteStore) LoadKind(ctx context.Context, kind model.EntityKind) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, target_id FROM mappings WHERE kind = ?`, string(kind),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load mappings %s", kind)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var src, tgt string
		if err := rows.Scan(&src, &tgt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan mapping")
		}
		out[src] = tgt
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate mappings")
}

func (s *SQLiteStore) Counts(ctx context.Context) (map[model.EntityKind]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, COUNT(*) FROM mappings GROUP BY kind`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count mappings")
	}
	defer rows.Close()

	out := make(map[model.EntityKind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan count")
		}
		out[model.EntityKind(kind)] = n
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate counts")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
