package statestore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-migrate/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS mappings (
	kind       TEXT NOT NULL,
	source_id  TEXT NOT NULL,
	target_id  TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (kind, source_id)
);
`

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 4
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Put(ctx context.Context, rec model.MappingRecord) error {
	// DO NOTHING keeps the first recorded target for a source.
	_, err := s.pool.Exec(ctx,
		`INSERT INTO mappings (kind, source_id, target_id) VALUES ($1, $2, $3)
		 ON CONFLICT (kind, source_id) DO NOTHING`,
		string(rec.Kind), rec.SourceID, rec.TargetID,
	)
	return eris.Wrapf(err, "postgres: put mapping %s/%s", rec.Kind, rec.SourceID)
}

func (s *PostgresStore) Get(ctx context.Context, kind model.EntityKind, sourceID string) (string, bool, error) {
	var target string
	err := s.pool.QueryRow(ctx,
		`SELECT target_id FROM mappings WHERE kind = $1 AND source_id = $2`,
		string(kind), sourceID,
	).Scan(&target)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrapf(err, "postgres: get mapping %s/%s", kind, sourceID)
	}
	return target, true, nil
}

func (s *PostgresStore) LoadKind(ctx context.Context, kind model.EntityKind) (map[string]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source_id, target_id FROM mappings WHERE kind = $1`, string(kind),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load mappings %s", kind)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var src, tgt string
		if err := rows.Scan(&src, &tgt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan mapping")
		}
		out[src] = tgt
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate mappings")
}

func (s *PostgresStore) Counts(ctx context.Context) (map[model.EntityKind]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT kind, COUNT(*) FROM mappings GROUP BY kind`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count mappings")
	}
	defer rows.Close()

	out := make(map[model.EntityKind]int)
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan count")
		}
		out[model.EntityKind(kind)] = int(n)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate counts")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
