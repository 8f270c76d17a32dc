package statestore

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crm-migrate/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresWithPool(mock), mock
}

func TestPostgresStore_Put_FirstWins(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT \(kind, source_id\) DO NOTHING`).
		WithArgs("contact", "c1", "m1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`ON CONFLICT \(kind, source_id\) DO NOTHING`).
		WithArgs("contact", "c1", "m2").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, model.MappingRecord{Kind: model.KindContact, SourceID: "c1", TargetID: "m1"}))
	require.NoError(t, s.Put(ctx, model.MappingRecord{Kind: model.KindContact, SourceID: "c1", TargetID: "m2"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT target_id FROM mappings`).
		WithArgs("contact", "missing").
		WillReturnError(pgx.ErrNoRows)

	_, ok, err := s.Get(context.Background(), model.KindContact, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get_Found(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT target_id FROM mappings`).
		WithArgs("pipeline", "p1").
		WillReturnRows(pgxmock.NewRows([]string{"target_id"}).AddRow("t9"))

	target, ok, err := s.Get(context.Background(), model.KindPipeline, "p1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "t9", target)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadKind(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT source_id, target_id FROM mappings WHERE kind = \$1`).
		WithArgs("contact").
		WillReturnRows(pgxmock.NewRows([]string{"source_id", "target_id"}).
			AddRow("c1", "m1").
			AddRow("c2", "m2"))

	all, err := s.LoadKind(context.Background(), model.KindContact)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"c1": "m1", "c2": "m2"}, all)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Counts(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT kind, COUNT\(\*\) FROM mappings GROUP BY kind`).
		WillReturnRows(pgxmock.NewRows([]string{"kind", "count"}).
			AddRow("contact", int64(12)).
			AddRow("pipeline", int64(2)))

	counts, err := s.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, counts[model.KindContact])
	assert.Equal(t, 2, counts[model.KindPipeline])
	assert.NoError(t, mock.ExpectationsWereMet())
}
