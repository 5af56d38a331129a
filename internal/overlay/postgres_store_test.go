package overlay

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	return NewPostgresStore(db), mock, db
}

func TestPostgresStore_Load(t *testing.T) {
	ctx := context.Background()

	t.Run("no row yields empty mapping with absent origin", func(t *testing.T) {
		store, mock, db := setupPostgresStore(t)
		defer db.Close()

		mock.ExpectQuery(`SELECT data, version FROM overlay_state`).
			WillReturnError(sql.ErrNoRows)

		snap, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, OriginAbsent, snap.Origin)
		assert.Empty(t, snap.Entries)
		assert.Zero(t, snap.Version)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("loads data and version", func(t *testing.T) {
		store, mock, db := setupPostgresStore(t)
		defer db.Close()

		mock.ExpectQuery(`SELECT data, version FROM overlay_state`).
			WillReturnRows(sqlmock.NewRows([]string{"data", "version"}).
				AddRow([]byte(`{"10": {"published": true}}`), int64(3)))

		snap, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, OriginLoaded, snap.Origin)
		assert.Equal(t, int64(3), snap.Version)
		assert.Equal(t, map[string]Flags{"10": {"published": true}}, snap.Entries)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unparsable blob recovers with corrupt origin and keeps version", func(t *testing.T) {
		store, mock, db := setupPostgresStore(t)
		defer db.Close()

		mock.ExpectQuery(`SELECT data, version FROM overlay_state`).
			WillReturnRows(sqlmock.NewRows([]string{"data", "version"}).
				AddRow([]byte(`broken`), int64(9)))

		snap, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, OriginCorrupt, snap.Origin)
		assert.Empty(t, snap.Entries)
		assert.Equal(t, int64(9), snap.Version)

		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_Save(t *testing.T) {
	ctx := context.Background()

	t.Run("save advances the version", func(t *testing.T) {
		store, mock, db := setupPostgresStore(t)
		defer db.Close()

		mock.ExpectQuery(`INSERT INTO overlay_state`).
			WithArgs(sqlmock.AnyArg(), int64(3)).
			WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(4)))

		snap := Snapshot{
			Entries: map[string]Flags{"10": {"published": true}},
			Version: 3,
		}
		require.NoError(t, store.Save(ctx, &snap))
		assert.Equal(t, int64(4), snap.Version)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale version yields ErrVersionConflict", func(t *testing.T) {
		store, mock, db := setupPostgresStore(t)
		defer db.Close()

		mock.ExpectQuery(`INSERT INTO overlay_state`).
			WithArgs(sqlmock.AnyArg(), int64(2)).
			WillReturnError(sql.ErrNoRows)

		snap := Snapshot{Entries: map[string]Flags{}, Version: 2}
		err := store.Save(ctx, &snap)
		require.ErrorIs(t, err, ErrVersionConflict)

		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_EnsureSchema(t *testing.T) {
	store, mock, db := setupPostgresStore(t)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS overlay_state`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
