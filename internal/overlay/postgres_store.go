package overlay

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
)

// PostgresStore keeps the overlay mapping as a single JSONB blob guarded by
// an optimistic version stamp: Load reads the current version, Save only
// succeeds if that version is still the persisted one. Concurrent sessions
// get ErrVersionConflict instead of silently clobbering each other.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed overlay store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the backing table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const q = `
		CREATE TABLE IF NOT EXISTS overlay_state (
			id         smallint PRIMARY KEY,
			data       jsonb NOT NULL,
			version    bigint NOT NULL,
			updated_at timestamptz NOT NULL DEFAULT NOW()
		)
	`
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("ensure overlay schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) (Snapshot, error) {
	const q = `SELECT data, version FROM overlay_state WHERE id = 1`

	var data []byte
	var version int64
	err := s.db.QueryRowContext(ctx, q).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{Entries: map[string]Flags{}, Origin: OriginAbsent}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load overlay: %w", err)
	}

	entries, err := Decode(data)
	if err != nil {
		// Same availability-over-strictness policy as the file store: keep
		// the version so a subsequent save replaces the bad blob cleanly.
		log.Printf("[warn] operation=overlay_load backend=postgres error=%v recovering with empty mapping", err)
		return Snapshot{Entries: map[string]Flags{}, Origin: OriginCorrupt, Version: version}, nil
	}

	return Snapshot{Entries: entries, Origin: OriginLoaded, Version: version}, nil
}

// Save upserts the full mapping. The update only applies while the stored
// version equals the snapshot's; otherwise no row comes back and the caller
// gets ErrVersionConflict to reload and re-merge.
func (s *PostgresStore) Save(ctx context.Context, snap *Snapshot) error {
	data, err := json.Marshal(snap.Entries)
	if err != nil {
		return fmt.Errorf("marshal overlay: %w", err)
	}

	const q = `
		INSERT INTO overlay_state (id, data, version)
		VALUES (1, $1, 1)
		ON CONFLICT (id) DO UPDATE SET
			data = EXCLUDED.data,
			version = overlay_state.version + 1,
			updated_at = NOW()
		WHERE overlay_state.version = $2
		RETURNING version
	`

	var version int64
	err = s.db.QueryRowContext(ctx, q, data, snap.Version).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("save overlay: %w", err)
	}

	snap.Version = version
	return nil
}
