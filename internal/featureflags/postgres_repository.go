package featureflags

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository stores flags in the feature_flags table.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const (
	createFlagsTable = `
CREATE TABLE IF NOT EXISTS feature_flags (
	key        TEXT PRIMARY KEY,
	value      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

	seedFlag = `
INSERT INTO feature_flags (key, value, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (key) DO NOTHING`

	upsertFlag = `
INSERT INTO feature_flags (key, value, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`

	selectFlags = `SELECT key, value, updated_at FROM feature_flags`
)

// EnsureSchema creates the table and inserts missing defaults. Values an
// operator already changed are left alone.
func (r *PostgresRepository) EnsureSchema(ctx context.Context, defaults map[string]*Flag) error {
	if _, err := r.pool.Exec(ctx, createFlagsTable); err != nil {
		return fmt.Errorf("create feature_flags: %w", err)
	}
	if len(defaults) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, f := range defaults {
		value, err := json.Marshal(f.Value)
		if err != nil {
			return fmt.Errorf("encode default %s: %w", f.Key, err)
		}
		batch.Queue(seedFlag, f.Key, value, f.UpdatedAt)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("seed feature_flags: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, key string) (*Flag, error) {
	rows, err := r.pool.Query(ctx, selectFlags+` WHERE key = $1`, key)
	if err != nil {
		return nil, fmt.Errorf("query flag %s: %w", key, err)
	}
	f, err := pgx.CollectExactlyOneRow(rows, scanFlag)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrFlagNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read flag %s: %w", key, err)
	}
	return f, nil
}

func (r *PostgresRepository) List(ctx context.Context) (map[string]*Flag, error) {
	rows, err := r.pool.Query(ctx, selectFlags)
	if err != nil {
		return nil, fmt.Errorf("query flags: %w", err)
	}
	flags, err := pgx.CollectRows(rows, scanFlag)
	if err != nil {
		return nil, fmt.Errorf("read flags: %w", err)
	}

	out := make(map[string]*Flag, len(flags))
	for _, f := range flags {
		out[f.Key] = f
	}
	return out, nil
}

func (r *PostgresRepository) Put(ctx context.Context, flags ...*Flag) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for _, f := range flags {
			value, err := json.Marshal(f.Value)
			if err != nil {
				return fmt.Errorf("encode flag %s: %w", f.Key, err)
			}
			if _, err := tx.Exec(ctx, upsertFlag, f.Key, value, f.UpdatedAt); err != nil {
				return fmt.Errorf("write flag %s: %w", f.Key, err)
			}
		}
		return nil
	})
}

func (r *PostgresRepository) Delete(ctx context.Context, key string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM feature_flags WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete flag %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFlagNotFound
	}
	return nil
}

func scanFlag(row pgx.CollectableRow) (*Flag, error) {
	var (
		f     Flag
		value []byte
	)
	if err := row.Scan(&f.Key, &value, &f.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(value, &f.Value); err != nil {
		return nil, fmt.Errorf("decode flag %s: %w", f.Key, err)
	}
	return &f, nil
}

var _ Repository = (*PostgresRepository)(nil)
