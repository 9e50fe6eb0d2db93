package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresStore keeps quota records in the quota_records table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate создаёт таблицу, если её нет.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS quota_records (
			identity     TEXT PRIMARY KEY,
			period_start TIMESTAMPTZ NOT NULL,
			count        INTEGER NOT NULL DEFAULT 0 CHECK (count >= 0),
			unlimited    BOOLEAN NOT NULL DEFAULT FALSE
		)
	`)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, identity string) (Record, bool, error) {
	rec := Record{Identity: identity}
	err := s.db.QueryRowContext(ctx, `
		SELECT period_start, count, unlimited
		FROM quota_records
		WHERE identity = $1
	`, identity).Scan(&rec.PeriodStart, &rec.Count, &rec.Unlimited)

	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (s *PostgresStore) Put(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quota_records (identity, period_start, count, unlimited)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (identity) DO UPDATE
		SET period_start = EXCLUDED.period_start,
		    count        = EXCLUDED.count,
		    unlimited    = EXCLUDED.unlimited
	`, rec.Identity, rec.PeriodStart, rec.Count, rec.Unlimited)
	return err
}

// Update locks the row with SELECT ... FOR UPDATE for the duration of fn.
// A placeholder row is inserted first so that concurrent first requests also serialize on it.
func (s *PostgresStore) Update(ctx context.Context, identity string, fn func(rec *Record, found bool) (bool, error)) (Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO quota_records (identity, period_start, count, unlimited)
		VALUES ($1, $2, 0, FALSE)
		ON CONFLICT (identity) DO NOTHING
	`, identity, time.Unix(0, 0).UTC())
	if err != nil {
		return Record{}, fmt.Errorf("ensure quota row: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return Record{}, err
	}

	rec := Record{Identity: identity}
	err = tx.QueryRowContext(ctx, `
		SELECT period_start, count, unlimited
		FROM quota_records
		WHERE identity = $1
		FOR UPDATE
	`, identity).Scan(&rec.PeriodStart, &rec.Count, &rec.Unlimited)
	if err != nil {
		return Record{}, fmt.Errorf("select quota: %w", err)
	}

	found := inserted == 0
	if !found {
		rec = Record{Identity: identity}
	}

	changed, err := fn(&rec, found)
	if err != nil {
		return Record{}, err
	}
	if changed {
		_, err = tx.ExecContext(ctx, `
			UPDATE quota_records
			SET period_start = $2, count = $3, unlimited = $4
			WHERE identity = $1
		`, rec.Identity, rec.PeriodStart, rec.Count, rec.Unlimited)
		if err != nil {
			return Record{}, fmt.Errorf("write quota: %w", err)
		}
	}
	return rec, tx.Commit()
}
