package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps records in a local SQLite file. One connection serializes all
// transactions, which is what makes Update atomic.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := migrateSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrateSQLite(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS quota_records (
			identity     TEXT PRIMARY KEY,
			period_start INTEGER NOT NULL,
			count        INTEGER NOT NULL DEFAULT 0,
			unlimited    INTEGER NOT NULL DEFAULT 0
		)
	`)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row rowScanner, identity string) (Record, error) {
	var (
		start     int64
		unlimited int
	)
	rec := Record{Identity: identity}
	if err := row.Scan(&start, &rec.Count, &unlimited); err != nil {
		return Record{}, err
	}
	rec.PeriodStart = time.Unix(start, 0).UTC()
	rec.Unlimited = unlimited != 0
	return rec, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLiteStore) Get(ctx context.Context, identity string) (Record, bool, error) {
	rec, err := scanSQLite(s.db.QueryRowContext(ctx,
		"SELECT period_start, count, unlimited FROM quota_records WHERE identity = ?", identity), identity)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quota_records (identity, period_start, count, unlimited)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			period_start = excluded.period_start,
			count        = excluded.count,
			unlimited    = excluded.unlimited
	`, rec.Identity, rec.PeriodStart.Unix(), rec.Count, boolInt(rec.Unlimited))
	return err
}

func (s *SQLiteStore) Update(ctx context.Context, identity string, fn func(rec *Record, found bool) (bool, error)) (Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, err
	}
	defer tx.Rollback()

	rec, err := scanSQLite(tx.QueryRowContext(ctx,
		"SELECT period_start, count, unlimited FROM quota_records WHERE identity = ?", identity), identity)
	found := true
	switch {
	case errors.Is(err, sql.ErrNoRows):
		found = false
		rec = Record{Identity: identity}
	case err != nil:
		return Record{}, fmt.Errorf("select quota: %w", err)
	}

	changed, err := fn(&rec, found)
	if err != nil {
		return Record{}, err
	}
	if changed {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO quota_records (identity, period_start, count, unlimited)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(identity) DO UPDATE SET
				period_start = excluded.period_start,
				count        = excluded.count,
				unlimited    = excluded.unlimited
		`, rec.Identity, rec.PeriodStart.Unix(), rec.Count, boolInt(rec.Unlimited))
		if err != nil {
			return Record{}, fmt.Errorf("write quota: %w", err)
		}
	}
	return rec, tx.Commit()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
