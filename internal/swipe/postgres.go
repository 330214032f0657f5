package swipe

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresLedger stores verdicts in the likes table, one row per ordered pair.
type PostgresLedger struct {
	db *sql.DB
}

// NewPostgresLedger creates a ledger backed by db.
func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (l *PostgresLedger) Record(ctx context.Context, from, to int64, isLike bool) error {
	if err := CheckPair(from, to); err != nil {
		return err
	}

	const query = `
		INSERT INTO likes (from_user_id, to_user_id, is_like, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (from_user_id, to_user_id)
		DO UPDATE SET is_like = EXCLUDED.is_like, created_at = EXCLUDED.created_at`

	if _, err := l.db.ExecContext(ctx, query, from, to, isLike); err != nil {
		return fmt.Errorf("swipe: record %d->%d: %w", from, to, err)
	}
	return nil
}

func (l *PostgresLedger) HasLike(ctx context.Context, from, to int64) (bool, error) {
	var isLike bool
	err := l.db.QueryRowContext(ctx,
		`SELECT is_like FROM likes WHERE from_user_id = $1 AND to_user_id = $2`, from, to).Scan(&isLike)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("swipe: has like %d->%d: %w", from, to, err)
	}
	return isLike, nil
}
