package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore persists profiles in the profiles table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store backed by db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const profileColumns = `user_id, display_name, age, city, bio, interests, skills, goals, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*Profile, error) {
	var (
		p   Profile
		age sql.NullInt64
	)
	err := row.Scan(&p.UserID, &p.DisplayName, &age, &p.City, &p.Bio,
		pq.Array(&p.Interests), pq.Array(&p.Skills), pq.Array(&p.Goals), &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if age.Valid {
		v := int(age.Int64)
		p.Age = &v
	}
	if p.Interests == nil {
		p.Interests = []string{}
	}
	if p.Skills == nil {
		p.Skills = []string{}
	}
	if p.Goals == nil {
		p.Goals = []string{}
	}
	return &p, nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, userID int64) (*Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE user_id = $1`, userID)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("profile: get %d: %w", userID, err)
	}
	return p, nil
}

func (s *PostgresStore) ScanProfiles(ctx context.Context, excludeUserID int64) ([]*Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE user_id <> $1 ORDER BY user_id`, excludeUserID)
	if err != nil {
		return nil, fmt.Errorf("profile: scan: %w", err)
	}
	defer rows.Close()

	var out []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("profile: scan row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("profile: scan: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpsertProfile(ctx context.Context, p *Profile) error {
	var age sql.NullInt64
	if p.Age != nil {
		age = sql.NullInt64{Int64: int64(*p.Age), Valid: true}
	}

	const query = `
		INSERT INTO profiles (user_id, display_name, age, city, bio, interests, skills, goals, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			age          = EXCLUDED.age,
			city         = EXCLUDED.city,
			bio          = EXCLUDED.bio,
			interests    = EXCLUDED.interests,
			skills       = EXCLUDED.skills,
			goals        = EXCLUDED.goals,
			updated_at   = EXCLUDED.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		p.UserID, p.DisplayName, age, p.City, p.Bio,
		pq.Array(p.Interests), pq.Array(p.Skills), pq.Array(p.Goals), p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("profile: upsert %d: %w", p.UserID, err)
	}
	return nil
}
