package matching

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/titi/matcher/internal/apperr"
)

type pair struct{ a, b int64 }

// MemoryStore is an in-process Store. Create is atomic per pair.
type MemoryStore struct {
	mu      sync.RWMutex
	matches map[pair]*Match
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{matches: make(map[pair]*Match)}
}

func (s *MemoryStore) Create(_ context.Context, m *Match) error {
	k := pair{m.UserA, m.UserB}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.matches[k]; exists {
		return apperr.Conflict("matching: insert", fmt.Errorf("pair %d-%d already matched", m.UserA, m.UserB))
	}
	c := *m
	s.matches[k] = &c
	return nil
}

func (s *MemoryStore) Get(_ context.Context, a, b int64) (*Match, error) {
	lo, hi := CanonicalPair(a, b)
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.matches[pair{lo, hi}]
	if !ok {
		return nil, nil
	}
	c := *m
	return &c, nil
}

func (s *MemoryStore) ListForUser(_ context.Context, userID int64) ([]*Match, error) {
	s.mu.RLock()
	var out []*Match
	for k, m := range s.matches {
		if k.a == userID || k.b == userID {
			c := *m
			out = append(out, &c)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Partner(userID) < out[j].Partner(userID) })
	return out, nil
}

// Count returns the number of stored matches.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.matches)
}

// PostgresStore persists matches in the matches table, relying on the
// matches_canonical_pair unique constraint for idempotence.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store backed by db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, m *Match) error {
	const query = `
		INSERT INTO matches (id, user_a_id, user_b_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT ON CONSTRAINT matches_canonical_pair DO NOTHING
		RETURNING id`

	var id string
	err := s.db.QueryRowContext(ctx, query, m.ID.String(), m.UserA, m.UserB, m.CreatedAt).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// ON CONFLICT skipped the row.
		return apperr.Conflict("matching: insert", fmt.Errorf("pair %d-%d already matched", m.UserA, m.UserB))
	case apperr.IsUniqueViolation(err):
		return apperr.Conflict("matching: insert", err)
	case err != nil:
		return fmt.Errorf("matching: insert %d-%d: %w", m.UserA, m.UserB, err)
	}
	return nil
}

const matchColumns = `id, user_a_id, user_b_id, created_at`

func scanMatch(row interface{ Scan(...any) error }) (*Match, error) {
	var (
		m  Match
		id string
	)
	if err := row.Scan(&id, &m.UserA, &m.UserB, &m.CreatedAt); err != nil {
		return nil, err
	}
	if err := m.ID.UnmarshalText([]byte(id)); err != nil {
		return nil, fmt.Errorf("matching: bad match id %q: %w", id, err)
	}
	return &m, nil
}

func (s *PostgresStore) Get(ctx context.Context, a, b int64) (*Match, error) {
	lo, hi := CanonicalPair(a, b)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE user_a_id = $1 AND user_b_id = $2`, lo, hi)
	m, err := scanMatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("matching: get %d-%d: %w", lo, hi, err)
	}
	return m, nil
}

func (s *PostgresStore) ListForUser(ctx context.Context, userID int64) ([]*Match, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+matchColumns+` FROM matches
		WHERE user_a_id = $1 OR user_b_id = $1
		ORDER BY CASE WHEN user_a_id = $1 THEN user_b_id ELSE user_a_id END`, userID)
	if err != nil {
		return nil, fmt.Errorf("matching: list for %d: %w", userID, err)
	}
	defer rows.Close()

	var out []*Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("matching: list row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("matching: list for %d: %w", userID, err)
	}
	return out, nil
}
