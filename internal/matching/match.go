package matching

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Match is a confirmed mutual like between UserA and UserB, stored with
// UserA < UserB so each unordered pair has exactly one row.
type Match struct {
	ID        uuid.UUID `json:"id"`
	UserA     int64     `json:"user_a_id"`
	UserB     int64     `json:"user_b_id"`
	CreatedAt time.Time `json:"created_at"`
}

// CanonicalPair orders a and b so the smaller id comes first.
func CanonicalPair(a, b int64) (int64, int64) {
	if a < b {
		return a, b
	}
	return b, a
}

// NewMatch builds a match for the unordered pair {a, b}.
func NewMatch(a, b int64, now time.Time) *Match {
	lo, hi := CanonicalPair(a, b)
	return &Match{ID: uuid.New(), UserA: lo, UserB: hi, CreatedAt: now.UTC()}
}

// Partner returns the other user of the match, or 0 if userID is not in it.
func (m *Match) Partner(userID int64) int64 {
	switch userID {
	case m.UserA:
		return m.UserB
	case m.UserB:
		return m.UserA
	}
	return 0
}

// Store persists matches keyed by canonical pair.
type Store interface {
	// Create inserts m. It fails with apperr.ErrConflict when the pair is
	// already matched, including when a concurrent insert won the race.
	Create(ctx context.Context, m *Match) error
	// Get returns the match for the unordered pair, or nil.
	Get(ctx context.Context, a, b int64) (*Match, error)
	// ListForUser returns every match involving userID.
	ListForUser(ctx context.Context, userID int64) ([]*Match, error)
}
