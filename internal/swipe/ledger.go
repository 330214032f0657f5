// Package swipe records directional like/dislike verdicts. Only the latest
// verdict per ordered pair is kept.
package swipe

import (
	"context"
	"sync"
	"time"

	"github.com/titi/matcher/internal/apperr"
)

// Event is the current verdict of From toward To.
type Event struct {
	From      int64     `json:"from_user_id"`
	To        int64     `json:"to_user_id"`
	IsLike    bool      `json:"is_like"`
	Timestamp time.Time `json:"timestamp"`
}

// Ledger stores the current verdict per ordered pair.
type Ledger interface {
	// Record upserts the verdict of from toward to.
	Record(ctx context.Context, from, to int64, isLike bool) error
	// HasLike reports whether the current verdict of from toward to is a like.
	HasLike(ctx context.Context, from, to int64) (bool, error)
}

// CheckPair rejects self-swipes and non-positive ids.
func CheckPair(from, to int64) error {
	if from <= 0 || to <= 0 {
		return apperr.InvalidArgument("swipe: user ids must be positive (from=%d to=%d)", from, to)
	}
	if from == to {
		return apperr.InvalidArgument("swipe: user %d cannot swipe on themselves", from)
	}
	return nil
}

type pairKey struct{ from, to int64 }

// MemoryLedger is an in-process Ledger.
type MemoryLedger struct {
	mu     sync.RWMutex
	events map[pairKey]Event
	now    func() time.Time
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{events: make(map[pairKey]Event), now: time.Now}
}

func (l *MemoryLedger) Record(_ context.Context, from, to int64, isLike bool) error {
	if err := CheckPair(from, to); err != nil {
		return err
	}
	l.mu.Lock()
	l.events[pairKey{from, to}] = Event{From: from, To: to, IsLike: isLike, Timestamp: l.now().UTC()}
	l.mu.Unlock()
	return nil
}

func (l *MemoryLedger) HasLike(_ context.Context, from, to int64) (bool, error) {
	l.mu.RLock()
	e, ok := l.events[pairKey{from, to}]
	l.mu.RUnlock()
	return ok && e.IsLike, nil
}
