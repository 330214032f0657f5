// Package matching turns reciprocal likes into matches and serves the
// matcher's request/reply protocol over NATS.
package matching

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/titi/matcher/internal/apperr"
	"github.com/titi/matcher/internal/metrics"
	"github.com/titi/matcher/internal/swipe"
)

// PairState is the relationship between two users.
type PairState int

const (
	NoInteraction PairState = iota
	OneSidedLike
	Matched
)

func (s PairState) String() string {
	switch s {
	case OneSidedLike:
		return "one_sided_like"
	case Matched:
		return "matched"
	default:
		return "no_interaction"
	}
}

// Notifier is told about matches the moment they are created.
type Notifier interface {
	MatchCreated(ctx context.Context, m *Match) error
}

// SwipeResult describes the outcome of a single swipe.
type SwipeResult struct {
	// Matched is true when the pair is matched after this swipe.
	Matched bool `json:"matched"`
	// Created is true only for the swipe that inserted the match.
	Created bool   `json:"created"`
	Match   *Match `json:"match,omitempty"`
}

// Engine records swipes and forms matches on reciprocal likes.
type Engine struct {
	ledger   swipe.Ledger
	matches  Store
	notifier Notifier
	now      func() time.Time
	log      zerolog.Logger
}

// NewEngine creates an engine. notifier may be nil.
func NewEngine(ledger swipe.Ledger, matches Store, notifier Notifier, log zerolog.Logger) *Engine {
	return &Engine{
		ledger:   ledger,
		matches:  matches,
		notifier: notifier,
		now:      time.Now,
		log:      log,
	}
}

// Swipe records from's verdict on to. A like that meets an existing like
// in the other direction forms the pair's match; repeating it is a no-op.
// Dislikes never remove a match.
func (e *Engine) Swipe(ctx context.Context, from, to int64, isLike bool) (SwipeResult, error) {
	if err := swipe.CheckPair(from, to); err != nil {
		return SwipeResult{}, err
	}
	if err := e.ledger.Record(ctx, from, to, isLike); err != nil {
		return SwipeResult{}, fmt.Errorf("matching: record swipe: %w", err)
	}
	if isLike {
		metrics.SwipesTotal.WithLabelValues("like").Inc()
	} else {
		metrics.SwipesTotal.WithLabelValues("dislike").Inc()
		return e.current(ctx, from, to)
	}

	reciprocal, err := e.ledger.HasLike(ctx, to, from)
	if err != nil {
		return SwipeResult{}, fmt.Errorf("matching: check reciprocal: %w", err)
	}
	if !reciprocal {
		// An earlier match survives the partner withdrawing their like.
		return e.current(ctx, from, to)
	}
	return e.form(ctx, from, to)
}

// current reports the pair's existing match without forming one.
func (e *Engine) current(ctx context.Context, a, b int64) (SwipeResult, error) {
	m, err := e.matches.Get(ctx, a, b)
	if err != nil {
		return SwipeResult{}, fmt.Errorf("matching: lookup match: %w", err)
	}
	return SwipeResult{Matched: m != nil, Match: m}, nil
}

func (e *Engine) form(ctx context.Context, a, b int64) (SwipeResult, error) {
	existing, err := e.matches.Get(ctx, a, b)
	if err != nil {
		return SwipeResult{}, fmt.Errorf("matching: lookup match: %w", err)
	}
	if existing != nil {
		return SwipeResult{Matched: true, Match: existing}, nil
	}

	m := NewMatch(a, b, e.now())
	err = e.matches.Create(ctx, m)
	if errors.Is(err, apperr.ErrConflict) {
		// Another request inserted the pair between our lookup and insert.
		metrics.MatchConflicts.Inc()
		e.log.Debug().Err(err).Int64("user_a", m.UserA).Int64("user_b", m.UserB).Msg("match already formed concurrently")
		winner, err := e.matches.Get(ctx, a, b)
		if err != nil {
			return SwipeResult{}, fmt.Errorf("matching: lookup match: %w", err)
		}
		return SwipeResult{Matched: true, Match: winner}, nil
	}
	if err != nil {
		return SwipeResult{}, fmt.Errorf("matching: create match: %w", err)
	}

	metrics.MatchesCreated.Inc()
	e.log.Info().Str("match_id", m.ID.String()).Int64("user_a", m.UserA).Int64("user_b", m.UserB).Msg("match created")
	if e.notifier != nil {
		if err := e.notifier.MatchCreated(ctx, m); err != nil {
			e.log.Warn().Err(err).Str("match_id", m.ID.String()).Msg("match notification failed")
		}
	}
	return SwipeResult{Matched: true, Created: true, Match: m}, nil
}

// State reports the pair state of a and b.
func (e *Engine) State(ctx context.Context, a, b int64) (PairState, error) {
	if err := swipe.CheckPair(a, b); err != nil {
		return NoInteraction, err
	}
	matched, err := e.IsMatched(ctx, a, b)
	if err != nil {
		return NoInteraction, err
	}
	if matched {
		return Matched, nil
	}
	for _, dir := range [][2]int64{{a, b}, {b, a}} {
		liked, err := e.ledger.HasLike(ctx, dir[0], dir[1])
		if err != nil {
			return NoInteraction, fmt.Errorf("matching: state: %w", err)
		}
		if liked {
			return OneSidedLike, nil
		}
	}
	return NoInteraction, nil
}

// IsMatched reports whether a match exists for the unordered pair. It is
// the only signal used to allow a conversation between a and b.
func (e *Engine) IsMatched(ctx context.Context, a, b int64) (bool, error) {
	m, err := e.matches.Get(ctx, a, b)
	if err != nil {
		return false, fmt.Errorf("matching: is matched: %w", err)
	}
	return m != nil, nil
}

// Partners returns the ids userID is matched with, ascending.
func (e *Engine) Partners(ctx context.Context, userID int64) ([]int64, error) {
	list, err := e.matches.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("matching: partners: %w", err)
	}
	out := make([]int64, 0, len(list))
	for _, m := range list {
		out = append(out, m.Partner(userID))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
