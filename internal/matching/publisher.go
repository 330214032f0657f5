package matching

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/titi/matcher/internal/messaging"
)

// MatchFound is the payload published on match.found.<user_id> to each
// side of a new match.
type MatchFound struct {
	MatchID   string `json:"match_id"`
	UserID    int64  `json:"user_id"`
	PartnerID int64  `json:"partner_id"`
	CreatedAt int64  `json:"created_at"`
}

// Publisher is the subset of the NATS client the notifier needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes match.found events for both users of a new match.
type NATSNotifier struct {
	pub Publisher
	log zerolog.Logger
}

// NewNATSNotifier creates a notifier over pub.
func NewNATSNotifier(pub Publisher, log zerolog.Logger) *NATSNotifier {
	return &NATSNotifier{pub: pub, log: log}
}

func (n *NATSNotifier) MatchCreated(_ context.Context, m *Match) error {
	for _, user := range []int64{m.UserA, m.UserB} {
		msg := MatchFound{
			MatchID:   m.ID.String(),
			UserID:    user,
			PartnerID: m.Partner(user),
			CreatedAt: m.CreatedAt.Unix(),
		}
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("matching: marshal match.found for %d: %w", user, err)
		}
		if err := n.pub.Publish(messaging.MatchFoundSubject(user), data); err != nil {
			return fmt.Errorf("matching: publish match.found for %d: %w", user, err)
		}
	}
	n.log.Debug().Str("match_id", m.ID.String()).Int64("user_a", m.UserA).Int64("user_b", m.UserB).Msg("match published")
	return nil
}
