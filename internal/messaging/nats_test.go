package messaging

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchFoundSubject(t *testing.T) {
	assert.Equal(t, "match.found.42", MatchFoundSubject(42))
}

// setupTestNATS connects to a local NATS server. Tests are skipped if unavailable.
func setupTestNATS(t *testing.T) *NATSClient {
	t.Helper()
	cfg := DefaultNATSConfig()
	cfg.MaxReconnects = 0
	c, err := NewNATSClient(cfg, zerolog.Nop())
	if err != nil {
		t.Skipf("skipping: NATS not available: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestServeRequests_RequestReply(t *testing.T) {
	c := setupTestNATS(t)
	require.NoError(t, c.ServeRequests(func(data []byte) []byte {
		return append([]byte("echo:"), data...)
	}))

	msg, err := c.conn.Request(SubjectRequest, []byte("ping"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "echo:ping", string(msg.Data))
}

func TestPublish_MatchFound(t *testing.T) {
	c := setupTestNATS(t)
	sub, err := c.conn.SubscribeSync(MatchFoundSubject(7))
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, c.Publish(MatchFoundSubject(7), []byte("hello")))
	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(msg.Data))
}
