package broadcastsvc

import (
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/elearn/core/chat"
	"github.com/trezcool/elearn/testutil"
)

// TestRedisBroadcaster needs a live server, e.g. TEST_REDIS_URL=redis://localhost:6379/0
func TestRedisBroadcaster(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	logger := testutil.NewLogger(testutil.NewConfig())
	prefix := "test." + uuid.NewString() + "."

	b1, err := DialRedis(url, prefix, logger)
	require.NoError(t, err)
	defer func() { _ = b1.Close() }()

	b2, err := DialRedis(url, prefix, logger)
	require.NoError(t, err)
	defer func() { _ = b2.Close() }()

	testAcrossProcesses(t, b1, b2)
}

func TestRedisBroadcaster_staleSubscription(t *testing.T) {
	logger := testutil.NewLogger(testutil.NewConfig())
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer func() { _ = client.Close() }()
	b := NewRedisBroadcaster(client, "test.", logger)

	group := chat.GroupName(1)
	alice := newTestMember("alice")
	require.True(t, b.groups.Add(group, alice))

	ev := chat.Event{Type: chat.EventChatMessage, Message: "hello", DisplayName: "Alice"}
	payload, err := encodeEvent(ev)
	require.NoError(t, err)

	stale, current := &redis.PubSub{}, &redis.PubSub{}
	b.subs[group] = current

	b.deliver(group, stale, payload)
	assertNoEvent(t, alice)

	b.deliver(group, current, payload)
	assert.Equal(t, ev, waitEvent(t, alice))
}
