package broadcastsvc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/elearn/core/chat"
	"github.com/trezcool/elearn/testutil"
)

type testMember struct {
	id     string
	events chan chat.Event
}

func newTestMember(id string) *testMember {
	return &testMember{id: id, events: make(chan chat.Event, 8)}
}

func (m *testMember) ID() string { return m.id }

func (m *testMember) Deliver(ev chat.Event) error {
	select {
	case m.events <- ev:
		return nil
	default:
		return chat.ErrSendBufferFull
	}
}

func waitEvent(t *testing.T, m *testMember) chat.Event {
	t.Helper()
	select {
	case ev := <-m.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("%s: no event received", m.id)
		return chat.Event{}
	}
}

func assertNoEvent(t *testing.T, m *testMember) {
	t.Helper()
	select {
	case ev := <-m.events:
		t.Errorf("%s: unexpected event %+v", m.id, ev)
	case <-time.After(200 * time.Millisecond):
	}
}

// testAcrossProcesses checks that two Broadcasters sharing a broker behave as one.
func testAcrossProcesses(t *testing.T, b1, b2 Broadcaster) {
	ctx := context.Background()
	group := chat.GroupName(1)
	alice, bob := newTestMember("alice"), newTestMember("bob")

	require.NoError(t, b1.JoinGroup(ctx, group, alice))
	require.NoError(t, b2.JoinGroup(ctx, group, bob))

	ev := chat.Event{Type: chat.EventChatMessage, Message: "hello", DisplayName: "Alice"}
	require.NoError(t, b1.SendToGroup(ctx, group, ev))
	assert.Equal(t, ev, waitEvent(t, alice))
	assert.Equal(t, ev, waitEvent(t, bob))

	require.NoError(t, b2.LeaveGroup(ctx, group, bob))
	require.NoError(t, b2.SendToGroup(ctx, group, ev))
	assert.Equal(t, ev, waitEvent(t, alice))
	assertNoEvent(t, bob)

	// other groups are isolated
	require.NoError(t, b1.SendToGroup(ctx, chat.GroupName(2), ev))
	assertNoEvent(t, alice)

	require.NoError(t, b1.LeaveGroup(ctx, group, alice))
	// leaving twice is harmless
	require.NoError(t, b1.LeaveGroup(ctx, group, alice))
}

func TestNew(t *testing.T) {
	conf := testutil.NewConfig()
	logger := testutil.NewLogger(conf)

	b, err := New(conf, logger)
	require.NoError(t, err)
	assert.NoError(t, b.Close())

	conf.Chat.Broker = "carrier-pigeon"
	_, err = New(conf, logger)
	assert.Error(t, err)
}
