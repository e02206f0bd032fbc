package chat_test

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/trezcool/elearn/core"
	"github.com/trezcool/elearn/core/chat"
	"github.com/trezcool/elearn/core/user"
	inmemdb "github.com/trezcool/elearn/storage/database/inmem"
	"github.com/trezcool/elearn/testutil"
)

// fakeSocket is an in-memory chat.Socket; the test plays the client on the other end.
type fakeSocket struct {
	in  chan []byte
	out chan []byte

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (s *fakeSocket) ReadMessage() ([]byte, error) {
	select {
	case data := <-s.in:
		return data, nil
	case <-s.closed:
		return nil, chat.ErrConnectionClosed
	}
}

func (s *fakeSocket) WriteMessage(data []byte) error {
	select {
	case s.out <- data:
		return nil
	case <-s.closed:
		return chat.ErrConnectionClosed
	}
}

func (s *fakeSocket) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSocket) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *fakeSocket) send(t *testing.T, frame string) {
	t.Helper()
	select {
	case s.in <- []byte(frame):
	case <-time.After(time.Second):
		t.Fatal("client frame not read")
	}
}

type frame struct {
	Message     string `json:"message"`
	DisplayName string `json:"display_name"`
}

func (s *fakeSocket) receive(t *testing.T) frame {
	t.Helper()
	select {
	case data := <-s.out:
		var f frame
		require.NoError(t, json.Unmarshal(data, &f))
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return frame{}
	}
}

func (s *fakeSocket) assertNothing(t *testing.T) {
	t.Helper()
	select {
	case data := <-s.out:
		t.Errorf("unexpected frame %s", data)
	case <-time.After(200 * time.Millisecond):
	}
}

// spyBroadcaster is an in-process chat.Broadcaster exposing its groups.
type spyBroadcaster struct {
	*chat.Groups
	joinErr error
}

func (b *spyBroadcaster) JoinGroup(_ context.Context, group string, m chat.Member) error {
	if b.joinErr != nil {
		return b.joinErr
	}
	b.Add(group, m)
	return nil
}

func (b *spyBroadcaster) LeaveGroup(_ context.Context, group string, m chat.Member) error {
	b.Remove(group, m)
	return nil
}

func (b *spyBroadcaster) SendToGroup(_ context.Context, group string, ev chat.Event) error {
	b.Fanout(group, ev)
	return nil
}

type fixture struct {
	usrRepo     user.Repository
	usrSvc      *user.Service
	rooms       *chat.Registry
	messages    *chat.MessageStore
	broadcaster *spyBroadcaster
	logger      core.Logger

	student user.User
	king    user.User
	admin   user.User
	general chat.Room
}

func setup(t *testing.T) *fixture {
	t.Helper()
	conf := testutil.NewConfig()
	validate, _ := testutil.NewValidator()
	db := inmemdb.NewDB()
	chatRepo := inmemdb.NewChatRepository(db)

	f := &fixture{
		usrRepo: inmemdb.NewUserRepository(db),
		rooms:   chat.NewRegistry(chatRepo, validate),
		logger:  testutil.NewLogger(conf),
	}
	f.usrSvc = user.NewService(f.usrRepo)
	f.messages = chat.NewMessageStore(chatRepo, 20)
	f.broadcaster = &spyBroadcaster{Groups: chat.NewGroups(f.logger)}

	f.student = testutil.CreateUser(t, f.usrRepo, "Hero", "hero", "hero@test.cd", "", []string{user.RoleStudent}, true)
	f.king = testutil.CreateUser(t, f.usrRepo, "King", "king", "king@test.cd", "", []string{user.RoleStudent}, true)
	f.admin = testutil.CreateUser(t, f.usrRepo, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)

	var err error
	f.general, _, err = f.rooms.GetOrCreate(context.Background(), chat.NewRoom{Name: "General"})
	require.NoError(t, err)
	return f
}

type handlerOption func(*chat.Options)

func withStrictProfiles(o *chat.Options) { o.StrictProfiles = true }

func withRateLimit(limit rate.Limit, burst int) handlerOption {
	return func(o *chat.Options) {
		o.RateLimit = limit
		o.RateBurst = burst
	}
}

func withSendBuffer(size int) handlerOption {
	return func(o *chat.Options) { o.SendBufferSize = size }
}

func (f *fixture) handler(membersOnly bool, opts ...handlerOption) *chat.Handler {
	var o chat.Options
	for _, opt := range opts {
		opt(&o)
	}
	return chat.NewHandler(chat.NewGate(f.usrSvc, f.rooms, membersOnly), f.messages, f.usrSvc, f.broadcaster, f.logger, o)
}

// connect admits usr to room and serves the connection until the test ends.
func (f *fixture) connect(t *testing.T, h *chat.Handler, usr user.User, room chat.Room) (*chat.Connection, *fakeSocket) {
	t.Helper()
	socket := newFakeSocket()
	conn, err := h.Connect(context.Background(), chatConnContext(usr, room), func() (chat.Socket, error) { return socket, nil })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		conn.Serve(ctx)
		close(served)
	}()
	t.Cleanup(func() {
		cancel()
		<-served
	})
	return conn, socket
}

func chatConnContext(usr user.User, room chat.Room) chat.ConnContext {
	return chat.ConnContext{RoomID: strconv.Itoa(room.ID), UserID: usr.ID}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 10*time.Millisecond, msg)
}
