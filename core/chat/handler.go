package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/trezcool/elearn/core"
)

const defaultSendBufferSize = 64

type (
	MessageAppender interface {
		Append(ctx context.Context, roomID, senderID int, text string) (Message, error)
	}

	ProfileResolver interface {
		DisplayName(ctx context.Context, userID int) (string, error)
	}

	// AcceptFunc completes the transport handshake once the connection is admitted.
	AcceptFunc func() (Socket, error)

	Options struct {
		SendBufferSize int
		WriteTimeout   time.Duration // used by socket adapters
		RateLimit      rate.Limit    // messages per second; 0 disables
		RateBurst      int
		// StrictProfiles skips the broadcast when the sender has no display name,
		// instead of falling back to their username.
		StrictProfiles bool
	}

	// Handler admits connections to rooms and relays their messages.
	Handler struct {
		gate        Gate
		messages    MessageAppender
		profiles    ProfileResolver
		broadcaster Broadcaster
		logger      core.Logger
		opts        Options
	}
)

func NewHandler(
	gate Gate,
	messages MessageAppender,
	profiles ProfileResolver,
	broadcaster Broadcaster,
	logger core.Logger,
	opts Options,
) *Handler {
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = defaultSendBufferSize
	}
	return &Handler{
		gate:        gate,
		messages:    messages,
		profiles:    profiles,
		broadcaster: broadcaster,
		logger:      logger,
		opts:        opts,
	}
}

func (h *Handler) Options() Options { return h.opts }

// Connect authenticates cc, joins the room's group and then accepts the handshake.
// On error the handshake must be refused; the connection holds no group membership.
// The returned Connection is Joined and must be Served.
func (h *Handler) Connect(ctx context.Context, cc ConnContext, accept AcceptFunc) (*Connection, error) {
	c := &Connection{
		id:    uuid.NewString(),
		h:     h,
		state: StateConnecting,
		send:  make(chan []byte, h.opts.SendBufferSize),
		done:  make(chan struct{}),
	}

	ident, room, err := h.gate.Authenticate(ctx, cc)
	if err != nil {
		c.fire(triggerRefuse)
		return nil, err
	}
	c.identity = ident
	c.room = room
	c.group = room.Group()
	if h.opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(h.opts.RateLimit, h.opts.RateBurst)
	}

	if err = h.broadcaster.JoinGroup(ctx, c.group, c); err != nil {
		c.group = ""
		c.fire(triggerRefuse)
		return nil, errors.Wrap(err, "joining group")
	}

	socket, err := accept()
	if err != nil {
		c.disconnect()
		return nil, errors.Wrap(err, "accepting connection")
	}
	c.socket = socket
	c.fire(triggerAccept)
	go c.writeLoop()

	h.logger.Debug(fmt.Sprintf("chat connection %s: user %d joined %s", c.id, ident.UserID, c.group))
	return c, nil
}

// displayName resolves the sender's public name. A missing name is logged as an error;
// with StrictProfiles the message is then not relayed.
func (h *Handler) displayName(ctx context.Context, ident Identity) (string, bool) {
	name, err := h.profiles.DisplayName(ctx, ident.UserID)
	if err == nil && name != "" {
		return name, true
	}
	if err == nil {
		err = errors.New("empty display name")
	}
	h.logger.Error(fmt.Sprintf("resolving display name of user %d: %v", ident.UserID, err), err)
	if h.opts.StrictProfiles {
		return "", false
	}
	return ident.Username, true
}
