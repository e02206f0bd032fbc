package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/trezcool/elearn/core"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
)

type State int

const (
	StateConnecting State = iota
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type trigger int

const (
	triggerAccept trigger = iota
	triggerRefuse
	triggerReceive
	triggerDeliver
	triggerDisconnect
)

// transitions lists the only legal moves; anything else is ignored.
// Deliveries while connecting are queued until the writer starts.
var transitions = map[State]map[trigger]State{
	StateConnecting: {
		triggerAccept:     StateJoined,
		triggerRefuse:     StateClosed,
		triggerDeliver:    StateConnecting,
		triggerDisconnect: StateClosed,
	},
	StateJoined: {
		triggerReceive:    StateJoined,
		triggerDeliver:    StateJoined,
		triggerDisconnect: StateClosed,
	},
}

type (
	// Socket is a message-oriented, full-duplex client connection.
	Socket interface {
		// ReadMessage blocks until the next text message arrives.
		ReadMessage() ([]byte, error)
		WriteMessage(data []byte) error
		Close() error
	}

	// Connection is one client connection bound to one room.
	Connection struct {
		id       string
		h        *Handler
		identity Identity
		room     Room
		group    string
		socket   Socket
		limiter  *rate.Limiter

		mu    sync.Mutex
		state State

		send      chan []byte
		done      chan struct{}
		closeOnce sync.Once
	}
)

var _ Member = (*Connection)(nil)

func (c *Connection) ID() string         { return c.id }
func (c *Connection) Room() Room         { return c.room }
func (c *Connection) Identity() Identity { return c.identity }

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// fire applies t to the current state and reports whether the transition is legal.
func (c *Connection) fire(t trigger) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	next, ok := transitions[c.state][t]
	if !ok {
		return false
	}
	c.state = next
	return true
}

// Deliver queues ev for the client without blocking.
func (c *Connection) Deliver(ev Event) error {
	if !c.fire(triggerDeliver) {
		return ErrConnectionClosed
	}
	data, err := json.Marshal(outboundFrame{Message: ev.Message, DisplayName: ev.DisplayName})
	if err != nil {
		return errors.Wrap(err, "encoding frame")
	}
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// Serve reads client frames until the socket fails or ctx is done, then disconnects.
func (c *Connection) Serve(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.h.logger.Error(fmt.Sprintf("chat connection %s: panic: %v", c.id, r))
		}
		c.disconnect()
	}()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.socket.Close()
		case <-stop:
		}
	}()

	for {
		data, err := c.socket.ReadMessage()
		if err != nil {
			c.h.logger.Debug(fmt.Sprintf("chat connection %s: read: %v", c.id, err))
			return
		}
		c.receive(ctx, data)
	}
}

func (c *Connection) receive(ctx context.Context, data []byte) {
	if !c.fire(triggerReceive) {
		return
	}

	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Message == nil {
		return
	}
	text := core.CleanString(*frame.Message)
	if text == "" {
		return
	}
	if c.limiter != nil && !c.limiter.Allow() {
		return
	}

	msg, err := c.h.messages.Append(ctx, c.room.ID, c.identity.UserID, text)
	if err != nil {
		if !core.IsValidationError(err) {
			c.h.logger.Error(fmt.Sprintf("chat connection %s: appending message: %v", c.id, err), err)
		}
		return
	}

	name, ok := c.h.displayName(ctx, c.identity)
	if !ok {
		return
	}

	ev := Event{Type: EventChatMessage, Message: msg.Content, DisplayName: name}
	if err := c.h.broadcaster.SendToGroup(ctx, c.group, ev); err != nil {
		c.h.logger.Error(fmt.Sprintf("chat connection %s: sending to %s: %v", c.id, c.group, err), err)
	}
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.send:
			if err := c.socket.WriteMessage(data); err != nil {
				c.h.logger.Debug(fmt.Sprintf("chat connection %s: write: %v", c.id, err))
				_ = c.socket.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// disconnect runs once, whatever ended the connection.
func (c *Connection) disconnect() {
	c.closeOnce.Do(func() {
		c.fire(triggerDisconnect)
		close(c.done)

		if c.group != "" {
			if err := c.h.broadcaster.LeaveGroup(context.Background(), c.group, c); err != nil {
				c.h.logger.Error(fmt.Sprintf("chat connection %s: leaving %s: %v", c.id, c.group, err), err)
			}
		}
		if c.socket != nil {
			_ = c.socket.Close()
		}
	})
}
