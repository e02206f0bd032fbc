package echoapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/elearn/core/chat"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	defaultTimeout = 10 * time.Second

	// a rune is at most 12 bytes once JSON-escaped ("\ud83d\ude00")
	maxEscapedRuneSize = 12
	readLimitSlack       = 64 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// wsSocket adapts a gorilla connection to chat.Socket.
// Only the connection's writer calls WriteMessage; pings and the close frame go through WriteControl.
type wsSocket struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	done         chan struct{}
	closeOnce    sync.Once
}

var _ chat.Socket = (*wsSocket)(nil)

// readLimit leaves room for any escaped message of maxLength characters plus slack:
// frames over the character limit but under readLimit are dropped by the store, not by the socket.
func readLimit(maxLength int) int64 {
	return int64(maxLength*maxEscapedRuneSize) + readLimitSlack
}

func newWSSocket(conn *websocket.Conn, writeTimeout time.Duration, maxLength int) *wsSocket {
	if writeTimeout <= 0 {
		writeTimeout = defaultTimeout
	}
	s := &wsSocket{
		conn:         conn,
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}

	conn.SetReadLimit(readLimit(maxLength))
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go s.ping()
	return s
}

func (s *wsSocket) ping() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout)); err != nil {
				_ = s.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

// ReadMessage skips binary frames.
func (s *wsSocket) ReadMessage() ([]byte, error) {
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.TextMessage {
			return data, nil
		}
	}
}

func (s *wsSocket) WriteMessage(data []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSocket) Close() error {
	err := chat.ErrConnectionClosed
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(s.writeTimeout),
		)
		err = s.conn.Close()
	})
	return err
}

// chatSocket upgrades an admitted request to a chat connection of room ":id".
// Refused handshakes get a bare 403.
func (s *Server) chatSocket(ctx echo.Context) error {
	cc := chat.ConnContext{RoomID: ctx.Param("id")}
	if tokenStr := requestToken(ctx); tokenStr != "" {
		if claims, err := ParseToken(s.deps.Conf, tokenStr); err == nil {
			cc.UserID = claims.UserID()
		}
	}

	conn, err := s.deps.Chat.Connect(ctx.Request().Context(), cc, func() (chat.Socket, error) {
		ws, err := upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
		if err != nil {
			return nil, err
		}
		return newWSSocket(ws, s.deps.Chat.Options().WriteTimeout, s.deps.Messages.MaxLength()), nil
	})
	if err != nil {
		// the upgrader has already answered
		if ctx.Response().Committed {
			return nil
		}
		if cause := errors.Cause(err); cause == chat.ErrUnauthenticated || cause == chat.ErrRoomNotFound {
			return ctx.NoContent(http.StatusForbidden)
		}
		return errors.Wrap(err, "connecting to chat")
	}

	s.conns.Add(1)
	go func() {
		defer s.conns.Done()
		conn.Serve(s.sockets)
	}()
	return nil
}
