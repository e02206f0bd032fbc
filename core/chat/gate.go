package chat

import (
	"context"
	"strconv"

	"github.com/pkg/errors"

	"github.com/trezcool/elearn/core/user"
)

type (
	// Gate decides whether a connection may join a room. It runs once per connection.
	Gate interface {
		Authenticate(ctx context.Context, cc ConnContext) (Identity, Room, error)
	}

	UserFinder interface {
		GetByID(ctx context.Context, id int) (user.User, error)
	}

	sessionGate struct {
		users       UserFinder
		rooms       *Registry
		membersOnly bool
	}
)

var _ Gate = (*sessionGate)(nil)

// NewGate returns a Gate admitting any active user to any existing room.
// With membersOnly, only room members (and admins) are admitted.
func NewGate(users UserFinder, rooms *Registry, membersOnly bool) Gate {
	return &sessionGate{users: users, rooms: rooms, membersOnly: membersOnly}
}

func (g *sessionGate) Authenticate(ctx context.Context, cc ConnContext) (Identity, Room, error) {
	if cc.UserID == 0 {
		return Identity{}, Room{}, ErrUnauthenticated
	}
	roomID, err := strconv.Atoi(cc.RoomID)
	if err != nil || roomID <= 0 {
		return Identity{}, Room{}, ErrRoomNotFound
	}

	usr, err := g.users.GetByID(ctx, cc.UserID)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return Identity{}, Room{}, ErrUnauthenticated
		}
		return Identity{}, Room{}, errors.Wrap(err, "finding user by ID")
	}
	if !usr.IsActive {
		return Identity{}, Room{}, ErrUnauthenticated
	}

	room, err := g.rooms.Get(ctx, roomID)
	if err != nil {
		return Identity{}, Room{}, err
	}

	ident := newIdentity(usr)
	if g.membersOnly && !ident.Caps.IsAdmin {
		ok, err := g.rooms.IsMember(ctx, room.ID, usr.ID)
		if err != nil {
			return Identity{}, Room{}, errors.Wrap(err, "checking room membership")
		}
		if !ok {
			return Identity{}, Room{}, ErrUnauthenticated
		}
	}
	return ident, room, nil
}
