package chat

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

var (
	// errors
	ErrRoomNotFound    = errors.New("chat room not found")
	ErrUnauthenticated = errors.New("connection not authenticated")
	ErrEmptyMessage    = errors.New("message may not be blank")
	ErrMessageTooLong  = errors.New("message is too long")
)

type (
	RoomFilter struct {
		ID   int
		Name string
	}

	// RoomQuery selects rooms by membership; zero fields are ignored.
	RoomQuery struct {
		MemberID    int
		NotMemberID int
	}

	Repository interface {
		// CreateRoomIfNotExist returns the room named room.Name, creating it first if needed.
		CreateRoomIfNotExist(ctx context.Context, room Room) (Room, bool, error)
		GetRoom(ctx context.Context, filter RoomFilter) (Room, error)
		// QueryRooms returns rooms ordered by name.
		QueryRooms(ctx context.Context, query RoomQuery) ([]Room, error)
		AddRoomMember(ctx context.Context, roomID, userID int) error
		RemoveRoomMember(ctx context.Context, roomID, userID int) error
		QueryRoomMembers(ctx context.Context, roomID int) ([]int, error)
		IsRoomMember(ctx context.Context, roomID, userID int) (bool, error)

		// CreateMessage returns ErrRoomNotFound if msg.RoomID does not exist.
		CreateMessage(ctx context.Context, msg Message) (Message, error)
		// QueryMessages returns the room's messages ordered by (created_at, id).
		QueryMessages(ctx context.Context, roomID int) ([]Message, error)
	}
)

// Registry manages rooms and their membership.
type Registry struct {
	repo     Repository
	validate *validator.Validate
}

func NewRegistry(repo Repository, validate *validator.Validate) *Registry {
	return &Registry{repo: repo, validate: validate}
}

// GetOrCreate is idempotent: it never creates two rooms with the same name.
func (r *Registry) GetOrCreate(ctx context.Context, nr NewRoom) (Room, bool, error) {
	nr.Clean()
	if err := r.validate.Struct(nr); err != nil {
		return Room{}, false, err
	}
	room := Room{
		Name:        nr.Name,
		Description: nr.Description,
		CreatedAt:   time.Now().UTC(),
	}
	return r.repo.CreateRoomIfNotExist(ctx, room)
}

func (r *Registry) Get(ctx context.Context, id int) (Room, error) {
	return r.repo.GetRoom(ctx, RoomFilter{ID: id})
}

func (r *Registry) GetByName(ctx context.Context, name string) (Room, error) {
	return r.repo.GetRoom(ctx, RoomFilter{Name: name})
}

func (r *Registry) AddMember(ctx context.Context, roomID, userID int) error {
	if _, err := r.Get(ctx, roomID); err != nil {
		return err
	}
	return r.repo.AddRoomMember(ctx, roomID, userID)
}

func (r *Registry) RemoveMember(ctx context.Context, roomID, userID int) error {
	if _, err := r.Get(ctx, roomID); err != nil {
		return err
	}
	return r.repo.RemoveRoomMember(ctx, roomID, userID)
}

func (r *Registry) Members(ctx context.Context, roomID int) ([]int, error) {
	return r.repo.QueryRoomMembers(ctx, roomID)
}

func (r *Registry) IsMember(ctx context.Context, roomID, userID int) (bool, error) {
	return r.repo.IsRoomMember(ctx, roomID, userID)
}

// ListMembership returns the rooms userID is subscribed to.
func (r *Registry) ListMembership(ctx context.Context, userID int) ([]Room, error) {
	return r.repo.QueryRooms(ctx, RoomQuery{MemberID: userID})
}

// ListNonMembership returns the rooms userID is not subscribed to.
func (r *Registry) ListNonMembership(ctx context.Context, userID int) ([]Room, error) {
	return r.repo.QueryRooms(ctx, RoomQuery{NotMemberID: userID})
}
