package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/elearn/core"
	"github.com/trezcool/elearn/core/chat"
)

type chatRepository struct {
	db core.DB
}

var _ chat.Repository = (*chatRepository)(nil)

func NewChatRepository(db core.DB) chat.Repository {
	return &chatRepository{db: db}
}

func roomExists(ctx context.Context, db core.DBExecutor, roomID int) (bool, error) {
	n, err := count(ctx, db, "SELECT COUNT(*) FROM chat_room WHERE id = ?", roomID)
	if err != nil {
		return false, errors.Wrap(err, "checking room")
	}
	return n > 0, nil
}

func (repo *chatRepository) CreateRoomIfNotExist(ctx context.Context, room chat.Room) (chat.Room, bool, error) {
	q := `
INSERT INTO chat_room (name, description, created_at) VALUES (?, ?, ?)
ON CONFLICT (name) DO NOTHING
RETURNING id`
	id, err := insertReturningID(ctx, repo.db, q, room.Name, room.Description, room.CreatedAt)
	switch {
	case err == nil:
		room.ID = id
		return room, true, nil
	case errors.Is(err, sql.ErrNoRows):
		existing, err := repo.GetRoom(ctx, chat.RoomFilter{Name: room.Name})
		return existing, false, err
	default:
		return chat.Room{}, false, errors.Wrap(err, "inserting room")
	}
}

func (repo *chatRepository) GetRoom(ctx context.Context, filter chat.RoomFilter) (chat.Room, error) {
	q := "SELECT id, name, description, created_at FROM chat_room WHERE "
	var arg interface{}
	switch {
	case filter.ID != 0:
		q, arg = q+"id = ?", filter.ID
	case filter.Name != "":
		q, arg = q+"name = ?", filter.Name
	default:
		return chat.Room{}, chat.ErrRoomNotFound
	}

	var room chat.Room
	if err := repo.db.GetContext(ctx, &room, repo.db.Rebind(q), arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chat.Room{}, chat.ErrRoomNotFound
		}
		return chat.Room{}, errors.Wrap(err, "getting room")
	}
	room.CreatedAt = room.CreatedAt.UTC()
	return room, nil
}

func (repo *chatRepository) QueryRooms(ctx context.Context, query chat.RoomQuery) ([]chat.Room, error) {
	var (
		where []string
		args  []interface{}
	)
	if query.MemberID != 0 {
		where = append(where, "EXISTS (SELECT 1 FROM chat_room_member m WHERE m.room_id = r.id AND m.user_id = ?)")
		args = append(args, query.MemberID)
	}
	if query.NotMemberID != 0 {
		where = append(where, "NOT EXISTS (SELECT 1 FROM chat_room_member m WHERE m.room_id = r.id AND m.user_id = ?)")
		args = append(args, query.NotMemberID)
	}

	q := "SELECT r.id, r.name, r.description, r.created_at FROM chat_room r"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY r.name"

	rooms := make([]chat.Room, 0)
	if err := repo.db.SelectContext(ctx, &rooms, repo.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "querying rooms")
	}
	for i := range rooms {
		rooms[i].CreatedAt = rooms[i].CreatedAt.UTC()
	}
	return rooms, nil
}

func (repo *chatRepository) AddRoomMember(ctx context.Context, roomID, userID int) error {
	return withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		found, err := roomExists(ctx, tx, roomID)
		if err != nil {
			return err
		}
		if !found {
			return chat.ErrRoomNotFound
		}
		q := "INSERT INTO chat_room_member (room_id, user_id) VALUES (?, ?) ON CONFLICT DO NOTHING"
		_, err = tx.ExecContext(ctx, tx.Rebind(q), roomID, userID)
		return errors.Wrap(err, "adding room member")
	})
}

func (repo *chatRepository) RemoveRoomMember(ctx context.Context, roomID, userID int) error {
	q := "DELETE FROM chat_room_member WHERE room_id = ? AND user_id = ?"
	_, err := repo.db.ExecContext(ctx, repo.db.Rebind(q), roomID, userID)
	return errors.Wrap(err, "removing room member")
}

func (repo *chatRepository) QueryRoomMembers(ctx context.Context, roomID int) ([]int, error) {
	ids, err := queryIDs(ctx, repo.db, "SELECT user_id FROM chat_room_member WHERE room_id = ? ORDER BY user_id", roomID)
	return ids, errors.Wrap(err, "querying room members")
}

func (repo *chatRepository) IsRoomMember(ctx context.Context, roomID, userID int) (bool, error) {
	n, err := count(ctx, repo.db, "SELECT COUNT(*) FROM chat_room_member WHERE room_id = ? AND user_id = ?", roomID, userID)
	if err != nil {
		return false, errors.Wrap(err, "checking room member")
	}
	return n > 0, nil
}

func (repo *chatRepository) CreateMessage(ctx context.Context, msg chat.Message) (chat.Message, error) {
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		found, err := roomExists(ctx, tx, msg.RoomID)
		if err != nil {
			return err
		}
		if !found {
			return chat.ErrRoomNotFound
		}
		q := "INSERT INTO chat_message (room_id, sender_id, content, created_at) VALUES (?, ?, ?, ?) RETURNING id"
		msg.ID, err = insertReturningID(ctx, tx, q, msg.RoomID, msg.SenderID, msg.Content, msg.CreatedAt)
		return errors.Wrap(err, "inserting message")
	})
	if err != nil {
		return chat.Message{}, err
	}
	return msg, nil
}

func (repo *chatRepository) QueryMessages(ctx context.Context, roomID int) ([]chat.Message, error) {
	q := "SELECT id, room_id, sender_id, content, created_at FROM chat_message WHERE room_id = ? ORDER BY created_at, id"
	msgs := make([]chat.Message, 0)
	if err := repo.db.SelectContext(ctx, &msgs, repo.db.Rebind(q), roomID); err != nil {
		return nil, errors.Wrap(err, "querying messages")
	}
	for i := range msgs {
		msgs[i].CreatedAt = msgs[i].CreatedAt.UTC()
	}
	return msgs, nil
}
