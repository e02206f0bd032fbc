package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/elearn/core/chat"
)

type chatRepository struct {
	db *DB
}

var _ chat.Repository = (*chatRepository)(nil)

func NewChatRepository(db *DB) chat.Repository {
	return &chatRepository{db: db}
}

func (repo *chatRepository) CreateRoomIfNotExist(_ context.Context, room chat.Room) (chat.Room, bool, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	for _, r := range repo.db.rooms {
		if r.Name == room.Name {
			return *r, false, nil
		}
	}
	room.ID = repo.db.nextPK("chat_room")
	repo.db.rooms[room.ID] = &room
	return room, true, nil
}

func (repo *chatRepository) GetRoom(_ context.Context, filter chat.RoomFilter) (chat.Room, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if filter.ID != 0 {
		if r, ok := repo.db.rooms[filter.ID]; ok {
			return *r, nil
		}
		return chat.Room{}, chat.ErrRoomNotFound
	}
	for _, r := range repo.db.rooms {
		if filter.Name != "" && r.Name == filter.Name {
			return *r, nil
		}
	}
	return chat.Room{}, chat.ErrRoomNotFound
}

func (repo *chatRepository) QueryRooms(_ context.Context, query chat.RoomQuery) ([]chat.Room, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	rooms := make([]chat.Room, 0, len(repo.db.rooms))
	for _, r := range repo.db.rooms {
		if query.MemberID != 0 {
			if _, ok := repo.db.roomMembers[membership{r.ID, query.MemberID}]; !ok {
				continue
			}
		}
		if query.NotMemberID != 0 {
			if _, ok := repo.db.roomMembers[membership{r.ID, query.NotMemberID}]; ok {
				continue
			}
		}
		rooms = append(rooms, *r)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Name < rooms[j].Name })
	return rooms, nil
}

func (repo *chatRepository) AddRoomMember(_ context.Context, roomID, userID int) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()
	if _, ok := repo.db.rooms[roomID]; !ok {
		return chat.ErrRoomNotFound
	}
	repo.db.roomMembers[membership{roomID, userID}] = struct{}{}
	return nil
}

func (repo *chatRepository) RemoveRoomMember(_ context.Context, roomID, userID int) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()
	delete(repo.db.roomMembers, membership{roomID, userID})
	return nil
}

func (repo *chatRepository) QueryRoomMembers(_ context.Context, roomID int) ([]int, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	ids := make([]int, 0)
	for m := range repo.db.roomMembers {
		if m.parentID == roomID {
			ids = append(ids, m.userID)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

func (repo *chatRepository) IsRoomMember(_ context.Context, roomID, userID int) (bool, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	_, ok := repo.db.roomMembers[membership{roomID, userID}]
	return ok, nil
}

func (repo *chatRepository) CreateMessage(_ context.Context, msg chat.Message) (chat.Message, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.rooms[msg.RoomID]; !ok {
		return chat.Message{}, chat.ErrRoomNotFound
	}
	msg.ID = repo.db.nextPK("chat_message")
	repo.db.messages[msg.ID] = &msg
	return msg, nil
}

func (repo *chatRepository) QueryMessages(_ context.Context, roomID int) ([]chat.Message, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	msgs := make([]chat.Message, 0)
	for _, msg := range repo.db.messages {
		if msg.RoomID == roomID {
			msgs = append(msgs, *msg)
		}
	}
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, nil
}
