package chat

import (
	"strconv"
	"time"

	"github.com/trezcool/elearn/core"
	"github.com/trezcool/elearn/core/user"
)

const (
	RoomNameMaxLength        = 128
	RoomDescriptionMaxLength = 256
	DefaultMessageMaxLength  = 512

	// EventChatMessage is the only Event type relayed to room members.
	EventChatMessage = "chat_message"
)

type Room struct {
	ID          int       `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"` // UTC
}

// Group returns the broadcast group name of the room's live connections.
func (r Room) Group() string {
	return GroupName(r.ID)
}

func GroupName(roomID int) string {
	return "chat_" + strconv.Itoa(roomID)
}

// NewRoom contains information needed to create a new Room.
type NewRoom struct {
	Name        string `json:"room_name" form:"room_name" query:"room_name" validate:"required,notblank,max=128"`
	Description string `json:"description" form:"description" validate:"max=256"`
}

func (nr *NewRoom) Clean() {
	nr.Name = core.CleanString(nr.Name)
	nr.Description = core.CleanString(nr.Description)
}

type Message struct {
	ID        int       `json:"id" db:"id"`
	RoomID    int       `json:"room_id" db:"room_id"`
	SenderID  int       `json:"sender_id" db:"sender_id"`
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"` // UTC
}

// Identity is the authenticated principal of a connection, resolved once by the Gate.
type Identity struct {
	UserID   int
	Username string
	Caps     user.Capabilities
}

func newIdentity(usr user.User) Identity {
	return Identity{
		UserID:   usr.ID,
		Username: usr.Username,
		Caps:     usr.Capabilities(),
	}
}

// ConnContext is what the transport knows about an incoming connection.
// UserID is zero for anonymous connections.
type ConnContext struct {
	RoomID string
	UserID int
}

// Event is relayed through a Broadcaster to every member of a group.
type Event struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	DisplayName string `json:"display_name"`
}

type (
	inboundFrame struct {
		Message *string `json:"message"`
	}

	outboundFrame struct {
		Message     string `json:"message"`
		DisplayName string `json:"display_name"`
	}
)
