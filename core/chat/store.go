package chat

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/trezcool/elearn/core"
)

// MessageStore persists chat messages; they are immutable once appended.
type MessageStore struct {
	repo      Repository
	maxLength int
}

func NewMessageStore(repo Repository, maxLength int) *MessageStore {
	if maxLength <= 0 {
		maxLength = DefaultMessageMaxLength
	}
	return &MessageStore{repo: repo, maxLength: maxLength}
}

// MaxLength is the longest accepted message, in characters.
func (s *MessageStore) MaxLength() int { return s.maxLength }

// Append trims text and persists it with a server-assigned UTC timestamp.
func (s *MessageStore) Append(ctx context.Context, roomID, senderID int, text string) (Message, error) {
	text = core.CleanString(text)
	if text == "" {
		return Message{}, core.NewValidationError(ErrEmptyMessage, core.FieldError{Field: "message", Error: ErrEmptyMessage.Error()})
	}
	if utf8.RuneCountInString(text) > s.maxLength {
		return Message{}, core.NewValidationError(ErrMessageTooLong, core.FieldError{
			Field: "message",
			Error: fmt.Sprintf("ensure this field has no more than %d characters", s.maxLength),
		})
	}

	msg := Message{
		RoomID:    roomID,
		SenderID:  senderID,
		Content:   text,
		CreatedAt: time.Now().UTC(),
	}
	return s.repo.CreateMessage(ctx, msg)
}

func (s *MessageStore) ListByRoom(ctx context.Context, roomID int) ([]Message, error) {
	return s.repo.QueryMessages(ctx, roomID)
}
