package usecase

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"agrolink/internal/domain/entity"
	"agrolink/pkg/errors"
)

type SendMessageInput struct {
	ReceiverID string
	Text       string
	Attachment *entity.Attachment
}

// SendUseCase runs the two-phase send: an optimistic local insert with
// status "sending", then either the server-confirmed message ("sent", which
// bumps the conversation preview) or the same message marked "failed". The
// caller always gets an explicit result, never a fire-and-forget callback.
type SendUseCase struct {
	recent  *RecentConversationsUseCase
	backend BackendClient
}

func NewSendUseCase(recent *RecentConversationsUseCase, backend BackendClient) *SendUseCase {
	return &SendUseCase{
		recent:  recent,
		backend: backend,
	}
}

func (uc *SendUseCase) SendMessage(ctx context.Context, input SendMessageInput) (*entity.Message, error) {
	userID := uc.recent.UserID()
	if userID == "" {
		return nil, errors.Conflict("Conversation controller is not initialized")
	}
	if input.ReceiverID == "" {
		return nil, errors.BadRequest("Receiver id is required", nil)
	}
	if input.ReceiverID == userID {
		log.Printf("SendMessage: user %s attempted to message themselves", userID)
		return nil, errors.BadRequest("You cannot send a message to yourself", nil)
	}
	if input.Text == "" && input.Attachment == nil {
		return nil, errors.BadRequest("Message text or attachment is required", nil)
	}

	msg := &entity.Message{
		ID:         uuid.NewString(),
		SenderID:   userID,
		ReceiverID: input.ReceiverID,
		Text:       input.Text,
		Attachment: input.Attachment,
		Status:     entity.StatusSending,
		CreatedAt:  time.Now(),
	}

	// Optimistic phase: the conversation preview reflects the outgoing
	// message before the server confirms. Own sends never count as unread.
	uc.recent.AddOrUpdateConversation(entity.Conversation{
		CounterpartID: input.ReceiverID,
		LastMessage:   previewText(msg),
		LastMessageAt: msg.CreatedAt,
	})

	confirmed, err := uc.backend.SendMessage(ctx, msg)
	if err != nil {
		log.Printf("SendMessage Error: delivery to %s failed: %v", input.ReceiverID, err)
		msg.Status = entity.StatusFailed
		return msg, err
	}

	uc.recent.BumpLastMessage(input.ReceiverID, previewText(confirmed), false)
	return confirmed, nil
}

func previewText(msg *entity.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	if msg.Attachment != nil {
		return msg.Attachment.Name
	}
	return ""
}
