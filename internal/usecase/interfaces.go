package usecase

import (
	"context"

	"agrolink/internal/domain/entity"
	"agrolink/internal/infrastructure/push"
)

// BackendClient is the REST collaborator contract consumed by the
// conversation core.
type BackendClient interface {
	FetchRecentConversations(ctx context.Context, userID string) ([]entity.Conversation, error)
	FetchUsers(ctx context.Context) ([]entity.User, error)
	MarkMessagesRead(ctx context.Context, userID, counterpartID string) error
	SendMessage(ctx context.Context, msg *entity.Message) (*entity.Message, error)
}

// PushChannel delivers inbound message events for one user in arrival order.
// The channel closes when the transport drops; the controller then relies on
// its periodic refresh until a new controller instance resubscribes.
type PushChannel interface {
	Subscribe(ctx context.Context, userID string) (<-chan push.InboundMessage, error)
	Close() error
}

// Notifier receives user-facing notification events for inbound messages on
// inactive conversations.
type Notifier interface {
	Notify(userID string, event push.NotificationEvent)
}
