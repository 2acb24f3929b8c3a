package repository

import (
	"context"

	"agrolink/internal/domain/entity"
)

// ConversationCache is the durable per-user conversation list. Load never
// fails the caller: a missing or unreadable cache reads as an empty list.
type ConversationCache interface {
	Load(ctx context.Context, ownerID string) []entity.Conversation
	Save(ctx context.Context, ownerID string, list []entity.Conversation) error
	Close() error
}
