package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/lumeo-app/lumeo/internal/domain"
)

// ConversationStore is the durable read/write contract the session engine
// depends on. AppendMessage must preserve call order as persisted order;
// all operations are keyed by the owning user where they take one.
type ConversationStore interface {
	CreateConversation(ctx context.Context, userID, title string) (*domain.Conversation, error)
	GetConversation(ctx context.Context, userID string, id uuid.UUID) (*domain.Conversation, error)
	AppendMessage(ctx context.Context, conversationID uuid.UUID, role, content string) error
	LoadMessages(ctx context.Context, conversationID uuid.UUID) ([]domain.Message, error)
	ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error)
	DeleteConversation(ctx context.Context, userID string, id uuid.UUID) error
	ArchiveConversation(ctx context.Context, userID string, id uuid.UUID) error
	RenameConversation(ctx context.Context, userID string, id uuid.UUID, title string) error
}
