package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lumeo-app/lumeo/internal/domain"
)

type ConversationRepository struct {
	db *pgxpool.Pool
}

func NewConversationRepository(db *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{db: db}
}

func (r *ConversationRepository) CreateConversation(ctx context.Context, userID, title string) (*domain.Conversation, error) {
	conv := &domain.Conversation{
		ID:     uuid.New(),
		UserID: userID,
		Title:  title,
	}

	err := r.db.QueryRow(ctx,
		`INSERT INTO conversations (id, user_id, title)
		 VALUES ($1, $2, $3)
		 RETURNING created_at`,
		conv.ID, userID, title,
	).Scan(&conv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	return conv, nil
}

func (r *ConversationRepository) GetConversation(ctx context.Context, userID string, id uuid.UUID) (*domain.Conversation, error) {
	conv := &domain.Conversation{ID: id, UserID: userID}

	err := r.db.QueryRow(ctx,
		`SELECT title, archived, created_at
		 FROM conversations
		 WHERE id = $1 AND user_id = $2`,
		id, userID,
	).Scan(&conv.Title, &conv.Archived, &conv.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrConversationNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}

	return conv, nil
}

// AppendMessage persists one message at the next free sequence position.
// Per-conversation writes are serialized by the session engine, so the
// MAX+1 assignment cannot race with itself.
func (r *ConversationRepository) AppendMessage(ctx context.Context, conversationID uuid.UUID, role, content string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO messages (conversation_id, sequence, role, content)
		 SELECT $1, COALESCE(MAX(sequence), 0) + 1, $2, $3
		 FROM messages WHERE conversation_id = $1`,
		conversationID, role, content,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (r *ConversationRepository) LoadMessages(ctx context.Context, conversationID uuid.UUID) ([]domain.Message, error) {
	rows, err := r.db.Query(ctx,
		`SELECT role, content, created_at
		 FROM messages
		 WHERE conversation_id = $1
		 ORDER BY sequence`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return msgs, nil
}

func (r *ConversationRepository) ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, title, archived, created_at
		 FROM conversations
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []domain.Conversation
	for rows.Next() {
		c := domain.Conversation{UserID: userID}
		if err := rows.Scan(&c.ID, &c.Title, &c.Archived, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}

	return convs, nil
}

func (r *ConversationRepository) DeleteConversation(ctx context.Context, userID string, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM conversations WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConversationNotFound
	}
	return nil
}

func (r *ConversationRepository) ArchiveConversation(ctx context.Context, userID string, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE conversations SET archived = TRUE WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("archive conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConversationNotFound
	}
	return nil
}

func (r *ConversationRepository) RenameConversation(ctx context.Context, userID string, id uuid.UUID, title string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE conversations SET title = $3 WHERE id = $1 AND user_id = $2`,
		id, userID, title,
	)
	if err != nil {
		return fmt.Errorf("rename conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConversationNotFound
	}
	return nil
}
