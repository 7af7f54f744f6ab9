package repository

import (
	"context"
	"time"

	"github.com/openclaw/wagate-server-go/internal/database"
	"github.com/openclaw/wagate-server-go/internal/model"
)

type MessageRepository interface {
	FindByID(ctx context.Context, id string) (*model.Message, error)
	FindBySessionID(ctx context.Context, sessionID string, limit, offset int) ([]model.Message, error)
	CountBySessionID(ctx context.Context, sessionID string) (int, error)
	Create(ctx context.Context, params model.CreateMessageParams) (*model.Message, error)
	MarkSent(ctx context.Context, id string, providerMessageID string) error
	MarkFailed(ctx context.Context, id string, errorMsg string) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type messageRepo struct {
	db database.DBTX
}

func NewMessageRepository(db database.DBTX) MessageRepository {
	return &messageRepo{db: db}
}

func (r *messageRepo) FindByID(ctx context.Context, id string) (*model.Message, error) {
	var msg model.Message
	err := r.db.GetContext(ctx, &msg, `SELECT * FROM messages WHERE id = $1`, id)
	return HandleNotFound(&msg, err)
}

func (r *messageRepo) FindBySessionID(ctx context.Context, sessionID string, limit, offset int) ([]model.Message, error) {
	var msgs []model.Message
	err := r.db.SelectContext(ctx, &msgs, `
		SELECT * FROM messages
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, sessionID, limit, offset)
	return msgs, err
}

func (r *messageRepo) CountBySessionID(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages WHERE session_id = $1`, sessionID)
	return count, err
}

func (r *messageRepo) Create(ctx context.Context, params model.CreateMessageParams) (*model.Message, error) {
	var msg model.Message
	err := r.db.GetContext(ctx, &msg, `
		INSERT INTO messages (session_id, owner_id, recipient, kind, body, media_mime, media_size)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING *
	`, params.SessionID, params.OwnerID, params.Recipient, params.Kind, params.Body, params.MediaMime, params.MediaSize)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepo) MarkSent(ctx context.Context, id string, providerMessageID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages SET
			status = 'sent',
			provider_message_id = $2,
			sent_at = $3
		WHERE id = $1
	`, id, providerMessageID, time.Now())
	return err
}

func (r *messageRepo) MarkFailed(ctx context.Context, id string, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages SET
			status = 'failed',
			error_message = $2
		WHERE id = $1
	`, id, errorMsg)
	return err
}

func (r *messageRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return rowsAffected(r.db.ExecContext(ctx, `DELETE FROM messages WHERE created_at < $1`, cutoff))
}
