package model

import (
	"time"
)

type Message struct {
	ID                string        `db:"id" json:"id"`
	SessionID         string        `db:"session_id" json:"sessionId"`
	OwnerID           string        `db:"owner_id" json:"ownerId"`
	Recipient         string        `db:"recipient" json:"recipient"`
	Kind              MessageKind   `db:"kind" json:"kind"`
	Body              *string       `db:"body" json:"body,omitempty"`
	MediaMime         *string       `db:"media_mime" json:"mediaMime,omitempty"`
	MediaSize         *int64        `db:"media_size" json:"mediaSize,omitempty"`
	Status            MessageStatus `db:"status" json:"status"`
	ProviderMessageID *string       `db:"provider_message_id" json:"providerMessageId,omitempty"`
	ErrorMessage      *string       `db:"error_message" json:"errorMessage,omitempty"`
	CreatedAt         time.Time     `db:"created_at" json:"createdAt"`
	SentAt            *time.Time    `db:"sent_at" json:"sentAt,omitempty"`
}

type CreateMessageParams struct {
	SessionID string
	OwnerID   string
	Recipient string
	Kind      MessageKind
	Body      *string
	MediaMime *string
	MediaSize *int64
}
