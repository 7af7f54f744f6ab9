package model

import "time"

type EventType string

const (
	EventSessionPairing      EventType = "session.pairing"
	EventSessionConnected    EventType = "session.connected"
	EventSessionDisconnected EventType = "session.disconnected"
	EventSessionAuthFailed   EventType = "session.auth_failed"
	EventSessionExpired      EventType = "session.expired"
	EventMessageSent         EventType = "message.sent"
	EventMessageFailed       EventType = "message.failed"
)

// WebhookEvent is delivered to the owner's webhook target and SSE subscribers.
type WebhookEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	OwnerID    string    `json:"ownerId"`
	SessionID  string    `json:"sessionId"`
	OccurredAt time.Time `json:"occurredAt"`
	Data       any       `json:"data,omitempty"`
}

// SessionEventData is the Data of session.* events.
type SessionEventData struct {
	Status        SessionStatus `json:"status"`
	BoundIdentity string        `json:"boundIdentity,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	ExpiresAt     *time.Time    `json:"expiresAt,omitempty"`
}

// MessageEventData is the Data of message.* events.
type MessageEventData struct {
	MessageID         string      `json:"messageId"`
	Recipient         string      `json:"recipient"`
	Kind              MessageKind `json:"kind"`
	ProviderMessageID string      `json:"providerMessageId,omitempty"`
	Error             string      `json:"error,omitempty"`
}
