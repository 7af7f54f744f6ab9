package adapter

import (
	"context"
	"time"
)

// MessageHandle identifies a message accepted by the remote network.
type MessageHandle struct {
	ID     string    `json:"id"`
	SentAt time.Time `json:"sentAt"`
}

type Media struct {
	MimeType string
	Filename string
	Data     []byte
}

// Conn is one native connection to the messaging network. Events is closed
// when the connection ends for any reason.
type Conn interface {
	Events() <-chan Event
	SendText(ctx context.Context, to, body string) (MessageHandle, error)
	SendMedia(ctx context.Context, to string, media Media, caption string) (MessageHandle, error)
	Live() bool
	Close() error
}

// Driver dials native connections. Dial must honor ctx cancellation.
type Driver interface {
	Dial(ctx context.Context, sessionID string) (Conn, error)
}
