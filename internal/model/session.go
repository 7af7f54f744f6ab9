package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// SessionSettings is stored as JSONB alongside the session record.
type SessionSettings struct {
	AutoReply           bool                `json:"autoReply"`
	AutoReplyText       string              `json:"autoReplyText,omitempty"`
	GroupPolicy         GroupPolicy         `json:"groupPolicy,omitempty"`
	UnknownSenderPolicy UnknownSenderPolicy `json:"unknownSenderPolicy,omitempty"`
}

func DefaultSessionSettings() SessionSettings {
	return SessionSettings{
		GroupPolicy:         GroupPolicyIgnore,
		UnknownSenderPolicy: UnknownSenderAllow,
	}
}

func (s SessionSettings) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *SessionSettings) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = DefaultSessionSettings()
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return errors.New("session settings: unsupported scan type")
	}
}

// SessionRecord is the durable view of a session. Connected is derived from
// Status and only kept as a column for indexing and external readers.
type SessionRecord struct {
	ID                  string          `db:"id" json:"id"`
	OwnerID             string          `db:"owner_id" json:"ownerId"`
	BoundIdentity       *string         `db:"bound_identity" json:"boundIdentity,omitempty"`
	Connected           bool            `db:"connected" json:"connected"`
	Status              SessionStatus   `db:"status" json:"status"`
	WebhookTarget       *string         `db:"webhook_target" json:"webhookTarget,omitempty"`
	Settings            SessionSettings `db:"settings" json:"settings"`
	LastPairingPayload  *string         `db:"last_pairing_payload" json:"-"`
	LastPairingIssuedAt *time.Time      `db:"last_pairing_issued_at" json:"lastPairingIssuedAt,omitempty"`
	LastActivity        *time.Time      `db:"last_activity" json:"lastActivity,omitempty"`
	LastError           *string         `db:"last_error" json:"lastError,omitempty"`
	LastErrorCode       *string         `db:"last_error_code" json:"lastErrorCode,omitempty"`
	CreatedAt           time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time       `db:"updated_at" json:"updatedAt"`
}

// SetStatus updates Status and keeps Connected consistent with it. Entering
// connected requires a bound identity.
func (r *SessionRecord) SetStatus(status SessionStatus) error {
	if status == SessionStatusConnected && (r.BoundIdentity == nil || *r.BoundIdentity == "") {
		return errors.New("connected session requires a bound identity")
	}
	r.Status = status
	r.Connected = status == SessionStatusConnected
	if !status.IsPairing() {
		r.LastPairingPayload = nil
	}
	return nil
}

type CreateSessionParams struct {
	ID            string
	OwnerID       string
	Settings      SessionSettings
	WebhookTarget *string
}
