package model

// SessionStatus is the durable view of a session's connectivity. It mirrors
// the pairing state machine plus "disconnected" for sessions with no live
// pairing attempt.
type SessionStatus string

const (
	SessionStatusInitializing SessionStatus = "initializing"
	SessionStatusGenerating   SessionStatus = "generating"
	SessionStatusReady        SessionStatus = "ready"
	SessionStatusExpired      SessionStatus = "expired"
	SessionStatusConnected    SessionStatus = "connected"
	SessionStatusError        SessionStatus = "error"
	SessionStatusDisconnected SessionStatus = "disconnected"

	// SessionStatusNotFound is returned for unknown session ids. It is never persisted.
	SessionStatusNotFound SessionStatus = "not_found"
)

// IsPairing reports whether the status belongs to an in-flight pairing attempt.
func (s SessionStatus) IsPairing() bool {
	switch s {
	case SessionStatusInitializing, SessionStatusGenerating, SessionStatusReady:
		return true
	}
	return false
}

type MessageKind string

const (
	MessageKindText  MessageKind = "text"
	MessageKindMedia MessageKind = "media"
)

type MessageStatus string

const (
	MessageStatusPending MessageStatus = "pending"
	MessageStatusSent    MessageStatus = "sent"
	MessageStatusFailed  MessageStatus = "failed"
)

type GroupPolicy string

const (
	GroupPolicyIgnore  GroupPolicy = "ignore"
	GroupPolicyForward GroupPolicy = "forward"
)

type UnknownSenderPolicy string

const (
	UnknownSenderAllow UnknownSenderPolicy = "allow"
	UnknownSenderBlock UnknownSenderPolicy = "block"
)
