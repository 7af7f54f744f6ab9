package adapter

import "time"

type EventKind string

const (
	EventPairingIssued EventKind = "pairing-issued"
	EventAuthenticated EventKind = "authenticated"
	EventReady         EventKind = "ready"
	EventDisconnected  EventKind = "disconnected"
	EventAuthFailed    EventKind = "auth-failed"
)

// Event is one normalized lifecycle notification from a device connection.
// Only the field matching Kind is set.
type Event struct {
	Kind     EventKind
	Payload  string // pairing-issued
	Identity string // authenticated
	Reason   string // disconnected, auth-failed
	At       time.Time
}

func (e Event) terminal() bool {
	return e.Kind == EventDisconnected || e.Kind == EventAuthFailed
}

func PairingIssued(payload string) Event {
	return Event{Kind: EventPairingIssued, Payload: payload, At: time.Now()}
}

func Authenticated(identity string) Event {
	return Event{Kind: EventAuthenticated, Identity: identity, At: time.Now()}
}

func Ready() Event {
	return Event{Kind: EventReady, At: time.Now()}
}

func Disconnected(reason string) Event {
	return Event{Kind: EventDisconnected, Reason: reason, At: time.Now()}
}

func AuthFailed(reason string) Event {
	return Event{Kind: EventAuthFailed, Reason: reason, At: time.Now()}
}
