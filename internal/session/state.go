package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/openclaw/wagate-server-go/internal/model"
)

// legalTransitions is the pairing state machine for one entry. Leaving
// connected through a disconnect removes the entry instead of transitioning
// it. Expired and error have no outgoing steps: InitializeSession installs a
// fresh entry in initializing rather than moving the old one.
var legalTransitions = map[model.SessionStatus][]model.SessionStatus{
	model.SessionStatusInitializing: {model.SessionStatusGenerating, model.SessionStatusError},
	model.SessionStatusGenerating:   {model.SessionStatusReady, model.SessionStatusExpired, model.SessionStatusConnected, model.SessionStatusError},
	model.SessionStatusReady:        {model.SessionStatusReady, model.SessionStatusExpired, model.SessionStatusConnected, model.SessionStatusError},
	model.SessionStatusExpired:      {},
	model.SessionStatusConnected:    {model.SessionStatusError},
	model.SessionStatusError:        {},
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to model.SessionStatus) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// PairingState is an immutable snapshot of one session's pairing progress.
// A new value is published on every committed transition.
type PairingState struct {
	SessionID       string
	OwnerID         string
	Status          model.SessionStatus
	PairingPayload  string
	Identity        string
	Error           string
	ErrorCode       string
	Retryable       bool
	CreatedAt       time.Time
	LastUpdated     time.Time
	PayloadIssuedAt time.Time

	image *pairingImage
}

// pairingImage caches the encoded form of one payload. It travels with the
// snapshot so rotation discards it together with the payload.
type pairingImage struct {
	once sync.Once
	png  []byte
	err  error
}

func newPairingState(sessionID, ownerID string, now time.Time) *PairingState {
	return &PairingState{
		SessionID:   sessionID,
		OwnerID:     ownerID,
		Status:      model.SessionStatusInitializing,
		CreatedAt:   now,
		LastUpdated: now,
	}
}

// next copies s into a new snapshot moved to status. Leaving the pairing
// statuses clears the payload and its cached image.
func (s *PairingState) next(to model.SessionStatus, now time.Time) (*PairingState, error) {
	if !CanTransition(s.Status, to) {
		return nil, fmt.Errorf("illegal transition %s -> %s", s.Status, to)
	}
	n := *s
	n.Status = to
	n.LastUpdated = now
	if to != model.SessionStatusGenerating && to != model.SessionStatusReady {
		n.PairingPayload = ""
		n.PayloadIssuedAt = time.Time{}
		n.image = nil
	}
	if to != model.SessionStatusError {
		n.Error = ""
		n.ErrorCode = ""
		n.Retryable = false
	}
	return &n, nil
}

func (s *PairingState) withPayload(payload string, now time.Time) {
	s.PairingPayload = payload
	s.PayloadIssuedAt = now
	s.image = &pairingImage{}
}

// ExpiresAt is when the current pairing payload stops being valid.
func (s *PairingState) ExpiresAt(window time.Duration) *time.Time {
	if s.Status != model.SessionStatusReady || s.PayloadIssuedAt.IsZero() {
		return nil
	}
	t := s.PayloadIssuedAt.Add(window)
	return &t
}

// Image encodes the pairing payload once per snapshot.
func (s *PairingState) Image(encode func(string) ([]byte, error)) ([]byte, error) {
	if s.image == nil || s.PairingPayload == "" {
		return nil, nil
	}
	s.image.once.Do(func() {
		s.image.png, s.image.err = encode(s.PairingPayload)
	})
	return s.image.png, s.image.err
}

// durableStatus is the simplified status mirrored into the session record.
func durableStatus(s model.SessionStatus) model.SessionStatus {
	if s == model.SessionStatusError {
		return model.SessionStatusDisconnected
	}
	return s
}
