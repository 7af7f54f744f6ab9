// Package session owns the pairing state machine: it creates and destroys
// device adapters, drives per-session state from adapter events, and mirrors
// that state into the durable session record.
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/openclaw/wagate-server-go/internal/adapter"
	"github.com/openclaw/wagate-server-go/internal/config"
	apperrors "github.com/openclaw/wagate-server-go/internal/errors"
	"github.com/openclaw/wagate-server-go/internal/model"
	"github.com/openclaw/wagate-server-go/internal/repository"
)

// SessionStore is the durable side of a session. Satisfied by
// repository.SessionRepository.
type SessionStore interface {
	FindByID(ctx context.Context, id string) (*model.SessionRecord, error)
	ListByOwner(ctx context.Context, ownerID string) ([]model.SessionRecord, error)
	CreateWithinQuota(ctx context.Context, params model.CreateSessionParams, limit int) (*model.SessionRecord, int, error)
	UpdateConnectivity(ctx context.Context, id string, update repository.ConnectivityUpdate) (bool, error)
	UpdateSettings(ctx context.Context, id string, settings model.SessionSettings, webhookTarget *string) (*model.SessionRecord, error)
	Delete(ctx context.Context, id string) error
}

type OwnerStore interface {
	FindByID(ctx context.Context, id string) (*model.Owner, error)
}

// Notifier receives session lifecycle events. Notify must not block.
type Notifier interface {
	Notify(ctx context.Context, event model.WebhookEvent)
}

type ImageEncoder interface {
	Encode(payload string) ([]byte, error)
}

type Options struct {
	PairingExpiry      time.Duration
	MaxConcurrentOpens int
	OpenQueueTimeout   time.Duration
	Encoder            ImageEncoder
	Notifier           Notifier
	Now                func() time.Time
}

// NewSession holds the caller-supplied fields of a new session.
type NewSession struct {
	Settings      *model.SessionSettings
	WebhookTarget *string
}

// Status is the caller view of a session's pairing progress.
type Status struct {
	SessionID     string              `json:"sessionId"`
	Status        model.SessionStatus `json:"status"`
	PairingImage  string              `json:"pairingImage,omitempty"`
	BoundIdentity string              `json:"boundIdentity,omitempty"`
	Error         string              `json:"error,omitempty"`
	ErrorCode     string              `json:"errorCode,omitempty"`
	Retryable     bool                `json:"retryable,omitempty"`
	ExpiresAt     *time.Time          `json:"expiresAt,omitempty"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

type Orchestrator struct {
	sessions SessionStore
	owners   OwnerStore
	driver   adapter.Driver
	registry *Registry
	opens    *semaphore.Weighted
	encoder  ImageEncoder
	notifier Notifier

	expiry       time.Duration
	queueTimeout time.Duration
	now          func() time.Time

	wg      sync.WaitGroup
	closing atomic.Bool

	// mirrors for sessions that have left the registry, retried by the sweeper
	pendingMu sync.Mutex
	pending   map[string]repository.ConnectivityUpdate
}

func NewOrchestrator(sessions SessionStore, owners OwnerStore, driver adapter.Driver, opts Options) *Orchestrator {
	if opts.PairingExpiry <= 0 {
		opts.PairingExpiry = 5 * time.Minute
	}
	if opts.MaxConcurrentOpens <= 0 {
		opts.MaxConcurrentOpens = 16
	}
	if opts.OpenQueueTimeout <= 0 {
		opts.OpenQueueTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Orchestrator{
		sessions:     sessions,
		owners:       owners,
		driver:       driver,
		registry:     NewRegistry(),
		opens:        semaphore.NewWeighted(int64(opts.MaxConcurrentOpens)),
		encoder:      opts.Encoder,
		notifier:     opts.Notifier,
		expiry:       opts.PairingExpiry,
		queueTimeout: opts.OpenQueueTimeout,
		now:          opts.Now,
		pending:      make(map[string]repository.ConnectivityUpdate),
	}
}

func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// CreateSession provisions a durable record within the owner's plan quota.
// No device connection is opened.
func (o *Orchestrator) CreateSession(ctx context.Context, ownerID string, params NewSession) (*model.SessionRecord, error) {
	owner, err := o.owners.FindByID(ctx, ownerID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if owner == nil {
		return nil, apperrors.NotFound("Owner")
	}
	if owner.DisabledAt != nil {
		return nil, apperrors.Forbidden("Owner is disabled")
	}

	settings := model.DefaultSessionSettings()
	if params.Settings != nil {
		settings = *params.Settings
	}

	limits := owner.Plan.Limits()
	rec, used, err := o.sessions.CreateWithinQuota(ctx, model.CreateSessionParams{
		ID:            uuid.NewString(),
		OwnerID:       ownerID,
		Settings:      settings,
		WebhookTarget: params.WebhookTarget,
	}, limits.MaxSessions)
	if errors.Is(err, repository.ErrQuotaExceeded) {
		log.Info().
			Str("ownerId", ownerID).
			Str("plan", string(owner.Plan)).
			Int("limit", limits.MaxSessions).
			Msg("session quota exceeded")
		return nil, apperrors.QuotaExceeded(string(owner.Plan), limits.MaxSessions, used)
	}
	if err != nil {
		return nil, apperrors.Database(err)
	}

	log.Info().
		Str("sessionId", rec.ID).
		Str("ownerId", ownerID).
		Int("used", used).
		Msg("session created")

	return rec, nil
}

// Authorize loads a session and checks that ownerID owns it. Sessions of
// other owners are reported as not found.
func (o *Orchestrator) Authorize(ctx context.Context, ownerID, sessionID string) (*model.SessionRecord, error) {
	rec, err := o.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if rec == nil || rec.OwnerID != ownerID {
		return nil, apperrors.NotFound("Session")
	}
	return rec, nil
}

func guardInitialize(rec *model.SessionRecord, snap *PairingState) error {
	if snap != nil {
		switch snap.Status {
		case model.SessionStatusConnected:
			return apperrors.AlreadyConnected()
		case model.SessionStatusInitializing, model.SessionStatusGenerating:
			return apperrors.AlreadyPairing()
		}
		return nil
	}
	if rec.Status == model.SessionStatusConnected {
		return apperrors.AlreadyConnected()
	}
	return nil
}

// InitializeSession starts a pairing attempt. The adapter is opened in the
// background; callers poll GetStatus. A session already opening reports
// AlreadyPairing. One that is ready, expired or failed is torn down and
// replaced.
func (o *Orchestrator) InitializeSession(ctx context.Context, sessionID string) (*Status, error) {
	if o.closing.Load() {
		return nil, apperrors.SessionBusy()
	}

	rec, err := o.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if rec == nil {
		return nil, apperrors.NotFound("Session")
	}
	if err := guardInitialize(rec, o.registry.Snapshot(sessionID)); err != nil {
		return nil, err
	}

	if err := o.acquireOpen(ctx); err != nil {
		return nil, err
	}

	s := o.registry.lock(sessionID)
	defer o.registry.unlock(s)

	// the record may have been destroyed while we queued
	rec, err = o.sessions.FindByID(ctx, sessionID)
	if err == nil && rec == nil {
		err = apperrors.NotFound("Session")
	} else if err != nil {
		err = apperrors.Database(err)
	} else if o.closing.Load() {
		err = apperrors.SessionBusy()
	} else {
		err = guardInitialize(rec, s.snap.Load())
	}
	if err != nil {
		o.opens.Release(1)
		return nil, err
	}

	if old := s.entry; old != nil {
		log.Info().
			Str("sessionId", sessionID).
			Str("status", string(old.state.Status)).
			Msg("replacing pairing attempt")
		o.teardown(old)
		o.registry.clear(s)
	}

	e := &entry{
		ownerID:  rec.OwnerID,
		adapter:  adapter.New(sessionID, o.driver),
		holdsSem: true,
		state:    newPairingState(sessionID, rec.OwnerID, o.now()),
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	o.registry.install(s, e)

	liveAdapters.Inc()
	openSlotsInUse.Inc()
	transitionsTotal.WithLabelValues("none", string(model.SessionStatusInitializing)).Inc()
	o.mirror(s, e)

	o.wg.Add(1)
	go o.run(s, e)

	log.Info().Str("sessionId", sessionID).Msg("pairing started")
	return o.statusFrom(e.state), nil
}

func (o *Orchestrator) acquireOpen(ctx context.Context) error {
	wait, cancel := context.WithTimeout(ctx, o.queueTimeout)
	defer cancel()

	if err := o.opens.Acquire(wait, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		openRejectionsTotal.Inc()
		return apperrors.SessionBusy()
	}
	return nil
}

// run opens the adapter and consumes its events until the stream ends.
func (o *Orchestrator) run(s *slot, e *entry) {
	defer o.wg.Done()

	events, err := e.adapter.Open(e.ctx)
	if err != nil {
		o.withEntry(s, e, func() {
			log.Warn().Err(err).Str("sessionId", s.id).Msg("adapter open failed")
			o.fail(s, e, apperrors.AdapterOpenFailed(err))
		})
		return
	}

	o.withEntry(s, e, func() {
		o.transition(s, e, model.SessionStatusGenerating, nil)
	})

	for ev := range events {
		o.withEntry(s, e, func() {
			o.handleEvent(s, e, ev)
		})
	}
}

// withEntry runs fn with the slot locked, but only while e is still the
// slot's current entry.
func (o *Orchestrator) withEntry(s *slot, e *entry, fn func()) {
	s.mu.Lock()
	if s.removed || s.entry != e {
		s.mu.Unlock()
		return
	}
	fn()
	o.registry.unlock(s)
}

func (o *Orchestrator) handleEvent(s *slot, e *entry, ev adapter.Event) {
	if e.closed {
		return
	}
	status := e.state.Status
	pairing := status == model.SessionStatusGenerating || status == model.SessionStatusReady

	switch ev.Kind {
	case adapter.EventPairingIssued:
		if !pairing {
			return
		}
		now := o.now()
		if o.transition(s, e, model.SessionStatusReady, func(st *PairingState) {
			st.withPayload(ev.Payload, now)
		}) {
			o.notify(e, model.EventSessionPairing, model.SessionEventData{
				Status:    model.SessionStatusReady,
				ExpiresAt: e.state.ExpiresAt(o.expiry),
			})
		}

	case adapter.EventAuthenticated:
		if pairing {
			e.identity = ev.Identity
		}

	case adapter.EventReady:
		if !pairing || e.identity == "" {
			return
		}
		if o.transition(s, e, model.SessionStatusConnected, func(st *PairingState) {
			st.Identity = e.identity
		}) {
			log.Info().Str("sessionId", s.id).Str("identity", e.identity).Msg("session connected")
			o.notify(e, model.EventSessionConnected, model.SessionEventData{
				Status:        model.SessionStatusConnected,
				BoundIdentity: e.identity,
			})
		}

	case adapter.EventDisconnected:
		switch {
		case status == model.SessionStatusConnected:
			o.remove(s, e, ev.Reason)
		case pairing:
			o.fail(s, e, apperrors.AdapterOpenFailed(fmt.Errorf("connection lost: %s", ev.Reason)))
		}

	case adapter.EventAuthFailed:
		if pairing || status == model.SessionStatusConnected {
			log.Warn().Str("sessionId", s.id).Str("reason", ev.Reason).Msg("pairing rejected")
			o.fail(s, e, apperrors.AuthFailed(ev.Reason))
		}
	}
}

// transition commits a new snapshot and mirrors it. Illegal steps are
// logged and dropped.
func (o *Orchestrator) transition(s *slot, e *entry, to model.SessionStatus, mutate func(*PairingState)) bool {
	from := e.state.Status
	next, err := e.state.next(to, o.now())
	if err != nil {
		log.Warn().Err(err).Str("sessionId", s.id).Msg("dropping transition")
		return false
	}
	if mutate != nil {
		mutate(next)
	}
	s.publish(next)
	transitionsTotal.WithLabelValues(string(from), string(to)).Inc()

	if to != model.SessionStatusInitializing && to != model.SessionStatusGenerating {
		o.releaseOpen(e)
	}
	o.mirror(s, e)
	return true
}

// fail moves the entry to error and releases its adapter. The entry stays
// in the registry so callers can read the reason.
func (o *Orchestrator) fail(s *slot, e *entry, cause *apperrors.AppError) {
	wasConnected := e.state.Status == model.SessionStatusConnected
	if !o.transition(s, e, model.SessionStatusError, func(st *PairingState) {
		st.Error = cause.Error()
		st.ErrorCode = string(cause.Code)
		st.Retryable = cause.Retryable
	}) {
		return
	}
	o.teardown(e)

	eventType := model.EventSessionDisconnected
	if cause.Code == apperrors.ErrCodeAuthFailed {
		eventType = model.EventSessionAuthFailed
	}
	data := model.SessionEventData{Status: model.SessionStatusError, Reason: cause.Message}
	if wasConnected {
		data.BoundIdentity = e.identity
	}
	o.notify(e, eventType, data)
}

// remove ends a connected session: the adapter is released, the entry leaves
// the registry and the record is marked disconnected.
func (o *Orchestrator) remove(s *slot, e *entry, reason string) {
	o.teardown(e)
	o.registry.clear(s)
	transitionsTotal.WithLabelValues(string(e.state.Status), string(model.SessionStatusDisconnected)).Inc()

	o.mirrorRemoved(s.id, repository.ConnectivityUpdate{Status: model.SessionStatusDisconnected})

	log.Info().Str("sessionId", s.id).Str("reason", reason).Msg("session disconnected")
	o.notify(e, model.EventSessionDisconnected, model.SessionEventData{
		Status:        model.SessionStatusDisconnected,
		BoundIdentity: e.identity,
		Reason:        reason,
	})
}

// teardown cancels any in-flight open and closes the adapter. Safe to call
// more than once per entry.
func (o *Orchestrator) teardown(e *entry) {
	if e.closed {
		return
	}
	e.closed = true
	e.cancel()
	if err := e.adapter.Close(); err != nil {
		log.Warn().Err(err).Str("sessionId", e.adapter.SessionID()).Msg("adapter close failed")
	}
	o.releaseOpen(e)
	liveAdapters.Dec()
}

func (o *Orchestrator) releaseOpen(e *entry) {
	if !e.holdsSem {
		return
	}
	e.holdsSem = false
	o.opens.Release(1)
	openSlotsInUse.Dec()
}

func connectivityFor(st *PairingState, now time.Time) repository.ConnectivityUpdate {
	u := repository.ConnectivityUpdate{Status: durableStatus(st.Status)}
	if st.Status == model.SessionStatusConnected {
		identity := st.Identity
		u.BoundIdentity = &identity
		u.LastActivity = &now
	}
	if st.PairingPayload != "" {
		payload := st.PairingPayload
		issued := st.PayloadIssuedAt
		u.LastPairingPayload = &payload
		u.LastPairingIssuedAt = &issued
	}
	if st.Status == model.SessionStatusError {
		reason, code := st.Error, st.ErrorCode
		u.LastError = &reason
		u.LastErrorCode = &code
	}
	return u
}

// mirror writes the entry's current snapshot to the durable record. Failures
// leave the entry dirty; the next transition or sweep writes the full
// snapshot again.
func (o *Orchestrator) mirror(s *slot, e *entry) {
	if err := o.writeConnectivity(s.id, connectivityFor(e.state, o.now())); err != nil {
		s.dirty.Store(true)
		return
	}
	s.dirty.Store(false)
	o.dropPending(s.id)
}

// mirrorRemoved writes the final state of a session that has left the
// registry. A failure is queued for the sweeper.
func (o *Orchestrator) mirrorRemoved(id string, u repository.ConnectivityUpdate) {
	if err := o.writeConnectivity(id, u); err != nil {
		o.pendingMu.Lock()
		o.pending[id] = u
		o.pendingMu.Unlock()
		return
	}
	o.dropPending(id)
}

func (o *Orchestrator) dropPending(id string) {
	o.pendingMu.Lock()
	delete(o.pending, id)
	o.pendingMu.Unlock()
}

func (o *Orchestrator) writeConnectivity(id string, u repository.ConnectivityUpdate) error {
	ctx, cancel := context.WithTimeout(context.Background(), config.DurableWriteTimeout)
	defer cancel()

	found, err := o.sessions.UpdateConnectivity(ctx, id, u)
	if err != nil {
		durableWriteFailuresTotal.Inc()
		log.Error().
			Err(apperrors.DurableWriteFailed(err)).
			Str("sessionId", id).
			Str("status", string(u.Status)).
			Msg("session mirror failed")
		return err
	}
	if !found {
		log.Debug().Str("sessionId", id).Msg("session record gone, mirror skipped")
	}
	return nil
}

func (o *Orchestrator) notify(e *entry, eventType model.EventType, data model.SessionEventData) {
	if o.notifier == nil {
		return
	}
	o.notifier.Notify(context.Background(), model.WebhookEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		OwnerID:    e.ownerID,
		SessionID:  e.adapter.SessionID(),
		OccurredAt: o.now(),
		Data:       data,
	})
}

func (o *Orchestrator) statusFrom(st *PairingState) *Status {
	out := &Status{
		SessionID:     st.SessionID,
		Status:        st.Status,
		BoundIdentity: st.Identity,
		Error:         st.Error,
		ErrorCode:     st.ErrorCode,
		Retryable:     st.Retryable,
		ExpiresAt:     st.ExpiresAt(o.expiry),
		UpdatedAt:     st.LastUpdated,
	}
	if o.encoder != nil && st.PairingPayload != "" {
		png, err := st.Image(o.encoder.Encode)
		if err != nil {
			log.Warn().Err(err).Str("sessionId", st.SessionID).Msg("pairing image encode failed")
		} else {
			out.PairingImage = "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
		}
	}
	return out
}

// statusFromRecord answers from the durable record once no pairing entry
// exists. Besides the pairing statuses it can report disconnected: never
// paired, connection ended, or a failed attempt whose entry was swept. The
// last failure reason survives the sweep.
func statusFromRecord(rec *model.SessionRecord) *Status {
	out := &Status{
		SessionID: rec.ID,
		Status:    rec.Status,
		UpdatedAt: rec.UpdatedAt,
	}
	if rec.Status == model.SessionStatusConnected && rec.BoundIdentity != nil {
		out.BoundIdentity = *rec.BoundIdentity
	}
	if rec.Status == model.SessionStatusDisconnected && rec.LastError != nil {
		out.Error = *rec.LastError
		if rec.LastErrorCode != nil {
			out.ErrorCode = *rec.LastErrorCode
			out.Retryable = apperrors.ErrorCode(out.ErrorCode) == apperrors.ErrCodeAdapterOpenFailed
		}
	}
	return out
}

// GetStatus returns the last committed status. A durable connected record is
// authoritative; otherwise the pairing entry wins while one exists. Unknown
// ids report the not_found status.
func (o *Orchestrator) GetStatus(ctx context.Context, sessionID string) (*Status, error) {
	rec, err := o.sessions.FindByID(ctx, sessionID)
	snap := o.registry.Snapshot(sessionID)

	switch {
	case err != nil && snap == nil:
		return nil, apperrors.Database(err)
	case err != nil:
		log.Warn().Err(err).Str("sessionId", sessionID).Msg("session lookup failed, serving pairing state")
		return o.statusFrom(snap), nil
	case rec == nil:
		return &Status{SessionID: sessionID, Status: model.SessionStatusNotFound}, nil
	case rec.Status == model.SessionStatusConnected:
		return statusFromRecord(rec), nil
	case snap != nil:
		return o.statusFrom(snap), nil
	}
	return statusFromRecord(rec), nil
}

// PairingImage returns the PNG for the session's current pairing payload.
func (o *Orchestrator) PairingImage(_ context.Context, sessionID string) ([]byte, error) {
	snap := o.registry.Snapshot(sessionID)
	if snap == nil || snap.PairingPayload == "" || o.encoder == nil {
		return nil, apperrors.NotFound("Pairing code")
	}
	png, err := snap.Image(o.encoder.Encode)
	if err != nil {
		return nil, apperrors.InvalidPayload(err.Error())
	}
	return png, nil
}

// FixStatusDrift probes the adapter and rewrites the durable record to match.
// It reports whether the record's status changed.
func (o *Orchestrator) FixStatusDrift(ctx context.Context, sessionID string) (bool, error) {
	s := o.registry.lock(sessionID)
	defer o.registry.unlock(s)

	rec, err := o.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return false, apperrors.Database(err)
	}
	if rec == nil {
		return false, apperrors.NotFound("Session")
	}

	u := repository.ConnectivityUpdate{Status: model.SessionStatusDisconnected}
	dirty := false
	e := s.entry
	if e != nil {
		if e.state.Status == model.SessionStatusConnected && !e.adapter.IsLive() {
			log.Warn().Str("sessionId", sessionID).Msg("connected session has no live adapter")
			o.remove(s, e, "connection not live")
			e = nil
		} else {
			u = connectivityFor(e.state, o.now())
			dirty = s.dirty.Load()
		}
	}

	if rec.Status == u.Status && !dirty {
		return false, nil
	}

	if _, err := o.sessions.UpdateConnectivity(ctx, sessionID, u); err != nil {
		return false, apperrors.Database(err)
	}
	s.dirty.Store(false)
	o.dropPending(sessionID)

	changed := rec.Status != u.Status
	if changed {
		driftCorrectionsTotal.Inc()
		log.Info().
			Str("sessionId", sessionID).
			Str("from", string(rec.Status)).
			Str("to", string(u.Status)).
			Msg("session status drift corrected")
	}
	return changed, nil
}

// DestroySession releases the adapter, removes the pairing entry and deletes
// the durable record. Unknown ids succeed silently.
func (o *Orchestrator) DestroySession(ctx context.Context, sessionID string) error {
	s := o.registry.lock(sessionID)
	defer o.registry.unlock(s)

	if e := s.entry; e != nil {
		o.teardown(e)
		o.registry.clear(s)
	}
	o.dropPending(sessionID)

	if err := o.sessions.Delete(ctx, sessionID); err != nil {
		return apperrors.Database(err)
	}

	log.Info().Str("sessionId", sessionID).Msg("session destroyed")
	return nil
}

// ListSessions returns the owner's records with live pairing status merged in.
func (o *Orchestrator) ListSessions(ctx context.Context, ownerID string) ([]model.SessionRecord, error) {
	recs, err := o.sessions.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	for i := range recs {
		rec := &recs[i]
		if rec.Status == model.SessionStatusConnected {
			continue
		}
		if snap := o.registry.Snapshot(rec.ID); snap != nil {
			rec.Status = snap.Status
			rec.Connected = snap.Status == model.SessionStatusConnected
			if rec.Connected {
				identity := snap.Identity
				rec.BoundIdentity = &identity
			}
		}
	}
	return recs, nil
}

func (o *Orchestrator) UpdateSettings(
	ctx context.Context,
	sessionID string,
	settings model.SessionSettings,
	webhookTarget *string,
) (*model.SessionRecord, error) {
	rec, err := o.sessions.UpdateSettings(ctx, sessionID, settings, webhookTarget)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if rec == nil {
		return nil, apperrors.NotFound("Session")
	}
	return rec, nil
}

// Adapter returns the session's adapter if the session is connected.
func (o *Orchestrator) Adapter(sessionID string) (*adapter.Adapter, error) {
	s := o.registry.lockExisting(sessionID)
	if s == nil {
		return nil, apperrors.SessionNotConnected()
	}
	defer o.registry.unlock(s)

	if s.entry.state.Status != model.SessionStatusConnected || s.entry.closed {
		return nil, apperrors.SessionNotConnected()
	}
	return s.entry.adapter, nil
}

// Shutdown closes every adapter, marks the records disconnected and waits
// for event consumers to exit.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.closing.Store(true)

	closed := 0
	for _, sl := range o.registry.slots() {
		s := o.registry.lockExisting(sl.id)
		if s == nil {
			continue
		}
		e := s.entry
		o.teardown(e)
		o.registry.clear(s)
		if ctx.Err() == nil {
			_ = o.writeConnectivity(s.id, repository.ConnectivityUpdate{Status: model.SessionStatusDisconnected})
		}
		o.registry.unlock(s)
		closed++
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Int("closed", closed).Msg("session orchestrator stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for session consumers: %w", ctx.Err())
	}
}
