package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/wagate-server-go/internal/database"
	"github.com/openclaw/wagate-server-go/internal/model"
	"github.com/openclaw/wagate-server-go/internal/util"
)

// ErrQuotaExceeded is returned by CreateWithinQuota when the owner already
// holds limit sessions.
var ErrQuotaExceeded = errors.New("session quota exceeded")

// ConnectivityUpdate carries the fields the orchestrator mirrors from the
// ephemeral pairing state. Nil pointers leave the stored column untouched,
// except LastPairingPayload and the error pair which are always written.
type ConnectivityUpdate struct {
	Status              model.SessionStatus
	BoundIdentity       *string
	LastPairingPayload  *string
	LastPairingIssuedAt *time.Time
	LastActivity        *time.Time
	LastError           *string
	LastErrorCode       *string
}

type SessionRepository interface {
	FindByID(ctx context.Context, id string) (*model.SessionRecord, error)
	ListByOwner(ctx context.Context, ownerID string) ([]model.SessionRecord, error)
	CountByOwner(ctx context.Context, ownerID string) (int, error)
	CreateWithinQuota(ctx context.Context, params model.CreateSessionParams, limit int) (*model.SessionRecord, int, error)
	UpdateConnectivity(ctx context.Context, id string, update ConnectivityUpdate) (bool, error)
	UpdateSettings(ctx context.Context, id string, settings model.SessionSettings, webhookTarget *string) (*model.SessionRecord, error)
	TouchActivity(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
	ResetPairingStatuses(ctx context.Context) (int64, error)
}

type sessionRepo struct {
	db         database.DBTX
	root       *database.DB
	payloadKey string
}

// NewSessionRepository returns a Postgres-backed SessionRepository. When
// payloadKey (hex AES-256) is set, pairing payloads are encrypted at rest.
func NewSessionRepository(db *database.DB, payloadKey string) SessionRepository {
	return &sessionRepo{db: db.DB, root: db, payloadKey: payloadKey}
}

func (r *sessionRepo) sealPayload(payload *string) (*string, error) {
	if payload == nil || r.payloadKey == "" {
		return payload, nil
	}
	sealed, err := util.Encrypt(r.payloadKey, *payload)
	if err != nil {
		return nil, fmt.Errorf("encrypt pairing payload: %w", err)
	}
	return &sealed, nil
}

// openPayload reverses sealPayload on a loaded record. A payload that no
// longer decrypts (rotated key) is dropped rather than surfaced.
func (r *sessionRepo) openPayload(rec *model.SessionRecord) {
	if rec == nil || rec.LastPairingPayload == nil || r.payloadKey == "" {
		return
	}
	plain, err := util.Decrypt(r.payloadKey, *rec.LastPairingPayload)
	if err != nil {
		log.Warn().Err(err).Str("sessionId", rec.ID).Msg("discarding undecryptable pairing payload")
		rec.LastPairingPayload = nil
		return
	}
	rec.LastPairingPayload = &plain
}

func (r *sessionRepo) FindByID(ctx context.Context, id string) (*model.SessionRecord, error) {
	var rec model.SessionRecord
	err := r.db.GetContext(ctx, &rec, `SELECT * FROM sessions WHERE id = $1`, id)
	found, err := HandleNotFound(&rec, err)
	r.openPayload(found)
	return found, err
}

func (r *sessionRepo) ListByOwner(ctx context.Context, ownerID string) ([]model.SessionRecord, error) {
	var recs []model.SessionRecord
	err := r.db.SelectContext(ctx, &recs, `
		SELECT * FROM sessions
		WHERE owner_id = $1
		ORDER BY created_at ASC
	`, ownerID)
	for i := range recs {
		r.openPayload(&recs[i])
	}
	return recs, err
}

func (r *sessionRepo) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM sessions WHERE owner_id = $1`, ownerID)
	return count, err
}

// CreateWithinQuota inserts a session only if the owner holds fewer than limit
// sessions. The owner row is locked for the duration of the count so that
// concurrent creates cannot both slip under the limit.
func (r *sessionRepo) CreateWithinQuota(
	ctx context.Context,
	params model.CreateSessionParams,
	limit int,
) (*model.SessionRecord, int, error) {
	var (
		rec  model.SessionRecord
		used int
	)

	err := r.root.WithTx(ctx, func(tx *sqlx.Tx) error {
		var ownerID string
		if err := tx.GetContext(ctx, &ownerID, `SELECT id FROM owners WHERE id = $1 FOR UPDATE`, params.OwnerID); err != nil {
			return fmt.Errorf("lock owner: %w", err)
		}

		if err := tx.GetContext(ctx, &used, `SELECT COUNT(*) FROM sessions WHERE owner_id = $1`, params.OwnerID); err != nil {
			return fmt.Errorf("count sessions: %w", err)
		}
		if used >= limit {
			return ErrQuotaExceeded
		}

		return tx.GetContext(ctx, &rec, `
			INSERT INTO sessions (id, owner_id, status, connected, webhook_target, settings)
			VALUES ($1, $2, $3, FALSE, $4, $5)
			RETURNING *
		`, params.ID, params.OwnerID, model.SessionStatusDisconnected, params.WebhookTarget, params.Settings)
	})
	if err != nil {
		return nil, used, err
	}
	return &rec, used + 1, nil
}

// UpdateConnectivity writes the mirrored fields. It never inserts: a mirror
// racing a delete must not resurrect the record. The boolean reports whether
// a row was updated.
func (r *sessionRepo) UpdateConnectivity(ctx context.Context, id string, u ConnectivityUpdate) (bool, error) {
	payload, err := r.sealPayload(u.LastPairingPayload)
	if err != nil {
		return false, err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET
			status = $2,
			connected = $3,
			bound_identity = COALESCE($4, bound_identity),
			last_pairing_payload = $5,
			last_pairing_issued_at = COALESCE($6, last_pairing_issued_at),
			last_activity = COALESCE($7, last_activity),
			last_error = $8,
			last_error_code = $9,
			updated_at = $10
		WHERE id = $1
	`, id, u.Status, u.Status == model.SessionStatusConnected, u.BoundIdentity,
		payload, u.LastPairingIssuedAt, u.LastActivity, u.LastError, u.LastErrorCode, time.Now())
	n, err := rowsAffected(result, err)
	if pqCode(err) == pqCheckViolation {
		return false, fmt.Errorf("session %s: %s without bound identity: %w", id, u.Status, err)
	}
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *sessionRepo) UpdateSettings(
	ctx context.Context,
	id string,
	settings model.SessionSettings,
	webhookTarget *string,
) (*model.SessionRecord, error) {
	var rec model.SessionRecord
	err := r.db.GetContext(ctx, &rec, `
		UPDATE sessions SET
			settings = $2,
			webhook_target = $3,
			updated_at = $4
		WHERE id = $1
		RETURNING *
	`, id, settings, webhookTarget, time.Now())
	updated, err := HandleNotFound(&rec, err)
	r.openPayload(updated)
	return updated, err
}

func (r *sessionRepo) TouchActivity(ctx context.Context, id string, at time.Time) error {
	_, err := rowsAffected(r.db.ExecContext(ctx, `
		UPDATE sessions SET last_activity = $2 WHERE id = $1
	`, id, at))
	return err
}

func (r *sessionRepo) Delete(ctx context.Context, id string) error {
	_, err := rowsAffected(r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id))
	return err
}

// ResetPairingStatuses marks every record left mid-pairing as disconnected.
// Only valid at boot, before any adapter is opened by this process.
func (r *sessionRepo) ResetPairingStatuses(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET
			status = 'disconnected',
			connected = FALSE,
			last_pairing_payload = NULL,
			updated_at = NOW()
		WHERE status IN ('initializing', 'generating', 'ready', 'expired', 'error')
	`)
	return rowsAffected(result, err)
}
