package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/wagate-server-go/internal/audit"
	apperrors "github.com/openclaw/wagate-server-go/internal/errors"
	"github.com/openclaw/wagate-server-go/internal/middleware"
	"github.com/openclaw/wagate-server-go/internal/model"
	"github.com/openclaw/wagate-server-go/internal/service"
	"github.com/openclaw/wagate-server-go/internal/session"
	"github.com/openclaw/wagate-server-go/internal/util"
)

const maxAutoReplyLength = 1024

// Sessions is the orchestrator surface the session routes need.
type Sessions interface {
	CreateSession(ctx context.Context, ownerID string, params session.NewSession) (*model.SessionRecord, error)
	Authorize(ctx context.Context, ownerID, sessionID string) (*model.SessionRecord, error)
	InitializeSession(ctx context.Context, sessionID string) (*session.Status, error)
	GetStatus(ctx context.Context, sessionID string) (*session.Status, error)
	PairingImage(ctx context.Context, sessionID string) ([]byte, error)
	FixStatusDrift(ctx context.Context, sessionID string) (bool, error)
	DestroySession(ctx context.Context, sessionID string) error
	ListSessions(ctx context.Context, ownerID string) ([]model.SessionRecord, error)
	UpdateSettings(ctx context.Context, sessionID string, settings model.SessionSettings, webhookTarget *string) (*model.SessionRecord, error)
}

type SessionHandler struct {
	sessions Sessions
}

func NewSessionHandler(sessions Sessions) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.CreateSession)
	r.Get("/", h.ListSessions)
	r.Route("/{sessionID}", func(r chi.Router) {
		r.Patch("/", h.UpdateSettings)
		r.Delete("/", h.DeleteSession)
		r.Post("/initialize", h.InitializeSession)
		r.Get("/status", h.GetStatus)
		r.Get("/qr", h.GetPairingImage)
		r.Post("/fix-status", h.FixStatus)
	})

	return r
}

type settingsRequest struct {
	AutoReply           *bool   `json:"autoReply"`
	AutoReplyText       *string `json:"autoReplyText"`
	GroupPolicy         *string `json:"groupPolicy"`
	UnknownSenderPolicy *string `json:"unknownSenderPolicy"`
}

// apply overlays the fields present in req onto base.
func (req *settingsRequest) apply(base model.SessionSettings) (model.SessionSettings, error) {
	if req == nil {
		return base, nil
	}
	if req.AutoReply != nil {
		base.AutoReply = *req.AutoReply
	}
	if req.AutoReplyText != nil {
		if len(*req.AutoReplyText) > maxAutoReplyLength {
			return base, apperrors.InvalidInput("settings.autoReplyText", "must be at most "+strconv.Itoa(maxAutoReplyLength)+" bytes")
		}
		base.AutoReplyText = *req.AutoReplyText
	}
	if req.GroupPolicy != nil {
		if !util.IsValidEnum(*req.GroupPolicy, []string{string(model.GroupPolicyIgnore), string(model.GroupPolicyForward)}) {
			return base, apperrors.InvalidInput("settings.groupPolicy", "must be one of: ignore, forward")
		}
		base.GroupPolicy = model.GroupPolicy(*req.GroupPolicy)
	}
	if req.UnknownSenderPolicy != nil {
		if !util.IsValidEnum(*req.UnknownSenderPolicy, []string{string(model.UnknownSenderAllow), string(model.UnknownSenderBlock)}) {
			return base, apperrors.InvalidInput("settings.unknownSenderPolicy", "must be one of: allow, block")
		}
		base.UnknownSenderPolicy = model.UnknownSenderPolicy(*req.UnknownSenderPolicy)
	}
	return base, nil
}

// webhookTarget validates a requested target. An empty string clears it.
func webhookTarget(raw *string) (*string, error) {
	if raw == nil {
		return nil, nil
	}
	target := strings.TrimSpace(*raw)
	if target == "" {
		return nil, nil
	}
	if !service.ValidWebhookURL(target) {
		return nil, apperrors.InvalidInput("webhookTarget", "must be an absolute http(s) URL")
	}
	return &target, nil
}

type createSessionRequest struct {
	WebhookTarget *string          `json:"webhookTarget"`
	Settings      *settingsRequest `json:"settings"`
}

// POST /v1/sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := middleware.GetOwner(ctx)

	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	target, err := webhookTarget(req.WebhookTarget)
	if err != nil {
		writeError(w, err)
		return
	}
	settings, err := req.Settings.apply(model.DefaultSessionSettings())
	if err != nil {
		writeError(w, err)
		return
	}

	rec, err := h.sessions.CreateSession(ctx, owner.ID, session.NewSession{
		Settings:      &settings,
		WebhookTarget: target,
	})
	if err != nil {
		if apperrors.Is(err, apperrors.ErrCodeQuotaExceeded) {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventQuotaExceeded,
				OwnerID: owner.ID,
				Details: map[string]any{"plan": string(owner.Plan)},
			})
		}
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventSessionCreate,
		OwnerID:   owner.ID,
		SessionID: rec.ID,
	})

	writeJSON(w, http.StatusCreated, formatSession(*rec))
}

// GET /v1/sessions
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := middleware.GetOwner(ctx)

	recs, err := h.sessions.ListSessions(ctx, owner.ID)
	if err != nil {
		log.Error().Err(err).Str("ownerId", owner.ID).Msg("failed to list sessions")
		writeError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		items = append(items, formatSession(rec))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": items,
		"total":    len(items),
	})
}

// authorize resolves the {sessionID} path parameter to a record the caller owns.
func (h *SessionHandler) authorize(w http.ResponseWriter, r *http.Request) (*model.SessionRecord, bool) {
	sessionID := chi.URLParam(r, "sessionID")
	if !util.IsValidUUID(sessionID) {
		writeError(w, apperrors.NotFound("Session"))
		return nil, false
	}

	owner := middleware.GetOwner(r.Context())
	rec, err := h.sessions.Authorize(r.Context(), owner.ID, sessionID)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return rec, true
}

// POST /v1/sessions/{sessionID}/initialize
func (h *SessionHandler) InitializeSession(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.authorize(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	status, err := h.sessions.InitializeSession(ctx, rec.ID)
	if apperrors.Is(err, apperrors.ErrCodeAlreadyPairing) {
		// a second initialize joins the attempt already in flight
		status, err = h.sessions.GetStatus(ctx, rec.ID)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventSessionInitiate,
		OwnerID:   rec.OwnerID,
		SessionID: rec.ID,
		Details:   map[string]any{"status": string(status.Status)},
	})

	writeJSON(w, http.StatusAccepted, status)
}

// GET /v1/sessions/{sessionID}/status
func (h *SessionHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.authorize(w, r)
	if !ok {
		return
	}

	status, err := h.sessions.GetStatus(r.Context(), rec.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// GET /v1/sessions/{sessionID}/qr
func (h *SessionHandler) GetPairingImage(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.authorize(w, r)
	if !ok {
		return
	}

	png, err := h.sessions.PairingImage(r.Context(), rec.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// POST /v1/sessions/{sessionID}/fix-status
func (h *SessionHandler) FixStatus(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.authorize(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	changed, err := h.sessions.FixStatusDrift(ctx, rec.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	status, err := h.sessions.GetStatus(ctx, rec.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventSessionFixStatus,
		OwnerID:   rec.OwnerID,
		SessionID: rec.ID,
		Details: map[string]any{
			"changed": changed,
			"from":    string(rec.Status),
			"to":      string(status.Status),
		},
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"changed": changed,
		"status":  status,
	})
}

type updateSessionRequest struct {
	WebhookTarget *string          `json:"webhookTarget"`
	Settings      *settingsRequest `json:"settings"`
}

// PATCH /v1/sessions/{sessionID}
func (h *SessionHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var req updateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	settings, err := req.Settings.apply(rec.Settings)
	if err != nil {
		writeError(w, err)
		return
	}
	target := rec.WebhookTarget
	if req.WebhookTarget != nil {
		if target, err = webhookTarget(req.WebhookTarget); err != nil {
			writeError(w, err)
			return
		}
	}

	updated, err := h.sessions.UpdateSettings(r.Context(), rec.ID, settings, target)
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventSettingsUpdate,
		OwnerID:   rec.OwnerID,
		SessionID: rec.ID,
	})

	writeJSON(w, http.StatusOK, formatSession(*updated))
}

// DELETE /v1/sessions/{sessionID}
func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.authorize(w, r)
	if !ok {
		return
	}

	if err := h.sessions.DestroySession(r.Context(), rec.ID); err != nil {
		log.Error().Err(err).Str("sessionId", rec.ID).Msg("failed to destroy session")
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventSessionDelete,
		OwnerID:   rec.OwnerID,
		SessionID: rec.ID,
	})

	w.WriteHeader(http.StatusNoContent)
}
