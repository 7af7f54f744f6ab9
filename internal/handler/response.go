package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	apperrors "github.com/openclaw/wagate-server-go/internal/errors"
	"github.com/openclaw/wagate-server-go/internal/httputil"
	"github.com/openclaw/wagate-server-go/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

// decodeJSON reads a JSON body into dst. An empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperrors.ValidationError("Request body too large")
	}
	if err != nil {
		return apperrors.ValidationError("Invalid request body")
	}
	return nil
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func formatSession(rec model.SessionRecord) map[string]any {
	out := map[string]any{
		"id":                  rec.ID,
		"status":              rec.Status,
		"connected":           rec.Connected,
		"settings":            rec.Settings,
		"lastPairingIssuedAt": formatTime(rec.LastPairingIssuedAt),
		"lastActivity":        formatTime(rec.LastActivity),
		"createdAt":           rec.CreatedAt.Format(time.RFC3339),
		"updatedAt":           rec.UpdatedAt.Format(time.RFC3339),
	}
	if rec.BoundIdentity != nil {
		out["boundIdentity"] = *rec.BoundIdentity
	}
	if rec.WebhookTarget != nil {
		out["webhookTarget"] = *rec.WebhookTarget
	}
	if rec.Status == model.SessionStatusDisconnected && rec.LastError != nil {
		out["lastError"] = *rec.LastError
	}
	return out
}
