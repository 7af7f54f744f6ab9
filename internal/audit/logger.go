package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventAuthFailure      EventType = "auth_failure"
	EventSessionCreate    EventType = "session_create"
	EventSessionDelete    EventType = "session_delete"
	EventSessionInitiate  EventType = "session_initialize"
	EventSessionFixStatus EventType = "session_fix_status"
	EventSettingsUpdate   EventType = "session_settings_update"
	EventQuotaExceeded    EventType = "quota_exceeded"
	EventRateLimitExceed  EventType = "rate_limit_exceeded"
)

type Event struct {
	Type      EventType
	OwnerID   string
	SessionID string
	IP        string
	UserAgent string
	Details   map[string]any
}

func Log(ctx context.Context, event Event) {
	logger := log.With().
		Str("audit", "security").
		Str("eventType", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.OwnerID != "" {
		logger = logger.With().Str("ownerId", event.OwnerID).Logger()
	}
	if event.SessionID != "" {
		logger = logger.With().Str("sessionId", event.SessionID).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}
	if event.UserAgent != "" {
		logger = logger.With().Str("userAgent", event.UserAgent).Logger()
	}

	logEvent := logger.Info().Ctx(ctx)
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("security audit event")
}

func addField(e *zerolog.Event, key string, value any) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}

// LogFromRequest fills the client address and user agent from r. Run
// chi's RealIP middleware first so RemoteAddr reflects the proxy headers.
func LogFromRequest(r *http.Request, event Event) {
	event.IP = r.RemoteAddr
	event.UserAgent = r.UserAgent()
	Log(r.Context(), event)
}
