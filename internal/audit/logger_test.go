package audit

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

func TestLogFromRequest(t *testing.T) {
	buf := captureLog(t)

	r := httptest.NewRequest("DELETE", "/v1/sessions/s1", nil)
	r.RemoteAddr = "203.0.113.7:51000"
	r.Header.Set("User-Agent", "curl/8")

	LogFromRequest(r, Event{
		Type:      EventSessionDelete,
		OwnerID:   "owner-1",
		SessionID: "s1",
		Details:   map[string]any{"wasConnected": true, "attempt": 2},
	})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "security", entry["audit"])
	assert.Equal(t, "session_delete", entry["eventType"])
	assert.Equal(t, "owner-1", entry["ownerId"])
	assert.Equal(t, "s1", entry["sessionId"])
	assert.Equal(t, "203.0.113.7:51000", entry["ip"])
	assert.Equal(t, "curl/8", entry["userAgent"])
	assert.Equal(t, true, entry["wasConnected"])
	assert.EqualValues(t, 2, entry["attempt"])
}

func TestLog_OmitsEmptyFields(t *testing.T) {
	buf := captureLog(t)

	Log(httptest.NewRequest("GET", "/", nil).Context(), Event{Type: EventAuthFailure})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "auth_failure", entry["eventType"])
	assert.NotContains(t, entry, "ownerId")
	assert.NotContains(t, entry, "sessionId")
}
