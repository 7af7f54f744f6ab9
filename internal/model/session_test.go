package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRecord_SetStatus(t *testing.T) {
	t.Run("connected requires bound identity", func(t *testing.T) {
		r := &SessionRecord{Status: SessionStatusReady}
		err := r.SetStatus(SessionStatusConnected)
		assert.Error(t, err)
		assert.Equal(t, SessionStatusReady, r.Status)
		assert.False(t, r.Connected)
	})

	t.Run("connected derives connected flag", func(t *testing.T) {
		identity := "+15550001111"
		r := &SessionRecord{BoundIdentity: &identity}
		require.NoError(t, r.SetStatus(SessionStatusConnected))
		assert.True(t, r.Connected)
	})

	t.Run("leaving pairing clears last payload", func(t *testing.T) {
		payload := "2@abc"
		r := &SessionRecord{Status: SessionStatusReady, LastPairingPayload: &payload}
		require.NoError(t, r.SetStatus(SessionStatusDisconnected))
		assert.Nil(t, r.LastPairingPayload)
		assert.False(t, r.Connected)
	})

	t.Run("pairing keeps last payload", func(t *testing.T) {
		payload := "2@abc"
		r := &SessionRecord{Status: SessionStatusGenerating, LastPairingPayload: &payload}
		require.NoError(t, r.SetStatus(SessionStatusReady))
		assert.Equal(t, &payload, r.LastPairingPayload)
	})
}

func TestSessionSettings_Scan(t *testing.T) {
	t.Run("scans jsonb bytes", func(t *testing.T) {
		var s SessionSettings
		require.NoError(t, s.Scan([]byte(`{"autoReply":true,"autoReplyText":"away","groupPolicy":"forward"}`)))
		assert.True(t, s.AutoReply)
		assert.Equal(t, "away", s.AutoReplyText)
		assert.Equal(t, GroupPolicyForward, s.GroupPolicy)
	})

	t.Run("null yields defaults", func(t *testing.T) {
		var s SessionSettings
		require.NoError(t, s.Scan(nil))
		assert.Equal(t, DefaultSessionSettings(), s)
	})

	t.Run("value round trips through json", func(t *testing.T) {
		v, err := DefaultSessionSettings().Value()
		require.NoError(t, err)
		var decoded SessionSettings
		require.NoError(t, json.Unmarshal(v.([]byte), &decoded))
		assert.Equal(t, DefaultSessionSettings(), decoded)
	})

	t.Run("rejects unsupported types", func(t *testing.T) {
		var s SessionSettings
		assert.Error(t, s.Scan(42))
	})
}

func TestPlanLimits(t *testing.T) {
	assert.Equal(t, 1, PlanFree.Limits().MaxSessions)
	assert.Equal(t, 5, PlanStarter.Limits().MaxSessions)
	assert.Equal(t, 25, PlanBusiness.Limits().MaxSessions)
	assert.Equal(t, PlanFree.Limits(), Plan("enterprise").Limits())
	assert.False(t, Plan("enterprise").Valid())
}

func TestSessionStatus_IsPairing(t *testing.T) {
	assert.True(t, SessionStatusInitializing.IsPairing())
	assert.True(t, SessionStatusGenerating.IsPairing())
	assert.True(t, SessionStatusReady.IsPairing())
	assert.False(t, SessionStatusExpired.IsPairing())
	assert.False(t, SessionStatusConnected.IsPairing())
	assert.False(t, SessionStatusDisconnected.IsPairing())
}
