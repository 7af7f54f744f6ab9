package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/openclaw/wagate-server-go/internal/errors"
	"github.com/openclaw/wagate-server-go/internal/model"
	"github.com/openclaw/wagate-server-go/internal/service"
)

type mockMessages struct {
	mock.Mock
}

func (m *mockMessages) SendText(ctx context.Context, owner *model.Owner, sessionID string, params service.SendTextParams) (*model.Message, error) {
	args := m.Called(ctx, owner, sessionID, params)
	msg, _ := args.Get(0).(*model.Message)
	return msg, args.Error(1)
}

func (m *mockMessages) SendMedia(ctx context.Context, owner *model.Owner, sessionID string, params service.SendMediaParams) (*model.Message, error) {
	args := m.Called(ctx, owner, sessionID, params)
	msg, _ := args.Get(0).(*model.Message)
	return msg, args.Error(1)
}

func (m *mockMessages) ListMessages(ctx context.Context, ownerID, sessionID string, limit, offset int) (*service.MessageListResult, error) {
	args := m.Called(ctx, ownerID, sessionID, limit, offset)
	res, _ := args.Get(0).(*service.MessageListResult)
	return res, args.Error(1)
}

func messageRouter(messages Messages) http.Handler {
	r := chi.NewRouter()
	r.Mount("/{sessionID}/messages", NewMessageHandler(messages, 1024).Routes())
	return r
}

func sentMessage(kind model.MessageKind) *model.Message {
	sentAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &model.Message{
		ID:        "m1",
		SessionID: "s1",
		OwnerID:   testOwner.ID,
		Recipient: "+15550002",
		Kind:      kind,
		Status:    model.MessageStatusSent,
		SentAt:    &sentAt,
		CreatedAt: sentAt,
	}
}

func TestMessageHandler_SendText(t *testing.T) {
	t.Run("sends", func(t *testing.T) {
		messages := &mockMessages{}
		messages.On("SendText", mock.Anything, testOwner, "s1", service.SendTextParams{To: "+15550002", Body: "hi"}).
			Return(sentMessage(model.MessageKindText), nil)

		rec := serveJSON(t, messageRouter(messages), http.MethodPost, "/s1/messages/text",
			`{"to":"+15550002","body":"hi"}`)

		require.Equal(t, http.StatusCreated, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "m1", body["id"])
		assert.Equal(t, "sent", body["status"])
	})

	t.Run("not connected", func(t *testing.T) {
		messages := &mockMessages{}
		messages.On("SendText", mock.Anything, testOwner, "s1", mock.Anything).
			Return(nil, apperrors.SessionNotConnected())

		rec := serveJSON(t, messageRouter(messages), http.MethodPost, "/s1/messages/text",
			`{"to":"+15550002","body":"hi"}`)

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "SESSION_NOT_CONNECTED", decodeBody(t, rec)["code"])
	})

	t.Run("rate limited sets retry-after", func(t *testing.T) {
		messages := &mockMessages{}
		messages.On("SendText", mock.Anything, testOwner, "s1", mock.Anything).
			Return(nil, apperrors.RateLimitExceeded(10, 0, time.Now().Add(30*time.Second)))

		rec := serveJSON(t, messageRouter(messages), http.MethodPost, "/s1/messages/text",
			`{"to":"+15550002","body":"hi"}`)

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	})

	t.Run("delivery failure returns the recorded message", func(t *testing.T) {
		failed := sentMessage(model.MessageKindText)
		failed.Status = model.MessageStatusFailed
		failed.SentAt = nil

		messages := &mockMessages{}
		messages.On("SendText", mock.Anything, testOwner, "s1", mock.Anything).
			Return(failed, apperrors.DeliveryFailed(assert.AnError))

		rec := serveJSON(t, messageRouter(messages), http.MethodPost, "/s1/messages/text",
			`{"to":"+15550002","body":"hi"}`)

		require.Equal(t, http.StatusBadGateway, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "DELIVERY_FAILED", body["code"])
		assert.Equal(t, "failed", body["message"].(map[string]any)["status"])
	})
}

func TestMessageHandler_SendMediaJSON(t *testing.T) {
	data := []byte("\x89PNG\r\n\x1a\nrest")
	messages := &mockMessages{}
	messages.On("SendMedia", mock.Anything, testOwner, "s1", mock.MatchedBy(func(p service.SendMediaParams) bool {
		return p.To == "+15550002" && p.Caption == "look" &&
			p.Media.MimeType == "image/png" && bytes.Equal(p.Media.Data, data)
	})).Return(sentMessage(model.MessageKindMedia), nil)

	body := `{"to":"+15550002","caption":"look","data":"` + base64.StdEncoding.EncodeToString(data) + `"}`
	rec := serveJSON(t, messageRouter(messages), http.MethodPost, "/s1/messages/media", body)

	assert.Equal(t, http.StatusCreated, rec.Code)
	messages.AssertExpectations(t)
}

func TestMessageHandler_SendMediaMultipart(t *testing.T) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	require.NoError(t, form.WriteField("to", "+15550002"))
	require.NoError(t, form.WriteField("caption", "doc"))
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="report.pdf"`)
	h.Set("Content-Type", "application/pdf")
	part, err := form.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.7"))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	messages := &mockMessages{}
	messages.On("SendMedia", mock.Anything, testOwner, "s1", mock.MatchedBy(func(p service.SendMediaParams) bool {
		return p.To == "+15550002" && p.Caption == "doc" &&
			p.Media.MimeType == "application/pdf" &&
			p.Media.Filename == "report.pdf" &&
			string(p.Media.Data) == "%PDF-1.7"
	})).Return(sentMessage(model.MessageKindMedia), nil)

	rec := serve(t, messageRouter(messages), http.MethodPost, "/s1/messages/media", &buf, form.FormDataContentType())

	assert.Equal(t, http.StatusCreated, rec.Code)
	messages.AssertExpectations(t)
}

func TestMessageHandler_SendMediaRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
	}{
		{"missing data", `{"to":"+15550002"}`, http.StatusBadRequest},
		{"not base64", `{"to":"+15550002","data":"***"}`, http.StatusBadRequest},
		{"over the body limit", `{"to":"+15550002","data":"` + strings.Repeat("A", 4<<20) + `"}`, http.StatusRequestEntityTooLarge},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			messages := &mockMessages{}
			rec := serveJSON(t, messageRouter(messages), http.MethodPost, "/s1/messages/media", tc.body)

			assert.Equal(t, tc.code, rec.Code)
			messages.AssertNotCalled(t, "SendMedia", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestMessageHandler_ListMessages(t *testing.T) {
	t.Run("uses pagination", func(t *testing.T) {
		messages := &mockMessages{}
		messages.On("ListMessages", mock.Anything, "owner-1", "s1", 10, 20).Return(&service.MessageListResult{
			Messages: []model.Message{*sentMessage(model.MessageKindText)},
			Total:    21,
			HasMore:  false,
		}, nil)

		rec := serveJSON(t, messageRouter(messages), http.MethodGet, "/s1/messages?limit=10&offset=20", "")

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, float64(21), body["total"])
		assert.Len(t, body["messages"], 1)
	})

	t.Run("clamps limit", func(t *testing.T) {
		messages := &mockMessages{}
		messages.On("ListMessages", mock.Anything, "owner-1", "s1", DefaultLimit, 0).
			Return(&service.MessageListResult{Messages: []model.Message{}}, nil)

		rec := serveJSON(t, messageRouter(messages), http.MethodGet, "/s1/messages?limit=5000&offset=-3", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		messages.AssertExpectations(t)
	})
}
