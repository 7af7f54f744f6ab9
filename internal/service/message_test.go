package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/wagate-server-go/internal/adapter"
	"github.com/openclaw/wagate-server-go/internal/adapter/adaptertest"
	apperrors "github.com/openclaw/wagate-server-go/internal/errors"
	"github.com/openclaw/wagate-server-go/internal/model"
)

type mockMessageStore struct {
	mock.Mock
}

func (m *mockMessageStore) FindBySessionID(ctx context.Context, sessionID string, limit, offset int) ([]model.Message, error) {
	args := m.Called(ctx, sessionID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Message), args.Error(1)
}

func (m *mockMessageStore) CountBySessionID(ctx context.Context, sessionID string) (int, error) {
	args := m.Called(ctx, sessionID)
	return args.Int(0), args.Error(1)
}

func (m *mockMessageStore) Create(ctx context.Context, params model.CreateMessageParams) (*model.Message, error) {
	args := m.Called(ctx, params)
	if fn, ok := args.Get(0).(func(context.Context, model.CreateMessageParams) *model.Message); ok {
		return fn(ctx, params), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

func (m *mockMessageStore) MarkSent(ctx context.Context, id string, providerMessageID string) error {
	args := m.Called(ctx, id, providerMessageID)
	return args.Error(0)
}

func (m *mockMessageStore) MarkFailed(ctx context.Context, id string, errorMsg string) error {
	args := m.Called(ctx, id, errorMsg)
	return args.Error(0)
}

type mockActivity struct {
	mock.Mock
}

func (m *mockActivity) TouchActivity(ctx context.Context, id string, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

// fakeSessions serves records owned by ownerID and adapters opened against a
// fake driver. Sessions without an adapter are not connected.
type fakeSessions struct {
	ownerID  string
	records  map[string]*model.SessionRecord
	adapters map[string]*adapter.Adapter
}

func (f *fakeSessions) Authorize(_ context.Context, ownerID, sessionID string) (*model.SessionRecord, error) {
	rec, ok := f.records[sessionID]
	if !ok || ownerID != f.ownerID {
		return nil, apperrors.NotFound("Session")
	}
	return rec, nil
}

func (f *fakeSessions) Adapter(sessionID string) (*adapter.Adapter, error) {
	a, ok := f.adapters[sessionID]
	if !ok {
		return nil, apperrors.SessionNotConnected()
	}
	return a, nil
}

type stubLimiter struct {
	result RateLimitResult
	calls  int
}

func (l *stubLimiter) AllowSend(_ context.Context, _ *model.Owner) RateLimitResult {
	l.calls++
	return l.result
}

type eventCollector struct {
	mu     sync.Mutex
	events []model.WebhookEvent
}

func (c *eventCollector) Notify(_ context.Context, event model.WebhookEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *eventCollector) all() []model.WebhookEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.WebhookEvent(nil), c.events...)
}

type messageFixture struct {
	svc      *MessageService
	store    *mockMessageStore
	activity *mockActivity
	limiter  *stubLimiter
	events   *eventCollector
	sessions *fakeSessions
	conn     *adaptertest.Conn
	owner    *model.Owner
}

func newMessageFixture(t *testing.T) *messageFixture {
	t.Helper()

	driver := adaptertest.NewDriver()
	a := adapter.New("s1", driver)
	_, err := a.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	conn := driver.Conn("s1")
	require.NotNil(t, conn)
	conn.Authenticate("+15550001")

	f := &messageFixture{
		store:    &mockMessageStore{},
		activity: &mockActivity{},
		limiter:  &stubLimiter{result: RateLimitResult{Allowed: true, Limit: 20, Remaining: 19}},
		events:   &eventCollector{},
		sessions: &fakeSessions{
			ownerID: "owner-1",
			records: map[string]*model.SessionRecord{
				"s1": {ID: "s1", OwnerID: "owner-1", Status: model.SessionStatusConnected, Connected: true},
				"s2": {ID: "s2", OwnerID: "owner-1", Status: model.SessionStatusDisconnected},
			},
			adapters: map[string]*adapter.Adapter{"s1": a},
		},
		conn:  conn,
		owner: &model.Owner{ID: "owner-1", Plan: model.PlanFree},
	}
	f.svc = NewMessageService(f.store, f.sessions, f.activity, f.limiter, f.events, 1024)
	return f
}

func pendingMessage(params model.CreateMessageParams) *model.Message {
	return &model.Message{
		ID:        "msg-1",
		SessionID: params.SessionID,
		OwnerID:   params.OwnerID,
		Recipient: params.Recipient,
		Kind:      params.Kind,
		Body:      params.Body,
		MediaMime: params.MediaMime,
		MediaSize: params.MediaSize,
		Status:    model.MessageStatusPending,
	}
}

func TestMessageService_SendText(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()

	f.store.On("Create", ctx, mock.MatchedBy(func(p model.CreateMessageParams) bool {
		return p.SessionID == "s1" && p.OwnerID == "owner-1" && p.Recipient == "+15559999" &&
			p.Kind == model.MessageKindText && p.Body != nil && *p.Body == "hello"
	})).Return(func(_ context.Context, p model.CreateMessageParams) *model.Message {
		return pendingMessage(p)
	}, nil).Once()
	f.store.On("MarkSent", ctx, "msg-1", mock.AnythingOfType("string")).Return(nil).Once()
	f.activity.On("TouchActivity", ctx, "s1", mock.AnythingOfType("time.Time")).Return(nil).Once()

	msg, err := f.svc.SendText(ctx, f.owner, "s1", SendTextParams{To: " +15559999 ", Body: "hello"})
	require.NoError(t, err)

	assert.Equal(t, model.MessageStatusSent, msg.Status)
	require.NotNil(t, msg.SentAt)
	require.NotNil(t, msg.ProviderMessageID)

	sent := f.conn.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "+15559999", sent[0].To)
	assert.Equal(t, "hello", sent[0].Body)
	assert.Equal(t, sent[0].Handle.ID, *msg.ProviderMessageID)

	events := f.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, model.EventMessageSent, events[0].Type)
	assert.Equal(t, "s1", events[0].SessionID)
	assert.Equal(t, "owner-1", events[0].OwnerID)
	data := events[0].Data.(model.MessageEventData)
	assert.Equal(t, "msg-1", data.MessageID)
	assert.Equal(t, *msg.ProviderMessageID, data.ProviderMessageID)

	assert.Equal(t, 1, f.limiter.calls)
	f.store.AssertExpectations(t)
	f.activity.AssertExpectations(t)
}

func TestMessageService_SendMedia(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()

	f.store.On("Create", ctx, mock.MatchedBy(func(p model.CreateMessageParams) bool {
		return p.Kind == model.MessageKindMedia && *p.MediaMime == "image/png" && *p.MediaSize == 3 &&
			p.Body != nil && *p.Body == "look"
	})).Return(func(_ context.Context, p model.CreateMessageParams) *model.Message {
		return pendingMessage(p)
	}, nil).Once()
	f.store.On("MarkSent", ctx, "msg-1", mock.Anything).Return(nil).Once()
	f.activity.On("TouchActivity", ctx, "s1", mock.Anything).Return(nil).Once()

	msg, err := f.svc.SendMedia(ctx, f.owner, "s1", SendMediaParams{
		To:      "+15559999",
		Media:   adapter.Media{MimeType: "image/png", Filename: "a.png", Data: []byte{1, 2, 3}},
		Caption: "look",
	})
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusSent, msg.Status)

	sent := f.conn.Sent()
	require.Len(t, sent, 1)
	require.NotNil(t, sent[0].Media)
	assert.Equal(t, "a.png", sent[0].Media.Filename)
	assert.Equal(t, "look", sent[0].Caption)
	f.store.AssertExpectations(t)
}

func TestMessageService_SendFailureIsRecordedNotRetried(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()
	f.conn.FailSends(errors.New("recipient unreachable"))

	f.store.On("Create", ctx, mock.Anything).Return(func(_ context.Context, p model.CreateMessageParams) *model.Message {
		return pendingMessage(p)
	}, nil).Once()
	f.store.On("MarkFailed", ctx, "msg-1", "recipient unreachable").Return(nil).Once()

	msg, err := f.svc.SendText(ctx, f.owner, "s1", SendTextParams{To: "+15559999", Body: "hello"})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeDeliveryFailed))

	require.NotNil(t, msg)
	assert.Equal(t, model.MessageStatusFailed, msg.Status)
	assert.Equal(t, "recipient unreachable", *msg.ErrorMessage)

	events := f.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, model.EventMessageFailed, events[0].Type)
	assert.Equal(t, "recipient unreachable", events[0].Data.(model.MessageEventData).Error)

	f.store.AssertExpectations(t)
	f.store.AssertNotCalled(t, "MarkSent", mock.Anything, mock.Anything, mock.Anything)
	f.activity.AssertNotCalled(t, "TouchActivity", mock.Anything, mock.Anything, mock.Anything)
}

func TestMessageService_RequiresConnectedSession(t *testing.T) {
	f := newMessageFixture(t)

	_, err := f.svc.SendText(context.Background(), f.owner, "s2", SendTextParams{To: "+15559999", Body: "hello"})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeSessionNotConnected))

	// not-connected sends do not consume rate budget
	assert.Equal(t, 0, f.limiter.calls)
	f.store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestMessageService_UnknownOrForeignSession(t *testing.T) {
	f := newMessageFixture(t)

	_, err := f.svc.SendText(context.Background(), f.owner, "missing", SendTextParams{To: "+15559999", Body: "hello"})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound))

	other := &model.Owner{ID: "owner-2", Plan: model.PlanFree}
	_, err = f.svc.SendText(context.Background(), other, "s1", SendTextParams{To: "+15559999", Body: "hello"})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound))
	assert.Empty(t, f.conn.Sent())
}

func TestMessageService_RateLimited(t *testing.T) {
	f := newMessageFixture(t)
	resetAt := time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC)
	f.limiter.result = RateLimitResult{Allowed: false, Limit: 20, Remaining: 0, ResetAt: resetAt}

	_, err := f.svc.SendText(context.Background(), f.owner, "s1", SendTextParams{To: "+15559999", Body: "hello"})
	require.Error(t, err)

	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeRateLimitExceeded, appErr.Code)
	details, ok := appErr.Details.(apperrors.RateLimitDetails)
	require.True(t, ok)
	assert.Equal(t, 0, details.Remaining)
	assert.Equal(t, resetAt, details.ResetAt)
	assert.Equal(t, 20, details.Limit)

	assert.Empty(t, f.conn.Sent())
	f.store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestMessageService_Validation(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		send func() error
		code apperrors.ErrorCode
	}{
		{"missing recipient", func() error {
			_, err := f.svc.SendText(ctx, f.owner, "s1", SendTextParams{To: "  ", Body: "hi"})
			return err
		}, apperrors.ErrCodeMissingRequired},
		{"malformed recipient", func() error {
			_, err := f.svc.SendText(ctx, f.owner, "s1", SendTextParams{To: "call me", Body: "hi"})
			return err
		}, apperrors.ErrCodeInvalidInput},
		{"blank body", func() error {
			_, err := f.svc.SendText(ctx, f.owner, "s1", SendTextParams{To: "+15559999", Body: " \n"})
			return err
		}, apperrors.ErrCodeMissingRequired},
		{"body too long", func() error {
			_, err := f.svc.SendText(ctx, f.owner, "s1", SendTextParams{To: "+15559999", Body: string(make([]byte, MaxTextLength+1))})
			return err
		}, apperrors.ErrCodeInvalidInput},
		{"empty media", func() error {
			_, err := f.svc.SendMedia(ctx, f.owner, "s1", SendMediaParams{To: "+15559999", Media: adapter.Media{MimeType: "image/png"}})
			return err
		}, apperrors.ErrCodeMissingRequired},
		{"missing mime type", func() error {
			_, err := f.svc.SendMedia(ctx, f.owner, "s1", SendMediaParams{To: "+15559999", Media: adapter.Media{Data: []byte{1}}})
			return err
		}, apperrors.ErrCodeMissingRequired},
		{"media too large", func() error {
			_, err := f.svc.SendMedia(ctx, f.owner, "s1", SendMediaParams{
				To:    "+15559999",
				Media: adapter.Media{MimeType: "image/png", Data: make([]byte, 1025)},
			})
			return err
		}, apperrors.ErrCodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.send()
			assert.True(t, apperrors.Is(err, tt.code), "got %v", err)
		})
	}

	assert.Equal(t, 0, f.limiter.calls)
	assert.Empty(t, f.conn.Sent())
}

func TestMessageService_ListMessages(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()

	page := []model.Message{{ID: "m1"}, {ID: "m2"}}
	f.store.On("FindBySessionID", ctx, "s1", 2, 0).Return(page, nil).Once()
	f.store.On("CountBySessionID", ctx, "s1").Return(3, nil).Once()

	res, err := f.svc.ListMessages(ctx, "owner-1", "s1", 2, 0)
	require.NoError(t, err)
	assert.Len(t, res.Messages, 2)
	assert.Equal(t, 3, res.Total)
	assert.True(t, res.HasMore)

	f.store.On("FindBySessionID", ctx, "s2", 10, 0).Return(nil, nil).Once()
	f.store.On("CountBySessionID", ctx, "s2").Return(0, nil).Once()

	res, err = f.svc.ListMessages(ctx, "owner-1", "s2", 10, 0)
	require.NoError(t, err)
	assert.NotNil(t, res.Messages)
	assert.False(t, res.HasMore)

	_, err = f.svc.ListMessages(ctx, "owner-2", "s1", 10, 0)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound))

	f.store.AssertExpectations(t)
}
