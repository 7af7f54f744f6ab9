package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/wagate-server-go/internal/adapter"
	apperrors "github.com/openclaw/wagate-server-go/internal/errors"
	"github.com/openclaw/wagate-server-go/internal/model"
	"github.com/openclaw/wagate-server-go/internal/util"
)

const (
	MaxTextLength    = 4096
	MaxCaptionLength = 1024
)

type MessageStore interface {
	FindBySessionID(ctx context.Context, sessionID string, limit, offset int) ([]model.Message, error)
	CountBySessionID(ctx context.Context, sessionID string) (int, error)
	Create(ctx context.Context, params model.CreateMessageParams) (*model.Message, error)
	MarkSent(ctx context.Context, id string, providerMessageID string) error
	MarkFailed(ctx context.Context, id string, errorMsg string) error
}

// LiveSessions resolves an owner's session and its live adapter.
type LiveSessions interface {
	Authorize(ctx context.Context, ownerID, sessionID string) (*model.SessionRecord, error)
	Adapter(sessionID string) (*adapter.Adapter, error)
}

type ActivityRecorder interface {
	TouchActivity(ctx context.Context, id string, at time.Time) error
}

type SendLimiter interface {
	AllowSend(ctx context.Context, owner *model.Owner) RateLimitResult
}

type EventNotifier interface {
	Notify(ctx context.Context, event model.WebhookEvent)
}

// MessageService sends messages through a connected session. A send is
// attempted once; failures are recorded and reported, never retried.
type MessageService struct {
	messages MessageStore
	sessions LiveSessions
	activity ActivityRecorder
	limiter  SendLimiter
	notifier EventNotifier
	maxMedia int64
}

func NewMessageService(
	messages MessageStore,
	sessions LiveSessions,
	activity ActivityRecorder,
	limiter SendLimiter,
	notifier EventNotifier,
	maxMediaBytes int64,
) *MessageService {
	return &MessageService{
		messages: messages,
		sessions: sessions,
		activity: activity,
		limiter:  limiter,
		notifier: notifier,
		maxMedia: maxMediaBytes,
	}
}

type SendTextParams struct {
	To   string
	Body string
}

type SendMediaParams struct {
	To      string
	Media   adapter.Media
	Caption string
}

func (s *MessageService) SendText(ctx context.Context, owner *model.Owner, sessionID string, params SendTextParams) (*model.Message, error) {
	to, err := recipient(params.To)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.Body) == "" {
		return nil, apperrors.MissingRequired("body")
	}
	if len(params.Body) > MaxTextLength {
		return nil, apperrors.InvalidInput("body", fmt.Sprintf("must be at most %d bytes", MaxTextLength))
	}

	body := params.Body
	return s.send(ctx, owner, sessionID, model.CreateMessageParams{
		Recipient: to,
		Kind:      model.MessageKindText,
		Body:      &body,
	}, func(a *adapter.Adapter) (adapter.MessageHandle, error) {
		return a.SendText(ctx, to, body)
	})
}

func (s *MessageService) SendMedia(ctx context.Context, owner *model.Owner, sessionID string, params SendMediaParams) (*model.Message, error) {
	to, err := recipient(params.To)
	if err != nil {
		return nil, err
	}
	if len(params.Media.Data) == 0 {
		return nil, apperrors.MissingRequired("media")
	}
	if params.Media.MimeType == "" {
		return nil, apperrors.MissingRequired("mimeType")
	}
	if s.maxMedia > 0 && int64(len(params.Media.Data)) > s.maxMedia {
		return nil, apperrors.InvalidInput("media", fmt.Sprintf("must be at most %d bytes", s.maxMedia))
	}
	if len(params.Caption) > MaxCaptionLength {
		return nil, apperrors.InvalidInput("caption", fmt.Sprintf("must be at most %d bytes", MaxCaptionLength))
	}

	mime := params.Media.MimeType
	size := int64(len(params.Media.Data))
	create := model.CreateMessageParams{
		Recipient: to,
		Kind:      model.MessageKindMedia,
		MediaMime: &mime,
		MediaSize: &size,
	}
	if params.Caption != "" {
		caption := params.Caption
		create.Body = &caption
	}

	return s.send(ctx, owner, sessionID, create, func(a *adapter.Adapter) (adapter.MessageHandle, error) {
		return a.SendMedia(ctx, to, params.Media, params.Caption)
	})
}

func recipient(raw string) (string, error) {
	to := strings.TrimSpace(raw)
	if to == "" {
		return "", apperrors.MissingRequired("to")
	}
	if !util.IsValidRecipient(to) {
		return "", apperrors.InvalidInput("to", "must be an E.164 phone number")
	}
	return to, nil
}

func (s *MessageService) send(
	ctx context.Context,
	owner *model.Owner,
	sessionID string,
	params model.CreateMessageParams,
	deliver func(*adapter.Adapter) (adapter.MessageHandle, error),
) (*model.Message, error) {
	rec, err := s.sessions.Authorize(ctx, owner.ID, sessionID)
	if err != nil {
		return nil, err
	}
	a, err := s.sessions.Adapter(rec.ID)
	if err != nil {
		return nil, err
	}

	if res := s.limiter.AllowSend(ctx, owner); !res.Allowed {
		messagesTotal.WithLabelValues(string(params.Kind), "rate_limited").Inc()
		return nil, apperrors.RateLimitExceeded(res.Limit, res.Remaining, res.ResetAt)
	}

	params.SessionID = rec.ID
	params.OwnerID = owner.ID
	msg, err := s.messages.Create(ctx, params)
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("create message: %w", err))
	}

	handle, sendErr := deliver(a)
	if sendErr != nil {
		errMsg := sendErr.Error()
		if err := s.messages.MarkFailed(ctx, msg.ID, errMsg); err != nil {
			log.Error().Err(err).Str("messageId", msg.ID).Msg("failed to mark message failed")
		}
		msg.Status = model.MessageStatusFailed
		msg.ErrorMessage = &errMsg

		messagesTotal.WithLabelValues(string(msg.Kind), "failed").Inc()
		log.Warn().
			Err(sendErr).
			Str("messageId", msg.ID).
			Str("sessionId", rec.ID).
			Str("kind", string(msg.Kind)).
			Msg("message send failed")

		s.notify(model.EventMessageFailed, msg, "", errMsg)
		return msg, apperrors.DeliveryFailed(sendErr)
	}

	if err := s.messages.MarkSent(ctx, msg.ID, handle.ID); err != nil {
		log.Error().Err(err).Str("messageId", msg.ID).Msg("failed to mark message sent")
	}
	sentAt := handle.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}
	msg.Status = model.MessageStatusSent
	msg.SentAt = &sentAt
	if handle.ID != "" {
		providerID := handle.ID
		msg.ProviderMessageID = &providerID
	}

	if err := s.activity.TouchActivity(ctx, rec.ID, sentAt); err != nil {
		log.Warn().Err(err).Str("sessionId", rec.ID).Msg("failed to record session activity")
	}

	messagesTotal.WithLabelValues(string(msg.Kind), "sent").Inc()
	log.Info().
		Str("messageId", msg.ID).
		Str("sessionId", rec.ID).
		Str("kind", string(msg.Kind)).
		Msg("message sent")

	s.notify(model.EventMessageSent, msg, handle.ID, "")
	return msg, nil
}

func (s *MessageService) notify(eventType model.EventType, msg *model.Message, providerID, errMsg string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(context.Background(), model.WebhookEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		OwnerID:    msg.OwnerID,
		SessionID:  msg.SessionID,
		OccurredAt: time.Now(),
		Data: model.MessageEventData{
			MessageID:         msg.ID,
			Recipient:         msg.Recipient,
			Kind:              msg.Kind,
			ProviderMessageID: providerID,
			Error:             errMsg,
		},
	})
}

type MessageListResult struct {
	Messages []model.Message `json:"messages"`
	Total    int             `json:"total"`
	HasMore  bool            `json:"hasMore"`
}

func (s *MessageService) ListMessages(ctx context.Context, ownerID, sessionID string, limit, offset int) (*MessageListResult, error) {
	rec, err := s.sessions.Authorize(ctx, ownerID, sessionID)
	if err != nil {
		return nil, err
	}

	msgs, err := s.messages.FindBySessionID(ctx, rec.ID, limit, offset)
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("list messages: %w", err))
	}
	total, err := s.messages.CountBySessionID(ctx, rec.ID)
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("count messages: %w", err))
	}
	if msgs == nil {
		msgs = []model.Message{}
	}

	return &MessageListResult{
		Messages: msgs,
		Total:    total,
		HasMore:  offset+len(msgs) < total,
	}, nil
}
