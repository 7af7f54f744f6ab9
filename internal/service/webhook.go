package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/openclaw/wagate-server-go/internal/config"
	"github.com/openclaw/wagate-server-go/internal/model"
	"github.com/openclaw/wagate-server-go/internal/util"
)

var ErrDispatcherStopped = errors.New("webhook dispatcher stopped")

type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.SessionRecord, error)
}

type OwnerFinder interface {
	FindByID(ctx context.Context, id string) (*model.Owner, error)
}

// EventPublisher fans events out to live subscribers (the SSE broker).
type EventPublisher interface {
	Publish(ctx context.Context, event model.WebhookEvent) error
}

type WebhookOptions struct {
	Workers       int
	QueueSize     int
	MaxAttempts   int
	Timeout       time.Duration
	BaseBackoff   time.Duration
	RatePerSecond int
	SigningSecret string
}

func (o WebhookOptions) withDefaults() WebhookOptions {
	if o.Workers <= 0 {
		o.Workers = config.WebhookWorkers
	}
	if o.QueueSize <= 0 {
		o.QueueSize = config.WebhookQueueSize
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 1
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = config.WebhookBaseBackoff
	}
	return o
}

// WebhookDispatcher delivers session and message events to owners. Notify
// only enqueues; workers publish each event to the SSE broker and POST it to
// the session's webhook target, falling back to the owner's default URL.
// With a signing secret, each POST carries X-Wagate-Signature, the hex
// HMAC-SHA256 of the body.
type WebhookDispatcher struct {
	client    *http.Client
	sessions  SessionFinder
	owners    OwnerFinder
	publisher EventPublisher
	limiter   *rate.Limiter
	opts      WebhookOptions

	mu      sync.RWMutex
	stopped bool
	queue   chan model.WebhookEvent

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWebhookDispatcher(sessions SessionFinder, owners OwnerFinder, publisher EventPublisher, opts WebhookOptions) *WebhookDispatcher {
	opts = opts.withDefaults()

	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WebhookDispatcher{
		client:    &http.Client{Timeout: opts.Timeout},
		sessions:  sessions,
		owners:    owners,
		publisher: publisher,
		limiter:   rate.NewLimiter(limit, opts.Workers),
		opts:      opts,
		queue:     make(chan model.WebhookEvent, opts.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (d *WebhookDispatcher) Start() {
	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	log.Info().Int("workers", d.opts.Workers).Msg("webhook dispatcher started")
}

// Notify enqueues event for delivery. It never blocks; events are dropped
// when the queue is full or the dispatcher has stopped.
func (d *WebhookDispatcher) Notify(_ context.Context, event model.WebhookEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		webhookDeliveriesTotal.WithLabelValues("dropped").Inc()
		return
	}

	select {
	case d.queue <- event:
		webhookQueueDepth.Inc()
	default:
		webhookDeliveriesTotal.WithLabelValues("dropped").Inc()
		log.Warn().
			Str("eventId", event.ID).
			Str("type", string(event.Type)).
			Str("sessionId", event.SessionID).
			Msg("webhook queue full, dropping event")
	}
}

// Stop stops accepting events and drains the queue. If ctx ends first,
// in-flight deliveries are aborted.
func (d *WebhookDispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *WebhookDispatcher) worker() {
	defer d.wg.Done()
	for event := range d.queue {
		webhookQueueDepth.Dec()
		d.deliver(event)
	}
}

func (d *WebhookDispatcher) deliver(event model.WebhookEvent) {
	if d.publisher != nil {
		ctx, cancel := context.WithTimeout(d.ctx, d.opts.Timeout)
		if err := d.publisher.Publish(ctx, event); err != nil {
			log.Warn().Err(err).Str("eventId", event.ID).Msg("failed to publish event to subscribers")
		}
		cancel()
	}

	target := d.resolveTarget(event)
	if target == "" {
		webhookDeliveriesTotal.WithLabelValues("skipped").Inc()
		return
	}
	if !ValidWebhookURL(target) {
		webhookDeliveriesTotal.WithLabelValues("failed").Inc()
		log.Warn().Str("url", target).Str("ownerId", event.OwnerID).Msg("invalid webhook URL rejected")
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		webhookDeliveriesTotal.WithLabelValues("failed").Inc()
		log.Error().Err(err).Str("eventId", event.ID).Msg("marshal webhook event")
		return
	}

	var lastErr error
	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		if attempt > 1 && !d.sleep(d.opts.BaseBackoff<<(attempt-2)) {
			lastErr = ErrDispatcherStopped
			break
		}
		if err := d.limiter.Wait(d.ctx); err != nil {
			lastErr = ErrDispatcherStopped
			break
		}

		retry, err := d.post(target, event, body)
		if err == nil {
			webhookDeliveriesTotal.WithLabelValues("delivered").Inc()
			return
		}
		lastErr = err
		if !retry {
			break
		}
	}

	webhookDeliveriesTotal.WithLabelValues("failed").Inc()
	log.Error().
		Err(lastErr).
		Str("eventId", event.ID).
		Str("type", string(event.Type)).
		Str("sessionId", event.SessionID).
		Str("url", target).
		Msg("webhook delivery failed")
}

func (d *WebhookDispatcher) sleep(dur time.Duration) bool {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-d.ctx.Done():
		return false
	}
}

func (d *WebhookDispatcher) resolveTarget(event model.WebhookEvent) string {
	ctx, cancel := context.WithTimeout(d.ctx, d.opts.Timeout)
	defer cancel()

	if event.SessionID != "" && d.sessions != nil {
		rec, err := d.sessions.FindByID(ctx, event.SessionID)
		if err != nil {
			log.Warn().Err(err).Str("sessionId", event.SessionID).Msg("webhook target lookup failed")
		} else if rec != nil && rec.WebhookTarget != nil && *rec.WebhookTarget != "" {
			return *rec.WebhookTarget
		}
	}

	if d.owners == nil {
		return ""
	}
	owner, err := d.owners.FindByID(ctx, event.OwnerID)
	if err != nil {
		log.Warn().Err(err).Str("ownerId", event.OwnerID).Msg("webhook owner lookup failed")
		return ""
	}
	if owner == nil || owner.WebhookURL == nil {
		return ""
	}
	return *owner.WebhookURL
}

// post performs one delivery attempt. retry reports whether a failure is
// worth another attempt: transport errors, 429 and 5xx are; other 4xx are not.
func (d *WebhookDispatcher) post(target string, event model.WebhookEvent, body []byte) (retry bool, err error) {
	ctx, cancel := context.WithTimeout(d.ctx, d.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Wagate-Event", string(event.Type))
	req.Header.Set("X-Wagate-Delivery", event.ID)
	if d.opts.SigningSecret != "" {
		req.Header.Set("X-Wagate-Signature", "sha256="+util.HmacSHA256(d.opts.SigningSecret, string(body)))
	}

	webhookAttemptsTotal.Inc()
	start := time.Now()
	resp, err := d.client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		log.Warn().
			Err(err).
			Str("url", target).
			Dur("elapsed", elapsed).
			Msg("webhook request error")
		return true, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn().
			Str("url", target).
			Int("status", resp.StatusCode).
			Dur("elapsed", elapsed).
			Msg("webhook rejected")
		retry = resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return retry, fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	log.Debug().
		Str("url", target).
		Str("eventId", event.ID).
		Int("status", resp.StatusCode).
		Dur("elapsed", elapsed).
		Msg("webhook delivered")

	return false, nil
}

// ValidWebhookURL reports whether rawURL is an absolute http(s) URL.
func ValidWebhookURL(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return false
	}
	return parsed.Host != ""
}
