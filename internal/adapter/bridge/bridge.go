// Package bridge implements adapter.Driver against the device bridge, a
// sidecar that speaks the messaging network protocol and exposes each
// session as a JSON-over-websocket stream.
package bridge

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/wagate-server-go/internal/adapter"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
	pongWait         = 60 * time.Second
	pingInterval     = 30 * time.Second
	sendTimeout      = 30 * time.Second
)

// Frame types
const (
	frameTypePairing       = "pairing"
	frameTypeAuthenticated = "authenticated"
	frameTypeReady         = "ready"
	frameTypeDisconnected  = "disconnected"
	frameTypeAuthFailed    = "auth_failed"
	frameTypeAck           = "ack"
	frameTypeSendText      = "send_text"
	frameTypeSendMedia     = "send_media"
)

var ErrConnectionClosed = errors.New("bridge connection closed")

type mediaFrame struct {
	MimeType string `json:"mimeType"`
	Filename string `json:"filename,omitempty"`
	Data     string `json:"data"`
}

type frame struct {
	Type      string      `json:"type"`
	Ref       string      `json:"ref,omitempty"`
	Payload   string      `json:"payload,omitempty"`
	Identity  string      `json:"identity,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	To        string      `json:"to,omitempty"`
	Body      string      `json:"body,omitempty"`
	Caption   string      `json:"caption,omitempty"`
	Media     *mediaFrame `json:"media,omitempty"`
	MessageID string      `json:"messageId,omitempty"`
	Error     string      `json:"error,omitempty"`
}

type Driver struct {
	baseURL string
	token   string
	dialer  *websocket.Dialer
}

func NewDriver(baseURL, token string) *Driver {
	return &Driver{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

func (d *Driver) Dial(ctx context.Context, sessionID string) (adapter.Conn, error) {
	target := d.baseURL + "/sessions/" + url.PathEscape(sessionID)

	header := http.Header{}
	if d.token != "" {
		header.Set("Authorization", "Bearer "+d.token)
	}

	ws, resp, err := d.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("bridge handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("bridge dial: %w", err)
	}

	c := &conn{
		sessionID: sessionID,
		ws:        ws,
		events:    make(chan adapter.Event, 16),
		pending:   make(map[string]chan frame),
		done:      make(chan struct{}),
	}
	go c.readLoop()
	go c.pingLoop()

	log.Info().Str("sessionId", sessionID).Msg("bridge connection established")
	return c, nil
}

type conn struct {
	sessionID string
	ws        *websocket.Conn
	events    chan adapter.Event

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan frame

	live      atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

func (c *conn) Events() <-chan adapter.Event {
	return c.events
}

func (c *conn) Live() bool {
	select {
	case <-c.done:
		return false
	default:
		return c.live.Load()
	}
}

func (c *conn) readLoop() {
	defer close(c.events)
	defer c.Close()

	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f frame
		if err := c.ws.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("sessionId", c.sessionID).Msg("bridge read failed")
			}
			return
		}

		if f.Type == frameTypeAck {
			c.resolve(f)
			continue
		}

		ev, ok := c.toEvent(f)
		if !ok {
			log.Debug().Str("sessionId", c.sessionID).Str("type", f.Type).Msg("ignoring unknown bridge frame")
			continue
		}

		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}

func (c *conn) toEvent(f frame) (adapter.Event, bool) {
	switch f.Type {
	case frameTypePairing:
		return adapter.PairingIssued(f.Payload), true
	case frameTypeAuthenticated:
		c.live.Store(true)
		return adapter.Authenticated(f.Identity), true
	case frameTypeReady:
		return adapter.Ready(), true
	case frameTypeDisconnected:
		c.live.Store(false)
		return adapter.Disconnected(f.Reason), true
	case frameTypeAuthFailed:
		c.live.Store(false)
		return adapter.AuthFailed(f.Reason), true
	}
	return adapter.Event{}, false
}

func (c *conn) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.live.Store(false)
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *conn) write(f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteJSON(f)
}

func (c *conn) resolve(f frame) {
	c.pendingMu.Lock()
	ch, ok := c.pending[f.Ref]
	delete(c.pending, f.Ref)
	c.pendingMu.Unlock()
	if ok {
		ch <- f
	}
}

// request writes f and waits for the ack carrying the same ref.
func (c *conn) request(ctx context.Context, f frame) (adapter.MessageHandle, error) {
	f.Ref = uuid.NewString()
	ack := make(chan frame, 1)

	c.pendingMu.Lock()
	c.pending[f.Ref] = ack
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, f.Ref)
		c.pendingMu.Unlock()
	}()

	if err := c.write(f); err != nil {
		return adapter.MessageHandle{}, fmt.Errorf("write %s: %w", f.Type, err)
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	select {
	case reply := <-ack:
		if reply.Error != "" {
			return adapter.MessageHandle{}, errors.New(reply.Error)
		}
		return adapter.MessageHandle{ID: reply.MessageID, SentAt: time.Now()}, nil
	case <-c.done:
		return adapter.MessageHandle{}, ErrConnectionClosed
	case <-ctx.Done():
		return adapter.MessageHandle{}, ctx.Err()
	}
}

func (c *conn) SendText(ctx context.Context, to, body string) (adapter.MessageHandle, error) {
	return c.request(ctx, frame{Type: frameTypeSendText, To: to, Body: body})
}

func (c *conn) SendMedia(ctx context.Context, to string, media adapter.Media, caption string) (adapter.MessageHandle, error) {
	return c.request(ctx, frame{
		Type:    frameTypeSendMedia,
		To:      to,
		Caption: caption,
		Media: &mediaFrame{
			MimeType: media.MimeType,
			Filename: media.Filename,
			Data:     base64.StdEncoding.EncodeToString(media.Data),
		},
	})
}

func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.live.Store(false)

		c.writeMu.Lock()
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()

		err = c.ws.Close()
	})
	return err
}
