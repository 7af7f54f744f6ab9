// Package adaptertest provides an in-memory adapter.Driver for tests.
package adaptertest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openclaw/wagate-server-go/internal/adapter"
)

var ErrSendRejected = errors.New("send rejected")

type Sent struct {
	To      string
	Body    string
	Media   *adapter.Media
	Handle  adapter.MessageHandle
	Caption string
}

// Driver hands out fake connections and records how many are open per
// session at any instant.
type Driver struct {
	mu       sync.Mutex
	conns    map[string][]*Conn
	open     map[string]int
	peakOpen map[string]int
	dials    int
	dialErr  error
	gate     chan struct{}
	dialed   chan string
}

func NewDriver() *Driver {
	return &Driver{
		conns:    make(map[string][]*Conn),
		open:     make(map[string]int),
		peakOpen: make(map[string]int),
		dialed:   make(chan string, 64),
	}
}

// FailDials makes every subsequent Dial return err. Pass nil to reset.
func (d *Driver) FailDials(err error) {
	d.mu.Lock()
	d.dialErr = err
	d.mu.Unlock()
}

// Block makes Dial wait until Release is called or its context is done.
func (d *Driver) Block() {
	d.mu.Lock()
	d.gate = make(chan struct{})
	d.mu.Unlock()
}

func (d *Driver) Release() {
	d.mu.Lock()
	if d.gate != nil {
		close(d.gate)
		d.gate = nil
	}
	d.mu.Unlock()
}

// Dialed receives the session id of every Dial call as it starts.
func (d *Driver) Dialed() <-chan string {
	return d.dialed
}

func (d *Driver) Dial(ctx context.Context, sessionID string) (adapter.Conn, error) {
	d.mu.Lock()
	d.dials++
	gate := d.gate
	d.mu.Unlock()

	select {
	case d.dialed <- sessionID:
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dialErr != nil {
		return nil, d.dialErr
	}

	c := &Conn{
		sessionID: sessionID,
		driver:    d,
		events:    make(chan adapter.Event, 64),
		done:      make(chan struct{}),
	}
	d.conns[sessionID] = append(d.conns[sessionID], c)
	d.open[sessionID]++
	if d.open[sessionID] > d.peakOpen[sessionID] {
		d.peakOpen[sessionID] = d.open[sessionID]
	}
	return c, nil
}

func (d *Driver) release(sessionID string) {
	d.mu.Lock()
	d.open[sessionID]--
	d.mu.Unlock()
}

func (d *Driver) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// OpenConns is the number of connections for sessionID not yet closed.
func (d *Driver) OpenConns(sessionID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open[sessionID]
}

// PeakOpenConns is the highest OpenConns ever observed for sessionID.
func (d *Driver) PeakOpenConns(sessionID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peakOpen[sessionID]
}

// Conn returns the most recent connection dialed for sessionID.
func (d *Driver) Conn(sessionID string) *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	conns := d.conns[sessionID]
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

// WaitConn polls for a connection for sessionID until timeout.
func (d *Driver) WaitConn(sessionID string, timeout time.Duration) *Conn {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c := d.Conn(sessionID); c != nil {
			return c
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}

type Conn struct {
	sessionID string
	driver    *Driver

	mu       sync.RWMutex
	events   chan adapter.Event
	done     chan struct{}
	doneOnce sync.Once
	closed   bool
	live     bool
	sendErr  error
	sent     []Sent
}

func (c *Conn) Events() <-chan adapter.Event {
	return c.events
}

// Emit delivers ev to the adapter. It is a no-op after Close.
func (c *Conn) Emit(ev adapter.Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Conn) IssuePairing(payload string) { c.Emit(adapter.PairingIssued(payload)) }

func (c *Conn) Authenticate(identity string) {
	c.SetLive(true)
	c.Emit(adapter.Authenticated(identity))
}

func (c *Conn) Ready() { c.Emit(adapter.Ready()) }

func (c *Conn) Disconnect(reason string) {
	c.SetLive(false)
	c.Emit(adapter.Disconnected(reason))
}

func (c *Conn) FailAuth(reason string) { c.Emit(adapter.AuthFailed(reason)) }

// SetLive changes what Live reports without emitting an event, simulating a
// dropped connection whose disconnect notification was lost.
func (c *Conn) SetLive(live bool) {
	c.mu.Lock()
	c.live = live
	c.mu.Unlock()
}

func (c *Conn) FailSends(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

func (c *Conn) Live() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.live && !c.closed
}

func (c *Conn) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Conn) Sent() []Sent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Sent, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *Conn) record(s Sent) (adapter.MessageHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return adapter.MessageHandle{}, adapter.ErrClosed
	}
	if c.sendErr != nil {
		return adapter.MessageHandle{}, c.sendErr
	}
	s.Handle = adapter.MessageHandle{ID: uuid.NewString(), SentAt: time.Now()}
	c.sent = append(c.sent, s)
	return s.Handle, nil
}

func (c *Conn) SendText(_ context.Context, to, body string) (adapter.MessageHandle, error) {
	return c.record(Sent{To: to, Body: body})
}

func (c *Conn) SendMedia(_ context.Context, to string, media adapter.Media, caption string) (adapter.MessageHandle, error) {
	return c.record(Sent{To: to, Media: &media, Caption: caption})
}

func (c *Conn) Close() error {
	c.mu.RLock()
	already := c.closed
	c.mu.RUnlock()
	if already {
		return nil
	}

	c.doneOnce.Do(func() { close(c.done) })

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.live = false
	close(c.events)
	c.driver.release(c.sessionID)
	return nil
}
