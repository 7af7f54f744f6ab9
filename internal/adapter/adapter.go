// Package adapter wraps one native device connection per session and turns
// its asynchronous lifecycle into an ordered event stream.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

const eventBuffer = 16

var (
	ErrClosed  = errors.New("adapter closed")
	ErrNotOpen = errors.New("adapter not open")
)

// Adapter owns at most one Conn for its session. Open is idempotent and
// Close may be called any number of times.
type Adapter struct {
	sessionID string
	driver    Driver

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	conn   Conn
	events chan Event
	closed bool

	pumpDone chan struct{}
}

func New(sessionID string, driver Driver) *Adapter {
	ctx, cancel := context.WithCancel(context.Background())
	return &Adapter{
		sessionID: sessionID,
		driver:    driver,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (a *Adapter) SessionID() string {
	return a.sessionID
}

// Open dials the driver on first call and returns the event stream. Later
// calls return the same stream without dialing. The dial is abandoned when
// either ctx is done or Close is called.
func (a *Adapter) Open(ctx context.Context) (<-chan Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, ErrClosed
	}
	if a.events != nil {
		return a.events, nil
	}

	dialCtx, cancelDial := context.WithCancel(ctx)
	stop := context.AfterFunc(a.ctx, cancelDial)
	conn, err := a.driver.Dial(dialCtx, a.sessionID)
	stop()
	cancelDial()

	if err != nil {
		if a.ctx.Err() != nil {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("dial session %s: %w", a.sessionID, err)
	}
	if a.ctx.Err() != nil {
		_ = conn.Close()
		return nil, ErrClosed
	}

	a.conn = conn
	a.events = make(chan Event, eventBuffer)
	a.pumpDone = make(chan struct{})
	go a.pump(conn, a.events, a.pumpDone)

	log.Debug().Str("sessionId", a.sessionID).Msg("adapter opened")
	return a.events, nil
}

// pump forwards conn events, drops a ready that arrives before authenticated,
// and guarantees the stream ends with a terminal event.
func (a *Adapter) pump(conn Conn, out chan<- Event, done chan<- struct{}) {
	defer close(done)
	defer close(out)

	authenticated := false
	forward := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-a.ctx.Done():
			return false
		}
	}

	in := conn.Events()
	for {
		select {
		case <-a.ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				forward(Disconnected("connection closed"))
				return
			}
			switch ev.Kind {
			case EventAuthenticated:
				authenticated = true
			case EventReady:
				if !authenticated {
					log.Warn().Str("sessionId", a.sessionID).Msg("dropping ready event before authenticated")
					continue
				}
			}
			if !forward(ev) || ev.terminal() {
				return
			}
		}
	}
}

// Close releases the native connection. It cancels an in-flight Open and
// waits for the event pump to exit.
func (a *Adapter) Close() error {
	a.cancel()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	conn := a.conn
	done := a.pumpDone
	a.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	if done != nil {
		<-done
	}

	log.Debug().Str("sessionId", a.sessionID).Msg("adapter closed")
	return err
}

func (a *Adapter) IsLive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.closed && a.conn != nil && a.conn.Live()
}

func (a *Adapter) liveConn() (Conn, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, ErrClosed
	}
	if a.conn == nil {
		return nil, ErrNotOpen
	}
	return a.conn, nil
}

func (a *Adapter) SendText(ctx context.Context, to, body string) (MessageHandle, error) {
	conn, err := a.liveConn()
	if err != nil {
		return MessageHandle{}, err
	}
	return conn.SendText(ctx, to, body)
}

func (a *Adapter) SendMedia(ctx context.Context, to string, media Media, caption string) (MessageHandle, error) {
	conn, err := a.liveConn()
	if err != nil {
		return MessageHandle{}, err
	}
	return conn.SendMedia(ctx, to, media, caption)
}
