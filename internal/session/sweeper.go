package session

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/wagate-server-go/internal/model"
)

// SweepResult counts what one pass changed.
type SweepResult struct {
	Expired    int
	Removed    int
	Remirrored int
}

// Sweeper is the single periodic task that applies time-driven transitions
// to every pairing entry. Entries never own timers.
type Sweeper struct {
	orch     *Orchestrator
	interval time.Duration
}

func NewSweeper(orch *Orchestrator, interval time.Duration) *Sweeper {
	return &Sweeper{orch: orch, interval: interval}
}

// Run calls SweepOnce on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.interval).Dur("expiry", s.orch.expiry).Msg("pairing sweeper started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce makes one pass over the registry:
//   - ready past the expiry window since its last payload becomes expired
//     and releases its adapter
//   - generating that never issued a payload within the window expires the
//     same way
//   - expired and error entries idle past the window are removed
//   - entries whose last mirror failed are written again
func (s *Sweeper) SweepOnce(ctx context.Context) SweepResult {
	var res SweepResult
	o := s.orch

	for _, sl := range o.registry.slots() {
		if ctx.Err() != nil {
			return res
		}
		snap := sl.snap.Load()
		if snap == nil {
			continue
		}
		now := o.now()
		if !s.due(snap, now) && !sl.dirty.Load() {
			continue
		}

		sl.mu.Lock()
		if sl.removed || sl.entry == nil {
			sl.mu.Unlock()
			continue
		}
		e := sl.entry
		st := e.state

		switch {
		case (st.Status == model.SessionStatusReady || st.Status == model.SessionStatusGenerating) && s.due(st, now):
			if o.transition(sl, e, model.SessionStatusExpired, nil) {
				o.teardown(e)
				o.notify(e, model.EventSessionExpired, model.SessionEventData{Status: model.SessionStatusExpired})
				res.Expired++
			}

		case (st.Status == model.SessionStatusExpired || st.Status == model.SessionStatusError) &&
			now.Sub(st.LastUpdated) > o.expiry:
			o.teardown(e)
			o.registry.clear(sl)
			res.Removed++

		case sl.dirty.Load():
			o.mirror(sl, e)
			if !sl.dirty.Load() {
				res.Remirrored++
			}
		}
		o.registry.unlock(sl)
	}

	res.Remirrored += s.flushPending()

	if res != (SweepResult{}) {
		log.Debug().
			Int("expired", res.Expired).
			Int("removed", res.Removed).
			Int("remirrored", res.Remirrored).
			Msg("pairing sweep")
	}
	return res
}

func (s *Sweeper) due(st *PairingState, now time.Time) bool {
	switch st.Status {
	case model.SessionStatusReady:
		return now.Sub(st.PayloadIssuedAt) > s.orch.expiry
	case model.SessionStatusGenerating, model.SessionStatusExpired, model.SessionStatusError:
		return now.Sub(st.LastUpdated) > s.orch.expiry
	}
	return false
}

// flushPending retries mirrors of sessions that left the registry. A session
// that has started a new pairing attempt since then is skipped; its own
// mirror supersedes the pending one.
func (s *Sweeper) flushPending() int {
	o := s.orch

	o.pendingMu.Lock()
	ids := make([]string, 0, len(o.pending))
	for id := range o.pending {
		ids = append(ids, id)
	}
	o.pendingMu.Unlock()

	flushed := 0
	for _, id := range ids {
		sl := o.registry.lock(id)
		o.pendingMu.Lock()
		u, ok := o.pending[id]
		o.pendingMu.Unlock()

		if ok && sl.entry == nil {
			if err := o.writeConnectivity(id, u); err == nil {
				o.dropPending(id)
				flushed++
			}
		} else if ok {
			o.dropPending(id)
		}
		o.registry.unlock(sl)
	}
	return flushed
}
