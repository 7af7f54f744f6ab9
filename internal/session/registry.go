package session

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/openclaw/wagate-server-go/internal/adapter"
	"github.com/openclaw/wagate-server-go/internal/model"
)

const shardCount = 32

// entry is one pairing attempt: a PairingState plus the adapter that drives
// it. Entries are never reused; a re-pair installs a fresh one.
type entry struct {
	ownerID string
	adapter *adapter.Adapter
	ctx     context.Context
	cancel  context.CancelFunc

	// guarded by slot.mu
	identity string
	holdsSem bool
	closed   bool
	state    *PairingState
}

// slot serializes every mutation for one session id. Readers use snap and
// never take mu.
type slot struct {
	id string
	mu sync.Mutex

	// guarded by mu
	entry   *entry
	removed bool

	snap atomic.Pointer[PairingState]

	// set when the last mirror of the entry failed
	dirty atomic.Bool
}

func (s *slot) publish(st *PairingState) {
	s.entry.state = st
	s.snap.Store(st)
}

type shard struct {
	mu    sync.RWMutex
	slots map[string]*slot
}

// Registry is the process-wide store of pairing state, sharded by session id
// so that unrelated sessions never contend on one lock.
type Registry struct {
	shards [shardCount]*shard
	size   atomic.Int64
}

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &shard{slots: make(map[string]*slot)}
	}
	return r
}

func (r *Registry) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return r.shards[h.Sum32()%shardCount]
}

// Snapshot returns the last committed state for id, or nil.
func (r *Registry) Snapshot(id string) *PairingState {
	sh := r.shardFor(id)
	sh.mu.RLock()
	s := sh.slots[id]
	sh.mu.RUnlock()
	if s == nil {
		return nil
	}
	return s.snap.Load()
}

// lock returns the locked slot for id, creating it if needed.
func (r *Registry) lock(id string) *slot {
	sh := r.shardFor(id)
	for {
		sh.mu.Lock()
		s, ok := sh.slots[id]
		if !ok {
			s = &slot{id: id}
			sh.slots[id] = s
		}
		sh.mu.Unlock()

		s.mu.Lock()
		if !s.removed {
			return s
		}
		s.mu.Unlock()
	}
}

// lockExisting returns the locked slot for id only if it holds an entry.
func (r *Registry) lockExisting(id string) *slot {
	sh := r.shardFor(id)
	sh.mu.RLock()
	s := sh.slots[id]
	sh.mu.RUnlock()
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.removed || s.entry == nil {
		s.mu.Unlock()
		return nil
	}
	return s
}

// install sets a fresh entry on a locked slot.
func (r *Registry) install(s *slot, e *entry) {
	if s.entry == nil {
		r.size.Add(1)
	}
	s.entry = e
	s.snap.Store(e.state)
}

// unlock releases s, dropping it from the shard map when it has no entry.
// Callers must not touch s afterwards.
func (r *Registry) unlock(s *slot) {
	if s.entry == nil && !s.removed {
		s.removed = true
		sh := r.shardFor(s.id)
		sh.mu.Lock()
		if sh.slots[s.id] == s {
			delete(sh.slots, s.id)
		}
		sh.mu.Unlock()
	}
	s.mu.Unlock()
}

// clear detaches the entry from a locked slot. The slot is dropped on unlock.
func (r *Registry) clear(s *slot) *entry {
	e := s.entry
	if e != nil {
		r.size.Add(-1)
	}
	s.entry = nil
	s.snap.Store(nil)
	s.dirty.Store(false)
	return e
}

// Len is the number of sessions with a pairing entry.
func (r *Registry) Len() int {
	return int(r.size.Load())
}

// slots returns every slot currently registered. The list may be stale by the
// time the caller locks an element.
func (r *Registry) slots() []*slot {
	var out []*slot
	for _, sh := range r.shards {
		sh.mu.RLock()
		for _, s := range sh.slots {
			out = append(out, s)
		}
		sh.mu.RUnlock()
	}
	return out
}

// Statuses returns a map of session id to committed status for the given ids.
func (r *Registry) Statuses(ids []string) map[string]model.SessionStatus {
	out := make(map[string]model.SessionStatus, len(ids))
	for _, id := range ids {
		if st := r.Snapshot(id); st != nil {
			out[id] = st.Status
		}
	}
	return out
}
