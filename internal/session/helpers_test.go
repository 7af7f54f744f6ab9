package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openclaw/wagate-server-go/internal/adapter/adaptertest"
	"github.com/openclaw/wagate-server-go/internal/model"
	"github.com/openclaw/wagate-server-go/internal/repository"
)

const testOwner = "owner-1"

var errStoreDown = errors.New("store unavailable")

// memStore is an in-memory SessionStore and OwnerStore.
type memStore struct {
	mu         sync.Mutex
	owners     map[string]*model.Owner
	sessions   map[string]model.SessionRecord
	history    map[string][]model.SessionStatus
	failWrites bool
}

func newMemStore() *memStore {
	return &memStore{
		owners: map[string]*model.Owner{
			testOwner: {ID: testOwner, Name: "Test", Plan: model.PlanFree},
		},
		sessions: make(map[string]model.SessionRecord),
		history:  make(map[string][]model.SessionStatus),
	}
}

func (m *memStore) FindByID(_ context.Context, id string) (*model.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *memStore) ListByOwner(_ context.Context, ownerID string) ([]model.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SessionRecord
	for _, rec := range m.sessions {
		if rec.OwnerID == ownerID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memStore) CreateWithinQuota(_ context.Context, p model.CreateSessionParams, limit int) (*model.SessionRecord, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	used := 0
	for _, rec := range m.sessions {
		if rec.OwnerID == p.OwnerID {
			used++
		}
	}
	if used >= limit {
		return nil, used, repository.ErrQuotaExceeded
	}
	now := time.Now()
	rec := model.SessionRecord{
		ID:            p.ID,
		OwnerID:       p.OwnerID,
		Status:        model.SessionStatusDisconnected,
		Settings:      p.Settings,
		WebhookTarget: p.WebhookTarget,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.sessions[p.ID] = rec
	return &rec, used + 1, nil
}

func (m *memStore) UpdateConnectivity(_ context.Context, id string, u repository.ConnectivityUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return false, errStoreDown
	}
	rec, ok := m.sessions[id]
	if !ok {
		return false, nil
	}
	if u.BoundIdentity != nil {
		rec.BoundIdentity = u.BoundIdentity
	}
	if err := rec.SetStatus(u.Status); err != nil {
		return false, err
	}
	rec.LastPairingPayload = u.LastPairingPayload
	if u.LastPairingIssuedAt != nil {
		rec.LastPairingIssuedAt = u.LastPairingIssuedAt
	}
	if u.LastActivity != nil {
		rec.LastActivity = u.LastActivity
	}
	rec.LastError = u.LastError
	rec.LastErrorCode = u.LastErrorCode
	rec.UpdatedAt = time.Now()
	m.sessions[id] = rec
	m.history[id] = append(m.history[id], u.Status)
	return true, nil
}

func (m *memStore) UpdateSettings(_ context.Context, id string, s model.SessionSettings, target *string) (*model.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	rec.Settings = s
	rec.WebhookTarget = target
	m.sessions[id] = rec
	return &rec, nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memStore) setFailWrites(fail bool) {
	m.mu.Lock()
	m.failWrites = fail
	m.mu.Unlock()
}

func (m *memStore) record(id string) model.SessionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

func (m *memStore) put(rec model.SessionRecord) {
	m.mu.Lock()
	m.sessions[rec.ID] = rec
	m.mu.Unlock()
}

func (m *memStore) statusHistory(id string) []model.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.SessionStatus(nil), m.history[id]...)
}

type ownerStore struct{ m *memStore }

func (o ownerStore) FindByID(_ context.Context, id string) (*model.Owner, error) {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()
	owner, ok := o.m.owners[id]
	if !ok {
		return nil, nil
	}
	cp := *owner
	return &cp, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []model.WebhookEvent
}

func (n *recordingNotifier) Notify(_ context.Context, ev model.WebhookEvent) {
	n.mu.Lock()
	n.events = append(n.events, ev)
	n.mu.Unlock()
}

func (n *recordingNotifier) types(sessionID string) []model.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []model.EventType
	for _, ev := range n.events {
		if ev.SessionID == sessionID {
			out = append(out, ev.Type)
		}
	}
	return out
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeEncoder struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeEncoder) Encode(payload string) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if payload == "" {
		return nil, errors.New("empty")
	}
	return []byte("png:" + payload), nil
}

type harness struct {
	orch     *Orchestrator
	store    *memStore
	driver   *adaptertest.Driver
	notifier *recordingNotifier
	clock    *testClock
	encoder  *fakeEncoder
}

func newHarness(t *testing.T, configure ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		store:    newMemStore(),
		driver:   adaptertest.NewDriver(),
		notifier: &recordingNotifier{},
		clock:    newTestClock(),
		encoder:  &fakeEncoder{},
	}
	opts := Options{
		PairingExpiry:      5 * time.Minute,
		MaxConcurrentOpens: 4,
		OpenQueueTimeout:   time.Second,
		Encoder:            h.encoder,
		Notifier:           h.notifier,
		Now:                h.clock.Now,
	}
	for _, fn := range configure {
		fn(&opts)
	}
	h.orch = NewOrchestrator(h.store, ownerStore{h.store}, h.driver, opts)
	t.Cleanup(func() {
		h.driver.Release()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.orch.Shutdown(ctx)
	})
	return h
}

func (h *harness) createSession(t *testing.T) string {
	t.Helper()
	rec, err := h.orch.CreateSession(context.Background(), testOwner, NewSession{})
	require.NoError(t, err)
	return rec.ID
}

func (h *harness) setPlan(plan model.Plan) {
	h.store.mu.Lock()
	h.store.owners[testOwner].Plan = plan
	h.store.mu.Unlock()
}

func (h *harness) waitStatus(t *testing.T, id string, want model.SessionStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		snap := h.orch.registry.Snapshot(id)
		return snap != nil && snap.Status == want
	}, 2*time.Second, 5*time.Millisecond, "session %s never reached %s", id, want)
}

// pairToReady initializes id and drives it to ready with payload.
func (h *harness) pairToReady(t *testing.T, id, payload string) *adaptertest.Conn {
	t.Helper()
	_, err := h.orch.InitializeSession(context.Background(), id)
	require.NoError(t, err)
	h.waitStatus(t, id, model.SessionStatusGenerating)

	conn := h.driver.WaitConn(id, time.Second)
	require.NotNil(t, conn)
	conn.IssuePairing(payload)
	h.waitStatus(t, id, model.SessionStatusReady)
	return conn
}

func (h *harness) pairToConnected(t *testing.T, id, identity string) *adaptertest.Conn {
	t.Helper()
	conn := h.pairToReady(t, id, "payload-"+id)
	conn.Authenticate(identity)
	conn.Ready()
	h.waitStatus(t, id, model.SessionStatusConnected)
	return conn
}
