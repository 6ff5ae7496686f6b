package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/skyline-avionics/magic/internal/accounting"
	"github.com/skyline-avionics/magic/internal/dataplane"
	"github.com/skyline-avionics/magic/internal/dispatch"
	"github.com/skyline-avionics/magic/internal/linkreg"
	"github.com/skyline-avionics/magic/internal/policy"
)

// entry pairs a Record with the mutex that serializes every operation
// (allocate already happened; switch/stats/release use this lock) on
// that one session. Different sessions progress fully in parallel.
type entry struct {
	mu  sync.Mutex
	rec Record
}

// Manager is the Session Manager. Lock order when multiple subsystems
// are touched in one operation is Registry -> DataPlane -> Accounting ->
// Session: each subsystem call acquires and releases its own lock before
// Manager ever takes a session's lock, so no cycle can form.
type Manager struct {
	registry *linkreg.Registry
	dp       *dataplane.Programmer
	acct     *accounting.Manager
	assigner AddressAssigner

	mu       sync.Mutex
	sessions map[uint32]*entry
	nextID   uint32
}

// New constructs a Manager wired to its three collaborating subsystems.
func New(registry *linkreg.Registry, dp *dataplane.Programmer, acct *accounting.Manager, assigner AddressAssigner) *Manager {
	return &Manager{
		registry: registry,
		dp:       dp,
		acct:     acct,
		assigner: assigner,
		sessions: make(map[uint32]*entry),
		nextID:   1,
	}
}

func validate(req Request) error {
	if len(req.ClientID) == 0 || len(req.ClientID) > MaxClientIDLen {
		return fmt.Errorf("%w: client_id length", ErrInvalidArgument)
	}
	if req.QoSClass > 15 {
		return fmt.Errorf("%w: qos_class out of range", ErrInvalidArgument)
	}
	if req.ClientIP == "" {
		return fmt.Errorf("%w: missing client_ip", ErrInvalidArgument)
	}
	return nil
}

// allocateID returns the next unique nonzero session id, wrapping past
// the uint32 space only in principle; exhaustion is only reachable if
// MaxSessions did not already reject the request, so in practice this
// never fires.
func (m *Manager) allocateID() (uint32, error) {
	for i := 0; i < 1<<32-1; i++ {
		id := m.nextID
		m.nextID++
		if m.nextID == 0 {
			m.nextID = 1
		}
		if _, exists := m.sessions[id]; !exists && id != 0 {
			return id, nil
		}
	}
	return 0, ErrSessionIDExhausted
}

// Allocate runs the allocate transaction: select a link, reserve a
// bearer, register accounting, install the data-plane route. Any
// intermediate failure unwinds every earlier step and leaves no trace.
func (m *Manager) Allocate(ctx context.Context, req Request) (Response, error) {
	if err := validate(req); err != nil {
		return Response{}, err
	}

	m.mu.Lock()
	if len(m.sessions) >= MaxSessions {
		m.mu.Unlock()
		return Response{}, ErrSessionCapacity
	}
	id, err := m.allocateID()
	if err != nil {
		m.mu.Unlock()
		return Response{}, err
	}
	m.sessions[id] = &entry{rec: Record{ID: id, ClientID: req.ClientID, State: StateAllocating}}
	m.mu.Unlock()

	rollback := func() {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
	}

	snapshots := m.registry.Snapshots()
	linkID, ok := policy.Select(policy.Request{
		MinFwdKbps:  req.MinFwdKbps,
		MinRevKbps:  req.MinRevKbps,
		MaxDelayMs:  req.MaxDelayMs,
		MinSecurity: req.MinSecurity,
		Phase:       req.Phase,
	}, snapshots)
	if !ok {
		rollback()
		return Response{}, ErrNoLinkAvailable
	}

	bearer, err := m.registry.AllocateBearer(linkID, req.ReqFwdKbps, req.ReqRevKbps, linkreg.CoS(req.QoSClass))
	if err != nil {
		rollback()
		return Response{}, fmt.Errorf("allocate: %w", err)
	}

	mark, err := m.acct.Register(ctx, id, req.ClientID, req.ClientIP)
	if err != nil {
		_ = m.registry.ReleaseBearer(linkID, bearer.ID)
		rollback()
		return Response{}, fmt.Errorf("allocate: %w", err)
	}

	if err := m.dp.InstallSessionRoute(ctx, id, req.ClientIP, linkID); err != nil {
		_ = m.acct.Unregister(ctx, id)
		_ = m.registry.ReleaseBearer(linkID, bearer.ID)
		rollback()
		return Response{}, fmt.Errorf("allocate: %w", err)
	}

	granted, err := m.assigner.Assign(id, req.ClientIP)
	if err != nil {
		_ = m.dp.RemoveSessionRoute(ctx, id)
		_ = m.acct.Unregister(ctx, id)
		_ = m.registry.ReleaseBearer(linkID, bearer.ID)
		rollback()
		return Response{}, fmt.Errorf("allocate: %w", err)
	}

	m.mu.Lock()
	e := m.sessions[id]
	m.mu.Unlock()

	e.mu.Lock()
	e.rec = Record{
		ID:             id,
		ClientID:       req.ClientID,
		LinkID:         linkID,
		BearerID:       bearer.ID,
		GrantedFwdKbps: bearer.AllocFwdKbps,
		GrantedRevKbps: bearer.AllocRevKbps,
		QoSClass:       req.QoSClass,
		MaxDelayMs:     req.MaxDelayMs,
		Persistent:     req.Persistent,
		TimeoutSec:     req.TimeoutSec,
		Granted:        granted,
		ConntrackMark:  mark,
		CreatedAt:      bearer.CreatedAt,
		State:          StateActive,
	}
	rec := e.rec
	e.mu.Unlock()

	return Response{
		SessionID:      rec.ID,
		GrantedFwdKbps: rec.GrantedFwdKbps,
		GrantedRevKbps: rec.GrantedRevKbps,
		Granted:        rec.Granted,
	}, nil
}

// Release tears a session down in the reverse order it was built.
// Releasing an absent session is a no-op success.
func (m *Manager) Release(ctx context.Context, sessionID uint32) error {
	m.mu.Lock()
	e, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	e.mu.Lock()
	rec := e.rec
	e.rec.State = StateReleasing
	e.mu.Unlock()

	if err := m.dp.RemoveFlowRules(ctx, sessionID); err != nil {
		return fmt.Errorf("release: %w", err)
	}
	if err := m.dp.RemoveSessionRoute(ctx, sessionID); err != nil {
		return fmt.Errorf("release: %w", err)
	}
	if err := m.acct.Unregister(ctx, sessionID); err != nil {
		return fmt.Errorf("release: %w", err)
	}
	if err := m.registry.ReleaseBearer(rec.LinkID, rec.BearerID); err != nil {
		return fmt.Errorf("release: %w", err)
	}
	m.assigner.Release(sessionID)

	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	return nil
}

// Switch moves an active session onto targetLinkID. On failure the
// session is guaranteed to remain, bearer and route intact, on its
// original link.
func (m *Manager) Switch(ctx context.Context, sessionID uint32, targetLinkID linkreg.LinkId) error {
	m.mu.Lock()
	e, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrSessionNotFound, sessionID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rec := e.rec
	if rec.LinkID == targetLinkID {
		return nil
	}
	e.rec.State = StateSwitching

	newBearer, err := m.registry.AllocateBearer(targetLinkID, rec.GrantedFwdKbps, rec.GrantedRevKbps, linkreg.CoS(rec.QoSClass))
	if err != nil {
		e.rec.State = StateActive
		return fmt.Errorf("switch: %w", err)
	}

	if err := m.dp.SwitchSession(ctx, sessionID, targetLinkID); err != nil {
		_ = m.registry.ReleaseBearer(targetLinkID, newBearer.ID)
		e.rec.State = StateActive
		return fmt.Errorf("switch: %w", err)
	}

	_ = m.registry.ReleaseBearer(rec.LinkID, rec.BearerID)

	e.rec.LinkID = targetLinkID
	e.rec.BearerID = newBearer.ID
	e.rec.State = StateActive
	return nil
}

// Shutdown releases every currently active session in ascending
// session-id order, so a restart's teardown is reproducible across
// runs. Errors releasing one session do not stop the sweep; the first
// one encountered is returned after every session has been attempted.
func (m *Manager) Shutdown(ctx context.Context) error {
	var first error
	for _, rec := range m.Snapshots() {
		if err := m.Release(ctx, rec.ID); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Stats returns accounting counters for one session.
func (m *Manager) Stats(ctx context.Context, sessionID uint32) (Stats, error) {
	return m.acct.Stats(ctx, sessionID)
}

// ClientStats aggregates accounting counters across every session for a
// client.
func (m *Manager) ClientStats(ctx context.Context, clientID string) (Stats, error) {
	return m.acct.AggregateClient(ctx, clientID)
}

// AllStats aggregates accounting counters across every active session.
func (m *Manager) AllStats(ctx context.Context) (Stats, error) {
	return m.acct.AggregateAll(ctx)
}

// Snapshot returns a copy of the session record, for external query
// surfaces (HTTP API, CLI).
func (m *Manager) Snapshot(sessionID uint32) (Record, bool) {
	m.mu.Lock()
	e, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return Record{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec, true
}

// Snapshots returns a copy of every active session record, ordered by
// session id for deterministic shutdown and listing.
func (m *Manager) Snapshots() []Record {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	out := make([]Record, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.rec)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Handle implements dispatch.Handler: it is the primary internal
// subscriber of link-driver events. On LinkGoingDown/LinkDown for a
// link hosting active sessions it attempts a per-session switch; on
// HandoverRecommend it re-runs the policy selector for affected
// sessions.
func (m *Manager) Handle(e dispatch.Event) {
	switch e.Kind {
	case dispatch.LinkGoingDown, dispatch.LinkDown:
		m.migrateSessionsOff(e.LinkID)
	case dispatch.HandoverRecommend:
		m.migrateSessionsOff(e.LinkID)
	}
}

func (m *Manager) migrateSessionsOff(linkID linkreg.LinkId) {
	ctx := context.Background()
	for _, rec := range m.Snapshots() {
		if rec.LinkID != linkID || rec.State != StateActive {
			continue
		}
		snapshots := m.registry.Snapshots()
		target, ok := policy.Select(policy.Request{
			MinFwdKbps: rec.GrantedFwdKbps,
			MinRevKbps: rec.GrantedRevKbps,
			MaxDelayMs: rec.MaxDelayMs,
		}, snapshots)
		if !ok || target == linkID {
			continue
		}
		_ = m.Switch(ctx, rec.ID, target)
	}
}
