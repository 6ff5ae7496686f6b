// Package accounting implements Traffic Accounting: per-session
// conntrack mark allocation, classifier rule installation, and
// kernel-counter reads with a short-lived cache.
package accounting

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/skyline-avionics/magic/internal/hostcfg"
)

// ErrMarkPoolFull is returned by Register when the 256-entry mark pool
// is exhausted.
var ErrMarkPoolFull = errors.New("accounting: mark pool is full")

// ErrSessionNotRegistered is returned by operations on an unknown
// session.
var ErrSessionNotRegistered = errors.New("accounting: session not registered")

const cacheTTL = 2 * time.Second

const sysctlAcctPath = "/proc/sys/net/netfilter/nf_conntrack_acct"

type registration struct {
	clientID string
	clientIP string
	mark     uint16
}

type cacheEntry struct {
	counters Counters
	at       time.Time
}

// Manager is the Traffic Accounting subsystem.
type Manager struct {
	mu    sync.Mutex
	cfg   hostcfg.Configurator
	marks *markAllocator
	reader ConntrackReader

	restoreInstalled bool
	sessions         map[uint32]registration
	cache            map[uint32]cacheEntry

	acctWarned bool
	acctOK     bool

	now func() time.Time
}

// New constructs a Manager.
func New(cfg hostcfg.Configurator, reader ConntrackReader) *Manager {
	return &Manager{
		cfg:      cfg,
		marks:    newMarkAllocator(),
		reader:   reader,
		sessions: make(map[uint32]registration),
		cache:    make(map[uint32]cacheEntry),
		now:      time.Now,
	}
}

// Register allocates a mark for sessionID, installs classifier rules
// for clientIP in both directions, and ensures the global
// restore-conn-mark-on-ingress rule is installed exactly once. On the
// first registration it also attempts to enable kernel conntrack
// accounting; insufficient privilege is tolerated.
func (m *Manager) Register(ctx context.Context, sessionID uint32, clientID, clientIP string) (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[sessionID]; exists {
		return m.sessions[sessionID].mark, nil
	}

	mark, ok := m.marks.allocate(strconv.FormatUint(uint64(sessionID), 10))
	if !ok {
		return 0, ErrMarkPoolFull
	}

	if err := m.cfg.ClassifyMarkSrc(ctx, clientIP, mark); err != nil {
		m.marks.release(mark)
		return 0, fmt.Errorf("accounting register: %w", err)
	}
	if err := m.cfg.ClassifyMarkDst(ctx, clientIP, mark); err != nil {
		m.marks.release(mark)
		return 0, fmt.Errorf("accounting register: %w", err)
	}
	if !m.restoreInstalled {
		if err := m.cfg.RestoreConnMarkOnIngress(ctx); err != nil {
			m.marks.release(mark)
			return 0, fmt.Errorf("accounting register: %w", err)
		}
		m.restoreInstalled = true
		m.acctOK = tryEnableAcctSysctl()
	}

	m.sessions[sessionID] = registration{clientID: clientID, clientIP: clientIP, mark: mark}
	return mark, nil
}

// tryEnableAcctSysctl attempts to turn on kernel conntrack accounting.
// Failure (typically insufficient privilege) is not fatal: Register
// still succeeds, and Stats falls back to whatever is cached.
func tryEnableAcctSysctl() bool {
	err := os.WriteFile(sysctlAcctPath, []byte("1\n"), 0644)
	return err == nil
}

// Unregister removes a session's classifier rules and frees its mark.
// Unregistering an unknown session is a no-op.
func (m *Manager) Unregister(ctx context.Context, sessionID uint32) error {
	m.mu.Lock()
	reg, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.sessions, sessionID)
	delete(m.cache, sessionID)
	m.marks.release(reg.mark)
	m.mu.Unlock()

	if err := m.cfg.RemoveClassifiersFor(ctx, reg.clientIP); err != nil {
		return fmt.Errorf("accounting unregister: %w", err)
	}
	return nil
}

// Stats returns aggregated counters for sessionID, serving a cached
// value when it is younger than cacheTTL.
func (m *Manager) Stats(ctx context.Context, sessionID uint32) (Counters, error) {
	m.mu.Lock()
	reg, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return Counters{}, ErrSessionNotRegistered
	}
	if entry, cached := m.cache[sessionID]; cached && m.now().Sub(entry.at) < cacheTTL {
		m.mu.Unlock()
		return entry.counters, nil
	}
	m.mu.Unlock()

	results, err := m.reader.ReadByMark(ctx, []uint16{reg.mark})
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		if entry, cached := m.cache[sessionID]; cached {
			m.acctWarnOnce()
			return entry.counters, nil
		}
		m.acctWarnOnce()
		return Counters{}, nil
	}
	counters := results[reg.mark]
	m.cache[sessionID] = cacheEntry{counters: counters, at: m.now()}
	return counters, nil
}

func (m *Manager) acctWarnOnce() {
	// Warning emission is the caller's/logger's concern; this flag lets
	// callers that wrap Manager decide to log once instead of per call.
	m.acctWarned = true
}

// AcctWarned reports whether a kernel-read failure has ever been
// observed, for a one-time warning log at the call site.
func (m *Manager) AcctWarned() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acctWarned
}

// AggregateClient sums cached-or-fresh counters across every session
// registered for clientID.
func (m *Manager) AggregateClient(ctx context.Context, clientID string) (Counters, error) {
	m.mu.Lock()
	var ids []uint32
	for id, reg := range m.sessions {
		if reg.clientID == clientID {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	var total Counters
	for _, id := range ids {
		c, err := m.Stats(ctx, id)
		if err != nil {
			return Counters{}, err
		}
		total.add(c)
	}
	return total, nil
}

// AggregateAll sums cached-or-fresh counters across every registered
// session.
func (m *Manager) AggregateAll(ctx context.Context) (Counters, error) {
	m.mu.Lock()
	ids := make([]uint32, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var total Counters
	for _, id := range ids {
		c, err := m.Stats(ctx, id)
		if err != nil {
			return Counters{}, err
		}
		total.add(c)
	}
	return total, nil
}

// RefreshAll forces a kernel query for every registered session and
// updates their caches, bypassing cacheTTL.
func (m *Manager) RefreshAll(ctx context.Context) error {
	m.mu.Lock()
	marks := make([]uint16, 0, len(m.sessions))
	bySessionMark := make(map[uint32]uint16, len(m.sessions))
	for id, reg := range m.sessions {
		marks = append(marks, reg.mark)
		bySessionMark[id] = reg.mark
	}
	m.mu.Unlock()

	if len(marks) == 0 {
		return nil
	}

	results, err := m.reader.ReadByMark(ctx, marks)
	if err != nil {
		m.mu.Lock()
		m.acctWarned = true
		m.mu.Unlock()
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for id, mark := range bySessionMark {
		m.cache[id] = cacheEntry{counters: results[mark], at: now}
	}
	return nil
}
