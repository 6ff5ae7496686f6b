// Package dataplane implements the Data Plane Programmer: it owns the
// per-link route tables, per-session flow rules and marks, and performs
// lossless live link switching by always adding the new classifier
// before removing the old one.
package dataplane

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/skyline-avionics/magic/internal/hostcfg"
	"github.com/skyline-avionics/magic/internal/linkreg"
)

const (
	// TableIDBase is the first of the 100 pre-provisioned route tables.
	TableIDBase = 100
	// TableIDMax is the last pre-provisioned route table (TableIDBase+99).
	TableIDMax = 199
	// slotCount is the number of link slots, and thus route tables,
	// the engine pre-provisions at Init.
	slotCount = TableIDMax - TableIDBase + 1
	// BlackholeMark is the reserved fwmark for the blackhole table,
	// installed at priority 50.
	BlackholeMark = 99
	// fwmarkRulePriority is the priority of the static fwmark->table
	// rules installed for every table ID at Init.
	fwmarkRulePriority = 100
	// blackholeRulePriority is the priority of the blackhole rule.
	blackholeRulePriority = 50
)

// Sentinel errors.
var (
	ErrTableSlotsExhausted = errors.New("dataplane: no route table slots remain")
	ErrLinkNotBound        = errors.New("dataplane: link has no bound route table")
	ErrSessionNotFound     = errors.New("dataplane: session has no installed route")
)

// SwitchFailedError reports that switch_session could not complete;
// the session is guaranteed to remain on its original link.
type SwitchFailedError struct {
	Reason string
}

func (e *SwitchFailedError) Error() string {
	return fmt.Sprintf("dataplane: switch failed: %s", e.Reason)
}

// FiveTuple identifies a single flow for an optional per-session TFT
// refinement.
type FiveTuple struct {
	SrcIP    string
	DstIP    string
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
}

type sessionRoute struct {
	clientIP string
	linkID   linkreg.LinkId
	fwmark   uint16
}

type flowRuleEntry struct {
	tuple  FiveTuple
	linkID linkreg.LinkId
	mark   uint16
}

// Programmer is the Data Plane Programmer.
type Programmer struct {
	mu  sync.Mutex
	cfg hostcfg.Configurator

	initialized bool

	linkTables map[linkreg.LinkId]int // link -> table id (== fwmark)
	nextSlot   int

	sessionRoutes map[uint32]sessionRoute
	flowRules     map[uint32][]flowRuleEntry
}

// New constructs a Programmer bound to a Configurator.
func New(cfg hostcfg.Configurator) *Programmer {
	return &Programmer{
		cfg:           cfg,
		linkTables:    make(map[linkreg.LinkId]int),
		sessionRoutes: make(map[uint32]sessionRoute),
		flowRules:     make(map[uint32][]flowRuleEntry),
	}
}

// Init idempotently installs the fixed set of static fwmark->table rules
// for all pre-provisioned table IDs and the blackhole route.
func (p *Programmer) Init(ctx context.Context, ingressIface, ingressIP string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.cfg.CreateBlackholeTable(ctx, TableIDBase-1); err != nil {
		return fmt.Errorf("init blackhole table: %w", err)
	}
	if err := p.cfg.AddFwmarkRule(ctx, BlackholeMark, TableIDBase-1, blackholeRulePriority); err != nil {
		return fmt.Errorf("init blackhole rule: %w", err)
	}
	for table := TableIDBase; table <= TableIDMax; table++ {
		if err := p.cfg.AddFwmarkRule(ctx, uint16(table), table, fwmarkRulePriority); err != nil {
			return fmt.Errorf("init fwmark rule for table %d: %w", table, err)
		}
	}
	if err := p.cfg.EnsureInterfaceUp(ctx, ingressIface); err != nil {
		return fmt.Errorf("init ingress interface: %w", err)
	}
	if err := p.cfg.RestoreConnMarkOnIngress(ctx); err != nil {
		return fmt.Errorf("init conn-mark restore: %w", err)
	}
	p.initialized = true
	return nil
}

// BindLink assigns the link a route table, idempotent per LinkId: a
// second bind for the same link returns its existing table ID rather
// than consuming another slot.
func (p *Programmer) BindLink(ctx context.Context, id linkreg.LinkId, iface, gateway string) (tableID int, fwmark uint16, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if table, ok := p.linkTables[id]; ok {
		return table, uint16(table), nil
	}
	if p.nextSlot >= slotCount {
		return 0, 0, ErrTableSlotsExhausted
	}
	table := TableIDBase + p.nextSlot
	p.nextSlot++

	if gateway != "" {
		if err := p.cfg.SetDefaultVia(ctx, table, gateway); err != nil {
			return 0, 0, fmt.Errorf("bind_link: %w", err)
		}
	}
	p.linkTables[id] = table
	return table, uint16(table), nil
}

// UnbindLink removes routes for the link; the static fwmark rule is
// intentionally left in place, since tables 100-199 are pre-provisioned
// for the process lifetime.
func (p *Programmer) UnbindLink(ctx context.Context, id linkreg.LinkId) error {
	p.mu.Lock()
	table, ok := p.linkTables[id]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrLinkNotBound, id)
	}
	if err := p.cfg.DelRoute(ctx, table, "default"); err != nil {
		return fmt.Errorf("unbind_link: %w", err)
	}
	return nil
}

// InstallSessionRoute marks packets sourced from clientIP with the
// link's fwmark and remembers the installed rule for exact later
// removal.
func (p *Programmer) InstallSessionRoute(ctx context.Context, sessionID uint32, clientIP string, linkID linkreg.LinkId) error {
	p.mu.Lock()
	table, ok := p.linkTables[linkID]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrLinkNotBound, linkID)
	}
	mark := uint16(table)

	if err := p.cfg.ClassifyMarkSrc(ctx, clientIP, mark); err != nil {
		return fmt.Errorf("install_session_route: %w", err)
	}

	p.mu.Lock()
	p.sessionRoutes[sessionID] = sessionRoute{clientIP: clientIP, linkID: linkID, fwmark: mark}
	p.mu.Unlock()
	return nil
}

// RemoveSessionRoute removes the classifier installed by
// InstallSessionRoute. Removing a route for an unknown session is a
// no-op, matching the idempotent-release contract used throughout the
// engine.
func (p *Programmer) RemoveSessionRoute(ctx context.Context, sessionID uint32) error {
	p.mu.Lock()
	route, ok := p.sessionRoutes[sessionID]
	if ok {
		delete(p.sessionRoutes, sessionID)
	}
	p.mu.Unlock()
	if !ok {
		return nil
	}
	if err := p.cfg.RemoveClassifiersFor(ctx, route.clientIP); err != nil {
		return fmt.Errorf("remove_session_route: %w", err)
	}
	return nil
}

// SwitchSession reprograms a session's route onto newLinkID. The new
// classifier is installed before the old one is removed — the two rules
// coexist for a short window so no packet in flight is left unmarked.
// If installing the new classifier fails, the session is left entirely
// untouched on its original link and a SwitchFailedError is returned.
func (p *Programmer) SwitchSession(ctx context.Context, sessionID uint32, newLinkID linkreg.LinkId) error {
	p.mu.Lock()
	old, ok := p.sessionRoutes[sessionID]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrSessionNotFound, sessionID)
	}

	p.mu.Lock()
	newTable, boundOK := p.linkTables[newLinkID]
	p.mu.Unlock()
	if !boundOK {
		return &SwitchFailedError{Reason: fmt.Sprintf("target link %s has no bound table", newLinkID)}
	}
	newMark := uint16(newTable)

	// (1)+(2): insert the new classifier before touching the old one.
	if err := p.cfg.ClassifyMarkSrc(ctx, old.clientIP, newMark); err != nil {
		return &SwitchFailedError{Reason: err.Error()}
	}

	// (3): only now may the old classifier be removed — and only the
	// old mark's rule: RemoveClassifiersFor keys purely on clientIP and
	// would also delete the rule step (2) just installed, since both
	// target the same ip.
	if err := p.cfg.RemoveClassifierMark(ctx, old.clientIP, old.fwmark); err != nil {
		return &SwitchFailedError{Reason: err.Error()}
	}

	// (4): update the in-memory session record.
	p.mu.Lock()
	p.sessionRoutes[sessionID] = sessionRoute{clientIP: old.clientIP, linkID: newLinkID, fwmark: newMark}
	rules := p.flowRules[sessionID]
	p.mu.Unlock()

	for i, rule := range rules {
		if err := p.reprogramFlowRule(ctx, rule, newMark); err != nil {
			return &SwitchFailedError{Reason: err.Error()}
		}
		rules[i].linkID = newLinkID
		rules[i].mark = newMark
	}
	p.mu.Lock()
	p.flowRules[sessionID] = rules
	p.mu.Unlock()

	return nil
}

func (p *Programmer) reprogramFlowRule(ctx context.Context, rule flowRuleEntry, newMark uint16) error {
	if err := p.cfg.ClassifyMarkSrc(ctx, rule.tuple.SrcIP, newMark); err != nil {
		return err
	}
	if err := p.cfg.RemoveClassifierMark(ctx, rule.tuple.SrcIP, rule.mark); err != nil {
		return err
	}
	return nil
}

// AddFlowRule installs an optional per-session 5-tuple refinement. Flow
// rule marks may reuse the session mark.
func (p *Programmer) AddFlowRule(ctx context.Context, sessionID uint32, tuple FiveTuple, linkID linkreg.LinkId) error {
	p.mu.Lock()
	table, ok := p.linkTables[linkID]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrLinkNotBound, linkID)
	}
	mark := uint16(table)

	if err := p.cfg.ClassifyMarkSrc(ctx, tuple.SrcIP, mark); err != nil {
		return fmt.Errorf("add_flow_rule: %w", err)
	}

	p.mu.Lock()
	p.flowRules[sessionID] = append(p.flowRules[sessionID], flowRuleEntry{tuple: tuple, linkID: linkID, mark: mark})
	p.mu.Unlock()
	return nil
}

// RemoveFlowRules removes every flow rule installed for a session.
func (p *Programmer) RemoveFlowRules(ctx context.Context, sessionID uint32) error {
	p.mu.Lock()
	rules := p.flowRules[sessionID]
	delete(p.flowRules, sessionID)
	p.mu.Unlock()

	for _, rule := range rules {
		if err := p.cfg.RemoveClassifiersFor(ctx, rule.tuple.SrcIP); err != nil {
			return fmt.Errorf("remove_flow_rules: %w", err)
		}
	}
	return nil
}
