package session

import (
	"context"
	"errors"
	"testing"

	"github.com/skyline-avionics/magic/internal/accounting"
	"github.com/skyline-avionics/magic/internal/dataplane"
	"github.com/skyline-avionics/magic/internal/hostcfg"
	"github.com/skyline-avionics/magic/internal/linkreg"
)

type zeroReader struct{}

func (zeroReader) ReadByMark(_ context.Context, marks []uint16) (map[uint16]accounting.Counters, error) {
	out := make(map[uint16]accounting.Counters, len(marks))
	for _, m := range marks {
		out[m] = accounting.Counters{}
	}
	return out, nil
}

func newTestManager(t *testing.T) (*Manager, *linkreg.Registry, *dataplane.Programmer, hostcfg.Configurator) {
	t.Helper()
	mem := hostcfg.NewMemoryBackend()
	registry := linkreg.NewRegistry()
	dp := dataplane.New(mem)
	acct := accounting.New(mem, zeroReader{})
	assigner := NewStaticAssigner("10.0.0.1", "8.8.8.8", "8.8.4.4")

	ctx := context.Background()
	if err := dp.Init(ctx, "mgmt0", "10.0.0.2"); err != nil {
		t.Fatalf("dataplane init: %v", err)
	}

	return New(registry, dp, acct, assigner), registry, dp, mem
}

func registerAvailableLink(t *testing.T, registry *linkreg.Registry, dp *dataplane.Programmer, iface string, maxFwd, maxRev uint32, priority uint32, cost float64) linkreg.LinkId {
	t.Helper()
	ctx := context.Background()
	id, err := registry.Register(linkreg.Capability{
		Type:          linkreg.LinkTypeWiFi,
		InterfaceName: iface,
		MaxFwdKbps:    maxFwd,
		MaxRevKbps:    maxRev,
		TypicalLatencyMs: 50,
		Priority:      priority,
		CostPerMB:     cost,
		RSSIMin:       -100,
		RSSIMax:       -40,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.ApplyEvent(id, linkreg.EventDetected, -60); err != nil {
		t.Fatalf("detect: %v", err)
	}
	if err := registry.ApplyEvent(id, linkreg.EventUp, -60); err != nil {
		t.Fatalf("up: %v", err)
	}
	if _, _, err := dp.BindLink(ctx, id, iface, "10.0.0.1"); err != nil {
		t.Fatalf("bind link: %v", err)
	}
	return id
}

func TestScenario1SingleSessionAllocateRelease(t *testing.T) {
	m, registry, dp, mem := newTestManager(t)
	ctx := context.Background()
	linkID := registerAvailableLink(t, registry, dp, "wifi0", 10000, 10000, 1, 1)

	resp, err := m.Allocate(ctx, Request{
		ClientID:   "C1",
		ClientIP:   "192.168.1.5",
		MinFwdKbps: 512,
		ReqFwdKbps: 2048,
		MinRevKbps: 512,
		ReqRevKbps: 2048,
		QoSClass:   2,
		MaxDelayMs: 500,
	})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if resp.SessionID == 0 {
		t.Fatal("expected nonzero session id")
	}
	if resp.GrantedFwdKbps > 2048 || resp.GrantedRevKbps > 2048 {
		t.Fatalf("granted rates exceed request: %+v", resp)
	}

	state, err := registry.GetState(linkID)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.CurrentFwdKbps < resp.GrantedFwdKbps {
		t.Fatalf("link usage %d < granted %d", state.CurrentFwdKbps, resp.GrantedFwdKbps)
	}
	if !mem.(*hostcfg.MemoryBackend).HasClassifier("192.168.1.5") {
		t.Fatal("expected classifier installed")
	}

	if err := m.Release(ctx, resp.SessionID); err != nil {
		t.Fatalf("release: %v", err)
	}
	state, _ = registry.GetState(linkID)
	if state.CurrentFwdKbps != 0 {
		t.Fatalf("expected zero usage after release, got %d", state.CurrentFwdKbps)
	}
	if mem.(*hostcfg.MemoryBackend).HasClassifier("192.168.1.5") {
		t.Fatal("expected classifier removed after release")
	}
}

func TestScenario2PolicyTieBreak(t *testing.T) {
	m, registry, dp, _ := newTestManager(t)
	ctx := context.Background()

	// A: priority=10 cost=5; B: priority=10 cost=3. B must win.
	linkA := registerAvailableLink(t, registry, dp, "ifA", 10000, 10000, 10, 5)
	linkB := registerAvailableLink(t, registry, dp, "ifB", 10000, 10000, 10, 3)

	resp, err := m.Allocate(ctx, Request{ClientID: "C1", ClientIP: "192.168.1.5", ReqFwdKbps: 100, ReqRevKbps: 100})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	rec, ok := m.Snapshot(resp.SessionID)
	if !ok {
		t.Fatal("expected session record")
	}
	if rec.LinkID != linkB {
		t.Fatalf("selected link = %x, want lower-cost link %x (A=%x)", rec.LinkID, linkB, linkA)
	}
}

func TestScenario3CapacityOverflow(t *testing.T) {
	m, registry, dp, _ := newTestManager(t)
	ctx := context.Background()
	registerAvailableLink(t, registry, dp, "ifA", 1000, 1000, 1, 1)

	req := Request{ClientID: "C1", ClientIP: "192.168.1.5", ReqFwdKbps: 500, ReqRevKbps: 500}

	var ids []uint32
	for i := 0; i < 2; i++ {
		req.ClientIP = "192.168.1." + string(rune('1'+i))
		resp, err := m.Allocate(ctx, req)
		if err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
		ids = append(ids, resp.SessionID)
	}

	req.ClientIP = "192.168.1.9"
	if _, err := m.Allocate(ctx, req); err == nil {
		t.Fatal("expected third allocation to fail on capacity")
	}

	if err := m.Release(ctx, ids[0]); err != nil {
		t.Fatalf("release: %v", err)
	}
	req.ClientIP = "192.168.1.10"
	if _, err := m.Allocate(ctx, req); err != nil {
		t.Fatalf("allocate after release should succeed: %v", err)
	}
}

func TestReleaseUnknownSessionIsNoop(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	if err := m.Release(context.Background(), 12345); err != nil {
		t.Fatalf("release unknown session: %v", err)
	}
}

func TestSwitchMovesSessionBetweenLinks(t *testing.T) {
	m, registry, dp, mem := newTestManager(t)
	ctx := context.Background()
	linkA := registerAvailableLink(t, registry, dp, "ifA", 10000, 10000, 1, 1)
	linkB := registerAvailableLink(t, registry, dp, "ifB", 10000, 10000, 1, 1)

	resp, err := m.Allocate(ctx, Request{ClientID: "C1", ClientIP: "192.168.1.5", ReqFwdKbps: 100, ReqRevKbps: 100})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	rec, _ := m.Snapshot(resp.SessionID)
	if rec.LinkID != linkA && rec.LinkID != linkB {
		t.Fatal("unexpected initial link")
	}
	other := linkA
	if rec.LinkID == linkA {
		other = linkB
	}

	if err := m.Switch(ctx, resp.SessionID, other); err != nil {
		t.Fatalf("switch: %v", err)
	}
	rec2, _ := m.Snapshot(resp.SessionID)
	if rec2.LinkID != other {
		t.Fatalf("session linkID = %x, want %x", rec2.LinkID, other)
	}
	if !mem.(*hostcfg.MemoryBackend).HasClassifier("192.168.1.5") {
		t.Fatal("expected classifier to still be present after switch")
	}

	stateA, _ := registry.GetState(linkA)
	stateB, _ := registry.GetState(linkB)
	if stateA.ActiveBearers+stateB.ActiveBearers != 1 {
		t.Fatalf("expected exactly one active bearer across both links, got A=%d B=%d", stateA.ActiveBearers, stateB.ActiveBearers)
	}
}

func TestSwitchUnknownSession(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	if err := m.Switch(context.Background(), 999, linkreg.LinkId{}); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("switch unknown session = %v, want ErrSessionNotFound", err)
	}
}

func TestAllocateInvalidClientID(t *testing.T) {
	m, registry, dp, _ := newTestManager(t)
	registerAvailableLink(t, registry, dp, "ifA", 1000, 1000, 1, 1)
	_, err := m.Allocate(context.Background(), Request{ClientID: "", ClientIP: "1.2.3.4"})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("allocate with empty client id = %v, want ErrInvalidArgument", err)
	}
}

func TestAllocateNoLinkAvailable(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	_, err := m.Allocate(context.Background(), Request{ClientID: "C1", ClientIP: "1.2.3.4", ReqFwdKbps: 10})
	if !errors.Is(err, ErrNoLinkAvailable) {
		t.Fatalf("allocate with no links = %v, want ErrNoLinkAvailable", err)
	}
}
