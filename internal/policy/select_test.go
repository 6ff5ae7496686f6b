package policy

import (
	"testing"

	"github.com/skyline-avionics/magic/internal/linkreg"
)

func snap(id byte, priority uint32, cost float64, fwdUsed, fwdMax uint32, latency uint32) linkreg.Snapshot {
	var linkID linkreg.LinkId
	linkID[0] = id
	return linkreg.Snapshot{
		ID:    linkID,
		State: linkreg.StateAvailable,
		Capability: linkreg.Capability{
			Priority:        priority,
			CostPerMB:       cost,
			MaxFwdKbps:      fwdMax,
			MaxRevKbps:      fwdMax,
			TypicalLatencyMs: latency,
		},
		CurrentFwdKbps: fwdUsed,
	}
}

func TestSelectNoCandidates(t *testing.T) {
	if _, ok := Select(Request{MinFwdKbps: 10}, nil); ok {
		t.Fatal("expected no candidate from empty snapshot set")
	}
}

func TestSelectFiltersByCapacity(t *testing.T) {
	s := snap(1, 10, 1, 90, 100, 50)
	req := Request{MinFwdKbps: 20, MaxDelayMs: 100}
	if _, ok := Select(req, []linkreg.Snapshot{s}); ok {
		t.Fatal("expected link with insufficient headroom to be excluded")
	}
}

func TestSelectFiltersByLatency(t *testing.T) {
	s := snap(1, 10, 1, 0, 100, 500)
	req := Request{MaxDelayMs: 100}
	if _, ok := Select(req, []linkreg.Snapshot{s}); ok {
		t.Fatal("expected link exceeding max delay to be excluded")
	}
}

func TestSelectGroundOnlyFilter(t *testing.T) {
	s := snap(1, 10, 1, 0, 100, 10)
	s.Capability.GroundOnly = true

	req := Request{Phase: PhaseAirborne}
	if _, ok := Select(req, []linkreg.Snapshot{s}); ok {
		t.Fatal("expected ground-only link excluded while airborne")
	}

	req.Phase = PhaseGate
	id, ok := Select(req, []linkreg.Snapshot{s})
	if !ok || id != s.ID {
		t.Fatal("expected ground-only link selectable at the gate")
	}
}

func TestSelectTieBreakOnPriorityThenCost(t *testing.T) {
	a := snap(1, 10, 5, 0, 100, 10) // priority=10, cost=5
	b := snap(2, 10, 3, 0, 100, 10) // priority=10, cost=3

	id, ok := Select(Request{}, []linkreg.Snapshot{a, b})
	if !ok {
		t.Fatal("expected a candidate")
	}
	if id != b.ID {
		t.Fatalf("selected %x, want lower-cost link %x", id, b.ID)
	}
}

func TestSelectHigherPriorityWins(t *testing.T) {
	low := snap(1, 5, 1, 0, 100, 10)
	high := snap(2, 10, 100, 0, 100, 10) // worse cost but higher priority

	id, ok := Select(Request{}, []linkreg.Snapshot{low, high})
	if !ok || id != high.ID {
		t.Fatalf("selected %x, want higher-priority link %x", id, high.ID)
	}
}

func TestSelectFinalTieBreakByLinkId(t *testing.T) {
	a := snap(9, 10, 1, 0, 100, 10)
	b := snap(1, 10, 1, 0, 100, 10)

	id, ok := Select(Request{}, []linkreg.Snapshot{a, b})
	if !ok || id != b.ID {
		t.Fatalf("selected %x, want lexicographically lower id %x", id, b.ID)
	}
}
