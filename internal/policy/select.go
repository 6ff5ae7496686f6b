// Package policy implements the Policy Selector: a pure function that
// chooses the best available link for a bandwidth request given a
// point-in-time snapshot of the Link Driver Registry. It holds no state
// of its own and performs no I/O, matching the non-goal that rules out
// hysteresis or learned/predictive scoring.
package policy

import "github.com/skyline-avionics/magic/internal/linkreg"

// FlightPhase is the external Weight-on-Wheels-derived hint used only by
// the ground-only link filter.
type FlightPhase uint8

const (
	PhaseUnknown FlightPhase = iota
	PhaseGate
	PhaseTaxi
	PhaseAirborne
)

// Request describes the resource demand a candidate link must satisfy.
// A zero MaxDelayMs places no bound on link latency.
type Request struct {
	MinFwdKbps  uint32
	MinRevKbps  uint32
	MaxDelayMs  uint32
	MinSecurity uint8
	Phase       FlightPhase
}

// groundOnlyAllowed reports whether phase permits selecting a
// ground-only link, per spec.md: only Gate and Taxi qualify.
func groundOnlyAllowed(phase FlightPhase) bool {
	return phase == PhaseGate || phase == PhaseTaxi
}

func eligible(req Request, s linkreg.Snapshot) bool {
	if s.State != linkreg.StateAvailable {
		return false
	}
	availFwd := s.Capability.MaxFwdKbps - s.CurrentFwdKbps
	if availFwd < req.MinFwdKbps {
		return false
	}
	availRev := s.Capability.MaxRevKbps - s.CurrentRevKbps
	if availRev < req.MinRevKbps {
		return false
	}
	if req.MaxDelayMs != 0 && s.Capability.TypicalLatencyMs > req.MaxDelayMs {
		return false
	}
	if s.Capability.SecurityLevel < req.MinSecurity {
		return false
	}
	if s.Capability.GroundOnly && !groundOnlyAllowed(req.Phase) {
		return false
	}
	return true
}

// utilizationPercent returns the higher of forward/reverse utilization,
// as a percentage of advertised capacity, used as a fallback scoring key.
func utilizationPercent(s linkreg.Snapshot) float64 {
	fwdPct := percent(s.CurrentFwdKbps, s.Capability.MaxFwdKbps)
	revPct := percent(s.CurrentRevKbps, s.Capability.MaxRevKbps)
	if fwdPct > revPct {
		return fwdPct
	}
	return revPct
}

func percent(used, max uint32) float64 {
	if max == 0 {
		return 0
	}
	return float64(used) * 100 / float64(max)
}

// Select returns the LinkId of the best candidate in snapshots that
// satisfies req, or ok=false if no candidate qualifies.
//
// Scoring order, all else being a tie-break on the next key:
//  1. highest Capability.Priority
//  2. lowest Capability.CostPerMB
//  3. lowest current utilization percent (max of fwd/rev)
//  4. lowest Capability.TypicalLatencyMs
//  5. lowest LinkId, compared lexicographically (deterministic final
//     tie-break so repeated calls with identical input never diverge)
func Select(req Request, snapshots []linkreg.Snapshot) (linkreg.LinkId, bool) {
	var best linkreg.Snapshot
	found := false

	for _, s := range snapshots {
		if !eligible(req, s) {
			continue
		}
		if !found {
			best = s
			found = true
			continue
		}
		if better(s, best) {
			best = s
		}
	}

	if !found {
		return linkreg.LinkId{}, false
	}
	return best.ID, true
}

// better reports whether candidate ranks ahead of current under the
// Select scoring order.
func better(candidate, current linkreg.Snapshot) bool {
	if candidate.Capability.Priority != current.Capability.Priority {
		return candidate.Capability.Priority > current.Capability.Priority
	}
	if candidate.Capability.CostPerMB != current.Capability.CostPerMB {
		return candidate.Capability.CostPerMB < current.Capability.CostPerMB
	}
	cu, ku := utilizationPercent(candidate), utilizationPercent(current)
	if cu != ku {
		return cu < ku
	}
	if candidate.Capability.TypicalLatencyMs != current.Capability.TypicalLatencyMs {
		return candidate.Capability.TypicalLatencyMs < current.Capability.TypicalLatencyMs
	}
	return candidate.ID.Less(current.ID)
}
