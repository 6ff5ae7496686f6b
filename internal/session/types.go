// Package session implements the Session Manager: it orchestrates
// allocation, hot-switching, stats queries, and release across the Link
// Driver Registry, Data Plane Programmer, and Traffic Accounting
// subsystems, with an all-or-nothing transaction guarantee.
package session

import (
	"errors"
	"time"

	"github.com/skyline-avionics/magic/internal/accounting"
	"github.com/skyline-avionics/magic/internal/linkreg"
	"github.com/skyline-avionics/magic/internal/policy"
)

// MaxSessions bounds the number of concurrently active sessions.
const MaxSessions = 256

// MaxClientIDLen is the maximum length, in bytes, of a ClientId.
const MaxClientIDLen = 63

// State is a session's position in its lifecycle.
type State uint8

const (
	StateAllocating State = iota
	StateActive
	StateSwitching
	StateReleasing
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateAllocating:
		return "Allocating"
	case StateActive:
		return "Active"
	case StateSwitching:
		return "Switching"
	case StateReleasing:
		return "Releasing"
	case StateReleased:
		return "Released"
	default:
		return "Unknown"
	}
}

// GrantedIPs is the address information handed back to the client.
type GrantedIPs struct {
	Local        string
	Gateway      string
	DNSPrimary   string
	DNSSecondary string
}

// Request is a resource allocation request from a client.
type Request struct {
	ClientID    string
	ClientIP    string
	MinFwdKbps  uint32
	MinRevKbps  uint32
	ReqFwdKbps  uint32
	ReqRevKbps  uint32
	QoSClass    uint8
	MaxDelayMs  uint32
	MinSecurity uint8
	Persistent  bool
	TimeoutSec  uint32
	Phase       policy.FlightPhase
}

// Record is the engine's view of one allocated session.
type Record struct {
	ID       uint32
	ClientID string

	LinkID   linkreg.LinkId
	BearerID uint32

	GrantedFwdKbps uint32
	GrantedRevKbps uint32
	QoSClass       uint8
	MaxDelayMs     uint32
	Persistent     bool
	TimeoutSec     uint32

	Granted       GrantedIPs
	ConntrackMark uint16

	CreatedAt time.Time
	State     State
}

// Sentinel errors.
var (
	ErrInvalidArgument      = errors.New("session: invalid argument")
	ErrNoLinkAvailable      = errors.New("session: no link available")
	ErrSessionNotFound      = errors.New("session: session not found")
	ErrSessionCapacity      = errors.New("session: maximum concurrent sessions reached")
	ErrSessionIDExhausted   = errors.New("session: session id space exhausted")
)

// Response is returned to the caller on a successful allocate.
type Response struct {
	SessionID      uint32
	GrantedFwdKbps uint32
	GrantedRevKbps uint32
	Granted        GrantedIPs
}

// Stats mirrors accounting.Counters for the public session contract.
type Stats = accounting.Counters
