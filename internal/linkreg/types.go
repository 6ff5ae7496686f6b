// Package linkreg implements the Link Driver Registry (LMI/CM): it holds
// the set of registered physical-link drivers, their static capabilities
// and dynamic state, and provides state queries, bearer allocate/release,
// and event subscription.
package linkreg

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"
)

// BearersPerLink is the fixed upper bound on active bearer slots per link.
const BearersPerLink = 16

// LinkId is an opaque 16-byte link identifier.
type LinkId [16]byte

// String renders the identifier as lowercase hex, used for logging and
// for the stable lexicographic tie-break in policy selection.
func (id LinkId) String() string {
	return hex.EncodeToString(id[:])
}

// Less reports whether id sorts before other, compared byte-by-byte.
// Used as the final, stable tie-break in the Policy Selector.
func (id LinkId) Less(other LinkId) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

// NewLinkId generates a random 16-byte identifier for a newly registered link.
func NewLinkId() (LinkId, error) {
	var id LinkId
	if _, err := rand.Read(id[:]); err != nil {
		return LinkId{}, fmt.Errorf("generate link id: %w", err)
	}
	return id, nil
}

// ParseLinkId decodes the hex representation produced by LinkId.String,
// as used by the HTTP control-plane API and magicctl.
func ParseLinkId(s string) (LinkId, error) {
	var id LinkId
	b, err := hex.DecodeString(s)
	if err != nil {
		return LinkId{}, fmt.Errorf("parse link id %q: %w", s, err)
	}
	if len(b) != len(id) {
		return LinkId{}, fmt.Errorf("parse link id %q: want %d bytes, got %d", s, len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

// LinkType is the static physical-link category.
type LinkType uint8

const (
	LinkTypeUnknown LinkType = iota
	LinkTypeSatcom
	LinkTypeCellular
	LinkTypeWiFi
	LinkTypeOther
)

func (t LinkType) String() string {
	switch t {
	case LinkTypeSatcom:
		return "Satcom"
	case LinkTypeCellular:
		return "Cellular"
	case LinkTypeWiFi:
		return "WiFi"
	case LinkTypeOther:
		return "Other"
	default:
		return "Unknown"
	}
}

// LifeState is the engine-managed per-link state, distinct from raw OS
// interface up/down (see spec.md GLOSSARY).
type LifeState uint8

const (
	StateUnknown LifeState = iota
	StateDetected
	StateAvailable
	StateGoingDown
	StateDown
)

func (s LifeState) String() string {
	switch s {
	case StateDetected:
		return "Detected"
	case StateAvailable:
		return "Available"
	case StateGoingDown:
		return "GoingDown"
	case StateDown:
		return "Down"
	default:
		return "Unknown"
	}
}

// Capability holds the static properties of a registered link. These
// never change for the lifetime of the registration.
type Capability struct {
	Type            LinkType
	InterfaceName   string
	MaxFwdKbps      uint32
	MaxRevKbps      uint32
	TypicalLatencyMs uint32
	MTU             uint32
	SecurityLevel   uint8
	CostPerMB       float64
	Priority        uint32
	// GroundOnly restricts a link to flight phases Gate/Taxi (used by the
	// Policy Selector's ground-only filter).
	GroundOnly bool
	// RSSIMin/RSSIMax bound the driver-reported RSSI range used to derive
	// SignalQuality deterministically.
	RSSIMin int32
	RSSIMax int32
}

// CoS is the class-of-service tag requested for a bearer.
type CoS uint8

// Bearer is a bandwidth reservation inside a link.
type Bearer struct {
	ID             uint32
	AllocFwdKbps   uint32
	AllocRevKbps   uint32
	CoS            CoS
	CreatedAt      time.Time
}

// Stats holds cumulative link-level counters.
type Stats struct {
	TxBytes   uint64
	RxBytes   uint64
	TxPackets uint64
	RxPackets uint64
}

// Sentinel errors for Registry/Link operations.
var (
	ErrDuplicateInterface   = errors.New("interface already registered")
	ErrLinkNotFound         = errors.New("link not found")
	ErrLinkBusy             = errors.New("link has active sessions or bearers")
	ErrLinkNotAvailable     = errors.New("link is not available")
	ErrCapacityExceeded     = errors.New("requested bandwidth exceeds available capacity")
	ErrBearerNotFound       = errors.New("bearer not found")
	ErrBearerSlotsExhausted = errors.New("all bearer slots are in use")
	ErrBearerIdExhausted    = errors.New("per-link bearer id space exhausted")
	ErrIllegalTransition    = errors.New("illegal link life-state transition")
)

// Snapshot is a read-only, copy-safe view of a link's state at a point in
// time, used by the Policy Selector and external callers so they never
// hold the Registry lock while reasoning about link state.
type Snapshot struct {
	ID               LinkId
	Capability       Capability
	State            LifeState
	RSSIdBm          int32
	SignalQuality    int
	CurrentFwdKbps   uint32
	CurrentRevKbps   uint32
	ActiveBearers    int
	Stats            Stats
	LastUp           time.Time
	LastDown         time.Time
}

// link is the mutable, lock-protected record for one registered link.
type link struct {
	mu sync.Mutex

	id         LinkId
	cap        Capability
	state      LifeState
	rssi       int32
	curFwd     uint32
	curRev     uint32
	stats      Stats
	lastUp     time.Time
	lastDown   time.Time

	bearers    map[uint32]*Bearer
	nextBearer uint32 // monotonic, never wraps (ErrBearerIdExhausted)
}

// signalQuality derives the 0-100 signal quality from rssi and the link's
// configured (rssi_min, rssi_max) range, per spec.md §4.B:
//
//	quality = clamp(0,100, round((rssi - rssi_min)*100 / (rssi_max - rssi_min)))
func signalQuality(rssi, rssiMin, rssiMax int32) int {
	if rssiMax <= rssiMin {
		return 0
	}
	raw := float64(rssi-rssiMin) * 100 / float64(rssiMax-rssiMin)
	q := int(raw + 0.5)
	if raw < 0 {
		q = int(raw - 0.5)
	}
	if q < 0 {
		return 0
	}
	if q > 100 {
		return 100
	}
	return q
}

func (l *link) snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Snapshot{
		ID:             l.id,
		Capability:     l.cap,
		State:          l.state,
		RSSIdBm:        l.rssi,
		SignalQuality:  signalQuality(l.rssi, l.cap.RSSIMin, l.cap.RSSIMax),
		CurrentFwdKbps: l.curFwd,
		CurrentRevKbps: l.curRev,
		ActiveBearers:  len(l.bearers),
		Stats:          l.stats,
		LastUp:         l.lastUp,
		LastDown:       l.lastDown,
	}
}
