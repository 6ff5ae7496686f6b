// Package driver defines the Link Driver plugin ABI: the contract each
// physical-link driver (satellite, cellular, Wi-Fi, or a test double)
// implements to participate in the Link Driver Registry, plus an
// Adapter that wires a concrete Driver's events into the registry.
package driver

import (
	"context"

	"github.com/skyline-avionics/magic/internal/linkreg"
)

// EventKind is the driver-local event vocabulary, translated by Adapter
// into linkreg.Event values.
type EventKind uint8

const (
	EventDetected EventKind = iota
	EventUp
	EventDegraded
	EventRecovered
	EventFailed
)

// Event is raised by a Driver through the callback given to Init.
type Event struct {
	Kind    EventKind
	RSSIdBm int32
}

// EventCallback is supplied to Init; a Driver invokes it from whatever
// goroutine observes the underlying transport (a D-Bus signal handler,
// an OVSDB cache update, a timer).
type EventCallback func(Event)

// LinkInfo is returned by RegisterLink: the driver's type, interface
// name, and static capability, mirroring spec.md's LinkInfo contract.
type LinkInfo struct {
	Type          linkreg.LinkType
	InterfaceName string
	Capability    linkreg.Capability
}

// ResourceAction is the kind of resource operation a driver is asked to
// perform at the device level (distinct from the engine's own
// Registry.AllocateBearer/ReleaseBearer, which govern bandwidth
// bookkeeping; RequestResource additionally lets a driver provision
// device-side resources such as a cellular APN context).
type ResourceAction uint8

const (
	ActionAllocate ResourceAction = iota
	ActionRelease
	ActionModify
)

// ResourceRequest mirrors the wire-level request_resource contract.
type ResourceRequest struct {
	Action     ResourceAction
	MinFwdKbps uint32
	ReqFwdKbps uint32
	MinRevKbps uint32
	ReqRevKbps uint32
	QoSClass   uint8
	TimeoutSec uint32
	ClientID   string
	SessionID  uint32
}

// ResourceResponse mirrors the wire-level request_resource response.
type ResourceResponse struct {
	ResultCode     int
	GrantedFwdKbps uint32
	GrantedRevKbps uint32
	IP             string
	Gateway        string
	DNSPrimary     string
	DNSSecondary   string
}

// Driver is the plugin ABI every concrete link driver implements.
type Driver interface {
	Init(ctx context.Context, cb EventCallback) error
	RegisterLink(ctx context.Context) (LinkInfo, error)
	GetState(ctx context.Context) (linkreg.LifeState, int32, error)
	GetStatistics(ctx context.Context) (linkreg.Stats, error)
	RequestResource(ctx context.Context, req ResourceRequest) (ResourceResponse, error)
	Shutdown(ctx context.Context) error
}

// Pinger is an optional liveness probe a Driver may additionally
// implement; Adapter raises LinkGoingDown after two consecutive missed
// pings, grounded on the per-link DLM adapter heartbeat concept.
type Pinger interface {
	Ping(ctx context.Context) error
}
