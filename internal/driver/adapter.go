package driver

import (
	"context"
	"fmt"

	"github.com/skyline-avionics/magic/internal/linkreg"
)

// Adapter binds one Driver instance to the Link Driver Registry: it
// registers the driver's link once, translates the driver's own event
// stream into registry FSM events, and provides a liveness probe
// (PingHealthCheck) for drivers that implement Pinger.
type Adapter struct {
	registry *linkreg.Registry
	driver   Driver
	linkID   linkreg.LinkId

	missedPings int
}

// Attach initializes the driver, registers its link, and begins
// forwarding its events into registry. The returned Adapter owns no
// goroutine of its own; callers that want periodic health checks must
// call PingHealthCheck themselves (e.g. on a ticker in cmd/magicd).
func Attach(ctx context.Context, registry *linkreg.Registry, d Driver) (*Adapter, error) {
	a := &Adapter{registry: registry, driver: d}

	if err := d.Init(ctx, a.handleEvent); err != nil {
		return nil, fmt.Errorf("driver init: %w", err)
	}
	info, err := d.RegisterLink(ctx)
	if err != nil {
		return nil, fmt.Errorf("driver register link: %w", err)
	}
	cap := info.Capability
	cap.Type = info.Type
	cap.InterfaceName = info.InterfaceName

	id, err := registry.Register(cap)
	if err != nil {
		return nil, fmt.Errorf("registry register: %w", err)
	}
	a.linkID = id
	return a, nil
}

// LinkID is the identifier this driver's link was assigned in the
// registry.
func (a *Adapter) LinkID() linkreg.LinkId {
	return a.linkID
}

// Driver returns the underlying Driver, for direct RequestResource calls.
func (a *Adapter) Driver() Driver {
	return a.driver
}

func (a *Adapter) handleEvent(e Event) {
	var ev linkreg.Event
	switch e.Kind {
	case EventDetected:
		ev = linkreg.EventDetected
	case EventUp:
		ev = linkreg.EventUp
	case EventDegraded:
		ev = linkreg.EventDegraded
	case EventRecovered:
		ev = linkreg.EventRecovered
	case EventFailed:
		ev = linkreg.EventFailed
	default:
		return
	}
	_ = a.registry.ApplyEvent(a.linkID, ev, e.RSSIdBm)
}

// PingHealthCheck issues one liveness probe if the driver implements
// Pinger. Two consecutive failures raise EventDegraded; a subsequent
// success clears the counter. Drivers with no Pinger (Wi-Fi, whose
// OVSDB cache update is itself the liveness signal) are no-ops here.
func (a *Adapter) PingHealthCheck(ctx context.Context) {
	pinger, ok := a.driver.(Pinger)
	if !ok {
		return
	}
	if err := pinger.Ping(ctx); err != nil {
		a.missedPings++
		if a.missedPings >= 2 {
			_, rssi, _ := a.driver.GetState(ctx)
			a.handleEvent(Event{Kind: EventDegraded, RSSIdBm: rssi})
		}
		return
	}
	a.missedPings = 0
}

// Shutdown releases the underlying driver's resources.
func (a *Adapter) Shutdown(ctx context.Context) error {
	return a.driver.Shutdown(ctx)
}
