package driver

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/skyline-avionics/magic/internal/linkreg"
)

// dbusDriver is the shared implementation behind Satcom and Cellular:
// both are modem-style adapter processes that expose their link state
// as D-Bus object properties and emit PropertiesChanged signals on the
// system bus, the same pattern ModemManager/oFono use.
type dbusDriver struct {
	linkType      LinkType
	interfaceName string
	capability    linkreg.Capability

	service    string // well-known bus name, e.g. org.freedesktop.ModemManager1
	objectPath dbus.ObjectPath
	propsIface string // interface carrying PropertiesChanged, e.g. ...Modem

	rssiProperty  string
	stateProperty string

	conn *dbus.Conn

	mu    sync.Mutex
	cb    EventCallback
	state linkreg.LifeState
	rssi  int32
}

func newDBusDriver(linkType LinkType, iface string, cap linkreg.Capability, service string, objectPath, propsIface, rssiProperty, stateProperty string) *dbusDriver {
	return &dbusDriver{
		linkType:      linkType,
		interfaceName: iface,
		capability:    cap,
		service:       service,
		objectPath:    dbus.ObjectPath(objectPath),
		propsIface:    propsIface,
		rssiProperty:  rssiProperty,
		stateProperty: stateProperty,
	}
}

func (d *dbusDriver) Init(_ context.Context, cb EventCallback) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("dbus: system bus connect: %w", err)
	}
	call := conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0,
		fmt.Sprintf("type='signal',interface='org.freedesktop.DBus.Properties',member='PropertiesChanged',path='%s'", d.objectPath))
	if call.Err != nil {
		return fmt.Errorf("dbus: add match: %w", call.Err)
	}

	d.mu.Lock()
	d.conn = conn
	d.cb = cb
	d.mu.Unlock()

	ch := make(chan *dbus.Signal, 16)
	conn.Signal(ch)
	go d.watch(ch)
	return nil
}

func (d *dbusDriver) watch(ch chan *dbus.Signal) {
	for sig := range ch {
		if sig.Path != d.objectPath || len(sig.Body) < 2 {
			continue
		}
		changed, ok := sig.Body[1].(map[string]dbus.Variant)
		if !ok {
			continue
		}
		d.handlePropertiesChanged(changed)
	}
}

func (d *dbusDriver) handlePropertiesChanged(changed map[string]dbus.Variant) {
	d.mu.Lock()
	rssi := d.rssi
	if v, ok := changed[d.rssiProperty]; ok {
		if n, ok := asInt32(v.Value()); ok {
			rssi = n
			d.rssi = n
		}
	}
	prevState := d.state
	newState := prevState
	if v, ok := changed[d.stateProperty]; ok {
		if n, ok := asInt32(v.Value()); ok {
			newState = modemStateToLifeState(n)
			d.state = newState
		}
	}
	cb := d.cb
	d.mu.Unlock()

	// RSSI-only updates are picked up by the next GetState poll; only a
	// state transition is worth an immediate event.
	if cb == nil || newState == prevState {
		return
	}
	cb(Event{Kind: lifeStateToEventKind(newState), RSSIdBm: rssi})
}

func asInt32(v interface{}) (int32, bool) {
	switch n := v.(type) {
	case int32:
		return n, true
	case int64:
		return int32(n), true
	case uint32:
		return int32(n), true
	case string:
		parsed, err := strconv.ParseInt(n, 10, 32)
		if err != nil {
			return 0, false
		}
		return int32(parsed), true
	default:
		return 0, false
	}
}

// modemStateToLifeState maps a ModemManager/oFono-style integer modem
// state onto a registry life state. 0 corresponds to the family's
// "unknown"/"failed" states, positive values to progressively more
// connected states, mirroring the MM_MODEM_STATE enum ordering.
func modemStateToLifeState(raw int32) linkreg.LifeState {
	switch {
	case raw <= 0:
		return linkreg.StateDown
	case raw < 8:
		return linkreg.StateDetected
	default:
		return linkreg.StateAvailable
	}
}

func lifeStateToEventKind(s linkreg.LifeState) EventKind {
	switch s {
	case linkreg.StateDetected:
		return EventDetected
	case linkreg.StateAvailable:
		return EventUp
	case linkreg.StateGoingDown:
		return EventDegraded
	case linkreg.StateDown:
		return EventFailed
	default:
		return EventDetected
	}
}

func (d *dbusDriver) RegisterLink(_ context.Context) (LinkInfo, error) {
	return LinkInfo{
		Type:          d.linkType.toLinkType(),
		InterfaceName: d.interfaceName,
		Capability:    d.capability,
	}, nil
}

func (d *dbusDriver) GetState(_ context.Context) (linkreg.LifeState, int32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state, d.rssi, nil
}

func (d *dbusDriver) GetStatistics(ctx context.Context) (linkreg.Stats, error) {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return linkreg.Stats{}, fmt.Errorf("dbus: not initialized")
	}

	var stats linkreg.Stats
	obj := conn.Object(d.service, d.objectPath)
	var bytesRx, bytesTx uint64
	if err := obj.CallWithContext(ctx, d.propsIface+".GetStatistics", 0).Store(&bytesRx, &bytesTx); err == nil {
		stats.RxBytes = bytesRx
		stats.TxBytes = bytesTx
	}
	return stats, nil
}

func (d *dbusDriver) RequestResource(ctx context.Context, req ResourceRequest) (ResourceResponse, error) {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return ResourceResponse{}, fmt.Errorf("dbus: not initialized")
	}

	switch req.Action {
	case ActionRelease:
		call := conn.Object(d.service, d.objectPath).CallWithContext(ctx, d.propsIface+".Disconnect", 0)
		if call.Err != nil {
			return ResourceResponse{ResultCode: 1}, fmt.Errorf("dbus: disconnect: %w", call.Err)
		}
		return ResourceResponse{ResultCode: 0}, nil
	default:
		call := conn.Object(d.service, d.objectPath).CallWithContext(ctx, d.propsIface+".Connect", 0, req.ReqFwdKbps, req.ReqRevKbps)
		if call.Err != nil {
			return ResourceResponse{ResultCode: 1}, fmt.Errorf("dbus: connect: %w", call.Err)
		}
		var ip, gw, dns1, dns2 string
		_ = call.Store(&ip, &gw, &dns1, &dns2)
		return ResourceResponse{
			ResultCode:     0,
			GrantedFwdKbps: req.ReqFwdKbps,
			GrantedRevKbps: req.ReqRevKbps,
			IP:             ip,
			Gateway:        gw,
			DNSPrimary:     dns1,
			DNSSecondary:   dns2,
		}, nil
	}
}

func (d *dbusDriver) Shutdown(_ context.Context) error {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// LinkType distinguishes which modem family a dbusDriver instance
// represents; it is a thin local enum rather than linkreg.LinkType so
// Satcom/Cellular construction reads naturally at call sites.
type LinkType uint8

const (
	LinkTypeSatcom LinkType = iota
	LinkTypeCellular
)

func (t LinkType) toLinkType() linkreg.LinkType {
	if t == LinkTypeSatcom {
		return linkreg.LinkTypeSatcom
	}
	return linkreg.LinkTypeCellular
}
