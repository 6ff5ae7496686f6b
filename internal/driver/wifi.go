package driver

import (
	"context"
	"fmt"
	"sync"

	"github.com/ovn-org/libovsdb/cache"
	"github.com/ovn-org/libovsdb/client"
	"github.com/ovn-org/libovsdb/model"

	"github.com/skyline-avionics/magic/internal/linkreg"
)

// wifiLink is one row of the Wifi_Link table an access-point or
// station-mode OVSDB controller maintains per radio; RSSI and
// associated state are updated by that controller, and WiFi observes
// changes via a cache-backed monitor rather than polling.
type wifiLink struct {
	UUID      string `ovsdb:"_uuid"`
	Ifname    string `ovsdb:"ifname"`
	State     string `ovsdb:"state"` // "detected", "associated", "degraded", "down"
	RSSIdBm   int    `ovsdb:"rssi_dbm"`
	TxBytes   int    `ovsdb:"tx_bytes"`
	RxBytes   int    `ovsdb:"rx_bytes"`
}

func wifiDBModel() (model.ClientDBModel, error) {
	return model.NewClientDBModel("Wifi_Link_DB", map[string]model.Model{"Wifi_Link": &wifiLink{}})
}

// WiFi is a Driver for a Wi-Fi radio managed by an OVSDB-speaking
// controller (hostapd/wpa_supplicant fronted by an OVSDB shim, the same
// approach OVN uses for its own managed interfaces).
type WiFi struct {
	interfaceName string
	capability    linkreg.Capability

	c client.Client

	mu    sync.Mutex
	cb    EventCallback
	state linkreg.LifeState
	rssi  int32
	stats linkreg.Stats
}

// NewWiFi connects to the OVSDB endpoint and returns a Driver bound to
// the row matching ifname.
func NewWiFi(ctx context.Context, endpoint, ifname string, cap linkreg.Capability) (*WiFi, error) {
	m, err := wifiDBModel()
	if err != nil {
		return nil, fmt.Errorf("driver: build wifi ovsdb model: %w", err)
	}
	c, err := client.NewOVSDBClient(m, client.WithEndpoint(endpoint))
	if err != nil {
		return nil, fmt.Errorf("driver: create wifi ovsdb client: %w", err)
	}
	if err := c.Connect(ctx); err != nil {
		return nil, fmt.Errorf("driver: connect wifi ovsdb: %w", err)
	}
	if _, err := c.MonitorAll(ctx); err != nil {
		return nil, fmt.Errorf("driver: monitor wifi ovsdb: %w", err)
	}
	cap.GroundOnly = false
	return &WiFi{interfaceName: ifname, capability: cap, c: c}, nil
}

func (w *WiFi) Init(_ context.Context, cb EventCallback) error {
	w.mu.Lock()
	w.cb = cb
	w.mu.Unlock()

	w.c.Cache().AddEventHandler(&cache.EventHandlerFuncs{
		AddFunc:   w.onRowChanged,
		UpdateFunc: func(table string, _, new model.Model) { w.onRowChanged(table, new) },
	})
	return nil
}

func (w *WiFi) onRowChanged(table string, row model.Model) {
	if table != "Wifi_Link" {
		return
	}
	r, ok := row.(*wifiLink)
	if !ok || r.Ifname != w.interfaceName {
		return
	}

	w.mu.Lock()
	prevState := w.state
	newState := wifiRowState(r.State)
	w.state = newState
	w.rssi = int32(r.RSSIdBm)
	w.stats.TxBytes = uint64(r.TxBytes)
	w.stats.RxBytes = uint64(r.RxBytes)
	cb := w.cb
	rssi := w.rssi
	w.mu.Unlock()

	if cb != nil && newState != prevState {
		cb(Event{Kind: lifeStateToEventKind(newState), RSSIdBm: rssi})
	}
}

func wifiRowState(s string) linkreg.LifeState {
	switch s {
	case "detected":
		return linkreg.StateDetected
	case "associated":
		return linkreg.StateAvailable
	case "degraded":
		return linkreg.StateGoingDown
	case "down":
		return linkreg.StateDown
	default:
		return linkreg.StateUnknown
	}
}

func (w *WiFi) RegisterLink(_ context.Context) (LinkInfo, error) {
	return LinkInfo{
		Type:          linkreg.LinkTypeWiFi,
		InterfaceName: w.interfaceName,
		Capability:    w.capability,
	}, nil
}

func (w *WiFi) GetState(_ context.Context) (linkreg.LifeState, int32, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state, w.rssi, nil
}

func (w *WiFi) GetStatistics(_ context.Context) (linkreg.Stats, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats, nil
}

// RequestResource is a no-op for WiFi: bandwidth admission is governed
// entirely by the registry/dataplane, not by the radio driver itself.
func (w *WiFi) RequestResource(_ context.Context, req ResourceRequest) (ResourceResponse, error) {
	return ResourceResponse{ResultCode: 0, GrantedFwdKbps: req.ReqFwdKbps, GrantedRevKbps: req.ReqRevKbps}, nil
}

func (w *WiFi) Shutdown(_ context.Context) error {
	w.c.Disconnect()
	return nil
}
