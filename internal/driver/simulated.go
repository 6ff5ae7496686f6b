package driver

import (
	"context"
	"sync"

	"github.com/skyline-avionics/magic/internal/linkreg"
)

// Simulated is an in-memory Driver used by tests and by demo/ground
// rigs with no physical radio attached. Its state is driven entirely by
// the Inject* methods, not by any external transport.
type Simulated struct {
	mu    sync.Mutex
	info  LinkInfo
	state linkreg.LifeState
	rssi  int32
	stats linkreg.Stats
	cb    EventCallback

	pingErr error
}

// NewSimulated constructs a Simulated driver that will register with
// the given static info.
func NewSimulated(info LinkInfo) *Simulated {
	return &Simulated{info: info, state: linkreg.StateUnknown}
}

func (s *Simulated) Init(_ context.Context, cb EventCallback) error {
	s.mu.Lock()
	s.cb = cb
	s.mu.Unlock()
	return nil
}

func (s *Simulated) RegisterLink(_ context.Context) (LinkInfo, error) {
	return s.info, nil
}

func (s *Simulated) GetState(_ context.Context) (linkreg.LifeState, int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.rssi, nil
}

func (s *Simulated) GetStatistics(_ context.Context) (linkreg.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats, nil
}

func (s *Simulated) RequestResource(_ context.Context, req ResourceRequest) (ResourceResponse, error) {
	return ResourceResponse{
		ResultCode:     0,
		GrantedFwdKbps: req.ReqFwdKbps,
		GrantedRevKbps: req.ReqRevKbps,
	}, nil
}

func (s *Simulated) Shutdown(_ context.Context) error {
	return nil
}

// Ping implements Pinger; SetPingError controls whether it fails.
func (s *Simulated) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingErr
}

// SetPingError makes subsequent Ping calls fail with err (nil clears it).
func (s *Simulated) SetPingError(err error) {
	s.mu.Lock()
	s.pingErr = err
	s.mu.Unlock()
}

// InjectEvent raises a driver event as if observed from the underlying
// transport, updating local state and invoking the registered callback.
func (s *Simulated) InjectEvent(kind EventKind, rssi int32) {
	s.mu.Lock()
	s.rssi = rssi
	switch kind {
	case EventDetected:
		s.state = linkreg.StateDetected
	case EventUp, EventRecovered:
		s.state = linkreg.StateAvailable
	case EventDegraded:
		s.state = linkreg.StateGoingDown
	case EventFailed:
		s.state = linkreg.StateDown
	}
	cb := s.cb
	s.mu.Unlock()
	if cb != nil {
		cb(Event{Kind: kind, RSSIdBm: rssi})
	}
}

// SetStatistics overwrites the counters GetStatistics returns.
func (s *Simulated) SetStatistics(stats linkreg.Stats) {
	s.mu.Lock()
	s.stats = stats
	s.mu.Unlock()
}
