package hostcfg

import (
	"context"
	"sync"
)

// Serialized wraps any Configurator so all of its operations run under
// a single mutex, independent of any engine-level lock — the Host
// Configurator must be globally serialized against itself regardless of
// which backend is in use.
type Serialized struct {
	mu    sync.Mutex
	inner Configurator
}

// NewSerialized wraps inner so every call is mutually exclusive.
func NewSerialized(inner Configurator) *Serialized {
	return &Serialized{inner: inner}
}

func (s *Serialized) EnsureInterfaceUp(ctx context.Context, iface string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.EnsureInterfaceUp(ctx, iface)
}

func (s *Serialized) EnsureInterfaceDown(ctx context.Context, iface string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.EnsureInterfaceDown(ctx, iface)
}

func (s *Serialized) AssignAddr(ctx context.Context, iface, cidr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.AssignAddr(ctx, iface, cidr)
}

func (s *Serialized) FlushAddrs(ctx context.Context, iface string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.FlushAddrs(ctx, iface)
}

func (s *Serialized) SetDefaultVia(ctx context.Context, table int, gateway string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.SetDefaultVia(ctx, table, gateway)
}

func (s *Serialized) AddRoute(ctx context.Context, table int, prefix, via, dev string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.AddRoute(ctx, table, prefix, via, dev)
}

func (s *Serialized) DelRoute(ctx context.Context, table int, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.DelRoute(ctx, table, prefix)
}

func (s *Serialized) AddFwmarkRule(ctx context.Context, mark uint16, table int, priority int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.AddFwmarkRule(ctx, mark, table, priority)
}

func (s *Serialized) DelFwmarkRule(ctx context.Context, mark uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.DelFwmarkRule(ctx, mark)
}

func (s *Serialized) ClassifyMarkSrc(ctx context.Context, ip string, mark uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.ClassifyMarkSrc(ctx, ip, mark)
}

func (s *Serialized) ClassifyMarkDst(ctx context.Context, ip string, mark uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.ClassifyMarkDst(ctx, ip, mark)
}

func (s *Serialized) RestoreConnMarkOnIngress(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.RestoreConnMarkOnIngress(ctx)
}

func (s *Serialized) RemoveClassifiersFor(ctx context.Context, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.RemoveClassifiersFor(ctx, ip)
}

func (s *Serialized) RemoveClassifierMark(ctx context.Context, ip string, mark uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.RemoveClassifierMark(ctx, ip, mark)
}

func (s *Serialized) CreateBlackholeTable(ctx context.Context, tableID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.CreateBlackholeTable(ctx, tableID)
}
