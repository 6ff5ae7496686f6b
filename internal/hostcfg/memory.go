package hostcfg

import (
	"context"
	"sync"
)

// MemoryBackend is an in-memory Configurator used by tests and by the
// idempotence property checks: it records applied mutations instead of
// touching the real host.
type MemoryBackend struct {
	mu sync.Mutex

	ifaceUp    map[string]bool
	addrs      map[string]map[string]bool
	routes     map[int]map[string]string // table -> prefix -> via
	fwmarks    map[uint16]int            // mark -> table
	classifiers map[string]map[uint16]bool // ip -> marks
	restoreSet bool
	blackholes map[int]bool
}

// NewMemoryBackend constructs an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		ifaceUp:     make(map[string]bool),
		addrs:       make(map[string]map[string]bool),
		routes:      make(map[int]map[string]string),
		fwmarks:     make(map[uint16]int),
		classifiers: make(map[string]map[uint16]bool),
		blackholes:  make(map[int]bool),
	}
}

func (b *MemoryBackend) EnsureInterfaceUp(_ context.Context, iface string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ifaceUp[iface] = true
	return nil
}

func (b *MemoryBackend) EnsureInterfaceDown(_ context.Context, iface string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ifaceUp[iface] = false
	return nil
}

func (b *MemoryBackend) IsInterfaceUp(iface string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ifaceUp[iface]
}

func (b *MemoryBackend) AssignAddr(_ context.Context, iface, cidr string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.addrs[iface] == nil {
		b.addrs[iface] = make(map[string]bool)
	}
	b.addrs[iface][cidr] = true
	return nil
}

func (b *MemoryBackend) FlushAddrs(_ context.Context, iface string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.addrs, iface)
	return nil
}

func (b *MemoryBackend) SetDefaultVia(_ context.Context, table int, gateway string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.routes[table] == nil {
		b.routes[table] = make(map[string]string)
	}
	b.routes[table]["default"] = gateway
	return nil
}

func (b *MemoryBackend) AddRoute(_ context.Context, table int, prefix, via, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.routes[table] == nil {
		b.routes[table] = make(map[string]string)
	}
	b.routes[table][prefix] = via
	return nil
}

func (b *MemoryBackend) DelRoute(_ context.Context, table int, prefix string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.routes[table], prefix)
	return nil
}

func (b *MemoryBackend) RouteExists(table int, prefix string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.routes[table][prefix]
	return ok
}

func (b *MemoryBackend) AddFwmarkRule(_ context.Context, mark uint16, table int, _ int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fwmarks[mark] = table
	return nil
}

func (b *MemoryBackend) DelFwmarkRule(_ context.Context, mark uint16) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.fwmarks, mark)
	return nil
}

func (b *MemoryBackend) FwmarkTable(mark uint16) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	table, ok := b.fwmarks[mark]
	return table, ok
}

func (b *MemoryBackend) ClassifyMarkSrc(_ context.Context, ip string, mark uint16) error {
	return b.classify(ip, mark)
}

func (b *MemoryBackend) ClassifyMarkDst(_ context.Context, ip string, mark uint16) error {
	return b.classify(ip, mark)
}

func (b *MemoryBackend) classify(ip string, mark uint16) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.classifiers[ip] == nil {
		b.classifiers[ip] = make(map[uint16]bool)
	}
	b.classifiers[ip][mark] = true
	return nil
}

func (b *MemoryBackend) RestoreConnMarkOnIngress(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.restoreSet = true
	return nil
}

func (b *MemoryBackend) RemoveClassifiersFor(_ context.Context, ip string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.classifiers, ip)
	return nil
}

func (b *MemoryBackend) RemoveClassifierMark(_ context.Context, ip string, mark uint16) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.classifiers[ip], mark)
	if len(b.classifiers[ip]) == 0 {
		delete(b.classifiers, ip)
	}
	return nil
}

func (b *MemoryBackend) HasClassifier(ip string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.classifiers[ip]) > 0
}

func (b *MemoryBackend) CreateBlackholeTable(_ context.Context, tableID int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blackholes[tableID] = true
	return nil
}
