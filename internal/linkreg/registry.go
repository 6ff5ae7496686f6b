package linkreg

import (
	"fmt"
	"sync"
	"time"
)

// EventKind distinguishes the notifications the registry publishes to
// subscribers.
type EventKind uint8

const (
	EventLinkRegistered EventKind = iota
	EventLinkUnregistered
	EventLinkStateChanged
	EventQualityChanged
)

func (k EventKind) String() string {
	switch k {
	case EventLinkRegistered:
		return "LinkRegistered"
	case EventLinkUnregistered:
		return "LinkUnregistered"
	case EventLinkStateChanged:
		return "LinkStateChanged"
	case EventQualityChanged:
		return "QualityChanged"
	default:
		return "Unknown"
	}
}

// Notification is published to registry subscribers on every state or
// quality change. Droppability of QualityChanged notifications under
// subscriber backpressure is the dispatcher's concern, not the
// registry's: the registry always emits.
type Notification struct {
	Kind     EventKind
	LinkID   LinkId
	OldState LifeState
	NewState LifeState
	At       time.Time
}

// Subscriber receives registry notifications.
type Subscriber interface {
	Notify(Notification)
}

// Registry is the Link Driver Registry: the authoritative set of
// registered links, their capabilities and dynamic state.
type Registry struct {
	mu    sync.RWMutex
	links map[LinkId]*link

	subMu sync.Mutex
	subs  map[int]Subscriber
	nextSubID int
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		links: make(map[LinkId]*link),
		subs:  make(map[int]Subscriber),
	}
}

// Register adds a new link with the given capability, in StateUnknown.
// Registering the same interface name twice returns ErrDuplicateInterface.
func (r *Registry) Register(cap Capability) (LinkId, error) {
	id, err := NewLinkId()
	if err != nil {
		return LinkId{}, err
	}

	r.mu.Lock()
	for _, l := range r.links {
		l.mu.Lock()
		same := l.cap.InterfaceName == cap.InterfaceName
		l.mu.Unlock()
		if same {
			r.mu.Unlock()
			return LinkId{}, fmt.Errorf("%w: %s", ErrDuplicateInterface, cap.InterfaceName)
		}
	}
	r.links[id] = &link{
		id:      id,
		cap:     cap,
		state:   StateUnknown,
		bearers: make(map[uint32]*Bearer),
	}
	r.mu.Unlock()

	r.publish(Notification{Kind: EventLinkRegistered, LinkID: id, NewState: StateUnknown})
	return id, nil
}

// Unregister removes a link. It is rejected with ErrLinkBusy if the link
// still has allocated bearers; callers must release all bearers first.
func (r *Registry) Unregister(id LinkId) error {
	r.mu.Lock()
	l, ok := r.links[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrLinkNotFound, id)
	}
	l.mu.Lock()
	busy := len(l.bearers) > 0
	l.mu.Unlock()
	if busy {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrLinkBusy, id)
	}
	delete(r.links, id)
	r.mu.Unlock()

	r.publish(Notification{Kind: EventLinkUnregistered, LinkID: id})
	return nil
}

func (r *Registry) get(id LinkId) (*link, error) {
	r.mu.RLock()
	l, ok := r.links[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLinkNotFound, id)
	}
	return l, nil
}

// GetState returns the current snapshot for a link.
func (r *Registry) GetState(id LinkId) (Snapshot, error) {
	l, err := r.get(id)
	if err != nil {
		return Snapshot{}, err
	}
	return l.snapshot(), nil
}

// Snapshots returns a point-in-time view of every registered link.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	links := make([]*link, 0, len(r.links))
	for _, l := range r.links {
		links = append(links, l)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(links))
	for _, l := range links {
		out = append(out, l.snapshot())
	}
	return out
}

// ApplyEvent transitions the named link's life-state on a driver event.
// RSSI updates ride along with Up/Degraded/Recovered events so the
// quality derivation always reflects the signal at the moment of the
// last transition.
func (r *Registry) ApplyEvent(id LinkId, event Event, rssiDBm int32) error {
	l, err := r.get(id)
	if err != nil {
		return err
	}

	l.mu.Lock()
	old := l.state
	next, err := applyEvent(old, event)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	l.state = next
	l.rssi = rssiDBm
	now := time.Now()
	if next == StateAvailable {
		l.lastUp = now
	}
	if next == StateDown {
		l.lastDown = now
		l.curFwd = 0
		l.curRev = 0
	}
	l.mu.Unlock()

	if old != next {
		r.publish(Notification{Kind: EventLinkStateChanged, LinkID: id, OldState: old, NewState: next, At: now})
	} else {
		r.publish(Notification{Kind: EventQualityChanged, LinkID: id, OldState: old, NewState: next, At: now})
	}
	return nil
}

// UpdateStats accumulates tx/rx counters reported by the driver or the
// accounting subsystem.
func (r *Registry) UpdateStats(id LinkId, txBytes, rxBytes, txPackets, rxPackets uint64) error {
	l, err := r.get(id)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.stats.TxBytes += txBytes
	l.stats.RxBytes += rxBytes
	l.stats.TxPackets += txPackets
	l.stats.RxPackets += rxPackets
	l.mu.Unlock()
	return nil
}

// AllocateBearer reserves a bandwidth slot on the given link. It fails
// with ErrLinkNotAvailable unless the link is in StateAvailable,
// ErrCapacityExceeded if the requested bandwidth would overcommit the
// link's advertised capacity, and ErrBearerSlotsExhausted once
// BearersPerLink slots are in use.
func (r *Registry) AllocateBearer(id LinkId, fwdKbps, revKbps uint32, cos CoS) (*Bearer, error) {
	l, err := r.get(id)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateAvailable {
		return nil, fmt.Errorf("%w: %s is %s", ErrLinkNotAvailable, id, l.state)
	}
	if len(l.bearers) >= BearersPerLink {
		return nil, fmt.Errorf("%w: %s", ErrBearerSlotsExhausted, id)
	}
	if l.curFwd+fwdKbps > l.cap.MaxFwdKbps || l.curRev+revKbps > l.cap.MaxRevKbps {
		return nil, fmt.Errorf("%w: %s", ErrCapacityExceeded, id)
	}
	if l.nextBearer == 0 {
		l.nextBearer = 1
	}
	if l.nextBearer > BearersPerLink {
		return nil, fmt.Errorf("%w: %s", ErrBearerIdExhausted, id)
	}

	b := &Bearer{
		ID:           l.nextBearer,
		AllocFwdKbps: fwdKbps,
		AllocRevKbps: revKbps,
		CoS:          cos,
		CreatedAt:    time.Now(),
	}
	l.bearers[b.ID] = b
	l.nextBearer++
	l.curFwd += fwdKbps
	l.curRev += revKbps

	return b, nil
}

// ReleaseBearer frees a previously allocated bearer slot. Bearer IDs are
// never reused within a link's lifetime: nextBearer is monotonic, so a
// released slot's numeric ID cannot collide with a future allocation.
func (r *Registry) ReleaseBearer(id LinkId, bearerID uint32) error {
	l, err := r.get(id)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.bearers[bearerID]
	if !ok {
		return fmt.Errorf("%w: link=%s bearer=%d", ErrBearerNotFound, id, bearerID)
	}
	delete(l.bearers, bearerID)
	l.curFwd -= b.AllocFwdKbps
	l.curRev -= b.AllocRevKbps
	return nil
}

// Subscribe registers a Subscriber for registry notifications, returning
// a handle for Unsubscribe.
func (r *Registry) Subscribe(s Subscriber) int {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	id := r.nextSubID
	r.nextSubID++
	r.subs[id] = s
	return id
}

// Unsubscribe removes a subscriber previously returned by Subscribe.
func (r *Registry) Unsubscribe(handle int) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	delete(r.subs, handle)
}

func (r *Registry) publish(n Notification) {
	r.subMu.Lock()
	subs := make([]Subscriber, 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	r.subMu.Unlock()

	for _, s := range subs {
		s.Notify(n)
	}
}
