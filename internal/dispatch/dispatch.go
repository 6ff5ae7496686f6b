// Package dispatch implements the Event Dispatcher: fan-out of
// link-driver events to internal and external subscribers, with
// per-subscriber bounded queues and a drop policy that never sheds
// state-transition events.
package dispatch

import (
	"sync"

	"github.com/skyline-avionics/magic/internal/linkreg"
)

// QueueCapacity bounds each subscriber's pending-event queue.
const QueueCapacity = 128

// maxMessageLen bounds the human-readable message attached to an event.
const maxMessageLen = 256

// EventKind is the category of a dispatched event.
type EventKind uint8

const (
	LinkDetected EventKind = iota
	LinkUp
	LinkGoingDown
	LinkDown
	QualityChanged
	ParameterReport
	HandoverRecommend
)

func (k EventKind) String() string {
	switch k {
	case LinkDetected:
		return "LinkDetected"
	case LinkUp:
		return "LinkUp"
	case LinkGoingDown:
		return "LinkGoingDown"
	case LinkDown:
		return "LinkDown"
	case QualityChanged:
		return "QualityChanged"
	case ParameterReport:
		return "ParameterReport"
	case HandoverRecommend:
		return "HandoverRecommend"
	default:
		return "Unknown"
	}
}

// droppable reports whether an event of this kind may be shed under
// subscriber backpressure. State-transition kinds are never droppable.
func (k EventKind) droppable() bool {
	return k == QualityChanged || k == ParameterReport
}

// Event is one dispatched notification.
type Event struct {
	LinkID   linkreg.LinkId
	Kind     EventKind
	OldState linkreg.LifeState
	NewState linkreg.LifeState

	RSSIdBm       int32
	Quality       int
	BandwidthKbps uint32
	TxBytes       uint64
	RxBytes       uint64

	TargetLinkID linkreg.LinkId // valid for HandoverRecommend

	Message string
}

func truncateMessage(s string) string {
	if len(s) <= maxMessageLen {
		return s
	}
	return s[:maxMessageLen]
}

// Handler receives dispatched events. Handle is invoked serially: no two
// calls for the same Handler ever run concurrently.
type Handler interface {
	Handle(Event)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(Event)

func (f HandlerFunc) Handle(e Event) { f(e) }

type subscription struct {
	id      int
	kinds   map[EventKind]bool
	handler Handler

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool
}

func newSubscription(id int, kinds []EventKind, handler Handler) *subscription {
	s := &subscription{id: id, kinds: make(map[EventKind]bool, len(kinds)), handler: handler}
	for _, k := range kinds {
		s.kinds[k] = true
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *subscription) wants(k EventKind) bool {
	if len(s.kinds) == 0 {
		return true // subscribed to everything
	}
	return s.kinds[k]
}

// enqueue adds e to the subscription's queue, shedding the oldest
// droppable entry if the queue is at capacity. If the queue is full of
// non-droppable entries and e itself is droppable, e is dropped. A
// non-droppable e is always enqueued, growing the queue past capacity
// only in the pathological case where nothing droppable can be evicted.
func (s *subscription) enqueue(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if len(s.queue) >= QueueCapacity {
		if idx := s.oldestDroppableIndex(); idx >= 0 {
			s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
		} else if e.Kind.droppable() {
			return
		}
	}
	s.queue = append(s.queue, e)
	s.cond.Signal()
}

func (s *subscription) oldestDroppableIndex() int {
	for i, e := range s.queue {
		if e.Kind.droppable() {
			return i
		}
	}
	return -1
}

// run drains the queue and delivers events to handler one at a time
// until the subscription is closed and the queue is empty.
func (s *subscription) run() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			return
		}
		e := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.handler.Handle(e)
	}
}

func (s *subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Dispatcher fans driver events out to subscribers.
type Dispatcher struct {
	mu     sync.Mutex
	subs   map[int]*subscription
	nextID int
	wg     sync.WaitGroup
}

// New constructs an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{subs: make(map[int]*subscription)}
}

// Subscribe registers handler for the given event kinds (nil or empty
// means all kinds) and starts its delivery goroutine.
func (d *Dispatcher) Subscribe(kinds []EventKind, handler Handler) int {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	sub := newSubscription(id, kinds, handler)
	d.subs[id] = sub
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		sub.run()
	}()
	return id
}

// Unsubscribe stops delivering to, and shuts down, the subscription.
func (d *Dispatcher) Unsubscribe(handle int) {
	d.mu.Lock()
	sub, ok := d.subs[handle]
	if ok {
		delete(d.subs, handle)
	}
	d.mu.Unlock()
	if ok {
		sub.close()
	}
}

// Publish delivers e to every matching subscriber. Events published
// for a single LinkId, if the caller publishes them in order, are
// observed by each subscriber in that same order: Publish only
// enqueues (never reorders) and each subscription drains serially.
func (d *Dispatcher) Publish(e Event) {
	e.Message = truncateMessage(e.Message)

	d.mu.Lock()
	subs := make([]*subscription, 0, len(d.subs))
	for _, s := range d.subs {
		subs = append(subs, s)
	}
	d.mu.Unlock()

	for _, s := range subs {
		if s.wants(e.Kind) {
			s.enqueue(e)
		}
	}
}

// Close stops every subscription's delivery goroutine and waits for
// them to exit.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	subs := make([]*subscription, 0, len(d.subs))
	for id, s := range d.subs {
		subs = append(subs, s)
		delete(d.subs, id)
	}
	d.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
	d.wg.Wait()
}

// Notify adapts a linkreg.Notification into a dispatch Event, letting a
// Dispatcher subscribe directly to a Registry.
func (d *Dispatcher) Notify(n linkreg.Notification) {
	e, ok := FromNotification(n)
	if !ok {
		return
	}
	d.Publish(e)
}

// FromNotification converts a Registry notification into a dispatch
// Event, or ok=false for notification kinds with no dispatch
// equivalent. Exported so callers that need to interpose logic (e.g.
// flap dampening) between the Registry and the Dispatcher can run the
// same conversion without duplicating it.
func FromNotification(n linkreg.Notification) (Event, bool) {
	e := Event{LinkID: n.LinkID, OldState: n.OldState, NewState: n.NewState}
	switch n.Kind {
	case linkreg.EventLinkRegistered:
		e.Kind = LinkDetected
	case linkreg.EventLinkUnregistered:
		e.Kind = LinkDown
	case linkreg.EventLinkStateChanged:
		e.Kind = stateChangeKind(n.NewState)
	case linkreg.EventQualityChanged:
		e.Kind = QualityChanged
	default:
		return Event{}, false
	}
	return e, true
}

func stateChangeKind(s linkreg.LifeState) EventKind {
	switch s {
	case linkreg.StateDetected:
		return LinkDetected
	case linkreg.StateAvailable:
		return LinkUp
	case linkreg.StateGoingDown:
		return LinkGoingDown
	case linkreg.StateDown:
		return LinkDown
	default:
		return LinkDetected
	}
}
