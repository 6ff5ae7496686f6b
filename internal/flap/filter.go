package flap

import (
	"github.com/skyline-avionics/magic/internal/dispatch"
)

// Filter wraps a dispatch.Handler and suppresses LinkGoingDown/LinkDown
// events for links that are currently flap-dampened, and the matching
// LinkUp recovery events while suppression is still in effect. Every
// other event kind passes through untouched.
type Filter struct {
	dampener *Dampener
	next     dispatch.Handler
}

// NewFilter builds a Filter forwarding undampened events to next.
func NewFilter(dampener *Dampener, next dispatch.Handler) *Filter {
	return &Filter{dampener: dampener, next: next}
}

// Handle implements dispatch.Handler.
func (f *Filter) Handle(e dispatch.Event) {
	switch e.Kind {
	case dispatch.LinkGoingDown, dispatch.LinkDown:
		if f.dampener.ShouldSuppressDown(e.LinkID) {
			return
		}
	case dispatch.LinkUp:
		if f.dampener.ShouldSuppressUp(e.LinkID) {
			return
		}
	}
	f.next.Handle(e)
}
