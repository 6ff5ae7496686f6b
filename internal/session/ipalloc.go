package session

import (
	"fmt"
	"sync"
)

// AddressAssigner hands out the address set a client is granted on
// allocation, and reclaims it on release.
type AddressAssigner interface {
	Assign(sessionID uint32, clientIP string) (GrantedIPs, error)
	Release(sessionID uint32)
}

// StaticAssigner always returns the same gateway/DNS pair, echoing back
// the client's own requested IP as its local address. It is the
// production default: MAGIC does not run DHCP, it steers already
// client-addressed traffic.
type StaticAssigner struct {
	mu           sync.Mutex
	Gateway      string
	DNSPrimary   string
	DNSSecondary string

	assigned map[uint32]GrantedIPs
}

// NewStaticAssigner constructs an assigner with the given fixed
// gateway/DNS pair, read from configuration.
func NewStaticAssigner(gateway, dnsPrimary, dnsSecondary string) *StaticAssigner {
	return &StaticAssigner{
		Gateway:      gateway,
		DNSPrimary:   dnsPrimary,
		DNSSecondary: dnsSecondary,
		assigned:     make(map[uint32]GrantedIPs),
	}
}

func (a *StaticAssigner) Assign(sessionID uint32, clientIP string) (GrantedIPs, error) {
	if clientIP == "" {
		return GrantedIPs{}, fmt.Errorf("session: empty client ip for session %d", sessionID)
	}
	g := GrantedIPs{
		Local:        clientIP,
		Gateway:      a.Gateway,
		DNSPrimary:   a.DNSPrimary,
		DNSSecondary: a.DNSSecondary,
	}
	a.mu.Lock()
	a.assigned[sessionID] = g
	a.mu.Unlock()
	return g, nil
}

func (a *StaticAssigner) Release(sessionID uint32) {
	a.mu.Lock()
	delete(a.assigned, sessionID)
	a.mu.Unlock()
}
