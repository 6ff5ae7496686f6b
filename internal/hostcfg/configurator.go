// Package hostcfg implements the Host Configurator: idempotent host
// mutation operations (interface state, routes, fwmark rules, conntrack
// classifiers) behind a single backend-agnostic interface.
package hostcfg

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors returned by Configurator operations.
var (
	ErrNoSuchInterface = errors.New("no such interface")
	ErrPermission      = errors.New("permission denied")
)

// HostError wraps a failed shell-out with the command's stderr, so a
// caller can log precisely which stage of a multi-step mutation failed.
type HostError struct {
	Op     string
	Stderr string
	Err    error
}

func (e *HostError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("hostcfg: %s: %v: %s", e.Op, e.Err, e.Stderr)
	}
	return fmt.Sprintf("hostcfg: %s: %v", e.Op, e.Err)
}

func (e *HostError) Unwrap() error { return e.Err }

// Configurator executes idempotent host mutations. Every method
// converges to the same end state no matter how many times it is
// called, and none block on network I/O — only local syscalls or
// subprocess latency.
type Configurator interface {
	EnsureInterfaceUp(ctx context.Context, iface string) error
	EnsureInterfaceDown(ctx context.Context, iface string) error

	AssignAddr(ctx context.Context, iface, cidr string) error
	FlushAddrs(ctx context.Context, iface string) error

	SetDefaultVia(ctx context.Context, table int, gateway string) error
	AddRoute(ctx context.Context, table int, prefix, via, dev string) error
	DelRoute(ctx context.Context, table int, prefix string) error

	AddFwmarkRule(ctx context.Context, mark uint16, table int, priority int) error
	DelFwmarkRule(ctx context.Context, mark uint16) error

	ClassifyMarkSrc(ctx context.Context, ip string, mark uint16) error
	ClassifyMarkDst(ctx context.Context, ip string, mark uint16) error
	RestoreConnMarkOnIngress(ctx context.Context) error
	RemoveClassifiersFor(ctx context.Context, ip string) error
	RemoveClassifierMark(ctx context.Context, ip string, mark uint16) error

	CreateBlackholeTable(ctx context.Context, tableID int) error
}
