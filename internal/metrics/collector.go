// Package metrics exposes the Prometheus Collector for magicd: gauges
// and counters over links, bearers, sessions, and accounting, scraped
// by the control-plane HTTP server's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "magic"
	subsystem = "engine"
)

// Label names.
const (
	labelLinkID   = "link_id"
	labelLinkType = "link_type"
	labelFromState = "from_state"
	labelToState   = "to_state"
	labelClientID  = "client_id"
)

// -------------------------------------------------------------------------
// Collector — Prometheus MAGIC Engine Metrics
// -------------------------------------------------------------------------

// Collector holds all magicd Prometheus metrics.
//
//   - Link gauges track per-link state and usage.
//   - Session gauges track currently active sessions.
//   - Bearer/accounting counters track allocation and traffic volume.
//   - State transition counters record Link Driver Registry FSM changes.
type Collector struct {
	// LinksByState tracks the number of registered links currently in
	// each life-state, labeled by link_type and to_state.
	LinksByState *prometheus.GaugeVec

	// LinkFwdUsageKbps tracks each link's current forward usage.
	LinkFwdUsageKbps *prometheus.GaugeVec

	// LinkRevUsageKbps tracks each link's current reverse usage.
	LinkRevUsageKbps *prometheus.GaugeVec

	// LinkSignalQuality tracks each link's derived 0-100 signal quality.
	LinkSignalQuality *prometheus.GaugeVec

	// ActiveBearers tracks the number of active bearers per link.
	ActiveBearers *prometheus.GaugeVec

	// ActiveSessions tracks the number of currently active sessions.
	ActiveSessions prometheus.Gauge

	// SessionAllocations counts allocate attempts, labeled by result
	// ("success" or an error kind).
	SessionAllocations *prometheus.CounterVec

	// SessionSwitches counts hot-switch attempts, labeled by result.
	SessionSwitches *prometheus.CounterVec

	// StateTransitions counts Link Driver Registry FSM transitions.
	StateTransitions *prometheus.CounterVec

	// AccountingBytesTotal counts accounted traffic bytes, labeled by
	// client_id and direction ("in" or "out").
	AccountingBytesTotal *prometheus.CounterVec

	// AccountingDegraded counts accounting stats queries served from a
	// stale cache because the kernel conntrack read failed.
	AccountingDegraded prometheus.Counter

	// HostConfigErrors counts Host Configurator operation failures,
	// labeled by operation name.
	HostConfigErrors *prometheus.CounterVec
}

// NewCollector creates a Collector with all metrics registered against
// reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.LinksByState,
		c.LinkFwdUsageKbps,
		c.LinkRevUsageKbps,
		c.LinkSignalQuality,
		c.ActiveBearers,
		c.ActiveSessions,
		c.SessionAllocations,
		c.SessionSwitches,
		c.StateTransitions,
		c.AccountingBytesTotal,
		c.AccountingDegraded,
		c.HostConfigErrors,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	linkLabels := []string{labelLinkID, labelLinkType}
	transitionLabels := []string{labelLinkID, labelFromState, labelToState}

	return &Collector{
		LinksByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "links_by_state",
			Help:      "Registered links currently in a given life-state, by link type.",
		}, []string{labelLinkType, labelToState}),

		LinkFwdUsageKbps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "link_fwd_usage_kbps",
			Help:      "Current forward-direction bandwidth usage per link.",
		}, linkLabels),

		LinkRevUsageKbps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "link_rev_usage_kbps",
			Help:      "Current reverse-direction bandwidth usage per link.",
		}, linkLabels),

		LinkSignalQuality: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "link_signal_quality_percent",
			Help:      "Derived signal quality (0-100) per link.",
		}, linkLabels),

		ActiveBearers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active_bearers",
			Help:      "Number of active bearers per link.",
		}, linkLabels),

		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active_sessions",
			Help:      "Number of currently active sessions.",
		}),

		SessionAllocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "session_allocations_total",
			Help:      "Total session allocate attempts, labeled by result.",
		}, []string{"result"}),

		SessionSwitches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "session_switches_total",
			Help:      "Total hot-switch attempts, labeled by result.",
		}, []string{"result"}),

		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state_transitions_total",
			Help:      "Total Link Driver Registry FSM transitions.",
		}, transitionLabels),

		AccountingBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "accounting_bytes_total",
			Help:      "Total accounted traffic bytes per client and direction.",
		}, []string{labelClientID, "direction"}),

		AccountingDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "accounting_degraded_total",
			Help:      "Total accounting stats queries served from a stale cache after a kernel read failure.",
		}),

		HostConfigErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "host_config_errors_total",
			Help:      "Total Host Configurator operation failures, by operation.",
		}, []string{"op"}),
	}
}

// -------------------------------------------------------------------------
// Link State
// -------------------------------------------------------------------------

// SetLinkState sets the gauge for (linkType, state) to count. The gauges
// of other states for that link type are not changed.
func (c *Collector) SetLinkState(linkType, state string, count float64) {
	c.LinksByState.WithLabelValues(linkType, state).Set(count)
}

// SetLinkUsage records a link's current forward/reverse usage and
// signal quality.
func (c *Collector) SetLinkUsage(linkID, linkType string, fwdKbps, revKbps float64, signalQuality float64, bearers float64) {
	c.LinkFwdUsageKbps.WithLabelValues(linkID, linkType).Set(fwdKbps)
	c.LinkRevUsageKbps.WithLabelValues(linkID, linkType).Set(revKbps)
	c.LinkSignalQuality.WithLabelValues(linkID, linkType).Set(signalQuality)
	c.ActiveBearers.WithLabelValues(linkID, linkType).Set(bearers)
}

// RecordStateTransition increments the FSM transition counter for a link.
func (c *Collector) RecordStateTransition(linkID, from, to string) {
	c.StateTransitions.WithLabelValues(linkID, from, to).Inc()
}

// -------------------------------------------------------------------------
// Sessions
// -------------------------------------------------------------------------

// SetActiveSessions overwrites the active session gauge.
func (c *Collector) SetActiveSessions(n float64) {
	c.ActiveSessions.Set(n)
}

// RecordAllocation increments the allocation counter for result, e.g.
// "success", "no_link_available", "capacity_exceeded".
func (c *Collector) RecordAllocation(result string) {
	c.SessionAllocations.WithLabelValues(result).Inc()
}

// RecordSwitch increments the switch counter for result.
func (c *Collector) RecordSwitch(result string) {
	c.SessionSwitches.WithLabelValues(result).Inc()
}

// -------------------------------------------------------------------------
// Accounting
// -------------------------------------------------------------------------

// AddAccountingBytes adds delta bytes to a client's in/out counter.
func (c *Collector) AddAccountingBytes(clientID, direction string, delta float64) {
	if delta <= 0 {
		return
	}
	c.AccountingBytesTotal.WithLabelValues(clientID, direction).Add(delta)
}

// IncAccountingDegraded records a stats query served from stale cache.
func (c *Collector) IncAccountingDegraded() {
	c.AccountingDegraded.Inc()
}

// -------------------------------------------------------------------------
// Host Configurator
// -------------------------------------------------------------------------

// IncHostConfigError increments the error counter for a Host Configurator
// operation.
func (c *Collector) IncHostConfigError(op string) {
	c.HostConfigErrors.WithLabelValues(op).Inc()
}
