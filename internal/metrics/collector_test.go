package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/skyline-avionics/magic/internal/metrics"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	if c.LinksByState == nil {
		t.Error("LinksByState is nil")
	}
	if c.ActiveSessions == nil {
		t.Error("ActiveSessions is nil")
	}
	if c.SessionAllocations == nil {
		t.Error("SessionAllocations is nil")
	}
	if c.StateTransitions == nil {
		t.Error("StateTransitions is nil")
	}
	if c.AccountingBytesTotal == nil {
		t.Error("AccountingBytesTotal is nil")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	_ = families
}

func TestSetLinkUsage(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.SetLinkUsage("abc123", "WiFi", 512, 256, 75, 2)

	val := gaugeValue(t, c.LinkFwdUsageKbps, "abc123", "WiFi")
	if val != 512 {
		t.Errorf("LinkFwdUsageKbps = %v, want 512", val)
	}
	val = gaugeValue(t, c.LinkSignalQuality, "abc123", "WiFi")
	if val != 75 {
		t.Errorf("LinkSignalQuality = %v, want 75", val)
	}
	val = gaugeValue(t, c.ActiveBearers, "abc123", "WiFi")
	if val != 2 {
		t.Errorf("ActiveBearers = %v, want 2", val)
	}
}

func TestRecordAllocationAndSwitch(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.RecordAllocation("success")
	c.RecordAllocation("success")
	c.RecordAllocation("no_link_available")
	c.RecordSwitch("success")

	if got := counterValue(t, c.SessionAllocations, "success"); got != 2 {
		t.Errorf("SessionAllocations(success) = %v, want 2", got)
	}
	if got := counterValue(t, c.SessionAllocations, "no_link_available"); got != 1 {
		t.Errorf("SessionAllocations(no_link_available) = %v, want 1", got)
	}
	if got := counterValue(t, c.SessionSwitches, "success"); got != 1 {
		t.Errorf("SessionSwitches(success) = %v, want 1", got)
	}
}

func TestStateTransition(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.RecordStateTransition("link1", "Detected", "Available")
	c.RecordStateTransition("link1", "Detected", "Available")
	c.RecordStateTransition("link1", "Available", "GoingDown")

	if got := counterValue(t, c.StateTransitions, "link1", "Detected", "Available"); got != 2 {
		t.Errorf("StateTransitions(Detected->Available) = %v, want 2", got)
	}
	if got := counterValue(t, c.StateTransitions, "link1", "Available", "GoingDown"); got != 1 {
		t.Errorf("StateTransitions(Available->GoingDown) = %v, want 1", got)
	}
}

func TestAccountingBytesAndDegraded(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.AddAccountingBytes("C1", "in", 1000)
	c.AddAccountingBytes("C1", "in", 500)
	c.AddAccountingBytes("C1", "out", 0) // zero delta must not increment

	if got := counterValue(t, c.AccountingBytesTotal, "C1", "in"); got != 1500 {
		t.Errorf("AccountingBytesTotal(C1,in) = %v, want 1500", got)
	}
	if got := counterValue(t, c.AccountingBytesTotal, "C1", "out"); got != 0 {
		t.Errorf("AccountingBytesTotal(C1,out) = %v, want 0", got)
	}

	c.IncAccountingDegraded()
	c.IncAccountingDegraded()
	m := &dto.Metric{}
	if err := c.AccountingDegraded.Write(m); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := m.GetCounter().GetValue(); got != 2 {
		t.Errorf("AccountingDegraded = %v, want 2", got)
	}
}

func TestHostConfigErrors(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.IncHostConfigError("add_route")
	c.IncHostConfigError("add_route")
	c.IncHostConfigError("classify_mark_src")

	if got := counterValue(t, c.HostConfigErrors, "add_route"); got != 2 {
		t.Errorf("HostConfigErrors(add_route) = %v, want 2", got)
	}
	if got := counterValue(t, c.HostConfigErrors, "classify_mark_src"); got != 1 {
		t.Errorf("HostConfigErrors(classify_mark_src) = %v, want 1", got)
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

func gaugeValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()
	gauge, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}
	m := &dto.Metric{}
	if err := gauge.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}
	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}
