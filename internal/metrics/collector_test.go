package soadmetrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/soad-project/soad/internal/soad"
	soadmetrics "github.com/soad-project/soad/internal/metrics"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := soadmetrics.NewCollector(reg)

	if c.ConnState == nil {
		t.Error("ConnState is nil")
	}
	if c.TxSessions == nil {
		t.Error("TxSessions is nil")
	}
	if c.RxBytes == nil {
		t.Error("RxBytes is nil")
	}
	if c.GroupLosses == nil {
		t.Error("GroupLosses is nil")
	}
	if c.GroupLossConnsAffected == nil {
		t.Error("GroupLossConnsAffected is nil")
	}

	// Registration must not panic and must allow a clean gather.
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	_ = families
}

func TestConnStateChanged(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := soadmetrics.NewCollector(reg)

	c.ConnStateChanged(3, 1, soad.StateOffline)

	if v := gaugeValue(t, c.ConnState, "1", "3", "OFFLINE"); v != 1 {
		t.Errorf("ConnState(OFFLINE) = %v, want 1", v)
	}
	if v := gaugeValue(t, c.ConnState, "1", "3", "RECONNECT"); v != 0 {
		t.Errorf("ConnState(RECONNECT) = %v, want 0", v)
	}
	if v := gaugeValue(t, c.ConnState, "1", "3", "ONLINE"); v != 0 {
		t.Errorf("ConnState(ONLINE) = %v, want 0", v)
	}

	c.ConnStateChanged(3, 1, soad.StateOnline)

	if v := gaugeValue(t, c.ConnState, "1", "3", "OFFLINE"); v != 0 {
		t.Errorf("ConnState(OFFLINE) after transition = %v, want 0", v)
	}
	if v := gaugeValue(t, c.ConnState, "1", "3", "ONLINE"); v != 1 {
		t.Errorf("ConnState(ONLINE) after transition = %v, want 1", v)
	}
}

func TestTxSessionCompleted(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := soadmetrics.NewCollector(reg)

	c.TxSessionCompleted(7, soad.ResultOK)
	c.TxSessionCompleted(7, soad.ResultOK)
	c.TxSessionCompleted(7, soad.ResultNotOK)

	if v := counterValue(t, c.TxSessions, "7", "OK"); v != 2 {
		t.Errorf("TxSessions(7, OK) = %v, want 2", v)
	}
	if v := counterValue(t, c.TxSessions, "7", "NOT_OK"); v != 1 {
		t.Errorf("TxSessions(7, NOT_OK) = %v, want 1", v)
	}
}

func TestRxDelivered(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := soadmetrics.NewCollector(reg)

	c.RxDelivered(4, 64)
	c.RxDelivered(4, 32)

	if v := counterValue(t, c.RxBytes, "4"); v != 96 {
		t.Errorf("RxBytes(4) = %v, want 96", v)
	}
}

func TestGroupLost(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := soadmetrics.NewCollector(reg)

	c.GroupLost(2, 3)
	c.GroupLost(2, 1)

	if v := counterValue(t, c.GroupLosses, "2"); v != 2 {
		t.Errorf("GroupLosses(2) = %v, want 2", v)
	}
	if v := counterValue(t, c.GroupLossConnsAffected, "2"); v != 4 {
		t.Errorf("GroupLossConnsAffected(2) = %v, want 4", v)
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

// gaugeValue reads the current value of a GaugeVec with the given labels.
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

// counterValue reads the current value of a CounterVec with the given labels.
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
