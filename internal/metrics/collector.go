// Package soadmetrics implements soad.MetricsReporter with Prometheus
// GaugeVec/CounterVec metrics keyed by group and connection identity.
package soadmetrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/soad-project/soad/internal/soad"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "soad"
	subsystem = "adaptor"
)

// Label names for SoAd metrics.
const (
	labelGroup  = "group"
	labelConn   = "conn"
	labelState  = "state"
	labelPdu    = "pdu"
	labelResult = "result"
)

// -------------------------------------------------------------------------
// Collector — Prometheus SoAd Metrics
// -------------------------------------------------------------------------

// Collector holds all SoAd Prometheus metrics and implements
// soad.MetricsReporter.
//
//   - ConnState tracks each connection's current position in the
//     OFFLINE/RECONNECT/ONLINE state machine.
//   - TxSessions counts completed tp_transmit sessions per PDU and result.
//   - RxBytes counts bytes delivered to upper sinks per connection.
//   - GroupLosses counts group-loss cascades and the connections they
//     affected.
type Collector struct {
	// ConnState is a gauge set to 1 for a connection's current state and 0
	// for the other two, so a single query answers "what state is conn X
	// in" without needing a max-over-time.
	ConnState *prometheus.GaugeVec

	// TxSessions counts completed transmit sessions, labeled by pdu and
	// result ("OK", "NOT_OK", "BUSY").
	TxSessions *prometheus.CounterVec

	// RxBytes counts bytes delivered to upper sinks per connection.
	RxBytes *prometheus.CounterVec

	// GroupLosses counts group-loss cascade events per group.
	GroupLosses *prometheus.CounterVec

	// GroupLossConnsAffected counts, across all cascades, how many
	// connections were pushed to OFFLINE per group.
	GroupLossConnsAffected *prometheus.CounterVec
}

var _ soad.MetricsReporter = (*Collector)(nil)

// NewCollector creates a Collector with all SoAd metrics registered against
// the provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.ConnState,
		c.TxSessions,
		c.RxBytes,
		c.GroupLosses,
		c.GroupLossConnsAffected,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	connLabels := []string{labelGroup, labelConn, labelState}
	txLabels := []string{labelPdu, labelResult}
	rxLabels := []string{labelConn}
	groupLabels := []string{labelGroup}

	return &Collector{
		ConnState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "conn_state",
			Help:      "1 if the connection currently holds this state, 0 otherwise.",
		}, connLabels),

		TxSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tx_sessions_total",
			Help:      "Total completed transmit sessions by pdu and result.",
		}, txLabels),

		RxBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rx_bytes_total",
			Help:      "Total bytes delivered to upper sinks per connection.",
		}, rxLabels),

		GroupLosses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "group_losses_total",
			Help:      "Total group-loss cascades per group.",
		}, groupLabels),

		GroupLossConnsAffected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "group_loss_conns_affected_total",
			Help:      "Total connections pushed to OFFLINE by group-loss cascades, per group.",
		}, groupLabels),
	}
}

// -------------------------------------------------------------------------
// soad.MetricsReporter implementation
// -------------------------------------------------------------------------

// ConnStateChanged sets conn's gauge to 1 for its new state and 0 for the
// other two known states.
func (c *Collector) ConnStateChanged(conn soad.SoConID, group soad.SoGrpID, state soad.State) {
	g := strconv.Itoa(int(group))
	cn := strconv.Itoa(int(conn))

	for _, s := range []soad.State{soad.StateOffline, soad.StateReconnect, soad.StateOnline} {
		value := 0.0
		if s == state {
			value = 1.0
		}
		c.ConnState.WithLabelValues(g, cn, s.String()).Set(value)
	}
}

// TxSessionCompleted increments the completed-session counter for pdu and
// result.
func (c *Collector) TxSessionCompleted(pdu soad.PduID, result soad.Result) {
	c.TxSessions.WithLabelValues(strconv.FormatUint(uint64(pdu), 10), resultLabel(result)).Inc()
}

// RxDelivered adds bytes to conn's delivered-bytes counter.
func (c *Collector) RxDelivered(conn soad.SoConID, bytes int) {
	c.RxBytes.WithLabelValues(strconv.Itoa(int(conn))).Add(float64(bytes))
}

// GroupLost increments group's loss counter and adds connsAffected to its
// affected-connections counter.
func (c *Collector) GroupLost(group soad.SoGrpID, connsAffected int) {
	g := strconv.Itoa(int(group))
	c.GroupLosses.WithLabelValues(g).Inc()
	c.GroupLossConnsAffected.WithLabelValues(g).Add(float64(connsAffected))
}

func resultLabel(result soad.Result) string {
	return result.String()
}
