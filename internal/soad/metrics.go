package soad

// MetricsReporter receives lifecycle counters from the adaptor. It is
// invoked synchronously, in whichever context triggered the transition, so
// implementations must not block. A nil MetricsReporter is never passed
// to internal code; New installs noopMetrics when WithMetrics is omitted.
type MetricsReporter interface {
	// ConnStateChanged reports a connection's new state after a
	// transition (including the initial entry into OFFLINE from Init).
	ConnStateChanged(conn SoConID, group SoGrpID, state State)

	// TxSessionCompleted reports the end of a tp_transmit session,
	// successful or not. if_transmit sends retain no session and are not
	// reported here.
	TxSessionCompleted(pdu PduID, result Result)

	// RxDelivered reports one successful inbound delivery to an upper
	// sink, in bytes.
	RxDelivered(conn SoConID, bytes int)

	// GroupLost reports a group-loss cascade (§4.4 TCP_RESET/TCP_CLOSED/
	// UDP_CLOSED on a group's master socket).
	GroupLost(group SoGrpID, connsAffected int)
}

type noopMetrics struct{}

func (noopMetrics) ConnStateChanged(SoConID, SoGrpID, State) {}
func (noopMetrics) TxSessionCompleted(PduID, Result)         {}
func (noopMetrics) RxDelivered(SoConID, int)                 {}
func (noopMetrics) GroupLost(SoGrpID, int)                   {}
