package soad

import "github.com/soad-project/soad/internal/soaddr"

// Result is the status code returned across every upper-sink and transport
// boundary in place of a dedicated ok/not_ok/busy enum per call site.
type Result uint8

const (
	// ResultOK indicates success.
	ResultOK Result = iota

	// ResultNotOK indicates failure; the caller performs no further state
	// change and the effect is purely local to the operation.
	ResultNotOK

	// ResultBusy indicates the upper source has no data available yet;
	// distinct from ResultNotOK because the transmit pump retries on the
	// next tick rather than failing the session.
	ResultBusy
)

// String returns the human-readable result name.
func (r Result) String() string {
	switch r {
	case ResultOK:
		return "OK"
	case ResultNotOK:
		return "NOT_OK"
	case ResultBusy:
		return "BUSY"
	default:
		return "UNKNOWN"
	}
}

// IPEvent is a transport-level event delivered out of band from normal
// rx traffic, translated by the event dispatcher into state-machine input.
type IPEvent uint8

const (
	// EventTCPFinReceived requests a polite (non-abort) close.
	EventTCPFinReceived IPEvent = iota + 1

	// EventTCPReset indicates the peer reset the connection.
	EventTCPReset

	// EventTCPClosed indicates the local stack tore the socket down.
	EventTCPClosed

	// EventUDPClosed indicates a UDP socket was torn down by the
	// transport (e.g. an ICMP port-unreachable storm or interface loss).
	EventUDPClosed
)

// PduInfo is the payload descriptor passed across the sink/source
// boundary alongside a PduID.
//
// For if_transmit and inbound delivery, Data carries the payload directly
// and the adaptor forwards it verbatim. For tp_transmit, Data is typically
// empty at arm time and Length carries the total PDU size the segmented
// session must move; the pump pulls the actual bytes from the source a
// segment at a time via CopyTxData rather than holding them all at once.
type PduInfo struct {
	Data   []byte
	Length uint32
}

// RxSink is the capability set a socket route binds to: the upper-layer
// receiver for one connection's inbound PDU stream. Calls arrive in the
// transport-callback context.
type RxSink interface {
	// StartOfReception is invoked once a connection enters ONLINE and a
	// default socket route resolves. info is empty and totalLen is zero;
	// the call exists solely to let the sink advertise how many bytes it
	// can currently accept via advertisedLen. A ResultNotOK return means
	// no rx route is bound to the connection.
	StartOfReception(pdu PduID, info PduInfo, totalLen uint32) (advertisedLen uint32, result Result)

	// CopyRxData is called twice per delivery: first as a probe with a
	// nil buffer and zero length to learn availableLen, then, if
	// availableLen is sufficient, with the real payload. Preserve this
	// probe-then-copy shape; it is part of the upstream contract.
	CopyRxData(pdu PduID, info PduInfo) (availableLen uint32, result Result)

	// RxIndication notifies the sink that reception ended, successfully
	// or not. Called with ResultOK when a connection drops to OFFLINE with
	// a route still bound, and with ResultNotOK when a failed delivery
	// reverts an rx promotion; it is not called per completed delivery.
	RxIndication(pdu PduID, result Result)
}

// TxSource is the capability set a PDU route binds to: the upper-layer
// supplier for one outbound PDU.
type TxSource interface {
	// CopyTxData asks the source to fill up to len(buf) bytes. A nil buf
	// is a probe for availableLen only, used by the pump to learn how
	// much is ready before committing a transport call.
	CopyTxData(pdu PduID, info PduInfo, buf []byte) (availableLen uint32, result Result)

	// TxConfirmation ends a transmission, successfully or not. Called
	// exactly once per tx_route armed by tp_transmit, when its segmented
	// pump finishes or fails; if_transmit retains no session and does not
	// call it.
	TxConfirmation(pdu PduID, result Result)
}

// Transport is the downward-facing collaborator: socket lifecycle and
// wire transmission. The adaptor never retains transport sockets beyond
// the SocketID handle; Transport owns all real OS resources.
type Transport interface {
	// GetSocket acquires a new socket for the given family and protocol,
	// returning a handle to be used in subsequent calls.
	GetSocket(family soaddr.Family, proto Protocol) (SocketID, error)

	// Bind binds socket to the given local endpoint.
	Bind(socket SocketID, local soaddr.SockAddr) error

	// Listen marks socket as a passive TCP listener with the given
	// backlog.
	Listen(socket SocketID, backlog int) error

	// Connect issues an active TCP connect toward remote. Completion is
	// signaled asynchronously via TcpConnected.
	Connect(socket SocketID, remote soaddr.SockAddr) error

	// Close releases socket. abort requests an immediate (non-graceful)
	// teardown; otherwise the transport may perform an orderly close.
	Close(socket SocketID, abort bool) error

	// UDPTransmit sends len(data) bytes from socket to remote.
	UDPTransmit(socket SocketID, data []byte, remote soaddr.SockAddr) error

	// TCPTransmit sends len(data) bytes on socket's stream. force=true
	// requests immediate transmission (if_transmit); force=false permits
	// the transport to coalesce with subsequent segments (tp_transmit
	// pump).
	TCPTransmit(socket SocketID, data []byte, force bool) error
}
