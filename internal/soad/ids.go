package soad

// SoConID identifies a connection (SoCon) by its index into the registry's
// connection table. Ids are assigned at configuration time and never
// change; the zero value is a valid id (connection 0), so callers use the
// bool-returning lookups rather than comparing against a sentinel.
type SoConID int

// SoGrpID identifies a connection group (SoGrp) by its index into the
// registry's group table.
type SoGrpID int

// PduID identifies a Protocol Data Unit. It is opaque to this package --
// only equality and (for PDU routes) ordering matter.
type PduID uint32

// HeaderID identifies an outbound or inbound PDU header id, carried in the
// route tables; the Transport calls take no header. Zero means "no header".
type HeaderID uint32

// SocketID identifies a transport socket, as handed out by Transport.
// InvalidSocketID means "no socket held".
type SocketID int64

// InvalidSocketID is the sentinel stored wherever spec.md calls for "the
// invalid sentinel": a group or connection holding InvalidSocketID holds no
// transport socket.
const InvalidSocketID SocketID = -1

// Protocol is the transport-layer protocol a connection group runs over.
type Protocol uint8

const (
	// ProtocolTCP is a stream connection group (listening or connecting).
	ProtocolTCP Protocol = iota + 1

	// ProtocolUDP is a datagram connection group (shared socket).
	ProtocolUDP
)

// String returns the human-readable protocol name.
func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "TCP"
	case ProtocolUDP:
		return "UDP"
	default:
		return "Unknown"
	}
}

// State is a SoCon's position in the connection state machine.
type State uint8

const (
	// StateOffline is the quiescent state: no socket, no route.
	StateOffline State = iota + 1

	// StateReconnect means resources are being acquired: listen pending,
	// TCP connect pending, or a UDP socket waiting for its first datagram.
	StateReconnect

	// StateOnline means PDUs may be exchanged.
	StateOnline
)

// String returns the human-readable state name.
func (s State) String() string {
	switch s {
	case StateOffline:
		return "OFFLINE"
	case StateReconnect:
		return "RECONNECT"
	case StateOnline:
		return "ONLINE"
	default:
		return "Unknown"
	}
}
