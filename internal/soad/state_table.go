package soad

// This file classifies the out-of-band transport events named in §4.4 as a
// pure function over a lookup table, rather than a chain of if/else at the
// call site. It decides nothing state-dependent -- IPEvent alone fully
// determines the action -- so unlike the connection state machine itself
// (state.go), which needs live adaptor state, this stays a pure table
// lookup and is trivially testable in isolation.

// ipAction is the side-effect TcpIPEvent must perform for a given event,
// decoupled from any particular connection or group so it can be looked
// up before any state is touched.
type ipAction uint8

const (
	// ipActionUnknown marks an event with no table entry; the caller
	// reports a development error and performs no state change.
	ipActionUnknown ipAction = iota

	// ipActionPoliteClose requests a non-abort close of the socket named
	// in the event, with no further state-machine transition.
	ipActionPoliteClose

	// ipActionSocketLoss reconciles bookkeeping for a socket the
	// transport has already torn down, cascading to group children
	// without a private socket when the lost socket was shared.
	ipActionSocketLoss
)

// ipEventTable maps each recognized IPEvent to the action TcpIPEvent must
// take. Unlisted events resolve to ipActionUnknown via the zero value of
// a missing map lookup.
var ipEventTable = map[IPEvent]ipAction{
	EventTCPFinReceived: ipActionPoliteClose,
	EventTCPReset:       ipActionSocketLoss,
	EventTCPClosed:      ipActionSocketLoss,
	EventUDPClosed:      ipActionSocketLoss,
}

// classifyIPEvent looks up the action for event. The bool result is false
// for an event with no table entry.
func classifyIPEvent(event IPEvent) (ipAction, bool) {
	action, ok := ipEventTable[event]
	return action, ok
}
