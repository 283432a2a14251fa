package soad

import "github.com/soad-project/soad/internal/soaddr"

// enterOffline applies OFFLINE's entry effect: invalidate the connection's
// own socket id, and if an rx route is bound, signal the sink with success
// and detach it. OFFLINE is the quiescent state.
func (a *Adaptor) enterOffline(id SoConID) {
	cs := &a.conns[id]
	cs.socket = InvalidSocketID
	if cs.rxRoute >= 0 {
		route := a.reg.SocketRoute(cs.rxRoute)
		route.Sink.RxIndication(cs.rxRoutePdu, ResultOK)
		cs.rxRoute = -1
	}
	cs.state = StateOffline
	a.metrics.ConnStateChanged(id, a.reg.Conn(id).Group, StateOffline)
}

// enterReconnect applies RECONNECT's entry effect, which is none: the
// state means resources are being acquired or a peer handshake is
// pending.
func (a *Adaptor) enterReconnect(id SoConID) {
	cs := &a.conns[id]
	cs.state = StateReconnect
	a.metrics.ConnStateChanged(id, a.reg.Conn(id).Group, StateReconnect)
}

// enterOnline applies ONLINE's entry effect: if a default socket route
// resolves, solicit a buffer-length hint from the sink via
// StartOfReception and, on success, bind the route to the connection.
func (a *Adaptor) enterOnline(id SoConID) {
	cs := &a.conns[id]
	cs.state = StateOnline

	if route, idx, ok := a.reg.resolveSocketRoute(id); ok {
		_, result := route.Sink.StartOfReception(route.PDU, PduInfo{}, 0)
		if result == ResultOK {
			cs.rxRoute = idx
			cs.rxRoutePdu = route.PDU
		}
	}

	a.metrics.ConnStateChanged(id, a.reg.Conn(id).Group, StateOnline)
}

// channelCount returns the number of configured connections belonging to
// group, used as the TCP listen backlog (the specification's "maximum
// connection count").
func (a *Adaptor) channelCount(group SoGrpID) int {
	n := 0
	for i := range a.conns {
		if a.reg.Conn(SoConID(i)).Group == group {
			n++
		}
	}
	return n
}

// checkOpen evaluates whether connection id is eligible to open: no
// socket yet held by the connection itself, either the group is automatic
// or the request_open latch is set, and the effective remote has a known
// family.
func (a *Adaptor) checkOpen(id SoConID) bool {
	cfg := a.reg.Conn(id)
	grp := a.reg.Group(cfg.Group)
	cs := &a.conns[id]

	if cs.socket != InvalidSocketID {
		return false
	}
	if !(grp.Automatic || cs.requestOpen) {
		return false
	}
	return cs.remote.Family != soaddr.FamilyUnspecified
}

// performOpen acquires and prepares the socket for connection id, per
// §4.4: the socket location (connection-private vs group-shared) depends
// on the group's initiate flag alone, for TCP and UDP alike. Any failure closes and invalidates
// whatever was acquired so the next tick retries from scratch.
func (a *Adaptor) performOpen(id SoConID) bool {
	cfg := a.reg.Conn(id)
	grp := a.reg.Group(cfg.Group)
	cs := &a.conns[id]

	useGroupSocket := !grp.Initiate

	var socket *SocketID
	if useGroupSocket {
		socket = &a.grps[cfg.Group].socket
	} else {
		socket = &cs.socket
	}

	if *socket != InvalidSocketID {
		return true
	}

	newSocket, err := a.transport.GetSocket(grp.LocalAddr.Family, grp.Protocol)
	if err != nil {
		return false
	}
	if err := a.transport.Bind(newSocket, grp.LocalAddr); err != nil {
		a.transport.Close(newSocket, true)
		return false
	}

	if grp.Protocol == ProtocolTCP {
		if grp.Initiate {
			if err := a.transport.Connect(newSocket, cs.remote); err != nil {
				a.transport.Close(newSocket, true)
				return false
			}
		} else {
			if err := a.transport.Listen(newSocket, a.channelCount(cfg.Group)); err != nil {
				a.transport.Close(newSocket, true)
				return false
			}
		}
	}

	*socket = newSocket
	return true
}

// honorClose implements the request_close handling shared by RECONNECT
// and ONLINE: if the latch is set and the connection holds a private
// socket, close it (abort per request_abort) and return to OFFLINE. The
// latches are always cleared, even if no private socket was held.
func (a *Adaptor) honorClose(id SoConID) bool {
	cs := &a.conns[id]
	if !cs.requestClose {
		return false
	}

	closed := false
	if cs.socket != InvalidSocketID {
		a.transport.Close(cs.socket, cs.requestAbort)
		cs.socket = InvalidSocketID
		closed = true
	}
	cs.requestClose = false
	cs.requestAbort = false

	if closed {
		a.enterOffline(id)
	}
	return closed
}

// tick advances connection id by one step of the periodic driver,
// dispatching on its current state.
func (a *Adaptor) tick(id SoConID) {
	cs := &a.conns[id]
	switch cs.state {
	case StateOffline:
		a.tickOffline(id)
	case StateReconnect:
		a.tickReconnect(id)
	case StateOnline:
		a.tickOnline(id)
	}
}

func (a *Adaptor) tickOffline(id SoConID) {
	if !a.checkOpen(id) {
		return
	}
	a.conns[id].requestOpen = false

	if !a.performOpen(id) {
		return
	}

	grp := a.reg.Group(a.reg.Conn(id).Group)
	cs := &a.conns[id]
	if grp.Protocol == ProtocolUDP && !soaddr.IsWildcard(cs.remote) {
		a.enterOnline(id)
		return
	}
	a.enterReconnect(id)
}

func (a *Adaptor) tickReconnect(id SoConID) {
	a.honorClose(id)
}

func (a *Adaptor) tickOnline(id SoConID) {
	if a.honorClose(id) {
		return
	}
	a.pumpTick(id)
}
