package soad

import "github.com/soad-project/soad/internal/soaddr"

// RxIndication resolves an inbound datagram or stream segment to a
// connection, optionally promoting a wildcard-remote free slot, and
// delivers the payload to the bound rx route via the probe-then-copy
// pattern. Returns ResultNotOK if no connection can be identified or if the
// sink rejects the probe or the delivery. With no rx route bound, the
// payload is dropped and the result is ResultOK.
func (a *Adaptor) RxIndication(socket SocketID, remote soaddr.SockAddr, buf []byte) Result {
	if !a.initialized() {
		a.reportDevError("RxIndication", DevErrorNotInitialized)
		return ResultNotOK
	}
	unlock := a.lockReentrancy("RxIndication")
	defer unlock()

	conn, ok := a.resolveRxConn(socket, remote)
	if !ok {
		a.reportDevError("RxIndication", DevErrorInvalidArgument)
		return ResultNotOK
	}

	promoted := a.tryPromote(conn, remote)

	result := a.deliver(conn, buf)
	if result != ResultOK && promoted {
		a.revertPromotion(conn)
	}
	if result == ResultOK {
		a.metrics.RxDelivered(conn, len(buf))
	}
	return result
}

// resolveRxConn implements the first step of §4.5: resolve socket
// directly to a connection, or to a group and then a free slot within it.
func (a *Adaptor) resolveRxConn(socket SocketID, remote soaddr.SockAddr) (SoConID, bool) {
	if conn, ok := a.findConnBySocket(socket); ok {
		return conn, true
	}
	if group, ok := a.findGroupBySocket(socket); ok {
		return a.findFreeSlot(group, remote)
	}
	return 0, false
}

// tryPromote implements remote promotion: a non-ONLINE connection on a
// non-listen-only UDP group with a currently-wildcard remote adopts the
// observed remote and enters ONLINE, binding its rx route in the process.
// Returns whether a promotion occurred, so the caller knows whether to
// revert on delivery failure.
func (a *Adaptor) tryPromote(id SoConID, remote soaddr.SockAddr) bool {
	cs := &a.conns[id]
	if cs.state == StateOnline {
		return false
	}

	grp := a.reg.Group(a.reg.Conn(id).Group)
	if grp.Protocol != ProtocolUDP || grp.ListenOnly {
		return false
	}
	if !soaddr.IsWildcard(cs.remote) {
		return false
	}

	cs.savedRemote = cs.remote
	cs.savedState = cs.state
	cs.remote = soaddr.Copy(remote)
	cs.promoted = true

	a.enterOnline(id)
	return true
}

// revertPromotion undoes tryPromote after a failed delivery: the
// connection returns to its pre-promotion remote and state.
func (a *Adaptor) revertPromotion(id SoConID) {
	cs := &a.conns[id]
	if !cs.promoted {
		return
	}
	cs.remote = cs.savedRemote
	cs.state = cs.savedState
	cs.promoted = false

	if cs.rxRoute >= 0 {
		route := a.reg.SocketRoute(cs.rxRoute)
		route.Sink.RxIndication(cs.rxRoutePdu, ResultNotOK)
		cs.rxRoute = -1
	}
	a.metrics.ConnStateChanged(id, a.reg.Conn(id).Group, cs.state)
}

// deliver implements the probe-then-copy pattern: a null-buffer probe
// learns the sink's available capacity, then the real payload is copied
// only if capacity suffices.
func (a *Adaptor) deliver(id SoConID, buf []byte) Result {
	cs := &a.conns[id]
	if cs.rxRoute < 0 {
		return ResultOK
	}
	route := a.reg.SocketRoute(cs.rxRoute)

	available, result := route.Sink.CopyRxData(route.PDU, PduInfo{})
	if result != ResultOK {
		return ResultNotOK
	}
	if available < uint32(len(buf)) {
		return ResultNotOK
	}

	_, result = route.Sink.CopyRxData(route.PDU, PduInfo{Data: buf})
	if result != ResultOK {
		return ResultNotOK
	}
	return ResultOK
}
