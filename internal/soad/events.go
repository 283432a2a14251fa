package soad

import "github.com/soad-project/soad/internal/soaddr"

// TcpAccepted handles an inbound TCP accept: the transport hands off a new
// socket on a listening group socket. If the group is passive and a free
// slot matches the observed remote under wildcard semantics, the slot is
// promoted to ONLINE with the new socket and a refined remote. Otherwise
// the accept is declined and newSocket is released.
func (a *Adaptor) TcpAccepted(listenSocket, newSocket SocketID, remote soaddr.SockAddr) Result {
	if !a.initialized() {
		a.reportDevError("TcpAccepted", DevErrorNotInitialized)
		return ResultNotOK
	}
	unlock := a.lockReentrancy("TcpAccepted")
	defer unlock()

	group, ok := a.findGroupBySocket(listenSocket)
	if !ok {
		a.reportDevError("TcpAccepted", DevErrorInvalidArgument)
		return ResultNotOK
	}

	grpCfg := a.reg.Group(group)
	if grpCfg.Initiate {
		a.transport.Close(newSocket, true)
		return ResultNotOK
	}

	conn, ok := a.findFreeSlot(group, remote)
	if !ok {
		a.transport.Close(newSocket, true)
		return ResultNotOK
	}

	cs := &a.conns[conn]
	cs.socket = newSocket
	cs.remote = soaddr.Copy(remote)
	a.enterOnline(conn)

	return ResultOK
}

// TcpConnected handles the active-connect completion for a connection
// whose group initiates its own TCP session.
func (a *Adaptor) TcpConnected(socket SocketID) {
	if !a.initialized() {
		a.reportDevError("TcpConnected", DevErrorNotInitialized)
		return
	}
	unlock := a.lockReentrancy("TcpConnected")
	defer unlock()

	conn, ok := a.findConnBySocket(socket)
	if !ok {
		a.reportDevError("TcpConnected", DevErrorInvalidArgument)
		return
	}

	cfg := a.reg.Conn(conn)
	grp := a.reg.Group(cfg.Group)
	if grp.Initiate && grp.Protocol == ProtocolTCP && a.conns[conn].state != StateOnline {
		a.enterOnline(conn)
	}
}

// TcpIPEvent handles an out-of-band transport event: FIN (request a
// polite close), or RESET/CLOSED/UDP-CLOSED (the socket is already gone;
// reconcile bookkeeping, cascading to every child without a private
// socket when the lost socket was a group's shared/listening socket).
func (a *Adaptor) TcpIPEvent(socket SocketID, event IPEvent) {
	if !a.initialized() {
		a.reportDevError("TcpIPEvent", DevErrorNotInitialized)
		return
	}
	unlock := a.lockReentrancy("TcpIPEvent")
	defer unlock()

	action, ok := classifyIPEvent(event)
	if !ok {
		a.reportDevError("TcpIPEvent", DevErrorInvalidArgument)
		return
	}

	switch action {
	case ipActionPoliteClose:
		a.transport.Close(socket, false)
	case ipActionSocketLoss:
		a.handleSocketLoss(socket)
	}
}

// handleSocketLoss implements the group-loss cascade: the group whose
// socket was lost, not an uninitialized index, keys the cascade.
func (a *Adaptor) handleSocketLoss(socket SocketID) {
	if group, ok := a.findGroupBySocket(socket); ok {
		a.grps[group].socket = InvalidSocketID

		affected := 0
		for i := range a.conns {
			if a.reg.Conn(SoConID(i)).Group != group {
				continue
			}
			if a.conns[i].hasOwnSocket() {
				continue
			}
			a.enterOffline(SoConID(i))
			affected++
		}
		a.metrics.GroupLost(group, affected)
		return
	}

	if conn, ok := a.findConnBySocket(socket); ok {
		a.enterOffline(conn)
		return
	}

	a.reportDevError("TcpIPEvent", DevErrorInvalidArgument)
}

// RequestOpen arms the open-request latch for connection id, honored on
// the connection's next OFFLINE tick.
func (a *Adaptor) RequestOpen(id SoConID) error {
	if !a.initialized() {
		a.reportDevError("RequestOpen", DevErrorNotInitialized)
		return ErrNotInitialized
	}
	if !a.validConn(id) {
		a.reportDevError("RequestOpen", DevErrorInvalidSoConID)
		return ErrInvalidSoConID
	}
	a.conns[id].requestOpen = true
	return nil
}

// RequestClose arms the close-request latch for connection id, honored on
// the connection's next RECONNECT or ONLINE tick. abort requests an
// immediate, non-graceful teardown.
func (a *Adaptor) RequestClose(id SoConID, abort bool) error {
	if !a.initialized() {
		a.reportDevError("RequestClose", DevErrorNotInitialized)
		return ErrNotInitialized
	}
	if !a.validConn(id) {
		a.reportDevError("RequestClose", DevErrorInvalidSoConID)
		return ErrInvalidSoConID
	}
	a.conns[id].requestClose = true
	a.conns[id].requestAbort = abort
	return nil
}
