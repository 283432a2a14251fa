package soad

import "github.com/soad-project/soad/internal/soaddr"

// findConnBySocket performs the connection-table lookup by transport
// socket id: a linear scan, since the table is small and accessed from a
// single cooperative context.
func (a *Adaptor) findConnBySocket(socket SocketID) (SoConID, bool) {
	for i := range a.conns {
		if a.conns[i].socket == socket {
			return SoConID(i), true
		}
	}
	return 0, false
}

// findGroupBySocket performs the group-table lookup by transport socket
// id.
func (a *Adaptor) findGroupBySocket(socket SocketID) (SoGrpID, bool) {
	for i := range a.grps {
		if a.grps[i].socket == socket {
			return SoGrpID(i), true
		}
	}
	return 0, false
}

// findFreeSlot implements the free-slot match: given a group and an
// observed remote, find a connection in that group that holds no private
// socket, is already armed (state != OFFLINE), and whose configured
// remote wildcard-matches the observed one. Iteration is in ascending
// connection-index order so the result is stable and the lowest index
// always wins, per the specification's testability requirement.
func (a *Adaptor) findFreeSlot(group SoGrpID, observed soaddr.SockAddr) (SoConID, bool) {
	for i := range a.conns {
		if a.reg.Conn(SoConID(i)).Group != group {
			continue
		}
		cs := &a.conns[i]
		if cs.hasOwnSocket() {
			continue
		}
		if cs.state == StateOffline {
			continue
		}
		if soaddr.WildcardMatch(cs.remote, observed) {
			return SoConID(i), true
		}
	}
	return 0, false
}
