package soad

import "github.com/soad-project/soad/internal/soaddr"

// grpStatus is the mutable runtime status of one connection group: the
// "master" socket shared by a listening TCP group or a shared UDP group.
type grpStatus struct {
	socket SocketID
}

func (s *grpStatus) reset() {
	s.socket = InvalidSocketID
}

// conStatus is the mutable runtime status of one connection.
type conStatus struct {
	socket SocketID // invalid when the group owns the socket, or not yet opened
	remote soaddr.SockAddr
	state  State

	requestOpen  bool
	requestClose bool
	requestAbort bool

	rxRoute    int // index into Registry.socketRoutes, -1 if none bound
	rxRoutePdu PduID

	txRoute      int // index into Registry.pduRoutes, -1 if none armed
	txRemain     uint32
	txAvailable  uint32
	txOutboundHd HeaderID

	// saved* hold the pre-promotion remote/state for rx revert (§4.5).
	savedRemote soaddr.SockAddr
	savedState  State
	promoted    bool
}

func (s *conStatus) reset(cfg SoConConfig) {
	s.socket = InvalidSocketID
	s.remote = soaddr.Copy(cfg.RemoteAddr)
	s.state = StateOffline
	s.requestOpen = false
	s.requestClose = false
	s.requestAbort = false
	s.rxRoute = -1
	s.rxRoutePdu = 0
	s.txRoute = -1
	s.txRemain = 0
	s.txAvailable = 0
	s.txOutboundHd = 0
	s.promoted = false
}

// hasOwnSocket reports whether this connection holds a private socket
// distinct from its group's shared/listening socket.
func (s *conStatus) hasOwnSocket() bool {
	return s.socket != InvalidSocketID
}
