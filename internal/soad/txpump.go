package soad

// socketFor returns the transport socket currently usable for connection
// id's outbound traffic: its own private socket if it holds one, else its
// group's shared socket.
func (a *Adaptor) socketFor(id SoConID) SocketID {
	cs := &a.conns[id]
	if cs.socket != InvalidSocketID {
		return cs.socket
	}
	return a.grps[a.reg.Conn(id).Group].socket
}

// IfTransmit is the unsegmented, one-shot send entry point: the target
// connection must already be ONLINE, and the PDU is handed straight to
// the transport with no session retained afterward.
func (a *Adaptor) IfTransmit(pdu PduID, info PduInfo) Result {
	if !a.initialized() {
		a.reportDevError("IfTransmit", DevErrorNotInitialized)
		return ResultNotOK
	}
	unlock := a.lockReentrancy("IfTransmit")
	defer unlock()

	route, _, ok := a.reg.getPduRoute(pdu)
	if !ok {
		a.reportDevError("IfTransmit", DevErrorInvalidPduID)
		return ResultNotOK
	}

	cs := &a.conns[route.TargetConn]
	if cs.state != StateOnline {
		return ResultNotOK
	}

	socket := a.socketFor(route.TargetConn)
	if socket == InvalidSocketID {
		return ResultNotOK
	}

	grp := a.reg.Group(a.reg.Conn(route.TargetConn).Group)

	var err error
	if grp.Protocol == ProtocolUDP {
		err = a.transport.UDPTransmit(socket, info.Data, cs.remote)
	} else {
		err = a.transport.TCPTransmit(socket, info.Data, true)
	}
	if err != nil {
		return ResultNotOK
	}
	return ResultOK
}

// TpTransmit arms a segmented session: the route is bound to the target
// connection's tx_route, and the per-tick pump advances it from here on.
// Returns ResultNotOK without arming if a session is already in flight on
// this connection.
func (a *Adaptor) TpTransmit(pdu PduID, info PduInfo) Result {
	if !a.initialized() {
		a.reportDevError("TpTransmit", DevErrorNotInitialized)
		return ResultNotOK
	}
	unlock := a.lockReentrancy("TpTransmit")
	defer unlock()

	route, idx, ok := a.reg.getPduRoute(pdu)
	if !ok {
		a.reportDevError("TpTransmit", DevErrorInvalidPduID)
		return ResultNotOK
	}

	cs := &a.conns[route.TargetConn]
	if cs.txRoute >= 0 {
		return ResultNotOK
	}

	cs.txRoute = idx
	cs.txRemain = info.Length
	cs.txAvailable = 0
	cs.txOutboundHd = route.OutboundHeader
	return ResultOK
}

// CopyTxData resolves socket to its connection and asks the bound route's
// upper source to fill buf, accounting the bytes against tx_remain on
// success.
func (a *Adaptor) CopyTxData(socket SocketID, buf []byte) (uint32, Result) {
	if !a.initialized() {
		a.reportDevError("CopyTxData", DevErrorNotInitialized)
		return 0, ResultNotOK
	}

	conn, ok := a.findConnBySocket(socket)
	if !ok {
		if group, ok := a.findGroupBySocket(socket); ok {
			if c, ok := a.connUsingGroupSocketWithTxRoute(group); ok {
				conn = c
			} else {
				a.reportDevError("CopyTxData", DevErrorInvalidArgument)
				return 0, ResultNotOK
			}
		} else {
			a.reportDevError("CopyTxData", DevErrorInvalidArgument)
			return 0, ResultNotOK
		}
	}

	cs := &a.conns[conn]
	if cs.txRoute < 0 {
		return 0, ResultNotOK
	}
	route := a.reg.PduRoute(cs.txRoute)

	available, result := route.Source.CopyTxData(route.PDU, PduInfo{Length: cs.txRemain}, buf)
	if result == ResultOK {
		cs.txRemain -= uint32(len(buf))
	}
	return available, result
}

// connUsingGroupSocketWithTxRoute finds the (at most one, per the
// single-outstanding-session invariant) connection in group sharing the
// group's socket that currently has an armed tx_route.
func (a *Adaptor) connUsingGroupSocketWithTxRoute(group SoGrpID) (SoConID, bool) {
	for i := range a.conns {
		if a.reg.Conn(SoConID(i)).Group != group {
			continue
		}
		if a.conns[i].hasOwnSocket() {
			continue
		}
		if a.conns[i].txRoute >= 0 {
			return SoConID(i), true
		}
	}
	return 0, false
}

// pumpTick advances connection id's tx session by one tick, per §4.6: if
// no bytes are currently available, probe the source; if the source has
// data, transmit it; end the session when tx_remain reaches zero or the
// transport call fails.
func (a *Adaptor) pumpTick(id SoConID) {
	cs := &a.conns[id]
	if cs.txRoute < 0 {
		return
	}
	route := a.reg.PduRoute(cs.txRoute)

	if cs.txAvailable == 0 {
		available, result := route.Source.CopyTxData(route.PDU, PduInfo{Length: cs.txRemain}, nil)
		switch result {
		case ResultOK:
			cs.txAvailable = available
		case ResultBusy:
			return
		default:
			a.endTxSession(id, ResultNotOK)
			return
		}
	}

	if cs.txAvailable == 0 {
		return
	}

	socket := a.socketFor(id)
	grp := a.reg.Group(a.reg.Conn(id).Group)

	buf := make([]byte, cs.txAvailable)
	if _, result := a.CopyTxData(socket, buf); result != ResultOK {
		a.endTxSession(id, ResultNotOK)
		return
	}

	var err error
	if grp.Protocol == ProtocolUDP {
		err = a.transport.UDPTransmit(socket, buf, cs.remote)
	} else {
		err = a.transport.TCPTransmit(socket, buf, false)
	}

	if err != nil {
		a.endTxSession(id, ResultNotOK)
		return
	}

	cs.txAvailable = 0
	if cs.txRemain == 0 {
		a.endTxSession(id, ResultOK)
	}
}

// endTxSession clears the armed session and reports completion to the
// upper source exactly once, whether the session ran to completion or
// failed.
func (a *Adaptor) endTxSession(id SoConID, result Result) {
	cs := &a.conns[id]
	route := a.reg.PduRoute(cs.txRoute)

	cs.txRoute = -1
	cs.txRemain = 0
	cs.txAvailable = 0

	route.Source.TxConfirmation(route.PDU, result)
	a.metrics.TxSessionCompleted(route.PDU, result)
}

// TxConfirmation is the downstream transport-callback entry point for
// immediate-confirmation transports. The current transmit pump always
// derives completion from CopyTxData and the transmit call's own result,
// so this is a no-op reserved for a transport variant that confirms
// writes asynchronously.
func (a *Adaptor) TxConfirmation(socket SocketID, length uint32) {
	_ = socket
	_ = length
}
