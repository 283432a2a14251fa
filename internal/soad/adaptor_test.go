package soad_test

import (
	"net/netip"
	"sync/atomic"
	"testing"

	"github.com/soad-project/soad/internal/soad"
	"github.com/soad-project/soad/internal/soaddr"
)

func remoteINET(ip string, port uint16) soaddr.SockAddr {
	return soaddr.SockAddr{Family: soaddr.FamilyINET, Addr: netip.MustParseAddr(ip), Port: port}
}

// fakeTransport is an in-memory double for soad.Transport: it hands out
// sequential socket ids and records every call it observes, so tests can
// assert on the adaptor's behavior without a real network stack.
type fakeTransport struct {
	nextID  int64
	closed  map[soad.SocketID]bool
	tx      []txCall
	failGet bool
	failBnd bool
	failLst bool
	failCon bool
}

type txCall struct {
	socket soad.SocketID
	data   []byte
	remote soaddr.SockAddr
	force  bool
	udp    bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{closed: make(map[soad.SocketID]bool)}
}

func (f *fakeTransport) GetSocket(soaddr.Family, soad.Protocol) (soad.SocketID, error) {
	if f.failGet {
		return soad.InvalidSocketID, errTransport
	}
	f.nextID++
	return soad.SocketID(f.nextID), nil
}

func (f *fakeTransport) Bind(soad.SocketID, soaddr.SockAddr) error {
	if f.failBnd {
		return errTransport
	}
	return nil
}

func (f *fakeTransport) Listen(soad.SocketID, int) error {
	if f.failLst {
		return errTransport
	}
	return nil
}

func (f *fakeTransport) Connect(soad.SocketID, soaddr.SockAddr) error {
	if f.failCon {
		return errTransport
	}
	return nil
}

func (f *fakeTransport) Close(socket soad.SocketID, _ bool) error {
	f.closed[socket] = true
	return nil
}

func (f *fakeTransport) UDPTransmit(socket soad.SocketID, data []byte, remote soaddr.SockAddr) error {
	f.tx = append(f.tx, txCall{socket: socket, data: append([]byte(nil), data...), remote: remote, udp: true})
	return nil
}

func (f *fakeTransport) TCPTransmit(socket soad.SocketID, data []byte, force bool) error {
	f.tx = append(f.tx, txCall{socket: socket, data: append([]byte(nil), data...), force: force})
	return nil
}

var errTransport = errTransportType{}

type errTransportType struct{}

func (errTransportType) Error() string { return "fake transport failure" }

// recordingSink counts calls and can be configured to reject.
type recordingSink struct {
	startCalls int32
	copyCalls  int32
	rxResults  []soad.Result
	available  uint32
	rejectCopy bool
	lastData   []byte
}

func (s *recordingSink) StartOfReception(soad.PduID, soad.PduInfo, uint32) (uint32, soad.Result) {
	atomic.AddInt32(&s.startCalls, 1)
	return s.available, soad.ResultOK
}

func (s *recordingSink) CopyRxData(pdu soad.PduID, info soad.PduInfo) (uint32, soad.Result) {
	atomic.AddInt32(&s.copyCalls, 1)
	if s.rejectCopy {
		return 0, soad.ResultNotOK
	}
	if info.Data != nil {
		s.lastData = append([]byte(nil), info.Data...)
		return 0, soad.ResultOK
	}
	return s.available, soad.ResultOK
}

func (s *recordingSink) RxIndication(_ soad.PduID, result soad.Result) {
	s.rxResults = append(s.rxResults, result)
}

// recordingSource answers CopyTxData from a pre-loaded byte slice.
type recordingSource struct {
	payload    []byte
	confirmed  []soad.Result
	busyOnce   bool
	busyServed bool
}

func (s *recordingSource) CopyTxData(_ soad.PduID, _ soad.PduInfo, buf []byte) (uint32, soad.Result) {
	if s.busyOnce && !s.busyServed {
		s.busyServed = true
		return 0, soad.ResultBusy
	}
	if buf == nil {
		return uint32(len(s.payload)), soad.ResultOK
	}
	n := copy(buf, s.payload)
	s.payload = s.payload[n:]
	return uint32(n), soad.ResultOK
}

func (s *recordingSource) TxConfirmation(_ soad.PduID, result soad.Result) {
	s.confirmed = append(s.confirmed, result)
}

func udpGroup(port uint16, automatic bool) soad.SoGrpConfig {
	return soad.SoGrpConfig{
		LocalAddr:          localINET(port),
		Protocol:           soad.ProtocolUDP,
		Automatic:          automatic,
		DefaultSocketRoute: 0,
	}
}

func tcpPassiveGroup(port uint16) soad.SoGrpConfig {
	return soad.SoGrpConfig{
		LocalAddr:          localINET(port),
		Protocol:           soad.ProtocolTCP,
		Automatic:          true,
		Initiate:           false,
		DefaultSocketRoute: 0,
	}
}

func tcpActiveGroup(port uint16) soad.SoGrpConfig {
	return soad.SoGrpConfig{
		LocalAddr:          localINET(port),
		Protocol:           soad.ProtocolTCP,
		Automatic:          true,
		Initiate:           true,
		DefaultSocketRoute: 0,
	}
}

func buildAdaptor(t *testing.T, groups []soad.SoGrpConfig, conns []soad.SoConConfig, sink *recordingSink, sources []soad.PduRouteConfig) (*soad.Adaptor, *fakeTransport) {
	t.Helper()

	socketRoutes := []soad.SocketRouteConfig{{Sink: sink, PDU: 1}}
	reg, err := soad.NewRegistry(groups, conns, socketRoutes, sources)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	ft := newFakeTransport()
	a := soad.New(ft, soad.WithRaceGuard())
	if err := a.Init(reg); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return a, ft
}

func TestTcpPassiveGroupListensThenAcceptsPromotesToOnline(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{available: 64}
	groups := []soad.SoGrpConfig{tcpPassiveGroup(9000)}
	conns := []soad.SoConConfig{{Group: 0, RemoteAddr: localINET(soaddr.PortAny), SocketRoute: -1}}

	a, ft := buildAdaptor(t, groups, conns, sink, nil)

	a.MainFunction() // OFFLINE -> open listen socket -> RECONNECT

	result := a.TcpAccepted(soad.SocketID(1), soad.SocketID(2), remoteINET("203.0.113.5", 55555))
	if result != soad.ResultOK {
		t.Fatalf("TcpAccepted = %v, want ResultOK", result)
	}
	if sink.startCalls != 1 {
		t.Errorf("StartOfReception called %d times, want 1", sink.startCalls)
	}
	if ft.closed[soad.SocketID(2)] {
		t.Errorf("accepted socket was closed, want kept")
	}
}

func TestTcpPassiveGroupDeclinesAcceptWhenNoFreeSlot(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{available: 64}
	groups := []soad.SoGrpConfig{tcpPassiveGroup(9001)}
	conns := []soad.SoConConfig{{Group: 0, RemoteAddr: localINET(soaddr.PortAny), SocketRoute: -1}}

	a, ft := buildAdaptor(t, groups, conns, sink, nil)
	a.MainFunction()

	// First accept consumes the only connection slot.
	a.TcpAccepted(soad.SocketID(1), soad.SocketID(2), remoteINET("203.0.113.5", 1))

	// Second accept has nowhere to land.
	result := a.TcpAccepted(soad.SocketID(1), soad.SocketID(3), remoteINET("203.0.113.6", 2))
	if result != soad.ResultNotOK {
		t.Fatalf("second TcpAccepted = %v, want ResultNotOK", result)
	}
	if !ft.closed[soad.SocketID(3)] {
		t.Errorf("declined socket 3 was not closed")
	}
}

func TestUdpWildcardPromotionOnRx(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{available: 64}
	groups := []soad.SoGrpConfig{udpGroup(9100, true)}
	conns := []soad.SoConConfig{{Group: 0, RemoteAddr: localINET(soaddr.PortAny), SocketRoute: -1}}

	a, _ := buildAdaptor(t, groups, conns, sink, nil)
	a.MainFunction() // OFFLINE -> open shared UDP socket -> RECONNECT (remote still wildcard)

	peer := remoteINET("198.51.100.1", 42000)
	result := a.RxIndication(soad.SocketID(1), peer, []byte("hello"))
	if result != soad.ResultOK {
		t.Fatalf("RxIndication = %v, want ResultOK", result)
	}
	if string(sink.lastData) != "hello" {
		t.Errorf("sink received %q, want %q", sink.lastData, "hello")
	}
}

func TestUdpRxRevertsPromotionOnSinkFailure(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{available: 64, rejectCopy: true}
	groups := []soad.SoGrpConfig{udpGroup(9101, true)}
	conns := []soad.SoConConfig{{Group: 0, RemoteAddr: localINET(soaddr.PortAny), SocketRoute: -1}}

	a, _ := buildAdaptor(t, groups, conns, sink, nil)
	a.MainFunction()

	peer := remoteINET("198.51.100.2", 42001)
	result := a.RxIndication(soad.SocketID(1), peer, []byte("x"))
	if result != soad.ResultNotOK {
		t.Fatalf("RxIndication = %v, want ResultNotOK", result)
	}

	// A second datagram from a different peer must still be eligible for
	// promotion: the revert must have restored the wildcard remote.
	sink.rejectCopy = false
	other := remoteINET("198.51.100.3", 42002)
	result = a.RxIndication(soad.SocketID(1), other, []byte("y"))
	if result != soad.ResultOK {
		t.Fatalf("second RxIndication = %v, want ResultOK", result)
	}
}

func TestUdpRxWithNoRouteBoundSucceedsWithoutRevertingPromotion(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{available: 64}
	groups := []soad.SoGrpConfig{
		{LocalAddr: localINET(9102), Protocol: soad.ProtocolUDP, Automatic: true, DefaultSocketRoute: -1},
	}
	conns := []soad.SoConConfig{{Group: 0, RemoteAddr: localINET(soaddr.PortAny), SocketRoute: -1}}

	a, _ := buildAdaptor(t, groups, conns, sink, nil)
	a.MainFunction()

	peer := remoteINET("198.51.100.4", 42003)
	result := a.RxIndication(soad.SocketID(1), peer, []byte("z"))
	if result != soad.ResultOK {
		t.Fatalf("RxIndication with no rx route bound = %v, want ResultOK", result)
	}
	if sink.copyCalls != 0 {
		t.Errorf("sink.CopyRxData called %d times, want 0 (no route bound)", sink.copyCalls)
	}

	// The promotion that just occurred on rx must not have been reverted:
	// a second datagram from the same peer should resolve straight to the
	// now-ONLINE connection rather than requiring a fresh promotion.
	result = a.RxIndication(soad.SocketID(1), peer, []byte("zz"))
	if result != soad.ResultOK {
		t.Fatalf("second RxIndication = %v, want ResultOK", result)
	}
}

// TestUdpInitiateTrueUsesPrivateSocketPerConnection pins SPEC_FULL.md §4's
// rule that socket ownership is decided purely by initiate, with no
// protocol carve-out: a UDP group with Initiate:true gives each connection
// its own private socket instead of sharing the group's, so losing one
// connection's socket never cascades to its sibling.
func TestUdpInitiateTrueUsesPrivateSocketPerConnection(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{available: 64}
	groups := []soad.SoGrpConfig{
		{LocalAddr: localINET(9103), Protocol: soad.ProtocolUDP, Automatic: true, Initiate: true, DefaultSocketRoute: 0},
	}
	conns := []soad.SoConConfig{
		{Group: 0, RemoteAddr: remoteINET("198.51.100.20", 11113), SocketRoute: -1},
		{Group: 0, RemoteAddr: remoteINET("198.51.100.21", 22223), SocketRoute: -1},
	}

	a, _ := buildAdaptor(t, groups, conns, sink, nil)
	a.MainFunction() // both conns have concrete remotes: OFFLINE -> own socket -> ONLINE

	// Losing the first connection's own socket must not affect the second.
	a.TcpIPEvent(soad.SocketID(1), soad.EventUDPClosed)

	if len(sink.rxResults) != 1 {
		t.Fatalf("got %d RxIndication calls, want 1 (only the lost connection's own socket)", len(sink.rxResults))
	}
	if sink.rxResults[0] != soad.ResultOK {
		t.Errorf("RxIndication result = %v, want ResultOK", sink.rxResults[0])
	}

	snap := a.Snapshot()
	if snap[0].State != soad.StateOffline {
		t.Errorf("conn 0 state = %v, want StateOffline", snap[0].State)
	}
	if snap[1].State != soad.StateOnline {
		t.Errorf("conn 1 state = %v, want StateOnline (no cascade from conn 0's private socket loss)", snap[1].State)
	}
}

func TestTcpActiveConnectEntersOnlineOnConnected(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{available: 64}
	groups := []soad.SoGrpConfig{tcpActiveGroup(9200)}
	conns := []soad.SoConConfig{{Group: 0, RemoteAddr: localINET(9999), SocketRoute: -1}}

	a, _ := buildAdaptor(t, groups, conns, sink, nil)
	a.MainFunction() // OFFLINE -> connect -> RECONNECT

	a.TcpConnected(soad.SocketID(1))
	if sink.startCalls != 1 {
		t.Errorf("StartOfReception called %d times after TcpConnected, want 1", sink.startCalls)
	}
}

func TestGroupLossCascadesOnlyOverSharedSocketConnections(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{available: 64}
	groups := []soad.SoGrpConfig{udpGroup(9300, true)}
	conns := []soad.SoConConfig{
		{Group: 0, RemoteAddr: remoteINET("198.51.100.10", 11111), SocketRoute: -1},
		{Group: 0, RemoteAddr: remoteINET("198.51.100.11", 22222), SocketRoute: -1},
	}

	a, _ := buildAdaptor(t, groups, conns, sink, nil)
	a.MainFunction() // both conns share group socket 1, both -> ONLINE since remotes are concrete

	a.TcpIPEvent(soad.SocketID(1), soad.EventUDPClosed)

	// Both connections shared the lost group socket, so both drop to
	// OFFLINE and the sink sees an RxIndication(OK) detach for each.
	if len(sink.rxResults) != 2 {
		t.Fatalf("got %d RxIndication calls, want 2", len(sink.rxResults))
	}
	for _, r := range sink.rxResults {
		if r != soad.ResultOK {
			t.Errorf("RxIndication result = %v, want ResultOK", r)
		}
	}
}

func TestIfTransmitRequiresOnline(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{available: 64}
	source := &recordingSource{payload: []byte("payload")}
	groups := []soad.SoGrpConfig{udpGroup(9400, true)}
	conns := []soad.SoConConfig{{Group: 0, RemoteAddr: localINET(soaddr.PortAny), SocketRoute: -1}}
	pduRoutes := []soad.PduRouteConfig{{PDU: 1, Source: source, TargetConn: 0}}

	a, _ := buildAdaptor(t, groups, conns, sink, pduRoutes)

	// Not yet ticked: connection is OFFLINE.
	result := a.IfTransmit(1, soad.PduInfo{Data: []byte("x")})
	if result != soad.ResultNotOK {
		t.Fatalf("IfTransmit on OFFLINE conn = %v, want ResultNotOK", result)
	}
}

func TestIfTransmitSendsOnceOnlineUDP(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{available: 64}
	source := &recordingSource{payload: []byte("payload")}
	groups := []soad.SoGrpConfig{udpGroup(9401, true)}
	conns := []soad.SoConConfig{{Group: 0, RemoteAddr: remoteINET("198.51.100.30", 7777), SocketRoute: -1}}
	pduRoutes := []soad.PduRouteConfig{{PDU: 1, Source: source, TargetConn: 0}}

	a, ft := buildAdaptor(t, groups, conns, sink, pduRoutes)
	a.MainFunction() // concrete remote on a UDP group enters ONLINE directly

	result := a.IfTransmit(1, soad.PduInfo{Data: []byte("ping")})
	if result != soad.ResultOK {
		t.Fatalf("IfTransmit = %v, want ResultOK", result)
	}
	if len(ft.tx) != 1 || string(ft.tx[0].data) != "ping" {
		t.Fatalf("transport saw %+v, want one call carrying 'ping'", ft.tx)
	}
}

func TestTpTransmitSegmentsAcrossTicksAndConfirms(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{available: 64}
	source := &recordingSource{payload: []byte("abcdef")}
	groups := []soad.SoGrpConfig{udpGroup(9402, true)}
	conns := []soad.SoConConfig{{Group: 0, RemoteAddr: remoteINET("198.51.100.31", 7778), SocketRoute: -1}}
	pduRoutes := []soad.PduRouteConfig{{PDU: 1, Source: source, TargetConn: 0}}

	a, ft := buildAdaptor(t, groups, conns, sink, pduRoutes)
	a.MainFunction() // enters ONLINE

	result := a.TpTransmit(1, soad.PduInfo{Length: 6})
	if result != soad.ResultOK {
		t.Fatalf("TpTransmit = %v, want ResultOK", result)
	}

	// Arming twice while a session is in flight must fail.
	if r := a.TpTransmit(1, soad.PduInfo{Length: 6}); r != soad.ResultNotOK {
		t.Fatalf("second TpTransmit = %v, want ResultNotOK", r)
	}

	a.MainFunction() // pump pulls and transmits the whole payload in one go here

	if len(source.confirmed) != 1 || source.confirmed[0] != soad.ResultOK {
		t.Fatalf("source confirmed = %+v, want one ResultOK", source.confirmed)
	}
	if len(ft.tx) == 0 {
		t.Fatalf("no transport transmit observed")
	}
}

func TestTpTransmitHonorsBusyAndRetriesNextTick(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{available: 64}
	source := &recordingSource{payload: []byte("z"), busyOnce: true}
	groups := []soad.SoGrpConfig{udpGroup(9403, true)}
	conns := []soad.SoConConfig{{Group: 0, RemoteAddr: remoteINET("198.51.100.32", 7779), SocketRoute: -1}}
	pduRoutes := []soad.PduRouteConfig{{PDU: 1, Source: source, TargetConn: 0}}

	a, ft := buildAdaptor(t, groups, conns, sink, pduRoutes)
	a.MainFunction()

	a.TpTransmit(1, soad.PduInfo{Length: 1})

	a.MainFunction() // probe returns Busy, pump does nothing this tick
	if len(ft.tx) != 0 {
		t.Fatalf("transport saw a transmit on the busy tick: %+v", ft.tx)
	}
	if len(source.confirmed) != 0 {
		t.Fatalf("source confirmed early: %+v", source.confirmed)
	}

	a.MainFunction() // probe now succeeds, session completes
	if len(source.confirmed) != 1 {
		t.Fatalf("source confirmed = %+v, want exactly one entry after retry", source.confirmed)
	}
}

func TestRequestCloseReturnsConnectionToOffline(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{available: 64}
	groups := []soad.SoGrpConfig{tcpActiveGroup(9500)}
	conns := []soad.SoConConfig{{Group: 0, RemoteAddr: localINET(9998), SocketRoute: -1}}

	a, ft := buildAdaptor(t, groups, conns, sink, nil)
	a.MainFunction()
	a.TcpConnected(soad.SocketID(1))

	if err := a.RequestClose(0, false); err != nil {
		t.Fatalf("RequestClose: %v", err)
	}
	a.MainFunction()

	if !ft.closed[soad.SocketID(1)] {
		t.Errorf("private socket was not closed on RequestClose")
	}
}

func TestInvalidConnIDReturnsSentinelError(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{available: 64}
	groups := []soad.SoGrpConfig{tcpActiveGroup(9600)}
	conns := []soad.SoConConfig{{Group: 0, RemoteAddr: localINET(9997), SocketRoute: -1}}
	a, _ := buildAdaptor(t, groups, conns, sink, nil)

	if err := a.RequestOpen(soad.SoConID(42)); err == nil {
		t.Error("RequestOpen with out-of-range id returned nil error")
	}
}
