package soad_test

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/soad-project/soad/internal/soad"
	"github.com/soad-project/soad/internal/soaddr"
)

type fakeSink struct{}

func (fakeSink) StartOfReception(soad.PduID, soad.PduInfo, uint32) (uint32, soad.Result) {
	return 0, soad.ResultOK
}
func (fakeSink) CopyRxData(soad.PduID, soad.PduInfo) (uint32, soad.Result) { return 0, soad.ResultOK }
func (fakeSink) RxIndication(soad.PduID, soad.Result)                      {}

type fakeSource struct{}

func (fakeSource) CopyTxData(soad.PduID, soad.PduInfo, []byte) (uint32, soad.Result) {
	return 0, soad.ResultOK
}
func (fakeSource) TxConfirmation(soad.PduID, soad.Result) {}

func localINET(port uint16) soaddr.SockAddr {
	return soaddr.SockAddr{Family: soaddr.FamilyINET, Addr: netip.IPv4Unspecified(), Port: port}
}

func TestNewRegistryRejectsOutOfRangeGroup(t *testing.T) {
	t.Parallel()

	groups := []soad.SoGrpConfig{{LocalAddr: localINET(8000), Protocol: soad.ProtocolTCP}}
	conns := []soad.SoConConfig{{Group: 5, SocketRoute: -1}}

	_, err := soad.NewRegistry(groups, conns, nil, nil)
	if !errors.Is(err, soad.ErrGroupRefOutOfRange) {
		t.Fatalf("got %v, want ErrGroupRefOutOfRange", err)
	}
}

func TestNewRegistryEnforcesMaxChannels(t *testing.T) {
	t.Parallel()

	groups := []soad.SoGrpConfig{{LocalAddr: localINET(8000), Protocol: soad.ProtocolTCP, MaxChannels: 1, DefaultSocketRoute: -1}}
	conns := []soad.SoConConfig{
		{Group: 0, SocketRoute: -1},
		{Group: 0, SocketRoute: -1},
	}

	_, err := soad.NewRegistry(groups, conns, nil, nil)
	if !errors.Is(err, soad.ErrGroupExceedsMaxChannel) {
		t.Fatalf("got %v, want ErrGroupExceedsMaxChannel", err)
	}
}

func TestNewRegistryRejectsUnsortedPduRoutes(t *testing.T) {
	t.Parallel()

	groups := []soad.SoGrpConfig{{LocalAddr: localINET(8000), Protocol: soad.ProtocolTCP, DefaultSocketRoute: -1}}
	conns := []soad.SoConConfig{{Group: 0, SocketRoute: -1}}
	routes := []soad.PduRouteConfig{
		{PDU: 5, Source: fakeSource{}, TargetConn: 0},
		{PDU: 2, Source: fakeSource{}, TargetConn: 0},
	}

	_, err := soad.NewRegistry(groups, conns, nil, routes)
	if !errors.Is(err, soad.ErrPduRouteTableUnsorted) {
		t.Fatalf("got %v, want ErrPduRouteTableUnsorted", err)
	}
}

func TestNewRegistryRejectsDuplicatePduID(t *testing.T) {
	t.Parallel()

	groups := []soad.SoGrpConfig{{LocalAddr: localINET(8000), Protocol: soad.ProtocolTCP, DefaultSocketRoute: -1}}
	conns := []soad.SoConConfig{{Group: 0, SocketRoute: -1}}
	routes := []soad.PduRouteConfig{
		{PDU: 2, Source: fakeSource{}, TargetConn: 0},
		{PDU: 2, Source: fakeSource{}, TargetConn: 0},
	}

	_, err := soad.NewRegistry(groups, conns, nil, routes)
	if !errors.Is(err, soad.ErrPduRouteDuplicateID) {
		t.Fatalf("got %v, want ErrPduRouteDuplicateID", err)
	}
}

func TestNewRegistryRejectsNilSink(t *testing.T) {
	t.Parallel()

	groups := []soad.SoGrpConfig{{LocalAddr: localINET(8000), Protocol: soad.ProtocolTCP, DefaultSocketRoute: -1}}
	conns := []soad.SoConConfig{{Group: 0, SocketRoute: -1}}
	socketRoutes := []soad.SocketRouteConfig{{Sink: nil, PDU: 1}}

	_, err := soad.NewRegistry(groups, conns, socketRoutes, nil)
	if !errors.Is(err, soad.ErrGroupMissingSink) {
		t.Fatalf("got %v, want ErrGroupMissingSink", err)
	}
}

func TestNewRegistryAccepts(t *testing.T) {
	t.Parallel()

	groups := []soad.SoGrpConfig{{LocalAddr: localINET(8000), Protocol: soad.ProtocolTCP, DefaultSocketRoute: 0}}
	conns := []soad.SoConConfig{{Group: 0, SocketRoute: -1}}
	socketRoutes := []soad.SocketRouteConfig{{Sink: fakeSink{}, PDU: 1}}
	pduRoutes := []soad.PduRouteConfig{
		{PDU: 1, Source: fakeSource{}, TargetConn: 0},
		{PDU: 2, Source: fakeSource{}, TargetConn: 0},
	}

	reg, err := soad.NewRegistry(groups, conns, socketRoutes, pduRoutes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reg.NumGroups() != 1 || reg.NumConns() != 1 {
		t.Fatalf("unexpected registry shape: %d groups, %d conns", reg.NumGroups(), reg.NumConns())
	}
}
