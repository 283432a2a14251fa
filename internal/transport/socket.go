// Package transport is the reference Transport implementation: real
// TCP/UDP sockets over the host network stack, wired to the soad package's
// Transport interface. It owns every net.Conn/net.PacketConn; the adaptor
// only ever holds the opaque soad.SocketID handles this package hands
// back.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/soad-project/soad/internal/soad"
	"github.com/soad-project/soad/internal/soaddr"
)

// ErrUnknownSocket is returned by any call naming a socket id the manager
// has no record of.
var ErrUnknownSocket = errors.New("transport: unknown socket id")

// ErrUnsupportedFamily is returned by GetSocket for a family other than
// INET or INET6.
var ErrUnsupportedFamily = errors.New("transport: unsupported address family")

// entry is the live state behind one soad.SocketID: either a listening
// TCP socket, a connected TCP socket, or a UDP socket.
type entry struct {
	family soaddr.Family
	proto  soad.Protocol

	// localTCP is the endpoint recorded by Bind for a TCP entry; Listen
	// and Connect each consume it to build the real net.Listener/net.Conn.
	localTCP soaddr.SockAddr

	listener *net.TCPListener
	stream   *net.TCPConn
	packet   net.PacketConn
}

// AcceptFunc is invoked synchronously, in the same call stack as Accept's
// internal goroutine handoff, whenever a listening socket accepts a new
// connection. Implementations typically call soad.Adaptor.TcpAccepted.
type AcceptFunc func(listenSocket, newSocket soad.SocketID, remote soaddr.SockAddr)

// ConnectedFunc is invoked when an active TCP connect completes.
type ConnectedFunc func(socket soad.SocketID)

// RxFunc is invoked when a datagram or stream segment arrives.
type RxFunc func(socket soad.SocketID, remote soaddr.SockAddr, buf []byte) soad.Result

// IPEventFunc is invoked on FIN/RESET/closed notifications.
type IPEventFunc func(socket soad.SocketID, event soad.IPEvent)

// Manager is the reference Transport: it implements soad.Transport over
// real sockets and drives accept/read loops that call back into the
// adaptor via the callbacks supplied to New.
//
// Manager spawns one goroutine per listening or connected socket to host
// the blocking Accept/Read loop; every callback invocation is expected to
// re-enter the adaptor, so the host must still serialize adaptor calls
// (e.g. by funneling all these callbacks through a single dispatch
// goroutine, as cmd/soad does).
type Manager struct {
	log *slog.Logger
	ids *IDAllocator

	onAccept    AcceptFunc
	onConnected ConnectedFunc
	onRx        RxFunc
	onIPEvent   IPEventFunc

	mu      sync.Mutex
	entries map[soad.SocketID]*entry
}

// Callbacks bundles the hooks a Manager invokes on network events. All
// fields are required.
type Callbacks struct {
	OnAccept    AcceptFunc
	OnConnected ConnectedFunc
	OnRx        RxFunc
	OnIPEvent   IPEventFunc
}

// New constructs a Manager. cb's callbacks are invoked from internal
// per-socket goroutines.
func New(log *slog.Logger, cb Callbacks) *Manager {
	return &Manager{
		log:         log,
		ids:         NewIDAllocator(),
		onAccept:    cb.OnAccept,
		onConnected: cb.OnConnected,
		onRx:        cb.OnRx,
		onIPEvent:   cb.OnIPEvent,
		entries:     make(map[soad.SocketID]*entry),
	}
}

// GetSocket implements soad.Transport. It only records the requested
// family/protocol; the real OS socket is created by Bind (for UDP), Listen
// (for TCP passive groups) or Connect (for TCP active groups), mirroring how the
// specification sequences acquire-then-bind-then-listen/connect.
func (m *Manager) GetSocket(family soaddr.Family, proto soad.Protocol) (soad.SocketID, error) {
	if family != soaddr.FamilyINET && family != soaddr.FamilyINET6 {
		return soad.InvalidSocketID, ErrUnsupportedFamily
	}

	id, err := m.ids.Allocate()
	if err != nil {
		return soad.InvalidSocketID, err
	}

	m.mu.Lock()
	m.entries[id] = &entry{family: family, proto: proto}
	m.mu.Unlock()

	return id, nil
}

func (m *Manager) lookup(id soad.SocketID) (*entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return nil, fmt.Errorf("socket %d: %w", id, ErrUnknownSocket)
	}
	return e, nil
}

// Bind implements soad.Transport: for UDP it opens the real datagram
// socket immediately (a UDP "bind" is the whole of its setup); for TCP it
// only records the local endpoint, deferring the real socket to Listen or
// Connect since net.Listen/net.Dial each perform their own bind.
func (m *Manager) Bind(id soad.SocketID, local soaddr.SockAddr) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}

	if e.proto == soad.ProtocolUDP {
		pc, err := listenUDP(local)
		if err != nil {
			return err
		}
		m.mu.Lock()
		e.packet = pc
		m.mu.Unlock()

		go m.recvLoop(id, pc)
		return nil
	}

	m.mu.Lock()
	e.localTCP = local
	m.mu.Unlock()
	return nil
}

// Listen implements soad.Transport for passive TCP groups.
func (m *Manager) Listen(id soad.SocketID, backlog int) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	_ = backlog // net.ListenTCP has no backlog knob; the kernel default applies

	lc := net.ListenConfig{Control: reuseAddrControl}
	ln, err := lc.Listen(context.Background(), tcpNetwork(e.localTCP), tcpAddrString(e.localTCP))
	if err != nil {
		return fmt.Errorf("tcp listen %s: %w", e.localTCP, err)
	}
	tln, ok := ln.(*net.TCPListener)
	if !ok {
		_ = ln.Close()
		return fmt.Errorf("tcp listen %s: %w", e.localTCP, ErrUnknownSocket)
	}

	m.mu.Lock()
	e.listener = tln
	m.mu.Unlock()

	go m.acceptLoop(id, tln)
	return nil
}

// Connect implements soad.Transport for active TCP groups.
func (m *Manager) Connect(id soad.SocketID, remote soaddr.SockAddr) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}

	d := net.Dialer{
		Control:   reuseAddrControl,
		LocalAddr: tcpAddr(e.localTCP),
	}
	conn, err := d.DialContext(context.Background(), tcpNetwork(remote), tcpAddrString(remote))
	if err != nil {
		return fmt.Errorf("tcp connect %s: %w", remote, err)
	}
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		_ = conn.Close()
		return fmt.Errorf("tcp connect %s: %w", remote, ErrUnknownSocket)
	}

	m.mu.Lock()
	e.stream = tc
	m.mu.Unlock()

	go m.streamLoop(id, tc)
	go m.onConnected(id)
	return nil
}

// Close implements soad.Transport.
func (m *Manager) Close(id soad.SocketID, abort bool) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	if ok {
		delete(m.entries, id)
	}
	m.mu.Unlock()
	m.ids.Release(id)

	if !ok {
		return fmt.Errorf("socket %d: %w", id, ErrUnknownSocket)
	}

	switch {
	case e.listener != nil:
		return e.listener.Close()
	case e.stream != nil:
		if abort {
			_ = e.stream.SetLinger(0)
		}
		return e.stream.Close()
	case e.packet != nil:
		return e.packet.Close()
	}
	return nil
}

// CloseAll closes every socket the manager currently holds, for use during
// daemon shutdown once the adaptor has stopped issuing transport calls.
// Errors from individual sockets are collected but do not stop the sweep.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	ids := make([]soad.SocketID, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var err error
	for _, id := range ids {
		if cerr := m.Close(id, true); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	return err
}

// UDPTransmit implements soad.Transport.
func (m *Manager) UDPTransmit(id soad.SocketID, data []byte, remote soaddr.SockAddr) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	if e.packet == nil {
		return fmt.Errorf("socket %d: %w", id, ErrUnknownSocket)
	}

	addr := &net.UDPAddr{IP: remote.Addr.AsSlice(), Port: int(remote.Port)}
	_, err = e.packet.WriteTo(data, addr)
	return err
}

// TCPTransmit implements soad.Transport. force is accepted for interface
// symmetry with the specification's tcp_transmit(force) but net.TCPConn
// offers no coalescing knob to honor it; TCP_NODELAY is left at the Go
// runtime default either way.
func (m *Manager) TCPTransmit(id soad.SocketID, data []byte, force bool) error {
	_ = force
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	if e.stream == nil {
		return fmt.Errorf("socket %d: %w", id, ErrUnknownSocket)
	}
	_, err = e.stream.Write(data)
	return err
}

func (m *Manager) acceptLoop(listenID soad.SocketID, ln *net.TCPListener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			m.onIPEvent(listenID, soad.EventTCPClosed)
			return
		}

		tc, ok := conn.(*net.TCPConn)
		if !ok {
			_ = conn.Close()
			continue
		}

		newID, err := m.ids.Allocate()
		if err != nil {
			m.log.Error("allocate accepted socket id", slog.Any("error", err))
			_ = tc.Close()
			continue
		}

		remote := soaddr.FromAddrPort(tc.RemoteAddr().(*net.TCPAddr).AddrPort())

		m.mu.Lock()
		m.entries[newID] = &entry{family: remote.Family, proto: soad.ProtocolTCP, stream: tc}
		m.mu.Unlock()

		m.onAccept(listenID, newID, remote)
		if _, err := m.lookup(newID); err == nil {
			go m.streamLoop(newID, tc)
		}
	}
}

func (m *Manager) streamLoop(id soad.SocketID, conn *net.TCPConn) {
	buf := make([]byte, 64*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			remote := soaddr.Unspecified
			if ap, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
				remote = soaddr.FromAddrPort(ap.AddrPort())
			}
			m.onRx(id, remote, buf[:n])
		}
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			m.onIPEvent(id, soad.EventTCPClosed)
			return
		}
	}
}

func (m *Manager) recvLoop(id soad.SocketID, pc net.PacketConn) {
	buf := make([]byte, 64*1024)
	for {
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			m.onIPEvent(id, soad.EventUDPClosed)
			return
		}

		udpAddr, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}
		remote := soaddr.FromAddrPort(udpAddr.AddrPort())
		m.onRx(id, remote, buf[:n])
	}
}

func listenUDP(local soaddr.SockAddr) (net.PacketConn, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}
	return lc.ListenPacket(context.Background(), udpNetwork(local), tcpAddrString(local))
}

func reuseAddrControl(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

func tcpNetwork(addr soaddr.SockAddr) string {
	if addr.Family == soaddr.FamilyINET6 {
		return "tcp6"
	}
	return "tcp4"
}

func udpNetwork(addr soaddr.SockAddr) string {
	if addr.Family == soaddr.FamilyINET6 {
		return "udp6"
	}
	return "udp4"
}

func tcpAddrString(addr soaddr.SockAddr) string {
	if !addr.Addr.IsValid() {
		return netip.AddrPortFrom(netip.IPv4Unspecified(), addr.Port).String()
	}
	return netip.AddrPortFrom(addr.Addr, addr.Port).String()
}

func tcpAddr(addr soaddr.SockAddr) *net.TCPAddr {
	if !addr.Addr.IsValid() {
		return nil
	}
	return &net.TCPAddr{IP: addr.Addr.AsSlice(), Port: int(addr.Port)}
}
