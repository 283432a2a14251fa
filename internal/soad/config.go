package soad

import (
	"errors"
	"fmt"

	"github.com/soad-project/soad/internal/soaddr"
)

// Validation errors returned by NewRegistry. All are detected once, at
// configuration time, rather than guarded against on every lookup.
var (
	ErrGroupRefOutOfRange     = errors.New("soad: connection references out-of-range group")
	ErrSocketRouteRefMissing  = errors.New("soad: socket route reference does not exist")
	ErrPduRouteRefMissing     = errors.New("soad: pdu route target connection does not exist")
	ErrPduRouteTableUnsorted  = errors.New("soad: pdu route table is not sorted ascending by pdu id")
	ErrPduRouteDuplicateID    = errors.New("soad: pdu route table has duplicate pdu id")
	ErrGroupExceedsMaxChannel = errors.New("soad: group has more connections than its configured max channels")
	ErrGroupMissingSink       = errors.New("soad: socket route has a nil rx sink")
	ErrPduRouteMissingSource  = errors.New("soad: pdu route has a nil tx source")
)

// SoGrpConfig is the immutable configuration of one connection group.
type SoGrpConfig struct {
	// LocalAddr is the group's local bind address. Its Port may be
	// soaddr.PortAny.
	LocalAddr soaddr.SockAddr

	// Protocol is TCP or UDP.
	Protocol Protocol

	// Automatic opens the group on the first tick without waiting for a
	// request_open latch.
	Automatic bool

	// Initiate selects whether a connection's socket is held privately by
	// the connection (true) or shared on the group (false). For TCP this
	// also selects active connect vs passive accept/listen; for UDP it
	// only affects socket ownership, since UDP has no connect/listen step.
	Initiate bool

	// ListenOnly suppresses wildcard-remote promotion on rx for UDP
	// groups; the group will never auto-bind a peer from inbound traffic.
	ListenOnly bool

	// DefaultSocketRoute is the socket route id applied to any connection
	// in this group that does not set its own. -1 means none.
	DefaultSocketRoute int

	// MaxChannels bounds how many connections may belong to this group;
	// 0 means unbounded.
	MaxChannels int
}

// SoConConfig is the immutable configuration of one connection.
type SoConConfig struct {
	// Group is the owning SoGrpID.
	Group SoGrpID

	// RemoteAddr is the configured remote; may be partially or fully
	// wildcard (see soaddr.IsWildcard).
	RemoteAddr soaddr.SockAddr

	// SocketRoute overrides the owning group's DefaultSocketRoute when
	// >= 0.
	SocketRoute int
}

// SocketRouteConfig is one rx route: an upper sink bound to a PDU id,
// optionally selected by header id.
type SocketRouteConfig struct {
	// HeaderID is carried with the route; resolveSocketRoute does not
	// consult it (each connection resolves to a single route). Zero means
	// no header.
	HeaderID HeaderID

	// Sink is the upper-layer receiver notified on delivery.
	Sink RxSink

	// PDU is the PduID reported to Sink's methods.
	PDU PduID
}

// PduRouteConfig is one tx route: an outbound PDU mapped to a target
// connection and upper source.
type PduRouteConfig struct {
	// PDU is the outbound PduID. The table built from these entries must
	// be sorted strictly ascending by PDU for binary search.
	PDU PduID

	// Source is the upper-layer supplier asked to fill transmit buffers.
	Source TxSource

	// TargetConn is the connection the PDU is routed to.
	TargetConn SoConID

	// OutboundHeader is recorded on the connection when TpTransmit arms a
	// session; the Transport transmit calls take no header, so it is not
	// sent. Zero means none.
	OutboundHeader HeaderID
}

// Registry holds the immutable, validated configuration tables: groups,
// connections, socket routes, and the PDU route table. It is built once by
// NewRegistry and never mutated afterward; all runtime state lives
// alongside it in connection/group status arrays owned by Adaptor.
type Registry struct {
	groups       []SoGrpConfig
	conns        []SoConConfig
	socketRoutes []SocketRouteConfig
	pduRoutes    []PduRouteConfig // sorted ascending by PDU
}

// NewRegistry validates and packages the configuration tables into a
// Registry. The pdu routes slice must already be sorted strictly ascending
// by PDU id; this is a static precondition enforced here rather than
// re-checked per lookup.
func NewRegistry(groups []SoGrpConfig, conns []SoConConfig, socketRoutes []SocketRouteConfig, pduRoutes []PduRouteConfig) (*Registry, error) {
	for i, c := range conns {
		if c.Group < 0 || int(c.Group) >= len(groups) {
			return nil, fmt.Errorf("conns[%d]: group %d: %w", i, c.Group, ErrGroupRefOutOfRange)
		}
	}

	channelCount := make([]int, len(groups))
	for _, c := range conns {
		channelCount[c.Group]++
	}
	for gid, g := range groups {
		if g.MaxChannels > 0 && channelCount[gid] > g.MaxChannels {
			return nil, fmt.Errorf("group %d: %d connections exceeds max %d: %w", gid, channelCount[gid], g.MaxChannels, ErrGroupExceedsMaxChannel)
		}
		if g.DefaultSocketRoute >= 0 && g.DefaultSocketRoute >= len(socketRoutes) {
			return nil, fmt.Errorf("group %d: default socket route %d: %w", gid, g.DefaultSocketRoute, ErrSocketRouteRefMissing)
		}
	}

	for i, c := range conns {
		if c.SocketRoute >= 0 && c.SocketRoute >= len(socketRoutes) {
			return nil, fmt.Errorf("conns[%d]: socket route %d: %w", i, c.SocketRoute, ErrSocketRouteRefMissing)
		}
	}

	for i, sr := range socketRoutes {
		if sr.Sink == nil {
			return nil, fmt.Errorf("socketRoutes[%d]: %w", i, ErrGroupMissingSink)
		}
	}

	for i := range pduRoutes {
		if pduRoutes[i].Source == nil {
			return nil, fmt.Errorf("pduRoutes[%d]: %w", i, ErrPduRouteMissingSource)
		}
		if int(pduRoutes[i].TargetConn) < 0 || int(pduRoutes[i].TargetConn) >= len(conns) {
			return nil, fmt.Errorf("pduRoutes[%d]: target conn %d: %w", i, pduRoutes[i].TargetConn, ErrPduRouteRefMissing)
		}
		if i > 0 {
			if pduRoutes[i].PDU == pduRoutes[i-1].PDU {
				return nil, fmt.Errorf("pduRoutes[%d]: pdu %d: %w", i, pduRoutes[i].PDU, ErrPduRouteDuplicateID)
			}
			if pduRoutes[i].PDU < pduRoutes[i-1].PDU {
				return nil, fmt.Errorf("pduRoutes[%d]: %w", i, ErrPduRouteTableUnsorted)
			}
		}
	}

	return &Registry{
		groups:       append([]SoGrpConfig(nil), groups...),
		conns:        append([]SoConConfig(nil), conns...),
		socketRoutes: append([]SocketRouteConfig(nil), socketRoutes...),
		pduRoutes:    append([]PduRouteConfig(nil), pduRoutes...),
	}, nil
}

// NumGroups returns the number of configured groups.
func (r *Registry) NumGroups() int { return len(r.groups) }

// NumConns returns the number of configured connections.
func (r *Registry) NumConns() int { return len(r.conns) }

// Group returns the configuration of group id. Panics if out of range;
// callers validate the id via Adaptor's public API before reaching here.
func (r *Registry) Group(id SoGrpID) SoGrpConfig { return r.groups[id] }

// Conn returns the configuration of connection id.
func (r *Registry) Conn(id SoConID) SoConConfig { return r.conns[id] }

// SocketRoute returns route id.
func (r *Registry) SocketRoute(id int) SocketRouteConfig { return r.socketRoutes[id] }

// resolveSocketRoute implements get_socket_route: prefer the connection's
// own route id, else the group's default, else not-found. The returned
// int is the route's index, stored on the connection so later stages can
// re-fetch the same route without re-resolving the preference order.
func (r *Registry) resolveSocketRoute(conn SoConID) (SocketRouteConfig, int, bool) {
	cfg := r.conns[conn]
	routeID := cfg.SocketRoute
	if routeID < 0 {
		routeID = r.groups[cfg.Group].DefaultSocketRoute
	}
	if routeID < 0 || routeID >= len(r.socketRoutes) {
		return SocketRouteConfig{}, -1, false
	}
	return r.socketRoutes[routeID], routeID, true
}

// getPduRoute implements get_pdu_route: binary search the sorted pdu
// route table for an exact match. The returned int is the route's index.
func (r *Registry) getPduRoute(pdu PduID) (PduRouteConfig, int, bool) {
	lo, hi := 0, len(r.pduRoutes)
	for lo < hi {
		mid := (lo + hi) / 2
		switch {
		case r.pduRoutes[mid].PDU == pdu:
			return r.pduRoutes[mid], mid, true
		case r.pduRoutes[mid].PDU < pdu:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return PduRouteConfig{}, -1, false
}

// PduRoute returns the pdu route at index idx, as stored by arming a
// segmented session.
func (r *Registry) PduRoute(idx int) PduRouteConfig { return r.pduRoutes[idx] }
