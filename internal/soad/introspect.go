package soad

import (
	"fmt"

	"github.com/soad-project/soad/internal/soaddr"
)

// ConnSnapshot is a read-only view of one connection's runtime status,
// exposed for admin/health surfaces. It is not used by the adaptor itself.
type ConnSnapshot struct {
	Conn   SoConID
	Group  SoGrpID
	State  State
	Socket SocketID
	Remote string
}

// Snapshot returns the current status of every configured connection.
// Safe to call between ticks; like every other exported method it must not
// be called concurrently with a tick (host's single-threaded contract).
func (a *Adaptor) Snapshot() []ConnSnapshot {
	if !a.initialized() {
		return nil
	}

	out := make([]ConnSnapshot, len(a.conns))
	for i := range a.conns {
		id := SoConID(i)
		cs := &a.conns[i]
		out[i] = ConnSnapshot{
			Conn:   id,
			Group:  a.reg.Conn(id).Group,
			State:  cs.state,
			Socket: a.socketFor(id),
			Remote: formatRemote(cs.remote),
		}
	}
	return out
}

func formatRemote(addr soaddr.SockAddr) string {
	if addr.Family == soaddr.FamilyUnspecified {
		return ""
	}
	return fmt.Sprintf("%s:%d", addr.Addr, addr.Port)
}
