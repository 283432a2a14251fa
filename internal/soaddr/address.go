// Package soaddr implements the tagged socket-address union and the three
// address operations the Socket Adaptor's routing fabric is built on: copy,
// wildcard detection, and masked wildcard matching.
//
// A SockAddr is a sum type over {INET, INET6, Unspecified} rather than a
// pointer-cast C union: the Family field is matched exhaustively by every
// consumer, and the zero value (FamilyUnspecified) is always a safe,
// harmless default.
package soaddr

import "net/netip"

// Family tags which address family a SockAddr carries.
type Family uint8

const (
	// FamilyUnspecified marks an address with no known family. Equality and
	// wildcard-match against an unspecified address always fail.
	FamilyUnspecified Family = iota

	// FamilyINET is a 32-bit IPv4 address plus a 16-bit port.
	FamilyINET

	// FamilyINET6 is a 128-bit IPv6 address plus a 16-bit port.
	FamilyINET6
)

// String returns the human-readable name of the family.
func (f Family) String() string {
	switch f {
	case FamilyINET:
		return "INET"
	case FamilyINET6:
		return "INET6"
	case FamilyUnspecified:
		return "Unspecified"
	default:
		return "Unknown"
	}
}

// PortAny is the wildcard port sentinel: any port observed on the wire
// satisfies a mask whose Port is PortAny.
const PortAny uint16 = 0

// SockAddr is a tagged socket address: family, IP address, and port.
//
// The wildcard address is represented by the zero value of Addr for the
// given family (netip's family-preserving zero values), and the wildcard
// port by PortAny. An UNSPECIFIED-family SockAddr carries no usable address
// or port and never matches anything.
type SockAddr struct {
	Family Family
	Addr   netip.Addr
	Port   uint16
}

// Unspecified is the zero-value SockAddr, returned whenever an address
// cannot be determined.
var Unspecified = SockAddr{Family: FamilyUnspecified}

// FromAddrPort builds a SockAddr from a netip.AddrPort, tagging the family
// from the address. Returns Unspecified if ap's address is not a valid
// IPv4 or IPv6 address.
func FromAddrPort(ap netip.AddrPort) SockAddr {
	addr := ap.Addr()
	switch {
	case addr.Is4() || addr.Is4In6():
		return SockAddr{Family: FamilyINET, Addr: addr, Port: ap.Port()}
	case addr.Is6():
		return SockAddr{Family: FamilyINET6, Addr: addr, Port: ap.Port()}
	default:
		return Unspecified
	}
}

// Copy returns a value copy of src. SockAddr contains no reference types
// (netip.Addr is itself an immutable value), so Copy is a plain assignment;
// the function exists to give the operation a name matching the spec's
// address-utilities contract and as an obvious extension point should the
// representation ever need deep copying.
func Copy(src SockAddr) SockAddr {
	return src
}

// IsWildcard reports whether addr is a wildcard: true iff the family is
// known (INET or INET6) and either the address is the any-address for that
// family or the port is PortAny.
func IsWildcard(addr SockAddr) bool {
	if addr.Family == FamilyUnspecified {
		return false
	}
	return isAnyAddr(addr) || addr.Port == PortAny
}

func isAnyAddr(addr SockAddr) bool {
	if !addr.Addr.IsValid() {
		return true
	}
	return addr.Addr.IsUnspecified()
}

// WildcardMatch reports whether probe satisfies mask under wildcard
// semantics: the families must agree; the address clause is satisfied when
// mask's address is any-address or equals probe's address; the port clause
// is satisfied when mask's port is PortAny or equals probe's port. Both
// clauses are ANDed. Cross-family or FamilyUnspecified inputs never match.
func WildcardMatch(mask, probe SockAddr) bool {
	if mask.Family == FamilyUnspecified || probe.Family == FamilyUnspecified {
		return false
	}
	if mask.Family != probe.Family {
		return false
	}

	addrOK := isAnyAddr(mask) || mask.Addr == probe.Addr
	portOK := mask.Port == PortAny || mask.Port == probe.Port

	return addrOK && portOK
}

// Equal reports whether a and b denote the same concrete family, address,
// and port. Unlike WildcardMatch, Equal performs no wildcard relaxation.
func Equal(a, b SockAddr) bool {
	if a.Family == FamilyUnspecified {
		return false
	}
	return a.Family == b.Family && a.Addr == b.Addr && a.Port == b.Port
}
