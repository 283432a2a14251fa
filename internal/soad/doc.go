// Package soad implements the Socket Adaptor (SoAd): the stateful layer
// multiplexing PDU-Router traffic onto TCP/UDP sockets.
//
// The package is organized around the three cores the specification names:
// the per-connection state machine (state.go), the routing and dispatch
// fabric (config.go, connections.go, rxdispatch.go), and the transmit
// pump (txpump.go). Adaptor (adaptor.go) ties them together behind the
// upstream/downstream entry points described in the external-interfaces
// section of the spec.
//
// The package is single-threaded cooperative: none of its exported methods
// spawn goroutines, and none may be called concurrently with another --
// the host is responsible for serializing the tick context, the upper-layer
// context, and the transport-callback context.
package soad
