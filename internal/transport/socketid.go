package transport

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/soad-project/soad/internal/soad"
)

// maxAllocAttempts is the maximum number of random generation attempts
// before returning ErrIDSpaceExhausted. With a 63-bit random space and
// realistic connection counts, collisions are astronomically unlikely;
// this limit exists as a safety net against degenerate states.
const maxAllocAttempts = 100

// ErrIDSpaceExhausted indicates the allocator could not generate a unique
// id after the maximum number of attempts.
var ErrIDSpaceExhausted = errors.New("transport: socket id space exhausted")

// IDAllocator generates unique, non-negative socket ids for the reference
// Transport implementation. soad.SocketID is an opaque handle from the
// adaptor's point of view; this allocator exists purely so the reference
// Transport can hand out ids that never collide with soad.InvalidSocketID
// or with one another, independent of how the underlying net.Conn/net.PacketConn
// is represented.
//
// Thread-safe: GetSocket and each listening socket's accept goroutine
// allocate ids independently, so calls may arrive concurrently.
type IDAllocator struct {
	mu        sync.Mutex
	allocated map[soad.SocketID]struct{}
}

// NewIDAllocator creates an IDAllocator with an empty allocation set.
func NewIDAllocator() *IDAllocator {
	return &IDAllocator{
		allocated: make(map[soad.SocketID]struct{}),
	}
}

// Allocate generates a unique, non-negative socket id.
func (a *IDAllocator) Allocate() (soad.SocketID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var buf [8]byte

	for range maxAllocAttempts {
		if _, err := rand.Read(buf[:]); err != nil {
			return soad.InvalidSocketID, fmt.Errorf("generate random socket id: %w", err)
		}

		id := soad.SocketID(binary.BigEndian.Uint64(buf[:]) >> 1) // clear sign bit: always non-negative

		if id == soad.InvalidSocketID {
			continue
		}
		if _, exists := a.allocated[id]; exists {
			continue
		}

		a.allocated[id] = struct{}{}
		return id, nil
	}

	return soad.InvalidSocketID, fmt.Errorf("allocate socket id after %d attempts: %w", maxAllocAttempts, ErrIDSpaceExhausted)
}

// Release removes a previously allocated id from the allocation set.
// Releasing an id that was not allocated is a no-op.
func (a *IDAllocator) Release(id soad.SocketID) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.allocated, id)
}

// IsAllocated reports whether id is currently allocated.
func (a *IDAllocator) IsAllocated(id soad.SocketID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, exists := a.allocated[id]
	return exists
}
