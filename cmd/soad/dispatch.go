package main

import "context"

// dispatcher serializes every call into the adaptor onto a single goroutine,
// satisfying its single-threaded cooperative contract: transport callbacks
// arrive on arbitrary goroutines spawned by transport.Manager, and the tick
// and admin-snapshot paths each run on their own goroutine, so all of them
// submit work here instead of calling the adaptor directly.
type dispatcher struct {
	work chan func()
}

func newDispatcher() *dispatcher {
	return &dispatcher{work: make(chan func())}
}

// run drains submitted work one at a time until ctx is cancelled.
func (d *dispatcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-d.work:
			fn()
		}
	}
}

// do submits fn and blocks until it has run, or ctx is cancelled first. A
// transport callback that calls do relies on this blocking: the caller
// holds its read buffer live until fn returns, so the submitted closure
// must finish before the caller's loop reuses it.
func (d *dispatcher) do(ctx context.Context, fn func()) {
	done := make(chan struct{})
	wrapped := func() {
		fn()
		close(done)
	}
	select {
	case d.work <- wrapped:
	case <-ctx.Done():
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}
