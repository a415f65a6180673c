package recorder

import "sync"

// Handle identifies a live connection registered with the Recorder. Handles
// are never reused within a process run.
type Handle int64

// connState is the registry entry for one connection: its persisted id, its
// lifecycle state, and the per-stream sequencing state keyed by stream id.
type connState struct {
	connID int64

	// closed is set on loss or clean end; no further events are accepted.
	// lossRecorded distinguishes a second loss report (ALREADY_RECORDED)
	// from any other event on a closed connection (CONNECTION_CLOSED).
	closed       bool
	lossRecorded bool

	streams map[int64]*streamState
}

// registry maps connection handles to their state. The mutex guards only
// the map and handle allocation; each entry's sequencing state is advanced
// by its single connection worker.
type registry struct {
	mu    sync.Mutex
	next  Handle
	conns map[Handle]*connState
}

func newRegistry() *registry {
	return &registry{conns: make(map[Handle]*connState)}
}

func (r *registry) open(connID int64) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	h := r.next
	r.conns[h] = &connState{
		connID:  connID,
		streams: make(map[int64]*streamState),
	}
	return h
}

func (r *registry) lookup(h Handle) (*connState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cs, ok := r.conns[h]
	return cs, ok
}

// release drops a handle's entry so a reconnecting worker cannot grow
// the registry one connection attempt at a time.
func (r *registry) release(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.conns, h)
}
