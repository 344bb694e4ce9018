package vdba

import "sync/atomic"

// Guard tracks whether a handle is still backed by a live session or
// transaction. Drivers embed or share a Guard in their handles and call
// Check before touching the engine.
//
// The zero value is live.
type Guard struct {
	ended atomic.Bool
}

// Check returns ErrStaleHandle once the guard has been invalidated.
func (g *Guard) Check() error {
	if g.ended.Load() {
		return ErrStaleHandle
	}
	return nil
}

// Invalidate marks the guard as ended. It is safe to call more than once.
func (g *Guard) Invalidate() {
	g.ended.Store(true)
}
