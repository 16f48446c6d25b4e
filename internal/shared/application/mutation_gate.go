// Package application holds coordination primitives shared by the booking
// and offline contexts.
package application

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrMutationInFlight is returned when another mutation already holds the
// token for the same appointment.
var ErrMutationInFlight = errors.New("a mutation for this appointment is already in flight")

// MutationGate serializes writes to the agenda and the local cache.
//
// It has two parts: per-appointment tokens held for the lifetime of a
// user-facing transaction, and a single write lock held while the local
// snapshot or the pending queue is being changed.
type MutationGate struct {
	mu       sync.Mutex
	inFlight map[uuid.UUID]struct{}
	sem      chan struct{}
}

// NewMutationGate creates an open gate.
func NewMutationGate() *MutationGate {
	return &MutationGate{
		inFlight: make(map[uuid.UUID]struct{}),
		sem:      make(chan struct{}, 1),
	}
}

// TryAcquire takes the token for id without blocking. The returned release
// func is idempotent.
func (g *MutationGate) TryAcquire(id uuid.UUID) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.inFlight[id]; busy {
		return nil, ErrMutationInFlight
	}
	g.inFlight[id] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.inFlight, id)
			g.mu.Unlock()
		})
	}, nil
}

// InFlight reports whether id currently holds a token.
func (g *MutationGate) InFlight(id uuid.UUID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, busy := g.inFlight[id]
	return busy
}

// Lock takes the write lock, waiting until it is free or ctx is done.
func (g *MutationGate) Lock(ctx context.Context) (func(), error) {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-g.sem })
	}, nil
}

// WithLock runs fn while holding the write lock.
func (g *MutationGate) WithLock(ctx context.Context, fn func(ctx context.Context) error) error {
	unlock, err := g.Lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	return fn(ctx)
}
