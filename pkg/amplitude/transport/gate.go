package transport

import (
	"context"
	"sync/atomic"

	"github.com/randalmurphal/amplitude/pkg/amplitude/event"
)

// Gate wraps a Transport with an offline switch. While offline, every call
// reports Success without reaching the wrapped transport, so the queue
// drains as if delivery succeeded.
type Gate struct {
	next    Transport
	offline atomic.Bool
}

// Compile-time interface check.
var _ Transport = (*Gate)(nil)

// NewGate wraps next.
func NewGate(next Transport, offline bool) *Gate {
	g := &Gate{next: next}
	g.offline.Store(offline)
	return g
}

// SetOffline toggles offline mode.
func (g *Gate) SetOffline(offline bool) {
	g.offline.Store(offline)
}

// Offline reports whether offline mode is on.
func (g *Gate) Offline() bool {
	return g.offline.Load()
}

// Unwrap returns the wrapped transport.
func (g *Gate) Unwrap() Transport {
	return g.next
}

// SendEvents implements Transport.
func (g *Gate) SendEvents(ctx context.Context, batch []*event.TrackEvent) (Result, error) {
	if g.Offline() {
		return Success, nil
	}
	return g.next.SendEvents(ctx, batch)
}

// SendIdentify implements Transport.
func (g *Gate) SendIdentify(ctx context.Context, e *event.IdentifyEvent) (Result, error) {
	if g.Offline() {
		return Success, nil
	}
	return g.next.SendIdentify(ctx, e)
}
