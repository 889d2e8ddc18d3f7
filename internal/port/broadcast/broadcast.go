// Package broadcast defines the port for pushing real-time gate and turn
// events to connected clients.
package broadcast

import "context"

// Broadcaster sends real-time events to connected clients.
type Broadcaster interface {
	// BroadcastEvent sends a typed event. Payloads that carry a session are
	// delivered only to clients subscribed to that session.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// Fanout delivers every event to each of its broadcasters in order.
type Fanout []Broadcaster

// BroadcastEvent implements Broadcaster.
func (f Fanout) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	for _, b := range f {
		b.BroadcastEvent(ctx, eventType, payload)
	}
}
