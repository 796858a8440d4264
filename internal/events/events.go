// README: Typed engine events and an in-process bus that fans them out to listeners.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tricykol/internal/types"
)

type Kind string

const (
	PositionUpdated       Kind = "position_updated"
	TripStatusChanged     Kind = "trip_status_changed"
	SettlementCompleted   Kind = "settlement_completed"
	NearbyBookingsUpdated Kind = "nearby_bookings_updated"
	ProximityChanged      Kind = "proximity_changed"
)

// Event is published for every observable engine change. Payload is a
// kind-specific value (see the payload types below).
type Event struct {
	Kind       Kind      `json:"kind"`
	DriverID   types.ID  `json:"driverId"`
	BookingID  types.ID  `json:"bookingId,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    any       `json:"payload,omitempty"`
}

type StatusChange struct {
	From       string `json:"from"`
	To         string `json:"to"`
	Tentative  bool   `json:"tentative"`
	RolledBack bool   `json:"rolledBack"`
}

type Proximity struct {
	Target         string  `json:"target"`
	Within         bool    `json:"within"`
	DistanceMeters float64 `json:"distanceMeters"`
}

type Listener interface {
	Handle(ctx context.Context, ev Event)
}

type ListenerFunc func(ctx context.Context, ev Event)

func (f ListenerFunc) Handle(ctx context.Context, ev Event) { f(ctx, ev) }

// Bus delivers events synchronously in subscription order. Listeners that
// do I/O should hand off to their own goroutine.
type Bus struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[int]Listener
	order     []int
	logger    *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{listeners: make(map[int]Listener), logger: logger}
}

// Subscribe registers l and returns a function that removes it.
func (b *Bus) Subscribe(l Listener) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = l
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.listeners, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (b *Bus) Publish(ctx context.Context, ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	b.mu.RLock()
	targets := make([]Listener, 0, len(b.order))
	for _, id := range b.order {
		targets = append(targets, b.listeners[id])
	}
	b.mu.RUnlock()

	for _, l := range targets {
		b.deliver(ctx, l, ev)
	}
}

func (b *Bus) deliver(ctx context.Context, l Listener, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("event listener panicked", "kind", ev.Kind, "error", rec)
		}
	}()
	l.Handle(ctx, ev)
}
