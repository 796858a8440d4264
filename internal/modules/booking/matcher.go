// README: Nearby booking matcher; keeps a driver's grouped, distance-sorted view of pending bookings.
package booking

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"tricykol/internal/events"
	"tricykol/internal/geo"
	"tricykol/internal/types"
)

type Feed interface {
	WatchPending(ctx context.Context, fn func([]Booking)) error
}

type Namer interface {
	Name(ctx context.Context, p Place) string
}

type Publisher interface {
	Publish(ctx context.Context, ev events.Event)
}

type Nearby struct {
	Booking        Booking `json:"booking"`
	DistanceMeters float64 `json:"distanceMeters"`
	ETAMinutes     int     `json:"etaMinutes"`
	OwnRequest     bool    `json:"ownRequest"`
}

type Group struct {
	Name     string   `json:"name"`
	Bookings []Nearby `json:"bookings"`
}

const (
	feedRetryMin = time.Second
	feedRetryMax = 30 * time.Second
)

type Matcher struct {
	driverID types.ID
	feed     Feed
	namer    Namer
	bus      Publisher
	radius   float64
	logger   *slog.Logger
	retryMin time.Duration
	retryMax time.Duration

	mu       sync.Mutex
	online   bool
	stopFeed context.CancelFunc
	feedGen  int
	pending  []Booking
	position *types.Point
	groups   []Group

	computeMu sync.Mutex
}

func NewMatcher(driverID types.ID, feed Feed, namer Namer, bus Publisher, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{
		driverID: driverID,
		feed:     feed,
		namer:    namer,
		bus:      bus,
		radius:   geo.NearbySearchRadiusMeters,
		logger:   logger.With("driver_id", driverID),
		retryMin: feedRetryMin,
		retryMax: feedRetryMax,
	}
}

// SetOnline connects or disconnects the pending-booking feed. Going offline
// clears the results. ctx bounds the feed and must outlive the request.
func (m *Matcher) SetOnline(ctx context.Context, online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	m.feedGen++
	gen := m.feedGen
	if m.stopFeed != nil {
		m.stopFeed()
		m.stopFeed = nil
	}
	if !online {
		m.pending = nil
		m.groups = nil
		m.mu.Unlock()
		m.publish(ctx, nil)
		return
	}
	feedCtx, cancel := context.WithCancel(ctx)
	m.stopFeed = cancel
	m.mu.Unlock()

	go m.runFeed(feedCtx, gen)
}

// runFeed keeps the pending-booking subscription alive for one online
// period. A dropped feed clears the results until it is back.
func (m *Matcher) runFeed(ctx context.Context, gen int) {
	backoff := m.retryMin
	for {
		var received atomic.Bool
		err := m.feed.WatchPending(ctx, func(bs []Booking) {
			received.Store(true)
			m.onSnapshot(ctx, gen, bs)
		})
		if ctx.Err() != nil || !m.isCurrent(gen) {
			return
		}
		if received.Load() {
			backoff = m.retryMin
		}
		m.logger.Warn("pending bookings feed dropped, resubscribing", "error", err, "backoff", backoff)
		m.dropResults(ctx, gen)

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		backoff *= 2
		if backoff > m.retryMax {
			backoff = m.retryMax
		}
	}
}

func (m *Matcher) isCurrent(gen int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online && gen == m.feedGen
}

func (m *Matcher) dropResults(ctx context.Context, gen int) {
	m.mu.Lock()
	if !m.online || gen != m.feedGen {
		m.mu.Unlock()
		return
	}
	m.pending = nil
	hadGroups := m.groups != nil
	m.groups = nil
	m.mu.Unlock()
	if hadGroups {
		m.publish(ctx, nil)
	}
}

func (m *Matcher) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *Matcher) onSnapshot(ctx context.Context, gen int, bs []Booking) {
	m.mu.Lock()
	if !m.online || gen != m.feedGen {
		m.mu.Unlock()
		return
	}
	m.pending = bs
	m.mu.Unlock()
	m.recompute(ctx)
}

// UpdatePosition recomputes the view for a new driver position without
// touching the feed.
func (m *Matcher) UpdatePosition(ctx context.Context, p types.Point) {
	m.mu.Lock()
	m.position = &p
	online := m.online
	m.mu.Unlock()
	if online {
		m.recompute(ctx)
	}
}

func (m *Matcher) Results() []Group {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.groups
}

func (m *Matcher) recompute(ctx context.Context) {
	m.computeMu.Lock()
	defer m.computeMu.Unlock()

	m.mu.Lock()
	if !m.online || m.position == nil {
		m.mu.Unlock()
		return
	}
	gen := m.feedGen
	pos := *m.position
	pending := m.pending
	m.mu.Unlock()

	groups := m.match(ctx, pos, pending)

	m.mu.Lock()
	if !m.online || gen != m.feedGen {
		m.mu.Unlock()
		return
	}
	m.groups = groups
	m.mu.Unlock()
	m.publish(ctx, groups)
}

// match filters to the search radius, always keeping bookings this driver
// already requested, then groups by location name. Groups come out ordered
// by their nearest booking.
func (m *Matcher) match(ctx context.Context, pos types.Point, pending []Booking) []Group {
	var nearby []Nearby
	for _, b := range pending {
		est := geo.DistanceAndETA(pos, b.Pickup.Point())
		own := b.HasPendingRequestFrom(m.driverID)
		if est.DistanceMeters > m.radius && !own {
			continue
		}
		nearby = append(nearby, Nearby{
			Booking:        b,
			DistanceMeters: est.DistanceMeters,
			ETAMinutes:     est.ETAMinutes,
			OwnRequest:     own,
		})
	}
	geo.SortByDistance(nearby, func(n Nearby) float64 { return n.DistanceMeters })

	var groups []Group
	index := make(map[string]int)
	for _, n := range nearby {
		name := UnknownLocation
		if m.namer != nil {
			name = m.namer.Name(ctx, n.Booking.Pickup)
		}
		i, ok := index[name]
		if !ok {
			i = len(groups)
			index[name] = i
			groups = append(groups, Group{Name: name})
		}
		groups[i].Bookings = append(groups[i].Bookings, n)
	}
	return groups
}

func (m *Matcher) publish(ctx context.Context, groups []Group) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(ctx, events.Event{
		Kind:     events.NearbyBookingsUpdated,
		DriverID: m.driverID,
		Payload:  groups,
	})
}
