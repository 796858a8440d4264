// README: Geolocation provider contract and the device-pushed implementation used server-side.
package location

import (
	"context"
	"sync"
	"time"
)

// Provider is the geolocation source consumed by the Acquirer.
type Provider interface {
	ServicesEnabled(ctx context.Context) (bool, error)
	ForegroundPermission(ctx context.Context) (Permission, error)
	RequestForegroundPermission(ctx context.Context) (Permission, error)
	CurrentFix(ctx context.Context, tier Tier) (Position, error)
	LastKnown(ctx context.Context) (Position, bool, error)
	Watch(ctx context.Context, cfg WatchConfig, onFix func(Position), onErr func(error)) (Subscription, error)
}

// DeviceFeed is a Provider fed by the driver app over HTTP. The device
// reports its permission state and pushes raw fixes; the feed hands them to
// one-shot waiters and watch subscribers.
type DeviceFeed struct {
	mu              sync.Mutex
	permission      Permission
	servicesEnabled bool
	promptRequested bool
	last            *Position
	waiters         []chan Position
	subs            map[int]*feedSub
	nextSub         int
	now             func() time.Time
}

func NewDeviceFeed() *DeviceFeed {
	return &DeviceFeed{
		permission:      PermissionUndetermined,
		servicesEnabled: true,
		subs:            make(map[int]*feedSub),
		now:             time.Now,
	}
}

func (f *DeviceFeed) SetAccess(permission Permission, servicesEnabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.permission = permission
	f.servicesEnabled = servicesEnabled
	if permission == PermissionGranted {
		f.promptRequested = false
	}
}

// PromptRequested reports whether the engine asked for permission since the
// device last reported it, so the app can show the system prompt.
func (f *DeviceFeed) PromptRequested() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.promptRequested
}

// Push records a fix reported by the device. A fix implies the device has
// location access.
func (f *DeviceFeed) Push(p Position) error {
	if !p.Valid() {
		return ErrInvalidPosition
	}
	f.mu.Lock()
	f.permission = PermissionGranted
	f.servicesEnabled = true
	f.promptRequested = false
	if f.last != nil && p.CapturedAt.Before(f.last.CapturedAt) {
		f.mu.Unlock()
		return nil
	}
	cp := p
	f.last = &cp
	waiters := f.waiters
	f.waiters = nil
	subs := make([]*feedSub, 0, len(f.subs))
	for _, s := range f.subs {
		subs = append(subs, s)
	}
	f.mu.Unlock()

	for _, w := range waiters {
		w <- p
	}
	for _, s := range subs {
		s.deliver(p)
	}
	return nil
}

func (f *DeviceFeed) ServicesEnabled(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.servicesEnabled, nil
}

func (f *DeviceFeed) ForegroundPermission(context.Context) (Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.permission, nil
}

func (f *DeviceFeed) RequestForegroundPermission(context.Context) (Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.permission != PermissionGranted {
		f.promptRequested = true
	}
	return f.permission, nil
}

func (f *DeviceFeed) CurrentFix(ctx context.Context, tier Tier) (Position, error) {
	f.mu.Lock()
	if f.last != nil && tier.MaxAge > 0 && f.last.Age(f.now()) <= tier.MaxAge {
		p := *f.last
		f.mu.Unlock()
		return p, nil
	}
	ch := make(chan Position, 1)
	f.waiters = append(f.waiters, ch)
	f.mu.Unlock()

	var timeout <-chan time.Time
	if tier.Timeout > 0 {
		t := time.NewTimer(tier.Timeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case p := <-ch:
		return p, nil
	case <-timeout:
		f.dropWaiter(ch)
		return Position{}, ErrFixTimeout
	case <-ctx.Done():
		f.dropWaiter(ch)
		return Position{}, ctx.Err()
	}
}

func (f *DeviceFeed) dropWaiter(ch chan Position) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, w := range f.waiters {
		if w == ch {
			f.waiters = append(f.waiters[:i], f.waiters[i+1:]...)
			return
		}
	}
}

func (f *DeviceFeed) LastKnown(context.Context) (Position, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return Position{}, false, nil
	}
	return *f.last, true, nil
}

// Watch subscribes to pushed fixes. The subscription ends on Stop or when ctx
// is done. onErr is unused by this provider since pushes cannot fail
// asynchronously.
func (f *DeviceFeed) Watch(ctx context.Context, cfg WatchConfig, onFix func(Position), _ func(error)) (Subscription, error) {
	f.mu.Lock()
	id := f.nextSub
	f.nextSub++
	s := &feedSub{feed: f, id: id, cfg: cfg, onFix: onFix}
	f.subs[id] = s
	f.mu.Unlock()

	stop := context.AfterFunc(ctx, s.Stop)
	s.mu.Lock()
	s.stopCtx = stop
	s.mu.Unlock()
	return s, nil
}

type feedSub struct {
	feed    *DeviceFeed
	id      int
	cfg     WatchConfig
	onFix   func(Position)
	stopCtx func() bool

	mu        sync.Mutex
	stopped   bool
	delivered *Position
}

func (s *feedSub) deliver(p Position) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if s.delivered != nil && s.cfg.MinInterval > 0 && p.CapturedAt.Sub(s.delivered.CapturedAt) < s.cfg.MinInterval {
		s.mu.Unlock()
		return
	}
	cp := p
	s.delivered = &cp
	s.mu.Unlock()
	s.onFix(p)
}

func (s *feedSub) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	stop := s.stopCtx
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
	s.feed.mu.Lock()
	delete(s.feed.subs, s.id)
	s.feed.mu.Unlock()
}
