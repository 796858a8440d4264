// README: Acquirer produces filtered fixes: tiered one-shot reads and a movement-filtered watch.
package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tricykol/internal/geo"
)

type AcquirerConfig struct {
	Tiers   []Tier
	Retries int
	// MaxAcceptableAccuracy is the accuracy radius in metres above which a
	// fix is noise.
	MaxAcceptableAccuracy float64
	SignificantDistance   float64
	WatchInterval         time.Duration
}

func DefaultAcquirerConfig() AcquirerConfig {
	return AcquirerConfig{
		Tiers:                 DefaultTiers,
		Retries:               2,
		MaxAcceptableAccuracy: 50,
		SignificantDistance:   10,
		WatchInterval:         time.Second,
	}
}

// PositionSink receives every fix the Acquirer accepts.
type PositionSink interface {
	Write(ctx context.Context, p Position) error
}

type Acquirer struct {
	provider Provider
	sink     PositionSink
	cfg      AcquirerConfig
	logger   *slog.Logger
}

func NewAcquirer(provider Provider, sink PositionSink, cfg AcquirerConfig, logger *slog.Logger) *Acquirer {
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = DefaultTiers
	}
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Acquirer{provider: provider, sink: sink, cfg: cfg, logger: logger}
}

// EnsureAccess checks that location services are on and foreground
// permission is granted, requesting it once if needed.
func (a *Acquirer) EnsureAccess(ctx context.Context) error {
	enabled, err := a.provider.ServicesEnabled(ctx)
	if err != nil {
		return fmt.Errorf("checking location services: %w", err)
	}
	if !enabled {
		return ErrServicesDisabled
	}
	perm, err := a.provider.ForegroundPermission(ctx)
	if err != nil {
		return fmt.Errorf("checking location permission: %w", err)
	}
	if perm == PermissionGranted {
		return nil
	}
	perm, err = a.provider.RequestForegroundPermission(ctx)
	if err != nil {
		return fmt.Errorf("requesting location permission: %w", err)
	}
	if perm != PermissionGranted {
		return ErrPermissionDenied
	}
	return nil
}

// CurrentFix walks the tier ladder up to Retries times. Noisy fixes are kept
// aside and the most accurate one is returned only when nothing better
// turned up.
func (a *Acquirer) CurrentFix(ctx context.Context) (Position, error) {
	if err := a.EnsureAccess(ctx); err != nil {
		return Position{}, err
	}

	var best *Position
	for attempt := 1; attempt <= a.cfg.Retries; attempt++ {
		for _, tier := range a.cfg.Tiers {
			if err := ctx.Err(); err != nil {
				return Position{}, err
			}
			p, err := a.tryTier(ctx, tier)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return Position{}, err
				}
				a.logger.Debug("fix attempt failed", "tier", tier.Name, "attempt", attempt, "error", err)
				continue
			}
			if !p.Valid() {
				continue
			}
			if p.Accuracy <= a.cfg.MaxAcceptableAccuracy {
				a.persist(ctx, p)
				return p, nil
			}
			if best == nil || p.Accuracy < best.Accuracy {
				cp := p
				best = &cp
			}
		}
	}

	if best != nil {
		a.logger.Warn("using degraded location fix",
			"accuracy_m", best.Accuracy,
			"max_acceptable_m", a.cfg.MaxAcceptableAccuracy,
		)
		a.persist(ctx, *best)
		return *best, nil
	}
	return Position{}, ErrLocationUnavailable
}

func (a *Acquirer) tryTier(ctx context.Context, tier Tier) (Position, error) {
	if tier.LastKnown {
		p, ok, err := a.provider.LastKnown(ctx)
		if err != nil {
			return Position{}, err
		}
		if !ok {
			return Position{}, ErrLocationUnavailable
		}
		return p, nil
	}
	tctx := ctx
	if tier.Timeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, tier.Timeout)
		defer cancel()
	}
	p, err := a.provider.CurrentFix(tctx, tier)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return Position{}, ErrFixTimeout
	}
	return p, err
}

func (a *Acquirer) persist(ctx context.Context, p Position) {
	if a.sink == nil {
		return
	}
	if err := a.sink.Write(ctx, p); err != nil {
		a.logger.Warn("caching position", "error", err)
	}
}

// Watch subscribes to the provider and forwards only fixes that pass the
// significant-movement filter.
func (a *Acquirer) Watch(ctx context.Context, onFix func(Position), onErr func(error)) (Subscription, error) {
	if err := a.EnsureAccess(ctx); err != nil {
		return nil, err
	}
	filter := &movementFilter{
		minDistance: a.cfg.SignificantDistance,
		maxAccuracy: a.cfg.MaxAcceptableAccuracy,
	}
	cfg := WatchConfig{
		HighAccuracy:   true,
		MinInterval:    a.cfg.WatchInterval,
		DistanceFilter: a.cfg.SignificantDistance,
	}
	return a.provider.Watch(ctx, cfg, func(p Position) {
		if !filter.accept(p) {
			return
		}
		a.persist(ctx, p)
		onFix(p)
	}, func(err error) {
		a.logger.Warn("location watch error", "error", err)
		if onErr != nil {
			onErr(err)
		}
	})
}

type movementFilter struct {
	mu          sync.Mutex
	minDistance float64
	maxAccuracy float64
	last        *Position
}

// accept reports whether p moved far enough from the last accepted fix. The
// movement must exceed both the configured distance and the combined
// accuracy radii of the two fixes.
func (f *movementFilter) accept(p Position) bool {
	if !p.Valid() {
		return false
	}
	if f.maxAccuracy > 0 && p.Accuracy > f.maxAccuracy {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		cp := p
		f.last = &cp
		return true
	}
	moved := geo.HaversineMeters(f.last.Point(), p.Point())
	if moved <= f.minDistance || moved <= f.last.Accuracy+p.Accuracy {
		return false
	}
	cp := p
	f.last = &cp
	return true
}
