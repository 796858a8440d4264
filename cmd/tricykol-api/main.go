// README: Entry point; loads config, wires the dispatch engine and its stores, starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"tricykol/internal/cache"
	"tricykol/internal/config"
	"tricykol/internal/events"
	httptransport "tricykol/internal/http"
	"tricykol/internal/http/handlers"
	"tricykol/internal/infra"
	"tricykol/internal/maps"
	"tricykol/internal/modules/booking"
	"tricykol/internal/modules/dispatch"
	"tricykol/internal/modules/location"
	"tricykol/internal/modules/settlement"
	"tricykol/internal/modules/trip"
	"tricykol/internal/notify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}
	logger := infra.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("tricykol-api stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	shutdownTracer, err := infra.InitTracer(ctx, cfg.OTel.ServiceName, cfg.OTel.Endpoint)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	fb, err := infra.NewFirebase(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile, cfg.Firebase.DatabaseURL)
	if err != nil {
		return err
	}
	defer fb.Close()

	redisClient, err := infra.NewRedis(ctx, cfg.Redis.Addr)
	if err != nil {
		return err
	}
	defer redisClient.Close()
	localCache := cache.NewRedis(redisClient, cfg.Redis.Prefix)

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer dbPool.Close()
	snapshots := location.NewSnapshotStore(dbPool)

	bus := events.NewBus(logger)
	pushNotifier := notify.NewPushNotifier(fb.Messaging, logger)
	bus.Subscribe(pushNotifier)
	defer pushNotifier.Wait()

	if len(cfg.Kafka.Brokers) > 0 {
		sink := events.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		defer sink.Close()
		unsubscribe := bus.Subscribe(sink)
		defer unsubscribe()
	}

	// Without a Realtime Database URL positions stay in Redis and driver
	// status only lands in Firestore.
	var (
		remote  location.RemoteStore
		drivers *dispatch.DriverStore
	)
	if fb.Database != nil {
		rtdb := location.NewFirebaseStore(fb.Database)
		remote = rtdb
		drivers = dispatch.NewDriverStore(fb.Firestore, rtdb)
	} else {
		drivers = dispatch.NewDriverStore(fb.Firestore, nil)
	}

	var (
		routes   trip.RoutePlanner
		geocoder booking.Geocoder
	)
	if cfg.Maps.APIKey != "" {
		client, err := maps.NewClient(cfg.Maps.APIKey)
		if err != nil {
			return err
		}
		routes = maps.NewCachedRoutes(maps.NewRouteService(client, cfg.Maps.Region), localCache, maps.DefaultRouteTTL, logger)
		geocoder = maps.NewGeocodeService(client)
	} else {
		logger.Warn("maps api key not set; routes and reverse geocoding disabled")
	}

	var guardian trip.GuardianNotifier
	if cfg.AMQP.URL != "" {
		queue, err := notify.NewGuardianQueue(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			return err
		}
		defer queue.Close()
		guardian = queue
	}

	bookingStore := booking.NewStore(fb.Firestore)
	bookings := booking.NewService(bookingStore, logger)
	settler := settlement.NewService(settlement.NewStore(fb.Firestore), settlement.Rates{
		BaseFare:                cfg.Fare.BaseFare,
		BaseDistanceMeters:      cfg.Fare.BaseDistanceMeters,
		AdditionalFarePerKm:     cfg.Fare.AdditionalFarePerKm,
		SystemFeePercentage:     cfg.Fare.SystemFeePercentage,
		AdditionalPassengerFare: cfg.Fare.AdditionalPassengerFare,
	}, logger)
	index := dispatch.NewOnlineIndex(redisClient, cfg.Redis.Prefix)

	acquirerCfg := location.DefaultAcquirerConfig()
	acquirerCfg.Retries = cfg.Location.Retries
	acquirerCfg.MaxAcceptableAccuracy = cfg.Location.MaxAcceptableAccuracy
	acquirerCfg.SignificantDistance = cfg.Location.SignificantDistance
	acquirerCfg.WatchInterval = cfg.Location.WatchInterval
	cacheCfg := location.DefaultCacheConfig()
	cacheCfg.MaxAge = cfg.Location.CacheMaxAge
	cacheCfg.RemoteSyncInterval = cfg.Location.RemoteSyncInterval

	registry := dispatch.NewRegistry(ctx, dispatch.Deps{
		Local:     localCache,
		Remote:    remote,
		Snapshots: snapshots,
		Pending:   bookingStore,
		Namer:     booking.NewLocationNamer(geocoder, localCache, logger),
		Bookings:  bookings,
		Trips:     trip.NewStore(fb.Firestore),
		Settler:   settler,
		Routes:    routes,
		Guardian:  guardian,
		Drivers:   drivers,
		Index:     index,
		Bus:       bus,
		Acquirer:  acquirerCfg,
		Cache:     cacheCfg,
		Trip:      trip.DefaultConfig(),
	}, logger)

	api := httptransport.NewServer(httptransport.ServerDeps{
		Sessions: handlers.RegistrySessions(registry),
		Bookings: bookings,
		Drivers:  index,
		History:  snapshots,
		Events:   bus,
		Verifier: fb.Verifier(),
		Logger:   logger,
	})
	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: api.Routes()}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	var errs []error
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := registry.Close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
