// README: API gateway; registers gin routes and delegates to the dispatch engine.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tricykol/internal/http/handlers"
	"tricykol/internal/http/middleware"
	"tricykol/internal/infra"
)

// ServerDeps wires the handlers. Drivers and History are optional and their
// routes are only registered when set.
type ServerDeps struct {
	Sessions handlers.Sessions
	Bookings handlers.BookingReader
	Drivers  handlers.DriverFinder
	History  handlers.HistoryReader
	Events   handlers.Subscriber
	Verifier infra.TokenVerifier
	Logger   *slog.Logger
}

type Server struct {
	deps ServerDeps
}

func NewServer(deps ServerDeps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Server{deps: deps}
}

func (s *Server) Routes() http.Handler {
	r := gin.New()
	r.Use(middleware.Logging(s.deps.Logger), middleware.Recovery(s.deps.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", middleware.Auth(s.deps.Verifier))

	driverHandler := handlers.NewDriverHandler(s.deps.Sessions, s.deps.History)
	tripHandler := handlers.NewTripHandler(s.deps.Sessions)
	eventsHandler := handlers.NewEventsHandler(s.deps.Events, s.deps.Logger)

	drivers := api.Group("/drivers/:id")
	drivers.PUT("/access", driverHandler.SetAccess)
	drivers.POST("/fixes", driverHandler.PushFix)
	drivers.POST("/online", driverHandler.GoOnline)
	drivers.POST("/offline", driverHandler.GoOffline)
	drivers.GET("/nearby", driverHandler.Nearby)
	drivers.POST("/bookings/:bookingId/request", driverHandler.RequestBooking)
	drivers.GET("/trip", tripHandler.Get)
	drivers.POST("/trip/transition", tripHandler.Transition)
	drivers.GET("/events", eventsHandler.Stream)
	if s.deps.History != nil {
		drivers.GET("/history", driverHandler.History)
	}

	bookingHandler := handlers.NewBookingHandler(s.deps.Bookings, s.deps.Sessions)
	api.POST("/bookings/:bookingId/accept", bookingHandler.Accept)

	if s.deps.Drivers != nil {
		passengerHandler := handlers.NewPassengerHandler(s.deps.Drivers)
		api.GET("/passengers/nearby-drivers", passengerHandler.NearbyDrivers)
	}
	return r
}
