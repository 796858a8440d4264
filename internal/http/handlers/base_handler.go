// README: Base handler utilities (JSON helpers, caller checks, engine error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tricykol/internal/http/middleware"
	"tricykol/internal/modules/booking"
	"tricykol/internal/modules/dispatch"
	"tricykol/internal/modules/location"
	"tricykol/internal/modules/settlement"
	"tricykol/internal/modules/trip"
)

type errorResponse struct {
	Error string `json:"error"`
	// Action tells the app what the driver has to do, e.g. "open_settings".
	Action string `json:"action,omitempty"`
	// Retryable marks failures the app may retry as-is.
	Retryable bool `json:"retryable,omitempty"`

	DistanceMeters *float64 `json:"distanceMeters,omitempty"`
	GapMeters      *float64 `json:"gapMeters,omitempty"`
	Shortfall      *float64 `json:"shortfall,omitempty"`
}

// isValidID accepts Firebase uids and Firestore auto-ids.
func isValidID(v string) bool {
	if v == "" || len(v) > 128 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// requireDriver checks that the caller is the driver named by the :id path
// parameter and returns that id.
func requireDriver(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid driver id")
		return "", false
	}
	if middleware.CallerRole(c) != middleware.RoleDriver {
		writeError(c, http.StatusForbidden, "forbidden: driver role required")
		return "", false
	}
	if middleware.CallerUID(c) != id {
		writeError(c, http.StatusForbidden, "forbidden: id does not match authenticated user")
		return "", false
	}
	return id, true
}

// writeEngineError maps location, booking, trip and settlement errors to
// HTTP responses. Unknown errors are logged on the context and hidden.
func writeEngineError(c *gin.Context, err error) {
	var (
		prox     *trip.OutOfProximityError
		shortage *settlement.InsufficientBalanceError
	)
	switch {
	case errors.Is(err, location.ErrPermissionDenied), errors.Is(err, location.ErrServicesDisabled):
		writeJSON(c, http.StatusPreconditionRequired, errorResponse{Error: err.Error(), Action: "open_settings"})
	case errors.Is(err, location.ErrInvalidPosition):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, location.ErrLocationUnavailable), errors.Is(err, location.ErrFixTimeout):
		writeJSON(c, http.StatusServiceUnavailable, errorResponse{Error: err.Error(), Retryable: true})

	case errors.As(err, &prox):
		dist, gap := prox.DistanceMeters, prox.Gap()
		writeJSON(c, http.StatusConflict, errorResponse{Error: err.Error(), DistanceMeters: &dist, GapMeters: &gap})
	case errors.As(err, &shortage):
		short := shortage.Shortfall()
		writeJSON(c, http.StatusPaymentRequired, errorResponse{Error: err.Error(), Action: "top_up_wallet", Shortfall: &short})
	case errors.Is(err, trip.ErrInvalidTransition):
		writeError(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, trip.ErrConcurrentTransition), errors.Is(err, trip.ErrConflict),
		errors.Is(err, settlement.ErrAlreadySettled), errors.Is(err, settlement.ErrSettlementInFlight):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, trip.ErrNoActiveTrip):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, trip.ErrRemoteWriteFailed):
		writeJSON(c, http.StatusServiceUnavailable, errorResponse{Error: err.Error(), Retryable: true})

	case errors.Is(err, booking.ErrBadRequest):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, booking.ErrNotFound), errors.Is(err, settlement.ErrWalletNotFound),
		errors.Is(err, settlement.ErrBookingNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, booking.ErrConflict), errors.Is(err, booking.ErrDriverBusy),
		errors.Is(err, booking.ErrNoRequest), errors.Is(err, settlement.ErrNotAssigned):
		writeError(c, http.StatusConflict, err.Error())

	case errors.Is(err, dispatch.ErrGoingOnline), errors.Is(err, dispatch.ErrOnlineAborted):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, dispatch.ErrClosed):
		writeJSON(c, http.StatusServiceUnavailable, errorResponse{Error: "shutting down"})
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
