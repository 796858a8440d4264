// README: Booking handlers (passenger accepts a driver's ride request).
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"tricykol/internal/http/middleware"
	"tricykol/internal/modules/booking"
	"tricykol/internal/types"
)

type BookingReader interface {
	Get(ctx context.Context, id types.ID) (*booking.Booking, error)
}

type BookingHandler struct {
	bookings BookingReader
	sessions Sessions
}

func NewBookingHandler(bookings BookingReader, sessions Sessions) *BookingHandler {
	return &BookingHandler{bookings: bookings, sessions: sessions}
}

type acceptReq struct {
	DriverID string `json:"driverId" binding:"required"`
}

// Accept assigns the booking to one of the drivers who requested it. Only
// the passenger who owns the booking may accept.
func (h *BookingHandler) Accept(c *gin.Context) {
	bookingID := c.Param("bookingId")
	if !isValidID(bookingID) {
		writeError(c, http.StatusBadRequest, "invalid booking id")
		return
	}
	var req acceptReq
	if err := c.ShouldBindJSON(&req); err != nil || !isValidID(req.DriverID) {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	b, err := h.bookings.Get(c.Request.Context(), types.ID(bookingID))
	if err != nil {
		writeEngineError(c, err)
		return
	}
	if b.PassengerID != middleware.CallerUID(c) {
		writeError(c, http.StatusForbidden, "forbidden: booking belongs to another passenger")
		return
	}
	at, err := h.sessions.Accept(c.Request.Context(), booking.AcceptCommand{
		BookingID: types.ID(bookingID),
		DriverID:  types.ID(req.DriverID),
	})
	if err != nil {
		writeEngineError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, at)
}
