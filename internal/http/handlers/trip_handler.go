// README: Trip handlers (current trip and status transitions).
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tricykol/internal/modules/booking"
	"tricykol/internal/modules/location"
	"tricykol/internal/modules/trip"
	"tricykol/internal/types"
)

type TripHandler struct {
	sessions Sessions
}

func NewTripHandler(sessions Sessions) *TripHandler {
	return &TripHandler{sessions: sessions}
}

type tripResp struct {
	Trip     booking.ActiveTrip `json:"trip"`
	Allowed  []trip.Status      `json:"allowedTransitions"`
	Position *location.Position `json:"position,omitempty"`
}

func (h *TripHandler) session(c *gin.Context) (DriverSession, bool) {
	id, ok := requireDriver(c)
	if !ok {
		return nil, false
	}
	s, err := h.sessions.Session(c.Request.Context(), types.ID(id))
	if err != nil {
		writeEngineError(c, err)
		return nil, false
	}
	return s, true
}

func (h *TripHandler) Get(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	at, found := s.Trip()
	if !found {
		writeEngineError(c, trip.ErrNoActiveTrip)
		return
	}
	resp := tripResp{Trip: at, Allowed: trip.AllowedTransitions[trip.Status(at.Status)]}
	if resp.Allowed == nil {
		resp.Allowed = []trip.Status{}
	}
	if p, found, err := s.LastPosition(c.Request.Context()); err == nil && found {
		resp.Position = &p
	}
	writeJSON(c, http.StatusOK, resp)
}

type transitionReq struct {
	Status trip.Status `json:"status" binding:"required"`
}

func (h *TripHandler) Transition(c *gin.Context) {
	var req transitionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if !req.Status.Valid() {
		writeError(c, http.StatusBadRequest, "unknown status")
		return
	}
	s, ok := h.session(c)
	if !ok {
		return
	}
	res, err := s.Transition(c.Request.Context(), req.Status)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}
