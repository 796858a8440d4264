// README: Driver handlers (device access, fixes, online state, nearby bookings, ride requests, history).
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tricykol/internal/modules/booking"
	"tricykol/internal/modules/location"
	"tricykol/internal/types"
)

// HistoryReader lists recorded position snapshots.
type HistoryReader interface {
	ListSnapshots(ctx context.Context, ownerID types.ID, since time.Time, limit int) ([]location.Snapshot, error)
}

type DriverHandler struct {
	sessions Sessions
	history  HistoryReader
}

// NewDriverHandler accepts a nil history reader; History then answers 404.
func NewDriverHandler(sessions Sessions, history HistoryReader) *DriverHandler {
	return &DriverHandler{sessions: sessions, history: history}
}

func (h *DriverHandler) session(c *gin.Context) (DriverSession, bool) {
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

type accessReq struct {
	Permission      location.Permission `json:"permission" binding:"required"`
	ServicesEnabled *bool               `json:"servicesEnabled" binding:"required"`
}

type accessResp struct {
	Permission      location.Permission `json:"permission"`
	ServicesEnabled bool                `json:"servicesEnabled"`
	PromptRequested bool                `json:"promptRequested"`
}

func (h *DriverHandler) SetAccess(c *gin.Context) {
	var req accessReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	switch req.Permission {
	case location.PermissionGranted, location.PermissionDenied, location.PermissionUndetermined:
	default:
		writeError(c, http.StatusBadRequest, "unknown permission")
		return
	}
	s, ok := h.session(c)
	if !ok {
		return
	}
	s.SetAccess(req.Permission, *req.ServicesEnabled)
	writeJSON(c, http.StatusOK, accessResp{
		Permission:      req.Permission,
		ServicesEnabled: *req.ServicesEnabled,
		PromptRequested: s.PromptRequested(),
	})
}

type fixReq struct {
	Lat        *float64   `json:"lat"`
	Lng        *float64   `json:"lng"`
	Accuracy   *float64   `json:"accuracy"`
	Heading    *float64   `json:"heading"`
	Speed      *float64   `json:"speed"`
	CapturedAt *time.Time `json:"capturedAt"`
}

func (f fixReq) position(now time.Time) (location.Position, bool) {
	if f.Lat == nil || f.Lng == nil || f.Accuracy == nil {
		return location.Position{}, false
	}
	p := location.Position{
		Lat:        *f.Lat,
		Lng:        *f.Lng,
		Accuracy:   *f.Accuracy,
		Heading:    f.Heading,
		Speed:      f.Speed,
		CapturedAt: now,
	}
	if f.CapturedAt != nil {
		p.CapturedAt = *f.CapturedAt
	}
	return p, p.Valid()
}

// PushFix accepts one fix or a batch, oldest first. The whole batch is
// checked before any fix reaches the session.
func (h *DriverHandler) PushFix(c *gin.Context) {
	var batch struct {
		Fixes []fixReq `json:"fixes"`
		fixReq
	}
	if err := c.ShouldBindJSON(&batch); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	fixes := batch.Fixes
	if len(fixes) == 0 {
		fixes = []fixReq{batch.fixReq}
	}
	s, ok := h.session(c)
	if !ok {
		return
	}
	now := time.Now()
	positions := make([]location.Position, 0, len(fixes))
	for i, f := range fixes {
		p, ok := f.position(now)
		if !ok {
			writeError(c, http.StatusBadRequest, fmt.Sprintf("fix %d needs valid lat, lng and a positive accuracy", i))
			return
		}
		positions = append(positions, p)
	}
	for i, p := range positions {
		if err := s.PushFix(p); err != nil {
			c.Header("X-Fixes-Accepted", strconv.Itoa(i))
			writeEngineError(c, err)
			return
		}
	}
	writeJSON(c, http.StatusAccepted, map[string]any{"accepted": len(positions)})
}

type onlineResp struct {
	Online   bool               `json:"online"`
	Position *location.Position `json:"position,omitempty"`
}

func (h *DriverHandler) GoOnline(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.GoOnline(c.Request.Context()); err != nil {
		writeEngineError(c, err)
		return
	}
	resp := onlineResp{Online: true}
	if p, found, err := s.LastPosition(c.Request.Context()); err == nil && found {
		resp.Position = &p
	}
	writeJSON(c, http.StatusOK, resp)
}

func (h *DriverHandler) GoOffline(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.GoOffline(c.Request.Context()); err != nil {
		writeEngineError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, onlineResp{Online: false})
}

type nearbyResp struct {
	Online bool            `json:"online"`
	Groups []booking.Group `json:"groups"`
}

func (h *DriverHandler) Nearby(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	groups := s.Nearby()
	if groups == nil {
		groups = []booking.Group{}
	}
	writeJSON(c, http.StatusOK, nearbyResp{Online: s.Online(), Groups: groups})
}

func (h *DriverHandler) RequestBooking(c *gin.Context) {
	bookingID := c.Param("bookingId")
	if !isValidID(bookingID) {
		writeError(c, http.StatusBadRequest, "invalid booking id")
		return
	}
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.RequestBooking(c.Request.Context(), types.ID(bookingID)); err != nil {
		writeEngineError(c, err)
		return
	}
	writeJSON(c, http.StatusAccepted, map[string]any{"bookingId": bookingID, "status": booking.RequestPending})
}

func (h *DriverHandler) History(c *gin.Context) {
	id, ok := requireDriver(c)
	if !ok {
		return
	}
	if h.history == nil {
		writeError(c, http.StatusNotFound, "position history disabled")
		return
	}
	since := time.Now().Add(-24 * time.Hour)
	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(c, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = t
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(c, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	snaps, err := h.history.ListSnapshots(c.Request.Context(), types.ID(id), since, limit)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	if snaps == nil {
		snaps = []location.Snapshot{}
	}
	writeJSON(c, http.StatusOK, map[string]any{"snapshots": snaps})
}
