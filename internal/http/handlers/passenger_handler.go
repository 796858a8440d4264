// README: Passenger handlers (online drivers around a point).
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tricykol/internal/geo"
	"tricykol/internal/modules/dispatch"
	"tricykol/internal/types"
)

const (
	defaultDriverRadiusMeters = 700
	maxDriverRadiusMeters     = 5000
	defaultDriverLimit        = 20
)

type DriverFinder interface {
	Nearby(ctx context.Context, p types.Point, radiusMeters float64, limit int) ([]dispatch.NearbyDriver, error)
}

type PassengerHandler struct {
	drivers DriverFinder
}

func NewPassengerHandler(drivers DriverFinder) *PassengerHandler {
	return &PassengerHandler{drivers: drivers}
}

// NearbyDrivers lists online drivers around ?lat=&lng=, nearest first.
func (h *PassengerHandler) NearbyDrivers(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	p := types.Point{Lat: lat, Lng: lng}
	if errLat != nil || errLng != nil || !geo.ValidPoint(p) {
		writeError(c, http.StatusBadRequest, "lat and lng are required")
		return
	}
	radius := float64(defaultDriverRadiusMeters)
	if v := c.Query("radius"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil || r <= 0 || r > maxDriverRadiusMeters {
			writeError(c, http.StatusBadRequest, "invalid radius")
			return
		}
		radius = r
	}
	drivers, err := h.drivers.Nearby(c.Request.Context(), p, radius, defaultDriverLimit)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	if drivers == nil {
		drivers = []dispatch.NearbyDriver{}
	}
	writeJSON(c, http.StatusOK, map[string]any{"drivers": drivers})
}
