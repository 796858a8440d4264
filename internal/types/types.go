// README: Shared identifiers and coordinates used across modules.
package types

import "fmt"

type ID string

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat" firestore:"latitude"`
	Lng float64 `json:"lng" firestore:"longitude"`
}

// String renders the point in the "lat,lng" form accepted by the Maps APIs.
func (p Point) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}

// Address is the structured part of a geocoded place.
type Address struct {
	Street    string `json:"street,omitempty" firestore:"street,omitempty"`
	City      string `json:"city,omitempty" firestore:"city,omitempty"`
	Formatted string `json:"formatted,omitempty" firestore:"formatted,omitempty"`
}
