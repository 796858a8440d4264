// README: Booking and active-trip documents as stored in Firestore.
package booking

import (
	"errors"
	"time"

	"tricykol/internal/types"
)

var (
	ErrNotFound   = errors.New("booking not found")
	ErrConflict   = errors.New("booking state conflict")
	ErrDriverBusy = errors.New("driver already has an active trip")
	ErrNoRequest  = errors.New("driver has no pending request on booking")
	ErrBadRequest = errors.New("bad request")
)

const (
	bookingsCollection    = "bookings"
	activeTripsCollection = "activeTrips"
)

// Status values shared by bookings and active trips. The trip lifecycle
// after acceptance is owned by the trip module.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusCancelled Status = "cancelled"
)

type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestAccepted  RequestStatus = "accepted"
	RequestRejected  RequestStatus = "rejected"
	RequestCompleted RequestStatus = "completed"
)

type Place struct {
	Latitude  float64        `json:"latitude" firestore:"latitude"`
	Longitude float64        `json:"longitude" firestore:"longitude"`
	Name      string         `json:"name,omitempty" firestore:"name,omitempty"`
	Address   *types.Address `json:"address,omitempty" firestore:"address,omitempty"`
	Geohash   string         `json:"geohash,omitempty" firestore:"geohash,omitempty"`
}

func (p Place) Point() types.Point {
	return types.Point{Lat: p.Latitude, Lng: p.Longitude}
}

type DriverRequest struct {
	Status    RequestStatus `json:"status" firestore:"status"`
	Timestamp time.Time     `json:"timestamp" firestore:"timestamp"`
}

// GuardianNotification is the optional contact alerted when the trip starts.
type GuardianNotification struct {
	Name         string `json:"name" firestore:"name"`
	PhoneNumber  string `json:"phoneNumber" firestore:"phoneNumber"`
	Relationship string `json:"relationship,omitempty" firestore:"relationship,omitempty"`
	Notified     bool   `json:"notified" firestore:"notified"`
}

type Booking struct {
	ID                types.ID                 `json:"id" firestore:"-"`
	Status            Status                   `json:"status" firestore:"status"`
	PassengerID       string                   `json:"passengerId" firestore:"passengerId"`
	PassengerName     string                   `json:"passengerName,omitempty" firestore:"passengerName,omitempty"`
	PassengerPhone    string                   `json:"passengerPhone,omitempty" firestore:"passengerPhone,omitempty"`
	PassengerCount    int                      `json:"passengerCount" firestore:"passengerCount"`
	IsGroupBooking    bool                     `json:"isGroupBooking" firestore:"isGroupBooking"`
	Pickup            Place                    `json:"pickupLocation" firestore:"pickupLocation"`
	Dropoff           Place                    `json:"dropoffLocation" firestore:"dropoffLocation"`
	EstimatedFare     float64                  `json:"estimatedFare" firestore:"estimatedFare"`
	EstimatedDistance float64                  `json:"estimatedDistance" firestore:"estimatedDistance"`
	DriverID          string                   `json:"driverId,omitempty" firestore:"driverId,omitempty"`
	DriverRequests    map[string]DriverRequest `json:"driverRequests,omitempty" firestore:"driverRequests,omitempty"`
	HasDriverRequests bool                     `json:"hasDriverRequests" firestore:"hasDriverRequests"`
	Guardian          *GuardianNotification    `json:"guardianNotification,omitempty" firestore:"guardianNotification,omitempty"`
	CreatedAt         time.Time                `json:"createdAt" firestore:"createdAt"`
	UpdatedAt         time.Time                `json:"updatedAt" firestore:"updatedAt"`
}

// HasPendingRequestFrom reports whether driverID has an outstanding request.
func (b *Booking) HasPendingRequestFrom(driverID types.ID) bool {
	r, ok := b.DriverRequests[string(driverID)]
	return ok && r.Status == RequestPending
}

// ActiveTrip is the booking snapshot owned by the assigned driver until the
// trip is settled. Its document id is the booking id.
type ActiveTrip struct {
	BookingID             types.ID              `json:"bookingId" firestore:"bookingId"`
	DriverID              string                `json:"driverId" firestore:"driverId"`
	Status                string                `json:"status" firestore:"status"`
	PassengerID           string                `json:"passengerId" firestore:"passengerId"`
	PassengerName         string                `json:"passengerName,omitempty" firestore:"passengerName,omitempty"`
	PassengerPhone        string                `json:"passengerPhone,omitempty" firestore:"passengerPhone,omitempty"`
	PassengerCount        int                   `json:"passengerCount" firestore:"passengerCount"`
	IsGroupBooking        bool                  `json:"isGroupBooking" firestore:"isGroupBooking"`
	Pickup                Place                 `json:"pickupLocation" firestore:"pickupLocation"`
	Dropoff               Place                 `json:"dropoffLocation" firestore:"dropoffLocation"`
	EstimatedFare         float64               `json:"estimatedFare" firestore:"estimatedFare"`
	EstimatedDistance     float64               `json:"estimatedDistance" firestore:"estimatedDistance"`
	Guardian              *GuardianNotification `json:"guardianNotification,omitempty" firestore:"guardianNotification,omitempty"`
	DriverCurrentLocation *types.Point          `json:"driverCurrentLocation,omitempty" firestore:"driverCurrentLocation,omitempty"`
	PickupRoute           []types.Point         `json:"pickupRoute,omitempty" firestore:"pickupRoute,omitempty"`
	DropoffRoute          []types.Point         `json:"dropoffRoute,omitempty" firestore:"dropoffRoute,omitempty"`
	RoutesCalculatedAt    *time.Time            `json:"routesCalculatedAt,omitempty" firestore:"routesCalculatedAt,omitempty"`
	PickupTime            *time.Time            `json:"pickupTime,omitempty" firestore:"pickupTime,omitempty"`
	TrackedDistance       float64               `json:"trackedDistance" firestore:"trackedDistance"`
	AcceptedAt            time.Time             `json:"acceptedAt" firestore:"acceptedAt"`
	UpdatedAt             time.Time             `json:"updatedAt" firestore:"updatedAt"`
}

func newActiveTrip(b *Booking, driverID types.ID, now time.Time) *ActiveTrip {
	return &ActiveTrip{
		BookingID:         b.ID,
		DriverID:          string(driverID),
		Status:            string(StatusAccepted),
		PassengerID:       b.PassengerID,
		PassengerName:     b.PassengerName,
		PassengerPhone:    b.PassengerPhone,
		PassengerCount:    b.PassengerCount,
		IsGroupBooking:    b.IsGroupBooking,
		Pickup:            b.Pickup,
		Dropoff:           b.Dropoff,
		EstimatedFare:     b.EstimatedFare,
		EstimatedDistance: b.EstimatedDistance,
		Guardian:          b.Guardian,
		AcceptedAt:        now,
		UpdatedAt:         now,
	}
}

type RequestCommand struct {
	BookingID types.ID
	DriverID  types.ID
}

type AcceptCommand struct {
	BookingID types.ID
	DriverID  types.ID
}
