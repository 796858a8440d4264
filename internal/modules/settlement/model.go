// README: Wallet, trip history and fee transaction records written at settlement.
package settlement

import (
	"errors"
	"fmt"
	"time"

	"tricykol/internal/modules/booking"
	"tricykol/internal/types"
)

var (
	ErrInsufficientBalance = errors.New("insufficient wallet balance")
	ErrAlreadySettled      = errors.New("trip already settled")
	ErrSettlementInFlight  = errors.New("settlement already in progress")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrBookingNotFound     = errors.New("booking not found")
	ErrNotAssigned         = errors.New("booking is not assigned to driver")
)

const (
	walletsCollection      = "wallets"
	tripsCollection        = "trips"
	transactionsCollection = "transactions"
	bookingsCollection     = "bookings"
	activeTripsCollection  = "activeTrips"
)

// InsufficientBalanceError carries the shortfall so the driver can be told
// how much to top up.
type InsufficientBalanceError struct {
	Balance  float64
	Required int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient wallet balance: have %.2f, need %d", e.Balance, e.Required)
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

func (e *InsufficientBalanceError) Shortfall() float64 {
	return float64(e.Required) - e.Balance
}

type Wallet struct {
	DriverID  string    `firestore:"driverId"`
	Balance   float64   `firestore:"balance"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// TripRecord is immutable history keyed by booking id.
type TripRecord struct {
	BookingID       string        `json:"bookingId" firestore:"bookingId"`
	DriverID        string        `json:"driverId" firestore:"driverId"`
	PassengerID     string        `json:"passengerId" firestore:"passengerId"`
	PassengerCount  int           `json:"passengerCount" firestore:"passengerCount"`
	Pickup          booking.Place `json:"pickupLocation" firestore:"pickupLocation"`
	Dropoff         booking.Place `json:"dropoffLocation" firestore:"dropoffLocation"`
	DistanceMeters  float64       `json:"distance" firestore:"distance"`
	TrackedDistance float64       `json:"trackedDistance" firestore:"trackedDistance"`
	Fare            int64         `json:"fare" firestore:"fare"`
	SystemFee       int64         `json:"systemFee" firestore:"systemFee"`
	Currency        string        `json:"currency" firestore:"currency"`
	Status          string        `json:"status" firestore:"status"`
	AcceptedAt      time.Time     `json:"acceptedAt" firestore:"acceptedAt"`
	PickupTime      *time.Time    `json:"pickupTime,omitempty" firestore:"pickupTime,omitempty"`
	CompletedAt     time.Time     `json:"completedAt" firestore:"completedAt"`
}

type TransactionRecord struct {
	ID            string    `json:"id" firestore:"id"`
	DriverID      string    `json:"driverId" firestore:"driverId"`
	TripID        string    `json:"tripId" firestore:"tripId"`
	Type          string    `json:"type" firestore:"type"`
	Amount        int64     `json:"amount" firestore:"amount"`
	Currency      string    `json:"currency" firestore:"currency"`
	BalanceBefore float64   `json:"balanceBefore" firestore:"balanceBefore"`
	BalanceAfter  float64   `json:"balanceAfter" firestore:"balanceAfter"`
	CreatedAt     time.Time `json:"createdAt" firestore:"createdAt"`
}

const transactionTypeSystemFee = "system_fee"

// Settlement is everything the store needs to close a trip in one commit.
type Settlement struct {
	Trip          booking.ActiveTrip
	Breakdown     Breakdown
	TransactionID string
	SettledAt     time.Time
}

func (s Settlement) record() TripRecord {
	return TripRecord{
		BookingID:       string(s.Trip.BookingID),
		DriverID:        s.Trip.DriverID,
		PassengerID:     s.Trip.PassengerID,
		PassengerCount:  s.Breakdown.Passengers,
		Pickup:          s.Trip.Pickup,
		Dropoff:         s.Trip.Dropoff,
		DistanceMeters:  s.Breakdown.DistanceMeters,
		TrackedDistance: s.Trip.TrackedDistance,
		Fare:            s.Breakdown.Fare.Amount,
		SystemFee:       s.Breakdown.SystemFee.Amount,
		Currency:        s.Breakdown.Fare.Currency,
		Status:          "completed",
		AcceptedAt:      s.Trip.AcceptedAt,
		PickupTime:      s.Trip.PickupTime,
		CompletedAt:     s.SettledAt,
	}
}

type Receipt struct {
	TripID        types.ID  `json:"tripId"`
	TransactionID string    `json:"transactionId"`
	DriverID      types.ID  `json:"driverId"`
	Breakdown     Breakdown `json:"breakdown"`
	BalanceBefore float64   `json:"balanceBefore"`
	BalanceAfter  float64   `json:"balanceAfter"`
	SettledAt     time.Time `json:"settledAt"`
}
