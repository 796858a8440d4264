// README: Fare rates and breakdown computation.
package settlement

import (
	"math"

	"tricykol/internal/types"
)

type Rates struct {
	BaseFare           int64
	BaseDistanceMeters float64
	// AdditionalFarePerKm is charged for every started kilometre past the
	// base distance.
	AdditionalFarePerKm     int64
	SystemFeePercentage     float64
	AdditionalPassengerFare int64
}

func DefaultRates() Rates {
	return Rates{
		BaseFare:                25,
		BaseDistanceMeters:      1000,
		AdditionalFarePerKm:     8,
		SystemFeePercentage:     0.10,
		AdditionalPassengerFare: 10,
	}
}

type Breakdown struct {
	DistanceMeters float64     `json:"distanceMeters" firestore:"distanceMeters"`
	ExtraKm        int64       `json:"extraKm" firestore:"extraKm"`
	Passengers     int         `json:"passengers" firestore:"passengers"`
	BaseFare       types.Money `json:"baseFare" firestore:"-"`
	DistanceFare   types.Money `json:"distanceFare" firestore:"-"`
	PassengerFare  types.Money `json:"passengerFare" firestore:"-"`
	Fare           types.Money `json:"fare" firestore:"-"`
	SystemFee      types.Money `json:"systemFee" firestore:"-"`
}

// Compute prices a single-passenger trip.
func (r Rates) Compute(distanceMeters float64) Breakdown {
	return r.ComputeForPassengers(distanceMeters, 1)
}

func (r Rates) ComputeForPassengers(distanceMeters float64, passengers int) Breakdown {
	if math.IsNaN(distanceMeters) || distanceMeters < 0 {
		distanceMeters = 0
	}
	if passengers < 1 {
		passengers = 1
	}
	var extraKm int64
	if distanceMeters > r.BaseDistanceMeters {
		extraKm = int64(math.Ceil((distanceMeters - r.BaseDistanceMeters) / 1000))
	}
	distanceFare := extraKm * r.AdditionalFarePerKm
	passengerFare := int64(passengers-1) * r.AdditionalPassengerFare
	fare := r.BaseFare + distanceFare + passengerFare
	fee := int64(math.Round(float64(fare) * r.SystemFeePercentage))

	return Breakdown{
		DistanceMeters: distanceMeters,
		ExtraKm:        extraKm,
		Passengers:     passengers,
		BaseFare:       types.Pesos(r.BaseFare),
		DistanceFare:   types.Pesos(distanceFare),
		PassengerFare:  types.Pesos(passengerFare),
		Fare:           types.Pesos(fare),
		SystemFee:      types.Pesos(fee),
	}
}

// SettlementDistance prefers the tracked path and falls back to the direct
// pickup-to-dropoff distance when nothing was tracked.
func SettlementDistance(tracked, direct float64) float64 {
	if tracked > 0 && !math.IsInf(tracked, 0) {
		return tracked
	}
	return direct
}
