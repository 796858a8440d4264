package settlement

import (
	"math"
	"testing"
)

func TestRates_Compute(t *testing.T) {
	r := DefaultRates()
	tests := []struct {
		name     string
		distance float64
		wantFare int64
		wantFee  int64
		wantKm   int64
	}{
		{name: "zero distance", distance: 0, wantFare: 25, wantFee: 3},
		{name: "within base distance", distance: 999, wantFare: 25, wantFee: 3},
		{name: "exactly base distance", distance: 1000, wantFare: 25, wantFee: 3},
		{name: "just over base rounds up a km", distance: 1001, wantFare: 33, wantFee: 3, wantKm: 1},
		{name: "base plus 2.5km", distance: 3500, wantFare: 25 + 3*8, wantFee: 5, wantKm: 3},
		{name: "base plus 4km exactly", distance: 5000, wantFare: 57, wantFee: 6, wantKm: 4},
		{name: "negative treated as zero", distance: -10, wantFare: 25, wantFee: 3},
		{name: "NaN treated as zero", distance: math.NaN(), wantFare: 25, wantFee: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Compute(tt.distance)
			if got.Fare.Amount != tt.wantFare {
				t.Errorf("fare = %d, want %d", got.Fare.Amount, tt.wantFare)
			}
			if got.SystemFee.Amount != tt.wantFee {
				t.Errorf("fee = %d, want %d", got.SystemFee.Amount, tt.wantFee)
			}
			if got.ExtraKm != tt.wantKm {
				t.Errorf("extra km = %d, want %d", got.ExtraKm, tt.wantKm)
			}
			if got.Fare.Currency != "PHP" {
				t.Errorf("currency = %s", got.Fare.Currency)
			}
		})
	}
}

func TestRates_BaseFareForAllShortTrips(t *testing.T) {
	r := DefaultRates()
	for d := 0.0; d <= r.BaseDistanceMeters; d += 37.5 {
		if got := r.Compute(d).Fare.Amount; got != r.BaseFare {
			t.Fatalf("Compute(%v).Fare = %d, want %d", d, got, r.BaseFare)
		}
	}
}

func TestRates_GroupBooking(t *testing.T) {
	r := DefaultRates()
	got := r.ComputeForPassengers(3500, 3)
	// 25 base + 24 distance + 2 extra passengers * 10
	if got.Fare.Amount != 69 {
		t.Errorf("fare = %d, want 69", got.Fare.Amount)
	}
	if got.PassengerFare.Amount != 20 {
		t.Errorf("passenger fare = %d, want 20", got.PassengerFare.Amount)
	}
	if got.SystemFee.Amount != 7 {
		t.Errorf("fee = %d, want 7", got.SystemFee.Amount)
	}
}

func TestSettlementDistance(t *testing.T) {
	if got := SettlementDistance(2400, 1800); got != 2400 {
		t.Errorf("tracked distance should win, got %v", got)
	}
	if got := SettlementDistance(0, 1800); got != 1800 {
		t.Errorf("expected direct fallback, got %v", got)
	}
	if got := SettlementDistance(-5, 1800); got != 1800 {
		t.Errorf("expected direct fallback for negative tracked, got %v", got)
	}
}
