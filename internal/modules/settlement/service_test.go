package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tricykol/internal/modules/booking"
	"tricykol/internal/types"
)

// memRepo mirrors the transactional checks of Store.Commit.
type memRepo struct {
	mu           sync.Mutex
	wallets      map[types.ID]float64
	bookings     map[types.ID]string // booking -> assigned driver
	trips        map[types.ID]TripRecord
	transactions []TransactionRecord
	commitGate   chan struct{}
}

func newMemRepo() *memRepo {
	return &memRepo{
		wallets:  make(map[types.ID]float64),
		bookings: make(map[types.ID]string),
		trips:    make(map[types.ID]TripRecord),
	}
}

func (r *memRepo) WalletBalance(_ context.Context, driverID types.ID) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.wallets[driverID]
	if !ok {
		return 0, ErrWalletNotFound
	}
	return b, nil
}

func (r *memRepo) Settled(_ context.Context, bookingID types.ID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.trips[bookingID]
	return ok, nil
}

func (r *memRepo) Commit(_ context.Context, st Settlement) (*Receipt, error) {
	if r.commitGate != nil {
		<-r.commitGate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id := st.Trip.BookingID
	driver := types.ID(st.Trip.DriverID)
	if _, ok := r.trips[id]; ok {
		return nil, ErrAlreadySettled
	}
	assigned, ok := r.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	if assigned != string(driver) {
		return nil, ErrNotAssigned
	}
	bal := r.wallets[driver]
	fee := st.Breakdown.SystemFee.Amount
	if bal < float64(fee) {
		return nil, &InsufficientBalanceError{Balance: bal, Required: fee}
	}
	r.trips[id] = st.record()
	r.wallets[driver] = bal - float64(fee)
	r.transactions = append(r.transactions, TransactionRecord{ID: st.TransactionID, TripID: string(id), Amount: fee, BalanceBefore: bal, BalanceAfter: bal - float64(fee)})
	delete(r.bookings, id)
	return &Receipt{TripID: id, TransactionID: st.TransactionID, DriverID: driver, Breakdown: st.Breakdown, BalanceBefore: bal, BalanceAfter: bal - float64(fee), SettledAt: st.SettledAt}, nil
}

func (r *memRepo) counts() (bookings, trips, txs int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bookings), len(r.trips), len(r.transactions)
}

func activeTrip(id, driver string) booking.ActiveTrip {
	return booking.ActiveTrip{
		BookingID:      types.ID(id),
		DriverID:       driver,
		PassengerID:    "p1",
		PassengerCount: 1,
		Pickup:         booking.Place{Latitude: 15.4755, Longitude: 120.5963},
		// ~2.2km north
		Dropoff:    booking.Place{Latitude: 15.4955, Longitude: 120.5963},
		AcceptedAt: time.Now().Add(-20 * time.Minute),
	}
}

func TestSettle_Success(t *testing.T) {
	repo := newMemRepo()
	repo.wallets["d1"] = 300
	repo.bookings["b1"] = "d1"
	svc := NewService(repo, DefaultRates(), nil)

	receipt, err := svc.Settle(context.Background(), activeTrip("b1", "d1"), 3500)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if receipt.Breakdown.Fare.Amount != 49 || receipt.Breakdown.SystemFee.Amount != 5 {
		t.Errorf("unexpected breakdown %+v", receipt.Breakdown)
	}
	if receipt.BalanceBefore != 300 || receipt.BalanceAfter != 295 {
		t.Errorf("balance %v -> %v, want 300 -> 295", receipt.BalanceBefore, receipt.BalanceAfter)
	}
	if receipt.TransactionID == "" {
		t.Error("expected transaction id")
	}
	b, trips, txs := repo.counts()
	if b != 0 || trips != 1 || txs != 1 {
		t.Errorf("counts bookings=%d trips=%d txs=%d", b, trips, txs)
	}
	if repo.trips["b1"].TrackedDistance != 3500 {
		t.Errorf("tracked distance not recorded: %+v", repo.trips["b1"])
	}
	if settled, err := svc.Settled(context.Background(), "b1"); err != nil || !settled {
		t.Errorf("Settled = %v, %v", settled, err)
	}
}

func TestSettle_FallsBackToDirectDistance(t *testing.T) {
	repo := newMemRepo()
	repo.wallets["d1"] = 300
	repo.bookings["b1"] = "d1"
	svc := NewService(repo, DefaultRates(), nil)

	receipt, err := svc.Settle(context.Background(), activeTrip("b1", "d1"), 0)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	// direct ~2224m -> 2 extra km
	if receipt.Breakdown.ExtraKm != 2 || receipt.Breakdown.Fare.Amount != 41 {
		t.Errorf("unexpected breakdown %+v", receipt.Breakdown)
	}
}

func TestSettle_InsufficientBalanceLeavesStateUnchanged(t *testing.T) {
	repo := newMemRepo()
	repo.wallets["d1"] = 2
	repo.bookings["b1"] = "d1"
	svc := NewService(repo, DefaultRates(), nil)

	beforeB, beforeT, beforeX := repo.counts()
	_, err := svc.Settle(context.Background(), activeTrip("b1", "d1"), 3500)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	var ibe *InsufficientBalanceError
	if !errors.As(err, &ibe) || ibe.Required != 5 || ibe.Shortfall() != 3 {
		t.Errorf("unexpected error payload %+v", ibe)
	}
	afterB, afterT, afterX := repo.counts()
	if beforeB != afterB || beforeT != afterT || beforeX != afterX {
		t.Errorf("counts changed: bookings %d->%d trips %d->%d txs %d->%d", beforeB, afterB, beforeT, afterT, beforeX, afterX)
	}
	if repo.wallets["d1"] != 2 {
		t.Errorf("wallet changed to %v", repo.wallets["d1"])
	}
}

func TestSettle_OneAttemptInFlight(t *testing.T) {
	repo := newMemRepo()
	repo.wallets["d1"] = 300
	repo.bookings["b1"] = "d1"
	repo.commitGate = make(chan struct{})
	svc := NewService(repo, DefaultRates(), nil)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Settle(context.Background(), activeTrip("b1", "d1"), 1500)
		done <- err
	}()

	// wait until the first attempt holds the in-flight slot
	deadline := time.Now().Add(time.Second)
	for {
		if _, ok := svc.inFlight.Load(types.ID("b1")); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first settlement never started")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := svc.Settle(context.Background(), activeTrip("b1", "d1"), 1500); !errors.Is(err, ErrSettlementInFlight) {
		t.Fatalf("expected ErrSettlementInFlight, got %v", err)
	}
	close(repo.commitGate)
	if err := <-done; err != nil {
		t.Fatalf("first settlement: %v", err)
	}

	if _, err := svc.Settle(context.Background(), activeTrip("b1", "d1"), 1500); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled on retry, got %v", err)
	}
}
