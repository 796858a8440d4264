// README: Settlement store; the closing commit is a single Firestore transaction.
package settlement

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"tricykol/internal/types"
)

type Store struct {
	client *firestore.Client
}

func NewStore(client *firestore.Client) *Store {
	return &Store{client: client}
}

func (s *Store) WalletBalance(ctx context.Context, driverID types.ID) (float64, error) {
	doc, err := s.client.Collection(walletsCollection).Doc(string(driverID)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return 0, ErrWalletNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("reading wallet %s: %w", driverID, err)
	}
	var w Wallet
	if err := doc.DataTo(&w); err != nil {
		return 0, fmt.Errorf("decoding wallet %s: %w", driverID, err)
	}
	return w.Balance, nil
}

func (s *Store) Settled(ctx context.Context, bookingID types.ID) (bool, error) {
	_, err := s.client.Collection(tripsCollection).Doc(string(bookingID)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading trip %s: %w", bookingID, err)
	}
	return true, nil
}

// Commit re-checks every precondition inside the transaction, so a racing
// completion or top-up cannot slip between the quote and the write.
func (s *Store) Commit(ctx context.Context, st Settlement) (*Receipt, error) {
	bookingID := string(st.Trip.BookingID)
	driverID := st.Trip.DriverID
	fee := st.Breakdown.SystemFee.Amount

	walletRef := s.client.Collection(walletsCollection).Doc(driverID)
	tripRef := s.client.Collection(tripsCollection).Doc(bookingID)
	bookingRef := s.client.Collection(bookingsCollection).Doc(bookingID)
	activeRef := s.client.Collection(activeTripsCollection).Doc(bookingID)
	txRef := s.client.Collection(transactionsCollection).Doc(st.TransactionID)

	var receipt *Receipt
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		walletDoc, err := tx.Get(walletRef)
		if status.Code(err) == codes.NotFound {
			return ErrWalletNotFound
		}
		if err != nil {
			return err
		}
		if _, err := tx.Get(tripRef); err == nil {
			return ErrAlreadySettled
		} else if status.Code(err) != codes.NotFound {
			return err
		}
		bookingDoc, err := tx.Get(bookingRef)
		if status.Code(err) == codes.NotFound {
			return ErrBookingNotFound
		}
		if err != nil {
			return err
		}
		assigned, err := bookingDoc.DataAt("driverId")
		if err != nil || assigned != driverID {
			return ErrNotAssigned
		}

		var w Wallet
		if err := walletDoc.DataTo(&w); err != nil {
			return fmt.Errorf("decoding wallet: %w", err)
		}
		if w.Balance < float64(fee) {
			return &InsufficientBalanceError{Balance: w.Balance, Required: fee}
		}
		after := w.Balance - float64(fee)

		if err := tx.Create(tripRef, st.record()); err != nil {
			return err
		}
		if err := tx.Update(walletRef, []firestore.Update{
			{Path: "balance", Value: firestore.Increment(-fee)},
			{Path: "updatedAt", Value: st.SettledAt},
		}); err != nil {
			return err
		}
		if err := tx.Create(txRef, TransactionRecord{
			ID:            st.TransactionID,
			DriverID:      driverID,
			TripID:        bookingID,
			Type:          transactionTypeSystemFee,
			Amount:        fee,
			Currency:      st.Breakdown.SystemFee.Currency,
			BalanceBefore: w.Balance,
			BalanceAfter:  after,
			CreatedAt:     st.SettledAt,
		}); err != nil {
			return err
		}
		if err := tx.Delete(bookingRef); err != nil {
			return err
		}
		if err := tx.Delete(activeRef); err != nil {
			return err
		}

		receipt = &Receipt{
			TripID:        types.ID(bookingID),
			TransactionID: st.TransactionID,
			DriverID:      types.ID(driverID),
			Breakdown:     st.Breakdown,
			BalanceBefore: w.Balance,
			BalanceAfter:  after,
			SettledAt:     st.SettledAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}
