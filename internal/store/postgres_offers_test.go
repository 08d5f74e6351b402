package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func offerRow(id, bookingID, driverID, vehicleID, status string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "booking_id", "driver_id", "vehicle_id", "status", "payout_cents",
		"note", "expires_at", "responded_at", "created_at",
	}).AddRow(id, bookingID, driverID, vehicleID, status, int64(42000), "", now.Add(time.Hour), now, now)
}

func TestAcceptTourOffer(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE tour_offers\s+SET status='accepted'`).
		WithArgs("off_1").
		WillReturnRows(offerRow("off_1", "bk_1", "drv_1", "veh_1", "accepted"))
	mock.ExpectExec(`UPDATE bookings\s+SET driver_id=\$2, vehicle_id=\$3, status='driver_assigned'`).
		WithArgs("bk_1", "drv_1", "veh_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE tour_offers\s+SET status='withdrawn'`).
		WithArgs("bk_1", "off_1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	offer, err := s.AcceptTourOffer(ctx, "off_1")
	if err != nil {
		t.Fatalf("AcceptTourOffer: %v", err)
	}
	if offer.Status != "accepted" || offer.BookingID != "bk_1" {
		t.Fatalf("offer = %+v", offer)
	}
	expectationsMet(t, mock)
}

func TestAcceptTourOfferNotPending(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	// Guarded UPDATE...RETURNING matches nothing: responded, withdrawn,
	// or expired.
	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE tour_offers\s+SET status='accepted'`).
		WithArgs("off_1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "booking_id", "driver_id", "vehicle_id", "status", "payout_cents",
			"note", "expires_at", "responded_at", "created_at",
		}))
	mock.ExpectRollback()

	if _, err := s.AcceptTourOffer(ctx, "off_1"); !errors.Is(err, ErrOfferNotPending) {
		t.Fatalf("err = %v, want ErrOfferNotPending", err)
	}
	expectationsMet(t, mock)
}

func TestDeclineTourOfferNotPending(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`UPDATE tour_offers\s+SET status='declined'`).
		WithArgs("off_1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "booking_id", "driver_id", "vehicle_id", "status", "payout_cents",
			"note", "expires_at", "responded_at", "created_at",
		}))

	if _, err := s.DeclineTourOffer(ctx, "off_1"); !errors.Is(err, ErrOfferNotPending) {
		t.Fatalf("err = %v, want ErrOfferNotPending", err)
	}
	expectationsMet(t, mock)
}

func TestExpireTourOffers(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(`UPDATE tour_offers\s+SET status='expired'`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	swept, err := s.ExpireTourOffers(ctx)
	if err != nil {
		t.Fatalf("ExpireTourOffers: %v", err)
	}
	if swept != 3 {
		t.Fatalf("swept = %d, want 3", swept)
	}
	expectationsMet(t, mock)
}
