package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrOfferNotPending is returned when an accept or decline races against
// another response, a withdrawal, or the offer's expiry.
var ErrOfferNotPending = errors.New("offer is not pending")

const offerColumns = `
	id, booking_id, driver_id, vehicle_id, status, payout_cents,
	COALESCE(note, ''), expires_at, responded_at, created_at
`

func scanOffer(row interface{ Scan(...any) error }) (TourOffer, error) {
	var item TourOffer
	err := row.Scan(
		&item.ID, &item.BookingID, &item.DriverID, &item.VehicleID, &item.Status,
		&item.PayoutCents, &item.Note, &item.ExpiresAt, &item.RespondedAt, &item.CreatedAt,
	)
	return item, err
}

func (s *PostgresStore) InsertTourOffer(ctx context.Context, item TourOffer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tour_offers (id, booking_id, driver_id, vehicle_id, status, payout_cents, note, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, item.ID, item.BookingID, item.DriverID, item.VehicleID, item.Status, item.PayoutCents, item.Note, item.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert tour offer: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTourOffer(ctx context.Context, offerID string) (TourOffer, error) {
	item, err := scanOffer(s.db.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM tour_offers WHERE id=$1`, offerID))
	if err != nil {
		return TourOffer{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListOffersForDriver(ctx context.Context, driverID, status string) ([]TourOffer, error) {
	query := `SELECT ` + offerColumns + ` FROM tour_offers WHERE driver_id=$1`
	args := []any{driverID}
	if status != "" {
		query += ` AND status=$2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list driver offers: %w", err)
	}
	defer rows.Close()

	items := make([]TourOffer, 0)
	for rows.Next() {
		item, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan offer: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate offers: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListOffersForBooking(ctx context.Context, bookingID string) ([]TourOffer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+offerColumns+` FROM tour_offers WHERE booking_id=$1 ORDER BY created_at DESC`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("list booking offers: %w", err)
	}
	defer rows.Close()

	items := make([]TourOffer, 0)
	for rows.Next() {
		item, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan offer: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate offers: %w", err)
	}
	return items, nil
}

// AcceptTourOffer flips a pending, unexpired offer to accepted, assigns the
// driver and vehicle to the parent booking, and withdraws every other
// pending offer for that booking. All three writes share one transaction.
func (s *PostgresStore) AcceptTourOffer(ctx context.Context, offerID string) (TourOffer, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return TourOffer{}, fmt.Errorf("begin accept offer: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	item, err := scanOffer(tx.QueryRowContext(ctx, `
		UPDATE tour_offers
		SET status='accepted', responded_at=NOW()
		WHERE id=$1 AND status='pending' AND expires_at > NOW()
		RETURNING `+offerColumns+`
	`, offerID))
	if errors.Is(err, sql.ErrNoRows) {
		return TourOffer{}, ErrOfferNotPending
	}
	if err != nil {
		return TourOffer{}, fmt.Errorf("accept offer: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE bookings
		SET driver_id=$2, vehicle_id=$3, status='driver_assigned', updated_at=NOW()
		WHERE id=$1
	`, item.BookingID, item.DriverID, item.VehicleID); err != nil {
		return TourOffer{}, fmt.Errorf("assign booking: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE tour_offers
		SET status='withdrawn', responded_at=NOW()
		WHERE booking_id=$1 AND status='pending' AND id<>$2
	`, item.BookingID, item.ID); err != nil {
		return TourOffer{}, fmt.Errorf("withdraw competing offers: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return TourOffer{}, fmt.Errorf("commit accept offer: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) DeclineTourOffer(ctx context.Context, offerID string) (TourOffer, error) {
	item, err := scanOffer(s.db.QueryRowContext(ctx, `
		UPDATE tour_offers
		SET status='declined', responded_at=NOW()
		WHERE id=$1 AND status='pending'
		RETURNING `+offerColumns+`
	`, offerID))
	if errors.Is(err, sql.ErrNoRows) {
		return TourOffer{}, ErrOfferNotPending
	}
	if err != nil {
		return TourOffer{}, fmt.Errorf("decline offer: %w", err)
	}
	return item, nil
}

// ExpireTourOffers marks pending offers past their expiry and returns how
// many were swept.
func (s *PostgresStore) ExpireTourOffers(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tour_offers
		SET status='expired'
		WHERE status='pending' AND expires_at <= NOW()
	`)
	if err != nil {
		return 0, fmt.Errorf("expire offers: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire offers rows: %w", err)
	}
	return affected, nil
}
