package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrEventExists is returned by LogStripeEvent when an event ID has been
// seen before. Stripe redelivers events, so this is a normal outcome.
var ErrEventExists = errors.New("stripe event already processed")

// LogStripeEvent records a webhook event ID before any handler runs. The
// insert is the idempotency gate: a second delivery of the same event hits
// the conflict and is dropped.
func (s *PostgresStore) LogStripeEvent(ctx context.Context, eventID string) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO stripe_events (id) VALUES ($1)
		ON CONFLICT (id) DO NOTHING
	`, eventID)
	if err != nil {
		return fmt.Errorf("log stripe event: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("log stripe event rows: %w", err)
	}
	if affected == 0 {
		return ErrEventExists
	}
	return nil
}

func (s *PostgresStore) InsertWebhookAudit(ctx context.Context, item WebhookEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_audit (event_id, event_type, payment_type, record_id, outcome)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.EventType, item.PaymentType, item.RecordID, item.Outcome)
	if err != nil {
		return fmt.Errorf("insert webhook audit: %w", err)
	}
	return nil
}

// conditionalUpdate runs an UPDATE guarded by the record's current status
// and reports whether a row actually changed. A false return is how the
// payment reconcilers detect replays and already-terminal records.
func (s *PostgresStore) conditionalUpdate(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ---- booking payments ----

func (s *PostgresStore) MarkBookingDepositPaid(ctx context.Context, bookingID string) (bool, error) {
	changed, err := s.conditionalUpdate(ctx, `
		UPDATE bookings
		SET status='confirmed', updated_at=NOW()
		WHERE id=$1 AND status='pending_payment'
	`, bookingID)
	if err != nil {
		return false, fmt.Errorf("mark deposit paid: %w", err)
	}
	return changed, nil
}

func (s *PostgresStore) MarkBookingPaidInFull(ctx context.Context, bookingID string) (bool, error) {
	changed, err := s.conditionalUpdate(ctx, `
		UPDATE bookings
		SET status='paid_in_full', balance_cents=0, updated_at=NOW()
		WHERE id=$1 AND status IN ('confirmed', 'driver_assigned')
	`, bookingID)
	if err != nil {
		return false, fmt.Errorf("mark paid in full: %w", err)
	}
	return changed, nil
}

func (s *PostgresStore) MarkBookingPaymentFailed(ctx context.Context, bookingID string) (bool, error) {
	changed, err := s.conditionalUpdate(ctx, `
		UPDATE bookings
		SET status='payment_failed', updated_at=NOW()
		WHERE id=$1 AND status='pending_payment'
	`, bookingID)
	if err != nil {
		return false, fmt.Errorf("mark booking payment failed: %w", err)
	}
	return changed, nil
}

// ---- proposals ----

func (s *PostgresStore) GetProposal(ctx context.Context, proposalID string) (Proposal, error) {
	var item Proposal
	err := s.db.QueryRowContext(ctx, `
		SELECT id, customer_id, title, status, amount_cents, currency, sent_at, paid_at, created_at
		FROM proposals
		WHERE id=$1
	`, proposalID).Scan(&item.ID, &item.CustomerID, &item.Title, &item.Status, &item.AmountCents, &item.Currency, &item.SentAt, &item.PaidAt, &item.CreatedAt)
	if err != nil {
		return Proposal{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertProposal(ctx context.Context, item Proposal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO proposals (id, customer_id, title, status, amount_cents, currency)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.CustomerID, item.Title, item.Status, item.AmountCents, item.Currency)
	if err != nil {
		return fmt.Errorf("insert proposal: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkProposalSent(ctx context.Context, proposalID string) (bool, error) {
	changed, err := s.conditionalUpdate(ctx, `
		UPDATE proposals SET status='sent', sent_at=NOW() WHERE id=$1 AND status='draft'
	`, proposalID)
	if err != nil {
		return false, fmt.Errorf("mark proposal sent: %w", err)
	}
	return changed, nil
}

func (s *PostgresStore) MarkProposalPaid(ctx context.Context, proposalID string) (bool, error) {
	changed, err := s.conditionalUpdate(ctx, `
		UPDATE proposals SET status='paid', paid_at=NOW() WHERE id=$1 AND status='sent'
	`, proposalID)
	if err != nil {
		return false, fmt.Errorf("mark proposal paid: %w", err)
	}
	return changed, nil
}

func (s *PostgresStore) MarkProposalPaymentFailed(ctx context.Context, proposalID string) (bool, error) {
	changed, err := s.conditionalUpdate(ctx, `
		UPDATE proposals SET status='payment_failed' WHERE id=$1 AND status='sent'
	`, proposalID)
	if err != nil {
		return false, fmt.Errorf("mark proposal payment failed: %w", err)
	}
	return changed, nil
}

// ---- trip proposals ----

const tripProposalColumns = `
	id, customer_id, title, planning_phase, deposit_status, deposit_cents,
	currency, start_date, end_date, COALESCE(itinerary, ''), created_at, updated_at
`

func scanTripProposal(row interface{ Scan(...any) error }) (TripProposal, error) {
	var item TripProposal
	err := row.Scan(
		&item.ID, &item.CustomerID, &item.Title, &item.PlanningPhase, &item.DepositStatus,
		&item.DepositCents, &item.Currency, &item.StartDate, &item.EndDate,
		&item.Itinerary, &item.CreatedAt, &item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) GetTripProposal(ctx context.Context, tripID string) (TripProposal, error) {
	item, err := scanTripProposal(s.db.QueryRowContext(ctx, `SELECT `+tripProposalColumns+` FROM trip_proposals WHERE id=$1`, tripID))
	if err != nil {
		return TripProposal{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListTripProposals(ctx context.Context) ([]TripProposal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+tripProposalColumns+` FROM trip_proposals ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list trip proposals: %w", err)
	}
	defer rows.Close()

	items := make([]TripProposal, 0)
	for rows.Next() {
		item, err := scanTripProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trip proposal: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trip proposals: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertTripProposal(ctx context.Context, item TripProposal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trip_proposals (id, customer_id, title, planning_phase, deposit_status, deposit_cents, currency, start_date, end_date, itinerary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, item.ID, item.CustomerID, item.Title, item.PlanningPhase, item.DepositStatus, item.DepositCents, item.Currency, item.StartDate, item.EndDate, item.Itinerary)
	if err != nil {
		return fmt.Errorf("insert trip proposal: %w", err)
	}
	return nil
}

// MarkTripDepositPaid records the deposit and advances the planning phase
// in the same statement, so a replayed webhook cannot advance it twice.
func (s *PostgresStore) MarkTripDepositPaid(ctx context.Context, tripID string) (bool, error) {
	changed, err := s.conditionalUpdate(ctx, `
		UPDATE trip_proposals
		SET deposit_status='paid', planning_phase='active_planning', updated_at=NOW()
		WHERE id=$1 AND deposit_status='pending' AND planning_phase='proposal'
	`, tripID)
	if err != nil {
		return false, fmt.Errorf("mark trip deposit paid: %w", err)
	}
	return changed, nil
}

func (s *PostgresStore) MarkTripDepositFailed(ctx context.Context, tripID string) (bool, error) {
	changed, err := s.conditionalUpdate(ctx, `
		UPDATE trip_proposals
		SET deposit_status='payment_failed', updated_at=NOW()
		WHERE id=$1 AND deposit_status='pending'
	`, tripID)
	if err != nil {
		return false, fmt.Errorf("mark trip deposit failed: %w", err)
	}
	return changed, nil
}

// AdvancePlanningPhase performs the single legal ops transition,
// active_planning -> finalized.
func (s *PostgresStore) AdvancePlanningPhase(ctx context.Context, tripID, from, to string) (bool, error) {
	changed, err := s.conditionalUpdate(ctx, `
		UPDATE trip_proposals
		SET planning_phase=$3, updated_at=NOW()
		WHERE id=$1 AND planning_phase=$2
	`, tripID, from, to)
	if err != nil {
		return false, fmt.Errorf("advance planning phase: %w", err)
	}
	return changed, nil
}

func (s *PostgresStore) UpdateTripItinerary(ctx context.Context, tripID, itinerary string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE trip_proposals SET itinerary=$2, updated_at=NOW() WHERE id=$1`, tripID, itinerary)
	if err != nil {
		return fmt.Errorf("update itinerary: %w", err)
	}
	return nil
}

// ---- shared tours and tickets ----

func (s *PostgresStore) GetSharedTour(ctx context.Context, tourID string) (SharedTour, error) {
	var item SharedTour
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, departs_at, seats_total, seats_sold, price_cents, currency, status, created_at
		FROM shared_tours
		WHERE id=$1
	`, tourID).Scan(&item.ID, &item.Name, &item.DepartsAt, &item.SeatsTotal, &item.SeatsSold, &item.PriceCents, &item.Currency, &item.Status, &item.CreatedAt)
	if err != nil {
		return SharedTour{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListSharedTours(ctx context.Context) ([]SharedTour, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, departs_at, seats_total, seats_sold, price_cents, currency, status, created_at
		FROM shared_tours
		ORDER BY departs_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list shared tours: %w", err)
	}
	defer rows.Close()

	items := make([]SharedTour, 0)
	for rows.Next() {
		var item SharedTour
		if err := rows.Scan(&item.ID, &item.Name, &item.DepartsAt, &item.SeatsTotal, &item.SeatsSold, &item.PriceCents, &item.Currency, &item.Status, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan shared tour: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shared tours: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertSharedTour(ctx context.Context, item SharedTour) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shared_tours (id, name, departs_at, seats_total, seats_sold, price_cents, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, item.ID, item.Name, item.DepartsAt, item.SeatsTotal, item.SeatsSold, item.PriceCents, item.Currency, item.Status)
	if err != nil {
		return fmt.Errorf("insert shared tour: %w", err)
	}
	return nil
}

// ReserveTicket inserts the ticket and claims its seats in one transaction.
// The seat guard lives in the UPDATE's WHERE clause.
func (s *PostgresStore) ReserveTicket(ctx context.Context, item SharedTourTicket) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reserve ticket: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE shared_tours
		SET seats_sold = seats_sold + $2
		WHERE id=$1 AND status='open' AND seats_sold + $2 <= seats_total
	`, item.TourID, item.Seats)
	if err != nil {
		return fmt.Errorf("claim seats: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim seats rows: %w", err)
	}
	if affected == 0 {
		return ErrTourFull
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO shared_tour_tickets (id, tour_id, holder_name, email, seats, status, amount_cents)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.TourID, item.HolderName, item.Email, item.Seats, item.Status, item.AmountCents); err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reserve ticket: %w", err)
	}
	return nil
}

var ErrTourFull = errors.New("not enough seats available")

func (s *PostgresStore) GetTicket(ctx context.Context, ticketID string) (SharedTourTicket, error) {
	var item SharedTourTicket
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tour_id, holder_name, email, seats, status, amount_cents, paid_at, created_at
		FROM shared_tour_tickets
		WHERE id=$1
	`, ticketID).Scan(&item.ID, &item.TourID, &item.HolderName, &item.Email, &item.Seats, &item.Status, &item.AmountCents, &item.PaidAt, &item.CreatedAt)
	if err != nil {
		return SharedTourTicket{}, err
	}
	return item, nil
}

func (s *PostgresStore) MarkTicketPaid(ctx context.Context, ticketID string) (bool, error) {
	changed, err := s.conditionalUpdate(ctx, `
		UPDATE shared_tour_tickets SET status='paid', paid_at=NOW() WHERE id=$1 AND status='reserved'
	`, ticketID)
	if err != nil {
		return false, fmt.Errorf("mark ticket paid: %w", err)
	}
	return changed, nil
}

// MarkTicketPaymentFailed releases the held seats along with the status flip.
func (s *PostgresStore) MarkTicketPaymentFailed(ctx context.Context, ticketID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin ticket failure: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var tourID string
	var seats int
	err = tx.QueryRowContext(ctx, `
		UPDATE shared_tour_tickets
		SET status='payment_failed'
		WHERE id=$1 AND status='reserved'
		RETURNING tour_id, seats
	`, ticketID).Scan(&tourID, &seats)
	if errors.Is(err, sql.ErrNoRows) {
		// The ticket was already paid, cancelled, or unknown.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("fail ticket: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE shared_tours SET seats_sold = seats_sold - $2 WHERE id=$1
	`, tourID, seats); err != nil {
		return false, fmt.Errorf("release seats: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit ticket failure: %w", err)
	}
	return true, nil
}

// ---- guest payments ----

func (s *PostgresStore) GetGuestPayment(ctx context.Context, paymentID string) (GuestPayment, error) {
	var item GuestPayment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, booking_id, email, description, amount_cents, currency, status, paid_at, created_at
		FROM guest_payments
		WHERE id=$1
	`, paymentID).Scan(&item.ID, &item.BookingID, &item.Email, &item.Description, &item.AmountCents, &item.Currency, &item.Status, &item.PaidAt, &item.CreatedAt)
	if err != nil {
		return GuestPayment{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertGuestPayment(ctx context.Context, item GuestPayment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guest_payments (id, booking_id, email, description, amount_cents, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.BookingID, item.Email, item.Description, item.AmountCents, item.Currency, item.Status)
	if err != nil {
		return fmt.Errorf("insert guest payment: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkGuestPaymentPaid(ctx context.Context, paymentID string) (bool, error) {
	changed, err := s.conditionalUpdate(ctx, `
		UPDATE guest_payments SET status='paid', paid_at=NOW() WHERE id=$1 AND status='pending'
	`, paymentID)
	if err != nil {
		return false, fmt.Errorf("mark guest payment paid: %w", err)
	}
	return changed, nil
}

func (s *PostgresStore) MarkGuestPaymentFailed(ctx context.Context, paymentID string) (bool, error) {
	changed, err := s.conditionalUpdate(ctx, `
		UPDATE guest_payments SET status='payment_failed' WHERE id=$1 AND status='pending'
	`, paymentID)
	if err != nil {
		return false, fmt.Errorf("mark guest payment failed: %w", err)
	}
	return changed, nil
}

// ---- driver tips ----

func (s *PostgresStore) GetDriverTip(ctx context.Context, tipID string) (DriverTip, error) {
	var item DriverTip
	err := s.db.QueryRowContext(ctx, `
		SELECT id, booking_id, driver_id, amount_cents, currency, status, paid_at, created_at
		FROM driver_tips
		WHERE id=$1
	`, tipID).Scan(&item.ID, &item.BookingID, &item.DriverID, &item.AmountCents, &item.Currency, &item.Status, &item.PaidAt, &item.CreatedAt)
	if err != nil {
		return DriverTip{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertDriverTip(ctx context.Context, item DriverTip) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO driver_tips (id, booking_id, driver_id, amount_cents, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.BookingID, item.DriverID, item.AmountCents, item.Currency, item.Status)
	if err != nil {
		return fmt.Errorf("insert driver tip: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkDriverTipPaid(ctx context.Context, tipID string) (bool, error) {
	changed, err := s.conditionalUpdate(ctx, `
		UPDATE driver_tips SET status='paid', paid_at=NOW() WHERE id=$1 AND status='pending'
	`, tipID)
	if err != nil {
		return false, fmt.Errorf("mark tip paid: %w", err)
	}
	return changed, nil
}

func (s *PostgresStore) MarkDriverTipFailed(ctx context.Context, tipID string) (bool, error) {
	changed, err := s.conditionalUpdate(ctx, `
		UPDATE driver_tips SET status='payment_failed' WHERE id=$1 AND status='pending'
	`, tipID)
	if err != nil {
		return false, fmt.Errorf("mark tip failed: %w", err)
	}
	return changed, nil
}
