package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/stripe/stripe-go/v72"
)

// reconcileSucceeded applies a successful payment to the record named by
// the event's metadata. Each branch is idempotent: the store's guarded
// UPDATE reports whether anything changed, and emails only go out when it
// did. A missing record is acked and audited, never errored, since Stripe
// would otherwise retry an event we can never apply.
func (h *Handler) reconcileSucceeded(ctx context.Context, event stripe.Event, paymentType, recordID string) error {
	changed, err := h.applySucceeded(ctx, paymentType, recordID)
	if errors.Is(err, sql.ErrNoRows) {
		log.Printf("payments: %s record %s not found for event %s", paymentType, recordID, event.ID)
		return h.audit(ctx, event, paymentType, recordID, outcomeNotFound)
	}
	if errors.Is(err, errUnknownPaymentType) {
		log.Printf("payments: unknown payment_type %q on event %s", paymentType, event.ID)
		return h.audit(ctx, event, paymentType, recordID, outcomeUnknownType)
	}
	if err != nil {
		return err
	}
	if !changed {
		// Record already terminal: a replay or an out-of-order event.
		return h.audit(ctx, event, paymentType, recordID, outcomeReplayed)
	}
	if err := h.audit(ctx, event, paymentType, recordID, outcomeApplied); err != nil {
		return err
	}
	h.sendReceipt(ctx, paymentType, recordID)
	return nil
}

var errUnknownPaymentType = errors.New("unknown payment type")

func (h *Handler) applySucceeded(ctx context.Context, paymentType, recordID string) (bool, error) {
	switch paymentType {
	case TypeBookingDeposit:
		if _, err := h.store.GetBooking(ctx, recordID); err != nil {
			return false, err
		}
		return h.store.MarkBookingDepositPaid(ctx, recordID)
	case TypeBookingBalance:
		if _, err := h.store.GetBooking(ctx, recordID); err != nil {
			return false, err
		}
		return h.store.MarkBookingPaidInFull(ctx, recordID)
	case TypeProposal:
		if _, err := h.store.GetProposal(ctx, recordID); err != nil {
			return false, err
		}
		return h.store.MarkProposalPaid(ctx, recordID)
	case TypeTripProposal:
		if _, err := h.store.GetTripProposal(ctx, recordID); err != nil {
			return false, err
		}
		return h.store.MarkTripDepositPaid(ctx, recordID)
	case TypeSharedTourTicket:
		if _, err := h.store.GetTicket(ctx, recordID); err != nil {
			return false, err
		}
		return h.store.MarkTicketPaid(ctx, recordID)
	case TypeGuestPayment:
		if _, err := h.store.GetGuestPayment(ctx, recordID); err != nil {
			return false, err
		}
		return h.store.MarkGuestPaymentPaid(ctx, recordID)
	case TypeDriverTip:
		if _, err := h.store.GetDriverTip(ctx, recordID); err != nil {
			return false, err
		}
		return h.store.MarkDriverTipPaid(ctx, recordID)
	default:
		return false, errUnknownPaymentType
	}
}

// reconcileFailed marks a failed payment where the record is still awaiting
// one. Terminal states are never regressed; the guarded UPDATEs simply
// match zero rows.
func (h *Handler) reconcileFailed(ctx context.Context, event stripe.Event, paymentType, recordID string) error {
	changed, err := h.applyFailed(ctx, paymentType, recordID)
	if errors.Is(err, sql.ErrNoRows) {
		return h.audit(ctx, event, paymentType, recordID, outcomeNotFound)
	}
	if errors.Is(err, errUnknownPaymentType) {
		return h.audit(ctx, event, paymentType, recordID, outcomeUnknownType)
	}
	if err != nil {
		return err
	}
	outcome := outcomeApplied
	if !changed {
		outcome = outcomeReplayed
	}
	return h.audit(ctx, event, paymentType, recordID, outcome)
}

func (h *Handler) applyFailed(ctx context.Context, paymentType, recordID string) (bool, error) {
	switch paymentType {
	case TypeBookingDeposit, TypeBookingBalance:
		return h.store.MarkBookingPaymentFailed(ctx, recordID)
	case TypeProposal:
		return h.store.MarkProposalPaymentFailed(ctx, recordID)
	case TypeTripProposal:
		return h.store.MarkTripDepositFailed(ctx, recordID)
	case TypeSharedTourTicket:
		return h.store.MarkTicketPaymentFailed(ctx, recordID)
	case TypeGuestPayment:
		return h.store.MarkGuestPaymentFailed(ctx, recordID)
	case TypeDriverTip:
		return h.store.MarkDriverTipFailed(ctx, recordID)
	default:
		return false, errUnknownPaymentType
	}
}

// sendReceipt fires the confirmation email for a freshly-applied payment.
// Failures are logged and swallowed; the state change has already been
// committed and replays will not reach here again.
func (h *Handler) sendReceipt(ctx context.Context, paymentType, recordID string) {
	if h.mailer == nil {
		return
	}
	var err error
	switch paymentType {
	case TypeBookingDeposit, TypeBookingBalance:
		err = h.bookingReceipt(ctx, paymentType, recordID)
	case TypeProposal:
		err = h.proposalReceipt(ctx, recordID)
	case TypeTripProposal:
		err = h.tripReceipt(ctx, recordID)
	case TypeSharedTourTicket:
		err = h.ticketConfirmation(ctx, recordID)
	case TypeGuestPayment:
		err = h.guestReceipt(ctx, recordID)
	case TypeDriverTip:
		err = h.tipThanks(ctx, recordID)
	}
	if err != nil {
		log.Printf("payments: receipt email for %s %s: %v", paymentType, recordID, err)
	}
}

func (h *Handler) bookingReceipt(ctx context.Context, paymentType, bookingID string) error {
	booking, err := h.store.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	customer, err := h.store.GetCustomer(ctx, booking.CustomerID)
	if err != nil {
		return err
	}
	amount := booking.DepositCents
	description := fmt.Sprintf("Deposit for %s (%s)", booking.TourName, booking.Reference)
	if paymentType == TypeBookingBalance {
		amount = booking.TotalCents - booking.DepositCents
		description = fmt.Sprintf("Balance for %s (%s)", booking.TourName, booking.Reference)
	}
	return h.mailer.SendPaymentReceipt(customer.Email, customer.FullName, description, amount, booking.Currency)
}

func (h *Handler) proposalReceipt(ctx context.Context, proposalID string) error {
	proposal, err := h.store.GetProposal(ctx, proposalID)
	if err != nil {
		return err
	}
	customer, err := h.store.GetCustomer(ctx, proposal.CustomerID)
	if err != nil {
		return err
	}
	return h.mailer.SendPaymentReceipt(customer.Email, customer.FullName, proposal.Title, proposal.AmountCents, proposal.Currency)
}

func (h *Handler) tripReceipt(ctx context.Context, tripID string) error {
	trip, err := h.store.GetTripProposal(ctx, tripID)
	if err != nil {
		return err
	}
	customer, err := h.store.GetCustomer(ctx, trip.CustomerID)
	if err != nil {
		return err
	}
	description := fmt.Sprintf("Deposit for %s", trip.Title)
	return h.mailer.SendPaymentReceipt(customer.Email, customer.FullName, description, trip.DepositCents, trip.Currency)
}

func (h *Handler) ticketConfirmation(ctx context.Context, ticketID string) error {
	ticket, err := h.store.GetTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	tour, err := h.store.GetSharedTour(ctx, ticket.TourID)
	if err != nil {
		return err
	}
	return h.mailer.SendTicketConfirmation(ticket.Email, ticket.HolderName, tour.Name, ticket.Seats)
}

func (h *Handler) guestReceipt(ctx context.Context, paymentID string) error {
	payment, err := h.store.GetGuestPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	return h.mailer.SendPaymentReceipt(payment.Email, "", payment.Description, payment.AmountCents, payment.Currency)
}

func (h *Handler) tipThanks(ctx context.Context, tipID string) error {
	tip, err := h.store.GetDriverTip(ctx, tipID)
	if err != nil {
		return err
	}
	driver, err := h.store.GetDriver(ctx, tip.DriverID)
	if err != nil {
		return err
	}
	return h.mailer.SendTipThanks(driver.Email, driver.FullName, tip.AmountCents, tip.Currency)
}
