// Package payments reconciles asynchronous Stripe webhook events against
// the booking-like records that initiated them.
package payments

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/webhook"

	"wayfarer/api/internal/store"
)

// maxBodyBytes bounds the webhook payload read. Stripe events are small.
const maxBodyBytes = 1 << 16

// Store is the slice of the data store the webhook handler needs.
type Store interface {
	LogStripeEvent(ctx context.Context, eventID string) error
	InsertWebhookAudit(ctx context.Context, item store.WebhookEvent) error

	GetBooking(ctx context.Context, bookingID string) (store.Booking, error)
	GetCustomer(ctx context.Context, customerID string) (store.Customer, error)
	GetProposal(ctx context.Context, proposalID string) (store.Proposal, error)
	GetTripProposal(ctx context.Context, tripID string) (store.TripProposal, error)
	GetTicket(ctx context.Context, ticketID string) (store.SharedTourTicket, error)
	GetSharedTour(ctx context.Context, tourID string) (store.SharedTour, error)
	GetGuestPayment(ctx context.Context, paymentID string) (store.GuestPayment, error)
	GetDriverTip(ctx context.Context, tipID string) (store.DriverTip, error)
	GetDriver(ctx context.Context, driverID string) (store.Driver, error)

	MarkBookingDepositPaid(ctx context.Context, bookingID string) (bool, error)
	MarkBookingPaidInFull(ctx context.Context, bookingID string) (bool, error)
	MarkBookingPaymentFailed(ctx context.Context, bookingID string) (bool, error)
	MarkProposalPaid(ctx context.Context, proposalID string) (bool, error)
	MarkProposalPaymentFailed(ctx context.Context, proposalID string) (bool, error)
	MarkTripDepositPaid(ctx context.Context, tripID string) (bool, error)
	MarkTripDepositFailed(ctx context.Context, tripID string) (bool, error)
	MarkTicketPaid(ctx context.Context, ticketID string) (bool, error)
	MarkTicketPaymentFailed(ctx context.Context, ticketID string) (bool, error)
	MarkGuestPaymentPaid(ctx context.Context, paymentID string) (bool, error)
	MarkGuestPaymentFailed(ctx context.Context, paymentID string) (bool, error)
	MarkDriverTipPaid(ctx context.Context, tipID string) (bool, error)
	MarkDriverTipFailed(ctx context.Context, tipID string) (bool, error)
}

// Mailer sends the side-effect emails. Implementations must tolerate being
// unconfigured; reconciliation never fails because an email could not go out.
type Mailer interface {
	SendPaymentReceipt(to, name, description string, amountCents int64, currency string) error
	SendTicketConfirmation(to, holderName, tourName string, seats int) error
	SendTipThanks(to, driverName string, amountCents int64, currency string) error
}

// Handler verifies, deduplicates, and dispatches Stripe webhook events.
type Handler struct {
	secret string
	store  Store
	mailer Mailer

	// verify allows tests to bypass signature construction.
	verify func(payload []byte, header string) (stripe.Event, error)
}

func NewHandler(secret string, s Store, mailer Mailer) *Handler {
	h := &Handler{secret: secret, store: s, mailer: mailer}
	h.verify = func(payload []byte, header string) (stripe.Event, error) {
		return webhook.ConstructEvent(payload, header, h.secret)
	}
	return h
}

// Reconcilable payment_type tags. Each selects exactly one reconciler.
const (
	TypeBookingDeposit   = "booking_deposit"
	TypeBookingBalance   = "booking_balance"
	TypeProposal         = "proposal"
	TypeTripProposal     = "trip_proposal"
	TypeSharedTourTicket = "shared_tour_ticket"
	TypeGuestPayment     = "guest_payment"
	TypeDriverTip        = "driver_tip"
)

// Audit outcomes.
const (
	outcomeApplied     = "applied"
	outcomeReplayed    = "replayed"
	outcomeNotFound    = "not_found"
	outcomeUnknownType = "unknown_type"
)

// ServeHTTP is the Stripe webhook endpoint. Stripe retries any non-2xx
// response, so every recognizable-but-unactionable event is acked.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.Printf("payments: read webhook body: %v", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	event, err := h.verify(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		log.Printf("payments: signature verification failed: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	if err := h.store.LogStripeEvent(ctx, event.ID); err != nil {
		if err == store.ErrEventExists {
			// Redelivery. The first delivery already ran the handler.
			w.WriteHeader(http.StatusAccepted)
			return
		}
		log.Printf("payments: log event %s: %v", event.ID, err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if err := h.process(ctx, event); err != nil {
		log.Printf("payments: process event %s (%s): %v", event.ID, event.Type, err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) process(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case "payment_intent.succeeded":
		paymentType, recordID, ok := intentMetadata(event)
		if !ok {
			return h.audit(ctx, event, "", "", outcomeUnknownType)
		}
		return h.reconcileSucceeded(ctx, event, paymentType, recordID)
	case "payment_intent.payment_failed":
		paymentType, recordID, ok := intentMetadata(event)
		if !ok {
			return h.audit(ctx, event, "", "", outcomeUnknownType)
		}
		return h.reconcileFailed(ctx, event, paymentType, recordID)
	case "checkout.session.completed":
		paymentType, recordID, ok := sessionMetadata(event)
		if !ok {
			return h.audit(ctx, event, "", "", outcomeUnknownType)
		}
		return h.reconcileSucceeded(ctx, event, paymentType, recordID)
	default:
		// Unhandled event types are acked so Stripe stops retrying.
		log.Printf("payments: ignoring event type %s", event.Type)
		return nil
	}
}

func intentMetadata(event stripe.Event) (paymentType, recordID string, ok bool) {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return "", "", false
	}
	return readMetadata(intent.Metadata)
}

func sessionMetadata(event stripe.Event) (paymentType, recordID string, ok bool) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return "", "", false
	}
	if session.PaymentStatus != "" && session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return "", "", false
	}
	return readMetadata(session.Metadata)
}

func readMetadata(meta map[string]string) (string, string, bool) {
	paymentType := meta["payment_type"]
	if paymentType == "" {
		// Older payment links used "type".
		paymentType = meta["type"]
	}
	recordID := meta["record_id"]
	if paymentType == "" || recordID == "" {
		return "", "", false
	}
	return paymentType, recordID, true
}

func (h *Handler) audit(ctx context.Context, event stripe.Event, paymentType, recordID, outcome string) error {
	return h.store.InsertWebhookAudit(ctx, store.WebhookEvent{
		ID:          event.ID,
		EventType:   event.Type,
		PaymentType: paymentType,
		RecordID:    recordID,
		Outcome:     outcome,
	})
}
