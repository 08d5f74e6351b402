// Package offers runs the tour-offer workflow: ops propose a driver and
// vehicle for a booking, the driver accepts or declines, unanswered offers
// expire.
package offers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"wayfarer/api/internal/store"
	"wayfarer/api/internal/util"
)

var (
	ErrOfferClosed   = errors.New("offer already responded to or expired")
	ErrNotOfferOwner = errors.New("offer belongs to another driver")
)

type Store interface {
	InsertTourOffer(ctx context.Context, item store.TourOffer) error
	GetTourOffer(ctx context.Context, offerID string) (store.TourOffer, error)
	ListOffersForDriver(ctx context.Context, driverID, status string) ([]store.TourOffer, error)
	ListOffersForBooking(ctx context.Context, bookingID string) ([]store.TourOffer, error)
	AcceptTourOffer(ctx context.Context, offerID string) (store.TourOffer, error)
	DeclineTourOffer(ctx context.Context, offerID string) (store.TourOffer, error)
	ExpireTourOffers(ctx context.Context) (int64, error)
	GetBooking(ctx context.Context, bookingID string) (store.Booking, error)
	GetDriver(ctx context.Context, driverID string) (store.Driver, error)
	GetVehicle(ctx context.Context, vehicleID string) (store.Vehicle, error)
}

type Mailer interface {
	SendOfferNotification(to, driverName, tourName string, start time.Time, payoutCents int64, expiresAt time.Time) error
	SendOfferAccepted(to, driverName, tourName, reference string, start time.Time) error
}

type Service struct {
	store    Store
	mailer   Mailer
	opsEmail string
}

func New(s Store, mailer Mailer, opsEmail string) *Service {
	return &Service{store: s, mailer: mailer, opsEmail: opsEmail}
}

// Create sends a new pending offer to a driver. The booking must already be
// paid (confirmed at minimum) before a driver is courted for it.
func (s *Service) Create(ctx context.Context, bookingID, driverID, vehicleID string, payoutCents int64, note string, ttl time.Duration) (store.TourOffer, error) {
	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return store.TourOffer{}, fmt.Errorf("load booking: %w", err)
	}
	if booking.Status == "pending_payment" || booking.Status == "cancelled" || booking.Status == "payment_failed" {
		return store.TourOffer{}, fmt.Errorf("booking %s is not offerable in status %s", bookingID, booking.Status)
	}

	driver, err := s.store.GetDriver(ctx, driverID)
	if err != nil {
		return store.TourOffer{}, fmt.Errorf("load driver: %w", err)
	}
	if _, err := s.store.GetVehicle(ctx, vehicleID); err != nil {
		return store.TourOffer{}, fmt.Errorf("load vehicle: %w", err)
	}

	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	offer := store.TourOffer{
		ID:          util.NewID("off"),
		BookingID:   bookingID,
		DriverID:    driverID,
		VehicleID:   vehicleID,
		Status:      "pending",
		PayoutCents: payoutCents,
		Note:        note,
		ExpiresAt:   time.Now().Add(ttl),
	}
	if err := s.store.InsertTourOffer(ctx, offer); err != nil {
		return store.TourOffer{}, err
	}

	if s.mailer != nil {
		if err := s.mailer.SendOfferNotification(driver.Email, driver.FullName, booking.TourName, booking.StartDate, payoutCents, offer.ExpiresAt); err != nil {
			log.Printf("offers: notify driver %s: %v", driverID, err)
		}
	}
	return offer, nil
}

// Accept responds to an offer on behalf of a driver. The store performs the
// three writes atomically; emails go out only after the commit.
func (s *Service) Accept(ctx context.Context, offerID, driverID string) (store.TourOffer, error) {
	current, err := s.store.GetTourOffer(ctx, offerID)
	if err != nil {
		return store.TourOffer{}, err
	}
	if current.DriverID != driverID {
		return store.TourOffer{}, ErrNotOfferOwner
	}

	offer, err := s.store.AcceptTourOffer(ctx, offerID)
	if errors.Is(err, store.ErrOfferNotPending) {
		return store.TourOffer{}, ErrOfferClosed
	}
	if err != nil {
		return store.TourOffer{}, err
	}

	s.notifyAccepted(ctx, offer)
	return offer, nil
}

func (s *Service) Decline(ctx context.Context, offerID, driverID string) (store.TourOffer, error) {
	current, err := s.store.GetTourOffer(ctx, offerID)
	if err != nil {
		return store.TourOffer{}, err
	}
	if current.DriverID != driverID {
		return store.TourOffer{}, ErrNotOfferOwner
	}

	offer, err := s.store.DeclineTourOffer(ctx, offerID)
	if errors.Is(err, store.ErrOfferNotPending) {
		return store.TourOffer{}, ErrOfferClosed
	}
	if err != nil {
		return store.TourOffer{}, err
	}
	return offer, nil
}

func (s *Service) ListForDriver(ctx context.Context, driverID, status string) ([]store.TourOffer, error) {
	return s.store.ListOffersForDriver(ctx, driverID, status)
}

func (s *Service) ListForBooking(ctx context.Context, bookingID string) ([]store.TourOffer, error) {
	return s.store.ListOffersForBooking(ctx, bookingID)
}

func (s *Service) notifyAccepted(ctx context.Context, offer store.TourOffer) {
	if s.mailer == nil {
		return
	}
	booking, err := s.store.GetBooking(ctx, offer.BookingID)
	if err != nil {
		log.Printf("offers: load booking for accept email: %v", err)
		return
	}
	driver, err := s.store.GetDriver(ctx, offer.DriverID)
	if err != nil {
		log.Printf("offers: load driver for accept email: %v", err)
		return
	}
	if err := s.mailer.SendOfferAccepted(driver.Email, driver.FullName, booking.TourName, booking.Reference, booking.StartDate); err != nil {
		log.Printf("offers: accept email to driver: %v", err)
	}
	if s.opsEmail != "" {
		if err := s.mailer.SendOfferAccepted(s.opsEmail, driver.FullName, booking.TourName, booking.Reference, booking.StartDate); err != nil {
			log.Printf("offers: accept email to ops: %v", err)
		}
	}
}

// RunExpirySweep marks overdue pending offers as expired every interval
// until the context is cancelled.
func (s *Service) RunExpirySweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, err := s.store.ExpireTourOffers(ctx)
			if err != nil {
				log.Printf("offers: expiry sweep: %v", err)
				continue
			}
			if swept > 0 {
				log.Printf("offers: expired %d offers", swept)
			}
		}
	}
}
