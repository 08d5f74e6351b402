package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	DeactivatedAt         *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Customer struct {
	ID        string
	FullName  string
	Email     string
	Phone     string
	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Driver struct {
	ID        string
	UserID    *string
	FullName  string
	Email     string
	Phone     string
	Status    string
	CreatedAt time.Time
}

type Vehicle struct {
	ID           string
	Registration string
	Make         string
	Model        string
	Seats        int
	Status       string
	CreatedAt    time.Time
}

// Booking statuses: pending_payment, confirmed, paid_in_full,
// driver_assigned, completed, cancelled, payment_failed.
type Booking struct {
	ID           string
	Reference    string
	CustomerID   string
	TourName     string
	Status       string
	StartDate    time.Time
	EndDate      time.Time
	PartySize    int
	DepositCents int64
	TotalCents   int64
	BalanceCents int64
	Currency     string
	DriverID     *string
	VehicleID    *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TourOffer statuses: pending, accepted, declined, expired, withdrawn.
type TourOffer struct {
	ID          string
	BookingID   string
	DriverID    string
	VehicleID   string
	Status      string
	PayoutCents int64
	Note        string
	ExpiresAt   time.Time
	RespondedAt *time.Time
	CreatedAt   time.Time
}

// Proposal is a priced quote sent to a customer.
// Statuses: draft, sent, paid, declined, payment_failed.
type Proposal struct {
	ID          string
	CustomerID  string
	Title       string
	Status      string
	AmountCents int64
	Currency    string
	SentAt      *time.Time
	PaidAt      *time.Time
	CreatedAt   time.Time
}

// TripProposal is a multi-day custom trip with a planning phase:
// proposal -> active_planning -> finalized.
type TripProposal struct {
	ID            string
	CustomerID    string
	Title         string
	PlanningPhase string
	DepositStatus string
	DepositCents  int64
	Currency      string
	StartDate     time.Time
	EndDate       time.Time
	Itinerary     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type SharedTour struct {
	ID         string
	Name       string
	DepartsAt  time.Time
	SeatsTotal int
	SeatsSold  int
	PriceCents int64
	Currency   string
	Status     string
	CreatedAt  time.Time
}

// SharedTourTicket statuses: reserved, paid, cancelled, payment_failed.
type SharedTourTicket struct {
	ID          string
	TourID      string
	HolderName  string
	Email       string
	Seats       int
	Status      string
	AmountCents int64
	PaidAt      *time.Time
	CreatedAt   time.Time
}

// GuestPayment is an ad-hoc payment link for a guest without a booking
// account. Statuses: pending, paid, payment_failed.
type GuestPayment struct {
	ID          string
	BookingID   *string
	Email       string
	Description string
	AmountCents int64
	Currency    string
	Status      string
	PaidAt      *time.Time
	CreatedAt   time.Time
}

// DriverTip statuses: pending, paid, payment_failed.
type DriverTip struct {
	ID          string
	BookingID   string
	DriverID    string
	AmountCents int64
	Currency    string
	Status      string
	PaidAt      *time.Time
	CreatedAt   time.Time
}

type VehicleInspection struct {
	ID          string
	VehicleID   string
	DriverID    string
	OdometerKm  int
	Notes       string
	Defects     string
	PhotoKeys   []string
	InspectedAt time.Time
}

// WebhookEvent is the audit row for a processed Stripe event.
type WebhookEvent struct {
	ID          string
	EventType   string
	PaymentType string
	RecordID    string
	Outcome     string
	ReceivedAt  time.Time
}
