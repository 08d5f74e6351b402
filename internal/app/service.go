package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"wayfarer/api/internal/auth"
	"wayfarer/api/internal/authpw"
	"wayfarer/api/internal/config"
	"wayfarer/api/internal/email"
	"wayfarer/api/internal/export"
	"wayfarer/api/internal/media"
	"wayfarer/api/internal/offers"
	"wayfarer/api/internal/rbac"
	"wayfarer/api/internal/search"
	"wayfarer/api/internal/store"
	"wayfarer/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type CreateBookingInput struct {
	CustomerID   string    `json:"customerId"`
	TourName     string    `json:"tourName"`
	StartDate    time.Time `json:"startDate"`
	EndDate      time.Time `json:"endDate"`
	PartySize    int       `json:"partySize"`
	DepositCents int64     `json:"depositCents"`
	TotalCents   int64     `json:"totalCents"`
	Currency     string    `json:"currency"`
}

type CreateTripInput struct {
	CustomerID   string    `json:"customerId"`
	Title        string    `json:"title"`
	DepositCents int64     `json:"depositCents"`
	Currency     string    `json:"currency"`
	StartDate    time.Time `json:"startDate"`
	EndDate      time.Time `json:"endDate"`
	Itinerary    string    `json:"itinerary"`
}

type CreateOfferInput struct {
	DriverID    string `json:"driverId"`
	VehicleID   string `json:"vehicleId"`
	PayoutCents int64  `json:"payoutCents"`
	Note        string `json:"note"`
	TTLSeconds  int    `json:"ttlSeconds"`
}

type CreateInspectionInput struct {
	VehicleID  string   `json:"vehicleId"`
	OdometerKm int      `json:"odometerKm"`
	Notes      string   `json:"notes"`
	Defects    string   `json:"defects"`
	PhotoKeys  []string `json:"photoKeys"`
}

// Booking statuses staff can set directly; payment driven statuses only
// move through the Stripe webhook and the offer workflow.
var manualBookingStatuses = map[string]struct{}{
	"completed": {},
	"cancelled": {},
}

type dataStore interface {
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	CreateUser(context.Context, store.User) error

	ListCustomers(context.Context) ([]store.Customer, error)
	GetCustomer(context.Context, string) (store.Customer, error)
	InsertCustomer(context.Context, store.Customer) error
	UpdateCustomer(context.Context, string, string, string, string) error

	ListBookings(context.Context, string) ([]store.Booking, error)
	GetBooking(context.Context, string) (store.Booking, error)
	InsertBooking(context.Context, store.Booking) error
	UpdateBookingStatus(context.Context, string, string) error

	ListDrivers(context.Context) ([]store.Driver, error)
	GetDriver(context.Context, string) (store.Driver, error)
	GetDriverByUserID(context.Context, string) (store.Driver, error)
	ListVehicles(context.Context) ([]store.Vehicle, error)
	GetVehicle(context.Context, string) (store.Vehicle, error)
	InsertInspection(context.Context, store.VehicleInspection) error
	ListInspections(context.Context, string) ([]store.VehicleInspection, error)

	GetProposal(context.Context, string) (store.Proposal, error)
	InsertProposal(context.Context, store.Proposal) error
	MarkProposalSent(context.Context, string) (bool, error)

	GetTripProposal(context.Context, string) (store.TripProposal, error)
	ListTripProposals(context.Context) ([]store.TripProposal, error)
	InsertTripProposal(context.Context, store.TripProposal) error
	AdvancePlanningPhase(context.Context, string, string, string) (bool, error)
	UpdateTripItinerary(context.Context, string, string) error

	ListSharedTours(context.Context) ([]store.SharedTour, error)
	GetSharedTour(context.Context, string) (store.SharedTour, error)
	InsertSharedTour(context.Context, store.SharedTour) error
	ReserveTicket(context.Context, store.SharedTourTicket) error
	GetTicket(context.Context, string) (store.SharedTourTicket, error)

	InsertGuestPayment(context.Context, store.GuestPayment) error
	InsertDriverTip(context.Context, store.DriverTip) error

	Ping(ctx context.Context) error
}

// sessionStore holds refresh tokens. Redis in production, with the
// Postgres store as fallback for single node deployments.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Options struct {
	Sessions sessionStore
	Search   *search.Service
	Mailer   *email.Service
	Offers   *offers.Service
	Media    *media.Service
	Exporter *export.Service
	AuthPw   *authpw.Service
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	search   *search.Service
	mailer   *email.Service
	offers   *offers.Service
	media    *media.Service
	exporter *export.Service
	authpw   *authpw.Service
}

func New(cfg config.Config, data dataStore, opts Options) *Service {
	sessions := opts.Sessions
	if sessions == nil {
		// The Postgres store doubles as the refresh-session fallback.
		if ss, ok := data.(sessionStore); ok {
			sessions = ss
		}
	}
	return &Service{
		cfg:      cfg,
		store:    data,
		sessions: sessions,
		search:   opts.Search,
		mailer:   opts.Mailer,
		offers:   opts.Offers,
		media:    opts.Media,
		exporter: opts.Exporter,
		authpw:   opts.AuthPw,
	}
}

// Bootstrap seeds an ops account on a fresh database so the first
// deploy can sign in. The password must be rotated immediately.
func (s *Service) Bootstrap(ctx context.Context) error {
	const seedEmail = "ops@wayfarer.example"
	if _, err := s.store.GetUserByEmail(ctx, seedEmail); err == nil {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("wayfarer-dev"), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash seed password: %w", err)
	}

	if err := s.store.CreateUser(ctx, store.User{
		ID:              util.NewID("usr"),
		DisplayName:     "Wayfarer Ops",
		Email:           seedEmail,
		PasswordHash:    string(hash),
		Role:            string(rbac.RoleAdmin),
		IsEmailVerified: true,
	}); err != nil {
		return fmt.Errorf("seed ops user: %w", err)
	}
	log.Printf("seeded ops account %s with the default dev password", seedEmail)
	return nil
}

// ---- sessions ----

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// The session record only proves ownership; profile and role come
	// from the user row, which also fails closed for deactivated users.
	user, err = s.store.GetUserByID(ctx, user.ID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Name:  user.DisplayName,
		Email: user.Email,
		Role:  user.Role,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}
	if user.DeactivatedAt != nil {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Email:     user.Email,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.mailer != nil && s.mailer.IsConfigured()
}

func (s *Service) Mailer() *email.Service {
	return s.mailer
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ---- customers ----

func (s *Service) ListCustomers(ctx context.Context) ([]map[string]any, error) {
	customers, err := s.store.ListCustomers(ctx)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(customers))
	for _, c := range customers {
		payload = append(payload, customerPayload(c))
	}
	return payload, nil
}

func (s *Service) GetCustomer(ctx context.Context, customerID string) (map[string]any, error) {
	customer, err := s.store.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return customerPayload(customer), nil
}

func (s *Service) CreateCustomer(ctx context.Context, fullName, emailAddr, phone, notes string) (map[string]any, error) {
	fullName = strings.TrimSpace(fullName)
	emailAddr = strings.TrimSpace(emailAddr)
	if fullName == "" || emailAddr == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "fullName and email are required", nil)
	}

	customer := store.Customer{
		ID:       util.NewID("cus"),
		FullName: fullName,
		Email:    emailAddr,
		Phone:    strings.TrimSpace(phone),
		Notes:    notes,
	}
	if err := s.store.InsertCustomer(ctx, customer); err != nil {
		return nil, err
	}
	s.indexCustomer(customer)
	return customerPayload(customer), nil
}

func (s *Service) UpdateCustomer(ctx context.Context, customerID, fullName, phone, notes string) (map[string]any, error) {
	if strings.TrimSpace(fullName) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "fullName is required", nil)
	}
	if err := s.store.UpdateCustomer(ctx, customerID, strings.TrimSpace(fullName), strings.TrimSpace(phone), notes); err != nil {
		return nil, err
	}
	customer, err := s.store.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	s.indexCustomer(customer)
	return customerPayload(customer), nil
}

func (s *Service) indexCustomer(c store.Customer) {
	if s.search == nil {
		return
	}
	s.search.IndexCustomer(search.CustomerRecord{
		ID:       c.ID,
		FullName: c.FullName,
		Email:    c.Email,
		Phone:    c.Phone,
		Notes:    c.Notes,
	})
}

// ---- bookings ----

func (s *Service) ListBookings(ctx context.Context, status string) ([]map[string]any, error) {
	bookings, err := s.store.ListBookings(ctx, status)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(bookings))
	for _, b := range bookings {
		payload = append(payload, bookingPayload(b))
	}
	return payload, nil
}

func (s *Service) GetBooking(ctx context.Context, bookingID string) (map[string]any, error) {
	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	return bookingPayload(booking), nil
}

func (s *Service) CreateBooking(ctx context.Context, input CreateBookingInput) (map[string]any, error) {
	if strings.TrimSpace(input.TourName) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "tourName is required", nil)
	}
	if input.PartySize < 1 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "partySize must be at least 1", nil)
	}
	if input.EndDate.Before(input.StartDate) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "endDate must not be before startDate", nil)
	}
	if input.TotalCents <= 0 || input.DepositCents < 0 || input.DepositCents > input.TotalCents {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "deposit must be between 0 and the total", nil)
	}
	if _, err := s.store.GetCustomer(ctx, input.CustomerID); err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "customer not found", nil)
	}

	currency := strings.ToLower(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = "gbp"
	}

	booking := store.Booking{
		ID:           util.NewID("bkg"),
		Reference:    newBookingReference(),
		CustomerID:   input.CustomerID,
		TourName:     strings.TrimSpace(input.TourName),
		Status:       "pending_payment",
		StartDate:    input.StartDate,
		EndDate:      input.EndDate,
		PartySize:    input.PartySize,
		DepositCents: input.DepositCents,
		TotalCents:   input.TotalCents,
		BalanceCents: input.TotalCents - input.DepositCents,
		Currency:     currency,
	}
	if err := s.store.InsertBooking(ctx, booking); err != nil {
		return nil, err
	}
	s.indexBooking(booking)
	return bookingPayload(booking), nil
}

// SetBookingStatus handles the staff-driven transitions. Payment and
// dispatch transitions go through the webhook and offer services.
func (s *Service) SetBookingStatus(ctx context.Context, bookingID, status string) (map[string]any, error) {
	if _, ok := manualBookingStatuses[status]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be completed or cancelled", nil)
	}
	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status == "completed" || booking.Status == "cancelled" {
		return nil, domainError(http.StatusConflict, "BOOKING_CLOSED", "Booking is already "+booking.Status, nil)
	}
	if err := s.store.UpdateBookingStatus(ctx, bookingID, status); err != nil {
		return nil, err
	}
	booking.Status = status
	s.indexBooking(booking)
	return bookingPayload(booking), nil
}

func (s *Service) indexBooking(b store.Booking) {
	if s.search == nil {
		return
	}
	s.search.IndexBooking(search.BookingRecord{
		ID:        b.ID,
		Reference: b.Reference,
		TourName:  b.TourName,
		Status:    b.Status,
	})
}

func newBookingReference() string {
	return "WF-" + strings.ToUpper(util.NewID("")[:8])
}

// ---- drivers, vehicles, inspections ----

func (s *Service) ListDrivers(ctx context.Context) ([]map[string]any, error) {
	drivers, err := s.store.ListDrivers(ctx)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(drivers))
	for _, d := range drivers {
		payload = append(payload, map[string]any{
			"id":       d.ID,
			"fullName": d.FullName,
			"email":    d.Email,
			"phone":    d.Phone,
			"status":   d.Status,
		})
	}
	return payload, nil
}

func (s *Service) ListVehicles(ctx context.Context) ([]map[string]any, error) {
	vehicles, err := s.store.ListVehicles(ctx)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(vehicles))
	for _, v := range vehicles {
		payload = append(payload, map[string]any{
			"id":           v.ID,
			"registration": v.Registration,
			"make":         v.Make,
			"model":        v.Model,
			"seats":        v.Seats,
			"status":       v.Status,
		})
	}
	return payload, nil
}

func (s *Service) CreateInspection(ctx context.Context, session Session, input CreateInspectionInput) (map[string]any, error) {
	driver, err := s.store.GetDriverByUserID(ctx, session.UserID)
	if err != nil {
		return nil, domainError(http.StatusForbidden, "NOT_A_DRIVER", "No driver record linked to this account", nil)
	}
	if _, err := s.store.GetVehicle(ctx, input.VehicleID); err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "vehicle not found", nil)
	}
	if input.OdometerKm < 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "odometerKm must not be negative", nil)
	}

	inspection := store.VehicleInspection{
		ID:          util.NewID("insp"),
		VehicleID:   input.VehicleID,
		DriverID:    driver.ID,
		OdometerKm:  input.OdometerKm,
		Notes:       input.Notes,
		Defects:     input.Defects,
		PhotoKeys:   input.PhotoKeys,
		InspectedAt: time.Now(),
	}
	if err := s.store.InsertInspection(ctx, inspection); err != nil {
		return nil, err
	}
	return inspectionPayload(inspection), nil
}

func (s *Service) ListInspections(ctx context.Context, vehicleID string) ([]map[string]any, error) {
	inspections, err := s.store.ListInspections(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(inspections))
	for _, i := range inspections {
		payload = append(payload, inspectionPayload(i))
	}
	return payload, nil
}

func (s *Service) InspectionPhotoUploadURL(ctx context.Context, inspectionID, filename string) (map[string]any, error) {
	if s.media == nil {
		return nil, domainError(http.StatusServiceUnavailable, "MEDIA_UNAVAILABLE", "Photo storage not configured", nil)
	}
	key, url, err := s.media.UploadURL(ctx, inspectionID, filename)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	return map[string]any{"key": key, "uploadUrl": url}, nil
}

func (s *Service) InspectionPhotoURL(ctx context.Context, key string) (map[string]any, error) {
	if s.media == nil {
		return nil, domainError(http.StatusServiceUnavailable, "MEDIA_UNAVAILABLE", "Photo storage not configured", nil)
	}
	url, err := s.media.DownloadURL(ctx, key)
	if err != nil {
		return nil, err
	}
	return map[string]any{"key": key, "url": url}, nil
}

// ---- tour offers ----

func (s *Service) CreateOffer(ctx context.Context, bookingID string, input CreateOfferInput) (map[string]any, error) {
	if s.offers == nil {
		return nil, domainError(http.StatusServiceUnavailable, "OFFERS_UNAVAILABLE", "Offer service not configured", nil)
	}
	ttl := s.cfg.OfferTTL
	if input.TTLSeconds > 0 {
		ttl = time.Duration(input.TTLSeconds) * time.Second
	}
	offer, err := s.offers.Create(ctx, bookingID, input.DriverID, input.VehicleID, input.PayoutCents, input.Note, ttl)
	if err != nil {
		return nil, err
	}
	return offerPayload(offer), nil
}

func (s *Service) ListBookingOffers(ctx context.Context, bookingID string) ([]map[string]any, error) {
	if s.offers == nil {
		return nil, domainError(http.StatusServiceUnavailable, "OFFERS_UNAVAILABLE", "Offer service not configured", nil)
	}
	items, err := s.offers.ListForBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(items))
	for _, o := range items {
		payload = append(payload, offerPayload(o))
	}
	return payload, nil
}

// ListMyOffers returns the offers addressed to the signed-in driver.
func (s *Service) ListMyOffers(ctx context.Context, session Session, status string) ([]map[string]any, error) {
	if s.offers == nil {
		return nil, domainError(http.StatusServiceUnavailable, "OFFERS_UNAVAILABLE", "Offer service not configured", nil)
	}
	driver, err := s.store.GetDriverByUserID(ctx, session.UserID)
	if err != nil {
		return nil, domainError(http.StatusForbidden, "NOT_A_DRIVER", "No driver record linked to this account", nil)
	}
	items, err := s.offers.ListForDriver(ctx, driver.ID, status)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(items))
	for _, o := range items {
		payload = append(payload, offerPayload(o))
	}
	return payload, nil
}

func (s *Service) AcceptOffer(ctx context.Context, session Session, offerID string) (map[string]any, error) {
	return s.respondToOffer(ctx, session, offerID, true)
}

func (s *Service) DeclineOffer(ctx context.Context, session Session, offerID string) (map[string]any, error) {
	return s.respondToOffer(ctx, session, offerID, false)
}

func (s *Service) respondToOffer(ctx context.Context, session Session, offerID string, accept bool) (map[string]any, error) {
	if s.offers == nil {
		return nil, domainError(http.StatusServiceUnavailable, "OFFERS_UNAVAILABLE", "Offer service not configured", nil)
	}
	driver, err := s.store.GetDriverByUserID(ctx, session.UserID)
	if err != nil {
		return nil, domainError(http.StatusForbidden, "NOT_A_DRIVER", "No driver record linked to this account", nil)
	}

	var offer store.TourOffer
	if accept {
		offer, err = s.offers.Accept(ctx, offerID, driver.ID)
	} else {
		offer, err = s.offers.Decline(ctx, offerID, driver.ID)
	}
	switch {
	case errors.Is(err, offers.ErrNotOfferOwner):
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Offer belongs to another driver", nil)
	case errors.Is(err, offers.ErrOfferClosed):
		return nil, domainError(http.StatusConflict, "OFFER_CLOSED", "Offer is no longer open", nil)
	case err != nil:
		return nil, err
	}
	return offerPayload(offer), nil
}

// ---- quotes (priced proposals) ----

func (s *Service) CreateProposal(ctx context.Context, customerID, title string, amountCents int64, currency string) (map[string]any, error) {
	if strings.TrimSpace(title) == "" || amountCents <= 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title and a positive amount are required", nil)
	}
	if _, err := s.store.GetCustomer(ctx, customerID); err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "customer not found", nil)
	}
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		currency = "gbp"
	}
	proposal := store.Proposal{
		ID:          util.NewID("prp"),
		CustomerID:  customerID,
		Title:       strings.TrimSpace(title),
		Status:      "draft",
		AmountCents: amountCents,
		Currency:    currency,
	}
	if err := s.store.InsertProposal(ctx, proposal); err != nil {
		return nil, err
	}
	return proposalPayload(proposal), nil
}

func (s *Service) SendProposal(ctx context.Context, proposalID string) (map[string]any, error) {
	changed, err := s.store.MarkProposalSent(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, domainError(http.StatusConflict, "PROPOSAL_NOT_DRAFT", "Only draft proposals can be sent", nil)
	}
	proposal, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	return proposalPayload(proposal), nil
}

// ---- trip proposals ----

func (s *Service) ListTrips(ctx context.Context) ([]map[string]any, error) {
	trips, err := s.store.ListTripProposals(ctx)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(trips))
	for _, t := range trips {
		payload = append(payload, tripPayload(t))
	}
	return payload, nil
}

func (s *Service) GetTrip(ctx context.Context, tripID string) (map[string]any, error) {
	trip, err := s.store.GetTripProposal(ctx, tripID)
	if err != nil {
		return nil, err
	}
	return tripPayload(trip), nil
}

func (s *Service) CreateTrip(ctx context.Context, input CreateTripInput) (map[string]any, error) {
	if strings.TrimSpace(input.Title) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if input.EndDate.Before(input.StartDate) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "endDate must not be before startDate", nil)
	}
	if input.DepositCents < 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "depositCents must not be negative", nil)
	}
	if _, err := s.store.GetCustomer(ctx, input.CustomerID); err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "customer not found", nil)
	}
	currency := strings.ToLower(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = "gbp"
	}

	trip := store.TripProposal{
		ID:            util.NewID("trip"),
		CustomerID:    input.CustomerID,
		Title:         strings.TrimSpace(input.Title),
		PlanningPhase: "proposal",
		DepositStatus: "pending",
		DepositCents:  input.DepositCents,
		Currency:      currency,
		StartDate:     input.StartDate,
		EndDate:       input.EndDate,
		Itinerary:     input.Itinerary,
	}
	if err := s.store.InsertTripProposal(ctx, trip); err != nil {
		return nil, err
	}
	s.indexTrip(trip)
	return tripPayload(trip), nil
}

// FinalizeTrip moves an actively planned trip to finalized. The move
// from proposal to active_planning only ever happens through the
// deposit payment webhook.
func (s *Service) FinalizeTrip(ctx context.Context, tripID string) (map[string]any, error) {
	changed, err := s.store.AdvancePlanningPhase(ctx, tripID, "active_planning", "finalized")
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, domainError(http.StatusConflict, "PHASE_CONFLICT", "Trip is not in active planning", nil)
	}
	trip, err := s.store.GetTripProposal(ctx, tripID)
	if err != nil {
		return nil, err
	}
	s.indexTrip(trip)
	return tripPayload(trip), nil
}

func (s *Service) UpdateTripItinerary(ctx context.Context, tripID, itinerary string) (map[string]any, error) {
	trip, err := s.store.GetTripProposal(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if trip.PlanningPhase == "finalized" {
		return nil, domainError(http.StatusConflict, "TRIP_FINALIZED", "Finalized itineraries are read only", nil)
	}
	if err := s.store.UpdateTripItinerary(ctx, tripID, itinerary); err != nil {
		return nil, err
	}
	trip.Itinerary = itinerary
	s.indexTrip(trip)
	return tripPayload(trip), nil
}

func (s *Service) ExportTripPDF(ctx context.Context, tripID string) (*export.Result, error) {
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export not configured", nil)
	}
	return s.exporter.ExportTripPDF(ctx, tripID)
}

func (s *Service) indexTrip(t store.TripProposal) {
	if s.search == nil {
		return
	}
	s.search.IndexTrip(search.TripRecord{
		ID:        t.ID,
		Title:     t.Title,
		Itinerary: t.Itinerary,
		Phase:     t.PlanningPhase,
	})
}

// ---- shared tours ----

func (s *Service) ListSharedTours(ctx context.Context) ([]map[string]any, error) {
	tours, err := s.store.ListSharedTours(ctx)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(tours))
	for _, t := range tours {
		payload = append(payload, tourPayload(t))
	}
	return payload, nil
}

func (s *Service) CreateSharedTour(ctx context.Context, name string, departsAt time.Time, seatsTotal int, priceCents int64, currency string) (map[string]any, error) {
	if strings.TrimSpace(name) == "" || seatsTotal < 1 || priceCents <= 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name, seats, and a positive price are required", nil)
	}
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		currency = "gbp"
	}
	tour := store.SharedTour{
		ID:         util.NewID("tour"),
		Name:       strings.TrimSpace(name),
		DepartsAt:  departsAt,
		SeatsTotal: seatsTotal,
		PriceCents: priceCents,
		Currency:   currency,
		Status:     "open",
	}
	if err := s.store.InsertSharedTour(ctx, tour); err != nil {
		return nil, err
	}
	return tourPayload(tour), nil
}

func (s *Service) ReserveTicket(ctx context.Context, tourID, holderName, emailAddr string, seats int) (map[string]any, error) {
	if strings.TrimSpace(holderName) == "" || strings.TrimSpace(emailAddr) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "holderName and email are required", nil)
	}
	if seats < 1 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "seats must be at least 1", nil)
	}
	tour, err := s.store.GetSharedTour(ctx, tourID)
	if err != nil {
		return nil, err
	}

	ticket := store.SharedTourTicket{
		ID:          util.NewID("tkt"),
		TourID:      tour.ID,
		HolderName:  strings.TrimSpace(holderName),
		Email:       strings.TrimSpace(emailAddr),
		Seats:       seats,
		Status:      "reserved",
		AmountCents: tour.PriceCents * int64(seats),
	}
	if err := s.store.ReserveTicket(ctx, ticket); err != nil {
		if errors.Is(err, store.ErrTourFull) {
			return nil, domainError(http.StatusConflict, "TOUR_FULL", "Not enough seats available", nil)
		}
		return nil, err
	}
	return ticketPayload(ticket), nil
}

// ---- guest payments and tips ----

func (s *Service) CreateGuestPayment(ctx context.Context, bookingID, emailAddr, description string, amountCents int64, currency string) (map[string]any, error) {
	if strings.TrimSpace(emailAddr) == "" || amountCents <= 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "email and a positive amount are required", nil)
	}
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		currency = "gbp"
	}
	payment := store.GuestPayment{
		ID:          util.NewID("gpay"),
		Email:       strings.TrimSpace(emailAddr),
		Description: description,
		AmountCents: amountCents,
		Currency:    currency,
		Status:      "pending",
	}
	if bookingID != "" {
		if _, err := s.store.GetBooking(ctx, bookingID); err != nil {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "booking not found", nil)
		}
		payment.BookingID = &bookingID
	}
	if err := s.store.InsertGuestPayment(ctx, payment); err != nil {
		return nil, err
	}
	return map[string]any{
		"id":          payment.ID,
		"bookingId":   payment.BookingID,
		"email":       payment.Email,
		"description": payment.Description,
		"amountCents": payment.AmountCents,
		"currency":    payment.Currency,
		"status":      payment.Status,
	}, nil
}

func (s *Service) CreateDriverTip(ctx context.Context, bookingID, driverID string, amountCents int64, currency string) (map[string]any, error) {
	if amountCents <= 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "a positive amount is required", nil)
	}
	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "booking not found", nil)
	}
	if driverID == "" && booking.DriverID != nil {
		driverID = *booking.DriverID
	}
	if _, err := s.store.GetDriver(ctx, driverID); err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "driver not found", nil)
	}
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		currency = booking.Currency
	}
	tip := store.DriverTip{
		ID:          util.NewID("tip"),
		BookingID:   bookingID,
		DriverID:    driverID,
		AmountCents: amountCents,
		Currency:    currency,
		Status:      "pending",
	}
	if err := s.store.InsertDriverTip(ctx, tip); err != nil {
		return nil, err
	}
	return map[string]any{
		"id":          tip.ID,
		"bookingId":   tip.BookingID,
		"driverId":    tip.DriverID,
		"amountCents": tip.AmountCents,
		"currency":    tip.Currency,
		"status":      tip.Status,
	}, nil
}

// ---- search ----

func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}}
	}
	return s.search.Search(q)
}

// ---- payloads ----

func customerPayload(c store.Customer) map[string]any {
	return map[string]any{
		"id":       c.ID,
		"fullName": c.FullName,
		"email":    c.Email,
		"phone":    c.Phone,
		"notes":    c.Notes,
	}
}

func bookingPayload(b store.Booking) map[string]any {
	return map[string]any{
		"id":           b.ID,
		"reference":    b.Reference,
		"customerId":   b.CustomerID,
		"tourName":     b.TourName,
		"status":       b.Status,
		"startDate":    b.StartDate,
		"endDate":      b.EndDate,
		"partySize":    b.PartySize,
		"depositCents": b.DepositCents,
		"totalCents":   b.TotalCents,
		"balanceCents": b.BalanceCents,
		"currency":     b.Currency,
		"driverId":     b.DriverID,
		"vehicleId":    b.VehicleID,
	}
}

func offerPayload(o store.TourOffer) map[string]any {
	return map[string]any{
		"id":          o.ID,
		"bookingId":   o.BookingID,
		"driverId":    o.DriverID,
		"vehicleId":   o.VehicleID,
		"status":      o.Status,
		"payoutCents": o.PayoutCents,
		"note":        o.Note,
		"expiresAt":   o.ExpiresAt,
		"respondedAt": o.RespondedAt,
	}
}

func proposalPayload(p store.Proposal) map[string]any {
	return map[string]any{
		"id":          p.ID,
		"customerId":  p.CustomerID,
		"title":       p.Title,
		"status":      p.Status,
		"amountCents": p.AmountCents,
		"currency":    p.Currency,
		"sentAt":      p.SentAt,
		"paidAt":      p.PaidAt,
	}
}

func tripPayload(t store.TripProposal) map[string]any {
	return map[string]any{
		"id":            t.ID,
		"customerId":    t.CustomerID,
		"title":         t.Title,
		"planningPhase": t.PlanningPhase,
		"depositStatus": t.DepositStatus,
		"depositCents":  t.DepositCents,
		"currency":      t.Currency,
		"startDate":     t.StartDate,
		"endDate":       t.EndDate,
		"itinerary":     t.Itinerary,
	}
}

func tourPayload(t store.SharedTour) map[string]any {
	return map[string]any{
		"id":         t.ID,
		"name":       t.Name,
		"departsAt":  t.DepartsAt,
		"seatsTotal": t.SeatsTotal,
		"seatsSold":  t.SeatsSold,
		"seatsLeft":  t.SeatsTotal - t.SeatsSold,
		"priceCents": t.PriceCents,
		"currency":   t.Currency,
		"status":     t.Status,
	}
}

func ticketPayload(t store.SharedTourTicket) map[string]any {
	return map[string]any{
		"id":          t.ID,
		"tourId":      t.TourID,
		"holderName":  t.HolderName,
		"email":       t.Email,
		"seats":       t.Seats,
		"status":      t.Status,
		"amountCents": t.AmountCents,
	}
}

func inspectionPayload(i store.VehicleInspection) map[string]any {
	return map[string]any{
		"id":          i.ID,
		"vehicleId":   i.VehicleID,
		"driverId":    i.DriverID,
		"odometerKm":  i.OdometerKm,
		"notes":       i.Notes,
		"defects":     i.Defects,
		"photoKeys":   i.PhotoKeys,
		"inspectedAt": i.InspectedAt,
	}
}
