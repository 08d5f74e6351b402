package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"wayfarer/api/internal/config"
	"wayfarer/api/internal/offers"
	"wayfarer/api/internal/store"
	"wayfarer/api/internal/util"
)

// memStore backs the HTTP tests. It implements dataStore, sessionStore,
// and offers.Store with plain maps.
type memStore struct {
	users       map[string]store.User
	customers   map[string]store.Customer
	bookings    map[string]store.Booking
	drivers     map[string]store.Driver
	vehicles    map[string]store.Vehicle
	inspections map[string]store.VehicleInspection
	proposals   map[string]store.Proposal
	trips       map[string]store.TripProposal
	tours       map[string]store.SharedTour
	tickets     map[string]store.SharedTourTicket
	guests      map[string]store.GuestPayment
	tips        map[string]store.DriverTip
	offers      map[string]store.TourOffer
	sessions    map[string]string // token hash -> user ID
}

func newMemStore() *memStore {
	return &memStore{
		users:       make(map[string]store.User),
		customers:   make(map[string]store.Customer),
		bookings:    make(map[string]store.Booking),
		drivers:     make(map[string]store.Driver),
		vehicles:    make(map[string]store.Vehicle),
		inspections: make(map[string]store.VehicleInspection),
		proposals:   make(map[string]store.Proposal),
		trips:       make(map[string]store.TripProposal),
		tours:       make(map[string]store.SharedTour),
		tickets:     make(map[string]store.SharedTourTicket),
		guests:      make(map[string]store.GuestPayment),
		tips:        make(map[string]store.DriverTip),
		offers:      make(map[string]store.TourOffer),
		sessions:    make(map[string]string),
	}
}

func (m *memStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (m *memStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	u, ok := m.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (m *memStore) CreateUser(ctx context.Context, user store.User) error {
	m.users[user.ID] = user
	return nil
}

func (m *memStore) ListCustomers(ctx context.Context) ([]store.Customer, error) {
	out := make([]store.Customer, 0, len(m.customers))
	for _, c := range m.customers {
		out = append(out, c)
	}
	return out, nil
}

func (m *memStore) GetCustomer(ctx context.Context, id string) (store.Customer, error) {
	c, ok := m.customers[id]
	if !ok {
		return store.Customer{}, sql.ErrNoRows
	}
	return c, nil
}

func (m *memStore) InsertCustomer(ctx context.Context, c store.Customer) error {
	m.customers[c.ID] = c
	return nil
}

func (m *memStore) UpdateCustomer(ctx context.Context, id, fullName, phone, notes string) error {
	c, ok := m.customers[id]
	if !ok {
		return sql.ErrNoRows
	}
	c.FullName, c.Phone, c.Notes = fullName, phone, notes
	m.customers[id] = c
	return nil
}

func (m *memStore) ListBookings(ctx context.Context, status string) ([]store.Booking, error) {
	out := make([]store.Booking, 0)
	for _, b := range m.bookings {
		if status == "" || b.Status == status {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memStore) GetBooking(ctx context.Context, id string) (store.Booking, error) {
	b, ok := m.bookings[id]
	if !ok {
		return store.Booking{}, sql.ErrNoRows
	}
	return b, nil
}

func (m *memStore) InsertBooking(ctx context.Context, b store.Booking) error {
	m.bookings[b.ID] = b
	return nil
}

func (m *memStore) UpdateBookingStatus(ctx context.Context, id, status string) error {
	b, ok := m.bookings[id]
	if !ok {
		return sql.ErrNoRows
	}
	b.Status = status
	m.bookings[id] = b
	return nil
}

func (m *memStore) ListDrivers(ctx context.Context) ([]store.Driver, error) {
	out := make([]store.Driver, 0, len(m.drivers))
	for _, d := range m.drivers {
		out = append(out, d)
	}
	return out, nil
}

func (m *memStore) GetDriver(ctx context.Context, id string) (store.Driver, error) {
	d, ok := m.drivers[id]
	if !ok {
		return store.Driver{}, sql.ErrNoRows
	}
	return d, nil
}

func (m *memStore) GetDriverByUserID(ctx context.Context, userID string) (store.Driver, error) {
	for _, d := range m.drivers {
		if d.UserID != nil && *d.UserID == userID {
			return d, nil
		}
	}
	return store.Driver{}, sql.ErrNoRows
}

func (m *memStore) ListVehicles(ctx context.Context) ([]store.Vehicle, error) {
	out := make([]store.Vehicle, 0, len(m.vehicles))
	for _, v := range m.vehicles {
		out = append(out, v)
	}
	return out, nil
}

func (m *memStore) GetVehicle(ctx context.Context, id string) (store.Vehicle, error) {
	v, ok := m.vehicles[id]
	if !ok {
		return store.Vehicle{}, sql.ErrNoRows
	}
	return v, nil
}

func (m *memStore) InsertInspection(ctx context.Context, i store.VehicleInspection) error {
	m.inspections[i.ID] = i
	return nil
}

func (m *memStore) ListInspections(ctx context.Context, vehicleID string) ([]store.VehicleInspection, error) {
	out := make([]store.VehicleInspection, 0)
	for _, i := range m.inspections {
		if i.VehicleID == vehicleID {
			out = append(out, i)
		}
	}
	return out, nil
}

func (m *memStore) GetProposal(ctx context.Context, id string) (store.Proposal, error) {
	p, ok := m.proposals[id]
	if !ok {
		return store.Proposal{}, sql.ErrNoRows
	}
	return p, nil
}

func (m *memStore) InsertProposal(ctx context.Context, p store.Proposal) error {
	m.proposals[p.ID] = p
	return nil
}

func (m *memStore) MarkProposalSent(ctx context.Context, id string) (bool, error) {
	p, ok := m.proposals[id]
	if !ok || p.Status != "draft" {
		return false, nil
	}
	now := time.Now()
	p.Status = "sent"
	p.SentAt = &now
	m.proposals[id] = p
	return true, nil
}

func (m *memStore) GetTripProposal(ctx context.Context, id string) (store.TripProposal, error) {
	t, ok := m.trips[id]
	if !ok {
		return store.TripProposal{}, sql.ErrNoRows
	}
	return t, nil
}

func (m *memStore) ListTripProposals(ctx context.Context) ([]store.TripProposal, error) {
	out := make([]store.TripProposal, 0, len(m.trips))
	for _, t := range m.trips {
		out = append(out, t)
	}
	return out, nil
}

func (m *memStore) InsertTripProposal(ctx context.Context, t store.TripProposal) error {
	m.trips[t.ID] = t
	return nil
}

func (m *memStore) AdvancePlanningPhase(ctx context.Context, id, from, to string) (bool, error) {
	t, ok := m.trips[id]
	if !ok || t.PlanningPhase != from {
		return false, nil
	}
	t.PlanningPhase = to
	m.trips[id] = t
	return true, nil
}

func (m *memStore) UpdateTripItinerary(ctx context.Context, id, itinerary string) error {
	t, ok := m.trips[id]
	if !ok {
		return sql.ErrNoRows
	}
	t.Itinerary = itinerary
	m.trips[id] = t
	return nil
}

func (m *memStore) ListSharedTours(ctx context.Context) ([]store.SharedTour, error) {
	out := make([]store.SharedTour, 0, len(m.tours))
	for _, t := range m.tours {
		out = append(out, t)
	}
	return out, nil
}

func (m *memStore) GetSharedTour(ctx context.Context, id string) (store.SharedTour, error) {
	t, ok := m.tours[id]
	if !ok {
		return store.SharedTour{}, sql.ErrNoRows
	}
	return t, nil
}

func (m *memStore) InsertSharedTour(ctx context.Context, t store.SharedTour) error {
	m.tours[t.ID] = t
	return nil
}

func (m *memStore) ReserveTicket(ctx context.Context, ticket store.SharedTourTicket) error {
	tour, ok := m.tours[ticket.TourID]
	if !ok {
		return sql.ErrNoRows
	}
	if tour.Status != "open" || tour.SeatsSold+ticket.Seats > tour.SeatsTotal {
		return store.ErrTourFull
	}
	tour.SeatsSold += ticket.Seats
	m.tours[ticket.TourID] = tour
	m.tickets[ticket.ID] = ticket
	return nil
}

func (m *memStore) GetTicket(ctx context.Context, id string) (store.SharedTourTicket, error) {
	t, ok := m.tickets[id]
	if !ok {
		return store.SharedTourTicket{}, sql.ErrNoRows
	}
	return t, nil
}

func (m *memStore) InsertGuestPayment(ctx context.Context, p store.GuestPayment) error {
	m.guests[p.ID] = p
	return nil
}

func (m *memStore) InsertDriverTip(ctx context.Context, t store.DriverTip) error {
	m.tips[t.ID] = t
	return nil
}

func (m *memStore) Ping(ctx context.Context) error { return nil }

// sessionStore

func (m *memStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	m.sessions[tokenHash] = userID
	return nil
}

func (m *memStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	userID, ok := m.sessions[tokenHash]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return m.GetUserByID(ctx, userID)
}

func (m *memStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	delete(m.sessions, tokenHash)
	return nil
}

// offers.Store

func (m *memStore) InsertTourOffer(ctx context.Context, o store.TourOffer) error {
	m.offers[o.ID] = o
	return nil
}

func (m *memStore) GetTourOffer(ctx context.Context, id string) (store.TourOffer, error) {
	o, ok := m.offers[id]
	if !ok {
		return store.TourOffer{}, sql.ErrNoRows
	}
	return o, nil
}

func (m *memStore) ListOffersForDriver(ctx context.Context, driverID, status string) ([]store.TourOffer, error) {
	out := make([]store.TourOffer, 0)
	for _, o := range m.offers {
		if o.DriverID == driverID && (status == "" || o.Status == status) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memStore) ListOffersForBooking(ctx context.Context, bookingID string) ([]store.TourOffer, error) {
	out := make([]store.TourOffer, 0)
	for _, o := range m.offers {
		if o.BookingID == bookingID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memStore) AcceptTourOffer(ctx context.Context, id string) (store.TourOffer, error) {
	o, ok := m.offers[id]
	if !ok || o.Status != "pending" || !o.ExpiresAt.After(time.Now()) {
		return store.TourOffer{}, store.ErrOfferNotPending
	}
	now := time.Now()
	o.Status = "accepted"
	o.RespondedAt = &now
	m.offers[id] = o

	b := m.bookings[o.BookingID]
	b.DriverID, b.VehicleID = &o.DriverID, &o.VehicleID
	b.Status = "driver_assigned"
	m.bookings[o.BookingID] = b

	for oid, other := range m.offers {
		if other.BookingID == o.BookingID && other.Status == "pending" && oid != id {
			other.Status = "withdrawn"
			other.RespondedAt = &now
			m.offers[oid] = other
		}
	}
	return o, nil
}

func (m *memStore) DeclineTourOffer(ctx context.Context, id string) (store.TourOffer, error) {
	o, ok := m.offers[id]
	if !ok || o.Status != "pending" {
		return store.TourOffer{}, store.ErrOfferNotPending
	}
	now := time.Now()
	o.Status = "declined"
	o.RespondedAt = &now
	m.offers[id] = o
	return o, nil
}

func (m *memStore) ExpireTourOffers(ctx context.Context) (int64, error) {
	var swept int64
	for id, o := range m.offers {
		if o.Status == "pending" && !o.ExpiresAt.After(time.Now()) {
			o.Status = "expired"
			m.offers[id] = o
			swept++
		}
	}
	return swept, nil
}

// ---- test harness ----

func newTestServer(t *testing.T) (*memStore, *Service, http.Handler) {
	t.Helper()
	ms := newMemStore()
	cfg := config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
		OfferTTL:   time.Hour,
	}
	svc := New(cfg, ms, Options{Offers: offers.New(ms, nil, "")})
	return ms, svc, NewHTTPServer(svc, "*", nil).Handler()
}

func seedUser(ms *memStore, role string) store.User {
	user := store.User{
		ID:              util.NewID("usr"),
		DisplayName:     "Test " + role,
		Email:           role + "@wayfarer.example",
		Role:            role,
		IsEmailVerified: true,
	}
	ms.users[user.ID] = user
	return user
}

func bearerFor(t *testing.T, svc *Service, userID string) string {
	t.Helper()
	session, err := svc.CreateSession(context.Background(), userID)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return "Bearer " + session.Token
}

func doJSON(t *testing.T, handler http.Handler, method, path, authorization string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &decoded)
	}
	return rec, decoded
}

// ---- tests ----

func TestHealthEndpoint(t *testing.T) {
	_, _, handler := newTestServer(t)
	rec, body := doJSON(t, handler, http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["ok"] != true {
		t.Fatalf("body = %v", body)
	}
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	_, _, handler := newTestServer(t)
	rec, body := doJSON(t, handler, http.MethodGet, "/api/customers", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if body["code"] != "UNAUTHORIZED" {
		t.Fatalf("body = %v", body)
	}
}

func TestDriverCannotCreateCustomer(t *testing.T) {
	ms, svc, handler := newTestServer(t)
	driver := seedUser(ms, "driver")

	rec, body := doJSON(t, handler, http.MethodPost, "/api/customers", bearerFor(t, svc, driver.ID), map[string]any{
		"fullName": "Elspeth Burns",
		"email":    "elspeth@example.com",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if body["code"] != "FORBIDDEN" {
		t.Fatalf("body = %v", body)
	}
}

func TestCreateBooking(t *testing.T) {
	ms, svc, handler := newTestServer(t)
	ops := seedUser(ms, "ops")
	ms.customers["cus_1"] = store.Customer{ID: "cus_1", FullName: "Elspeth Burns", Email: "elspeth@example.com"}
	token := bearerFor(t, svc, ops.ID)

	rec, body := doJSON(t, handler, http.MethodPost, "/api/bookings", token, map[string]any{
		"customerId":   "cus_1",
		"tourName":     "Highlands Explorer",
		"startDate":    time.Now().Add(30 * 24 * time.Hour).Format(time.RFC3339),
		"endDate":      time.Now().Add(33 * 24 * time.Hour).Format(time.RFC3339),
		"partySize":    4,
		"depositCents": 15000,
		"totalCents":   60000,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %v", rec.Code, body)
	}
	if body["status"] != "pending_payment" {
		t.Errorf("status = %v", body["status"])
	}
	if body["balanceCents"] != float64(45000) {
		t.Errorf("balanceCents = %v", body["balanceCents"])
	}
	if body["currency"] != "gbp" {
		t.Errorf("currency = %v", body["currency"])
	}
	ref, _ := body["reference"].(string)
	if len(ref) != 11 || ref[:3] != "WF-" {
		t.Errorf("reference = %q", ref)
	}
}

func TestCreateBookingDepositExceedsTotal(t *testing.T) {
	ms, svc, handler := newTestServer(t)
	ops := seedUser(ms, "ops")
	ms.customers["cus_1"] = store.Customer{ID: "cus_1", FullName: "Elspeth Burns", Email: "elspeth@example.com"}

	rec, body := doJSON(t, handler, http.MethodPost, "/api/bookings", bearerFor(t, svc, ops.ID), map[string]any{
		"customerId":   "cus_1",
		"tourName":     "Highlands Explorer",
		"startDate":    time.Now().Format(time.RFC3339),
		"endDate":      time.Now().Add(24 * time.Hour).Format(time.RFC3339),
		"partySize":    2,
		"depositCents": 70000,
		"totalCents":   60000,
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, body = %v", rec.Code, body)
	}
	if body["code"] != "VALIDATION_ERROR" {
		t.Fatalf("body = %v", body)
	}
}

func TestSetBookingStatus(t *testing.T) {
	ms, svc, handler := newTestServer(t)
	ops := seedUser(ms, "ops")
	ms.bookings["bk_1"] = store.Booking{ID: "bk_1", Status: "confirmed"}
	token := bearerFor(t, svc, ops.ID)

	// Payment-driven statuses are webhook territory.
	rec, body := doJSON(t, handler, http.MethodPost, "/api/bookings/bk_1/status", token, map[string]any{"status": "confirmed"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, body = %v", rec.Code, body)
	}

	rec, body = doJSON(t, handler, http.MethodPost, "/api/bookings/bk_1/status", token, map[string]any{"status": "cancelled"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %v", rec.Code, body)
	}
	if body["status"] != "cancelled" {
		t.Fatalf("body = %v", body)
	}

	rec, body = doJSON(t, handler, http.MethodPost, "/api/bookings/bk_1/status", token, map[string]any{"status": "completed"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, body = %v", rec.Code, body)
	}
	if body["code"] != "BOOKING_CLOSED" {
		t.Fatalf("body = %v", body)
	}
}

func TestOfferAcceptFlow(t *testing.T) {
	ms, svc, handler := newTestServer(t)
	ops := seedUser(ms, "ops")
	driverUser := seedUser(ms, "driver")
	otherDriverUser := seedUser(ms, "driver")

	ms.customers["cus_1"] = store.Customer{ID: "cus_1", FullName: "Elspeth Burns", Email: "elspeth@example.com"}
	ms.bookings["bk_1"] = store.Booking{
		ID: "bk_1", Reference: "WF-1A2B3C4D", CustomerID: "cus_1",
		TourName: "Highlands Explorer", Status: "confirmed",
		StartDate: time.Now().Add(14 * 24 * time.Hour),
	}
	ms.drivers["drv_1"] = store.Driver{ID: "drv_1", UserID: &driverUser.ID, FullName: "Callum", Email: "callum@example.com"}
	ms.drivers["drv_2"] = store.Driver{ID: "drv_2", UserID: &otherDriverUser.ID, FullName: "Fiona", Email: "fiona@example.com"}
	ms.vehicles["veh_1"] = store.Vehicle{ID: "veh_1", Registration: "SK70 WAY", Seats: 8}

	opsToken := bearerFor(t, svc, ops.ID)

	// Ops court both drivers.
	rec, offer1 := doJSON(t, handler, http.MethodPost, "/api/bookings/bk_1/offers", opsToken, map[string]any{
		"driverId": "drv_1", "vehicleId": "veh_1", "payoutCents": 42000,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create offer 1: %d %v", rec.Code, offer1)
	}
	rec, offer2 := doJSON(t, handler, http.MethodPost, "/api/bookings/bk_1/offers", opsToken, map[string]any{
		"driverId": "drv_2", "vehicleId": "veh_1", "payoutCents": 42000,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create offer 2: %d %v", rec.Code, offer2)
	}

	offer1ID, _ := offer1["id"].(string)
	offer2ID, _ := offer2["id"].(string)

	// The other driver cannot respond to offer 1.
	otherToken := bearerFor(t, svc, otherDriverUser.ID)
	rec, body := doJSON(t, handler, http.MethodPost, "/api/offers/"+offer1ID+"/accept", otherToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("wrong-driver accept: %d %v", rec.Code, body)
	}

	// Driver 1 accepts.
	driverToken := bearerFor(t, svc, driverUser.ID)
	rec, body = doJSON(t, handler, http.MethodPost, "/api/offers/"+offer1ID+"/accept", driverToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("accept: %d %v", rec.Code, body)
	}
	if body["status"] != "accepted" {
		t.Fatalf("offer status = %v", body["status"])
	}

	// Booking got the assignment and the competing offer was withdrawn.
	booking := ms.bookings["bk_1"]
	if booking.Status != "driver_assigned" || booking.DriverID == nil || *booking.DriverID != "drv_1" {
		t.Fatalf("booking = %+v", booking)
	}
	if ms.offers[offer2ID].Status != "withdrawn" {
		t.Fatalf("competing offer status = %s", ms.offers[offer2ID].Status)
	}

	// A withdrawn offer cannot be accepted.
	rec, body = doJSON(t, handler, http.MethodPost, "/api/offers/"+offer2ID+"/accept", otherToken, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("withdrawn accept: %d %v", rec.Code, body)
	}
	if body["code"] != "OFFER_CLOSED" {
		t.Fatalf("body = %v", body)
	}
}

func TestOfferCreateRequiresDispatch(t *testing.T) {
	ms, svc, handler := newTestServer(t)
	partner := seedUser(ms, "partner")
	ms.bookings["bk_1"] = store.Booking{ID: "bk_1", Status: "confirmed"}

	rec, body := doJSON(t, handler, http.MethodPost, "/api/bookings/bk_1/offers", bearerFor(t, svc, partner.ID), map[string]any{
		"driverId": "drv_1", "vehicleId": "veh_1", "payoutCents": 42000,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, body = %v", rec.Code, body)
	}
}

func TestSharedTourGuestCheckout(t *testing.T) {
	ms, _, handler := newTestServer(t)
	ms.tours["tour_1"] = store.SharedTour{
		ID: "tour_1", Name: "Loch Ness Day Trip", Status: "open",
		SeatsTotal: 4, SeatsSold: 0, PriceCents: 4500, Currency: "gbp",
		DepartsAt: time.Now().Add(7 * 24 * time.Hour),
	}

	// Browsing and reserving need no session.
	rec, body := doJSON(t, handler, http.MethodGet, "/api/shared-tours", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d %v", rec.Code, body)
	}

	rec, body = doJSON(t, handler, http.MethodPost, "/api/shared-tours/tour_1/tickets", "", map[string]any{
		"holderName": "Rory", "email": "rory@example.com", "seats": 3,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("reserve: %d %v", rec.Code, body)
	}
	if body["amountCents"] != float64(13500) {
		t.Errorf("amountCents = %v", body["amountCents"])
	}
	if body["status"] != "reserved" {
		t.Errorf("status = %v", body["status"])
	}

	// Only one seat left now.
	rec, body = doJSON(t, handler, http.MethodPost, "/api/shared-tours/tour_1/tickets", "", map[string]any{
		"holderName": "Morag", "email": "morag@example.com", "seats": 2,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("overbook: %d %v", rec.Code, body)
	}
	if body["code"] != "TOUR_FULL" {
		t.Fatalf("body = %v", body)
	}
}

func TestTripPlanningLifecycle(t *testing.T) {
	ms, svc, handler := newTestServer(t)
	ops := seedUser(ms, "ops")
	ms.customers["cus_1"] = store.Customer{ID: "cus_1", FullName: "Elspeth Burns", Email: "elspeth@example.com"}
	token := bearerFor(t, svc, ops.ID)

	rec, body := doJSON(t, handler, http.MethodPost, "/api/trips", token, map[string]any{
		"customerId":   "cus_1",
		"title":        "West Coast Wander",
		"depositCents": 30000,
		"startDate":    time.Now().Add(60 * 24 * time.Hour).Format(time.RFC3339),
		"endDate":      time.Now().Add(67 * 24 * time.Hour).Format(time.RFC3339),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create trip: %d %v", rec.Code, body)
	}
	if body["planningPhase"] != "proposal" || body["depositStatus"] != "pending" {
		t.Fatalf("new trip = %v", body)
	}
	tripID, _ := body["id"].(string)

	// Finalize before the deposit clears: the phase guard refuses.
	rec, body = doJSON(t, handler, http.MethodPost, "/api/trips/"+tripID+"/finalize", token, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("premature finalize: %d %v", rec.Code, body)
	}
	if body["code"] != "PHASE_CONFLICT" {
		t.Fatalf("body = %v", body)
	}

	// The deposit webhook moves the trip into active planning.
	trip := ms.trips[tripID]
	trip.PlanningPhase = "active_planning"
	trip.DepositStatus = "paid"
	ms.trips[tripID] = trip

	rec, body = doJSON(t, handler, http.MethodPut, "/api/trips/"+tripID+"/itinerary", token, map[string]any{
		"itinerary": "Day 1: Glasgow to Oban.\n\nDay 2: Mull and Iona.",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("itinerary: %d %v", rec.Code, body)
	}

	rec, body = doJSON(t, handler, http.MethodPost, "/api/trips/"+tripID+"/finalize", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("finalize: %d %v", rec.Code, body)
	}
	if body["planningPhase"] != "finalized" {
		t.Fatalf("body = %v", body)
	}

	// Finalized itineraries are read only.
	rec, body = doJSON(t, handler, http.MethodPut, "/api/trips/"+tripID+"/itinerary", token, map[string]any{
		"itinerary": "Day 1: rewritten.",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("edit after finalize: %d %v", rec.Code, body)
	}
	if body["code"] != "TRIP_FINALIZED" {
		t.Fatalf("body = %v", body)
	}
}

func TestProposalSendOnce(t *testing.T) {
	ms, svc, handler := newTestServer(t)
	partner := seedUser(ms, "partner")
	ms.customers["cus_1"] = store.Customer{ID: "cus_1", FullName: "Elspeth Burns", Email: "elspeth@example.com"}
	token := bearerFor(t, svc, partner.ID)

	rec, body := doJSON(t, handler, http.MethodPost, "/api/proposals", token, map[string]any{
		"customerId": "cus_1", "title": "Skye Weekend", "amountCents": 38000,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %v", rec.Code, body)
	}
	proposalID, _ := body["id"].(string)

	rec, body = doJSON(t, handler, http.MethodPost, "/api/proposals/"+proposalID+"/send", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("send: %d %v", rec.Code, body)
	}
	if body["status"] != "sent" {
		t.Fatalf("body = %v", body)
	}

	rec, body = doJSON(t, handler, http.MethodPost, "/api/proposals/"+proposalID+"/send", token, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("resend: %d %v", rec.Code, body)
	}
	if body["code"] != "PROPOSAL_NOT_DRAFT" {
		t.Fatalf("body = %v", body)
	}
}

func TestSessionRefreshRotation(t *testing.T) {
	ms, svc, handler := newTestServer(t)
	ops := seedUser(ms, "ops")

	session, err := svc.CreateSession(context.Background(), ops.ID)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	rec, body := doJSON(t, handler, http.MethodPost, "/api/session/refresh", "", map[string]any{
		"refreshToken": session.RefreshToken,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: %d %v", rec.Code, body)
	}
	if body["token"] == "" || body["refreshToken"] == session.RefreshToken {
		t.Fatalf("body = %v", body)
	}

	// The old refresh token was revoked on use.
	rec, body = doJSON(t, handler, http.MethodPost, "/api/session/refresh", "", map[string]any{
		"refreshToken": session.RefreshToken,
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("reuse: %d %v", rec.Code, body)
	}
}

func TestInspectionRequiresDriverRecord(t *testing.T) {
	ms, svc, handler := newTestServer(t)
	driverUser := seedUser(ms, "driver")
	ms.vehicles["veh_1"] = store.Vehicle{ID: "veh_1", Registration: "SK70 WAY", Seats: 8}
	token := bearerFor(t, svc, driverUser.ID)

	// No driver record linked to the account yet.
	rec, body := doJSON(t, handler, http.MethodPost, "/api/inspections", token, map[string]any{
		"vehicleId": "veh_1", "odometerKm": 120345,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, body = %v", rec.Code, body)
	}
	if body["code"] != "NOT_A_DRIVER" {
		t.Fatalf("body = %v", body)
	}

	ms.drivers["drv_1"] = store.Driver{ID: "drv_1", UserID: &driverUser.ID, FullName: "Callum", Email: "callum@example.com"}
	rec, body = doJSON(t, handler, http.MethodPost, "/api/inspections", token, map[string]any{
		"vehicleId": "veh_1", "odometerKm": 120345, "notes": "all good",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %v", rec.Code, body)
	}
	if body["driverId"] != "drv_1" {
		t.Fatalf("body = %v", body)
	}
}

func TestCreateDriverTipFallsBackToAssignedDriver(t *testing.T) {
	ms, svc, handler := newTestServer(t)
	ops := seedUser(ms, "ops")
	driverID := "drv_1"
	ms.drivers[driverID] = store.Driver{ID: driverID, FullName: "Callum", Email: "callum@example.com"}
	ms.bookings["bk_1"] = store.Booking{ID: "bk_1", Status: "driver_assigned", DriverID: &driverID, Currency: "gbp"}

	rec, body := doJSON(t, handler, http.MethodPost, "/api/tips", bearerFor(t, svc, ops.ID), map[string]any{
		"bookingId": "bk_1", "amountCents": 2000,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %v", rec.Code, body)
	}
	if body["driverId"] != "drv_1" {
		t.Fatalf("body = %v", body)
	}
	if body["currency"] != "gbp" {
		t.Fatalf("body = %v", body)
	}
}
