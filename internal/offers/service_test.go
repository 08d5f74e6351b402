package offers

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"wayfarer/api/internal/store"
)

type fakeOfferStore struct {
	offers   map[string]store.TourOffer
	bookings map[string]store.Booking
	drivers  map[string]store.Driver
	vehicles map[string]store.Vehicle
	inserted []store.TourOffer

	acceptErr  error
	declineErr error
	swept      chan int64
}

func newFakeOfferStore() *fakeOfferStore {
	return &fakeOfferStore{
		offers:   make(map[string]store.TourOffer),
		bookings: make(map[string]store.Booking),
		drivers:  make(map[string]store.Driver),
		vehicles: make(map[string]store.Vehicle),
		swept:    make(chan int64, 8),
	}
}

func (f *fakeOfferStore) InsertTourOffer(ctx context.Context, item store.TourOffer) error {
	f.offers[item.ID] = item
	f.inserted = append(f.inserted, item)
	return nil
}

func (f *fakeOfferStore) GetTourOffer(ctx context.Context, offerID string) (store.TourOffer, error) {
	o, ok := f.offers[offerID]
	if !ok {
		return store.TourOffer{}, sql.ErrNoRows
	}
	return o, nil
}

func (f *fakeOfferStore) ListOffersForDriver(ctx context.Context, driverID, status string) ([]store.TourOffer, error) {
	var out []store.TourOffer
	for _, o := range f.offers {
		if o.DriverID == driverID && (status == "" || o.Status == status) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeOfferStore) ListOffersForBooking(ctx context.Context, bookingID string) ([]store.TourOffer, error) {
	var out []store.TourOffer
	for _, o := range f.offers {
		if o.BookingID == bookingID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeOfferStore) AcceptTourOffer(ctx context.Context, offerID string) (store.TourOffer, error) {
	if f.acceptErr != nil {
		return store.TourOffer{}, f.acceptErr
	}
	o := f.offers[offerID]
	o.Status = "accepted"
	f.offers[offerID] = o
	return o, nil
}

func (f *fakeOfferStore) DeclineTourOffer(ctx context.Context, offerID string) (store.TourOffer, error) {
	if f.declineErr != nil {
		return store.TourOffer{}, f.declineErr
	}
	o := f.offers[offerID]
	o.Status = "declined"
	f.offers[offerID] = o
	return o, nil
}

func (f *fakeOfferStore) ExpireTourOffers(ctx context.Context) (int64, error) {
	select {
	case f.swept <- 1:
	default:
	}
	return 1, nil
}

func (f *fakeOfferStore) GetBooking(ctx context.Context, bookingID string) (store.Booking, error) {
	b, ok := f.bookings[bookingID]
	if !ok {
		return store.Booking{}, sql.ErrNoRows
	}
	return b, nil
}

func (f *fakeOfferStore) GetDriver(ctx context.Context, driverID string) (store.Driver, error) {
	d, ok := f.drivers[driverID]
	if !ok {
		return store.Driver{}, sql.ErrNoRows
	}
	return d, nil
}

func (f *fakeOfferStore) GetVehicle(ctx context.Context, vehicleID string) (store.Vehicle, error) {
	v, ok := f.vehicles[vehicleID]
	if !ok {
		return store.Vehicle{}, sql.ErrNoRows
	}
	return v, nil
}

type recordingMailer struct {
	notifications []string
	accepted      []string
}

func (m *recordingMailer) SendOfferNotification(to, driverName, tourName string, start time.Time, payoutCents int64, expiresAt time.Time) error {
	m.notifications = append(m.notifications, to)
	return nil
}

func (m *recordingMailer) SendOfferAccepted(to, driverName, tourName, reference string, start time.Time) error {
	m.accepted = append(m.accepted, to)
	return nil
}

func seedOfferFixtures(f *fakeOfferStore) {
	f.bookings["bk_1"] = store.Booking{
		ID:        "bk_1",
		Reference: "WF-1A2B3C4D",
		TourName:  "Highlands Explorer",
		Status:    "confirmed",
		StartDate: time.Now().Add(14 * 24 * time.Hour),
	}
	f.drivers["drv_1"] = store.Driver{ID: "drv_1", FullName: "Callum", Email: "callum@example.com"}
	f.vehicles["veh_1"] = store.Vehicle{ID: "veh_1", Registration: "SK70 WAY", Seats: 8}
}

func TestCreateOffer(t *testing.T) {
	fs := newFakeOfferStore()
	mailer := &recordingMailer{}
	seedOfferFixtures(fs)
	svc := New(fs, mailer, "ops@wayfarer.example")

	offer, err := svc.Create(context.Background(), "bk_1", "drv_1", "veh_1", 42000, "early start", 0)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if offer.Status != "pending" {
		t.Errorf("status = %s, want pending", offer.Status)
	}
	if offer.PayoutCents != 42000 {
		t.Errorf("payout = %d", offer.PayoutCents)
	}
	// Zero TTL falls back to the 24h default.
	if until := time.Until(offer.ExpiresAt); until < 23*time.Hour || until > 25*time.Hour {
		t.Errorf("expires in %v, want ~24h", until)
	}
	if len(mailer.notifications) != 1 || mailer.notifications[0] != "callum@example.com" {
		t.Errorf("notifications = %v", mailer.notifications)
	}
}

func TestCreateOfferRejectsUnpaidBooking(t *testing.T) {
	fs := newFakeOfferStore()
	seedOfferFixtures(fs)
	svc := New(fs, &recordingMailer{}, "")

	for _, status := range []string{"pending_payment", "cancelled", "payment_failed"} {
		b := fs.bookings["bk_1"]
		b.Status = status
		fs.bookings["bk_1"] = b

		if _, err := svc.Create(context.Background(), "bk_1", "drv_1", "veh_1", 42000, "", time.Hour); err == nil {
			t.Errorf("expected error for booking status %s", status)
		}
	}
	if len(fs.inserted) != 0 {
		t.Fatalf("offers were inserted: %v", fs.inserted)
	}
}

func TestCreateOfferMissingDriver(t *testing.T) {
	fs := newFakeOfferStore()
	seedOfferFixtures(fs)
	svc := New(fs, &recordingMailer{}, "")

	if _, err := svc.Create(context.Background(), "bk_1", "drv_ghost", "veh_1", 42000, "", time.Hour); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestAcceptOffer(t *testing.T) {
	fs := newFakeOfferStore()
	mailer := &recordingMailer{}
	seedOfferFixtures(fs)
	fs.offers["off_1"] = store.TourOffer{
		ID: "off_1", BookingID: "bk_1", DriverID: "drv_1", VehicleID: "veh_1", Status: "pending",
	}
	svc := New(fs, mailer, "ops@wayfarer.example")

	offer, err := svc.Accept(context.Background(), "off_1", "drv_1")
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	if offer.Status != "accepted" {
		t.Errorf("status = %s", offer.Status)
	}
	// Driver and ops both get the confirmation.
	if len(mailer.accepted) != 2 {
		t.Fatalf("accepted emails = %v", mailer.accepted)
	}
	if mailer.accepted[0] != "callum@example.com" || mailer.accepted[1] != "ops@wayfarer.example" {
		t.Errorf("accepted emails = %v", mailer.accepted)
	}
}

func TestAcceptOfferWrongDriver(t *testing.T) {
	fs := newFakeOfferStore()
	seedOfferFixtures(fs)
	fs.offers["off_1"] = store.TourOffer{ID: "off_1", BookingID: "bk_1", DriverID: "drv_1", Status: "pending"}
	svc := New(fs, &recordingMailer{}, "")

	if _, err := svc.Accept(context.Background(), "off_1", "drv_2"); err != ErrNotOfferOwner {
		t.Fatalf("err = %v, want ErrNotOfferOwner", err)
	}
}

func TestAcceptOfferAlreadyClosed(t *testing.T) {
	fs := newFakeOfferStore()
	seedOfferFixtures(fs)
	fs.offers["off_1"] = store.TourOffer{ID: "off_1", BookingID: "bk_1", DriverID: "drv_1", Status: "declined"}
	fs.acceptErr = store.ErrOfferNotPending
	svc := New(fs, &recordingMailer{}, "")

	if _, err := svc.Accept(context.Background(), "off_1", "drv_1"); err != ErrOfferClosed {
		t.Fatalf("err = %v, want ErrOfferClosed", err)
	}
}

func TestDeclineOffer(t *testing.T) {
	fs := newFakeOfferStore()
	mailer := &recordingMailer{}
	seedOfferFixtures(fs)
	fs.offers["off_1"] = store.TourOffer{ID: "off_1", BookingID: "bk_1", DriverID: "drv_1", Status: "pending"}
	svc := New(fs, mailer, "ops@wayfarer.example")

	offer, err := svc.Decline(context.Background(), "off_1", "drv_1")
	if err != nil {
		t.Fatalf("Decline() error = %v", err)
	}
	if offer.Status != "declined" {
		t.Errorf("status = %s", offer.Status)
	}
	if len(mailer.accepted) != 0 {
		t.Errorf("decline sent accept emails: %v", mailer.accepted)
	}
}

func TestDeclineOfferWrongDriver(t *testing.T) {
	fs := newFakeOfferStore()
	seedOfferFixtures(fs)
	fs.offers["off_1"] = store.TourOffer{ID: "off_1", BookingID: "bk_1", DriverID: "drv_1", Status: "pending"}
	svc := New(fs, &recordingMailer{}, "")

	if _, err := svc.Decline(context.Background(), "off_1", "drv_2"); err != ErrNotOfferOwner {
		t.Fatalf("err = %v, want ErrNotOfferOwner", err)
	}
}

func TestRunExpirySweep(t *testing.T) {
	fs := newFakeOfferStore()
	svc := New(fs, nil, "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.RunExpirySweep(ctx, 5*time.Millisecond)
		close(done)
	}()

	select {
	case <-fs.swept:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep never ran")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not stop on cancel")
	}
}
