package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users (staff + partner portal) ----

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, is_email_verified, COALESCE(verification_token, '')
		FROM users
		WHERE email=$1 AND deactivated_at IS NULL
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.IsEmailVerified, &user.VerificationToken)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, role, is_email_verified
		FROM users
		WHERE id=$1 AND deactivated_at IS NULL
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW() WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return errors.New("invalid or expired verification token")
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token) DO NOTHING
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark reset used: %w", err)
	}
	return nil
}

// ---- refresh sessions (Postgres fallback when Redis is absent) ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email, u.role
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// ---- customers ----

func (s *PostgresStore) ListCustomers(ctx context.Context) ([]Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, full_name, email, COALESCE(phone, ''), COALESCE(notes, ''), created_at, updated_at
		FROM customers
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()

	items := make([]Customer, 0)
	for rows.Next() {
		var item Customer
		if err := rows.Scan(&item.ID, &item.FullName, &item.Email, &item.Phone, &item.Notes, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate customers: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetCustomer(ctx context.Context, customerID string) (Customer, error) {
	var item Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, full_name, email, COALESCE(phone, ''), COALESCE(notes, ''), created_at, updated_at
		FROM customers
		WHERE id=$1
	`, customerID).Scan(&item.ID, &item.FullName, &item.Email, &item.Phone, &item.Notes, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Customer{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertCustomer(ctx context.Context, item Customer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, full_name, email, phone, notes)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.FullName, item.Email, item.Phone, item.Notes)
	if err != nil {
		return fmt.Errorf("insert customer: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateCustomer(ctx context.Context, customerID, fullName, phone, notes string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE customers SET full_name=$2, phone=$3, notes=$4, updated_at=NOW() WHERE id=$1
	`, customerID, fullName, phone, notes)
	if err != nil {
		return fmt.Errorf("update customer: %w", err)
	}
	return nil
}

// ---- bookings ----

const bookingColumns = `
	id, reference, customer_id, tour_name, status, start_date, end_date,
	party_size, deposit_cents, total_cents, balance_cents, currency,
	driver_id, vehicle_id, created_at, updated_at
`

func scanBooking(row interface{ Scan(...any) error }) (Booking, error) {
	var item Booking
	err := row.Scan(
		&item.ID, &item.Reference, &item.CustomerID, &item.TourName, &item.Status,
		&item.StartDate, &item.EndDate, &item.PartySize, &item.DepositCents,
		&item.TotalCents, &item.BalanceCents, &item.Currency,
		&item.DriverID, &item.VehicleID, &item.CreatedAt, &item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) ListBookings(ctx context.Context, status string) ([]Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings`
	args := []any{}
	if status != "" {
		query += ` WHERE status=$1`
		args = append(args, status)
	}
	query += ` ORDER BY start_date ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	items := make([]Booking, 0)
	for rows.Next() {
		item, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bookings: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetBooking(ctx context.Context, bookingID string) (Booking, error) {
	item, err := scanBooking(s.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1`, bookingID))
	if err != nil {
		return Booking{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertBooking(ctx context.Context, item Booking) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bookings (id, reference, customer_id, tour_name, status, start_date, end_date,
			party_size, deposit_cents, total_cents, balance_cents, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, item.ID, item.Reference, item.CustomerID, item.TourName, item.Status, item.StartDate, item.EndDate,
		item.PartySize, item.DepositCents, item.TotalCents, item.BalanceCents, item.Currency)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateBookingStatus(ctx context.Context, bookingID, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE bookings SET status=$2, updated_at=NOW() WHERE id=$1`, bookingID, status)
	if err != nil {
		return fmt.Errorf("update booking status: %w", err)
	}
	return nil
}

// ---- drivers / vehicles ----

func (s *PostgresStore) ListDrivers(ctx context.Context) ([]Driver, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, full_name, email, COALESCE(phone, ''), status, created_at
		FROM drivers
		ORDER BY full_name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list drivers: %w", err)
	}
	defer rows.Close()

	items := make([]Driver, 0)
	for rows.Next() {
		var item Driver
		if err := rows.Scan(&item.ID, &item.UserID, &item.FullName, &item.Email, &item.Phone, &item.Status, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan driver: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate drivers: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetDriver(ctx context.Context, driverID string) (Driver, error) {
	var item Driver
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, full_name, email, COALESCE(phone, ''), status, created_at
		FROM drivers
		WHERE id=$1
	`, driverID).Scan(&item.ID, &item.UserID, &item.FullName, &item.Email, &item.Phone, &item.Status, &item.CreatedAt)
	if err != nil {
		return Driver{}, err
	}
	return item, nil
}

func (s *PostgresStore) GetDriverByUserID(ctx context.Context, userID string) (Driver, error) {
	var item Driver
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, full_name, email, COALESCE(phone, ''), status, created_at
		FROM drivers
		WHERE user_id=$1
	`, userID).Scan(&item.ID, &item.UserID, &item.FullName, &item.Email, &item.Phone, &item.Status, &item.CreatedAt)
	if err != nil {
		return Driver{}, err
	}
	return item, nil
}

func (s *PostgresStore) GetVehicle(ctx context.Context, vehicleID string) (Vehicle, error) {
	var item Vehicle
	err := s.db.QueryRowContext(ctx, `
		SELECT id, registration, make, model, seats, status, created_at
		FROM vehicles
		WHERE id=$1
	`, vehicleID).Scan(&item.ID, &item.Registration, &item.Make, &item.Model, &item.Seats, &item.Status, &item.CreatedAt)
	if err != nil {
		return Vehicle{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListVehicles(ctx context.Context) ([]Vehicle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, registration, make, model, seats, status, created_at
		FROM vehicles
		ORDER BY registration ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}
	defer rows.Close()

	items := make([]Vehicle, 0)
	for rows.Next() {
		var item Vehicle
		if err := rows.Scan(&item.ID, &item.Registration, &item.Make, &item.Model, &item.Seats, &item.Status, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan vehicle: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vehicles: %w", err)
	}
	return items, nil
}

// ---- vehicle inspections ----

func (s *PostgresStore) InsertInspection(ctx context.Context, item VehicleInspection) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vehicle_inspections (id, vehicle_id, driver_id, odometer_km, notes, defects, photo_keys)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.VehicleID, item.DriverID, item.OdometerKm, item.Notes, item.Defects, photoKeysJSON(item.PhotoKeys))
	if err != nil {
		return fmt.Errorf("insert inspection: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListInspections(ctx context.Context, vehicleID string) ([]VehicleInspection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, vehicle_id, driver_id, odometer_km, COALESCE(notes, ''), COALESCE(defects, ''), COALESCE(photo_keys, '[]'), inspected_at
		FROM vehicle_inspections
		WHERE vehicle_id=$1
		ORDER BY inspected_at DESC
	`, vehicleID)
	if err != nil {
		return nil, fmt.Errorf("list inspections: %w", err)
	}
	defer rows.Close()

	items := make([]VehicleInspection, 0)
	for rows.Next() {
		var item VehicleInspection
		var keys string
		if err := rows.Scan(&item.ID, &item.VehicleID, &item.DriverID, &item.OdometerKm, &item.Notes, &item.Defects, &keys, &item.InspectedAt); err != nil {
			return nil, fmt.Errorf("scan inspection: %w", err)
		}
		item.PhotoKeys = photoKeysFromJSON(keys)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inspections: %w", err)
	}
	return items, nil
}
