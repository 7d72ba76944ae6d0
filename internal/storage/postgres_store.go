package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/example/cab-dispatch/internal/apperr"
	"github.com/example/cab-dispatch/internal/models"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

// ApplySchema runs an idempotent DDL script.
func (p *PostgresStore) ApplySchema(ctx context.Context, ddl string) error {
	_, err := p.db.ExecContext(ctx, ddl)
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func notFound(err error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound(msg)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// ---- users

const userCols = `id, username, email, password_hash, role, hr_email`

func scanUser(s scanner) (models.User, error) {
	var u models.User
	var role string
	err := s.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &role, &u.HREmail)
	u.Role = models.Role(role)
	return u, err
}

func (p *PostgresStore) CreateUser(ctx context.Context, u *models.User) error {
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO users(username, email, password_hash, role, hr_email) VALUES($1,$2,$3,$4,$5) RETURNING id`,
		u.Username, u.Email, u.PasswordHash, string(u.Role), u.HREmail).Scan(&u.ID)
	if isUniqueViolation(err) {
		return apperr.Conflict("email already exists")
	}
	return err
}

func (p *PostgresStore) CreateDriverUser(ctx context.Context, u *models.User, d *models.Driver) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	err = tx.QueryRowContext(ctx,
		`INSERT INTO users(username, email, password_hash, role, hr_email) VALUES($1,$2,$3,$4,$5) RETURNING id`,
		u.Username, u.Email, u.PasswordHash, string(u.Role), u.HREmail).Scan(&u.ID)
	if isUniqueViolation(err) {
		return apperr.Conflict("email already exists")
	}
	if err != nil {
		return err
	}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO drivers(name, email, cab_type, available) VALUES($1,$2,$3,$4)
		 ON CONFLICT (email) DO NOTHING RETURNING id`,
		d.Name, d.Email, d.CabType, d.Available).Scan(&d.ID)
	if errors.Is(err, sql.ErrNoRows) {
		existing, err := scanDriver(tx.QueryRowContext(ctx, `SELECT `+driverCols+` FROM drivers WHERE email = $1`, d.Email))
		if err != nil {
			return err
		}
		*d = existing
	} else if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (p *PostgresStore) UserByEmail(ctx context.Context, email string) (models.User, error) {
	u, err := scanUser(p.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE lower(email) = lower($1)`, email))
	if err != nil {
		return models.User{}, notFound(err, "user not found")
	}
	return u, nil
}

func (p *PostgresStore) UsersByRole(ctx context.Context, role models.Role) ([]models.User, error) {
	return p.queryUsers(ctx, `SELECT `+userCols+` FROM users WHERE role = $1 ORDER BY lower(username), email`, string(role))
}

func (p *PostgresStore) EmployeesByHR(ctx context.Context, hrEmail string) ([]models.User, error) {
	return p.queryUsers(ctx, `SELECT `+userCols+` FROM users WHERE role = 'employee' AND lower(hr_email) = lower($1) ORDER BY lower(username), email`, hrEmail)
}

func (p *PostgresStore) queryUsers(ctx context.Context, q string, args ...any) ([]models.User, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// ---- drivers

const driverCols = `id, name, email, cab_type, available`

func scanDriver(s scanner) (models.Driver, error) {
	var d models.Driver
	err := s.Scan(&d.ID, &d.Name, &d.Email, &d.CabType, &d.Available)
	return d, err
}

func (p *PostgresStore) CreateDriver(ctx context.Context, d *models.Driver) error {
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO drivers(name, email, cab_type, available) VALUES($1,$2,$3,$4) RETURNING id`,
		d.Name, d.Email, d.CabType, d.Available).Scan(&d.ID)
	if isUniqueViolation(err) {
		return apperr.Conflict("driver already exists")
	}
	return err
}

func (p *PostgresStore) DriverByEmail(ctx context.Context, email string) (models.Driver, error) {
	d, err := scanDriver(p.db.QueryRowContext(ctx, `SELECT `+driverCols+` FROM drivers WHERE lower(email) = lower($1)`, email))
	if err != nil {
		return models.Driver{}, notFound(err, "driver not found")
	}
	return d, nil
}

func (p *PostgresStore) Drivers(ctx context.Context) ([]models.Driver, error) {
	return p.queryDrivers(ctx, `SELECT `+driverCols+` FROM drivers ORDER BY id`)
}

func (p *PostgresStore) AvailableDrivers(ctx context.Context, cabType string) ([]models.Driver, error) {
	return p.queryDrivers(ctx, `SELECT `+driverCols+` FROM drivers WHERE available AND lower(cab_type) = lower($1) ORDER BY id`, cabType)
}

func (p *PostgresStore) queryDrivers(ctx context.Context, q string, args ...any) ([]models.Driver, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Driver, 0)
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SetDriverAvailable(ctx context.Context, email string, available bool) error {
	ok, err := affected(p.db.ExecContext(ctx,
		`UPDATE drivers SET available = $2 WHERE lower(email) = lower($1)`, email, available))
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("driver not found")
	}
	return nil
}

// lockDriver takes the driver row lock that serializes assignment and
// release for one driver. It returns the stored email and availability.
func lockDriver(ctx context.Context, tx *sql.Tx, email string) (string, bool, error) {
	var stored string
	var available bool
	err := tx.QueryRowContext(ctx,
		`SELECT email, available FROM drivers WHERE lower(email) = lower($1) FOR UPDATE`, email).Scan(&stored, &available)
	if err != nil {
		return "", false, notFound(err, "driver not found")
	}
	return stored, available, nil
}

func (p *PostgresStore) ReleaseDriver(ctx context.Context, email string) (bool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	stored, _, err := lockDriver(ctx, tx, email)
	if err != nil {
		return false, err
	}
	var busy bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM bookings WHERE lower(driver_email) = lower($1) AND status = 'ASSIGNED')`,
		stored).Scan(&busy); err != nil {
		return false, err
	}
	if busy {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, `UPDATE drivers SET available = true WHERE email = $1`, stored); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	committed = true
	return true, nil
}

// ---- bookings

const bookingCols = `id, hr_email, employee_email, pickup, drop_location, pickup_time, cab_type, status, driver_email, booking_date`

func scanBooking(s scanner) (models.Booking, error) {
	var b models.Booking
	var status string
	err := s.Scan(&b.ID, &b.HREmail, &b.EmployeeEmail, &b.Pickup, &b.Drop, &b.PickupTime, &b.CabType, &status, &b.DriverEmail, &b.BookingDate)
	b.Status = models.BookingStatus(status)
	return b, err
}

func (p *PostgresStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	return p.db.QueryRowContext(ctx,
		`INSERT INTO bookings(hr_email, employee_email, pickup, drop_location, pickup_time, cab_type, status, driver_email, booking_date)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		b.HREmail, b.EmployeeEmail, b.Pickup, b.Drop, b.PickupTime, b.CabType, string(b.Status), b.DriverEmail, b.BookingDate).Scan(&b.ID)
}

func (p *PostgresStore) BookingByID(ctx context.Context, id int64) (models.Booking, error) {
	b, err := scanBooking(p.db.QueryRowContext(ctx, `SELECT `+bookingCols+` FROM bookings WHERE id = $1`, id))
	if err != nil {
		return models.Booking{}, notFound(err, "booking not found")
	}
	return b, nil
}

func (p *PostgresStore) Bookings(ctx context.Context) ([]models.Booking, error) {
	return p.queryBookings(ctx, `SELECT `+bookingCols+` FROM bookings ORDER BY id DESC`)
}

func (p *PostgresStore) BookingsByHR(ctx context.Context, hrEmail string) ([]models.Booking, error) {
	return p.queryBookings(ctx, `SELECT `+bookingCols+` FROM bookings WHERE lower(hr_email) = lower($1) ORDER BY id DESC`, hrEmail)
}

func (p *PostgresStore) BookingsByEmployee(ctx context.Context, email string) ([]models.Booking, error) {
	return p.queryBookings(ctx, `SELECT `+bookingCols+` FROM bookings WHERE lower(employee_email) = lower($1) ORDER BY id DESC`, email)
}

func (p *PostgresStore) BookingsByDriver(ctx context.Context, driverEmail string) ([]models.Booking, error) {
	return p.queryBookings(ctx, `SELECT `+bookingCols+` FROM bookings WHERE lower(driver_email) = lower($1) ORDER BY id DESC`, driverEmail)
}

func (p *PostgresStore) RequestedBookings(ctx context.Context, cabType string) ([]models.Booking, error) {
	return p.queryBookings(ctx, `SELECT `+bookingCols+` FROM bookings WHERE status = 'REQUESTED' AND lower(cab_type) = lower($1) ORDER BY id DESC`, cabType)
}

func (p *PostgresStore) queryBookings(ctx context.Context, q string, args ...any) ([]models.Booking, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (p *PostgresStore) DriverHasBooking(ctx context.Context, driverEmail string, status models.BookingStatus) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM bookings WHERE lower(driver_email) = lower($1) AND status = $2)`,
		driverEmail, string(status)).Scan(&exists)
	return exists, err
}

func (p *PostgresStore) AssignDriver(ctx context.Context, id int64, driverEmail string) (AssignOutcome, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return DriverUnavailable, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	stored, available, err := lockDriver(ctx, tx, driverEmail)
	if err != nil {
		return DriverUnavailable, err
	}
	if !available {
		return DriverUnavailable, nil
	}
	ok, err := affected(tx.ExecContext(ctx,
		`UPDATE bookings SET status = 'ASSIGNED', driver_email = $2 WHERE id = $1 AND status = 'REQUESTED'`, id, stored))
	if isUniqueViolation(err) {
		// bookings_one_active_trip: the driver already holds an ASSIGNED booking
		return DriverUnavailable, nil
	}
	if err != nil {
		return BookingUnavailable, err
	}
	if !ok {
		return BookingUnavailable, nil
	}
	if _, err := tx.ExecContext(ctx, `UPDATE drivers SET available = false WHERE email = $1`, stored); err != nil {
		return DriverUnavailable, err
	}
	if err := tx.Commit(); err != nil {
		return DriverUnavailable, err
	}
	committed = true
	return Assigned, nil
}

func (p *PostgresStore) CompleteBooking(ctx context.Context, id int64) (bool, error) {
	return affected(p.db.ExecContext(ctx,
		`UPDATE bookings SET status = 'COMPLETED' WHERE id = $1 AND status = 'ASSIGNED'`, id))
}

// ---- notifications

func (p *PostgresStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	return p.db.QueryRowContext(ctx,
		`INSERT INTO notifications(hr_email, message, created_at, read_flag) VALUES($1,$2,$3,$4) RETURNING id`,
		n.HREmail, n.Message, n.CreatedAt, n.Read).Scan(&n.ID)
}

func (p *PostgresStore) NotificationsByHR(ctx context.Context, hrEmail string) ([]models.Notification, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, hr_email, message, created_at, read_flag FROM notifications WHERE lower(hr_email) = lower($1) ORDER BY id DESC`, hrEmail)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Notification, 0)
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.HREmail, &n.Message, &n.CreatedAt, &n.Read); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UnreadNotifications(ctx context.Context, hrEmail string) (int64, error) {
	var n int64
	err := p.db.QueryRowContext(ctx,
		`SELECT count(*) FROM notifications WHERE lower(hr_email) = lower($1) AND NOT read_flag`, hrEmail).Scan(&n)
	return n, err
}

func (p *PostgresStore) MarkNotificationRead(ctx context.Context, id int64, hrEmail string) error {
	ok, err := affected(p.db.ExecContext(ctx,
		`UPDATE notifications SET read_flag = true WHERE id = $1 AND lower(hr_email) = lower($2)`, id, hrEmail))
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("notification not found")
	}
	return nil
}

// ---- chat messages

const messageCols = `id, sender_email, sender_role, receiver_email, receiver_role, subject, content, message_type, trip_id, created_at, read_flag`

func scanMessage(s scanner) (models.ChatMessage, error) {
	var m models.ChatMessage
	err := s.Scan(&m.ID, &m.SenderEmail, &m.SenderRole, &m.ReceiverEmail, &m.ReceiverRole, &m.Subject, &m.Content, &m.MessageType, &m.TripID, &m.CreatedAt, &m.Read)
	return m, err
}

func (p *PostgresStore) CreateMessage(ctx context.Context, m *models.ChatMessage) error {
	return p.db.QueryRowContext(ctx,
		`INSERT INTO chat_messages(sender_email, sender_role, receiver_email, receiver_role, subject, content, message_type, trip_id, created_at, read_flag)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		m.SenderEmail, m.SenderRole, m.ReceiverEmail, m.ReceiverRole, m.Subject, m.Content, m.MessageType, m.TripID, m.CreatedAt, m.Read).Scan(&m.ID)
}

func (p *PostgresStore) MessageByID(ctx context.Context, id int64) (models.ChatMessage, error) {
	m, err := scanMessage(p.db.QueryRowContext(ctx, `SELECT `+messageCols+` FROM chat_messages WHERE id = $1`, id))
	if err != nil {
		return models.ChatMessage{}, notFound(err, "message not found")
	}
	return m, nil
}

func (p *PostgresStore) Inbox(ctx context.Context, email, role string, limit int) ([]models.ChatMessage, error) {
	return p.queryMessages(ctx,
		`SELECT `+messageCols+` FROM chat_messages
		 WHERE lower(receiver_email) = lower($1)
		    OR (receiver_email = '' AND receiver_role <> '' AND lower(receiver_role) = lower($2))
		 ORDER BY id DESC LIMIT $3`, email, role, limit)
}

func (p *PostgresStore) Conversation(ctx context.Context, a, b string, limit int) ([]models.ChatMessage, error) {
	out, err := p.queryMessages(ctx,
		`SELECT `+messageCols+` FROM chat_messages
		 WHERE (lower(sender_email) = lower($1) AND lower(receiver_email) = lower($2))
		    OR (lower(sender_email) = lower($2) AND lower(receiver_email) = lower($1))
		 ORDER BY id DESC LIMIT $3`, a, b, limit)
	if err != nil {
		return nil, err
	}
	reverse(out)
	return out, nil
}

func (p *PostgresStore) TripMessages(ctx context.Context, tripID int64) ([]models.ChatMessage, error) {
	return p.queryMessages(ctx, `SELECT `+messageCols+` FROM chat_messages WHERE trip_id = $1 ORDER BY id`, tripID)
}

func (p *PostgresStore) MarkMessageRead(ctx context.Context, id int64) error {
	ok, err := affected(p.db.ExecContext(ctx, `UPDATE chat_messages SET read_flag = true WHERE id = $1`, id))
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("message not found")
	}
	return nil
}

func (p *PostgresStore) queryMessages(ctx context.Context, q string, args ...any) ([]models.ChatMessage, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.ChatMessage, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ---- work assignments

const workCols = `id, hr_email, employee_email, title, description, status, assigned_date`

func scanWork(s scanner) (models.WorkAssignment, error) {
	var w models.WorkAssignment
	var status string
	err := s.Scan(&w.ID, &w.HREmail, &w.EmployeeEmail, &w.Title, &w.Description, &status, &w.AssignedDate)
	w.Status = models.WorkStatus(status)
	return w, err
}

func (p *PostgresStore) CreateWork(ctx context.Context, w *models.WorkAssignment) error {
	return p.db.QueryRowContext(ctx,
		`INSERT INTO work_assignments(hr_email, employee_email, title, description, status, assigned_date)
		 VALUES($1,$2,$3,$4,$5,$6) RETURNING id`,
		w.HREmail, w.EmployeeEmail, w.Title, w.Description, string(w.Status), w.AssignedDate).Scan(&w.ID)
}

func (p *PostgresStore) WorkByID(ctx context.Context, id int64) (models.WorkAssignment, error) {
	w, err := scanWork(p.db.QueryRowContext(ctx, `SELECT `+workCols+` FROM work_assignments WHERE id = $1`, id))
	if err != nil {
		return models.WorkAssignment{}, notFound(err, "assignment not found")
	}
	return w, nil
}

func (p *PostgresStore) WorkByHR(ctx context.Context, hrEmail string) ([]models.WorkAssignment, error) {
	return p.queryWork(ctx, `SELECT `+workCols+` FROM work_assignments WHERE lower(hr_email) = lower($1) ORDER BY id DESC`, hrEmail)
}

func (p *PostgresStore) WorkByEmployee(ctx context.Context, email string) ([]models.WorkAssignment, error) {
	return p.queryWork(ctx, `SELECT `+workCols+` FROM work_assignments WHERE lower(employee_email) = lower($1) ORDER BY id DESC`, email)
}

func (p *PostgresStore) UpdateWorkStatus(ctx context.Context, id int64, status models.WorkStatus) error {
	ok, err := affected(p.db.ExecContext(ctx, `UPDATE work_assignments SET status = $2 WHERE id = $1`, id, string(status)))
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("assignment not found")
	}
	return nil
}

func (p *PostgresStore) queryWork(ctx context.Context, q string, args ...any) ([]models.WorkAssignment, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.WorkAssignment, 0)
	for rows.Next() {
		w, err := scanWork(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
