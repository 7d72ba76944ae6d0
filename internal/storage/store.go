// Package storage is the credential and booking store. MemoryStore backs
// local runs and tests; PostgresStore backs deployments. Missing rows are
// reported as apperr NotFound and unique-key clashes as apperr Conflict.
package storage

import (
	"context"

	"github.com/example/cab-dispatch/internal/models"
)

type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	// CreateDriverUser stores u and its driver record together. A driver
	// record that already exists for the email is kept as is.
	CreateDriverUser(ctx context.Context, u *models.User, d *models.Driver) error
	UserByEmail(ctx context.Context, email string) (models.User, error)
	// UsersByRole is ordered by username (case-insensitive), then email.
	UsersByRole(ctx context.Context, role models.Role) ([]models.User, error)
	// EmployeesByHR matches hrEmail case-insensitively, same ordering.
	EmployeesByHR(ctx context.Context, hrEmail string) ([]models.User, error)
}

type DriverStore interface {
	CreateDriver(ctx context.Context, d *models.Driver) error
	DriverByEmail(ctx context.Context, email string) (models.Driver, error)
	// Drivers returns all drivers in natural (id) order.
	Drivers(ctx context.Context) ([]models.Driver, error)
	// AvailableDrivers returns available drivers of a cab type in id order.
	AvailableDrivers(ctx context.Context, cabType string) ([]models.Driver, error)
	SetDriverAvailable(ctx context.Context, email string, available bool) error
	// ReleaseDriver sets available=true unless the driver holds an ASSIGNED
	// booking, in which case it reports false and changes nothing.
	ReleaseDriver(ctx context.Context, email string) (bool, error)
}

type BookingStore interface {
	CreateBooking(ctx context.Context, b *models.Booking) error
	BookingByID(ctx context.Context, id int64) (models.Booking, error)
	Bookings(ctx context.Context) ([]models.Booking, error)
	BookingsByHR(ctx context.Context, hrEmail string) ([]models.Booking, error)
	BookingsByEmployee(ctx context.Context, email string) ([]models.Booking, error)
	BookingsByDriver(ctx context.Context, driverEmail string) ([]models.Booking, error)
	// RequestedBookings lists REQUESTED bookings of a cab type, newest first.
	RequestedBookings(ctx context.Context, cabType string) ([]models.Booking, error)
	DriverHasBooking(ctx context.Context, driverEmail string, status models.BookingStatus) (bool, error)
	// AssignDriver moves a REQUESTED booking to ASSIGNED and the driver from
	// available to unavailable as one step. Neither changes unless both can.
	AssignDriver(ctx context.Context, id int64, driverEmail string) (AssignOutcome, error)
	// CompleteBooking moves ASSIGNED->COMPLETED; false if it was not ASSIGNED.
	CompleteBooking(ctx context.Context, id int64) (bool, error)
}

type AssignOutcome int

const (
	Assigned AssignOutcome = iota
	DriverUnavailable
	BookingUnavailable
)

type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	NotificationsByHR(ctx context.Context, hrEmail string) ([]models.Notification, error)
	UnreadNotifications(ctx context.Context, hrEmail string) (int64, error)
	// MarkNotificationRead reports NotFound when id does not exist or belongs
	// to a different HR.
	MarkNotificationRead(ctx context.Context, id int64, hrEmail string) error
}

type MessageStore interface {
	CreateMessage(ctx context.Context, m *models.ChatMessage) error
	MessageByID(ctx context.Context, id int64) (models.ChatMessage, error)
	// Inbox returns messages addressed to email, or addressed only to role,
	// newest first.
	Inbox(ctx context.Context, email, role string, limit int) ([]models.ChatMessage, error)
	// Conversation returns the last limit messages between a and b, oldest
	// first.
	Conversation(ctx context.Context, a, b string, limit int) ([]models.ChatMessage, error)
	TripMessages(ctx context.Context, tripID int64) ([]models.ChatMessage, error)
	MarkMessageRead(ctx context.Context, id int64) error
}

type WorkStore interface {
	CreateWork(ctx context.Context, w *models.WorkAssignment) error
	WorkByID(ctx context.Context, id int64) (models.WorkAssignment, error)
	WorkByHR(ctx context.Context, hrEmail string) ([]models.WorkAssignment, error)
	WorkByEmployee(ctx context.Context, email string) ([]models.WorkAssignment, error)
	UpdateWorkStatus(ctx context.Context, id int64, status models.WorkStatus) error
}

// Store is everything the service persists.
type Store interface {
	UserStore
	DriverStore
	BookingStore
	NotificationStore
	MessageStore
	WorkStore
	Close() error
}
