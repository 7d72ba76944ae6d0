// Package booking owns the cab booking lifecycle: HR requests a cab, a driver
// claims it (or the engine assigns one), the driver completes the trip.
//
// Every state change that could race is a single store step: AssignDriver
// flips the booking REQUESTED->ASSIGNED and the driver available->unavailable
// together, and ReleaseDriver only frees a driver holding no ASSIGNED
// booking. Whoever loses gets a Conflict and no partial state is left.
package booking

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/cab-dispatch/internal/apperr"
	"github.com/example/cab-dispatch/internal/events"
	"github.com/example/cab-dispatch/internal/models"
	"github.com/example/cab-dispatch/internal/observability"
	"github.com/example/cab-dispatch/internal/storage"
)

type Policy string

const (
	PolicyManual Policy = "manual"
	PolicyAuto   Policy = "auto"
)

func ParsePolicy(s string) (Policy, bool) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyManual, "":
		return PolicyManual, true
	case PolicyAuto:
		return PolicyAuto, true
	}
	return "", false
}

type Store interface {
	storage.DriverStore
	storage.BookingStore
	storage.NotificationStore
}

// Messenger delivers system chat messages to employees.
type Messenger interface {
	Deliver(ctx context.Context, msg models.ChatMessage) error
}

type Publisher interface {
	Publish(ctx context.Context, e events.Event) error
}

// Invalidator is told when the set of drivers changes.
type Invalidator interface {
	Invalidate(ctx context.Context)
}

type Request struct {
	EmployeeEmail string `json:"employeeEmail"`
	Pickup        string `json:"pickup"`
	Drop          string `json:"drop"`
	PickupTime    string `json:"pickupTime"`
	CabType       string `json:"cabType"`
}

type Engine struct {
	Store     Store
	Policy    Policy
	Messages  Messenger   // optional
	Events    Publisher   // optional
	Directory Invalidator // optional
	Logger    *slog.Logger
	Now       func() time.Time
}

var (
	errDriverBusy      = apperr.Conflict("driver is not available")
	errDriverOnTrip    = apperr.Conflict("driver already has an assigned trip")
	errNotAcceptable   = apperr.Conflict("booking is not available for acceptance")
	errCabTypeMismatch = apperr.Conflict("cab type does not match driver")
)

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Engine) policy() Policy {
	if e.Policy == "" {
		return PolicyManual
	}
	return e.Policy
}

// Book records a cab request from hrEmail. Under the auto policy the first
// available driver of the requested cab type is assigned immediately.
func (e *Engine) Book(ctx context.Context, hrEmail string, req Request) (models.Booking, error) {
	req.EmployeeEmail = models.NormalizeEmail(req.EmployeeEmail)
	req.Pickup = strings.TrimSpace(req.Pickup)
	req.CabType = strings.TrimSpace(req.CabType)
	switch {
	case req.EmployeeEmail == "":
		return models.Booking{}, apperr.Invalid("employeeEmail is required")
	case req.Pickup == "":
		return models.Booking{}, apperr.Invalid("pickup is required")
	case req.CabType == "":
		return models.Booking{}, apperr.Invalid("cabType is required")
	}

	b := models.Booking{
		HREmail:       models.NormalizeEmail(hrEmail),
		EmployeeEmail: req.EmployeeEmail,
		Pickup:        req.Pickup,
		Drop:          strings.TrimSpace(req.Drop),
		PickupTime:    strings.TrimSpace(req.PickupTime),
		CabType:       req.CabType,
		Status:        models.BookingRequested,
		BookingDate:   e.now().Format("2006-01-02"),
	}

	if err := e.Store.CreateBooking(ctx, &b); err != nil {
		return models.Booking{}, fmt.Errorf("create booking: %w", err)
	}

	if e.policy() == PolicyAuto {
		start := time.Now()
		driver, taken, err := e.assignAny(ctx, b)
		if err != nil {
			return models.Booking{}, err
		}
		if taken {
			// the accepting driver already announced it
			return e.Store.BookingByID(ctx, b.ID)
		}
		if driver != nil {
			b.Status = models.BookingAssigned
			b.DriverEmail = driver.Email
			observability.AssignLatency.Observe(time.Since(start).Seconds())
			observability.BookingsCreated.WithLabelValues(string(PolicyAuto), string(b.Status)).Inc()
			e.deliver(ctx, assignedMessage(b, b.HREmail, string(models.RoleHR), driver.Name))
			e.notifyHR(ctx, b.HREmail, fmt.Sprintf("Driver %s assigned to booking #%d", driver.Email, b.ID))
			e.publish(ctx, events.TypeAssigned, b)
			return b, nil
		}
	}

	observability.BookingsCreated.WithLabelValues(string(e.policy()), string(b.Status)).Inc()
	e.deliver(ctx, requestedMessage(b))
	e.publish(ctx, events.TypeRequested, b)
	return b, nil
}

// assignAny gives b to the first available driver of its cab type, in
// driver id order. taken reports that a driver accepted b manually first.
func (e *Engine) assignAny(ctx context.Context, b models.Booking) (driver *models.Driver, taken bool, err error) {
	drivers, err := e.Store.AvailableDrivers(ctx, b.CabType)
	if err != nil {
		return nil, false, fmt.Errorf("list drivers: %w", err)
	}
	for i := range drivers {
		d := drivers[i]
		out, err := e.Store.AssignDriver(ctx, b.ID, d.Email)
		if err != nil {
			return nil, false, fmt.Errorf("assign driver: %w", err)
		}
		switch out {
		case storage.Assigned:
			return &d, false, nil
		case storage.BookingUnavailable:
			return nil, true, nil
		}
	}
	return nil, false, nil
}

// AcceptTrip lets driverEmail take a REQUESTED booking.
func (e *Engine) AcceptTrip(ctx context.Context, bookingID int64, driverEmail string) (models.Booking, error) {
	start := time.Now()
	b, err := e.acceptTrip(ctx, bookingID, driverEmail)
	switch {
	case err == nil:
		observability.TripAccepts.WithLabelValues("accepted").Inc()
		observability.AssignLatency.Observe(time.Since(start).Seconds())
	case apperr.Is(err, apperr.KindConflict):
		observability.TripAccepts.WithLabelValues("conflict").Inc()
	default:
		observability.TripAccepts.WithLabelValues("error").Inc()
	}
	return b, err
}

func (e *Engine) acceptTrip(ctx context.Context, bookingID int64, driverEmail string) (models.Booking, error) {
	driver, err := e.Store.DriverByEmail(ctx, driverEmail)
	if err != nil {
		return models.Booking{}, err
	}
	if !driver.Available {
		return models.Booking{}, errDriverBusy
	}
	busy, err := e.Store.DriverHasBooking(ctx, driver.Email, models.BookingAssigned)
	if err != nil {
		return models.Booking{}, fmt.Errorf("driver bookings: %w", err)
	}
	if busy {
		return models.Booking{}, errDriverOnTrip
	}
	b, err := e.Store.BookingByID(ctx, bookingID)
	if err != nil {
		return models.Booking{}, err
	}
	if b.Status != models.BookingRequested {
		return models.Booking{}, errNotAcceptable
	}
	if !strings.EqualFold(b.CabType, driver.CabType) {
		return models.Booking{}, errCabTypeMismatch
	}

	out, err := e.Store.AssignDriver(ctx, b.ID, driver.Email)
	if err != nil {
		return models.Booking{}, fmt.Errorf("assign driver: %w", err)
	}
	switch out {
	case storage.DriverUnavailable:
		return models.Booking{}, errDriverBusy
	case storage.BookingUnavailable:
		return models.Booking{}, errNotAcceptable
	}

	b.Status = models.BookingAssigned
	b.DriverEmail = driver.Email
	e.notifyHR(ctx, b.HREmail, fmt.Sprintf("Driver %s accepted booking #%d", driver.Email, b.ID))
	e.deliver(ctx, assignedMessage(b, driver.Email, string(models.RoleDriver), driver.Name))
	e.publish(ctx, events.TypeAssigned, b)
	return b, nil
}

// CompleteTrip closes an ASSIGNED booking and frees its driver. Completing an
// already completed booking is a no-op.
func (e *Engine) CompleteTrip(ctx context.Context, bookingID int64) (models.Booking, error) {
	b, err := e.Store.BookingByID(ctx, bookingID)
	if err != nil {
		return models.Booking{}, err
	}
	switch b.Status {
	case models.BookingCompleted:
		return b, nil
	case models.BookingRequested:
		return models.Booking{}, apperr.Conflict("booking has not been assigned")
	}

	done, err := e.Store.CompleteBooking(ctx, b.ID)
	if err != nil {
		return models.Booking{}, fmt.Errorf("complete booking: %w", err)
	}
	if !done {
		// lost to a concurrent completion
		cur, err := e.Store.BookingByID(ctx, b.ID)
		if err != nil {
			return models.Booking{}, err
		}
		if cur.Status == models.BookingCompleted {
			return cur, nil
		}
		return models.Booking{}, apperr.Conflict("booking cannot be completed")
	}
	b.Status = models.BookingCompleted
	observability.TripsCompleted.Inc()

	if b.DriverEmail != "" {
		freed, err := e.Store.ReleaseDriver(ctx, b.DriverEmail)
		if err != nil || !freed {
			e.logger().Warn("free driver after trip", "booking_id", b.ID, "driver", b.DriverEmail, "freed", freed, "err", err)
		}
	}
	driver := b.DriverEmail
	if driver == "" {
		driver = "(unknown)"
	}
	e.notifyHR(ctx, b.HREmail, fmt.Sprintf("Driver %s completed trip booking #%d", driver, b.ID))
	e.publish(ctx, events.TypeCompleted, b)
	return b, nil
}

// CompleteTripAs is CompleteTrip restricted to the booking's own driver.
func (e *Engine) CompleteTripAs(ctx context.Context, bookingID int64, driverEmail string) (models.Booking, error) {
	b, err := e.Store.BookingByID(ctx, bookingID)
	if err != nil {
		return models.Booking{}, err
	}
	if b.DriverEmail != "" && !strings.EqualFold(b.DriverEmail, driverEmail) {
		return models.Booking{}, apperr.Forbidden("booking belongs to another driver")
	}
	return e.CompleteTrip(ctx, bookingID)
}

func (e *Engine) SetAvailability(ctx context.Context, driverEmail string, available bool) (models.Driver, error) {
	d, err := e.Store.DriverByEmail(ctx, driverEmail)
	if err != nil {
		return models.Driver{}, err
	}
	if available {
		// the check and the write happen in one store step so an
		// assignment cannot slip in between them
		freed, err := e.Store.ReleaseDriver(ctx, d.Email)
		if err != nil {
			return models.Driver{}, err
		}
		if !freed {
			return models.Driver{}, apperr.Conflict("driver has an assigned trip")
		}
	} else if err := e.Store.SetDriverAvailable(ctx, d.Email, false); err != nil {
		return models.Driver{}, err
	}
	d.Available = available
	return d, nil
}

func (e *Engine) notifyHR(ctx context.Context, hrEmail, msg string) {
	if hrEmail == "" {
		return
	}
	n := models.Notification{HREmail: hrEmail, Message: msg, CreatedAt: e.now().UTC()}
	if err := e.Store.CreateNotification(ctx, &n); err != nil {
		e.logger().Warn("record hr notification", "hr", hrEmail, "err", err)
	}
}

func (e *Engine) deliver(ctx context.Context, msg models.ChatMessage) {
	if e.Messages == nil {
		return
	}
	if err := e.Messages.Deliver(ctx, msg); err != nil {
		e.logger().Warn("deliver system message", "to", msg.ReceiverEmail, "type", msg.MessageType, "err", err)
	}
}

func (e *Engine) publish(ctx context.Context, typ string, b models.Booking) {
	if e.Events == nil {
		return
	}
	if err := e.Events.Publish(ctx, events.FromBooking(typ, b, e.now())); err != nil {
		e.logger().Warn("publish booking event", "type", typ, "booking_id", b.ID, "err", err)
	}
}

func requestedMessage(b models.Booking) models.ChatMessage {
	return models.ChatMessage{
		SenderEmail:   b.HREmail,
		SenderRole:    string(models.RoleHR),
		ReceiverEmail: b.EmployeeEmail,
		ReceiverRole:  string(models.RoleEmployee),
		Subject:       "Cab requested",
		Content: fmt.Sprintf("A cab has been requested for you. Waiting for a driver to accept. Pickup: %s, Time: %s, Cab Type: %s",
			b.Pickup, b.PickupTime, b.CabType),
		MessageType: models.MessageCabRequested,
		TripID:      b.ID,
	}
}

func assignedMessage(b models.Booking, sender, senderRole, driverName string) models.ChatMessage {
	name := driverName
	if name == "" {
		name = b.DriverEmail
	}
	return models.ChatMessage{
		SenderEmail:   sender,
		SenderRole:    senderRole,
		ReceiverEmail: b.EmployeeEmail,
		ReceiverRole:  string(models.RoleEmployee),
		Subject:       "Cab assigned",
		Content: fmt.Sprintf("Your cab has been assigned. Driver: %s (%s), Pickup: %s, Time: %s, Cab Type: %s",
			name, b.DriverEmail, b.Pickup, b.PickupTime, b.CabType),
		MessageType: models.MessageCabAssigned,
		TripID:      b.ID,
	}
}
