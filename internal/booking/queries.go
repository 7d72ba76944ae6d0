package booking

import (
	"context"
	"strings"

	"github.com/example/cab-dispatch/internal/apperr"
	"github.com/example/cab-dispatch/internal/models"
)

// RideRequests lists open bookings the driver could accept, newest first.
func (e *Engine) RideRequests(ctx context.Context, driverEmail string) ([]models.Booking, error) {
	d, err := e.Store.DriverByEmail(ctx, driverEmail)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(d.CabType) == "" {
		return []models.Booking{}, nil
	}
	return e.Store.RequestedBookings(ctx, d.CabType)
}

// AssignedTrips is the driver's current ASSIGNED bookings.
func (e *Engine) AssignedTrips(ctx context.Context, driverEmail string) ([]models.Booking, error) {
	all, err := e.Store.BookingsByDriver(ctx, driverEmail)
	if err != nil {
		return nil, err
	}
	out := make([]models.Booking, 0, len(all))
	for _, b := range all {
		if b.Status == models.BookingAssigned {
			out = append(out, b)
		}
	}
	return out, nil
}

func (e *Engine) DriverTrips(ctx context.Context, driverEmail string) ([]models.Booking, error) {
	return e.Store.BookingsByDriver(ctx, driverEmail)
}

func (e *Engine) HRBookings(ctx context.Context, hrEmail string) ([]models.Booking, error) {
	return e.Store.BookingsByHR(ctx, hrEmail)
}

func (e *Engine) EmployeeBookings(ctx context.Context, employeeEmail string) ([]models.Booking, error) {
	return e.Store.BookingsByEmployee(ctx, employeeEmail)
}

func (e *Engine) AllBookings(ctx context.Context) ([]models.Booking, error) {
	return e.Store.Bookings(ctx)
}

func (e *Engine) Driver(ctx context.Context, email string) (models.Driver, error) {
	return e.Store.DriverByEmail(ctx, email)
}

func (e *Engine) Drivers(ctx context.Context) ([]models.Driver, error) {
	return e.Store.Drivers(ctx)
}

// AddDriver creates a driver record on behalf of an admin.
func (e *Engine) AddDriver(ctx context.Context, d models.Driver) (models.Driver, error) {
	d.Email = models.NormalizeEmail(d.Email)
	d.Name = strings.TrimSpace(d.Name)
	if d.Email == "" {
		return models.Driver{}, apperr.Invalid("email is required")
	}
	if strings.TrimSpace(d.CabType) == "" {
		d.CabType = models.DefaultCabType
	}
	d.Available = true
	if err := e.Store.CreateDriver(ctx, &d); err != nil {
		return models.Driver{}, err
	}
	if e.Directory != nil {
		e.Directory.Invalidate(ctx)
	}
	return d, nil
}
