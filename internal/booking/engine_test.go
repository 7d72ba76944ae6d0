package booking

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/cab-dispatch/internal/apperr"
	"github.com/example/cab-dispatch/internal/events"
	"github.com/example/cab-dispatch/internal/logging"
	"github.com/example/cab-dispatch/internal/models"
	"github.com/example/cab-dispatch/internal/storage"
)

type recMessenger struct {
	mu   sync.Mutex
	msgs []models.ChatMessage
}

func (r *recMessenger) Deliver(_ context.Context, m models.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
	return nil
}

type recPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recPublisher) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	store *storage.MemoryStore
	msgs  *recMessenger
	pub   *recPublisher
	eng   *Engine
}

func newFixture(policy Policy) *fixture {
	st := storage.NewMemoryStore()
	f := &fixture{store: st, msgs: &recMessenger{}, pub: &recPublisher{}}
	f.eng = &Engine{
		Store:    st,
		Policy:   policy,
		Messages: f.msgs,
		Events:   f.pub,
		Logger:   logging.Discard(),
		Now:      func() time.Time { return time.Date(2026, 5, 4, 8, 30, 0, 0, time.UTC) },
	}
	return f
}

func (f *fixture) driver(t *testing.T, email, cab string) {
	t.Helper()
	require.NoError(t, f.store.CreateDriver(context.Background(), &models.Driver{Name: email, Email: email, CabType: cab, Available: true}))
}

func (f *fixture) book(t *testing.T, cab string) models.Booking {
	t.Helper()
	b, err := f.eng.Book(context.Background(), "hr@x.com", Request{EmployeeEmail: "e@x.com", Pickup: "Gate 1", PickupTime: "09:00", CabType: cab})
	require.NoError(t, err)
	return b
}

func TestBookManualStaysRequested(t *testing.T) {
	f := newFixture(PolicyManual)
	f.driver(t, "d1@x.com", "Sedan")

	b := f.book(t, "Sedan")
	assert.Equal(t, models.BookingRequested, b.Status)
	assert.Empty(t, b.DriverEmail)
	assert.Equal(t, "2026-05-04", b.BookingDate)

	require.Len(t, f.msgs.msgs, 1)
	m := f.msgs.msgs[0]
	assert.Equal(t, models.MessageCabRequested, m.MessageType)
	assert.Equal(t, "e@x.com", m.ReceiverEmail)
	assert.Contains(t, m.Content, "Pickup: Gate 1, Time: 09:00, Cab Type: Sedan")
	assert.Equal(t, []string{events.TypeRequested}, f.pub.types())

	d, err := f.store.DriverByEmail(context.Background(), "d1@x.com")
	require.NoError(t, err)
	assert.True(t, d.Available)
}

func TestBookValidation(t *testing.T) {
	f := newFixture(PolicyManual)
	for _, req := range []Request{
		{Pickup: "a", CabType: "Sedan"},
		{EmployeeEmail: "e@x.com", CabType: "Sedan"},
		{EmployeeEmail: "e@x.com", Pickup: "a"},
	} {
		_, err := f.eng.Book(context.Background(), "hr@x.com", req)
		assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
	}
}

func TestBookAutoAssignsFirstAvailable(t *testing.T) {
	f := newFixture(PolicyAuto)
	f.driver(t, "suv@x.com", "SUV")
	f.driver(t, "d1@x.com", "sedan")
	f.driver(t, "d2@x.com", "Sedan")

	b := f.book(t, "Sedan")
	assert.Equal(t, models.BookingAssigned, b.Status)
	assert.Equal(t, "d1@x.com", b.DriverEmail)

	d1, _ := f.store.DriverByEmail(context.Background(), "d1@x.com")
	assert.False(t, d1.Available)
	require.Len(t, f.msgs.msgs, 1)
	assert.Equal(t, models.MessageCabAssigned, f.msgs.msgs[0].MessageType)

	b2 := f.book(t, "Sedan")
	assert.Equal(t, "d2@x.com", b2.DriverEmail)

	b3 := f.book(t, "Sedan")
	assert.Equal(t, models.BookingRequested, b3.Status)
	assert.Equal(t, models.MessageCabRequested, f.msgs.msgs[len(f.msgs.msgs)-1].MessageType)
}

func TestAcceptTripScenario(t *testing.T) {
	f := newFixture(PolicyManual)
	f.driver(t, "d1@x.com", "Sedan")
	f.driver(t, "d2@x.com", "Sedan")
	b := f.book(t, "Sedan")

	got, err := f.eng.AcceptTrip(context.Background(), b.ID, "d1@x.com")
	require.NoError(t, err)
	assert.Equal(t, models.BookingAssigned, got.Status)
	assert.Equal(t, "d1@x.com", got.DriverEmail)

	d1, _ := f.store.DriverByEmail(context.Background(), "d1@x.com")
	assert.False(t, d1.Available)

	notes, err := f.store.NotificationsByHR(context.Background(), "hr@x.com")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, fmt.Sprintf("Driver d1@x.com accepted booking #%d", b.ID), notes[0].Message)

	_, err = f.eng.AcceptTrip(context.Background(), b.ID, "d2@x.com")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, "booking is not available for acceptance", apperr.Message(err, ""))

	d2, _ := f.store.DriverByEmail(context.Background(), "d2@x.com")
	assert.True(t, d2.Available)
	assert.Equal(t, []string{events.TypeRequested, events.TypeAssigned}, f.pub.types())
}

func TestAcceptTripRejections(t *testing.T) {
	f := newFixture(PolicyManual)
	f.driver(t, "d1@x.com", "Sedan")
	f.driver(t, "suv@x.com", "SUV")
	b := f.book(t, "Sedan")
	ctx := context.Background()

	_, err := f.eng.AcceptTrip(ctx, b.ID, "ghost@x.com")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = f.eng.AcceptTrip(ctx, 9999, "d1@x.com")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = f.eng.AcceptTrip(ctx, b.ID, "suv@x.com")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	require.NoError(t, f.store.SetDriverAvailable(ctx, "d1@x.com", false))
	_, err = f.eng.AcceptTrip(ctx, b.ID, "d1@x.com")
	assert.Equal(t, "driver is not available", apperr.Message(err, ""))

	cur, _ := f.store.BookingByID(ctx, b.ID)
	assert.Equal(t, models.BookingRequested, cur.Status)
}

func TestConcurrentAcceptSingleWinner(t *testing.T) {
	f := newFixture(PolicyManual)
	const n = 12
	for i := 0; i < n; i++ {
		f.driver(t, fmt.Sprintf("d%d@x.com", i), "Sedan")
	}
	b := f.book(t, "Sedan")

	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.eng.AcceptTrip(context.Background(), b.ID, fmt.Sprintf("d%d@x.com", i))
			if err == nil {
				wins.Add(1)
			} else if apperr.Is(err, apperr.KindConflict) {
				conflicts.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(n-1), conflicts.Load())

	cur, _ := f.store.BookingByID(context.Background(), b.ID)
	busy := 0
	drivers, _ := f.store.Drivers(context.Background())
	for _, d := range drivers {
		if !d.Available {
			busy++
			assert.Equal(t, cur.DriverEmail, d.Email)
		}
	}
	assert.Equal(t, 1, busy)
}

func TestCompleteTripIdempotent(t *testing.T) {
	f := newFixture(PolicyManual)
	f.driver(t, "d1@x.com", "Sedan")
	b := f.book(t, "Sedan")
	ctx := context.Background()

	_, err := f.eng.CompleteTrip(ctx, b.ID)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = f.eng.AcceptTrip(ctx, b.ID, "d1@x.com")
	require.NoError(t, err)

	done, err := f.eng.CompleteTrip(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingCompleted, done.Status)
	d1, _ := f.store.DriverByEmail(ctx, "d1@x.com")
	assert.True(t, d1.Available)

	// driver goes offline, then the trip is completed again
	_, err = f.eng.SetAvailability(ctx, "d1@x.com", false)
	require.NoError(t, err)
	again, err := f.eng.CompleteTrip(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingCompleted, again.Status)

	d1, _ = f.store.DriverByEmail(ctx, "d1@x.com")
	assert.False(t, d1.Available)
	notes, _ := f.store.NotificationsByHR(ctx, "hr@x.com")
	assert.Len(t, notes, 2)
	assert.Equal(t, fmt.Sprintf("Driver d1@x.com completed trip booking #%d", b.ID), notes[0].Message)
	assert.Equal(t, []string{events.TypeRequested, events.TypeAssigned, events.TypeCompleted}, f.pub.types())

	_, err = f.eng.CompleteTrip(ctx, 4242)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestCompleteTripAsChecksOwner(t *testing.T) {
	f := newFixture(PolicyManual)
	f.driver(t, "d1@x.com", "Sedan")
	b := f.book(t, "Sedan")
	_, err := f.eng.AcceptTrip(context.Background(), b.ID, "d1@x.com")
	require.NoError(t, err)

	_, err = f.eng.CompleteTripAs(context.Background(), b.ID, "d2@x.com")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	_, err = f.eng.CompleteTripAs(context.Background(), b.ID, "D1@x.com")
	assert.NoError(t, err)
}

func TestSetAvailabilityWhileOnTrip(t *testing.T) {
	f := newFixture(PolicyManual)
	f.driver(t, "d1@x.com", "Sedan")
	b := f.book(t, "Sedan")
	ctx := context.Background()
	_, err := f.eng.AcceptTrip(ctx, b.ID, "d1@x.com")
	require.NoError(t, err)

	_, err = f.eng.SetAvailability(ctx, "d1@x.com", true)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = f.eng.SetAvailability(ctx, "nobody@x.com", false)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

// racingStore lets a driver go back online right before and right after each
// assignment, the way a driver toggling the app would.
type racingStore struct {
	*storage.MemoryStore
	eng      *Engine
	conflict []error
}

func (r *racingStore) AssignDriver(ctx context.Context, id int64, driverEmail string) (storage.AssignOutcome, error) {
	_, _ = r.eng.SetAvailability(ctx, driverEmail, true)
	out, err := r.MemoryStore.AssignDriver(ctx, id, driverEmail)
	_, setErr := r.eng.SetAvailability(ctx, driverEmail, true)
	r.conflict = append(r.conflict, setErr)
	return out, err
}

func TestAvailabilityCannotInterleaveWithAssignment(t *testing.T) {
	for _, policy := range []Policy{PolicyManual, PolicyAuto} {
		t.Run(string(policy), func(t *testing.T) {
			f := newFixture(PolicyManual)
			f.driver(t, "d1@x.com", "Sedan")
			b := f.book(t, "Sedan")

			rs := &racingStore{MemoryStore: f.store, eng: f.eng}
			f.eng.Store = rs
			f.eng.Policy = policy
			ctx := context.Background()

			var assigned models.Booking
			if policy == PolicyAuto {
				var err error
				assigned, err = f.eng.Book(ctx, "hr@x.com", Request{EmployeeEmail: "e@x.com", Pickup: "Gate 2", CabType: "Sedan"})
				require.NoError(t, err)
			} else {
				var err error
				assigned, err = f.eng.AcceptTrip(ctx, b.ID, "d1@x.com")
				require.NoError(t, err)
			}
			require.Equal(t, models.BookingAssigned, assigned.Status)

			require.NotEmpty(t, rs.conflict)
			assert.Equal(t, apperr.KindConflict, apperr.KindOf(rs.conflict[len(rs.conflict)-1]))

			d1, err := f.store.DriverByEmail(ctx, "d1@x.com")
			require.NoError(t, err)
			assert.False(t, d1.Available, "driver with an assigned trip stays unavailable")
		})
	}
}

func TestConcurrentAvailabilityAndAccept(t *testing.T) {
	f := newFixture(PolicyManual)
	ctx := context.Background()
	const n = 20
	for i := 0; i < n; i++ {
		f.driver(t, fmt.Sprintf("d%d@x.com", i), "Sedan")
	}
	var ids []int64
	for i := 0; i < n; i++ {
		ids = append(ids, f.book(t, "Sedan").ID)
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		email := fmt.Sprintf("d%d@x.com", i)
		wg.Add(2)
		go func(id int64) {
			defer wg.Done()
			_, _ = f.eng.AcceptTrip(ctx, id, email)
		}(ids[i])
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				_, _ = f.eng.SetAvailability(ctx, email, j%2 == 0)
			}
		}()
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		email := fmt.Sprintf("d%d@x.com", i)
		busy, err := f.store.DriverHasBooking(ctx, email, models.BookingAssigned)
		require.NoError(t, err)
		d, err := f.store.DriverByEmail(ctx, email)
		require.NoError(t, err)
		if busy {
			assert.False(t, d.Available, email)
		}
	}
}

func TestRideRequestsByCabType(t *testing.T) {
	f := newFixture(PolicyManual)
	f.driver(t, "d1@x.com", "Sedan")
	f.driver(t, "nocab@x.com", "")
	older := f.book(t, "sedan")
	newer := f.book(t, "Sedan")
	f.book(t, "SUV")

	reqs, err := f.eng.RideRequests(context.Background(), "d1@x.com")
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, newer.ID, reqs[0].ID)
	assert.Equal(t, older.ID, reqs[1].ID)

	reqs, err = f.eng.RideRequests(context.Background(), "nocab@x.com")
	require.NoError(t, err)
	assert.Empty(t, reqs)
}

type countingInvalidator struct{ n int }

func (c *countingInvalidator) Invalidate(context.Context) { c.n++ }

func TestAddDriverDefaultsAndInvalidates(t *testing.T) {
	f := newFixture(PolicyManual)
	inv := &countingInvalidator{}
	f.eng.Directory = inv

	d, err := f.eng.AddDriver(context.Background(), models.Driver{Name: "Dee", Email: " Dee@X.com "})
	require.NoError(t, err)
	assert.Equal(t, "dee@x.com", d.Email)
	assert.Equal(t, models.DefaultCabType, d.CabType)
	assert.True(t, d.Available)
	assert.Equal(t, 1, inv.n)

	_, err = f.eng.AddDriver(context.Background(), models.Driver{Email: "dee@x.com"})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, 1, inv.n)
}
