package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/example/cab-dispatch/internal/apperr"
	"github.com/example/cab-dispatch/internal/models"
)

// MemoryStore keeps everything in maps guarded by one lock. Conditional
// updates run under the write lock, which gives them the same
// compare-and-set behaviour as the SQL versions.
type MemoryStore struct {
	mu sync.RWMutex

	nextID        int64
	users         map[string]*models.User // by lower-cased email
	drivers       map[string]*models.Driver
	bookings      map[int64]*models.Booking
	notifications map[int64]*models.Notification
	messages      map[int64]*models.ChatMessage
	work          map[int64]*models.WorkAssignment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]*models.User),
		drivers:       make(map[string]*models.Driver),
		bookings:      make(map[int64]*models.Booking),
		notifications: make(map[int64]*models.Notification),
		messages:      make(map[int64]*models.ChatMessage),
		work:          make(map[int64]*models.WorkAssignment),
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

func key(email string) string { return models.NormalizeEmail(email) }

func sameEmail(a, b string) bool {
	return a != "" && strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// ---- users

func (m *MemoryStore) CreateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(u.Email)
	if _, ok := m.users[k]; ok {
		return apperr.Conflict("email already exists")
	}
	u.ID = m.id()
	cp := *u
	m.users[k] = &cp
	return nil
}

func (m *MemoryStore) CreateDriverUser(_ context.Context, u *models.User, d *models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(u.Email)
	if _, ok := m.users[k]; ok {
		return apperr.Conflict("email already exists")
	}
	u.ID = m.id()
	cp := *u
	m.users[k] = &cp
	if existing, ok := m.drivers[key(d.Email)]; ok {
		*d = *existing
		return nil
	}
	d.ID = m.id()
	dcp := *d
	m.drivers[key(d.Email)] = &dcp
	return nil
}

func (m *MemoryStore) UserByEmail(_ context.Context, email string) (models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[key(email)]
	if !ok {
		return models.User{}, apperr.NotFound("user not found")
	}
	return *u, nil
}

func (m *MemoryStore) UsersByRole(_ context.Context, role models.Role) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.User, 0)
	for _, u := range m.users {
		if u.Role == role {
			out = append(out, *u)
		}
	}
	sortUsers(out)
	return out, nil
}

func (m *MemoryStore) EmployeesByHR(_ context.Context, hrEmail string) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.User, 0)
	for _, u := range m.users {
		if u.Role == models.RoleEmployee && sameEmail(u.HREmail, hrEmail) {
			out = append(out, *u)
		}
	}
	sortUsers(out)
	return out, nil
}

func sortUsers(us []models.User) {
	sort.SliceStable(us, func(i, j int) bool {
		a, b := strings.ToLower(us[i].Username), strings.ToLower(us[j].Username)
		if a != b {
			return a < b
		}
		return us[i].Email < us[j].Email
	})
}

// ---- drivers

func (m *MemoryStore) CreateDriver(_ context.Context, d *models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(d.Email)
	if _, ok := m.drivers[k]; ok {
		return apperr.Conflict("driver already exists")
	}
	d.ID = m.id()
	cp := *d
	m.drivers[k] = &cp
	return nil
}

func (m *MemoryStore) DriverByEmail(_ context.Context, email string) (models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[key(email)]
	if !ok {
		return models.Driver{}, apperr.NotFound("driver not found")
	}
	return *d, nil
}

func (m *MemoryStore) Drivers(_ context.Context) ([]models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.driversWhere(func(*models.Driver) bool { return true }), nil
}

func (m *MemoryStore) AvailableDrivers(_ context.Context, cabType string) ([]models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.driversWhere(func(d *models.Driver) bool {
		return d.Available && strings.EqualFold(d.CabType, cabType)
	}), nil
}

func (m *MemoryStore) driversWhere(keep func(*models.Driver) bool) []models.Driver {
	out := make([]models.Driver, 0, len(m.drivers))
	for _, d := range m.drivers {
		if keep(d) {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemoryStore) SetDriverAvailable(_ context.Context, email string, available bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[key(email)]
	if !ok {
		return apperr.NotFound("driver not found")
	}
	d.Available = available
	return nil
}

// ReleaseDriver checks for an ASSIGNED booking and frees the driver under the
// same write lock AssignDriver takes.
func (m *MemoryStore) ReleaseDriver(_ context.Context, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[key(email)]
	if !ok {
		return false, apperr.NotFound("driver not found")
	}
	if m.hasBookingLocked(d.Email, models.BookingAssigned) {
		return false, nil
	}
	d.Available = true
	return true, nil
}

// ---- bookings

func (m *MemoryStore) CreateBooking(_ context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.ID = m.id()
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *MemoryStore) BookingByID(_ context.Context, id int64) (models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return models.Booking{}, apperr.NotFound("booking not found")
	}
	return *b, nil
}

func (m *MemoryStore) Bookings(_ context.Context) ([]models.Booking, error) {
	return m.bookingsWhere(func(*models.Booking) bool { return true }), nil
}

func (m *MemoryStore) BookingsByHR(_ context.Context, hrEmail string) ([]models.Booking, error) {
	return m.bookingsWhere(func(b *models.Booking) bool { return sameEmail(b.HREmail, hrEmail) }), nil
}

func (m *MemoryStore) BookingsByEmployee(_ context.Context, email string) ([]models.Booking, error) {
	return m.bookingsWhere(func(b *models.Booking) bool { return sameEmail(b.EmployeeEmail, email) }), nil
}

func (m *MemoryStore) BookingsByDriver(_ context.Context, driverEmail string) ([]models.Booking, error) {
	return m.bookingsWhere(func(b *models.Booking) bool { return sameEmail(b.DriverEmail, driverEmail) }), nil
}

func (m *MemoryStore) RequestedBookings(_ context.Context, cabType string) ([]models.Booking, error) {
	return m.bookingsWhere(func(b *models.Booking) bool {
		return b.Status == models.BookingRequested && strings.EqualFold(b.CabType, cabType)
	}), nil
}

// bookingsWhere returns matches newest first.
func (m *MemoryStore) bookingsWhere(keep func(*models.Booking) bool) []models.Booking {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Booking, 0)
	for _, b := range m.bookings {
		if keep(b) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (m *MemoryStore) DriverHasBooking(_ context.Context, driverEmail string, status models.BookingStatus) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasBookingLocked(driverEmail, status), nil
}

func (m *MemoryStore) hasBookingLocked(driverEmail string, status models.BookingStatus) bool {
	for _, b := range m.bookings {
		if b.Status == status && sameEmail(b.DriverEmail, driverEmail) {
			return true
		}
	}
	return false
}

func (m *MemoryStore) AssignDriver(_ context.Context, id int64, driverEmail string) (AssignOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[key(driverEmail)]
	if !ok {
		return DriverUnavailable, apperr.NotFound("driver not found")
	}
	if !d.Available || m.hasBookingLocked(d.Email, models.BookingAssigned) {
		return DriverUnavailable, nil
	}
	b, ok := m.bookings[id]
	if !ok {
		return BookingUnavailable, apperr.NotFound("booking not found")
	}
	if b.Status != models.BookingRequested {
		return BookingUnavailable, nil
	}
	d.Available = false
	b.Status = models.BookingAssigned
	b.DriverEmail = d.Email
	return Assigned, nil
}

func (m *MemoryStore) CompleteBooking(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok || b.Status != models.BookingAssigned {
		return false, nil
	}
	b.Status = models.BookingCompleted
	return true, nil
}

// ---- notifications

func (m *MemoryStore) CreateNotification(_ context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.ID = m.id()
	cp := *n
	m.notifications[n.ID] = &cp
	return nil
}

func (m *MemoryStore) NotificationsByHR(_ context.Context, hrEmail string) ([]models.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Notification, 0)
	for _, n := range m.notifications {
		if sameEmail(n.HREmail, hrEmail) {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *MemoryStore) UnreadNotifications(_ context.Context, hrEmail string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, x := range m.notifications {
		if !x.Read && sameEmail(x.HREmail, hrEmail) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) MarkNotificationRead(_ context.Context, id int64, hrEmail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok || key(n.HREmail) != key(hrEmail) {
		return apperr.NotFound("notification not found")
	}
	n.Read = true
	return nil
}

// ---- chat messages

func (m *MemoryStore) CreateMessage(_ context.Context, msg *models.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = m.id()
	cp := *msg
	m.messages[msg.ID] = &cp
	return nil
}

func (m *MemoryStore) MessageByID(_ context.Context, id int64) (models.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	if !ok {
		return models.ChatMessage{}, apperr.NotFound("message not found")
	}
	return *msg, nil
}

func (m *MemoryStore) Inbox(_ context.Context, email, role string, limit int) ([]models.ChatMessage, error) {
	out := m.messagesWhere(func(x *models.ChatMessage) bool {
		if sameEmail(x.ReceiverEmail, email) {
			return true
		}
		return x.ReceiverEmail == "" && x.ReceiverRole != "" && strings.EqualFold(x.ReceiverRole, role)
	})
	reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Conversation(_ context.Context, a, b string, limit int) ([]models.ChatMessage, error) {
	out := m.messagesWhere(func(x *models.ChatMessage) bool {
		return (sameEmail(x.SenderEmail, a) && sameEmail(x.ReceiverEmail, b)) ||
			(sameEmail(x.SenderEmail, b) && sameEmail(x.ReceiverEmail, a))
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *MemoryStore) TripMessages(_ context.Context, tripID int64) ([]models.ChatMessage, error) {
	return m.messagesWhere(func(x *models.ChatMessage) bool { return x.TripID == tripID }), nil
}

func (m *MemoryStore) MarkMessageRead(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return apperr.NotFound("message not found")
	}
	msg.Read = true
	return nil
}

// messagesWhere returns matches oldest first.
func (m *MemoryStore) messagesWhere(keep func(*models.ChatMessage) bool) []models.ChatMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ChatMessage, 0)
	for _, x := range m.messages {
		if keep(x) {
			out = append(out, *x)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// ---- work assignments

func (m *MemoryStore) CreateWork(_ context.Context, w *models.WorkAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w.ID = m.id()
	cp := *w
	m.work[w.ID] = &cp
	return nil
}

func (m *MemoryStore) WorkByID(_ context.Context, id int64) (models.WorkAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.work[id]
	if !ok {
		return models.WorkAssignment{}, apperr.NotFound("assignment not found")
	}
	return *w, nil
}

func (m *MemoryStore) WorkByHR(_ context.Context, hrEmail string) ([]models.WorkAssignment, error) {
	return m.workWhere(func(w *models.WorkAssignment) bool { return sameEmail(w.HREmail, hrEmail) }), nil
}

func (m *MemoryStore) WorkByEmployee(_ context.Context, email string) ([]models.WorkAssignment, error) {
	return m.workWhere(func(w *models.WorkAssignment) bool { return sameEmail(w.EmployeeEmail, email) }), nil
}

func (m *MemoryStore) UpdateWorkStatus(_ context.Context, id int64, status models.WorkStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.work[id]
	if !ok {
		return apperr.NotFound("assignment not found")
	}
	w.Status = status
	return nil
}

func (m *MemoryStore) workWhere(keep func(*models.WorkAssignment) bool) []models.WorkAssignment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.WorkAssignment, 0)
	for _, w := range m.work {
		if keep(w) {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}
