package work

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/cab-dispatch/internal/apperr"
	"github.com/example/cab-dispatch/internal/logging"
	"github.com/example/cab-dispatch/internal/models"
	"github.com/example/cab-dispatch/internal/storage"
)

func newService() (*Service, *storage.MemoryStore) {
	st := storage.NewMemoryStore()
	return &Service{
		Store:  st,
		Logger: logging.Discard(),
		Now:    func() time.Time { return time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC) },
	}, st
}

func TestAssignAndComplete(t *testing.T) {
	s, st := newService()
	ctx := context.Background()

	_, err := s.Assign(ctx, "hr@x.com", AssignRequest{Title: "x"})
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
	_, err = s.Assign(ctx, "hr@x.com", AssignRequest{EmployeeEmail: "e@x.com"})
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))

	w, err := s.Assign(ctx, "hr@x.com", AssignRequest{EmployeeEmail: "E@x.com", Title: "Quarterly report"})
	require.NoError(t, err)
	assert.Equal(t, models.WorkAssigned, w.Status)
	assert.Equal(t, "2026-02-03", w.AssignedDate)
	assert.Equal(t, "e@x.com", w.EmployeeEmail)

	_, err = s.Complete(ctx, w.ID, "f@x.com")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	_, err = s.Complete(ctx, 999, "e@x.com")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	done, err := s.Complete(ctx, w.ID, "e@x.com")
	require.NoError(t, err)
	assert.Equal(t, models.WorkDone, done.Status)

	mine, err := s.ForEmployee(ctx, "e@x.com")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, models.WorkDone, mine[0].Status)

	notes, err := st.NotificationsByHR(ctx, "hr@x.com")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "Employee e@x.com completed work: Quarterly report", notes[0].Message)
}

func TestEmployeesUnion(t *testing.T) {
	s, st := newService()
	ctx := context.Background()
	require.NoError(t, st.CreateUser(ctx, &models.User{Username: "Zoe", Email: "z@x.com", Role: models.RoleEmployee, HREmail: "hr@x.com"}))
	require.NoError(t, st.CreateUser(ctx, &models.User{Username: "adam", Email: "a@x.com", Role: models.RoleEmployee}))

	_, err := s.Assign(ctx, "hr@x.com", AssignRequest{EmployeeEmail: "a@x.com", Title: "t"})
	require.NoError(t, err)
	require.NoError(t, st.CreateBooking(ctx, &models.Booking{HREmail: "hr@x.com", EmployeeEmail: "guest@x.com", Status: models.BookingRequested}))
	_, err = s.Assign(ctx, "other@x.com", AssignRequest{EmployeeEmail: "nope@x.com", Title: "t"})
	require.NoError(t, err)

	got, err := s.Employees(ctx, "hr@x.com")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "adam", got[0].Username)
	assert.Equal(t, "guest@x.com", got[1].Email)
	assert.Equal(t, "Zoe", got[2].Username)
}
