package httpapi

import (
	"net/http"

	"github.com/example/cab-dispatch/internal/booking"
	"github.com/example/cab-dispatch/internal/work"
)

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	var req booking.Request
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.deps.Bookings.Book(r.Context(), p.Email, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleHRBookings(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	bs, err := s.deps.Bookings.HRBookings(r.Context(), p.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(bs))
}

func (s *Server) handleAssignWork(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	var req work.AssignRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.deps.Work.Assign(r.Context(), p.Email, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleHRAssignments(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	ws, err := s.deps.Work.ForHR(r.Context(), p.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(ws))
}

func (s *Server) handleHREmployees(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	cs, err := s.deps.Work.Employees(r.Context(), p.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(cs))
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	ns, err := s.deps.Notifications.NotificationsByHR(r.Context(), p.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(ns))
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	n, err := s.deps.Notifications.UnreadNotifications(r.Context(), p.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": n})
}

func (s *Server) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// another HR's notification looks the same as a missing one
	if err := s.deps.Notifications.MarkNotificationRead(r.Context(), id, p.Email); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
