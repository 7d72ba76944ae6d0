package httpapi

import (
	"net/http"
	"strconv"

	"github.com/example/cab-dispatch/internal/apperr"
	"github.com/example/cab-dispatch/internal/models"
)

func (s *Server) handleDriverTrips(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	bs, err := s.deps.Bookings.DriverTrips(r.Context(), p.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(bs))
}

func (s *Server) handleAssignedTrips(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	bs, err := s.deps.Bookings.AssignedTrips(r.Context(), p.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(bs))
}

func (s *Server) handleRideRequests(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	bs, err := s.deps.Bookings.RideRequests(r.Context(), p.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(bs))
}

func (s *Server) handleAcceptTrip(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	id, err := pathID(r, "bookingId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.deps.Bookings.AcceptTrip(r.Context(), id, p.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleCompleteTrip(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	id, err := pathID(r, "bookingId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.deps.Bookings.CompleteTripAs(r.Context(), id, p.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleDriverProfile(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	d, err := s.deps.Bookings.Driver(r.Context(), p.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	available, err := strconv.ParseBool(r.URL.Query().Get("available"))
	if err != nil {
		s.writeError(w, r, apperr.Invalid("available must be true or false"))
		return
	}
	d, err := s.deps.Bookings.SetAvailability(r.Context(), p.Email, available)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleAddDriver(w http.ResponseWriter, r *http.Request) {
	var d models.Driver
	if err := decodeJSON(r, &d); err != nil {
		s.writeError(w, r, err)
		return
	}
	created, err := s.deps.Bookings.AddDriver(r.Context(), d)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleViewDrivers(w http.ResponseWriter, r *http.Request) {
	ds, err := s.deps.Bookings.Drivers(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(ds))
}

func (s *Server) handleAllBookings(w http.ResponseWriter, r *http.Request) {
	bs, err := s.deps.Bookings.AllBookings(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(bs))
}

func (s *Server) handleEmployeeWork(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	ws, err := s.deps.Work.ForEmployee(r.Context(), p.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(ws))
}

func (s *Server) handleEmployeeBookings(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	bs, err := s.deps.Bookings.EmployeeBookings(r.Context(), p.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(bs))
}

func (s *Server) handleCompleteWork(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	id, err := queryID(r, "assignmentId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.deps.Work.Complete(r.Context(), id, p.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
