package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/cab-dispatch/internal/auth"
	"github.com/example/cab-dispatch/internal/booking"
	"github.com/example/cab-dispatch/internal/chat"
	"github.com/example/cab-dispatch/internal/live"
	"github.com/example/cab-dispatch/internal/models"
	"github.com/example/cab-dispatch/internal/storage"
	"github.com/example/cab-dispatch/internal/token"
	"github.com/example/cab-dispatch/internal/work"
)

// TokenValidator turns a bearer token into a principal.
type TokenValidator interface {
	Validate(tok string) (token.Principal, error)
}

// Deps is everything the API needs; all fields are required except Live.
type Deps struct {
	Auth          *auth.Service
	Bookings      *booking.Engine
	Chat          *chat.Service
	Work          *work.Service
	Notifications storage.NotificationStore
	Tokens        TokenValidator
	Live          *live.Hub
}

type Server struct {
	deps         Deps
	logger       *slog.Logger
	mux          *mux.Router
	handler      http.Handler
	upgrader     *websocket.Upgrader
	pingInterval time.Duration
}

func NewServer(deps Deps, corsOrigins []string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		deps:         deps,
		logger:       logger,
		mux:          mux.NewRouter(),
		upgrader:     live.NewUpgrader(corsOrigins),
		pingInterval: wsPingInterval,
	}
	s.registerMiddleware()
	s.routes()
	s.handler = cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	})(s.mux)
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws", s.handleWS)

	a := s.mux.PathPrefix("/api/auth").Subrouter()
	a.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	a.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	a.HandleFunc("/verify-2fa", s.handleVerify2FA).Methods(http.MethodPost)

	hr := s.protected("/api/hr", models.RoleHR)
	hr.HandleFunc("/book", s.handleBook).Methods(http.MethodPost)
	hr.HandleFunc("/mybookings", s.handleHRBookings).Methods(http.MethodGet)
	hr.HandleFunc("/assign-work", s.handleAssignWork).Methods(http.MethodPost)
	hr.HandleFunc("/my-assignments", s.handleHRAssignments).Methods(http.MethodGet)
	hr.HandleFunc("/my-employees", s.handleHREmployees).Methods(http.MethodGet)
	hr.HandleFunc("/notifications", s.handleNotifications).Methods(http.MethodGet)
	hr.HandleFunc("/notifications/unread-count", s.handleUnreadCount).Methods(http.MethodGet)
	hr.HandleFunc("/notifications/{id:[0-9]+}/read", s.handleMarkNotificationRead).Methods(http.MethodPut)

	d := s.protected("/api/driver", models.RoleDriver)
	d.HandleFunc("/mytrips", s.handleDriverTrips).Methods(http.MethodGet)
	d.HandleFunc("/assigned-trips", s.handleAssignedTrips).Methods(http.MethodGet)
	d.HandleFunc("/ride-requests", s.handleRideRequests).Methods(http.MethodGet)
	d.HandleFunc("/accept-trip/{bookingId:[0-9]+}", s.handleAcceptTrip).Methods(http.MethodPut)
	d.HandleFunc("/complete-trip/{bookingId:[0-9]+}", s.handleCompleteTrip).Methods(http.MethodPut)
	d.HandleFunc("/profile", s.handleDriverProfile).Methods(http.MethodGet)
	d.HandleFunc("/availability", s.handleAvailability).Methods(http.MethodPut)

	e := s.protected("/api/employee", models.RoleEmployee)
	e.HandleFunc("/my-work", s.handleEmployeeWork).Methods(http.MethodGet)
	e.HandleFunc("/my-bookings", s.handleEmployeeBookings).Methods(http.MethodGet)
	e.HandleFunc("/complete-work", s.handleCompleteWork).Methods(http.MethodPut)

	c := s.protected("/api/chat")
	c.HandleFunc("/messages", s.handleSendMessage).Methods(http.MethodPost)
	c.HandleFunc("/inbox", s.handleInbox).Methods(http.MethodGet)
	c.HandleFunc("/conversation", s.handleConversation).Methods(http.MethodGet)
	c.HandleFunc("/messages/{id:[0-9]+}/read", s.handleMarkMessageRead).Methods(http.MethodPut)
	c.HandleFunc("/contacts", s.handleContacts).Methods(http.MethodGet)
	c.HandleFunc("/contacts-for-me", s.handleContactsForMe).Methods(http.MethodGet)
	c.HandleFunc("/trip/{tripId:[0-9]+}/messages", s.handleTripMessages).Methods(http.MethodGet)
	c.HandleFunc("/trip/{tripId:[0-9]+}/send", s.handleTripSend).Methods(http.MethodPost)
	c.HandleFunc("/trip/{tripId:[0-9]+}/message/{messageId:[0-9]+}/read", s.handleTripMessageRead).Methods(http.MethodPut)

	ad := s.protected("/api/admin", models.RoleAdmin)
	ad.HandleFunc("/add-driver", s.handleAddDriver).Methods(http.MethodPost)
	ad.HandleFunc("/view-drivers", s.handleViewDrivers).Methods(http.MethodGet)
	ad.HandleFunc("/bookings", s.handleAllBookings).Methods(http.MethodGet)
}

// protected mounts a subrouter that requires a valid bearer token and, if
// roles are given, one of those roles.
func (s *Server) protected(prefix string, roles ...models.Role) *mux.Router {
	sr := s.mux.PathPrefix(prefix).Subrouter()
	sr.Use(s.authMiddleware)
	if len(roles) > 0 {
		sr.Use(requireRole(roles...))
	}
	return sr
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.handler.ServeHTTP(w, r) }
