package models

import (
	"strings"
	"time"
)

type Role string

const (
	RoleHR       Role = "hr"
	RoleEmployee Role = "employee"
	RoleDriver   Role = "driver"
	RoleAdmin    Role = "admin"
)

// ParseRole decodes a free-text role case-insensitively.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleHR:
		return RoleHR, true
	case RoleEmployee:
		return RoleEmployee, true
	case RoleDriver:
		return RoleDriver, true
	case RoleAdmin:
		return RoleAdmin, true
	}
	return "", false
}

func (r Role) String() string { return string(r) }

// NormalizeEmail is the canonical form emails are stored and compared in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	Role         Role   `json:"role"`
	HREmail      string `json:"hrEmail,omitempty"`
}

type Driver struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	CabType   string `json:"cabType"`
	Available bool   `json:"available"`
}

const DefaultCabType = "Cab"

type BookingStatus string

const (
	BookingRequested BookingStatus = "REQUESTED"
	BookingAssigned  BookingStatus = "ASSIGNED"
	BookingCompleted BookingStatus = "COMPLETED"
)

type Booking struct {
	ID            int64         `json:"id"`
	HREmail       string        `json:"hrEmail"`
	EmployeeEmail string        `json:"employeeEmail"`
	Pickup        string        `json:"pickup"`
	Drop          string        `json:"drop,omitempty"`
	PickupTime    string        `json:"pickupTime"`
	CabType       string        `json:"cabType"`
	Status        BookingStatus `json:"status"`
	DriverEmail   string        `json:"driverEmail,omitempty"`
	BookingDate   string        `json:"bookingDate"` // yyyy-mm-dd
}

type Notification struct {
	ID        int64     `json:"id"`
	HREmail   string    `json:"hrEmail"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
	Read      bool      `json:"readFlag"`
}

// Chat message types written by the system rather than a person.
const (
	MessageCabRequested  = "CAB_REQUESTED"
	MessageCabAssigned   = "CAB_ASSIGNED"
	MessageTripDirection = "TRIP_DIRECTION"
)

type ChatMessage struct {
	ID            int64     `json:"id"`
	SenderEmail   string    `json:"senderEmail"`
	SenderRole    string    `json:"senderRole,omitempty"`
	ReceiverEmail string    `json:"receiverEmail,omitempty"`
	ReceiverRole  string    `json:"receiverRole,omitempty"`
	Subject       string    `json:"subject,omitempty"`
	Content       string    `json:"content"`
	MessageType   string    `json:"messageType,omitempty"`
	TripID        int64     `json:"tripId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	Read          bool      `json:"readFlag"`
}

type WorkStatus string

const (
	WorkAssigned   WorkStatus = "ASSIGNED"
	WorkInProgress WorkStatus = "IN_PROGRESS"
	WorkDone       WorkStatus = "DONE"
)

type WorkAssignment struct {
	ID            int64      `json:"id"`
	HREmail       string     `json:"hrEmail"`
	EmployeeEmail string     `json:"employeeEmail"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Status        WorkStatus `json:"status"`
	AssignedDate  string     `json:"assignedDate"`
}

// Contact is the public view of a user used by the directory and chat.
type Contact struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

func (u User) Contact() Contact {
	return Contact{Email: u.Email, Username: u.Username, Role: u.Role}
}
