// Package chat stores person-to-person, role-addressed and trip messages and
// pushes them to live connections.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/cab-dispatch/internal/apperr"
	"github.com/example/cab-dispatch/internal/live"
	"github.com/example/cab-dispatch/internal/models"
	"github.com/example/cab-dispatch/internal/storage"
	"github.com/example/cab-dispatch/internal/token"
)

const (
	inboxLimit        = 50
	conversationLimit = 200
)

type Store interface {
	storage.MessageStore
	UserByEmail(ctx context.Context, email string) (models.User, error)
}

type Directory interface {
	ContactsByRole(ctx context.Context, role string) ([]models.Contact, error)
	EmployeesForHR(ctx context.Context, hrEmail string) ([]models.Contact, error)
	DriversMerged(ctx context.Context) ([]models.Contact, error)
}

// Pusher is the live hub as seen by chat.
type Pusher interface {
	Publish(topic string, v any) error
}

type Service struct {
	Store     Store
	Directory Directory
	Live      Pusher // optional
	Logger    *slog.Logger
	Now       func() time.Time
}

type SendRequest struct {
	ReceiverEmail string `json:"receiverEmail"`
	ReceiverRole  string `json:"receiverRole"`
	Subject       string `json:"subject"`
	Content       string `json:"content"`
	MessageType   string `json:"messageType"`
}

func (s *Service) Send(ctx context.Context, p token.Principal, req SendRequest) (models.ChatMessage, error) {
	msg, err := build(p, req)
	if err != nil {
		return models.ChatMessage{}, err
	}
	if err := s.save(ctx, &msg); err != nil {
		return models.ChatMessage{}, err
	}
	return msg, nil
}

// Deliver stores and pushes a message composed by the system, e.g. a
// booking update for an employee.
func (s *Service) Deliver(ctx context.Context, msg models.ChatMessage) error {
	return s.save(ctx, &msg)
}

// Inbox is what p has received, directly or through their role, newest
// first.
func (s *Service) Inbox(ctx context.Context, p token.Principal) ([]models.ChatMessage, error) {
	return s.Store.Inbox(ctx, p.Email, string(p.Role), inboxLimit)
}

func (s *Service) Conversation(ctx context.Context, p token.Principal, withEmail string) ([]models.ChatMessage, error) {
	other := models.NormalizeEmail(withEmail)
	if other == "" {
		return nil, apperr.Invalid("withEmail is required")
	}
	return s.Store.Conversation(ctx, p.Email, other, conversationLimit)
}

func (s *Service) MarkRead(ctx context.Context, p token.Principal, id int64) error {
	msg, err := s.Store.MessageByID(ctx, id)
	if err != nil {
		return err
	}
	if !addressedTo(msg, p) {
		return apperr.Forbidden("message is addressed to someone else")
	}
	return s.Store.MarkMessageRead(ctx, id)
}

// TripMessages lists the trip thread as seen by p: only messages p sent or
// received.
func (s *Service) TripMessages(ctx context.Context, p token.Principal, tripID int64) ([]models.ChatMessage, error) {
	all, err := s.Store.TripMessages(ctx, tripID)
	if err != nil {
		return nil, err
	}
	out := make([]models.ChatMessage, 0, len(all))
	for _, m := range all {
		if strings.EqualFold(m.SenderEmail, p.Email) || strings.EqualFold(m.ReceiverEmail, p.Email) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Service) SendTrip(ctx context.Context, p token.Principal, tripID int64, req SendRequest) (models.ChatMessage, error) {
	if tripID <= 0 {
		return models.ChatMessage{}, apperr.Invalid("trip id is required")
	}
	msg, err := build(p, req)
	if err != nil {
		return models.ChatMessage{}, err
	}
	msg.TripID = tripID
	msg.MessageType = models.MessageTripDirection
	if err := s.save(ctx, &msg); err != nil {
		return models.ChatMessage{}, err
	}
	s.push(live.TripTopic(tripID), msg)
	return msg, nil
}

func (s *Service) MarkTripMessageRead(ctx context.Context, p token.Principal, tripID, messageID int64) error {
	msg, err := s.Store.MessageByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.TripID != tripID {
		return apperr.Forbidden("message does not belong to this trip")
	}
	if !addressedTo(msg, p) {
		return apperr.Forbidden("message is addressed to someone else")
	}
	return s.Store.MarkMessageRead(ctx, messageID)
}

func (s *Service) save(ctx context.Context, msg *models.ChatMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now().UTC()
	}
	msg.Read = false
	if err := s.Store.CreateMessage(ctx, msg); err != nil {
		return fmt.Errorf("store message: %w", err)
	}
	if msg.ReceiverEmail != "" {
		s.push(live.InboxTopic(msg.ReceiverEmail), *msg)
	} else if msg.ReceiverRole != "" {
		s.push(live.RoleTopic(msg.ReceiverRole), *msg)
	}
	return nil
}

func (s *Service) push(topic string, msg models.ChatMessage) {
	if s.Live == nil {
		return
	}
	if err := s.Live.Publish(topic, msg); err != nil && !errors.Is(err, live.ErrNoSession) {
		s.logger().Warn("live push failed", "topic", topic, "err", err)
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func build(p token.Principal, req SendRequest) (models.ChatMessage, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return models.ChatMessage{}, apperr.Invalid("content is required")
	}
	to := models.NormalizeEmail(req.ReceiverEmail)
	role := ""
	if strings.TrimSpace(req.ReceiverRole) != "" {
		r, ok := models.ParseRole(req.ReceiverRole)
		if !ok {
			return models.ChatMessage{}, apperr.Invalid("unknown receiverRole")
		}
		role = string(r)
	}
	if to == "" && role == "" {
		return models.ChatMessage{}, apperr.Invalid("receiverEmail or receiverRole is required")
	}
	return models.ChatMessage{
		SenderEmail:   p.Email,
		SenderRole:    string(p.Role),
		ReceiverEmail: to,
		ReceiverRole:  role,
		Subject:       strings.TrimSpace(req.Subject),
		Content:       content,
		MessageType:   strings.TrimSpace(req.MessageType),
	}, nil
}

func addressedTo(m models.ChatMessage, p token.Principal) bool {
	if m.ReceiverEmail != "" {
		return strings.EqualFold(m.ReceiverEmail, p.Email)
	}
	return m.ReceiverRole != "" && strings.EqualFold(m.ReceiverRole, string(p.Role))
}
