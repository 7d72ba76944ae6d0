// Package work lets HR hand out tasks to employees and track completion.
package work

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/example/cab-dispatch/internal/apperr"
	"github.com/example/cab-dispatch/internal/models"
	"github.com/example/cab-dispatch/internal/storage"
)

type Store interface {
	storage.WorkStore
	storage.UserStore
	storage.NotificationStore
	BookingsByHR(ctx context.Context, hrEmail string) ([]models.Booking, error)
}

type Service struct {
	Store  Store
	Logger *slog.Logger
	Now    func() time.Time
}

type AssignRequest struct {
	EmployeeEmail string `json:"employeeEmail"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	Status        string `json:"status"`
}

func (s *Service) Assign(ctx context.Context, hrEmail string, req AssignRequest) (models.WorkAssignment, error) {
	emp := models.NormalizeEmail(req.EmployeeEmail)
	title := strings.TrimSpace(req.Title)
	if emp == "" {
		return models.WorkAssignment{}, apperr.Invalid("employeeEmail is required")
	}
	if title == "" {
		return models.WorkAssignment{}, apperr.Invalid("title is required")
	}
	status := models.WorkAssigned
	if st := strings.ToUpper(strings.TrimSpace(req.Status)); st != "" {
		switch models.WorkStatus(st) {
		case models.WorkAssigned, models.WorkInProgress, models.WorkDone:
			status = models.WorkStatus(st)
		default:
			return models.WorkAssignment{}, apperr.Invalid("unknown status")
		}
	}
	w := models.WorkAssignment{
		HREmail:       models.NormalizeEmail(hrEmail),
		EmployeeEmail: emp,
		Title:         title,
		Description:   strings.TrimSpace(req.Description),
		Status:        status,
		AssignedDate:  s.now().Format("2006-01-02"),
	}
	if err := s.Store.CreateWork(ctx, &w); err != nil {
		return models.WorkAssignment{}, fmt.Errorf("create work: %w", err)
	}
	return w, nil
}

func (s *Service) ForHR(ctx context.Context, hrEmail string) ([]models.WorkAssignment, error) {
	return s.Store.WorkByHR(ctx, hrEmail)
}

func (s *Service) ForEmployee(ctx context.Context, employeeEmail string) ([]models.WorkAssignment, error) {
	return s.Store.WorkByEmployee(ctx, employeeEmail)
}

// Complete marks the assignment done and tells the assigning HR.
func (s *Service) Complete(ctx context.Context, id int64, employeeEmail string) (models.WorkAssignment, error) {
	w, err := s.Store.WorkByID(ctx, id)
	if err != nil {
		return models.WorkAssignment{}, err
	}
	if !strings.EqualFold(w.EmployeeEmail, employeeEmail) {
		return models.WorkAssignment{}, apperr.Forbidden("assignment belongs to another employee")
	}
	if err := s.Store.UpdateWorkStatus(ctx, id, models.WorkDone); err != nil {
		return models.WorkAssignment{}, err
	}
	w.Status = models.WorkDone
	if w.HREmail != "" {
		n := models.Notification{
			HREmail:   w.HREmail,
			Message:   fmt.Sprintf("Employee %s completed work: %s", w.EmployeeEmail, w.Title),
			CreatedAt: s.now().UTC(),
		}
		if err := s.Store.CreateNotification(ctx, &n); err != nil {
			s.logger().Warn("record hr notification", "hr", w.HREmail, "err", err)
		}
	}
	return w, nil
}

// Employees is everyone the HR can act on: registered reports plus anyone
// they have assigned work to or booked a cab for.
func (s *Service) Employees(ctx context.Context, hrEmail string) ([]models.Contact, error) {
	byEmail := map[string]models.Contact{}
	reg, err := s.Store.EmployeesByHR(ctx, hrEmail)
	if err != nil {
		return nil, err
	}
	for _, u := range reg {
		byEmail[strings.ToLower(u.Email)] = u.Contact()
	}

	extra := []string{}
	ws, err := s.Store.WorkByHR(ctx, hrEmail)
	if err != nil {
		return nil, err
	}
	for _, w := range ws {
		extra = append(extra, w.EmployeeEmail)
	}
	bs, err := s.Store.BookingsByHR(ctx, hrEmail)
	if err != nil {
		return nil, err
	}
	for _, b := range bs {
		extra = append(extra, b.EmployeeEmail)
	}
	for _, e := range extra {
		k := strings.ToLower(strings.TrimSpace(e))
		if k == "" {
			continue
		}
		if _, ok := byEmail[k]; ok {
			continue
		}
		c := models.Contact{Email: k, Username: k, Role: models.RoleEmployee}
		if u, err := s.Store.UserByEmail(ctx, k); err == nil {
			c = u.Contact()
		}
		byEmail[k] = c
	}

	out := make([]models.Contact, 0, len(byEmail))
	for _, c := range byEmail {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := strings.ToLower(out[i].Username), strings.ToLower(out[j].Username)
		if a != b {
			return a < b
		}
		return strings.ToLower(out[i].Email) < strings.ToLower(out[j].Email)
	})
	return out, nil
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
