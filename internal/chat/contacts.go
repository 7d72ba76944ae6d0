package chat

import (
	"context"
	"strings"

	"github.com/example/cab-dispatch/internal/apperr"
	"github.com/example/cab-dispatch/internal/models"
	"github.com/example/cab-dispatch/internal/token"
)

// Contacts is who a principal may write to, grouped by role.
type Contacts struct {
	AllowedTargets []models.Role                    `json:"allowedTargets"`
	ContactsByRole map[models.Role][]models.Contact `json:"contactsByRole"`
}

func (s *Service) ContactsByRole(ctx context.Context, role string) ([]models.Contact, error) {
	if strings.TrimSpace(role) == "" {
		return nil, apperr.Invalid("role is required")
	}
	return s.Directory.ContactsByRole(ctx, role)
}

// ContactsFor applies the messaging rules: HR reach their own employees,
// drivers and other HR; employees reach their HR and peers under the same
// HR; drivers reach HR and other drivers; admins reach everyone.
func (s *Service) ContactsFor(ctx context.Context, p token.Principal) (Contacts, error) {
	out := Contacts{ContactsByRole: map[models.Role][]models.Contact{}}
	switch p.Role {
	case models.RoleHR:
		emps, err := s.Directory.EmployeesForHR(ctx, p.Email)
		if err != nil {
			return Contacts{}, err
		}
		drivers, err := s.Directory.DriversMerged(ctx)
		if err != nil {
			return Contacts{}, err
		}
		hrs, err := s.Directory.ContactsByRole(ctx, string(models.RoleHR))
		if err != nil {
			return Contacts{}, err
		}
		out.AllowedTargets = []models.Role{models.RoleEmployee, models.RoleDriver, models.RoleHR}
		out.ContactsByRole[models.RoleEmployee] = emps
		out.ContactsByRole[models.RoleDriver] = drivers
		out.ContactsByRole[models.RoleHR] = without(hrs, p.Email)

	case models.RoleEmployee:
		u, err := s.Store.UserByEmail(ctx, p.Email)
		if err != nil {
			return Contacts{}, err
		}
		hrs := []models.Contact{}
		peers := []models.Contact{}
		if u.HREmail != "" {
			all, err := s.Directory.ContactsByRole(ctx, string(models.RoleHR))
			if err != nil {
				return Contacts{}, err
			}
			for _, c := range all {
				if strings.EqualFold(c.Email, u.HREmail) {
					hrs = append(hrs, c)
				}
			}
			if len(hrs) == 0 {
				hrs = append(hrs, models.Contact{Email: u.HREmail, Username: u.HREmail, Role: models.RoleHR})
			}
			emps, err := s.Directory.EmployeesForHR(ctx, u.HREmail)
			if err != nil {
				return Contacts{}, err
			}
			peers = without(emps, p.Email)
		}
		out.AllowedTargets = []models.Role{models.RoleHR, models.RoleEmployee}
		out.ContactsByRole[models.RoleHR] = hrs
		out.ContactsByRole[models.RoleEmployee] = peers

	case models.RoleDriver:
		hrs, err := s.Directory.ContactsByRole(ctx, string(models.RoleHR))
		if err != nil {
			return Contacts{}, err
		}
		drivers, err := s.Directory.DriversMerged(ctx)
		if err != nil {
			return Contacts{}, err
		}
		out.AllowedTargets = []models.Role{models.RoleHR, models.RoleDriver}
		out.ContactsByRole[models.RoleHR] = hrs
		out.ContactsByRole[models.RoleDriver] = without(drivers, p.Email)

	case models.RoleAdmin:
		for _, r := range []models.Role{models.RoleHR, models.RoleEmployee} {
			cs, err := s.Directory.ContactsByRole(ctx, string(r))
			if err != nil {
				return Contacts{}, err
			}
			out.ContactsByRole[r] = cs
		}
		drivers, err := s.Directory.DriversMerged(ctx)
		if err != nil {
			return Contacts{}, err
		}
		out.ContactsByRole[models.RoleDriver] = drivers
		out.AllowedTargets = []models.Role{models.RoleHR, models.RoleEmployee, models.RoleDriver}

	default:
		return Contacts{}, apperr.Forbidden("unknown role")
	}
	return out, nil
}

func without(cs []models.Contact, email string) []models.Contact {
	out := make([]models.Contact, 0, len(cs))
	for _, c := range cs {
		if !strings.EqualFold(c.Email, email) {
			out = append(out, c)
		}
	}
	return out
}
