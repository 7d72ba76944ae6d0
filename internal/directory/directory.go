// Package directory serves contact lists partitioned by role. Results are
// cached per collection and the whole cache is dropped whenever users or
// drivers change.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/example/cab-dispatch/internal/models"
	"github.com/example/cab-dispatch/internal/observability"
)

// Source is the slice of the store the directory reads from.
type Source interface {
	UsersByRole(ctx context.Context, role models.Role) ([]models.User, error)
	EmployeesByHR(ctx context.Context, hrEmail string) ([]models.User, error)
	Drivers(ctx context.Context) ([]models.Driver, error)
}

// Cache holds computed collections by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]models.Contact, bool, error)
	Set(ctx context.Context, key string, contacts []models.Contact) error
	Clear(ctx context.Context) error
}

type Directory struct {
	src    Source
	cache  Cache
	logger *slog.Logger

	mu  sync.Mutex
	gen uint64
}

func New(src Source, cache Cache, logger *slog.Logger) *Directory {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{src: src, cache: cache, logger: logger}
}

// ContactsByRole returns users of role ordered by username. Blank or unknown
// roles yield an empty list.
func (d *Directory) ContactsByRole(ctx context.Context, role string) ([]models.Contact, error) {
	r, ok := models.ParseRole(role)
	if !ok {
		return []models.Contact{}, nil
	}
	return d.cached(ctx, "role:"+string(r), func() ([]models.Contact, error) {
		us, err := d.src.UsersByRole(ctx, r)
		if err != nil {
			return nil, fmt.Errorf("users by role: %w", err)
		}
		return contacts(us), nil
	})
}

func (d *Directory) EmployeesForHR(ctx context.Context, hrEmail string) ([]models.Contact, error) {
	hr := models.NormalizeEmail(hrEmail)
	if hr == "" {
		return []models.Contact{}, nil
	}
	return d.cached(ctx, "hr:"+hr, func() ([]models.Contact, error) {
		us, err := d.src.EmployeesByHR(ctx, hr)
		if err != nil {
			return nil, fmt.Errorf("employees by hr: %w", err)
		}
		return contacts(us), nil
	})
}

// DriversMerged lists driver users first, then driver records with no user
// account. The first entry seen for an email wins.
func (d *Directory) DriversMerged(ctx context.Context) ([]models.Contact, error) {
	return d.cached(ctx, "drivers:merged", func() ([]models.Contact, error) {
		us, err := d.src.UsersByRole(ctx, models.RoleDriver)
		if err != nil {
			return nil, fmt.Errorf("driver users: %w", err)
		}
		ds, err := d.src.Drivers(ctx)
		if err != nil {
			return nil, fmt.Errorf("drivers: %w", err)
		}
		seen := make(map[string]struct{}, len(us)+len(ds))
		out := make([]models.Contact, 0, len(us)+len(ds))
		add := func(c models.Contact) {
			k := strings.ToLower(c.Email)
			if _, dup := seen[k]; dup {
				return
			}
			seen[k] = struct{}{}
			out = append(out, c)
		}
		for _, u := range us {
			add(u.Contact())
		}
		for _, dr := range ds {
			add(models.Contact{Email: dr.Email, Username: dr.Name, Role: models.RoleDriver})
		}
		return out, nil
	})
}

// Invalidate drops every cached collection. Computations already in flight
// will not write their results back.
func (d *Directory) Invalidate(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	if err := d.cache.Clear(ctx); err != nil {
		d.logger.Warn("directory cache clear failed", "err", err)
	}
}

func (d *Directory) cached(ctx context.Context, key string, load func() ([]models.Contact, error)) ([]models.Contact, error) {
	d.mu.Lock()
	gen := d.gen
	d.mu.Unlock()

	if v, ok, err := d.cache.Get(ctx, key); err != nil {
		d.logger.Warn("directory cache read failed", "key", key, "err", err)
	} else if ok {
		observability.DirectoryLookups.WithLabelValues("hit").Inc()
		return v, nil
	}
	observability.DirectoryLookups.WithLabelValues("miss").Inc()

	v, err := load()
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	if d.gen == gen {
		if err := d.cache.Set(ctx, key, v); err != nil {
			d.logger.Warn("directory cache write failed", "key", key, "err", err)
		}
	}
	d.mu.Unlock()
	return v, nil
}

func contacts(us []models.User) []models.Contact {
	out := make([]models.Contact, 0, len(us))
	for _, u := range us {
		out = append(out, u.Contact())
	}
	return out
}
