package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/cab-dispatch/internal/apperr"
	"github.com/example/cab-dispatch/internal/logging"
	"github.com/example/cab-dispatch/internal/models"
	"github.com/example/cab-dispatch/internal/storage"
	"github.com/example/cab-dispatch/internal/token"
	"github.com/example/cab-dispatch/internal/verification"
)

type codeBox struct {
	mu   sync.Mutex
	last string
}

func (c *codeBox) SendCode(_ context.Context, _, code string, _ time.Duration) error {
	c.mu.Lock()
	c.last = code
	c.mu.Unlock()
	return nil
}

type invalidations struct{ n int }

func (i *invalidations) Invalidate(context.Context) { i.n++ }

func newService(t *testing.T, twoFactor bool) (*Service, *storage.MemoryStore, *codeBox, *invalidations) {
	t.Helper()
	st := storage.NewMemoryStore()
	box := &codeBox{}
	iss, err := token.NewIssuer("0123456789abcdef0123456789abcdef", time.Hour)
	require.NoError(t, err)
	inv := &invalidations{}
	return &Service{
		Store:      st,
		Challenges: verification.NewStore(box, verification.WithHashCost(bcrypt.MinCost), verification.WithLogger(logging.Discard())),
		Tokens:     iss,
		Directory:  inv,
		TwoFactor:  twoFactor,
		HashCost:   bcrypt.MinCost,
		Logger:     logging.Discard(),
	}, st, box, inv
}

func TestRegisterValidation(t *testing.T) {
	s, _, _, _ := newService(t, false)
	ctx := context.Background()

	_, err := s.Register(ctx, RegisterRequest{Password: "p", Role: "hr"})
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
	_, err = s.Register(ctx, RegisterRequest{Email: "a@x.com", Password: "p", Role: "boss"})
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
	_, err = s.Register(ctx, RegisterRequest{Email: "a@x.com", Role: "hr"})
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
}

func TestRegisterDriverCreatesDriverRecord(t *testing.T) {
	s, st, _, inv := newService(t, false)
	u, err := s.Register(context.Background(), RegisterRequest{Username: "dee", Email: " Dee@X.com", Password: "pw", Role: "DRIVER"})
	require.NoError(t, err)
	assert.Equal(t, "dee@x.com", u.Email)
	assert.Equal(t, models.RoleDriver, u.Role)
	assert.Equal(t, 1, inv.n)

	d, err := st.DriverByEmail(context.Background(), "dee@x.com")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultCabType, d.CabType)
	assert.True(t, d.Available)

	_, err = s.Register(context.Background(), RegisterRequest{Email: "dee@x.com", Password: "pw", Role: "hr"})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, 1, inv.n)
}

type failingDriverStore struct {
	*storage.MemoryStore
}

func (failingDriverStore) CreateDriverUser(context.Context, *models.User, *models.Driver) error {
	return errors.New("connection reset")
}

func TestRegisterDriverFailureLeavesNoUser(t *testing.T) {
	s, st, _, inv := newService(t, false)
	s.Store = failingDriverStore{st}

	_, err := s.Register(context.Background(), RegisterRequest{Email: "d@x.com", Password: "pw", Role: "driver"})
	require.Error(t, err)
	assert.Equal(t, 0, inv.n)

	_, err = st.UserByEmail(context.Background(), "d@x.com")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	_, err = st.DriverByEmail(context.Background(), "d@x.com")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestRegisterDriverKeepsAdminRecord(t *testing.T) {
	s, st, _, _ := newService(t, false)
	ctx := context.Background()
	require.NoError(t, st.CreateDriver(ctx, &models.Driver{Name: "Dee", Email: "dee@x.com", CabType: "SUV"}))

	_, err := s.Register(ctx, RegisterRequest{Email: "dee@x.com", Password: "pw", Role: "driver", CabType: "Sedan"})
	require.NoError(t, err)

	d, err := st.DriverByEmail(ctx, "dee@x.com")
	require.NoError(t, err)
	assert.Equal(t, "SUV", d.CabType)
	assert.False(t, d.Available)
	drivers, err := st.Drivers(ctx)
	require.NoError(t, err)
	assert.Len(t, drivers, 1)
}

func TestLoginWithoutTwoFactor(t *testing.T) {
	s, _, _, _ := newService(t, false)
	ctx := context.Background()
	_, err := s.Register(ctx, RegisterRequest{Email: "hr@x.com", Password: "secret", Role: "hr"})
	require.NoError(t, err)

	res, err := s.Login(ctx, "HR@x.com", "secret")
	require.NoError(t, err)
	assert.False(t, res.TwoFactorRequired)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, models.RoleHR, res.Role)

	_, err = s.Login(ctx, "hr@x.com", "wrong")
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
	_, err2 := s.Login(ctx, "nobody@x.com", "secret")
	assert.Equal(t, apperr.Message(err, ""), apperr.Message(err2, ""))
}

func TestLoginWithTwoFactor(t *testing.T) {
	s, _, box, _ := newService(t, true)
	ctx := context.Background()
	_, err := s.Register(ctx, RegisterRequest{Email: "e@x.com", Password: "secret", Role: "employee", HREmail: "hr@x.com"})
	require.NoError(t, err)

	res, err := s.Login(ctx, "e@x.com", "secret")
	require.NoError(t, err)
	assert.True(t, res.TwoFactorRequired)
	assert.Empty(t, res.Token)
	require.NotEmpty(t, res.VerificationID)

	done, err := s.VerifyTwoFactor(ctx, res.VerificationID, box.last)
	require.NoError(t, err)
	assert.NotEmpty(t, done.Token)
	assert.Equal(t, models.RoleEmployee, done.Role)

	_, err = s.VerifyTwoFactor(ctx, res.VerificationID, box.last)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}
