// Package auth registers users and logs them in, optionally behind an
// emailed verification code.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/example/cab-dispatch/internal/apperr"
	"github.com/example/cab-dispatch/internal/models"
	"github.com/example/cab-dispatch/internal/storage"
	"github.com/example/cab-dispatch/internal/token"
	"github.com/example/cab-dispatch/internal/verification"
)

type Store interface {
	storage.UserStore
	storage.DriverStore
}

type Challenges interface {
	Start(ctx context.Context, email string, role models.Role) (verification.Challenge, error)
	Verify(ctx context.Context, id, code string) (verification.Identity, error)
}

type Tokens interface {
	Issue(email string, role models.Role) (string, time.Time, error)
}

type Invalidator interface {
	Invalidate(ctx context.Context)
}

type Service struct {
	Store      Store
	Challenges Challenges
	Tokens     Tokens
	Directory  Invalidator // optional
	TwoFactor  bool
	HashCost   int
	Logger     *slog.Logger
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
	HREmail  string `json:"hrEmail"`
	CabType  string `json:"cabType"`
}

// LoginResult is either a session (Token set) or a pending challenge.
type LoginResult struct {
	TwoFactorRequired bool
	VerificationID    string
	ExpiresAt         time.Time
	Token             string
	Role              models.Role
}

var errBadCredentials = apperr.Unauthorized("invalid email or password")

func (s *Service) Register(ctx context.Context, req RegisterRequest) (models.User, error) {
	email := models.NormalizeEmail(req.Email)
	if email == "" {
		return models.User{}, apperr.Invalid("email is required")
	}
	role, ok := models.ParseRole(req.Role)
	if !ok {
		return models.User{}, apperr.Invalid("unknown role")
	}
	if req.Password == "" {
		return models.User{}, apperr.Invalid("password is required")
	}
	cost := s.HashCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return models.User{}, apperr.Invalid("password is too long")
		}
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}
	name := strings.TrimSpace(req.Username)
	if name == "" {
		name = email
	}
	u := models.User{
		Username:     name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
	}
	if role == models.RoleEmployee {
		u.HREmail = models.NormalizeEmail(req.HREmail)
	}
	if role == models.RoleDriver {
		cab := strings.TrimSpace(req.CabType)
		if cab == "" {
			cab = models.DefaultCabType
		}
		d := models.Driver{Name: name, Email: email, CabType: cab, Available: true}
		if err := s.Store.CreateDriverUser(ctx, &u, &d); err != nil {
			return models.User{}, err
		}
	} else if err := s.Store.CreateUser(ctx, &u); err != nil {
		return models.User{}, err
	}
	if s.Directory != nil {
		s.Directory.Invalidate(ctx)
	}
	s.logger().Info("user registered", "email", email, "role", role)
	return u, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	u, err := s.Store.UserByEmail(ctx, email)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return LoginResult{}, errBadCredentials
		}
		return LoginResult{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return LoginResult{}, errBadCredentials
	}
	if s.TwoFactor {
		ch, err := s.Challenges.Start(ctx, u.Email, u.Role)
		if err != nil {
			return LoginResult{}, err
		}
		return LoginResult{TwoFactorRequired: true, VerificationID: ch.ID, ExpiresAt: ch.ExpiresAt, Role: u.Role}, nil
	}
	return s.session(u.Email, u.Role)
}

func (s *Service) VerifyTwoFactor(ctx context.Context, verificationID, code string) (LoginResult, error) {
	id, err := s.Challenges.Verify(ctx, verificationID, code)
	if err != nil {
		return LoginResult{}, err
	}
	return s.session(id.Email, id.Role)
}

func (s *Service) session(email string, role models.Role) (LoginResult, error) {
	tok, exp, err := s.Tokens.Issue(email, role)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue token: %w", err)
	}
	return LoginResult{Token: tok, ExpiresAt: exp, Role: role}, nil
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

var _ Tokens = (*token.Issuer)(nil)
