package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/example/cab-dispatch/internal/apperr"
	"github.com/example/cab-dispatch/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyRequest struct {
	VerificationID string `json:"verificationId"`
	Code           string `json:"code"`
}

type sessionResponse struct {
	Token string `json:"token"`
	Role  string `json:"role"`
}

type challengeResponse struct {
	TwoFactorRequired bool   `json:"twoFactorRequired"`
	VerificationID    string `json:"verificationId"`
	ExpiresAtEpochMs  int64  `json:"expiresAtEpochMs"`
	Message           string `json:"message"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.deps.Auth.Register(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.deps.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if res.TwoFactorRequired {
		writeJSON(w, http.StatusAccepted, challengeResponse{
			TwoFactorRequired: true,
			VerificationID:    res.VerificationID,
			ExpiresAtEpochMs:  res.ExpiresAt.UnixMilli(),
			Message:           "verification code sent to your email",
		})
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Token: res.Token, Role: res.Role.String()})
}

func (s *Server) handleVerify2FA(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.deps.Auth.VerifyTwoFactor(r.Context(), req.VerificationID, req.Code)
	if err != nil {
		// an unknown or already redeemed challenge is a failed login, not a missing resource
		if apperr.Is(err, apperr.KindNotFound) {
			err = apperr.Wrap(apperr.KindUnauthorized, "invalid or expired verification", err)
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Token: res.Token, Role: res.Role.String()})
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Invalid("invalid " + name)
	}
	return id, nil
}

func queryID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Invalid(name + " is required")
	}
	return id, nil
}
