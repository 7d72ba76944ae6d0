package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/cab-dispatch/internal/apperr"
	"github.com/example/cab-dispatch/internal/models"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestIssueValidateRoundTrip(t *testing.T) {
	iss, err := NewIssuer(testSecret, 0)
	require.NoError(t, err)

	tok, exp, err := iss.Issue("hr@x.com", models.RoleHR)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	p, err := iss.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, Principal{Email: "hr@x.com", Role: models.RoleHR}, p)
}

func TestValidateRejectsExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	iss, err := NewIssuer(testSecret, time.Hour)
	require.NoError(t, err)
	iss.WithClock(func() time.Time { return now })

	tok, _, err := iss.Issue("d@x.com", models.RoleDriver)
	require.NoError(t, err)

	iss.WithClock(func() time.Time { return now.Add(61 * time.Minute) })
	_, err = iss.Validate(tok)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}

func TestValidateRejectsForeignSignature(t *testing.T) {
	iss, err := NewIssuer(testSecret, time.Hour)
	require.NoError(t, err)
	other, err := NewIssuer("ffffffffffffffffffffffffffffffff", time.Hour)
	require.NoError(t, err)

	tok, _, err := other.Issue("e@x.com", models.RoleEmployee)
	require.NoError(t, err)

	_, err = iss.Validate(tok)
	assert.Error(t, err)
}

func TestValidateRejectsNoneAlgorithm(t *testing.T) {
	iss, err := NewIssuer(testSecret, time.Hour)
	require.NoError(t, err)

	claims := Claims{Role: "admin", RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "x@x.com",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = iss.Validate(unsigned)
	assert.Error(t, err)
}

func TestValidateRejectsUnknownRole(t *testing.T) {
	iss, err := NewIssuer(testSecret, time.Hour)
	require.NoError(t, err)
	tok, _, err := iss.Issue("x@x.com", models.Role("manager"))
	require.NoError(t, err)

	_, err = iss.Validate(tok)
	assert.Error(t, err)
}

func TestNewIssuerShortSecret(t *testing.T) {
	_, err := NewIssuer("short", time.Hour)
	assert.Error(t, err)
}
