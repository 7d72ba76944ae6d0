package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestLoadServerConfigDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("JWT_SECRET", secret)

	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 5*time.Minute, cfg.VerificationCodeTTL)
	assert.Equal(t, 5, cfg.VerificationMaxAttempts)
	assert.Equal(t, "manual", cfg.BookingPolicy)
	assert.Equal(t, "log", cfg.MailMode)
	assert.True(t, cfg.TwoFactorEnabled)
	assert.Empty(t, cfg.PGDSN)
}

func TestLoadServerConfigEnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("JWT_SECRET", secret)
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("BOOKING_POLICY", "AUTO")
	t.Setenv("TWO_FACTOR_ENABLED", "false")
	t.Setenv("VERIFICATION_MAX_ATTEMPTS", "3")
	t.Setenv("MAIL_MODE", "smtp")

	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "auto", cfg.BookingPolicy)
	assert.False(t, cfg.TwoFactorEnabled)
	assert.Equal(t, 3, cfg.VerificationMaxAttempts)
	assert.Equal(t, "smtp", cfg.MailMode)
}

func TestLoadServerConfigYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_addr: ":9090"
verification_code_ttl: 2m
booking_policy: auto
cors_allowed_origins:
  - https://app.example.com
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("JWT_SECRET", secret)
	t.Setenv("HTTP_ADDR", ":7070")

	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.HTTPAddr)
	assert.Equal(t, 2*time.Minute, cfg.VerificationCodeTTL)
	assert.Equal(t, "auto", cfg.BookingPolicy)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.CORSAllowedOrigins)
}

func TestLoadServerConfigDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("JWT_SECRET="+secret+"\nLOG_LEVEL=DEBUG\n"), 0o600))
	// make sure values loaded by godotenv do not leak into other tests
	t.Setenv("JWT_SECRET", "")
	t.Setenv("LOG_LEVEL", "")
	os.Unsetenv("JWT_SECRET")
	os.Unsetenv("LOG_LEVEL")

	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadServerConfigErrors(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("JWT_SECRET", "short")
	t.Setenv("HTTP_READ_TIMEOUT", "soon")
	t.Setenv("MAIL_MODE", "pigeon")
	t.Setenv("BOOKING_POLICY", "lottery")
	t.Setenv("VERIFICATION_MAX_ATTEMPTS", "0")
	t.Setenv("PG_DSN", "postgres://<user>:<pass>@db/app")

	_, err := LoadServerConfig()
	require.Error(t, err)
	for _, want := range []string{"JWT_SECRET", "HTTP_READ_TIMEOUT", "MAIL_MODE", "BOOKING_POLICY", "VERIFICATION_MAX_ATTEMPTS", "PG_DSN"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadConsumerConfig(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("KAFKA_GROUP", "g1")

	cfg, err := LoadConsumerConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "booking-events", cfg.KafkaTopic)
	assert.Equal(t, "g1", cfg.KafkaGroup)
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
