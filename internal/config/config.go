package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Defaults let the binary run locally with an in-memory store and codes
// written to the log. An optional YAML file (CONFIG_FILE) is applied on top
// of the defaults and environment variables win over both.
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	ReadTimeout     time.Duration `yaml:"http_read_timeout"`
	WriteTimeout    time.Duration `yaml:"http_write_timeout"`
	IdleTimeout     time.Duration `yaml:"http_idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"http_shutdown_timeout"`

	PGDSN         string `yaml:"pg_dsn"`
	RunMigrations bool   `yaml:"migrate"`

	RedisAddr         string `yaml:"redis_addr"`
	RedisPassword     string `yaml:"redis_password"`
	DirectoryCacheKey string `yaml:"directory_cache_key"`

	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`

	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`

	TwoFactorEnabled          bool          `yaml:"two_factor_enabled"`
	VerificationCodeTTL       time.Duration `yaml:"verification_code_ttl"`
	VerificationMaxAttempts   int           `yaml:"verification_max_attempts"`
	VerificationHashCost      int           `yaml:"verification_hash_cost"`
	VerificationSweepInterval time.Duration `yaml:"verification_sweep_interval"`

	MailMode      string        `yaml:"mail_mode"`
	MailFrom      string        `yaml:"mail_from"`
	MailTimeout   time.Duration `yaml:"mail_timeout"`
	SMTPHost      string        `yaml:"smtp_host"`
	SMTPPort      int           `yaml:"smtp_port"`
	SMTPUsername  string        `yaml:"smtp_username"`
	SMTPPassword  string        `yaml:"smtp_password"`
	SMTPStartTLS  bool          `yaml:"smtp_starttls"`
	ResendAPIKey  string        `yaml:"resend_api_key"`
	ResendBaseURL string        `yaml:"resend_base_url"`

	BookingPolicy      string   `yaml:"booking_policy"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`

	LogLevel string `yaml:"log_level"`
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:                  ":8080",
		ReadTimeout:               5 * time.Second,
		WriteTimeout:              10 * time.Second,
		IdleTimeout:               120 * time.Second,
		ShutdownTimeout:           15 * time.Second,
		DirectoryCacheKey:         "directory:contacts",
		KafkaTopic:                "booking-events",
		TokenTTL:                  time.Hour,
		TwoFactorEnabled:          true,
		VerificationCodeTTL:       5 * time.Minute,
		VerificationMaxAttempts:   5,
		VerificationHashCost:      10,
		VerificationSweepInterval: time.Minute,
		MailMode:                  "log",
		MailTimeout:               10 * time.Second,
		SMTPPort:                  587,
		SMTPStartTLS:              true,
		ResendBaseURL:             "https://api.resend.com",
		BookingPolicy:             "manual",
		CORSAllowedOrigins:        []string{"http://localhost:3000"},
		LogLevel:                  "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	loadDotEnv(&errs)
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			errs = append(errs, err)
		}
	}

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setStringFromEnv(&cfg.PGDSN, "PG_DSN")
	setBoolFromEnv(&cfg.RunMigrations, "MIGRATE", &errs)

	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	setStringFromEnv(&cfg.RedisPassword, "REDIS_PASSWORD")
	setStringFromEnv(&cfg.DirectoryCacheKey, "DIRECTORY_CACHE_KEY")

	setListFromEnv(&cfg.KafkaBrokers, "KAFKA_BROKERS")
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	setStringFromEnv(&cfg.JWTSecret, "JWT_SECRET")
	setDurationFromEnv(&cfg.TokenTTL, "TOKEN_TTL", &errs)

	setBoolFromEnv(&cfg.TwoFactorEnabled, "TWO_FACTOR_ENABLED", &errs)
	setDurationFromEnv(&cfg.VerificationCodeTTL, "VERIFICATION_CODE_TTL", &errs)
	setIntFromEnv(&cfg.VerificationMaxAttempts, "VERIFICATION_MAX_ATTEMPTS", &errs)
	setIntFromEnv(&cfg.VerificationHashCost, "VERIFICATION_HASH_COST", &errs)
	setDurationFromEnv(&cfg.VerificationSweepInterval, "VERIFICATION_SWEEP_INTERVAL", &errs)

	setStringFromEnv(&cfg.MailMode, "MAIL_MODE")
	setStringFromEnv(&cfg.MailFrom, "MAIL_FROM")
	setDurationFromEnv(&cfg.MailTimeout, "MAIL_TIMEOUT", &errs)
	setStringFromEnv(&cfg.SMTPHost, "SMTP_HOST")
	setIntFromEnv(&cfg.SMTPPort, "SMTP_PORT", &errs)
	setStringFromEnv(&cfg.SMTPUsername, "SMTP_USERNAME")
	setStringFromEnv(&cfg.SMTPPassword, "SMTP_PASSWORD")
	setBoolFromEnv(&cfg.SMTPStartTLS, "SMTP_STARTTLS", &errs)
	setStringFromEnv(&cfg.ResendAPIKey, "RESEND_API_KEY")
	setStringFromEnv(&cfg.ResendBaseURL, "RESEND_BASE_URL")

	setStringFromEnv(&cfg.BookingPolicy, "BOOKING_POLICY")
	setListFromEnv(&cfg.CORSAllowedOrigins, "CORS_ALLOWED_ORIGINS")

	setStringFromEnv(&cfg.LogLevel, "LOG_LEVEL")
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.MailMode = strings.ToLower(cfg.MailMode)
	cfg.BookingPolicy = strings.ToLower(cfg.BookingPolicy)

	errs = append(errs, cfg.validate()...)
	return cfg, errors.Join(errs...)
}

func (c ServerConfig) validate() []error {
	var errs []error
	if len(c.JWTSecret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 bytes"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("TOKEN_TTL must be > 0"))
	}
	if c.VerificationCodeTTL <= 0 {
		errs = append(errs, errors.New("VERIFICATION_CODE_TTL must be > 0"))
	}
	if c.VerificationMaxAttempts <= 0 {
		errs = append(errs, errors.New("VERIFICATION_MAX_ATTEMPTS must be > 0"))
	}
	if c.VerificationHashCost < 4 || c.VerificationHashCost > 31 {
		errs = append(errs, errors.New("VERIFICATION_HASH_COST must be between 4 and 31"))
	}
	switch c.MailMode {
	case "log", "smtp", "http":
	default:
		errs = append(errs, fmt.Errorf("unknown MAIL_MODE %q", c.MailMode))
	}
	switch c.BookingPolicy {
	case "manual", "auto":
	default:
		errs = append(errs, fmt.Errorf("unknown BOOKING_POLICY %q", c.BookingPolicy))
	}
	if strings.Contains(c.PGDSN, "<") || strings.Contains(strings.ToLower(c.PGDSN), "changeme") {
		errs = append(errs, errors.New("PG_DSN looks like a placeholder"))
	}
	return errs
}

// ConsumerConfig is the event projection worker's configuration.
type ConsumerConfig struct {
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroup    string
	RedisAddr     string
	RedisPassword string
	MetricsAddr   string
	LogLevel      string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "booking-events",
		KafkaGroup:   "cab-dispatch-projector",
		RedisAddr:    "localhost:6379",
		MetricsAddr:  ":2112",
		LogLevel:     "info",
	}
	var errs []error
	loadDotEnv(&errs)
	setListFromEnv(&cfg.KafkaBrokers, "KAFKA_BROKERS")
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	setStringFromEnv(&cfg.RedisPassword, "REDIS_PASSWORD")
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	setStringFromEnv(&cfg.LogLevel, "LOG_LEVEL")
	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS must not be empty"))
	}
	return cfg, errors.Join(errs...)
}

// loadDotEnv reads .env from the working directory if present. Variables
// already set in the environment are left alone.
func loadDotEnv(errs *[]error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		*errs = append(*errs, fmt.Errorf("load .env: %w", err))
	}
}

func loadYAML(path string, cfg *ServerConfig) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setBoolFromEnv(target *bool, key string, errs *[]error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = b
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func setListFromEnv(target *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = splitAndTrim(v)
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
