// Package verification holds the in-memory two-factor challenges that sit
// between a successful password check and token issuance. A challenge is
// redeemable once, expires after a TTL and tolerates a bounded number of
// wrong codes. Nothing here is persisted; a restart drops in-flight logins.
package verification

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/cab-dispatch/internal/apperr"
	"github.com/example/cab-dispatch/internal/models"
	"github.com/example/cab-dispatch/internal/notify"
	"github.com/example/cab-dispatch/internal/observability"
)

const (
	DefaultTTL         = 5 * time.Minute
	DefaultMaxAttempts = 5
	DefaultSendTimeout = 10 * time.Second
)

var codeSpace = big.NewInt(1_000_000)

// Challenge is what the caller gets back from Start. The code itself only
// ever leaves through the Sender.
type Challenge struct {
	ID        string
	ExpiresAt time.Time
}

// Identity is returned by a successful Verify.
type Identity struct {
	Email string
	Role  models.Role
}

type entry struct {
	mu           sync.Mutex
	email        string
	role         models.Role
	codeHash     []byte
	expiresAt    time.Time
	attemptsLeft int
	consumed     bool
}

type Store struct {
	sender      notify.Sender
	logger      *slog.Logger
	ttl         time.Duration
	maxAttempts int
	hashCost    int
	sendTimeout time.Duration
	now         func() time.Time

	entries sync.Map // id -> *entry
	pending atomic.Int64
}

type Option func(*Store)

func WithTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.ttl = d
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithHashCost(cost int) Option {
	return func(s *Store) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			s.hashCost = cost
		}
	}
}

func WithSendTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.sendTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewStore(sender notify.Sender, opts ...Option) *Store {
	s := &Store{
		sender:      sender,
		logger:      slog.Default(),
		ttl:         DefaultTTL,
		maxAttempts: DefaultMaxAttempts,
		hashCost:    bcrypt.DefaultCost,
		sendTimeout: DefaultSendTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	errNotFound  = apperr.NotFound("verification not found")
	errExpired   = apperr.New(apperr.KindExpired, "verification code expired")
	errExhausted = apperr.New(apperr.KindExhausted, "too many failed attempts")
	errWrongCode = apperr.Unauthorized("invalid verification code")
)

// Start mails a fresh code to email and records the challenge. If delivery
// fails nothing is stored.
func (s *Store) Start(ctx context.Context, email string, role models.Role) (Challenge, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return Challenge{}, apperr.Invalid("email is required")
	}
	code, err := newCode()
	if err != nil {
		return Challenge{}, fmt.Errorf("generate code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.hashCost)
	if err != nil {
		return Challenge{}, fmt.Errorf("hash code: %w", err)
	}
	expiresAt := s.now().Add(s.ttl)

	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	err = s.sender.SendCode(sendCtx, email, code, s.ttl)
	cancel()
	if err != nil {
		cause := notify.Cause(err)
		observability.CodeDeliveryFailures.WithLabelValues(cause).Inc()
		s.logger.Warn("verification code delivery failed", "to", email, "cause", cause, "err", err)
		return Challenge{}, apperr.Wrap(apperr.KindUpstream, "verification service unavailable", err)
	}

	id := uuid.NewString()
	s.entries.Store(id, &entry{
		email:        email,
		role:         role,
		codeHash:     hash,
		expiresAt:    expiresAt,
		attemptsLeft: s.maxAttempts,
	})
	s.pending.Add(1)
	observability.ChallengesStarted.Inc()
	return Challenge{ID: id, ExpiresAt: expiresAt}, nil
}

// Verify redeems a challenge. Unknown, consumed and evicted ids all look the
// same to the caller.
func (s *Store) Verify(ctx context.Context, id, code string) (Identity, error) {
	id = strings.TrimSpace(id)
	code = strings.TrimSpace(code)
	if id == "" || code == "" {
		s.outcome("invalid")
		return Identity{}, apperr.Invalid("verificationId and code are required")
	}
	v, ok := s.entries.Load(id)
	if !ok {
		s.outcome("not_found")
		return Identity{}, errNotFound
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.consumed {
		s.outcome("not_found")
		return Identity{}, errNotFound
	}
	if s.now().After(e.expiresAt) {
		s.remove(id, e)
		s.outcome("expired")
		return Identity{}, errExpired
	}
	if e.attemptsLeft <= 0 {
		s.remove(id, e)
		s.outcome("exhausted")
		return Identity{}, errExhausted
	}
	if bcrypt.CompareHashAndPassword(e.codeHash, []byte(code)) != nil {
		e.attemptsLeft--
		if e.attemptsLeft <= 0 {
			s.remove(id, e)
			s.outcome("exhausted")
			return Identity{}, errExhausted
		}
		s.outcome("invalid_code")
		return Identity{}, errWrongCode
	}
	s.remove(id, e)
	s.outcome("success")
	return Identity{Email: e.email, Role: e.role}, nil
}

// Sweep drops expired challenges and reports how many went.
func (s *Store) Sweep() int {
	now := s.now()
	removed := 0
	s.entries.Range(func(k, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		if !e.consumed && now.After(e.expiresAt) {
			s.remove(k.(string), e)
			removed++
		}
		e.mu.Unlock()
		return true
	})
	return removed
}

// Run sweeps every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Debug("swept expired challenges", "count", n)
			}
		}
	}
}

// Close discards every pending challenge.
func (s *Store) Close() {
	s.entries.Range(func(k, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		if !e.consumed {
			s.remove(k.(string), e)
		}
		e.mu.Unlock()
		return true
	})
}

func (s *Store) Len() int { return int(s.pending.Load()) }

// remove must be called with e.mu held.
func (s *Store) remove(id string, e *entry) {
	e.consumed = true
	e.codeHash = nil
	s.entries.CompareAndDelete(id, e)
	s.pending.Add(-1)
}

func (s *Store) outcome(o string) {
	observability.ChallengeVerifications.WithLabelValues(o).Inc()
}

func newCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
