// Package live pushes chat messages to connected websocket clients. Each
// connection subscribes to a set of topics; publishing is best-effort.
package live

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/cab-dispatch/internal/models"
	"github.com/example/cab-dispatch/internal/observability"
)

var ErrNoSession = errors.New("no live session")

const writeWait = 5 * time.Second

func InboxTopic(email string) string { return "inbox." + models.NormalizeEmail(email) }
func RoleTopic(role string) string   { return "inbox.role." + strings.ToLower(strings.TrimSpace(role)) }
func TripTopic(tripID int64) string  { return "trip." + strconv.FormatInt(tripID, 10) }

// Conn is the part of *websocket.Conn the hub writes to.
type Conn interface {
	WriteJSON(v any) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type session struct {
	conn   Conn
	mu     sync.Mutex
	topics []string
}

func (s *session) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

func (s *session) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*session]struct{}
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{topics: make(map[string]map[*session]struct{}), logger: logger}
}

// Add registers conn under topics and returns a function that removes it.
func (h *Hub) Add(conn Conn, topics ...string) (remove func()) {
	_, remove = h.add(conn, topics)
	return remove
}

// Attach registers conn like Add and pings it every interval until stop is
// called. A failed ping closes conn so its reader returns.
func (h *Hub) Attach(conn Conn, interval time.Duration, topics ...string) (stop func()) {
	s, remove := h.add(conn, topics)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				if err := s.ping(); err != nil {
					h.logger.Debug("live ping failed", "err", err)
					_ = conn.Close()
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
			remove()
		})
	}
}

func (h *Hub) add(conn Conn, topics []string) (*session, func()) {
	s := &session{conn: conn, topics: topics}
	h.mu.Lock()
	for _, t := range topics {
		set, ok := h.topics[t]
		if !ok {
			set = make(map[*session]struct{})
			h.topics[t] = set
		}
		set[s] = struct{}{}
	}
	h.mu.Unlock()
	observability.LiveConnections.Inc()

	var once sync.Once
	return s, func() {
		once.Do(func() {
			h.mu.Lock()
			for _, t := range s.topics {
				if set, ok := h.topics[t]; ok {
					delete(set, s)
					if len(set) == 0 {
						delete(h.topics, t)
					}
				}
			}
			h.mu.Unlock()
			observability.LiveConnections.Dec()
		})
	}
}

// Publish writes v to every session on topic and returns ErrNoSession when
// nobody is listening.
func (h *Hub) Publish(topic string, v any) error {
	h.mu.RLock()
	set := h.topics[topic]
	targets := make([]*session, 0, len(set))
	for s := range set {
		targets = append(targets, s)
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return ErrNoSession
	}
	for _, s := range targets {
		if err := s.send(v); err != nil {
			h.logger.Warn("live send failed", "topic", topic, "err", err)
		}
	}
	return nil
}

// NewUpgrader accepts handshakes from the given origins, using the same
// patterns as the CORS layer: exact origins, "*" for any, or one "*" inside
// an origin such as "https://*.example.com". Requests without an Origin
// header come from non-browser clients and are allowed.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return OriginAllowed(allowedOrigins, origin)
		},
	}
}

func OriginAllowed(allowed []string, origin string) bool {
	origin = strings.ToLower(origin)
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "*" || a == origin {
			return true
		}
		if i := strings.IndexByte(a, '*'); i >= 0 {
			prefix, suffix := a[:i], a[i+1:]
			if len(origin) >= len(prefix)+len(suffix) && strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, suffix) {
				return true
			}
		}
	}
	return false
}
