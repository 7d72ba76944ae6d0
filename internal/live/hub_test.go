package live

import (
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"

	"github.com/example/cab-dispatch/internal/logging"
)

type fakeConn struct {
	mu      sync.Mutex
	sent    []any
	pings   int
	pingErr error
	closed  bool
}

func (f *fakeConn) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, v)
	return nil
}
func (f *fakeConn) WriteControl(messageType int, _ []byte, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if messageType == websocket.PingMessage {
		f.pings++
	}
	return f.pingErr
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestPublishReachesSubscribers(t *testing.T) {
	h := NewHub(logging.Discard())
	a, b := &fakeConn{}, &fakeConn{}
	removeA := h.Add(a, InboxTopic("A@x.com"), RoleTopic("HR"))
	defer h.Add(b, RoleTopic("hr"))()

	assert.NoError(t, h.Publish("inbox.a@x.com", "hello"))
	assert.NoError(t, h.Publish("inbox.role.hr", "all"))
	assert.Equal(t, 2, a.count())
	assert.Equal(t, 1, b.count())

	removeA()
	removeA()
	assert.ErrorIs(t, h.Publish(InboxTopic("a@x.com"), "gone"), ErrNoSession)
	assert.NoError(t, h.Publish(RoleTopic("hr"), "still b"))
	assert.Equal(t, 2, b.count())
}

func TestTripTopic(t *testing.T) {
	assert.Equal(t, "trip.42", TripTopic(42))
}

func TestAttachPingsUntilStopped(t *testing.T) {
	h := NewHub(logging.Discard())
	c := &fakeConn{}
	stop := h.Attach(c, 5*time.Millisecond, InboxTopic("a@x.com"))

	assert.Eventually(t, func() bool { return c.pingCount() >= 2 }, time.Second, 5*time.Millisecond)
	assert.NoError(t, h.Publish(InboxTopic("a@x.com"), "hi"))

	stop()
	stop()
	n := c.pingCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, c.pingCount())
	assert.ErrorIs(t, h.Publish(InboxTopic("a@x.com"), "gone"), ErrNoSession)
	assert.False(t, c.isClosed())
}

func TestAttachClosesOnPingFailure(t *testing.T) {
	h := NewHub(logging.Discard())
	c := &fakeConn{pingErr: errors.New("broken pipe")}
	stop := h.Attach(c, 5*time.Millisecond, InboxTopic("a@x.com"))
	defer stop()

	assert.Eventually(t, c.isClosed, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, c.pingCount())
}

func TestOriginAllowed(t *testing.T) {
	allowed := []string{"http://localhost:3000", "https://*.example.com"}
	assert.True(t, OriginAllowed(allowed, "http://localhost:3000"))
	assert.True(t, OriginAllowed(allowed, "HTTPS://app.Example.com"))
	assert.False(t, OriginAllowed(allowed, "https://example.com.evil.io"))
	assert.False(t, OriginAllowed(allowed, "http://localhost:4000"))
	assert.True(t, OriginAllowed([]string{"*"}, "http://anything"))
	assert.False(t, OriginAllowed(nil, "http://localhost:3000"))
}

func TestUpgraderOriginCheck(t *testing.T) {
	up := NewUpgrader([]string{"http://localhost:3000"})
	r := httptest.NewRequest("GET", "/ws", nil)
	assert.True(t, up.CheckOrigin(r), "no Origin header")
	r.Header.Set("Origin", "http://evil.example")
	assert.False(t, up.CheckOrigin(r))
	r.Header.Set("Origin", "http://localhost:3000")
	assert.True(t, up.CheckOrigin(r))
}
