package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/cab-dispatch/internal/events"
)

// fakeUpdater implements RedisUpdater and fails the first failH HSet calls.
type fakeUpdater struct {
	failH  int
	hCalls int
	hashes map[string]map[string]interface{}
	keys   map[string]string
}

func newFake(failH int) *fakeUpdater {
	return &fakeUpdater{failH: failH, hashes: map[string]map[string]interface{}{}, keys: map[string]string{}}
}

func (f *fakeUpdater) HSet(_ context.Context, key string, values map[string]interface{}) error {
	f.hCalls++
	if f.hCalls <= f.failH {
		return errors.New("hset fail")
	}
	f.hashes[key] = values
	return nil
}

func (f *fakeUpdater) Set(_ context.Context, key, value string, _ time.Duration) error {
	f.keys[key] = value
	return nil
}

func (f *fakeUpdater) Del(_ context.Context, key string) error {
	delete(f.keys, key)
	return nil
}

var at = time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)

func TestUpdateRedisWithRetrySucceedsAfterRetries(t *testing.T) {
	f := newFake(2)
	e := events.Event{Type: events.TypeRequested, BookingID: 7, CabType: "Sedan", Status: "REQUESTED", At: at}

	start := time.Now()
	require.NoError(t, updateRedisWithRetry(context.Background(), f, e, 3, 10*time.Millisecond))
	assert.Equal(t, 3, f.hCalls)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, "REQUESTED", f.hashes["booking:7"]["status"])
	assert.Equal(t, "2026-02-03T09:00:00Z", f.hashes["booking:7"]["updated"])
}

func TestUpdateRedisWithRetryFailsWhenExhausted(t *testing.T) {
	f := newFake(5)
	err := updateRedisWithRetry(context.Background(), f, events.Event{BookingID: 1, At: at}, 3, time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, 3, f.hCalls)
}

func TestUpdateRedisWithRetryStopsOnCancel(t *testing.T) {
	f := newFake(5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := updateRedisWithRetry(ctx, f, events.Event{BookingID: 1, At: at}, 3, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, f.hCalls)
}

func TestProjectTracksActiveDriver(t *testing.T) {
	f := newFake(0)
	ctx := context.Background()

	assigned := events.Event{Type: events.TypeAssigned, BookingID: 9, DriverEmail: "d@x.com", Status: "ASSIGNED", At: at}
	require.NoError(t, project(ctx, f, assigned))
	assert.Equal(t, "9", f.keys["driver:active:d@x.com"])
	assert.Equal(t, "d@x.com", f.hashes["booking:9"]["driver"])

	completed := assigned
	completed.Type = events.TypeCompleted
	completed.Status = "COMPLETED"
	require.NoError(t, project(ctx, f, completed))
	assert.NotContains(t, f.keys, "driver:active:d@x.com")
	assert.Equal(t, "COMPLETED", f.hashes["booking:9"]["status"])
}
