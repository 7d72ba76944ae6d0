package main

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/cab-dispatch/internal/events"
)

// activeTripTTL bounds how long a driver:active key can outlive a lost
// completion event.
const activeTripTTL = 24 * time.Hour

// RedisUpdater is the subset of redis operations the projection needs.
type RedisUpdater interface {
	HSet(ctx context.Context, key string, values map[string]interface{}) error
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

type redisAdapter struct{ c *redis.Client }

func (r *redisAdapter) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	return r.c.HSet(ctx, key, values).Err()
}

func (r *redisAdapter) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.c.Set(ctx, key, value, ttl).Err()
}

func (r *redisAdapter) Del(ctx context.Context, key string) error {
	return r.c.Del(ctx, key).Err()
}

func bookingKey(id int64) string          { return "booking:" + strconv.FormatInt(id, 10) }
func driverActiveKey(email string) string { return "driver:active:" + email }

// project writes one event: the booking hash always, and the driver's
// active-trip marker on assignment or completion.
func project(ctx context.Context, rc RedisUpdater, e events.Event) error {
	fields := map[string]interface{}{
		"status":   e.Status,
		"driver":   e.DriverEmail,
		"cab_type": e.CabType,
		"updated":  e.At.UTC().Format(time.RFC3339),
	}
	if err := rc.HSet(ctx, bookingKey(e.BookingID), fields); err != nil {
		return err
	}
	if e.DriverEmail == "" {
		return nil
	}
	switch e.Type {
	case events.TypeAssigned:
		return rc.Set(ctx, driverActiveKey(e.DriverEmail), strconv.FormatInt(e.BookingID, 10), activeTripTTL)
	case events.TypeCompleted:
		return rc.Del(ctx, driverActiveKey(e.DriverEmail))
	}
	return nil
}

// updateRedisWithRetry applies the projection, retrying with doubling delay.
// Every write is idempotent so a partial attempt is safe to repeat.
func updateRedisWithRetry(ctx context.Context, rc RedisUpdater, e events.Event, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = project(ctx, rc, e); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
