// Package events publishes booking lifecycle events to Kafka. The consumer
// binary projects them into Redis.
package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/cab-dispatch/internal/models"
)

const (
	TypeRequested = "booking.requested"
	TypeAssigned  = "booking.assigned"
	TypeCompleted = "booking.completed"

	DefaultTopic = "booking-events"
)

type Event struct {
	Type          string    `json:"type"`
	BookingID     int64     `json:"bookingId"`
	DriverEmail   string    `json:"driverEmail,omitempty"`
	HREmail       string    `json:"hrEmail"`
	EmployeeEmail string    `json:"employeeEmail"`
	CabType       string    `json:"cabType"`
	Status        string    `json:"status"`
	At            time.Time `json:"at"`
}

// FromBooking snapshots b as an event of the given type.
func FromBooking(typ string, b models.Booking, at time.Time) Event {
	return Event{
		Type:          typ,
		BookingID:     b.ID,
		DriverEmail:   b.DriverEmail,
		HREmail:       b.HREmail,
		EmployeeEmail: b.EmployeeEmail,
		CabType:       b.CabType,
		Status:        string(b.Status),
		At:            at.UTC(),
	}
}

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		// Publish waits for the write, so flush single events promptly
		BatchTimeout: 10 * time.Millisecond,
	}
	return &KafkaPublisher{writer: w}
}

// Publish keys by booking id so one booking's events stay ordered.
func (k *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(strconv.FormatInt(e.BookingID, 10)), Value: b})
}

func (k *KafkaPublisher) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// Nop drops events; used when no brokers are configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
