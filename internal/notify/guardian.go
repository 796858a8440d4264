// README: Guardian alerts published to RabbitMQ for the SMS worker.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"tricykol/internal/modules/booking"
)

const (
	DefaultExchange        = "notifications"
	GuardianTripStartedKey = "guardian.trip_started"
)

var ErrNoGuardian = errors.New("booking has no guardian contact")

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// GuardianAlert is the message body consumed by the SMS worker.
type GuardianAlert struct {
	BookingID     string    `json:"bookingId"`
	Name          string    `json:"name"`
	PhoneNumber   string    `json:"phoneNumber"`
	Relationship  string    `json:"relationship,omitempty"`
	PassengerName string    `json:"passengerName,omitempty"`
	DriverID      string    `json:"driverId"`
	Pickup        string    `json:"pickup"`
	Dropoff       string    `json:"dropoff"`
	StartedAt     time.Time `json:"startedAt"`
}

type GuardianQueue struct {
	conn     *amqp.Connection
	ch       channel
	exchange string
	now      func() time.Time
}

func NewGuardianQueue(url, exchange string) (*GuardianQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &GuardianQueue{conn: conn, ch: ch, exchange: exchange, now: time.Now}, nil
}

func (q *GuardianQueue) NotifyTripStarted(ctx context.Context, at booking.ActiveTrip) error {
	if at.Guardian == nil || at.Guardian.PhoneNumber == "" {
		return ErrNoGuardian
	}
	started := q.now()
	if at.PickupTime != nil {
		started = *at.PickupTime
	}
	body, err := json.Marshal(GuardianAlert{
		BookingID:     string(at.BookingID),
		Name:          at.Guardian.Name,
		PhoneNumber:   at.Guardian.PhoneNumber,
		Relationship:  at.Guardian.Relationship,
		PassengerName: at.PassengerName,
		DriverID:      at.DriverID,
		Pickup:        at.Pickup.Name,
		Dropoff:       at.Dropoff.Name,
		StartedAt:     started,
	})
	if err != nil {
		return err
	}
	err = q.ch.PublishWithContext(ctx, q.exchange, GuardianTripStartedKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    string(at.BookingID),
		Timestamp:    started,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publishing guardian alert for %s: %w", at.BookingID, err)
	}
	return nil
}

func (q *GuardianQueue) Close() error {
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
