// README: FCM topic pushes that let the passenger app follow its trip.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"firebase.google.com/go/v4/messaging"

	"tricykol/internal/events"
	"tricykol/internal/types"
)

type Sender interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

func BookingTopic(id types.ID) string {
	return "booking-" + string(id)
}

// PushNotifier is an events.Listener that pushes confirmed status changes
// and settlements to the booking's topic. Completion is announced by the
// settlement event only.
type PushNotifier struct {
	sender  Sender
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewPushNotifier(sender Sender, logger *slog.Logger) *PushNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &PushNotifier{sender: sender, logger: logger, timeout: 10 * time.Second}
}

func (p *PushNotifier) Handle(ctx context.Context, ev events.Event) {
	msg := buildMessage(ev)
	if msg == nil {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		id, err := p.sender.Send(ctx, msg)
		if err != nil {
			p.logger.Warn("fcm push failed", "topic", msg.Topic, "kind", ev.Kind, "error", err)
			return
		}
		p.logger.Debug("fcm push sent", "topic", msg.Topic, "message_id", id)
	}()
}

// Wait blocks until in-flight pushes have finished.
func (p *PushNotifier) Wait() {
	p.wg.Wait()
}

func buildMessage(ev events.Event) *messaging.Message {
	if ev.BookingID == "" {
		return nil
	}
	data := map[string]string{
		"type":       string(ev.Kind),
		"booking_id": string(ev.BookingID),
		"driver_id":  string(ev.DriverID),
	}
	var note *messaging.Notification

	switch ev.Kind {
	case events.TripStatusChanged:
		sc, ok := ev.Payload.(events.StatusChange)
		if !ok || sc.Tentative || sc.RolledBack || sc.To == "completed" {
			return nil
		}
		data["status"] = sc.To
		note = statusNotification(sc.To)
	case events.SettlementCompleted:
		note = &messaging.Notification{Title: "Trip completed", Body: "Thank you for riding with Tricykol."}
	default:
		return nil
	}

	return &messaging.Message{
		Topic:        BookingTopic(ev.BookingID),
		Data:         data,
		Notification: note,
		Android:      &messaging.AndroidConfig{Priority: "high"},
	}
}

func statusNotification(status string) *messaging.Notification {
	switch status {
	case "on_the_way":
		return &messaging.Notification{Title: "Driver on the way", Body: "Your tricycle is heading to your pickup point."}
	case "arrived":
		return &messaging.Notification{Title: "Driver has arrived", Body: "Your driver is waiting at the pickup point."}
	case "in_progress":
		return &messaging.Notification{Title: "Trip started", Body: "Enjoy your ride."}
	default:
		return &messaging.Notification{Title: "Trip update", Body: fmt.Sprintf("Trip status: %s", status)}
	}
}
