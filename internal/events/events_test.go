package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestBus_PublishOrderAndUnsubscribe(t *testing.T) {
	bus := NewBus(nil)
	var got []string

	unsubA := bus.Subscribe(ListenerFunc(func(_ context.Context, ev Event) { got = append(got, "a:"+string(ev.Kind)) }))
	bus.Subscribe(ListenerFunc(func(_ context.Context, ev Event) { got = append(got, "b:"+string(ev.Kind)) }))

	bus.Publish(context.Background(), Event{Kind: PositionUpdated})
	unsubA()
	unsubA() // second call is harmless
	bus.Publish(context.Background(), Event{Kind: TripStatusChanged})

	want := []string{"a:position_updated", "b:position_updated", "b:trip_status_changed"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestBus_ListenerPanicDoesNotStopDelivery(t *testing.T) {
	bus := NewBus(nil)
	delivered := false
	bus.Subscribe(ListenerFunc(func(context.Context, Event) { panic("boom") }))
	bus.Subscribe(ListenerFunc(func(context.Context, Event) { delivered = true }))

	bus.Publish(context.Background(), Event{Kind: ProximityChanged})
	if !delivered {
		t.Fatal("expected second listener to receive event")
	}
}

func TestBus_StampsOccurredAt(t *testing.T) {
	bus := NewBus(nil)
	var ev Event
	bus.Subscribe(ListenerFunc(func(_ context.Context, e Event) { ev = e }))
	bus.Publish(context.Background(), Event{Kind: PositionUpdated})
	if ev.OccurredAt.IsZero() {
		t.Fatal("expected OccurredAt to be set")
	}
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaSink_KeysByDriver(t *testing.T) {
	w := &fakeWriter{}
	sink := newKafkaSink(w, nil)

	sink.Handle(context.Background(), Event{
		Kind:      TripStatusChanged,
		DriverID:  "d1",
		BookingID: "b1",
		Payload:   StatusChange{From: "accepted", To: "on_the_way"},
	})

	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "d1" {
		t.Errorf("key = %s, want d1", msg.Key)
	}
	var decoded map[string]any
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["kind"] != string(TripStatusChanged) || decoded["bookingId"] != "b1" {
		t.Errorf("unexpected payload %v", decoded)
	}
}
