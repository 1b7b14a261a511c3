package events

import (
	"testing"
	"time"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventScheduleUpdate)
	other := bus.Subscribe(EventTaskCreated)

	bus.Publish(EventScheduleUpdate, Payload{"scheduled": 2})

	select {
	case p := <-sub:
		if p["scheduled"] != 2 {
			t.Fatalf("unexpected payload %v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case p := <-other:
		t.Fatalf("unexpected event on other subscriber: %v", p)
	default:
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus()
	sub := bus.SubscribeBuffered(EventTaskUpdated, 1)

	bus.Publish(EventTaskUpdated, Payload{"n": 1})
	bus.Publish(EventTaskUpdated, Payload{"n": 2})

	if p := <-sub; p["n"] != 1 {
		t.Fatalf("expected first payload, got %v", p)
	}
	select {
	case p := <-sub:
		t.Fatalf("expected second payload to be dropped, got %v", p)
	default:
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventTaskDeleted)
	bus.Unsubscribe(EventTaskDeleted, sub)

	if _, ok := <-sub; ok {
		t.Fatal("expected closed channel")
	}
	// Publishing after unsubscribe must not panic.
	bus.Publish(EventTaskDeleted, Payload{})
}
