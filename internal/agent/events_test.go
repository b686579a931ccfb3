package agent

import (
	"testing"

	"github.com/agenticmail/agenticmail/pkg/models"
)

func TestEventBus_PublishSubscribe(t *testing.T) {
	bus := NewEventBus()
	ch, cancel := bus.Subscribe("s1")
	defer cancel()

	bus.Publish(&models.SessionEvent{Type: models.EventTurnStart, SessionID: "s1"})
	bus.Publish(&models.SessionEvent{Type: models.EventTextDelta, SessionID: "s1"})

	first := <-ch
	second := <-ch
	if first.Type != models.EventTurnStart || second.Type != models.EventTextDelta {
		t.Errorf("types = %s, %s", first.Type, second.Type)
	}
	if first.Sequence != 1 || second.Sequence != 2 {
		t.Errorf("sequences = %d, %d, want 1, 2", first.Sequence, second.Sequence)
	}
	if first.Version != 1 {
		t.Errorf("version = %d, want 1", first.Version)
	}
}

func TestEventBus_SessionIsolation(t *testing.T) {
	bus := NewEventBus()
	ch, cancel := bus.Subscribe("s1")
	defer cancel()

	bus.Publish(&models.SessionEvent{Type: models.EventTurnStart, SessionID: "s2"})
	select {
	case ev := <-ch:
		t.Errorf("received foreign event %+v", ev)
	default:
	}

	// Sequences are per session.
	bus.Publish(&models.SessionEvent{Type: models.EventTurnStart, SessionID: "s1"})
	if ev := <-ch; ev.Sequence != 1 {
		t.Errorf("sequence = %d, want 1", ev.Sequence)
	}
}

func TestEventBus_DropsSlowSubscriber(t *testing.T) {
	bus := NewEventBus()
	ch, cancel := bus.Subscribe("s1")
	defer cancel()

	// Fill the buffer and then some; the subscriber never reads.
	for i := 0; i < subscriberBuffer+1; i++ {
		bus.Publish(&models.SessionEvent{Type: models.EventTextDelta, SessionID: "s1"})
	}

	if got := bus.SubscriberCount("s1"); got != 0 {
		t.Fatalf("subscriber count = %d, want 0 after overflow", got)
	}

	// The channel was closed after delivering what fit.
	delivered := 0
	for range ch {
		delivered++
	}
	if delivered != subscriberBuffer {
		t.Errorf("delivered = %d, want %d", delivered, subscriberBuffer)
	}
}

func TestEventBus_CancelAndClose(t *testing.T) {
	bus := NewEventBus()
	ch, cancel := bus.Subscribe("s1")
	cancel()
	if _, open := <-ch; open {
		t.Error("channel open after cancel")
	}
	// Double cancel is safe.
	cancel()

	ch2, _ := bus.Subscribe("s1")
	bus.CloseSession("s1")
	if _, open := <-ch2; open {
		t.Error("channel open after CloseSession")
	}
	if got := bus.SubscriberCount("s1"); got != 0 {
		t.Errorf("subscriber count = %d, want 0", got)
	}
}
