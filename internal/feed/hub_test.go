package feed

import (
	"testing"

	"github.com/mfiorillo/faqbot/internal/exchange"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	hub := NewHub()

	ch1, cancel1 := hub.Subscribe()
	defer cancel1()
	ch2, cancel2 := hub.Subscribe()
	defer cancel2()

	record := exchange.Record{ID: 7, UserQuery: "q", ConversationID: "c"}
	hub.Publish(record)

	for _, ch := range []<-chan exchange.Record{ch1, ch2} {
		select {
		case got := <-ch:
			if got.ID != 7 {
				t.Fatalf("got record %+v, want id 7", got)
			}
		default:
			t.Fatalf("subscriber did not receive the published record")
		}
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	hub := NewHub()

	ch, cancel := hub.Subscribe()
	cancel()
	// Double cancel is a no-op.
	cancel()

	if hub.SubscriberCount() != 0 {
		t.Fatalf("SubscriberCount = %d, want 0", hub.SubscriberCount())
	}

	hub.Publish(exchange.Record{ID: 1})
	if _, ok := <-ch; ok {
		t.Fatalf("cancelled subscriber channel must be closed and empty")
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	hub := NewHub()

	_, cancel := hub.Subscribe()
	defer cancel()

	// Far more events than the subscriber buffer; Publish must never block.
	for i := 0; i < 100; i++ {
		hub.Publish(exchange.Record{ID: int64(i)})
	}
}
