package relay

import (
	"testing"
)

func TestBrokerPublishReachesSubscribers(t *testing.T) {
	b := NewBroker()
	id1, ch1 := b.Subscribe()
	id2, ch2 := b.Subscribe()
	defer b.Unsubscribe(id1)
	defer b.Unsubscribe(id2)

	b.Publish(FeedRecovery, map[string]bool{"active": true})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case evt := <-ch:
			if evt.Feed != FeedRecovery {
				t.Errorf("Feed = %q; want %q", evt.Feed, FeedRecovery)
			}
			if evt.Payload != `{"active":true}` {
				t.Errorf("Payload = %q; want %q", evt.Payload, `{"active":true}`)
			}
		default:
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	id, ch := b.Subscribe()
	if got := b.ClientCount(); got != 1 {
		t.Fatalf("ClientCount() = %d; want 1", got)
	}
	b.Unsubscribe(id)
	if got := b.ClientCount(); got != 0 {
		t.Fatalf("ClientCount() = %d; want 0", got)
	}
	if _, open := <-ch; open {
		t.Error("channel still open after Unsubscribe")
	}
}

func TestBrokerSlowSubscriberDrops(t *testing.T) {
	b := NewBroker()
	id, ch := b.Subscribe()
	defer b.Unsubscribe(id)

	for i := 0; i < subscriberBufSize+10; i++ {
		b.Publish(FeedCredits, map[string]int{"n": i})
	}

	count := 0
	for {
		select {
		case <-ch:
			count++
			continue
		default:
		}
		break
	}
	if count != subscriberBufSize {
		t.Errorf("buffered events = %d; want %d", count, subscriberBufSize)
	}
}
