package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func waitForEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case event := <-ch:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestLocalFeedDeliversSnapshots(t *testing.T) {
	feed := New(nil)
	defer feed.Close()

	ch, cancel := feed.Subscribe()
	defer cancel()

	feed.Publish(context.Background(), CollectionRecords, json.RawMessage(`[{"id":"rec_1"}]`))

	event := waitForEvent(t, ch)
	if event.Collection != CollectionRecords {
		t.Errorf("collection = %q, want %q", event.Collection, CollectionRecords)
	}
	if string(event.Snapshot) != `[{"id":"rec_1"}]` {
		t.Errorf("unexpected snapshot: %s", event.Snapshot)
	}
}

func TestRedisFeedRelaysAcrossFeeds(t *testing.T) {
	mr := miniredis.RunT(t)
	clientA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	clientB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer clientA.Close()
	defer clientB.Close()

	feedA := New(clientA)
	feedB := New(clientB)
	defer feedA.Close()
	defer feedB.Close()

	ch, cancel := feedB.Subscribe()
	defer cancel()

	// Give the relay loop a moment to establish its subscription.
	time.Sleep(50 * time.Millisecond)

	feedA.Publish(context.Background(), CollectionServices, json.RawMessage(`[]`))

	event := waitForEvent(t, ch)
	if event.Collection != CollectionServices {
		t.Errorf("collection = %q, want %q", event.Collection, CollectionServices)
	}
}

func TestSlowSubscriberDoesNotBlockFeed(t *testing.T) {
	feed := New(nil)
	defer feed.Close()

	ch, cancel := feed.Subscribe()
	defer cancel()

	// Overfill the subscriber buffer; publishes must not block.
	for i := 0; i < 20; i++ {
		feed.Publish(context.Background(), CollectionCatalogs, json.RawMessage(`{}`))
	}

	drained := 0
	for {
		select {
		case <-ch:
			drained++
		default:
			if drained == 0 {
				t.Fatal("expected at least one delivered event")
			}
			return
		}
	}
}

func TestCancelledSubscriberIsRemoved(t *testing.T) {
	feed := New(nil)
	defer feed.Close()

	ch, cancel := feed.Subscribe()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("expected channel closed after cancel")
	}

	// Publishing after cancellation must not panic.
	feed.Publish(context.Background(), CollectionRecords, json.RawMessage(`[]`))
}
