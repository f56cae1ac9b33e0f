// Package notify carries the realtime change feed. Every successful write
// publishes a full snapshot of the collection that changed; subscribers
// (the SSE endpoint) replace their copy wholesale rather than patching.
package notify

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

const (
	CollectionRecords  = "records"
	CollectionServices = "services"
	CollectionCatalogs = "catalogs"

	channel = "dvc:changes"
)

// Event is one change notification: which collection changed and its full
// current snapshot.
type Event struct {
	Collection string          `json:"collection"`
	Snapshot   json.RawMessage `json:"snapshot"`
}

// Feed fans change events out to local subscribers. With a Redis client it
// also rides pub/sub so every API instance sees writes made by its peers;
// without one it degrades to in-process delivery.
type Feed struct {
	client *redis.Client

	mu   sync.Mutex
	subs map[chan Event]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

func New(client *redis.Client) *Feed {
	f := &Feed{
		client: client,
		subs:   make(map[chan Event]struct{}),
		done:   make(chan struct{}),
	}
	if client != nil {
		ctx, cancel := context.WithCancel(context.Background())
		f.cancel = cancel
		go f.relay(ctx)
	}
	return f
}

// Publish sends a snapshot event for the given collection. With Redis the
// event makes a round trip through pub/sub so delivery is uniform across
// instances; publish failures fall back to local delivery so a dead Redis
// never silences the feed.
func (f *Feed) Publish(ctx context.Context, collection string, snapshot json.RawMessage) {
	event := Event{Collection: collection, Snapshot: snapshot}
	if f.client != nil {
		payload, err := json.Marshal(event)
		if err != nil {
			log.Printf("notify: marshal event: %v", err)
			return
		}
		if err := f.client.Publish(ctx, channel, payload).Err(); err == nil {
			return
		} else {
			log.Printf("notify: publish failed, delivering locally: %v", err)
		}
	}
	f.broadcast(event)
}

// Subscribe registers a local subscriber. The returned cancel func must be
// called on teardown. Slow subscribers drop events rather than blocking the
// feed; a dropped event is harmless because the next one carries a full
// snapshot again.
func (f *Feed) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 8)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		if _, ok := f.subs[ch]; ok {
			delete(f.subs, ch)
			close(ch)
		}
		f.mu.Unlock()
	}
	return ch, cancel
}

func (f *Feed) broadcast(event Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

func (f *Feed) relay(ctx context.Context) {
	defer close(f.done)
	pubsub := f.client.Subscribe(ctx, channel)
	defer pubsub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-pubsub.Channel():
			if !ok {
				return
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Printf("notify: bad event payload: %v", err)
				continue
			}
			f.broadcast(event)
		}
	}
}

// Close stops the relay loop and drops all subscribers.
func (f *Feed) Close() {
	if f.cancel != nil {
		f.cancel()
		<-f.done
	}
	f.mu.Lock()
	for ch := range f.subs {
		delete(f.subs, ch)
		close(ch)
	}
	f.mu.Unlock()
}
