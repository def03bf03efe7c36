// Package stream fans committed ledger events out to live subscribers.
package stream

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"campuswallet.org/internal/events"
	"campuswallet.org/internal/obs"
)

// Stream fan-outs ledger events to all active subscribers (SSE clients).
type Stream struct {
	mu     sync.RWMutex
	subs   map[int]chan events.Event
	next   int
	buffer int
}

var _ events.Publisher = (*Stream)(nil)

// New returns an empty stream whose subscribers buffer up to buffer events.
func New(buffer int) *Stream {
	if buffer <= 0 {
		buffer = 16
	}
	return &Stream{subs: make(map[int]chan events.Event), buffer: buffer}
}

// Subscribe registers a subscriber and returns a channel which will receive events.
// The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan events.Event {
	ch := make(chan events.Event, s.buffer)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers. Slow subscribers miss events.
func (s *Stream) Publish(_ context.Context, evt events.Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			obs.Logger().Debug("stream_event_dropped", zap.String("event_id", evt.ID))
		}
	}
	return nil
}

// Subscribers returns the number of live subscribers.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
