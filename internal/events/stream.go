package events

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Stream is a typed fan-out of one event category to any number of
// subscribers. Publish delivers synchronously, in subscription order; a
// subscriber that panics is logged and skipped without affecting the
// publisher or the remaining subscribers.
//
// Consumers depend on a Stream, not on the poller that feeds it, so the
// polling transport can be swapped for a push transport without touching
// them.
type Stream[T any] struct {
	name   string
	logger *slog.Logger

	mu   sync.Mutex
	subs []subscriber[T]
}

type subscriber[T any] struct {
	id string
	fn func(T)
}

// NewStream creates a stream. name labels misbehaving subscribers in logs.
func NewStream[T any](name string, logger *slog.Logger) *Stream[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream[T]{name: name, logger: logger}
}

// Subscribe registers fn and returns a token for Unsubscribe.
func (s *Stream[T]) Subscribe(fn func(T)) string {
	id := uuid.New().String()
	s.mu.Lock()
	s.subs = append(s.subs, subscriber[T]{id: id, fn: fn})
	s.mu.Unlock()
	return id
}

// Unsubscribe removes the subscription with the given token. Unknown tokens
// are a no-op.
func (s *Stream[T]) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers event to every current subscriber. Subscribers added or
// removed by a callback take effect from the next Publish.
func (s *Stream[T]) Publish(event T) {
	s.mu.Lock()
	subs := make([]subscriber[T], len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		s.deliver(sub, event)
	}
}

func (s *Stream[T]) deliver(sub subscriber[T], event T) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("subscriber panicked",
				slog.String("stream", s.name),
				slog.String("subscription_id", sub.id),
				slog.Any("panic", r),
			)
		}
	}()
	sub.fn(event)
}

// Len returns the current number of subscribers.
func (s *Stream[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
