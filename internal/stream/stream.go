// Package stream fans out link-creation events to SSE subscribers.
package stream

import (
	"context"
	"sync"
	"time"
)

// LinkEvent describes a relationship created through the authorization
// engine.
type LinkEvent struct {
	Token            string    `json:"token"`
	Follower         string    `json:"follower"`
	Followee         string    `json:"followee"`
	RelationshipType string    `json:"relationship_type"`
	AuthorizedBy     string    `json:"authorized_by"`
	Timestamp        time.Time `json:"timestamp"`
}

// Stream fan-outs link events to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan LinkEvent
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan LinkEvent)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan LinkEvent {
	ch := make(chan LinkEvent, 16)

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

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt LinkEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
