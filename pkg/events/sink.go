// Package events carries engagement lifecycle notifications from the message
// pipeline to in-process observers (the status command, tests). Publishing is
// fire-and-forget with a bounded wait; a slow consumer drops events rather
// than stalling a reply.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type Kind string

const (
	KindEngaged   Kind = "engaged"
	KindDeclined  Kind = "declined"
	KindReplied   Kind = "replied"
	KindLoopError Kind = "loop_error"
)

type Event struct {
	Kind      Kind
	ChannelID string
	MessageID string
	Reason    string
	At        time.Time
}

const publishTimeout = 100 * time.Millisecond

type Sink struct {
	ch      chan Event
	closed  bool
	dropped atomic.Uint64
	mu      sync.RWMutex
}

func NewSink() *Sink {
	return &Sink{ch: make(chan Event, 100)}
}

func (s *Sink) Publish(evt Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	if evt.At.IsZero() {
		evt.At = time.Now()
	}

	select {
	case s.ch <- evt:
	default:
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case s.ch <- evt:
		case <-timer.C:
			s.dropped.Add(1)
		}
	}
}

// Dropped reports how many events were discarded on a full buffer.
func (s *Sink) Dropped() uint64 {
	return s.dropped.Load()
}

// Consume blocks for the next event; the second return is false once the
// sink is closed or ctx is cancelled.
func (s *Sink) Consume(ctx context.Context) (Event, bool) {
	select {
	case evt, ok := <-s.ch:
		if !ok {
			return Event{}, false
		}
		return evt, true
	case <-ctx.Done():
		return Event{}, false
	}
}

func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
