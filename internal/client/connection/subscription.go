package connection

import (
	"context"
	"sync"

	"familyhub/internal/client/events"
)

// Subscription is a handle on one channel. Events arrive in gateway order
// on Events(), which is closed when the handle ends. Err explains why the
// handle ended; it is nil after Close.
type Subscription struct {
	channel string
	m       *Manager

	in   chan events.Event
	out  chan events.Event
	done chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

func newSubscription(m *Manager, channel string) *Subscription {
	s := &Subscription{
		channel: channel,
		m:       m,
		in:      make(chan events.Event),
		out:     make(chan events.Event),
		done:    make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *Subscription) Channel() string { return s.channel }

func (s *Subscription) Events() <-chan events.Event { return s.out }

// Done is closed when the handle ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close releases the handle. Closing the last handle of a channel removes
// the subscription intent and leaves the channel on the gateway.
func (s *Subscription) Close() {
	select {
	case <-s.done:
		return
	default:
	}
	if err := s.m.do(context.Background(), func() { s.m.release(s) }); err != nil {
		s.finish(nil)
	}
}

func (s *Subscription) finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

// deliver is called from the manager loop and never waits on the consumer.
func (s *Subscription) deliver(ev events.Event) {
	select {
	case s.in <- ev:
	case <-s.done:
	}
}

// pump decouples the manager loop from slow consumers with an unbounded FIFO.
func (s *Subscription) pump() {
	defer close(s.out)
	var queue []events.Event
	for {
		var (
			out  chan events.Event
			head events.Event
		)
		if len(queue) > 0 {
			out, head = s.out, queue[0]
		}
		select {
		case ev := <-s.in:
			queue = append(queue, ev)
		case out <- head:
			queue[0] = nil
			queue = queue[1:]
		case <-s.done:
			return
		}
	}
}
