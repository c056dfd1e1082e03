package connection

import (
	"context"

	"familyhub/internal/client/events"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"
)

type phase int

const (
	phaseIdle phase = iota
	phaseAuthorizing
	phaseSubscribing
	phaseSubscribed
)

// topic is the subscription intent for one channel plus its open handles.
type topic struct {
	name  string
	subs  map[*Subscription]struct{}
	phase phase

	authSeq    uint64
	authCancel context.CancelFunc

	// authFailures counts transient authorization failures on the current
	// connection; retryTimer re-authorizes after the backoff delay.
	authFailures int
	retryTimer   *clock.Timer
}

// cancelAuth abandons an in-flight authorization and any scheduled retry.
func (t *topic) cancelAuth() {
	if t.authCancel != nil {
		t.authCancel()
		t.authCancel = nil
	}
	t.stopRetry()
}

func (t *topic) stopRetry() {
	if t.retryTimer != nil {
		t.retryTimer.Stop()
		t.retryTimer = nil
	}
}

// registry maps channel names to topics. It is owned by the manager's actor
// loop and needs no locking.
type registry struct {
	topics map[string]*topic
}

func newRegistry() *registry {
	return &registry{topics: make(map[string]*topic)}
}

func (r *registry) get(name string) *topic {
	return r.topics[name]
}

// register adds a handle, creating the topic if needed.
func (r *registry) register(name string, s *Subscription) *topic {
	t, ok := r.topics[name]
	if !ok {
		t = &topic{name: name, subs: make(map[*Subscription]struct{})}
		r.topics[name] = t
	}
	t.subs[s] = struct{}{}
	return t
}

// unregister removes a handle and reports whether it was the topic's last one.
func (r *registry) unregister(s *Subscription) (*topic, bool) {
	t, ok := r.topics[s.channel]
	if !ok {
		return nil, false
	}
	if _, ok := t.subs[s]; !ok {
		return t, false
	}
	delete(t.subs, s)
	return t, len(t.subs) == 0
}

func (r *registry) remove(name string) {
	delete(r.topics, name)
}

func (r *registry) all() []*topic {
	return lo.Values(r.topics)
}

func (r *registry) names() []string {
	return lo.Keys(r.topics)
}

// broadcast hands ev to every handle of the topic.
func (r *registry) broadcast(name string, ev events.Event) int {
	t, ok := r.topics[name]
	if !ok {
		return 0
	}
	for s := range t.subs {
		s.deliver(ev)
	}
	return len(t.subs)
}
