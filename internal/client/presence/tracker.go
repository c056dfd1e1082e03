// Package presence tracks who is typing in the focused room and throttles
// the local user's own typing signals.
package presence

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/benbjohnson/clock"

	"familyhub/internal/cache"
)

const (
	DefaultSweepInterval = 3 * time.Second
	DefaultTTL           = 5 * time.Second
)

var ErrTTLTooShort = errors.New("typing ttl must exceed the sweep interval")

// Signal says a user was seen typing on a topic.
type Signal struct {
	Topic      string
	UserID     uint64
	Name       string
	LastSeenAt time.Time
}

type signalKey struct {
	topic  string
	userID uint64
}

type Config struct {
	SweepInterval time.Duration
	TTL           time.Duration
	Clock         clock.Clock
}

// Tracker holds the typing signals of the focused topic. It is not safe for
// concurrent use; the room session owns it.
type Tracker struct {
	sweep   time.Duration
	ttl     time.Duration
	clock   clock.Clock
	focused string
	signals *cache.SimpleCache[signalKey, Signal]
}

func NewTracker(cfg Config) (*Tracker, error) {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.TTL <= cfg.SweepInterval {
		return nil, fmt.Errorf("%w: ttl %s, sweep %s", ErrTTLTooShort, cfg.TTL, cfg.SweepInterval)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Tracker{
		sweep: cfg.SweepInterval,
		ttl:   cfg.TTL,
		clock: cfg.Clock,
		signals: cache.NewSimpleCache[signalKey, Signal](cache.Options{
			Now: cfg.Clock.Now,
		}),
	}, nil
}

func (t *Tracker) SweepInterval() time.Duration { return t.sweep }
func (t *Tracker) TTL() time.Duration           { return t.ttl }
func (t *Tracker) focusedTopic() string         { return t.focused }

// Focus switches the visible topic and forgets every signal of other topics.
func (t *Tracker) Focus(topic string) {
	if topic == t.focused {
		return
	}
	t.focused = topic
	t.signals.Clear()
}

// OnTyping records or refreshes a typing signal. Signals for a topic other
// than the focused one are dropped.
func (t *Tracker) OnTyping(topic string, userID uint64, name string) bool {
	if topic == "" || topic != t.focused || userID == 0 {
		return false
	}
	t.signals.Set(signalKey{topic, userID}, Signal{
		Topic:      topic,
		UserID:     userID,
		Name:       name,
		LastSeenAt: t.clock.Now(),
	}, t.ttl)
	return true
}

// OnStoppedTyping removes the signal right away.
func (t *Tracker) OnStoppedTyping(topic string, userID uint64) bool {
	return t.signals.Delete(signalKey{topic, userID})
}

// Sweep drops every signal whose age reached the TTL and returns how many.
func (t *Tracker) Sweep() int {
	return t.signals.PurgeExpired()
}

// Typers returns the live signals of the focused topic ordered by name.
func (t *Tracker) Typers() []Signal {
	var out []Signal
	t.signals.Range(func(k signalKey, s Signal) bool {
		if k.topic == t.focused {
			out = append(out, s)
		}
		return true
	})
	slices.SortFunc(out, func(a, b Signal) int {
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
	return out
}

// Reset forgets all signals and the focused topic.
func (t *Tracker) Reset() {
	t.focused = ""
	t.signals.Clear()
}
