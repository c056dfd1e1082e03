package presence

import (
	"time"

	"github.com/benbjohnson/clock"
)

const DefaultDebounce = 400 * time.Millisecond

// EmitFunc sends the local user's typing state for a topic. It must not block.
type EmitFunc func(topic string, typing bool)

// Notifier turns keystrokes into outbound typing signals. The first keystroke
// emits at once; further keystrokes emit again only after the window has
// passed since the last emission. Not safe for concurrent use.
type Notifier struct {
	window   time.Duration
	clock    clock.Clock
	emit     EmitFunc
	lastSent map[string]time.Time
}

func NewNotifier(window time.Duration, clk clock.Clock, emit EmitFunc) *Notifier {
	if window <= 0 {
		window = DefaultDebounce
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Notifier{
		window:   window,
		clock:    clk,
		emit:     emit,
		lastSent: make(map[string]time.Time),
	}
}

// Keystroke reports whether a typing signal was emitted.
func (n *Notifier) Keystroke(topic string) bool {
	now := n.clock.Now()
	if last, ok := n.lastSent[topic]; ok && now.Sub(last) < n.window {
		return false
	}
	n.lastSent[topic] = now
	n.emit(topic, true)
	return true
}

// Stop emits "stopped typing" if a typing signal went out for the topic since
// the last Stop.
func (n *Notifier) Stop(topic string) bool {
	if _, ok := n.lastSent[topic]; !ok {
		return false
	}
	delete(n.lastSent, topic)
	n.emit(topic, false)
	return true
}

// active reports whether the topic has an unstopped typing signal.
func (n *Notifier) active(topic string) bool {
	_, ok := n.lastSent[topic]
	return ok
}
