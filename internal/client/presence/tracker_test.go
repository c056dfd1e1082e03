package presence

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

const room5 = "private-chat-room.5"

func newTracker(t *testing.T) (*Tracker, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	tr, err := NewTracker(Config{Clock: clk})
	require.NoError(t, err)
	tr.Focus(room5)
	return tr, clk
}

func userIDs(s []Signal) []uint64 {
	out := make([]uint64, 0, len(s))
	for _, sig := range s {
		out = append(out, sig.UserID)
	}
	return out
}

func TestNewTracker_Defaults(t *testing.T) {
	tr, err := NewTracker(Config{})
	require.NoError(t, err)
	require.Equal(t, DefaultSweepInterval, tr.SweepInterval())
	require.Equal(t, DefaultTTL, tr.TTL())
	require.Empty(t, tr.Typers())
}

func TestNewTracker_RejectsTTLNotAboveSweep(t *testing.T) {
	_, err := NewTracker(Config{SweepInterval: 3 * time.Second, TTL: 3 * time.Second})
	require.ErrorIs(t, err, ErrTTLTooShort)

	_, err = NewTracker(Config{SweepInterval: 5 * time.Second, TTL: 2 * time.Second})
	require.ErrorIs(t, err, ErrTTLTooShort)
}

func TestOnTyping_OnlyFocusedTopic(t *testing.T) {
	tr, _ := newTracker(t)

	require.True(t, tr.OnTyping(room5, 7, "Bob"))
	require.False(t, tr.OnTyping("private-chat-room.6", 8, "Carol"))
	require.False(t, tr.OnTyping(room5, 0, "nobody"))

	require.Equal(t, []uint64{7}, userIDs(tr.Typers()))
}

func TestFocus_ClearsOtherTopics(t *testing.T) {
	tr, _ := newTracker(t)
	tr.OnTyping(room5, 7, "Bob")

	tr.Focus("private-chat-room.6")
	require.Empty(t, tr.Typers())

	tr.Focus(room5)
	require.Empty(t, tr.Typers(), "signals of a left topic do not come back")
}

func TestOnStoppedTyping_RemovesImmediately(t *testing.T) {
	tr, _ := newTracker(t)
	tr.OnTyping(room5, 7, "Bob")
	tr.OnTyping(room5, 8, "Carol")

	require.True(t, tr.OnStoppedTyping(room5, 7))
	require.False(t, tr.OnStoppedTyping(room5, 7))
	require.Equal(t, []uint64{8}, userIDs(tr.Typers()))
}

func TestTypers_SortedByName(t *testing.T) {
	tr, clk := newTracker(t)
	tr.OnTyping(room5, 3, "Dave")
	tr.OnTyping(room5, 1, "Alice")
	tr.OnTyping(room5, 2, "Carol")
	tr.OnTyping(room5, 4, "Alice")

	got := tr.Typers()
	require.Equal(t, []uint64{1, 4, 2, 3}, userIDs(got))
	require.Equal(t, clk.Now(), got[0].LastSeenAt)
	require.Equal(t, room5, got[0].Topic)
}

func TestTTL_PresentBeforeAbsentAfterSweep(t *testing.T) {
	tr, clk := newTracker(t)
	tr.OnTyping(room5, 7, "Bob")

	clk.Add(tr.TTL() - time.Nanosecond)
	require.Zero(t, tr.Sweep())
	require.Len(t, tr.Typers(), 1)

	clk.Add(time.Nanosecond + tr.SweepInterval())
	require.Equal(t, 1, tr.Sweep())
	require.Empty(t, tr.Typers())
}

func TestTTL_RefreshExtendsLife(t *testing.T) {
	tr, clk := newTracker(t)
	tr.OnTyping(room5, 7, "Bob")
	clk.Add(4 * time.Second)
	tr.OnTyping(room5, 7, "Bob")
	clk.Add(4 * time.Second)

	require.Zero(t, tr.Sweep())
	require.Len(t, tr.Typers(), 1)
}

// User 7 types once in room 5 and then goes quiet for six seconds while the
// sweep runs every three.
func TestSweep_QuietUserDisappearsByFirstSweepPastTTL(t *testing.T) {
	tr, clk := newTracker(t)
	tr.OnTyping(room5, 7, "Bob")

	clk.Add(3 * time.Second)
	tr.Sweep()
	require.Equal(t, []uint64{7}, userIDs(tr.Typers()))

	clk.Add(3 * time.Second)
	require.Equal(t, 1, tr.Sweep())
	require.Empty(t, tr.Typers())
}

func TestReset(t *testing.T) {
	tr, _ := newTracker(t)
	tr.OnTyping(room5, 7, "Bob")
	tr.Reset()
	require.Empty(t, tr.focusedTopic())
	require.Empty(t, tr.Typers())
	require.False(t, tr.OnTyping(room5, 7, "Bob"))
}
