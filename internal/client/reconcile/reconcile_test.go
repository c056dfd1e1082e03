package reconcile

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func optimistic(p, body string) Entity {
	return Entity{ID: Provisional(p), RoomID: 5, SenderID: 1, SenderName: "Alice", Body: body, CreatedAt: t0}
}

func canonical(id uint64, ref, body string) Entity {
	return Entity{ID: Canonical(id), ClientRef: ref, RoomID: 5, SenderID: 1, SenderName: "Alice", Body: body, CreatedAt: t0.Add(time.Duration(id) * time.Second)}
}

func ids(r *Reconciler) []string {
	var out []string
	for _, e := range r.Snapshot() {
		out = append(out, e.ID.String())
	}
	return out
}

func TestID_SumType(t *testing.T) {
	p := Provisional("p1")
	_, isCanon := p.CanonicalID()
	require.False(t, isCanon)
	ref, ok := p.ProvisionalID()
	require.True(t, ok)
	require.Equal(t, "p1", ref)
	require.Equal(t, "~p1", p.String())

	c := Canonical(99)
	id, ok := c.CanonicalID()
	require.True(t, ok)
	require.Equal(t, uint64(99), id)
	_, ok = c.ProvisionalID()
	require.False(t, ok)
	require.True(t, ID{}.IsZero())
}

func TestInsertOptimistic(t *testing.T) {
	r := New()
	require.True(t, r.InsertOptimistic(optimistic("p1", "hi")))
	require.False(t, r.InsertOptimistic(optimistic("p1", "again")))
	require.False(t, r.InsertOptimistic(canonical(3, "", "not provisional")))

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	require.True(t, snap[0].Sending)
	require.Equal(t, "p1", snap[0].ClientRef)
}

func TestConfirm_CollapsesIntoCanonical(t *testing.T) {
	r := New()
	r.InsertOptimistic(optimistic("p1", "hi"))

	require.Equal(t, Collapsed, r.Confirm("p1", canonical(99, "p1", "hi")))
	snap := r.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, Canonical(99), snap[0].ID)
	require.Equal(t, "p1", snap[0].ClientRef)
	require.False(t, snap[0].Sending)

	_, ok := r.get(Provisional("p1"))
	require.False(t, ok)
}

func TestGatewayEvent_Idempotent(t *testing.T) {
	r := New()
	r.ReconcileByGatewayEvent(canonical(1, "", "a"))
	once := r.Snapshot()

	for range 5 {
		require.Equal(t, Duplicate, r.ReconcileByGatewayEvent(canonical(1, "", "a")))
	}
	require.Equal(t, once, r.Snapshot())
}

// Optimistic insert at t0, gateway event at t1, REST confirmation at t2.
func TestGatewayBeforeREST_OneEntityAtCanonicalPosition(t *testing.T) {
	r := New()
	r.ReconcileByGatewayEvent(canonical(98, "", "earlier"))
	r.InsertOptimistic(optimistic("p1", "hello"))
	r.InsertOptimistic(optimistic("p2", "later draft"))
	r.ReconcileByGatewayEvent(canonical(100, "", "from someone else"))

	require.Equal(t, Collapsed, r.ReconcileByGatewayEvent(canonical(99, "p1", "hello")))
	require.Equal(t, Duplicate, r.Confirm("p1", canonical(99, "p1", "hello")))

	require.Equal(t, []string{"98", "99", "100", "~p2"}, ids(r))
	require.Equal(t, 4, r.Len())
}

func TestGatewayEvent_CorrelatesWithoutClientRef(t *testing.T) {
	r := New()
	r.InsertOptimistic(optimistic("p1", "same"))
	r.InsertOptimistic(optimistic("p2", "same"))

	other := canonical(50, "", "same")
	other.SenderID = 2
	require.Equal(t, Inserted, r.ReconcileByGatewayEvent(other))

	require.Equal(t, Collapsed, r.ReconcileByGatewayEvent(canonical(51, "", "same")))
	require.Equal(t, []string{"50", "51", "~p2"}, ids(r))

	got, ok := r.get(Canonical(51))
	require.True(t, ok)
	require.Equal(t, "p1", got.ClientRef)
}

func TestConfirm_UnknownProvisionalFallsBackToInsert(t *testing.T) {
	r := New()
	require.Equal(t, Inserted, r.Confirm("lost", canonical(7, "lost", "x")))
	require.Equal(t, []string{"7"}, ids(r))
}

func TestConfirm_DuplicateDropsStrayOptimistic(t *testing.T) {
	r := New()
	r.InsertOptimistic(optimistic("p1", "edited before send"))
	r.ReconcileByGatewayEvent(canonical(9, "", "different body"))

	require.Equal(t, Duplicate, r.Confirm("p1", canonical(9, "p1", "different body")))
	require.Equal(t, []string{"9"}, ids(r))
}

func TestOrdering_OutOfOrderEvents(t *testing.T) {
	r := New()
	for _, id := range []uint64{5, 2, 9, 1, 7} {
		r.ReconcileByGatewayEvent(canonical(id, "", "m"))
	}
	require.Equal(t, []string{"1", "2", "5", "7", "9"}, ids(r))
}

func TestIgnoredInputs(t *testing.T) {
	r := New()
	require.Equal(t, Ignored, r.ReconcileByGatewayEvent(Entity{ID: Provisional("x")}))
	require.Equal(t, Ignored, r.Confirm("x", Entity{}))
	require.Zero(t, r.Len())
}

func TestMarkFailedAndRetry(t *testing.T) {
	r := New()
	r.InsertOptimistic(optimistic("p1", "hi"))

	_, ok := r.Retry("p1")
	require.False(t, ok, "only failed messages can be retried")

	sendErr := errors.New("503")
	require.True(t, r.MarkFailed("p1", sendErr))
	got, _ := r.get(Provisional("p1"))
	require.True(t, got.Failed)
	require.False(t, got.Sending)
	require.ErrorIs(t, got.SendErr, sendErr)

	retried, ok := r.Retry("p1")
	require.True(t, ok)
	require.True(t, retried.Sending)
	require.False(t, retried.Failed)
	require.Nil(t, retried.SendErr)

	require.False(t, r.MarkFailed("nope", sendErr))
}

func TestFailedMessageStillCollapsesByClientRef(t *testing.T) {
	r := New()
	r.InsertOptimistic(optimistic("p1", "hi"))
	r.MarkFailed("p1", errors.New("timeout"))

	require.Equal(t, Collapsed, r.ReconcileByGatewayEvent(canonical(4, "p1", "hi")))
	got, _ := r.get(Canonical(4))
	require.False(t, got.Failed)
}

func TestMarkDeletedAndApplyUpdate(t *testing.T) {
	r := New()
	r.ReconcileByGatewayEvent(canonical(3, "", "first"))

	body := "edited"
	reactions := map[string][]uint64{"heart": {2, 3}}
	require.True(t, r.ApplyUpdate(3, Patch{Body: &body, Reactions: reactions, UpdatedAt: t0.Add(time.Hour)}))
	require.False(t, r.ApplyUpdate(404, Patch{Body: &body}))

	reactions["heart"] = append(reactions["heart"], 9)
	got, _ := r.get(Canonical(3))
	require.Equal(t, "edited", got.Body)
	require.Equal(t, []uint64{2, 3}, got.Reactions["heart"])

	require.True(t, r.MarkDeleted(3))
	require.False(t, r.MarkDeleted(404))
	got, _ = r.get(Canonical(3))
	require.True(t, got.Deleted)
	require.Equal(t, 1, r.Len())
}

func TestSnapshot_IsACopy(t *testing.T) {
	r := New()
	e := canonical(1, "", "x")
	e.Reactions = map[string][]uint64{"+1": {1}}
	r.ReconcileByGatewayEvent(e)

	snap := r.Snapshot()
	snap[0].Body = "mutated"
	snap[0].Reactions["+1"][0] = 42

	got, _ := r.get(Canonical(1))
	require.Equal(t, "x", got.Body)
	require.Equal(t, []uint64{1}, got.Reactions["+1"])
}
