// Package reconcile merges optimistic local messages with their server
// confirmed counterparts into one ordered sequence.
//
// Three sources describe the same message: the optimistic insert, the REST
// response and the gateway event. They may arrive in any order and events may
// repeat. Every operation here is idempotent and none of them fails; unknown
// ids are reported through the return value and otherwise ignored.
package reconcile

import (
	"cmp"
	"slices"
	"strconv"
	"time"

	"github.com/samber/lo"
)

// ID is either a client-generated provisional id or a server-assigned
// canonical id, never both.
type ID struct {
	provisional string
	canonical   uint64
}

func Provisional(id string) ID { return ID{provisional: id} }
func Canonical(id uint64) ID   { return ID{canonical: id} }

func (id ID) IsCanonical() bool { return id.canonical != 0 }

func (id ID) IsZero() bool { return id.canonical == 0 && id.provisional == "" }

func (id ID) CanonicalID() (uint64, bool) { return id.canonical, id.canonical != 0 }

func (id ID) ProvisionalID() (string, bool) {
	return id.provisional, id.canonical == 0 && id.provisional != ""
}

func (id ID) String() string {
	if id.IsCanonical() {
		return strconv.FormatUint(id.canonical, 10)
	}
	return "~" + id.provisional
}

// Entity is one chat message as the UI sees it.
type Entity struct {
	ID ID
	// ClientRef is the provisional id the message was created under. It
	// survives confirmation and is echoed by the server.
	ClientRef  string
	RoomID     uint64
	SenderID   uint64
	SenderName string
	Body       string
	Reactions  map[string][]uint64
	CreatedAt  time.Time
	UpdatedAt  time.Time

	Sending bool
	Failed  bool
	Deleted bool
	// SendErr is the reason of the last failed send.
	SendErr error
}

func (e *Entity) clone() Entity {
	c := *e
	c.Reactions = cloneReactions(e.Reactions)
	return c
}

func cloneReactions(r map[string][]uint64) map[string][]uint64 {
	if r == nil {
		return nil
	}
	out := make(map[string][]uint64, len(r))
	for k, v := range r {
		out[k] = slices.Clone(v)
	}
	return out
}

// Patch is a partial update to a canonical message. Nil fields are unchanged.
type Patch struct {
	Body      *string
	Reactions map[string][]uint64
	UpdatedAt time.Time
}

// Outcome describes what an operation did.
type Outcome int

const (
	// Ignored: the input was unusable (for example a zero canonical id).
	Ignored Outcome = iota
	// Inserted: a message not seen before was added.
	Inserted
	// Collapsed: an optimistic message became canonical.
	Collapsed
	// Duplicate: the canonical message was already present; nothing changed.
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Collapsed:
		return "collapsed"
	case Duplicate:
		return "duplicate"
	default:
		return "ignored"
	}
}

// Reconciler holds the message sequence of one room. It is not safe for
// concurrent use; the room session owns it.
//
// Visible order: canonical messages by ascending canonical id (server ids
// grow with server time), then provisional messages in insertion order.
type Reconciler struct {
	confirmed []*Entity
	pending   []*Entity

	byCanonical   map[uint64]*Entity
	byProvisional map[string]*Entity
}

func New() *Reconciler {
	return &Reconciler{
		byCanonical:   make(map[uint64]*Entity),
		byProvisional: make(map[string]*Entity),
	}
}

func (r *Reconciler) Len() int { return len(r.confirmed) + len(r.pending) }

// Snapshot returns copies of all messages in visible order.
func (r *Reconciler) Snapshot() []Entity {
	out := make([]Entity, 0, r.Len())
	for _, e := range r.confirmed {
		out = append(out, e.clone())
	}
	for _, e := range r.pending {
		out = append(out, e.clone())
	}
	return out
}

// get returns a copy of the message with the given id.
func (r *Reconciler) get(id ID) (Entity, bool) {
	if c, ok := id.CanonicalID(); ok {
		if e, ok := r.byCanonical[c]; ok {
			return e.clone(), true
		}
		return Entity{}, false
	}
	if p, ok := id.ProvisionalID(); ok {
		if e, ok := r.byProvisional[p]; ok {
			return e.clone(), true
		}
	}
	return Entity{}, false
}

// InsertOptimistic appends a message that has not been confirmed yet. The
// entity must carry a provisional id that is not in use.
func (r *Reconciler) InsertOptimistic(e Entity) bool {
	p, ok := e.ID.ProvisionalID()
	if !ok {
		return false
	}
	if _, exists := r.byProvisional[p]; exists {
		return false
	}
	n := e.clone()
	n.ClientRef = p
	n.Sending, n.Failed, n.Deleted, n.SendErr = true, false, false, nil
	r.pending = append(r.pending, &n)
	r.byProvisional[p] = &n
	return true
}

// Confirm applies the REST response for provisionalID. When the optimistic
// message is gone (the gateway event already confirmed it) this falls back
// to ReconcileByGatewayEvent, which then reports a Duplicate.
func (r *Reconciler) Confirm(provisionalID string, canonical Entity) Outcome {
	c, ok := canonical.ID.CanonicalID()
	if !ok {
		return Ignored
	}
	e, found := r.byProvisional[provisionalID]
	if !found {
		return r.ReconcileByGatewayEvent(canonical)
	}
	if _, dup := r.byCanonical[c]; dup {
		// Both the event and a second optimistic copy exist; keep the canonical one.
		r.removePending(e)
		return Duplicate
	}
	r.collapse(e, canonical)
	return Collapsed
}

// ReconcileByGatewayEvent applies a message delivered by the gateway.
// Replaying the same event any number of times has no further effect.
func (r *Reconciler) ReconcileByGatewayEvent(canonical Entity) Outcome {
	c, ok := canonical.ID.CanonicalID()
	if !ok {
		return Ignored
	}
	if _, dup := r.byCanonical[c]; dup {
		return Duplicate
	}
	if e := r.correlate(canonical); e != nil {
		r.collapse(e, canonical)
		return Collapsed
	}

	n := canonical.clone()
	n.Sending, n.Failed, n.SendErr = false, false, nil
	r.insertConfirmed(&n)
	return Inserted
}

// MarkFailed keeps the message visible as retryable.
func (r *Reconciler) MarkFailed(provisionalID string, err error) bool {
	e, ok := r.byProvisional[provisionalID]
	if !ok {
		return false
	}
	e.Sending, e.Failed, e.SendErr = false, true, err
	return true
}

// Retry puts a failed message back into the sending state and returns it.
func (r *Reconciler) Retry(provisionalID string) (Entity, bool) {
	e, ok := r.byProvisional[provisionalID]
	if !ok || !e.Failed {
		return Entity{}, false
	}
	e.Sending, e.Failed, e.SendErr = true, false, nil
	return e.clone(), true
}

// MarkDeleted flags a canonical message as deleted in place.
func (r *Reconciler) MarkDeleted(canonicalID uint64) bool {
	e, ok := r.byCanonical[canonicalID]
	if !ok {
		return false
	}
	e.Deleted = true
	return true
}

// ApplyUpdate patches a canonical message in place.
func (r *Reconciler) ApplyUpdate(canonicalID uint64, p Patch) bool {
	e, ok := r.byCanonical[canonicalID]
	if !ok {
		return false
	}
	if p.Body != nil {
		e.Body = *p.Body
	}
	if p.Reactions != nil {
		e.Reactions = cloneReactions(p.Reactions)
	}
	if !p.UpdatedAt.IsZero() {
		e.UpdatedAt = p.UpdatedAt
	}
	return true
}

// correlate finds the optimistic message a canonical one stands for: the one
// whose provisional id the server echoed, or else the oldest message still
// sending from the same sender with the same body.
func (r *Reconciler) correlate(canonical Entity) *Entity {
	if canonical.ClientRef != "" {
		if e, ok := r.byProvisional[canonical.ClientRef]; ok {
			return e
		}
		return nil
	}
	e, _, ok := lo.FindIndexOf(r.pending, func(e *Entity) bool {
		return e.Sending && e.SenderID == canonical.SenderID && e.Body == canonical.Body
	})
	if !ok {
		return nil
	}
	return e
}

// collapse turns optimistic entity e into the canonical message. The same
// record is kept so its client ref survives.
func (r *Reconciler) collapse(e *Entity, canonical Entity) {
	r.removePending(e)
	ref := e.ClientRef
	*e = canonical.clone()
	e.ClientRef = ref
	e.Sending, e.Failed, e.SendErr = false, false, nil
	r.insertConfirmed(e)
}

func (r *Reconciler) removePending(e *Entity) {
	r.pending = lo.Without(r.pending, e)
	delete(r.byProvisional, e.ClientRef)
}

func (r *Reconciler) insertConfirmed(e *Entity) {
	c := e.ID.canonical
	i, _ := slices.BinarySearchFunc(r.confirmed, c, func(x *Entity, id uint64) int {
		return cmp.Compare(x.ID.canonical, id)
	})
	r.confirmed = slices.Insert(r.confirmed, i, e)
	r.byCanonical[c] = e
}
