package membership

import (
	"context"
	"fmt"
	"time"

	"familyhub/internal/metrics"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type roomFamily struct {
	familyID uint64
	ok       bool
}

type familyMember struct {
	member Member
	ok     bool
}

// Cached wraps a Verifier with short-lived LRU caches. Reconnect storms make
// the gateway re-authorize every topic of every client at once; the cache
// keeps those bursts off the database. Errors are never cached.
type Cached struct {
	next    Verifier
	rooms   *expirable.LRU[uint64, roomFamily]
	members *expirable.LRU[string, familyMember]
	rmember *expirable.LRU[string, bool]
}

// NewCached returns next unchanged when size or ttl is not positive.
func NewCached(next Verifier, size int, ttl time.Duration) Verifier {
	if size <= 0 || ttl <= 0 {
		return next
	}
	return &Cached{
		next:    next,
		rooms:   expirable.NewLRU[uint64, roomFamily](size, nil, ttl),
		members: expirable.NewLRU[string, familyMember](size, nil, ttl),
		rmember: expirable.NewLRU[string, bool](size, nil, ttl),
	}
}

func pairKey(a, b uint64) string {
	return fmt.Sprintf("%d:%d", a, b)
}

func hit(ok bool) {
	if ok {
		metrics.MembershipCacheTotal.WithLabelValues("hit").Inc()
	} else {
		metrics.MembershipCacheTotal.WithLabelValues("miss").Inc()
	}
}

func (c *Cached) RoomFamily(ctx context.Context, roomID uint64) (uint64, bool, error) {
	if v, ok := c.rooms.Get(roomID); ok {
		hit(true)
		return v.familyID, v.ok, nil
	}
	hit(false)
	familyID, ok, err := c.next.RoomFamily(ctx, roomID)
	if err != nil {
		return 0, false, err
	}
	c.rooms.Add(roomID, roomFamily{familyID: familyID, ok: ok})
	return familyID, ok, nil
}

func (c *Cached) ActiveFamilyMember(ctx context.Context, familyID, userID uint64) (Member, bool, error) {
	key := pairKey(familyID, userID)
	if v, ok := c.members.Get(key); ok {
		hit(true)
		return v.member, v.ok, nil
	}
	hit(false)
	m, ok, err := c.next.ActiveFamilyMember(ctx, familyID, userID)
	if err != nil {
		return Member{}, false, err
	}
	c.members.Add(key, familyMember{member: m, ok: ok})
	return m, ok, nil
}

func (c *Cached) ActiveRoomMember(ctx context.Context, roomID, userID uint64) (bool, error) {
	key := pairKey(roomID, userID)
	if v, ok := c.rmember.Get(key); ok {
		hit(true)
		return v, nil
	}
	hit(false)
	ok, err := c.next.ActiveRoomMember(ctx, roomID, userID)
	if err != nil {
		return false, err
	}
	c.rmember.Add(key, ok)
	return ok, nil
}
