package channel

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidTopic is returned for channel names outside the supported grammar.
var ErrInvalidTopic = errors.New("invalid topic")

// Kind is the access class of a topic, derived from its name prefix.
type Kind string

const (
	KindPrivate  Kind = "private"
	KindPresence Kind = "presence"
)

// Resource is the kind of entity a topic is bound to.
type Resource string

const (
	ResourceChatRoom Resource = "chat-room"
	ResourceFamily   Resource = "family"
)

const (
	chatRoomPrefix = "private-chat-room."
	familyPrefix   = "presence-family."
)

// Topic is a parsed channel name.
type Topic struct {
	Kind     Kind
	Resource Resource
	ID       uint64
}

// ChatRoom returns the private topic for a chat room.
func ChatRoom(roomID uint64) Topic {
	return Topic{Kind: KindPrivate, Resource: ResourceChatRoom, ID: roomID}
}

// Family returns the presence topic for a family.
func Family(familyID uint64) Topic {
	return Topic{Kind: KindPresence, Resource: ResourceFamily, ID: familyID}
}

// Name renders the canonical channel name. Parse(t.Name()) == t for every valid topic.
func (t Topic) Name() string {
	switch {
	case t.Kind == KindPrivate && t.Resource == ResourceChatRoom:
		return chatRoomPrefix + strconv.FormatUint(t.ID, 10)
	case t.Kind == KindPresence && t.Resource == ResourceFamily:
		return familyPrefix + strconv.FormatUint(t.ID, 10)
	default:
		return ""
	}
}

func (t Topic) String() string { return t.Name() }

// IsPresence reports whether subscribers of t publish member data.
func (t Topic) IsPresence() bool { return t.Kind == KindPresence }

// Parse parses a channel name. The grammar is exact and case-sensitive:
// "private-chat-room.<id>" or "presence-family.<id>" where id is a positive
// decimal integer without sign or leading zeros.
func Parse(name string) (Topic, error) {
	var (
		t    Topic
		rest string
	)
	switch {
	case strings.HasPrefix(name, chatRoomPrefix):
		t = Topic{Kind: KindPrivate, Resource: ResourceChatRoom}
		rest = name[len(chatRoomPrefix):]
	case strings.HasPrefix(name, familyPrefix):
		t = Topic{Kind: KindPresence, Resource: ResourceFamily}
		rest = name[len(familyPrefix):]
	default:
		return Topic{}, fmt.Errorf("%w: unknown prefix in %q", ErrInvalidTopic, name)
	}

	id, err := parseID(rest)
	if err != nil {
		return Topic{}, fmt.Errorf("%w: %q: %v", ErrInvalidTopic, name, err)
	}
	t.ID = id
	return t, nil
}

func parseID(s string) (uint64, error) {
	if s == "" {
		return 0, errors.New("missing resource id")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, errors.New("resource id must be numeric")
		}
	}
	if s[0] == '0' {
		return 0, errors.New("resource id must be positive without leading zeros")
	}
	return strconv.ParseUint(s, 10, 64)
}
