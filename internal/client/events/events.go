// Package events decodes the gateway events a client consumes into a closed
// set of typed variants.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownEvent is returned by Decode for event names outside the set below.
var ErrUnknownEvent = errors.New("unknown event")

// Name is a gateway event name.
type Name string

const (
	NameMessageSent       Name = "message.sent"
	NameMessageUpdated    Name = "message.updated"
	NameMessageDeleted    Name = "message.deleted"
	NameUserTyping        Name = "user.typing"
	NameUserStoppedTyping Name = "user.stopped-typing"
)

// Event is implemented only by the types in this package. Consumers switch
// on the concrete type.
type Event interface {
	Name() Name
	event()
}

// Message is the canonical shape of a chat message as the server serializes it.
type Message struct {
	ID         uint64              `json:"id"`
	ChatRoomID uint64              `json:"chat_room_id"`
	UserID     uint64              `json:"user_id"`
	UserName   string              `json:"user_name"`
	Body       string              `json:"body"`
	ClientRef  string              `json:"client_ref,omitempty"`
	Reactions  map[string][]uint64 `json:"reactions,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

type MessageSent struct {
	Message Message `json:"message"`
}

type MessageUpdated struct {
	Message Message `json:"message"`
}

type MessageDeleted struct {
	ID         uint64 `json:"id"`
	ChatRoomID uint64 `json:"chat_room_id"`
}

// Typing is the payload shared by both typing events.
type Typing struct {
	ChatRoomID uint64 `json:"chat_room_id"`
	UserID     uint64 `json:"user_id"`
	UserName   string `json:"name"`
}

type UserTyping struct{ Typing }

type UserStoppedTyping struct{ Typing }

func (MessageSent) Name() Name       { return NameMessageSent }
func (MessageUpdated) Name() Name    { return NameMessageUpdated }
func (MessageDeleted) Name() Name    { return NameMessageDeleted }
func (UserTyping) Name() Name        { return NameUserTyping }
func (UserStoppedTyping) Name() Name { return NameUserStoppedTyping }

func (MessageSent) event()       {}
func (MessageUpdated) event()    {}
func (MessageDeleted) event()    {}
func (UserTyping) event()        {}
func (UserStoppedTyping) event() {}

// Decode parses data as the payload of the named event.
func Decode(name string, data []byte) (Event, error) {
	var (
		ev Event
		id uint64
	)
	switch Name(name) {
	case NameMessageSent:
		var e MessageSent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		ev, id = e, e.Message.ID
	case NameMessageUpdated:
		var e MessageUpdated
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		ev, id = e, e.Message.ID
	case NameMessageDeleted:
		var e MessageDeleted
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		ev, id = e, e.ID
	case NameUserTyping:
		var e UserTyping
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		ev, id = e, e.UserID
	case NameUserStoppedTyping:
		var e UserStoppedTyping
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		ev, id = e, e.UserID
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
	if id == 0 {
		return nil, fmt.Errorf("decode %s: missing id", name)
	}
	return ev, nil
}
