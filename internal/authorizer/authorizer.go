// Package authorizer decides which private and presence topics a connection
// may join and signs that decision for the broadcast gateway.
//
// The string to sign is "<socket_id>:<channel_name>" for private topics and
// "<socket_id>:<channel_name>:<channel_data>" for presence topics, where
// channel_data is the exact JSON text returned to the client. The gateway
// recomputes the HMAC over the same bytes, so the channel name is signed
// exactly as received and never normalized.
package authorizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"familyhub/internal/auth"
	"familyhub/internal/channel"
	"familyhub/internal/membership"
	"familyhub/internal/metrics"
	"familyhub/internal/models"
	"familyhub/internal/signature"

	"github.com/rs/zerolog"
)

var socketIDPattern = regexp.MustCompile(`^\d+\.\d+$`)

// ValidSocketID reports whether id matches the gateway's socket id grammar.
func ValidSocketID(id string) bool {
	return socketIDPattern.MatchString(id)
}

// MemberInfo is the public part of a presence member.
type MemberInfo struct {
	Name string            `json:"name"`
	Role models.MemberRole `json:"role"`
}

// MemberPayload is published to other subscribers of a presence topic.
type MemberPayload struct {
	UserID   uint64     `json:"user_id"`
	UserInfo MemberInfo `json:"user_info"`
}

// Grant is a signed attestation that SocketID may join Channel.
type Grant struct {
	Topic     channel.Topic
	Channel   string
	SocketID  string
	Signature string
	// Auth is "<app key>:<signature>", the value the gateway expects.
	Auth string
	// ChannelData is set for presence topics only; it is part of the signed string.
	ChannelData string
	Member      *MemberPayload
}

// Authorizer is stateless per call and safe for concurrent use.
type Authorizer struct {
	appKey   string
	secret   []byte
	verifier membership.Verifier
	log      zerolog.Logger
}

func New(appKey string, secret []byte, verifier membership.Verifier, log zerolog.Logger) *Authorizer {
	return &Authorizer{
		appKey:   appKey,
		secret:   secret,
		verifier: verifier,
		log:      log.With().Str("component", "authorizer").Logger(),
	}
}

// Authorize decides whether caller may subscribe socketID to channelName.
func (a *Authorizer) Authorize(ctx context.Context, channelName, socketID string, caller *auth.Identity) (*Grant, error) {
	if caller == nil || caller.UserID == 0 {
		a.audit(zerolog.WarnLevel, nil, channelName, socketID, "", "unauthenticated")
		return nil, ErrUnauthenticated
	}

	topic, err := channel.Parse(channelName)
	if err != nil {
		a.audit(zerolog.ErrorLevel, caller, channelName, socketID, "", "invalid")
		return nil, err
	}
	if !ValidSocketID(socketID) {
		a.audit(zerolog.ErrorLevel, caller, channelName, socketID, topic.Kind, "invalid")
		return nil, fmt.Errorf("%w: %q", ErrInvalidSocketID, socketID)
	}

	var member *MemberPayload
	switch topic.Resource {
	case channel.ResourceChatRoom:
		err = a.checkRoom(ctx, topic.ID, caller.UserID)
	case channel.ResourceFamily:
		member, err = a.checkFamily(ctx, topic.ID, caller.UserID)
	default:
		err = fmt.Errorf("%w: unsupported resource %q", ErrInvalidTopic, topic.Resource)
	}
	if err != nil {
		outcome, level := "error", zerolog.ErrorLevel
		var denied *DeniedError
		if errors.As(err, &denied) {
			denied.Channel = channelName
			outcome, level = "denied", zerolog.WarnLevel
		}
		a.audit(level, caller, channelName, socketID, topic.Kind, outcome)
		return nil, err
	}

	grant := &Grant{
		Topic:    topic,
		Channel:  channelName,
		SocketID: socketID,
		Member:   member,
	}
	if member != nil {
		data, err := json.Marshal(member)
		if err != nil {
			return nil, fmt.Errorf("encode channel data: %w", err)
		}
		grant.ChannelData = string(data)
		grant.Signature = signature.Sign(a.secret, socketID, channelName, grant.ChannelData)
	} else {
		grant.Signature = signature.Sign(a.secret, socketID, channelName)
	}
	grant.Auth = a.appKey + ":" + grant.Signature

	a.audit(zerolog.InfoLevel, caller, channelName, socketID, topic.Kind, "granted")
	return grant, nil
}

// CanJoinRoom applies the private chat room rule without issuing a grant.
// The typing relay uses it so relayed signals follow the same membership rule
// as subscriptions.
func (a *Authorizer) CanJoinRoom(ctx context.Context, roomID uint64, caller *auth.Identity) error {
	if caller == nil || caller.UserID == 0 {
		return ErrUnauthenticated
	}
	err := a.checkRoom(ctx, roomID, caller.UserID)
	var denied *DeniedError
	if errors.As(err, &denied) {
		denied.Channel = channel.ChatRoom(roomID).Name()
	}
	return err
}

// checkRoom requires an active membership in the room's owning family and in the room itself.
func (a *Authorizer) checkRoom(ctx context.Context, roomID, userID uint64) error {
	familyID, ok, err := a.verifier.RoomFamily(ctx, roomID)
	if err != nil {
		return err
	}
	if !ok {
		return &DeniedError{Reason: ReasonNotAMember}
	}
	if _, ok, err = a.verifier.ActiveFamilyMember(ctx, familyID, userID); err != nil {
		return err
	} else if !ok {
		return &DeniedError{Reason: ReasonNotAMember}
	}
	if ok, err = a.verifier.ActiveRoomMember(ctx, roomID, userID); err != nil {
		return err
	} else if !ok {
		return &DeniedError{Reason: ReasonNotAMember}
	}
	return nil
}

func (a *Authorizer) checkFamily(ctx context.Context, familyID, userID uint64) (*MemberPayload, error) {
	m, ok, err := a.verifier.ActiveFamilyMember(ctx, familyID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &DeniedError{Reason: ReasonNotAMember}
	}
	return &MemberPayload{
		UserID:   m.UserID,
		UserInfo: MemberInfo{Name: m.Name, Role: m.Role},
	}, nil
}

func (a *Authorizer) audit(level zerolog.Level, caller *auth.Identity, channelName, socketID string, kind channel.Kind, outcome string) {
	kindLabel := string(kind)
	if kindLabel == "" {
		kindLabel = "unknown"
	}
	metrics.ChannelAuthTotal.WithLabelValues(kindLabel, outcome).Inc()

	ev := a.log.WithLevel(level).
		Bool("audit", true).
		Str("channel", channelName).
		Str("socket_id", socketID).
		Str("outcome", outcome)
	if caller != nil {
		ev = ev.Uint64("user_id", caller.UserID)
	}
	ev.Msg("channel authorization")
}
