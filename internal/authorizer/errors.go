package authorizer

import (
	"errors"
	"fmt"

	"familyhub/internal/channel"
)

var (
	// ErrUnauthenticated means no valid caller identity was presented.
	// It takes precedence over every other outcome.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrDenied matches every *DeniedError.
	ErrDenied = errors.New("access denied")
	// ErrInvalidTopic is returned for malformed channel names.
	ErrInvalidTopic = channel.ErrInvalidTopic
	// ErrInvalidSocketID is returned for socket ids outside the gateway grammar.
	ErrInvalidSocketID = errors.New("invalid socket id")
)

// DenyReason explains a denial in audit logs.
type DenyReason string

const ReasonNotAMember DenyReason = "not_a_member"

// DeniedError is returned when an authenticated caller may not join a topic.
type DeniedError struct {
	Channel string
	Reason  DenyReason
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("access to %s denied: %s", e.Channel, e.Reason)
}

func (e *DeniedError) Is(target error) bool {
	return target == ErrDenied
}
