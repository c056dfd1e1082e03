package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"familyhub/internal/client/connection"
	"familyhub/internal/client/events"
)

// Rooms talks to the room endpoints on behalf of a session.
type Rooms struct {
	client *Client
	creds  connection.Credentials
}

func (c *Client) Rooms(creds connection.Credentials) *Rooms {
	return &Rooms{client: c, creds: creds}
}

func (r *Rooms) token() (string, error) {
	token, err := r.creds.Token()
	if err != nil {
		return "", fmt.Errorf("%w: %w", connection.ErrMissingCredential, err)
	}
	return token, nil
}

func socketHeader(socketID string) http.Header {
	if socketID == "" {
		return nil
	}
	return http.Header{"X-Socket-Id": {socketID}}
}

// History returns up to limit of the latest messages in ascending id order.
func (r *Rooms) History(ctx context.Context, roomID uint64, limit int) ([]events.Message, error) {
	token, err := r.token()
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Data []events.Message `json:"data"`
	}
	err = r.client.do(ctx, request{
		method: http.MethodGet,
		path:   fmt.Sprintf("/api/chat-rooms/%d/messages", roomID),
		query:  q,
		token:  token,
	}, &out)
	return out.Data, err
}

// SendMessage posts body under clientRef. socketID, when set, keeps the
// gateway from echoing the message back to this connection.
func (r *Rooms) SendMessage(ctx context.Context, roomID uint64, body, clientRef, socketID string) (events.Message, error) {
	token, err := r.token()
	if err != nil {
		return events.Message{}, err
	}
	var out events.Message
	err = r.client.do(ctx, request{
		method: http.MethodPost,
		path:   fmt.Sprintf("/api/chat-rooms/%d/messages", roomID),
		token:  token,
		header: socketHeader(socketID),
		body: struct {
			Body      string `json:"body"`
			ClientRef string `json:"client_ref,omitempty"`
		}{body, clientRef},
	}, &out)
	if err != nil {
		return events.Message{}, err
	}
	if out.ID == 0 {
		return events.Message{}, fmt.Errorf("send message: answer without id")
	}
	return out, nil
}

// SendTyping relays the local user's typing state to the room.
func (r *Rooms) SendTyping(ctx context.Context, roomID uint64, typing bool, socketID string) error {
	token, err := r.token()
	if err != nil {
		return err
	}
	return r.client.do(ctx, request{
		method: http.MethodPost,
		path:   fmt.Sprintf("/api/chat-rooms/%d/typing", roomID),
		token:  token,
		header: socketHeader(socketID),
		body: struct {
			Typing bool `json:"typing"`
		}{typing},
	}, nil)
}
