package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"familyhub/internal/client/connection"
	"familyhub/internal/client/transport"
	"familyhub/internal/config"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login exchanges email and password for a session.
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	var out loginResponse
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/api/login",
		body:   loginRequest{Email: email, Password: password},
	}, &out)
	if err != nil {
		return nil, err
	}
	return NewSession(out.Token)
}

// RealtimeConfig fetches the public gateway settings.
func (c *Client) RealtimeConfig(ctx context.Context) (config.Public, error) {
	var out config.Public
	err := c.do(ctx, request{method: http.MethodGet, path: "/api/realtime/config"}, &out)
	if err != nil {
		return config.Public{}, err
	}
	if out.Host == "" || out.Key == "" {
		return config.Public{}, fmt.Errorf("realtime config: incomplete answer %+v", out)
	}
	return out, nil
}

// ChannelAuthorizer asks /broadcasting/auth for subscription grants on behalf
// of a session.
type ChannelAuthorizer struct {
	client  *Client
	creds   connection.Credentials
	timeout time.Duration
}

// Authorizer returns a connection.Authorizer bound to creds.
func (c *Client) Authorizer(creds connection.Credentials) *ChannelAuthorizer {
	return &ChannelAuthorizer{client: c, creds: creds, timeout: 5 * time.Second}
}

// Authorize implements connection.Authorizer. A 401 maps to
// connection.ErrUnauthenticated and a 403 to connection.ErrDenied; every
// other failure is returned as is and treated as transient.
func (a *ChannelAuthorizer) Authorize(ctx context.Context, socketID, channelName string) (transport.Grant, error) {
	token, err := a.creds.Token()
	if err != nil {
		return transport.Grant{}, fmt.Errorf("%w: %w", connection.ErrUnauthenticated, err)
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var out struct {
		Auth        string `json:"auth"`
		ChannelData string `json:"channel_data"`
	}
	err = a.client.do(ctx, request{
		method: http.MethodPost,
		path:   "/broadcasting/auth",
		token:  token,
		form:   url.Values{"channel_name": {channelName}, "socket_id": {socketID}},
	}, &out)

	var se *StatusError
	switch {
	case err == nil:
	case errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized:
		return transport.Grant{}, fmt.Errorf("%w: %w", connection.ErrUnauthenticated, err)
	case errors.As(err, &se) && se.StatusCode == http.StatusForbidden:
		return transport.Grant{}, fmt.Errorf("%s: %w: %w", channelName, connection.ErrDenied, err)
	default:
		return transport.Grant{}, err
	}
	if out.Auth == "" {
		return transport.Grant{}, fmt.Errorf("authorize %s: empty auth in answer", channelName)
	}
	return transport.Grant{Auth: out.Auth, ChannelData: out.ChannelData}, nil
}

var _ connection.Authorizer = (*ChannelAuthorizer)(nil)
