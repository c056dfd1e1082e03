// Package transport speaks the Pusher channels protocol (version 7) to the
// broadcast gateway over a websocket.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"familyhub/internal/config"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrTransport wraps every network-level failure: dial, handshake, read, write.
var ErrTransport = errors.New("gateway transport failure")

// ErrRejected marks a gateway error in the 4000-4099 range. The gateway
// asks clients not to reconnect with the same settings.
var ErrRejected = errors.New("gateway rejected the connection")

// Protocol frame names.
const (
	EventConnectionEstablished = "pusher:connection_established"
	EventError                 = "pusher:error"
	EventPing                  = "pusher:ping"
	EventPong                  = "pusher:pong"
	EventSubscribe             = "pusher:subscribe"
	EventUnsubscribe           = "pusher:unsubscribe"
	EventSubscriptionError     = "pusher:subscription_error"
	EventSubscriptionSucceeded = "pusher_internal:subscription_succeeded"
	internalPrefix             = "pusher_internal:"
)

const (
	protocolVersion        = "7"
	defaultActivityTimeout = 120 * time.Second
	pongTimeout            = 30 * time.Second
	writeWait              = 5 * time.Second
	handshakeTimeout       = 10 * time.Second
	maxFrameSize           = 64 << 10
)

// Grant is what a subscription presents to the gateway.
type Grant struct {
	Auth        string
	ChannelData string
}

// Frame is one protocol message in either direction.
type Frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// GatewayError is a pusher:error frame that ended the connection.
type GatewayError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway error %d: %s", e.Code, e.Message)
}

// Unwrap yields ErrRejected for codes 4000-4099 and ErrTransport otherwise.
func (e *GatewayError) Unwrap() error {
	if e.Code >= 4000 && e.Code < 4100 {
		return ErrRejected
	}
	return ErrTransport
}

type InboundKind int

const (
	InboundEvent InboundKind = iota
	InboundSubscribed
	InboundSubscriptionError
)

// Inbound is a frame addressed to a channel, with Data already unwrapped
// from its JSON string encoding.
type Inbound struct {
	Kind    InboundKind
	Channel string
	Event   string
	Data    []byte
}

// Conn is an established gateway connection.
type Conn interface {
	SocketID() string
	Subscribe(channel string, g Grant) error
	Unsubscribe(channel string) error
	// Inbound is closed when the connection ends; Err then reports why.
	Inbound() <-chan Inbound
	Err() error
	Close() error
}

// Dialer opens gateway connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// WSDialer dials the gateway's websocket endpoint.
type WSDialer struct {
	url    string
	dialer *websocket.Dialer
	log    zerolog.Logger
}

// NewDialer builds the connect URL from the public gateway settings.
func NewDialer(gw config.Public, log zerolog.Logger) *WSDialer {
	u := url.URL{
		Scheme: gw.Scheme,
		Host:   gw.Host + ":" + strconv.Itoa(gw.Port),
		Path:   "/app/" + gw.Key,
		RawQuery: url.Values{
			"protocol": {protocolVersion},
			"client":   {"familyhub-go"},
			"version":  {"1.0"},
		}.Encode(),
	}
	return &WSDialer{
		url: u.String(),
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		log: log.With().Str("component", "transport").Logger(),
	}
}

func (d *WSDialer) URL() string { return d.url }

// Dial connects and waits for pusher:connection_established.
func (d *WSDialer) Dial(ctx context.Context) (Conn, error) {
	ws, _, err := d.dialer.DialContext(ctx, d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %v", ErrTransport, err)
	}
	ws.SetReadLimit(maxFrameSize)

	deadline := time.Now().Add(handshakeTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = ws.SetReadDeadline(deadline)

	var f Frame
	if err := ws.ReadJSON(&f); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("%w: handshake: %v", ErrTransport, err)
	}
	switch f.Event {
	case EventConnectionEstablished:
	case EventError:
		_ = ws.Close()
		return nil, parseGatewayError(f.Data)
	default:
		_ = ws.Close()
		return nil, fmt.Errorf("%w: unexpected handshake frame %q", ErrTransport, f.Event)
	}

	var established struct {
		SocketID        string `json:"socket_id"`
		ActivityTimeout int    `json:"activity_timeout"`
	}
	if err := json.Unmarshal(unwrapData(f.Data), &established); err != nil || established.SocketID == "" {
		_ = ws.Close()
		return nil, fmt.Errorf("%w: malformed connection_established", ErrTransport)
	}

	activity := defaultActivityTimeout
	if established.ActivityTimeout > 0 {
		activity = time.Duration(established.ActivityTimeout) * time.Second
	}
	c := &wsConn{
		ws:       ws,
		socketID: established.SocketID,
		activity: activity,
		inbound:  make(chan Inbound, 64),
		closed:   make(chan struct{}),
		log:      d.log.With().Str("socket_id", established.SocketID).Logger(),
	}
	c.extendDeadline()
	ws.SetPongHandler(func(string) error {
		c.extendDeadline()
		return nil
	})

	go c.readLoop()
	go c.keepalive()

	c.log.Debug().Dur("activity_timeout", activity).Msg("connected to gateway")
	return c, nil
}

type wsConn struct {
	ws       *websocket.Conn
	socketID string
	activity time.Duration
	log      zerolog.Logger

	writeMu sync.Mutex

	inbound   chan Inbound
	closed    chan struct{}
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

func (c *wsConn) SocketID() string         { return c.socketID }
func (c *wsConn) Inbound() <-chan Inbound { return c.inbound }

func (c *wsConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *wsConn) Subscribe(channel string, g Grant) error {
	payload := struct {
		Channel     string `json:"channel"`
		Auth        string `json:"auth"`
		ChannelData string `json:"channel_data,omitempty"`
	}{channel, g.Auth, g.ChannelData}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.write(Frame{Event: EventSubscribe, Data: data})
}

func (c *wsConn) Unsubscribe(channel string) error {
	data, err := json.Marshal(map[string]string{"channel": channel})
	if err != nil {
		return err
	}
	return c.write(Frame{Event: EventUnsubscribe, Data: data})
}

// Close ends the connection. Err stays nil when the close was requested.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *wsConn) write(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(f); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrTransport, f.Event, err)
	}
	return nil
}

func (c *wsConn) extendDeadline() {
	_ = c.ws.SetReadDeadline(time.Now().Add(c.activity + pongTimeout))
}

func (c *wsConn) fail(err error) {
	c.errMu.Lock()
	if c.err == nil {
		select {
		case <-c.closed:
		default:
			c.err = err
		}
	}
	c.errMu.Unlock()
}

func (c *wsConn) readLoop() {
	defer func() {
		close(c.inbound)
		_ = c.Close()
	}()

	for {
		var f Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			c.fail(fmt.Errorf("%w: read: %v", ErrTransport, err))
			return
		}
		c.extendDeadline()

		var in Inbound
		switch {
		case f.Event == EventPing:
			if err := c.write(Frame{Event: EventPong, Data: json.RawMessage(`{}`)}); err != nil {
				c.fail(err)
				return
			}
			continue
		case f.Event == EventPong:
			continue
		case f.Event == EventError:
			gerr := parseGatewayError(f.Data)
			// 4000-4299 close the connection; anything else is informational.
			if gerr.Code >= 4000 && gerr.Code < 4300 {
				c.fail(gerr)
				return
			}
			c.log.Warn().Int("code", gerr.Code).Str("message", gerr.Message).Msg("gateway error")
			continue
		case f.Event == EventSubscriptionSucceeded:
			in = Inbound{Kind: InboundSubscribed, Channel: f.Channel, Event: f.Event}
		case f.Event == EventSubscriptionError:
			in = Inbound{Kind: InboundSubscriptionError, Channel: f.Channel, Event: f.Event, Data: unwrapData(f.Data)}
		case f.Channel == "" || strings.HasPrefix(f.Event, internalPrefix):
			c.log.Debug().Str("event", f.Event).Str("channel", f.Channel).Msg("ignoring frame")
			continue
		default:
			in = Inbound{Kind: InboundEvent, Channel: f.Channel, Event: f.Event, Data: unwrapData(f.Data)}
		}

		select {
		case c.inbound <- in:
		case <-c.closed:
			return
		}
	}
}

// keepalive sends pusher:ping at the negotiated activity interval. A silent
// gateway trips the read deadline.
func (c *wsConn) keepalive() {
	ticker := time.NewTicker(c.activity)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			if err := c.write(Frame{Event: EventPing, Data: json.RawMessage(`{}`)}); err != nil {
				c.log.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

// unwrapData undoes the gateway's habit of sending data as a JSON string.
func unwrapData(raw json.RawMessage) []byte {
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return []byte(s)
		}
	}
	return raw
}

func parseGatewayError(raw json.RawMessage) *GatewayError {
	var e GatewayError
	if err := json.Unmarshal(unwrapData(raw), &e); err != nil || e.Message == "" {
		e.Message = string(raw)
	}
	return &e
}
