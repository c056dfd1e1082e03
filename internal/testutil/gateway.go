package testutil

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"familyhub/internal/config"
	"familyhub/internal/signature"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Gateway is an in-process Pusher-protocol broker. It verifies subscription
// signatures with the app secret exactly like the real gateway, serves the
// signed HTTP trigger API, and lets tests drop connections.
type Gateway struct {
	AppID  string
	Key    string
	Secret []byte

	server *httptest.Server

	mu          sync.Mutex
	nextSocket  int
	conns       map[*gatewayConn]struct{}
	subscribes  []string
	rejectDials bool
}

type gatewayConn struct {
	ws       *websocket.Conn
	socketID string
	writeMu  sync.Mutex
	channels map[string]struct{}
}

func (c *gatewayConn) send(event, channel string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	// Pusher sends data as a JSON-encoded string.
	wrapped, _ := json.Marshal(string(raw))
	frame := map[string]any{"event": event, "data": json.RawMessage(wrapped)}
	if channel != "" {
		frame["channel"] = channel
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.ws.WriteJSON(frame)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewGateway starts a fake gateway. Close it with t.Cleanup(g.Close).
func NewGateway(appID, key string, secret []byte) *Gateway {
	gin.SetMode(gin.TestMode)
	g := &Gateway{
		AppID:  appID,
		Key:    key,
		Secret: secret,
		conns:  make(map[*gatewayConn]struct{}),
	}

	r := gin.New()
	r.GET("/app/:key", g.handleSocket)
	r.POST("/apps/:appId/events", g.handleTrigger)
	g.server = httptest.NewServer(r)
	return g
}

func (g *Gateway) Close() {
	g.DropAll()
	g.server.Close()
}

// URL is the HTTP base URL of the trigger API.
func (g *Gateway) URL() string { return g.server.URL }

// Public returns client settings pointing at this gateway.
func (g *Gateway) Public() config.Public {
	u, _ := url.Parse(g.server.URL)
	port, _ := strconv.Atoi(u.Port())
	return config.Public{Host: u.Hostname(), Port: port, Scheme: "ws", Key: g.Key}
}

// RejectDials makes new websocket connections fail with 503.
func (g *Gateway) RejectDials(reject bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rejectDials = reject
}

// DropAll closes every live socket without a close handshake.
func (g *Gateway) DropAll() {
	g.mu.Lock()
	conns := make([]*gatewayConn, 0, len(g.conns))
	for c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()
	for _, c := range conns {
		_ = c.ws.Close()
	}
}

// Connections returns the number of live sockets.
func (g *Gateway) Connections() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// Subscribers returns the number of sockets subscribed to channel.
func (g *Gateway) Subscribers(channel string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for c := range g.conns {
		if _, ok := c.channels[channel]; ok {
			n++
		}
	}
	return n
}

// SubscribeAttempts lists every channel a client tried to join, in order.
func (g *Gateway) SubscribeAttempts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.subscribes...)
}

// Publish delivers event to every socket subscribed to channel except exclude.
func (g *Gateway) Publish(channel, event string, payload any, exclude string) int {
	g.mu.Lock()
	var targets []*gatewayConn
	for c := range g.conns {
		if _, ok := c.channels[channel]; ok && c.socketID != exclude {
			targets = append(targets, c)
		}
	}
	g.mu.Unlock()

	delivered := 0
	for _, c := range targets {
		if err := c.send(event, channel, payload); err == nil {
			delivered++
		}
	}
	return delivered
}

func (g *Gateway) handleSocket(c *gin.Context) {
	g.mu.Lock()
	reject := g.rejectDials
	g.mu.Unlock()
	if reject || c.Param("key") != g.Key {
		c.Status(http.StatusServiceUnavailable)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	g.mu.Lock()
	g.nextSocket++
	conn := &gatewayConn{
		ws:       ws,
		socketID: fmt.Sprintf("%d.%d", 1000+g.nextSocket, g.nextSocket),
		channels: make(map[string]struct{}),
	}
	g.conns[conn] = struct{}{}
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.conns, conn)
		g.mu.Unlock()
		_ = ws.Close()
	}()

	if err := conn.send("pusher:connection_established", "", map[string]any{
		"socket_id":        conn.socketID,
		"activity_timeout": 30,
	}); err != nil {
		return
	}

	for {
		var frame struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := ws.ReadJSON(&frame); err != nil {
			return
		}
		switch frame.Event {
		case "pusher:ping":
			_ = conn.send("pusher:pong", "", map[string]any{})
		case "pusher:subscribe":
			g.subscribe(conn, frame.Data)
		case "pusher:unsubscribe":
			var req struct {
				Channel string `json:"channel"`
			}
			_ = json.Unmarshal(frame.Data, &req)
			g.mu.Lock()
			delete(conn.channels, req.Channel)
			g.mu.Unlock()
		}
	}
}

func (g *Gateway) subscribe(conn *gatewayConn, data json.RawMessage) {
	var req struct {
		Channel     string `json:"channel"`
		Auth        string `json:"auth"`
		ChannelData string `json:"channel_data"`
	}
	_ = json.Unmarshal(data, &req)

	g.mu.Lock()
	g.subscribes = append(g.subscribes, req.Channel)
	g.mu.Unlock()

	parts := []string{conn.socketID, req.Channel}
	if req.ChannelData != "" {
		parts = append(parts, req.ChannelData)
	}
	key, sig, ok := strings.Cut(req.Auth, ":")
	if !ok || key != g.Key || !signature.Verify(g.Secret, sig, parts...) {
		_ = conn.send("pusher:subscription_error", req.Channel, map[string]any{
			"type":   "AuthError",
			"error":  "Invalid signature",
			"status": 401,
		})
		return
	}

	g.mu.Lock()
	conn.channels[req.Channel] = struct{}{}
	g.mu.Unlock()
	_ = conn.send("pusher_internal:subscription_succeeded", req.Channel, map[string]any{})
}

// handleTrigger implements POST /apps/:appId/events with signature checks.
func (g *Gateway) handleTrigger(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil || c.Param("appId") != g.AppID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
		return
	}

	q := c.Request.URL.Query()
	sum := md5.Sum(body)
	if q.Get("auth_key") != g.Key || q.Get("body_md5") != hex.EncodeToString(sum[:]) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid key or body_md5"})
		return
	}
	sig := q.Get("auth_signature")
	q.Del("auth_signature")
	toSign := strings.Join([]string{http.MethodPost, c.Request.URL.Path, unescapedQuery(q)}, "\n")
	if !signature.Verify(g.Secret, sig, toSign) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var req struct {
		Name     string   `json:"name"`
		Channels []string `json:"channels"`
		Data     string   `json:"data"`
		SocketID string   `json:"socket_id"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for _, ch := range req.Channels {
		g.Publish(ch, req.Name, json.RawMessage(req.Data), req.SocketID)
	}
	c.JSON(http.StatusOK, gin.H{})
}

func unescapedQuery(q url.Values) string {
	s, _ := url.QueryUnescape(q.Encode())
	return s
}
