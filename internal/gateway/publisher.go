// Package gateway publishes server-originated events to the broadcast gateway
// through its Pusher-compatible HTTP trigger API.
package gateway

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"familyhub/internal/signature"
)

// ErrTrigger is returned when the gateway rejects a publish.
var ErrTrigger = errors.New("gateway trigger failed")

// Publisher publishes events to topics.
type Publisher interface {
	Trigger(ctx context.Context, channelName, event string, payload any, excludeSocketID string) error
}

// Client signs and sends trigger requests.
type Client struct {
	baseURL string
	appID   string
	key     string
	secret  []byte
	http    *http.Client
	now     func() time.Time
}

func NewClient(baseURL, appID, key string, secret []byte) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		appID:   appID,
		key:     key,
		secret:  secret,
		http:    &http.Client{Timeout: 5 * time.Second},
		now:     time.Now,
	}
}

type triggerBody struct {
	Name     string   `json:"name"`
	Channels []string `json:"channels"`
	Data     string   `json:"data"`
	SocketID string   `json:"socket_id,omitempty"`
}

// Trigger publishes event with the JSON encoding of payload. The caller's own
// socket is excluded so a client does not receive its own typing echo.
func (c *Client) Trigger(ctx context.Context, channelName, event string, payload any, excludeSocketID string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	body, err := json.Marshal(triggerBody{
		Name:     event,
		Channels: []string{channelName},
		Data:     string(data),
		SocketID: excludeSocketID,
	})
	if err != nil {
		return fmt.Errorf("encode trigger: %w", err)
	}

	path := "/apps/" + c.appID + "/events"
	query := c.signedQuery(http.MethodPost, path, body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path+"?"+query, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTrigger, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrTrigger, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// signedQuery builds the authenticated query string: the signature covers
// "METHOD\nPATH\nsorted-query" with keys lowercased and sorted.
func (c *Client) signedQuery(method, path string, body []byte) string {
	sum := md5.Sum(body)
	params := map[string]string{
		"auth_key":       c.key,
		"auth_timestamp": strconv.FormatInt(c.now().Unix(), 10),
		"auth_version":   "1.0",
		"body_md5":       hex.EncodeToString(sum[:]),
	}
	query := canonicalQuery(params)
	sig := signature.SignString(c.secret, method+"\n"+path+"\n"+query)
	return query + "&auth_signature=" + sig
}

func canonicalQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+url.QueryEscape(params[k]))
	}
	return strings.Join(parts, "&")
}

var _ Publisher = (*Client)(nil)
