package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"familyhub/internal/client/transport"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id      string
	inbound chan transport.Inbound

	mu           sync.Mutex
	closed       bool
	err          error
	subscribed   []string
	grants       map[string]transport.Grant
	unsubscribed []string
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{
		id:      id,
		inbound: make(chan transport.Inbound, 64),
		grants:  make(map[string]transport.Grant),
	}
}

func (c *fakeConn) SocketID() string                    { return c.id }
func (c *fakeConn) Inbound() <-chan transport.Inbound { return c.inbound }

func (c *fakeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeConn) Subscribe(ch string, g transport.Grant) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrTransport
	}
	c.subscribed = append(c.subscribed, ch)
	c.grants[ch] = g
	c.inbound <- transport.Inbound{Kind: transport.InboundSubscribed, Channel: ch}
	return nil
}

func (c *fakeConn) Unsubscribe(ch string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribed = append(c.unsubscribed, ch)
	return nil
}

func (c *fakeConn) Close() error {
	c.end(nil)
	return nil
}

// drop simulates a network failure.
func (c *fakeConn) drop() {
	c.end(fmt.Errorf("%w: connection reset", transport.ErrTransport))
}

func (c *fakeConn) end(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.err = err
	close(c.inbound)
}

func (c *fakeConn) push(in transport.Inbound) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.inbound <- in
	}
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) subscribes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.subscribed...)
}

func (c *fakeConn) leaves() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.unsubscribed...)
}

type fakeDialer struct {
	mu     sync.Mutex
	fail   int
	reject error
	conns  []*fakeConn
	dials  int
}

func (d *fakeDialer) Dial(ctx context.Context) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.reject != nil {
		return nil, d.reject
	}
	if d.fail > 0 {
		d.fail--
		return nil, fmt.Errorf("%w: connection refused", transport.ErrTransport)
	}
	c := newFakeConn(fmt.Sprintf("%d.%d", 100+d.dials, d.dials))
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) setFail(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = n
}

func (d *fakeDialer) setReject(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reject = err
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

type authCall struct {
	socketID, channel string
}

type fakeAuthorizer struct {
	mu    sync.Mutex
	calls []authCall
	errs  map[string]error
	hang  map[string]bool
}

func newFakeAuthorizer() *fakeAuthorizer {
	return &fakeAuthorizer{errs: make(map[string]error), hang: make(map[string]bool)}
}

func (a *fakeAuthorizer) Authorize(ctx context.Context, socketID, ch string) (transport.Grant, error) {
	a.mu.Lock()
	a.calls = append(a.calls, authCall{socketID, ch})
	err, hang := a.errs[ch], a.hang[ch]
	a.mu.Unlock()

	if hang {
		<-ctx.Done()
		return transport.Grant{}, ctx.Err()
	}
	if err != nil {
		return transport.Grant{}, err
	}
	return transport.Grant{Auth: "key:" + socketID + ":" + ch}, nil
}

func (a *fakeAuthorizer) set(ch string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err == nil {
		delete(a.errs, ch)
	} else {
		a.errs[ch] = err
	}
}

func (a *fakeAuthorizer) callsFor(ch string) []authCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []authCall
	for _, c := range a.calls {
		if c.channel == ch {
			out = append(out, c)
		}
	}
	return out
}

type fakeCreds struct {
	mu  sync.Mutex
	err error
}

func (c *fakeCreds) Token() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	return "token", nil
}

func (c *fakeCreds) expire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = errors.New("token expired")
}

type harness struct {
	m     *Manager
	clock *clock.Mock
	dial  *fakeDialer
	auth  *fakeAuthorizer
	creds *fakeCreds
}

func newHarness(t *testing.T, tweak ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		clock: clock.NewMock(),
		dial:  &fakeDialer{},
		auth:  newFakeAuthorizer(),
		creds: &fakeCreds{},
	}
	opts := Options{
		Dialer:      h.dial,
		Authorizer:  h.auth,
		Credentials: h.creds,
		Clock:       h.clock,
		Logger:      zerolog.Nop(),
	}
	for _, fn := range tweak {
		fn(&opts)
	}
	h.m = New(opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

func (h *harness) waitState(t *testing.T, s State, attempt int) {
	t.Helper()
	require.Eventually(t, func() bool {
		st := h.m.Status()
		return st.State == s && st.Attempt == attempt
	}, waitFor, tick, "want %s attempt %d, have %+v", s, attempt, h.m.Status())
}

func (h *harness) connect(t *testing.T) *fakeConn {
	t.Helper()
	require.NoError(t, h.m.Connect(context.Background()))
	h.waitState(t, Connected, 0)
	return h.dial.last()
}

func waitDone(t *testing.T, s *Subscription) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatalf("subscription %s still open", s.Channel())
	}
}

func requireOpen(t *testing.T, s *Subscription) {
	t.Helper()
	select {
	case <-s.Done():
		t.Fatalf("subscription %s ended: %v", s.Channel(), s.Err())
	default:
	}
}
