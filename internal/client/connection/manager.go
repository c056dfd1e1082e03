// Package connection owns the client's single gateway connection: handshake,
// reconnect with backoff, and re-authorizing every subscribed channel after
// each reconnect.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"familyhub/internal/channel"
	"familyhub/internal/client/events"
	"familyhub/internal/client/transport"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

var (
	// ErrMissingCredential means there is no unexpired bearer token.
	ErrMissingCredential = errors.New("missing or expired credential")
	// ErrUnauthenticated is returned by an Authorizer when the server rejects
	// the credential. It stops the connection until the next Connect.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrDenied is returned by an Authorizer when the caller may not join a
	// channel. It removes the subscription intent.
	ErrDenied = errors.New("subscription denied")
	// ErrAuthTimeout marks an authorization that did not answer in time. It
	// also matches ErrDenied.
	ErrAuthTimeout = errors.New("authorization timed out")
	// ErrDisconnected ends every handle on an explicit Disconnect.
	ErrDisconnected = errors.New("disconnected")
	// ErrStopped is returned once Run has exited.
	ErrStopped      = errors.New("connection manager stopped")
	ErrInvalidTopic = channel.ErrInvalidTopic
)

// State of the gateway connection.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is a read-only snapshot of the connection.
type Status struct {
	State    State
	SocketID string
	// Attempt counts consecutive failed connection attempts.
	Attempt int
	// Degraded is set once Attempt reaches the configured ceiling. Retries
	// continue; the UI shows that real-time updates are unavailable.
	Degraded bool
	Err      error
}

// Credentials yields the current bearer token or an error when there is none.
type Credentials interface {
	Token() (string, error)
}

// Authorizer obtains a subscription grant for a socket. Errors must match
// ErrUnauthenticated or ErrDenied when the server said so; anything else is
// treated as transient.
type Authorizer interface {
	Authorize(ctx context.Context, socketID, channelName string) (transport.Grant, error)
}

type Options struct {
	Dialer      transport.Dialer
	Authorizer  Authorizer
	Credentials Credentials
	Clock       clock.Clock
	Backoff     Backoff
	// AuthTimeout bounds each authorization round trip. Default 5s.
	AuthTimeout time.Duration
	// DegradedAfter is the number of consecutive failures before the status
	// turns degraded. Default 5.
	DegradedAfter int
	Logger        zerolog.Logger
}

// Manager is an actor: Run owns all state and every public method posts a
// closure to it.
type Manager struct {
	dialer        transport.Dialer
	authorizer    Authorizer
	creds         Credentials
	clock         clock.Clock
	backoff       Backoff
	authTimeout   time.Duration
	degradedAfter int
	log           zerolog.Logger

	cmds    chan func()
	stopped chan struct{}
	runCtx  context.Context

	status atomic.Pointer[Status]

	watchMu  sync.Mutex
	watchers map[chan Status]struct{}

	// Owned by the Run loop.
	state      State
	gen        uint64
	conn       transport.Conn
	dialCancel context.CancelFunc
	retryTimer *clock.Timer
	attempt    int
	degraded   bool
	lastErr    error
	registry   *registry
}

func New(opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Backoff.Base <= 0 {
		opts.Backoff = DefaultBackoff()
	}
	if opts.AuthTimeout <= 0 {
		opts.AuthTimeout = 5 * time.Second
	}
	if opts.DegradedAfter <= 0 {
		opts.DegradedAfter = 5
	}
	m := &Manager{
		dialer:        opts.Dialer,
		authorizer:    opts.Authorizer,
		creds:         opts.Credentials,
		clock:         opts.Clock,
		backoff:       opts.Backoff,
		authTimeout:   opts.AuthTimeout,
		degradedAfter: opts.DegradedAfter,
		log:           opts.Logger.With().Str("component", "connection").Logger(),
		cmds:          make(chan func()),
		stopped:       make(chan struct{}),
		watchers:      make(map[chan Status]struct{}),
		registry:      newRegistry(),
	}
	m.status.Store(&Status{State: Disconnected})
	return m
}

// Run processes commands until ctx is done. Every handle still open is ended
// with ErrDisconnected.
func (m *Manager) Run(ctx context.Context) error {
	m.runCtx = ctx
	defer close(m.stopped)

	for {
		select {
		case <-ctx.Done():
			m.teardown()
			m.endAll(ErrDisconnected)
			m.setState(Disconnected)
			return ctx.Err()
		case fn := <-m.cmds:
			fn()
		}
	}
}

func (m *Manager) do(ctx context.Context, fn func()) error {
	select {
	case m.cmds <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stopped:
		return ErrStopped
	}
}

// post is used by background goroutines to hand results back to the loop.
func (m *Manager) post(fn func()) {
	select {
	case m.cmds <- fn:
	case <-m.stopped:
	}
}

func (m *Manager) State() State { return m.status.Load().State }

func (m *Manager) Status() Status { return *m.status.Load() }

// Watch streams status changes. The channel holds only the latest status;
// call the returned func to stop watching.
func (m *Manager) Watch() (<-chan Status, func()) {
	ch := make(chan Status, 1)
	m.watchMu.Lock()
	ch <- m.Status()
	m.watchers[ch] = struct{}{}
	m.watchMu.Unlock()
	return ch, func() {
		m.watchMu.Lock()
		delete(m.watchers, ch)
		m.watchMu.Unlock()
	}
}

// Connect starts connecting. It is a no-op while connecting or connected and
// supersedes a pending reconnect timer.
func (m *Manager) Connect(ctx context.Context) error {
	errc := make(chan error, 1)
	if err := m.do(ctx, func() { errc <- m.connect() }); err != nil {
		return err
	}
	return <-errc
}

// Disconnect closes the connection, cancels every pending dial, timer and
// authorization, and ends all handles with ErrDisconnected.
func (m *Manager) Disconnect(ctx context.Context) error {
	done := make(chan struct{})
	if err := m.do(ctx, func() {
		m.teardown()
		m.endAll(ErrDisconnected)
		m.attempt, m.degraded, m.lastErr = 0, false, nil
		m.setState(Disconnected)
		close(done)
	}); err != nil {
		return err
	}
	<-done
	return nil
}

// Subscribe records the intent to receive a channel's events and returns a
// handle. The channel is authorized now if connected, otherwise on the next
// connect.
func (m *Manager) Subscribe(ctx context.Context, channelName string) (*Subscription, error) {
	if _, err := channel.Parse(channelName); err != nil {
		m.log.Error().Err(err).Str("channel", channelName).Msg("refusing to subscribe")
		return nil, err
	}
	subc := make(chan *Subscription, 1)
	if err := m.do(ctx, func() {
		s := newSubscription(m, channelName)
		t := m.registry.register(channelName, s)
		m.authorize(t)
		subc <- s
	}); err != nil {
		return nil, err
	}
	return <-subc, nil
}

// Unsubscribe removes the intent, ends every handle on the channel and
// leaves it on the gateway. Repeated calls are no-ops.
func (m *Manager) Unsubscribe(ctx context.Context, channelName string) error {
	done := make(chan struct{})
	if err := m.do(ctx, func() {
		if t := m.registry.get(channelName); t != nil {
			m.drop(t, nil)
		}
		close(done)
	}); err != nil {
		return err
	}
	<-done
	return nil
}

// channels lists the channels with subscription intent.
func (m *Manager) channels(ctx context.Context) ([]string, error) {
	out := make(chan []string, 1)
	if err := m.do(ctx, func() { out <- m.registry.names() }); err != nil {
		return nil, err
	}
	return <-out, nil
}

// --- loop-owned below ---

func (m *Manager) connect() error {
	if m.state == Connecting || m.state == Connected {
		return nil
	}
	if _, err := m.creds.Token(); err != nil {
		return fmt.Errorf("%w: %w", ErrMissingCredential, err)
	}
	m.dial()
	return nil
}

func (m *Manager) dial() {
	m.stopRetryTimer()
	m.gen++
	gen := m.gen

	ctx, cancel := context.WithCancel(m.runCtx)
	m.dialCancel = cancel
	m.setState(Connecting)

	go func() {
		conn, err := m.dialer.Dial(ctx)
		m.post(func() { m.onDialed(gen, conn, err) })
	}()
}

func (m *Manager) onDialed(gen uint64, conn transport.Conn, err error) {
	if gen != m.gen {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	m.dialCancel()
	m.dialCancel = nil

	if err != nil {
		if errors.Is(err, transport.ErrRejected) {
			m.halt(err)
			return
		}
		m.log.Warn().Err(err).Int("attempt", m.attempt+1).Msg("gateway dial failed")
		m.lastErr = err
		m.scheduleRetry()
		return
	}

	m.conn = conn
	m.attempt, m.degraded, m.lastErr = 0, false, nil
	m.setState(Connected)
	m.log.Info().Str("socket_id", conn.SocketID()).Msg("connected")

	go m.readFrom(gen, conn)

	// Grants are bound to the socket id, so every channel is authorized anew.
	for _, t := range m.registry.all() {
		t.phase = phaseIdle
		t.authFailures = 0
		m.authorize(t)
	}
}

func (m *Manager) readFrom(gen uint64, conn transport.Conn) {
	for in := range conn.Inbound() {
		m.post(func() { m.onInbound(gen, in) })
	}
	err := conn.Err()
	m.post(func() { m.onLost(gen, err) })
}

func (m *Manager) onLost(gen uint64, err error) {
	if gen != m.gen {
		return
	}
	if err == nil {
		err = transport.ErrTransport
	}
	if errors.Is(err, transport.ErrRejected) {
		m.halt(err)
		return
	}
	m.log.Warn().Err(err).Msg("gateway connection lost")
	m.conn = nil
	for _, t := range m.registry.all() {
		t.cancelAuth()
		t.phase = phaseIdle
	}
	m.lastErr = err
	m.scheduleRetry()
}

func (m *Manager) scheduleRetry() {
	if _, err := m.creds.Token(); err != nil {
		m.halt(fmt.Errorf("%w: %w", ErrMissingCredential, err))
		return
	}
	m.attempt++
	if m.attempt >= m.degradedAfter && !m.degraded {
		m.degraded = true
		m.log.Error().Int("attempts", m.attempt).Msg("real-time updates unavailable")
	}

	gen := m.gen
	delay := m.backoff.Delay(m.attempt)
	m.retryTimer = m.clock.AfterFunc(delay, func() {
		m.post(func() {
			if gen != m.gen || m.state != Reconnecting {
				return
			}
			m.retryTimer = nil
			if _, err := m.creds.Token(); err != nil {
				m.halt(fmt.Errorf("%w: %w", ErrMissingCredential, err))
				return
			}
			m.dial()
		})
	})
	m.setState(Reconnecting)
	m.log.Debug().Dur("delay", delay).Int("attempt", m.attempt).Msg("reconnect scheduled")
}

func (m *Manager) stopRetryTimer() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

// halt stops connecting until the next Connect. Subscription intent is kept.
func (m *Manager) halt(err error) {
	m.teardown()
	for _, t := range m.registry.all() {
		t.phase = phaseIdle
	}
	m.attempt, m.degraded = 0, false
	m.lastErr = err
	m.log.Warn().Err(err).Msg("connection stopped")
	m.setState(Disconnected)
}

// teardown invalidates every in-flight result and closes the transport.
func (m *Manager) teardown() {
	m.gen++
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	m.stopRetryTimer()
	for _, t := range m.registry.all() {
		t.cancelAuth()
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
}

func (m *Manager) endAll(err error) {
	for _, t := range m.registry.all() {
		t.cancelAuth()
		for s := range t.subs {
			s.finish(err)
		}
		m.registry.remove(t.name)
	}
}

type authResult struct {
	grant transport.Grant
	err   error
}

func (m *Manager) authorize(t *topic) {
	if m.state != Connected || t.phase != phaseIdle {
		return
	}
	t.stopRetry()
	t.authSeq++
	seq, gen, name := t.authSeq, m.gen, t.name
	socketID := m.conn.SocketID()

	ctx, cancel := m.clock.WithTimeout(m.runCtx, m.authTimeout)
	t.authCancel = cancel
	t.phase = phaseAuthorizing

	go func() {
		defer cancel()
		resc := make(chan authResult, 1)
		go func() {
			g, err := m.authorizer.Authorize(ctx, socketID, name)
			resc <- authResult{g, err}
		}()

		var res authResult
		select {
		case res = <-resc:
		case <-ctx.Done():
			res.err = ctx.Err()
		}
		if res.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res.err = fmt.Errorf("%s: %w: %w", name, ErrDenied, ErrAuthTimeout)
		}
		m.post(func() { m.onAuthorized(gen, name, seq, res) })
	}()
}

func (m *Manager) onAuthorized(gen uint64, name string, seq uint64, res authResult) {
	t := m.registry.get(name)
	if t == nil || gen != m.gen || seq != t.authSeq || t.phase != phaseAuthorizing {
		return
	}
	t.cancelAuth()
	t.phase = phaseIdle
	log := m.log.With().Str("channel", name).Logger()

	switch {
	case res.err == nil:
		t.authFailures = 0
		if err := m.conn.Subscribe(name, res.grant); err != nil {
			// The reader will observe the broken socket and reconnect.
			log.Warn().Err(err).Msg("subscribe frame failed")
			return
		}
		t.phase = phaseSubscribing
	case errors.Is(res.err, ErrUnauthenticated):
		m.halt(res.err)
	case errors.Is(res.err, ErrDenied):
		log.Info().Err(res.err).Msg("subscription denied")
		m.drop(t, res.err)
	default:
		m.scheduleAuthRetry(t, res.err)
	}
}

// scheduleAuthRetry re-authorizes t on the current connection after the
// backoff delay for its consecutive transient failures.
func (m *Manager) scheduleAuthRetry(t *topic, cause error) {
	t.authFailures++
	delay := m.backoff.Delay(t.authFailures)
	m.log.Warn().Err(cause).
		Str("channel", t.name).
		Int("attempt", t.authFailures).
		Dur("delay", delay).
		Msg("authorization failed, retrying")

	gen, seq := m.gen, t.authSeq
	t.retryTimer = m.clock.AfterFunc(delay, func() {
		m.post(func() {
			if gen != m.gen || m.registry.get(t.name) != t || seq != t.authSeq {
				return
			}
			t.retryTimer = nil
			m.authorize(t)
		})
	})
}

func (m *Manager) onInbound(gen uint64, in transport.Inbound) {
	if gen != m.gen {
		return
	}
	t := m.registry.get(in.Channel)
	if t == nil {
		return
	}
	switch in.Kind {
	case transport.InboundSubscribed:
		t.phase = phaseSubscribed
	case transport.InboundSubscriptionError:
		t.phase = phaseIdle
		err := fmt.Errorf("%w: gateway rejected %s: %s", ErrDenied, in.Channel, in.Data)
		m.log.Warn().Err(err).Msg("subscription error")
		m.drop(t, err)
	case transport.InboundEvent:
		ev, err := events.Decode(in.Event, in.Data)
		if err != nil {
			lvl := m.log.Warn()
			if errors.Is(err, events.ErrUnknownEvent) {
				lvl = m.log.Debug()
			}
			lvl.Err(err).Str("channel", in.Channel).Msg("dropping event")
			return
		}
		m.registry.broadcast(in.Channel, ev)
	}
}

// release handles Subscription.Close.
func (m *Manager) release(s *Subscription) {
	t, last := m.registry.unregister(s)
	s.finish(nil)
	if t != nil && last {
		m.drop(t, nil)
	}
}

// drop removes the channel's intent, leaves it on the gateway if joined and
// ends its handles with err.
func (m *Manager) drop(t *topic, err error) {
	t.cancelAuth()
	if m.conn != nil && (t.phase == phaseSubscribing || t.phase == phaseSubscribed) {
		if uerr := m.conn.Unsubscribe(t.name); uerr != nil {
			m.log.Debug().Err(uerr).Str("channel", t.name).Msg("unsubscribe frame failed")
		}
	}
	for s := range t.subs {
		s.finish(err)
	}
	m.registry.remove(t.name)
}

func (m *Manager) setState(s State) {
	m.state = s
	st := &Status{
		State:    s,
		Attempt:  m.attempt,
		Degraded: m.degraded,
		Err:      m.lastErr,
	}
	if s == Connected && m.conn != nil {
		st.SocketID = m.conn.SocketID()
	}
	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	m.status.Store(st)
	for ch := range m.watchers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- *st:
		default:
		}
	}
}
