// Package session runs one chat room for the signed-in user: it keeps the
// room's message sequence and typing indicators current from the gateway and
// sends the user's messages optimistically.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"familyhub/internal/channel"
	"familyhub/internal/client/connection"
	"familyhub/internal/client/events"
	"familyhub/internal/client/presence"
	"familyhub/internal/client/reconcile"
)

var (
	ErrEmptyMessage = errors.New("message body is empty")
	ErrNotRetryable = errors.New("message is not in a failed state")
	ErrStopped      = errors.New("room session stopped")
)

// Subscriber is the part of the connection manager a room needs.
type Subscriber interface {
	Subscribe(ctx context.Context, channelName string) (*connection.Subscription, error)
	Status() connection.Status
}

// API is the part of the HTTP API a room needs.
type API interface {
	History(ctx context.Context, roomID uint64, limit int) ([]events.Message, error)
	SendMessage(ctx context.Context, roomID uint64, body, clientRef, socketID string) (events.Message, error)
	SendTyping(ctx context.Context, roomID uint64, typing bool, socketID string) error
}

type Options struct {
	RoomID uint64
	// UserID is the signed-in user; their own typing events are ignored.
	UserID   uint64
	UserName string

	Conn Subscriber
	API  API

	Clock         clock.Clock
	SweepInterval time.Duration
	TypingTTL     time.Duration
	Debounce      time.Duration
	// HistoryLimit messages are loaded on start. Zero skips the history.
	HistoryLimit int
	SendTimeout  time.Duration
	Logger       zerolog.Logger
}

// Room is an actor. Run owns the reconciler and the tracker; every public
// method posts a closure to it.
type Room struct {
	roomID   uint64
	topic    string
	userID   uint64
	userName string
	conn     Subscriber
	api      API
	clock    clock.Clock
	history  int
	timeout  time.Duration
	log      zerolog.Logger

	cmds    chan func()
	stopped chan struct{}
	changes chan struct{}
	runCtx  context.Context

	// Owned by the Run loop.
	messages *reconcile.Reconciler
	typers   *presence.Tracker
	notifier *presence.Notifier
}

func New(opts Options) (*Room, error) {
	if opts.RoomID == 0 {
		return nil, fmt.Errorf("%w: room id 0", channel.ErrInvalidTopic)
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	tracker, err := presence.NewTracker(presence.Config{
		SweepInterval: opts.SweepInterval,
		TTL:           opts.TypingTTL,
		Clock:         opts.Clock,
	})
	if err != nil {
		return nil, err
	}

	r := &Room{
		roomID:   opts.RoomID,
		topic:    channel.ChatRoom(opts.RoomID).Name(),
		userID:   opts.UserID,
		userName: opts.UserName,
		conn:     opts.Conn,
		api:      opts.API,
		clock:    opts.Clock,
		history:  opts.HistoryLimit,
		timeout:  opts.SendTimeout,
		log:      opts.Logger.With().Str("component", "room").Uint64("room_id", opts.RoomID).Logger(),
		cmds:     make(chan func()),
		stopped:  make(chan struct{}),
		changes:  make(chan struct{}, 1),
		messages: reconcile.New(),
		typers:   tracker,
	}
	r.notifier = presence.NewNotifier(opts.Debounce, opts.Clock, r.emitTyping)
	return r, nil
}

func (r *Room) Topic() string { return r.topic }

// Changes signals that Messages or Typers may have changed. Signals coalesce.
func (r *Room) Changes() <-chan struct{} { return r.changes }

// Run subscribes to the room topic and serves commands until ctx is done or
// the subscription ends.
func (r *Room) Run(ctx context.Context) error {
	r.runCtx = ctx
	defer close(r.stopped)

	sub, err := r.conn.Subscribe(ctx, r.topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", r.topic, err)
	}
	defer sub.Close()

	r.typers.Focus(r.topic)
	defer r.typers.Reset()
	if r.history > 0 {
		go r.loadHistory()
	}

	ticker := r.clock.Ticker(r.typers.SweepInterval())
	defer ticker.Stop()

	evc := sub.Events()
	for {
		select {
		case <-ctx.Done():
			r.notifier.Stop(r.topic)
			return nil
		case <-sub.Done():
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%s: %w", r.topic, sub.Err())
		case ev, ok := <-evc:
			if !ok {
				evc = nil
				continue
			}
			r.apply(ev)
		case <-ticker.C:
			if r.typers.Sweep() > 0 {
				r.changed()
			}
		case fn := <-r.cmds:
			fn()
		}
	}
}

func (r *Room) do(ctx context.Context, fn func()) error {
	select {
	case r.cmds <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.stopped:
		return ErrStopped
	}
}

func (r *Room) post(fn func()) {
	select {
	case r.cmds <- fn:
	case <-r.stopped:
	}
}

// Send shows body immediately as a pending message and sends it in the
// background. It returns the provisional id of the message.
func (r *Room) Send(ctx context.Context, body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", ErrEmptyMessage
	}
	idc := make(chan string, 1)
	err := r.do(ctx, func() {
		ref := uuid.NewString()
		r.messages.InsertOptimistic(reconcile.Entity{
			ID:         reconcile.Provisional(ref),
			RoomID:     r.roomID,
			SenderID:   r.userID,
			SenderName: r.userName,
			Body:       body,
			CreatedAt:  r.clock.Now(),
		})
		r.notifier.Stop(r.topic)
		r.dispatch(ref, body)
		r.changed()
		idc <- ref
	})
	if err != nil {
		return "", err
	}
	return <-idc, nil
}

// Retry sends a failed message again under the same provisional id.
func (r *Room) Retry(ctx context.Context, provisionalID string) error {
	errc := make(chan error, 1)
	if err := r.do(ctx, func() {
		e, ok := r.messages.Retry(provisionalID)
		if !ok {
			errc <- fmt.Errorf("%w: %s", ErrNotRetryable, provisionalID)
			return
		}
		r.dispatch(provisionalID, e.Body)
		r.changed()
		errc <- nil
	}); err != nil {
		return err
	}
	return <-errc
}

// Keystroke tells the room the user typed in the composer.
func (r *Room) Keystroke(ctx context.Context) error {
	return r.do(ctx, func() { r.notifier.Keystroke(r.topic) })
}

// ClearInput tells the room the composer was emptied.
func (r *Room) ClearInput(ctx context.Context) error {
	return r.do(ctx, func() { r.notifier.Stop(r.topic) })
}

// Messages returns the room's messages in display order.
func (r *Room) Messages(ctx context.Context) ([]reconcile.Entity, error) {
	out := make(chan []reconcile.Entity, 1)
	if err := r.do(ctx, func() { out <- r.messages.Snapshot() }); err != nil {
		return nil, err
	}
	return <-out, nil
}

// Typers returns who is typing in the room, ordered by name.
func (r *Room) Typers(ctx context.Context) ([]presence.Signal, error) {
	out := make(chan []presence.Signal, 1)
	if err := r.do(ctx, func() { out <- r.typers.Typers() }); err != nil {
		return nil, err
	}
	return <-out, nil
}

// --- loop-owned below ---

func (r *Room) changed() {
	select {
	case r.changes <- struct{}{}:
	default:
	}
}

func (r *Room) apply(ev events.Event) {
	switch e := ev.(type) {
	case events.MessageSent:
		if e.Message.ChatRoomID != r.roomID {
			return
		}
		outcome := r.messages.ReconcileByGatewayEvent(toEntity(e.Message))
		r.log.Debug().Uint64("message_id", e.Message.ID).Stringer("outcome", outcome).Msg("message event")
		if outcome != reconcile.Duplicate {
			// A message from someone ends their typing indicator.
			r.typers.OnStoppedTyping(r.topic, e.Message.UserID)
			r.changed()
		}
	case events.MessageUpdated:
		if e.Message.ChatRoomID != r.roomID {
			return
		}
		body := e.Message.Body
		if !r.messages.ApplyUpdate(e.Message.ID, reconcile.Patch{
			Body:      &body,
			Reactions: e.Message.Reactions,
			UpdatedAt: e.Message.UpdatedAt,
		}) {
			// Edits of messages outside the loaded window are not shown.
			r.log.Debug().Uint64("message_id", e.Message.ID).Msg("update for unknown message")
			return
		}
		r.changed()
	case events.MessageDeleted:
		if e.ChatRoomID == r.roomID && r.messages.MarkDeleted(e.ID) {
			r.changed()
		}
	case events.UserTyping:
		if e.UserID == r.userID || e.ChatRoomID != r.roomID {
			return
		}
		if r.typers.OnTyping(r.topic, e.UserID, e.UserName) {
			r.changed()
		}
	case events.UserStoppedTyping:
		if e.UserID == r.userID {
			return
		}
		if r.typers.OnStoppedTyping(r.topic, e.UserID) {
			r.changed()
		}
	}
}

// dispatch sends a pending message and posts the outcome back to the loop.
func (r *Room) dispatch(ref, body string) {
	socketID := r.conn.Status().SocketID
	go func() {
		ctx, cancel := context.WithTimeout(r.runCtx, r.timeout)
		defer cancel()
		m, err := r.api.SendMessage(ctx, r.roomID, body, ref, socketID)
		r.post(func() {
			if err != nil {
				r.log.Warn().Err(err).Str("client_ref", ref).Msg("send failed")
				r.messages.MarkFailed(ref, err)
			} else {
				r.messages.Confirm(ref, toEntity(m))
			}
			r.changed()
		})
	}()
}

func (r *Room) loadHistory() {
	ctx, cancel := context.WithTimeout(r.runCtx, r.timeout)
	defer cancel()
	msgs, err := r.api.History(ctx, r.roomID, r.history)
	if err != nil {
		r.log.Warn().Err(err).Msg("history load failed")
		return
	}
	r.post(func() {
		for _, m := range msgs {
			r.messages.ReconcileByGatewayEvent(toEntity(m))
		}
		r.changed()
	})
}

// emitTyping is the notifier's sink. Typing is best effort; failures are
// only logged.
func (r *Room) emitTyping(_ string, typing bool) {
	socketID := r.conn.Status().SocketID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.api.SendTyping(ctx, r.roomID, typing, socketID); err != nil {
			r.log.Debug().Err(err).Bool("typing", typing).Msg("typing signal dropped")
		}
	}()
}

func toEntity(m events.Message) reconcile.Entity {
	return reconcile.Entity{
		ID:         reconcile.Canonical(m.ID),
		ClientRef:  m.ClientRef,
		RoomID:     m.ChatRoomID,
		SenderID:   m.UserID,
		SenderName: m.UserName,
		Body:       m.Body,
		Reactions:  m.Reactions,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}
