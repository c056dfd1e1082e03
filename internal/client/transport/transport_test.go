package transport

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"familyhub/internal/config"
	"familyhub/internal/signature"
	"familyhub/internal/testutil"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var secret = []byte("s3cret")

func dial(t *testing.T, gw *testutil.Gateway) Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := NewDialer(gw.Public(), zerolog.Nop()).Dial(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func grantFor(conn Conn, channel string) Grant {
	return Grant{Auth: "key:" + signature.Sign(secret, conn.SocketID(), channel)}
}

func next(t *testing.T, conn Conn) Inbound {
	t.Helper()
	select {
	case in, ok := <-conn.Inbound():
		require.True(t, ok, "connection closed: %v", conn.Err())
		return in
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for inbound frame")
		return Inbound{}
	}
}

func TestNewDialer_URL(t *testing.T) {
	d := NewDialer(config.Public{Host: "rt.example.org", Port: 443, Scheme: "wss", Key: "abc"}, zerolog.Nop())
	require.Equal(t, "wss://rt.example.org:443/app/abc?client=familyhub-go&protocol=7&version=1.0", d.URL())
}

func TestDial_HandshakeAndSubscribe(t *testing.T) {
	gw := testutil.NewGateway("1", "key", secret)
	t.Cleanup(gw.Close)

	conn := dial(t, gw)
	require.Regexp(t, `^\d+\.\d+$`, conn.SocketID())

	require.NoError(t, conn.Subscribe("private-chat-room.42", grantFor(conn, "private-chat-room.42")))
	in := next(t, conn)
	require.Equal(t, InboundSubscribed, in.Kind)
	require.Equal(t, "private-chat-room.42", in.Channel)

	require.Equal(t, 1, gw.Publish("private-chat-room.42", "message.sent", map[string]any{"message": map[string]any{"id": 99}}, ""))
	in = next(t, conn)
	require.Equal(t, InboundEvent, in.Kind)
	require.Equal(t, "message.sent", in.Event)
	require.JSONEq(t, `{"message":{"id":99}}`, string(in.Data))
}

func TestSubscribe_BadSignature(t *testing.T) {
	gw := testutil.NewGateway("1", "key", secret)
	t.Cleanup(gw.Close)

	conn := dial(t, gw)
	bad := Grant{Auth: "key:" + signature.Sign([]byte("wrong"), conn.SocketID(), "private-chat-room.1")}
	require.NoError(t, conn.Subscribe("private-chat-room.1", bad))

	in := next(t, conn)
	require.Equal(t, InboundSubscriptionError, in.Kind)
	require.Equal(t, "private-chat-room.1", in.Channel)

	var body map[string]any
	require.NoError(t, json.Unmarshal(in.Data, &body))
	require.EqualValues(t, 401, body["status"])
	require.Zero(t, gw.Subscribers("private-chat-room.1"))
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	gw := testutil.NewGateway("1", "key", secret)
	t.Cleanup(gw.Close)

	conn := dial(t, gw)
	require.NoError(t, conn.Subscribe("private-chat-room.2", grantFor(conn, "private-chat-room.2")))
	require.Equal(t, InboundSubscribed, next(t, conn).Kind)

	require.NoError(t, conn.Unsubscribe("private-chat-room.2"))
	require.Eventually(t, func() bool { return gw.Subscribers("private-chat-room.2") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestConnectionLoss_ReportsTransportError(t *testing.T) {
	gw := testutil.NewGateway("1", "key", secret)
	t.Cleanup(gw.Close)

	conn := dial(t, gw)
	gw.DropAll()

	select {
	case _, ok := <-conn.Inbound():
		require.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("inbound not closed after drop")
	}
	require.True(t, errors.Is(conn.Err(), ErrTransport))
}

func TestClose_LeavesErrNil(t *testing.T) {
	gw := testutil.NewGateway("1", "key", secret)
	t.Cleanup(gw.Close)

	conn := dial(t, gw)
	require.NoError(t, conn.Close())
	for range conn.Inbound() {
	}
	require.NoError(t, conn.Err())
}

func TestDial_Rejected(t *testing.T) {
	gw := testutil.NewGateway("1", "key", secret)
	t.Cleanup(gw.Close)
	gw.RejectDials(true)

	_, err := NewDialer(gw.Public(), zerolog.Nop()).Dial(context.Background())
	require.ErrorIs(t, err, ErrTransport)
}

func TestUnwrapData(t *testing.T) {
	require.Equal(t, `{"a":1}`, string(unwrapData(json.RawMessage(`"{\"a\":1}"`))))
	require.Equal(t, `{"a":1}`, string(unwrapData(json.RawMessage(`{"a":1}`))))
}

func TestParseGatewayError(t *testing.T) {
	err := parseGatewayError(json.RawMessage(`{"code":4001,"message":"app does not exist"}`))
	require.Equal(t, 4001, err.Code)
	require.ErrorIs(t, err, ErrRejected)
	require.NotErrorIs(t, err, ErrTransport)
}

func TestGatewayError_ReconnectClasses(t *testing.T) {
	for code, rejected := range map[int]bool{4000: true, 4009: true, 4099: true, 4100: false, 4201: false} {
		err := &GatewayError{Code: code, Message: "x"}
		require.Equal(t, rejected, errors.Is(err, ErrRejected), code)
		require.Equal(t, !rejected, errors.Is(err, ErrTransport), code)
	}
}
