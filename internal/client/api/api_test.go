package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"familyhub/internal/client/connection"
	"familyhub/internal/server/servertest"
	"familyhub/internal/signature"
	"familyhub/internal/testutil"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

type staticCreds string

func (s staticCreds) Token() (string, error) {
	if s == "" {
		return "", errors.New("no token")
	}
	return string(s), nil
}

func TestLogin_ReturnsDecodedSession(t *testing.T) {
	st := servertest.Start(t)
	c := New(st.API.URL)

	s, err := c.Login(context.Background(), "alice@example.org", testutil.FixturePassword)
	require.NoError(t, err)
	require.Equal(t, uint64(st.Fixture.Alice.ID), s.UserID)
	require.Equal(t, "Alice", s.Name)
	require.WithinDuration(t, time.Now().Add(time.Hour), s.ExpiresAt, time.Minute)

	token, err := s.Token()
	require.NoError(t, err)
	require.NotEmpty(t, token)
}

func TestLogin_WrongPassword(t *testing.T) {
	st := servertest.Start(t)
	_, err := New(st.API.URL).Login(context.Background(), "alice@example.org", "nope")

	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusUnauthorized, se.StatusCode)
	require.Equal(t, "Invalid email or password", se.Message)
	require.ErrorIs(t, err, ErrRequest)
}

func TestRealtimeConfig(t *testing.T) {
	st := servertest.Start(t)
	pub, err := New(st.API.URL).RealtimeConfig(context.Background())
	require.NoError(t, err)
	require.Equal(t, st.Gateway.Public(), pub)
}

func TestAuthorize_GrantVerifiesAgainstSecret(t *testing.T) {
	st := servertest.Start(t)
	creds := staticCreds(st.Token(t, st.Fixture.Alice.ID, "Alice"))
	name := fmt.Sprintf("private-chat-room.%d", st.Fixture.Room.ID)

	g, err := New(st.API.URL).Authorizer(creds).Authorize(context.Background(), "1234.5678", name)
	require.NoError(t, err)
	require.Empty(t, g.ChannelData)
	require.Equal(t, "app-key:"+signature.Sign([]byte("app-secret"), "1234.5678", name), g.Auth)
}

func TestAuthorize_PresenceCarriesChannelData(t *testing.T) {
	st := servertest.Start(t)
	creds := staticCreds(st.Token(t, st.Fixture.Bob.ID, "Bob"))
	name := fmt.Sprintf("presence-family.%d", st.Fixture.Family.ID)

	g, err := New(st.API.URL).Authorizer(creds).Authorize(context.Background(), "1.2", name)
	require.NoError(t, err)
	require.JSONEq(t, fmt.Sprintf(`{"user_id":%d,"user_info":{"name":"Bob","role":"member"}}`, st.Fixture.Bob.ID), g.ChannelData)
}

func TestAuthorize_ErrorMapping(t *testing.T) {
	st := servertest.Start(t)
	c := New(st.API.URL)
	room := fmt.Sprintf("private-chat-room.%d", st.Fixture.Room.ID)

	_, err := c.Authorizer(staticCreds(st.Token(t, st.Fixture.Carol.ID, "Carol"))).Authorize(context.Background(), "1.2", room)
	require.ErrorIs(t, err, connection.ErrDenied)

	_, err = c.Authorizer(staticCreds("not-a-jwt")).Authorize(context.Background(), "1.2", room)
	require.ErrorIs(t, err, connection.ErrUnauthenticated)

	_, err = c.Authorizer(staticCreds("")).Authorize(context.Background(), "1.2", room)
	require.ErrorIs(t, err, connection.ErrUnauthenticated)
}

func TestAuthorize_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	_, err := New(srv.URL).Authorizer(staticCreds("t")).Authorize(context.Background(), "1.2", "private-chat-room.1")
	require.Error(t, err)
	require.NotErrorIs(t, err, connection.ErrDenied)
	require.NotErrorIs(t, err, connection.ErrUnauthenticated)
	require.ErrorIs(t, err, ErrRequest)
}

func TestRooms_SendHistoryAndTyping(t *testing.T) {
	st := servertest.Start(t)
	rooms := New(st.API.URL).Rooms(staticCreds(st.Token(t, st.Fixture.Alice.ID, "Alice")))
	roomID := uint64(st.Fixture.Room.ID)
	ctx := context.Background()

	m, err := rooms.SendMessage(ctx, roomID, "hello", "p1", "")
	require.NoError(t, err)
	require.NotZero(t, m.ID)
	require.Equal(t, "p1", m.ClientRef)
	require.Equal(t, "Alice", m.UserName)

	again, err := rooms.SendMessage(ctx, roomID, "hello", "p1", "")
	require.NoError(t, err)
	require.Equal(t, m.ID, again.ID)

	history, err := rooms.History(ctx, roomID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "hello", history[0].Body)

	require.NoError(t, rooms.SendTyping(ctx, roomID, true, "1.2"))
}

func TestRooms_NonMember(t *testing.T) {
	st := servertest.Start(t)
	rooms := New(st.API.URL).Rooms(staticCreds(st.Token(t, st.Fixture.Carol.ID, "Carol")))

	_, err := rooms.SendMessage(context.Background(), uint64(st.Fixture.Room.ID), "hi", "p1", "")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusForbidden, se.StatusCode)
}

func TestRooms_MissingCredential(t *testing.T) {
	rooms := New("http://127.0.0.1:1").Rooms(staticCreds(""))
	_, err := rooms.History(context.Background(), 1, 0)
	require.ErrorIs(t, err, connection.ErrMissingCredential)
}

func TestSession_Expiry(t *testing.T) {
	exp := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "42",
		"name": "Erin",
		"exp":  exp.Unix(),
	}).SignedString([]byte("whatever"))
	require.NoError(t, err)

	s, err := NewSession(token)
	require.NoError(t, err)
	require.Equal(t, uint64(42), s.UserID)
	require.Equal(t, "Erin", s.Name)

	s.now = func() time.Time { return exp.Add(-time.Second) }
	got, err := s.Token()
	require.NoError(t, err)
	require.Equal(t, token, got)

	s.now = func() time.Time { return exp }
	_, err = s.Token()
	require.ErrorIs(t, err, ErrTokenExpired)

	s.Clear()
	_, err = s.Token()
	require.ErrorIs(t, err, connection.ErrMissingCredential)
}

func TestNewSession_Rejects(t *testing.T) {
	_, err := NewSession("garbage")
	require.Error(t, err)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"}).SignedString([]byte("k"))
	require.NoError(t, err)
	_, err = NewSession(token)
	require.Error(t, err)
}
