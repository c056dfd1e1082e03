package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"familyhub/internal/signature"

	"github.com/stretchr/testify/require"
)

func postAuth(env *testEnv, authHeader string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/broadcasting/auth", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func TestBroadcastAuth_PrivateChannel(t *testing.T) {
	env := newTestEnv(t)
	name := fmt.Sprintf("private-chat-room.%d", env.fixture.Room.ID)

	w := postAuth(env, env.bearer(t, env.fixture.Alice.ID, "Alice"), url.Values{
		"channel_name": {name},
		"socket_id":    {"123.456"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "app-key:"+signature.Sign(testSecret, "123.456", name), resp["auth"])
	_, hasData := resp["channel_data"]
	require.False(t, hasData)
}

func TestBroadcastAuth_PresenceChannel(t *testing.T) {
	env := newTestEnv(t)
	name := fmt.Sprintf("presence-family.%d", env.fixture.Family.ID)

	w := postAuth(env, env.bearer(t, env.fixture.Bob.ID, "Bob"), url.Values{
		"channel_name": {name},
		"socket_id":    {"9.9"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp BroadcastAuthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ChannelData)
	require.Equal(t, "app-key:"+signature.Sign(testSecret, "9.9", name, resp.ChannelData), resp.Auth)
	require.JSONEq(t,
		fmt.Sprintf(`{"user_id":%d,"user_info":{"name":"Bob","role":"member"}}`, env.fixture.Bob.ID),
		resp.ChannelData)
}

func TestBroadcastAuth_JSONBody(t *testing.T) {
	env := newTestEnv(t)
	name := fmt.Sprintf("private-chat-room.%d", env.fixture.Room.ID)
	body := fmt.Sprintf(`{"channel_name":%q,"socket_id":"1.2"}`, name)

	req := httptest.NewRequest(http.MethodPost, "/broadcasting/auth", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", env.bearer(t, env.fixture.Alice.ID, "Alice"))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestBroadcastAuth_Forbidden(t *testing.T) {
	env := newTestEnv(t)
	name := fmt.Sprintf("private-chat-room.%d", env.fixture.Room.ID)

	w := postAuth(env, env.bearer(t, env.fixture.Bob.ID, "Bob"), url.Values{
		"channel_name": {name},
		"socket_id":    {"1.2"},
	})
	require.Equal(t, http.StatusForbidden, w.Code)
	require.NotContains(t, w.Body.String(), "auth\"")

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["message"])
}

func TestBroadcastAuth_InvalidChannelAndSocket(t *testing.T) {
	env := newTestEnv(t)
	bearer := env.bearer(t, env.fixture.Alice.ID, "Alice")

	for _, form := range []url.Values{
		{"channel_name": {"chat-room.5"}, "socket_id": {"1.2"}},
		{"channel_name": {fmt.Sprintf("private-chat-room.%d", env.fixture.Room.ID)}, "socket_id": {"1.2:x"}},
		{"socket_id": {"1.2"}},
	} {
		w := postAuth(env, bearer, form)
		require.Equal(t, http.StatusForbidden, w.Code, form.Encode())
	}
}

func TestBroadcastAuth_Unauthenticated(t *testing.T) {
	env := newTestEnv(t)

	// A malformed channel from an unauthenticated caller is still a 401.
	for _, header := range []string{"", "Bearer garbage"} {
		w := postAuth(env, header, url.Values{"channel_name": {"nonsense"}, "socket_id": {"x"}})
		require.Equal(t, http.StatusUnauthorized, w.Code)
		require.JSONEq(t, `{"message":"Unauthenticated."}`, w.Body.String())
	}
}

func TestRealtimeConfig_OmitsSecret(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/api/realtime/config", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"host":"rt.local","port":6001,"scheme":"ws","key":"app-key"}`, w.Body.String())
	require.NotContains(t, w.Body.String(), string(testSecret))
}
