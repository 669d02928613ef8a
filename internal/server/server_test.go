package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bearbait/forestchat/internal/chat"
	"github.com/bearbait/forestchat/internal/store"
)

const readWait = 2 * time.Second

type testEnv struct {
	srv *Server
	ts  *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithConfig(t, nil)
}

func newTestEnvWithConfig(t *testing.T, tweak func(*Config)) *testEnv {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := NewConfig()
	cfg.AllowedOrigins = []string{"*"}
	if tweak != nil {
		tweak(cfg)
	}

	srv := New(cfg, st, zap.NewNop())
	ts := httptest.NewServer(srv.SetupRoutes())
	t.Cleanup(ts.Close)
	t.Cleanup(func() { srv.Shutdown(time.Second) })

	return &testEnv{srv: srv, ts: ts}
}

func (e *testEnv) postForm(t *testing.T, path string, values url.Values) *http.Response {
	t.Helper()
	resp, err := http.PostForm(e.ts.URL+path, values)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) register(t *testing.T, username, password string) {
	t.Helper()
	resp := e.postForm(t, "/register", url.Values{"username": {username}, "password": {password}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

// login returns the session cookie issued for the credentials.
func (e *testEnv) login(t *testing.T, username, password string) *http.Cookie {
	t.Helper()
	resp := e.postForm(t, "/login", url.Values{"username": {username}, "password": {password}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for _, c := range resp.Cookies() {
		if c.Name == sessionCookie && c.Value != "" {
			return c
		}
	}
	t.Fatal("login response carried no session cookie")
	return nil
}

func (e *testEnv) dial(t *testing.T, cookie *http.Cookie) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws"

	header := http.Header{}
	header.Set("Origin", e.ts.URL)
	header.Set("Cookie", cookie.String())

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readWait)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var evt map[string]any
	require.NoError(t, json.Unmarshal(payload, &evt))
	return evt
}

// readUntil skips events until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, eventType string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(readWait)
	for time.Now().Before(deadline) {
		evt := readEvent(t, conn)
		if evt["type"] == eventType {
			return evt
		}
	}
	t.Fatalf("no %q event arrived in time", eventType)
	return nil
}

func sendEvent(t *testing.T, conn *websocket.Conn, evt chat.InboundEvent) {
	t.Helper()
	payload, err := json.Marshal(evt)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRegisterRejectsDuplicateUsername(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "secret")

	resp := env.postForm(t, "/register", url.Values{"username": {"alice"}, "password": {"other"}})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "secret")

	// Unknown username and wrong password produce the same rejection.
	resp := env.postForm(t, "/login", url.Values{"username": {"alice"}, "password": {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.postForm(t, "/login", url.Values{"username": {"nobody"}, "password": {"secret"}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketRejectsMissingSession(t *testing.T) {
	env := newTestEnv(t)
	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws"

	header := http.Header{}
	header.Set("Origin", env.ts.URL)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConnectAnnouncesRoster(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "secret")
	cookie := env.login(t, "alice", "secret")

	conn := env.dial(t, cookie)

	roster := readUntil(t, conn, chat.EventPresence)
	assert.EqualValues(t, 1, roster["count"])
}

func TestPublicMessageRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "secret")
	env.register(t, "bob", "secret")

	aliceConn := env.dial(t, env.login(t, "alice", "secret"))
	bobConn := env.dial(t, env.login(t, "bob", "secret"))

	// Wait until both sides know the full roster before sending.
	readUntil(t, aliceConn, chat.EventPresence)
	readUntil(t, bobConn, chat.EventPresence)

	sendEvent(t, aliceConn, chat.InboundEvent{Type: chat.EventMessage, Content: "hello"})

	for _, conn := range []*websocket.Conn{aliceConn, bobConn} {
		evt := readUntil(t, conn, chat.EventMessage)
		assert.Equal(t, "alice", evt["sender"])
		assert.Equal(t, "hello", evt["content"])
		assert.Equal(t, false, evt["private"])
		assert.NotEmpty(t, evt["timestamp"])
		assert.NotEmpty(t, evt["color"])
		assert.NotEmpty(t, evt["icon"])
	}
}

func TestHistoryReplayOnReconnect(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "secret")
	cookie := env.login(t, "alice", "secret")

	conn := env.dial(t, cookie)
	readUntil(t, conn, chat.EventPresence)
	sendEvent(t, conn, chat.InboundEvent{Type: chat.EventMessage, Content: "for the record"})
	readUntil(t, conn, chat.EventMessage)
	conn.Close()

	// Same session token, new connection.
	reconn := env.dial(t, cookie)
	readUntil(t, reconn, chat.EventPresence)
	sendEvent(t, reconn, chat.InboundEvent{Type: chat.EventHistory})

	history := readUntil(t, reconn, chat.EventHistory)
	messages, ok := history["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 1)

	first, ok := messages[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "for the record", first["content"])
}

func TestSecondLoginForcesFirstConnectionOut(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "secret")

	firstConn := env.dial(t, env.login(t, "alice", "secret"))
	readUntil(t, firstConn, chat.EventPresence)

	// Second login from "another device" supersedes the first session.
	env.login(t, "alice", "secret")

	evt := readUntil(t, firstConn, chat.EventForcedLogout)
	assert.Equal(t, chat.ForcedLogoutMessage, evt["message"])

	// The superseded connection is closed shortly after the signal.
	require.NoError(t, firstConn.SetReadDeadline(time.Now().Add(readWait)))
	for {
		if _, _, err := firstConn.ReadMessage(); err != nil {
			break
		}
	}
}

// Every inbound frame spends a rate limit token, history requests included,
// so a flood of replay requests cannot hammer the message store.
func TestHistoryRequestsAreRateLimited(t *testing.T) {
	env := newTestEnvWithConfig(t, func(cfg *Config) {
		cfg.RateLimit = RateLimitConfig{Burst: 2, RefillInterval: time.Hour}
	})
	env.register(t, "alice", "secret")

	conn := env.dial(t, env.login(t, "alice", "secret"))
	readUntil(t, conn, chat.EventPresence)

	for i := 0; i < 5; i++ {
		sendEvent(t, conn, chat.InboundEvent{Type: chat.EventHistory})
	}

	replies := 0
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(500*time.Millisecond)))
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var evt map[string]any
		if json.Unmarshal(payload, &evt) == nil && evt["type"] == chat.EventHistory {
			replies++
		}
	}
	assert.Equal(t, 2, replies)
}

func TestPreferenceUpdateRequiresSession(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "secret")

	resp := env.postForm(t, "/preferences/color", url.Values{"color_name": {"moss"}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPreferenceUpdate(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "secret")
	cookie := env.login(t, "alice", "secret")

	req, err := http.NewRequest(http.MethodPost, env.ts.URL+"/preferences/color",
		strings.NewReader(url.Values{"color_name": {"moss"}}.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(cookie)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Unknown palette entries are rejected.
	req2, err := http.NewRequest(http.MethodPost, env.ts.URL+"/preferences/color",
		strings.NewReader(url.Values{"color_name": {"neon"}}.Encode()))
	require.NoError(t, err)
	req2.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req2.AddCookie(cookie)

	resp2, err := http.DefaultClient.Do(req2)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestLogoutInvalidatesSession(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "secret")
	cookie := env.login(t, "alice", "secret")

	req, err := http.NewRequest(http.MethodPost, env.ts.URL+"/logout", nil)
	require.NoError(t, err)
	req.AddCookie(cookie)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The old token no longer opens a connection.
	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws"
	header := http.Header{}
	header.Set("Origin", env.ts.URL)
	header.Set("Cookie", cookie.String())

	_, wsResp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.NotNil(t, wsResp)
	defer wsResp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, wsResp.StatusCode)
}
