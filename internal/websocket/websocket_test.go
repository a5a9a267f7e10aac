package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"idylle/internal/action"
	"idylle/internal/config"
	"idylle/internal/criteria"
	apierrors "idylle/internal/errors"
	"idylle/internal/infrastructure"
	"idylle/internal/iocontext"
	"idylle/internal/response"
)

func testEnv() action.Env {
	logger := infrastructure.NewDiscardLogger()
	return action.NewEnv(criteria.NewBuilder(), apierrors.NewErrorHandler(logger, false), response.NewHandler(), logger)
}

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = infrastructure.NewDiscardLogger()
	}
	s := NewServer(opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, s.Shutdown(ctx))
	})
	return s
}

func echo(ctx context.Context, env action.Env, c *iocontext.Context) (any, error) {
	return map[string]any{
		"data":      c.Data(),
		"user":      c.User(),
		"client_id": c.ConnectionID(),
		"limit":     c.Criteria().Limit,
	}, nil
}

func TestFramePayload(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    any
	}{
		{"absent", "", nil},
		{"null", "null", nil},
		{"object", `{"data":1}`, json.RawMessage(`{"data":1}`)},
		{"json string", `"{\"data\":1}"`, `{"data":1}`},
		{"number", `42`, json.RawMessage(`42`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Frame{Event: "x", Message: json.RawMessage(tt.message)}
			assert.Equal(t, tt.want, f.Payload())
		})
	}
}

func TestTimingFrom(t *testing.T) {
	got := timingFrom(config.WebSocketConfig{})
	assert.Equal(t, defaultWriteWait, got.writeWait)
	assert.Equal(t, defaultPongWait, got.pongWait)
	assert.Equal(t, defaultPongWait*9/10, got.pingPeriod)
	assert.Equal(t, int64(defaultMaxMessageSize), got.maxMessageSize)

	got = timingFrom(config.WebSocketConfig{PongWait: 10 * time.Second, PingPeriod: 20 * time.Second})
	assert.Equal(t, 9*time.Second, got.pingPeriod)
}

func TestRouter(t *testing.T) {
	r := NewRouter()
	noop := func(context.Context, *Client, string, any) {}
	r.On("b", noop).On("a", noop)

	assert.Equal(t, []string{"a", "b"}, r.Events())
	_, ok := r.lookup("a")
	assert.True(t, ok)
	_, ok = r.lookup("missing")
	assert.False(t, ok)
}

func TestDispatchReplies(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := NewServer(Options{Logger: infrastructure.NewDiscardLogger()})
	s.On("echo", Dispatch(testEnv(), echo))

	conn := newMockConnection()
	c := s.serve(conn, "client-1", "alice", "trace-1")
	require.NotNil(t, c)

	conn.push(`{"event":"echo","message":{"data":{"x":1},"token":"t-1","query":{"limit":5}}}`)
	replies := conn.waitReplies(t, 1)

	reply := replies[0]
	assert.Equal(t, "echo", reply["event"])
	assert.Equal(t, "t-1", reply["token"])
	assert.NotContains(t, reply, "error")
	data := reply["data"].(map[string]any)
	assert.Equal(t, map[string]any{"x": float64(1)}, data["data"])
	assert.Equal(t, "alice", data["user"])
	assert.Equal(t, "client-1", data["client_id"])
	assert.Equal(t, float64(5), data["limit"])

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.True(t, conn.isClosed())
}

func TestDispatchStringMessage(t *testing.T) {
	s := newTestServer(t, Options{})
	s.On("echo", Dispatch(testEnv(), echo))

	conn := newMockConnection()
	s.serve(conn, "client-1", nil, "")
	conn.push(`{"event":"echo","message":"{\"data\":\"hi\",\"token\":\"abc\"}"}`)

	reply := conn.waitReplies(t, 1)[0]
	assert.Equal(t, "abc", reply["token"])
	assert.Equal(t, "hi", reply["data"].(map[string]any)["data"])
	assert.Nil(t, reply["data"].(map[string]any)["user"])
}

func TestDispatchEchoesOpaqueToken(t *testing.T) {
	s := newTestServer(t, Options{})
	s.On("echo", Dispatch(testEnv(), echo))

	conn := newMockConnection()
	s.serve(conn, "client-1", nil, "")
	conn.push(`{"event":"echo","message":{"data":1,"token":7}}`)
	conn.push(`{"event":"echo","message":{"data":2,"token":{"cursor":"c-1"}}}`)
	conn.push(`{"event":"echo","message":{"data":3}}`)

	replies := conn.waitReplies(t, 3)
	byData := map[float64]map[string]any{}
	for _, r := range replies {
		byData[r["data"].(map[string]any)["data"].(float64)] = r
	}
	require.Len(t, byData, 3)
	assert.Equal(t, float64(7), byData[1]["token"])
	assert.Equal(t, map[string]any{"cursor": "c-1"}, byData[2]["token"])
	assert.NotContains(t, byData[3], "token")
}

func TestDispatchErrors(t *testing.T) {
	failing := func(ctx context.Context, env action.Env, c *iocontext.Context) (any, error) {
		return nil, apierrors.ErrForbidden
	}
	panicking := func(ctx context.Context, env action.Env, c *iocontext.Context) (any, error) {
		panic("boom")
	}

	tests := []struct {
		name      string
		frame     string
		wantType  string
		wantToken string
	}{
		{"missing message", `{"event":"echo"}`, apierrors.TypeInvalidContext, ""},
		{"invalid criteria", `{"event":"echo","message":{"token":"t","query":{"limit":-1}}}`, apierrors.TypeInvalidCriteria, ""},
		{"action error", `{"event":"fail","message":{"token":"t-2"}}`, apierrors.TypeForbidden, "t-2"},
		{"action panic", `{"event":"panic","message":{"token":"t-3"}}`, apierrors.TypeInternal, "t-3"},
		{"unknown event", `{"event":"nope","message":{}}`, apierrors.TypeActionNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testEnv()
			s := newTestServer(t, Options{})
			s.On("echo", Dispatch(env, echo))
			s.On("fail", Dispatch(env, failing))
			s.On("panic", Dispatch(env, panicking))

			conn := newMockConnection()
			s.serve(conn, "c", nil, "")
			conn.push(tt.frame)

			reply := conn.waitReplies(t, 1)[0]
			assert.NotContains(t, reply, "data")
			problem, ok := reply["error"].(map[string]any)
			require.True(t, ok, "reply has no error: %v", reply)
			assert.Equal(t, tt.wantType, problem["type"])
			if tt.wantToken != "" {
				assert.Equal(t, tt.wantToken, reply["token"])
			}
		})
	}
}

func TestInvalidFrameReportsError(t *testing.T) {
	s := newTestServer(t, Options{})

	var mu sync.Mutex
	var reported []error
	s.OnError(func(c *Client, err error) {
		mu.Lock()
		defer mu.Unlock()
		reported = append(reported, err)
	})

	conn := newMockConnection()
	s.serve(conn, "c", nil, "")
	conn.push(`not json`)
	conn.push(`{"message":{}}`)

	replies := conn.waitReplies(t, 2)
	for _, reply := range replies {
		problem := reply["error"].(map[string]any)
		assert.Equal(t, apierrors.TypeValidation, problem["type"])
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reported, 2)
	assert.Contains(t, reported[0].Error(), "invalid frame")
	assert.True(t, errors.Is(reported[1], errMissingEvent))
}

func TestHandlerPanicReportsError(t *testing.T) {
	s := newTestServer(t, Options{})
	reported := make(chan error, 1)
	s.OnError(func(c *Client, err error) { reported <- err })
	s.On("raw", func(context.Context, *Client, string, any) { panic("raw handler") })

	conn := newMockConnection()
	s.serve(conn, "c", nil, "")
	conn.push(`{"event":"raw"}`)

	select {
	case err := <-reported:
		assert.Contains(t, err.Error(), "panicked")
	case <-time.After(2 * time.Second):
		t.Fatal("panic was not reported")
	}
}

func TestClientEmitAfterClose(t *testing.T) {
	s := newTestServer(t, Options{})
	conn := newMockConnection()
	c := s.serve(conn, "c", nil, "")
	require.NotNil(t, c)

	c.closeSend()
	assert.ErrorIs(t, c.Emit("x", nil, 1), ErrClientClosed)
	c.closeSend()
}

func TestServeAfterShutdown(t *testing.T) {
	s := NewServer(Options{Logger: infrastructure.NewDiscardLogger()})
	require.NoError(t, s.Shutdown(context.Background()))
	require.NoError(t, s.Shutdown(context.Background()))

	conn := newMockConnection()
	assert.Nil(t, s.serve(conn, "c", nil, ""))
	assert.True(t, conn.isClosed())

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func TestServerOverHTTP(t *testing.T) {
	s := newTestServer(t, Options{
		Authenticator: func(r *http.Request) (any, error) {
			if r.URL.Query().Get("user") == "" {
				return nil, errors.New("no user")
			}
			return r.URL.Query().Get("user"), nil
		},
	})
	s.On("echo", Dispatch(testEnv(), echo))

	connectErrs := make(chan error, 1)
	s.OnConnectError(func(r *http.Request, err error) { connectErrs <- err })

	mux := http.NewServeMux()
	mux.Handle("/ws", s)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
	select {
	case err := <-connectErrs:
		assert.Contains(t, err.Error(), "no user")
	case <-time.After(time.Second):
		t.Fatal("connect error not reported")
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts)+"?user=bob", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"event":   "echo",
		"message": map[string]any{"data": "ping", "token": "tok"},
	}))

	var reply Reply
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "echo", reply.Event)
	assert.Equal(t, "tok", reply.Token)
	data := reply.Data.(map[string]any)
	assert.Equal(t, "ping", data["data"])
	assert.Equal(t, "bob", data["user"])

	require.NoError(t, s.Broadcast("news", map[string]any{"n": 1}))
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "news", reply.Event)
	assert.Equal(t, map[string]any{"n": float64(1)}, reply.Data)

	stats := s.Hub().Stats()
	assert.Equal(t, 1, stats["active_clients"])
}

func TestBroadcastWithoutClients(t *testing.T) {
	s := newTestServer(t, Options{})
	assert.NoError(t, s.Broadcast("x", nil))
	assert.False(t, s.Hub().Broadcast([]byte("{}")))
}
