package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uniattend/internal/auth"
)

func TestRoom(t *testing.T) {
	assert.Equal(t, "dept-abc-level-200 Level", Room("abc", "200 Level"))
}

func TestInMemoryFanOut(t *testing.T) {
	bus := NewInMemory(4)
	ctx, cancel := context.WithCancel(context.Background())

	a, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	b, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	env := Envelope{Room: "r", Event: EventNewSession, Data: json.RawMessage(`{"id":"s1"}`)}
	require.NoError(t, bus.Publish(context.Background(), env))

	assert.Equal(t, env, <-a)
	assert.Equal(t, env, <-b)

	cancel()
	_, open := <-a
	assert.False(t, open)
}

func TestRedisBus(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	bus := NewRedisBus(client, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	env := Envelope{Room: Room("d1", "100"), Event: EventSessionEnded, Data: json.RawMessage(`{"sessionId":"s1"}`)}
	require.NoError(t, bus.Publish(ctx, env))

	select {
	case got := <-events:
		assert.Equal(t, env.Room, got.Room)
		assert.Equal(t, env.Event, got.Event)
		assert.JSONEq(t, string(env.Data), string(got.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("no event from redis bus")
	}
}

type stubAuth map[string]auth.Principal

func (s stubAuth) Authenticate(r *http.Request) (auth.Principal, error) {
	p, ok := s[r.Header.Get("Authorization")]
	if !ok {
		return auth.Principal{}, errors.New("no principal")
	}
	return p, nil
}

func newServer(t *testing.T, strict bool) (*httptest.Server, *Hub, *InMemory) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub()
	bus := NewInMemory(16)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	events, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	go func() {
		for env := range events {
			hub.Deliver(env)
		}
	}()

	authn := stubAuth{
		"Bearer student": {ID: "u1", Role: auth.RoleStudent, DeptID: "d1", Level: "100"},
		"Bearer admin":   {ID: "u2", Role: auth.RoleSuperAdmin},
	}
	r := gin.New()
	r.GET("/ws", NewHandler(hub, authn, strict, "").Serve)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, hub, bus
}

func dial(t *testing.T, srv *httptest.Server, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return websocket.DefaultDialer.Dial(url, header)
}

func readFrame(t *testing.T, ws *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f Frame
	require.NoError(t, ws.ReadJSON(&f))
	return f
}

func join(t *testing.T, ws *websocket.Conn, deptID, level string) Frame {
	t.Helper()
	data, _ := json.Marshal(JoinRequest{DeptID: deptID, Level: level})
	require.NoError(t, ws.WriteJSON(Frame{Event: EventJoinDept, Data: data}))
	return readFrame(t, ws)
}

func TestStrictRoomsRejectAnonymous(t *testing.T) {
	srv, _, _ := newServer(t, true)
	_, resp, err := dial(t, srv, "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStrictRoomsScopeJoins(t *testing.T) {
	srv, hub, bus := newServer(t, true)

	ws, _, err := dial(t, srv, "student")
	require.NoError(t, err)
	defer ws.Close()

	f := join(t, ws, "d2", "100")
	assert.Equal(t, EventError, f.Event)

	f = join(t, ws, "d1", "100")
	require.Equal(t, EventJoined, f.Event)
	assert.JSONEq(t, `{"room":"dept-d1-level-100"}`, string(f.Data))
	assert.Equal(t, 1, hub.RoomSize(Room("d1", "100")))

	NewBroadcaster(bus).Notify(context.Background(), Room("d2", "100"), EventNewSession, map[string]string{"id": "other"})
	NewBroadcaster(bus).Notify(context.Background(), Room("d1", "100"), EventNewSession, map[string]string{"id": "s1"})

	f = readFrame(t, ws)
	assert.Equal(t, EventNewSession, f.Event)
	assert.JSONEq(t, `{"id":"s1"}`, string(f.Data))

	admin, _, err := dial(t, srv, "admin")
	require.NoError(t, err)
	defer admin.Close()
	assert.Equal(t, EventJoined, join(t, admin, "d9", "500").Event)
}

func TestOpenRoomsAllowAnyone(t *testing.T) {
	srv, hub, _ := newServer(t, false)

	ws, _, err := dial(t, srv, "")
	require.NoError(t, err)
	f := join(t, ws, "d7", "300")
	assert.Equal(t, EventJoined, f.Event)

	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool { return hub.RoomSize(Room("d7", "300")) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestMalformedFrame(t *testing.T) {
	srv, _, _ := newServer(t, false)
	ws, _, err := dial(t, srv, "")
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Equal(t, EventError, readFrame(t, ws).Event)

	require.NoError(t, ws.WriteJSON(Frame{Event: "dance"}))
	assert.Equal(t, EventError, readFrame(t, ws).Event)
}

func TestHubRun(t *testing.T) {
	hub := NewHub()
	bus := NewInMemory(4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx, bus)
		close(done)
	}()

	require.Eventually(t, func() bool {
		bus.mu.RLock()
		defer bus.mu.RUnlock()
		return len(bus.subs) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}
}

func TestHubResubscribesWhenRedisReturns(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	bus := NewRedisBus(client, "")

	hub := NewHub()
	hub.retryMin, hub.retryMax = 10*time.Millisecond, 50*time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx, bus)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	r := gin.New()
	r.GET("/ws", NewHandler(hub, nil, false, "").Serve)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	ws, _, err := dial(t, srv, "")
	require.NoError(t, err)
	defer ws.Close()
	require.Equal(t, EventJoined, join(t, ws, "d1", "100").Event)

	time.Sleep(100 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("hub gave up while redis was down")
	default:
	}

	revived := miniredis.NewMiniRedis()
	require.NoError(t, revived.StartAddr(addr))
	t.Cleanup(revived.Close)

	require.Eventually(t, func() bool {
		return revived.PubSubNumSub("uniattend:events")["uniattend:events"] == 1
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), Envelope{
		Room:  Room("d1", "100"),
		Event: EventSessionEnded,
		Data:  json.RawMessage(`{"sessionId":"s1"}`),
	}))
	f := readFrame(t, ws)
	assert.Equal(t, EventSessionEnded, f.Event)
	assert.JSONEq(t, `{"sessionId":"s1"}`, string(f.Data))
}
