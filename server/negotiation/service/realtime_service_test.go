package service

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"negotiation_server/server/negotiation/domain"
)

type memoryClaims struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *memoryClaims) Claim(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	return true, nil
}

func (m *memoryClaims) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

func newRealtimeServer(t *testing.T, env *testEnv) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rt := NewRealtimeService(env.sessions, env.log, env.rooms, &memoryClaims{keys: map[string]bool{}}, nil)
	router := gin.New()
	router.GET("/ws", func(c *gin.Context) { rt.HandleWS(c, Caller{}) })
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame map[string]any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(frame))
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func joinRoom(t *testing.T, conn *websocket.Conn, room string) {
	t.Helper()
	sendFrame(t, conn, map[string]any{"event": FrameJoinRoom, "room": room})
	ev := readEvent(t, conn)
	require.Equal(t, EventJoined, ev.Event, ev.Error)
}

func TestRoomMembersReceiveMessagesInOrder(t *testing.T) {
	env := newTestEnv(t)
	url := newRealtimeServer(t, env)
	s1 := env.session(t, hallKey("guest-1"))
	s2 := env.session(t, hallKey("guest-2"))

	first, second, other := dial(t, url), dial(t, url), dial(t, url)
	joinRoom(t, first, s1.ID)
	joinRoom(t, second, s1.ID)
	joinRoom(t, other, s2.ID)

	ctx := context.Background()
	for _, body := range []string{"one", "two", "three"} {
		_, err := env.log.Append(ctx, s1.ID, text(domain.RoleGuest, body))
		require.NoError(t, err)
	}
	_, err := env.log.Append(ctx, s2.ID, text(domain.RoleGuest, "elsewhere"))
	require.NoError(t, err)

	for _, conn := range []*websocket.Conn{first, second} {
		for i, body := range []string{"one", "two", "three"} {
			ev := readEvent(t, conn)
			require.Equal(t, EventReceiveMessage, ev.Event)
			require.NotNil(t, ev.Message)
			assert.Equal(t, body, ev.Message.Text)
			assert.Equal(t, int64(i+1), ev.Message.Seq)
			assert.Equal(t, s1.ID, ev.Room)
		}
	}

	ev := readEvent(t, other)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "elsewhere", ev.Message.Text)
}

func TestHallRoomKeyJoinsTheSameSession(t *testing.T) {
	env := newTestEnv(t)
	url := newRealtimeServer(t, env)
	s := env.session(t, hallKey("guest-1"))
	room := domain.HallRoomKey("hall-1", "guest-1")

	conn := dial(t, url)
	joinRoom(t, conn, room)
	sendFrame(t, conn, map[string]any{
		"event": FrameSendMessage,
		"room":  room,
		"message": map[string]any{
			"sender": "guest", "type": "text", "text": "hello", "client_msg_id": "c-1",
		},
	})

	ev := readEvent(t, conn)
	require.Equal(t, EventReceiveMessage, ev.Event, ev.Error)
	assert.Equal(t, room, ev.Room)
	assert.Equal(t, s.ID, ev.SessionID)

	sendFrame(t, conn, map[string]any{
		"event": FrameSendMessage,
		"room":  room,
		"message": map[string]any{
			"sender": "guest", "type": "text", "text": "hello", "client_msg_id": "c-1",
		},
	})
	ev = readEvent(t, conn)
	assert.Equal(t, EventError, ev.Event)
	assert.Equal(t, "duplicate", ev.Code)

	msgs, err := env.log.List(context.Background(), s.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestRoomErrors(t *testing.T) {
	env := newTestEnv(t)
	url := newRealtimeServer(t, env)
	s := env.session(t, hallKey("guest-1"))
	conn := dial(t, url)

	sendFrame(t, conn, map[string]any{"event": FrameJoinRoom, "room": uuid.NewString()})
	ev := readEvent(t, conn)
	assert.Equal(t, EventError, ev.Event)
	assert.Equal(t, "not_found", ev.Code)

	sendFrame(t, conn, map[string]any{
		"event":   FrameSendMessage,
		"room":    s.ID,
		"message": map[string]any{"sender": "guest", "text": "hi"},
	})
	ev = readEvent(t, conn)
	assert.Equal(t, EventError, ev.Event)
	assert.Equal(t, "not_joined", ev.Code)

	joinRoom(t, conn, s.ID)
	sendFrame(t, conn, map[string]any{
		"event":   FrameSendMessage,
		"room":    s.ID,
		"message": map[string]any{"sender": "guest", "type": "requestForm", "structured_payload": map[string]any{"questions": []any{}}},
	})
	ev = readEvent(t, conn)
	assert.Equal(t, EventError, ev.Event)
	assert.Equal(t, "validation", ev.Code)

	sendFrame(t, conn, map[string]any{"event": "shout", "room": s.ID})
	ev = readEvent(t, conn)
	assert.Equal(t, "validation", ev.Code)
}
