package service

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"negotiation_server/server/common/errs"
	commonlog "negotiation_server/server/common/log"
	"negotiation_server/server/common/transport/httpresp"
	"negotiation_server/server/negotiation/domain"
)

// Client frame names.
const (
	FrameJoinRoom    = "joinRoom"
	FrameLeaveRoom   = "leaveRoom"
	FrameSendMessage = "sendMessage"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = 30 * time.Second
	wsMaxFrameBytes  = 64 << 10
	wsOutboundBuffer = 64
)

// MessageDedupTTL is how long a client_msg_id stays claimed.
const MessageDedupTTL = 24 * time.Hour

type inboundFrame struct {
	Event   string               `json:"event"`
	Room    string               `json:"room"`
	Message *domain.MessageDraft `json:"message,omitempty"`
}

// RealtimeService speaks the room protocol over WebSocket connections.
type RealtimeService struct {
	sessions *SessionRegistry
	log      *MessageLog
	rooms    *Broadcaster
	dedup    Idempotency
	upgrader websocket.Upgrader
}

// NewRealtimeService accepts a nil dedup, which disables client_msg_id
// deduplication. An empty origin list allows every origin.
func NewRealtimeService(sessions *SessionRegistry, log *MessageLog, rooms *Broadcaster, dedup Idempotency, allowedOrigins []string) *RealtimeService {
	return &RealtimeService{
		sessions: sessions,
		log:      log,
		rooms:    rooms,
		dedup:    dedup,
		upgrader: websocket.Upgrader{CheckOrigin: originChecker(allowedOrigins)},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(origin, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

func (s *RealtimeService) HandleWS(c *gin.Context, caller Caller) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		commonlog.Warnf("event=ws_upgrade action=upgrade status=failed remote=%s error=%v", c.ClientIP(), err)
		return
	}
	conn := newWSConn(ws)
	commonlog.Infof("event=ws_connect action=open status=ok conn_id=%s role=%s", conn.id, caller.Role)

	go conn.writeLoop()
	defer func() {
		s.rooms.LeaveAll(conn)
		conn.close()
		commonlog.Infof("event=ws_connect action=close status=ok conn_id=%s", conn.id)
	}()

	ws.SetReadLimit(wsMaxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	ctx := c.Request.Context()
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			conn.replyError(frame.Room, errs.Invalid("frame", "must be a JSON object"))
			continue
		}
		switch frame.Event {
		case FrameJoinRoom:
			s.join(ctx, conn, caller, frame.Room)
		case FrameLeaveRoom:
			s.leave(ctx, conn, frame.Room)
		case FrameSendMessage:
			s.send(ctx, conn, caller, frame)
		default:
			conn.replyError(frame.Room, errs.Invalid("event", "unknown event "+frame.Event))
		}
	}
}

func (s *RealtimeService) join(ctx context.Context, conn *wsConn, caller Caller, room string) {
	session, err := s.sessions.ResolveRoom(ctx, room)
	if err == nil {
		err = AuthorizeSession(session, caller)
	}
	if err != nil {
		conn.replyError(room, err)
		return
	}
	conn.alias(session.ID, room)
	s.rooms.Join(session.ID, conn)
	conn.Deliver(Event{Event: EventJoined, Room: room, SessionID: session.ID})
	commonlog.Debugf("event=ws_room action=join status=ok conn_id=%s session_id=%s", conn.id, session.ID)
}

func (s *RealtimeService) leave(ctx context.Context, conn *wsConn, room string) {
	session, err := s.sessions.ResolveRoom(ctx, room)
	if err != nil {
		conn.replyError(room, err)
		return
	}
	s.rooms.Leave(session.ID, conn)
	conn.Deliver(Event{Event: EventLeft, Room: room, SessionID: session.ID})
}

func (s *RealtimeService) send(ctx context.Context, conn *wsConn, caller Caller, frame inboundFrame) {
	if frame.Message == nil {
		conn.replyError(frame.Room, errs.Invalid("message", "is required"))
		return
	}
	session, err := s.sessions.ResolveRoom(ctx, frame.Room)
	if err != nil {
		conn.replyError(frame.Room, err)
		return
	}
	if !s.rooms.Joined(session.ID, conn) {
		conn.replyError(frame.Room, errs.Conflict("not_joined", "join the room before sending"))
		return
	}
	draft := frame.Message.Normalize()
	if err := AuthorizeSender(caller, draft.Sender); err != nil {
		conn.replyError(frame.Room, err)
		return
	}

	idempotencyKey := ""
	if draft.ClientMsgID != "" && s.dedup != nil {
		idempotencyKey = "ws:message:" + session.ID + ":" + string(draft.Sender) + ":" + draft.ClientMsgID
		ok, err := s.dedup.Claim(ctx, idempotencyKey)
		if err != nil {
			commonlog.Warnf("event=ws_message_dedup action=claim status=failed session_id=%s error=%v", session.ID, err)
			conn.replyError(frame.Room, errs.Network("idempotency", err))
			return
		}
		if !ok {
			conn.replyError(frame.Room, errs.Conflict(errs.CodeDuplicate, "duplicate client_msg_id"))
			return
		}
	}

	if _, err := s.log.Append(ctx, session.ID, draft); err != nil {
		if idempotencyKey != "" {
			if relErr := s.dedup.Release(context.WithoutCancel(ctx), idempotencyKey); relErr != nil {
				commonlog.Warnf("event=ws_message_dedup action=release status=failed session_id=%s error=%v", session.ID, relErr)
			}
		}
		conn.replyError(frame.Room, err)
	}
}

// wsConn is one WebSocket connection. All writes go through send and are
// performed by writeLoop, so frames leave in enqueue order.
type wsConn struct {
	id    string
	ws    *websocket.Conn
	send  chan Event
	done  chan struct{}
	once  sync.Once
	mu    sync.Mutex
	rooms map[string]string
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{
		id:    uuid.NewString(),
		ws:    ws,
		send:  make(chan Event, wsOutboundBuffer),
		done:  make(chan struct{}),
		rooms: map[string]string{},
	}
}

func (c *wsConn) ID() string { return c.id }

// Deliver enqueues ev without blocking. A full buffer closes the connection.
func (c *wsConn) Deliver(ev Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	if ev.SessionID != "" {
		c.mu.Lock()
		if room, ok := c.rooms[ev.SessionID]; ok {
			ev.Room = room
		}
		c.mu.Unlock()
	}
	select {
	case c.send <- ev:
		return true
	default:
		c.close()
		return false
	}
}

// alias remembers the room name the client used for a session.
func (c *wsConn) alias(sessionID, room string) {
	c.mu.Lock()
	c.rooms[sessionID] = room
	c.mu.Unlock()
}

func (c *wsConn) replyError(room string, err error) {
	_, body := httpresp.FromError(err)
	c.Deliver(Event{Event: EventError, Room: room, Error: body.Error, Code: body.Code})
}

func (c *wsConn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case <-c.done:
			return
		case ev := <-c.send:
			b, err := json.Marshal(ev)
			if err != nil {
				commonlog.Errorf("event=ws_write action=marshal status=failed conn_id=%s error=%v", c.id, err)
				continue
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
