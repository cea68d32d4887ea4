package realtime

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"uniattend/internal/apperr"
	"uniattend/internal/auth"
)

// Client frame events.
const (
	EventJoinDept = "join-dept"
	EventJoined   = "joined"
	EventError    = "error"
)

// Authenticator resolves the caller from the upgrade request.
type Authenticator interface {
	Authenticate(r *http.Request) (auth.Principal, error)
}

// JoinRequest is the join-dept payload.
type JoinRequest struct {
	DeptID string `json:"deptId"`
	Level  string `json:"level"`
}

// Handler upgrades GET /ws and serves room joins.
type Handler struct {
	hub      *Hub
	authn    Authenticator
	strict   bool
	upgrader websocket.Upgrader
}

// NewHandler builds the endpoint. In strict mode the caller must be
// authenticated and non-admins may only join their own class room; otherwise
// any client may join any room. allowedOrigin of "" or "*" accepts every
// origin.
func NewHandler(hub *Hub, authn Authenticator, strict bool, allowedOrigin string) *Handler {
	return &Handler{
		hub:    hub,
		authn:  authn,
		strict: strict,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowedOrigin == "" || allowedOrigin == "*" || origin == allowedOrigin
			},
		},
	}
}

// Serve is the gin handler for GET /ws.
func (h *Handler) Serve(c *gin.Context) {
	var principal *auth.Principal
	if h.authn != nil {
		if p, err := h.authn.Authenticate(c.Request); err == nil {
			principal = &p
		}
	}
	if h.strict && principal == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, apperr.Unauthorized("Not authorized, token failed."))
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[WARN] websocket upgrade: %v", err)
		return
	}
	conn := newConn(ws, principal)
	h.hub.register(conn)
	defer func() {
		h.hub.unregister(conn)
		conn.Close()
	}()

	ws.SetReadLimit(4096)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			conn.Send(errorFrame("Malformed frame."))
			continue
		}
		switch f.Event {
		case EventJoinDept:
			h.join(conn, f.Data)
		default:
			conn.Send(errorFrame("Unknown event."))
		}
	}
}

func (h *Handler) join(conn *Conn, data json.RawMessage) {
	var req JoinRequest
	if err := json.Unmarshal(data, &req); err != nil || req.DeptID == "" || req.Level == "" {
		conn.Send(errorFrame("deptId and level are required."))
		return
	}
	if h.strict && !mayJoin(conn.principal, req) {
		conn.Send(errorFrame("You may only join your own class room."))
		return
	}
	room := Room(req.DeptID, req.Level)
	h.hub.Join(conn, room)
	ack, _ := json.Marshal(map[string]string{"room": room})
	frame, _ := json.Marshal(Frame{Event: EventJoined, Data: ack})
	conn.Send(frame)
}

func mayJoin(p *auth.Principal, req JoinRequest) bool {
	if p == nil {
		return false
	}
	if p.Role.IsAdmin() {
		return true
	}
	return p.DeptID == req.DeptID && p.Level == req.Level
}

func errorFrame(msg string) []byte {
	data, _ := json.Marshal(map[string]string{"message": msg})
	frame, _ := json.Marshal(Frame{Event: EventError, Data: data})
	return frame
}
