package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"relief.org/internal/auth"
	"relief.org/internal/notify"
	"relief.org/internal/obs"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsReadLimit  = 4096
)

// controlMessage is what WebSocket clients send.
type controlMessage struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// controlReply answers a control message.
type controlReply struct {
	Event string `json:"event"`
	Room  string `json:"room,omitempty"`
}

// Events streams notifications as Server-Sent Events. The subscriber is
// joined to the room named by its validated role.
func (a *API) Events(w http.ResponseWriter, r *http.Request) {
	if a.bus == nil {
		writeError(w, r, http.StatusServiceUnavailable, "notifications disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	p, _ := auth.PrincipalFromContext(ctx)
	sub := a.bus.Subscribe(ctx, p.Role)

	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	for evt := range sub.Events() {
		payload, err := json.Marshal(evt.Data)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("event: " + evt.Name + "\n"))
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}

func (a *API) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || originAllowed(origin, a.opts.AllowedOrigins)
		},
	}
}

// WebSocket pushes notifications over a WebSocket. Clients may ask to join
// a room; the request is honoured only for the room matching their role.
func (a *API) WebSocket(w http.ResponseWriter, r *http.Request) {
	if a.bus == nil {
		writeError(w, r, http.StatusServiceUnavailable, "notifications disabled")
		return
	}
	principal, _ := auth.PrincipalFromContext(r.Context())

	up := a.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		obs.Logger().Warn("ws_upgrade_failed", "request_id", RequestIDFromContext(r.Context()), "error", err.Error())
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	sub := a.bus.Subscribe(ctx)
	replies := make(chan controlReply, 4)

	go a.wsRead(ctx, cancel, conn, sub, principal, replies)

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case reply := <-replies:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(reply); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func (a *API) wsRead(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sub *notify.Subscription, p auth.Principal, replies chan<- controlReply) {
	defer cancel()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	limiter := rate.NewLimiter(rate.Every(time.Second), 5)
	for {
		var msg controlMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if !limiter.Allow() {
			continue
		}
		if msg.Type != "join" {
			continue
		}
		reply := controlReply{Event: "join_denied", Room: msg.Room}
		if msg.Room != "" && msg.Room == p.Role {
			sub.Join(msg.Room)
			reply.Event = "joined"
		}
		select {
		case replies <- reply:
		case <-ctx.Done():
			return
		}
	}
}
