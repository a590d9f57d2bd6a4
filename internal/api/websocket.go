package api

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"studylib/internal/ws"
)

type WebSocketHandler struct {
	hub            *ws.Hub
	allowedOrigins []string
	upgrader       websocket.Upgrader
}

func NewWebSocketHandler(hub *ws.Hub, allowedOrigins []string) *WebSocketHandler {
	h := &WebSocketHandler{
		hub:            hub,
		allowedOrigins: allowedOrigins,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// ServeWS upgrades the connection and greets the client. The access token
// arrives in the IDENTIFY frame, so nothing is authenticated here.
func (h *WebSocketHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := ws.NewClient(h.hub, conn)
	client.SendHello()

	go client.WritePump()
	go client.ReadPump()
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	return originAllowed(r.Header.Get("Origin"), h.allowedOrigins)
}

// originAllowed accepts requests without an Origin header (native clients),
// loopback origins for local development and the configured list.
func originAllowed(origin string, allowed []string) bool {
	if origin == "" {
		return true
	}
	if isLoopbackOrigin(origin) {
		return true
	}
	for _, candidate := range allowed {
		if originMatchesAllowed(origin, candidate) {
			return true
		}
	}
	return false
}

// originMatchesAllowed supports exact matches and a trailing "*" prefix match.
func originMatchesAllowed(origin, allowed string) bool {
	if prefix, ok := strings.CutSuffix(allowed, "*"); ok {
		return strings.HasPrefix(origin, prefix)
	}
	return origin == allowed
}

func isLoopbackOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
