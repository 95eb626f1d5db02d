package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nika/server/internal/gateway"
	"github.com/nika/server/internal/middleware"
	"github.com/nika/server/internal/realtime"
)

// WSHandler upgrades clients to the realtime protocol
type WSHandler struct {
	orch     *gateway.Orchestrator
	upgrader websocket.Upgrader
	// ctx bounds every connection; cancelling it closes them all.
	ctx    context.Context
	logger *zap.Logger
}

// NewWSHandler creates a websocket handler whose connections live until ctx is
// done. Browser upgrades must come from one of allowedOrigins; an empty list
// keeps the same-origin check and "*" admits any origin.
func NewWSHandler(ctx context.Context, orch *gateway.Orchestrator, allowedOrigins []string, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		orch: orch,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		ctx:    ctx,
		logger: logger,
	}
}

// originChecker returns nil for an empty list, which makes the upgrader
// compare Origin with Host. Requests without Origin come from native clients
// and are always admitted.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		origin = strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		if origin != "" {
			set[origin] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}

// ServeHTTP handles GET /ws. An access token may come as a bearer header or
// the token query parameter; a bad token still opens an anonymous session.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		h.logger.Debug("ws_upgrade_failed", zap.Error(err))
		return
	}

	conn := realtime.NewConn(ws, h.logger)
	token, ok := middleware.BearerToken(r)
	if !ok {
		token = r.URL.Query().Get("token")
	}

	var first gateway.Reply
	user, err := h.orch.Connect(r.Context(), conn, token)
	if err != nil {
		first = gateway.ErrorReply(gateway.EventConnect, err)
	} else {
		first = gateway.ConnectReply(user)
	}

	h.logger.Debug("ws_connected", zap.String("conn_id", conn.ID()), zap.Bool("authenticated", user != nil))
	conn.Serve(h.ctx, h.orch, first)
}
