package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/Jazzman94/agentai/internal/audit"
	"github.com/Jazzman94/agentai/internal/dispatch"
)

// streamSubprotocol is negotiated on GET /v1/stream.
const streamSubprotocol = "agentai-calls-v1"

// handleStream upgrades to a WebSocket over which the orchestrator sends one
// CallRequest per text message and receives one dispatch.Envelope per call,
// in order. The API key goes in the Authorization header or ?token=.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	}
	callerID := g.callerFor(token)
	if callerID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{streamSubprotocol},
	})
	if err != nil {
		g.logger.Error("websocket accept failed", slog.String("error", err.Error()))
		return
	}
	conn.SetReadLimit(g.config.maxRequestSize())

	g.serveStream(r.Context(), conn, callerID)
}

func (g *Gateway) serveStream(ctx context.Context, conn *websocket.Conn, callerID string) {
	defer conn.Close(websocket.StatusNormalClosure, "connection closed")

	g.logger.Info("stream opened", slog.String("caller", callerID))
	ctx = audit.WithCaller(ctx, callerID)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				g.logger.Info("stream closed", slog.String("caller", callerID))
			} else {
				g.logger.Warn("stream connection error",
					slog.String("caller", callerID),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		if err := g.limiter.Allow(callerID); err != nil {
			conn.Close(websocket.StatusPolicyViolation, "rate limit exceeded")
			return
		}

		var req CallRequest
		if err := json.Unmarshal(data, &req); err != nil || req.Name == "" {
			conn.Close(websocket.StatusUnsupportedData, "invalid call: expected {\"name\": ..., \"args\": {...}}")
			return
		}

		call := req.call()
		result := g.dispatcher.Dispatch(ctx, g.root, &call)
		if err := writeJSON(ctx, conn, dispatch.NewEnvelope(call, result)); err != nil {
			g.logger.Warn("stream write failed",
				slog.String("caller", callerID),
				slog.String("error", err.Error()),
			)
			return
		}
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
