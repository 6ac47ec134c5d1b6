package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/technosupport/ts-streamgw/internal/gateway"
	"github.com/technosupport/ts-streamgw/internal/tokens"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboard origin enforced upstream
	},
}

type signaler interface {
	NegotiateWebRTC(ctx context.Context, streamID, offerSDP string) (*gateway.SessionDescription, error)
}

// StreamWsHandler bridges browser signaling over WebSocket to the
// gateway's HTTP signaling endpoint.
type StreamWsHandler struct {
	Tokens  *tokens.Manager
	Gateway signaler
}

func NewStreamWsHandler(tm *tokens.Manager, gw signaler) *StreamWsHandler {
	return &StreamWsHandler{Tokens: tm, Gateway: gw}
}

type wsMessage struct {
	Type  string          `json:"type"`
	SDP   string          `json:"sdp,omitempty"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func (h *StreamWsHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "id")
	if streamID == "" {
		streamID = r.PathValue("id")
	}

	// WS auth rides the query string; browsers cannot set headers on
	// WebSocket dials.
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	claims, err := h.Tokens.Validate(tokenStr, streamID)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WS Upgrade Failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("WS Connected: user=%s stream=%s", claims.Subject, streamID)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("WS Read Error: %v", err)
			}
			break
		}

		var payload wsMessage
		if err := json.Unmarshal(msg, &payload); err != nil {
			conn.WriteJSON(wsMessage{Type: "error", Error: "invalid message"})
			continue
		}

		switch payload.Type {
		case "offer":
			answer, err := h.Gateway.NegotiateWebRTC(r.Context(), streamID, payload.SDP)
			if err != nil {
				log.Printf("WS [%s] signaling failed: %v", streamID, err)
				conn.WriteJSON(wsMessage{Type: "error", Error: "signaling failed"})
				continue
			}
			conn.WriteJSON(wsMessage{Type: "answer", SDP: answer.SDP})
		case "candidate":
			// The gateway answers with a complete candidate set, so
			// client trickle candidates carry nothing actionable.
			log.Printf("WS [%s] candidate ignored (no trickle)", streamID)
		case "connection-state":
			log.Printf("WS [%s] state: %s", streamID, string(payload.Data))
		default:
			conn.WriteJSON(wsMessage{Type: "error", Error: "unknown message type"})
		}
	}
}
