package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hamzalamin/qatrat-chat-core/internal/domain"
	"github.com/hamzalamin/qatrat-chat-core/internal/logx"
	"github.com/hamzalamin/qatrat-chat-core/internal/transport"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler terminates websocket connections and routes frames to the
// relay service.
type Handler struct {
	hub      *Hub
	service  *Service
	verifier *TokenVerifier
	wsCfg    transport.Config
}

func NewHandler(hub *Hub, service *Service, verifier *TokenVerifier, wsCfg transport.Config) *Handler {
	return &Handler{
		hub:      hub,
		service:  service,
		verifier: verifier,
		wsCfg:    wsCfg,
	}
}

// HandleWebSocket authenticates the handshake, upgrades the
// connection and starts the pumps. Unauthenticated handshakes are
// rejected before the upgrade.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims, err := h.authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	// Record the profile before the upgrade so directory loads
	// racing the handshake already see this user.
	h.service.RegisterProfile(r.Context(), claims)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l := logx.L()
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(uuid.NewString(), claims.UserID, h.hub, conn, h.wsCfg)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump(h.handleFrame)

	client.SendFrame(&domain.Frame{Type: domain.FrameConnected})
}

func (h *Handler) authenticate(r *http.Request) (*Claims, error) {
	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return nil, ErrInvalidToken
	}
	return h.verifier.Verify(token)
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func (h *Handler) handleFrame(client *Client, message []byte) {
	var frame domain.Frame
	if err := json.Unmarshal(message, &frame); err != nil {
		client.SendFrame(domain.NewErrorFrame(domain.ErrCodeBadRequest, "invalid frame"))
		return
	}

	ctx := context.Background()

	switch frame.Type {
	case domain.FrameSubscribe:
		if err := h.service.HandleSubscribe(client, frame.Destination); err != nil {
			l := logx.L()
			l.Warn().Err(err).Str(logx.FieldClientID, client.ID).Msg("subscribe failed")
		}

	case domain.FrameUnsubscribe:
		h.service.HandleUnsubscribe(client, frame.Destination)

	case domain.FrameSend:
		if frame.Destination != domain.SendDestination {
			client.SendFrame(domain.NewErrorFrame(domain.ErrCodeBadDestination, "unknown destination"))
			return
		}
		if err := h.service.HandleSend(ctx, client, frame.Body); err != nil {
			l := logx.L()
			l.Warn().Err(err).Str(logx.FieldClientID, client.ID).Msg("send failed")
		}

	default:
		client.SendFrame(domain.NewErrorFrame(domain.ErrCodeBadRequest, "unknown frame type"))
	}
}

// RegisterRoutes mounts the websocket endpoint.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/chat/ws", h.HandleWebSocket)
}
