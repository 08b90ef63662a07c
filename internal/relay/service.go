package relay

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hamzalamin/qatrat-chat-core/internal/domain"
	"github.com/hamzalamin/qatrat-chat-core/internal/logx"
)

// Service implements the relay-side message flow: validate a send,
// persist it, and deliver it to both participants' queues. The
// sender's queue receives the server echo the client core
// deduplicates against its optimistic copy.
type Service struct {
	hub   *Hub
	store Store
}

func NewService(hub *Hub, store Store) *Service {
	return &Service{hub: hub, store: store}
}

// HandleSend processes a send frame from client.
func (s *Service) HandleSend(ctx context.Context, client *Client, body json.RawMessage) error {
	var payload domain.SendPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return client.SendFrame(domain.NewErrorFrame(domain.ErrCodeBadRequest, "invalid send payload"))
	}

	if payload.SenderID != client.UserID {
		return client.SendFrame(domain.NewErrorFrame(domain.ErrCodeUnauthorized, "sender does not match session"))
	}
	if payload.ReceiverID == "" {
		return client.SendFrame(domain.NewErrorFrame(domain.ErrCodeBadRequest, "receiver is required"))
	}
	if strings.TrimSpace(payload.Content) == "" {
		return client.SendFrame(domain.NewErrorFrame(domain.ErrCodeBadRequest, "content is empty"))
	}

	msg := domain.ChatMessage{
		ID:         uuid.NewString(),
		SenderID:   payload.SenderID,
		ReceiverID: payload.ReceiverID,
		Content:    strings.TrimSpace(payload.Content),
		Timestamp:  time.Now().UTC(),
	}

	l := logx.L()
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		l.Error().Err(err).Str(logx.FieldMessageID, msg.ID).Msg("failed to persist message")
		return client.SendFrame(domain.NewErrorFrame(domain.ErrCodeInternalError, "failed to store message"))
	}

	if err := s.hub.Deliver(domain.UserQueue(msg.ReceiverID), msg); err != nil {
		l.Error().Err(err).Str(logx.FieldMessageID, msg.ID).Msg("failed to deliver message")
	}
	if msg.ReceiverID != msg.SenderID {
		if err := s.hub.Deliver(domain.UserQueue(msg.SenderID), msg); err != nil {
			l.Error().Err(err).Str(logx.FieldMessageID, msg.ID).Msg("failed to echo message")
		}
	}

	return nil
}

// HandleSubscribe attaches client to destination. Clients may only
// subscribe to their own queue.
func (s *Service) HandleSubscribe(client *Client, destination string) error {
	if destination != domain.UserQueue(client.UserID) {
		return client.SendFrame(domain.NewErrorFrame(domain.ErrCodeBadDestination, "subscription not permitted"))
	}
	s.hub.Subscribe(client, destination)
	return nil
}

// HandleUnsubscribe detaches client from destination.
func (s *Service) HandleUnsubscribe(client *Client, destination string) {
	s.hub.Unsubscribe(client, destination)
}

// RegisterProfile records the authenticated user in the directory so
// other clients can resolve display names.
func (s *Service) RegisterProfile(ctx context.Context, claims *Claims) {
	profile := domain.Profile{
		ID:          claims.UserID,
		DisplayName: claims.DisplayName,
		Email:       claims.Email,
	}
	if err := s.store.UpsertUser(ctx, profile); err != nil {
		l := logx.L()
		l.Warn().Err(err).Str(logx.FieldUserID, claims.UserID).Msg("failed to upsert user profile")
	}
}
