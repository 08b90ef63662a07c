package session

import (
	"errors"
	"strings"
	"time"

	"github.com/hamzalamin/qatrat-chat-core/internal/conversation"
	"github.com/hamzalamin/qatrat-chat-core/internal/domain"
)

// Send rejection reasons. Each precondition failure maps to exactly
// one of these; none of them mutate the buffer.
var (
	ErrNoRecipient  = errors.New("no counterpart selected")
	ErrEmptyContent = errors.New("message content is empty")
	ErrNotConnected = errors.New("not connected")
	ErrSendFailed   = errors.New("transport rejected the publish")
	ErrSendInFlight = errors.New("identical send already in flight")
)

// Send validates and publishes text to the selected counterpart, then
// appends an optimistic local copy with a temporary id so the sender
// sees the message before the server echo arrives. The optimistic
// append happens only after the transport accepted the publish: a
// message shown but never sent is not a reachable state.
func (s *Session) Send(text string) error {
	trimmed := strings.TrimSpace(text)

	s.mu.Lock()
	counterpart := s.counterpartID
	if counterpart == "" {
		s.mu.Unlock()
		return ErrNoRecipient
	}
	if trimmed == "" {
		s.mu.Unlock()
		return ErrEmptyContent
	}
	if s.state != StateConnected || s.conn == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if s.pendingSend == trimmed {
		s.mu.Unlock()
		return ErrSendInFlight
	}
	s.pendingSend = trimmed
	conn := s.conn
	s.mu.Unlock()

	ok := conn.Publish(domain.SendDestination, domain.SendPayload{
		SenderID:   s.viewerID,
		ReceiverID: counterpart,
		Content:    trimmed,
	})

	s.mu.Lock()
	s.pendingSend = ""
	if !ok {
		s.mu.Unlock()
		return ErrSendFailed
	}

	now := time.Now().UTC()
	msg := domain.ChatMessage{
		ID:         domain.NewTempID(now),
		SenderID:   s.viewerID,
		ReceiverID: counterpart,
		Content:    trimmed,
		Timestamp:  now,
	}
	s.resolveProfiles(&msg)
	if s.counterpartID == counterpart {
		s.buffer = conversation.Merge(s.buffer, msg)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
	return nil
}
