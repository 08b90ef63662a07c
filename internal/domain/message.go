package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TempIDPrefix marks locally generated placeholder ids awaiting
// server confirmation.
const TempIDPrefix = "temp-"

// Profile is a denormalized participant snapshot used for display only.
// Routing always goes through the id fields on ChatMessage.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email,omitempty"`
}

// ChatMessage is the canonical post-normalization message shape.
// Instances are never mutated after creation except for id
// reconciliation (temp id replaced by the server-confirmed id).
type ChatMessage struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	Sender     *Profile  `json:"sender,omitempty"`
	Receiver   *Profile  `json:"receiver,omitempty"`
}

// NewTempID generates a placeholder id for an optimistic local send.
func NewTempID(now time.Time) string {
	return fmt.Sprintf("%s%d-%s", TempIDPrefix, now.UnixMilli(), uuid.NewString()[:8])
}

// IsTemp reports whether the message still carries a placeholder id.
func (m ChatMessage) IsTemp() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

// Involves reports whether userID is a participant of the message.
func (m ChatMessage) Involves(userID string) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// Counterpart returns the participant who is not the viewer. It returns
// the empty string when the viewer is not a participant at all.
func (m ChatMessage) Counterpart(viewerID string) string {
	switch viewerID {
	case m.SenderID:
		return m.ReceiverID
	case m.ReceiverID:
		return m.SenderID
	}
	return ""
}

// SendPayload is the wire body published for an outbound message.
type SendPayload struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}
