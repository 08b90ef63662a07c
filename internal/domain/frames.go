package domain

import "encoding/json"

// Frame types exchanged over the websocket, both directions.
const (
	FrameConnected   = "connected"
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameSend        = "send"
	FrameMessage     = "message"
	FrameError       = "error"
)

// Error codes
const (
	ErrCodeUnauthorized   = "UNAUTHORIZED"
	ErrCodeBadRequest     = "BAD_REQUEST"
	ErrCodeBadDestination = "BAD_DESTINATION"
	ErrCodeInternalError  = "INTERNAL_ERROR"
)

// Frame is the envelope for every websocket message. Type is the
// discriminator; Destination routes subscribe/send/message frames;
// Body carries the JSON payload for send/message frames.
type Frame struct {
	Type        string          `json:"type"`
	Destination string          `json:"destination,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
	Code        string          `json:"code,omitempty"`
	Message     string          `json:"message,omitempty"`
}

func NewErrorFrame(code, message string) *Frame {
	return &Frame{
		Type:    FrameError,
		Code:    code,
		Message: message,
	}
}

// UserQueue returns the per-user inbound destination for userID.
func UserQueue(userID string) string {
	return "/user/" + userID + "/queue/messages"
}

// SendDestination is the destination outbound chat messages are
// published to.
const SendDestination = "/app/chat"
