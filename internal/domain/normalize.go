package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrMissingRouting is returned when an inbound payload has no usable
// sender or receiver id. Such messages cannot be delivered to any
// conversation and are dropped by the caller.
var ErrMissingRouting = errors.New("inbound message missing sender or receiver id")

// Normalize converts a raw inbound frame body of arbitrary JSON shape
// into a canonical ChatMessage.
//
// Field resolution order:
//   - id: "id" if present, else synthesized from receipt time plus a
//     random suffix
//   - senderId/receiverId: explicit fields first, then nested
//     sender.id / receiver.id objects
//   - timestamp: "timestamp", then "createdAt", then receivedAt
//
// Nested sender/receiver objects, when present, are also kept as
// display snapshots.
func Normalize(body []byte, receivedAt time.Time) (ChatMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return ChatMessage{}, fmt.Errorf("decode inbound payload: %w", err)
	}

	msg := ChatMessage{
		Content: asString(raw["content"]),
	}

	msg.SenderID = asString(raw["senderId"])
	msg.ReceiverID = asString(raw["receiverId"])

	if sender, ok := raw["sender"].(map[string]any); ok {
		if msg.SenderID == "" {
			msg.SenderID = asString(sender["id"])
		}
		msg.Sender = asProfile(sender)
	}
	if receiver, ok := raw["receiver"].(map[string]any); ok {
		if msg.ReceiverID == "" {
			msg.ReceiverID = asString(receiver["id"])
		}
		msg.Receiver = asProfile(receiver)
	}

	if msg.SenderID == "" || msg.ReceiverID == "" {
		return ChatMessage{}, ErrMissingRouting
	}

	msg.ID = asString(raw["id"])
	if msg.ID == "" {
		msg.ID = fmt.Sprintf("recv-%d-%s", receivedAt.UnixMilli(), uuid.NewString()[:8])
	}

	msg.Timestamp = asTime(raw["timestamp"])
	if msg.Timestamp.IsZero() {
		msg.Timestamp = asTime(raw["createdAt"])
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = receivedAt
	}

	return msg, nil
}

// asString renders scalar JSON values as ids. Numeric ids are common
// in history payloads, so numbers are accepted verbatim.
func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	}
	return ""
}

func asProfile(raw map[string]any) *Profile {
	p := &Profile{
		ID:          asString(raw["id"]),
		Email:       asString(raw["email"]),
		DisplayName: asString(raw["displayName"]),
	}
	if p.DisplayName == "" {
		p.DisplayName = asString(raw["name"])
	}
	if p.ID == "" && p.DisplayName == "" && p.Email == "" {
		return nil
	}
	return p
}

// asTime accepts RFC 3339 strings and unix-millisecond numbers.
func asTime(v any) time.Time {
	switch t := v.(type) {
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed
		}
	case json.Number:
		if ms, err := t.Int64(); err == nil && ms > 0 {
			return time.UnixMilli(ms).UTC()
		}
	}
	return time.Time{}
}
