package conversation

import (
	"sort"
	"time"

	"github.com/hamzalamin/qatrat-chat-core/internal/domain"
)

// EquivalenceWindow is the maximum timestamp distance under which two
// messages with identical content and participants are collapsed into
// one. It exists to absorb the server echo of an optimistic local
// send, which arrives with a different id and a slightly later
// timestamp.
const EquivalenceWindow = 2000 * time.Millisecond

// Buffer is the ordered message sequence of one (viewer, counterpart)
// conversation, ascending by timestamp.
type Buffer []domain.ChatMessage

// Equivalent reports whether a and b are duplicates: same id, or same
// content and participants with timestamps closer than
// EquivalenceWindow. The window is measured on the messages' own
// timestamps, never the wall clock.
func Equivalent(a, b domain.ChatMessage) bool {
	if a.ID != "" && a.ID == b.ID {
		return true
	}
	if a.Content != b.Content || a.SenderID != b.SenderID || a.ReceiverID != b.ReceiverID {
		return false
	}
	d := a.Timestamp.Sub(b.Timestamp)
	if d < 0 {
		d = -d
	}
	return d < EquivalenceWindow
}

// Merge returns the buffer with incoming applied. It is pure: the
// input slice is never modified.
//
// If incoming is equivalent to an existing entry the buffer length is
// unchanged; when the existing entry still carries a placeholder id
// and incoming brings a confirmed one, the entry adopts the confirmed
// id in place. Otherwise incoming is appended and the result is
// re-sorted ascending by timestamp (stable, ties keep insertion
// order).
func Merge(buf Buffer, incoming domain.ChatMessage) Buffer {
	for i, existing := range buf {
		if !Equivalent(existing, incoming) {
			continue
		}
		if existing.IsTemp() && incoming.ID != "" && !incoming.IsTemp() {
			out := make(Buffer, len(buf))
			copy(out, buf)
			out[i].ID = incoming.ID
			return out
		}
		return buf
	}

	out := make(Buffer, 0, len(buf)+1)
	out = append(out, buf...)
	out = append(out, incoming)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// MergeAll folds a batch (typically a history fetch) into the buffer.
func MergeAll(buf Buffer, incoming []domain.ChatMessage) Buffer {
	for _, m := range incoming {
		buf = Merge(buf, m)
	}
	return buf
}

// Contains reports whether the buffer holds a message with the id.
func (b Buffer) Contains(id string) bool {
	for _, m := range b {
		if m.ID == id {
			return true
		}
	}
	return false
}
