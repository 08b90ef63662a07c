package conversation

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/hamzalamin/qatrat-chat-core/internal/domain"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func msg(id, sender, receiver, content string, at time.Time) domain.ChatMessage {
	return domain.ChatMessage{
		ID:         id,
		SenderID:   sender,
		ReceiverID: receiver,
		Content:    content,
		Timestamp:  at,
	}
}

func TestEquivalent(t *testing.T) {
	tests := []struct {
		name string
		a, b domain.ChatMessage
		want bool
	}{
		{
			name: "same id",
			a:    msg("m-1", "a", "b", "hi", base),
			b:    msg("m-1", "a", "b", "changed", base.Add(time.Hour)),
			want: true,
		},
		{
			name: "echo inside window",
			a:    msg("temp-1", "a", "b", "hi", base),
			b:    msg("m-42", "a", "b", "hi", base.Add(500*time.Millisecond)),
			want: true,
		},
		{
			name: "echo at window boundary",
			a:    msg("temp-1", "a", "b", "hi", base),
			b:    msg("m-42", "a", "b", "hi", base.Add(EquivalenceWindow)),
			want: false,
		},
		{
			name: "window is symmetric",
			a:    msg("m-42", "a", "b", "hi", base.Add(500*time.Millisecond)),
			b:    msg("temp-1", "a", "b", "hi", base),
			want: true,
		},
		{
			name: "different content",
			a:    msg("m-1", "a", "b", "hi", base),
			b:    msg("m-2", "a", "b", "hello", base),
			want: false,
		},
		{
			name: "different sender",
			a:    msg("m-1", "a", "b", "hi", base),
			b:    msg("m-2", "c", "b", "hi", base),
			want: false,
		},
		{
			name: "swapped direction is not a duplicate",
			a:    msg("m-1", "a", "b", "hi", base),
			b:    msg("m-2", "b", "a", "hi", base),
			want: false,
		},
		{
			name: "empty ids never match by id",
			a:    msg("", "a", "b", "hi", base),
			b:    msg("", "a", "b", "bye", base.Add(time.Hour)),
			want: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Equivalent(tc.a, tc.b); got != tc.want {
				t.Errorf("Equivalent() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMerge_AppendsAndSorts(t *testing.T) {
	buf := Buffer{}
	buf = Merge(buf, msg("m-2", "a", "b", "second", base.Add(time.Minute)))
	buf = Merge(buf, msg("m-1", "b", "a", "first", base))
	buf = Merge(buf, msg("m-3", "a", "b", "third", base.Add(2*time.Minute)))

	if len(buf) != 3 {
		t.Fatalf("len = %d, want 3", len(buf))
	}
	for i, want := range []string{"m-1", "m-2", "m-3"} {
		if buf[i].ID != want {
			t.Errorf("buf[%d].ID = %q, want %q", i, buf[i].ID, want)
		}
	}
}

func TestMerge_DuplicateByIDIsNoop(t *testing.T) {
	buf := Buffer{msg("m-1", "a", "b", "hi", base)}
	got := Merge(buf, msg("m-1", "a", "b", "hi", base.Add(time.Hour)))

	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].Timestamp != base {
		t.Error("existing entry was modified by duplicate merge")
	}
}

func TestMerge_OptimisticThenConfirm(t *testing.T) {
	// Viewer sends "hello"; the optimistic placeholder lands
	// first, the server echo arrives 500ms later with the real id.
	optimistic := msg("temp-1717243200000-abcd1234", "a", "b", "hello", base)
	echo := msg("m-42", "a", "b", "hello", base.Add(500*time.Millisecond))

	buf := Merge(Buffer{}, optimistic)
	buf = Merge(buf, echo)

	if len(buf) != 1 {
		t.Fatalf("len = %d, want 1 (echo must not duplicate)", len(buf))
	}
	if buf[0].ID != "m-42" {
		t.Errorf("placeholder id not reconciled: got %q, want %q", buf[0].ID, "m-42")
	}
	if buf[0].Timestamp != base {
		t.Error("reconciliation must keep the original entry apart from its id")
	}
}

func TestMerge_ConfirmedEntryKeepsItsID(t *testing.T) {
	confirmed := msg("m-42", "a", "b", "hello", base)
	late := msg("m-43", "a", "b", "hello", base.Add(time.Second))

	buf := Merge(Buffer{confirmed}, late)

	if len(buf) != 1 {
		t.Fatalf("len = %d, want 1", len(buf))
	}
	if buf[0].ID != "m-42" {
		t.Errorf("confirmed id replaced: got %q", buf[0].ID)
	}
}

func TestMerge_IsPure(t *testing.T) {
	original := Buffer{
		msg("m-1", "a", "b", "hi", base),
		msg("m-2", "b", "a", "yo", base.Add(time.Minute)),
	}
	snapshot := make(Buffer, len(original))
	copy(snapshot, original)

	Merge(original, msg("m-0", "a", "b", "early", base.Add(-time.Minute)))
	Merge(original, msg("temp-9", "a", "b", "hi", base.Add(100*time.Millisecond)))

	for i := range snapshot {
		if original[i] != snapshot[i] {
			t.Fatalf("input buffer mutated at %d", i)
		}
	}
}

func TestMerge_TimestampTiesKeepInsertionOrder(t *testing.T) {
	buf := Buffer{}
	buf = Merge(buf, msg("m-1", "a", "b", "one", base))
	buf = Merge(buf, msg("m-2", "b", "a", "two", base))
	buf = Merge(buf, msg("m-3", "a", "b", "three", base))

	for i, want := range []string{"m-1", "m-2", "m-3"} {
		if buf[i].ID != want {
			t.Errorf("buf[%d].ID = %q, want %q", i, buf[i].ID, want)
		}
	}
}

// Dedup and ordering invariants must hold for any merge order.
func TestMerge_InvariantsUnderShuffledDelivery(t *testing.T) {
	messages := make([]domain.ChatMessage, 0, 40)
	for i := 0; i < 20; i++ {
		at := base.Add(time.Duration(i) * 5 * time.Second)
		id := fmt.Sprintf("m-%d", i)
		m := msg(id, "a", "b", id+" content", at)
		messages = append(messages, m)
		// Every message also arrives a second time (network retry).
		messages = append(messages, m)
	}

	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 10; trial++ {
		rng.Shuffle(len(messages), func(i, j int) {
			messages[i], messages[j] = messages[j], messages[i]
		})

		buf := Buffer{}
		for _, m := range messages {
			buf = Merge(buf, m)
		}

		if len(buf) != 20 {
			t.Fatalf("trial %d: len = %d, want 20", trial, len(buf))
		}
		for i := 1; i < len(buf); i++ {
			if buf[i].Timestamp.Before(buf[i-1].Timestamp) {
				t.Fatalf("trial %d: buffer out of order at %d", trial, i)
			}
		}
		seen := make(map[string]bool, len(buf))
		for _, m := range buf {
			if seen[m.ID] {
				t.Fatalf("trial %d: duplicate id %q", trial, m.ID)
			}
			seen[m.ID] = true
		}
	}
}

func TestMergeAll_FoldsHistoryUnderLiveMessages(t *testing.T) {
	live := msg("m-9", "b", "a", "latest", base.Add(time.Hour))
	history := []domain.ChatMessage{
		msg("m-1", "a", "b", "first", base),
		msg("m-2", "b", "a", "second", base.Add(time.Minute)),
		msg("m-9", "b", "a", "latest", base.Add(time.Hour)), // already live
	}

	buf := MergeAll(Buffer{live}, history)

	if len(buf) != 3 {
		t.Fatalf("len = %d, want 3", len(buf))
	}
	if buf[0].ID != "m-1" || buf[2].ID != "m-9" {
		t.Errorf("unexpected order: %q ... %q", buf[0].ID, buf[2].ID)
	}
}

func TestBuffer_Contains(t *testing.T) {
	buf := Buffer{msg("m-1", "a", "b", "hi", base)}
	if !buf.Contains("m-1") {
		t.Error("Contains(m-1) = false, want true")
	}
	if buf.Contains("m-2") {
		t.Error("Contains(m-2) = true, want false")
	}
}
