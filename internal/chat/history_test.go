package chat

import (
	"fmt"
	"strings"
	"testing"
)

func msg(id int) Message {
	return Message{ID: fmt.Sprintf("m%d", id), AuthorID: 1, Text: fmt.Sprintf("text %d", id)}
}

func TestHistory_AppendAndSnapshot(t *testing.T) {
	h := NewHistory()
	for i := 0; i < 5; i++ {
		h.Append(msg(i))
	}

	snap := h.Snapshot()
	if len(snap) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(snap))
	}
	for i, m := range snap {
		if m.ID != fmt.Sprintf("m%d", i) {
			t.Errorf("snapshot[%d] = %s, want m%d (send order)", i, m.ID, i)
		}
	}
}

func TestHistory_EvictsOldestAtCapacity(t *testing.T) {
	h := NewHistory()
	for i := 0; i < MaxHistory+50; i++ {
		h.Append(msg(i))
	}

	if h.Len() != MaxHistory {
		t.Fatalf("expected %d messages retained, got %d", MaxHistory, h.Len())
	}

	snap := h.Snapshot()
	// The most-recent MaxHistory messages survive, in send order.
	if snap[0].ID != "m50" {
		t.Errorf("oldest retained = %s, want m50", snap[0].ID)
	}
	if snap[len(snap)-1].ID != fmt.Sprintf("m%d", MaxHistory+49) {
		t.Errorf("newest retained = %s, want m%d", snap[len(snap)-1].ID, MaxHistory+49)
	}
}

func TestHistory_Remove(t *testing.T) {
	h := NewHistory()
	for i := 0; i < 3; i++ {
		h.Append(msg(i))
	}

	if !h.Remove("m1") {
		t.Fatal("Remove(m1) = false, want true")
	}
	if h.Remove("m1") {
		t.Error("second Remove(m1) should be a no-op returning false")
	}
	if _, ok := h.Get("m1"); ok {
		t.Error("m1 still present after removal")
	}

	snap := h.Snapshot()
	if len(snap) != 2 || snap[0].ID != "m0" || snap[1].ID != "m2" {
		t.Errorf("unexpected snapshot after removal: %v", snap)
	}
}

func TestHistory_Clear(t *testing.T) {
	h := NewHistory()
	h.Append(msg(0))
	h.Append(msg(1))
	h.Clear()
	if h.Len() != 0 {
		t.Errorf("expected empty history after Clear, got %d", h.Len())
	}
}

func TestValidateText(t *testing.T) {
	if err := ValidateText("hello"); err != nil {
		t.Errorf("unexpected error for valid text: %v", err)
	}
	if err := ValidateText(""); err != ErrEmpty {
		t.Errorf("expected ErrEmpty for empty text, got %v", err)
	}
	if err := ValidateText("   \t\n"); err != ErrEmpty {
		t.Errorf("expected ErrEmpty for whitespace-only text, got %v", err)
	}
	if err := ValidateText(strings.Repeat("a", MaxMessageBytes+1)); err == nil {
		t.Error("expected error for oversized text")
	}
	if err := ValidateText(strings.Repeat("é", MaxTextChars+1)); err == nil {
		t.Error("expected error for too many characters")
	}
	if err := ValidateText("ok\xff\xfe"); err == nil {
		t.Error("expected error for invalid UTF-8")
	}
}
