package verify

import (
	"testing"
	"time"

	"github.com/notejournal/journal/internal/journal/model"
)

func e(id, text string) model.JournalEntry {
	return model.JournalEntry{ID: id, EntryTime: time.Date(2024, 2, 2, 9, 0, 0, 0, time.UTC), Text: text}
}

func TestUnmatchedEntries(t *testing.T) {
	tests := []struct {
		name  string
		a     []model.JournalEntry
		b     []model.JournalEntry
		wantN int
	}{
		{"equal sets", []model.JournalEntry{e("1", "one"), e("2", "two")}, []model.JournalEntry{e("2", "two"), e("1", "one")}, 0},
		{"extra in other", []model.JournalEntry{e("1", "one")}, []model.JournalEntry{e("1", "one"), e("2", "two")}, 1},
		{"extra in self", []model.JournalEntry{e("1", "one"), e("2", "two")}, []model.JournalEntry{e("1", "one")}, 1},
		{"both empty", nil, nil, 0},
		{"different entries", []model.JournalEntry{e("1", "one")}, []model.JournalEntry{e("2", "two")}, 2},
		{"same id different text", []model.JournalEntry{e("1", "one")}, []model.JournalEntry{e("1", "uno")}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Verification{Entries: tt.a}
			b := Verification{Entries: tt.b}

			if got := a.UnmatchedEntries(b); len(got) != tt.wantN {
				t.Errorf("a.UnmatchedEntries(b) = %v, want %d entries", got, tt.wantN)
			}
			if got := b.UnmatchedEntries(a); len(got) != tt.wantN {
				t.Errorf("b.UnmatchedEntries(a) = %v, want %d entries", got, tt.wantN)
			}
		})
	}
}

func TestDayDigest(t *testing.T) {
	base := DayDigest([]model.JournalEntry{e("1", "one"), e("2", "two")})

	if got := DayDigest([]model.JournalEntry{e("2", "two"), e("1", "one")}); got != base {
		t.Error("digest depends on entry order")
	}

	deleted := e("3", "gone")
	deleted.Deleted = true
	if got := DayDigest([]model.JournalEntry{e("1", "one"), deleted, e("2", "two")}); got != base {
		t.Error("deleted entries change the digest")
	}

	retagged := e("1", "one")
	retagged.Tag = "work"
	if got := DayDigest([]model.JournalEntry{retagged, e("2", "two")}); got != base {
		t.Error("tag changes the digest")
	}

	if got := DayDigest([]model.JournalEntry{e("1", "one!"), e("2", "two")}); got == base {
		t.Error("text change did not change the digest")
	}

	// The separator keeps "ab"+"c" distinct from "a"+"bc".
	if DayDigest([]model.JournalEntry{e("ab", "c")}) == DayDigest([]model.JournalEntry{e("a", "bc")}) {
		t.Error("digest is ambiguous across the id/text boundary")
	}

	if DayDigest(nil) != DayDigest([]model.JournalEntry{}) {
		t.Error("nil and empty differ")
	}
}
