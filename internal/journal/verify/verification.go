// Package verify detects divergence between devices that per-message merging
// cannot see, such as a payload lost in transit.
package verify

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/notejournal/journal/internal/journal/model"
)

// Verification is a snapshot of the entries one device holds.
type Verification struct {
	Entries []model.JournalEntry `json:"entries"`
}

type entryKey struct {
	id   string
	text string
}

func keyOf(e *model.JournalEntry) entryKey {
	return entryKey{id: e.ID, text: e.Text}
}

// UnmatchedEntries returns the entries present in exactly one of v and
// other, matching on (id, text). Order is ignored. Entries from v come first.
func (v Verification) UnmatchedEntries(other Verification) []model.JournalEntry {
	mine := make(map[entryKey]bool, len(v.Entries))
	for i := range v.Entries {
		mine[keyOf(&v.Entries[i])] = true
	}
	theirs := make(map[entryKey]bool, len(other.Entries))
	for i := range other.Entries {
		theirs[keyOf(&other.Entries[i])] = true
	}

	var unmatched []model.JournalEntry
	for _, e := range v.Entries {
		if !theirs[keyOf(&e)] {
			unmatched = append(unmatched, e)
		}
	}
	for _, e := range other.Entries {
		if !mine[keyOf(&e)] {
			unmatched = append(unmatched, e)
		}
	}
	return unmatched
}

// DayDigest hashes the (id, text) pairs of the non-deleted entries, in id
// order. Two devices holding the same day produce the same digest whatever
// order they stored it in.
func DayDigest(entries []model.JournalEntry) string {
	keys := make([]entryKey, 0, len(entries))
	for i := range entries {
		if entries[i].Deleted {
			continue
		}
		keys = append(keys, keyOf(&entries[i]))
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].id != keys[j].id {
			return keys[i].id < keys[j].id
		}
		return keys[i].text < keys[j].text
	})

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k.id))
		h.Write([]byte{0x1f})
		h.Write([]byte(k.text))
		h.Write([]byte{0x1e})
	}
	return hex.EncodeToString(h.Sum(nil))
}
