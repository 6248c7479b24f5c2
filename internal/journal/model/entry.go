// Package model defines the journal data types shared by every device and
// the sync envelope that moves them between devices.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DateLayout is the calendar-day format used for day keys and file paths.
const DateLayout = "2006-01-02"

// ErrInvalidEntry is returned when an entry fails validation.
var ErrInvalidEntry = errors.New("invalid journal entry")

// JournalEntry is a single captured note.
//
// IDs are generated on the device that creates the entry and are never
// reassigned, which is what lets any device merge any other device's copy.
type JournalEntry struct {
	ID        string    `json:"id"`
	EntryTime time.Time `json:"entryTime"`
	TimeZone  string    `json:"timeZone"`
	Text      string    `json:"text"`
	Tag       string    `json:"tag"`

	// Uploaded is local bookkeeping: has this copy been sent upstream.
	Uploaded bool `json:"uploaded"`

	// ReplacesLocal marks a transmitted copy as authoritative on receipt.
	ReplacesLocal bool `json:"replacesLocal"`

	Deleted    bool `json:"deleted"`
	Reconciled bool `json:"reconciled"`
}

// NewEntry creates an entry with a fresh id, stamped in the zone of at.
func NewEntry(text, tag string, at time.Time) JournalEntry {
	return JournalEntry{
		ID:        uuid.NewString(),
		EntryTime: at,
		TimeZone:  at.Location().String(),
		Text:      text,
		Tag:       NormalizeTag(tag),
	}
}

// Validate checks that the entry can be stored or transmitted.
func (e *JournalEntry) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidEntry)
	}
	if e.EntryTime.IsZero() {
		return fmt.Errorf("%w: entryTime is required for %s", ErrInvalidEntry, e.ID)
	}
	if strings.TrimSpace(e.Text) == "" && !e.Deleted {
		return fmt.Errorf("%w: text is required for %s", ErrInvalidEntry, e.ID)
	}
	return nil
}

// Day returns the calendar day of the entry in the offset it was recorded with.
func (e *JournalEntry) Day() string {
	return e.EntryTime.Format(DateLayout)
}

// IsUntagged reports whether the entry carries the NO_TAG sentinel.
func (e *JournalEntry) IsUntagged() bool {
	return IsNoTag(e.Tag)
}

// SameContent reports whether two copies agree on everything except the
// local upload bookkeeping flags.
func (e *JournalEntry) SameContent(other *JournalEntry) bool {
	return e.ID == other.ID &&
		e.EntryTime.Equal(other.EntryTime) &&
		e.TimeZone == other.TimeZone &&
		e.Text == other.Text &&
		NormalizeTag(e.Tag) == NormalizeTag(other.Tag) &&
		e.Deleted == other.Deleted &&
		e.Reconciled == other.Reconciled
}

// ParseDay parses a YYYY-MM-DD day key into local midnight of loc.
func ParseDay(day string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DateLayout, day, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day %q: %w", day, err)
	}
	return t, nil
}

// DayOf formats t as a day key.
func DayOf(t time.Time) string {
	return t.Format(DateLayout)
}
