package model

import (
	"time"

	"github.com/google/uuid"
)

// EntryConflict parks an incoming copy of an entry that disagreed with the
// local copy. There is at most one per EntryID.
type EntryConflict struct {
	ID         string    `json:"id"`
	EntryID    string    `json:"entryId"`
	EntryTime  time.Time `json:"entryTime"`
	Text       string    `json:"text"`
	Tag        string    `json:"tag"`
	SenderName string    `json:"senderName"`
}

// ConflictFrom records incoming as a conflict attributed to sender.
func ConflictFrom(incoming *JournalEntry, sender Sender) EntryConflict {
	return EntryConflict{
		ID:         uuid.NewString(),
		EntryID:    incoming.ID,
		EntryTime:  incoming.EntryTime,
		Text:       incoming.Text,
		Tag:        NormalizeTag(incoming.Tag),
		SenderName: sender.Name,
	}
}

// Sender identifies the device a payload came from. Attribution only.
type Sender struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}
