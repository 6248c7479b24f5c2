// Package reconcile merges payloads from other devices into the local store
// and sends this device's own changes back out.
//
// The merge never silently destroys a local edit: an incoming copy of an
// entry either replaces the local one because its sender marked it
// authoritative, or it is parked as an EntryConflict for a human to resolve.
package reconcile

import (
	"context"

	"github.com/notejournal/journal/internal/journal/model"
)

// Store is the subset of the local store the engine works against.
//
// Every method is expected to be atomic on its own. The engine does not
// need transactions spanning several calls; a failed call leaves earlier
// calls applied and the whole payload can be applied again safely.
type Store interface {
	// GetEntry returns the entry with id, or an error wrapping
	// store.ErrNotFound.
	GetEntry(ctx context.Context, id string) (*model.JournalEntry, error)

	// UpsertEntry inserts the entry or overwrites the one with the same id.
	UpsertEntry(ctx context.Context, entry *model.JournalEntry) error

	// ClearDaysAndInsert deletes every entry on days then inserts entries,
	// as one unit.
	ClearDaysAndInsert(ctx context.Context, days []string, entries []model.JournalEntry) error

	// EntriesForUpload returns entries not yet sent, deleted ones included.
	EntriesForUpload(ctx context.Context) ([]model.JournalEntry, error)

	// MarkUploaded sets the upload flag. Marking uploaded clears
	// ReplacesLocal.
	MarkUploaded(ctx context.Context, ids []string, uploaded bool) error

	// PurgeDeleted removes deleted entries that have been uploaded.
	PurgeDeleted(ctx context.Context) (int64, error)

	// UpsertConflict stores c, replacing any conflict for the same entry.
	UpsertConflict(ctx context.Context, c model.EntryConflict) error

	// ConflictForEntry returns the conflict parked against entryID, or an
	// error wrapping store.ErrNotFound.
	ConflictForEntry(ctx context.Context, entryID string) (*model.EntryConflict, error)

	// DeleteConflictsForEntry drops any conflict for entryID.
	DeleteConflictsForEntry(ctx context.Context, entryID string) error

	// ReplaceTags and ReplaceTemplates swap the whole list atomically.
	ReplaceTags(ctx context.Context, tags []model.Tag) error
	ReplaceTemplates(ctx context.Context, templates []model.JournalEntryTemplate) error

	// Tags and Templates return the current lists.
	Tags(ctx context.Context) ([]model.Tag, error)
	Templates(ctx context.Context) ([]model.JournalEntryTemplate, error)
}

// Publisher sends a payload to the other devices on the exchange. The
// transport client satisfies it and stamps the sender.
type Publisher interface {
	Send(ctx context.Context, p model.Payload) error
}
