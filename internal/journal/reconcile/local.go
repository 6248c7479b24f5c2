package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/notejournal/journal/internal/journal/model"
)

// AddEntry records a new entry captured on this device. It is queued for
// upload.
func (e *Engine) AddEntry(ctx context.Context, text, tag string, at time.Time) (*model.JournalEntry, error) {
	entry := model.NewEntry(strings.TrimSpace(text), tag, at)
	if err := e.store.UpsertEntry(ctx, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// EditText changes an entry's text. The edit is queued for upload without
// authority, so a device holding a different text parks it as a conflict.
func (e *Engine) EditText(ctx context.Context, id, text string) (*model.JournalEntry, error) {
	return e.modify(ctx, id, false, func(entry *model.JournalEntry) {
		entry.Text = strings.TrimSpace(text)
	})
}

// SetTag retags an entry. Retagging keeps the text, which receivers treat as
// already converged, so it is sent with authority.
func (e *Engine) SetTag(ctx context.Context, id, tag string) (*model.JournalEntry, error) {
	return e.modify(ctx, id, true, func(entry *model.JournalEntry) {
		entry.Tag = model.NormalizeTag(tag)
	})
}

// DeleteEntry soft-deletes an entry and queues the deletion for upload. It
// is purged locally once uploaded.
func (e *Engine) DeleteEntry(ctx context.Context, id string) (*model.JournalEntry, error) {
	return e.modify(ctx, id, true, func(entry *model.JournalEntry) {
		entry.Deleted = true
	})
}

func (e *Engine) modify(ctx context.Context, id string, authoritative bool, fn func(*model.JournalEntry)) (*model.JournalEntry, error) {
	entry, err := e.store.GetEntry(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load entry %s: %w", id, err)
	}
	fn(entry)
	entry.Uploaded = false
	if authoritative {
		entry.ReplacesLocal = true
	}
	if err := e.store.UpsertEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// ImportDays replaces whole days with imported entries, then tells the other
// devices to do the same. Nothing is sent unless the local replacement
// committed. When the broadcast fails or there is no publisher, the entries
// stay queued for upload as ordinary entries.
func (e *Engine) ImportDays(ctx context.Context, days []string, entries []model.JournalEntry) error {
	stored := make([]model.JournalEntry, len(entries))
	ids := make([]string, len(entries))
	for i, entry := range entries {
		entry.Uploaded = false
		entry.ReplacesLocal = false
		stored[i] = entry
		ids[i] = entry.ID
	}
	if err := e.store.ClearDaysAndInsert(ctx, days, stored); err != nil {
		return fmt.Errorf("failed to import %d day(s): %w", len(days), err)
	}

	pub := e.currentPublisher()
	if pub == nil {
		return nil
	}
	if err := pub.Send(ctx, &model.ClearDaysAndInsert{Days: days, Entries: stored}); err != nil {
		e.logger.Printf("Import of %d day(s) not broadcast: %v", len(days), err)
		return nil
	}
	if err := e.store.MarkUploaded(ctx, ids, true); err != nil {
		return fmt.Errorf("failed to mark %d imported entries uploaded: %w", len(ids), err)
	}
	return nil
}
