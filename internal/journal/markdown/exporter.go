package markdown

import (
	"context"
	"fmt"
	"time"

	"github.com/notejournal/journal/internal/journal/model"
)

// Source is what Exporter reads from the local store.
type Source interface {
	EntriesForDay(ctx context.Context, day string) ([]model.JournalEntry, error)
	Tags(ctx context.Context) ([]model.Tag, error)
	ConflictCount(ctx context.Context, entryIDs []string) (int, error)
	MarkReconciled(ctx context.Context, ids []string) error
}

// Exporter writes days from the store to a markdown directory.
type Exporter struct {
	Source Source
	Dir    string
	RenderOptions

	// Reconcile marks a day's entries reconciled once it is written.
	Reconcile bool
}

// ExportDay writes one day and returns the file path. A day whose entries
// have unresolved conflicts is refused with ErrDayNotReady.
func (x *Exporter) ExportDay(ctx context.Context, day time.Time) (string, error) {
	key := model.DayOf(day)

	entries, err := x.Source.EntriesForDay(ctx, key)
	if err != nil {
		return "", err
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}

	n, err := x.Source.ConflictCount(ctx, ids)
	if err != nil {
		return "", err
	}
	if n > 0 {
		return "", fmt.Errorf("%w: %d conflict(s) on %s", ErrDayNotReady, n, key)
	}

	tags, err := x.Source.Tags(ctx)
	if err != nil {
		return "", err
	}

	content, err := Render(day, tags, entries, x.RenderOptions)
	if err != nil {
		return "", err
	}
	path, err := WriteDay(ctx, x.Dir, day, content)
	if err != nil {
		return "", err
	}

	if x.Reconcile && len(ids) > 0 {
		if err := x.Source.MarkReconciled(ctx, ids); err != nil {
			return path, err
		}
	}
	return path, nil
}
