package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/notejournal/journal/internal/journal/model"
	"github.com/notejournal/journal/internal/journal/store"
)

// UploadChunkSize is how many entries go into one Entries payload.
const UploadChunkSize = 10

// ErrOffline is returned by operations that must reach other devices when no
// publisher is attached.
var ErrOffline = errors.New("reconcile: not connected to a relay")

// Result counts what Apply did with a payload.
type Result struct {
	Inserted  int // entries seen for the first time
	Replaced  int // authoritative entries written over the local copy
	Unchanged int // entries already converged
	Conflicts int // entries parked as conflicts
	Failed    int // entries that could not be applied

	Tags        int      // size of a replaced tag list
	Templates   int      // size of a replaced template list
	ClearedDays []string // days replaced by a ClearDaysAndInsert payload
}

// Engine applies incoming payloads and publishes local changes.
//
// Apply must not be called concurrently for the same store: payloads are
// merged one at a time in arrival order.
type Engine struct {
	store  Store
	logger *log.Logger

	mu        sync.RWMutex
	publisher Publisher
}

// New creates an engine over st. If logger is nil, a default logger writing
// to stderr is used.
func New(st Store, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[reconcile] ", log.LstdFlags)
	}
	return &Engine{store: st, logger: logger}
}

// SetPublisher attaches (or with nil, detaches) the outbound connection.
func (e *Engine) SetPublisher(p Publisher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.publisher = p
}

func (e *Engine) currentPublisher() Publisher {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.publisher
}

// Apply merges one payload into the store.
//
// Entries are applied independently. A failure on one entry is recorded and
// the rest are still attempted; the returned error joins every failure.
// Verify payloads carry nothing to merge and return an empty Result.
func (e *Engine) Apply(ctx context.Context, p model.Payload) (Result, error) {
	var res Result

	switch p := p.(type) {
	case *model.Entries:
		var errs []error
		for i := range p.Data {
			if err := e.applyEntry(ctx, &p.Data[i], p.Sender, &res); err != nil {
				res.Failed++
				errs = append(errs, err)
			}
		}
		if res.Conflicts > 0 {
			e.logger.Printf("Parked %d conflict(s) from %s", res.Conflicts, p.Sender.Name)
		}
		return res, errors.Join(errs...)

	case *model.Tags:
		if err := e.store.ReplaceTags(ctx, p.Data); err != nil {
			return res, fmt.Errorf("failed to replace tags from %s: %w", p.Sender.Name, err)
		}
		res.Tags = len(p.Data)
		return res, nil

	case *model.Templates:
		if err := e.store.ReplaceTemplates(ctx, p.Data); err != nil {
			return res, fmt.Errorf("failed to replace templates from %s: %w", p.Sender.Name, err)
		}
		res.Templates = len(p.Data)
		return res, nil

	case *model.ClearDaysAndInsert:
		entries := make([]model.JournalEntry, len(p.Entries))
		for i, entry := range p.Entries {
			entries[i] = received(entry)
		}
		if err := e.store.ClearDaysAndInsert(ctx, p.Days, entries); err != nil {
			return res, fmt.Errorf("failed to replace %d day(s) from %s: %w", len(p.Days), p.Sender.Name, err)
		}
		res.ClearedDays = p.Days
		res.Inserted = len(entries)
		return res, nil

	case *model.VerifyRequest, *model.VerifyResponse:
		return res, nil

	case nil:
		return res, fmt.Errorf("%w: nil payload", model.ErrInvalidPayload)

	default:
		return res, fmt.Errorf("%w: %T", model.ErrUnknownPayload, p)
	}
}

// applyEntry merges a single incoming entry.
func (e *Engine) applyEntry(ctx context.Context, in *model.JournalEntry, sender model.Sender, res *Result) error {
	if err := in.Validate(); err != nil {
		return err
	}

	if in.ReplacesLocal {
		stored := received(*in)
		if err := e.store.UpsertEntry(ctx, &stored); err != nil {
			return fmt.Errorf("failed to replace entry %s: %w", in.ID, err)
		}
		if err := e.store.DeleteConflictsForEntry(ctx, in.ID); err != nil {
			return fmt.Errorf("failed to clear conflict for entry %s: %w", in.ID, err)
		}
		res.Replaced++
		return nil
	}

	local, err := e.store.GetEntry(ctx, in.ID)
	if errors.Is(err, store.ErrNotFound) {
		stored := received(*in)
		if err := e.store.UpsertEntry(ctx, &stored); err != nil {
			return fmt.Errorf("failed to insert entry %s: %w", in.ID, err)
		}
		res.Inserted++
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up entry %s: %w", in.ID, err)
	}

	if local.Text == in.Text {
		res.Unchanged++
		return nil
	}

	if err := e.store.UpsertConflict(ctx, model.ConflictFrom(in, sender)); err != nil {
		return fmt.Errorf("failed to record conflict for entry %s: %w", in.ID, err)
	}
	res.Conflicts++
	return nil
}

// received converts an incoming copy into the form it is stored in. The
// sender already has it, so it is not uploaded again, and the authority flag
// only applied to that one transmission.
func received(entry model.JournalEntry) model.JournalEntry {
	entry.Tag = model.NormalizeTag(entry.Tag)
	entry.Uploaded = true
	entry.ReplacesLocal = false
	return entry
}

// ResolveConflict settles the conflict parked against entryID. With accept
// the incoming text, time and tag replace the local copy; otherwise the local
// copy is kept. Either way the conflict is removed and the winning entry is
// sent to the other devices as authoritative.
//
// If sending fails the entry stays queued for upload with ReplacesLocal set,
// and UploadPending will deliver it later. The returned entry is the one of
// record.
func (e *Engine) ResolveConflict(ctx context.Context, entryID string, accept bool) (*model.JournalEntry, error) {
	local, err := e.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entry %s: %w", entryID, err)
	}
	conflict, err := e.store.ConflictForEntry(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conflict for entry %s: %w", entryID, err)
	}

	if accept {
		local.Text = conflict.Text
		local.EntryTime = conflict.EntryTime
		local.Tag = model.NormalizeTag(conflict.Tag)
	}
	local.Reconciled = true
	local.Uploaded = false
	local.ReplacesLocal = true

	if err := e.store.UpsertEntry(ctx, local); err != nil {
		return nil, fmt.Errorf("failed to save resolved entry %s: %w", entryID, err)
	}
	if err := e.store.DeleteConflictsForEntry(ctx, entryID); err != nil {
		return nil, fmt.Errorf("failed to delete conflict for entry %s: %w", entryID, err)
	}

	if err := e.sendAndMarkUploaded(ctx, []model.JournalEntry{*local}); err != nil {
		e.logger.Printf("Resolved entry %s queued for upload: %v", entryID, err)
		return local, nil
	}
	local.Uploaded = true
	local.ReplacesLocal = false
	return local, nil
}

// UploadPending sends every entry not yet uploaded, in chunks of
// UploadChunkSize, and marks each chunk uploaded once it is sent. Uploaded
// deleted entries are purged afterwards. It returns how many entries went
// out; on a send failure the remaining chunks stay pending.
func (e *Engine) UploadPending(ctx context.Context) (int, error) {
	if e.currentPublisher() == nil {
		return 0, ErrOffline
	}

	entries, err := e.store.EntriesForUpload(ctx)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	sent := 0
	for start := 0; start < len(entries); start += UploadChunkSize {
		end := min(start+UploadChunkSize, len(entries))
		if err := e.sendAndMarkUploaded(ctx, entries[start:end]); err != nil {
			return sent, err
		}
		sent += end - start
	}

	purged, err := e.store.PurgeDeleted(ctx)
	if err != nil {
		return sent, err
	}
	e.logger.Printf("Uploaded %d entries (purged %d deleted)", sent, purged)
	return sent, nil
}

func (e *Engine) sendAndMarkUploaded(ctx context.Context, entries []model.JournalEntry) error {
	pub := e.currentPublisher()
	if pub == nil {
		return ErrOffline
	}

	data := make([]model.JournalEntry, len(entries))
	ids := make([]string, len(entries))
	for i, entry := range entries {
		// Receivers store their own bookkeeping, so the flag is not sent.
		entry.Uploaded = false
		data[i] = entry
		ids[i] = entry.ID
	}

	if err := pub.Send(ctx, &model.Entries{Data: data}); err != nil {
		return fmt.Errorf("failed to send %d entries: %w", len(entries), err)
	}
	if err := e.store.MarkUploaded(ctx, ids, true); err != nil {
		return err
	}
	return nil
}

// PublishTags sends the full local tag list.
func (e *Engine) PublishTags(ctx context.Context) error {
	pub := e.currentPublisher()
	if pub == nil {
		return ErrOffline
	}
	tags, err := e.store.Tags(ctx)
	if err != nil {
		return err
	}
	if err := pub.Send(ctx, &model.Tags{Data: tags}); err != nil {
		return fmt.Errorf("failed to send tags: %w", err)
	}
	return nil
}

// PublishTemplates sends the full local template list.
func (e *Engine) PublishTemplates(ctx context.Context) error {
	pub := e.currentPublisher()
	if pub == nil {
		return ErrOffline
	}
	templates, err := e.store.Templates(ctx)
	if err != nil {
		return err
	}
	if err := pub.Send(ctx, &model.Templates{Data: templates}); err != nil {
		return fmt.Errorf("failed to send templates: %w", err)
	}
	return nil
}
