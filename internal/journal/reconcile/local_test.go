package reconcile

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/notejournal/journal/internal/journal/model"
	"github.com/notejournal/journal/internal/journal/store"
)

func TestLocalEdits(t *testing.T) {
	engine, db := newTestEngine(t)
	ctx := context.Background()

	added, err := engine.AddEntry(ctx, "  walked the dog  ", "", at)
	if err != nil {
		t.Fatalf("AddEntry() failed: %v", err)
	}
	if added.Text != "walked the dog" || !added.IsUntagged() || added.Uploaded {
		t.Errorf("AddEntry() = %+v", added)
	}

	if err := db.MarkUploaded(ctx, []string{added.ID}, true); err != nil {
		t.Fatalf("MarkUploaded() failed: %v", err)
	}
	edited, err := engine.EditText(ctx, added.ID, "walked the cat")
	if err != nil {
		t.Fatalf("EditText() failed: %v", err)
	}
	if edited.Uploaded || edited.ReplacesLocal {
		t.Errorf("EditText() flags uploaded=%t replacesLocal=%t, want false/false", edited.Uploaded, edited.ReplacesLocal)
	}

	tagged, err := engine.SetTag(ctx, added.ID, "pets")
	if err != nil {
		t.Fatalf("SetTag() failed: %v", err)
	}
	if tagged.Tag != "pets" || !tagged.ReplacesLocal {
		t.Errorf("SetTag() = %+v, want authoritative pets tag", tagged)
	}

	if _, err := engine.DeleteEntry(ctx, added.ID); err != nil {
		t.Fatalf("DeleteEntry() failed: %v", err)
	}
	if got := mustGet(t, db, added.ID); !got.Deleted {
		t.Error("entry not soft-deleted")
	}

	if _, err := engine.EditText(ctx, "missing", "x"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("EditText(missing) error = %v, want ErrNotFound", err)
	}
}

func TestImportDays(t *testing.T) {
	tests := []struct {
		name         string
		publisher    *fakePublisher
		wantUploaded bool
		wantSent     int
	}{
		{"offline", nil, false, 0},
		{"broadcast", &fakePublisher{}, true, 1},
		{"broadcast fails", &fakePublisher{failAt: 1}, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, db := newTestEngine(t)
			ctx := context.Background()
			if tt.publisher != nil {
				engine.SetPublisher(tt.publisher)
			}

			imported := entry("imp", "from markdown", "work")
			imported.Reconciled = true
			if err := engine.ImportDays(ctx, []string{"2024-06-01"}, []model.JournalEntry{imported}); err != nil {
				t.Fatalf("ImportDays() failed: %v", err)
			}

			if got := mustGet(t, db, "imp"); got.Uploaded != tt.wantUploaded {
				t.Errorf("Uploaded = %t, want %t", got.Uploaded, tt.wantUploaded)
			}
			if tt.publisher != nil {
				sent := tt.publisher.payloads()
				if len(sent) != tt.wantSent {
					t.Fatalf("sent %d payloads, want %d", len(sent), tt.wantSent)
				}
				if tt.wantSent == 1 {
					if _, ok := sent[0].(*model.ClearDaysAndInsert); !ok {
						t.Errorf("sent %T, want *model.ClearDaysAndInsert", sent[0])
					}
				}
			}
		})
	}
}

// failingImportStore fails every day replacement.
type failingImportStore struct {
	*store.DB
}

func (failingImportStore) ClearDaysAndInsert(ctx context.Context, days []string, entries []model.JournalEntry) error {
	return errors.New("disk full")
}

func TestImportDays_LocalFailureSendsNothing(t *testing.T) {
	_, db := newTestEngine(t)
	engine := New(failingImportStore{db}, log.New(io.Discard, "", 0))
	pub := &fakePublisher{}
	engine.SetPublisher(pub)

	imported := entry("imp", "from markdown", "work")
	err := engine.ImportDays(context.Background(), []string{"2024-06-01"}, []model.JournalEntry{imported})
	if err == nil {
		t.Fatal("ImportDays() succeeded with a failing store")
	}
	if sent := pub.payloads(); len(sent) != 0 {
		t.Errorf("sent %d payloads after a failed local import, want 0", len(sent))
	}
}
