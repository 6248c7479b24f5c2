package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/notejournal/journal/internal/journal/model"
)

// openTestDB returns an initialized database in a temp directory.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenAndInit(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("OpenAndInit() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testEntry(id, text, tag string, at time.Time) model.JournalEntry {
	return model.JournalEntry{
		ID:        id,
		EntryTime: at,
		TimeZone:  at.Location().String(),
		Text:      text,
		Tag:       model.NormalizeTag(tag),
	}
}

var day1 = time.Date(2024, 3, 10, 9, 30, 0, 0, time.FixedZone("CET", 3600))

// TestInitSchema_Tables tests that every table exists
func TestInitSchema_Tables(t *testing.T) {
	db := openTestDB(t)

	for _, table := range []string{"entries", "tags", "templates", "entry_conflicts"} {
		var count int
		err := db.conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
		if err != nil {
			t.Fatalf("Failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Table %s does not exist", table)
		}
	}

	// Second init must be a no-op.
	if err := db.InitSchema(context.Background()); err != nil {
		t.Errorf("Second InitSchema() failed: %v", err)
	}
}

func TestOpen_Memory(t *testing.T) {
	db, err := OpenAndInit(context.Background(), MemoryPath)
	if err != nil {
		t.Fatalf("OpenAndInit(memory) failed: %v", err)
	}
	defer db.Close()

	e := testEntry("m-1", "hello", "", day1)
	if err := db.UpsertEntry(context.Background(), &e); err != nil {
		t.Fatalf("UpsertEntry() failed: %v", err)
	}
	if _, err := db.GetEntry(context.Background(), "m-1"); err != nil {
		t.Errorf("GetEntry() failed: %v", err)
	}
}

func TestUpsertEntry_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	want := testEntry("e-1", "first line\nsecond line", "work", day1)
	want.Uploaded = true
	want.Reconciled = true

	if err := db.UpsertEntry(ctx, &want); err != nil {
		t.Fatalf("UpsertEntry() failed: %v", err)
	}

	got, err := db.GetEntry(ctx, "e-1")
	if err != nil {
		t.Fatalf("GetEntry() failed: %v", err)
	}
	if diff := cmp.Diff(want, *got); diff != "" {
		t.Errorf("entry mismatch (-want +got):\n%s", diff)
	}
	if got.Day() != "2024-03-10" {
		t.Errorf("Day() = %q, want 2024-03-10", got.Day())
	}
}

func TestUpsertEntry_Overwrite(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	e := testEntry("e-1", "before", "work", day1)
	if err := db.UpsertEntry(ctx, &e); err != nil {
		t.Fatalf("UpsertEntry() failed: %v", err)
	}
	e.Text = "after"
	e.Tag = model.NoTag.Value
	if err := db.UpsertEntry(ctx, &e); err != nil {
		t.Fatalf("UpsertEntry() overwrite failed: %v", err)
	}

	got, err := db.GetEntry(ctx, "e-1")
	if err != nil {
		t.Fatalf("GetEntry() failed: %v", err)
	}
	if got.Text != "after" {
		t.Errorf("Text = %q, want after", got.Text)
	}
	if !got.IsUntagged() {
		t.Errorf("Tag = %q, want untagged", got.Tag)
	}
}

func TestUpsertEntry_Invalid(t *testing.T) {
	db := openTestDB(t)

	e := testEntry("", "text", "", day1)
	err := db.UpsertEntry(context.Background(), &e)
	if !errors.Is(err, model.ErrInvalidEntry) {
		t.Errorf("UpsertEntry() error = %v, want ErrInvalidEntry", err)
	}
}

func TestGetEntry_NotFound(t *testing.T) {
	db := openTestDB(t)

	_, err := db.GetEntry(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetEntry() error = %v, want ErrNotFound", err)
	}
}

func TestEntriesForDay_OrderAndFilter(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	deleted := testEntry("d", "gone", "", day1.Add(time.Minute))
	deleted.Deleted = true
	entries := []model.JournalEntry{
		testEntry("b", "second", "", day1.Add(2*time.Hour)),
		testEntry("a", "first", "", day1),
		testEntry("c", "next day", "", day1.Add(24*time.Hour)),
		deleted,
	}
	if err := db.InsertEntries(ctx, entries); err != nil {
		t.Fatalf("InsertEntries() failed: %v", err)
	}

	got, err := db.EntriesForDay(ctx, "2024-03-10")
	if err != nil {
		t.Fatalf("EntriesForDay() failed: %v", err)
	}
	var ids []string
	for _, e := range got {
		ids = append(ids, e.ID)
	}
	if diff := cmp.Diff([]string{"a", "b"}, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}

	all, err := db.EntriesBetween(ctx, "2024-03-10", "2024-03-11")
	if err != nil {
		t.Fatalf("EntriesBetween() failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("EntriesBetween() returned %d entries, want 3", len(all))
	}
}

func TestUploadLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	pending := testEntry("p", "pending", "", day1)
	pending.ReplacesLocal = true
	gone := testEntry("g", "", "", day1)
	gone.Deleted = true
	if err := db.InsertEntries(ctx, []model.JournalEntry{pending, gone}); err != nil {
		t.Fatalf("InsertEntries() failed: %v", err)
	}

	up, err := db.EntriesForUpload(ctx)
	if err != nil {
		t.Fatalf("EntriesForUpload() failed: %v", err)
	}
	if len(up) != 2 {
		t.Fatalf("EntriesForUpload() = %d entries, want 2 (deleted entries propagate)", len(up))
	}

	if err := db.MarkUploaded(ctx, []string{"p", "g"}, true); err != nil {
		t.Fatalf("MarkUploaded() failed: %v", err)
	}

	got, err := db.GetEntry(ctx, "p")
	if err != nil {
		t.Fatalf("GetEntry() failed: %v", err)
	}
	if !got.Uploaded || got.ReplacesLocal {
		t.Errorf("after upload: uploaded=%t replacesLocal=%t, want true/false", got.Uploaded, got.ReplacesLocal)
	}

	n, err := db.PurgeDeleted(ctx)
	if err != nil {
		t.Fatalf("PurgeDeleted() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("PurgeDeleted() = %d, want 1", n)
	}
	if _, err := db.GetEntry(ctx, "g"); !errors.Is(err, ErrNotFound) {
		t.Errorf("purged entry still present: %v", err)
	}
}

func TestClearDaysAndInsert(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	old := []model.JournalEntry{
		testEntry("old-1", "old", "", day1),
		testEntry("keep", "other day", "", day1.Add(48*time.Hour)),
	}
	if err := db.InsertEntries(ctx, old); err != nil {
		t.Fatalf("InsertEntries() failed: %v", err)
	}

	parked := model.EntryConflict{ID: "c1", EntryID: "old-1", EntryTime: day1, Text: "old elsewhere", Tag: "work", SenderName: "phone"}
	kept := model.EntryConflict{ID: "c2", EntryID: "keep", EntryTime: day1.Add(48 * time.Hour), Text: "other elsewhere", Tag: "work", SenderName: "phone"}
	for _, c := range []model.EntryConflict{parked, kept} {
		if err := db.UpsertConflict(ctx, c); err != nil {
			t.Fatalf("UpsertConflict() failed: %v", err)
		}
	}

	fresh := []model.JournalEntry{testEntry("new-1", "new", "work", day1.Add(time.Hour))}
	if err := db.ClearDaysAndInsert(ctx, []string{"2024-03-10"}, fresh); err != nil {
		t.Fatalf("ClearDaysAndInsert() failed: %v", err)
	}

	if _, err := db.GetEntry(ctx, "old-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old entry on cleared day still present: %v", err)
	}
	if _, err := db.GetEntry(ctx, "keep"); err != nil {
		t.Errorf("entry on other day was removed: %v", err)
	}
	if _, err := db.GetEntry(ctx, "new-1"); err != nil {
		t.Errorf("inserted entry missing: %v", err)
	}
	if _, err := db.ConflictForEntry(ctx, "old-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("conflict for cleared entry still present: %v", err)
	}
	if _, err := db.ConflictForEntry(ctx, "keep"); err != nil {
		t.Errorf("conflict on other day was removed: %v", err)
	}
}

func TestClearDaysAndInsert_RollsBackOnInvalidEntry(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	e := testEntry("old-1", "old", "", day1)
	if err := db.UpsertEntry(ctx, &e); err != nil {
		t.Fatalf("UpsertEntry() failed: %v", err)
	}

	bad := []model.JournalEntry{testEntry("bad", "  ", "", day1)}
	if err := db.ClearDaysAndInsert(ctx, []string{"2024-03-10"}, bad); err == nil {
		t.Fatal("ClearDaysAndInsert() with invalid entry succeeded")
	}
	if _, err := db.GetEntry(ctx, "old-1"); err != nil {
		t.Errorf("cleared day was not restored: %v", err)
	}
}

func TestMarkAllReconciled(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.InsertEntries(ctx, []model.JournalEntry{
		testEntry("a", "one", "", day1),
		testEntry("b", "two", "", day1.Add(24*time.Hour)),
	}); err != nil {
		t.Fatalf("InsertEntries() failed: %v", err)
	}

	days, err := db.NotReconciledDays(ctx)
	if err != nil {
		t.Fatalf("NotReconciledDays() failed: %v", err)
	}
	if len(days) != 2 {
		t.Errorf("NotReconciledDays() = %v, want 2 days", days)
	}

	if err := db.MarkAllReconciled(ctx); err != nil {
		t.Fatalf("MarkAllReconciled() failed: %v", err)
	}
	days, err = db.NotReconciledDays(ctx)
	if err != nil {
		t.Fatalf("NotReconciledDays() failed: %v", err)
	}
	if len(days) != 0 {
		t.Errorf("NotReconciledDays() after mark = %v, want none", days)
	}
}

func TestReplaceTags(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	first := []model.Tag{{ID: "1", Order: 2, Value: "home"}, {ID: "2", Order: 1, Value: "work"}}
	if err := db.ReplaceTags(ctx, first); err != nil {
		t.Fatalf("ReplaceTags() failed: %v", err)
	}
	second := []model.Tag{{ID: "3", Order: 0, Value: "health"}}
	if err := db.ReplaceTags(ctx, second); err != nil {
		t.Fatalf("ReplaceTags() second failed: %v", err)
	}

	got, err := db.Tags(ctx)
	if err != nil {
		t.Fatalf("Tags() failed: %v", err)
	}
	if diff := cmp.Diff(second, got); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}
}

func TestReplaceTags_RejectsSentinelAtomically(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.ReplaceTags(ctx, []model.Tag{{ID: "1", Value: "work"}}); err != nil {
		t.Fatalf("ReplaceTags() failed: %v", err)
	}
	err := db.ReplaceTags(ctx, []model.Tag{{ID: "2", Value: "ok"}, model.NoTag})
	if !errors.Is(err, model.ErrInvalidTag) {
		t.Fatalf("ReplaceTags() error = %v, want ErrInvalidTag", err)
	}

	got, err := db.Tags(ctx)
	if err != nil {
		t.Fatalf("Tags() failed: %v", err)
	}
	if len(got) != 1 || got[0].Value != "work" {
		t.Errorf("Tags() = %v, want original list untouched", got)
	}
}

func TestTags_OrderedByRank(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for _, tag := range []model.Tag{
		{ID: "1", Order: 5, Value: "zeta"},
		{ID: "2", Order: 1, Value: "beta"},
		{ID: "3", Order: 1, Value: "alpha"},
	} {
		if err := db.UpsertTag(ctx, tag); err != nil {
			t.Fatalf("UpsertTag() failed: %v", err)
		}
	}

	got, err := db.Tags(ctx)
	if err != nil {
		t.Fatalf("Tags() failed: %v", err)
	}
	var values []string
	for _, tag := range got {
		values = append(values, tag.Value)
	}
	if diff := cmp.Diff([]string{"alpha", "beta", "zeta"}, values); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}

	if err := db.DeleteTag(ctx, "beta"); err != nil {
		t.Fatalf("DeleteTag() failed: %v", err)
	}
	if err := db.DeleteTag(ctx, "beta"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteTag() twice error = %v, want ErrNotFound", err)
	}
}

func TestReplaceTemplates(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.InsertTemplate(ctx, model.JournalEntryTemplate{ID: "t0", Text: "old"}); err != nil {
		t.Fatalf("InsertTemplate() failed: %v", err)
	}
	want := []model.JournalEntryTemplate{
		{ID: "t1", Text: "coffee", Tag: "food"},
		{ID: "t2", Text: "walk", Tag: model.NoTag.Value},
	}
	if err := db.ReplaceTemplates(ctx, want); err != nil {
		t.Fatalf("ReplaceTemplates() failed: %v", err)
	}

	got, err := db.Templates(ctx)
	if err != nil {
		t.Fatalf("Templates() failed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("templates mismatch (-want +got):\n%s", diff)
	}
}

func TestUpsertConflict_CollapsesPerEntry(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	first := model.EntryConflict{ID: "c1", EntryID: "e-1", EntryTime: day1, Text: "v1", Tag: "work", SenderName: "phone"}
	second := model.EntryConflict{ID: "c2", EntryID: "e-1", EntryTime: day1, Text: "v2", Tag: model.NoTag.Value, SenderName: "watch"}

	for _, c := range []model.EntryConflict{first, second} {
		if err := db.UpsertConflict(ctx, c); err != nil {
			t.Fatalf("UpsertConflict() failed: %v", err)
		}
	}

	all, err := db.Conflicts(ctx)
	if err != nil {
		t.Fatalf("Conflicts() failed: %v", err)
	}
	// The replacement keeps the id of the conflict it collapsed into.
	want := second
	want.ID = first.ID
	if diff := cmp.Diff([]model.EntryConflict{want}, all); diff != "" {
		t.Errorf("conflicts mismatch (-want +got):\n%s", diff)
	}

	n, err := db.ConflictCount(ctx, []string{"e-1", "e-2"})
	if err != nil {
		t.Fatalf("ConflictCount() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("ConflictCount() = %d, want 1", n)
	}

	if err := db.DeleteConflictsForEntry(ctx, "e-1"); err != nil {
		t.Fatalf("DeleteConflictsForEntry() failed: %v", err)
	}
	if _, err := db.ConflictForEntry(ctx, "e-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ConflictForEntry() error = %v, want ErrNotFound", err)
	}
}

func TestStats(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	gone := testEntry("gone", "x", "", day1)
	gone.Deleted = true
	done := testEntry("done", "tagged", "work", day1.Add(24*time.Hour))
	done.Uploaded = true
	done.Reconciled = true
	if err := db.InsertEntries(ctx, []model.JournalEntry{
		testEntry("a", "untagged", "", day1),
		done,
		gone,
	}); err != nil {
		t.Fatalf("InsertEntries() failed: %v", err)
	}
	if err := db.ReplaceTags(ctx, []model.Tag{{ID: "1", Value: "work"}}); err != nil {
		t.Fatalf("ReplaceTags() failed: %v", err)
	}
	if err := db.UpsertConflict(ctx, model.EntryConflict{ID: "c", EntryID: "a", EntryTime: day1, Text: "y", SenderName: "phone"}); err != nil {
		t.Fatalf("UpsertConflict() failed: %v", err)
	}

	got, err := db.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	want := &Stats{
		Entries:       2,
		Days:          2,
		Deleted:       1,
		PendingUpload: 2,
		NotReconciled: 1,
		Untagged:      1,
		Tags:          1,
		Templates:     0,
		Conflicts:     1,
		FirstDay:      "2024-03-10",
		LastDay:       "2024-03-11",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestMarkReconciled(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.InsertEntries(ctx, []model.JournalEntry{
		testEntry("a", "one", "", day1),
		testEntry("b", "two", "", day1),
	}); err != nil {
		t.Fatalf("InsertEntries() failed: %v", err)
	}
	if err := db.MarkReconciled(ctx, []string{"a"}); err != nil {
		t.Fatalf("MarkReconciled() failed: %v", err)
	}

	a, err := db.GetEntry(ctx, "a")
	if err != nil {
		t.Fatalf("GetEntry() failed: %v", err)
	}
	b, err := db.GetEntry(ctx, "b")
	if err != nil {
		t.Fatalf("GetEntry() failed: %v", err)
	}
	if !a.Reconciled || b.Reconciled {
		t.Errorf("reconciled a=%t b=%t, want true/false", a.Reconciled, b.Reconciled)
	}
}
