package markdown

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/notejournal/journal/internal/journal/model"
	"github.com/notejournal/journal/internal/journal/store"
)

var _ Source = (*store.DB)(nil)

var exportDay = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func at(tag, text string, offset time.Duration) model.JournalEntry {
	e := model.NewEntry(text, tag, exportDay.Add(9*time.Hour+offset))
	return e
}

func TestRender(t *testing.T) {
	tags := []model.Tag{
		{ID: "1", Order: 2, Value: "Home"},
		{ID: "2", Order: 1, Value: "Work"},
		{ID: "3", Order: 3, Value: "Empty"},
	}
	deleted := at("Work", "gone", 0)
	deleted.Deleted = true
	entries := []model.JournalEntry{
		at("Home", "dinner", 10*time.Hour),
		at("Work", "second", time.Hour),
		at("Work", "first", 0),
		at("Adhoc", "unlisted tag", 0),
		deleted,
	}

	got, err := Render(exportDay, tags, entries, RenderOptions{})
	if err != nil {
		t.Fatalf("Render() failed: %v", err)
	}
	want := "# Tuesday, January 2, 2024\n" +
		"## Work\n- first\n- second\n" +
		"## Home\n- dinner\n" +
		"## Adhoc\n- unlisted tag\n"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Render() mismatch (-want +got):\n%s", diff)
	}

	withEmpty, err := Render(exportDay, tags, entries, RenderOptions{IncludeEmptyTags: true})
	if err != nil {
		t.Fatalf("Render() failed: %v", err)
	}
	wantEmpty := "# Tuesday, January 2, 2024\n" +
		"## Work\n- first\n- second\n" +
		"## Home\n- dinner\n" +
		"## Empty\n" +
		"## Adhoc\n- unlisted tag\n"
	if diff := cmp.Diff(wantEmpty, withEmpty); diff != "" {
		t.Errorf("Render(IncludeEmptyTags) mismatch (-want +got):\n%s", diff)
	}
}

func TestRender_UntaggedRefused(t *testing.T) {
	_, err := Render(exportDay, nil, []model.JournalEntry{at("", "no tag", 0)}, RenderOptions{})
	if !errors.Is(err, ErrDayNotReady) {
		t.Errorf("Render() error = %v, want ErrDayNotReady", err)
	}
}

func TestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	tags := []model.Tag{{ID: "1", Order: 1, Value: "Work"}, {ID: "2", Order: 2, Value: "Home"}}
	entries := []model.JournalEntry{
		at("Work", "standup", 0),
		at("Home", "cooked\nand cleaned", time.Hour),
		at("Work", "review", 2*time.Hour),
		at("Home", "plan\n- not an item\n## not a tag\n\nafter a blank", 3*time.Hour),
	}

	content, err := Render(exportDay, tags, entries, RenderOptions{})
	if err != nil {
		t.Fatalf("Render() failed: %v", err)
	}
	if !strings.Contains(content, "- plan\n  - not an item\n  ## not a tag\n\n  after a blank\n") {
		t.Errorf("continuation lines not indented:\n%s", content)
	}
	path, err := WriteDay(context.Background(), dir, exportDay, content)
	if err != nil {
		t.Fatalf("WriteDay() failed: %v", err)
	}
	if want := filepath.Join(dir, "2024", "01", "02.md"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}

	batch, err := ImportDay(dir, exportDay, time.UTC)
	if err != nil {
		t.Fatalf("ImportDay() failed: %v", err)
	}
	var got []pair
	for _, e := range batch.Entries {
		got = append(got, pair{e.Tag, e.Text})
	}
	want := []pair{
		{"Work", "standup"},
		{"Work", "review"},
		{"Home", "cooked\nand cleaned"},
		{"Home", "plan\n- not an item\n## not a tag\n\nafter a blank"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteDay_Overwrites(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	if _, err := WriteDay(ctx, dir, exportDay, "first version with more text\n"); err != nil {
		t.Fatalf("WriteDay() failed: %v", err)
	}
	path, err := WriteDay(ctx, dir, exportDay, "second\n")
	if err != nil {
		t.Fatalf("WriteDay() failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "second\n" {
		t.Errorf("file = %q, want full overwrite", data)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}

func TestWriteDay_Errors(t *testing.T) {
	if _, err := WriteDay(context.Background(), " ", exportDay, "x"); err == nil {
		t.Error("WriteDay() with blank dir succeeded")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := WriteDay(ctx, t.TempDir(), exportDay, "x"); !errors.Is(err, context.Canceled) {
		t.Errorf("WriteDay() with cancelled ctx error = %v", err)
	}

	// A file where the year directory should go.
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "2024"), []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := WriteDay(context.Background(), dir, exportDay, "x"); err == nil {
		t.Error("WriteDay() over a blocking file succeeded")
	}
}

func TestExporter(t *testing.T) {
	ctx := context.Background()
	db, err := store.OpenAndInit(ctx, filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("OpenAndInit() failed: %v", err)
	}
	defer db.Close()

	work := at("Work", "ship it", 0)
	if err := db.InsertEntries(ctx, []model.JournalEntry{work}); err != nil {
		t.Fatalf("InsertEntries() failed: %v", err)
	}
	if err := db.ReplaceTags(ctx, []model.Tag{{ID: "1", Value: "Work"}}); err != nil {
		t.Fatalf("ReplaceTags() failed: %v", err)
	}

	x := &Exporter{Source: db, Dir: t.TempDir(), Reconcile: true}

	if err := db.UpsertConflict(ctx, model.EntryConflict{ID: "c", EntryID: work.ID, EntryTime: work.EntryTime, Text: "other", SenderName: "phone"}); err != nil {
		t.Fatalf("UpsertConflict() failed: %v", err)
	}
	if _, err := x.ExportDay(ctx, exportDay); !errors.Is(err, ErrDayNotReady) {
		t.Fatalf("ExportDay() with conflict error = %v, want ErrDayNotReady", err)
	}

	if err := db.DeleteConflictsForEntry(ctx, work.ID); err != nil {
		t.Fatalf("DeleteConflictsForEntry() failed: %v", err)
	}
	path, err := x.ExportDay(ctx, exportDay)
	if err != nil {
		t.Fatalf("ExportDay() failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if want := "# Tuesday, January 2, 2024\n## Work\n- ship it\n"; string(data) != want {
		t.Errorf("exported %q, want %q", data, want)
	}

	got, err := db.GetEntry(ctx, work.ID)
	if err != nil {
		t.Fatalf("GetEntry() failed: %v", err)
	}
	if !got.Reconciled {
		t.Error("exported entry not marked reconciled")
	}
}
