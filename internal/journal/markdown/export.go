package markdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/notejournal/journal/internal/journal/model"
)

// ErrDayNotReady is returned when a day still has untagged entries or
// unresolved conflicts.
var ErrDayNotReady = errors.New("markdown: day has untagged entries or unresolved conflicts")

// RenderOptions controls the file layout.
type RenderOptions struct {
	// IncludeEmptyTags writes a header for every known tag, even with no
	// entries that day.
	IncludeEmptyTags bool
}

// Render formats one day. tags supplies section order; entries tagged with
// a value missing from tags get sections after the known ones. Deleted
// entries are skipped. An untagged entry makes the day unrenderable.
func Render(day time.Time, tags []model.Tag, entries []model.JournalEntry, opts RenderOptions) (string, error) {
	byTag := make(map[string][]model.JournalEntry)
	for _, e := range entries {
		if e.Deleted {
			continue
		}
		if e.IsUntagged() {
			return "", fmt.Errorf("%w: entry %s on %s is untagged", ErrDayNotReady, e.ID, model.DayOf(day))
		}
		tag := strings.TrimSpace(e.Tag)
		byTag[tag] = append(byTag[tag], e)
	}

	known := append([]model.Tag(nil), tags...)
	sort.SliceStable(known, func(i, j int) bool {
		if known[i].Order != known[j].Order {
			return known[i].Order < known[j].Order
		}
		return known[i].Value < known[j].Value
	})

	order := make([]string, 0, len(known)+len(byTag))
	seen := make(map[string]bool, len(known))
	for _, t := range known {
		if model.IsNoTag(t.Value) || seen[t.Value] {
			continue
		}
		seen[t.Value] = true
		order = append(order, t.Value)
	}
	var extra []string
	for tag := range byTag {
		if !seen[tag] {
			extra = append(extra, tag)
		}
	}
	sort.Strings(extra)
	order = append(order, extra...)

	var b strings.Builder
	b.WriteString("# ")
	b.WriteString(day.Format(HeaderLayout))
	b.WriteString("\n")

	for _, tag := range order {
		group := byTag[tag]
		if len(group) == 0 && !opts.IncludeEmptyTags {
			continue
		}
		sort.SliceStable(group, func(i, j int) bool {
			if !group[i].EntryTime.Equal(group[j].EntryTime) {
				return group[i].EntryTime.Before(group[j].EntryTime)
			}
			return group[i].ID < group[j].ID
		})

		b.WriteString("## ")
		b.WriteString(tag)
		b.WriteString("\n")
		for _, e := range group {
			writeEntry(&b, e.Text)
		}
	}

	return b.String(), nil
}

// writeEntry writes one "- " item. Later lines of the text are indented and
// blank lines are left empty, which Parse reads back as the same text.
func writeEntry(b *strings.Builder, text string) {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	b.WriteString("- ")
	b.WriteString(strings.TrimRight(lines[0], "\r"))
	b.WriteString("\n")
	for _, line := range lines[1:] {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) != "" {
			b.WriteString(continuationIndent)
			b.WriteString(line)
		}
		b.WriteString("\n")
	}
}

// WriteDay writes content to the day file under baseDir, creating
// directories as needed. The file is replaced as a whole.
func WriteDay(ctx context.Context, baseDir string, day time.Time, content string) (string, error) {
	if strings.TrimSpace(baseDir) == "" {
		return "", fmt.Errorf("export directory is required")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := DayPath(baseDir, day)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	// Write atomically via temp file
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to rename temp file: %w", err)
	}

	return path, nil
}
