package markdown

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log"
	"os"
	"time"

	"github.com/notejournal/journal/internal/journal/model"
)

// ImportOptions selects the day files to read.
type ImportOptions struct {
	// Dir is the base directory holding {yyyy}/{mm}/{dd}.md files.
	Dir string

	// From and To are the inclusive day range. Only their calendar dates
	// are used.
	From time.Time
	To   time.Time

	// Since skips files not modified at or after it. Zero reads every file.
	Since time.Time

	// Location for synthetic entry times (default: time.Local)
	Location *time.Location

	// Logger for import activity (default: stderr logger)
	Logger *log.Logger
}

// Batch is the parsed content of one day.
type Batch struct {
	Day     string
	Path    string
	Entries []model.JournalEntry

	// Changed is false when the file predates ImportOptions.Since and was
	// not read. Entries is empty then.
	Changed bool
}

// Import yields one batch per day from From to To, in date order. A day
// without a file yields an empty batch. Nothing is read ahead: the next file
// is opened only after the consumer has taken the previous batch, and
// breaking out of the loop stops the import.
//
// A read error is yielded with the batch it interrupted and ends the
// sequence, as does cancellation of ctx.
func Import(ctx context.Context, opts ImportOptions) iter.Seq2[Batch, error] {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[markdown] ", log.LstdFlags)
	}

	first := midnightOf(opts.From, loc)
	last := midnightOf(opts.To, loc)

	return func(yield func(Batch, error) bool) {
		for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
			if err := ctx.Err(); err != nil {
				yield(Batch{Day: model.DayOf(day)}, err)
				return
			}

			batch, err := readDay(opts.Dir, day, opts.Since, logger)
			if !yield(batch, err) || err != nil {
				return
			}
		}
	}
}

// ImportDay reads a single day file.
func ImportDay(dir string, day time.Time, loc *time.Location) (Batch, error) {
	if loc == nil {
		loc = time.Local
	}
	return readDay(dir, midnightOf(day, loc), time.Time{}, log.New(os.Stderr, "[markdown] ", log.LstdFlags))
}

func midnightOf(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func readDay(dir string, midnight time.Time, since time.Time, logger *log.Logger) (Batch, error) {
	path := DayPath(dir, midnight)
	batch := Batch{Day: model.DayOf(midnight), Path: path, Changed: true}

	// #nosec G304 - path is built from the configured markdown directory
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return batch, nil
	}
	if err != nil {
		return batch, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if !since.IsZero() {
		info, err := f.Stat()
		if err != nil {
			return batch, fmt.Errorf("failed to stat %s: %w", path, err)
		}
		if info.ModTime().Before(since) {
			logger.Printf("File not changed since last import, skipping: %s", path)
			batch.Changed = false
			return batch, nil
		}
	}

	entries, err := Parse(f, midnight)
	batch.Entries = entries
	if err != nil {
		return batch, fmt.Errorf("%s: %w", path, err)
	}
	return batch, nil
}
