package markdown

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/notejournal/journal/internal/journal/model"
)

// Parse reads one day file. Entries are stamped from midnight, the start of
// the day in its location, one second apart, and marked reconciled.
//
// Parsing never fails on content: lines of any length that fit no rule are
// folded into the current entry, and an entry without a tag is dropped. Only
// read errors are returned, together with every entry read up to the error,
// the one in progress included.
func Parse(r io.Reader, midnight time.Time) ([]model.JournalEntry, error) {
	p := &parser{next: midnight}

	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			p.line(strings.TrimSuffix(line, "\n"))
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			p.flush()
			return p.entries, fmt.Errorf("failed to read day file: %w", err)
		}
	}
	p.flush()

	return p.entries, nil
}

// continuationIndent prefixes the second and later lines of an entry on
// export, so a line of text that looks like a header or a new entry stays
// part of its entry.
const continuationIndent = "  "

type parser struct {
	tag     string
	text    strings.Builder
	started bool
	next    time.Time
	entries []model.JournalEntry
}

func (p *parser) line(line string) {
	line = strings.TrimRight(line, "\r")

	switch {
	case strings.HasPrefix(line, "# "):
		// Date header; the file path already names the day.
	case strings.TrimSpace(line) == "":
		// Kept inside an entry; trailing blanks are trimmed on flush.
		if p.started {
			p.text.WriteString("\n")
		}
	case strings.HasPrefix(line, "## "):
		p.flush()
		p.tag = strings.TrimSpace(strings.TrimPrefix(line, "## "))
	case strings.HasPrefix(line, "-"):
		p.flush()
		p.text.WriteString(strings.TrimPrefix(line, "-"))
		p.started = true
	default:
		line = strings.TrimPrefix(line, continuationIndent)
		if p.started {
			p.text.WriteString("\n")
		}
		p.text.WriteString(line)
		p.started = true
	}
}

// flush emits the entry being accumulated, if it has both a tag and text.
func (p *parser) flush() {
	text := strings.TrimSpace(p.text.String())
	p.text.Reset()
	p.started = false

	if p.tag == "" || text == "" {
		return
	}

	entry := model.NewEntry(text, p.tag, p.next)
	entry.Reconciled = true
	p.entries = append(p.entries, entry)
	p.next = p.next.Add(time.Second)
}
