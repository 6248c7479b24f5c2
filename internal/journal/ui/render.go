// Package ui renders journal state for the terminal.
//
// Colors follow the output: a terminal gets the profile termenv detects,
// anything else (pipes, files, NO_COLOR) gets plain text.
package ui

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/notejournal/journal/internal/journal/model"
	"github.com/notejournal/journal/internal/journal/store"
	"github.com/notejournal/journal/internal/journal/verify"
)

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// Renderer formats journal state with styles suited to its output.
type Renderer struct {
	r *lipgloss.Renderer

	title  lipgloss.Style
	label  lipgloss.Style
	muted  lipgloss.Style
	tag    lipgloss.Style
	insert lipgloss.Style
	remove lipgloss.Style
	ok     lipgloss.Style
	warn   lipgloss.Style
	box    lipgloss.Style
}

// NewRenderer creates a renderer for w. Colors are used only when w is a
// terminal and NO_COLOR is unset.
func NewRenderer(w io.Writer) *Renderer {
	r := lipgloss.NewRenderer(w)
	f, isFile := w.(*os.File)
	if !isFile || !IsTerminal(f) || os.Getenv("NO_COLOR") != "" {
		r.SetColorProfile(termenv.Ascii)
	}
	return newRenderer(r)
}

// NewPlainRenderer creates a renderer that never emits escape sequences.
func NewPlainRenderer() *Renderer {
	r := lipgloss.NewRenderer(io.Discard)
	r.SetColorProfile(termenv.Ascii)
	return newRenderer(r)
}

func newRenderer(r *lipgloss.Renderer) *Renderer {
	return &Renderer{
		r:      r,
		title:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("63")),
		label:  r.NewStyle().Foreground(lipgloss.Color("241")),
		muted:  r.NewStyle().Foreground(lipgloss.Color("244")),
		tag:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("218")),
		insert: r.NewStyle().Foreground(lipgloss.Color("2")),
		remove: r.NewStyle().Foreground(lipgloss.Color("1")).Strikethrough(true),
		ok:     r.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		warn:   r.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
		box:    r.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1),
	}
}

// Entries lists entries grouped by day in time order.
func (r *Renderer) Entries(entries []model.JournalEntry) string {
	if len(entries) == 0 {
		return r.muted.Render("No entries.") + "\n"
	}

	sorted := append([]model.JournalEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].EntryTime.Before(sorted[j].EntryTime)
	})

	var b strings.Builder
	day := ""
	for _, e := range sorted {
		if d := e.Day(); d != day {
			if day != "" {
				b.WriteString("\n")
			}
			day = d
			b.WriteString(r.title.Render(day) + "\n")
		}
		tag := e.Tag
		if e.IsUntagged() {
			tag = "untagged"
		}
		fmt.Fprintf(&b, "  %s %s %s %s\n",
			r.muted.Render(e.EntryTime.Format("15:04")),
			r.tag.Render("["+tag+"]"),
			e.Text,
			r.label.Render(shortID(e.ID)+flags(&e)))
	}
	return b.String()
}

func flags(e *model.JournalEntry) string {
	var f []string
	if !e.Uploaded {
		f = append(f, "pending")
	}
	if e.ReplacesLocal {
		f = append(f, "authoritative")
	}
	if len(f) == 0 {
		return ""
	}
	return " (" + strings.Join(f, ", ") + ")"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Conflict shows the local copy, the parked incoming copy and the text diff
// between them. local may be nil if the entry has since been purged.
func (r *Renderer) Conflict(local *model.JournalEntry, c *model.EntryConflict) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", r.title.Render("Conflict on entry"), shortID(c.EntryID))
	fmt.Fprintf(&b, "%s %s\n", r.label.Render("from:"), c.SenderName)

	if local == nil {
		fmt.Fprintf(&b, "%s %s\n", r.label.Render("local:"), r.muted.Render("(missing)"))
		fmt.Fprintf(&b, "%s %s %s\n", r.label.Render("incoming:"), r.tag.Render("["+c.Tag+"]"), c.Text)
		return r.box.Render(strings.TrimRight(b.String(), "\n")) + "\n"
	}

	fmt.Fprintf(&b, "%s %s %s\n", r.label.Render("local:   "), r.tag.Render("["+local.Tag+"]"), local.Text)
	fmt.Fprintf(&b, "%s %s %s\n", r.label.Render("incoming:"), r.tag.Render("["+c.Tag+"]"), c.Text)
	if !local.EntryTime.Equal(c.EntryTime) {
		fmt.Fprintf(&b, "%s %s -> %s\n", r.label.Render("time:    "),
			local.EntryTime.Format("2006-01-02 15:04"), c.EntryTime.Format("2006-01-02 15:04"))
	}
	fmt.Fprintf(&b, "%s %s\n", r.label.Render("diff:    "), r.Diff(local.Text, c.Text))
	fmt.Fprintf(&b, "%s %.0f%%", r.label.Render("similar: "), 100*Similarity(local.Text, c.Text))
	return r.box.Render(b.String()) + "\n"
}

// Stats renders a store summary.
func (r *Renderer) Stats(s *store.Stats) string {
	rows := []struct {
		label string
		value string
	}{
		{"Entries", fmt.Sprint(s.Entries)},
		{"Days", fmt.Sprint(s.Days)},
		{"Range", dayRange(s.FirstDay, s.LastDay)},
		{"Pending upload", fmt.Sprint(s.PendingUpload)},
		{"Not reconciled", fmt.Sprint(s.NotReconciled)},
		{"Untagged", fmt.Sprint(s.Untagged)},
		{"Deleted (unpurged)", fmt.Sprint(s.Deleted)},
		{"Tags", fmt.Sprint(s.Tags)},
		{"Templates", fmt.Sprint(s.Templates)},
	}

	var b strings.Builder
	b.WriteString(r.title.Render("Journal") + "\n")
	for _, row := range rows {
		fmt.Fprintf(&b, "  %-20s %s\n", r.label.Render(row.label), row.value)
	}
	conflicts := fmt.Sprint(s.Conflicts)
	if s.Conflicts > 0 {
		conflicts = r.warn.Render(conflicts)
	}
	fmt.Fprintf(&b, "  %-20s %s\n", r.label.Render("Conflicts"), conflicts)
	return b.String()
}

func dayRange(first, last string) string {
	if first == "" {
		return "-"
	}
	if first == last {
		return first
	}
	return first + " .. " + last
}

// VerifyReport renders the outcome of a peer verification.
func (r *Renderer) VerifyReport(rep *verify.Report) string {
	var b strings.Builder
	if rep.Matched() {
		fmt.Fprintf(&b, "%s %s matches %s\n", r.ok.Render("OK"), rep.Date, rep.MatchedPeer)
	} else if len(rep.Mismatched) > 0 {
		fmt.Fprintf(&b, "%s %s differs on %s\n", r.warn.Render("MISMATCH"), rep.Date, strings.Join(rep.Mismatched, ", "))
	} else {
		fmt.Fprintf(&b, "%s %s: no peer answered\n", r.warn.Render("UNVERIFIED"), rep.Date)
	}
	fmt.Fprintf(&b, "%s %s\n", r.label.Render("digest:"), rep.Digest)
	return b.String()
}

// Unmatched lists entries found on only one side of a local comparison.
func (r *Renderer) Unmatched(entries []model.JournalEntry) string {
	if len(entries) == 0 {
		return r.ok.Render("Verified") + "\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d unmatched entries\n", r.warn.Render("MISMATCH"), len(entries))
	for _, e := range entries {
		fmt.Fprintf(&b, "  %s %s\n", r.label.Render(shortID(e.ID)), e.Text)
	}
	return b.String()
}

// OK and Warn style short status words.
func (r *Renderer) OK(s string) string   { return r.ok.Render(s) }
func (r *Renderer) Warn(s string) string { return r.warn.Render(s) }
