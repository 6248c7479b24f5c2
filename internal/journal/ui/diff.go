package ui

import (
	"strings"

	"github.com/muesli/termenv"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// Diff renders the changes that turn from into to: removed text
// struck through, inserted text highlighted. Plain output marks them as
// [-removed-] and {+inserted+}.
func (r *Renderer) Diff(from, to string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(from, to, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	plain := r.r.ColorProfile() == termenv.Ascii
	var b strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			b.WriteString(d.Text)
		case diffmatchpatch.DiffDelete:
			if plain {
				b.WriteString("[-" + d.Text + "-]")
			} else {
				b.WriteString(r.remove.Render(d.Text))
			}
		case diffmatchpatch.DiffInsert:
			if plain {
				b.WriteString("{+" + d.Text + "+}")
			} else {
				b.WriteString(r.insert.Render(d.Text))
			}
		}
	}
	return b.String()
}

// Similarity is the share of from that survives into to, between 0 and 1.
func Similarity(from, to string) float64 {
	if from == "" && to == "" {
		return 1
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(from, to, false)
	dist := dmp.DiffLevenshtein(diffs)
	longest := max(len([]rune(from)), len([]rune(to)))
	return 1 - float64(dist)/float64(longest)
}
