package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/notejournal/journal/internal/journal/model"
)

// Choice is the user's answer to a conflict.
type Choice int

const (
	// ChoiceSkip leaves the conflict parked.
	ChoiceSkip Choice = iota
	// ChoiceAccept takes the incoming copy.
	ChoiceAccept
	// ChoiceDiscard keeps the local copy.
	ChoiceDiscard
	// ChoiceQuit stops resolving.
	ChoiceQuit
)

func (c Choice) String() string {
	switch c {
	case ChoiceAccept:
		return "accept"
	case ChoiceDiscard:
		return "discard"
	case ChoiceQuit:
		return "quit"
	default:
		return "skip"
	}
}

// ErrAborted is returned when the user cancels a prompt.
var ErrAborted = errors.New("ui: aborted")

// Prompter asks how to resolve one conflict.
type Prompter interface {
	Resolve(ctx context.Context, local *model.JournalEntry, c *model.EntryConflict) (Choice, error)
}

// FormPrompter asks with an interactive select on a terminal.
type FormPrompter struct {
	Renderer *Renderer
}

// Resolve shows the conflict and lets the user pick an action.
func (p *FormPrompter) Resolve(ctx context.Context, local *model.JournalEntry, c *model.EntryConflict) (Choice, error) {
	choice := ChoiceSkip
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Resolve conflict").
				Description(p.Renderer.Conflict(local, c)),
			huh.NewSelect[Choice]().
				Title("Which copy should win?").
				Options(
					huh.NewOption("Accept incoming from "+c.SenderName, ChoiceAccept),
					huh.NewOption("Keep local", ChoiceDiscard),
					huh.NewOption("Skip for now", ChoiceSkip),
					huh.NewOption("Quit", ChoiceQuit),
				).
				Value(&choice),
		),
	)

	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return ChoiceQuit, ErrAborted
		}
		return ChoiceSkip, fmt.Errorf("failed to run prompt: %w", err)
	}
	return choice, nil
}

// LinePrompter asks on plain line-oriented streams. It is used when stdin is
// not a terminal.
type LinePrompter struct {
	Renderer *Renderer
	In       *bufio.Reader
	Out      io.Writer
}

// NewLinePrompter reads answers from in and writes prompts to out.
func NewLinePrompter(r *Renderer, in io.Reader, out io.Writer) *LinePrompter {
	return &LinePrompter{Renderer: r, In: bufio.NewReader(in), Out: out}
}

// Resolve prints the conflict and reads a/d/s/q. Unknown answers ask again.
// End of input quits.
func (p *LinePrompter) Resolve(ctx context.Context, local *model.JournalEntry, c *model.EntryConflict) (Choice, error) {
	fmt.Fprint(p.Out, p.Renderer.Conflict(local, c))
	for {
		if err := ctx.Err(); err != nil {
			return ChoiceQuit, err
		}
		fmt.Fprint(p.Out, "[a]ccept incoming, [d]iscard incoming, [s]kip, [q]uit\n> ")

		line, err := p.In.ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		if answer == "" && err != nil {
			if errors.Is(err, io.EOF) {
				return ChoiceQuit, nil
			}
			return ChoiceQuit, err
		}

		switch answer {
		case "a", "accept":
			return ChoiceAccept, nil
		case "d", "discard", "k", "keep":
			return ChoiceDiscard, nil
		case "s", "skip", "":
			return ChoiceSkip, nil
		case "q", "quit":
			return ChoiceQuit, nil
		}
		fmt.Fprintf(p.Out, "Unknown answer %q\n", answer)
	}
}
