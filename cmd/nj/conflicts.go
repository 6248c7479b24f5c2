package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/notejournal/journal/internal/journal/model"
	"github.com/notejournal/journal/internal/journal/store"
	"github.com/notejournal/journal/internal/journal/ui"
)

var conflictsCmd = &cobra.Command{
	Use:     "conflicts",
	GroupID: "journal",
	Short:   "List and resolve conflicting edits",
	Long: `A conflict is an incoming copy of an entry whose text differs from the
local copy. It is parked until resolved:

  accept   the incoming copy replaces the local entry
  discard  the local entry is kept

Either way the winner is sent to the other devices as authoritative.`,
}

type conflictView struct {
	model.EntryConflict `yaml:",inline"`
	LocalText           string `json:"localText,omitempty" yaml:"localText,omitempty"`
}

var conflictsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unresolved conflicts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		conflicts, err := db.Conflicts(ctx)
		if err != nil {
			return err
		}

		views := make([]conflictView, 0, len(conflicts))
		locals := make([]*model.JournalEntry, len(conflicts))
		for i, c := range conflicts {
			local, err := db.GetEntry(ctx, c.EntryID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			locals[i] = local
			v := conflictView{EntryConflict: c}
			if local != nil {
				v.LocalText = local.Text
			}
			views = append(views, v)
		}

		return output(os.Stdout, views, func() string {
			if len(conflicts) == 0 {
				return "No conflicts.\n"
			}
			r := renderer()
			var b strings.Builder
			for i := range conflicts {
				b.WriteString(r.Conflict(locals[i], &conflicts[i]))
			}
			return b.String()
		})
	},
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve [entry-id]",
	Short: "Resolve conflicts",
	Long: `Resolve one conflict with --accept or --discard, or walk through every
conflict interactively.

Example usage:
  nj conflicts resolve                      # ask for each conflict
  nj conflicts resolve 3f2a... --accept     # take the incoming copy`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		accept, _ := cmd.Flags().GetBool("accept")
		discard, _ := cmd.Flags().GetBool("discard")

		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		if len(args) == 1 {
			if accept == discard {
				return fmt.Errorf("pass exactly one of --accept or --discard")
			}
			entry, err := s.engine.ResolveConflict(ctx, args[0], accept)
			if err != nil {
				return err
			}
			fmt.Printf("Resolved %s: %q\n", entry.ID, entry.Text)
			return nil
		}
		if accept || discard {
			return fmt.Errorf("--accept and --discard need an entry id")
		}

		return resolveInteractively(ctx, s, newPrompter())
	},
}

func newPrompter() ui.Prompter {
	if ui.IsTerminal(os.Stdin) && ui.IsTerminal(os.Stdout) {
		return &ui.FormPrompter{Renderer: renderer()}
	}
	return ui.NewLinePrompter(renderer(), os.Stdin, os.Stdout)
}

func resolveInteractively(ctx context.Context, s *session, p ui.Prompter) error {
	conflicts, err := s.db.Conflicts(ctx)
	if err != nil {
		return err
	}
	if len(conflicts) == 0 {
		fmt.Println("No conflicts.")
		return nil
	}

	resolved := 0
	for i := range conflicts {
		c := &conflicts[i]
		local, err := s.db.GetEntry(ctx, c.EntryID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}

		choice, err := p.Resolve(ctx, local, c)
		if errors.Is(err, ui.ErrAborted) {
			break
		}
		if err != nil {
			return err
		}
		if choice == ui.ChoiceQuit {
			break
		}
		if choice == ui.ChoiceSkip {
			continue
		}

		if _, err := s.engine.ResolveConflict(ctx, c.EntryID, choice == ui.ChoiceAccept); err != nil {
			return err
		}
		resolved++
	}

	fmt.Printf("Resolved %d of %d conflict(s)\n", resolved, len(conflicts))
	if !s.online() && resolved > 0 {
		fmt.Println("Offline: resolutions will be sent on the next sync")
	}
	return nil
}

func init() {
	conflictsResolveCmd.Flags().Bool("accept", false, "take the incoming copy")
	conflictsResolveCmd.Flags().Bool("discard", false, "keep the local copy")

	conflictsCmd.AddCommand(conflictsListCmd)
	conflictsCmd.AddCommand(conflictsResolveCmd)
	rootCmd.AddCommand(conflictsCmd)
}
