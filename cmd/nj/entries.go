package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/notejournal/journal/internal/journal/model"
)

var entriesCmd = &cobra.Command{
	Use:     "entries",
	GroupID: "journal",
	Short:   "Add, edit and list journal entries",
	Long: `Work with entries in the local store.

Changes are queued for upload and sent right away when the relay is
reachable. Retagging and deleting replace the entry on other devices; an
edited text that another device holds differently shows up there as a
conflict.`,
}

var entriesAddCmd = &cobra.Command{
	Use:   "add TEXT...",
	Short: "Add an entry",
	Example: `  nj entries add "Ran 5k before work" --tag Health
  nj entries add "Called mom" --at "yesterday 18:00"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		tag, _ := cmd.Flags().GetString("tag")
		atFlag, _ := cmd.Flags().GetString("at")

		at, err := parseTime(atFlag, time.Now())
		if err != nil {
			return err
		}
		text := strings.Join(args, " ")
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("entry text is empty")
		}

		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		entry, err := s.engine.AddEntry(ctx, text, tag, at)
		if err != nil {
			return err
		}
		s.flush(ctx)
		return output(os.Stdout, entry, func() string { return fmt.Sprintf("Added %s\n", entry.ID) })
	},
}

var entriesEditCmd = &cobra.Command{
	Use:   "edit ID TEXT...",
	Short: "Replace an entry's text",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		entry, err := s.engine.EditText(ctx, args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		s.flush(ctx)
		return output(os.Stdout, entry, func() string { return fmt.Sprintf("Edited %s\n", entry.ID) })
	},
}

var entriesTagCmd = &cobra.Command{
	Use:   "tag ID TAG",
	Short: "Retag an entry",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		entry, err := s.engine.SetTag(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		s.flush(ctx)
		return output(os.Stdout, entry, func() string { return fmt.Sprintf("Tagged %s as %s\n", entry.ID, entry.Tag) })
	},
}

var entriesDeleteCmd = &cobra.Command{
	Use:   "delete ID...",
	Short: "Delete entries",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		for _, id := range args {
			if _, err := s.engine.DeleteEntry(ctx, id); err != nil {
				return err
			}
		}
		s.flush(ctx)
		fmt.Printf("Deleted %d entr%s\n", len(args), plural(len(args), "y", "ies"))
		return nil
	},
}

var entriesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List entries for a day or range",
	Example: `  nj entries list
  nj entries list --from "last monday" --to today`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		fromFlag, _ := cmd.Flags().GetString("from")
		toFlag, _ := cmd.Flags().GetString("to")
		tag, _ := cmd.Flags().GetString("tag")

		from, to, err := dateRange(fromFlag, toFlag, time.Now())
		if err != nil {
			return err
		}

		db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		entries, err := db.EntriesBetween(ctx, model.DayOf(from), model.DayOf(to))
		if err != nil {
			return err
		}
		if tag != "" {
			want := model.NormalizeTag(tag)
			filtered := entries[:0]
			for _, e := range entries {
				if model.NormalizeTag(e.Tag) == want {
					filtered = append(filtered, e)
				}
			}
			entries = filtered
		}

		return output(os.Stdout, entries, func() string { return renderer().Entries(entries) })
	},
}

var entriesReconcileCmd = &cobra.Command{
	Use:   "reconcile-all",
	Short: "Mark every entry as reconciled",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.MarkAllReconciled(ctx); err != nil {
			return err
		}
		fmt.Println("All entries marked reconciled")
		return nil
	},
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func init() {
	entriesAddCmd.Flags().String("tag", "", "tag for the entry (default: untagged)")
	entriesAddCmd.Flags().String("at", "now", "when it happened")
	entriesListCmd.Flags().String("from", "today", "first day")
	entriesListCmd.Flags().String("to", "", "last day (default: same as --from)")
	entriesListCmd.Flags().String("tag", "", "only entries with this tag")

	entriesCmd.AddCommand(entriesAddCmd)
	entriesCmd.AddCommand(entriesEditCmd)
	entriesCmd.AddCommand(entriesTagCmd)
	entriesCmd.AddCommand(entriesDeleteCmd)
	entriesCmd.AddCommand(entriesListCmd)
	entriesCmd.AddCommand(entriesReconcileCmd)
	rootCmd.AddCommand(entriesCmd)
}
