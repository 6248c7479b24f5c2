package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/notejournal/journal/internal/journal/markdown"
	"github.com/notejournal/journal/internal/journal/model"
)

type importSummary struct {
	Days      []string `json:"days" yaml:"days"`
	Entries   int      `json:"entries" yaml:"entries"`
	Unchanged int      `json:"unchanged" yaml:"unchanged"`
	Empty     int      `json:"empty" yaml:"empty"`
	Online    bool     `json:"online" yaml:"online"`
}

var importCmd = &cobra.Command{
	Use:     "import",
	GroupID: "journal",
	Short:   "Import markdown day files",
	Long: `Import {yyyy}/{mm}/{dd}.md files from the markdown directory.

Every imported day replaces that day in the local store, and other devices
are told to do the same. Days without a file are left alone.

Example usage:
  nj import --from 2024-01-01 --to 2024-01-31
  nj import --from "last monday" --since 2024-06-01`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		now := time.Now()

		dir, _ := cmd.Flags().GetString("dir")
		if dir == "" {
			dir = cfg.Markdown.Dir
		}
		if dir == "" {
			return fmt.Errorf("no markdown directory: pass --dir or set markdown.dir")
		}
		fromFlag, _ := cmd.Flags().GetString("from")
		toFlag, _ := cmd.Flags().GetString("to")
		sinceFlag, _ := cmd.Flags().GetString("since")

		from, to, err := dateRange(fromFlag, toFlag, now)
		if err != nil {
			return err
		}
		var since time.Time
		if sinceFlag != "" {
			if since, err = parseTime(sinceFlag, now); err != nil {
				return err
			}
		}

		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		summary := importSummary{Online: s.online()}
		batches := markdown.Import(ctx, markdown.ImportOptions{
			Dir:    dir,
			From:   from,
			To:     to,
			Since:  since,
			Logger: newLogger("markdown"),
		})
		for batch, err := range batches {
			if err != nil {
				return err
			}
			switch {
			case !batch.Changed:
				summary.Unchanged++
				continue
			case len(batch.Entries) == 0:
				summary.Empty++
				continue
			}
			if err := s.engine.ImportDays(ctx, []string{batch.Day}, batch.Entries); err != nil {
				return err
			}
			summary.Days = append(summary.Days, batch.Day)
			summary.Entries += len(batch.Entries)
		}

		return output(os.Stdout, summary, func() string {
			msg := fmt.Sprintf("Imported %d entries across %d day(s)", summary.Entries, len(summary.Days))
			if summary.Unchanged > 0 {
				msg += fmt.Sprintf(", %d unchanged", summary.Unchanged)
			}
			if !summary.Online {
				msg += " (offline: queued for upload)"
			}
			return msg + "\n"
		})
	},
}

type exportSummary struct {
	Written []string `json:"written" yaml:"written"`
	Skipped []string `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "journal",
	Short:   "Export days to markdown files",
	Long: `Write each day that has entries to {yyyy}/{mm}/{dd}.md.

Tags become "##" sections in tag order; entries are listed oldest first.
A day with untagged entries or unresolved conflicts is skipped and reported.
Existing files are overwritten.

Example usage:
  nj export --from 2024-06-01 --to today
  nj export --from yesterday --reconcile`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		now := time.Now()

		dir, _ := cmd.Flags().GetString("dir")
		if dir == "" {
			dir = cfg.Markdown.Dir
		}
		if dir == "" {
			return fmt.Errorf("no markdown directory: pass --dir or set markdown.dir")
		}
		fromFlag, _ := cmd.Flags().GetString("from")
		toFlag, _ := cmd.Flags().GetString("to")
		emptyTags, _ := cmd.Flags().GetBool("include-empty-tags")
		reconcile, _ := cmd.Flags().GetBool("reconcile")

		from, to, err := dateRange(fromFlag, toFlag, now)
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
		var days []string
		seen := make(map[string]bool)
		for _, e := range entries {
			if d := e.Day(); !seen[d] {
				seen[d] = true
				days = append(days, d)
			}
		}

		x := &markdown.Exporter{
			Source:        db,
			Dir:           dir,
			RenderOptions: markdown.RenderOptions{IncludeEmptyTags: emptyTags},
			Reconcile:     reconcile,
		}

		var summary exportSummary
		for _, day := range days {
			t, err := model.ParseDay(day, now.Location())
			if err != nil {
				return err
			}
			path, err := x.ExportDay(ctx, t)
			if errors.Is(err, markdown.ErrDayNotReady) {
				fmt.Fprintf(os.Stderr, "Skipping %s: %v\n", day, err)
				summary.Skipped = append(summary.Skipped, day)
				continue
			}
			if err != nil {
				return err
			}
			summary.Written = append(summary.Written, path)
		}

		return output(os.Stdout, summary, func() string {
			r := renderer()
			msg := fmt.Sprintf("%s Exported %d day(s) to %s\n", r.OK("✓"), len(summary.Written), dir)
			if len(summary.Skipped) > 0 {
				msg += fmt.Sprintf("%s %d day(s) not ready: resolve conflicts and tag entries first\n", r.Warn("⚠"), len(summary.Skipped))
			}
			return msg
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{importCmd, exportCmd} {
		c.Flags().String("dir", "", "markdown directory (default: markdown.dir)")
		c.Flags().String("from", "today", "first day")
		c.Flags().String("to", "", "last day (default: same as --from)")
	}
	importCmd.Flags().String("since", "", "only files modified at or after this time")
	exportCmd.Flags().Bool("include-empty-tags", false, "write a section for every tag, even without entries")
	exportCmd.Flags().Bool("reconcile", false, "mark exported entries as reconciled")

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
}
