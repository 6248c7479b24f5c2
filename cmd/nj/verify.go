package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/notejournal/journal/internal/journal/model"
	"github.com/notejournal/journal/internal/journal/verify"
)

type digestSummary struct {
	Date    string `json:"date" yaml:"date"`
	Digest  string `json:"digest" yaml:"digest"`
	Entries int    `json:"entries" yaml:"entries"`
}

var verifyCmd = &cobra.Command{
	Use:     "verify",
	GroupID: "sync",
	Short:   "Check that devices hold the same entries for a day",
	Long: `Check one day against other devices.

Without flags the local digest of the day is printed. The digest is a hash
of the ids and texts of the day's entries, so two devices holding the same
day print the same digest.

  --peer      ask devices on the exchange for their digest and report the
              first that agrees (waits up to 3 seconds)
  --snapshot  write the day's entries to a file for comparison elsewhere
  --compare   list the entries that differ from a snapshot file

Example usage:
  nj verify --date yesterday --peer
  nj verify --date 2024-06-01 --snapshot phone.json
  nj verify --date 2024-06-01 --compare phone.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		dateFlag, _ := cmd.Flags().GetString("date")
		peer, _ := cmd.Flags().GetBool("peer")
		snapshotPath, _ := cmd.Flags().GetString("snapshot")
		comparePath, _ := cmd.Flags().GetString("compare")

		date, err := parseDate(dateFlag, time.Now())
		if err != nil {
			return err
		}
		day := model.DayOf(date)

		db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		svc := verify.NewService(db, newLogger("verify"))

		switch {
		case snapshotPath != "":
			snap, err := svc.Snapshot(ctx, day)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(snap, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode snapshot: %w", err)
			}
			if err := os.WriteFile(snapshotPath, data, 0o600); err != nil {
				return fmt.Errorf("failed to write snapshot: %w", err)
			}
			fmt.Printf("Wrote %d entries for %s to %s\n", len(snap.Entries), day, snapshotPath)
			return nil

		case comparePath != "":
			// #nosec G304 - path comes from the user
			data, err := os.ReadFile(comparePath)
			if err != nil {
				return fmt.Errorf("failed to read snapshot: %w", err)
			}
			var theirs verify.Verification
			if err := json.Unmarshal(data, &theirs); err != nil {
				return fmt.Errorf("failed to decode snapshot %s: %w", comparePath, err)
			}
			mine, err := svc.Snapshot(ctx, day)
			if err != nil {
				return err
			}
			unmatched := mine.UnmatchedEntries(theirs)
			if err := output(os.Stdout, unmatched, func() string { return renderer().Unmatched(unmatched) }); err != nil {
				return err
			}
			if len(unmatched) > 0 {
				os.Exit(1)
			}
			return nil

		case peer:
			client, err := dialRelay(ctx)
			if err != nil {
				return err
			}
			defer client.Close()
			svc.SetPublisher(client)

			go func() {
				for p := range client.Incoming() {
					_ = svc.Handle(ctx, p)
				}
			}()

			report, err := svc.Verify(ctx, day)
			if err != nil {
				return err
			}
			if err := output(os.Stdout, report, func() string { return renderer().VerifyReport(report) }); err != nil {
				return err
			}
			if !report.Matched() {
				os.Exit(1)
			}
			return nil

		default:
			snap, err := svc.Snapshot(ctx, day)
			if err != nil {
				return err
			}
			summary := digestSummary{Date: day, Digest: verify.DayDigest(snap.Entries), Entries: len(snap.Entries)}
			return output(os.Stdout, summary, func() string {
				return fmt.Sprintf("%s  %s (%d entries)\n", summary.Digest, summary.Date, summary.Entries)
			})
		}
	},
}

func init() {
	verifyCmd.Flags().String("date", "today", "day to verify")
	verifyCmd.Flags().Bool("peer", false, "ask other devices on the exchange")
	verifyCmd.Flags().String("snapshot", "", "write the day's entries to this file")
	verifyCmd.Flags().String("compare", "", "compare against a snapshot file")

	rootCmd.AddCommand(verifyCmd)
}
