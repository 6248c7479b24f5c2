package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/notejournal/journal/internal/journal/loadtest"
)

var statsCmd = &cobra.Command{
	Use:     "stats",
	GroupID: "journal",
	Short:   "Show local store statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.Stats(ctx)
		if err != nil {
			return err
		}
		return output(os.Stdout, stats, func() string { return renderer().Stats(stats) })
	},
}

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "advanced",
	Short:   "Load test a relay exchange",
	Long: `Connect many clients to one exchange and have each send a stream of
messages. Checks that every message reaches every other client exactly once
and never comes back to its sender, and reports delivery latency.

Use an exchange that no real device is on: they would receive the traffic.

Example usage:
  nj loadtest --url ws://localhost:8080 --load-exchange loadtest --clients 50 --messages 20`,
	Annotations: map[string]string{"config": "skip"},
	Run: func(cmd *cobra.Command, args []string) {
		url, _ := cmd.Flags().GetString("url")
		exchange, _ := cmd.Flags().GetString("load-exchange")
		clients, _ := cmd.Flags().GetInt("clients")
		messages, _ := cmd.Flags().GetInt("messages")
		interval, _ := cmd.Flags().GetDuration("interval")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		fmt.Printf("Running %d clients x %d messages on %s...\n", clients, messages, exchange)
		report, err := loadtest.Run(cmd.Context(), loadtest.Options{
			URL:      url,
			Exchange: exchange,
			Clients:  clients,
			Messages: messages,
			Interval: interval,
			Timeout:  timeout,
			Logger:   newLogger("loadtest"),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		err = output(os.Stdout, report, func() string {
			r := renderer()
			status := r.OK("✓ PASS")
			if !report.OK() {
				status = r.Warn("✗ FAIL")
			}
			s := fmt.Sprintf("%s in %v\n", status, report.Elapsed.Round(time.Millisecond))
			s += fmt.Sprintf("   Delivered:  %d/%d\n", report.Delivered, report.Expected)
			s += fmt.Sprintf("   Missing:    %d\n", report.Missing)
			s += fmt.Sprintf("   Echoed:     %d\n", report.Echoed)
			s += fmt.Sprintf("   Duplicates: %d\n", report.Duplicates)
			return s
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if outputFormat == "text" {
			report.Latency.PrintStats(os.Stdout)
		}
		if !report.OK() {
			os.Exit(1)
		}
	},
}

func init() {
	loadtestCmd.Flags().String("url", "ws://localhost:8080", "relay url")
	loadtestCmd.Flags().String("load-exchange", "loadtest", "exchange to load")
	loadtestCmd.Flags().Int("clients", 10, "concurrent clients")
	loadtestCmd.Flags().Int("messages", 10, "messages per client")
	loadtestCmd.Flags().Duration("interval", 5*time.Millisecond, "pause between a client's messages")
	loadtestCmd.Flags().Duration("timeout", 30*time.Second, "bound on the whole run")

	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(loadtestCmd)
}
