package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/notejournal/journal/internal/journal/daemon"
	"github.com/notejournal/journal/internal/journal/reconcile"
	"github.com/notejournal/journal/internal/journal/transport"
	"github.com/notejournal/journal/internal/journal/verify"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run the sync daemon (foreground)",
	Long: `Connect to the relay and keep this device in sync.

The daemon will:
  1. Upload entries changed while offline
  2. Merge entries, tags and templates sent by other devices
  3. Answer verification requests from other devices
  4. Re-import markdown day files edited under markdown.dir (with --watch)

It reconnects with backoff when the relay goes away.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		watch, _ := cmd.Flags().GetBool("watch")
		duration, _ := cmd.Flags().GetDuration("duration")

		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		db, err := openStore(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()

		engine := reconcile.New(db, newLogger("reconcile"))
		verifier := verify.NewService(db, newLogger("verify"))

		dcfg := daemon.DefaultConfig()
		dcfg.Logger = newLogger("daemon")
		if watch {
			if cfg.Markdown.Dir == "" {
				fmt.Fprintf(os.Stderr, "Error: --watch needs markdown.dir to be set\n")
				os.Exit(1)
			}
			dcfg.MarkdownDir = cfg.Markdown.Dir
		}

		dial := daemon.TransportDialer(transport.Config{
			URL:      cfg.Relay.URL,
			Exchange: cfg.Relay.Exchange,
			Self:     cfg.Sender(),
			Logger:   newLogger("transport"),
		})

		d, err := daemon.New(dial, engine, verifier, db, dcfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating daemon: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Syncing %s as %s\n", cfg.Relay.Exchange, cfg.Device.Name)
		fmt.Printf("   Relay: %s\n", cfg.Relay.URL)
		fmt.Printf("   Store: %s\n", cfg.Store.Path)
		if watch {
			fmt.Printf("   Watching: %s\n", cfg.Markdown.Dir)
		}
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		if duration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, duration)
			defer cancel()
		}

		start := time.Now()
		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
			os.Exit(1)
		}

		stats := d.Stats()
		if err := output(os.Stdout, stats, func() string {
			return fmt.Sprintf("Synced for %s: %d connect(s), %d payload(s) received, %d uploaded, %d conflict(s), %d re-import(s)\n",
				time.Since(start).Round(time.Second), stats.Connects, stats.Received, stats.Uploaded, stats.Conflicts, stats.Reimports)
		}); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	syncCmd.Flags().Bool("watch", false, "re-import edited markdown day files")
	syncCmd.Flags().Duration("duration", 0, "stop after this long (default: run until interrupted)")

	rootCmd.AddCommand(syncCmd)
}
