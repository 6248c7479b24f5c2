package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/notejournal/journal/internal/journal/config"
	"github.com/notejournal/journal/internal/journal/relay"
)

var relayCmd = &cobra.Command{
	Use:         "relay",
	GroupID:     "sync",
	Short:       "Run the relay server",
	Annotations: map[string]string{"config": "skip"},
	Long: `Run the relay that moves payloads between a user's devices.

The relay serves a fixed set of exchanges. A device joins one by connecting
a WebSocket to /{exchange}; every text message it sends is forwarded to the
other devices on the same exchange, in order, and never back to the sender.
Nothing is stored.

Exchanges come from repeated --exchanges flags or from a file:

  exchanges = ["alice", "bob"]

A plain file with one comma separated line is accepted too.

Example usage:
  nj relay --exchanges alice --exchanges bob
  nj relay --addr :9000 --exchanges-file /etc/nj/exchanges.toml

Health check:
  GET http://localhost:8080/health`,
	Run: func(cmd *cobra.Command, args []string) {
		addr, _ := cmd.Flags().GetString("addr")
		names, _ := cmd.Flags().GetStringSlice("exchanges")
		file, _ := cmd.Flags().GetString("exchanges-file")
		logFile, _ := cmd.Flags().GetString("log-file")

		if file != "" {
			fromFile, err := config.LoadExchanges(file)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			names = append(names, fromFile...)
		}

		w := config.NewLogWriter(config.Log{File: logFile})
		server, err := relay.NewServer(relay.Config{
			Addr:      addr,
			Exchanges: names,
			Logger:    config.Logger(w, "relay"),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if err := server.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start relay: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Relay listening on %s\n", server.GetAddr())
		for _, name := range server.ExchangeNames() {
			fmt.Printf("   Exchange: ws://%s/%s\n", server.GetAddr(), name)
		}
		fmt.Println("\nPress Ctrl+C to stop...")

		<-cmd.Context().Done()

		fmt.Println("\nShutting down relay...")
		if err := server.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Relay stopped")
	},
}

func init() {
	relayCmd.Flags().String("addr", ":8080", "address to listen on")
	relayCmd.Flags().StringSlice("exchanges", nil, "exchange to serve (repeatable)")
	relayCmd.Flags().String("exchanges-file", "", "TOML file listing exchanges")

	rootCmd.AddCommand(relayCmd)
}
