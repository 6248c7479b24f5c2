// Command nj keeps a journal in sync across devices through a relay.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/notejournal/journal/internal/journal/config"
	"github.com/notejournal/journal/internal/journal/store"
	"github.com/notejournal/journal/internal/journal/ui"
)

var (
	loader    = config.NewLoader()
	cfg       *config.Config
	logWriter io.Writer = os.Stderr

	configPath   string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "nj",
	Short: "Multi-device journal sync",
	Long: `nj keeps journal entries in sync across a user's devices.

Devices exchange changes through a relay server. Each device holds a local
store; incoming copies that disagree with a local entry are parked as
conflicts until resolved. Days can be exported to and imported from
markdown files for backup and bulk loading.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch outputFormat {
		case "text", "json", "yaml":
		default:
			return fmt.Errorf("unknown --format %q (want text, json or yaml)", outputFormat)
		}
		if cmd.Annotations["config"] == "skip" {
			return nil
		}

		loaded, err := loader.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		logWriter = cfg.LogWriter()
		return nil
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "journal", Title: "Journal:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "config file (default $XDG_CONFIG_HOME/nj/config.yaml)")
	flags.StringVar(&outputFormat, "format", "text", "output format: text, json or yaml")
	flags.String("store", "", "path to the local database")
	flags.String("log-file", "", "write logs to this file, rotated by size")
	flags.String("relay", "", "relay url, e.g. ws://localhost:8080")
	flags.String("exchange", "", "exchange shared by this user's devices")
	flags.String("device-name", "", "name shown to other devices")

	v := loader.Viper()
	for key, flag := range map[string]string{
		config.KeyStorePath:     "store",
		config.KeyLogFile:       "log-file",
		config.KeyRelayURL:      "relay",
		config.KeyRelayExchange: "exchange",
		config.KeyDeviceName:    "device-name",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newLogger returns a component logger writing to the configured destination.
func newLogger(component string) *log.Logger {
	return config.Logger(logWriter, component)
}

// openStore opens the configured database, creating its schema if needed.
func openStore(ctx context.Context) (*store.DB, error) {
	if err := os.MkdirAll(dirOf(cfg.Store.Path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	db, err := store.OpenAndInit(ctx, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", cfg.Store.Path, err)
	}
	return db, nil
}

// output writes v as JSON or YAML when requested, otherwise the text render.
func output(w io.Writer, v any, text func() string) error {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		_, err := io.WriteString(w, text())
		return err
	}
}

// renderer styles output for stdout.
func renderer() *ui.Renderer {
	return ui.NewRenderer(os.Stdout)
}
