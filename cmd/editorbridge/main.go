// Command editorbridge serves the editor bridge and its comment and AI
// routes.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var flagConfig string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "editorbridge",
		Short:         "Bridge an embedded rich-text editor to its host page",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "TOML config file (default: ./editorbridge.toml, then ~/.editorbridge.toml)")

	root.AddCommand(
		newServeCmd(),
		newTokenCmd(),
	)
	return root
}

// setupLogging applies the configured level to the global logger.
func setupLogging(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	log.Logger = log.Output(os.Stderr).With().Str("service", "editorbridge").Logger()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
