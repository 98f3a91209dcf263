// Package cmd provides the CLI commands for DeepSearch.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	configPath string
	debugMode  bool
)

// NewRootCmd creates the root command for the deepsearch CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deepsearch",
		Short: "Hybrid search backend for banking content",
		Long: `DeepSearch combines keyword and semantic retrieval over banking
documents: queries are expanded with banking synonyms and domain
terms, both channels run in parallel, and the ranked lists are fused
with freshness, quality, and popularity signals.

It also serves autocomplete suggestions built from the search log.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("deepsearch version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newSimilarCmd())
	cmd.AddCommand(newSuggestCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSynonymCmd())
	cmd.AddCommand(newStatsCmd())

	return cmd
}

// Execute runs the root command with signal-aware context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}
