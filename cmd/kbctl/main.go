// Package main implements kbctl, the operator CLI for building and querying
// knowledge stores without the HTTP server.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nexora-chat/internal/bootstrap"
	"nexora-chat/internal/config"
	"nexora-chat/internal/logging"
)

var version = "dev"

type options struct {
	configFile string
	storeRoot  string
	verbose    bool
}

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "kbctl",
		Short: "Build and query knowledge stores",
		Long: `kbctl manages the on-disk knowledge stores used by the chat server.

It reads the same configuration as the server (CONFIG_FILE and environment)
but needs no database, cache or message broker.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default: $CONFIG_FILE or configs/config.toml)")
	root.PersistentFlags().StringVar(&opts.storeRoot, "store-root", "", "override rag.store_root")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log pipeline events to stderr")

	root.AddCommand(newIngestCmd(opts))
	root.AddCommand(newAskCmd(opts))
	root.AddCommand(newInspectCmd(opts))
	return root
}

// loadCore builds the pipeline from configuration and flags.
func loadCore(opts *options) (*bootstrap.Core, error) {
	if opts.configFile != "" {
		if err := os.Setenv("CONFIG_FILE", opts.configFile); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	if opts.storeRoot != "" {
		cfg.RAG.StoreRoot = opts.storeRoot
	}

	logger := zap.NewNop()
	if opts.verbose {
		logger, err = logging.New(logging.Config{Level: "debug", Format: "console"})
		if err != nil {
			return nil, err
		}
	}
	return bootstrap.NewCore(cfg, logger)
}
