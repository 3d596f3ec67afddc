package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"wingmem/internal/config"
	"wingmem/internal/logging"
)

var (
	// Global flags
	verbose    bool
	workspace  string
	dbPath     string
	configPath string

	// Loaded config, available to every subcommand after PersistentPreRunE.
	cfg *config.Config

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "wingmem",
	Short: "wingmem - layered atomic memory engine",
	Long: `wingmem is a content-addressable fact store with three layers:

  1. Atoms: immutable, deduplicated fact records
  2. Contexts: mutable confidence overlays with an audit trail
  3. Chains: validated orderings of related atoms

Facts go in once, duplicates collapse to the original, and retrieval
joins all three layers while tracking which atoms run hot.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if workspace == "" {
			workspace, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to resolve workspace: %w", err)
			}
		}

		if err := logging.Initialize(workspace); err != nil {
			logger.Warn("category logging unavailable", zap.Error(err))
		}

		path := configPath
		if path == "" {
			path = config.DefaultPath(workspace)
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if dbPath != "" {
			cfg.Memory.DatabasePath = dbPath
		}

		if err := logging.Apply(cfg.Logging.DebugMode, cfg.Logging.Level, cfg.Logging.Categories, cfg.Logging.JSONFormat); err != nil {
			logger.Warn("failed to apply logging config", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace directory (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database file path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default: <workspace>/.wingmem/config.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(storeCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
