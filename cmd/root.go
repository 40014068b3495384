package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/sells-group/acqdocs/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "acqdocs",
	Short: "Quality-gated acquisition document generation",
	Long: "Drafts federal acquisition documents with Claude, scores each draft for hallucination risk, " +
		"vague language, citations, compliance and completeness, and revises until it meets the quality threshold.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		if _, err := maxprocs.Set(maxprocs.Logger(zap.S().Debugf)); err != nil {
			zap.L().Warn("automaxprocs: failed to set GOMAXPROCS", zap.Error(err))
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
