package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	x402 "github.com/slavaghoul1337-coder/genge"
	"github.com/slavaghoul1337-coder/genge/config"
	"github.com/slavaghoul1337-coder/genge/logger"
	"github.com/slavaghoul1337-coder/genge/metrics"
)

// rootCmd holds the persistent flags; subcommands load the config themselves.
var rootCmd = &cobra.Command{
	Use:           "genge",
	Short:         "GENGE x402 payment verifier",
	Long:          "Verify x402 payments and NFT ownership, and authorize GENGE mints.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	flagEnvDir   string
	flagLogLevel string
	flagOutput   string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagEnvDir, "env-dir", ".", "Directory holding an optional .env file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "json", "Output format: json|text")
}

func loadCfg() (*config.Config, error) {
	cfg, err := config.Load(flagEnvDir)
	if err != nil {
		return nil, err
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	return cfg, nil
}

// build assembles the verifier. rec may be nil.
func build(cfg *config.Config, log logger.Logger, rec metrics.Recorder) (*x402.X402, error) {
	opts := []x402.Option{
		x402.WithLogger(log),
		x402.WithTimeout(cfg.VerificationBudget()),
	}
	if rec != nil {
		opts = append(opts, x402.WithMetrics(rec))
	}
	return x402.New(cfg, opts...)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
