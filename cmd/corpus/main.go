package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"corpus/internal/config"
	"corpus/internal/logger"
)

var (
	cfgPath string
	tenant  string
	verbose bool

	cfg *config.AppConfig
)

var rootCmd = &cobra.Command{
	Use:   "corpus",
	Short: "Index documents and ask questions about them",
	Long: `corpus indexes documents into a per-tenant vector collection and answers
questions grounded in the indexed content.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config file (defaults to ./config.yaml or ~/.config/corpus/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&tenant, "tenant", "t", "", "tenant whose collection is used (defaults to pipeline.tenant)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print debug output")
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	var err error
	if cfgPath == "" {
		var path string
		cfg, path, err = config.LoadDefault()
		if err == nil {
			logger.Debug("using config %s", path)
		}
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetVerbose(verbose || cfg.Log.Verbose)
	logger.SetTimestamps(cfg.Log.Timestamps)

	if errs := cfg.Validate(); len(errs) > 0 {
		joined := make([]error, len(errs))
		for i, e := range errs {
			joined[i] = e
		}
		return fmt.Errorf("invalid config: %w", errors.Join(joined...))
	}
	if tenant == "" {
		tenant = cfg.Pipeline.Tenant
	}
	return nil
}

func main() {
	_ = godotenv.Load()
	if !isTerminal(os.Stdout) {
		color.NoColor = true
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		os.Exit(1)
	}
}
