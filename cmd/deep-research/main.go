// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the deep-research CLI.
//
// The run subcommand drives a research session from a question to a cited
// report. The corpus subcommands maintain the local document corpus that the
// corpus search provider reads, and watch follows a session published to
// Redis by another process.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pdiddy/deep-research/internal/secrets"
	"github.com/pdiddy/deep-research/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds values loaded from .secrets/ at startup.
var loadedSecrets secrets.Secrets

// logger is built from --debug before any subcommand runs.
var logger = zap.NewNop()

// rootCmd is the base command for the deep-research CLI.
var rootCmd = &cobra.Command{
	Use:   "deep-research",
	Short: "Plan, search, verify, and write cited research reports",
	Long: `deep-research turns a research question into a cited report. A session
plans a bounded set of searches, runs them concurrently against the configured
providers, optionally searches again to fill coverage gaps, scores every source
for credibility, and writes the report in the requested style and language.

Reasoning stages use the Claude API by default; --offline switches to a
deterministic heuristic backend that needs no API key.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, warnings, err := secrets.Load(".secrets/")
		if err != nil {
			return err
		}
		for _, w := range warnings {
			fmt.Fprintf(os.Stderr, "warning: %s\n", w)
		}
		loadedSecrets = s
		if len(s) > 0 {
			fmt.Fprintf(os.Stderr, "Loaded secrets: %v\n", s.Keys())
		}

		debug, _ := cmd.Flags().GetBool("debug")
		l, err := newLogger(debug)
		if err != nil {
			return fmt.Errorf("building logger: %w", err)
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./deep-research.yaml or ~/.config/deep-research/deep-research.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "log at debug level")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("deep-research")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "deep-research"))
		}
	}

	viper.SetEnvPrefix("DEEP_RESEARCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults(viper.GetViper())

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// setDefaults registers every configuration key so that environment
// variables can override keys absent from the config file.
func setDefaults(v *viper.Viper) {
	orch := types.DefaultOrchestratorConfig()
	v.SetDefault("orchestrator.concurrency", orch.Concurrency)
	v.SetDefault("orchestrator.search_retries", orch.SearchRetries)
	v.SetDefault("orchestrator.low_confidence_threshold", orch.LowConfidenceThreshold)
	v.SetDefault("orchestrator.disable_gap_round", orch.DisableGapRound)
	v.SetDefault("orchestrator.disable_fact_check", orch.DisableFactCheck)

	v.SetDefault("search.providers", []string{"arxiv", "openalex"})
	v.SetDefault("search.max_results_per_item", 5)
	v.SetDefault("search.rss_feeds", []string{})
	v.SetDefault("search.fetch_content", false)
	v.SetDefault("search.openalex_email", "")
	v.SetDefault("search.timeout", 30*time.Second)
	v.SetDefault("search.user_agent", "deep-research/"+version)
	v.SetDefault("search.requests_per_minute", 60)

	v.SetDefault("reasoning.backend", "claude")
	v.SetDefault("reasoning.model", "")
	v.SetDefault("reasoning.api_key", "")
	v.SetDefault("reasoning.max_retries", 3)
	v.SetDefault("reasoning.timeout", 120*time.Second)
	v.SetDefault("reasoning.user_agent", "deep-research/"+version)
	v.SetDefault("reasoning.requests_per_minute", 50)

	v.SetDefault("corpus.dir", ".deep-research")
	v.SetDefault("corpus.max_results", 20)

	v.SetDefault("streaming.redis_addr", "")
	v.SetDefault("streaming.stream_prefix", "")

	v.SetDefault("metrics.addr", "")

	v.SetDefault("email.host", "")
	v.SetDefault("email.port", 587)
	v.SetDefault("email.from", "")
	v.SetDefault("email.username", "")
	v.SetDefault("email.password", "")
}

// loadConfig unmarshals the merged configuration and fills empty secret
// fields from .secrets/.
func loadConfig(v *viper.Viper) (types.Config, error) {
	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("reading configuration: %w", err)
	}
	if applied := loadedSecrets.Apply(&cfg); len(applied) > 0 {
		logger.Debug("Applied secrets to configuration", zap.Strings("keys", applied))
	}
	return cfg, nil
}

// newLogger builds a console logger on stderr.
func newLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
