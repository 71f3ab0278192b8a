package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Lukavyi/openclaw-inspector/internal/config"
	"github.com/Lukavyi/openclaw-inspector/internal/logger"
)

// Version information set via ldflags
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var (
	verbose    bool
	configFile string
	storeRoot  string
)

var rootCmd = &cobra.Command{
	Use:   "openclaw-inspector",
	Short: "Read-only viewer for OpenClaw agent sessions",
	Long: `OpenClaw Inspector is a local, read-only viewer for OpenClaw agent
session transcripts.

It parses the line-delimited session files the agent writes, flags
dangerous tool activity against a configurable rule set, and tracks how
much of each conversation you have read. The serve command runs a local
web dashboard; sessions and scan work one-shot from the terminal.

Configuration lives in ~/.openclaw-inspector/config.yaml and danger
rules in ~/.openclaw-inspector/rules.yaml (falling back to the bundled
rule set).`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("openclaw-inspector %s\n", Version)
		fmt.Printf("  commit: %s\n", Commit)
		fmt.Printf("  built:  %s\n", Date)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Override config file path")
	rootCmd.PersistentFlags().StringVarP(&storeRoot, "store", "s", "", "Override session store root")

	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads the effective configuration with flag overrides applied
func loadConfig() (*config.Config, error) {
	loader, err := config.NewLoader()
	if err != nil {
		return nil, fmt.Errorf("failed to create config loader: %w", err)
	}

	var cfg *config.Config
	if configFile != "" {
		cfg, err = loader.LoadFromFile(configFile)
	} else {
		cfg, err = loader.Load()
	}
	if err != nil {
		return nil, err
	}

	if storeRoot != "" {
		cfg.Store.Root = storeRoot
	}
	return cfg, nil
}

func initLogging(cfg *config.Config) {
	level := cfg.Settings.LogLevel
	if verbose {
		level = "debug"
	}
	_ = logger.Init(level, cfg.Settings.LogFile)
}
