package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Lukavyi/openclaw-inspector/internal/config"
	"github.com/Lukavyi/openclaw-inspector/internal/corpus"
	"github.com/Lukavyi/openclaw-inspector/internal/daemon"
	"github.com/Lukavyi/openclaw-inspector/internal/logger"
	"github.com/Lukavyi/openclaw-inspector/internal/progress"
	"github.com/Lukavyi/openclaw-inspector/internal/rules"
)

var (
	backgroundFlag      bool
	backgroundChildFlag bool
	stopFlag            bool
	statusFlag          bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session viewer daemon",
	Long: `Serve the web dashboard for browsing OpenClaw sessions.

The daemon watches the session store, rescans transcripts as the agent
appends to them, and pushes updates to connected browsers over SSE. It
binds to localhost only. The only state it writes is read progress and
session labels; transcripts themselves are never modified.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVarP(&backgroundFlag, "background", "b", false, "Run the daemon in the background")
	serveCmd.Flags().BoolVar(&backgroundChildFlag, "background-child", false, "Internal flag for background daemon process")
	_ = serveCmd.Flags().MarkHidden("background-child")
	serveCmd.Flags().BoolVar(&stopFlag, "stop", false, "Stop the running daemon")
	serveCmd.Flags().BoolVar(&statusFlag, "status", false, "Show daemon status")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
		cfg = config.DefaultConfig()
		if storeRoot != "" {
			cfg.Store.Root = storeRoot
		} else if root, rootErr := config.DefaultStoreRoot(); rootErr == nil {
			cfg.Store.Root = root
		}
	}
	initLogging(cfg)

	lifecycle := daemon.NewLifecycle(cfg.Server.Addr())

	if stopFlag {
		if !lifecycle.IsRunning() {
			fmt.Println("Daemon is not running")
			return nil
		}
		pid, _ := lifecycle.GetPID()
		if err := lifecycle.Stop(); err != nil {
			return fmt.Errorf("failed to stop daemon: %w", err)
		}
		fmt.Printf("Daemon stopped (PID %d)\n", pid)
		return nil
	}

	if statusFlag {
		if lifecycle.IsRunning() {
			pid, _ := lifecycle.GetPID()
			fmt.Printf("Daemon is running (PID %d) at http://%s\n", pid, cfg.Server.Addr())
		} else {
			fmt.Println("Daemon is not running")
		}
		return nil
	}

	if backgroundFlag && !backgroundChildFlag {
		if lifecycle.IsRunning() {
			pid, _ := lifecycle.GetPID()
			return fmt.Errorf("daemon is already running (PID %d)", pid)
		}

		var extra []string
		if configFile != "" {
			extra = append(extra, "--config", configFile)
		}
		if storeRoot != "" {
			extra = append(extra, "--store", storeRoot)
		}
		if verbose {
			extra = append(extra, "--verbose")
		}
		if err := lifecycle.StartInBackground(extra...); err != nil {
			return fmt.Errorf("failed to start daemon: %w", err)
		}

		fmt.Printf("Daemon started in background at http://%s\n", cfg.Server.Addr())
		return nil
	}

	if !backgroundChildFlag && lifecycle.IsRunning() {
		pid, _ := lifecycle.GetPID()
		return fmt.Errorf("daemon is already running (PID %d)", pid)
	}

	state, err := buildState(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := daemon.NewServer(cfg.Server.Addr(), state, Version)
	if err := server.Start(ctx); err != nil {
		state.Close()
		return fmt.Errorf("failed to start server: %w", err)
	}

	if !backgroundChildFlag {
		fmt.Printf("Inspector running at http://%s\n", cfg.Server.Addr())
		fmt.Println("Press Ctrl+C to stop")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error during shutdown")
	}
	return nil
}

// buildState assembles the daemon state from config: rules, progress
// tracker, scan index, and optional display metadata. The index and the
// CSV are best-effort; the rules file is not.
func buildState(cfg *config.Config) (*daemon.State, error) {
	set, err := rules.Load(cfg.Store.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load danger rules: %w", err)
	}

	progressPath, err := config.ProgressPath()
	if err != nil {
		return nil, err
	}
	tracker := progress.NewTracker(progress.NewStore(progressPath, progress.DefaultDebounce))

	var index *corpus.Index
	if indexPath, pathErr := config.IndexPath(); pathErr == nil {
		ix, ixErr := corpus.OpenIndex(indexPath)
		if ixErr != nil {
			logger.Warn().Err(ixErr).Msg("Failed to open scan index, rescanning from scratch")
		} else {
			index = ix
		}
	}

	var metadata map[string]corpus.Metadata
	if cfg.Store.MetadataCSV != "" {
		metadata, err = corpus.LoadCSV(cfg.Store.MetadataCSV)
		if err != nil {
			logger.Warn().Err(err).Str("path", cfg.Store.MetadataCSV).Msg("Failed to load metadata CSV")
			metadata = nil
		}
	}

	state := daemon.NewState(cfg.Store.Root, set, tracker, index, metadata)
	if err := state.Refresh(); err != nil {
		state.Close()
		return nil, fmt.Errorf("failed to scan session store: %w", err)
	}
	return state, nil
}
