package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Lukavyi/openclaw-inspector/internal/corpus"
	"github.com/Lukavyi/openclaw-inspector/internal/logger"
	"github.com/Lukavyi/openclaw-inspector/internal/rules"
	"github.com/Lukavyi/openclaw-inspector/internal/scan"
	"github.com/Lukavyi/openclaw-inspector/internal/session"
)

var scanOutput string

var scanCmd = &cobra.Command{
	Use:   "scan [session-key...]",
	Short: "Scan sessions for dangerous tool activity",
	Long: `Scan session transcripts against the danger rules and report hits.

With no arguments every session in the store is scanned; otherwise only
the named session keys. Exits with status 1 when any critical hit is
found, so it can gate cron jobs or CI.`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVarP(&scanOutput, "output", "o", "", "Output format: table, plain, or json")

	rootCmd.AddCommand(scanCmd)
}

type scanResult struct {
	Key  string     `json:"key"`
	Path string     `json:"path"`
	Hits []scan.Hit `json:"hits"`
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	initLogging(cfg)

	set, err := rules.Load(cfg.Store.RulesFile)
	if err != nil {
		return fmt.Errorf("failed to load danger rules: %w", err)
	}

	res, err := corpus.List(cfg.Store.Root)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	wanted := make(map[string]bool, len(args))
	for _, key := range args {
		wanted[key] = true
	}

	results := []scanResult{}
	critical := false
	for _, sess := range res.Sessions {
		if len(wanted) > 0 && !wanted[sess.Key] {
			continue
		}
		delete(wanted, sess.Key)

		doc, err := session.ParseFile(sess.Path)
		if err != nil {
			logger.Warn().Err(err).Str("path", sess.Path).Msg("Failed to read session, skipping")
			continue
		}

		hits := scan.Scan(doc, set)
		if len(hits) == 0 {
			continue
		}
		if scan.HasCritical(hits) {
			critical = true
		}
		results = append(results, scanResult{Key: sess.Key, Path: sess.Path, Hits: hits})
	}

	for key := range wanted {
		logger.Warn().Str("key", key).Msg("No such session in store")
	}

	switch outputMode(scanOutput) {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	case "plain":
		for _, r := range results {
			for _, h := range r.Hits {
				fmt.Printf("%s\t%s\t%s\t%s\t%s\n", r.Key, h.Severity, h.Category, h.MsgID, h.Command)
			}
		}
	case "table":
		renderScanTable(results)
	default:
		return fmt.Errorf("unknown output format %q (expected table, plain, or json)", scanOutput)
	}

	if critical {
		os.Exit(1)
	}
	return nil
}

func renderScanTable(results []scanResult) {
	if len(results) == 0 {
		fmt.Println("No danger hits found")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
		t.SetAllowedRowLength(width)
	}

	t.AppendHeader(table.Row{"SESSION", "SEVERITY", "CATEGORY", "MESSAGE", "COMMAND"})
	total := 0
	for _, r := range results {
		for _, h := range r.Hits {
			t.AppendRow(table.Row{r.Key, h.Severity, h.Category, h.MsgID, h.Command})
			total++
		}
	}
	t.Render()
	fmt.Printf("%d hits in %d sessions\n", total, len(results))
}
