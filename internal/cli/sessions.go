package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Lukavyi/openclaw-inspector/internal/corpus"
	"github.com/Lukavyi/openclaw-inspector/internal/logger"
)

var (
	sessionsOutput string
	sessionsAll    bool
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions in the store",
	Long: `List the session transcripts found under the store root.

Deleted transcripts (*.jsonl.deleted) are hidden unless --all is given.
Output defaults to a table on a terminal and tab-separated lines when
piped; --output forces a format.`,
	RunE: runSessions,
}

func init() {
	sessionsCmd.Flags().StringVarP(&sessionsOutput, "output", "o", "", "Output format: table, plain, or json")
	sessionsCmd.Flags().BoolVarP(&sessionsAll, "all", "a", false, "Include deleted sessions")

	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	initLogging(cfg)

	res, err := corpus.List(cfg.Store.Root)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	for _, warn := range res.Warnings {
		logger.Warn().Err(warn).Msg("Problem while listing sessions")
	}

	sessions := res.Sessions
	if !sessionsAll {
		live := make([]*corpus.Session, 0, len(sessions))
		for _, s := range sessions {
			if !s.Deleted {
				live = append(live, s)
			}
		}
		sessions = live
	}

	switch outputMode(sessionsOutput) {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sessions)
	case "plain":
		for _, s := range sessions {
			fmt.Printf("%s\t%s\t%d\t%s\t%s\n",
				s.Key, s.ModTime.Format(time.RFC3339), s.Size, sessionLabel(s), sessionFlags(s))
		}
		return nil
	case "table":
		renderSessionTable(sessions)
		return nil
	default:
		return fmt.Errorf("unknown output format %q (expected table, plain, or json)", sessionsOutput)
	}
}

func renderSessionTable(sessions []*corpus.Session) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
		t.SetAllowedRowLength(width)
	}

	t.AppendHeader(table.Row{"KEY", "LABEL", "STARTED", "MODIFIED", "SIZE", "FLAGS"})
	for _, s := range sessions {
		t.AppendRow(table.Row{
			s.Key,
			sessionLabel(s),
			startedAge(s.StartedAt),
			humanize.Time(s.ModTime),
			humanize.IBytes(uint64(s.Size)),
			sessionFlags(s),
		})
	}
	t.Render()

	deleted := 0
	for _, s := range sessions {
		if s.Deleted {
			deleted++
		}
	}
	if deleted > 0 {
		fmt.Printf("%d sessions (%d deleted)\n", len(sessions), deleted)
	} else {
		fmt.Printf("%d sessions\n", len(sessions))
	}
}

func sessionLabel(s *corpus.Session) string {
	if s.Label != "" {
		return s.Label
	}
	return s.Name
}

func sessionFlags(s *corpus.Session) string {
	var flags []string
	if s.Deleted {
		flags = append(flags, "deleted")
	}
	if s.Orphan {
		flags = append(flags, "orphan")
	}
	return strings.Join(flags, ",")
}

func startedAge(startedAt string) string {
	if startedAt == "" {
		return "-"
	}
	started, err := time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return "-"
	}
	return humanize.Time(started)
}

// outputMode resolves the effective format: an explicit flag wins,
// otherwise a terminal gets a table and a pipe gets plain lines.
func outputMode(flag string) string {
	switch flag {
	case "table", "plain", "json":
		return flag
	case "":
	default:
		return flag
	}
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return "table"
	}
	return "plain"
}
