package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/DRCubix/gansauditor/internal/config"
	"github.com/DRCubix/gansauditor/internal/types"
)

var (
	reportRaw bool

	reportCmd = &cobra.Command{
		Use:   "report [session-id]",
		Short: "Render the audit history of a session",
		Long: `Renders the full audit history of one session as a terminal
report: one section per loop with score, verdict, and the judge's summary,
plus the session's completion status.`,
		Args: cobra.ExactArgs(1),
		RunE: runReport,
	}
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	reviseStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	rejectStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

func verdictLabel(v types.Verdict) string {
	switch v {
	case types.VerdictPass:
		return passStyle.Render("PASS")
	case types.VerdictReject:
		return rejectStyle.Render("REJECT")
	default:
		return reviseStyle.Render("REVISE")
	}
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	sessionID := args[0]
	state, err := rt.sessions.GetSession(sessionID)
	if err != nil {
		// The sqlite archive outlives session cleanup; fall back to it.
		if rt.archive == nil {
			return err
		}
		entries, aerr := rt.archive.History(sessionID)
		if aerr != nil || len(entries) == 0 {
			return err
		}
		state = &types.SessionState{ID: sessionID, CurrentLoop: len(entries)}
		for _, e := range entries {
			state.History = append(state.History, types.HistoryEntry{
				ThoughtNumber: e.ThoughtNumber,
				Review:        e.Review,
				Timestamp:     e.CreatedAt,
			})
		}
	}

	md := buildReportMarkdown(state)
	if reportRaw {
		fmt.Print(md)
		return nil
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		// Plain markdown is still a usable report.
		fmt.Print(md)
		return nil
	}
	rendered, err := renderer.Render(md)
	if err != nil {
		fmt.Print(md)
		return nil
	}
	fmt.Print(rendered)

	// Verdict line outside the markdown so the color styling survives.
	if last := len(state.History); last > 0 {
		review := state.History[last-1].Review
		fmt.Printf("\nLatest verdict: %s at %d%%\n", verdictLabel(review.Verdict), review.Overall)
	}
	return nil
}

func buildReportMarkdown(state *types.SessionState) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Audit Report: %s\n\n", state.ID)
	status := "in progress"
	if state.IsComplete {
		status = "complete"
	}
	fmt.Fprintf(&b, "- Status: %s\n", status)
	fmt.Fprintf(&b, "- Loops: %d\n", state.CurrentLoop)
	fmt.Fprintf(&b, "- Task: %s\n", state.Config.Task)
	if state.StagnationInfo != nil && state.StagnationInfo.IsStagnant {
		fmt.Fprintf(&b, "- Stagnation: detected at loop %d (similarity %.2f)\n",
			state.StagnationInfo.DetectedAtLoop, state.StagnationInfo.SimilarityScore)
	}
	b.WriteString("\n")

	for _, entry := range state.History {
		review := entry.Review
		fmt.Fprintf(&b, "## Loop %d - %d%% (%s)\n\n", entry.ThoughtNumber, review.Overall, review.Verdict)
		if review.Detail.Summary != "" {
			fmt.Fprintf(&b, "%s\n\n", review.Detail.Summary)
		}
		if len(review.Dimensions) > 0 {
			b.WriteString("| Dimension | Score |\n|---|---|\n")
			for _, d := range review.Dimensions {
				fmt.Fprintf(&b, "| %s | %.0f |\n", d.Name, d.Score)
			}
			b.WriteString("\n")
		}
		for _, c := range review.Detail.Inline {
			fmt.Fprintf(&b, "- `%s:%d` %s\n", c.Path, c.Line, c.Comment)
		}
		if len(review.Detail.Inline) > 0 {
			b.WriteString("\n")
		}
	}

	if len(state.History) == 0 {
		b.WriteString("No audits recorded yet.\n")
	}
	return b.String()
}

func init() {
	reportCmd.Flags().BoolVar(&reportRaw, "raw", false, "Print raw markdown without terminal styling")
}
