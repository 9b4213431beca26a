// Package observability provides formatted summaries for the CLI.
package observability

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jonathan/job-applier/internal/session"
	"github.com/jonathan/job-applier/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, clip(line, boxWidth-4))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// clip shortens s to n runes, marking the cut with "...".
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// PrintRunSummary outputs the end-of-run box: status, counters, oracle usage and the
// jobs applied to.
func (p *Printer) PrintRunSummary(report *types.RunReport) {
	if report == nil {
		return
	}
	c := report.Counters

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Run:        %s\n", report.RunID))
	sb.WriteString(fmt.Sprintf("Status:     %s\n", report.Status))
	sb.WriteString(fmt.Sprintf("Duration:   %s\n", report.Duration().Round(time.Second)))
	if report.Error != "" {
		sb.WriteString(fmt.Sprintf("Error:      %s\n", report.Error))
	}
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Discovered: %d\n", c.Discovered))
	sb.WriteString(fmt.Sprintf("Processed:  %d\n", c.Processed()))
	sb.WriteString(fmt.Sprintf("Applied:    %d\n", c.Applied))
	for _, o := range types.Outcomes {
		if n := c.Skipped[o] + c.Failed[o]; n > 0 {
			sb.WriteString(fmt.Sprintf("  %-20s %d\n", o, n))
		}
	}
	if processed := c.Processed(); processed > 0 {
		sb.WriteString(fmt.Sprintf("Apply rate: %.1f%%\n", float64(c.Applied)*100/float64(processed)))
	}

	s := report.OracleStats
	if s.Calls > 0 || s.Fallbacks > 0 || s.CacheHits > 0 {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("Oracle:     %d calls, %d cached, %d failed\n", s.Calls, s.CacheHits, s.Failures))
		sb.WriteString(fmt.Sprintf("Fallbacks:  %d\n", s.Fallbacks))
	}

	applied := make([]types.ApplicationAttempt, 0, c.Applied)
	for _, a := range report.Attempts {
		if a.Outcome == types.OutcomeApplied {
			applied = append(applied, a)
		}
	}
	if len(applied) > 0 {
		sb.WriteString("\nApplied to:\n")
		count := min(len(applied), maxItemsToShow)
		for i := 0; i < count; i++ {
			sb.WriteString(fmt.Sprintf("  • %s\n", attemptLabel(applied[i])))
		}
		if len(applied) > maxItemsToShow {
			sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(applied)-maxItemsToShow))
		}
	}

	p.printBox("RUN SUMMARY", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintFailures lists failed attempts with their detail.
func (p *Printer) PrintFailures(report *types.RunReport) {
	if report == nil {
		return
	}
	var failed []types.ApplicationAttempt
	for _, a := range report.Attempts {
		if a.Outcome.IsFailure() {
			failed = append(failed, a)
		}
	}
	if len(failed) == 0 {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d failed attempts:\n\n", len(failed)))
	for i, a := range failed {
		sb.WriteString(fmt.Sprintf("⚠ %s\n", attemptLabel(a)))
		sb.WriteString(fmt.Sprintf("  %s: %s\n", a.Outcome, a.Detail))
		if i < len(failed)-1 {
			sb.WriteString("\n")
		}
	}
	p.printBox("FAILED ATTEMPTS", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintHistory outputs the cross-run record and the most recent runs.
func (p *Printer) PrintHistory(record *types.SessionRecord, runs []session.RunSummary) {
	if record == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Jobs applied (all runs): %d\n", len(record.AppliedIDs)))
	sb.WriteString(fmt.Sprintf("Discovered (all runs):   %d\n", record.Counters.Discovered))
	sb.WriteString(fmt.Sprintf("Processed (all runs):    %d\n", record.Counters.Processed()))

	if len(runs) > 0 {
		sb.WriteString("\nRecent runs:\n")
		for _, r := range runs {
			sb.WriteString(fmt.Sprintf("  %s  %-9s %d/%d applied\n",
				r.StartedAt.Local().Format("2006-01-02 15:04"), r.Status, r.Applied, r.Processed))
		}
	}

	p.printBox("APPLICATION HISTORY", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintQuestions outputs the chatbot questions seen most recently.
func (p *Printer) PrintQuestions(questions []session.Question) {
	if len(questions) == 0 {
		return
	}

	var sb strings.Builder
	for i, q := range questions {
		sb.WriteString(fmt.Sprintf("? %s\n", q.Text))
		sb.WriteString(fmt.Sprintf("  → %s (%s, seen %d×)\n", q.Answer, q.Source, q.Seen))
		if i < len(questions)-1 {
			sb.WriteString("\n")
		}
	}
	p.printBox("CHATBOT QUESTIONS", strings.TrimSuffix(sb.String(), "\n"))
}

func attemptLabel(a types.ApplicationAttempt) string {
	label := a.Title
	if label == "" {
		label = a.JobExternalID
	}
	if a.Company != "" {
		label += " @ " + a.Company
	}
	if a.Score != nil {
		label += fmt.Sprintf(" (%d)", *a.Score)
	}
	return label
}
