package reporting

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"stock-trend-lab/internal/domain"
	"stock-trend-lab/internal/universe"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	sb.WriteString("# Stock Trend Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))

	renderRun(&sb, r.Run)
	renderAggregate(&sb, r.Aggregate)
	renderIssues(&sb, r.UniverseIssues)

	if len(r.Outputs) > 0 {
		sb.WriteString("## Outputs\n\n")
		for _, o := range r.Outputs {
			sb.WriteString(fmt.Sprintf("- `%s`\n", o))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func renderRun(sb *strings.Builder, s *domain.RunSummary) {
	sb.WriteString("## Update Run\n\n")
	if s == nil {
		sb.WriteString("No update run.\n\n")
		return
	}

	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Run ID | %s |\n", s.RunID))
	sb.WriteString(fmt.Sprintf("| Today | %s |\n", domain.FormatDate(s.Today)))
	sb.WriteString(fmt.Sprintf("| Duration | %s |\n", s.Duration().Round(time.Millisecond)))
	sb.WriteString(fmt.Sprintf("| Tickers | %d |\n", s.TickersTotal))
	sb.WriteString(fmt.Sprintf("| Planned | %d |\n", s.TickersPlanned))
	sb.WriteString(fmt.Sprintf("| Up to date | %d |\n", s.TickersCurrent))
	sb.WriteString(fmt.Sprintf("| Skipped inactive | %d |\n", s.TickersInactive))
	sb.WriteString(fmt.Sprintf("| Skipped quarantined | %d |\n", s.Quarantined))
	sb.WriteString(fmt.Sprintf("| Fetched | %d |\n", s.Fetched))
	sb.WriteString(fmt.Sprintf("| Empty | %d |\n", s.Empty))
	sb.WriteString(fmt.Sprintf("| Failed | %d |\n", s.Failed))
	sb.WriteString(fmt.Sprintf("| Newly quarantined | %d |\n", s.NewlyQuarantined))
	sb.WriteString(fmt.Sprintf("| Rows committed | %d |\n", s.RowsCommitted))
	sb.WriteString(fmt.Sprintf("| Checkpoints | %d |\n", s.Checkpoints))
	sb.WriteString("\n")

	if s.Interrupted {
		sb.WriteString("**Run interrupted.** Fetched data up to the interruption was committed.\n\n")
	}

	if len(s.Failures) > 0 {
		sb.WriteString("### Fetch Failures\n\n")
		sb.WriteString("| Ticker | Kind | Reason |\n")
		sb.WriteString("|--------|------|--------|\n")
		for _, f := range s.Failures {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s |\n", f.Ticker, f.Kind, escapeCell(f.Reason)))
		}
		sb.WriteString("\n")
	}
}

func renderAggregate(sb *strings.Builder, a *AggregateSection) {
	sb.WriteString("## Aggregation\n\n")
	if a == nil {
		sb.WriteString("No aggregation.\n\n")
		return
	}

	sb.WriteString(fmt.Sprintf("As of %s, window %d, %d records over %d tickers.\n\n",
		domain.FormatDate(a.AsOf), a.Window, a.Records, a.Tickers))
	if len(a.NoMeta) > 0 {
		sb.WriteString(fmt.Sprintf("Without metadata (%d): %s\n\n", len(a.NoMeta), strings.Join(a.NoMeta, ", ")))
	}
	if len(a.BelowMinPrice) > 0 {
		sb.WriteString(fmt.Sprintf("Below minimum price (%d): %s\n\n", len(a.BelowMinPrice), strings.Join(a.BelowMinPrice, ", ")))
	}

	for _, k := range a.Kinds {
		sb.WriteString(fmt.Sprintf("### %s\n\n", titleCase(k.Kind.String())))
		sb.WriteString(fmt.Sprintf("Groups: %d | Fitted: %d | Insufficient data: %d\n\n", k.Groups, k.Present, k.Absent))
		if k.Present == 0 {
			sb.WriteString("No fitted slopes.\n\n")
			continue
		}
		renderSlopeTable(sb, "Strongest", k.Top)
		renderSlopeTable(sb, "Weakest", k.Bottom)
	}
}

func renderSlopeTable(sb *strings.Builder, title string, rows []SlopeRow) {
	if len(rows) == 0 {
		return
	}
	sb.WriteString(fmt.Sprintf("**%s**\n\n", title))
	sb.WriteString("| Rank | Group | Slope | Samples |\n")
	sb.WriteString("|------|-------|-------|---------|\n")
	for _, r := range rows {
		sb.WriteString(fmt.Sprintf("| %d | %s | %.6f | %d |\n", r.Rank, escapeCell(r.Label), r.Slope, r.SampleCount))
	}
	sb.WriteString("\n")
}

func renderIssues(sb *strings.Builder, issues []universe.Issue) {
	if len(issues) == 0 {
		return
	}

	counts := make(map[universe.IssueKind]int)
	for _, is := range issues {
		counts[is.Kind]++
	}
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)

	sb.WriteString("## Universe Exclusions\n\n")
	sb.WriteString("| Reason | Rows |\n")
	sb.WriteString("|--------|------|\n")
	for _, k := range kinds {
		sb.WriteString(fmt.Sprintf("| %s | %d |\n", k, counts[universe.IssueKind(k)]))
	}
	sb.WriteString("\n")
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
