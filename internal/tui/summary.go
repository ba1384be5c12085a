package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// SummaryRow is one label/value line of the end-of-run report.
type SummaryRow struct {
	Label string
	Value string
}

var (
	summaryLabelStyle = lipgloss.NewStyle().Foreground(ColorDim)
	summaryValueStyle = lipgloss.NewStyle().Foreground(ColorInk).Bold(true)
	summaryRuleStyle  = lipgloss.NewStyle().Foreground(ColorAccentAlt)
)

// RenderSummary lays the rows out as a two-column report with the
// labels right-aligned against the values.
func RenderSummary(rows []SummaryRow) string {
	labelWidth := 0
	valueWidth := 0
	for _, row := range rows {
		labelWidth = max(labelWidth, len(row.Label))
		valueWidth = max(valueWidth, len(row.Value))
	}

	rule := summaryRuleStyle.Render(strings.Repeat("─", labelWidth+valueWidth+2))
	lines := []string{rule}
	for _, row := range rows {
		label := fmt.Sprintf("%*s", labelWidth, row.Label)
		lines = append(lines, summaryLabelStyle.Render(label)+"  "+summaryValueStyle.Render(row.Value))
	}
	lines = append(lines, rule)
	return strings.Join(lines, "\n")
}
