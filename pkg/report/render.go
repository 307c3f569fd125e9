package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("240"))

	paneStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)

	headStyle   = lipgloss.NewStyle().Bold(true).Underline(true)
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	lowStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	highStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

// Render draws the report for a terminal.
func Render(r *Report) string {
	var sections []string

	sections = append(sections, titleStyle.Render(fmt.Sprintf("Experiment %s (%s)", r.RunID, r.Variant)))
	sections = append(sections, subtleStyle.Render(fmt.Sprintf(
		"period %d, week %d | %d events completed | last saved %s",
		r.Timeline.CurrentPeriod, r.Timeline.CurrentSubStep, len(r.Timeline.CompletedEvents),
		r.LastSaved.Format("2006-01-02 15:04:05"))))

	sections = append(sections, paneStyle.Render(renderAgents(r)))
	sections = append(sections, paneStyle.Render(renderTrust(r)))
	if len(r.Outcomes) > 0 {
		sections = append(sections, paneStyle.Render(renderOutcomes(r)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...) + "\n"
}

func renderAgents(r *Report) string {
	var sb strings.Builder
	sb.WriteString(headStyle.Render("Resources") + "\n")
	fmt.Fprintf(&sb, "%-6s %8s %10s %8s %10s %5s %5s\n", "agent", "time", "money", "rep", "returns", "conf", "ally")
	for _, a := range r.Agents {
		fmt.Fprintf(&sb, "%-6s %8.1f %10.0f %8.1f %10.0f %5d %5d\n",
			a.ID, a.TimeHours, a.Money, a.Reputation, a.FinancialReturns, a.Conflicts, a.Alliances)
	}
	fmt.Fprintf(&sb, "shared budget $%.0f | gallery rep %.1f | family rep %.1f | legal fund $%.0f",
		r.Shared.SharedBudget, r.Shared.GalleryReputation, r.Shared.FamilyReputation, r.Shared.LegalFund)
	return sb.String()
}

func renderTrust(r *Report) string {
	ids := make([]string, 0, len(r.Agents))
	for _, a := range r.Agents {
		ids = append(ids, a.ID)
	}
	sort.Strings(ids)

	var sb strings.Builder
	sb.WriteString(headStyle.Render("Trust (row trusts column)") + "\n")
	sb.WriteString(fmt.Sprintf("%-6s", ""))
	for _, id := range ids {
		sb.WriteString(fmt.Sprintf("%6s", id))
	}
	for _, src := range ids {
		sb.WriteString("\n" + fmt.Sprintf("%-6s", src))
		for _, dst := range ids {
			if src == dst {
				sb.WriteString(subtleStyle.Render(fmt.Sprintf("%6s", "-")))
				continue
			}
			cell := fmt.Sprintf("%6.2f", r.Trust[src][dst])
			switch v := r.Trust[src][dst]; {
			case v < 0.35:
				cell = lowStyle.Render(cell)
			case v > 0.65:
				cell = highStyle.Render(cell)
			}
			sb.WriteString(cell)
		}
	}
	return sb.String()
}

func renderOutcomes(r *Report) string {
	var sb strings.Builder
	sb.WriteString(headStyle.Render("Scenarios") + "\n")
	for i, o := range r.Outcomes {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "P%d W%d %-32s %-8s conflicts %d alliances %d",
			o.Period, o.SubStep, o.Scenario, o.SignalSource, o.Conflicts, o.Alliances)
	}
	return sb.String()
}
