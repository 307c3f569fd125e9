package simulation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cpunion/heirloom/pkg/types"
)

const (
	historyDepth     = 3
	decisionExcerpt  = 240
	firstScenarioMsg = "This is the first scenario. No previous history exists."
)

// historicalContext summarizes the most recent outcomes, the agents'
// current resources and their accumulated relationship records.
func (e *Experiment) historicalContext() string {
	if len(e.history) == 0 {
		return firstScenarioMsg
	}

	var sb strings.Builder
	sb.WriteString("Previous scenarios and their outcomes:\n")
	recent := e.history[max(len(e.history)-historyDepth, 0):]
	for i, o := range recent {
		fmt.Fprintf(&sb, "%d. %s (Period %d, week %d):\n", i+1, o.Scenario, o.Period, o.SubStep)
		fmt.Fprintf(&sb, "   Decision: %s\n", orNone(o.Decision, "No decision recorded"))
		fmt.Fprintf(&sb, "   Conflicts: %d, Alliances: %d\n", o.Conflicts, o.Alliances)
	}

	sb.WriteString("\nCurrent resources:\n")
	for _, id := range e.ledger.Agents() {
		pool, err := e.ledger.Status(id)
		if err != nil {
			continue
		}
		fmt.Fprintf(&sb, "- %s: Time=%.1fh, Money=$%.0f, Rep=%.1f\n", id, pool.TimeRemaining, pool.Money, pool.Reputation)
	}
	shared := e.ledger.SharedStatus()
	fmt.Fprintf(&sb, "- Shared budget: $%.0f, gallery reputation %.1f\n", shared.SharedBudget, shared.GalleryReputation)

	sb.WriteString("\nCurrent relationship dynamics:\n")
	listed := false
	for _, id := range e.rel.Agents() {
		c, a := e.rel.Counts(id)
		if c == 0 && a == 0 {
			continue
		}
		listed = true
		fmt.Fprintf(&sb, "- %s: %d conflicts, %d alliances\n", id, c, a)
	}
	if !listed {
		sb.WriteString("- No recorded conflicts or alliances yet\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// decisionOf takes the closing turn of the conversation as the group's
// decision.
func decisionOf(turns []types.Turn) string {
	if len(turns) == 0 {
		return ""
	}
	last := turns[len(turns)-1]
	text := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(last.Output), last.Agent+":"))
	return truncateRunes(strings.Join(strings.Fields(text), " "), decisionExcerpt)
}

func orNone(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
