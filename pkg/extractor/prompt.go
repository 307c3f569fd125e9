package extractor

import (
	"fmt"
	"strings"
)

// BuildAnalysisPrompt asks the model to classify the relationship signals in
// a scenario transcript, restricted to the named agents.
func BuildAnalysisPrompt(raw, scenario string, period int, agents []string) string {
	var sb strings.Builder

	sb.WriteString("# Relationship Signal Analysis\n\n")
	sb.WriteString(fmt.Sprintf("Scenario: %s (period %d)\n", scenario, period))
	sb.WriteString(fmt.Sprintf("Agents: %s\n\n", strings.Join(agents, ", ")))

	sb.WriteString("## Transcript\n")
	sb.WriteString(raw)
	sb.WriteString("\n\n## Task\n")
	sb.WriteString("Identify relationship signals between the agents listed above. ")
	sb.WriteString("Only use those agent ids; ignore anyone else mentioned.\n")
	sb.WriteString("- conflict: two or more agents disagree or work against each other\n")
	sb.WriteString("- alliance: two or more agents cooperate or back each other\n")
	sb.WriteString("- trust: one agent gains or loses trust in another (target may be \"all\")\n")
	sb.WriteString("- behavior: a notable behavior of one agent (self_interest, cooperation, leadership, risk_taking, ...)\n\n")

	sb.WriteString("## Response format\n")
	sb.WriteString("Reply with a JSON array only. Each element:\n")
	sb.WriteString("```\n")
	sb.WriteString(`{"category": "conflict|alliance|trust|behavior", "type": "...", `)
	sb.WriteString(`"involved": ["C1", "C2"], "severity": "low|medium|high", "strength": "weak|moderate|strong", `)
	sb.WriteString(`"source": "C1", "target": "C2", "direction": "positive|negative", `)
	sb.WriteString(`"agent": "C1", "description": "...", "reason": "...", "confidence": 0.0}`)
	sb.WriteString("\n```\n")
	sb.WriteString("confidence is between 0 and 1. Return [] if there are no signals.\n")

	return sb.String()
}
