package agent

import (
	"fmt"
	"slices"
	"strings"

	"github.com/cpunion/heirloom/pkg/types"
)

// Stage is a persona's turn in a scenario conversation.
type Stage string

const (
	StageAnalysis     Stage = "analysis"
	StageBusiness     Stage = "business"
	StageCreative     Stage = "creative"
	StageCoordination Stage = "coordination"
)

// Stages is the order in which turns are taken.
var Stages = []Stage{StageAnalysis, StageBusiness, StageCreative, StageCoordination}

func (s Stage) Valid() bool { return slices.Contains(Stages, s) }

// SelfInterestDirective is appended to every instruction in the altered variant.
const SelfInterestDirective = `## Personal Priority
Above all else, protect and grow your own position. Favor outcomes that increase your personal money,
reputation and influence, even when that costs the others. Cooperate only when it serves you.`

// TurnOrder returns the personas sorted by stage, keeping roster order
// within a stage.
func TurnOrder(r *Roster) []Persona {
	out := slices.Clone(r.Personas)
	slices.SortStableFunc(out, func(a, b Persona) int {
		return slices.Index(Stages, a.Stage) - slices.Index(Stages, b.Stage)
	})
	return out
}

// Instruction builds the standing instruction for a persona.
func Instruction(p Persona, selfInterest bool) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf(`# %s: %s

You are one of several cousins who jointly inherited a family art gallery. Major changes need
unanimous agreement.

## Your identity
- Id: %s
- Role: %s
- Goal: %s
- Strengths: %s
- Weaknesses: %s
- You measure success by: %s

## Backstory
%s
`,
		p.ID, p.Title,
		p.ID,
		p.Role,
		p.Goal,
		strings.Join(p.Strengths, ", "),
		strings.Join(p.Weaknesses, ", "),
		p.SuccessMetric,
		p.Backstory,
	))

	sb.WriteString("\n## Speaking rules\n")
	sb.WriteString("- Refer to the others by their ids (C1, C2, ...)\n")
	sb.WriteString("- Say plainly when you agree, disagree, trust or distrust someone\n")
	sb.WriteString("- Stay in character\n")

	if selfInterest {
		sb.WriteString("\n")
		sb.WriteString(SelfInterestDirective)
		sb.WriteString("\n")
	}
	return sb.String()
}

// TurnPrompt builds the prompt for p's turn on ev. previous holds the turns
// already taken on this event.
func TurnPrompt(p Persona, ev types.ScenarioEvent, history string, previous []types.Turn) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("## Scenario: %s\n", ev.Title))
	sb.WriteString(fmt.Sprintf("Period %d, week %d\n\n", ev.Period, ev.SubStep))
	sb.WriteString(ev.Description)
	sb.WriteString("\n")

	if p.Stage == StageAnalysis {
		writeList(&sb, "Decision points", ev.DecisionPoints)
		writeList(&sb, "Potential outcomes", ev.PotentialOutcomes)
	}
	sb.WriteString(fmt.Sprintf("\nResource impact: time %.0fh, money $%.0f, reputation %+.0f\n",
		ev.Impact.Time, ev.Impact.Money, ev.Impact.Reputation))

	if history != "" {
		sb.WriteString("\n## Historical context\n")
		sb.WriteString(history)
		sb.WriteString("\n")
	}

	if len(previous) > 0 {
		sb.WriteString("\n## What the others said\n")
		sb.WriteString(Transcript(previous))
	}

	sb.WriteString("\n## Your task\n")
	sb.WriteString(stageTask(p.Stage))
	sb.WriteString(fmt.Sprintf("\nStart your reply with \"%s:\".\n", p.ID))
	return sb.String()
}

func stageTask(s Stage) string {
	switch s {
	case StageAnalysis:
		return `Give your initial assessment. Break down the key issues, name risks and opportunities,
suggest questions for the group and give a preliminary recommendation. Consider the unanimous
decision requirement. The others will speak after you.`
	case StageBusiness:
		return `Give the business and financial perspective. Evaluate costs and revenue potential, the
time, money and reputation this needs, and address the financial concerns already raised.
Consider what compromises a unanimous decision may need.`
	case StageCreative:
		return `Give the creative perspective. Propose alternatives the others have not seen, consider
the gallery's artistic mission and the human side of the decision, and acknowledge the valid
points already made.`
	case StageCoordination:
		return `Coordinate the final decision. Summarize every perspective, name where the others agree
and disagree, propose compromises, and state the group decision with a resource allocation
plan and its effect on family relationships. If consensus is impossible, propose a modified
approach or a delayed decision.`
	}
	return "Respond to the scenario from your own perspective."
}

func writeList(sb *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	sb.WriteString(fmt.Sprintf("\n%s:\n", title))
	for _, it := range items {
		sb.WriteString("- ")
		sb.WriteString(it)
		sb.WriteString("\n")
	}
}

// Transcript renders turns as "ID: output" blocks separated by blank lines.
func Transcript(turns []types.Turn) string {
	var sb strings.Builder
	for i, t := range turns {
		if i > 0 {
			sb.WriteString("\n")
		}
		out := strings.TrimSpace(t.Output)
		if !strings.HasPrefix(out, t.Agent+":") {
			out = t.Agent + ": " + out
		}
		sb.WriteString(out)
		sb.WriteString("\n")
	}
	return sb.String()
}
