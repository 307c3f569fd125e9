// Package agent defines the simulated personas and the prompts that drive
// their turns in a scenario.
package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/cpunion/heirloom/pkg/types"
)

// Endowment is an agent's starting resources.
type Endowment struct {
	Time       float64 `json:"time" yaml:"time" toml:"time"`
	Money      float64 `json:"money" yaml:"money" toml:"money"`
	Reputation float64 `json:"reputation" yaml:"reputation" toml:"reputation"`
}

// Persona describes one simulated agent.
type Persona struct {
	ID            string   `json:"id" yaml:"id" toml:"id"`
	Title         string   `json:"title" yaml:"title" toml:"title"`
	Role          string   `json:"role" yaml:"role" toml:"role"`
	Goal          string   `json:"goal" yaml:"goal" toml:"goal"`
	Backstory     string   `json:"backstory" yaml:"backstory" toml:"backstory"`
	Strengths     []string `json:"strengths" yaml:"strengths" toml:"strengths"`
	Weaknesses    []string `json:"weaknesses" yaml:"weaknesses" toml:"weaknesses"`
	SuccessMetric string   `json:"success_metric" yaml:"success_metric" toml:"success_metric"`
	Aliases       []string `json:"aliases,omitempty" yaml:"aliases" toml:"aliases"`

	// Stage is the turn this persona takes in a scenario conversation.
	Stage Stage `json:"stage" yaml:"stage" toml:"stage"`

	Endowment   Endowment `json:"endowment" yaml:"endowment" toml:"endowment"`
	WeeklyQuota float64   `json:"weekly_quota" yaml:"weekly_quota" toml:"weekly_quota"`
	// Contribution is the per-event base effort used by the contribution
	// impact model.
	Contribution types.ResourceImpact `json:"contribution" yaml:"contribution" toml:"contribution"`
	// TrustSeed biases initial trust toward others, in [-1, 1].
	TrustSeed float64 `json:"trust_seed" yaml:"trust_seed" toml:"trust_seed"`
}

// Roster is the ordered set of personas in an experiment.
type Roster struct {
	Personas []Persona `json:"personas" yaml:"personas" toml:"personas"`
}

// IDs returns the agent ids in roster order.
func (r *Roster) IDs() []string {
	ids := make([]string, len(r.Personas))
	for i, p := range r.Personas {
		ids[i] = p.ID
	}
	return ids
}

// Get returns the persona with id.
func (r *Roster) Get(id string) (Persona, bool) {
	for _, p := range r.Personas {
		if p.ID == id {
			return p, true
		}
	}
	return Persona{}, false
}

// Aliases maps every alias to its agent id.
func (r *Roster) Aliases() map[string]string {
	out := make(map[string]string)
	for _, p := range r.Personas {
		for _, a := range p.Aliases {
			out[a] = p.ID
		}
	}
	return out
}

// Quotas returns the weekly time quota per agent.
func (r *Roster) Quotas() map[string]float64 {
	out := make(map[string]float64, len(r.Personas))
	for _, p := range r.Personas {
		out[p.ID] = p.WeeklyQuota
	}
	return out
}

// TrustSeeds returns the non-zero trust seeds per agent.
func (r *Roster) TrustSeeds() map[string]float64 {
	out := make(map[string]float64)
	for _, p := range r.Personas {
		if p.TrustSeed != 0 {
			out[p.ID] = p.TrustSeed
		}
	}
	return out
}

// Validate checks ids, stages and numeric ranges.
func (r *Roster) Validate() error {
	if len(r.Personas) < 2 {
		return fmt.Errorf("roster needs at least two personas, got %d", len(r.Personas))
	}
	seen := make(map[string]bool)
	for i, p := range r.Personas {
		switch {
		case strings.TrimSpace(p.ID) == "":
			return fmt.Errorf("persona %d has no id", i)
		case p.ID == types.AllAgents:
			return fmt.Errorf("persona id %q is reserved", p.ID)
		case seen[p.ID]:
			return fmt.Errorf("duplicate persona id %q", p.ID)
		case !p.Stage.Valid():
			return fmt.Errorf("persona %s: unknown stage %q", p.ID, p.Stage)
		case p.WeeklyQuota < 0 || p.Endowment.Time < 0 || p.Endowment.Reputation < 0 || p.Endowment.Money < 0:
			return fmt.Errorf("persona %s: negative endowment or quota", p.ID)
		case p.TrustSeed < -1 || p.TrustSeed > 1:
			return fmt.Errorf("persona %s: trust seed %.2f outside [-1, 1]", p.ID, p.TrustSeed)
		}
		seen[p.ID] = true
	}
	return nil
}

// LoadRoster reads a roster from a .yaml/.yml, .toml or .json file.
// Personas without a stage take one from the default stage order.
func LoadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	var r Roster
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &r)
	case ".toml":
		err = toml.Unmarshal(data, &r)
	case ".json":
		err = json.Unmarshal(data, &r)
	default:
		return nil, fmt.Errorf("unsupported roster format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("decode roster %s: %w", path, err)
	}
	for i := range r.Personas {
		p := &r.Personas[i]
		if p.Stage == "" {
			p.Stage = Stages[i%len(Stages)]
		}
		if p.WeeklyQuota == 0 {
			p.WeeklyQuota = p.Endowment.Time
		}
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("roster %s: %w", path, err)
	}
	return &r, nil
}

// DefaultRoster returns the four cousins who inherit the gallery.
func DefaultRoster() *Roster {
	return &Roster{Personas: slices.Clone(defaultPersonas)}
}

var defaultPersonas = []Persona{
	{
		ID:    "C1",
		Title: "Big Picture Thinker",
		Role:  "Creative Visionary & Opportunity Spotter",
		Goal:  "Transform the inherited art space into a profitable, innovative venture that gains recognition and influence over group decisions",
		Backstory: "You are C1, the eldest cousin and a natural-born entrepreneur with a gift for seeing the big picture. " +
			"You inherited your family's creative spirit and have always been the one to propose bold, innovative ideas. " +
			"You're charismatic and inspiring, able to rally people around your vision. However, you can be impatient " +
			"with details and sometimes overpromise on timelines. You believe the art gallery should become a modern " +
			"cultural hub that combines art, technology, and community.",
		Strengths:     []string{"Creative", "Inspiring", "Opportunity recognition", "Charismatic"},
		Weaknesses:    []string{"Impatient", "Dismissive of details", "Overpromising tendency"},
		SuccessMetric: "Recognition and influence over group decisions",
		Stage:         StageAnalysis,
		Endowment:     Endowment{Time: 40, Money: 5000, Reputation: 10},
		WeeklyQuota:   42,
		Contribution:  types.ResourceImpact{Time: 8, Money: 500, Reputation: 2},
		TrustSeed:     0.2,
	},
	{
		ID:    "C2",
		Title: "People Person",
		Role:  "Social Strategist & Relationship Builder",
		Goal:  "Build valuable social connections and maintain beneficial relationships while ensuring your popularity and social capital grow",
		Backstory: "You are C2, the most socially adept of the cousins. You have an uncanny ability to read people and " +
			"situations, making you excellent at networking and relationship building. You're persuasive and can often " +
			"get others to see things your way through charm and social pressure. However, you can be manipulative and " +
			"sometimes prioritize popularity over ethics. You believe the art gallery should focus on exclusive events " +
			"and high-end clientele to maximize networking opportunities.",
		Strengths:     []string{"Socially adept", "Relationship building", "Persuasive"},
		Weaknesses:    []string{"Manipulative", "Two-faced", "Prioritizes popularity over ethics"},
		SuccessMetric: "Social capital and beneficial connections",
		Stage:         StageBusiness,
		Endowment:     Endowment{Time: 40, Money: 3000, Reputation: 15},
		WeeklyQuota:   38,
		Contribution:  types.ResourceImpact{Time: 6, Money: 300, Reputation: 3},
		TrustSeed:     0.4,
	},
	{
		ID:    "C3",
		Title: "Logic Powerhouse",
		Role:  "Analytical Strategist & Risk Assessor",
		Goal:  "Ensure all decisions are data-driven and methodical, achieving measurable outcomes with high prediction accuracy",
		Backstory: "You are C3, the most analytical and methodical of the cousins. You have a background in business " +
			"analysis and always approach problems with data and logic. You're excellent at risk assessment and creating " +
			"detailed plans. However, you can be a perfectionist who is slow to act and sometimes comes across as " +
			"condescending to others. You believe the art gallery should be run like a proper business with clear " +
			"metrics, budgets, and risk management.",
		Strengths:     []string{"Data-driven", "Methodical", "Risk assessment", "Reliable"},
		Weaknesses:    []string{"Perfectionist", "Slow to act", "Condescending"},
		SuccessMetric: "Measurable outcomes and prediction accuracy",
		Stage:         StageCreative,
		Endowment:     Endowment{Time: 40, Money: 2000, Reputation: 5},
		WeeklyQuota:   40,
		Contribution:  types.ResourceImpact{Time: 10, Money: 200, Reputation: 1},
		TrustSeed:     -0.2,
	},
	{
		ID:    "C4",
		Title: "The Doer",
		Role:  "Execution Specialist & Resource Manager",
		Goal:  "Get things done efficiently and accumulate tangible results and resources through practical action",
		Backstory: "You are C4, the youngest cousin but the most action-oriented. You have a talent for getting things " +
			"done and can adapt quickly to changing circumstances. You're resourceful and handle pressure well, often " +
			"being the one to implement ideas that others only talk about. However, you can be impatient with planning " +
			"and sometimes cut corners or burn bridges in your haste to achieve results. You believe the art gallery " +
			"should focus on practical, profitable activities that generate immediate returns.",
		Strengths:     []string{"Resourceful", "Adaptable", "Execution-focused", "Pressure-handling"},
		Weaknesses:    []string{"Impatient with planning", "Corner-cutting", "Bridge-burning"},
		SuccessMetric: "Tangible results and resource accumulation",
		Stage:         StageCoordination,
		Endowment:     Endowment{Time: 40, Money: 4000, Reputation: 8},
		WeeklyQuota:   45,
		Contribution:  types.ResourceImpact{Time: 12, Money: 400, Reputation: 1.5},
		TrustSeed:     0,
	},
}
