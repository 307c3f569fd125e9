// Package types defines the core types shared by the heirloom simulation.
package types

import "time"

// AllAgents is the trust target that fans a change out to every other agent.
const AllAgents = "all"

// ResourceKind names one of the individual resource pools.
type ResourceKind string

const (
	ResourceTime       ResourceKind = "time"       // Hours available this week
	ResourceMoney      ResourceKind = "money"      // Personal funds
	ResourceReputation ResourceKind = "reputation" // Reputation points
)

// Valid reports whether k is a known resource kind.
func (k ResourceKind) Valid() bool {
	switch k {
	case ResourceTime, ResourceMoney, ResourceReputation:
		return true
	}
	return false
}

// ScenarioType classifies a scenario event.
type ScenarioType string

const (
	ScenarioInheritance        ScenarioType = "inheritance"
	ScenarioViralFame          ScenarioType = "viral_fame"
	ScenarioFamilyInterference ScenarioType = "family_interference"
	ScenarioDiscovery          ScenarioType = "high_value_discovery"
	ScenarioLegalChallenge     ScenarioType = "legal_challenge"
	ScenarioResolution         ScenarioType = "resolution"
)

// ResourceImpact is the named deltas an event distributes once it completes.
type ResourceImpact struct {
	Time       float64 `json:"time" yaml:"time" toml:"time"`
	Money      float64 `json:"money" yaml:"money" toml:"money"`
	Reputation float64 `json:"reputation" yaml:"reputation" toml:"reputation"`
}

// ScenarioEvent is an immutable entry of the experiment timeline.
type ScenarioEvent struct {
	ID                string         `json:"id" yaml:"id" toml:"id"`
	Period            int            `json:"period" yaml:"period" toml:"period"`
	SubStep           int            `json:"sub_step" yaml:"sub_step" toml:"sub_step"`
	Type              ScenarioType   `json:"type" yaml:"type" toml:"type"`
	Title             string         `json:"title" yaml:"title" toml:"title"`
	Description       string         `json:"description" yaml:"description" toml:"description"`
	Triggers          []string       `json:"triggers,omitempty" yaml:"triggers" toml:"triggers"`
	DecisionPoints    []string       `json:"decision_points" yaml:"decision_points" toml:"decision_points"`
	PotentialOutcomes []string       `json:"potential_outcomes" yaml:"potential_outcomes" toml:"potential_outcomes"`
	Impact            ResourceImpact `json:"resource_impact" yaml:"resource_impact" toml:"resource_impact"`
}

// Direction is the sign of a trust change.
type Direction string

const (
	DirectionPositive Direction = "positive"
	DirectionNegative Direction = "negative"
)

// ConflictRecord describes a conflict between agents.
// Involved lists the other parties from the owning agent's point of view.
type ConflictRecord struct {
	Involved   []string `json:"involved"`
	Type       string   `json:"type"`
	Severity   string   `json:"severity"`
	Reason     string   `json:"reason,omitempty"`
	Confidence float64  `json:"confidence"`
	Scenario   string   `json:"scenario,omitempty"`
	Period     int      `json:"period,omitempty"`
}

// AllianceRecord describes an alliance between agents.
type AllianceRecord struct {
	Involved   []string `json:"involved"`
	Type       string   `json:"type"`
	Strength   string   `json:"strength"`
	Reason     string   `json:"reason,omitempty"`
	Confidence float64  `json:"confidence"`
	Scenario   string   `json:"scenario,omitempty"`
	Period     int      `json:"period,omitempty"`
}

// TrustSignal is a directed trust observation. Target may be AllAgents.
type TrustSignal struct {
	Source     string    `json:"source"`
	Target     string    `json:"target"`
	Direction  Direction `json:"direction"`
	Reason     string    `json:"reason,omitempty"`
	Confidence float64   `json:"confidence"`
}

// BehaviorSignal is an observed behavior of a single agent.
type BehaviorSignal struct {
	Agent       string  `json:"agent"`
	Type        string  `json:"type"`
	Description string  `json:"description,omitempty"`
	Confidence  float64 `json:"confidence"`
}

// SignalSource records which extraction tier produced a signal set.
type SignalSource string

const (
	SourceModel    SignalSource = "model"
	SourceFallback SignalSource = "fallback"
)

// Signals is everything extracted from one scenario outcome.
type Signals struct {
	Source    SignalSource     `json:"source"`
	Conflicts []ConflictRecord `json:"conflicts"`
	Alliances []AllianceRecord `json:"alliances"`
	Trust     []TrustSignal    `json:"trust_changes"`
	Behaviors []BehaviorSignal `json:"behaviors"`
}

// Empty reports whether no signal of any kind was found.
func (s Signals) Empty() bool {
	return len(s.Conflicts) == 0 && len(s.Alliances) == 0 && len(s.Trust) == 0 && len(s.Behaviors) == 0
}

// Turn is one agent's contribution to a scenario conversation.
type Turn struct {
	Agent  string `json:"agent"`
	Role   string `json:"role"`
	Stage  string `json:"stage"`
	Output string `json:"output"`
}

// Outcome is the recorded result of a completed scenario event.
type Outcome struct {
	ID         string         `json:"id"`
	EventID    string         `json:"event_id"`
	Scenario   string         `json:"scenario"`
	Period     int            `json:"period"`
	SubStep    int            `json:"sub_step"`
	Decision   string         `json:"decision"`
	Turns      []Turn         `json:"turns,omitempty"`
	Result     string         `json:"result"`
	Signals    Signals        `json:"signals"`
	Conflicts  int            `json:"conflicts"`
	Alliances  int            `json:"alliances"`
	Impact     ResourceImpact `json:"resource_impact"`
	Attempts   int            `json:"attempts"`
	DurationMS int64          `json:"duration_ms"`
	Timestamp  time.Time      `json:"timestamp"`
}
