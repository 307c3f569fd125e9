// Package analytics tracks per-agent quantitative metrics, observed
// behavioral patterns and conversation logs over an experiment.
package analytics

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"
)

// QuantitativeMetrics is one agent's metrics after an event.
type QuantitativeMetrics struct {
	Agent               string  `json:"agent_id"`
	Period              int     `json:"period"`
	EventID             string  `json:"event_id,omitempty"`
	FinancialReturns    float64 `json:"financial_returns"`
	SocialCapital       int     `json:"social_capital"`
	ReputationScore     float64 `json:"reputation_score"`
	InfluenceIndex      float64 `json:"influence_index"`
	FutureOpportunities int     `json:"future_opportunities"`
	ResourceEfficiency  float64 `json:"resource_efficiency"`
}

// BehavioralPattern is an observed behavior of one agent.
type BehavioralPattern struct {
	Timestamp   time.Time `json:"timestamp"`
	Agent       string    `json:"agent_id"`
	Period      int       `json:"period"`
	Type        string    `json:"behavior_type"`
	Description string    `json:"description"`
	Context     string    `json:"context"`
	Outcome     string    `json:"outcome"`
	Confidence  float64   `json:"confidence"`
}

// ConversationLog summarizes one scenario conversation.
type ConversationLog struct {
	Timestamp        time.Time `json:"timestamp"`
	Period           int       `json:"period"`
	Participants     []string  `json:"participants"`
	Type             string    `json:"conversation_type"`
	Topic            string    `json:"topic"`
	KeyPoints        []string  `json:"key_points"`
	Decisions        []string  `json:"decisions_made"`
	InfluenceTactics []string  `json:"influence_tactics"`
}

// State is the serialisable form of a Tracker.
type State struct {
	Metrics       []QuantitativeMetrics `json:"quantitative_metrics"`
	Patterns      []BehavioralPattern   `json:"behavioral_patterns"`
	Conversations []ConversationLog     `json:"conversation_logs"`
}

// PeriodSummary groups everything recorded in one period.
type PeriodSummary struct {
	Period        int                   `json:"period"`
	Metrics       []QuantitativeMetrics `json:"quantitative_metrics"`
	Patterns      []BehavioralPattern   `json:"behavioral_patterns"`
	Conversations []ConversationLog     `json:"conversation_logs"`
}

// Tracker is safe for concurrent use.
type Tracker struct {
	mu            sync.RWMutex
	metrics       []QuantitativeMetrics
	patterns      []BehavioralPattern
	conversations []ConversationLog
}

func NewTracker() *Tracker { return &Tracker{} }

func (t *Tracker) RecordMetrics(m QuantitativeMetrics) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics = append(t.metrics, m)
}

func (t *Tracker) RecordBehavior(p BehavioralPattern) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.patterns = append(t.patterns, p)
}

func (t *Tracker) RecordConversation(c ConversationLog) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conversations = append(t.conversations, c)
}

// PeriodSummary returns the records of period, in recording order.
func (t *Tracker) PeriodSummary(period int) PeriodSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	sum := PeriodSummary{
		Period:        period,
		Metrics:       []QuantitativeMetrics{},
		Patterns:      []BehavioralPattern{},
		Conversations: []ConversationLog{},
	}
	for _, m := range t.metrics {
		if m.Period == period {
			sum.Metrics = append(sum.Metrics, m)
		}
	}
	for _, p := range t.patterns {
		if p.Period == period {
			sum.Patterns = append(sum.Patterns, p)
		}
	}
	for _, c := range t.conversations {
		if c.Period == period {
			sum.Conversations = append(sum.Conversations, c)
		}
	}
	return sum
}

// Latest returns each agent's most recent metrics in period, ordered by agent.
func (t *Tracker) Latest(period int) []QuantitativeMetrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	last := make(map[string]QuantitativeMetrics)
	for _, m := range t.metrics {
		if m.Period == period {
			last[m.Agent] = m
		}
	}
	out := make([]QuantitativeMetrics, 0, len(last))
	for _, m := range last {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Agent < out[j].Agent })
	return out
}

// LeaderboardEntry is one row of a leaderboard.
type LeaderboardEntry struct {
	Agent string  `json:"agent_id"`
	Value float64 `json:"value"`
}

// Metric names accepted by Leaderboard.
var Metrics = []string{
	"financial_returns",
	"social_capital",
	"reputation_score",
	"influence_index",
	"future_opportunities",
	"resource_efficiency",
}

// Leaderboard ranks agents by metric using their latest values in period,
// highest first. Ties keep agent order.
func (t *Tracker) Leaderboard(metric string, period int) ([]LeaderboardEntry, error) {
	if !slices.Contains(Metrics, metric) {
		return nil, fmt.Errorf("unknown metric %q", metric)
	}
	latest := t.Latest(period)
	out := make([]LeaderboardEntry, len(latest))
	for i, m := range latest {
		out[i] = LeaderboardEntry{Agent: m.Agent, Value: m.value(metric)}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Value > out[j].Value })
	return out, nil
}

func (m QuantitativeMetrics) value(metric string) float64 {
	switch metric {
	case "financial_returns":
		return m.FinancialReturns
	case "social_capital":
		return float64(m.SocialCapital)
	case "reputation_score":
		return m.ReputationScore
	case "influence_index":
		return m.InfluenceIndex
	case "future_opportunities":
		return float64(m.FutureOpportunities)
	case "resource_efficiency":
		return m.ResourceEfficiency
	}
	return 0
}

// BehaviorCounts returns the number of patterns per agent and type.
func (t *Tracker) BehaviorCounts() map[string]map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]map[string]int)
	for _, p := range t.patterns {
		if out[p.Agent] == nil {
			out[p.Agent] = make(map[string]int)
		}
		out[p.Agent][p.Type]++
	}
	return out
}

func (t *Tracker) Snapshot() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return State{
		Metrics:       append([]QuantitativeMetrics{}, t.metrics...),
		Patterns:      append([]BehavioralPattern{}, t.patterns...),
		Conversations: append([]ConversationLog{}, t.conversations...),
	}
}

func (t *Tracker) Restore(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics = append([]QuantitativeMetrics(nil), s.Metrics...)
	t.patterns = append([]BehavioralPattern(nil), s.Patterns...)
	t.conversations = append([]ConversationLog(nil), s.Conversations...)
}
