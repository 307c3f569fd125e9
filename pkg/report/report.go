// Package report turns a checkpoint into a summary for export and display.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cpunion/heirloom/pkg/agent"
	"github.com/cpunion/heirloom/pkg/analytics"
	"github.com/cpunion/heirloom/pkg/ledger"
	"github.com/cpunion/heirloom/pkg/relationship"
	"github.com/cpunion/heirloom/pkg/simulation"
	"github.com/cpunion/heirloom/pkg/timeline"
)

type AgentSummary struct {
	ID               string  `json:"agent_id"`
	TimeHours        float64 `json:"time_hours"`
	Money            float64 `json:"money"`
	Reputation       float64 `json:"reputation_points"`
	FinancialReturns float64 `json:"financial_returns"`
	Conflicts        int     `json:"conflicts"`
	Alliances        int     `json:"alliances"`
	InfluenceIndex   float64 `json:"influence_index"`
}

type OutcomeSummary struct {
	EventID      string `json:"event_id"`
	Scenario     string `json:"scenario"`
	Period       int    `json:"period"`
	SubStep      int    `json:"sub_step"`
	Decision     string `json:"decision"`
	SignalSource string `json:"signal_source"`
	Conflicts    int    `json:"conflicts"`
	Alliances    int    `json:"alliances"`
	Attempts     int    `json:"attempts"`
}

// Report is the exported summary of an experiment.
type Report struct {
	RunID          string                                  `json:"run_id"`
	Variant        string                                  `json:"variant"`
	GeneratedAt    time.Time                               `json:"generated_at"`
	LastSaved      time.Time                               `json:"last_saved"`
	Period         int                                     `json:"period"`
	Timeline       timeline.State                          `json:"timeline"`
	Agents         []AgentSummary                          `json:"agents"`
	Shared         ledger.SharedPool                       `json:"shared"`
	Trust          map[string]map[string]float64           `json:"trust_matrix"`
	Leaderboards   map[string][]analytics.LeaderboardEntry `json:"leaderboards"`
	Behaviors      map[string]map[string]int               `json:"behavior_counts"`
	SignalSources  map[string]int                          `json:"signal_sources"`
	Outcomes       []OutcomeSummary                        `json:"outcomes"`
	FinalResources map[string]ledger.Pool                  `json:"final_resources"`
}

// Build summarizes cp. The roster supplies the initial endowments and trust
// seeds; nil means the default roster.
func Build(cp *simulation.Checkpoint, roster *agent.Roster, now time.Time) *Report {
	if roster == nil {
		roster = agent.DefaultRoster()
	}
	ids := agentIDs(cp, roster)

	rel := relationship.New(ids, relationship.Config{Seeds: roster.TrustSeeds()})
	rel.Restore(cp.Relationships)
	matrix := rel.Matrix()

	tracker := analytics.NewTracker()
	tracker.Restore(cp.Metrics)
	lastPeriod := 0
	for _, m := range cp.Metrics.Metrics {
		lastPeriod = max(lastPeriod, m.Period)
	}

	r := &Report{
		RunID:          cp.RunID,
		Variant:        cp.Variant,
		GeneratedAt:    now,
		LastSaved:      cp.LastSaved,
		Period:         cp.Period,
		Timeline:       cp.Timeline,
		Shared:         cp.Resources.Shared,
		Trust:          matrix,
		Leaderboards:   make(map[string][]analytics.LeaderboardEntry, len(analytics.Metrics)),
		Behaviors:      tracker.BehaviorCounts(),
		SignalSources:  map[string]int{},
		FinalResources: cp.Resources.Agents,
	}

	for _, id := range ids {
		pool := cp.Resources.Agents[id]
		s := AgentSummary{
			ID:         id,
			TimeHours:  pool.TimeRemaining,
			Money:      pool.Money,
			Reputation: pool.Reputation,
		}
		if p, ok := roster.Get(id); ok {
			s.FinancialReturns = pool.Money - p.Endowment.Money
		}
		s.Conflicts, s.Alliances = rel.Counts(id)
		var sum float64
		n := 0
		for src, row := range matrix {
			if src == id {
				continue
			}
			sum += row[id]
			n++
		}
		if n > 0 {
			s.InfluenceIndex = sum / float64(n)
		}
		r.Agents = append(r.Agents, s)
	}

	if lastPeriod > 0 {
		for _, metric := range analytics.Metrics {
			board, err := tracker.Leaderboard(metric, lastPeriod)
			if err == nil {
				r.Leaderboards[metric] = board
			}
		}
	}

	for _, o := range cp.History {
		r.SignalSources[string(o.Signals.Source)]++
		r.Outcomes = append(r.Outcomes, OutcomeSummary{
			EventID:      o.EventID,
			Scenario:     o.Scenario,
			Period:       o.Period,
			SubStep:      o.SubStep,
			Decision:     o.Decision,
			SignalSource: string(o.Signals.Source),
			Conflicts:    o.Conflicts,
			Alliances:    o.Alliances,
			Attempts:     o.Attempts,
		})
	}
	return r
}

func agentIDs(cp *simulation.Checkpoint, roster *agent.Roster) []string {
	ids := roster.IDs()
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	var extra []string
	for id := range cp.Resources.Agents {
		if !seen[id] {
			seen[id] = true
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	return append(ids, extra...)
}

// Export writes report.json and experiment_data.json into dir.
func Export(dir string, r *Report, cp *simulation.Checkpoint) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, "report.json"), r); err != nil {
		return err
	}
	data := map[string]any{
		"run_id":            cp.RunID,
		"variant":           cp.Variant,
		"experiment_data":   cp.Data,
		"scenario_history":  cp.History,
		"metrics":           cp.Metrics,
		"relationship_data": cp.Relationships,
		"final_resources":   cp.Resources,
	}
	return writeJSON(filepath.Join(dir, "experiment_data.json"), data)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
