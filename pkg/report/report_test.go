package report

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpunion/heirloom/pkg/agent"
	"github.com/cpunion/heirloom/pkg/analytics"
	"github.com/cpunion/heirloom/pkg/governor"
	"github.com/cpunion/heirloom/pkg/ledger"
	"github.com/cpunion/heirloom/pkg/llm"
	"github.com/cpunion/heirloom/pkg/relationship"
	"github.com/cpunion/heirloom/pkg/simulation"
	"github.com/cpunion/heirloom/pkg/types"
)

var now = time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC)

func sampleCheckpoint() *simulation.Checkpoint {
	return &simulation.Checkpoint{
		RunID:   "run-1",
		Variant: simulation.VariantBase,
		Period:  2,
		Resources: ledger.State{
			Agents: map[string]ledger.Pool{
				"C1": {TimeRemaining: 30, Money: 5500, Reputation: 12},
				"C2": {TimeRemaining: 40, Money: 2800, Reputation: 15},
				"C3": {TimeRemaining: 20, Money: 2000, Reputation: 5},
				"C4": {TimeRemaining: 35, Money: 4000, Reputation: 8},
			},
			Shared: ledger.SharedPool{SharedBudget: 98000, GalleryReputation: 3},
		},
		Relationships: map[string]relationship.Dynamics{
			"C1": {
				TrustLevels: map[string]float64{"C2": 0.9},
				Conflicts:   []types.ConflictRecord{{Involved: []string{"C3"}, Type: "vision"}},
			},
		},
		History: []types.Outcome{
			{EventID: "p1w1", Scenario: "The Inheritance", Period: 1, SubStep: 1, Signals: types.Signals{Source: types.SourceModel}, Conflicts: 1},
			{EventID: "p1w3", Scenario: "Competing Visions", Period: 1, SubStep: 3, Signals: types.Signals{Source: types.SourceFallback}},
		},
		Metrics: analytics.State{
			Metrics: []analytics.QuantitativeMetrics{
				{Agent: "C1", Period: 1, FinancialReturns: 500},
				{Agent: "C2", Period: 1, FinancialReturns: -200},
			},
		},
		LastSaved: now,
	}
}

func TestBuild(t *testing.T) {
	r := Build(sampleCheckpoint(), nil, now)

	require.Len(t, r.Agents, 4)
	assert.Equal(t, "C1", r.Agents[0].ID)
	assert.InDelta(t, 500, r.Agents[0].FinancialReturns, 1e-9)
	assert.InDelta(t, -200, r.Agents[1].FinancialReturns, 1e-9)
	assert.Equal(t, 1, r.Agents[0].Conflicts)

	assert.InDelta(t, 0.9, r.Trust["C1"]["C2"], 1e-9)
	assert.Len(t, r.Trust["C1"], 3)
	assert.NotContains(t, r.Trust["C1"], "C1")

	board := r.Leaderboards["financial_returns"]
	require.Len(t, board, 2)
	assert.Equal(t, "C1", board[0].Agent)

	assert.Equal(t, map[string]int{"model": 1, "fallback": 1}, r.SignalSources)
	assert.Len(t, r.Outcomes, 2)
}

func TestBuild_NoMetrics(t *testing.T) {
	cp := sampleCheckpoint()
	cp.Metrics = analytics.State{}
	r := Build(cp, agent.DefaultRoster(), now)
	assert.Empty(t, r.Leaderboards)
}

func TestExport(t *testing.T) {
	dir := t.TempDir()
	cp := sampleCheckpoint()
	require.NoError(t, Export(dir, Build(cp, nil, now), cp))

	data, err := os.ReadFile(filepath.Join(dir, "report.json"))
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "run-1", got["run_id"])
	assert.Contains(t, got, "trust_matrix")

	data, err = os.ReadFile(filepath.Join(dir, "experiment_data.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Contains(t, got, "scenario_history")

	_, err = os.Stat(filepath.Join(dir, "report.json.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestRender(t *testing.T) {
	out := Render(Build(sampleCheckpoint(), nil, now))
	for _, want := range []string{"run-1", "C4", "Trust", "The Inheritance", "shared budget $98000"} {
		assert.Contains(t, out, want)
	}
}

func TestBuild_FromFullRun(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e, err := simulation.New(simulation.Config{
		RunID:     "full",
		OutputDir: t.TempDir(),
		Provider:  llm.NewOfflineProvider(agent.DefaultRoster().IDs()),
		Governor: governor.New(governor.Config{
			HourlyLimit: 10000,
			Logger:      logger,
			Sleep:       func(context.Context, time.Duration) error { return nil },
		}),
		Logger: logger,
		Now:    func() time.Time { return now },
	})
	require.NoError(t, err)
	require.NoError(t, e.RunFull(context.Background()))

	r := Build(e.Snapshot(), nil, now)
	assert.Len(t, r.Outcomes, 7)
	assert.NotEmpty(t, r.Leaderboards["resource_efficiency"])
	for _, a := range r.Agents {
		assert.GreaterOrEqual(t, a.Money, 0.0)
		assert.GreaterOrEqual(t, a.Reputation, 0.0)
	}
	assert.True(t, strings.Contains(Render(r), "full"))
}
