package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpunion/heirloom/pkg/ledger"
	"github.com/cpunion/heirloom/pkg/types"
)

func openTest(t *testing.T) *History {
	t.Helper()
	h, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestHistory_Allocations(t *testing.T) {
	h := openTest(t)
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, h.AppendAllocation(ledger.HistoryEntry{Agent: "C1", Resource: "time", Amount: 5, Type: ledger.EntryIndividual, At: at}))
	require.NoError(t, h.AppendAllocation(ledger.HistoryEntry{Agent: "C1", Resource: "time", Amount: 2.5, Type: ledger.EntryIndividual, At: at}))
	require.NoError(t, h.AppendAllocation(ledger.HistoryEntry{Agent: "C1", Resource: "time", Amount: 42, Type: ledger.EntryReset, At: at}))

	totals, err := h.AllocationTotals(context.Background(), ledger.EntryIndividual)
	require.NoError(t, err)
	assert.InDelta(t, 7.5, totals["C1"]["time"], 1e-9)
}

func TestHistory_LedgerSink(t *testing.T) {
	h := openTest(t)
	l := ledger.New(ledger.Config{
		Agents: []ledger.Endowment{{Agent: "C1", Pool: ledger.Pool{TimeRemaining: 40, Reputation: 10}}},
		Sink:   h,
	})
	require.NoError(t, l.AllocateIndividual("C1", types.ResourceTime, 8, "meeting"))
	require.Error(t, l.AllocateIndividual("C1", types.ResourceReputation, 50, "too much"))

	totals, err := h.AllocationTotals(context.Background(), ledger.EntryIndividual)
	require.NoError(t, err)
	assert.Equal(t, map[string]map[string]float64{"C1": {"time": 8}}, totals, "rejected allocations are not mirrored")
}

func TestHistory_OutcomeReplacesSameEvent(t *testing.T) {
	h := openTest(t)
	ctx := context.Background()
	sig := types.Signals{
		Source:    types.SourceFallback,
		Conflicts: []types.ConflictRecord{{Involved: []string{"C1", "C2"}, Type: "disagreement", Confidence: 0.4}},
		Trust:     []types.TrustSignal{{Source: "C1", Target: "all", Direction: types.DirectionNegative, Confidence: 0.3}},
	}
	first := types.Outcome{ID: "o1", EventID: "p1w1-the-inheritance", Scenario: "The Inheritance", Period: 1, SubStep: 1, Signals: sig, Timestamp: time.Now()}
	require.NoError(t, h.AppendOutcome(first))

	second := first
	second.ID = "o2"
	second.Signals = types.Signals{Source: types.SourceModel, Behaviors: []types.BehaviorSignal{{Agent: "C3", Type: "leadership", Confidence: 0.7}}}
	require.NoError(t, h.AppendOutcome(second))

	rows, err := h.Outcomes(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "o2", rows[0].ID)
	assert.Equal(t, "model", rows[0].SignalSource)

	counts, err := h.SignalCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"behavior": 1}, counts)
}
