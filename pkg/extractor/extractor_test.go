package extractor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpunion/heirloom/pkg/types"
)

var roster = []string{"C1", "C2", "C3", "C4"}

func callReturning(answer string, err error) CallFunc {
	return func(ctx context.Context, prompt string) (string, error) {
		return answer, err
	}
}

func TestFallback_ConflictWithinWindow(t *testing.T) {
	raw := strings.Join([]string{
		"C1: I think we should sell the paintings.",
		"C2: No, we keep them in the gallery.",
		"There is a clear disagreement here.",
	}, "\n")

	e := New(Config{Agents: roster})
	sig := e.Fallback(raw, "The Inheritance", 1)

	require.Len(t, sig.Conflicts, 1)
	c := sig.Conflicts[0]
	assert.Equal(t, []string{"C1", "C2"}, c.Involved)
	assert.GreaterOrEqual(t, c.Confidence, 0.3)
	assert.LessOrEqual(t, c.Confidence, 0.4)
	assert.Equal(t, types.SourceFallback, sig.Source)
	assert.Equal(t, "The Inheritance", c.Scenario)
	assert.Equal(t, 1, c.Period)
}

func TestFallback_OutsideWindowIgnored(t *testing.T) {
	raw := strings.Join([]string{
		"C1 opened the meeting.",
		"",
		"",
		"C2 spoke about the budget.",
		"A disagreement followed.",
	}, "\n")

	sig := New(Config{Agents: roster, Window: 2}).Fallback(raw, "s", 1)
	assert.Empty(t, sig.Conflicts, "C1 is three lines away and must not count")
}

func TestFallback_DuplicateHitsMerge(t *testing.T) {
	raw := "C1 and C3 disagree about the roof.\nC3 and C1 had another dispute."

	sig := New(Config{Agents: roster}).Fallback(raw, "s", 2)
	assert.Len(t, sig.Conflicts, 1)
}

func TestFallback_ConfidenceNeverAboveThreshold(t *testing.T) {
	raw := strings.Join([]string{
		"C1: I support C2 on this, let's collaborate.",
		"C3: I don't trust C4 with the money.",
		"C4: I want my share, and I trust C1.",
		"C2: I propose a compromise.",
		"C3 and C4 clash again.",
	}, "\n")

	sig := New(Config{Agents: roster}).Fallback(raw, "s", 3)
	require.False(t, sig.Empty())
	for _, c := range sig.Conflicts {
		assert.LessOrEqual(t, c.Confidence, 0.5)
	}
	for _, a := range sig.Alliances {
		assert.LessOrEqual(t, a.Confidence, 0.5)
	}
	for _, tr := range sig.Trust {
		assert.LessOrEqual(t, tr.Confidence, 0.5)
	}
	for _, b := range sig.Behaviors {
		assert.LessOrEqual(t, b.Confidence, 0.5)
	}
}

func TestFallback_TrustDirection(t *testing.T) {
	sig := New(Config{Agents: roster, Window: 0}).Fallback("C3: I don't trust C4 with the money.", "s", 1)

	require.Len(t, sig.Trust, 1)
	assert.Equal(t, types.TrustSignal{
		Source:     "C3",
		Target:     "C4",
		Direction:  types.DirectionNegative,
		Reason:     `keyword "don't trust" on line 1`,
		Confidence: FallbackSingleConfidence,
	}, sig.Trust[0])
}

func TestFallback_SingleAgentTrustBroadcasts(t *testing.T) {
	sig := New(Config{Agents: roster}).Fallback("C2 says the family can be trusted.", "s", 1)

	require.Len(t, sig.Trust, 1)
	assert.Equal(t, "C2", sig.Trust[0].Source)
	assert.Equal(t, types.AllAgents, sig.Trust[0].Target)
	assert.Equal(t, types.DirectionPositive, sig.Trust[0].Direction)
}

func TestFallback_PairNeedsTwoAgents(t *testing.T) {
	sig := New(Config{Agents: roster}).Fallback("C1 wants to collaborate with the museum.", "s", 1)
	assert.Empty(t, sig.Alliances)
}

func TestFallback_Aliases(t *testing.T) {
	e := New(Config{
		Agents:  roster,
		Aliases: map[string]string{"Marcus": "C1", "Elena": "C2", "Nobody": "C9"},
	})
	sig := e.Fallback("Marcus and elena form a coalition.", "s", 1)

	require.Len(t, sig.Alliances, 1)
	assert.Equal(t, []string{"C1", "C2"}, sig.Alliances[0].Involved)
}

func TestFallback_ConfidenceOverride(t *testing.T) {
	sig := New(Config{Agents: roster, FallbackConfidence: 0.35}).Fallback("C1 and C2 argue.", "s", 1)
	require.Len(t, sig.Conflicts, 1)
	assert.Equal(t, 0.35, sig.Conflicts[0].Confidence)
}

func TestExtract_ModelPathThresholdAndRoster(t *testing.T) {
	answer := "Here is my analysis:\n```json\n[" +
		`{"category":"conflict","type":"strategy","involved":["C1","C2"],"severity":"high","confidence":0.9},` +
		`{"category":"conflict","type":"money","involved":["C3","C4"],"confidence":0.5},` +
		`{"category":"alliance","type":"coalition","involved":["C2","Uncle Bob"],"confidence":0.8},` +
		`{"category":"alliance","type":"coalition","involved":["C3","C4","Uncle Bob"],"confidence":0.7},` +
		`{"category":"trust","source":"C1","target":"all","direction":"negative","confidence":0.6},` +
		`{"category":"trust","source":"C1","target":"C1","direction":"positive","confidence":0.9},` +
		`{"category":"behavior","agent":"C4","type":"self_interest","description":"pushes for a bigger cut","confidence":0.75}` +
		"]\n```\nLet me know if you need more."

	var gotPrompt string
	e := New(Config{
		Agents: roster,
		Call: func(ctx context.Context, prompt string) (string, error) {
			gotPrompt = prompt
			return answer, nil
		},
	})
	sig := e.Extract(context.Background(), "transcript text", "Competing Visions", 1)

	assert.Equal(t, types.SourceModel, sig.Source)
	assert.Contains(t, gotPrompt, "transcript text")
	assert.Contains(t, gotPrompt, "C1, C2, C3, C4")

	require.Len(t, sig.Conflicts, 1, "confidence 0.5 is not above the threshold")
	assert.Equal(t, "strategy", sig.Conflicts[0].Type)

	require.Len(t, sig.Alliances, 1, "unknown parties are removed before the two-agent check")
	assert.Equal(t, []string{"C3", "C4"}, sig.Alliances[0].Involved)

	require.Len(t, sig.Trust, 1)
	assert.Equal(t, types.AllAgents, sig.Trust[0].Target)

	require.Len(t, sig.Behaviors, 1)
	assert.Equal(t, "C4", sig.Behaviors[0].Agent)
}

func TestExtract_CallFailureFallsBack(t *testing.T) {
	e := New(Config{Agents: roster, Call: callReturning("", errors.New("503 unavailable"))})
	sig := e.Extract(context.Background(), "C1 and C2 disagree.", "s", 1)

	assert.Equal(t, types.SourceFallback, sig.Source)
	assert.Len(t, sig.Conflicts, 1)
}

func TestExtract_UnparseableFallsBack(t *testing.T) {
	for _, answer := range []string{
		"I could not find any signals.",
		"[{\"category\": \"conflict\", broken",
		"] backwards [",
	} {
		e := New(Config{Agents: roster, Call: callReturning(answer, nil)})
		sig := e.Extract(context.Background(), "C1 and C2 disagree.", "s", 1)
		assert.Equal(t, types.SourceFallback, sig.Source, "answer %q", answer)
	}
}

func TestExtract_EmptyModelArrayIsNotAFailure(t *testing.T) {
	e := New(Config{Agents: roster, Call: callReturning("[]", nil)})
	sig := e.Extract(context.Background(), "C1 and C2 disagree.", "s", 1)

	assert.Equal(t, types.SourceModel, sig.Source)
	assert.True(t, sig.Empty())
}

func TestExtract_NoCallUsesFallback(t *testing.T) {
	sig := New(Config{Agents: roster}).Extract(context.Background(), "C1 and C2 disagree.", "s", 1)
	assert.Equal(t, types.SourceFallback, sig.Source)
}

func TestParseSignals_Errors(t *testing.T) {
	_, err := ParseSignals("no array")
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Nil(t, perr.Err)

	_, err = ParseSignals("[1, 2,]")
	require.ErrorAs(t, err, &perr)
	assert.NotNil(t, perr.Err)

	items, err := ParseSignals("prefix [ {\"category\":\"trust\"} ] suffix")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}
