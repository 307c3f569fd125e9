package simulation

import (
	"context"
	"errors"
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
	"github.com/cpunion/heirloom/pkg/governor"
	"github.com/cpunion/heirloom/pkg/llm"
	"github.com/cpunion/heirloom/pkg/timeline"
	"github.com/cpunion/heirloom/pkg/types"
)

var fixedNow = func() time.Time { return time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC) }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testGovernor() *governor.Governor {
	return governor.New(governor.Config{
		HourlyLimit: 10000,
		MaxRetries:  3,
		Logger:      quietLogger(),
		Sleep:       func(context.Context, time.Duration) error { return nil },
	})
}

func newTestExperiment(t *testing.T, dir string, p llm.Provider, opts ...func(*Config)) *Experiment {
	t.Helper()
	cfg := Config{
		RunID:     "run-test",
		OutputDir: dir,
		Provider:  p,
		Governor:  testGovernor(),
		Logger:    quietLogger(),
		Now:       fixedNow,
	}
	for _, o := range opts {
		o(&cfg)
	}
	e, err := New(cfg)
	require.NoError(t, err)
	return e
}

func offline() llm.Provider {
	return llm.NewOfflineProvider(agent.DefaultRoster().IDs())
}

// crashingProvider fails every call about one scenario while armed.
type crashingProvider struct {
	llm.Provider
	scenario string
	armed    bool
}

func (c *crashingProvider) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	if c.armed && strings.Contains(req.Prompt, "## Scenario: "+c.scenario) {
		return llm.Response{}, errors.New("invalid argument: simulated crash")
	}
	return c.Provider.Generate(ctx, req)
}

func TestRunFull_CompletesEveryEvent(t *testing.T) {
	dir := t.TempDir()
	events := &MemoryLogger{}
	e := newTestExperiment(t, dir, offline(), func(c *Config) { c.EventLog = events })

	require.NoError(t, e.RunFull(context.Background()))

	def := timeline.Default()
	sum := e.Timeline()
	assert.Equal(t, len(def.Events), sum.Completed)
	assert.Zero(t, sum.Remaining)
	assert.Len(t, e.History(), len(def.Events))
	assert.Len(t, events.Events(), len(def.Events))

	periods, err := ListCheckpoints(dir)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, periods)

	last, err := LoadCheckpoint(CheckpointPath(dir, 6))
	require.NoError(t, err)
	assert.Equal(t, "run-test", last.RunID)
	assert.Len(t, last.Timeline.CompletedEvents, len(def.Events))
	assert.Contains(t, last.Data, "period_6_decisions")
	assert.Contains(t, last.Data, "period_6_summary")

	for _, o := range e.History() {
		assert.Equal(t, types.SourceFallback, o.Signals.Source, "offline answers carry no JSON")
		assert.Equal(t, 4, o.Attempts)
		assert.NotEmpty(t, o.Decision)
	}
}

func TestRunFull_PoolsStayNonNegative(t *testing.T) {
	e := newTestExperiment(t, t.TempDir(), offline())
	require.NoError(t, e.RunFull(context.Background()))

	for _, id := range e.Ledger().Agents() {
		pool, err := e.Ledger().Status(id)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, pool.TimeRemaining, 0.0, id)
		assert.GreaterOrEqual(t, pool.Reputation, 0.0, id)
	}
	assert.GreaterOrEqual(t, e.Ledger().SharedStatus().SharedBudget, 0.0)
	for src, row := range e.Relationships().Matrix() {
		for dst, v := range row {
			assert.True(t, v >= 0 && v <= 1, "trust %s->%s = %v", src, dst, v)
		}
	}
}

func TestRunEvent_AppliedAtMostOnce(t *testing.T) {
	mock := llm.NewMockProvider().WithFunc(func(req llm.Request) (string, error) {
		return "C1: I disagree with C2 about the plan.", nil
	})
	e := newTestExperiment(t, t.TempDir(), mock, func(c *Config) { c.SkipModelExtraction = true })
	ev := timeline.Default().Events[0]

	first, err := e.RunEvent(context.Background(), ev)
	require.NoError(t, err)
	calls := mock.CallCount()
	pools := e.Ledger().Snapshot().Agents

	second, err := e.RunEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, calls, mock.CallCount(), "completed event must not call the model again")
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, pools, e.Ledger().Snapshot().Agents)
	assert.Len(t, e.History(), 1)
}

func TestRunEvent_CancelledDuringExtractionStaysPending(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mock := llm.NewMockProvider().WithFunc(func(req llm.Request) (string, error) {
		if strings.Contains(req.Prompt, "Relationship Signal Analysis") {
			cancel()
			return "", context.Canceled
		}
		return "C1: I disagree with C2 about the plan.", nil
	})
	e := newTestExperiment(t, dir, mock)
	before := e.Relationships().Snapshot()
	ev := timeline.Default().Events[0]

	_, err := e.RunEvent(ctx, ev)
	var evErr *EventError
	require.ErrorAs(t, err, &evErr)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ev.ID, evErr.EventID)

	assert.Zero(t, e.Timeline().Completed)
	assert.Empty(t, e.History())
	assert.Equal(t, before, e.Relationships().Snapshot())
	periods, err := ListCheckpoints(dir)
	require.NoError(t, err)
	assert.Empty(t, periods)

	out, err := e.RunEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, ev.ID, out.EventID)
	assert.Equal(t, 1, e.Timeline().Completed)
}

func TestRunEvent_CheckpointFailureCarriesEventContext(t *testing.T) {
	dir := t.TempDir()
	// A plain file where the state directory belongs makes every save fail.
	require.NoError(t, os.WriteFile(filepath.Dir(CheckpointPath(dir, 1)), []byte("x"), 0o644))
	e := newTestExperiment(t, dir, offline(), func(c *Config) { c.SkipModelExtraction = true })
	ev := timeline.Default().Events[0]

	_, err := e.RunEvent(context.Background(), ev)
	var evErr *EventError
	require.ErrorAs(t, err, &evErr)
	assert.Equal(t, ev.ID, evErr.EventID)
	assert.Equal(t, ev.Title, evErr.Title)
	assert.Equal(t, ev.Period, evErr.Period)
	assert.Equal(t, len(agent.DefaultRoster().IDs()), evErr.Attempts)

	var ioErr *CheckpointIOError
	assert.ErrorAs(t, err, &ioErr)
}

func TestRunEvent_FailureSurfacesEventError(t *testing.T) {
	dir := t.TempDir()
	mock := llm.NewMockProvider("C1: fine").WithErrors(errors.New("invalid argument: bad request"))
	e := newTestExperiment(t, dir, mock)
	ev := timeline.Default().Events[0]

	_, err := e.RunEvent(context.Background(), ev)
	require.Error(t, err)

	var evErr *EventError
	require.ErrorAs(t, err, &evErr)
	assert.Equal(t, ev.ID, evErr.EventID)
	assert.Equal(t, ev.Title, evErr.Title)
	assert.Equal(t, 1, evErr.Period)
	assert.Equal(t, 1, evErr.Attempts)

	var nonRetryable *governor.NonRetryableCallError
	assert.ErrorAs(t, err, &nonRetryable)

	periods, err := ListCheckpoints(dir)
	require.NoError(t, err)
	assert.Empty(t, periods, "a failed event must not write a checkpoint")
	assert.Empty(t, e.History())
}

func TestRunEvent_RetriesTransientFailure(t *testing.T) {
	mock := llm.NewMockProvider("C1: agreed").WithErrors(&llm.ResponseError{Code: "UNAVAILABLE", Message: "overloaded"})
	e := newTestExperiment(t, t.TempDir(), mock, func(c *Config) { c.SkipModelExtraction = true })

	out, err := e.RunEvent(context.Background(), timeline.Default().Events[0])
	require.NoError(t, err)
	assert.Equal(t, 5, out.Attempts, "four turns plus one retry")
}

func TestRunEvent_ConflictsBelowFloorAreDropped(t *testing.T) {
	mock := llm.NewMockProvider().WithFunc(func(req llm.Request) (string, error) {
		if strings.Contains(req.Prompt, "Relationship Signal Analysis") {
			return `[{"category":"conflict","type":"vision","involved":["C1","C2"],"severity":"high","confidence":0.9},
				{"category":"alliance","type":"legal","involved":["C3","C4"],"strength":"weak","confidence":0.55},
				{"category":"trust","source":"C1","target":"C3","direction":"negative","confidence":0.8}]`, nil
		}
		return "talk", nil
	})
	e := newTestExperiment(t, t.TempDir(), mock, func(c *Config) { c.ConfidenceFloor = 0.6 })
	before := e.Relationships().Trust("C1", "C3")

	out, err := e.RunEvent(context.Background(), timeline.Default().Events[0])
	require.NoError(t, err)
	assert.Equal(t, types.SourceModel, out.Signals.Source)
	assert.Equal(t, 1, out.Conflicts)
	assert.Equal(t, 0, out.Alliances)

	c1, _ := e.Relationships().Get("C1")
	require.Len(t, c1.Conflicts, 1)
	assert.Equal(t, []string{"C2"}, c1.Conflicts[0].Involved)
	assert.InDelta(t, before-0.15*0.8, e.Relationships().Trust("C1", "C3"), 1e-9)
}

func TestRunResume_MatchesUninterruptedRun(t *testing.T) {
	ctx := context.Background()

	straight := newTestExperiment(t, t.TempDir(), offline())
	require.NoError(t, straight.RunFull(ctx))

	dir := t.TempDir()
	crash := &crashingProvider{Provider: offline(), scenario: "Hidden Treasure Discovery", armed: true}
	interrupted := newTestExperiment(t, dir, crash)
	err := interrupted.RunFull(ctx)
	var evErr *EventError
	require.ErrorAs(t, err, &evErr)
	assert.Equal(t, 4, evErr.Period)

	latest, err := LatestCheckpoint(dir)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 3, latest.Period)

	resumed := newTestExperiment(t, dir, offline())
	require.NoError(t, resumed.RunResume(ctx))

	assert.Equal(t, straight.Ledger().Snapshot().Agents, resumed.Ledger().Snapshot().Agents)
	assert.Equal(t, straight.Ledger().SharedStatus(), resumed.Ledger().SharedStatus())
	assert.Equal(t, straight.Relationships().Snapshot(), resumed.Relationships().Snapshot())
	assert.Equal(t, straight.Snapshot().Timeline.CompletedEvents, resumed.Snapshot().Timeline.CompletedEvents)
	assert.Len(t, resumed.History(), len(straight.History()))
}

func TestRunResume_InsideIncompletePeriod(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	// Competing Visions is the second event of period 1.
	crash := &crashingProvider{Provider: offline(), scenario: "Competing Visions", armed: true}
	first := newTestExperiment(t, dir, crash)
	require.Error(t, first.RunFull(ctx))

	cp, err := LoadCheckpoint(CheckpointPath(dir, 1))
	require.NoError(t, err)
	assert.Len(t, cp.Timeline.CompletedEvents, 1)

	crash.armed = false
	mock := llm.NewMockProvider().WithFunc(func(req llm.Request) (string, error) {
		r, err := crash.Generate(context.Background(), req)
		return r.Text, err
	})
	resumed := newTestExperiment(t, dir, mock)
	require.NoError(t, resumed.RunResume(ctx))
	assert.Equal(t, 7, resumed.Timeline().Completed)
	for _, req := range mock.Calls {
		assert.NotContains(t, req.Prompt, "## Scenario: The Inheritance", "completed event re-run")
	}
}

func TestRunResume_NoCheckpoint(t *testing.T) {
	e := newTestExperiment(t, t.TempDir(), offline())
	err := e.RunResume(context.Background())
	assert.ErrorIs(t, err, ErrNoCheckpoint)
}

func TestRunResume_FinishedIsNoop(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, newTestExperiment(t, dir, offline()).RunFull(context.Background()))

	mock := llm.NewMockProvider("C1: unused")
	again := newTestExperiment(t, dir, mock)
	require.NoError(t, again.RunResume(context.Background()))
	assert.Zero(t, mock.CallCount())
}

func TestRunSinglePeriod_SeedsFromPreviousAndSavesToOwn(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	require.NoError(t, newTestExperiment(t, dir, offline()).RunSinglePeriod(ctx, 1))
	p1, err := LoadCheckpoint(CheckpointPath(dir, 1))
	require.NoError(t, err)

	second := newTestExperiment(t, dir, offline())
	require.NoError(t, second.RunSinglePeriod(ctx, 2))

	p2, err := LoadCheckpoint(CheckpointPath(dir, 2))
	require.NoError(t, err)
	assert.Equal(t, 2, p2.Period)
	assert.Subset(t, p2.Timeline.CompletedEvents, p1.Timeline.CompletedEvents)
	assert.Len(t, p2.Timeline.CompletedEvents, len(p1.Timeline.CompletedEvents)+1)
	assert.Len(t, p2.History, 3)

	// Period 1's file is untouched by the period 2 run.
	again, err := LoadCheckpoint(CheckpointPath(dir, 1))
	require.NoError(t, err)
	assert.Equal(t, p1.Timeline, again.Timeline)
}

func TestRunSinglePeriod_MissingPreviousStartsFresh(t *testing.T) {
	dir := t.TempDir()
	e := newTestExperiment(t, dir, offline())
	require.NoError(t, e.RunSinglePeriod(context.Background(), 3))

	cp, err := LoadCheckpoint(CheckpointPath(dir, 3))
	require.NoError(t, err)
	assert.Equal(t, []string{timeline.New(timeline.Default()).EventsFor(3)[0].ID}, cp.Timeline.CompletedEvents)

	_, err = os.Stat(CheckpointPath(dir, 2))
	assert.True(t, os.IsNotExist(err))
}

func TestRunSinglePeriod_OutOfRange(t *testing.T) {
	e := newTestExperiment(t, t.TempDir(), offline())
	assert.Error(t, e.RunSinglePeriod(context.Background(), 0))
	assert.Error(t, e.RunSinglePeriod(context.Background(), 7))
}

func TestRunFull_CancelledDuringPause(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	e := newTestExperiment(t, dir, offline(), func(c *Config) {
		c.PeriodPause = time.Hour
		c.Sleep = func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		}
	})

	err := e.RunFull(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	cp, err := LatestCheckpoint(dir)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 1, cp.Period)
	assert.Len(t, cp.Timeline.CompletedEvents, 2)
}

func TestNew_RejectsBadConfig(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{Provider: offline(), ImpactMode: "lottery"})
	assert.Error(t, err)
}

func TestNew_AlteredVariantFromSelfInterest(t *testing.T) {
	mock := llm.NewMockProvider("C1: mine")
	e := newTestExperiment(t, t.TempDir(), mock, func(c *Config) {
		c.SelfInterest = true
		c.SkipModelExtraction = true
	})
	_, err := e.RunEvent(context.Background(), timeline.Default().Events[0])
	require.NoError(t, err)

	assert.Equal(t, VariantAltered, e.Snapshot().Variant)
	require.NotEmpty(t, mock.Calls)
	assert.Contains(t, mock.Calls[0].System, agent.SelfInterestDirective)
}
