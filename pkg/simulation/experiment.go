// Package simulation drives an experiment through its timeline: each
// scenario event runs a governed conversation between the personas, the
// transcript is mined for relationship signals, state is updated and a
// checkpoint is written.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cpunion/heirloom/pkg/agent"
	"github.com/cpunion/heirloom/pkg/analytics"
	"github.com/cpunion/heirloom/pkg/extractor"
	"github.com/cpunion/heirloom/pkg/governor"
	"github.com/cpunion/heirloom/pkg/ledger"
	"github.com/cpunion/heirloom/pkg/llm"
	"github.com/cpunion/heirloom/pkg/logging"
	"github.com/cpunion/heirloom/pkg/relationship"
	"github.com/cpunion/heirloom/pkg/timeline"
	"github.com/cpunion/heirloom/pkg/types"
)

// Variants of an experiment.
const (
	VariantBase    = "base"
	VariantAltered = "altered"
)

// ErrNoCheckpoint is returned by RunResume when there is nothing to resume.
var ErrNoCheckpoint = errors.New("no checkpoint to resume from")

// EventError reports a scenario event that could not be completed.
type EventError struct {
	Period   int
	EventID  string
	Title    string
	Attempts int
	Err      error
}

func (e *EventError) Error() string {
	return fmt.Sprintf("event %s (%q, period %d) failed after %d attempts: %v", e.EventID, e.Title, e.Period, e.Attempts, e.Err)
}

func (e *EventError) Unwrap() error { return e.Err }

// OutcomeSink receives every completed outcome.
type OutcomeSink interface {
	AppendOutcome(types.Outcome) error
}

// Config configures an Experiment.
type Config struct {
	RunID        string
	Variant      string // VariantBase or VariantAltered (default from SelfInterest)
	SelfInterest bool   // Append the self-interest directive to every persona
	OutputDir    string // Checkpoints go to <OutputDir>/state
	ImpactMode   ImpactMode

	// ConfidenceFloor drops conflicts and alliances below it (default 0.5).
	ConfidenceFloor float64
	// SkipModelExtraction uses only the keyword heuristic for signals.
	SkipModelExtraction bool

	ScenarioPause time.Duration // Pause between events in a period
	PeriodPause   time.Duration // Pause between periods

	Roster       *agent.Roster
	Timeline     *timeline.Definition
	Provider     llm.Provider
	Governor     *governor.Governor
	Relationship relationship.Config
	Extraction   extractor.Config // Agents, Aliases, Call and Logger are filled in
	Shared       *ledger.SharedPool

	HistorySink ledger.HistorySink
	Outcomes    OutcomeSink
	EventLog    EventLogger
	Logger      *slog.Logger
	Now         func() time.Time
	Sleep       func(context.Context, time.Duration) error
}

// Experiment composes the governor, ledger, relationship state, extractor
// and scheduler. Its methods are safe for concurrent use but runs are
// serialized.
type Experiment struct {
	mu sync.Mutex

	cfg      Config
	runID    string
	personas []agent.Persona // turn order
	roster   *agent.Roster
	provider llm.Provider
	gov      *governor.Governor
	ledger   *ledger.Ledger
	rel      *relationship.State
	ext      *extractor.Extractor
	sched    *timeline.Scheduler
	tracker  *analytics.Tracker

	history      []types.Outcome
	data         map[string]any
	initialMoney map[string]float64
	usage        llm.Usage

	logger *slog.Logger
	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
}

// New builds an experiment in its initial state.
func New(cfg Config) (*Experiment, error) {
	if cfg.Provider == nil {
		return nil, errors.New("simulation: provider is required")
	}
	if cfg.Roster == nil {
		cfg.Roster = agent.DefaultRoster()
	}
	if err := cfg.Roster.Validate(); err != nil {
		return nil, fmt.Errorf("simulation: %w", err)
	}
	if cfg.Timeline == nil {
		cfg.Timeline = timeline.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	if cfg.Governor == nil {
		gc := governor.DefaultConfig()
		gc.Logger = cfg.Logger
		cfg.Governor = governor.New(gc)
	}
	if cfg.ImpactMode == "" {
		cfg.ImpactMode = ImpactEven
	}
	if !cfg.ImpactMode.Valid() {
		return nil, fmt.Errorf("simulation: unknown impact mode %q", cfg.ImpactMode)
	}
	if cfg.ConfidenceFloor <= 0 {
		cfg.ConfidenceFloor = relationship.DefaultConfidenceFloor
	}
	if cfg.Variant == "" {
		cfg.Variant = VariantBase
		if cfg.SelfInterest {
			cfg.Variant = VariantAltered
		}
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "output"
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}

	e := &Experiment{
		cfg:      cfg,
		runID:    cfg.RunID,
		personas: agent.TurnOrder(cfg.Roster),
		roster:   cfg.Roster,
		provider: cfg.Provider,
		gov:      cfg.Governor,
		sched:    timeline.New(cfg.Timeline),
		tracker:  analytics.NewTracker(),
		data:     map[string]any{},
		logger:   cfg.Logger.With("run_id", cfg.RunID),
		now:      cfg.Now,
		sleep:    cfg.Sleep,
	}

	shared := ledger.DefaultSharedPool()
	if cfg.Shared != nil {
		shared = *cfg.Shared
	}
	e.ledger = ledger.New(ledger.Config{
		Agents: endowments(cfg.Roster.Personas),
		Shared: shared,
		Sink:   cfg.HistorySink,
		Logger: e.logger,
		Now:    cfg.Now,
	})
	e.initialMoney = make(map[string]float64, len(cfg.Roster.Personas))
	for _, p := range cfg.Roster.Personas {
		e.initialMoney[p.ID] = p.Endowment.Money
	}

	rc := cfg.Relationship
	if rc.Seeds == nil {
		rc.Seeds = cfg.Roster.TrustSeeds()
	}
	if rc.Logger == nil {
		rc.Logger = e.logger
	}
	e.rel = relationship.New(cfg.Roster.IDs(), rc)

	xc := cfg.Extraction
	xc.Agents = cfg.Roster.IDs()
	if xc.Aliases == nil {
		xc.Aliases = cfg.Roster.Aliases()
	}
	if xc.Logger == nil {
		xc.Logger = e.logger
	}
	if xc.Call == nil && !cfg.SkipModelExtraction {
		xc.Call = e.analyze
	}
	e.ext = extractor.New(xc)

	return e, nil
}

func (e *Experiment) RunID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runID
}

func (e *Experiment) OutputDir() string                  { return e.cfg.OutputDir }
func (e *Experiment) Ledger() *ledger.Ledger             { return e.ledger }
func (e *Experiment) Relationships() *relationship.State { return e.rel }
func (e *Experiment) Tracker() *analytics.Tracker        { return e.tracker }

// Timeline returns a summary of the scheduler position and progress.
func (e *Experiment) Timeline() timeline.Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sched.Summary()
}

// History returns the outcomes recorded so far.
func (e *Experiment) History() []types.Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]types.Outcome(nil), e.history...)
}

// Usage returns the token usage accumulated by successful calls.
func (e *Experiment) Usage() llm.Usage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.usage
}

// Snapshot captures the current state as a checkpoint without writing it.
func (e *Experiment) Snapshot() *Checkpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked(min(e.sched.Position().Period, e.sched.MaxPeriod()))
}

// RunEvent runs one scenario event end to end. An event that is already
// complete is not run again; its recorded outcome is returned.
func (e *Experiment) RunEvent(ctx context.Context, ev types.ScenarioEvent) (types.Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runEventLocked(ctx, ev)
}

// RunFull runs every remaining period from the current position.
func (e *Experiment) RunFull(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.logger.Info("starting experiment",
		"variant", e.cfg.Variant,
		"model", e.provider.Name(),
		"agents", len(e.personas),
		"periods", e.sched.MaxPeriod())
	return e.runPeriodsLocked(ctx, max(e.sched.Position().Period, 1))
}

// RunSinglePeriod runs period p alone. If p's own checkpoint exists and is
// incomplete the run continues from it; otherwise state is seeded from
// p-1's checkpoint. The result is saved to p's checkpoint.
func (e *Experiment) RunSinglePeriod(ctx context.Context, p int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if p < 1 || p > e.sched.MaxPeriod() {
		return fmt.Errorf("period %d out of range 1..%d", p, e.sched.MaxPeriod())
	}

	own, err := e.loadIfExists(p)
	if err != nil {
		return err
	}
	switch {
	case own != nil && !e.checkpointComplete(own, p):
		e.logger.Info("continuing incomplete period", "period", p, "completed_events", len(own.Timeline.CompletedEvents))
		e.restoreLocked(own)
	case p == 1:
		e.logger.Info("starting period 1 from initial state")
	default:
		prev, err := e.loadIfExists(p - 1)
		if err != nil {
			return err
		}
		if prev == nil {
			e.logger.Warn("no checkpoint for previous period, starting from initial state", "period", p, "previous", p-1)
		} else {
			e.logger.Info("seeding from previous period", "period", p, "previous", p-1)
			e.restoreLocked(prev)
		}
	}
	return e.runPeriodLocked(ctx, p)
}

// RunResume continues from the latest checkpoint. A complete period resumes
// at the next one; resuming a finished experiment does nothing.
func (e *Experiment) RunResume(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, err := LatestCheckpoint(e.cfg.OutputDir)
	if err != nil {
		return err
	}
	if cp == nil {
		return fmt.Errorf("%w in %s", ErrNoCheckpoint, e.cfg.OutputDir)
	}
	e.restoreLocked(cp)

	start := cp.Period
	if e.sched.PeriodComplete(start) {
		start++
	}
	if start > e.sched.MaxPeriod() {
		e.logger.Info("experiment already complete", "last_period", cp.Period)
		return nil
	}
	e.logger.Info("resuming experiment", "from_period", start, "completed_events", len(cp.Timeline.CompletedEvents))
	return e.runPeriodsLocked(ctx, start)
}

func (e *Experiment) runPeriodsLocked(ctx context.Context, start int) error {
	last := e.sched.MaxPeriod()
	for p := start; p <= last; p++ {
		if err := e.runPeriodLocked(ctx, p); err != nil {
			return err
		}
		if p < last {
			if err := e.pause(ctx, e.cfg.PeriodPause, "period"); err != nil {
				return err
			}
		}
	}
	e.logger.Info("experiment complete", "events", len(e.history), "total_tokens", e.usage.TotalTokens)
	return nil
}

func (e *Experiment) runPeriodLocked(ctx context.Context, p int) error {
	events := e.sched.EventsFor(p)
	e.logger.Info("starting period", "period", p, "events", len(events), "pending", len(e.sched.Pending(p)))

	ran := 0
	for _, ev := range events {
		if e.sched.IsComplete(ev.ID) {
			e.logger.Debug("skipping completed event", "event", ev.ID)
			continue
		}
		if ran > 0 {
			if err := e.pause(ctx, e.cfg.ScenarioPause, "scenario"); err != nil {
				return err
			}
		}
		if _, err := e.runEventLocked(ctx, ev); err != nil {
			return err
		}
		ran++
	}

	e.summarizePeriod(p)
	if crossed := e.sched.AdvanceTo(p+1, 1); crossed > 0 && !e.sched.Done() {
		e.ledger.ResetTime(e.roster.Quotas())
	}
	if err := e.saveCheckpointLocked(p); err != nil {
		return err
	}
	e.logger.Info("period complete", "period", p, "ran", ran)
	return nil
}

func (e *Experiment) runEventLocked(ctx context.Context, ev types.ScenarioEvent) (types.Outcome, error) {
	if e.sched.IsComplete(ev.ID) {
		e.logger.Info("event already complete", "event", ev.ID)
		for _, o := range e.history {
			if o.EventID == ev.ID {
				return o, nil
			}
		}
		return types.Outcome{EventID: ev.ID, Scenario: ev.Title, Period: ev.Period, SubStep: ev.SubStep}, nil
	}
	if err := ctx.Err(); err != nil {
		return types.Outcome{}, err
	}

	if crossed := e.sched.AdvanceTo(ev.Period, ev.SubStep); crossed > 0 {
		e.ledger.ResetTime(e.roster.Quotas())
		e.logger.Debug("weekly time reset", "period", ev.Period, "sub_step", ev.SubStep, "crossed", crossed)
	}

	start := e.now()
	usageBefore := e.usage
	logged := EventLog{
		Timestamp: start,
		RunID:     e.runID,
		Variant:   e.cfg.Variant,
		Period:    ev.Period,
		SubStep:   ev.SubStep,
		EventID:   ev.ID,
		Title:     ev.Title,
		Model:     e.provider.Name(),
	}
	e.logger.Info("running scenario", "event", ev.ID, "title", ev.Title, "period", ev.Period, "sub_step", ev.SubStep)

	hist := e.historicalContext()
	turns := make([]types.Turn, 0, len(e.personas))
	attempts := 0
	for _, p := range e.personas {
		prompt := agent.TurnPrompt(p, ev, hist, turns)
		logged.PromptChars += len(prompt)
		e.logger.Log(ctx, logging.LevelTrace, "turn prompt", "event", ev.ID, "agent", p.ID, "prompt", prompt)

		resp, n, err := e.generate(ctx, "turn:"+p.ID, llm.Request{
			System: agent.Instruction(p, e.cfg.SelfInterest),
			Prompt: prompt,
		})
		attempts += n
		if err != nil {
			evErr := &EventError{Period: ev.Period, EventID: ev.ID, Title: ev.Title, Attempts: attempts, Err: err}
			logged.Status = "failed"
			logged.Attempts = attempts
			logged.Error = err.Error()
			logged.DurationMS = e.now().Sub(start).Milliseconds()
			e.logEvent(logged)
			e.logger.Error("scenario failed", "event", ev.ID, "agent", p.ID, "attempts", attempts, "err", err)
			return types.Outcome{}, evErr
		}
		e.logger.Log(ctx, logging.LevelTrace, "turn reply", "event", ev.ID, "agent", p.ID, "reply", resp.Text)
		turns = append(turns, types.Turn{Agent: p.ID, Role: p.Role, Stage: string(p.Stage), Output: resp.Text})
	}

	raw := agent.Transcript(turns)
	sig := e.ext.Extract(ctx, raw, ev.Title, ev.Period)
	if err := ctx.Err(); err != nil {
		// Signals gathered after cancellation are partial; leave the event
		// pending so a resumed run repeats it in full.
		logged.Status = "failed"
		logged.Attempts = attempts
		logged.Error = err.Error()
		logged.DurationMS = e.now().Sub(start).Milliseconds()
		e.logEvent(logged)
		e.logger.Warn("scenario interrupted before signals were applied", "event", ev.ID, "attempts", attempts)
		return types.Outcome{}, &EventError{Period: ev.Period, EventID: ev.ID, Title: ev.Title, Attempts: attempts, Err: err}
	}
	applied := e.applySignals(ev, sig)
	e.applyScenarioShift(ev)

	impact, err := e.applyImpact(ev, raw)
	if err != nil {
		return types.Outcome{}, &EventError{Period: ev.Period, EventID: ev.ID, Title: ev.Title, Attempts: attempts, Err: err}
	}

	outcome := types.Outcome{
		ID:         uuid.NewString(),
		EventID:    ev.ID,
		Scenario:   ev.Title,
		Period:     ev.Period,
		SubStep:    ev.SubStep,
		Decision:   decisionOf(turns),
		Turns:      turns,
		Result:     raw,
		Signals:    sig,
		Conflicts:  applied.conflicts,
		Alliances:  applied.alliances,
		Impact:     impact,
		Attempts:   attempts,
		DurationMS: e.now().Sub(start).Milliseconds(),
		Timestamp:  start,
	}
	e.history = append(e.history, outcome)
	e.recordMetrics(ev, outcome)
	e.sched.MarkComplete(ev.ID)

	if e.cfg.Outcomes != nil {
		if err := e.cfg.Outcomes.AppendOutcome(outcome); err != nil {
			e.logger.Warn("outcome sink append failed", "event", ev.ID, "err", err)
		}
	}
	if err := e.saveCheckpointLocked(ev.Period); err != nil {
		e.logger.Error("checkpoint after scenario failed", "event", ev.ID, "err", err)
		return outcome, &EventError{Period: ev.Period, EventID: ev.ID, Title: ev.Title, Attempts: attempts, Err: err}
	}

	used := e.usage
	logged.Status = "completed"
	logged.ResponseChars = len(raw)
	logged.Response = truncateRunes(raw, 500)
	logged.SignalSource = string(sig.Source)
	logged.Conflicts = applied.conflicts
	logged.Alliances = applied.alliances
	logged.TrustChanges = applied.trust
	logged.Broadcasts = applied.broadcasts
	logged.Behaviors = len(sig.Behaviors)
	logged.Attempts = attempts
	logged.DurationMS = outcome.DurationMS
	logged.PromptTokens = used.PromptTokens - usageBefore.PromptTokens
	logged.OutputTokens = used.CandidatesTokens - usageBefore.CandidatesTokens
	e.logEvent(logged)

	e.logger.Info("scenario complete",
		"event", ev.ID,
		"signals", sig.Source,
		"conflicts", applied.conflicts,
		"alliances", applied.alliances,
		"trust_changes", applied.trust,
		"attempts", attempts,
		"duration_ms", outcome.DurationMS)
	return outcome, nil
}

// generate sends req through the governor and reports how many attempts it
// took.
func (e *Experiment) generate(ctx context.Context, name string, req llm.Request) (llm.Response, int, error) {
	attempts := 0
	resp, err := governor.Call(ctx, e.gov, name, func(ctx context.Context) (llm.Response, error) {
		attempts++
		return e.provider.Generate(ctx, req)
	})
	if err != nil {
		return llm.Response{}, attempts, err
	}
	e.usage.Add(resp.Usage)
	return resp, attempts, nil
}

// analyze is the extractor's model path. It runs with e.mu held by the
// event that triggered it.
func (e *Experiment) analyze(ctx context.Context, prompt string) (string, error) {
	resp, _, err := e.generate(ctx, "extract", llm.Request{Prompt: prompt})
	return resp.Text, err
}

type appliedSignals struct {
	conflicts  int
	alliances  int
	trust      int
	broadcasts int
}

// applySignals merges extracted signals into relationship state and the
// behavior log. Conflicts and alliances below the confidence floor are
// dropped.
func (e *Experiment) applySignals(ev types.ScenarioEvent, sig types.Signals) appliedSignals {
	var out appliedSignals
	floor := e.cfg.ConfidenceFloor

	for _, c := range sig.Conflicts {
		if c.Confidence < floor {
			e.logger.Debug("conflict below confidence floor", "involved", c.Involved, "confidence", c.Confidence)
			continue
		}
		if e.rel.RecordConflict(c) > 0 {
			out.conflicts++
		}
	}
	for _, a := range sig.Alliances {
		if a.Confidence < floor {
			e.logger.Debug("alliance below confidence floor", "involved", a.Involved, "confidence", a.Confidence)
			continue
		}
		if e.rel.RecordAlliance(a) > 0 {
			out.alliances++
		}
	}
	for _, t := range sig.Trust {
		updates, err := e.rel.ApplyTrustChange(t.Source, t.Target, t.Direction, t.Confidence)
		if err != nil {
			e.logger.Warn("trust change rejected", "source", t.Source, "target", t.Target, "err", err)
			continue
		}
		out.trust++
		if t.Target == types.AllAgents {
			out.broadcasts++
			e.logger.Info("broadcast trust change", "source", t.Source, "direction", t.Direction, "targets", len(updates), "confidence", t.Confidence)
		}
	}
	now := e.now()
	for _, b := range sig.Behaviors {
		e.tracker.RecordBehavior(analytics.BehavioralPattern{
			Timestamp:   now,
			Agent:       b.Agent,
			Period:      ev.Period,
			Type:        b.Type,
			Description: b.Description,
			Context:     ev.Title,
			Outcome:     string(sig.Source),
			Confidence:  b.Confidence,
		})
	}
	return out
}

// applyScenarioShift nudges every trust value once for scenarios whose
// title marks them as divisive or unifying.
func (e *Experiment) applyScenarioShift(ev types.ScenarioEvent) {
	title := strings.ToLower(ev.Title)
	var delta float64
	switch {
	case strings.Contains(title, "conflict"), strings.Contains(title, "interference"):
		delta = -0.05
	case strings.Contains(title, "discovery"), strings.Contains(title, "resolution"):
		delta = 0.03
	default:
		return
	}
	e.rel.ApplyUniform(delta)
	e.logger.Debug("scenario trust shift", "event", ev.ID, "delta", delta)
}

func (e *Experiment) recordMetrics(ev types.ScenarioEvent, o types.Outcome) {
	ids := e.rel.Agents()
	for _, id := range ids {
		pool, err := e.ledger.Status(id)
		if err != nil {
			continue
		}
		_, alliances := e.rel.Counts(id)

		var sum float64
		others, opportunities := 0, 0
		for _, other := range ids {
			if other == id {
				continue
			}
			v := e.rel.Trust(other, id)
			sum += v
			others++
			if v >= 0.6 {
				opportunities++
			}
		}
		influence := 0.0
		if others > 0 {
			influence = sum / float64(others)
		}

		e.tracker.RecordMetrics(analytics.QuantitativeMetrics{
			Agent:               id,
			Period:              ev.Period,
			EventID:             ev.ID,
			FinancialReturns:    pool.Money - e.initialMoney[id],
			SocialCapital:       alliances,
			ReputationScore:     pool.Reputation,
			InfluenceIndex:      influence,
			FutureOpportunities: opportunities,
			ResourceEfficiency:  e.ledger.Efficiency(id),
		})
	}

	participants := make([]string, 0, len(o.Turns))
	points := make([]string, 0, len(o.Turns))
	for _, t := range o.Turns {
		participants = append(participants, t.Agent)
		points = append(points, truncateRunes(strings.Join(strings.Fields(t.Output), " "), 160))
	}
	e.tracker.RecordConversation(analytics.ConversationLog{
		Timestamp:    o.Timestamp,
		Period:       ev.Period,
		Participants: participants,
		Type:         string(ev.Type),
		Topic:        ev.Title,
		KeyPoints:    points,
		Decisions:    []string{o.Decision},
	})
}

// DecisionSummary is one entry of a period's decisions.
type DecisionSummary struct {
	EventID   string `json:"event_id"`
	Scenario  string `json:"scenario"`
	SubStep   int    `json:"sub_step"`
	Decision  string `json:"decision"`
	Conflicts int    `json:"conflicts"`
	Alliances int    `json:"alliances"`
}

func (e *Experiment) summarizePeriod(p int) {
	decisions := []DecisionSummary{}
	for _, o := range e.history {
		if o.Period != p {
			continue
		}
		decisions = append(decisions, DecisionSummary{
			EventID:   o.EventID,
			Scenario:  o.Scenario,
			SubStep:   o.SubStep,
			Decision:  o.Decision,
			Conflicts: o.Conflicts,
			Alliances: o.Alliances,
		})
	}
	e.data[fmt.Sprintf("period_%d_decisions", p)] = decisions
	e.data[fmt.Sprintf("period_%d_summary", p)] = e.tracker.PeriodSummary(p)
}

func (e *Experiment) snapshotLocked(period int) *Checkpoint {
	data := make(map[string]any, len(e.data))
	for k, v := range e.data {
		data[k] = v
	}
	return &Checkpoint{
		RunID:         e.runID,
		Variant:       e.cfg.Variant,
		Period:        max(period, 1),
		Timeline:      e.sched.Snapshot(),
		Resources:     e.ledger.Snapshot(),
		Relationships: e.rel.Snapshot(),
		History:       append([]types.Outcome{}, e.history...),
		Data:          data,
		Metrics:       e.tracker.Snapshot(),
		LastSaved:     e.now(),
	}
}

func (e *Experiment) saveCheckpointLocked(period int) error {
	path := CheckpointPath(e.cfg.OutputDir, period)
	if err := SaveCheckpoint(path, e.snapshotLocked(period)); err != nil {
		e.logger.Error("checkpoint failed", "period", period, "path", path, "err", err)
		return err
	}
	e.logger.Debug("checkpoint saved", "period", period, "path", path)
	return nil
}

func (e *Experiment) restoreLocked(cp *Checkpoint) {
	if cp.RunID != "" {
		e.runID = cp.RunID
		e.logger = e.cfg.Logger.With("run_id", cp.RunID)
	}
	e.ledger.Restore(cp.Resources)
	e.rel.Restore(cp.Relationships)
	e.sched.Restore(cp.Timeline)
	e.tracker.Restore(cp.Metrics)
	e.history = append([]types.Outcome(nil), cp.History...)
	e.data = make(map[string]any, len(cp.Data))
	for k, v := range cp.Data {
		e.data[k] = v
	}
}

// checkpointComplete reports whether every event of period is recorded as
// done in cp.
func (e *Experiment) checkpointComplete(cp *Checkpoint, period int) bool {
	done := make(map[string]bool, len(cp.Timeline.CompletedEvents))
	for _, id := range cp.Timeline.CompletedEvents {
		done[id] = true
	}
	for _, ev := range e.sched.EventsFor(period) {
		if !done[ev.ID] {
			return false
		}
	}
	return true
}

func (e *Experiment) loadIfExists(period int) (*Checkpoint, error) {
	periods, err := ListCheckpoints(e.cfg.OutputDir)
	if err != nil {
		return nil, err
	}
	for _, p := range periods {
		if p == period {
			return LoadCheckpoint(CheckpointPath(e.cfg.OutputDir, period))
		}
	}
	return nil, nil
}

func (e *Experiment) logEvent(ev EventLog) {
	if e.cfg.EventLog == nil {
		return
	}
	if err := e.cfg.EventLog.LogEvent(ev); err != nil {
		e.logger.Warn("event log write failed", "event", ev.EventID, "err", err)
	}
}

func (e *Experiment) pause(ctx context.Context, d time.Duration, what string) error {
	if d <= 0 {
		return nil
	}
	e.logger.Info("pausing", "between", what, "duration", d)
	return e.sleep(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
