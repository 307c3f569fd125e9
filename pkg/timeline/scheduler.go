// Package timeline schedules scenario events over periods and sub-steps and
// tracks which events have been applied.
package timeline

import (
	"slices"

	"github.com/cpunion/heirloom/pkg/types"
)

// Position is the scheduler pointer.
type Position struct {
	Period  int `json:"period"`
	SubStep int `json:"sub_step"`
}

// Before reports whether p comes strictly before q.
func (p Position) Before(q Position) bool {
	if p.Period != q.Period {
		return p.Period < q.Period
	}
	return p.SubStep < q.SubStep
}

// State is the persisted part of a Scheduler.
type State struct {
	CurrentPeriod   int      `json:"current_period"`
	CurrentSubStep  int      `json:"current_sub_step"`
	CompletedEvents []string `json:"completed_events"`
}

// Summary is a progress overview.
type Summary struct {
	Period    int `json:"current_period"`
	SubStep   int `json:"current_sub_step"`
	Total     int `json:"total_events"`
	Completed int `json:"completed_events"`
	Remaining int `json:"remaining_events"`
}

// Scheduler walks the (period, sub-step) pointer over an immutable event
// list. A Scheduler is not safe for concurrent use.
type Scheduler struct {
	events    []types.ScenarioEvent
	maxPeriod int
	subSteps  int

	pos       Position
	completed map[string]bool
	order     []string
}

// New creates a scheduler positioned at (1, 1) with nothing completed.
func New(def *Definition) *Scheduler {
	return &Scheduler{
		events:    slices.Clone(def.Events),
		maxPeriod: def.Periods,
		subSteps:  def.SubSteps,
		pos:       Position{Period: 1, SubStep: 1},
		completed: make(map[string]bool),
	}
}

func (s *Scheduler) Position() Position { return s.pos }
func (s *Scheduler) MaxPeriod() int     { return s.maxPeriod }
func (s *Scheduler) SubSteps() int      { return s.subSteps }

// Events returns every event in schedule order.
func (s *Scheduler) Events() []types.ScenarioEvent {
	return slices.Clone(s.events)
}

// EventsFor returns the events of period in schedule order.
func (s *Scheduler) EventsFor(period int) []types.ScenarioEvent {
	var out []types.ScenarioEvent
	for _, ev := range s.events {
		if ev.Period == period {
			out = append(out, ev)
		}
	}
	return out
}

// Pending returns the events of period that are not completed yet.
func (s *Scheduler) Pending(period int) []types.ScenarioEvent {
	var out []types.ScenarioEvent
	for _, ev := range s.EventsFor(period) {
		if !s.completed[ev.ID] {
			out = append(out, ev)
		}
	}
	return out
}

// Event looks an event up by id.
func (s *Scheduler) Event(id string) (types.ScenarioEvent, bool) {
	for _, ev := range s.events {
		if ev.ID == id {
			return ev, true
		}
	}
	return types.ScenarioEvent{}, false
}

// AdvanceSubStep moves to the next sub-step, wrapping into the next period
// past the ceiling.
func (s *Scheduler) AdvanceSubStep() Position {
	s.pos.SubStep++
	if s.pos.SubStep > s.subSteps {
		s.pos.SubStep = 1
		s.pos.Period++
	}
	return s.pos
}

// AdvanceTo moves the pointer forward to (period, subStep) and returns how
// many sub-steps were crossed. Targets at or before the pointer are ignored.
func (s *Scheduler) AdvanceTo(period, subStep int) int {
	target := Position{Period: period, SubStep: subStep}
	crossed := 0
	for s.pos.Before(target) {
		s.AdvanceSubStep()
		crossed++
	}
	return crossed
}

// MarkComplete records id as applied. It returns false if it already was.
func (s *Scheduler) MarkComplete(id string) bool {
	if s.completed[id] {
		return false
	}
	s.completed[id] = true
	s.order = append(s.order, id)
	return true
}

func (s *Scheduler) IsComplete(id string) bool { return s.completed[id] }

// PeriodComplete reports whether every event of period is completed.
func (s *Scheduler) PeriodComplete(period int) bool {
	return len(s.Pending(period)) == 0
}

// Completed returns the completed event ids in completion order.
func (s *Scheduler) Completed() []string { return slices.Clone(s.order) }

// Done reports whether the pointer is past the last period.
func (s *Scheduler) Done() bool { return s.pos.Period > s.maxPeriod }

func (s *Scheduler) Summary() Summary {
	done := 0
	for _, ev := range s.events {
		if s.completed[ev.ID] {
			done++
		}
	}
	return Summary{
		Period:    s.pos.Period,
		SubStep:   s.pos.SubStep,
		Total:     len(s.events),
		Completed: done,
		Remaining: len(s.events) - done,
	}
}

func (s *Scheduler) Snapshot() State {
	completed := slices.Clone(s.order)
	if completed == nil {
		completed = []string{}
	}
	return State{
		CurrentPeriod:   s.pos.Period,
		CurrentSubStep:  s.pos.SubStep,
		CompletedEvents: completed,
	}
}

// Restore replaces the pointer and completed set. A zero pointer means (1, 1).
// Ids that are not in the timeline are kept so a later save does not lose them.
func (s *Scheduler) Restore(st State) {
	s.pos = Position{Period: max(st.CurrentPeriod, 1), SubStep: max(st.CurrentSubStep, 1)}
	s.completed = make(map[string]bool, len(st.CompletedEvents))
	s.order = nil
	for _, id := range st.CompletedEvents {
		s.MarkComplete(id)
	}
}
