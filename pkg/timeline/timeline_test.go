package timeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	def := Default()
	if def.Periods != 6 || def.SubSteps != 4 {
		t.Fatalf("expected 6 periods of 4 sub-steps, got %d/%d", def.Periods, def.SubSteps)
	}
	if len(def.Events) != 7 {
		t.Fatalf("expected 7 events, got %d", len(def.Events))
	}
	first := def.Events[0]
	if first.ID != "p1w1-the-inheritance" {
		t.Errorf("unexpected first id %q", first.ID)
	}
	if first.Impact.Time != 20 || first.Impact.Reputation != 5 {
		t.Errorf("unexpected first impact %+v", first.Impact)
	}
	crisis := def.Events[5]
	if crisis.Title != "Ownership Challenge Crisis" || crisis.Impact.Money != -25000 {
		t.Errorf("unexpected crisis event %+v", crisis)
	}
	if len(crisis.DecisionPoints) != 3 || len(crisis.PotentialOutcomes) != 3 {
		t.Errorf("expected decision points and outcomes on %q", crisis.Title)
	}
}

func TestScheduler_EventsFor(t *testing.T) {
	s := New(Default())
	got := s.EventsFor(1)
	if len(got) != 2 {
		t.Fatalf("expected 2 events in period 1, got %d", len(got))
	}
	if got[0].SubStep != 1 || got[1].SubStep != 3 {
		t.Errorf("events not in sub-step order: %d, %d", got[0].SubStep, got[1].SubStep)
	}
	if len(s.EventsFor(7)) != 0 {
		t.Error("expected no events past the last period")
	}
}

func TestScheduler_AdvanceWraps(t *testing.T) {
	s := New(Default())
	if p := s.Position(); p != (Position{1, 1}) {
		t.Fatalf("expected start at (1,1), got %+v", p)
	}
	for i := 0; i < 3; i++ {
		s.AdvanceSubStep()
	}
	if p := s.AdvanceSubStep(); p != (Position{2, 1}) {
		t.Fatalf("expected wrap to (2,1), got %+v", p)
	}
	for !s.Done() {
		s.AdvanceSubStep()
	}
	if p := s.Position(); p != (Position{7, 1}) {
		t.Errorf("expected terminal position (7,1), got %+v", p)
	}
}

func TestScheduler_AdvanceTo(t *testing.T) {
	s := New(Default())
	if n := s.AdvanceTo(1, 1); n != 0 {
		t.Errorf("advancing to the current position crossed %d sub-steps", n)
	}
	if n := s.AdvanceTo(1, 3); n != 2 {
		t.Errorf("expected 2 sub-steps crossed, got %d", n)
	}
	if n := s.AdvanceTo(2, 2); n != 3 {
		t.Errorf("expected 3 sub-steps crossed, got %d", n)
	}
	if n := s.AdvanceTo(1, 4); n != 0 {
		t.Errorf("moving backwards crossed %d sub-steps", n)
	}
	if p := s.Position(); p != (Position{2, 2}) {
		t.Errorf("unexpected position %+v", p)
	}
}

func TestScheduler_CompletedAtMostOnce(t *testing.T) {
	s := New(Default())
	id := s.EventsFor(1)[0].ID

	if !s.MarkComplete(id) {
		t.Fatal("first MarkComplete should report true")
	}
	if s.MarkComplete(id) {
		t.Error("second MarkComplete should report false")
	}
	if got := s.Completed(); len(got) != 1 {
		t.Errorf("expected one completed id, got %v", got)
	}
	if s.PeriodComplete(1) {
		t.Error("period 1 still has a pending event")
	}
	pending := s.Pending(1)
	if len(pending) != 1 || pending[0].Title != "Competing Visions" {
		t.Errorf("unexpected pending events %+v", pending)
	}
	s.MarkComplete(pending[0].ID)
	if !s.PeriodComplete(1) {
		t.Error("period 1 should be complete")
	}
	sum := s.Summary()
	if sum.Total != 7 || sum.Completed != 2 || sum.Remaining != 5 {
		t.Errorf("unexpected summary %+v", sum)
	}
}

func TestScheduler_SnapshotRestore(t *testing.T) {
	s := New(Default())
	s.AdvanceTo(3, 2)
	s.MarkComplete("p1w1-the-inheritance")
	s.MarkComplete("p1w3-competing-visions")
	snap := s.Snapshot()

	r := New(Default())
	r.Restore(snap)
	if r.Position() != s.Position() {
		t.Errorf("position not restored: %+v vs %+v", r.Position(), s.Position())
	}
	if !r.IsComplete("p1w3-competing-visions") || r.IsComplete("p2w2-viral-fame-opportunity") {
		t.Error("completed set not restored")
	}

	r.Restore(State{})
	if r.Position() != (Position{1, 1}) || len(r.Completed()) != 0 {
		t.Errorf("empty state should reset to (1,1), got %+v %v", r.Position(), r.Completed())
	}
	if snap := r.Snapshot(); snap.CompletedEvents == nil {
		t.Error("snapshot should carry an empty, non-nil completed list")
	}
}

func TestLoad_Formats(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"t.yaml": `
periods: 2
events:
  - {period: 2, sub_step: 1, title: Second, resource_impact: {money: -100}}
  - {period: 1, sub_step: 2, title: First, resource_impact: {time: 8}}
`,
		"t.toml": `
periods = 2
sub_steps = 4

[[events]]
period = 2
sub_step = 1
title = "Second"
[events.resource_impact]
money = -100.0

[[events]]
period = 1
sub_step = 2
title = "First"
[events.resource_impact]
time = 8.0
`,
		"t.json": `{"periods": 2, "events": [
  {"period": 2, "sub_step": 1, "title": "Second", "resource_impact": {"money": -100}},
  {"period": 1, "sub_step": 2, "title": "First", "resource_impact": {"time": 8}}
]}`,
	}
	for name, body := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				t.Fatal(err)
			}
			def, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if def.SubSteps != 4 || len(def.Events) != 2 {
				t.Fatalf("unexpected definition %+v", def)
			}
			if def.Events[0].ID != "p1w2-first" || def.Events[0].Impact.Time != 8 {
				t.Errorf("events not sorted or ids not derived: %+v", def.Events[0])
			}
			if def.Events[1].Impact.Money != -100 {
				t.Errorf("unexpected impact %+v", def.Events[1].Impact)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"no events":      `periods: 1`,
		"period range":   `{periods: 1, events: [{period: 2, sub_step: 1, title: x}]}`,
		"sub-step range": `{periods: 1, events: [{period: 1, sub_step: 5, title: x}]}`,
		"missing title":  `{periods: 1, events: [{period: 1, sub_step: 1}]}`,
		"duplicate ids":  `{periods: 1, events: [{id: a, period: 1, sub_step: 1, title: x}, {id: a, period: 1, sub_step: 2, title: y}]}`,
	}
	for name, body := range cases {
		if _, err := Parse([]byte(body), "yaml"); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if _, err := Parse([]byte("{}"), "ini"); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Errorf("expected unsupported format error, got %v", err)
	}
}

func TestEventID(t *testing.T) {
	if got := EventID(6, 4, "Resolution and Future Planning!"); got != "p6w4-resolution-and-future-planning" {
		t.Errorf("unexpected id %q", got)
	}
}
