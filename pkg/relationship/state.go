// Package relationship keeps each agent's trust levels, conflicts and
// alliances, and merges extracted signals into them.
package relationship

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/cpunion/heirloom/pkg/types"
)

// Defaults for trust updates.
const (
	DefaultBaseDelta       = 0.15
	DefaultConfidenceFloor = 0.5
	BaselineMin            = 0.3
	BaselineMax            = 0.7
)

// Dynamics is one agent's view of its relationships.
type Dynamics struct {
	TrustLevels map[string]float64     `json:"trust_levels"`
	Conflicts   []types.ConflictRecord `json:"conflicts"`
	Alliances   []types.AllianceRecord `json:"alliances"`
}

func newDynamics() *Dynamics {
	return &Dynamics{
		TrustLevels: make(map[string]float64),
		Conflicts:   []types.ConflictRecord{},
		Alliances:   []types.AllianceRecord{},
	}
}

func (d *Dynamics) clone() Dynamics {
	out := Dynamics{
		TrustLevels: make(map[string]float64, len(d.TrustLevels)),
		Conflicts:   make([]types.ConflictRecord, len(d.Conflicts)),
		Alliances:   make([]types.AllianceRecord, len(d.Alliances)),
	}
	for k, v := range d.TrustLevels {
		out.TrustLevels[k] = v
	}
	for i, c := range d.Conflicts {
		c.Involved = slices.Clone(c.Involved)
		out.Conflicts[i] = c
	}
	for i, a := range d.Alliances {
		a.Involved = slices.Clone(a.Involved)
		out.Alliances[i] = a
	}
	return out
}

// Config configures a State.
type Config struct {
	// BaseDelta is the trust change at confidence 1.0.
	BaseDelta float64
	// BroadcastScale multiplies the magnitude of AllAgents trust changes.
	BroadcastScale float64
	// Seeds optionally biases the lazy baseline per source agent, in [-1, 1].
	Seeds  map[string]float64
	Logger *slog.Logger
}

// State holds the relationship dynamics of every agent. It is safe for
// concurrent use.
type State struct {
	mu sync.RWMutex

	agents   []string
	dynamics map[string]*Dynamics

	baseDelta      float64
	broadcastScale float64
	seeds          map[string]float64
	logger         *slog.Logger
}

// New creates empty dynamics for agents.
func New(agents []string, cfg Config) *State {
	if cfg.BaseDelta <= 0 {
		cfg.BaseDelta = DefaultBaseDelta
	}
	if cfg.BroadcastScale <= 0 {
		cfg.BroadcastScale = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &State{
		dynamics:       make(map[string]*Dynamics, len(agents)),
		baseDelta:      cfg.BaseDelta,
		broadcastScale: cfg.BroadcastScale,
		seeds:          cfg.Seeds,
		logger:         cfg.Logger,
	}
	for _, a := range agents {
		if _, ok := s.dynamics[a]; ok {
			continue
		}
		s.agents = append(s.agents, a)
		s.dynamics[a] = newDynamics()
	}
	return s
}

// Agents returns the agent ids in roster order.
func (s *State) Agents() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.agents)
}

// RecordConflict stores a copy of rec for each known agent in rec.Involved,
// with that agent removed from the copy. Copies with no other parties, and
// copies matching an existing (type, involved set), are dropped. It returns
// the number of copies stored.
func (s *State) RecordConflict(rec types.ConflictRecord) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, owner := range s.owners(rec.Involved) {
		others := without(rec.Involved, owner)
		if len(others) == 0 {
			continue
		}
		d := s.dynamics[owner]
		key := recordKey(rec.Type, others)
		if slices.ContainsFunc(d.Conflicts, func(c types.ConflictRecord) bool {
			return recordKey(c.Type, c.Involved) == key
		}) {
			continue
		}
		cp := rec
		cp.Involved = others
		d.Conflicts = append(d.Conflicts, cp)
		added++
	}
	return added
}

// RecordAlliance is the alliance counterpart of RecordConflict.
func (s *State) RecordAlliance(rec types.AllianceRecord) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, owner := range s.owners(rec.Involved) {
		others := without(rec.Involved, owner)
		if len(others) == 0 {
			continue
		}
		d := s.dynamics[owner]
		key := recordKey(rec.Type, others)
		if slices.ContainsFunc(d.Alliances, func(a types.AllianceRecord) bool {
			return recordKey(a.Type, a.Involved) == key
		}) {
			continue
		}
		cp := rec
		cp.Involved = others
		d.Alliances = append(d.Alliances, cp)
		added++
	}
	return added
}

// TrustUpdate reports one applied trust change.
type TrustUpdate struct {
	Source string
	Target string
	Before float64
	After  float64
}

// ApplyTrustChange moves source's trust in target by BaseDelta*confidence in
// the given direction, clamped to [0, 1]. An unset trust value starts at the
// pair's baseline. Target AllAgents applies the change toward every other
// agent, scaled by BroadcastScale.
func (s *State) ApplyTrustChange(source, target string, dir types.Direction, confidence float64) ([]TrustUpdate, error) {
	if dir != types.DirectionPositive && dir != types.DirectionNegative {
		return nil, fmt.Errorf("unknown trust direction %q", dir)
	}
	confidence = clamp(confidence)

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.dynamics[source]
	if !ok {
		return nil, fmt.Errorf("unknown source agent %q", source)
	}

	magnitude := s.baseDelta * confidence
	targets := []string{target}
	scope := "single"
	if target == types.AllAgents {
		scope = "broadcast"
		magnitude *= s.broadcastScale
		targets = without(s.agents, source)
		s.logger.Debug("broadcast trust change", "source", source, "direction", dir, "magnitude", magnitude, "targets", len(targets))
	} else if target == source {
		return nil, fmt.Errorf("agent %q cannot change trust in itself", source)
	} else if _, ok := s.dynamics[target]; !ok {
		return nil, fmt.Errorf("unknown target agent %q", target)
	}
	if dir == types.DirectionNegative {
		magnitude = -magnitude
	}

	updates := make([]TrustUpdate, 0, len(targets))
	for _, t := range targets {
		before, ok := d.TrustLevels[t]
		if !ok {
			before = s.baseline(source, t)
		}
		after := clamp(before + magnitude)
		d.TrustLevels[t] = after
		TrustLevel.WithLabelValues(source, t).Set(after)
		updates = append(updates, TrustUpdate{Source: source, Target: t, Before: before, After: after})
	}
	TrustChanges.WithLabelValues(string(dir), scope).Inc()
	return updates, nil
}

// ApplyUniform shifts every directed trust value by delta, seeding unset
// pairs at their baseline first. It is used for scenario-wide effects.
func (s *State) ApplyUniform(delta float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, src := range s.agents {
		d := s.dynamics[src]
		for _, t := range s.agents {
			if t == src {
				continue
			}
			v, ok := d.TrustLevels[t]
			if !ok {
				v = s.baseline(src, t)
			}
			d.TrustLevels[t] = clamp(v + delta)
			TrustLevel.WithLabelValues(src, t).Set(d.TrustLevels[t])
		}
	}
}

// Trust returns source's trust in target, or the pair's baseline if unset.
func (s *State) Trust(source, target string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.dynamics[source]; ok {
		if v, ok := d.TrustLevels[target]; ok {
			return v
		}
	}
	return s.baseline(source, target)
}

// Baseline returns the initial trust for the ordered pair. It is a
// deterministic function of the pair and the source's seed.
func (s *State) Baseline(source, target string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseline(source, target)
}

func (s *State) baseline(source, target string) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(source))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(target))
	// Unit in [0, 1], centred on 0.5 and nudged by the source's seed.
	unit := float64(h.Sum32()%10001) / 10000
	if seed, ok := s.seeds[source]; ok {
		unit = clamp(0.5 + (unit-0.5)*0.5 + seed*0.25)
	}
	return BaselineMin + unit*(BaselineMax-BaselineMin)
}

// Counts returns the number of conflicts and alliances stored for agent.
func (s *State) Counts(agent string) (conflicts, alliances int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.dynamics[agent]; ok {
		return len(d.Conflicts), len(d.Alliances)
	}
	return 0, 0
}

// Get returns a copy of agent's dynamics.
func (s *State) Get(agent string) (Dynamics, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dynamics[agent]
	if !ok {
		return Dynamics{}, false
	}
	return d.clone(), true
}

// Snapshot returns a deep copy of every agent's dynamics.
func (s *State) Snapshot() map[string]Dynamics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Dynamics, len(s.dynamics))
	for id, d := range s.dynamics {
		out[id] = d.clone()
	}
	return out
}

// Restore replaces dynamics with snap. Nil maps and slices in snap are
// treated as empty; values are clamped to [0, 1].
func (s *State) Restore(snap map[string]Dynamics) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		src := snap[id]
		d := newDynamics()
		for k, v := range src.TrustLevels {
			d.TrustLevels[k] = clamp(v)
		}
		if src.Conflicts != nil {
			d.Conflicts = append(d.Conflicts, src.Conflicts...)
		}
		if src.Alliances != nil {
			d.Alliances = append(d.Alliances, src.Alliances...)
		}
		if _, ok := s.dynamics[id]; !ok {
			s.agents = append(s.agents, id)
		}
		s.dynamics[id] = d
	}
}

// Matrix returns trust[source][target] for every ordered pair of distinct
// agents, using baselines for unset pairs.
func (s *State) Matrix() map[string]map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]map[string]float64, len(s.agents))
	for _, src := range s.agents {
		row := make(map[string]float64, len(s.agents)-1)
		for _, t := range s.agents {
			if t == src {
				continue
			}
			if v, ok := s.dynamics[src].TrustLevels[t]; ok {
				row[t] = v
			} else {
				row[t] = s.baseline(src, t)
			}
		}
		out[src] = row
	}
	return out
}

// owners returns the distinct known agents in involved, in roster order.
func (s *State) owners(involved []string) []string {
	var out []string
	for _, a := range s.agents {
		if slices.Contains(involved, a) {
			out = append(out, a)
		}
	}
	return out
}

func without(ids []string, drop string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != drop && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func recordKey(kind string, involved []string) string {
	set := slices.Clone(involved)
	sort.Strings(set)
	set = slices.Compact(set)
	return strings.ToLower(kind) + "|" + strings.Join(set, ",")
}

func clamp(v float64) float64 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	}
	return v
}
