// Package ledger tracks per-agent and shared resource pools. Every mutation
// goes through the Ledger so invariant checks live in one place.
package ledger

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/cpunion/heirloom/pkg/types"
)

// DefaultWeeklyQuota is used for agents without a configured quota.
const DefaultWeeklyQuota = 40.0

// Pool is one agent's individual resources.
type Pool struct {
	TimeRemaining float64 `json:"time_hours"`
	Money         float64 `json:"money"`
	Reputation    float64 `json:"reputation_points"`
}

func (p *Pool) get(kind types.ResourceKind) float64 {
	switch kind {
	case types.ResourceTime:
		return p.TimeRemaining
	case types.ResourceMoney:
		return p.Money
	case types.ResourceReputation:
		return p.Reputation
	}
	return 0
}

func (p *Pool) add(kind types.ResourceKind, amount float64) {
	switch kind {
	case types.ResourceTime:
		p.TimeRemaining += amount
	case types.ResourceMoney:
		p.Money += amount
	case types.ResourceReputation:
		p.Reputation += amount
	}
}

// SharedCounter names an auxiliary counter of the shared pool.
type SharedCounter string

const (
	CounterGalleryReputation SharedCounter = "gallery_reputation"
	CounterFamilyReputation  SharedCounter = "family_reputation"
	CounterLegalFund         SharedCounter = "legal_fund"
)

// SharedPool is the single pool every agent draws from.
type SharedPool struct {
	SharedBudget      float64 `json:"shared_budget"`
	GalleryReputation float64 `json:"gallery_reputation"`
	FamilyReputation  float64 `json:"family_reputation"`
	LegalFund         float64 `json:"legal_fund"`
}

// DefaultSharedPool returns the starting shared pool.
func DefaultSharedPool() SharedPool {
	return SharedPool{SharedBudget: 100000}
}

// Entry types recorded in the allocation history.
const (
	EntryIndividual = "individual"
	EntryShared     = "shared"
	EntryAddition   = "addition"
	EntryCounter    = "counter"
	EntryReset      = "reset"
)

// SharedAgent is the agent column used for shared pool history entries.
const SharedAgent = "shared"

// HistoryEntry is one append-only allocation record. History is kept for
// observability and is never replayed to rebuild balances.
type HistoryEntry struct {
	Agent       string    `json:"agent"`
	Resource    string    `json:"resource"`
	Amount      float64   `json:"amount"`
	Description string    `json:"description,omitempty"`
	Type        string    `json:"type"`
	At          time.Time `json:"at"`
}

// HistorySink receives every history entry as it is appended.
type HistorySink interface {
	AppendAllocation(HistoryEntry) error
}

// Endowment is an agent's starting pool and weekly time quota.
type Endowment struct {
	Agent       string
	Pool        Pool
	WeeklyQuota float64
}

// Config configures a Ledger.
type Config struct {
	Agents []Endowment
	Shared SharedPool
	Sink   HistorySink
	Logger *slog.Logger
	Now    func() time.Time
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu sync.RWMutex

	order   []string
	pools   map[string]*Pool
	quotas  map[string]float64
	shared  SharedPool
	history []HistoryEntry

	sink   HistorySink
	logger *slog.Logger
	now    func() time.Time
}

// New creates a ledger with the given endowments.
func New(cfg Config) *Ledger {
	l := &Ledger{
		pools:  make(map[string]*Pool, len(cfg.Agents)),
		quotas: make(map[string]float64, len(cfg.Agents)),
		shared: cfg.Shared,
		sink:   cfg.Sink,
		logger: cfg.Logger,
		now:    cfg.Now,
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	if l.now == nil {
		l.now = time.Now
	}
	for _, e := range cfg.Agents {
		if _, dup := l.pools[e.Agent]; dup {
			continue
		}
		pool := e.Pool
		l.order = append(l.order, e.Agent)
		l.pools[e.Agent] = &pool
		quota := e.WeeklyQuota
		if quota <= 0 {
			quota = DefaultWeeklyQuota
		}
		l.quotas[e.Agent] = quota
		l.publish(e.Agent)
	}
	l.publishShared()
	return l
}

// SetSink replaces the history sink.
func (l *Ledger) SetSink(sink HistorySink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sink = sink
}

// Agents returns agent ids in endowment order.
func (l *Ledger) Agents() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.order...)
}

// AllocateIndividual deducts amount from the agent's pool. It fails without
// mutating anything if the pool cannot cover the amount.
func (l *Ledger) AllocateIndividual(agent string, kind types.ResourceKind, amount float64, description string) error {
	if err := checkAmount(kind, amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	pool, ok := l.pools[agent]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, agent)
	}
	if available := pool.get(kind); amount > available {
		Rejections.WithLabelValues(string(kind)).Inc()
		return &AllocationError{Agent: agent, Kind: kind, Requested: amount, Available: available, Err: ErrInsufficientResource}
	}
	pool.add(kind, -amount)
	l.appendLocked(HistoryEntry{Agent: agent, Resource: string(kind), Amount: amount, Description: description, Type: EntryIndividual})
	l.publish(agent)
	return nil
}

// AddIndividual credits amount to the agent's pool. There is no upper bound.
func (l *Ledger) AddIndividual(agent string, kind types.ResourceKind, amount float64, description string) error {
	if err := checkAmount(kind, amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	pool, ok := l.pools[agent]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, agent)
	}
	pool.add(kind, amount)
	l.appendLocked(HistoryEntry{Agent: agent, Resource: string(kind), Amount: amount, Description: description, Type: EntryAddition})
	l.publish(agent)
	return nil
}

// AllocateShared deducts amount from the shared budget, failing without
// mutation when amount exceeds the budget.
func (l *Ledger) AllocateShared(amount float64, purpose string) error {
	if err := checkAmount("shared_budget", amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if amount > l.shared.SharedBudget {
		Rejections.WithLabelValues("shared_budget").Inc()
		return &AllocationError{Requested: amount, Available: l.shared.SharedBudget, Err: ErrInsufficientSharedFunds}
	}
	l.shared.SharedBudget -= amount
	l.appendLocked(HistoryEntry{Agent: SharedAgent, Resource: "shared_budget", Amount: amount, Description: purpose, Type: EntryShared})
	l.publishShared()
	return nil
}

// AddShared credits the shared budget.
func (l *Ledger) AddShared(amount float64, description string) error {
	if err := checkAmount("shared_budget", amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.shared.SharedBudget += amount
	l.appendLocked(HistoryEntry{Agent: SharedAgent, Resource: "shared_budget", Amount: amount, Description: description, Type: EntryAddition})
	l.publishShared()
	return nil
}

// AdjustCounter moves one of the auxiliary shared counters by delta, which
// may be negative.
func (l *Ledger) AdjustCounter(counter SharedCounter, delta float64, description string) error {
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, delta)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	switch counter {
	case CounterGalleryReputation:
		l.shared.GalleryReputation += delta
	case CounterFamilyReputation:
		l.shared.FamilyReputation += delta
	case CounterLegalFund:
		l.shared.LegalFund += delta
	default:
		return fmt.Errorf("unknown shared counter %q", counter)
	}
	l.appendLocked(HistoryEntry{Agent: SharedAgent, Resource: string(counter), Amount: delta, Description: description, Type: EntryCounter})
	l.publishShared()
	return nil
}

// ResetTime restores every agent's time to its weekly quota. Entries in
// quotas override the configured quota for that agent.
func (l *Ledger) ResetTime(quotas map[string]float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, agent := range l.order {
		quota := l.quotas[agent]
		if q, ok := quotas[agent]; ok {
			quota = q
		}
		l.pools[agent].TimeRemaining = quota
		l.appendLocked(HistoryEntry{Agent: agent, Resource: string(types.ResourceTime), Amount: quota, Description: "weekly reset", Type: EntryReset})
		l.publish(agent)
	}
}

// Quota returns the configured weekly time quota for agent.
func (l *Ledger) Quota(agent string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if q, ok := l.quotas[agent]; ok {
		return q
	}
	return DefaultWeeklyQuota
}

// Status returns a copy of the agent's pool.
func (l *Ledger) Status(agent string) (Pool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pool, ok := l.pools[agent]
	if !ok {
		return Pool{}, fmt.Errorf("%w: %s", ErrUnknownAgent, agent)
	}
	return *pool, nil
}

// SharedStatus returns a copy of the shared pool.
func (l *Ledger) SharedStatus() SharedPool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.shared
}

// Efficiency reports how much of a standard 40 hour week the agent has used,
// as a percentage capped at 100.
func (l *Ledger) Efficiency(agent string) float64 {
	pool, err := l.Status(agent)
	if err != nil {
		return 0
	}
	used := DefaultWeeklyQuota - pool.TimeRemaining
	return math.Min(used/DefaultWeeklyQuota*100, 100)
}

// History returns a copy of the allocation history.
func (l *Ledger) History() []HistoryEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]HistoryEntry(nil), l.history...)
}

// State is the serialisable form of the ledger.
type State struct {
	Agents  map[string]Pool `json:"agents"`
	Shared  SharedPool      `json:"shared"`
	History []HistoryEntry  `json:"allocation_history"`
}

// Snapshot captures the ledger for a checkpoint.
func (l *Ledger) Snapshot() State {
	l.mu.RLock()
	defer l.mu.RUnlock()

	agents := make(map[string]Pool, len(l.pools))
	for id, p := range l.pools {
		agents[id] = *p
	}
	return State{
		Agents:  agents,
		Shared:  l.shared,
		History: append([]HistoryEntry(nil), l.history...),
	}
}

// Restore replaces balances with those in s. Agents missing from s keep
// their current pool; agents unknown to the ledger are appended.
func (l *Ledger) Restore(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make([]string, 0, len(s.Agents))
	for id := range s.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := s.Agents[id]
		if existing, ok := l.pools[id]; ok {
			*existing = p
		} else {
			l.pools[id] = &p
			l.order = append(l.order, id)
			l.quotas[id] = DefaultWeeklyQuota
		}
		l.publish(id)
	}
	l.shared = s.Shared
	l.history = append([]HistoryEntry(nil), s.History...)
	l.publishShared()
}

func (l *Ledger) appendLocked(e HistoryEntry) {
	e.At = l.now()
	l.history = append(l.history, e)
	if l.sink != nil {
		if err := l.sink.AppendAllocation(e); err != nil {
			l.logger.Warn("history sink append failed", "agent", e.Agent, "resource", e.Resource, "err", err)
		}
	}
}

func (l *Ledger) publish(agent string) {
	p := l.pools[agent]
	PoolLevel.WithLabelValues(agent, string(types.ResourceTime)).Set(p.TimeRemaining)
	PoolLevel.WithLabelValues(agent, string(types.ResourceMoney)).Set(p.Money)
	PoolLevel.WithLabelValues(agent, string(types.ResourceReputation)).Set(p.Reputation)
}

func (l *Ledger) publishShared() {
	SharedLevel.WithLabelValues("shared_budget").Set(l.shared.SharedBudget)
	SharedLevel.WithLabelValues(string(CounterGalleryReputation)).Set(l.shared.GalleryReputation)
	SharedLevel.WithLabelValues(string(CounterFamilyReputation)).Set(l.shared.FamilyReputation)
	SharedLevel.WithLabelValues(string(CounterLegalFund)).Set(l.shared.LegalFund)
}

func checkAmount(kind types.ResourceKind, amount float64) error {
	if kind != "shared_budget" && !kind.Valid() {
		return fmt.Errorf("unknown resource kind %q", kind)
	}
	if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	return nil
}
