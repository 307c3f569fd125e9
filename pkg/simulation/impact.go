package simulation

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/cpunion/heirloom/pkg/agent"
	"github.com/cpunion/heirloom/pkg/ledger"
	"github.com/cpunion/heirloom/pkg/types"
)

// ImpactMode selects how an event's resource impact is split across agents.
type ImpactMode string

const (
	// ImpactEven splits time and reputation evenly.
	ImpactEven ImpactMode = "even"
	// ImpactContributions scales each persona's contribution pattern by how
	// much it spoke in the conversation.
	ImpactContributions ImpactMode = "contributions"
)

func (m ImpactMode) Valid() bool {
	return m == ImpactEven || m == ImpactContributions
}

// involvement returns the contribution multiplier for agent: 1 at three
// mentions, 0.1 per mention above or below, within [0.5, 1.5].
func involvement(transcript, id string) float64 {
	mentions := strings.Count(transcript, id+":")
	m := 1 + float64(mentions-3)*0.1
	return math.Max(0.5, math.Min(m, 1.5))
}

// applyImpact distributes ev's resource impact through the ledger and
// returns the total actually applied. Allocations an agent cannot cover are
// logged and skipped.
func (e *Experiment) applyImpact(ev types.ScenarioEvent, transcript string) (types.ResourceImpact, error) {
	var applied types.ResourceImpact
	imp := ev.Impact
	desc := fmt.Sprintf("%s (period %d)", ev.Title, ev.Period)
	n := float64(len(e.personas))

	for _, p := range e.personas {
		share := types.ResourceImpact{Time: imp.Time / n, Money: 0, Reputation: imp.Reputation / n}
		if e.cfg.ImpactMode == ImpactContributions {
			mult := involvement(transcript, p.ID)
			share = types.ResourceImpact{
				Time:       signed(imp.Time, p.Contribution.Time*mult),
				Money:      signed(imp.Money, p.Contribution.Money*mult),
				Reputation: signed(imp.Reputation, p.Contribution.Reputation*mult),
			}
		}

		// Time spent on a scenario is always consumed.
		if t := math.Abs(share.Time); t > 0 {
			if ok, err := e.spend(p.ID, types.ResourceTime, t, "scenario participation: "+desc); err != nil {
				return applied, err
			} else if ok {
				applied.Time -= t
			}
		}
		for _, d := range []struct {
			kind   types.ResourceKind
			amount float64
			total  *float64
		}{
			{types.ResourceMoney, share.Money, &applied.Money},
			{types.ResourceReputation, share.Reputation, &applied.Reputation},
		} {
			switch {
			case d.amount > 0:
				if err := e.ledger.AddIndividual(p.ID, d.kind, d.amount, desc); err != nil {
					return applied, err
				}
				*d.total += d.amount
			case d.amount < 0:
				ok, err := e.spend(p.ID, d.kind, -d.amount, desc)
				if err != nil {
					return applied, err
				}
				if ok {
					*d.total += d.amount
				}
			}
		}
	}

	switch {
	case imp.Money > 0:
		if err := e.ledger.AddShared(imp.Money, desc); err != nil {
			return applied, err
		}
	case imp.Money < 0:
		cost := -imp.Money
		err := e.ledger.AllocateShared(cost, "scenario cost: "+desc)
		switch {
		case errors.Is(err, ledger.ErrInsufficientSharedFunds):
			e.logger.Warn("shared budget cannot cover scenario cost", "event", ev.ID, "cost", cost, "err", err)
		case err != nil:
			return applied, err
		default:
			if err := e.ledger.AdjustCounter(ledger.CounterLegalFund, cost, desc); err != nil {
				return applied, err
			}
		}
	}
	if imp.Reputation != 0 {
		if err := e.ledger.AdjustCounter(ledger.CounterGalleryReputation, imp.Reputation, desc); err != nil {
			return applied, err
		}
		if ev.Type == types.ScenarioFamilyInterference || ev.Type == types.ScenarioLegalChallenge {
			if err := e.ledger.AdjustCounter(ledger.CounterFamilyReputation, imp.Reputation, desc); err != nil {
				return applied, err
			}
		}
	}
	return applied, nil
}

// spend allocates from an individual pool. It reports false when the pool
// cannot cover amount, which is not an error for the run.
func (e *Experiment) spend(id string, kind types.ResourceKind, amount float64, desc string) (bool, error) {
	err := e.ledger.AllocateIndividual(id, kind, amount, desc)
	if errors.Is(err, ledger.ErrInsufficientResource) {
		e.logger.Warn("skipping allocation", "agent", id, "resource", kind, "amount", amount, "err", err)
		return false, nil
	}
	return err == nil, err
}

// signed gives magnitude the sign of ref, or zero when ref is zero.
func signed(ref, magnitude float64) float64 {
	switch {
	case ref > 0:
		return math.Abs(magnitude)
	case ref < 0:
		return -math.Abs(magnitude)
	}
	return 0
}

func endowments(personas []agent.Persona) []ledger.Endowment {
	out := make([]ledger.Endowment, 0, len(personas))
	for _, p := range personas {
		out = append(out, ledger.Endowment{
			Agent: p.ID,
			Pool: ledger.Pool{
				TimeRemaining: p.Endowment.Time,
				Money:         p.Endowment.Money,
				Reputation:    p.Endowment.Reputation,
			},
			WeeklyQuota: p.WeeklyQuota,
		})
	}
	return out
}
