// Package extractor turns a scenario transcript into confidence-scored
// conflict, alliance, trust and behavior signals.
//
// The model path asks an outbound call to classify the transcript and parses
// the JSON array it returns. When the call fails or its answer cannot be
// parsed, a keyword heuristic runs instead and tags every signal with a
// fixed low confidence.
package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"

	"github.com/cpunion/heirloom/pkg/types"
)

// Defaults.
const (
	DefaultThreshold = 0.5
	DefaultWindow    = 2

	// Fallback confidences, always below DefaultThreshold.
	FallbackPairConfidence   = 0.4 // conflicts and alliances
	FallbackSingleConfidence = 0.3 // trust and behavior
)

// CallFunc sends a prompt to the analysis model and returns its raw answer.
type CallFunc func(ctx context.Context, prompt string) (string, error)

// Config configures an Extractor.
type Config struct {
	// Agents is the roster; signals naming anyone else are discarded.
	Agents []string
	// Aliases maps alternative spellings (persona names) to agent ids for
	// the keyword fallback.
	Aliases map[string]string
	// Call is the model path. Nil means keyword fallback only.
	Call CallFunc
	// Threshold is the exclusive minimum confidence of a model signal.
	Threshold float64
	// Window is how many lines around a keyword hit are searched for agents.
	Window int
	// FallbackConfidence overrides both fallback confidences when > 0.
	FallbackConfidence float64
	Logger             *slog.Logger
}

// Extractor derives signals from raw scenario text. It never fails: any
// problem on the model path degrades to the keyword heuristic.
type Extractor struct {
	agents    []string
	call      CallFunc
	threshold float64
	fallback  *keywordScanner
	logger    *slog.Logger
}

// New creates an Extractor.
func New(cfg Config) *Extractor {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	pair, single := FallbackPairConfidence, FallbackSingleConfidence
	if cfg.FallbackConfidence > 0 {
		pair, single = cfg.FallbackConfidence, cfg.FallbackConfidence
	}
	return &Extractor{
		agents:    slices.Clone(cfg.Agents),
		call:      cfg.Call,
		threshold: cfg.Threshold,
		fallback:  newKeywordScanner(cfg.Agents, cfg.Aliases, cfg.Window, pair, single),
		logger:    cfg.Logger,
	}
}

// Extract returns the signals found in raw for the named scenario.
func (e *Extractor) Extract(ctx context.Context, raw, scenario string, period int) types.Signals {
	if e.call != nil {
		sig, err := e.extractModel(ctx, raw, scenario, period)
		if err == nil {
			Extractions.WithLabelValues(string(types.SourceModel)).Inc()
			return sig
		}
		var perr *ParseError
		if errors.As(err, &perr) {
			e.logger.Warn("unparseable signal analysis, using keyword fallback", "scenario", scenario, "period", period, "error", err)
		} else {
			e.logger.Warn("signal analysis call failed, using keyword fallback", "scenario", scenario, "period", period, "error", err)
		}
	}
	Extractions.WithLabelValues(string(types.SourceFallback)).Inc()
	return e.Fallback(raw, scenario, period)
}

// Fallback runs only the keyword heuristic.
func (e *Extractor) Fallback(raw, scenario string, period int) types.Signals {
	sig := e.fallback.scan(raw)
	stamp(&sig, scenario, period)
	return sig
}

func (e *Extractor) extractModel(ctx context.Context, raw, scenario string, period int) (types.Signals, error) {
	prompt := BuildAnalysisPrompt(raw, scenario, period, e.agents)
	answer, err := e.call(ctx, prompt)
	if err != nil {
		return types.Signals{}, err
	}
	items, err := ParseSignals(answer)
	if err != nil {
		return types.Signals{}, err
	}
	sig := e.filter(items)
	stamp(&sig, scenario, period)
	e.logger.Debug("model signals",
		"scenario", scenario,
		"raw_items", len(items),
		"conflicts", len(sig.Conflicts),
		"alliances", len(sig.Alliances),
		"trust", len(sig.Trust),
		"behaviors", len(sig.Behaviors))
	return sig, nil
}

// RawSignal is one element of the model's JSON answer.
type RawSignal struct {
	Category    string   `json:"category"`
	Type        string   `json:"type"`
	Involved    []string `json:"involved"`
	Severity    string   `json:"severity"`
	Strength    string   `json:"strength"`
	Source      string   `json:"source"`
	Target      string   `json:"target"`
	Direction   string   `json:"direction"`
	Agent       string   `json:"agent"`
	Description string   `json:"description"`
	Reason      string   `json:"reason"`
	Confidence  float64  `json:"confidence"`
}

// ParseError reports a model answer that holds no usable JSON array.
type ParseError struct {
	Snippet string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse signal array: %v (near %q)", e.Err, e.Snippet)
	}
	return fmt.Sprintf("parse signal array: no JSON array in %q", e.Snippet)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseSignals decodes the JSON array spanning the first '[' through the
// last ']' of answer, ignoring prose and code fences around it.
func ParseSignals(answer string) ([]RawSignal, error) {
	start := strings.Index(answer, "[")
	end := strings.LastIndex(answer, "]")
	if start < 0 || end <= start {
		return nil, &ParseError{Snippet: snippet(answer)}
	}
	var items []RawSignal
	if err := json.Unmarshal([]byte(answer[start:end+1]), &items); err != nil {
		return nil, &ParseError{Snippet: snippet(answer[start:]), Err: err}
	}
	return items, nil
}

// filter keeps the items above threshold that name only roster agents.
func (e *Extractor) filter(items []RawSignal) types.Signals {
	sig := emptySignals(types.SourceModel)
	seen := make(map[string]bool)
	for _, it := range items {
		conf := clampUnit(it.Confidence)
		if conf <= e.threshold {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(it.Category)) {
		case "conflict":
			involved := e.known(it.Involved)
			if len(involved) < 2 || !once(seen, "c", it.Type, involved) {
				continue
			}
			sig.Conflicts = append(sig.Conflicts, types.ConflictRecord{
				Involved:   involved,
				Type:       orDefault(it.Type, "general"),
				Severity:   orDefault(it.Severity, "medium"),
				Reason:     it.Reason,
				Confidence: conf,
			})
		case "alliance":
			involved := e.known(it.Involved)
			if len(involved) < 2 || !once(seen, "a", it.Type, involved) {
				continue
			}
			sig.Alliances = append(sig.Alliances, types.AllianceRecord{
				Involved:   involved,
				Type:       orDefault(it.Type, "cooperation"),
				Strength:   orDefault(it.Strength, "moderate"),
				Reason:     it.Reason,
				Confidence: conf,
			})
		case "trust", "trust_change":
			dir := types.Direction(strings.ToLower(it.Direction))
			if dir != types.DirectionPositive && dir != types.DirectionNegative {
				continue
			}
			target := it.Target
			if strings.EqualFold(target, types.AllAgents) {
				target = types.AllAgents
			}
			if !slices.Contains(e.agents, it.Source) || target == it.Source {
				continue
			}
			if target != types.AllAgents && !slices.Contains(e.agents, target) {
				continue
			}
			if !once(seen, "t", string(dir), []string{it.Source, ">" + target}) {
				continue
			}
			sig.Trust = append(sig.Trust, types.TrustSignal{
				Source:     it.Source,
				Target:     target,
				Direction:  dir,
				Reason:     it.Reason,
				Confidence: conf,
			})
		case "behavior", "behaviour":
			if !slices.Contains(e.agents, it.Agent) || !once(seen, "b", it.Type, []string{it.Agent}) {
				continue
			}
			desc := it.Description
			if desc == "" {
				desc = it.Reason
			}
			sig.Behaviors = append(sig.Behaviors, types.BehaviorSignal{
				Agent:       it.Agent,
				Type:        orDefault(it.Type, "general"),
				Description: desc,
				Confidence:  conf,
			})
		}
	}
	return sig
}

// known returns the distinct roster agents in ids, in roster order.
func (e *Extractor) known(ids []string) []string {
	var out []string
	for _, a := range e.agents {
		if slices.Contains(ids, a) {
			out = append(out, a)
		}
	}
	return out
}

func emptySignals(src types.SignalSource) types.Signals {
	return types.Signals{
		Source:    src,
		Conflicts: []types.ConflictRecord{},
		Alliances: []types.AllianceRecord{},
		Trust:     []types.TrustSignal{},
		Behaviors: []types.BehaviorSignal{},
	}
}

func stamp(sig *types.Signals, scenario string, period int) {
	for i := range sig.Conflicts {
		sig.Conflicts[i].Scenario = scenario
		sig.Conflicts[i].Period = period
	}
	for i := range sig.Alliances {
		sig.Alliances[i].Scenario = scenario
		sig.Alliances[i].Period = period
	}
}

// once reports whether the (kind, type, ids) key is new, and marks it.
func once(seen map[string]bool, kind, typ string, ids []string) bool {
	set := slices.Clone(ids)
	slices.Sort(set)
	key := kind + "|" + strings.ToLower(typ) + "|" + strings.Join(set, ",")
	if seen[key] {
		return false
	}
	seen[key] = true
	return true
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}

func clampUnit(v float64) float64 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	}
	return v
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 80 {
		return s[:80] + "..."
	}
	return s
}
