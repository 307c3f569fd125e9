package extractor

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/cpunion/heirloom/pkg/types"
)

type signalKind int

const (
	kindConflict signalKind = iota
	kindAlliance
	kindTrust
	kindBehavior
)

type keywordGroup struct {
	kind  signalKind
	typ   string
	dir   types.Direction
	words []string
	// unless suppresses the group on lines where it matches.
	unless []string
}

var keywordGroups = []keywordGroup{
	{kind: kindConflict, typ: "disagreement", words: []string{
		"disagree", "disagrees", "disagreed", "disagreement", "disagreements",
		"dispute", "disputes", "disputed", "clash", "clashes", "clashed",
		"argue", "argues", "argued", "argument", "arguments",
		"oppose", "opposes", "opposed", "object to", "tension", "tensions",
	}},
	{kind: kindConflict, typ: "competition", words: []string{
		"compete", "competes", "competing", "rival", "rivalry",
		"undermine", "undermines", "undermining", "sabotage", "sideline",
	}},
	{kind: kindAlliance, typ: "collaboration", words: []string{
		"collaborate", "collaborates", "collaborated", "collaboration",
		"support", "supports", "supported", "supporting",
		"coalition", "alliance", "ally", "allies", "team up", "join forces",
		"partner", "partners", "partnership", "agree with", "side with",
	}},
	{kind: kindTrust, typ: "trust", dir: types.DirectionNegative, words: []string{
		"distrust", "mistrust", "suspicious", "suspect", "betray", "betrayed", "betrayal",
		"doubt", "doubts", "can't trust", "cannot trust", "don't trust", "lied", "deceive",
	}},
	{kind: kindTrust, typ: "trust", dir: types.DirectionPositive, words: []string{
		"trust", "trusts", "trusted", "rely on", "relies on", "count on",
		"confidence in", "believe in", "depend on", "vouch for",
	}, unless: []string{
		"distrust", "mistrust", "can't trust", "cannot trust", "don't trust", "doesn't trust", "not trust",
	}},
	{kind: kindBehavior, typ: "self_interest", words: []string{
		"my share", "for myself", "my own", "my cut", "what's in it for me", "personally benefit",
	}},
	{kind: kindBehavior, typ: "leadership", words: []string{
		"i propose", "take the lead", "i'll coordinate", "let me coordinate", "i'll handle", "i will lead",
	}},
	{kind: kindBehavior, typ: "compromise", words: []string{
		"compromise", "meet halfway", "middle ground", "fair split", "equal share",
	}},
	{kind: kindBehavior, typ: "risk_taking", words: []string{
		"gamble", "bold move", "high risk", "take the risk", "all in",
	}},
}

type compiledGroup struct {
	keywordGroup
	re     *regexp.Regexp
	unless *regexp.Regexp
}

type agentPattern struct {
	id string
	re *regexp.Regexp
}

// keywordScanner is the heuristic fallback. Each keyword hit looks for agent
// mentions within window lines of the hit.
type keywordScanner struct {
	agents   []string
	patterns []agentPattern
	groups   []compiledGroup
	window   int
	pairConf float64
	oneConf  float64
}

func newKeywordScanner(agents []string, aliases map[string]string, window int, pairConf, oneConf float64) *keywordScanner {
	s := &keywordScanner{
		agents:   slices.Clone(agents),
		window:   window,
		pairConf: pairConf,
		oneConf:  oneConf,
	}
	for _, a := range agents {
		s.patterns = append(s.patterns, agentPattern{id: a, re: regexp.MustCompile(`\b` + regexp.QuoteMeta(a) + `\b`)})
	}
	names := make([]string, 0, len(aliases))
	for name := range aliases {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if id := aliases[name]; slices.Contains(agents, id) {
			s.patterns = append(s.patterns, agentPattern{id: id, re: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(name) + `\b`)})
		}
	}
	for _, g := range keywordGroups {
		cg := compiledGroup{keywordGroup: g, re: wordsRegexp(g.words)}
		if len(g.unless) > 0 {
			cg.unless = wordsRegexp(g.unless)
		}
		s.groups = append(s.groups, cg)
	}
	return s
}

func wordsRegexp(words []string) *regexp.Regexp {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

// mentions returns the agents mentioned in line, ordered by first position.
func (s *keywordScanner) mentions(line string) []string {
	type hit struct {
		id  string
		pos int
	}
	var hits []hit
	for _, p := range s.patterns {
		if loc := p.re.FindStringIndex(line); loc != nil {
			hits = append(hits, hit{p.id, loc[0]})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })
	var out []string
	for _, h := range hits {
		if !slices.Contains(out, h.id) {
			out = append(out, h.id)
		}
	}
	return out
}

func (s *keywordScanner) scan(raw string) types.Signals {
	sig := emptySignals(types.SourceFallback)
	lines := strings.Split(raw, "\n")
	byLine := make([][]string, len(lines))
	for i, l := range lines {
		byLine[i] = s.mentions(l)
	}
	seen := make(map[string]bool)

	for i, line := range lines {
		for _, g := range s.groups {
			match := g.re.FindString(line)
			if match == "" || (g.unless != nil && g.unless.MatchString(line)) {
				continue
			}
			reason := fmt.Sprintf("keyword %q on line %d", strings.ToLower(match), i+1)
			nearby := s.nearby(byLine, i)

			switch g.kind {
			case kindConflict:
				involved := s.inRosterOrder(nearby)
				if len(involved) < 2 || !once(seen, "c", g.typ, involved) {
					continue
				}
				sig.Conflicts = append(sig.Conflicts, types.ConflictRecord{
					Involved:   involved,
					Type:       g.typ,
					Severity:   "medium",
					Reason:     reason,
					Confidence: s.pairConf,
				})
			case kindAlliance:
				involved := s.inRosterOrder(nearby)
				if len(involved) < 2 || !once(seen, "a", g.typ, involved) {
					continue
				}
				sig.Alliances = append(sig.Alliances, types.AllianceRecord{
					Involved:   involved,
					Type:       g.typ,
					Strength:   "moderate",
					Reason:     reason,
					Confidence: s.pairConf,
				})
			case kindTrust:
				if len(nearby) == 0 {
					continue
				}
				source, target := nearby[0], types.AllAgents
				if len(nearby) > 1 {
					target = nearby[1]
				}
				if !once(seen, "t", string(g.dir), []string{source, ">" + target}) {
					continue
				}
				sig.Trust = append(sig.Trust, types.TrustSignal{
					Source:     source,
					Target:     target,
					Direction:  g.dir,
					Reason:     reason,
					Confidence: s.oneConf,
				})
			case kindBehavior:
				if len(nearby) == 0 || !once(seen, "b", g.typ, nearby[:1]) {
					continue
				}
				sig.Behaviors = append(sig.Behaviors, types.BehaviorSignal{
					Agent:       nearby[0],
					Type:        g.typ,
					Description: strings.TrimSpace(line),
					Confidence:  s.oneConf,
				})
			}
		}
	}
	return sig
}

// nearby returns the agents mentioned within the window around line i,
// nearest lines first: the hit line, then one line above and below, and so on.
func (s *keywordScanner) nearby(byLine [][]string, i int) []string {
	var out []string
	add := func(j int) {
		if j < 0 || j >= len(byLine) {
			return
		}
		for _, id := range byLine[j] {
			if !slices.Contains(out, id) {
				out = append(out, id)
			}
		}
	}
	add(i)
	for d := 1; d <= s.window; d++ {
		add(i - d)
		add(i + d)
	}
	return out
}

func (s *keywordScanner) inRosterOrder(ids []string) []string {
	var out []string
	for _, a := range s.agents {
		if slices.Contains(ids, a) {
			out = append(out, a)
		}
	}
	return out
}
