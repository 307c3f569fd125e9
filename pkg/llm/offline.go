package llm

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
)

// OfflineProvider answers without any network call. Replies are rule based
// and deterministic in the prompt, so whole experiments can be dry-run.
// Analysis prompts get prose without a JSON array, which leaves signal
// extraction to the keyword heuristic.
type OfflineProvider struct {
	peers []string
}

// NewOfflineProvider creates an offline provider that mentions peers in its
// scripted lines.
func NewOfflineProvider(peers []string) *OfflineProvider {
	return &OfflineProvider{peers: peers}
}

func (p *OfflineProvider) Name() string { return "offline" }

var (
	speakerRe  = regexp.MustCompile(`Start your reply with "([^"]+):"`)
	scenarioRe = regexp.MustCompile(`(?m)^## Scenario: (.+)$`)
)

var offlineLines = []string{
	"I support {peer} on this; we should collaborate on the next step.",
	"I disagree with {peer}. That plan puts the gallery at risk.",
	"I trust {peer} to handle the paperwork.",
	"Honestly I doubt {peer} has thought about the costs.",
	"I propose a compromise: split the work evenly and review in a week.",
	"I want my share of any proceeds before we commit more money.",
}

// Generate returns a scripted reply.
func (p *OfflineProvider) Generate(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	m := speakerRe.FindStringSubmatch(req.Prompt)
	if m == nil {
		return Response{Text: "Offline mode: no structured analysis available."}, nil
	}
	speaker := m[1]
	scenario := "this situation"
	if s := scenarioRe.FindStringSubmatch(req.Prompt); s != nil {
		scenario = strings.TrimSpace(s[1])
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(req.Prompt))
	sum := h.Sum32()

	peer := p.peer(speaker, int(sum>>8))
	line := strings.ReplaceAll(offlineLines[int(sum%uint32(len(offlineLines)))], "{peer}", peer)
	return Response{Text: fmt.Sprintf("%s: On %s, %s", speaker, scenario, line)}, nil
}

func (p *OfflineProvider) peer(speaker string, n int) string {
	var others []string
	for _, id := range p.peers {
		if id != speaker {
			others = append(others, id)
		}
	}
	if len(others) == 0 {
		return "the others"
	}
	return others[n%len(others)]
}
