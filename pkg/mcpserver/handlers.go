package mcpserver

import (
	"context"
	"sort"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cpunion/heirloom/pkg/ledger"
	"github.com/cpunion/heirloom/pkg/report"
)

// PeriodInput selects a checkpoint.
type PeriodInput struct {
	Period int `json:"period,omitempty" jsonschema:"period checkpoint to read; 0 or omitted reads the latest"`
}

// StatusOutput is the result of experiment_status.
type StatusOutput struct {
	RunID           string                 `json:"run_id"`
	Variant         string                 `json:"variant"`
	Period          int                    `json:"period"`
	SubStep         int                    `json:"sub_step"`
	CompletedEvents []string               `json:"completed_events"`
	Resources       map[string]ledger.Pool `json:"resources"`
	Shared          ledger.SharedPool      `json:"shared"`
	LastSaved       string                 `json:"last_saved"`
}

// AgentRelations summarises one agent's stored records.
type AgentRelations struct {
	Agent     string             `json:"agent_id"`
	Trust     map[string]float64 `json:"trust"`
	Conflicts int                `json:"conflicts"`
	Alliances int                `json:"alliances"`
}

// MatrixOutput is the result of relationship_matrix.
type MatrixOutput struct {
	Period int              `json:"period"`
	Agents []AgentRelations `json:"agents"`
}

// ReportOutput is the result of experiment_report.
type ReportOutput struct {
	Text string `json:"text"`
}

func (s *Server) handleStatus(ctx context.Context, req *sdk.CallToolRequest, args PeriodInput) (*sdk.CallToolResult, StatusOutput, error) {
	cp, err := s.checkpoint(args.Period)
	if err != nil {
		return nil, StatusOutput{}, err
	}
	completed := cp.Timeline.CompletedEvents
	if completed == nil {
		completed = []string{}
	}
	return nil, StatusOutput{
		RunID:           cp.RunID,
		Variant:         cp.Variant,
		Period:          cp.Timeline.CurrentPeriod,
		SubStep:         cp.Timeline.CurrentSubStep,
		CompletedEvents: completed,
		Resources:       cp.Resources.Agents,
		Shared:          cp.Resources.Shared,
		LastSaved:       cp.LastSaved.Format("2006-01-02T15:04:05Z07:00"),
	}, nil
}

func (s *Server) handleMatrix(ctx context.Context, req *sdk.CallToolRequest, args PeriodInput) (*sdk.CallToolResult, MatrixOutput, error) {
	cp, err := s.checkpoint(args.Period)
	if err != nil {
		return nil, MatrixOutput{}, err
	}
	r := report.Build(cp, s.cfg.Roster, s.cfg.Now())
	out := MatrixOutput{Period: cp.Period}
	for _, a := range r.Agents {
		out.Agents = append(out.Agents, AgentRelations{
			Agent:     a.ID,
			Trust:     r.Trust[a.ID],
			Conflicts: a.Conflicts,
			Alliances: a.Alliances,
		})
	}
	sort.SliceStable(out.Agents, func(i, j int) bool { return out.Agents[i].Agent < out.Agents[j].Agent })
	return nil, out, nil
}

func (s *Server) handleReport(ctx context.Context, req *sdk.CallToolRequest, args PeriodInput) (*sdk.CallToolResult, ReportOutput, error) {
	cp, err := s.checkpoint(args.Period)
	if err != nil {
		return nil, ReportOutput{}, err
	}
	text := report.Render(report.Build(cp, s.cfg.Roster, s.cfg.Now()))
	return &sdk.CallToolResult{
		Content: []sdk.Content{&sdk.TextContent{Text: text}},
	}, ReportOutput{Text: text}, nil
}
