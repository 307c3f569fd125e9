// Package mcpserver exposes saved experiment state over the Model Context
// Protocol so assistants can inspect a run while it progresses.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cpunion/heirloom/pkg/agent"
	"github.com/cpunion/heirloom/pkg/simulation"
)

// Config holds server configuration.
type Config struct {
	Name      string
	Version   string
	OutputDir string
	// Roster supplies trust seeds and endowments; nil means the default.
	Roster *agent.Roster
	Logger *slog.Logger
	Now    func() time.Time
}

// Server serves read-only tools over the checkpoints in one output directory.
type Server struct {
	server *sdk.Server
	cfg    Config
}

// NewServer creates a server with the experiment tools registered.
func NewServer(cfg Config) *Server {
	if cfg.Name == "" {
		cfg.Name = "heirloom"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Roster == nil {
		cfg.Roster = agent.DefaultRoster()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Server{
		server: sdk.NewServer(&sdk.Implementation{Name: cfg.Name, Version: cfg.Version}, nil),
		cfg:    cfg,
	}

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "experiment_status",
		Description: "Show timeline progress and resource pools from the latest or a given period checkpoint",
	}, s.handleStatus)
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "relationship_matrix",
		Description: "Show the directed trust matrix and conflict/alliance counts per agent",
	}, s.handleMatrix)
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "experiment_report",
		Description: "Render a text report of the experiment so far",
	}, s.handleReport)

	return s
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *sdk.Server { return s.server }

// Run serves over stdio until the client disconnects or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.cfg.Logger.Info("mcp server starting", "output", s.cfg.OutputDir)
	return s.server.Run(ctx, &sdk.StdioTransport{})
}

func (s *Server) checkpoint(period int) (*simulation.Checkpoint, error) {
	if period <= 0 {
		cp, err := simulation.LatestCheckpoint(s.cfg.OutputDir)
		if err != nil {
			return nil, err
		}
		if cp == nil {
			return nil, fmt.Errorf("no checkpoints in %s", s.cfg.OutputDir)
		}
		return cp, nil
	}
	return simulation.LoadCheckpoint(simulation.CheckpointPath(s.cfg.OutputDir, period))
}
