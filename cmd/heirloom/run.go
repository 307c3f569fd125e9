package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/genai"

	"github.com/cpunion/heirloom/pkg/agent"
	"github.com/cpunion/heirloom/pkg/extractor"
	"github.com/cpunion/heirloom/pkg/governor"
	"github.com/cpunion/heirloom/pkg/llm"
	"github.com/cpunion/heirloom/pkg/relationship"
	"github.com/cpunion/heirloom/pkg/report"
	"github.com/cpunion/heirloom/pkg/simulation"
	"github.com/cpunion/heirloom/pkg/store"
	"github.com/cpunion/heirloom/pkg/timeline"
)

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run every period of the experiment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withExperiment(cmd, func(ctx context.Context, e *simulation.Experiment) error {
				return e.RunFull(ctx)
			})
		},
	}
}

func newPeriodCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "period N",
		Short: "Run a single period, seeding from the previous period's checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid period %q: %w", args[0], err)
			}
			return a.withExperiment(cmd, func(ctx context.Context, e *simulation.Experiment) error {
				return e.RunSinglePeriod(ctx, p)
			})
		},
	}
}

func newResumeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Continue from the latest checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withExperiment(cmd, func(ctx context.Context, e *simulation.Experiment) error {
				return e.RunResume(ctx)
			})
		},
	}
}

// outputDir is where the configured variant keeps its checkpoints.
func (a *app) outputDir() string {
	dir := a.cfg.Experiment.OutputDir
	if a.altered() {
		name := a.cfg.Model.Name
		if name == "" {
			name = a.cfg.Model.Provider
		}
		dir = filepath.Join(dir, name+"_altered")
	}
	return dir
}

func (a *app) altered() bool {
	return a.cfg.Experiment.Variant == simulation.VariantAltered || a.cfg.Experiment.SelfInterest
}

func (a *app) roster() (*agent.Roster, error) {
	if a.cfg.Experiment.RosterFile == "" {
		return agent.DefaultRoster(), nil
	}
	return agent.LoadRoster(a.cfg.Experiment.RosterFile)
}

func (a *app) timeline() (*timeline.Definition, error) {
	if a.cfg.Experiment.TimelineFile == "" {
		return timeline.Default(), nil
	}
	return timeline.Load(a.cfg.Experiment.TimelineFile)
}

// withExperiment wires an experiment from the configuration, runs fn under
// a signal-aware context and exports the report when fn succeeds.
func (a *app) withExperiment(cmd *cobra.Command, fn func(context.Context, *simulation.Experiment) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if addr := a.cfg.Metrics.Addr; addr != "" {
		srv := serveMetrics(addr, a)
		defer srv.Close()
	}

	roster, err := a.roster()
	if err != nil {
		return err
	}
	def, err := a.timeline()
	if err != nil {
		return err
	}
	provider, err := a.provider(ctx, roster)
	if err != nil {
		return err
	}

	govCfg := a.cfg.Governor.Build()
	govCfg.Logger = a.logger
	if a.cfg.Governor.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: a.cfg.Governor.RedisAddr})
		defer client.Close()
		govCfg.Window = governor.NewRedisWindow(client, a.cfg.Governor.RedisKey, 2*time.Hour)
	}

	out := a.outputDir()
	if err := os.MkdirAll(out, 0755); err != nil {
		return err
	}
	events, err := simulation.NewFeedLogger(filepath.Join(out, "events"), a.cfg.Experiment.EventsPerShard)
	if err != nil {
		return err
	}
	defer events.Close()

	cfg := simulation.Config{
		Variant:       a.cfg.Experiment.Variant,
		SelfInterest:  a.altered(),
		OutputDir:     out,
		ImpactMode:    simulation.ImpactMode(a.cfg.Experiment.ImpactMode),
		ScenarioPause: a.cfg.Experiment.ScenarioPause,
		PeriodPause:   a.cfg.Experiment.PeriodPause,

		ConfidenceFloor:     a.cfg.Relationship.ConfidenceFloor,
		SkipModelExtraction: !a.cfg.Extractor.UseModel,

		Roster:   roster,
		Timeline: def,
		Provider: provider,
		Governor: governor.New(govCfg),
		Relationship: relationship.Config{
			BaseDelta:      a.cfg.Relationship.BaseDelta,
			BroadcastScale: a.cfg.Relationship.BroadcastScale,
		},
		Extraction: extractor.Config{
			Threshold:          a.cfg.Extractor.Threshold,
			Window:             a.cfg.Extractor.Window,
			FallbackConfidence: a.cfg.Extractor.FallbackConfidence,
		},
		EventLog: events,
		Logger:   a.logger,
	}
	if a.altered() {
		cfg.Variant = simulation.VariantAltered
	}

	if path := a.cfg.Store.SQLitePath; path != "" {
		hist, err := store.Open(path)
		if err != nil {
			return err
		}
		defer hist.Close()
		cfg.HistorySink = hist
		cfg.Outcomes = hist
	}

	e, err := simulation.New(cfg)
	if err != nil {
		return err
	}

	start := time.Now()
	runErr := fn(ctx, e)
	usage := e.Usage()
	a.logger.Info("experiment finished",
		"run_id", e.RunID(),
		"output", out,
		"elapsed", time.Since(start).Round(time.Millisecond),
		"prompt_tokens", usage.PromptTokens,
		"output_tokens", usage.CandidatesTokens,
		"error", runErr)

	var eventErr *simulation.EventError
	if errors.As(runErr, &eventErr) {
		fmt.Fprintf(cmd.ErrOrStderr(), "event %s (%q, period %d) failed after %d attempts; run `heirloom resume` to continue\n",
			eventErr.EventID, eventErr.Title, eventErr.Period, eventErr.Attempts)
	}
	if runErr != nil {
		return runErr
	}

	cp := e.Snapshot()
	if err := report.Export(out, report.Build(cp, roster, time.Now()), cp); err != nil {
		return fmt.Errorf("export report: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d events completed, results in %s\n",
		e.RunID(), len(cp.Timeline.CompletedEvents), out)
	return nil
}

func (a *app) provider(ctx context.Context, roster *agent.Roster) (llm.Provider, error) {
	switch a.cfg.Model.Provider {
	case "offline":
		return llm.NewOfflineProvider(roster.IDs()), nil
	case "adk":
		apiKey := os.Getenv("GOOGLE_API_KEY")
		if apiKey == "" {
			return nil, errors.New("GOOGLE_API_KEY not set")
		}
		m, err := gemini.NewModel(ctx, llm.ResolveModel(a.cfg.Model.Name), &genai.ClientConfig{
			APIKey:  apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("create model: %w", err)
		}
		return llm.NewModelProvider(m, a.cfg.Model.Temperature), nil
	default:
		return llm.NewGeminiProvider(ctx, llm.GeminiConfig{
			Model:       a.cfg.Model.Name,
			Temperature: a.cfg.Model.Temperature,
		})
	}
}

func serveMetrics(addr string, a *app) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", addr)
	return srv
}
