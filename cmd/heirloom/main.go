// Command heirloom runs and inspects multi-period inheritance experiments.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cpunion/heirloom/pkg/config"
	"github.com/cpunion/heirloom/pkg/logging"
)

var version = "0.1.0-dev"

// app carries the resolved configuration to every subcommand.
type app struct {
	v      *viper.Viper
	cfg    *config.Config
	logger *slog.Logger
}

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:   "heirloom",
		Short: "Multi-period agent simulation of a shared inheritance",
		Long: `heirloom runs a cast of model-driven agents through a timeline of
scenario events, tracking their resources, trust and conflicts, and
checkpointing after every event so an interrupted run can resume.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(a.v, file)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logging.NewLogger(cfg.Log.Level, cmd.ErrOrStderr())
			slog.SetDefault(a.logger)
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Config file (default ./heirloom.{yaml,toml,json})")
	flags.String("provider", "", "Model provider: gemini, adk or offline")
	flags.String("model", "", "Model name")
	flags.String("output", "", "Output directory")
	flags.String("variant", "", "Experiment variant: base or altered")
	flags.Bool("self-interest", false, "Add the self-interest directive to every persona")
	flags.String("log-level", "", "Log level: trace, debug, info, warn, error")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address")

	for key, flag := range map[string]string{
		"model.provider":           "provider",
		"model.name":               "model",
		"experiment.output_dir":    "output",
		"experiment.variant":       "variant",
		"experiment.self_interest": "self-interest",
		"log.level":                "log-level",
		"metrics.addr":             "metrics-addr",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}

	rootCmd.AddCommand(
		newRunCmd(a),
		newPeriodCmd(a),
		newResumeCmd(a),
		newStatusCmd(a),
		newReportCmd(a),
		newTimelineCmd(a),
		newMCPCmd(a),
	)
	return rootCmd
}
