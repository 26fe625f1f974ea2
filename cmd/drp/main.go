package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/GoSim-25-26J-441/drp-planner/internal/dynamics"
	"github.com/GoSim-25-26J-441/drp-planner/internal/metrics"
	"github.com/GoSim-25-26J-441/drp-planner/internal/nn"
	"github.com/GoSim-25-26J-441/drp-planner/internal/solver"
	"github.com/GoSim-25-26J-441/drp-planner/pkg/config"
	"github.com/GoSim-25-26J-441/drp-planner/pkg/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "drp",
	Short: "Deep reactive policy planner",
	Long: `Trains a neural network control policy by gradient descent through a
differentiable model of the environment dynamics.`,
	SilenceUsage: true,
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a policy",
	RunE:  runTrain,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "drp %s\n", version)
	},
}

func init() {
	d := config.Default()

	rootCmd.PersistentFlags().String("config", "", "YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", d.LogLevel, "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", d.LogFormat, "Log format (json, text)")

	rootCmd.PersistentFlags().String("log-dir", d.LogDir, "Directory holding one trace directory per run")

	f := trainCmd.Flags()
	f.String("model", d.Model.Name, "Dynamics model ("+strings.Join(dynamics.ModelNames(), ", ")+")")
	f.Int64("seed", d.Model.Seed, "Seed of the model and the policy initializer")
	f.IntSlice("layers", d.Policy.Layers, "Hidden layer sizes")
	f.String("activation", d.Policy.Activation, "Activation ("+strings.Join(nn.ActivationNames(), ", ")+")")
	f.Bool("input-norm", d.Policy.InputLayerNorm, "Layer-normalize the input fluents")
	f.Bool("hidden-norm", d.Policy.HiddenLayerNorm, "Layer-normalize the hidden layers")
	f.String("optimizer", d.Training.Optimizer, "Optimizer ("+strings.Join(solver.Names(), ", ")+")")
	f.String("loss", d.Training.Loss, "Loss ("+strings.Join(nn.LossNames(), ", ")+")")
	f.Float64("learning-rate", d.Training.LearningRate, "Learning rate")
	f.Int("batch-size", d.Training.BatchSize, "Number of simulated trajectories per step")
	f.Int("horizon", d.Training.Horizon, "Number of timesteps per trajectory")
	f.Int("epochs", d.Training.Epochs, "Number of training steps")
	f.Bool("show-progress", d.Training.ShowProgress, "Print a progress line per step")
	f.Bool("debug", d.Training.Debug, "Trace reward, gradient and weight statistics")
	f.String("checkpoint", d.Checkpoint.Path, "Checkpoint path (default: temp dir named after the policy)")
	f.String("health-addr", d.Health.Addr, "gRPC health endpoint address (disabled when empty)")

	// flags and DRP_* environment variables override the config file
	viper.BindPFlags(rootCmd.PersistentFlags())
	viper.BindPFlags(f)
	viper.SetEnvPrefix("DRP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(trainCmd, runsCmd, versionCmd)
}

func runTrain(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}

	l := logger.NewWithFormat(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
	logger.SetDefault(l)

	res, err := train(cfg, l, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if cfg.Training.ShowProgress {
		fmt.Fprintln(cmd.OutOrStdout())
	}
	args := []any{
		"run_id", res.RunID,
		"policy", res.Policy.Name(),
		"improvements", len(res.Rewards),
		"best_avg_total_reward", res.Best(),
		"checkpoint", res.Policy.LastSaved(),
		"trace_dir", res.TraceDir,
	}
	if agg := res.Metrics.Aggregation(metrics.MetricStepDurationMs, metrics.RunLabels(res.RunID)); agg != nil {
		args = append(args, "step_ms_mean", agg.Mean, "step_ms_p95", agg.P95)
	}
	l.Info("Run complete", args...)
	return nil
}

// loadConfig reads the optional config file and overlays every flag or
// environment variable that was set.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg := config.Default()
	if path := v.GetString("config"); path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	overlay := []struct {
		key   string
		apply func()
	}{
		{"log-level", func() { cfg.LogLevel = v.GetString("log-level") }},
		{"log-format", func() { cfg.LogFormat = v.GetString("log-format") }},
		{"log-dir", func() { cfg.LogDir = v.GetString("log-dir") }},
		{"model", func() { cfg.Model.Name = v.GetString("model") }},
		{"seed", func() {
			cfg.Model.Seed = v.GetInt64("seed")
			cfg.Policy.Seed = v.GetInt64("seed")
		}},
		{"layers", func() { cfg.Policy.Layers = v.GetIntSlice("layers") }},
		{"activation", func() { cfg.Policy.Activation = v.GetString("activation") }},
		{"input-norm", func() { cfg.Policy.InputLayerNorm = v.GetBool("input-norm") }},
		{"hidden-norm", func() { cfg.Policy.HiddenLayerNorm = v.GetBool("hidden-norm") }},
		{"optimizer", func() { cfg.Training.Optimizer = v.GetString("optimizer") }},
		{"loss", func() { cfg.Training.Loss = v.GetString("loss") }},
		{"learning-rate", func() { cfg.Training.LearningRate = v.GetFloat64("learning-rate") }},
		{"batch-size", func() { cfg.Training.BatchSize = v.GetInt("batch-size") }},
		{"horizon", func() { cfg.Training.Horizon = v.GetInt("horizon") }},
		{"epochs", func() { cfg.Training.Epochs = v.GetInt("epochs") }},
		{"show-progress", func() { cfg.Training.ShowProgress = v.GetBool("show-progress") }},
		{"debug", func() { cfg.Training.Debug = v.GetBool("debug") }},
		{"checkpoint", func() { cfg.Checkpoint.Path = v.GetString("checkpoint") }},
		{"health-addr", func() { cfg.Health.Addr = v.GetString("health-addr") }},
	}
	for _, o := range overlay {
		if v.IsSet(o.key) {
			o.apply()
		}
	}

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
