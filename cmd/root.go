package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/inference-sim/pcabench/bench"
	"github.com/inference-sim/pcabench/engine"
	"github.com/inference-sim/pcabench/metrics"
)

// Flag names. They double as viper keys and, upper-cased with the PCABENCH_
// prefix, as environment variables.
const (
	flagNumVecs         = "num_vecs"
	flagDim             = "dim"
	flagNComponents     = "n_components"
	flagNumGPUs         = "num_gpus"
	flagNumCPUs         = "num_cpus"
	flagDType           = "dtype"
	flagNumRuns         = "num_runs"
	flagReportPath      = "report_path"
	flagSparkConfs      = "spark_confs"
	flagSeed            = "seed"
	flagLog             = "log"
	flagConfig          = "config"
	flagMetricsPath     = "metrics_path"
	flagDiscoveryScript = "discovery_script"
)

const envPrefix = "PCABENCH"

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "pcabench",
	Short: "Benchmark CPU and accelerated distributed PCA",
}

// runCmd executes the benchmark using parameters from flags, env and config file
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the PCA benchmark",
	Run: func(cmd *cobra.Command, args []string) {
		v, err := newSettings(cmd.Flags())
		if err != nil {
			logrus.Fatalf("Failed to load settings: %v", err)
		}
		setupLogging(v.GetString(flagLog))

		cfg, err := buildConfig(v)
		if err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}

		m := metrics.New()
		runner, err := bench.NewRunner(cfg, bench.WithMetrics(m))
		if err != nil {
			logrus.Fatalf("%v", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logrus.Infof("Starting benchmark: mode=%s num_vecs=%d dim=%d n_components=%d runs=%d",
			cfg.Mode(), cfg.NumVecs, cfg.Dim, cfg.NComponents, cfg.NumRuns)

		report, runErr := runner.Run(ctx, func(runID int, rep *bench.Report) {
			fmt.Println(rep.Table())
		})
		if s := engine.ActiveSession(); s != nil {
			s.Stop()
		}
		if runErr != nil {
			logrus.Errorf("Benchmark failed: %v", runErr)
		}

		fmt.Printf("\nsummary of the total %d runs:\n\n", cfg.NumRuns)
		fmt.Println(report.Table())

		if cfg.ReportPath != "" && report.Len() > 0 {
			if err := report.AppendFile(cfg.ReportPath); err != nil {
				logrus.Errorf("Failed to write report: %v", err)
			} else {
				logrus.Infof("Appended %d rows to %s", report.Len(), cfg.ReportPath)
			}
		}
		if path := v.GetString(flagMetricsPath); path != "" {
			if err := m.WriteTextfile(path); err != nil {
				logrus.Errorf("Failed to write metrics: %v", err)
			}
		}
		if runErr != nil {
			os.Exit(1)
		}
		logrus.Info("Benchmark complete.")
	},
}

// setupLogging sets the logrus level, failing on unknown names.
func setupLogging(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", level)
	}
	logrus.SetLevel(lvl)
}

// newSettings resolves flag values with precedence flag > PCABENCH_* env >
// --config file > built-in default.
func newSettings(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("binding flags: %w", err)
	}
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	if path := v.GetString(flagConfig); path != "" {
		fc, err := loadFileConfig(path)
		if err != nil {
			return nil, err
		}
		fc.applyDefaults(v)
	}
	return v, nil
}

// buildConfig assembles a bench.Config from the resolved settings.
func buildConfig(v *viper.Viper) (*bench.Config, error) {
	confs, err := bench.ParseConfPairs(v.GetStringSlice(flagSparkConfs))
	if err != nil {
		return nil, err
	}
	cfg := &bench.Config{
		NumVecs:     v.GetInt(flagNumVecs),
		Dim:         v.GetInt(flagDim),
		NComponents: v.GetInt(flagNComponents),
		NumGPUs:     v.GetInt(flagNumGPUs),
		NumCPUs:     v.GetInt(flagNumCPUs),
		DType:       v.GetString(flagDType),
		NumRuns:     v.GetInt(flagNumRuns),
		ReportPath:  v.GetString(flagReportPath),
		Seed:        v.GetInt64(flagSeed),
		EngineConfs: withDiscovery(confs, v.GetString(flagDiscoveryScript), v.GetInt(flagNumGPUs)),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withDiscovery adds the device discovery settings implied by
// --discovery_script unless the user set them explicitly.
func withDiscovery(confs []bench.ConfPair, script string, numGPUs int) []bench.ConfPair {
	if script == "" || numGPUs <= 0 {
		return confs
	}
	has := func(key string) bool {
		for _, p := range confs {
			if p.Key == key {
				return true
			}
		}
		return false
	}
	if !has(engine.KeyGPUDiscoveryScript) {
		confs = append(confs, bench.ConfPair{Key: engine.KeyGPUDiscoveryScript, Value: script})
	}
	if !has(engine.KeyTaskGPUAmount) {
		confs = append(confs, bench.ConfPair{Key: engine.KeyTaskGPUAmount, Value: "1"})
	}
	return confs
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// registerRunFlags defines the flags of the run command on fs.
func registerRunFlags(fs *pflag.FlagSet) {
	fs.Int(flagNumVecs, 5000, "Number of vectors in the generated dataset")
	fs.Int(flagDim, 2000, "Dimension of each vector")
	fs.Int(flagNComponents, 3, "Number of principal components")
	fs.Int(flagNumGPUs, 1, "Number of available GPUs. If > 0, the accelerated PCA runs with this many workers and dataset partitions")
	fs.Int(flagNumCPUs, 6, "Number of available CPUs. If > 0, the CPU PCA runs with this many dataset partitions")
	fs.String(flagDType, bench.DTypeFloat64, "Dataset element type (float64, float32)")
	fs.Int(flagNumRuns, 2, "Number of repetitions, covering cold and warm runs")
	fs.String(flagReportPath, "", "CSV file the report rows are appended to")
	fs.StringArray(flagSparkConfs, nil, "Engine conf override as key=value (repeatable)")

	fs.Int64(flagSeed, 42, "Seed for dataset generation")
	fs.String(flagLog, "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	fs.String(flagConfig, "", "YAML file with default flag values")
	fs.String(flagMetricsPath, "", "File to write Prometheus metrics to after the benchmark")
	fs.String(flagDiscoveryScript, "", "Device discovery script used in GPU mode")
}

// init sets up CLI flags and subcommands
func init() {
	registerRunFlags(runCmd.Flags())
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(discoverCmd)
}
