package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ESiegman/Thermo-PID/internal/backend"
	"github.com/ESiegman/Thermo-PID/internal/config"
	"github.com/ESiegman/Thermo-PID/internal/tui"
)

var (
	dataDir    string
	configFile string
	preset     string
	backendArg string
	setpoint   float64
	interval   time.Duration
	duration   time.Duration
	kp         float64
	ki         float64
	kd         float64
	method     string
	noTune     bool
	logLevel   string
	logFormat  string
	// oscillate
	cycles     int
	halfPeriod time.Duration
	level      float64
	// probe
	samples int
	// export-svg
	svgWidth  int
	svgHeight int
)

// main registers the commands and exits with status 1 when a command
// fails, including a regulator run that stopped on a fatal error.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:           "thermopid",
		Short:         "self-tuning temperature regulator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", config.DefaultDataDir, "data directory")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run the regulator until interrupted or the duration elapses",
		Args:  cobra.NoArgs,
		RunE:  runRegulator,
	}
	addLoopFlags(runCmd)

	liveCmd := &cobra.Command{
		Use:   "live",
		Short: "run the regulator with a live dashboard",
		Args:  cobra.NoArgs,
		RunE:  runLive,
	}
	addLoopFlags(liveCmd)

	oscillateCmd := &cobra.Command{
		Use:   "oscillate",
		Short: "open-loop heat/cool cycling to characterise the plant",
		Args:  cobra.NoArgs,
		RunE:  runOscillate,
	}
	addBackendFlags(oscillateCmd)
	oscillateCmd.Flags().IntVar(&cycles, "cycles", 10, "number of cool/heat cycles")
	oscillateCmd.Flags().DurationVar(&halfPeriod, "half-period", 5*time.Second, "length of each half-cycle")
	oscillateCmd.Flags().Float64Var(&level, "level", 2, "output level for both half-cycles")

	probeCmd := &cobra.Command{
		Use:   "probe",
		Short: "read the feedback sensor without driving any output",
		Args:  cobra.NoArgs,
		RunE:  runProbe,
	}
	addBackendFlags(probeCmd)
	probeCmd.Flags().IntVar(&samples, "samples", 10, "number of readings")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		Args:  cobra.NoArgs,
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot temperature, command and gains of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}

	analyzeCmd := &cobra.Command{
		Use:   "analyze [run_id]",
		Short: "tracking statistics and error spectrum of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  analyzeRun,
	}

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export a run as json to stdout",
		Args:  cobra.ExactArgs(1),
		RunE:  exportJSON,
	}

	exportSVGCmd := &cobra.Command{
		Use:   "export-svg [run_id] [output]",
		Short: "render temperature and setpoint of a run as svg",
		Args:  cobra.ExactArgs(2),
		RunE:  exportSVG,
	}
	exportSVGCmd.Flags().IntVar(&svgWidth, "width", 800, "image width")
	exportSVGCmd.Flags().IntVar(&svgHeight, "height", 400, "image height")

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list configuration presets",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(tui.Header("presets"))
			for _, name := range config.ListPresets() {
				cfg := config.GetPreset(name)
				fmt.Printf("  %-12s backend=%s gains=(%s) tuning=%v/%s\n",
					name, cfg.Backend, cfg.Controller.Gains, cfg.Tuning.Enabled, cfg.Tuning.Method)
			}
			fmt.Printf("\nbackends: %v\n", backend.NewRegistry().List())
		},
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "print the effective configuration as yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return yaml.NewEncoder(os.Stdout).Encode(cfg)
		},
	}
	addLoopFlags(configCmd)

	rootCmd.AddCommand(runCmd, liveCmd, oscillateCmd, probeCmd, listCmd, plotCmd, analyzeCmd, exportJSONCmd, exportSVGCmd, presetsCmd, configCmd)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func addBackendFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	cmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
	cmd.Flags().StringVar(&backendArg, "backend", config.DefaultBackend, "backend: sim or bench")
	cmd.Flags().DurationVar(&interval, "interval", config.DefaultInterval, "control cadence")
	cmd.Flags().Float64Var(&setpoint, "setpoint", config.DefaultSetpoint, "target temperature (°C)")
	cmd.Flags().StringVar(&logLevel, "log-level", config.DefaultLogLevel, "debug, info, warn or error")
	cmd.Flags().StringVar(&logFormat, "log-format", config.DefaultLogFormat, "text, json or logfmt")
}

func addLoopFlags(cmd *cobra.Command) {
	addBackendFlags(cmd)
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	cmd.Flags().Float64Var(&kp, "kp", config.DefaultKp, "initial proportional gain")
	cmd.Flags().Float64Var(&ki, "ki", config.DefaultKi, "initial integral gain")
	cmd.Flags().Float64Var(&kd, "kd", config.DefaultKd, "initial derivative gain")
	cmd.Flags().StringVar(&method, "method", config.DefaultOptimizeMethod, "retune method: lbfgs or grid")
	cmd.Flags().BoolVar(&noTune, "no-tune", false, "disable periodic retuning")
}

// loadConfig layers defaults, preset, config file and explicitly set flags,
// in that order.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
	}
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("data") || cfg.DataDir == "" {
		cfg.DataDir = dataDir
	}
	if flags.Changed("backend") {
		cfg.Backend = backendArg
	}
	if flags.Changed("setpoint") {
		cfg.Setpoint = setpoint
	}
	if flags.Changed("interval") {
		cfg.Interval = interval
	}
	if flags.Changed("duration") {
		cfg.Duration = duration
	}
	if flags.Changed("kp") {
		cfg.Controller.Gains.Kp = kp
	}
	if flags.Changed("ki") {
		cfg.Controller.Gains.Ki = ki
	}
	if flags.Changed("kd") {
		cfg.Controller.Gains.Kd = kd
	}
	if flags.Changed("method") {
		cfg.Tuning.Method = method
	}
	if flags.Changed("no-tune") {
		cfg.Tuning.Enabled = !noTune
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
