package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/san-kum/dynopt/internal/config"
	"github.com/san-kum/dynopt/internal/experiment"
	"github.com/san-kum/dynopt/internal/logging"
	"github.com/san-kum/dynopt/internal/optim"
	"github.com/san-kum/dynopt/internal/storage"
	"github.com/san-kum/dynopt/internal/transcribe"
)

var (
	dataDir    string
	logLevel   string
	jsonLogs   bool
	configFile string
	preset     string
	horizon    float64
	steps      int
	members    int
	theta      float64
	integrated []string
	params     map[string]string
	initial    map[string]string
	noSave     bool
	member     int
	svgPath    string
	gridFlags  []string
	metricName string
	workers    int
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "dynopt",
		Short:        "optimal control by collocation",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".dynopt", "data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "log as JSON")

	solveCmd := &cobra.Command{
		Use:   "solve [problem]",
		Short: "transcribe and solve a problem",
		Args:  cobra.ExactArgs(1),
		RunE:  solve,
	}
	addProblemFlags(solveCmd)
	solveCmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the run")

	checkCmd := &cobra.Command{
		Use:   "check [problem]",
		Short: "transcribe a problem and report poorly scaled jacobian entries",
		Args:  cobra.ExactArgs(1),
		RunE:  check,
	}
	addProblemFlags(checkCmd)

	sweepCmd := &cobra.Command{
		Use:   "sweep [problem]",
		Short: "solve a problem over a grid of parameter values",
		Args:  cobra.ExactArgs(1),
		RunE:  sweep,
	}
	addProblemFlags(sweepCmd)
	sweepCmd.Flags().StringArrayVar(&gridFlags, "grid", nil, "parameter values, name=v1,v2,... (repeatable)")
	sweepCmd.Flags().StringVar(&metricName, "metric", "objective", "metric to minimize")
	sweepCmd.Flags().IntVar(&workers, "workers", 2, "concurrent solves")

	problemsCmd := &cobra.Command{
		Use:   "problems",
		Short: "list problems",
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range experiment.NewRegistry().ListProblems() {
				fmt.Printf("  %s\n", name)
			}
		},
	}

	presetsCmd := &cobra.Command{
		Use:   "presets [problem]",
		Short: "list available presets for a problem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			presets := config.ListPresets(args[0])
			if len(presets) == 0 {
				fmt.Printf("no presets for problem: %s\n", args[0])
				return nil
			}
			fmt.Printf("presets for %s:\n", args[0])
			for _, p := range presets {
				fmt.Printf("  %s\n", p)
			}
			return nil
		},
	}

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "list stored runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot the states and controls of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().IntVar(&member, "member", 0, "ensemble member")
	plotCmd.Flags().StringVar(&svgPath, "svg", "", "write an SVG plot instead")

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export the full result of a run as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := storage.New(dataDir).LoadResult(args[0])
			if err != nil {
				return err
			}
			return storage.ExportJSON(os.Stdout, res)
		},
	}

	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "write a config file for a problem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configProblem(cmd))
			if err != nil {
				return err
			}
			return config.Save(args[0], cfg)
		},
	}
	addProblemFlags(initCmd)
	initCmd.Flags().String("problem", "integrator", "problem name")

	rootCmd.AddCommand(solveCmd, checkCmd, sweepCmd, problemsCmd, presetsCmd, runsCmd, plotCmd, exportCmd, initCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addProblemFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	cmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
	cmd.Flags().Float64Var(&horizon, "horizon", config.DefaultHorizon, "time horizon")
	cmd.Flags().IntVar(&steps, "steps", config.DefaultSteps, "collocation intervals")
	cmd.Flags().IntVar(&members, "members", config.DefaultMembers, "ensemble members")
	cmd.Flags().Float64Var(&theta, "theta", transcribe.DefaultTheta, "collocation theta, 0 explicit to 1 implicit")
	cmd.Flags().StringSliceVar(&integrated, "integrated", nil, "states to integrate instead of collocate")
	cmd.Flags().StringToStringVar(&params, "param", nil, "parameter overrides, name=value")
	cmd.Flags().StringToStringVar(&initial, "initial", nil, "initial state overrides, name=value")
}

func configProblem(cmd *cobra.Command) string {
	name, _ := cmd.Flags().GetString("problem")
	return name
}

// loadConfig layers the preset, the config file and the changed flags, in
// that order, over the defaults.
func loadConfig(cmd *cobra.Command, problem string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	cfg.Problem = problem
	if preset != "" {
		cfg = config.GetPreset(problem, preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets(problem))
		}
	}
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		if loaded.Problem != problem {
			return nil, fmt.Errorf("config %s is for problem %s, not %s", configFile, loaded.Problem, problem)
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("horizon") {
		cfg.Horizon = horizon
	}
	if flags.Changed("steps") {
		cfg.Steps = steps
	}
	if flags.Changed("members") {
		cfg.Members = members
	}
	if flags.Changed("theta") {
		cfg.Transcription.Theta = theta
	}
	if flags.Changed("integrated") {
		cfg.Transcription.IntegratedStates = integrated
	}
	var err error
	if cfg.Params, err = mergeValues(cfg.Params, params); err != nil {
		return nil, fmt.Errorf("--param: %w", err)
	}
	if cfg.Initial, err = mergeValues(cfg.Initial, initial); err != nil {
		return nil, fmt.Errorf("--initial: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, cfg.Validate()
}

func mergeValues(into map[string]float64, raw map[string]string) (map[string]float64, error) {
	if len(raw) == 0 {
		return into, nil
	}
	if into == nil {
		into = make(map[string]float64, len(raw))
	}
	for name, s := range raw {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		into[name] = v
	}
	return into, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogLevel, !jsonLogs)
}

func solve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args[0])
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Println(titleStyle.Render(fmt.Sprintf("solving %s", cfg.Problem)))
	res, err := experiment.New(cfg, experiment.NewRegistry(), log).Run(ctx)
	if err != nil {
		return err
	}
	printResult(res)

	if noSave {
		return nil
	}
	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}
	runID, err := st.Save(cfg, res)
	if err != nil {
		return err
	}
	fmt.Printf("\n%s %s\n", labelStyle.Render("run id"), runID)
	return nil
}

func check(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args[0])
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	build, err := experiment.NewRegistry().GetProblem(cfg.Problem)
	if err != nil {
		return err
	}
	c, err := build(cfg)
	if err != nil {
		return err
	}
	opts := cfg.TranscribeOptions()
	p, err := c.New(opts, log)
	if err != nil {
		return err
	}
	prob, err := p.Transcribe()
	if err != nil {
		return err
	}
	report, err := transcribe.CheckJacobian(prob, opts.JacobianCheck, log)
	if err != nil {
		return err
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("%s: %d variables, %d constraints", cfg.Problem, len(prob.X), len(prob.G))))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BLOCK\tOFFSET\tROWS")
	for _, b := range prob.Blocks {
		fmt.Fprintf(w, "%s\t%d\t%d\n", b.Name, b.Offset, b.Len)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%s %d\n", labelStyle.Render("out of range"), len(report.Entries))
	for _, e := range report.Entries {
		fmt.Printf("  %s row %d column %d: %g\n", e.Block, e.Row, e.Column, e.Value)
	}
	fmt.Printf("%s %d\n", labelStyle.Render("wide columns"), len(report.Columns))
	if len(report.Columns) > 0 {
		fmt.Printf("  %v\n", report.Columns)
	}
	return nil
}

func sweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args[0])
	if err != nil {
		return err
	}
	if len(gridFlags) == 0 {
		return errors.New("sweep needs at least one --grid")
	}
	names, ranges, err := parseGrid(gridFlags)
	if err != nil {
		return err
	}
	g, err := optim.NewGridSearch(names, ranges)
	if err != nil {
		return err
	}
	g.Workers = workers

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	reg := experiment.NewRegistry()
	run := func(ctx context.Context, cfg *config.Config) (*experiment.Result, error) {
		res, err := experiment.New(cfg, reg, log).Run(ctx)
		if err != nil {
			return nil, err
		}
		res.Metrics["objective"] = res.Objective
		return res, nil
	}
	trials, err := g.Search(ctx, cfg, run, metricName)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\t%s\tCONVERGED\n", strings.ToUpper(strings.Join(names, "\t")), strings.ToUpper(metricName))
	for _, tr := range trials {
		row := make([]string, len(names))
		for i, name := range names {
			row[i] = strconv.FormatFloat(tr.Params[name], 'g', -1, 64)
		}
		if tr.Err != nil {
			fmt.Fprintf(w, "%s\tfailed\t%v\n", strings.Join(row, "\t"), tr.Err)
			continue
		}
		fmt.Fprintf(w, "%s\t%.6g\t%v\n", strings.Join(row, "\t"), tr.Value, tr.Result.Converged)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if best, ok := optim.Best(trials); ok {
		fmt.Printf("\n%s %v\n", labelStyle.Render("best"), best.Params)
	}
	return nil
}

// parseGrid reads flags of the form name=v1,v2,...
func parseGrid(flags []string) ([]string, [][]float64, error) {
	names := make([]string, 0, len(flags))
	ranges := make([][]float64, 0, len(flags))
	for _, arg := range flags {
		name, list, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, nil, fmt.Errorf("bad grid %q, want name=v1,v2,...", arg)
		}
		var values []float64
		for _, s := range strings.Split(list, ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, nil, fmt.Errorf("grid %s: %w", name, err)
			}
			values = append(values, v)
		}
		names = append(names, name)
		ranges = append(ranges, values)
	}
	return names, ranges, nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROBLEM\tTIME\tHORIZON\tSTEPS\tMEMBERS\tOBJECTIVE\tCONVERGED")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%d\t%d\t%.6g\t%v\n",
			run.ID,
			run.Problem,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Horizon,
			run.Steps,
			run.Members,
			run.Objective,
			run.Converged,
		)
	}

	return w.Flush()
}
