package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/dynopt/internal/experiment"
	"github.com/san-kum/dynopt/internal/export"
	"github.com/san-kum/dynopt/internal/storage"
)

var (
	titleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(16)
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
)

const maxPlots = 6

func row(label, value string) {
	fmt.Println(labelStyle.Render(label) + valueStyle.Render(value))
}

func printResult(res *experiment.Result) {
	status := okStyle.Render("converged")
	if !res.Converged {
		status = warnStyle.Render("not converged")
	}
	row("status", status)
	row("objective", fmt.Sprintf("%.6g", res.Objective))
	row("violation", fmt.Sprintf("%.3g", res.Violation))
	row("iterations", fmt.Sprint(res.Iterations))
	row("size", fmt.Sprintf("%d variables, %d constraints", res.Variables, res.Constraints))
	row("elapsed", res.Elapsed.String())

	fmt.Println()
	fmt.Println(titleStyle.Render("metrics"))
	names := make([]string, 0, len(res.Metrics))
	for name := range res.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		row(name, fmt.Sprintf("%.6g", res.Metrics[name]))
	}
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	if member < 0 || member >= meta.Members {
		return fmt.Errorf("member %d out of range, run has %d", member, meta.Members)
	}
	cols, err := st.LoadStates(runID, member)
	if err != nil {
		return err
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("run %s", meta.ID)))
	row("problem", meta.Problem)
	row("member", fmt.Sprintf("%d of %d", member+1, meta.Members))
	fmt.Println()

	names := make([]string, 0, len(cols))
	for name := range cols {
		if name != "time" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return fmt.Errorf("no data to plot")
	}
	sort.Strings(names)

	if svgPath != "" {
		series := make(map[string][]float64, len(names))
		for _, name := range names {
			series[name] = cols[name]
		}
		f, err := os.Create(svgPath)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := export.SeriesToSVG(f, cols["time"], series, 800, 400); err != nil {
			return err
		}
		row("svg", svgPath)
		return nil
	}

	if len(names) > maxPlots {
		names = names[:maxPlots]
	}

	for _, name := range names {
		graph := asciigraph.Plot(cols[name],
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(fmt.Sprintf("%s vs time", name)),
		)
		fmt.Println(graph)
		fmt.Println()
	}
	return nil
}
