package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/ESiegman/Thermo-PID/internal/analysis"
	"github.com/ESiegman/Thermo-PID/internal/export"
	"github.com/ESiegman/Thermo-PID/internal/storage"
	"github.com/ESiegman/Thermo-PID/internal/tui"
)

// settleBand is the |error| band, in °C, used for settling time.
const settleBand = 0.5

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
	fmt.Fprintln(w, "ID\tBACKEND\tTIME\tTICKS\tTUNE\tRETUNES\tSTOP\tSETPOINT")

	for _, run := range runs {
		stop := run.StopReason
		if run.Failed {
			stop += "!"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%d\t%s\t%.2f\n",
			run.ID,
			run.Backend,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Ticks,
			run.Method,
			run.Tunings,
			stop,
			run.Setpoint,
		)
	}

	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	records, err := st.LoadRecords(runID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("no data to plot")
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("backend: %s\n", meta.Backend)
	fmt.Printf("samples: %d\n\n", len(records))

	setpoints := make([]float64, len(records))
	kps := make([]float64, len(records))
	for i, r := range records {
		setpoints[i] = r.Setpoint
		kps[i] = r.Gains.Kp
	}

	fmt.Println(asciigraph.PlotMany([][]float64{analysis.Temperatures(records), setpoints},
		asciigraph.Height(12),
		asciigraph.Width(80),
		asciigraph.SeriesColors(asciigraph.Red, asciigraph.Green),
		asciigraph.Caption("temperature (°C) vs setpoint"),
	))
	fmt.Println()

	fmt.Println(asciigraph.Plot(analysis.Commands(records),
		asciigraph.Height(8),
		asciigraph.Width(80),
		asciigraph.Caption("command (+heat / -cool)"),
	))
	fmt.Println()

	if meta.Tunings > 0 {
		fmt.Println(asciigraph.Plot(kps,
			asciigraph.Height(6),
			asciigraph.Width(80),
			asciigraph.Caption("Kp"),
		))
		fmt.Println()
	}
	return nil
}

func analyzeRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	records, err := st.LoadRecords(runID)
	if err != nil {
		return err
	}
	if len(records) < 2 {
		return fmt.Errorf("no data")
	}

	sum := analysis.Summarize(records, settleBand)

	fmt.Println(tui.Header("analysis: " + meta.ID))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "samples\t%d over %.1fs (%.3fs/tick)\n", sum.Samples, sum.Duration, sum.Interval)
	fmt.Fprintf(w, "temperature\tmean %.3f  std %.3f  min %.3f  max %.3f\n", sum.MeanTemp, sum.StdTemp, sum.MinTemp, sum.MaxTemp)
	fmt.Fprintf(w, "error\tmean %.3f  rms %.3f  steady-state %.3f\n", sum.MeanError, sum.RMSError, sum.SteadyStateError)
	if sum.SettlingTime >= 0 {
		fmt.Fprintf(w, "settling\t%.1fs (±%.1f °C)\n", sum.SettlingTime, settleBand)
	} else {
		fmt.Fprintf(w, "settling\tnever (±%.1f °C)\n", settleBand)
	}
	fmt.Fprintf(w, "command\tmean %.3f\n", sum.MeanCommand)
	fmt.Fprintf(w, "retunes\t%d\n", sum.Retunes)
	fmt.Fprintf(w, "gains\t%s -> %s\n", meta.InitialGains, meta.FinalGains)
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Println()

	errs := analysis.Errors(records)
	ps := analysis.PowerSpectrum(errs)
	plotData := ps[1:]
	if len(plotData) > 4 {
		plotData = plotData[:len(plotData)/2]
	}
	fmt.Println(asciigraph.Plot(plotData,
		asciigraph.Height(12),
		asciigraph.Width(80),
		asciigraph.Caption("error power spectrum"),
	))
	fmt.Println()

	if period, _, ok := analysis.DominantPeriod(errs, sum.Interval); ok {
		fmt.Printf("dominant frequency: %.4f hz\n", 1/period)
		fmt.Printf("period: %.2f s\n", period)
	} else {
		fmt.Println("no dominant oscillation")
	}
	return nil
}

func exportJSON(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	records, err := st.LoadRecords(runID)
	if err != nil {
		return err
	}
	return storage.ExportJSON(os.Stdout, *meta, records)
}

func exportSVG(cmd *cobra.Command, args []string) error {
	runID, output := args[0], args[1]

	st := storage.New(dataDir)
	records, err := st.LoadRecords(runID)
	if err != nil {
		return err
	}

	f, err := os.Create(output)
	if err != nil {
		return err
	}
	if err := export.RunSVG(f, records, svgWidth, svgHeight); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d samples)\n", output, len(records))
	return nil
}
