// Package analysis characterises recorded runs.
//
//   - [Summarize]: tracking statistics, steady-state error and settling time
//   - [PowerSpectrum]: windowed spectrum of a uniformly sampled series
//   - [DominantPeriod]: period of the strongest oscillation, e.g. a limit
//     cycle from over-aggressive gains
//
// Typical use on a stored run:
//
//	records, _ := store.LoadRecords(runID)
//	sum := analysis.Summarize(records, 0.5)
//	period, _, ok := analysis.DominantPeriod(analysis.Errors(records), sum.Interval)
package analysis
