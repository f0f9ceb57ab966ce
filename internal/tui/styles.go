package tui

import (
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"gonum.org/v1/gonum/floats"
)

var (
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444466")).
			Padding(1, 2)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00ffff"))

	statusRunning = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00ff88"))

	statusStopping = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffaa00"))

	statusFault = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ff4444"))

	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(12)
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	heatStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff6644")).Bold(true)
	coolStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#44aaff")).Bold(true)
	graphStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("49")).Padding(1, 0)
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true).MarginTop(1)
)

// Header renders a title for CLI output.
func Header(title string) string {
	return titleStyle.Render(title)
}

// LevelBar renders the applied output as a share of the output ceiling,
// turning amber then red as the actuator nears saturation.
func LevelBar(frac float64, width int) string {
	frac = math.Max(0, math.Min(1, frac))
	filled := int(math.Round(frac * float64(width)))
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)

	switch {
	case frac >= 0.95:
		return statusFault.Render(bar)
	case frac >= 0.6:
		return statusStopping.Render(bar)
	}
	return statusRunning.Render(bar)
}

var sparkLevels = []rune("▁▂▃▄▅▆▇█")

// Sparkline renders the last width values of a signed series scaled to
// its peak magnitude: heating ticks in the heat color, cooling ticks in
// the cool color.
func Sparkline(values []float64, width int) string {
	if len(values) == 0 {
		return strings.Repeat("─", width)
	}
	if len(values) > width {
		values = values[len(values)-width:]
	}

	peak := math.Max(math.Abs(floats.Min(values)), math.Abs(floats.Max(values)))
	if peak == 0 {
		return strings.Repeat("▁", len(values))
	}

	var sb strings.Builder
	top := len(sparkLevels) - 1
	for _, v := range values {
		c := string(sparkLevels[int(math.Round(math.Abs(v)/peak*float64(top)))])
		if v > 0 {
			sb.WriteString(heatStyle.Render(c))
		} else {
			sb.WriteString(coolStyle.Render(c))
		}
	}
	return sb.String()
}
