package export

import (
	"fmt"
	"io"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/ESiegman/Thermo-PID/internal/dynamo"
)

type point struct{ X, Y float64 }

// frame maps data coordinates onto a width x height canvas with 10%
// padding on every side.
type frame struct {
	minX, minY, rangeX, rangeY float64
	width, height              int
}

func newFrame(xs, ys []float64, width, height int) frame {
	minX, maxX := floats.Min(xs), floats.Max(xs)
	minY, maxY := floats.Min(ys), floats.Max(ys)

	rangeX := maxX - minX
	rangeY := maxY - minY
	if rangeX == 0 {
		rangeX = 1
	}
	if rangeY == 0 {
		rangeY = 1
	}
	minX -= rangeX * 0.1
	minY -= rangeY * 0.1
	return frame{
		minX:   minX,
		minY:   minY,
		rangeX: rangeX * 1.2,
		rangeY: rangeY * 1.2,
		width:  width,
		height: height,
	}
}

func (f frame) project(p point) (float64, float64) {
	x := (p.X - f.minX) / f.rangeX * float64(f.width)
	y := float64(f.height) - (p.Y-f.minY)/f.rangeY*float64(f.height)
	return x, y
}

func (f frame) path(sb *strings.Builder, pts []point, stroke string) {
	fmt.Fprintf(sb, `<path fill="none" stroke="%s" stroke-width="1.5" d="M`, stroke)
	for i, p := range pts {
		x, y := f.project(p)
		if i == 0 {
			fmt.Fprintf(sb, "%.1f,%.1f", x, y)
		} else {
			fmt.Fprintf(sb, " L%.1f,%.1f", x, y)
		}
	}
	sb.WriteString("\"/>\n")
}

// RunSVG draws measured temperature (red) and setpoint (green, dashed)
// against elapsed time, with a heat/cool strip along the bottom edge.
func RunSVG(w io.Writer, records []dynamo.Record, width, height int) error {
	if len(records) < 2 {
		return fmt.Errorf("export: need at least 2 records, got %d", len(records))
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("export: invalid size %dx%d", width, height)
	}

	xs := make([]float64, 0, len(records))
	ys := make([]float64, 0, 2*len(records))
	temps := make([]point, len(records))
	setpoints := make([]point, len(records))
	for i, r := range records {
		temps[i] = point{r.Elapsed, r.Measurement}
		setpoints[i] = point{r.Elapsed, r.Setpoint}
		xs = append(xs, r.Elapsed)
		ys = append(ys, r.Measurement, r.Setpoint)
	}
	f := newFrame(xs, ys, width, height)

	var sb strings.Builder
	fmt.Fprintf(&sb, `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
`, width, height, width, height)

	// output strip: one bar per tick, colored by channel direction
	barH := float64(height) * 0.03
	for i := 0; i < len(records)-1; i++ {
		if records[i].Magnitude == 0 {
			continue
		}
		x0, _ := f.project(temps[i])
		x1, _ := f.project(temps[i+1])
		fill := "#ff6644"
		if records[i].Command < 0 {
			fill = "#44aaff"
		}
		fmt.Fprintf(&sb, `<rect x="%.1f" y="%.1f" width="%.1f" height="%.1f" fill="%s"/>
`, x0, float64(height)-barH, x1-x0, barH, fill)
	}

	sb.WriteString(`<g stroke-dasharray="6,4">` + "\n")
	f.path(&sb, setpoints, "#00ff88")
	sb.WriteString("</g>\n")
	f.path(&sb, temps, "#ff4444")
	sb.WriteString("</svg>\n")

	_, err := io.WriteString(w, sb.String())
	return err
}
