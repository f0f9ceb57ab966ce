package export

import (
	"math"
	"strings"
	"testing"

	"github.com/ESiegman/Thermo-PID/internal/dynamo"
)

func TestRunSVG(t *testing.T) {
	records := []dynamo.Record{
		{Elapsed: 0, Measurement: 22, Setpoint: 50, Command: 2, Magnitude: 2},
		{Elapsed: 0.5, Measurement: 30, Setpoint: 50, Command: 1, Magnitude: 1},
		{Elapsed: 1.0, Measurement: 55, Setpoint: 50, Command: -1, Magnitude: 1},
		{Elapsed: 1.5, Measurement: 50, Setpoint: 50, Command: 0, Magnitude: 0},
	}

	var sb strings.Builder
	if err := RunSVG(&sb, records, 400, 200); err != nil {
		t.Fatalf("RunSVG failed: %v", err)
	}
	out := sb.String()

	if !strings.HasPrefix(out, "<?xml") || !strings.HasSuffix(out, "</svg>\n") {
		t.Error("expected a complete svg document")
	}
	if strings.Count(out, "<path") != 2 {
		t.Errorf("expected temperature and setpoint paths, got %d", strings.Count(out, "<path"))
	}
	if strings.Count(out, `fill="#ff6644"`) != 2 || strings.Count(out, `fill="#44aaff"`) != 1 {
		t.Error("expected two heat bars and one cool bar")
	}
}

func TestRunSVGRejects(t *testing.T) {
	var sb strings.Builder
	if err := RunSVG(&sb, []dynamo.Record{{}}, 400, 200); err == nil {
		t.Error("expected error for a single record")
	}
	if err := RunSVG(&sb, make([]dynamo.Record, 3), 0, 200); err == nil {
		t.Error("expected error for zero width")
	}
}

func TestFrameProjectsCorners(t *testing.T) {
	f := newFrame([]float64{0, 10}, []float64{0, 10}, 120, 120)

	near := func(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

	x, y := f.project(point{0, 0})
	if !near(x, 10) || !near(y, 110) {
		t.Errorf("expected (10,110), got (%.1f,%.1f)", x, y)
	}
	x, y = f.project(point{10, 10})
	if !near(x, 110) || !near(y, 10) {
		t.Errorf("expected (110,10), got (%.1f,%.1f)", x, y)
	}
}
