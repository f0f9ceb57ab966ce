package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ESiegman/Thermo-PID/internal/dynamo"
)

func sampleRecord(tick int) dynamo.Record {
	return dynamo.Record{
		Tick:        tick,
		Channel:     "CH2",
		Elapsed:     float64(tick) * 0.5,
		Measurement: 22 + float64(tick),
		Setpoint:    50,
		Command:     0.05 * float64(tick+1),
		Magnitude:   0.05 * float64(tick+1),
		Gains:       dynamo.Gains{Kp: 0.5, Ki: 0.1, Kd: 0.01},
		Error:       28 - float64(tick),
	}
}

func TestStoreCreateAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	st := New(tmpDir)

	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	at := time.Unix(1700000000, 0)
	runID, rec, err := st.Create("sim", at)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if runID != "sim_1700000000" {
		t.Errorf("unexpected run id %q", runID)
	}

	for i := 0; i < 3; i++ {
		if err := rec.Append(sampleRecord(i)); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	meta := RunMetadata{
		ID:         runID,
		Backend:    "sim",
		Timestamp:  at,
		Setpoint:   50,
		Ticks:      3,
		StopReason: "duration",
		Metrics:    map[string]float64{"iae": 1.5},
	}
	if err := st.SaveMetadata(meta); err != nil {
		t.Fatalf("save metadata failed: %v", err)
	}

	loaded, err := st.Load(runID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Backend != "sim" || loaded.Ticks != 3 {
		t.Errorf("unexpected metadata %+v", loaded)
	}
	if loaded.Metrics["iae"] != 1.5 {
		t.Errorf("expected iae 1.5, got %f", loaded.Metrics["iae"])
	}

	records, err := st.LoadRecords(runID)
	if err != nil {
		t.Fatalf("load records failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[2].Measurement != 24 || records[2].Gains.Kp != 0.5 || records[2].Error != 26 {
		t.Errorf("unexpected record %+v", records[2])
	}
}

func TestStoreCreateCollision(t *testing.T) {
	st := New(t.TempDir())
	if err := st.Init(); err != nil {
		t.Fatal(err)
	}
	at := time.Unix(1700000000, 0)

	first, r1, err := st.Create("sim", at)
	if err != nil {
		t.Fatal(err)
	}
	defer r1.Close()
	second, r2, err := st.Create("sim", at)
	if err != nil {
		t.Fatal(err)
	}
	defer r2.Close()

	if first == second {
		t.Errorf("expected distinct run ids, both %q", first)
	}
}

func TestRecorderHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")

	rec, err := NewRecorder(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := rec.Close(); err != nil {
		t.Fatal(err)
	}
	if info, _ := os.Stat(path); info.Size() != 0 {
		t.Errorf("expected empty file before first append, got %d bytes", info.Size())
	}

	for round := 0; round < 2; round++ {
		rec, err := NewRecorder(path)
		if err != nil {
			t.Fatal(err)
		}
		if err := rec.Append(sampleRecord(round)); err != nil {
			t.Fatal(err)
		}
		if err := rec.Close(); err != nil {
			t.Fatal(err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %d lines", len(lines))
	}
	if lines[0] != strings.Join(Header, ",") {
		t.Errorf("unexpected header %q", lines[0])
	}
}

func TestRecorderAppendAfterClose(t *testing.T) {
	rec, err := NewRecorder(filepath.Join(t.TempDir(), "data.csv"))
	if err != nil {
		t.Fatal(err)
	}
	rec.Close()
	if err := rec.Append(sampleRecord(0)); err != ErrRecorderClosed {
		t.Errorf("expected ErrRecorderClosed, got %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
}

func TestStoreList(t *testing.T) {
	tmpDir := t.TempDir()
	st := New(tmpDir)

	runs, err := st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected 0 runs, got %d", len(runs))
	}

	if err := st.Init(); err != nil {
		t.Fatal(err)
	}
	for i, at := range []time.Time{time.Unix(2000, 0), time.Unix(1000, 0)} {
		id, rec, err := st.Create("sim", at)
		if err != nil {
			t.Fatal(err)
		}
		rec.Close()
		if err := st.SaveMetadata(RunMetadata{ID: id, Backend: "sim", Timestamp: at, Ticks: i}); err != nil {
			t.Fatal(err)
		}
	}
	// a run that never got metadata is skipped
	if _, rec, err := st.Create("bench", time.Unix(3000, 0)); err == nil {
		rec.Close()
	}

	runs, err = st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if !runs[0].Timestamp.Before(runs[1].Timestamp) {
		t.Error("expected runs ordered oldest first")
	}
}

func TestExportJSON(t *testing.T) {
	records := []dynamo.Record{sampleRecord(0), sampleRecord(1)}
	var buf bytes.Buffer

	if err := ExportJSON(&buf, RunMetadata{ID: "sim_1"}, records); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	var data ExportData
	if err := json.Unmarshal(buf.Bytes(), &data); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if data.Run.ID != "sim_1" || data.Steps != 2 {
		t.Errorf("unexpected export header %+v", data.Run)
	}
	if len(data.Gains) != 2 || data.Gains[1][0] != 0.5 {
		t.Errorf("unexpected gains %v", data.Gains)
	}
}
