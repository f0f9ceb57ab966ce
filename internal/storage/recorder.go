package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/ESiegman/Thermo-PID/internal/dynamo"
)

// Header is the fixed column layout of every run log.
var Header = []string{
	"Time (s)",
	"Temperature (°C)",
	"Setpoint (°C)",
	"PID Command",
	"Output Voltage (V)",
	"Kp",
	"Ki",
	"Kd",
	"Error",
}

var ErrRecorderClosed = errors.New("storage: recorder closed")

// Recorder appends control records to a CSV file, writing the header
// before the first row. Each row is flushed as it is written.
type Recorder struct {
	file        *os.File
	w           *csv.Writer
	wroteHeader bool
	rows        int
}

func NewRecorder(path string) (*Recorder, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	return &Recorder{
		file:        file,
		w:           csv.NewWriter(file),
		wroteHeader: info.Size() > 0,
	}, nil
}

func (r *Recorder) Append(rec dynamo.Record) error {
	if r.file == nil {
		return ErrRecorderClosed
	}
	if !r.wroteHeader {
		if err := r.w.Write(Header); err != nil {
			return err
		}
		r.wroteHeader = true
	}

	row := []string{
		formatFloat(rec.Elapsed),
		formatFloat(rec.Measurement),
		formatFloat(rec.Setpoint),
		formatFloat(rec.Command),
		formatFloat(rec.Magnitude),
		formatFloat(rec.Gains.Kp),
		formatFloat(rec.Gains.Ki),
		formatFloat(rec.Gains.Kd),
		formatFloat(rec.Error),
	}
	if err := r.w.Write(row); err != nil {
		return err
	}
	r.w.Flush()
	if err := r.w.Error(); err != nil {
		return err
	}
	r.rows++
	return nil
}

// Rows counts records appended through this recorder.
func (r *Recorder) Rows() int { return r.rows }

func (r *Recorder) Close() error {
	if r.file == nil {
		return nil
	}
	r.w.Flush()
	err := errors.Join(r.w.Error(), r.file.Close())
	r.file = nil
	return err
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// ReadRecords parses a run log. The actuator channel is not stored, so it
// is left empty; ticks are numbered by row.
func ReadRecords(r io.Reader) ([]dynamo.Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return []dynamo.Record{}, nil
	}

	records := make([]dynamo.Record, 0, len(rows)-1)
	for i, row := range rows[1:] {
		vals := make([]float64, len(row))
		for j, field := range row {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", i+1, Header[j], err)
			}
			vals[j] = v
		}
		records = append(records, dynamo.Record{
			Tick:        i,
			Elapsed:     vals[0],
			Measurement: vals[1],
			Setpoint:    vals[2],
			Command:     vals[3],
			Magnitude:   vals[4],
			Gains:       dynamo.Gains{Kp: vals[5], Ki: vals[6], Kd: vals[7]},
			Error:       vals[8],
		})
	}
	return records, nil
}
