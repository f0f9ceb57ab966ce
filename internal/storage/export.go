package storage

import (
	"encoding/json"
	"io"

	"github.com/ESiegman/Thermo-PID/internal/dynamo"
)

type ExportData struct {
	Run     RunMetadata `json:"run"`
	Steps   int         `json:"steps"`
	Times   []float64   `json:"times"`
	Temps   []float64   `json:"temperatures"`
	Command []float64   `json:"commands"`
	Output  []float64   `json:"outputs"`
	Gains   [][]float64 `json:"gains"`
	Errors  []float64   `json:"errors"`
}

func ExportJSON(w io.Writer, meta RunMetadata, records []dynamo.Record) error {
	data := ExportData{
		Run:     meta,
		Steps:   len(records),
		Times:   make([]float64, len(records)),
		Temps:   make([]float64, len(records)),
		Command: make([]float64, len(records)),
		Output:  make([]float64, len(records)),
		Gains:   make([][]float64, len(records)),
		Errors:  make([]float64, len(records)),
	}

	for i, r := range records {
		data.Times[i] = r.Elapsed
		data.Temps[i] = r.Measurement
		data.Command[i] = r.Command
		data.Output[i] = r.Magnitude
		data.Gains[i] = r.Gains.Vector()
		data.Errors[i] = r.Error
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
