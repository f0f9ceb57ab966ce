package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ESiegman/Thermo-PID/internal/dynamo"
)

const (
	metadataFile = "metadata.json"
	dataFile     = "data.csv"
)

// Store keeps one directory per run under baseDir.
type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID           string             `json:"id"`
	Backend      string             `json:"backend"`
	Timestamp    time.Time          `json:"timestamp"`
	Finished     time.Time          `json:"finished,omitempty"`
	Setpoint     float64            `json:"setpoint"`
	Interval     float64            `json:"interval"`
	Method       string             `json:"method"`
	InitialGains dynamo.Gains       `json:"initial_gains"`
	FinalGains   dynamo.Gains       `json:"final_gains"`
	Ticks        int                `json:"ticks"`
	Tunings      int                `json:"tunings"`
	StopReason   string             `json:"stop_reason"`
	Failed       bool               `json:"failed"`
	Metrics      map[string]float64 `json:"metrics"`
}

// Create allocates a run directory and opens its CSV recorder. The
// metadata file is written by SaveMetadata once the run ends.
func (s *Store) Create(backend string, at time.Time) (string, *Recorder, error) {
	base := fmt.Sprintf("%s_%d", backend, at.Unix())
	runID := base
	for n := 1; ; n++ {
		err := os.Mkdir(filepath.Join(s.baseDir, runID), 0755)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrExist) {
			return "", nil, err
		}
		runID = fmt.Sprintf("%s_%d", base, n)
	}

	rec, err := NewRecorder(filepath.Join(s.baseDir, runID, dataFile))
	if err != nil {
		return "", nil, err
	}
	return runID, rec, nil
}

func (s *Store) SaveMetadata(meta RunMetadata) error {
	metaFile, err := os.Create(filepath.Join(s.baseDir, meta.ID, metadataFile))
	if err != nil {
		return err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

// List returns stored runs, oldest first. Directories without readable
// metadata are skipped.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].Timestamp.Before(runs[j].Timestamp)
	})
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, metadataFile))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("run %s metadata: %w", runID, err)
	}
	return &meta, nil
}

func (s *Store) LoadRecords(runID string) ([]dynamo.Record, error) {
	file, err := os.Open(filepath.Join(s.baseDir, runID, dataFile))
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadRecords(file)
}
