// Package storage keeps solved runs on disk, one directory per run.
package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/san-kum/dynopt/internal/config"
	"github.com/san-kum/dynopt/internal/experiment"
)

const (
	metadataFile = "metadata.json"
	configFile   = "config.yaml"
	resultsFile  = "results.json"
)

var ErrNoRun = errors.New("storage: no such run")

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
	ID          string             `json:"id"`
	Problem     string             `json:"problem"`
	Timestamp   time.Time          `json:"timestamp"`
	Horizon     float64            `json:"horizon"`
	Steps       int                `json:"steps"`
	Members     int                `json:"members"`
	Theta       float64            `json:"theta"`
	Objective   float64            `json:"objective"`
	Converged   bool               `json:"converged"`
	Iterations  int                `json:"iterations"`
	Variables   int                `json:"variables"`
	Constraints int                `json:"constraints"`
	Metrics     map[string]float64 `json:"metrics"`
}

// Save writes the run metadata, the configuration, the full result and one
// CSV of states and controls per ensemble member.
func (s *Store) Save(cfg *config.Config, result *experiment.Result) (string, error) {
	runID := fmt.Sprintf("%s_%s", result.Problem, uuid.NewString()[:8])
	runDir := filepath.Join(s.baseDir, runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	meta := RunMetadata{
		ID:          runID,
		Problem:     result.Problem,
		Timestamp:   time.Now(),
		Horizon:     cfg.Horizon,
		Steps:       cfg.Steps,
		Members:     len(result.Members),
		Theta:       cfg.Transcription.Theta,
		Objective:   result.Objective,
		Converged:   result.Converged,
		Iterations:  result.Iterations,
		Variables:   result.Variables,
		Constraints: result.Constraints,
		Metrics:     result.Metrics,
	}
	if err := writeJSON(filepath.Join(runDir, metadataFile), meta); err != nil {
		return "", err
	}
	if err := config.Save(filepath.Join(runDir, configFile), cfg); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, resultsFile), result); err != nil {
		return "", err
	}
	for m := range result.Members {
		if err := writeStates(filepath.Join(runDir, statesFile(m)), result, m); err != nil {
			return "", err
		}
	}
	return runID, nil
}

func statesFile(member int) string {
	return fmt.Sprintf("member_%d.csv", member)
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return ExportJSON(f, v)
}

// Columns returns the CSV header of a member: time, the states in sorted
// order, then the controls in sorted order.
func Columns(result *experiment.Result, member int) []string {
	header := []string{"time"}
	header = append(header, sortedKeys(result.Members[member].States)...)
	return append(header, sortedKeys(result.Controls)...)
}

func writeStates(path string, result *experiment.Result, member int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := Columns(result, member)
	if err := w.Write(header); err != nil {
		return err
	}
	mem := result.Members[member]
	for i, t := range result.Times {
		row := []string{strconv.FormatFloat(t, 'g', -1, 64)}
		for _, name := range header[1:] {
			v, ok := mem.States[name]
			if !ok {
				v = result.Controls[name]
			}
			row = append(row, strconv.FormatFloat(v[i], 'g', -1, 64))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// List returns the stored runs, newest first. Directories without readable
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
		return runs[i].Timestamp.After(runs[j].Timestamp)
	})
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	var meta RunMetadata
	if err := s.readJSON(runID, metadataFile, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// LoadResult reads the full result of a run.
func (s *Store) LoadResult(runID string) (*experiment.Result, error) {
	var res experiment.Result
	if err := s.readJSON(runID, resultsFile, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// LoadConfig reads the configuration a run was solved with.
func (s *Store) LoadConfig(runID string) (*config.Config, error) {
	path := filepath.Join(s.baseDir, runID, configFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNoRun, runID)
	}
	return config.Load(path)
}

func (s *Store) readJSON(runID, name string, v any) error {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, name))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNoRun, runID)
		}
		return err
	}
	return json.Unmarshal(data, v)
}

// LoadStates reads a member's CSV back as columns keyed by header name.
func (s *Store) LoadStates(runID string, member int) (map[string][]float64, error) {
	file, err := os.Open(filepath.Join(s.baseDir, runID, statesFile(member)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s member %d", ErrNoRun, runID, member)
		}
		return nil, err
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return map[string][]float64{}, nil
	}

	header := records[0]
	cols := make(map[string][]float64, len(header))
	for _, record := range records[1:] {
		for j, field := range record {
			val, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("%s: column %s: %w", statesFile(member), header[j], err)
			}
			cols[header[j]] = append(cols[header[j]], val)
		}
	}
	return cols, nil
}

func sortedKeys(m map[string][]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
