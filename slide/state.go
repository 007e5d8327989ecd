package slide

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// RunStatus is the JSON view of a run served over HTTP
type RunStatus struct {
	RunID     string    `json:"runId"`
	Stage     string    `json:"stage"`
	Scale     int       `json:"scale,omitempty"`
	Positives int       `json:"positives"`
	Negatives int       `json:"negatives"`
	Detected  int       `json:"detected"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RunState tracks the artifacts of the latest run for the HTTP endpoints
type RunState struct {
	mu         sync.RWMutex
	status     RunStatus
	table      *FitnessTable
	candidates []CandidateScale
	training   []TrainingRecord
	detected   []*Feature
}

// NewRunState creates an empty tracker
func NewRunState() *RunState {
	return &RunState{status: RunStatus{Stage: "idle", UpdatedAt: time.Now()}}
}

// Record applies a pipeline event
func (s *RunState) Record(ev RunEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.RunID = ev.RunID
	s.status.Stage = ev.Stage
	if ev.Scale != 0 {
		s.status.Scale = ev.Scale
	}
	if ev.Stage == StageTrainingBuilt {
		s.status.Positives = ev.Positives
		s.status.Negatives = ev.Negatives
	}
	if ev.Stage == StageDetectionDone {
		s.status.Detected = ev.Detected
	}
	s.status.Error = ev.Error
	s.status.UpdatedAt = time.Now()
}

// AddCandidate appends an evaluated candidate, for progress while the search runs
func (s *RunState) AddCandidate(c CandidateScale) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates = append(s.candidates, c)
	s.status.Stage = StageCandidate
	s.status.UpdatedAt = time.Now()
}

// SetFitnessTable stores the final fitness table
func (s *RunState) SetFitnessTable(t FitnessTable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table = &t
}

// SetTraining stores the training table
func (s *RunState) SetTraining(records []TrainingRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.training = records
}

// SetDetected stores the dissolved landslide polygons
func (s *RunState) SetDetected(features []*Feature) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detected = features
}

// Status returns a copy of the run status
func (s *RunState) Status() RunStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// FitnessTable returns the final table, or one built from the candidates
// evaluated so far while the search is running
func (s *RunState) FitnessTable() (FitnessTable, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.table != nil {
		return *s.table, true
	}
	if len(s.candidates) == 0 {
		return FitnessTable{}, false
	}
	return BuildFitnessTable(s.candidates), true
}

// Training returns the training table
func (s *RunState) Training() []TrainingRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.training
}

// Detected returns the detected landslide polygons
func (s *RunState) Detected() []*Feature {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.detected
}

type stateSnapshot struct {
	Status RunStatus     `json:"status"`
	Table  *FitnessTable `json:"table,omitempty"`
}

// SaveSnapshot writes the status and fitness table as JSON
func (s *RunState) SaveSnapshot(path string) error {
	s.mu.RLock()
	snap := stateSnapshot{Status: s.status, Table: s.table}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling run state: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// LoadSnapshot restores the status and fitness table saved by SaveSnapshot
func (s *RunState) LoadSnapshot(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var snap stateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parsing run state: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = snap.Status
	s.table = snap.Table
	return nil
}
