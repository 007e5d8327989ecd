package slide

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunState_Initial(t *testing.T) {
	s := NewRunState()
	assert.Equal(t, "idle", s.Status().Stage)
	_, ok := s.FitnessTable()
	assert.False(t, ok)
	assert.Nil(t, s.Training())
	assert.Nil(t, s.Detected())
}

func TestRunState_Record(t *testing.T) {
	s := NewRunState()
	s.Record(RunEvent{RunID: "r1", Stage: StageScaleSelected, Scale: 12})
	s.Record(RunEvent{RunID: "r1", Stage: StageTrainingBuilt, Positives: 4, Negatives: 30})
	s.Record(RunEvent{RunID: "r1", Stage: StageDetectionDone, Detected: 7})

	st := s.Status()
	assert.Equal(t, "r1", st.RunID)
	assert.Equal(t, StageDetectionDone, st.Stage)
	assert.Equal(t, 12, st.Scale, "scale survives later events")
	assert.Equal(t, 4, st.Positives)
	assert.Equal(t, 30, st.Negatives)
	assert.Equal(t, 7, st.Detected)
	assert.Empty(t, st.Error)

	s.Record(RunEvent{RunID: "r1", Stage: StageFailed, Error: "boom"})
	assert.Equal(t, "boom", s.Status().Error)
}

func TestRunState_PartialFitnessTable(t *testing.T) {
	s := NewRunState()
	s.AddCandidate(CandidateScale{Scale: 10, WeightedVariance: 3, MoransI: 0.1})
	s.AddCandidate(CandidateScale{Scale: 12, WeightedVariance: 1, MoransI: 0.6})

	assert.Equal(t, StageCandidate, s.Status().Stage)
	table, ok := s.FitnessTable()
	require.True(t, ok)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, 0, table.Selected)

	final := scenarioTable()
	s.SetFitnessTable(final)
	table, ok = s.FitnessTable()
	require.True(t, ok)
	assert.Equal(t, final, table)
}

func TestRunState_Snapshot(t *testing.T) {
	s := NewRunState()
	s.Record(RunEvent{RunID: "r2", Stage: StageScaleSelected, Scale: 12})
	s.SetFitnessTable(scenarioTable())
	s.SetTraining([]TrainingRecord{{ID: 1}})

	path := filepath.Join(t.TempDir(), "run-state.json")
	require.NoError(t, s.SaveSnapshot(path))

	restored := NewRunState()
	require.NoError(t, restored.LoadSnapshot(path))
	assert.Equal(t, "r2", restored.Status().RunID)
	assert.Equal(t, 12, restored.Status().Scale)
	table, ok := restored.FitnessTable()
	require.True(t, ok)
	assert.Equal(t, 12, table.Selected)
	assert.Len(t, table.Rows, 4)
	assert.Nil(t, restored.Training(), "the snapshot holds status and fitness only")

	assert.Error(t, restored.LoadSnapshot(filepath.Join(t.TempDir(), "missing.json")))
}
