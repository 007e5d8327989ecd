package slide

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockClassifier struct {
	mock.Mock
}

func (m *mockClassifier) Fit(X [][]float64, y []int) error {
	return m.Called(X, y).Error(0)
}

func (m *mockClassifier) Predict(X [][]float64) ([]int, error) {
	args := m.Called(X)
	pred, _ := args.Get(0).([]int)
	return pred, args.Error(1)
}

func detectionSegments() []*Feature {
	var out []*Feature
	for i, b := range []float64{10, 90, 95} {
		f := NewFeature(i, rect(float64(i), 0, float64(i+1), 1))
		f.Properties[PropMeanBright] = b
		out = append(out, f)
	}
	return out
}

func TestDetect_LabelsAndReturnsPositives(t *testing.T) {
	training := []TrainingRecord{
		{ID: 0, Predictors: map[string]float64{PropMeanBright: 12}, Landslide: 0},
		{ID: 1, Predictors: map[string]float64{PropMeanBright: 88}, Landslide: 1},
	}
	clf := &mockClassifier{}
	clf.On("Fit", [][]float64{{12}, {88}}, []int{0, 1}).Return(nil).Once()
	clf.On("Predict", [][]float64{{10}, {90}, {95}}).Return([]int{0, 1, 1}, nil).Once()

	segments := detectionSegments()
	got, err := Detect(segments, training, clf, []string{PropMeanBright})
	require.NoError(t, err)
	clf.AssertExpectations(t)

	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].ID)
	assert.Equal(t, 2, got[1].ID)
	assert.Equal(t, 0, segments[0].Properties[PropOutcome])
	assert.Equal(t, 1, segments[2].Properties[PropOutcome])
}

func TestDetect_Errors(t *testing.T) {
	_, err := Detect(detectionSegments(), nil, &mockClassifier{}, PredictorNames)
	assert.Error(t, err, "empty training table")

	training := []TrainingRecord{{Predictors: map[string]float64{}, Landslide: 1}}

	clf := &mockClassifier{}
	clf.On("Fit", mock.Anything, mock.Anything).Return(errors.New("bad labels"))
	_, err = Detect(detectionSegments(), training, clf, []string{PropMeanBright})
	assert.ErrorContains(t, err, "bad labels")

	clf = &mockClassifier{}
	clf.On("Fit", mock.Anything, mock.Anything).Return(nil)
	clf.On("Predict", mock.Anything).Return([]int{1}, nil)
	_, err = Detect(detectionSegments(), training, clf, []string{PropMeanBright})
	assert.ErrorContains(t, err, "1 predictions for 3 segments")
}

func TestDetect_WithRandomForest(t *testing.T) {
	var training []TrainingRecord
	for i := 0; i < 20; i++ {
		b, label := float64(i), 0
		if i >= 10 {
			b, label = float64(80+i), 1
		}
		training = append(training, TrainingRecord{ID: i, Predictors: map[string]float64{PropMeanBright: b}, Landslide: label})
	}
	rf := NewRandomForest(15, 3)
	got, err := Detect(detectionSegments(), training, rf, []string{PropMeanBright})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].ID)
}

func TestDissolve_MergesAdjacentPositives(t *testing.T) {
	g := labelGrid([][]int32{
		{1, 2, 3},
		{4, 4, 3},
	})
	segments := Polygonize(g)
	require.Len(t, segments, 4)
	// components in scan order: 1, 2, 3, 4
	for _, s := range segments {
		s.Properties[PropOutcome] = 0
	}
	segments[0].Properties[PropOutcome] = 1 // label 1
	segments[1].Properties[PropOutcome] = 1 // label 2
	segments[2].Properties[PropOutcome] = 1 // label 3

	merged := Dissolve(g, segments)
	require.Len(t, merged, 1)
	assert.Equal(t, 0, merged[0].ID)
	assert.InDelta(t, 4.0, polygonArea(merged[0].Geometry), 1e-12)
	assert.Equal(t, 1, merged[0].Properties[PropLandslide])
	assert.InDelta(t, 4.0, merged[0].Float(PropArea), 1e-12)
	_, hasDN := merged[0].Properties[PropDN]
	assert.False(t, hasDN)
}

func TestDissolve_DiagonalStaysSeparate(t *testing.T) {
	g := labelGrid([][]int32{
		{1, 2},
		{3, 4},
	})
	segments := Polygonize(g)
	segments[0].Properties[PropOutcome] = 1
	segments[3].Properties[PropOutcome] = 1

	merged := Dissolve(g, segments)
	require.Len(t, merged, 2)
	for i, f := range merged {
		assert.Equal(t, i, f.ID)
		assert.InDelta(t, 1.0, polygonArea(f.Geometry), 1e-12)
	}
}

func TestDissolve_NoPositives(t *testing.T) {
	g := labelGrid([][]int32{{1, 2}})
	assert.Empty(t, Dissolve(g, Polygonize(g)))
}
