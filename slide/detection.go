package slide

import (
	"fmt"
	"log"
)

// PropOutcome holds the classifier decision on a detected segment
const PropOutcome = "outcomes"

// Detect trains clf on the training table and predicts every segment. The
// prediction is stored in the outcomes property and the positive segments are
// returned. Segments must carry the predictor properties.
func Detect(segments []*Feature, training []TrainingRecord, clf Classifier, predictors []string) ([]*Feature, error) {
	if len(training) == 0 {
		return nil, fmt.Errorf("detect: empty training table")
	}
	X, y := TrainingMatrix(training, predictors)
	if err := clf.Fit(X, y); err != nil {
		return nil, fmt.Errorf("training classifier: %w", err)
	}

	rows := make([][]float64, len(segments))
	for i, s := range segments {
		row := make([]float64, len(predictors))
		for j, p := range predictors {
			row[j] = FiniteValue(s.Float(p))
		}
		rows[i] = row
	}
	pred, err := clf.Predict(rows)
	if err != nil {
		return nil, fmt.Errorf("predicting segments: %w", err)
	}
	if len(pred) != len(segments) {
		return nil, fmt.Errorf("classifier returned %d predictions for %d segments", len(pred), len(segments))
	}

	var positive []*Feature
	for i, s := range segments {
		s.Properties[PropOutcome] = pred[i]
		if pred[i] == 1 {
			positive = append(positive, s)
		}
	}
	log.Printf("[DETECT] %d of %d segments classified as landslide", len(positive), len(segments))
	return positive, nil
}

// Dissolve merges adjacent positive segments. segments must be the output of
// Polygonize(grid), whose IDs are the grid's component indices; a segment is
// positive when its outcomes property is 1. The merged areas are traced again
// from the grid and numbered from 0.
func Dissolve(grid *LabelGrid, segments []*Feature) []*Feature {
	comp, n := grid.Components()
	positive := make([]bool, n)
	for _, s := range segments {
		if s.ID >= 0 && s.ID < n && s.Float(PropOutcome) == 1 {
			positive[s.ID] = true
		}
	}

	mask := NewLabelGrid(grid.Width, grid.Height, grid.Transform)
	mask.Projection = grid.Projection
	for i, c := range comp {
		if c >= 0 && positive[c] {
			mask.Labels[i] = 1
		}
	}

	out := Polygonize(mask)
	for _, f := range out {
		delete(f.Properties, PropDN)
		f.Properties[PropLandslide] = 1
		f.Properties[PropArea] = polygonArea(f.Geometry)
	}
	return out
}
