package detect

import (
	"fmt"
	"math"
)

const (
	LabelTable        = "table"
	LabelTableRotated = "table rotated"
	LabelNoObject     = "no object"
)

// DefaultLabels is the label map of the table-transformer detection model.
// Index len(DefaultLabels) is the implicit "no object" class.
var DefaultLabels = map[int]string{0: LabelTable, 1: LabelTableRotated}

// DefaultThresholds keeps tables and rotated tables scoring at least 0.5.
func DefaultThresholds() map[string]float64 {
	return map[string]float64{LabelTable: 0.5, LabelTableRotated: 0.5}
}

// Prediction is the raw output of a detection model for one image: one row of
// class logits and one normalized (cx, cy, w, h) box per query.
type Prediction struct {
	Logits [][]float32
	Boxes  [][4]float32
	Labels map[int]string
}

// Region is a labeled, scored box in original page pixels.
type Region struct {
	Box   Box     `json:"bbox"`
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Regions decodes the prediction against an image of width x height,
// dropping "no object" and indices without a label.
func (p *Prediction) Regions(width, height int) ([]Region, error) {
	if len(p.Logits) != len(p.Boxes) {
		return nil, fmt.Errorf("prediction has %d logit rows but %d boxes", len(p.Logits), len(p.Boxes))
	}
	labels := p.Labels
	if labels == nil {
		labels = DefaultLabels
	}

	var regions []Region
	for i, row := range p.Logits {
		if len(row) == 0 {
			continue
		}
		idx, score := argmax(softmax(row))
		label, ok := labels[idx]
		if !ok || label == LabelNoObject {
			continue
		}
		regions = append(regions, Region{
			Box:   cxcywhToXYXY(p.Boxes[i], width, height),
			Label: label,
			Score: score,
		})
	}
	return regions, nil
}

func softmax(row []float32) []float64 {
	maxv := math.Inf(-1)
	for _, v := range row {
		maxv = math.Max(maxv, float64(v))
	}
	out := make([]float64, len(row))
	var sum float64
	for i, v := range row {
		out[i] = math.Exp(float64(v) - maxv)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func argmax(v []float64) (int, float64) {
	best := 0
	for i := range v {
		if v[i] > v[best] {
			best = i
		}
	}
	return best, v[best]
}

// passes reports whether r clears its label's threshold. Labels without a
// threshold are rejected.
func passes(r Region, thresholds map[string]float64) bool {
	if r.Label == LabelNoObject {
		return false
	}
	th, ok := thresholds[r.Label]
	return ok && r.Score >= th
}
