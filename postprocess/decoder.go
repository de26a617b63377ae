package postprocess

import (
	"fmt"

	"github.com/nutrivision/go-nutrivision/preprocess"
)

// Params defines the detector output geometry and the thresholds used for
// post processing
type Params struct {
	// InputSize is the side length S of the square model input
	InputSize int
	// ClassNum is the number of object classes C the Model was trained with
	ClassNum int
	// Predictions is the number of anchor free predictions N per output
	Predictions int
	// ConfidenceThreshold is the minimum class score required for a
	// prediction to be kept, the comparison is inclusive
	ConfidenceThreshold float32
	// IoUThreshold is the Intersection over Union at or above which NMS
	// suppresses the lower scored of two same class boxes
	IoUThreshold float32
	// MaxCandidates caps the number of boxes entering NMS, keeping the
	// highest scored ones, zero means no cap
	MaxCandidates int
	// MaxDetections limits the number of boxes returned after NMS, zero
	// means unlimited
	MaxDetections int
	// NormalizedBoxes is set when box rows are relative to InputSize rather
	// than model space pixels
	NormalizedBoxes bool
}

// FoodParams returns Params configured for the 83 class food detector:
// - Input Size: 640
// - Object Classes: 83
// - Predictions: 8400
// - Confidence Threshold: 0.40
// - IoU Threshold: 0.45
// - Maximum Candidates: 200
func FoodParams() Params {
	return Params{
		InputSize:           640,
		ClassNum:            83,
		Predictions:         8400,
		ConfidenceThreshold: 0.40,
		IoUThreshold:        0.45,
		MaxCandidates:       200,
		NormalizedBoxes:     true,
	}
}

// OutputLen returns the number of elements of the (4+C) x N output tensor
func (p Params) OutputLen() int {
	return (4 + p.ClassNum) * p.Predictions
}

// Decoder turns a raw detector output tensor into detections in original
// image coordinates
type Decoder struct {
	// Params are the Model output parameters
	Params Params
	// labels are the class names indexed by class ID
	labels []string
	// idGen provides the next number for each detection ID
	idGen *IDGenerator
}

// NewDecoder returns a decoder for the given parameters and labels
func NewDecoder(p Params, labels []string) *Decoder {
	return &Decoder{
		Params: p,
		labels: labels,
		idGen:  NewIDGenerator(),
	}
}

// Decode reads the output tensor laid out as (4+C) rows of N columns, keeps
// predictions whose best class score is at least confThreshold, maps their
// boxes back through the letterbox transform and clamps them to the source
// image.  Degenerate boxes are discarded and at most MaxCandidates of the
// highest scored detections are returned.  Callers pass
// Params.ConfidenceThreshold unless they override it
func (d *Decoder) Decode(output []float32, tf preprocess.Transform,
	confThreshold float32) ([]Detection, error) {

	p := d.Params

	if len(output) < p.OutputLen() {
		return nil, fmt.Errorf("output tensor has %d elements, need %d",
			len(output), p.OutputLen())
	}

	if tf.Scale <= 0 {
		return nil, fmt.Errorf("invalid letterbox scale %f", tf.Scale)
	}

	n := p.Predictions
	unit := float32(1)

	if p.NormalizedBoxes {
		unit = float32(p.InputSize)
	}

	padLeft := float32(tf.PadLeft)
	padTop := float32(tf.PadTop)
	origW := float32(tf.SrcWidth)
	origH := float32(tf.SrcHeight)

	var dets []Detection

	for i := 0; i < n; i++ {

		maxScore := output[4*n+i]
		maxClass := 0

		for c := 1; c < p.ClassNum; c++ {
			if s := output[(4+c)*n+i]; s > maxScore {
				maxScore = s
				maxClass = c
			}
		}

		if maxScore < confThreshold {
			continue
		}

		cx := output[i] * unit
		cy := output[n+i] * unit
		w := output[2*n+i] * unit
		h := output[3*n+i] * unit

		box := Box{
			X1: clamp((cx-w/2-padLeft)/tf.Scale, 0, origW),
			Y1: clamp((cy-h/2-padTop)/tf.Scale, 0, origH),
			X2: clamp((cx+w/2-padLeft)/tf.Scale, 0, origW),
			Y2: clamp((cy+h/2-padTop)/tf.Scale, 0, origH),
		}

		if box.X2 <= box.X1 || box.Y2 <= box.Y1 {
			continue
		}

		dets = append(dets, Detection{
			Box:        box,
			Confidence: maxScore,
			ClassID:    maxClass,
			Label:      LabelFor(d.labels, maxClass),
		})
	}

	dets = Cap(dets, p.MaxCandidates)

	for i := range dets {
		dets[i].ID = d.idGen.GetNext()
	}

	return dets, nil
}

// Cap returns the limit highest scored detections in descending confidence
// order, a non positive limit keeps every detection in its original order
func Cap(dets []Detection, limit int) []Detection {

	if limit <= 0 || len(dets) <= limit {
		return dets
	}

	sortByConfidence(dets)

	return dets[:limit]
}
