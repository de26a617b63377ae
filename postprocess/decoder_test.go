package postprocess

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/nutrivision/go-nutrivision/preprocess"
)

// pred is a synthetic prediction in model space pixels
type pred struct {
	cx, cy, w, h float32
	class        int
	score        float32
}

func testParams() Params {
	return Params{
		InputSize:           640,
		ClassNum:            3,
		Predictions:         6,
		ConfidenceThreshold: 0.40,
		IoUThreshold:        0.45,
		NormalizedBoxes:     true,
	}
}

// makeOutput lays out predictions as the (4+C) x N output tensor
func makeOutput(p Params, preds []pred) []float32 {

	out := make([]float32, p.OutputLen())
	n := p.Predictions
	unit := float32(1)

	if p.NormalizedBoxes {
		unit = float32(p.InputSize)
	}

	for i, pr := range preds {
		out[i] = pr.cx / unit
		out[n+i] = pr.cy / unit
		out[2*n+i] = pr.w / unit
		out[3*n+i] = pr.h / unit
		out[(4+pr.class)*n+i] = pr.score
	}

	return out
}

// ignoreID drops the generated IDs from comparisons
var ignoreID = cmpopts.IgnoreFields(Detection{}, "ID")

func TestDecodeLetterboxScenario(t *testing.T) {

	p := testParams()
	dec := NewDecoder(p, []string{"apple", "bread", "cheese"})
	tf := preprocess.CalcTransform(1280, 960, 640)

	// model space box (100,100)-(200,200)
	out := makeOutput(p, []pred{{150, 150, 100, 100, 1, 0.9}})
	dets, err := dec.Decode(out, tf, p.ConfidenceThreshold)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []Detection{{
		Box:        Box{X1: 200, Y1: 40, X2: 400, Y2: 240},
		Confidence: 0.9,
		ClassID:    1,
		Label:      "bread",
	}}

	if diff := cmp.Diff(want, dets, ignoreID); diff != "" {
		t.Errorf("unexpected detections (-want +got):\n%s", diff)
	}
}

func TestDecodeThresholdInclusive(t *testing.T) {

	p := testParams()
	dec := NewDecoder(p, nil)
	tf := preprocess.CalcTransform(640, 640, 640)

	tests := []struct {
		score float32
		keep  bool
	}{
		{0.40, true},
		{0.399, false},
		{0.41, true},
	}

	for _, tc := range tests {
		out := makeOutput(p, []pred{{320, 320, 50, 50, 0, tc.score}})
		dets, err := dec.Decode(out, tf, 0.40)

		if err != nil {
			t.Fatalf("score %f: unexpected error: %v", tc.score, err)
		}

		if got := len(dets) == 1; got != tc.keep {
			t.Errorf("score %f: expected keep=%v, got %d detections", tc.score, tc.keep, len(dets))
		}
	}
}

func TestDecodeZeroThreshold(t *testing.T) {

	p := testParams()
	dec := NewDecoder(p, nil)
	tf := preprocess.CalcTransform(640, 640, 640)

	out := makeOutput(p, []pred{
		{100, 100, 20, 20, 0, 0.10},
		{300, 300, 20, 20, 1, 0.09},
	})

	// the unused predictions score 0 too but have empty boxes
	dets, err := dec.Decode(out, tf, 0)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(dets) != 2 {
		t.Fatalf("expected 2 detections, got %d: %v", len(dets), dets)
	}

	if dets[0].Confidence != 0.10 || dets[1].Confidence != 0.09 {
		t.Errorf("expected confidences 0.10 and 0.09, got %v", dets)
	}
}

func TestDecodeRoundTrip(t *testing.T) {

	p := testParams()
	dec := NewDecoder(p, nil)

	tests := []struct {
		scale   float32
		padLeft int
		padTop  int
		srcW    int
		srcH    int
	}{
		{1, 0, 0, 640, 640},
		{0.5, 0, 80, 1280, 960},
		{0.64, 64, 0, 800, 1000},
		{0.3, 17, 211, 2133, 728},
		{0.05, 3, 5, 12000, 9000},
	}

	orig := Box{X1: 10, Y1: 20, X2: 300, Y2: 400}

	for _, tc := range tests {
		tf := preprocess.Transform{
			Scale:     tc.scale,
			PadLeft:   tc.padLeft,
			PadTop:    tc.padTop,
			SrcWidth:  tc.srcW,
			SrcHeight: tc.srcH,
		}

		x1 := orig.X1*tc.scale + float32(tc.padLeft)
		y1 := orig.Y1*tc.scale + float32(tc.padTop)
		x2 := orig.X2*tc.scale + float32(tc.padLeft)
		y2 := orig.Y2*tc.scale + float32(tc.padTop)

		out := makeOutput(p, []pred{{(x1 + x2) / 2, (y1 + y2) / 2, x2 - x1, y2 - y1, 2, 0.8}})
		dets, err := dec.Decode(out, tf, p.ConfidenceThreshold)

		if err != nil {
			t.Fatalf("scale %f: unexpected error: %v", tc.scale, err)
		}

		if len(dets) != 1 {
			t.Fatalf("scale %f: expected 1 detection, got %d", tc.scale, len(dets))
		}

		// rounding tolerance grows as the inverse of the scale
		tol := 0.01 / float64(tc.scale)
		got := dets[0].Box

		for i, pair := range [][2]float32{{got.X1, orig.X1}, {got.Y1, orig.Y1},
			{got.X2, orig.X2}, {got.Y2, orig.Y2}} {

			if math.Abs(float64(pair[0]-pair[1])) > tol {
				t.Errorf("scale %f: coordinate %d expected %f, got %f",
					tc.scale, i, pair[1], pair[0])
			}
		}
	}
}

func TestDecodeClampAndDegenerate(t *testing.T) {

	p := testParams()
	dec := NewDecoder(p, nil)
	tf := preprocess.CalcTransform(1280, 960, 640)

	out := makeOutput(p, []pred{
		// overhangs the left and bottom image edges
		{10, 550, 100, 100, 0, 0.9},
		// lies entirely inside the top padding band
		{320, 30, 100, 40, 0, 0.9},
		// zero width
		{320, 320, 0, 100, 0, 0.9},
	})

	dets, err := dec.Decode(out, tf, p.ConfidenceThreshold)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(dets) != 1 {
		t.Fatalf("expected 1 detection, got %d: %v", len(dets), dets)
	}

	want := Box{X1: 0, Y1: 840, X2: 120, Y2: 960}

	if diff := cmp.Diff(want, dets[0].Box); diff != "" {
		t.Errorf("unexpected clamped box (-want +got):\n%s", diff)
	}
}

func TestDecodeArgmaxAndLabels(t *testing.T) {

	p := testParams()
	dec := NewDecoder(p, []string{"apple", ""})
	tf := preprocess.CalcTransform(640, 640, 640)

	out := makeOutput(p, []pred{
		{100, 100, 20, 20, 0, 0.5},
		{300, 300, 20, 20, 2, 0.7},
		{500, 500, 20, 20, 1, 0.6},
	})

	// a weaker second class score on the first prediction must not win
	out[(4+2)*p.Predictions+0] = 0.45

	dets, err := dec.Decode(out, tf, p.ConfidenceThreshold)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []struct {
		class int
		label string
	}{
		{0, "apple"},
		{2, "class_2"},
		{1, "class_1"},
	}

	if len(dets) != len(want) {
		t.Fatalf("expected %d detections, got %d", len(want), len(dets))
	}

	for i, w := range want {
		if dets[i].ClassID != w.class || dets[i].Label != w.label {
			t.Errorf("detection %d: expected class %d %q, got %d %q",
				i, w.class, w.label, dets[i].ClassID, dets[i].Label)
		}
	}

	for i := 1; i < len(dets); i++ {
		if dets[i].ID <= dets[i-1].ID {
			t.Errorf("expected increasing IDs, got %d after %d", dets[i].ID, dets[i-1].ID)
		}
	}
}

func TestDecodeCandidateCap(t *testing.T) {

	p := testParams()
	p.MaxCandidates = 2
	dec := NewDecoder(p, nil)
	tf := preprocess.CalcTransform(640, 640, 640)

	out := makeOutput(p, []pred{
		{100, 100, 20, 20, 0, 0.5},
		{200, 200, 20, 20, 0, 0.9},
		{300, 300, 20, 20, 0, 0.6},
		{400, 400, 20, 20, 0, 0.8},
	})

	dets, err := dec.Decode(out, tf, p.ConfidenceThreshold)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(dets) != 2 || dets[0].Confidence != 0.9 || dets[1].Confidence != 0.8 {
		t.Errorf("expected the two highest scored candidates, got %v", dets)
	}
}

func TestDecodePixelBoxes(t *testing.T) {

	p := testParams()
	p.NormalizedBoxes = false
	dec := NewDecoder(p, nil)
	tf := preprocess.CalcTransform(640, 640, 640)

	dets, err := dec.Decode(makeOutput(p, []pred{{150, 150, 100, 100, 0, 0.9}}), tf, p.ConfidenceThreshold)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := Box{X1: 100, Y1: 100, X2: 200, Y2: 200}

	if len(dets) != 1 || dets[0].Box != want {
		t.Errorf("expected box %v, got %v", want, dets)
	}
}

func TestDecodeInvalid(t *testing.T) {

	p := testParams()
	dec := NewDecoder(p, nil)

	if _, err := dec.Decode(make([]float32, 10), preprocess.CalcTransform(640, 640, 640), p.ConfidenceThreshold); err == nil {
		t.Errorf("expected error for short output tensor")
	}

	if _, err := dec.Decode(make([]float32, p.OutputLen()), preprocess.Transform{}, p.ConfidenceThreshold); err == nil {
		t.Errorf("expected error for zero scale")
	}
}
