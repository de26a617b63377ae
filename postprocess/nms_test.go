package postprocess

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func det(x1, y1, x2, y2, conf float32, class int) Detection {
	return Detection{
		Box:        Box{X1: x1, Y1: y1, X2: x2, Y2: y2},
		Confidence: conf,
		ClassID:    class,
	}
}

func TestIoU(t *testing.T) {

	tests := []struct {
		name     string
		a, b     Box
		expected float32
	}{
		{"identical", Box{0, 0, 10, 10}, Box{0, 0, 10, 10}, 1},
		{"half", Box{0, 0, 10, 10}, Box{0, 0, 10, 5}, 0.5},
		{"quarter overlap", Box{0, 0, 10, 10}, Box{5, 5, 15, 15}, 25.0 / 175.0},
		{"touching edges", Box{0, 0, 10, 10}, Box{10, 0, 20, 10}, 0},
		{"disjoint", Box{0, 0, 10, 10}, Box{50, 50, 60, 60}, 0},
		{"contained", Box{0, 0, 10, 10}, Box{2, 2, 4, 4}, 0.04},
	}

	for _, tc := range tests {
		got := IoU(tc.a, tc.b)

		if math.Abs(float64(got-tc.expected)) > 1e-6 {
			t.Errorf("%s: expected IoU %f, got %f", tc.name, tc.expected, got)
		}

		if rev := IoU(tc.b, tc.a); rev != got {
			t.Errorf("%s: IoU not symmetric, %f vs %f", tc.name, got, rev)
		}
	}
}

func TestNMS(t *testing.T) {

	tests := []struct {
		name      string
		input     []Detection
		threshold float32
		expected  []Detection
	}{
		{
			name: "suppresses same class overlap",
			input: []Detection{
				det(0, 0, 10, 10, 0.6, 0),
				det(1, 1, 10, 10, 0.9, 0),
				det(100, 100, 120, 120, 0.7, 0),
			},
			threshold: 0.45,
			expected: []Detection{
				det(1, 1, 10, 10, 0.9, 0),
				det(100, 100, 120, 120, 0.7, 0),
			},
		},
		{
			name: "different classes never suppress",
			input: []Detection{
				det(0, 0, 10, 10, 0.9, 0),
				det(0, 0, 10, 10, 0.8, 1),
			},
			threshold: 0,
			expected: []Detection{
				det(0, 0, 10, 10, 0.9, 0),
				det(0, 0, 10, 10, 0.8, 1),
			},
		},
		{
			name: "iou equal to threshold suppresses",
			input: []Detection{
				det(0, 0, 10, 10, 0.9, 0),
				det(0, 0, 10, 5, 0.8, 0),
			},
			threshold: 0.5,
			expected: []Detection{
				det(0, 0, 10, 10, 0.9, 0),
			},
		},
		{
			name: "iou below threshold kept",
			input: []Detection{
				det(0, 0, 10, 10, 0.9, 0),
				det(0, 0, 10, 5, 0.8, 0),
			},
			threshold: 0.51,
			expected: []Detection{
				det(0, 0, 10, 10, 0.9, 0),
				det(0, 0, 10, 5, 0.8, 0),
			},
		},
		{
			name: "disjoint boxes survive zero threshold",
			input: []Detection{
				det(0, 0, 10, 10, 0.5, 0),
				det(20, 20, 30, 30, 0.6, 0),
			},
			threshold: 0,
			expected: []Detection{
				det(20, 20, 30, 30, 0.6, 0),
				det(0, 0, 10, 10, 0.5, 0),
			},
		},
		{
			name: "suppressed box does not suppress others",
			input: []Detection{
				det(0, 0, 10, 10, 0.9, 0),
				det(5, 0, 15, 10, 0.8, 0),
				det(10, 0, 20, 10, 0.7, 0),
			},
			threshold: 0.3,
			expected: []Detection{
				det(0, 0, 10, 10, 0.9, 0),
				det(10, 0, 20, 10, 0.7, 0),
			},
		},
		{
			name:      "empty",
			input:     nil,
			threshold: 0.45,
			expected:  nil,
		},
	}

	for _, tc := range tests {
		input := append([]Detection(nil), tc.input...)
		got := NMS(input, tc.threshold)

		if diff := cmp.Diff(tc.expected, got); diff != "" {
			t.Errorf("%s: unexpected result (-want +got):\n%s", tc.name, diff)
		}

		if diff := cmp.Diff(tc.input, input); diff != "" {
			t.Errorf("%s: input modified (-want +got):\n%s", tc.name, diff)
		}
	}
}

func TestNMSIdempotent(t *testing.T) {

	input := []Detection{
		det(0, 0, 100, 100, 0.95, 0),
		det(10, 10, 110, 110, 0.90, 0),
		det(50, 50, 150, 150, 0.85, 0),
		det(0, 0, 100, 100, 0.80, 1),
		det(200, 200, 260, 260, 0.70, 1),
		det(205, 205, 265, 265, 0.65, 1),
		det(400, 10, 450, 60, 0.60, 2),
	}

	for _, threshold := range []float32{0.1, 0.3, 0.45, 0.7} {
		once := NMS(input, threshold)
		twice := NMS(once, threshold)

		if diff := cmp.Diff(once, twice); diff != "" {
			t.Errorf("threshold %f: second pass changed result (-once +twice):\n%s", threshold, diff)
		}

		for i := 1; i < len(once); i++ {
			if once[i].Confidence > once[i-1].Confidence {
				t.Errorf("threshold %f: result not in descending confidence order", threshold)
			}
		}
	}
}

func TestLimit(t *testing.T) {

	dets := []Detection{det(0, 0, 1, 1, 0.9, 0), det(2, 2, 3, 3, 0.8, 0), det(4, 4, 5, 5, 0.7, 0)}

	tests := []struct {
		max      int
		expected int
	}{
		{0, 3},
		{2, 2},
		{5, 3},
	}

	for _, tc := range tests {
		if got := len(Limit(dets, tc.max)); got != tc.expected {
			t.Errorf("max %d: expected %d detections, got %d", tc.max, tc.expected, got)
		}
	}
}
