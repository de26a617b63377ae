package postprocess

import "sort"

// clamp restricts val to the range [min, max]
func clamp(val, min, max float32) float32 {

	if val < min {
		return min
	}

	if val > max {
		return max
	}

	return val
}

// sortByConfidence orders detections by descending confidence, detections
// of equal confidence keep their relative order
func sortByConfidence(dets []Detection) {
	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})
}

// IoU works out the Intersection over Union value of two boxes
func IoU(a, b Box) float32 {

	w := min(a.X2, b.X2) - max(a.X1, b.X1)
	h := min(a.Y2, b.Y2) - max(a.Y1, b.Y1)

	if w <= 0 || h <= 0 {
		return 0
	}

	intersection := w * h
	union := a.Area() + b.Area() - intersection

	if union <= 0 {
		return 0
	}

	return intersection / union
}
