package postprocess

// NMS implements same class greedy Non-Maximum Suppression.  Detections are
// visited in descending confidence order, each kept detection suppresses the
// later detections of its class whose IoU with it is at least iouThreshold.
// Boxes that do not intersect never suppress each other.  The result is
// ordered by descending confidence and the input slice is left untouched
func NMS(dets []Detection, iouThreshold float32) []Detection {

	if len(dets) == 0 {
		return nil
	}

	order := make([]Detection, len(dets))
	copy(order, dets)
	sortByConfidence(order)

	suppressed := make([]bool, len(order))
	keep := make([]Detection, 0, len(order))

	for i := range order {

		if suppressed[i] {
			continue
		}

		keep = append(keep, order[i])

		for j := i + 1; j < len(order); j++ {

			if suppressed[j] || order[j].ClassID != order[i].ClassID {
				continue
			}

			iou := IoU(order[i].Box, order[j].Box)

			if iou > 0 && iou >= iouThreshold {
				suppressed[j] = true
			}
		}
	}

	return keep
}

// Limit truncates NMS output to max detections, zero means unlimited
func Limit(dets []Detection, max int) []Detection {

	if max <= 0 || len(dets) <= max {
		return dets
	}

	return dets[:max]
}
