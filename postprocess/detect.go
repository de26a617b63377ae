package postprocess

import "fmt"

// Box is an axis aligned bounding box in original image pixel coordinates,
// with X2 > X1 and Y2 > Y1
type Box struct {
	X1 float32
	Y1 float32
	X2 float32
	Y2 float32
}

// Width of the box
func (b Box) Width() float32 {
	return b.X2 - b.X1
}

// Height of the box
func (b Box) Height() float32 {
	return b.Y2 - b.Y1
}

// Area of the box, zero for degenerate boxes
func (b Box) Area() float32 {

	w, h := b.Width(), b.Height()

	if w <= 0 || h <= 0 {
		return 0
	}

	return w * h
}

// Detection defines the attributes of a single object detected
type Detection struct {
	// Box is the object location in the original image
	Box Box
	// Confidence is the class score of the object in [0,1]
	Confidence float32
	// ClassID is the line number in the labels file the Model was trained on
	ClassID int
	// Label is the name of the class
	Label string
	// ID is a unique ID assigned to the detection
	ID int64
}

// String returns a readable summary of the detection
func (d Detection) String() string {
	return fmt.Sprintf("%s (%d) %.3f @ (%.1f,%.1f)-(%.1f,%.1f)", d.Label, d.ClassID,
		d.Confidence, d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2)
}

// LabelFor returns the label of classID, or class_<id> when the labels do
// not cover it
func LabelFor(labels []string, classID int) string {

	if classID >= 0 && classID < len(labels) && labels[classID] != "" {
		return labels[classID]
	}

	return fmt.Sprintf("class_%d", classID)
}
