package render

import (
	"fmt"
	"image"
	"image/color"

	"github.com/nutrivision/go-nutrivision/postprocess"
	"gocv.io/x/gocv"
)

type Alignment int

const (
	Left   Alignment = 1
	Center Alignment = 2
	Right  Alignment = 3
)

// Font defines the parameters for rendering box labels with GoCV
type Font struct {
	Face      gocv.HersheyFont
	Scale     float64
	Color     color.RGBA
	Thickness int
	LineType  gocv.LineType
	// Padding to place around text
	LeftPad   int
	RightPad  int
	TopPad    int
	BottomPad int
	// Alignment of the label to the bounding box
	Alignment Alignment
}

// Style is the appearance of rendered detections
type Style struct {
	Font          Font
	LineThickness int
}

// DefaultStyle returns the style used by the Dumper
func DefaultStyle() Style {
	return Style{
		Font: Font{
			Face:      gocv.FontHersheySimplex,
			Scale:     0.5,
			Color:     White,
			Thickness: 1,
			LineType:  gocv.LineAA,
			LeftPad:   4,
			RightPad:  4,
			TopPad:    4,
			BottomPad: 6,
			Alignment: Left,
		},
		LineThickness: 2,
	}
}

// boxLabel is a label placed above a box
type boxLabel struct {
	rect    image.Rectangle
	clr     color.RGBA
	text    string
	textPos image.Point
}

// LabelText returns the text drawn above a detection
func LabelText(d postprocess.Detection) string {
	return fmt.Sprintf("%s %.2f", d.Label, d.Confidence)
}

// placeLabel returns the background rectangle and text origin of a label
// with the given text size above box
func placeLabel(box image.Rectangle, textSize image.Point, font Font,
	lineThickness int) (image.Rectangle, image.Point) {

	var centerX int

	switch font.Alignment {
	case Center:
		centerX = (box.Min.X + box.Max.X) / 2

	case Right:
		centerX = box.Max.X - (textSize.X / 2) - font.RightPad + (lineThickness / 2)

	case Left:
		fallthrough
	default:
		centerX = box.Min.X + (textSize.X / 2) + font.LeftPad - (lineThickness / 2)
	}

	// labels of boxes touching the top edge go inside the box
	top := box.Min.Y

	if top-textSize.Y-font.TopPad-font.BottomPad < 0 {
		top = box.Min.Y + textSize.Y + font.TopPad + font.BottomPad
	}

	rect := image.Rect(centerX-textSize.X/2-font.LeftPad,
		top-textSize.Y-font.TopPad-font.BottomPad,
		centerX+textSize.X/2+font.RightPad, top)

	return rect, image.Pt(centerX-textSize.X/2, top-font.BottomPad)
}

// DetectionBoxes draws the bounding box and label of each detection onto a
// BGR image
func DetectionBoxes(img *gocv.Mat, dets []postprocess.Detection, style Style) {

	font := style.Font
	labels := make([]boxLabel, 0, len(dets))

	for _, d := range dets {

		clr := ColorFor(d.ClassID)
		// gocv draws in BGR order
		bgr := color.RGBA{R: clr.B, G: clr.G, B: clr.R, A: clr.A}

		rect := image.Rect(int(d.Box.X1), int(d.Box.Y1), int(d.Box.X2), int(d.Box.Y2))
		gocv.Rectangle(img, rect, bgr, style.LineThickness)

		text := LabelText(d)
		textSize := gocv.GetTextSize(text, font.Face, font.Scale, font.Thickness)
		bg, pos := placeLabel(rect, textSize, font, style.LineThickness)

		labels = append(labels, boxLabel{rect: bg, clr: bgr, text: text, textPos: pos})
	}

	// labels are drawn last so no box line crosses them
	for _, l := range labels {
		gocv.Rectangle(img, l.rect, l.clr, -1)
		gocv.PutTextWithParams(img, l.text, l.textPos, font.Face, font.Scale,
			font.Color, font.Thickness, font.LineType, false)
	}
}
