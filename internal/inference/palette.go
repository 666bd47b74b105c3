// Package inference holds what the model backends share.
package inference

import (
	"image/color"

	"github.com/rpggio/dugongwatch/internal/domain/detection"
)

// Box colors used when annotating results.
var (
	ColorDugong = color.RGBA{R: 0, G: 0, B: 255, A: 255}
	ColorCalf   = color.RGBA{R: 255, G: 0, B: 0, A: 255}
	ColorOther  = color.RGBA{R: 0, G: 255, B: 0, A: 255}
)

// BoxThickness is the stroke width of annotation rectangles.
const BoxThickness = 2

// BoxColor picks the annotation color for a class id.
func BoxColor(classID int) color.RGBA {
	switch classID {
	case detection.ClassDugong:
		return ColorDugong
	case detection.ClassCalf:
		return ColorCalf
	default:
		return ColorOther
	}
}
