package detection

import (
	"math"
	"time"
)

// Class ids emitted by the survey detector.
const (
	ClassDugong = 0
	ClassCalf   = 1
)

// BoundingBox is a single detector output in pixel space.
type BoundingBox struct {
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Confidence float64 `json:"confidence"`
	ClassID    int     `json:"class_id"`
}

// Width returns the horizontal extent, never negative.
func (b BoundingBox) Width() float64 {
	return math.Max(0, b.X2-b.X1)
}

// Height returns the vertical extent, never negative.
func (b BoundingBox) Height() float64 {
	return math.Max(0, b.Y2-b.Y1)
}

// Area returns width * height.
func (b BoundingBox) Area() float64 {
	return b.Width() * b.Height()
}

// Size is the geometric mean of the box sides.
func (b BoundingBox) Size() float64 {
	return math.Sqrt(b.Height() * b.Width())
}

// IoU returns the intersection over union of two boxes.
func (b BoundingBox) IoU(o BoundingBox) float64 {
	ix := math.Min(b.X2, o.X2) - math.Max(b.X1, o.X1)
	iy := math.Min(b.Y2, o.Y2) - math.Max(b.Y1, o.Y1)
	if ix <= 0 || iy <= 0 {
		return 0
	}
	inter := ix * iy
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// DetectionSet holds the boxes found on one image along with its pixel dimensions.
type DetectionSet struct {
	Width  int           `json:"width"`
	Height int           `json:"height"`
	Boxes  []BoundingBox `json:"boxes"`
}

// Len returns the number of boxes.
func (s DetectionSet) Len() int {
	return len(s.Boxes)
}

// RawDetectionSet is detector output before suppression.
type RawDetectionSet DetectionSet

// SuppressedDetectionSet is the deduplicated subset produced by a Suppressor.
type SuppressedDetectionSet DetectionSet

// Image is one uploaded survey image.
type Image struct {
	Filename    string
	Data        []byte
	ContentType string
}

// Result is the per-image outcome of one pipeline run.
type Result struct {
	Filename       string
	DugongCount    int
	CalfCount      int
	TotalCount     int
	ImageClass     string
	AnnotatedImage []byte
	LabelText      string
	Boxes          SuppressedDetectionSet
	CreatedAt      time.Time
}

// TotalCount weights calves double, matching the survey tally rules.
func TotalCount(dugongs, calves int) int {
	return dugongs + 2*calves
}

// CountClasses tallies dugong and calf boxes. Other class ids are ignored.
func CountClasses(set SuppressedDetectionSet) (dugongs, calves int) {
	for _, box := range set.Boxes {
		switch box.ClassID {
		case ClassDugong:
			dugongs++
		case ClassCalf:
			calves++
		}
	}
	return dugongs, calves
}
