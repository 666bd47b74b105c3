package detection

import (
	"math"
	"sort"
)

// Default parameters for adaptive suppression.
const (
	DefaultMinSize = 10.0
	DefaultMaxSize = 200.0
	DefaultIoUMin  = 0.1
	DefaultIoUMax  = 0.6
)

// Suppressor removes overlapping boxes using an IoU threshold derived from the
// median object size of each image. Large objects get a lower threshold so
// near-duplicate boxes on one animal merge; small packed objects get a higher
// one so distinct animals survive.
type Suppressor struct {
	MinSize float64
	MaxSize float64
	IoUMin  float64
	IoUMax  float64
}

// DefaultSuppressor returns a Suppressor with the survey defaults.
func DefaultSuppressor() Suppressor {
	return Suppressor{
		MinSize: DefaultMinSize,
		MaxSize: DefaultMaxSize,
		IoUMin:  DefaultIoUMin,
		IoUMax:  DefaultIoUMax,
	}
}

// Threshold computes the IoU threshold for a detection set.
// An empty set yields IoUMax.
func (s Suppressor) Threshold(raw RawDetectionSet) float64 {
	if len(raw.Boxes) == 0 {
		return s.IoUMax
	}
	sizes := make([]float64, len(raw.Boxes))
	for i, box := range raw.Boxes {
		sizes[i] = box.Size()
	}
	clipped := math.Min(math.Max(lowerMedian(sizes), s.MinSize), s.MaxSize)
	relative := 0.0
	if s.MaxSize > s.MinSize {
		relative = (clipped - s.MinSize) / (s.MaxSize - s.MinSize)
	}
	return s.IoUMax - relative*(s.IoUMax-s.IoUMin)
}

// Suppress runs greedy class-agnostic suppression with the adaptive threshold.
// The input is never modified; kept boxes are returned in descending confidence.
func (s Suppressor) Suppress(raw RawDetectionSet) SuppressedDetectionSet {
	return s.SuppressAt(raw, s.Threshold(raw))
}

// SuppressAt is Suppress with a threshold the caller already computed.
func (s Suppressor) SuppressAt(raw RawDetectionSet, threshold float64) SuppressedDetectionSet {
	out := SuppressedDetectionSet{Width: raw.Width, Height: raw.Height}
	if len(raw.Boxes) == 0 {
		out.Boxes = []BoundingBox{}
		return out
	}

	order := make([]BoundingBox, len(raw.Boxes))
	copy(order, raw.Boxes)
	sort.SliceStable(order, func(i, j int) bool {
		return order[i].Confidence > order[j].Confidence
	})

	kept := make([]BoundingBox, 0, len(order))
	for _, candidate := range order {
		keep := true
		for _, k := range kept {
			if candidate.IoU(k) > threshold {
				keep = false
				break
			}
		}
		if keep {
			kept = append(kept, candidate)
		}
	}
	out.Boxes = kept
	return out
}

// lowerMedian returns the median, choosing the lower middle value for even counts.
func lowerMedian(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return sorted[(len(sorted)-1)/2]
}
