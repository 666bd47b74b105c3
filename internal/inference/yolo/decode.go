// Package yolo decodes raw YOLO tensors into detections and labels. It has
// no OpenCV dependency so the math can be tested without native libraries.
package yolo

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/rpggio/dugongwatch/internal/domain/detection"
)

// Defaults applied by the detection head.
const (
	DefaultConfidence    = 0.3
	DefaultIoU           = 0.3
	DefaultMaxDetections = 1000
)

// ErrShape is returned when a tensor does not match the expected layout.
var ErrShape = errors.New("unexpected tensor shape")

// DecodeParams controls decoding of one detection output.
type DecodeParams struct {
	NumClasses    int
	Confidence    float64
	IoU           float64
	MaxDetections int

	// Scale maps model input coordinates back to the source image.
	ScaleX, ScaleY float64
	// Width and Height of the source image; boxes are clipped to it.
	Width, Height int
}

// DefaultParams returns the survey defaults for a model with numClasses classes.
func DefaultParams(numClasses int) DecodeParams {
	return DecodeParams{
		NumClasses:    numClasses,
		Confidence:    DefaultConfidence,
		IoU:           DefaultIoU,
		MaxDetections: DefaultMaxDetections,
		ScaleX:        1,
		ScaleY:        1,
	}
}

// Decode turns a YOLOv8 style output of shape [1, 4+nc, N] (or its transpose
// [1, N, 4+nc]) into boxes in source image pixels. Candidates below the
// confidence threshold are dropped, per-class NMS is applied, and at most
// MaxDetections boxes are returned in descending confidence.
func Decode(data []float32, shape []int, p DecodeParams) (detection.RawDetectionSet, error) {
	set := detection.RawDetectionSet{Width: p.Width, Height: p.Height, Boxes: []detection.BoundingBox{}}

	attrs := 4 + p.NumClasses
	if p.NumClasses <= 0 {
		return set, fmt.Errorf("%w: %d classes", ErrShape, p.NumClasses)
	}
	dims := squeeze(shape)
	if len(dims) != 2 {
		return set, fmt.Errorf("%w: %v", ErrShape, shape)
	}

	var n int
	var at func(anchor, attr int) float64
	switch {
	case dims[0] == attrs:
		n = dims[1]
		at = func(anchor, attr int) float64 { return float64(data[attr*n+anchor]) }
	case dims[1] == attrs:
		n = dims[0]
		at = func(anchor, attr int) float64 { return float64(data[anchor*attrs+attr]) }
	default:
		return set, fmt.Errorf("%w: %v for %d classes", ErrShape, shape, p.NumClasses)
	}
	if len(data) < n*attrs {
		return set, fmt.Errorf("%w: %d values for %v", ErrShape, len(data), shape)
	}

	candidates := make([]detection.BoundingBox, 0)
	for i := 0; i < n; i++ {
		classID, score := 0, math.Inf(-1)
		for c := 0; c < p.NumClasses; c++ {
			if v := at(i, 4+c); v > score {
				classID, score = c, v
			}
		}
		if score < p.Confidence {
			continue
		}
		cx, cy, w, h := at(i, 0), at(i, 1), at(i, 2), at(i, 3)
		candidates = append(candidates, p.clip(detection.BoundingBox{
			X1:         (cx - w/2) * p.ScaleX,
			Y1:         (cy - h/2) * p.ScaleY,
			X2:         (cx + w/2) * p.ScaleX,
			Y2:         (cy + h/2) * p.ScaleY,
			Confidence: score,
			ClassID:    classID,
		}))
	}

	kept := NMS(candidates, p.IoU)
	if p.MaxDetections > 0 && len(kept) > p.MaxDetections {
		kept = kept[:p.MaxDetections]
	}
	set.Boxes = kept
	return set, nil
}

func (p DecodeParams) clip(b detection.BoundingBox) detection.BoundingBox {
	if p.Width > 0 {
		b.X1 = math.Min(math.Max(b.X1, 0), float64(p.Width))
		b.X2 = math.Min(math.Max(b.X2, 0), float64(p.Width))
	}
	if p.Height > 0 {
		b.Y1 = math.Min(math.Max(b.Y1, 0), float64(p.Height))
		b.Y2 = math.Min(math.Max(b.Y2, 0), float64(p.Height))
	}
	return b
}

// NMS runs greedy per-class non-maximum suppression at a fixed threshold.
func NMS(boxes []detection.BoundingBox, iou float64) []detection.BoundingBox {
	order := make([]detection.BoundingBox, len(boxes))
	copy(order, boxes)
	sort.SliceStable(order, func(i, j int) bool {
		return order[i].Confidence > order[j].Confidence
	})

	kept := make([]detection.BoundingBox, 0, len(order))
	for _, candidate := range order {
		keep := true
		for _, k := range kept {
			if k.ClassID == candidate.ClassID && candidate.IoU(k) > iou {
				keep = false
				break
			}
		}
		if keep {
			kept = append(kept, candidate)
		}
	}
	return kept
}

func squeeze(shape []int) []int {
	dims := make([]int, 0, len(shape))
	for _, d := range shape {
		if d != 1 {
			dims = append(dims, d)
		}
	}
	return dims
}
