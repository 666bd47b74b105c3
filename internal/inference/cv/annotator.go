package cv

import (
	"context"
	"fmt"
	"image"

	"github.com/rpggio/dugongwatch/internal/domain/detection"
	"github.com/rpggio/dugongwatch/internal/inference"
	"gocv.io/x/gocv"
)

// Annotator implements detection.Annotator by drawing kept boxes and
// re-encoding the image as JPEG.
type Annotator struct{}

// NewAnnotator creates an Annotator.
func NewAnnotator() *Annotator {
	return &Annotator{}
}

// Annotate draws each box in its class color.
func (a *Annotator) Annotate(ctx context.Context, img detection.Image, set detection.SuppressedDetectionSet) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mat, err := decodeImage(img.Data)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	for _, box := range set.Boxes {
		rect := image.Rect(int(box.X1), int(box.Y1), int(box.X2), int(box.Y2))
		if err := gocv.Rectangle(&mat, rect, inference.BoxColor(box.ClassID), inference.BoxThickness); err != nil {
			return nil, fmt.Errorf("failed to draw rectangle: %w", err)
		}
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
