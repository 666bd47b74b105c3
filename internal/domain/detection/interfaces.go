package detection

import "context"

// Detector runs the object detection model over a batch of images.
// It must return one RawDetectionSet per input image, in input order.
type Detector interface {
	Detect(ctx context.Context, images []Image) ([]RawDetectionSet, error)
}

// Classifier returns the top-1 scene label for one image.
type Classifier interface {
	Classify(ctx context.Context, img Image) (string, error)
}

// Annotator draws kept boxes onto an image and returns the encoded result.
type Annotator interface {
	Annotate(ctx context.Context, img Image, boxes SuppressedDetectionSet) ([]byte, error)
}
