package cv

import (
	"context"
	"fmt"

	"github.com/rpggio/dugongwatch/internal/domain/detection"
	"github.com/rpggio/dugongwatch/internal/inference/yolo"
)

// DetectorConfig describes an ONNX export of the detection model.
type DetectorConfig struct {
	ModelPath     string
	InputSize     int
	NumClasses    int
	Confidence    float64
	IoU           float64
	MaxDetections int
}

// Detector implements detection.Detector.
type Detector struct {
	net *network
	cfg DetectorConfig
}

// NewDetector loads the model at cfg.ModelPath.
func NewDetector(cfg DetectorConfig) (*Detector, error) {
	if cfg.InputSize <= 0 {
		cfg.InputSize = 640
	}
	if cfg.NumClasses <= 0 {
		cfg.NumClasses = 2
	}
	net, err := loadNetwork(cfg.ModelPath)
	if err != nil {
		return nil, err
	}
	return &Detector{net: net, cfg: cfg}, nil
}

// Detect runs the model over each image in order.
func (d *Detector) Detect(ctx context.Context, images []detection.Image) ([]detection.RawDetectionSet, error) {
	out := make([]detection.RawDetectionSet, 0, len(images))
	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		set, err := d.detectOne(img)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", img.Filename, err)
		}
		out = append(out, set)
	}
	return out, nil
}

func (d *Detector) detectOne(img detection.Image) (detection.RawDetectionSet, error) {
	mat, err := decodeImage(img.Data)
	if err != nil {
		return detection.RawDetectionSet{}, err
	}
	defer mat.Close()

	data, shape, err := d.net.forward(mat, d.cfg.InputSize)
	if err != nil {
		return detection.RawDetectionSet{}, err
	}

	p := yolo.DefaultParams(d.cfg.NumClasses)
	if d.cfg.Confidence > 0 {
		p.Confidence = d.cfg.Confidence
	}
	if d.cfg.IoU > 0 {
		p.IoU = d.cfg.IoU
	}
	if d.cfg.MaxDetections > 0 {
		p.MaxDetections = d.cfg.MaxDetections
	}
	p.Width, p.Height = mat.Cols(), mat.Rows()
	p.ScaleX = float64(mat.Cols()) / float64(d.cfg.InputSize)
	p.ScaleY = float64(mat.Rows()) / float64(d.cfg.InputSize)

	return yolo.Decode(data, shape, p)
}

// Close releases the native network.
func (d *Detector) Close() error {
	return d.net.close()
}
