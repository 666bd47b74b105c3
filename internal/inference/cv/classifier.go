package cv

import (
	"context"
	"errors"

	"github.com/rpggio/dugongwatch/internal/domain/detection"
	"github.com/rpggio/dugongwatch/internal/inference/yolo"
)

// ClassifierConfig describes an ONNX export of the scene classifier.
type ClassifierConfig struct {
	ModelPath string
	InputSize int
	Labels    []string
}

// Classifier implements detection.Classifier.
type Classifier struct {
	net    *network
	size   int
	labels []string
}

// NewClassifier loads the model at cfg.ModelPath.
func NewClassifier(cfg ClassifierConfig) (*Classifier, error) {
	if len(cfg.Labels) == 0 {
		return nil, errors.New("classifier labels are required")
	}
	if cfg.InputSize <= 0 {
		cfg.InputSize = 224
	}
	net, err := loadNetwork(cfg.ModelPath)
	if err != nil {
		return nil, err
	}
	return &Classifier{net: net, size: cfg.InputSize, labels: cfg.Labels}, nil
}

// Classify returns the top-1 label for the image.
func (c *Classifier) Classify(ctx context.Context, img detection.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	mat, err := decodeImage(img.Data)
	if err != nil {
		return "", err
	}
	defer mat.Close()

	scores, _, err := c.net.forward(mat, c.size)
	if err != nil {
		return "", err
	}
	label, _, err := yolo.Top1(scores, c.labels)
	return label, err
}

// Close releases the native network.
func (c *Classifier) Close() error {
	return c.net.close()
}
