// Package cv runs the survey models through the OpenCV DNN module and
// renders annotated images. Every type here is safe for concurrent use.
package cv

import (
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// network serializes access to a gocv.Net, which is not reentrant.
type network struct {
	mu  sync.Mutex
	net gocv.Net
}

func loadNetwork(modelPath string) (*network, error) {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", modelPath)
	}

	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load network from %s", modelPath)
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, fmt.Errorf("set preferable backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, fmt.Errorf("set preferable target: %w", err)
	}
	return &network{net: net}, nil
}

// forward runs one square input through the network and copies the output
// tensor out of native memory.
func (n *network) forward(img gocv.Mat, size int) ([]float32, []int, error) {
	blob := gocv.BlobFromImage(img, 1.0/255.0, image.Pt(size, size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	n.mu.Lock()
	defer n.mu.Unlock()

	n.net.SetInput(blob, "")
	out := n.net.Forward("")
	defer out.Close()

	if out.Empty() {
		return nil, nil, fmt.Errorf("network produced no output")
	}
	ptr, err := out.DataPtrFloat32()
	if err != nil {
		return nil, nil, fmt.Errorf("read network output: %w", err)
	}
	data := make([]float32, len(ptr))
	copy(data, ptr)
	return data, out.Size(), nil
}

func (n *network) close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.net.Close()
}

func decodeImage(data []byte) (gocv.Mat, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return mat, fmt.Errorf("failed to decode image: %w", err)
	}
	if mat.Empty() {
		mat.Close()
		return mat, fmt.Errorf("decoded image is empty")
	}
	return mat, nil
}
