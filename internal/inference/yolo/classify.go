package yolo

import (
	"fmt"
	"math"
)

// Top1 returns the label with the highest score. Scores may be logits or
// probabilities; the ranking is the same either way.
func Top1(scores []float32, labels []string) (string, float64, error) {
	if len(scores) == 0 {
		return "", 0, fmt.Errorf("%w: empty classifier output", ErrShape)
	}
	if len(scores) != len(labels) {
		return "", 0, fmt.Errorf("%w: %d scores for %d labels", ErrShape, len(scores), len(labels))
	}
	probs := Softmax(scores)
	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}
	return labels[best], probs[best], nil
}

// Softmax normalizes scores into probabilities. Input that already sums to
// one within rounding is returned as is.
func Softmax(scores []float32) []float64 {
	out := make([]float64, len(scores))
	sum := 0.0
	isProb := true
	for i, s := range scores {
		out[i] = float64(s)
		sum += out[i]
		if s < 0 || s > 1 {
			isProb = false
		}
	}
	if isProb && math.Abs(sum-1) < 1e-3 {
		return out
	}

	maxV := math.Inf(-1)
	for _, v := range out {
		maxV = math.Max(maxV, v)
	}
	sum = 0
	for i, v := range out {
		out[i] = math.Exp(v - maxV)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
