package pipeline

import (
	"errors"
	"fmt"
	"math"

	"EmotionDetServer/status"
)

var (
	ErrLabelMismatch = errors.New("output length does not match label table")
	ErrNonFinite     = errors.New("classifier output is not finite")
)

// Softmax converts raw scores into probabilities. The maximum is subtracted
// before exponentiating so large logits cannot overflow.
func Softmax(logits []float32) []float64 {
	if len(logits) == 0 {
		return nil
	}
	maxLogit := float64(logits[0])
	for _, v := range logits[1:] {
		if float64(v) > maxLogit {
			maxLogit = float64(v)
		}
	}
	probs := make([]float64, len(logits))
	sum := 0.0
	for i, v := range logits {
		probs[i] = math.Exp(float64(v) - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// ArgMax returns the first index holding the largest value, or -1.
func ArgMax(values []float64) int {
	if len(values) == 0 {
		return -1
	}
	best := 0
	for i, v := range values[1:] {
		if v > values[best] {
			best = i + 1
		}
	}
	return best
}

// Estimate derives the label and integer confidence from one output vector.
func Estimate(logits []float32, labels []string) (status.EmotionEstimate, error) {
	if len(logits) != len(labels) {
		return status.EmotionEstimate{}, fmt.Errorf("%w: %d scores, %d labels", ErrLabelMismatch, len(logits), len(labels))
	}
	if len(labels) == 0 {
		return status.EmotionEstimate{}, fmt.Errorf("%w: empty label table", ErrLabelMismatch)
	}
	for i, v := range logits {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return status.EmotionEstimate{}, fmt.Errorf("%w: score %d is %v", ErrNonFinite, i, v)
		}
	}
	probs := Softmax(logits)
	idx := ArgMax(probs)
	confidence := int(math.Round(probs[idx] * 100))
	if confidence < 0 {
		confidence = 0
	} else if confidence > 100 {
		confidence = 100
	}
	return status.EmotionEstimate{Label: labels[idx], Confidence: confidence}, nil
}
