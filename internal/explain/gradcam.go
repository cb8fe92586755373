// Package explain computes Grad-CAM heatmaps for single predictions and
// renders them over the source image.
package explain

import (
	"pneumonia-classifier/internal/imaging"
	"pneumonia-classifier/internal/model"
)

// Differentiable is the part of a classifier Grad-CAM needs.
type Differentiable interface {
	Gradient(x imaging.Tensor, layer string, class int) (model.ClassGradient, error)
}

// Heatmap is a class-activation map over the target layer's spatial grid.
// Values lie in [0,1] with a maximum of exactly 1, unless Degenerate is set,
// in which case every value is 0.
type Heatmap struct {
	H, W        int
	Values      []float64
	Degenerate  bool
	Layer       string
	Class       int
	Probability float64
}

func (h Heatmap) At(y, x int) float64 {
	return h.Values[y*h.W+x]
}

// GradCAM explains the prediction for x, a preprocessed image.
func GradCAM(m Differentiable, x imaging.Tensor, layer string, class int) (Heatmap, error) {
	g, err := m.Gradient(x, layer, class)
	if err != nil {
		return Heatmap{}, err
	}
	return FromGradient(g), nil
}

// FromGradient weights each activation channel by the spatial mean of its
// gradient, sums the channels, applies ReLU and scales by the maximum.
func FromGradient(g model.ClassGradient) Heatmap {
	acts, grads := g.Activations, g.Gradients
	area := float64(acts.H * acts.W)

	weights := make([]float64, acts.C)
	for i, v := range grads.Data {
		weights[i%acts.C] += v
	}
	for k := range weights {
		weights[k] /= area
	}

	h := Heatmap{
		H:           acts.H,
		W:           acts.W,
		Values:      make([]float64, acts.H*acts.W),
		Layer:       g.Layer,
		Class:       g.Class,
		Probability: g.Probability,
	}
	maxValue := 0.0
	for p := range h.Values {
		sum := 0.0
		base := p * acts.C
		for k, w := range weights {
			sum += w * acts.Data[base+k]
		}
		if sum < 0 {
			sum = 0
		}
		h.Values[p] = sum
		if sum > maxValue {
			maxValue = sum
		}
	}
	if maxValue <= 0 {
		for p := range h.Values {
			h.Values[p] = 0
		}
		h.Degenerate = true
		return h
	}
	for p := range h.Values {
		h.Values[p] /= maxValue
	}
	return h
}
