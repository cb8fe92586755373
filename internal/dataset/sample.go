package dataset

import "pneumonia-classifier/internal/imaging"

// Sample is one labeled image. Image holds raw 0..255 values until Normalize runs.
type Sample struct {
	Path  string
	Image imaging.Tensor
	Label int
}

// Tensors returns the images of samples in order.
func Tensors(samples []Sample) []imaging.Tensor {
	out := make([]imaging.Tensor, len(samples))
	for i, s := range samples {
		out[i] = s.Image
	}
	return out
}

// Labels returns the label indices of samples in order.
func Labels(samples []Sample) []int {
	out := make([]int, len(samples))
	for i, s := range samples {
		out[i] = s.Label
	}
	return out
}

// ClassCounts tallies samples per label index.
func ClassCounts(samples []Sample, numClasses int) []int {
	counts := make([]int, numClasses)
	for _, s := range samples {
		if s.Label >= 0 && s.Label < numClasses {
			counts[s.Label]++
		}
	}
	return counts
}
