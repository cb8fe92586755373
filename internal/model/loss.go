package model

import "math"

// probability clip used by binary cross-entropy
const epsilon = 1e-7

// Sigmoid is the numerically stable logistic function.
func Sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// BinaryCrossEntropy is the mean log loss of probs against 0/1 labels.
func BinaryCrossEntropy(probs []float64, labels []int) float64 {
	if len(probs) == 0 {
		return 0
	}
	total := 0.0
	for i, p := range probs {
		p = math.Min(math.Max(p, epsilon), 1-epsilon)
		if labels[i] == 1 {
			total -= math.Log(p)
		} else {
			total -= math.Log(1 - p)
		}
	}
	return total / float64(len(probs))
}

// Accuracy is the fraction of probs on the correct side of 0.5.
func Accuracy(probs []float64, labels []int) float64 {
	if len(probs) == 0 {
		return 0
	}
	correct := 0
	for i, p := range probs {
		pred := 0
		if p >= 0.5 {
			pred = 1
		}
		if pred == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(probs))
}
