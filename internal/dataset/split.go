package dataset

import (
	"fmt"
	"math"
	"math/rand"
)

// Partitions holds the three sets a training run works with.
type Partitions struct {
	Train []Sample
	Val   []Sample
	Test  []Sample
}

// Total is the number of samples across all partitions.
func (p Partitions) Total() int {
	return len(p.Train) + len(p.Val) + len(p.Test)
}

// Pool concatenates partitions into one slice, in argument order.
func Pool(parts ...[]Sample) []Sample {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]Sample, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Normalize rescales every pixel from 0..255 to [0,1] in place.
func Normalize(samples []Sample) {
	for _, s := range samples {
		s.Image.Scale(1.0 / 255.0)
	}
}

// Split shuffles samples with a seeded permutation and holds out
// ceil(testFraction·n) of them. Both sides must end up non-empty.
func Split(samples []Sample, testFraction float64, seed int64) (train, test []Sample, err error) {
	n := len(samples)
	if testFraction <= 0 || testFraction >= 1 {
		return nil, nil, fmt.Errorf("split: test fraction must be in (0,1) (got %v)", testFraction)
	}
	nTest := int(math.Ceil(testFraction * float64(n)))
	nTrain := n - nTest
	if nTest == 0 || nTrain <= 0 {
		return nil, nil, fmt.Errorf("split: %d samples cannot be split with test fraction %v", n, testFraction)
	}

	perm := rand.New(rand.NewSource(seed)).Perm(n)
	test = make([]Sample, 0, nTest)
	for _, idx := range perm[:nTest] {
		test = append(test, samples[idx])
	}
	train = make([]Sample, 0, nTrain)
	for _, idx := range perm[nTest:] {
		train = append(train, samples[idx])
	}
	return train, test, nil
}

// Resplit derives train/val/test from one pooled set: first train/test with
// testFraction, then train/val with valFraction of the remaining train set.
// Both splits use the same seed.
func Resplit(pooled []Sample, testFraction, valFraction float64, seed int64) (Partitions, error) {
	train, test, err := Split(pooled, testFraction, seed)
	if err != nil {
		return Partitions{}, err
	}
	train, val, err := Split(train, valFraction, seed)
	if err != nil {
		return Partitions{}, err
	}
	return Partitions{Train: train, Val: val, Test: test}, nil
}
