package dataset

import "math/rand"

// Batches partitions [0,n) into batches of at most batchSize indices. A non-nil
// rng shuffles the order first; the last batch holds the remainder.
func Batches(n, batchSize int, rng *rand.Rand) [][]int {
	if n <= 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = n
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if rng != nil {
		rng.Shuffle(n, func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}
	out := make([][]int, 0, (n+batchSize-1)/batchSize)
	for start := 0; start < n; start += batchSize {
		end := start + batchSize
		if end > n {
			end = n
		}
		out = append(out, order[start:end])
	}
	return out
}
