package dataset

import (
	"math/rand"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"pneumonia-classifier/internal/imaging"
)

func synthetic(n int) []Sample {
	out := make([]Sample, n)
	for i := range out {
		img := imaging.NewTensor(2, 2, 3)
		for j := range img.Data {
			img.Data[j] = float64((i*7 + j*31) % 256)
		}
		out[i] = Sample{Path: strconv.Itoa(i), Image: img, Label: i % 2}
	}
	return out
}

func TestNormalizeScalesIntoUnitRange(t *testing.T) {
	samples := synthetic(10)
	raw := samples[3].Image.Clone()
	Normalize(samples)
	for i, v := range samples[3].Image.Data {
		require.InDelta(t, raw.Data[i]/255, v, 1e-12)
	}
	for _, s := range samples {
		for _, v := range s.Image.Data {
			require.GreaterOrEqual(t, v, 0.0)
			require.LessOrEqual(t, v, 1.0)
		}
	}
}

func TestResplitSizes(t *testing.T) {
	pooled := Pool(synthetic(30), synthetic(50), synthetic(20))
	require.Len(t, pooled, 100)

	parts, err := Resplit(pooled, 0.2, 0.2, 30)
	require.NoError(t, err)
	require.Equal(t, 100, parts.Total())
	require.Len(t, parts.Test, 20)
	require.Len(t, parts.Val, 16)
	require.Len(t, parts.Train, 64)
}

func TestResplitRoundsTestUp(t *testing.T) {
	parts, err := Resplit(synthetic(11), 0.2, 0.2, 1)
	require.NoError(t, err)
	require.Equal(t, 11, parts.Total())
	require.Len(t, parts.Test, 3)
	require.Len(t, parts.Val, 2)
	require.Len(t, parts.Train, 6)
}

func TestSplitDeterministicAndDisjoint(t *testing.T) {
	samples := synthetic(40)
	trainA, testA, err := Split(samples, 0.25, 30)
	require.NoError(t, err)
	trainB, testB, err := Split(samples, 0.25, 30)
	require.NoError(t, err)
	require.Equal(t, Labels(trainA), Labels(trainB))
	require.Equal(t, paths(testA), paths(testB))

	seen := map[string]bool{}
	for _, s := range append(append([]Sample{}, trainA...), testA...) {
		require.False(t, seen[s.Path], "duplicate %s", s.Path)
		seen[s.Path] = true
	}
	require.Len(t, seen, 40)

	_, testC, err := Split(samples, 0.25, 31)
	require.NoError(t, err)
	require.NotEqual(t, paths(testA), paths(testC))
}

func TestSplitTooSmall(t *testing.T) {
	_, _, err := Split(synthetic(1), 0.2, 1)
	require.Error(t, err)
	_, _, err = Split(synthetic(5), 0, 1)
	require.Error(t, err)
}

func TestBatchesCoverEveryIndexOnce(t *testing.T) {
	a := Batches(10, 4, rand.New(rand.NewSource(7)))
	b := Batches(10, 4, rand.New(rand.NewSource(7)))
	require.Equal(t, a, b)
	require.Len(t, a, 3)
	require.Len(t, a[2], 2)

	seen := make([]bool, 10)
	for _, batch := range a {
		for _, idx := range batch {
			require.False(t, seen[idx])
			seen[idx] = true
		}
	}
	require.Equal(t, [][]int{{0, 1, 2}}, Batches(3, 0, nil))
	require.Nil(t, Batches(0, 4, nil))
}

func TestClassCounts(t *testing.T) {
	require.Equal(t, []int{3, 2}, ClassCounts(synthetic(5), 2))
}

func paths(samples []Sample) []string {
	out := make([]string, len(samples))
	for i, s := range samples {
		out[i] = s.Path
	}
	return out
}
