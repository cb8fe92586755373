package augment

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"pneumonia-classifier/internal/dataset"
	"pneumonia-classifier/internal/imaging"
)

func ramp(h, w int) imaging.Tensor {
	t := imaging.NewTensor(h, w, 3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for ch := 0; ch < 3; ch++ {
				t.Set(y, x, ch, float64(x)/float64(w-1)+float64(ch))
			}
		}
	}
	return t
}

func TestTransformIdentityWhenDisabled(t *testing.T) {
	g := New(Config{})
	src := ramp(6, 8)
	out := g.Transform(src, rand.New(rand.NewSource(1)))
	require.Equal(t, src.Data, out.Data)

	out.Data[0] = -1
	require.NotEqual(t, -1.0, src.Data[0], "transform must not alias its input")
}

func TestFlipHorizontal(t *testing.T) {
	src := ramp(3, 5)
	flipped := src.Clone()
	flipHorizontal(flipped)
	for y := 0; y < 3; y++ {
		for x := 0; x < 5; x++ {
			require.Equal(t, src.At(y, 4-x, 1), flipped.At(y, x, 1))
		}
	}
}

func TestAffineShiftMovesContent(t *testing.T) {
	src := ramp(4, 10)
	shifted := affine(src, 1, 1, 2)
	// content moves right by two pixels, left edge is filled with the nearest column
	require.InDelta(t, src.At(1, 3, 0), shifted.At(1, 5, 0), 1e-12)
	require.InDelta(t, src.At(1, 0, 0), shifted.At(1, 0, 0), 1e-12)
	require.InDelta(t, src.At(1, 0, 0), shifted.At(1, 1, 0), 1e-12)
}

func TestTransformKeepsShapeAndRange(t *testing.T) {
	g := New(Config{ZoomRange: 0.02, HorizontalFlip: true, WidthShiftRange: 0.1})
	src := ramp(16, 16)
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 20; i++ {
		out := g.Transform(src, rng)
		require.Equal(t, src.H, out.H)
		require.Equal(t, src.W, out.W)
		for idx, v := range out.Data {
			ch := float64(idx % 3)
			require.GreaterOrEqual(t, v, ch-1e-9)
			require.LessOrEqual(t, v, ch+1+1e-9)
		}
	}
}

func TestFitAndStandardize(t *testing.T) {
	a := imaging.NewTensor(1, 2, 3)
	b := imaging.NewTensor(1, 2, 3)
	for i := range a.Data {
		a.Data[i] = 1
		b.Data[i] = 3
	}
	g := New(Config{FeaturewiseCenter: true, FeaturewiseStdNormalization: true})
	require.ErrorIs(t, g.Standardize(a.Clone()), ErrNotFitted)
	_, err := g.Flow(nil, 2, nil)
	require.ErrorIs(t, err, ErrNotFitted)

	g.Fit([]dataset.Sample{{Image: a}, {Image: b}})
	mean, std := g.Stats()
	require.Equal(t, []float64{2, 2, 2}, mean)
	require.InDeltaSlice(t, []float64{1, 1, 1}, std, 1e-12)

	x := b.Clone()
	require.NoError(t, g.Standardize(x))
	require.InDelta(t, 1, x.Data[0], 1e-5)

	exported := g.Standardization()
	require.True(t, exported.Center)
	require.True(t, exported.Scale)
	require.Equal(t, mean, exported.Mean)
}

func TestFitMatchesPooledStatistics(t *testing.T) {
	samples := []dataset.Sample{{Image: ramp(3, 4)}, {Image: ramp(5, 2)}, {Image: ramp(2, 6)}}
	g := New(Config{FeaturewiseCenter: true})
	g.Fit(samples)
	mean, std := g.Stats()

	for ch := 0; ch < 3; ch++ {
		var pooled []float64
		for _, s := range samples {
			for i := ch; i < len(s.Image.Data); i += 3 {
				pooled = append(pooled, s.Image.Data[i])
			}
		}
		m, sd := stat.PopMeanStdDev(pooled, nil)
		require.InDelta(t, m, mean[ch], 1e-12)
		require.InDelta(t, sd, std[ch], 1e-12)
	}
}

func TestFitSkippedWithoutFeaturewiseOptions(t *testing.T) {
	g := New(Config{HorizontalFlip: true})
	g.Fit([]dataset.Sample{{Image: ramp(4, 4)}})
	mean, std := g.Stats()
	require.Nil(t, mean)
	require.Nil(t, std)
	require.False(t, g.Standardization().Enabled())

	x := ramp(4, 4)
	require.NoError(t, g.Standardize(x))
	require.Equal(t, ramp(4, 4).Data, x.Data)
}

func TestFlowCoversEverySampleOnce(t *testing.T) {
	samples := make([]dataset.Sample, 7)
	for i := range samples {
		samples[i] = dataset.Sample{Image: ramp(4, 4), Label: i % 2}
	}
	g := New(Config{HorizontalFlip: true})
	it, err := g.Flow(samples, 3, rand.New(rand.NewSource(5)))
	require.NoError(t, err)
	require.Equal(t, 3, it.Len())

	total, positives := 0, 0
	for {
		inputs, labels, ok := it.Next()
		if !ok {
			break
		}
		require.Len(t, inputs, len(labels))
		total += len(labels)
		for _, l := range labels {
			positives += l
		}
	}
	require.Equal(t, 7, total)
	require.Equal(t, 3, positives)
}
