// Package augment produces randomly perturbed copies of training images.
package augment

import (
	"errors"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat"

	"pneumonia-classifier/internal/dataset"
	"pneumonia-classifier/internal/imaging"
	"pneumonia-classifier/internal/model"
)

// Config selects the random transforms. Ranges are symmetric: a ZoomRange of
// 0.02 draws each axis' zoom factor from [0.98, 1.02] and a WidthShiftRange of
// 0.1 shifts by up to 10% of the width either way.
type Config struct {
	ZoomRange                   float64
	HorizontalFlip              bool
	WidthShiftRange             float64
	FeaturewiseCenter           bool
	FeaturewiseStdNormalization bool
}

// Generator applies Config to images. Fit must run before Flow when a
// featurewise option is enabled.
type Generator struct {
	cfg    Config
	mean   []float64
	std    []float64
	fitted bool
}

// ErrNotFitted is returned when featurewise statistics are needed but Fit never ran.
var ErrNotFitted = errors.New("augment: featurewise normalization requires Fit")

func New(cfg Config) *Generator {
	return &Generator{cfg: cfg}
}

func (g *Generator) Config() Config { return g.cfg }

// Fit computes per-channel mean and standard deviation over the training
// images. It does nothing unless a featurewise option is enabled.
func (g *Generator) Fit(samples []dataset.Sample) {
	if !g.featurewise() || len(samples) == 0 {
		return
	}
	channels := samples[0].Image.C
	count := make([]float64, channels)
	mean := make([]float64, channels)
	m2 := make([]float64, channels)
	var plane []float64
	for _, s := range samples {
		img := s.Image
		n := img.H * img.W
		if cap(plane) < n {
			plane = make([]float64, n)
		}
		plane = plane[:n]
		for ch := 0; ch < channels; ch++ {
			for i := range plane {
				plane[i] = img.Data[i*img.C+ch]
			}
			m, v := stat.PopMeanVariance(plane, nil)
			// pairwise merge of population moments
			total := count[ch] + float64(n)
			delta := m - mean[ch]
			mean[ch] += delta * float64(n) / total
			m2[ch] += v*float64(n) + delta*delta*count[ch]*float64(n)/total
			count[ch] = total
		}
	}
	g.mean = mean
	g.std = make([]float64, channels)
	for ch := range g.std {
		g.std[ch] = math.Sqrt(m2[ch] / count[ch])
	}
	g.fitted = true
}

// Stats returns the per-channel statistics computed by Fit.
func (g *Generator) Stats() (mean, std []float64) {
	return g.mean, g.std
}

// Standardization exports the fitted featurewise scaling so it can travel
// with a checkpoint.
func (g *Generator) Standardization() model.Standardization {
	return model.Standardization{
		Center: g.cfg.FeaturewiseCenter,
		Scale:  g.cfg.FeaturewiseStdNormalization,
		Mean:   g.mean,
		Std:    g.std,
	}
}

// Standardize applies the featurewise options to t in place. It is used for
// every split so evaluation inputs see the same scaling as training inputs.
func (g *Generator) Standardize(t imaging.Tensor) error {
	if !g.featurewise() {
		return nil
	}
	if !g.fitted {
		return ErrNotFitted
	}
	return g.Standardization().Apply(t)
}

func (g *Generator) featurewise() bool {
	return g.cfg.FeaturewiseCenter || g.cfg.FeaturewiseStdNormalization
}

// Transform returns a randomly zoomed, shifted and possibly flipped copy of t.
func (g *Generator) Transform(t imaging.Tensor, rng *rand.Rand) imaging.Tensor {
	zx, zy := 1.0, 1.0
	if g.cfg.ZoomRange > 0 {
		lo, hi := 1-g.cfg.ZoomRange, 1+g.cfg.ZoomRange
		zx = lo + rng.Float64()*(hi-lo)
		zy = lo + rng.Float64()*(hi-lo)
	}
	shift := 0.0
	if g.cfg.WidthShiftRange > 0 {
		shift = (rng.Float64()*2 - 1) * g.cfg.WidthShiftRange * float64(t.W)
	}
	flip := g.cfg.HorizontalFlip && rng.Float64() < 0.5

	var out imaging.Tensor
	if zx == 1 && zy == 1 && shift == 0 {
		out = t.Clone()
	} else {
		out = affine(t, zx, zy, shift)
	}
	if flip {
		flipHorizontal(out)
	}
	return out
}

// Iterator walks one epoch of augmented batches.
type Iterator struct {
	gen     *Generator
	samples []dataset.Sample
	batches [][]int
	rng     *rand.Rand
	next    int
}

// Flow returns an iterator over shuffled, augmented batches of samples.
func (g *Generator) Flow(samples []dataset.Sample, batchSize int, rng *rand.Rand) (*Iterator, error) {
	if g.featurewise() && !g.fitted {
		return nil, ErrNotFitted
	}
	return &Iterator{
		gen:     g,
		samples: samples,
		batches: dataset.Batches(len(samples), batchSize, rng),
		rng:     rng,
	}, nil
}

// Len is the number of batches in the epoch.
func (it *Iterator) Len() int { return len(it.batches) }

// Next returns the following batch, or ok=false once the epoch is exhausted.
func (it *Iterator) Next() (inputs []imaging.Tensor, labels []int, ok bool) {
	if it.next >= len(it.batches) {
		return nil, nil, false
	}
	idx := it.batches[it.next]
	it.next++
	inputs = make([]imaging.Tensor, len(idx))
	labels = make([]int, len(idx))
	for i, j := range idx {
		inputs[i] = it.gen.Transform(it.samples[j].Image, it.rng)
		// Flow already checked the fit, so this cannot fail.
		_ = it.gen.Standardize(inputs[i])
		labels[i] = it.samples[j].Label
	}
	return inputs, labels, true
}

// affine resamples t about its centre. An output pixel (x, y) reads the input at
// ((x-cx)·zx + cx - shift, (y-cy)·zy + cy) with bilinear interpolation; reads
// beyond the border take the nearest edge pixel.
func affine(t imaging.Tensor, zx, zy, shift float64) imaging.Tensor {
	out := imaging.NewTensor(t.H, t.W, t.C)
	cx := float64(t.W-1) / 2
	cy := float64(t.H-1) / 2
	for y := 0; y < t.H; y++ {
		sy := (float64(y)-cy)*zy + cy
		for x := 0; x < t.W; x++ {
			sx := (float64(x)-cx)*zx + cx - shift
			for ch := 0; ch < t.C; ch++ {
				out.Set(y, x, ch, bilinear(t, sx, sy, ch))
			}
		}
	}
	return out
}

func bilinear(t imaging.Tensor, x, y float64, ch int) float64 {
	x = clamp(x, 0, float64(t.W-1))
	y = clamp(y, 0, float64(t.H-1))
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	x1, y1 := min(x0+1, t.W-1), min(y0+1, t.H-1)
	fx, fy := x-float64(x0), y-float64(y0)

	top := t.At(y0, x0, ch)*(1-fx) + t.At(y0, x1, ch)*fx
	bottom := t.At(y1, x0, ch)*(1-fx) + t.At(y1, x1, ch)*fx
	return top*(1-fy) + bottom*fy
}

func flipHorizontal(t imaging.Tensor) {
	for y := 0; y < t.H; y++ {
		for x := 0; x < t.W/2; x++ {
			mirror := t.W - 1 - x
			for ch := 0; ch < t.C; ch++ {
				a, b := t.Index(y, x, ch), t.Index(y, mirror, ch)
				t.Data[a], t.Data[b] = t.Data[b], t.Data[a]
			}
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
